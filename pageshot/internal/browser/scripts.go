package browser

import _ "embed"

// OverlayID is the DOM id of the selection overlay.
const OverlayID = "pageshot-selection-overlay"

//go:embed overlay.js
var overlayJS string

// All probes report device pixels so they line up with captured rasters.
const (
	geometryJS = `() => {
		const d = window.devicePixelRatio || 1;
		const b = document.body, e = document.documentElement;
		return {
			totalWidth: Math.round(Math.max(b ? b.scrollWidth : 0, e.scrollWidth) * d),
			totalHeight: Math.round(Math.max(b ? b.scrollHeight : 0, e.scrollHeight) * d),
			viewportHeight: Math.round(window.innerHeight * d),
			originalScrollY: Math.round(window.scrollY * d),
		};
	}`

	scrollJS = `(y) => {
		const d = window.devicePixelRatio || 1;
		window.scrollTo({ top: y / d, left: 0, behavior: 'instant' });
		return Math.round(window.scrollY * d);
	}`

	overlayPresentJS = `(id) => !!document.getElementById(id)`

	visibleJS = `() => document.visibilityState === 'visible'`
)
