// Package host declares what pageshot needs from the browser that owns the
// tabs. The rod-backed implementation lives in internal/browser; tests use
// in-memory fakes.
package host

import (
	"context"
	"image"

	"github.com/hazyhaar/shotkit/pageshot/shot"
)

// Host resolves the tab a command targets.
type Host interface {
	// ActiveTab returns the focused tab, or nil if there is none.
	ActiveTab(ctx context.Context) (Tab, error)
}

// Tab is a capturable browser tab.
type Tab interface {
	Page
	ID() string
	URL() string
	// MountSelection injects the region-selection overlay. It returns
	// false when an overlay is already present. fn receives the
	// device-pixel rectangle once the user completes a drag.
	MountSelection(ctx context.Context, fn func(shot.Rect)) (bool, error)
}

// Page groups the three capabilities the full-page orchestrator drives.
type Page interface {
	// Geometry reports the page extent and scroll state in device pixels.
	Geometry(ctx context.Context) (*shot.PageGeometry, error)
	// ScrollTo scrolls to y and returns the offset the page settled on,
	// which is smaller than y when the page clamps at its bottom.
	ScrollTo(ctx context.Context, y int) (int, error)
	// CaptureViewport returns the pixels currently visible.
	CaptureViewport(ctx context.Context) (image.Image, error)
}
