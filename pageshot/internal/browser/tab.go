package browser

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/hazyhaar/shotkit/idgen"
	"github.com/hazyhaar/shotkit/pageshot/internal/selection"
	"github.com/hazyhaar/shotkit/pageshot/shot"
)

// Tab is a Rod page seen as a capture target.
type Tab struct {
	page   *rod.Page
	id     string
	url    string
	logger *slog.Logger
}

// NewTab wraps page. The URL is read once.
func NewTab(page *rod.Page, logger *slog.Logger) (*Tab, error) {
	if logger == nil {
		logger = slog.Default()
	}
	info, err := page.Info()
	if err != nil {
		return nil, fmt.Errorf("browser: tab info: %w", err)
	}
	return &Tab{page: page, id: string(page.TargetID), url: info.URL, logger: logger}, nil
}

func (t *Tab) ID() string  { return t.id }
func (t *Tab) URL() string { return t.url }

// Page returns the underlying Rod page.
func (t *Tab) Page() *rod.Page { return t.page }

// Geometry probes the document extent and scroll offset.
func (t *Tab) Geometry(ctx context.Context) (*shot.PageGeometry, error) {
	res, err := t.page.Context(ctx).Eval(geometryJS)
	if err != nil {
		return nil, fmt.Errorf("browser: geometry: %w", err)
	}
	if res.Value.Nil() {
		return nil, nil
	}
	var g shot.PageGeometry
	if err := res.Value.Unmarshal(&g); err != nil {
		return nil, fmt.Errorf("browser: geometry: %w", err)
	}
	return &g, nil
}

// ScrollTo scrolls to y device pixels and returns where the page settled.
func (t *Tab) ScrollTo(ctx context.Context, y int) (int, error) {
	res, err := t.page.Context(ctx).Eval(scrollJS, y)
	if err != nil {
		return 0, fmt.Errorf("browser: scroll to %d: %w", y, err)
	}
	return res.Value.Int(), nil
}

// CaptureViewport takes a lossless screenshot of the viewport. Encoding to
// the requested format happens later, once.
func (t *Tab) CaptureViewport(ctx context.Context) (image.Image, error) {
	data, err := t.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("browser: screenshot: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("browser: decode screenshot: %w", err)
	}
	return img, nil
}

// MountSelection injects the selection overlay. Its pointer events are
// exposed back to Go and fed to a selection.Tracker; fn runs once with the
// device-pixel rectangle when a drag completes. Discarded and cancelled
// drags end silently.
func (t *Tab) MountSelection(ctx context.Context, fn func(shot.Rect)) (bool, error) {
	page := t.page.Context(ctx)

	present, err := page.Eval(overlayPresentJS, OverlayID)
	if err != nil {
		return false, fmt.Errorf("browser: overlay probe: %w", err)
	}
	if present.Value.Bool() {
		return false, nil
	}

	var (
		tracker  selection.Tracker
		stopOnce sync.Once
		stop     func() error
	)
	release := func() {
		stopOnce.Do(func() {
			if stop == nil {
				return
			}
			if err := stop(); err != nil {
				t.logger.Debug("browser: release selection binding", "error", err)
			}
		})
	}

	name := "__pageshot_" + idgen.New()
	stop, err = t.page.Expose(name, func(raw gson.JSON) (interface{}, error) {
		var ev selection.Event
		if err := raw.Unmarshal(&ev); err != nil {
			return nil, err
		}
		rect, outcome := tracker.Feed(ev)
		switch outcome {
		case selection.Completed:
			t.logger.Info("browser: selection completed", "tab", t.id, "rect", rect)
			go fn(rect)
			go release()
		case selection.Discarded, selection.Cancelled:
			t.logger.Debug("browser: selection ended", "tab", t.id, "outcome", outcome)
			go release()
		}
		return outcome.String(), nil
	})
	if err != nil {
		return false, fmt.Errorf("browser: expose selection binding: %w", err)
	}

	mounted, err := page.Eval(overlayJS, OverlayID, name)
	if err != nil {
		release()
		return false, fmt.Errorf("browser: mount overlay: %w", err)
	}
	if !mounted.Value.Bool() {
		release()
		return false, nil
	}
	return true, nil
}

// Close closes the page.
func (t *Tab) Close() error {
	return t.page.Close()
}
