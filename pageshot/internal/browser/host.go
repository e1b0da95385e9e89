package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/shotkit/pageshot/internal/host"
)

// Viewport is the emulated window for pages the host opens itself.
type Viewport struct {
	Width  int
	Height int
	Scale  float64
}

// Host resolves the active tab of a managed browser.
type Host struct {
	mgr        *Manager
	viewport   Viewport
	navTimeout time.Duration
	stealth    bool
	logger     *slog.Logger

	mu     sync.Mutex
	pinned *rod.Page
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithViewport sets the viewport of opened pages. Zero keeps the browser's.
func WithViewport(v Viewport) HostOption { return func(h *Host) { h.viewport = v } }

// WithNavigationTimeout bounds Open. Default: 30s.
func WithNavigationTimeout(d time.Duration) HostOption {
	return func(h *Host) { h.navTimeout = d }
}

// WithStealth opens pages through go-rod/stealth. Default: true.
func WithStealth(on bool) HostOption { return func(h *Host) { h.stealth = on } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) HostOption { return func(h *Host) { h.logger = l } }

// NewHost creates a Host on top of a started Manager.
func NewHost(mgr *Manager, opts ...HostOption) *Host {
	h := &Host{mgr: mgr, navTimeout: 30 * time.Second, stealth: true, logger: slog.Default()}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Open creates a tab, navigates it to url and makes it the active tab.
func (h *Host) Open(ctx context.Context, url string) (*Tab, error) {
	b := h.mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	var page *rod.Page
	var err error
	if h.stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	if h.viewport.Width > 0 && h.viewport.Height > 0 {
		scale := h.viewport.Scale
		if scale <= 0 {
			scale = 1
		}
		if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             h.viewport.Width,
			Height:            h.viewport.Height,
			DeviceScaleFactor: scale,
		}); err != nil {
			h.logger.Warn("browser: set viewport failed", "error", err)
		}
	}

	navCtx, cancel := context.WithTimeout(ctx, h.navTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(url); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		h.logger.Warn("browser: wait load timeout", "url", url, "error", err)
	}

	tab, err := NewTab(page, h.logger)
	if err != nil {
		page.Close()
		return nil, err
	}

	h.mu.Lock()
	h.pinned = page
	h.mu.Unlock()
	h.logger.Info("browser: tab opened", "url", url, "tab", tab.ID())
	return tab, nil
}

// Navigate opens url and makes it the active tab.
func (h *Host) Navigate(ctx context.Context, url string) error {
	_, err := h.Open(ctx, url)
	return err
}

// ActiveTab returns the tab opened last through Open while it is still
// alive, otherwise the first visible page of the browser, otherwise its
// first page. It returns nil when the browser has no pages.
func (h *Host) ActiveTab(ctx context.Context) (host.Tab, error) {
	b := h.mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	h.mu.Lock()
	pinned := h.pinned
	h.mu.Unlock()
	if pinned != nil {
		tab, err := NewTab(pinned, h.logger)
		if err == nil {
			return tab, nil
		}
		h.logger.Debug("browser: pinned tab gone", "error", err)
		h.mu.Lock()
		if h.pinned == pinned {
			h.pinned = nil
		}
		h.mu.Unlock()
	}

	pages, err := b.Context(ctx).Pages()
	if err != nil {
		return nil, fmt.Errorf("browser: list pages: %w", err)
	}
	if len(pages) == 0 {
		return nil, nil
	}

	chosen := pages.First()
	for _, p := range pages {
		res, err := p.Context(ctx).Eval(visibleJS)
		if err == nil && res.Value.Bool() {
			chosen = p
			break
		}
	}
	tab, err := NewTab(chosen, h.logger)
	if err != nil {
		return nil, err
	}
	return tab, nil
}
