// Package dispatch routes capture commands to the component that handles
// them. It checks the one precondition every command shares (a capturable
// active tab), resolves the output format and allows one full-page or
// area capture at a time.
package dispatch

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/shotkit/idgen"
	"github.com/hazyhaar/shotkit/pageshot/internal/assemble"
	"github.com/hazyhaar/shotkit/pageshot/internal/fullpage"
	"github.com/hazyhaar/shotkit/pageshot/internal/host"
	"github.com/hazyhaar/shotkit/pageshot/internal/notify"
	"github.com/hazyhaar/shotkit/pageshot/internal/persist"
	"github.com/hazyhaar/shotkit/pageshot/internal/store"
	"github.com/hazyhaar/shotkit/pageshot/shot"
)

var errClosed = shot.Wrap(shot.KindCapture, "Capture service is shutting down", nil)

// DefaultRestricted lists the URL prefixes that can never be captured.
var DefaultRestricted = []string{"chrome://", "https://chrome.google.com"}

// FullPage runs a full-page capture.
type FullPage interface {
	Run(ctx context.Context, page host.Page, format shot.Format) (*fullpage.Result, error)
}

// Preferences supplies the stored default format.
type Preferences interface {
	Format(ctx context.Context) (shot.Format, error)
}

// Journal records terminal outcomes.
type Journal interface {
	RecordCapture(ctx context.Context, c *store.Capture) error
}

// Config wires a Dispatcher. Host, FullPage and Saver are required.
type Config struct {
	Host        host.Host
	FullPage    FullPage
	Saver       persist.Saver
	Assembler   *assemble.Assembler
	Notifier    notify.Notifier
	Preferences Preferences
	Journal     Journal

	// Restricted URL prefixes, added to DefaultRestricted.
	Restricted []string
	// AreaDelay runs before an area capture so the overlay is gone from
	// the frame. Default: 150ms.
	AreaDelay time.Duration
	Sleep     func(ctx context.Context, d time.Duration) error
	NewID     idgen.Generator
	Logger    *slog.Logger
}

func (c *Config) defaults() {
	if c.Assembler == nil {
		c.Assembler = assemble.New()
	}
	if c.Notifier == nil {
		c.Notifier = notify.Nop{}
	}
	if c.AreaDelay <= 0 {
		c.AreaDelay = 150 * time.Millisecond
	}
	if c.Sleep == nil {
		c.Sleep = sleepCtx
	}
	if c.NewID == nil {
		c.NewID = idgen.Prefixed("cap_", idgen.UUIDv7())
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	c.Restricted = append(append([]string{}, DefaultRestricted...), c.Restricted...)
}

// Dispatcher handles capture requests.
type Dispatcher struct {
	cfg Config

	mu     sync.Mutex
	busy   bool
	closed bool
	wg     sync.WaitGroup
}

// New creates a Dispatcher.
func New(cfg Config) *Dispatcher {
	cfg.defaults()
	return &Dispatcher{cfg: cfg}
}

// Dispatch runs req against the active tab. captureFull answers "started"
// and finishes in the background; Wait blocks until it is done.
func (d *Dispatcher) Dispatch(ctx context.Context, req shot.Request) shot.Response {
	start := time.Now()
	rec := &store.Capture{ID: d.cfg.NewID(), Action: string(req.Action), Format: string(req.Format)}

	if err := req.Validate(); err != nil {
		return d.fail(ctx, rec, start, req.Action, err)
	}

	tab, err := d.cfg.Host.ActiveTab(ctx)
	if err != nil {
		d.cfg.Logger.Warn("dispatch: active tab lookup failed", "error", err)
	}
	if err != nil || tab == nil {
		return d.fail(ctx, rec, start, req.Action, shot.ErrNoActiveTab)
	}
	rec.TabURL = tab.URL()
	if d.Restricted(tab.URL()) {
		return d.fail(ctx, rec, start, req.Action, shot.ErrRestrictedURL)
	}

	format := d.resolveFormat(ctx, req.Format)
	rec.Format = string(format)
	log := d.cfg.Logger.With("capture", rec.ID, "action", req.Action, "format", format, "tab", tab.ID())

	switch req.Action {
	case shot.ActionCaptureVisible:
		path, w, h, err := d.captureVisible(ctx, tab, format)
		if err != nil {
			return d.fail(ctx, rec, start, req.Action, err)
		}
		rec.Path, rec.Width, rec.Height = path, w, h
		log.Info("dispatch: visible captured", "path", path)
		return d.complete(ctx, rec, start, path)

	case shot.ActionCaptureFull:
		if !d.acquire() {
			return d.fail(ctx, rec, start, req.Action, shot.ErrBusy)
		}
		if !d.track() {
			d.release()
			return d.fail(ctx, rec, start, req.Action, errClosed)
		}
		go d.runFull(context.WithoutCancel(ctx), tab, format, rec, start, log)
		return shot.Response{Status: shot.StatusStarted, ID: rec.ID}

	case shot.ActionInitiateArea:
		mounted, err := tab.MountSelection(ctx, func(r shot.Rect) {
			if !d.track() {
				log.Warn("dispatch: selection ignored after close", "area", r)
				return
			}
			defer d.wg.Done()
			area := r
			d.Dispatch(context.WithoutCancel(ctx), shot.Request{
				Action: shot.ActionCaptureArea,
				Format: format,
				Area:   &area,
			})
		})
		if err != nil {
			return d.fail(ctx, rec, start, req.Action,
				shot.Wrap(shot.KindInjection, err.Error(), err))
		}
		if !mounted {
			log.Debug("dispatch: overlay already present")
		}
		d.record(ctx, rec, start, shot.StatusInjected)
		return shot.Response{Status: shot.StatusInjected, ID: rec.ID}

	case shot.ActionCaptureArea:
		if !d.acquire() {
			return d.fail(ctx, rec, start, req.Action, shot.ErrBusy)
		}
		defer d.release()
		path, err := d.captureArea(ctx, tab, *req.Area, format)
		if err != nil {
			return d.fail(ctx, rec, start, req.Action, err)
		}
		rec.Path, rec.Width, rec.Height = path, req.Area.Width, req.Area.Height
		log.Info("dispatch: area captured", "path", path, "area", *req.Area)
		return d.complete(ctx, rec, start, path)
	}
	return d.fail(ctx, rec, start, req.Action, shot.Wrap(shot.KindInvalidRequest, "Unknown action", nil))
}

// Wait blocks until background captures have finished: full-page runs and
// area captures started from the overlay.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// Close refuses new background work, then waits for the running one.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}

// track registers one background task unless the dispatcher is closed.
func (d *Dispatcher) track() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.wg.Add(1)
	return true
}

// Busy reports whether a full-page or area capture is running.
func (d *Dispatcher) Busy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.busy
}

// Restricted reports whether url starts with a restricted prefix.
func (d *Dispatcher) Restricted(url string) bool {
	for _, p := range d.cfg.Restricted {
		if p != "" && strings.HasPrefix(url, p) {
			return true
		}
	}
	return false
}

func (d *Dispatcher) acquire() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.busy {
		return false
	}
	d.busy = true
	return true
}

func (d *Dispatcher) release() {
	d.mu.Lock()
	d.busy = false
	d.mu.Unlock()
}

func (d *Dispatcher) resolveFormat(ctx context.Context, f shot.Format) shot.Format {
	if f != "" {
		return f
	}
	if d.cfg.Preferences != nil {
		stored, err := d.cfg.Preferences.Format(ctx)
		if err != nil {
			d.cfg.Logger.Warn("dispatch: read format preference", "error", err)
		} else if stored != "" {
			return stored
		}
	}
	return shot.DefaultFormat
}

func (d *Dispatcher) captureVisible(ctx context.Context, tab host.Tab, format shot.Format) (string, int, int, error) {
	img, err := tab.CaptureViewport(ctx)
	if err != nil {
		return "", 0, 0, shot.Wrap(shot.KindCapture, err.Error(), err)
	}
	data, err := d.cfg.Assembler.Encode(img, format)
	if err != nil {
		return "", 0, 0, err
	}
	path, err := d.save(ctx, data, format)
	b := img.Bounds()
	return path, b.Dx(), b.Dy(), err
}

func (d *Dispatcher) captureArea(ctx context.Context, tab host.Tab, area shot.Rect, format shot.Format) (string, error) {
	if err := d.cfg.Sleep(ctx, d.cfg.AreaDelay); err != nil {
		return "", shot.Wrap(shot.KindCapture, err.Error(), err)
	}
	img, err := tab.CaptureViewport(ctx)
	if err != nil {
		return "", shot.Wrap(shot.KindCapture, err.Error(), err)
	}
	cropped, err := d.cfg.Assembler.Crop(img, area)
	if err != nil {
		return "", err
	}
	data, err := d.cfg.Assembler.Encode(cropped, format)
	if err != nil {
		return "", err
	}
	return d.save(ctx, data, format)
}

func (d *Dispatcher) save(ctx context.Context, data []byte, format shot.Format) (string, error) {
	path, err := d.cfg.Saver.Save(ctx, data, format)
	if err != nil {
		return "", shot.Wrap(shot.KindPersist, "Failed to save the image.", err)
	}
	return path, nil
}

func (d *Dispatcher) runFull(ctx context.Context, tab host.Tab, format shot.Format, rec *store.Capture, start time.Time, log *slog.Logger) {
	defer d.wg.Done()
	defer d.release()

	res, err := d.cfg.FullPage.Run(ctx, tab, format)
	if err != nil {
		d.fail(ctx, rec, start, shot.ActionCaptureFull, err)
		return
	}
	rec.Path, rec.Width, rec.Height, rec.Tiles = res.Path, res.Width, res.Height, res.Tiles
	log.Info("dispatch: full page captured", "path", res.Path, "tiles", res.Tiles)
	d.record(ctx, rec, start, shot.StatusComplete)
}

func (d *Dispatcher) complete(ctx context.Context, rec *store.Capture, start time.Time, path string) shot.Response {
	d.record(ctx, rec, start, shot.StatusComplete)
	return shot.Response{Status: shot.StatusComplete, Path: path, ID: rec.ID}
}

// fail notifies the user, journals the failure and builds the response.
func (d *Dispatcher) fail(ctx context.Context, rec *store.Capture, start time.Time, action shot.Action, err error) shot.Response {
	title, msg := Notice(action, err)
	if nerr := d.cfg.Notifier.Notify(ctx, notify.Failure(title, msg)); nerr != nil {
		d.cfg.Logger.Debug("dispatch: failure notice not delivered", "error", nerr)
	}
	d.cfg.Logger.Warn("dispatch: capture failed", "capture", rec.ID, "action", action,
		"kind", shot.KindOf(err), "error", err)

	rec.ErrorKind = string(shot.KindOf(err))
	rec.Message = err.Error()
	d.record(ctx, rec, start, shot.StatusError)
	resp := shot.Failed(err)
	resp.ID = rec.ID
	return resp
}

func (d *Dispatcher) record(ctx context.Context, rec *store.Capture, start time.Time, status shot.Status) {
	if d.cfg.Journal == nil {
		return
	}
	rec.Status = string(status)
	rec.DurationMs = time.Since(start).Milliseconds()
	if err := d.cfg.Journal.RecordCapture(ctx, rec); err != nil {
		d.cfg.Logger.Warn("dispatch: journal write failed", "capture", rec.ID, "error", err)
	}
}

func sleepCtx(ctx context.Context, dur time.Duration) error {
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
