// Package fullpage captures an entire scrollable page by scrolling it one
// viewport at a time, capturing each step and stitching the steps into a
// single image.
//
// A run moves through Probing, then ShortCircuit or Tiling, Composing,
// Restoring and finally Done or Failed. Whatever happens after the probe,
// the page is scrolled back to where it was and the progress notification
// is withdrawn. Nothing is persisted unless every tile was captured.
package fullpage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/shotkit/idgen"
	"github.com/hazyhaar/shotkit/pageshot/internal/assemble"
	"github.com/hazyhaar/shotkit/pageshot/internal/host"
	"github.com/hazyhaar/shotkit/pageshot/internal/notify"
	"github.com/hazyhaar/shotkit/pageshot/internal/persist"
	"github.com/hazyhaar/shotkit/pageshot/shot"
)

// State is a step of a run.
type State string

const (
	StateProbing      State = "probing"
	StateShortCircuit State = "short_circuit"
	StateTiling       State = "tiling"
	StateComposing    State = "composing"
	StateRestoring    State = "restoring"
	StateDone         State = "done"
	StateFailed       State = "failed"
)

// Config wires an Orchestrator. Zero values get defaults.
type Config struct {
	// SettleDelay is the wait between a scroll and its capture. Default: 550ms.
	SettleDelay time.Duration
	// RestoreTimeout bounds the final scroll-back. Default: 5s.
	RestoreTimeout time.Duration
	// Sleep waits d or until ctx ends. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error

	Assembler *assemble.Assembler
	Notifier  notify.Notifier
	Saver     persist.Saver
	// NewID names the progress notification.
	NewID  idgen.Generator
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.SettleDelay <= 0 {
		c.SettleDelay = 550 * time.Millisecond
	}
	if c.RestoreTimeout <= 0 {
		c.RestoreTimeout = 5 * time.Second
	}
	if c.Sleep == nil {
		c.Sleep = sleepCtx
	}
	if c.Assembler == nil {
		c.Assembler = assemble.New()
	}
	if c.Notifier == nil {
		c.Notifier = notify.Nop{}
	}
	if c.NewID == nil {
		c.NewID = idgen.Prefixed("capture-progress-", idgen.UUIDv7())
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Orchestrator runs full-page captures. It is stateless between runs; the
// caller guarantees one run per tab at a time.
type Orchestrator struct {
	cfg Config
}

// New creates an Orchestrator. cfg.Saver is required.
func New(cfg Config) *Orchestrator {
	cfg.defaults()
	return &Orchestrator{cfg: cfg}
}

// Result describes a finished run.
type Result struct {
	NotificationID string
	Path           string
	Width          int
	Height         int
	Tiles          int
	ShortCircuit   bool
	State          State
}

// session is the per-run state, torn down by finish.
type session struct {
	id    string
	geom  *shot.PageGeometry
	tiles []shot.Tile
	state State
}

// Run captures page in format and persists the result.
func (o *Orchestrator) Run(ctx context.Context, page host.Page, format shot.Format) (res *Result, err error) {
	s := &session{id: o.cfg.NewID(), state: StateProbing}
	log := o.cfg.Logger.With("notification", s.id, "format", format)
	start := time.Now()

	o.progress(ctx, s, "Starting capture...", 0)

	defer func() {
		o.finish(ctx, page, s, log)
		if err != nil {
			s.state = StateFailed
			log.Warn("fullpage: failed", "kind", shot.KindOf(err), "error", err)
			return
		}
		s.state = StateDone
		res.State = s.state
		log.Info("fullpage: done", "path", res.Path, "tiles", res.Tiles,
			"width", res.Width, "height", res.Height, "duration", time.Since(start))
	}()

	geom, err := page.Geometry(ctx)
	if err != nil {
		return nil, shot.Wrap(shot.KindGeometry, "Failed to read the page dimensions.", err)
	}
	if geom == nil {
		return nil, shot.Wrap(shot.KindGeometry, "Failed to read the page dimensions.",
			fmt.Errorf("fullpage: empty probe result"))
	}
	if geom.ViewportHeight <= 0 || geom.TotalWidth <= 0 || geom.TotalHeight <= 0 {
		return nil, shot.Wrap(shot.KindGeometry, "Failed to read the page dimensions.",
			fmt.Errorf("fullpage: bad geometry %+v", *geom))
	}
	s.geom = geom
	log.Debug("fullpage: probed", "total_width", geom.TotalWidth, "total_height", geom.TotalHeight,
		"viewport_height", geom.ViewportHeight, "scroll_y", geom.OriginalScrollY)

	if geom.TotalHeight <= geom.ViewportHeight {
		return o.shortCircuit(ctx, page, s, format)
	}
	return o.tile(ctx, page, s, format)
}

func (o *Orchestrator) shortCircuit(ctx context.Context, page host.Page, s *session, format shot.Format) (*Result, error) {
	s.state = StateShortCircuit
	o.progress(ctx, s, "Page fits in the window, capturing...", 0)

	img, err := page.CaptureViewport(ctx)
	if err != nil {
		return nil, shot.Wrap(shot.KindCapture, "Failed to capture the page.", err)
	}
	data, err := o.cfg.Assembler.Encode(img, format)
	if err != nil {
		return nil, err
	}
	path, err := o.save(ctx, data, format)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	return &Result{
		NotificationID: s.id,
		Path:           path,
		Width:          b.Dx(),
		Height:         b.Dy(),
		Tiles:          1,
		ShortCircuit:   true,
	}, nil
}

func (o *Orchestrator) tile(ctx context.Context, page host.Page, s *session, format shot.Format) (*Result, error) {
	g := s.geom
	s.state = StateTiling
	if _, err := page.ScrollTo(ctx, 0); err != nil {
		return nil, shot.Wrap(shot.KindCapture, "Failed to scroll the page.", err)
	}

	for y := 0; y < g.TotalHeight; y += g.ViewportHeight {
		pct := y * 100 / g.TotalHeight
		o.progress(ctx, s, fmt.Sprintf("Capturing... %d%%", pct), pct)

		settled, err := page.ScrollTo(ctx, y)
		if err != nil {
			return nil, shot.Wrap(shot.KindCapture, "Failed to scroll the page.", err)
		}
		if err := o.cfg.Sleep(ctx, o.cfg.SettleDelay); err != nil {
			return nil, shot.Wrap(shot.KindCapture, "Capture was interrupted.", err)
		}
		img, err := page.CaptureViewport(ctx)
		if err != nil {
			return nil, shot.Wrap(shot.KindCapture, "Failed to capture the page.", err)
		}

		// A page clamped at its bottom shows rows above y; drop them so
		// the tile's first row belongs at y.
		if settled < y {
			img = assemble.TrimTop(img, y-settled)
		}
		if img != nil {
			s.tiles = append(s.tiles, shot.Tile{Raster: img, InsertY: y})
		}
		o.cfg.Logger.Debug("fullpage: tile captured", "notification", s.id, "y", y, "settled", settled)
	}

	s.state = StateComposing
	o.progress(ctx, s, "Assembling image...", 100)
	data, err := o.cfg.Assembler.Assemble(s.tiles, g.TotalWidth, g.TotalHeight, format)
	if err != nil {
		return nil, err
	}
	path, err := o.save(ctx, data, format)
	if err != nil {
		return nil, err
	}
	return &Result{
		NotificationID: s.id,
		Path:           path,
		Width:          g.TotalWidth,
		Height:         g.TotalHeight,
		Tiles:          len(s.tiles),
	}, nil
}

func (o *Orchestrator) save(ctx context.Context, data []byte, format shot.Format) (string, error) {
	if o.cfg.Saver == nil {
		return "", shot.Wrap(shot.KindPersist, "No download location configured.", nil)
	}
	path, err := o.cfg.Saver.Save(ctx, data, format)
	if err != nil {
		return "", shot.Wrap(shot.KindPersist, "Failed to save the image.", err)
	}
	return path, nil
}

// finish restores the scroll offset and withdraws the progress
// notification. It runs on a context detached from the caller's
// cancellation; its own failures are logged only.
func (o *Orchestrator) finish(ctx context.Context, page host.Page, s *session, log *slog.Logger) {
	prev := s.state
	s.state = StateRestoring
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.RestoreTimeout)
	defer cancel()

	if s.geom != nil {
		if _, err := page.ScrollTo(rctx, s.geom.OriginalScrollY); err != nil {
			log.Warn("fullpage: restore scroll failed", "from_state", prev,
				"scroll_y", s.geom.OriginalScrollY, "error", err)
		}
	}
	if err := o.cfg.Notifier.Clear(rctx, s.id); err != nil {
		log.Debug("fullpage: clear progress failed", "error", err)
	}
}

func (o *Orchestrator) progress(ctx context.Context, s *session, msg string, pct int) {
	if err := o.cfg.Notifier.Notify(ctx, notify.Progress(s.id, msg, pct)); err != nil {
		o.cfg.Logger.Debug("fullpage: progress not delivered", "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
