// Package pageshot captures browser pages to image files: the visible
// viewport, a user-selected area, or the full scrollable page stitched from
// viewport tiles.
//
// A Service wires the browser host, the capture pipeline, the notification
// sinks, the download directory and the SQLite store. It is driven in-process
// through Dispatch, or exposed over HTTP (Handler), MCP (RegisterMCP) and the
// connectivity router (RegisterConnectivity).
//
//	svc, err := pageshot.New(cfg)
//	if err != nil { ... }
//	defer svc.Close()
//	if err := svc.Start(ctx); err != nil { ... }
//	resp := svc.Dispatch(ctx, shot.Request{Action: shot.ActionCaptureVisible})
package pageshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/hazyhaar/shotkit/dbopen"
	"github.com/hazyhaar/shotkit/horosafe"
	"github.com/hazyhaar/shotkit/idgen"
	"github.com/hazyhaar/shotkit/kit"
	"github.com/hazyhaar/shotkit/pageshot/internal/assemble"
	"github.com/hazyhaar/shotkit/pageshot/internal/browser"
	"github.com/hazyhaar/shotkit/pageshot/internal/config"
	"github.com/hazyhaar/shotkit/pageshot/internal/dispatch"
	"github.com/hazyhaar/shotkit/pageshot/internal/fullpage"
	"github.com/hazyhaar/shotkit/pageshot/internal/host"
	"github.com/hazyhaar/shotkit/pageshot/internal/notify"
	"github.com/hazyhaar/shotkit/pageshot/internal/persist"
	"github.com/hazyhaar/shotkit/pageshot/internal/store"
	"github.com/hazyhaar/shotkit/pageshot/shot"
)

// Config is the service configuration; see LoadConfigFile.
type Config = config.Config

// Capture is one journal entry.
type Capture = store.Capture

// Notification is one user-facing message.
type Notification = notify.Notification

// Option configures a Service.
type Option func(*options)

type options struct {
	logger *slog.Logger
	host   host.Host
	saver  persist.Saver
	stdout io.Writer
	sinks  []notify.Notifier
	newID  idgen.Generator
}

// WithLogger sets the service logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithHost replaces the managed browser with another tab source. No
// browser is launched when set.
func WithHost(h host.Host) Option { return func(o *options) { o.host = h } }

// WithSaver replaces the download-directory saver.
func WithSaver(s persist.Saver) Option { return func(o *options) { o.saver = s } }

// WithStdout sets the writer of the "stdout" notification sink.
func WithStdout(w io.Writer) Option { return func(o *options) { o.stdout = w } }

// WithNotifier adds a notification sink next to the configured ones.
func WithNotifier(n notify.Notifier) Option {
	return func(o *options) { o.sinks = append(o.sinks, n) }
}

// WithIDGenerator sets the capture id generator.
func WithIDGenerator(g idgen.Generator) Option { return func(o *options) { o.newID = g } }

// navigator is implemented by hosts that can open a URL as the active tab.
type navigator interface {
	Navigate(ctx context.Context, url string) error
}

// Service is a running pageshot instance.
type Service struct {
	cfg       *Config
	logger    *slog.Logger
	urlPolicy horosafe.Policy

	mgr        *browser.Manager
	host       host.Host
	store      *store.Store
	board      *notify.Board
	notifier   *notify.Router
	dispatcher *dispatch.Dispatcher

	closeOnce sync.Once
	closeErr  error
}

// New builds a Service from cfg (nil means defaults). It opens the store
// but does not touch the browser until Start.
func New(cfg *Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = config.Default()
	} else {
		c := *cfg
		cfg = &c
		cfg.ApplyDefaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{logger: slog.Default(), stdout: os.Stdout}
	for _, fn := range opts {
		fn(&o)
	}
	if o.newID == nil {
		o.newID = idgen.Prefixed("cap_", idgen.Default)
	}

	st, err := store.Open(cfg.Store.Path,
		dbopen.WithBusyTimeout(int(cfg.Store.BusyTimeout.Milliseconds())),
		dbopen.WithSynchronous(cfg.Store.Synchronous),
	)
	if err != nil {
		return nil, fmt.Errorf("pageshot: open store: %w", err)
	}
	st.MaxCaptures = cfg.Store.MaxCaptures
	if err := seedFormat(cfg, st); err != nil {
		st.Close()
		return nil, err
	}

	s := &Service{
		cfg:       cfg,
		logger:    o.logger,
		urlPolicy: horosafe.Policy{AllowLoopback: true, AllowPrivate: cfg.Capture.AllowPrivateURLs},
		store:     st,
		board:     notify.NewBoard(0),
	}

	if o.host != nil {
		s.host = o.host
	} else {
		s.mgr = browser.NewManager(browser.Config{
			RemoteURL:   cfg.Browser.Remote,
			Mode:        browser.ParseMode(cfg.Browser.Stealth),
			XvfbDisplay: cfg.Browser.XvfbDisplay,
			Bin:         cfg.Browser.Bin,
			Logger:      o.logger,
		})
		s.host = browser.NewHost(s.mgr,
			browser.WithViewport(browser.Viewport{
				Width:  cfg.Browser.ViewportWidth,
				Height: cfg.Browser.ViewportHeight,
				Scale:  cfg.Browser.DeviceScaleFactor,
			}),
			browser.WithNavigationTimeout(cfg.Browser.NavigationTimeout),
			browser.WithStealth(!cfg.Browser.NoStealth),
			browser.WithLogger(o.logger),
		)
	}

	sinks := []notify.Notifier{s.board}
	for _, sc := range cfg.Notify {
		switch sc.Type {
		case "log":
			sinks = append(sinks, notify.Log{Logger: o.logger})
		case "stdout":
			sinks = append(sinks, notify.NewStdout(o.stdout))
		case "webhook":
			wopts := []notify.WebhookOption{notify.WithWebhookLogger(o.logger)}
			if sc.Retries > 0 {
				wopts = append(wopts, notify.WithWebhookRetries(sc.Retries))
			}
			sinks = append(sinks, notify.NewWebhook(sc.URL, wopts...))
		}
	}
	sinks = append(sinks, o.sinks...)
	s.notifier = notify.NewRouter(o.logger, sinks...)

	saver := o.saver
	if saver == nil {
		saver = &persist.Dir{Path: cfg.Output.Dir}
	}
	asm := assemble.New()

	full := fullpage.New(fullpage.Config{
		SettleDelay: cfg.Capture.SettleDelay,
		Assembler:   asm,
		Notifier:    s.notifier,
		Saver:       saver,
		Logger:      o.logger,
	})
	s.dispatcher = dispatch.New(dispatch.Config{
		Host:        s.host,
		FullPage:    full,
		Saver:       saver,
		Assembler:   asm,
		Notifier:    s.notifier,
		Preferences: st,
		Journal:     st,
		Restricted:  cfg.Capture.Restricted,
		AreaDelay:   cfg.Capture.AreaDelay,
		NewID:       o.newID,
		Logger:      o.logger,
	})
	return s, nil
}

// seedFormat stores the configured format as the preference when none is
// stored yet.
func seedFormat(cfg *Config, st *store.Store) error {
	if cfg.Capture.Format == "" {
		return nil
	}
	f, err := shot.ParseFormat(cfg.Capture.Format)
	if err != nil {
		return fmt.Errorf("pageshot: %w", err)
	}
	ctx := context.Background()
	cur, err := st.Format(ctx)
	if err != nil {
		return err
	}
	if cur != "" {
		return nil
	}
	return st.SetFormat(ctx, f)
}

// Config returns the effective configuration.
func (s *Service) Config() *Config { return s.cfg }

// Start launches or attaches to Chrome. It is a no-op when the service
// runs on an injected host.
func (s *Service) Start(ctx context.Context) error {
	if s.mgr == nil {
		return nil
	}
	if _, err := s.mgr.Start(ctx); err != nil {
		return fmt.Errorf("pageshot: start browser: %w", err)
	}
	return nil
}

// Open navigates a new tab to url and makes it the capture target. Only
// http(s) URLs are opened; private network hosts need
// capture.allow_private_urls. A refused URL is an InvalidRequest error.
func (s *Service) Open(ctx context.Context, url string) error {
	if err := s.urlPolicy.Validate(url); err != nil {
		return shot.Wrap(shot.KindInvalidRequest, "URL not allowed: "+url, err)
	}
	nav, ok := s.host.(navigator)
	if !ok {
		return fmt.Errorf("pageshot: host cannot open %s", url)
	}
	if err := nav.Navigate(ctx, url); err != nil {
		return fmt.Errorf("pageshot: open: %w", err)
	}
	return nil
}

// Dispatch runs one capture command. When ctx carries a tab URL
// (kit.WithTabURL) the URL is opened first and becomes the target.
func (s *Service) Dispatch(ctx context.Context, req shot.Request) shot.Response {
	if url := kit.GetTabURL(ctx); url != "" {
		if err := s.Open(ctx, url); err != nil {
			s.logger.WarnContext(ctx, "pageshot: open before capture failed",
				append(kit.LogAttrs(ctx), "url", url, "error", err)...)
			s.notifier.Notify(ctx, notify.Failure("Failed to open the page.", url))
			if shot.KindOf(err) != "" {
				return shot.Failed(err)
			}
			return shot.Failed(shot.Wrap(shot.KindNoActiveTab, "Failed to open "+url, err))
		}
	}
	s.logger.DebugContext(ctx, "pageshot: dispatch",
		append(kit.LogAttrs(ctx), "action", req.Action, "format", req.Format)...)
	return s.dispatcher.Dispatch(ctx, req)
}

// Wait blocks until background captures have finished.
func (s *Service) Wait() { s.dispatcher.Wait() }

// Lookup returns the journal entry a Response's ID names.
func (s *Service) Lookup(ctx context.Context, id string) (*Capture, error) {
	return s.store.GetCapture(ctx, id)
}

// Busy reports whether a full-page or area capture is running.
func (s *Service) Busy() bool { return s.dispatcher.Busy() }

// Format returns the default output format.
func (s *Service) Format(ctx context.Context) (shot.Format, error) {
	f, err := s.store.Format(ctx)
	if err != nil {
		return "", err
	}
	if f == "" {
		return shot.DefaultFormat, nil
	}
	return f, nil
}

// SetFormat changes the default output format.
func (s *Service) SetFormat(ctx context.Context, f shot.Format) error {
	return s.store.SetFormat(ctx, f)
}

// History returns the most recent journal entries, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]*Capture, error) {
	return s.store.ListCaptures(ctx, limit)
}

// Notifications returns the current notifications, oldest first.
func (s *Service) Notifications() []Notification { return s.board.List() }

// Close waits for running captures, then releases the sinks, the browser
// and the store.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.dispatcher.Close()
		var errs []error
		if err := s.notifier.Close(); err != nil {
			errs = append(errs, err)
		}
		if s.mgr != nil {
			if err := s.mgr.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := s.store.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := errors.Join(errs...); err != nil {
			s.closeErr = fmt.Errorf("pageshot: close: %w", err)
		}
	})
	return s.closeErr
}
