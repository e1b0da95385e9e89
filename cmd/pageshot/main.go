// Command pageshot captures browser pages to image files.
//
// Usage:
//
//	pageshot -url https://example.com -action full    # one capture, then exit
//	pageshot -config pageshot.yaml -serve             # HTTP API daemon
//	pageshot -config pageshot.yaml -mcp               # MCP server on stdio
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/shotkit/kit"
	"github.com/hazyhaar/shotkit/pageshot"
	"github.com/hazyhaar/shotkit/pageshot/shot"
)

const version = "0.1.0"

type flags struct {
	config   string
	url      string
	action   string
	format   string
	out      string
	remote   string
	headful  bool
	serve    bool
	addr     string
	mcp      bool
	logLevel string
}

func main() {
	var f flags
	flag.StringVar(&f.config, "config", "", "path to pageshot.yaml config file")
	flag.StringVar(&f.url, "url", "", "open this URL and capture it")
	flag.StringVar(&f.action, "action", "visible", "one-shot capture: visible or full")
	flag.StringVar(&f.format, "format", "", "png or jpg (default: stored preference)")
	flag.StringVar(&f.out, "out", "", "download directory (overrides output.dir)")
	flag.StringVar(&f.remote, "remote", "", "DevTools WebSocket URL of a running Chrome")
	flag.BoolVar(&f.headful, "headful", false, "run Chrome headful under Xvfb")
	flag.BoolVar(&f.serve, "serve", false, "serve the HTTP API")
	flag.StringVar(&f.addr, "addr", "", "HTTP listen address (overrides http.addr)")
	flag.BoolVar(&f.mcp, "mcp", false, "serve MCP tools on stdio")
	flag.StringVar(&f.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch f.logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, f); err != nil {
		logger.Error("pageshot: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, f flags) error {
	cfg := pageshot.DefaultConfig()
	if f.config != "" {
		var err error
		if cfg, err = pageshot.LoadConfigFile(f.config); err != nil {
			return err
		}
	}
	if f.out != "" {
		cfg.Output.Dir = f.out
		if f.config == "" {
			cfg.Store.Path = ""
		}
	}
	if f.remote != "" {
		cfg.Browser.Remote = f.remote
	}
	if f.headful {
		cfg.Browser.Stealth = "headful"
	}
	if f.addr != "" {
		cfg.HTTP.Addr = f.addr
	}

	opts := []pageshot.Option{pageshot.WithLogger(logger)}
	if f.mcp {
		// stdout carries the MCP protocol.
		opts = append(opts, pageshot.WithStdout(os.Stderr))
	}
	svc, err := pageshot.New(cfg, opts...)
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.Start(ctx); err != nil {
		return err
	}

	switch {
	case f.mcp:
		return runMCP(ctx, logger, svc, f.url)
	case f.serve:
		return runHTTP(ctx, logger, svc)
	default:
		return runOnce(ctx, svc, f)
	}
}

func runOnce(ctx context.Context, svc *pageshot.Service, f flags) error {
	format, err := shot.ParseFormat(f.format)
	if err != nil {
		return err
	}
	var action shot.Action
	switch f.action {
	case "visible":
		action = shot.ActionCaptureVisible
	case "full":
		action = shot.ActionCaptureFull
	default:
		return fmt.Errorf("unknown -action %q (visible or full)", f.action)
	}

	ctx = kit.WithTransport(ctx, "cli")
	if f.url != "" {
		ctx = kit.WithTabURL(ctx, f.url)
	}
	resp := svc.Dispatch(ctx, shot.Request{Action: action, Format: format})
	if resp.Status == shot.StatusStarted {
		svc.Wait()
		c, err := svc.Lookup(ctx, resp.ID)
		if err != nil {
			return err
		}
		resp = shot.Response{
			Status:  shot.Status(c.Status),
			Message: c.Message,
			Path:    c.Path,
			Kind:    shot.Kind(c.ErrorKind),
			ID:      c.ID,
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(resp)
	if resp.Status == shot.StatusError {
		return errors.New(resp.Message)
	}
	return nil
}

func runMCP(ctx context.Context, logger *slog.Logger, svc *pageshot.Service, url string) error {
	if url != "" {
		if err := svc.Open(ctx, url); err != nil {
			return err
		}
	}
	srv := mcp.NewServer(&mcp.Implementation{Name: "pageshot", Version: version}, nil)
	svc.RegisterMCP(srv)
	logger.Info("pageshot: MCP server on stdio")
	if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp: %w", err)
	}
	return nil
}

func runHTTP(ctx context.Context, logger *slog.Logger, svc *pageshot.Service) error {
	addr := svc.Config().HTTP.Addr
	if addr == "" {
		addr = "127.0.0.1:8089"
	}

	router := svc.RPCRouter()
	logger.Info("pageshot: services registered", "services", router.Services())

	mux := chi.NewRouter()
	mux.Mount("/rpc", pageshot.RPCHandler(router))
	mux.Mount("/", svc.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("pageshot: HTTP API listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("http: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("pageshot: shutdown", "error", err)
	}
	logger.Info("pageshot: HTTP API stopped")
	return nil
}
