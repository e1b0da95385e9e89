package notify

import (
	"context"
	"log/slog"
)

// Router fans a notification out to every sink. A failing sink does not
// stop the others; failures are logged and the first one is returned.
type Router struct {
	sinks  []Notifier
	logger *slog.Logger
}

// NewRouter creates a fan-out router.
func NewRouter(logger *slog.Logger, sinks ...Notifier) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

func (r *Router) Notify(ctx context.Context, n Notification) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Notify(ctx, n); err != nil {
			r.logger.Warn("notify: deliver failed", "id", n.ID, "title", n.Title, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) Clear(ctx context.Context, id string) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Clear(ctx, id); err != nil {
			r.logger.Warn("notify: clear failed", "id", id, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Close closes every sink that has a Close method.
func (r *Router) Close() error {
	var firstErr error
	for _, s := range r.sinks {
		c, ok := s.(interface{ Close() error })
		if !ok {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Log writes notifications to a structured logger. Errors go out at warn.
type Log struct {
	Logger *slog.Logger
}

func (l Log) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

func (l Log) Notify(ctx context.Context, n Notification) error {
	level := slog.LevelInfo
	switch n.Kind {
	case KindError:
		level = slog.LevelWarn
	case KindProgress:
		level = slog.LevelDebug
	}
	l.logger().Log(ctx, level, "notify: "+n.Title,
		"id", n.ID, "kind", n.Kind, "message", n.Message, "progress", n.Progress)
	return nil
}

func (l Log) Clear(ctx context.Context, id string) error {
	l.logger().DebugContext(ctx, "notify: cleared", "id", id)
	return nil
}
