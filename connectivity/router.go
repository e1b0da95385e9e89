// Package connectivity is an in-process service router: named handlers
// taking and returning bytes, wrapped by a shared middleware chain.
// Components register their operations once and callers reach them by name
// without importing the component.
//
//	router := connectivity.New(connectivity.WithMiddleware(
//		connectivity.Recovery(logger),
//		connectivity.Logging(logger),
//	))
//	router.RegisterLocal("pageshot_dispatch", svc.handleDispatch)
//	resp, err := router.Call(ctx, "pageshot_dispatch", payload)
package connectivity

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// Handler is a transport-agnostic service function: bytes in, bytes out.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// Router dispatches calls to registered handlers. Safe for concurrent use.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	disabled map[string]bool
	chain    HandlerMiddleware
	logger   *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithMiddleware wraps every handler registered afterwards.
func WithMiddleware(mws ...HandlerMiddleware) Option {
	return func(r *Router) { r.chain = Chain(mws...) }
}

// New creates an empty Router.
func New(opts ...Option) *Router {
	r := &Router{
		handlers: make(map[string]Handler),
		disabled: make(map[string]bool),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// RegisterLocal registers h under service, replacing any previous handler.
func (r *Router) RegisterLocal(service string, h Handler) {
	if r.chain != nil {
		h = r.chain(h)
	}
	r.mu.Lock()
	r.handlers[service] = h
	r.mu.Unlock()
}

// SetEnabled turns a service on or off. A disabled service answers
// (nil, nil) without running.
func (r *Router) SetEnabled(service string, on bool) {
	r.mu.Lock()
	if on {
		delete(r.disabled, service)
	} else {
		r.disabled[service] = true
	}
	r.mu.Unlock()
}

// Call dispatches payload to service.
func (r *Router) Call(ctx context.Context, service string, payload []byte) ([]byte, error) {
	r.mu.RLock()
	h, ok := r.handlers[service]
	off := r.disabled[service]
	r.mu.RUnlock()

	if off {
		r.logger.DebugContext(ctx, "connectivity: service disabled", "service", service)
		return nil, nil
	}
	if !ok {
		return nil, &ErrServiceNotFound{Service: service}
	}
	return h(ctx, payload)
}

// Services lists registered service names, sorted.
func (r *Router) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
