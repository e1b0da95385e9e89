package kit

import "context"

type contextKey string

const (
	TransportKey contextKey = "kit_transport" // "http", "mcp", "cli", "connectivity"
	RequestIDKey contextKey = "kit_request_id"
	TraceIDKey   contextKey = "kit_trace_id"
	TabURLKey    contextKey = "kit_tab_url"
)

func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, TransportKey, t)
}

// GetTransport defaults to "http" when unset.
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(TransportKey).(string); ok {
		return v
	}
	return "http"
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(RequestIDKey).(string)
	return v
}

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDKey, id)
}
func GetTraceID(ctx context.Context) string {
	v, _ := ctx.Value(TraceIDKey).(string)
	return v
}

// WithTabURL asks the capture layer to navigate to url before capturing.
func WithTabURL(ctx context.Context, url string) context.Context {
	return context.WithValue(ctx, TabURLKey, url)
}
func GetTabURL(ctx context.Context) string {
	v, _ := ctx.Value(TabURLKey).(string)
	return v
}

// LogAttrs returns the request-scoped values present in ctx as slog
// key/value pairs.
func LogAttrs(ctx context.Context) []any {
	var out []any
	if v := GetTraceID(ctx); v != "" {
		out = append(out, "trace_id", v)
	}
	if v := GetRequestID(ctx); v != "" {
		out = append(out, "request_id", v)
	}
	if v, ok := ctx.Value(TransportKey).(string); ok {
		out = append(out, "transport", v)
	}
	return out
}
