package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/shotkit/idgen"
	"github.com/hazyhaar/shotkit/kit"
)

// TraceHeader carries the trace ID. An incoming value is reused.
const TraceHeader = "X-Trace-ID"

// TraceID tags each request with a trace ID, echoes it in the response and
// stores a per-request logger under LoggerKey.
func TraceID(next http.Handler) http.Handler {
	gen := idgen.Prefixed("trc_", idgen.Default)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceHeader)
		if traceID == "" || len(traceID) > 64 {
			traceID = gen()
		}

		ctx := kit.WithTraceID(r.Context(), traceID)
		ctx = kit.WithTransport(ctx, "http")
		w.Header().Set(TraceHeader, traceID)

		logger := slog.Default().With(
			"trace_id", traceID,
			"method", r.Method,
			"path", r.URL.Path,
		)
		ctx = context.WithValue(ctx, LoggerKey, logger)
		logger.Debug("request")

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetLogger retrieves the per-request logger from ctx, or slog.Default.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
