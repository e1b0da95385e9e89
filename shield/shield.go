// Package shield provides the HTTP middleware placed in front of the
// capture API: security headers, body limits, request tracing and HEAD
// handling.
//
//	r := chi.NewRouter()
//	for _, mw := range shield.APIStack(64 << 10) {
//		r.Use(mw)
//	}
package shield

import "net/http"

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// APIStack returns the middleware for a local JSON API, outermost first:
// HeadToGet, SecurityHeaders, MaxBody, TraceID.
func APIStack(maxBody int64) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(APIHeaders()),
		MaxBody(maxBody),
		TraceID,
	}
}
