// Package shield provides the HTTP middleware shared by the webhook and
// staff routes: security headers, body limits, request tracing, per-client
// rate limiting and HEAD handling.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultStack() {
//	    r.Use(mw)
//	}
//	r.Use(shield.NewRateLimiter(shield.Rule{Prefix: "/api/", Max: 120, Window: time.Minute}).Middleware)
package shield

import "net/http"

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// DefaultMaxBody caps JSON request bodies on the staff API (64 KiB).
const DefaultMaxBody int64 = 64 << 10

// DefaultStack returns the middleware applied to every route, in order:
// HeadToGet, SecurityHeaders, TraceID. Body limits are set per route
// because the webhook reads its own bounded body.
func DefaultStack() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		TraceID,
	}
}
