// Package corrid implements the Correlation Filter (§4.7): it reads the
// inbound X-Correlation-ID header or generates a UUID, and propagates the
// value to the outbound request header, a per-request context value, and
// the logging context.
package corrid

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

type contextKey struct{ name string }

var (
	corrIDKey = contextKey{"correlationId"}
	loggerKey = contextKey{"logger"}
)

// Header is the correlation-id header name, both inbound and outbound.
const Header = "X-Correlation-ID"

// FromContext returns the correlation id stored in ctx, or "" if none.
func FromContext(ctx context.Context) string {
	v, _ := ctx.Value(corrIDKey).(string)
	return v
}

// LoggerFromContext returns the per-request logger stamped by Middleware,
// already enriched with correlationId, or fallback if none is present.
func LoggerFromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return fallback
}

// WithCorrelationID returns a context carrying id and the enriched logger
// — the task-local logging context of §4.7(d).
func WithCorrelationID(ctx context.Context, logger *slog.Logger, id string) (context.Context, *slog.Logger) {
	enriched := logger.With(slog.String("correlationId", id))
	ctx = context.WithValue(ctx, corrIDKey, id)
	ctx = context.WithValue(ctx, loggerKey, enriched)
	return ctx, enriched
}

// Middleware is the Correlation Filter. It reads X-Correlation-ID from the
// inbound request, or generates a UUID if missing or empty, then stamps it
// onto: the request's own header (so it propagates to any outbound call
// made from this request's context), the request context, and the response
// header (I3). The base logger passed in is enriched per-request and
// attached to the request's context so downstream handlers can retrieve it
// via FromContext/logger accessors in other packages.
//
// The context swap mutates *r in place rather than handing next a request
// built from r.WithContext, so any handler further out in the chain that
// still holds the original *http.Request pointer (e.g. a metrics middleware
// wrapping this one) observes the stamped context too.
func Middleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(Header)
			if id == "" {
				id = uuid.NewString()
			}
			r.Header.Set(Header, id)
			w.Header().Set(Header, id)

			ctx, _ := WithCorrelationID(r.Context(), logger, id)
			*r = *r.WithContext(ctx)
			next.ServeHTTP(w, r)
		})
	}
}
