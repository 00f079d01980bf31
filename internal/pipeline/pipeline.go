// Package pipeline implements the Pipeline Host (§4.11): it owns
// global-filter ordering (Metrics outermost, then Correlation, then route
// dispatch), instantiates the Session Validation Filter per route from the
// declarative route table, and delegates upstream dispatch to
// net/http/httputil's reverse-proxy facility, guarded by the "downstream"
// breaker.
package pipeline

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/sessiongate/gateway/internal/apperr"
	"github.com/sessiongate/gateway/internal/audit"
	"github.com/sessiongate/gateway/internal/breaker"
	"github.com/sessiongate/gateway/internal/config"
	"github.com/sessiongate/gateway/internal/corrid"
	"github.com/sessiongate/gateway/internal/errormap"
	"github.com/sessiongate/gateway/internal/sessionfilter"
	"github.com/sessiongate/gateway/internal/workerpool"
)

type ctxKey struct{ name string }

var errKindKey = ctxKey{"errKind"}

// errKindFromRequest retrieves the classified error kind stamped on r by a
// route handler, for the Metrics Filter's error counter.
func errKindFromRequest(r *http.Request) string {
	v, _ := r.Context().Value(errKindKey).(string)
	return v
}

// stampErrKind mutates *r in place (mirroring sessionfilter's start-time
// stamp) so a middleware layer wrapping the same *http.Request further out
// in the call stack observes the update after ServeHTTP returns.
func stampErrKind(r *http.Request, kind apperr.Kind) {
	ctx := context.WithValue(r.Context(), errKindKey, string(kind))
	*r = *r.WithContext(ctx)
}

// route is one compiled routing table entry: the declarative config.RouteEntry
// plus the Session Validation Filter and reverse proxy built for it.
type route struct {
	entry  config.RouteEntry
	filter *sessionfilter.Filter // nil when entry.Protected is false
	proxy  *httputil.ReverseProxy
}

// Host is the Pipeline Host. It implements http.Handler by matching the
// inbound request against the longest matching route prefix, running that
// route's Session Validation Filter when protected, and dispatching to the
// route's upstream.
type Host struct {
	routes   []route
	breakers *breaker.Registry
	audit    *audit.Logger
	logger   *slog.Logger
}

// SessionStore is re-exported from sessionfilter so callers building a Host
// don't need to import sessionfilter directly.
type SessionStore = sessionfilter.SessionStore

// New builds the Pipeline Host from the loaded route table. Routes are
// sorted by descending path-prefix length so the longest (most specific)
// match wins, mirroring how the teacher's mux relies on Go's own
// longest-match rule for overlapping patterns.
func New(entries []config.RouteEntry, store SessionStore, pool *workerpool.Pool, breakers *breaker.Registry, filterCfg sessionfilter.Config, auditLogger *audit.Logger, logger *slog.Logger) (*Host, error) {
	h := &Host{breakers: breakers, audit: auditLogger, logger: logger}

	for _, e := range entries {
		target, err := url.Parse(e.Upstream)
		if err != nil {
			return nil, err
		}

		r := route{entry: e, proxy: newReverseProxy(target)}
		if e.Protected {
			r.filter = sessionfilter.New(store, pool, filterCfg, sessionfilter.RouteConfig{
				RouteID:             e.ID,
				RequiredPermissions: e.RequiredPermissions,
				Timeout:             e.Timeout,
			}, logger)
		}
		h.routes = append(h.routes, r)
	}

	sort.SliceStable(h.routes, func(i, j int) bool {
		return len(h.routes[i].entry.PathPrefix) > len(h.routes[j].entry.PathPrefix)
	})
	return h, nil
}

// match finds the longest-prefix route whose method (if constrained)
// matches r, or nil.
func (h *Host) match(r *http.Request) *route {
	for i := range h.routes {
		rt := &h.routes[i]
		if !strings.HasPrefix(r.URL.Path, rt.entry.PathPrefix) {
			continue
		}
		if rt.entry.Method != "" && !strings.EqualFold(rt.entry.Method, r.Method) {
			continue
		}
		return rt
	}
	return nil
}

// ServeHTTP is the route-scoped portion of the pipeline: Session Validation
// (if protected) followed by upstream dispatch. Correlation and Metrics wrap
// this from the outside (see Build).
func (h *Host) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt := h.match(r)
	if rt == nil {
		http.NotFound(w, r)
		return
	}

	ctx, span := startSpan(r.Context(), rt.entry.ID)
	defer span.end()
	*r = *r.WithContext(ctx)

	if rt.filter != nil {
		if err := rt.filter.Validate(r); err != nil {
			h.reject(w, r, rt.entry, err)
			span.fail(err)
			return
		}
	}

	timeout := rt.entry.Timeout
	if timeout <= 0 {
		timeout = config.DefaultRouteTimeout
	}
	h.dispatch(w, r, rt.entry, rt.proxy, timeout)
}

// reject audits the rejection (fire-and-forget, per the Non-goal that only
// rejections are audited) and renders the error response (I1: the upstream
// is never reached on this path).
func (h *Host) reject(w http.ResponseWriter, r *http.Request, entry config.RouteEntry, err error) {
	ae, _ := apperr.As(err)
	if ae != nil {
		stampErrKind(r, ae.Kind)
	}
	h.audit.Log(audit.EntryFromError(
		corrid.FromContext(r.Context()), entry.ID, r.URL.Path, r.Method,
		r.Header.Get("partner"), err,
	))
	errormap.Write(w, r, h.logger, entry.ID, err)
}

// statusRecorder captures whether the reverse proxy actually wrote a
// response, distinguishing an application-level upstream response (streamed
// back unchanged, §6) from a connection-level dispatch failure that never
// reached the upstream at all.
type statusRecorder struct {
	http.ResponseWriter
	status   int
	wrote    bool
	proxyErr error
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.wrote = true
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if !s.wrote {
		s.status = http.StatusOK
		s.wrote = true
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

func newReverseProxy(target *url.URL) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = target.Scheme
			req.URL.Host = target.Host
			req.Host = target.Host
		},
		ErrorHandler: func(w http.ResponseWriter, _ *http.Request, err error) {
			if rec, ok := w.(*statusRecorder); ok {
				rec.proxyErr = err
			}
		},
	}
}

// dispatch sends the validated, rewritten request upstream (§4.11 "delegates
// actual upstream dispatch to the external proxy facility"), guarded by the
// "downstream" breaker (§4.4) and bounded by the route's timeout (default
// 30s, §5).
func (h *Host) dispatch(w http.ResponseWriter, r *http.Request, entry config.RouteEntry, proxy *httputil.ReverseProxy, timeout time.Duration) {
	downstream := h.breakers.Breaker("downstream")
	rec := &statusRecorder{ResponseWriter: w}

	ran, _ := downstream.Do(func() error {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		proxy.ServeHTTP(rec, r.WithContext(ctx))
		return rec.proxyErr
	})

	if !ran {
		stampErrKind(r, apperr.DownstreamUnavailable)
		errormap.Write(w, r, h.logger, entry.ID, apperr.BreakerOpen("downstream"))
		return
	}
	if rec.proxyErr != nil {
		stampErrKind(r, apperr.DownstreamUnavailable)
		errormap.Write(w, r, h.logger, entry.ID,
			apperr.Wrap(apperr.DownstreamUnavailable, "upstream dispatch failed", rec.proxyErr))
		return
	}
	if rec.status >= 400 {
		h.logGatewayError(r, entry.ID, apperr.Gateway(rec.status, "upstream responded with an error status"))
	}
}

// logGatewayError classifies an application-level upstream failure (§6: the
// response body is already streamed back unchanged by proxy.ServeHTTP, so
// ae is used only for the error_kind label and structured logging, never
// to re-render a response). It is not audited: audit covers Session
// Validation Filter rejections only, and this request was never rejected.
func (h *Host) logGatewayError(r *http.Request, routeID string, ae *apperr.Error) {
	stampErrKind(r, ae.Kind)
	corrid.LoggerFromContext(r.Context(), h.logger).Warn("upstream returned an error response",
		slog.String("routeId", routeID), slog.String("code", ae.Code()), slog.Int("status", ae.Status))
}

// Build assembles the full global-filter chain: Metrics wraps outermost so
// it observes the complete route-scoped outcome on every exit path —
// including any response written by the Error Mapper — and can therefore
// record the final status and error_kind label (§4.8). Correlation runs
// just inside Metrics, stamping the correlation id onto the request and its
// logging context before route dispatch (§4.7, §4.11).
func Build(next http.Handler, metricsMW func(errorKind func(*http.Request) string) func(http.Handler) http.Handler, logger *slog.Logger) http.Handler {
	h := corrid.Middleware(logger)(next)
	h = metricsMW(errKindFromRequest)(h)
	return h
}
