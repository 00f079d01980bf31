package pipeline_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessiongate/gateway/internal/audit"
	"github.com/sessiongate/gateway/internal/breaker"
	"github.com/sessiongate/gateway/internal/config"
	"github.com/sessiongate/gateway/internal/metrics"
	"github.com/sessiongate/gateway/internal/pipeline"
	"github.com/sessiongate/gateway/internal/session"
	"github.com/sessiongate/gateway/internal/sessionfilter"
	"github.com/sessiongate/gateway/internal/workerpool"
)

type fakeStore struct {
	rec *session.Record
	err error
}

func (f *fakeStore) Get(ctx context.Context, partner, sessionID string) (*session.Record, error) {
	return f.rec, f.err
}

func sign(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHost(t *testing.T, upstream string, protected bool, required []string, store pipeline.SessionStore, breakers *breaker.Registry) *pipeline.Host {
	t.Helper()
	entries := []config.RouteEntry{{
		ID:                  "simulation-validate",
		PathPrefix:          "/api/simulation",
		Upstream:            upstream,
		Protected:           protected,
		RequiredPermissions: required,
		Timeout:             2 * time.Second,
	}}
	host, err := pipeline.New(entries, store, workerpool.New(2), breakers,
		sessionfilter.Config{PartnerDefensiveMode: true}, (*audit.Logger)(nil), testLogger())
	require.NoError(t, err)
	return host
}

func newHandler(host *pipeline.Host) http.Handler {
	handler, _ := newHandlerWithRegistry(host)
	return handler
}

func newHandlerWithRegistry(host *pipeline.Host) (http.Handler, *prometheus.Registry) {
	registry := prometheus.NewRegistry()
	mf := metrics.New(registry, "gateway-test", metrics.VariantSuffixAware)
	return pipeline.NewServerHandler(host, mf, registry, testLogger()), registry
}

// errorKindCount returns the gateway_request_errors_total sample count for
// the given error_kind label value, or 0 if no such series was recorded.
func errorKindCount(t *testing.T, registry *prometheus.Registry, kind string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "gateway_request_errors_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "error_kind" && l.GetValue() == kind {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func validRecord(secret string) *session.Record {
	return &session.Record{
		SessionID:     "s-1",
		Partner:       "prevcom",
		SessionSecret: secret,
		UserInfo:      session.UserInfo{DocumentNumber: "123", FullName: "Jane", Email: "j@example.com"},
		Fund:          session.Fund{ID: "f1", Name: "Fund One"},
		RelationshipSelected: &session.Relationship{
			ID: "REL001", ContractNumber: "378192372163682",
		},
		Permissions: []string{"VIEW_SIMULATION_RESULTS"},
	}
}

// TestHappyPathReachesUpstream is S1: a validated request is rewritten to
// the canonical envelope and reaches the upstream, which sees the original
// path and the injected userPermissions header.
func TestHappyPathReachesUpstream(t *testing.T) {
	var gotPath, gotPerms string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotPerms = r.Header.Get("userPermissions")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	rec := validRecord("secret")
	tok := sign(t, "secret", jwt.MapClaims{"sessionId": "s-1"})
	host := newHost(t, upstream.URL, true, []string{"VIEW_SIMULATION_RESULTS"},
		&fakeStore{rec: rec}, breaker.NewRegistry(breaker.DefaultPolicies()))
	handler := newHandler(host)

	req := httptest.NewRequest(http.MethodGet, "/api/simulation/42/validate", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("partner", "prevcom")
	rw := httptest.NewRecorder()

	handler.ServeHTTP(rw, req)

	assert.Equal(t, http.StatusOK, rw.Code)
	assert.Equal(t, "/api/simulation/42/validate", gotPath)
	assert.Equal(t, "VIEW_SIMULATION_RESULTS", gotPerms)
	assert.NotEmpty(t, rw.Header().Get("X-Correlation-ID"))
}

// TestMissingTokenNeverReachesUpstream is S2.
func TestMissingTokenNeverReachesUpstream(t *testing.T) {
	called := false
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer upstream.Close()

	host := newHost(t, upstream.URL, true, nil, &fakeStore{}, breaker.NewRegistry(breaker.DefaultPolicies()))
	handler := newHandler(host)

	req := httptest.NewRequest(http.MethodGet, "/api/simulation/42/validate", nil)
	req.Header.Set("partner", "prevcom")
	rw := httptest.NewRecorder()

	handler.ServeHTTP(rw, req)

	assert.Equal(t, http.StatusUnauthorized, rw.Code)
	assert.False(t, called)
	assert.NotEmpty(t, rw.Header().Get("X-Correlation-ID"))
}

// TestErrorKindLabelReflectsRejectionKind guards against the errors counter
// silently falling back to "unknown": a rejected request must carry its
// classified apperr.Kind through to the error_kind label that Metrics
// observes wrapping Correlation and route dispatch (see pipeline.Build).
func TestErrorKindLabelReflectsRejectionKind(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream must not be dialed for a rejected request")
	}))
	defer upstream.Close()

	host := newHost(t, upstream.URL, true, nil, &fakeStore{}, breaker.NewRegistry(breaker.DefaultPolicies()))
	handler, registry := newHandlerWithRegistry(host)

	req := httptest.NewRequest(http.MethodGet, "/api/simulation/42/validate", nil)
	req.Header.Set("partner", "prevcom")
	rw := httptest.NewRecorder()

	handler.ServeHTTP(rw, req)

	require.Equal(t, http.StatusUnauthorized, rw.Code)
	assert.Equal(t, float64(1), errorKindCount(t, registry, "SESSION_INVALID"))
	assert.Equal(t, float64(0), errorKindCount(t, registry, "unknown"))
}

// TestCorrelationIDPreserved is P4.
func TestCorrelationIDPreserved(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	host := newHost(t, upstream.URL, false, nil, &fakeStore{}, breaker.NewRegistry(breaker.DefaultPolicies()))
	handler := newHandler(host)

	req := httptest.NewRequest(http.MethodGet, "/api/simulation/42/validate", nil)
	req.Header.Set("X-Correlation-ID", "fixed-id")
	rw := httptest.NewRecorder()

	handler.ServeHTTP(rw, req)

	assert.Equal(t, "fixed-id", rw.Header().Get("X-Correlation-ID"))
}

// TestDownstreamBreakerOpenSkipsDispatch is P5's downstream half: once the
// "downstream" breaker is OPEN, the upstream is never dialed and the
// response is 503 SERVICE_TEMPORARILY_UNAVAILABLE.
func TestDownstreamBreakerOpenSkipsDispatch(t *testing.T) {
	dialed := false
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dialed = true
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	breakers := breaker.NewRegistry(breaker.DefaultPolicies())
	downstreamBreaker := breakers.Breaker("downstream")
	for i := 0; i < 8; i++ {
		downstreamBreaker.Record(true, false)
	}
	require.Equal(t, breaker.Open, downstreamBreaker.State())

	host := newHost(t, upstream.URL, false, nil, &fakeStore{}, breakers)
	handler := newHandler(host)

	req := httptest.NewRequest(http.MethodGet, "/api/simulation/42/validate", nil)
	rw := httptest.NewRecorder()

	handler.ServeHTTP(rw, req)

	assert.Equal(t, http.StatusServiceUnavailable, rw.Code)
	assert.False(t, dialed)
}
