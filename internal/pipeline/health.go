package pipeline

import (
	"encoding/json"
	"net/http"

	"github.com/sessiongate/gateway/internal/breaker"
)

// Livez reports process liveness unconditionally: the process is up and the
// HTTP listener is accepting connections.
func Livez(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Readyz reports readiness as a function of the "redis" and "downstream"
// breakers: either one OPEN means the gateway cannot currently serve
// protected traffic without failing it, so readiness goes negative to pull
// the instance out of rotation until the breaker closes again.
func (h *Host) Readyz(w http.ResponseWriter, r *http.Request) {
	redisState := h.breakers.Breaker("redis").State()
	downstreamState := h.breakers.Breaker("downstream").State()

	ready := redisState != breaker.Open && downstreamState != breaker.Open

	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":            readyStatus(ready),
		"redisBreaker":      redisState.String(),
		"downstreamBreaker": downstreamState.String(),
	})
}

func readyStatus(ready bool) string {
	if ready {
		return "ok"
	}
	return "not ready"
}
