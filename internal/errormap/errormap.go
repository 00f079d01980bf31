// Package errormap implements the Error Mapper (§4.10): the single global
// handler that classifies a terminal failure and renders it into the
// external response format of §4.3/§6.
package errormap

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/sessiongate/gateway/internal/apperr"
	"github.com/sessiongate/gateway/internal/corrid"
)

// Body is the stable external error envelope.
type Body struct {
	Timestamp     string `json:"timestamp"`
	Status        int    `json:"status"`
	Error         string `json:"error"`
	Code          string `json:"code"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlationId"`
}

// Write classifies err and writes the response per §4.3. It always sets
// the correlation-id response header (I3), and logs at WARN for 4xx / ERROR
// for 5xx including the correlation id and routeID — never the token or
// session secret (P8).
func Write(w http.ResponseWriter, r *http.Request, logger *slog.Logger, routeID string, err error) {
	ae, ok := apperr.As(err)
	if !ok {
		ae = apperr.Wrap(apperr.Internal, "unclassified failure", err)
	}

	status := ae.HTTPStatus()
	corrID := corrid.FromContext(r.Context())
	if corrID == "" {
		corrID = r.Header.Get(corrid.Header)
	}

	w.Header().Set(corrid.Header, corrID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	body := Body{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Status:        status,
		Error:         http.StatusText(status),
		Code:          ae.Code(),
		Message:       ae.Msg,
		CorrelationID: corrID,
	}
	_ = json.NewEncoder(w).Encode(body)

	l := corrid.LoggerFromContext(r.Context(), logger)
	fields := []any{
		slog.String("routeId", routeID),
		slog.String("code", ae.Code()),
		slog.String("path", r.URL.Path),
	}
	if status >= 500 {
		l.Error("request failed", append(fields, slog.Any("err", ae.Err))...)
	} else {
		l.Warn("request rejected", fields...)
	}
}
