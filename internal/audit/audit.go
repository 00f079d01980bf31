// Package audit persists rejection-only audit entries to Postgres,
// asynchronously and best-effort. The core never audits successful
// requests (§1 Non-goals); a rejection is audited fire-and-forget so the
// request-processing hot path never waits on the database.
package audit

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sessiongate/gateway/internal/apperr"
)

// Entry is one rejection audit record.
type Entry struct {
	CorrelationID string
	RouteID       string
	Path          string
	Method        string
	Partner       string
	Status        int
	Code          string
	Reason        string
	OccurredAt    time.Time
}

// pgxExecer is the subset of pgxpool.Pool used for INSERT execution.
type pgxExecer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Logger persists rejection audit entries. A nil *Logger is valid and
// disables audit persistence entirely (used when GATEWAY_AUDIT_DSN is
// unset) — callers do not need to branch on configuration.
type Logger struct {
	pool    pgxExecer
	logger  *slog.Logger
	encrypt func([]byte) ([]byte, error)
}

// New builds a Logger backed by pool. encrypt, if non-nil, is applied to
// the JSON-encoded metadata payload before it is written, implementing the
// optional at-rest encryption of audit payloads.
func New(pool *pgxpool.Pool, logger *slog.Logger, encrypt func([]byte) ([]byte, error)) *Logger {
	return &Logger{pool: pool, logger: logger, encrypt: encrypt}
}

// NewFromExecer builds a Logger against any pgxExecer, letting tests
// exercise Log's async-dispatch behavior against a fake in place of a
// real pgxpool.Pool.
func NewFromExecer(exec pgxExecer, logger *slog.Logger, encrypt func([]byte) ([]byte, error)) *Logger {
	return &Logger{pool: exec, logger: logger, encrypt: encrypt}
}

// Log records e asynchronously. It never blocks the caller and never
// returns an error: persistence failures are logged, not propagated,
// because a failing audit write must never turn a rejection into a 500.
func (l *Logger) Log(e Entry) {
	if l == nil || l.pool == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.insert(ctx, e); err != nil {
			l.logger.Error("audit: failed to persist rejection", slog.String("err", err.Error()))
		}
	}()
}

func (l *Logger) insert(ctx context.Context, e Entry) error {
	meta := map[string]any{
		"path":   e.Path,
		"method": e.Method,
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("audit: marshal metadata: %w", err)
	}
	if l.encrypt != nil {
		ciphertext, encErr := l.encrypt(metaJSON)
		if encErr != nil {
			return fmt.Errorf("audit: encrypt metadata: %w", encErr)
		}
		metaJSON, err = json.Marshal(map[string]string{
			"encrypted": base64.StdEncoding.EncodeToString(ciphertext),
		})
		if err != nil {
			return fmt.Errorf("audit: marshal encrypted envelope: %w", err)
		}
	}

	_, err = l.pool.Exec(ctx,
		`INSERT INTO rejection_audit_log (
		     correlation_id, route_id, partner, status, code, reason, occurred_at, metadata
		 )
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)`,
		e.CorrelationID, e.RouteID, e.Partner, e.Status, e.Code, e.Reason, e.OccurredAt, metaJSON,
	)
	if err != nil {
		return fmt.Errorf("audit: insert rejection: %w", err)
	}
	return nil
}

// EntryFromError builds an Entry from a rejected request and its
// classified error, for the Pipeline Host to call right before invoking
// the Error Mapper.
func EntryFromError(correlationID, routeID, path, method, partner string, err error) Entry {
	ae, ok := apperr.As(err)
	status, code := 0, "UNKNOWN"
	if ok {
		status, code = ae.HTTPStatus(), ae.Code()
	}
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	return Entry{
		CorrelationID: correlationID,
		RouteID:       routeID,
		Path:          path,
		Method:        method,
		Partner:       partner,
		Status:        status,
		Code:          code,
		Reason:        reason,
		OccurredAt:    time.Now().UTC(),
	}
}
