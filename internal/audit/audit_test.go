package audit_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessiongate/gateway/internal/apperr"
	"github.com/sessiongate/gateway/internal/audit"
)

func TestEntryFromError(t *testing.T) {
	err := apperr.New(apperr.SessionInvalid, "missing Authorization header")
	e := audit.EntryFromError("corr-1", "route-1", "/api/simulation/42/validate", "GET", "prevcom", err)

	assert.Equal(t, "corr-1", e.CorrelationID)
	assert.Equal(t, 401, e.Status)
	assert.Equal(t, "INVALID_SESSION", e.Code)
	assert.NotContains(t, e.Reason, "Bearer")
}

func TestNewEncryptFuncRoundTrips(t *testing.T) {
	encrypt, err := audit.NewEncryptFunc("a passphrase that is long enough")
	require.NoError(t, err)

	ciphertext, err := encrypt([]byte(`{"path":"/x"}`))
	require.NoError(t, err)
	assert.NotEqual(t, []byte(`{"path":"/x"}`), ciphertext)
	assert.NotEmpty(t, ciphertext)
}

// recordingExecer is a minimal pgxExecer fake used only to exercise
// Logger.Log's async-dispatch and never-blocks contract; it does not
// require a running Postgres instance.
type recordingExecer struct {
	mu    sync.Mutex
	calls int
	done  chan struct{}
}

func (r *recordingExecer) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	close(r.done)
	return pgconn.CommandTag{}, nil
}

func TestLogIsAsyncAndFireAndForget(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	exec := &recordingExecer{done: make(chan struct{})}
	al := audit.NewFromExecer(exec, logger, nil)

	al.Log(audit.Entry{CorrelationID: "corr-1", OccurredAt: time.Now()})

	select {
	case <-exec.done:
	case <-time.After(time.Second):
		t.Fatal("expected async insert to complete")
	}
}
