package audit_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessiongate/gateway/internal/audit"
	"github.com/sessiongate/gateway/internal/testutil"
	"github.com/sessiongate/gateway/migrations"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	pg := testutil.MustStartPostgres()
	pool, err := pg.Pool(ctx)
	if err != nil {
		os.Exit(1)
	}
	testPool = pool

	if err := audit.RunMigrations(ctx, testPool, migrations.FS); err != nil {
		os.Exit(1)
	}

	code := m.Run()

	testPool.Close()
	pg.Terminate()
	os.Exit(code)
}

func TestLogPersistsRejectionRow(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	al := audit.NewFromExecer(testPool, logger, nil)

	entry := audit.Entry{
		CorrelationID: "corr-integration-1",
		RouteID:       "simulation-validate",
		Path:          "/api/simulation/42/validate",
		Method:        "GET",
		Partner:       "prevcom",
		Status:        401,
		Code:          "INVALID_SESSION",
		Reason:        "missing Authorization header",
		OccurredAt:    time.Now().UTC(),
	}
	al.Log(entry)

	require.Eventually(t, func() bool {
		var count int
		err := testPool.QueryRow(context.Background(),
			`SELECT count(*) FROM rejection_audit_log WHERE correlation_id = $1`,
			entry.CorrelationID,
		).Scan(&count)
		return err == nil && count == 1
	}, 2*time.Second, 50*time.Millisecond)

	var code, partner string
	var status int
	err := testPool.QueryRow(context.Background(),
		`SELECT code, partner, status FROM rejection_audit_log WHERE correlation_id = $1`,
		entry.CorrelationID,
	).Scan(&code, &partner, &status)
	require.NoError(t, err)
	assert.Equal(t, "INVALID_SESSION", code)
	assert.Equal(t, "prevcom", partner)
	assert.Equal(t, 401, status)
}
