package ledger

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) (*Ledger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.db")
	l, err := Open(path, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l, path
}

var t0 = time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)

func run(id, job string, started time.Time) *Run {
	return &Run{
		ID:         id,
		Job:        job,
		Status:     StatusSucceeded,
		StartedAt:  started,
		FinishedAt: started.Add(1500 * time.Millisecond),
		DurationMs: 1500,
	}
}

func TestOpen_AppliesMigrations(t *testing.T) {
	l, path := newTestLedger(t)

	version, dirty, err := l.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	var journal string
	require.NoError(t, l.db.QueryRow("PRAGMA journal_mode").Scan(&journal))
	assert.Equal(t, "wal", journal)

	require.NoError(t, l.Close())
	reopened, err := Open(path, nil)
	require.NoError(t, err, "reopening an up-to-date ledger is a no-op")
	require.NoError(t, reopened.Close())
}

func TestRecordAndGet(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	r := run("run-1", "reconcile-usage", t0)
	r.Source = "api"
	r.DryRun = true
	r.Status = StatusPartial
	r.Report = json.RawMessage(`{"checked":3}`)
	r.Error = "some usage corrections failed"
	require.NoError(t, l.Record(ctx, r))

	got, err := l.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "reconcile-usage", got.Job)
	assert.Equal(t, "api", got.Source)
	assert.True(t, got.DryRun)
	assert.Equal(t, StatusPartial, got.Status)
	assert.True(t, t0.Equal(got.StartedAt))
	assert.Equal(t, int64(1500), got.DurationMs)
	assert.JSONEq(t, `{"checked":3}`, string(got.Report))
	assert.Equal(t, "some usage corrections failed", got.Error)

	assert.Error(t, l.Record(ctx, r), "run IDs are unique")

	_, err = l.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecent_NewestFirstAndFiltered(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, run("a", "export", t0)))
	require.NoError(t, l.Record(ctx, run("b", "import", t0.Add(500*time.Millisecond))))
	require.NoError(t, l.Record(ctx, run("c", "export", t0.Add(time.Second))))

	all, err := l.Recent(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{all[0].ID, all[1].ID, all[2].ID})
	assert.Equal(t, "cli", all[0].Source)
	assert.Nil(t, all[0].Report)

	exports, err := l.Recent(ctx, "export", 1)
	require.NoError(t, err)
	require.Len(t, exports, 1)
	assert.Equal(t, "c", exports[0].ID)

	none, err := l.Recent(ctx, "backfill-categories", 10)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}
