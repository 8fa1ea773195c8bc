package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptshelf/promptshelf-server/internal/backup"
	"github.com/promptshelf/promptshelf-server/internal/jobs"
	"github.com/promptshelf/promptshelf-server/internal/ledger"
	"github.com/promptshelf/promptshelf-server/internal/service"
	"github.com/promptshelf/promptshelf-server/internal/store"
	"github.com/promptshelf/promptshelf-server/internal/store/storetest"
)

// seedDataDir writes the drifted fixture gallery into a fresh data directory.
func seedDataDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	s, err := store.New(filepath.Join(dir, "db"), slog.New(slog.DiscardHandler), &storetest.Emitter{})
	require.NoError(t, err)
	storetest.Gallery(t, s)
	require.NoError(t, s.Close())
	return dir
}

func execute(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	root, a := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--data-path", dir, "--env-file", "", "--log-level", "error"}, args...))
	err := root.Execute()
	require.NoError(t, a.shutdown())
	return out.String(), err
}

func TestCLI_ReconcileThenList(t *testing.T) {
	dir := seedDataDir(t)

	out, err := execute(t, dir, "reconcile-usage")
	require.NoError(t, err, out)

	var run ledger.Run
	require.NoError(t, json.Unmarshal([]byte(out), &run))
	assert.Equal(t, jobs.ReconcileUsage, run.Job)
	assert.Equal(t, "cli", run.Source)
	assert.Equal(t, ledger.StatusSucceeded, run.Status)

	var report service.ReconcileReport
	require.NoError(t, json.Unmarshal(run.Report, &report))
	assert.Len(t, report.Corrections, 3)

	out, err = execute(t, dir, "jobs", "--job", jobs.ReconcileUsage)
	require.NoError(t, err, out)
	var runs []ledger.Run
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
}

func TestCLI_EncodingStatusAndDryRun(t *testing.T) {
	dir := seedDataDir(t)

	out, err := execute(t, dir, "migrate-encoding", "--dry-run")
	require.NoError(t, err, out)
	var run ledger.Run
	require.NoError(t, json.Unmarshal([]byte(out), &run))
	assert.True(t, run.DryRun)

	out, err = execute(t, dir, "encoding-status")
	require.NoError(t, err, out)
	var status service.EncodingStatus
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, 3, status.Total)
	assert.Equal(t, 1, status.Codecs["png"])
}

func TestCLI_MigrateEncodingIsDryRunByDefault(t *testing.T) {
	dir := seedDataDir(t)

	out, err := execute(t, dir, "migrate-encoding")
	require.NoError(t, err, out)
	var run ledger.Run
	require.NoError(t, json.Unmarshal([]byte(out), &run))
	assert.True(t, run.DryRun, "no flag means dry run")

	status := func() service.EncodingStatus {
		out, err := execute(t, dir, "encoding-status")
		require.NoError(t, err, out)
		var s service.EncodingStatus
		require.NoError(t, json.Unmarshal([]byte(out), &s))
		return s
	}
	assert.Equal(t, 1, status().Codecs["png"], "dry run leaves payloads alone")

	out, err = execute(t, dir, "migrate-encoding", "--dry-run=false")
	require.NoError(t, err, out)
	require.NoError(t, json.Unmarshal([]byte(out), &run))
	assert.False(t, run.DryRun)
	assert.Equal(t, ledger.StatusSucceeded, run.Status)
	assert.Zero(t, status().Codecs["png"])
}

func TestCLI_ExportArchiveAndImport(t *testing.T) {
	dir := seedDataDir(t)
	archive := filepath.Join(t.TempDir(), "gallery.zip")

	out, err := execute(t, dir, "export", "--archive", "--out", archive)
	require.NoError(t, err, out)
	data, err := os.ReadFile(archive)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, zipMagic))

	target := t.TempDir()
	out, err = execute(t, target, "import", archive)
	require.NoError(t, err, out)

	var run ledger.Run
	require.NoError(t, json.Unmarshal([]byte(out), &run))
	var report backup.ImportReport
	require.NoError(t, json.Unmarshal(run.Report, &report))
	assert.Equal(t, 3, report.Imported)
}

func TestCLI_PartialRunFailsCommand(t *testing.T) {
	dir := seedDataDir(t)

	out, err := execute(t, dir, "delete-images", "img-b", "img-missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "partial")

	var run ledger.Run
	require.NoError(t, json.Unmarshal([]byte(out), &run))
	assert.Equal(t, ledger.StatusPartial, run.Status)
}

func TestCLI_BadConfig(t *testing.T) {
	_, err := execute(t, t.TempDir(), "--max-batch-ops", "9999", "encoding-status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
}
