package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptshelf/promptshelf-server/internal/backup"
	"github.com/promptshelf/promptshelf-server/internal/jobs"
	"github.com/promptshelf/promptshelf-server/internal/ledger"
	"github.com/promptshelf/promptshelf-server/internal/media/images"
	"github.com/promptshelf/promptshelf-server/internal/ratelimit"
	"github.com/promptshelf/promptshelf-server/internal/service"
	"github.com/promptshelf/promptshelf-server/internal/snapshot"
	"github.com/promptshelf/promptshelf-server/internal/sse"
	"github.com/promptshelf/promptshelf-server/internal/store/storetest"
	"github.com/promptshelf/promptshelf-server/internal/validation"
)

var testNow = time.Date(2025, 8, 1, 8, 0, 0, 0, time.UTC)

type testServer struct {
	*Server
	api     humatest.TestAPI
	emitter *storetest.Emitter
}

// testEnvelope decodes the response envelope with a typed payload.
type testEnvelope[T any] struct {
	Success bool            `json:"success"`
	Data    T               `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
	Details json.RawMessage `json:"details"`
}

func decode[T any](t *testing.T, resp *httptest.ResponseRecorder) testEnvelope[T] {
	t.Helper()
	var env testEnvelope[T]
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &env), resp.Body.String())
	return env
}

func setupTestServer(t *testing.T, limiter *ratelimit.KeyedRateLimiter) *testServer {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	st, emitter := storetest.New(t)
	storetest.Gallery(t, st)

	l, err := ledger.Open(filepath.Join(t.TempDir(), "jobs.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	reader := snapshot.NewReader(st, logger)
	v := validation.New()
	services := &Services{
		Gallery:    service.NewGalleryService(st, reader, nil, logger),
		Categories: service.NewCategoryService(st, v, logger),
		Encoding:   service.NewEncodingMigrator(st, reader, images.NewTranscoder(images.DefaultQuality), logger),
		Usage:      service.NewUsageReconciler(st, reader, logger),
		Backfill:   service.NewCategoryBackfiller(st, reader, logger),
		Exporter:   backup.NewExporter(reader, logger),
		Importer:   backup.NewImporter(st, v, logger),
		Runner:     jobs.NewRunner(l, nil, emitter, logger, jobs.WithSource("api")),
		Ledger:     l,
	}

	srv := NewServer(st, services, Options{SSEManager: sse.NewManager(logger), JobLimiter: limiter}, logger)
	srv.now = func() time.Time { return testNow }

	return &testServer{Server: srv, api: humatest.Wrap(t, srv.API()), emitter: emitter}
}

func TestHealth_ReportsComponents(t *testing.T) {
	ts := setupTestServer(t, nil)

	resp := ts.api.Get("/health")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	env := decode[HealthResponse](t, resp)
	assert.True(t, env.Success)
	assert.Equal(t, "healthy", env.Data.Status)
	assert.Equal(t, "healthy", env.Data.Components["database"].Status)
	assert.Equal(t, "schema version 2", env.Data.Components["ledger"].Message)
	assert.Equal(t, "0 clients", env.Data.Components["sse"].Message)
}

func TestSearchImages(t *testing.T) {
	ts := setupTestServer(t, nil)

	resp := ts.api.Post("/api/v1/images/search", map[string]any{"query": "CAT", "sortBy": "createdAt", "order": "desc"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	env := decode[SearchImagesResponse](t, resp)
	require.Equal(t, 2, env.Data.Count)
	assert.Equal(t, "img-a", env.Data.Images[0].ID)
	assert.Equal(t, "img-b", env.Data.Images[1].ID)
	assert.Equal(t, []string{"tag-1", "tag-2"}, env.Data.Images[0].TagIDs)
	require.Len(t, env.Data.Images[0].Prompts, 2)
	assert.Equal(t, "first", env.Data.Images[0].Prompts[0].Title)

	resp = ts.api.Post("/api/v1/images/search", map[string]any{"sortBy": "popularity"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	bad := decode[any](t, resp)
	assert.False(t, bad.Success)
	assert.Equal(t, "VALIDATION", bad.Code)
	assert.NotEmpty(t, bad.Details)
}

func TestCategories_Lifecycle(t *testing.T) {
	ts := setupTestServer(t, nil)

	resp := ts.api.Post("/api/v1/categories", map[string]any{"name": "  People  "})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	created := decode[struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		Order     int    `json:"order"`
		IsDefault bool   `json:"isDefault"`
	}](t, resp).Data
	assert.Equal(t, "People", created.Name)
	assert.Equal(t, 3, created.Order)
	assert.False(t, created.IsDefault)

	resp = ts.api.Post("/api/v1/categories", map[string]any{"name": "   "})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "VALIDATION", decode[any](t, resp).Code)

	resp = ts.api.Get("/api/v1/categories")
	require.Equal(t, http.StatusOK, resp.Code)
	list := decode[struct {
		Categories []struct {
			ID string `json:"id"`
		} `json:"categories"`
	}](t, resp).Data.Categories
	require.Len(t, list, 3)
	assert.Equal(t, "cat-default", list[0].ID)

	resp = ts.api.Delete("/api/v1/categories/cat-2")
	assert.Equal(t, http.StatusConflict, resp.Code)
	conflict := decode[any](t, resp)
	assert.Equal(t, "CONFLICT", conflict.Code)
	assert.JSONEq(t, `{"tagCount":1}`, string(conflict.Details))

	resp = ts.api.Get("/api/v1/categories/cat-missing")
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "NOT_FOUND", decode[any](t, resp).Code)

	resp = ts.api.Put("/api/v1/categories/" + created.ID + "/default")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	resp = ts.api.Delete("/api/v1/categories/cat-default")
	assert.Equal(t, http.StatusOK, resp.Code, "former default is empty and deletable")

	resp = ts.api.Put("/api/v1/categories/order", map[string]any{"ids": []string{created.ID}})
	assert.Equal(t, http.StatusBadRequest, resp.Code, "order must list every category")
}

func TestJobs_ReconcileIsRecorded(t *testing.T) {
	ts := setupTestServer(t, nil)

	resp := ts.api.Post("/api/v1/admin/jobs/reconcile-usage", map[string]any{})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	run := decode[ledger.Run](t, resp).Data
	assert.Equal(t, jobs.ReconcileUsage, run.Job)
	assert.Equal(t, "api", run.Source)
	assert.Equal(t, ledger.StatusSucceeded, run.Status)

	var report service.ReconcileReport
	require.NoError(t, json.Unmarshal(run.Report, &report))
	assert.Len(t, report.Corrections, 3)
	assert.Equal(t, 1, ts.emitter.Count(sse.EventJobCompleted))

	resp = ts.api.Get("/api/v1/admin/jobs?job=" + jobs.ReconcileUsage)
	require.Equal(t, http.StatusOK, resp.Code)
	runs := decode[struct {
		Runs []ledger.Run `json:"runs"`
	}](t, resp).Data.Runs
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)

	resp = ts.api.Get("/api/v1/admin/jobs/" + run.ID)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, run.ID, decode[ledger.Run](t, resp).Data.ID)

	resp = ts.api.Get("/api/v1/admin/jobs/no-such-run")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestJobs_MigrateEncodingDryRun(t *testing.T) {
	ts := setupTestServer(t, nil)

	resp := ts.api.Post("/api/v1/admin/jobs/migrate-encoding", map[string]any{"dryRun": true})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	run := decode[ledger.Run](t, resp).Data
	assert.True(t, run.DryRun)

	var report service.MigrationReport
	require.NoError(t, json.Unmarshal(run.Report, &report))
	assert.Equal(t, 1, report.NeedsMigration)
	assert.Equal(t, 0, report.Migrated)

	resp = ts.api.Get("/api/v1/admin/encoding-status")
	require.Equal(t, http.StatusOK, resp.Code)
	status := decode[service.EncodingStatus](t, resp).Data
	assert.Equal(t, 1, status.Codecs["png"], "dry run leaves payloads alone")
}

func TestJobs_MigrateEncodingDefaultsToDryRun(t *testing.T) {
	ts := setupTestServer(t, nil)

	resp := ts.api.Post("/api/v1/admin/jobs/migrate-encoding", map[string]any{})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.True(t, decode[ledger.Run](t, resp).Data.DryRun)

	resp = ts.api.Get("/api/v1/admin/encoding-status")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 1, decode[service.EncodingStatus](t, resp).Data.Codecs["png"])

	resp = ts.api.Post("/api/v1/admin/jobs/migrate-encoding", map[string]any{"dryRun": false})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	run := decode[ledger.Run](t, resp).Data
	assert.False(t, run.DryRun)

	var report service.MigrationReport
	require.NoError(t, json.Unmarshal(run.Report, &report))
	assert.Equal(t, 1, report.Migrated)

	resp = ts.api.Get("/api/v1/admin/encoding-status")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 0, decode[service.EncodingStatus](t, resp).Data.Codecs["png"])
}

func TestJobs_BackfillWithoutDefaultCategory(t *testing.T) {
	ts := setupTestServer(t, nil)

	resp := ts.api.Delete("/api/v1/categories/cat-default")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = ts.api.Post("/api/v1/admin/jobs/backfill-categories", map[string]any{})
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	env := decode[any](t, resp)
	assert.False(t, env.Success)
	assert.Equal(t, "CONFIGURATION", env.Code)

	resp = ts.api.Get("/api/v1/admin/jobs?job=" + jobs.BackfillCategories)
	require.Equal(t, http.StatusOK, resp.Code)
	runs := decode[struct {
		Runs []ledger.Run `json:"runs"`
	}](t, resp).Data.Runs
	require.Len(t, runs, 1)
	assert.Equal(t, ledger.StatusFailed, runs[0].Status)
}

func TestJobs_DeleteImagesWithUnknownIDIsPartial(t *testing.T) {
	ts := setupTestServer(t, nil)

	resp := ts.api.Post("/api/v1/images/delete", map[string]any{"ids": []string{"img-b", "img-x"}})
	require.Equal(t, http.StatusMultiStatus, resp.Code, resp.Body.String())
	run := decode[ledger.Run](t, resp).Data
	assert.Equal(t, ledger.StatusPartial, run.Status)

	var report service.DeleteReport
	require.NoError(t, json.Unmarshal(run.Report, &report))
	assert.Equal(t, 1, report.Deleted)
	assert.Equal(t, []string{"img-x"}, report.NotFound)
}

func TestJobs_RateLimited(t *testing.T) {
	limiter := ratelimit.New(0.001, 1)
	t.Cleanup(limiter.Stop)
	ts := setupTestServer(t, limiter)

	resp := ts.api.Post("/api/v1/admin/jobs/backfill-categories", map[string]any{})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = ts.api.Post("/api/v1/admin/jobs/backfill-categories", map[string]any{})
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
	env := decode[any](t, resp)
	assert.False(t, env.Success)
	assert.Equal(t, "RATE_LIMITED", env.Code)

	resp = ts.api.Get("/api/v1/admin/encoding-status")
	assert.Equal(t, http.StatusOK, resp.Code, "read-only routes are not throttled")
}

func TestBackup_ArchiveRoundTrip(t *testing.T) {
	ts := setupTestServer(t, nil)

	rec := httptest.NewRecorder()
	ts.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/export/archive", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "promptshelf-20250801-080000.zip")

	resp := ts.api.Post("/api/v1/import", "Content-Type: application/zip", bytes.NewReader(rec.Body.Bytes()))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	run := decode[ledger.Run](t, resp).Data

	var report backup.ImportReport
	require.NoError(t, json.Unmarshal(run.Report, &report))
	assert.Equal(t, 3, report.Imported)
	assert.Equal(t, 0, report.Failed)
}

func TestBackup_ExportAndBadImport(t *testing.T) {
	ts := setupTestServer(t, nil)

	resp := ts.api.Post("/api/v1/export", map[string]any{"imageIds": []string{"img-a"}})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	bundle := decode[backup.Bundle](t, resp).Data
	assert.Equal(t, backup.FormatVersion, bundle.Version)
	assert.Equal(t, 1, bundle.Metadata.TotalImages)

	resp = ts.api.Post("/api/v1/import", map[string]any{"version": "2.0", "images": "nope"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "VALIDATION", decode[any](t, resp).Code)
}

func TestBackup_ExportCachedImages(t *testing.T) {
	ts := setupTestServer(t, nil)

	held := map[string]any{
		"id": "img-held", "title": "held", "url": "https://cdn.example.com/held.jpg",
		"createdAt": testNow, "updatedAt": testNow,
		"tags": []any{"tag-1", map[string]any{"name": "Fresh", "color": "#00ff00"}},
	}
	resp := ts.api.Post("/api/v1/export", map[string]any{"cachedImages": []any{held}})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	bundle := decode[backup.Bundle](t, resp).Data
	require.Len(t, bundle.Images, 1, "held records replace the image scan")
	assert.Equal(t, "img-held", bundle.Images[0].ID)
	assert.Equal(t, 2, bundle.Metadata.TotalTags)

	resp = ts.api.Post("/api/v1/export", map[string]any{"cachedImages": []any{"nope"}})
	assert.Equal(t, http.StatusBadRequest, resp.Code, resp.Body.String())
	assert.Equal(t, "VALIDATION", decode[any](t, resp).Code)
}

func TestBackup_ArchiveExportFailureUsesEnvelope(t *testing.T) {
	ts := setupTestServer(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := httptest.NewRecorder()
	ts.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/export/archive", nil).WithContext(ctx))

	require.Equal(t, http.StatusInternalServerError, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	env := decode[any](t, rec)
	assert.False(t, env.Success)
	assert.Equal(t, "export failed", env.Error)
	assert.Equal(t, "INTERNAL", env.Code)
}
