package api

import (
	"github.com/promptshelf/promptshelf-server/internal/backup"
	"github.com/promptshelf/promptshelf-server/internal/jobs"
	"github.com/promptshelf/promptshelf-server/internal/ledger"
	"github.com/promptshelf/promptshelf-server/internal/service"
)

// Services groups the engine components used by the API server.
type Services struct {
	Gallery    *service.GalleryService
	Categories *service.CategoryService
	Encoding   *service.EncodingMigrator
	Usage      *service.UsageReconciler
	Backfill   *service.CategoryBackfiller
	Exporter   *backup.Exporter
	Importer   *backup.Importer
	Runner     *jobs.Runner
	Ledger     *ledger.Ledger
}
