package providers

import (
	"github.com/samber/do/v2"

	"github.com/promptshelf/promptshelf-server/internal/backup"
	"github.com/promptshelf/promptshelf-server/internal/config"
	"github.com/promptshelf/promptshelf-server/internal/jobs"
	"github.com/promptshelf/promptshelf-server/internal/logger"
	"github.com/promptshelf/promptshelf-server/internal/media/images"
	"github.com/promptshelf/promptshelf-server/internal/observability"
	"github.com/promptshelf/promptshelf-server/internal/service"
	"github.com/promptshelf/promptshelf-server/internal/snapshot"
	"github.com/promptshelf/promptshelf-server/internal/validation"
)

// ProvideValidator provides the shared struct validator.
func ProvideValidator(_ do.Injector) (*validation.Validator, error) {
	return validation.New(), nil
}

// ProvideGalleryService provides search and bulk delete.
func ProvideGalleryService(i do.Injector) (*service.GalleryService, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	reader := do.MustInvoke[*snapshot.Reader](i)
	storage := do.MustInvoke[*ObjectStorage](i)
	log := do.MustInvoke[*logger.Logger](i)
	return service.NewGalleryService(storeHandle.Store, reader, storage.Store, log.Logger), nil
}

// ProvideCategoryService provides category management.
func ProvideCategoryService(i do.Injector) (*service.CategoryService, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	v := do.MustInvoke[*validation.Validator](i)
	log := do.MustInvoke[*logger.Logger](i)
	return service.NewCategoryService(storeHandle.Store, v, log.Logger), nil
}

// ProvideEncodingMigrator provides the payload encoding migrator.
func ProvideEncodingMigrator(i do.Injector) (*service.EncodingMigrator, error) {
	cfg := do.MustInvoke[*config.Config](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	reader := do.MustInvoke[*snapshot.Reader](i)
	log := do.MustInvoke[*logger.Logger](i)
	transcoder := images.NewTranscoder(cfg.Migration.Quality)
	return service.NewEncodingMigrator(storeHandle.Store, reader, transcoder, log.Logger), nil
}

// ProvideUsageReconciler provides the tag usage reconciler.
func ProvideUsageReconciler(i do.Injector) (*service.UsageReconciler, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	reader := do.MustInvoke[*snapshot.Reader](i)
	log := do.MustInvoke[*logger.Logger](i)
	return service.NewUsageReconciler(storeHandle.Store, reader, log.Logger), nil
}

// ProvideCategoryBackfiller provides the orphan tag backfiller.
func ProvideCategoryBackfiller(i do.Injector) (*service.CategoryBackfiller, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	reader := do.MustInvoke[*snapshot.Reader](i)
	log := do.MustInvoke[*logger.Logger](i)
	return service.NewCategoryBackfiller(storeHandle.Store, reader, log.Logger), nil
}

// ProvideExporter provides the bundle exporter.
func ProvideExporter(i do.Injector) (*backup.Exporter, error) {
	reader := do.MustInvoke[*snapshot.Reader](i)
	log := do.MustInvoke[*logger.Logger](i)
	return backup.NewExporter(reader, log.Logger), nil
}

// ProvideImporter provides the bundle importer.
func ProvideImporter(i do.Injector) (*backup.Importer, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	v := do.MustInvoke[*validation.Validator](i)
	log := do.MustInvoke[*logger.Logger](i)
	return backup.NewImporter(storeHandle.Store, v, log.Logger), nil
}

// ProvideJobRunner provides the runner that records every job in the ledger,
// counts it in metrics and announces it over SSE.
func ProvideJobRunner(i do.Injector) (*jobs.Runner, error) {
	ledgerHandle := do.MustInvoke[*LedgerHandle](i)
	m := do.MustInvoke[*observability.Metrics](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)
	source := do.MustInvoke[JobSource](i)
	log := do.MustInvoke[*logger.Logger](i)
	return jobs.NewRunner(ledgerHandle.Ledger, m.Jobs, sseHandle.Manager, log.Logger, jobs.WithSource(string(source))), nil
}
