// Package di provides dependency injection configuration for the PromptShelf
// server and command-line tools.
package di

import (
	"errors"

	"github.com/samber/do/v2"

	"github.com/promptshelf/promptshelf-server/internal/config"
	"github.com/promptshelf/promptshelf-server/internal/di/providers"
	"github.com/promptshelf/promptshelf-server/internal/logger"
)

// NewContainer creates and configures the DI container with all providers.
// Everything is lazy: the CLI invokes only the services a command needs, so
// it never opens the HTTP listener.
func NewContainer(cfg *config.Config, source providers.JobSource) *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.ProvideValue(injector, cfg)
	do.ProvideValue(injector, source)
	do.Provide(injector, providers.ProvideLogger)
	do.Provide(injector, providers.ProvideMetrics)
	do.Provide(injector, providers.ProvideValidator)

	// Storage layer
	do.Provide(injector, providers.ProvideSSEManager)
	do.Provide(injector, providers.ProvideStore)
	do.Provide(injector, providers.ProvideLedger)
	do.Provide(injector, providers.ProvideSnapshotReader)
	do.Provide(injector, providers.ProvideObjectStorage)

	// Business services
	do.Provide(injector, providers.ProvideGalleryService)
	do.Provide(injector, providers.ProvideCategoryService)
	do.Provide(injector, providers.ProvideEncodingMigrator)
	do.Provide(injector, providers.ProvideUsageReconciler)
	do.Provide(injector, providers.ProvideCategoryBackfiller)
	do.Provide(injector, providers.ProvideExporter)
	do.Provide(injector, providers.ProvideImporter)
	do.Provide(injector, providers.ProvideJobRunner)

	// Server
	do.Provide(injector, providers.ProvideJobLimiter)
	do.Provide(injector, providers.ProvideHTTPServer)

	return injector
}

// Bootstrap initializes the server's services and starts the HTTP listener.
func Bootstrap(injector *do.RootScope) error {
	if _, err := do.Invoke[*logger.Logger](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.StoreHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.LedgerHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.ObjectStorage](injector); err != nil {
		return err
	}
	_, err := do.Invoke[*providers.HTTPServerHandle](injector)
	return err
}

// Shutdown stops every service in reverse dependency order. It returns an
// error only when a service failed to stop.
func Shutdown(injector *do.RootScope) error {
	report := injector.Shutdown()
	if report == nil || len(report.Errors) == 0 {
		return nil
	}
	return errors.New(report.Error())
}
