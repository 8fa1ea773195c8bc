package providers

import (
	"context"
	"errors"
	"net/http"

	"github.com/samber/do/v2"

	"github.com/promptshelf/promptshelf-server/internal/api"
	"github.com/promptshelf/promptshelf-server/internal/backup"
	"github.com/promptshelf/promptshelf-server/internal/config"
	"github.com/promptshelf/promptshelf-server/internal/jobs"
	"github.com/promptshelf/promptshelf-server/internal/logger"
	"github.com/promptshelf/promptshelf-server/internal/observability"
	"github.com/promptshelf/promptshelf-server/internal/service"
)

// HTTPServerHandle wraps http.Server with Shutdownable.
type HTTPServerHandle struct {
	*http.Server
}

// Shutdown implements do.Shutdownable.
func (h *HTTPServerHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Server.Shutdown(ctx)
}

// ProvideHTTPServer provides the HTTP server and starts listening.
func ProvideHTTPServer(i do.Injector) (*HTTPServerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)
	ledgerHandle := do.MustInvoke[*LedgerHandle](i)
	storage := do.MustInvoke[*ObjectStorage](i)
	m := do.MustInvoke[*observability.Metrics](i)
	limiter := do.MustInvoke[*JobLimiterHandle](i)
	log := do.MustInvoke[*logger.Logger](i)

	services := &api.Services{
		Gallery:    do.MustInvoke[*service.GalleryService](i),
		Categories: do.MustInvoke[*service.CategoryService](i),
		Encoding:   do.MustInvoke[*service.EncodingMigrator](i),
		Usage:      do.MustInvoke[*service.UsageReconciler](i),
		Backfill:   do.MustInvoke[*service.CategoryBackfiller](i),
		Exporter:   do.MustInvoke[*backup.Exporter](i),
		Importer:   do.MustInvoke[*backup.Importer](i),
		Runner:     do.MustInvoke[*jobs.Runner](i),
		Ledger:     ledgerHandle.Ledger,
	}

	handler := api.NewServer(storeHandle.Store, services, api.Options{
		SSEManager:     sseHandle.Manager,
		Metrics:        m,
		JobLimiter:     limiter.KeyedRateLimiter,
		Objects:        storage.Handler,
		ObjectsBaseURL: storage.BaseURL,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, log.Logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", "error", err)
		}
	}()

	return &HTTPServerHandle{Server: srv}, nil
}
