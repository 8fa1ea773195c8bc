package providers

import (
	"context"

	"github.com/samber/do/v2"

	"github.com/promptshelf/promptshelf-server/internal/config"
	"github.com/promptshelf/promptshelf-server/internal/ledger"
	"github.com/promptshelf/promptshelf-server/internal/logger"
	"github.com/promptshelf/promptshelf-server/internal/snapshot"
	"github.com/promptshelf/promptshelf-server/internal/sse"
	"github.com/promptshelf/promptshelf-server/internal/store"
)

// SSEManagerHandle wraps the SSE manager with its context for lifecycle management.
type SSEManagerHandle struct {
	*sse.Manager
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (h *SSEManagerHandle) Shutdown() error {
	h.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Manager.Shutdown(ctx)
}

// ProvideSSEManager provides the server-sent events manager.
func ProvideSSEManager(i do.Injector) (*SSEManagerHandle, error) {
	log := do.MustInvoke[*logger.Logger](i)

	manager := sse.NewManager(log.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	go manager.Start(ctx)

	log.Debug("SSE manager started")

	return &SSEManagerHandle{
		Manager: manager,
		cancel:  cancel,
	}, nil
}

// StoreHandle wraps the store with shutdown capability.
type StoreHandle struct {
	*store.Store
}

// Shutdown implements do.Shutdownable.
func (h *StoreHandle) Shutdown() error {
	return h.Close()
}

// ProvideStore provides the document store. Every committed batch is
// broadcast through the SSE manager.
func ProvideStore(i do.Injector) (*StoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)

	dbPath := cfg.Data.DBPath()
	db, err := store.New(dbPath, log.Logger, sseHandle.Manager, store.WithMaxBatchOps(cfg.Store.MaxBatchOps))
	if err != nil {
		return nil, err
	}

	log.Info("Database initialized", "path", dbPath, "max_batch_ops", cfg.Store.MaxBatchOps)

	return &StoreHandle{Store: db}, nil
}

// LedgerHandle wraps the job ledger with shutdown capability.
type LedgerHandle struct {
	*ledger.Ledger
}

// Shutdown implements do.Shutdownable.
func (h *LedgerHandle) Shutdown() error {
	return h.Close()
}

// ProvideLedger opens the SQLite job ledger and applies its migrations.
func ProvideLedger(i do.Injector) (*LedgerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	l, err := ledger.Open(cfg.Data.LedgerPath(), log.Logger)
	if err != nil {
		return nil, err
	}

	version, _, err := l.SchemaVersion()
	if err != nil {
		log.Warn("Job ledger schema version unknown", "error", err)
	}
	log.Info("Job ledger ready", "path", cfg.Data.LedgerPath(), "schema_version", version)

	return &LedgerHandle{Ledger: l}, nil
}

// ProvideSnapshotReader provides the snapshot reader shared by every job.
func ProvideSnapshotReader(i do.Injector) (*snapshot.Reader, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	log := do.MustInvoke[*logger.Logger](i)
	return snapshot.NewReader(storeHandle.Store, log.Logger), nil
}
