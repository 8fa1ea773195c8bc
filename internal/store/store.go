// Package store is the document store: typed collections over a single Badger
// database with point reads, prefix scans, and chunked atomic batch writes.
package store

import (
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"github.com/promptshelf/promptshelf-server/internal/domain"
)

// DefaultMaxBatchOps is the largest number of mutations applied in one transaction.
const DefaultMaxBatchOps = 500

// Collection key prefixes.
const (
	imagePrefix    = "image:"
	promptPrefix   = "prompt:" // prompt:{imageID}:{promptID}
	tagPrefix      = "tag:"
	categoryPrefix = "category:"
)

// Entity kinds, as reported in change events.
const (
	KindImage    = "image"
	KindPrompt   = "prompt"
	KindTag      = "tag"
	KindCategory = "category"
)

// EventEmitter is the interface for emitting SSE events.
// Store uses this to broadcast changes without depending on SSE implementation details.
type EventEmitter interface {
	Emit(event any)
}

// NoopEmitter is a no-op implementation of EventEmitter for testing.
type NoopEmitter struct{}

// Emit implements EventEmitter.Emit as a no-op.
func (NoopEmitter) Emit(_ any) {}

// NewNoopEmitter creates a new no-op emitter for testing.
func NewNoopEmitter() EventEmitter {
	return NoopEmitter{}
}

// Store wraps a Badger database instance.
type Store struct {
	db           *badger.DB
	logger       *slog.Logger
	eventEmitter EventEmitter
	maxBatchOps  int

	Images     *Collection[domain.Image]
	Prompts    *Collection[domain.PromptBlock]
	Tags       *Collection[domain.Tag]
	Categories *Collection[domain.Category]
}

// Option configures a Store.
type Option func(*Store)

// WithMaxBatchOps bounds the size of every atomic chunk written by Commit.
func WithMaxBatchOps(n int) Option {
	return func(s *Store) {
		if n > 0 && n <= DefaultMaxBatchOps {
			s.maxBatchOps = n
		}
	}
}

// New opens (or creates) the Badger database at path.
func New(path string, logger *slog.Logger, emitter EventEmitter, opts ...Option) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if emitter == nil {
		emitter = NoopEmitter{}
	}

	bopts := badger.DefaultOptions(path)
	bopts.Logger = nil            // Disable Badger's internal logging
	bopts.SyncWrites = true       // Ensure writes are synced to disk to prevent corruption on crashes
	bopts.CompactL0OnClose = true // Compact L0 tables on close for faster startup

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	s := &Store{
		db:           db,
		logger:       logger,
		eventEmitter: emitter,
		maxBatchOps:  DefaultMaxBatchOps,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.Images = newCollection(s, KindImage, imagePrefix, func(i *domain.Image) string { return i.ID })
	s.Prompts = newCollection(s, KindPrompt, promptPrefix, func(p *domain.PromptBlock) string {
		return PromptKey(p.ImageID, p.ID)
	})
	s.Tags = newCollection(s, KindTag, tagPrefix, func(t *domain.Tag) string { return t.ID })
	s.Categories = newCollection(s, KindCategory, categoryPrefix, func(c *domain.Category) string { return c.ID })

	logger.Info("Badger database opened successfully",
		slog.String("path", path),
		slog.Int("max_batch_ops", s.maxBatchOps))

	return s, nil
}

// Close gracefully closes the database connection.
func (s *Store) Close() error {
	s.logger.Info("Closing database connection")
	return s.db.Close()
}

// MaxBatchOps returns the configured chunk size for batch writes.
func (s *Store) MaxBatchOps() int {
	return s.maxBatchOps
}

// PromptKey is the collection key of a prompt block under its image.
func PromptKey(imageID, promptID string) string {
	return imageID + ":" + promptID
}
