package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/promptshelf/promptshelf-server/internal/domain"
	domainerrors "github.com/promptshelf/promptshelf-server/internal/errors"
	"github.com/promptshelf/promptshelf-server/internal/snapshot"
	"github.com/promptshelf/promptshelf-server/internal/store"
)

// CategoryRef identifies a category in reports.
type CategoryRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// BackfillReport is the outcome of a category backfill.
type BackfillReport struct {
	Migrated        int               `json:"migrated"`
	DefaultCategory CategoryRef       `json:"defaultCategory"`
	Batch           store.BatchResult `json:"batch"`
}

// CategoryBackfiller assigns orphaned tags to the default category.
type CategoryBackfiller struct {
	store  *store.Store
	reader *snapshot.Reader
	logger *slog.Logger
}

// NewCategoryBackfiller creates a CategoryBackfiller.
func NewCategoryBackfiller(s *store.Store, reader *snapshot.Reader, logger *slog.Logger) *CategoryBackfiller {
	if logger == nil {
		logger = slog.Default()
	}
	return &CategoryBackfiller{store: s, reader: reader, logger: logger}
}

// DefaultCategory enforces that exactly one category is flagged default.
func DefaultCategory(snap *snapshot.Snapshot) (*domain.Category, error) {
	defaults := snap.DefaultCategories()
	switch len(defaults) {
	case 1:
		return defaults[0], nil
	case 0:
		return nil, domainerrors.Configuration("no default category is configured")
	default:
		return nil, domainerrors.Configurationf("%d categories are flagged as default, expected exactly one", len(defaults))
	}
}

// Backfill moves every tag without a category reference into the default
// category in one batch. Running it again finds nothing to do.
func (b *CategoryBackfiller) Backfill(ctx context.Context, at time.Time) (*BackfillReport, error) {
	snap, err := b.reader.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("category backfill: %w", err)
	}
	return b.backfill(ctx, snap, at)
}

// backfill writes against the store, so tags that gained a category after
// snap was read are left alone and not counted.
func (b *CategoryBackfiller) backfill(ctx context.Context, snap *snapshot.Snapshot, at time.Time) (*BackfillReport, error) {
	def, err := DefaultCategory(snap)
	if err != nil {
		return nil, err
	}
	report := &BackfillReport{DefaultCategory: CategoryRef{ID: def.ID, Name: def.Name}}

	var ops []store.Mutation
	reassigned := make(map[string]bool)
	for _, t := range snap.Tags {
		if !t.IsOrphan() {
			continue
		}
		ops = append(ops, b.store.Tags.ModifyOp(t.ID, func(stored *domain.Tag) error {
			if stored.IsOrphan() {
				stored.CategoryID = def.ID
				stored.Touch(at)
				reassigned[t.ID] = true
			}
			return nil
		}).IgnoreMissing())
	}
	if len(ops) == 0 {
		b.logger.Info("category backfill found no orphan tags", slog.String("default_category", def.ID))
		return report, nil
	}

	report.Batch = b.store.Commit(ctx, ops)
	failed := report.Batch.FailedIDs()
	for id := range reassigned {
		if !failed[id] {
			report.Migrated++
		}
	}

	if report.Migrated > 0 {
		countRes := b.store.Commit(ctx, []store.Mutation{
			b.store.Categories.ModifyOp(def.ID, func(c *domain.Category) error {
				c.TagCount += report.Migrated
				c.Touch(at)
				return nil
			}),
		})
		if err := countRes.Err(); err != nil {
			b.logger.Warn("default category tag count not updated",
				slog.String("default_category", def.ID),
				slog.String("error", err.Error()))
		}
	}

	b.logger.Info("category backfill finished",
		slog.Int("migrated", report.Migrated),
		slog.String("default_category", def.ID),
		slog.Int("chunks", report.Batch.Chunks))

	if !report.Batch.OK() {
		return report, domainerrors.PartialFailure("some tags could not be assigned", report)
	}
	return report, nil
}

// JobItems reports assigned tags against failed batch operations.
func (r *BackfillReport) JobItems() (ok, failed int) {
	if r == nil {
		return 0, 0
	}
	return r.Migrated, r.Batch.Failed
}
