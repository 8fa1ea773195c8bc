package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	domainerrors "github.com/promptshelf/promptshelf-server/internal/errors"
	"github.com/promptshelf/promptshelf-server/internal/snapshot"
	"github.com/promptshelf/promptshelf-server/internal/store"
)

// UsageCorrection records one tag whose stored usage count drifted.
type UsageCorrection struct {
	TagID    string `json:"tagId"`
	OldCount int    `json:"oldCount"`
	NewCount int    `json:"newCount"`
}

// ReconcileReport is the outcome of a usage reconciliation.
type ReconcileReport struct {
	Checked     int               `json:"checked"`
	Corrections []UsageCorrection `json:"corrections"`
	Batch       store.BatchResult `json:"batch"`
}

// UsageReconciler recomputes tag usage counts from the image collection.
type UsageReconciler struct {
	store  *store.Store
	reader *snapshot.Reader
	logger *slog.Logger
}

// NewUsageReconciler creates a UsageReconciler.
func NewUsageReconciler(s *store.Store, reader *snapshot.Reader, logger *slog.Logger) *UsageReconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UsageReconciler{store: s, reader: reader, logger: logger}
}

// Reconcile counts, per tag, the images referencing it and corrects every
// stored count that differs. Corrections are applied as signed deltas so
// increments made by concurrent edits are preserved. References to unknown
// tags are not counted.
func (r *UsageReconciler) Reconcile(ctx context.Context, at time.Time) (*ReconcileReport, error) {
	snap, err := r.reader.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("usage reconciliation: %w", err)
	}

	corrections := ComputeUsage(snap)
	ops := make([]store.Mutation, 0, len(corrections))
	for _, c := range corrections {
		ops = append(ops, r.store.TagUsageDeltaOp(c.TagID, c.NewCount-c.OldCount, at).IgnoreMissing())
	}

	report := &ReconcileReport{Checked: len(snap.Tags), Corrections: corrections}
	if len(ops) > 0 {
		report.Batch = r.store.Commit(ctx, ops)
	}

	r.logger.Info("usage reconciled",
		slog.Int("checked", report.Checked),
		slog.Int("corrections", len(corrections)),
		slog.Int("failed", report.Batch.Failed))

	if !report.Batch.OK() {
		return report, domainerrors.PartialFailure("some usage corrections failed", report)
	}
	return report, nil
}

// JobItems reports applied against failed corrections.
func (r *ReconcileReport) JobItems() (ok, failed int) {
	return max(len(r.Corrections)-r.Batch.Failed, 0), r.Batch.Failed
}

// ComputeUsage returns the corrections needed for snap, ordered by tag ID.
// Consistent tags are omitted.
func ComputeUsage(snap *snapshot.Snapshot) []UsageCorrection {
	counts := make(map[string]int, len(snap.Tags))
	for _, t := range snap.Tags {
		counts[t.ID] = 0
	}
	for _, e := range snap.Images {
		for _, id := range e.TagIDs {
			if _, known := counts[id]; known {
				counts[id]++
			}
		}
	}

	corrections := []UsageCorrection{}
	for _, t := range snap.Tags {
		if actual := counts[t.ID]; actual != t.UsageCount {
			corrections = append(corrections, UsageCorrection{TagID: t.ID, OldCount: t.UsageCount, NewCount: actual})
		}
	}
	return corrections
}
