package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/promptshelf/promptshelf-server/internal/media/objects"
	"github.com/promptshelf/promptshelf-server/internal/query"
	"github.com/promptshelf/promptshelf-server/internal/snapshot"
	"github.com/promptshelf/promptshelf-server/internal/store"
)

// DeleteReport is the outcome of a bulk image delete.
type DeleteReport struct {
	Requested     int               `json:"requested"`
	Deleted       int               `json:"deleted"`
	NotFound      []string          `json:"notFound"`
	Failed        []string          `json:"failed"`
	PayloadErrors []string          `json:"payloadErrors"`
	Batch         store.BatchResult `json:"batch"`
}

// GalleryService searches and bulk-deletes images.
type GalleryService struct {
	store   *store.Store
	reader  *snapshot.Reader
	objects objects.Store
	logger  *slog.Logger
}

// NewGalleryService creates a GalleryService. objects may be nil, in which
// case external payloads are left in place on delete.
func NewGalleryService(s *store.Store, reader *snapshot.Reader, obj objects.Store, logger *slog.Logger) *GalleryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &GalleryService{store: s, reader: reader, objects: obj, logger: logger}
}

// Search runs f over a fresh snapshot including prompts.
func (g *GalleryService) Search(ctx context.Context, f query.Filter) (query.Result, error) {
	if err := f.Validate(); err != nil {
		return query.Result{}, err
	}
	snap, err := g.reader.Read(ctx, snapshot.WithPrompts())
	if err != nil {
		return query.Result{}, fmt.Errorf("search: %w", err)
	}
	return query.Run(snap, f)
}

// DeleteImages removes images with their prompts and decrements the usage of
// every tag they reference, keeping each image's writes in one atomic chunk.
// Payloads of committed deletes are then removed from object storage.
func (g *GalleryService) DeleteImages(ctx context.Context, ids []string, at time.Time) (*DeleteReport, error) {
	snap, err := g.reader.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("delete images: %w", err)
	}

	byID := make(map[string]*snapshot.Entry, len(snap.Images))
	for _, e := range snap.Images {
		byID[e.Image.ID] = e
	}

	report := &DeleteReport{Requested: len(ids), NotFound: []string{}, Failed: []string{}, PayloadErrors: []string{}}
	var groups [][]store.Mutation
	var targets []*snapshot.Entry
	seen := make(map[string]bool, len(ids))
	for _, imageID := range ids {
		if seen[imageID] {
			continue
		}
		seen[imageID] = true

		e, ok := byID[imageID]
		if !ok {
			report.NotFound = append(report.NotFound, imageID)
			continue
		}

		group, err := g.store.PromptDeleteOps(ctx, imageID)
		if err != nil {
			return nil, fmt.Errorf("delete images: %w", err)
		}
		group = append(group, g.store.Images.DeleteOp(imageID))
		for _, tagID := range e.TagIDs {
			group = append(group, g.store.TagUsageDeltaOp(tagID, -1, at).IgnoreMissing())
		}
		groups = append(groups, group)
		targets = append(targets, e)
	}

	report.Batch = g.store.CommitGroups(ctx, groups)
	failed := report.Batch.FailedIDs()

	for _, e := range targets {
		img := e.Image
		if failed[img.ID] {
			report.Failed = append(report.Failed, img.ID)
			continue
		}
		report.Deleted++
		if err := g.deletePayload(ctx, img.URL, img.IsInline()); err != nil {
			report.PayloadErrors = append(report.PayloadErrors, fmt.Sprintf("%s: %v", img.ID, err))
			g.logger.Warn("payload delete failed",
				slog.String("image_id", img.ID),
				slog.String("error", err.Error()))
		}
	}

	g.logger.Info("images deleted",
		slog.Int("requested", report.Requested),
		slog.Int("deleted", report.Deleted),
		slog.Int("not_found", len(report.NotFound)),
		slog.Int("failed", report.Batch.Failed))

	return report, nil
}

// JobItems reports deleted images against unknown or failed ones.
func (r *DeleteReport) JobItems() (ok, failed int) {
	return r.Deleted, len(r.NotFound) + len(r.Failed)
}

func (g *GalleryService) deletePayload(ctx context.Context, url string, inline bool) error {
	if g.objects == nil || inline || url == "" {
		return nil
	}
	err := g.objects.Delete(ctx, url)
	if errors.Is(err, objects.ErrForeignURL) {
		return nil
	}
	return err
}
