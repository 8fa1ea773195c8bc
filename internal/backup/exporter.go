package backup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/promptshelf/promptshelf-server/internal/domain"
	"github.com/promptshelf/promptshelf-server/internal/snapshot"
)

// ExportOptions narrows an export.
type ExportOptions struct {
	// ImageIDs limits the export to these images. Nil exports everything.
	ImageIDs []string
	// Images are records the caller already holds; when set they replace the
	// image collection scan. Prompts and tags are still resolved from the store.
	Images []*domain.Image
}

// Exporter builds bundles from fresh snapshots.
type Exporter struct {
	reader *snapshot.Reader
	logger *slog.Logger
}

// NewExporter creates an Exporter.
func NewExporter(reader *snapshot.Reader, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{reader: reader, logger: logger}
}

// Export reads a snapshot and builds a bundle stamped with at. It never writes.
func (e *Exporter) Export(ctx context.Context, opts ExportOptions, at time.Time) (*Bundle, error) {
	readOpts := []snapshot.ReadOption{snapshot.WithPrompts()}
	if opts.Images != nil {
		readOpts = append(readOpts, snapshot.WithImages(opts.Images))
	}

	snap, err := e.reader.Read(ctx, readOpts...)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}

	b := Build(snap, snap.Select(opts.ImageIDs), at)

	e.logger.Info("export built",
		slog.Int("images", b.Metadata.TotalImages),
		slog.Int("prompts", b.Metadata.TotalPrompts),
		slog.Int("tags", b.Metadata.TotalTags))

	return b, nil
}

// Build assembles a bundle from snapshot entries, keeping their order.
func Build(snap *snapshot.Snapshot, entries []*snapshot.Entry, at time.Time) *Bundle {
	b := &Bundle{
		Version:    FormatVersion,
		ExportedAt: at,
		Images:     make([]BundleImage, 0, len(entries)),
	}

	for _, e := range entries {
		img := e.Image
		out := BundleImage{
			ID:        img.ID,
			Title:     img.Title,
			URL:       img.URL,
			Width:     img.Width,
			Height:    img.Height,
			Size:      img.Size,
			Encoding:  img.Codec,
			BlurHash:  img.BlurHash,
			CreatedAt: img.CreatedAt,
			UpdatedAt: img.UpdatedAt,
			Prompts:   make([]BundlePrompt, 0, len(e.Prompts)),
			Tags:      make([]domain.TagRef, 0, len(e.TagIDs)+len(e.Unresolved)),
		}
		for _, p := range e.Prompts {
			out.Prompts = append(out.Prompts, BundlePrompt{Title: p.Title, Text: p.Text, Order: p.Order})
		}
		for _, id := range e.TagIDs {
			t, _ := snap.Tag(id)
			out.Tags = append(out.Tags, domain.RefEmbedded(domain.TagSnapshot{
				ID:         t.ID,
				Name:       t.Name,
				Color:      t.Color,
				CategoryID: t.CategoryID,
			}))
		}
		for _, s := range e.Unresolved {
			out.Tags = append(out.Tags, domain.RefEmbedded(s))
		}

		b.Images = append(b.Images, out)
		b.Metadata.TotalPrompts += len(e.Prompts)
	}

	b.Metadata.TotalImages = len(b.Images)
	b.Metadata.Tags = snap.Catalog(entries)
	b.Metadata.TotalTags = len(b.Metadata.Tags)
	return b
}
