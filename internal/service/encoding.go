package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/promptshelf/promptshelf-server/internal/domain"
	domainerrors "github.com/promptshelf/promptshelf-server/internal/errors"
	"github.com/promptshelf/promptshelf-server/internal/media/images"
	"github.com/promptshelf/promptshelf-server/internal/snapshot"
	"github.com/promptshelf/promptshelf-server/internal/store"
)

// DryRunRatio is the fixed size ratio a dry run assumes for a non-canonical payload.
const DryRunRatio = 0.7

// InvalidBucket is the status bucket for images without an inline payload.
const InvalidBucket = "invalid"

// MigrationReport summarizes an encoding migration run.
type MigrationReport struct {
	DryRun           bool     `json:"dryRun"`
	Total            int      `json:"total"`
	Skipped          int      `json:"skipped"`
	NeedsMigration   int      `json:"needsMigration"`
	Migrated         int      `json:"migrated"`
	Failed           int      `json:"failed"`
	SizeBefore       int64    `json:"sizeBefore"`
	SizeAfter        int64    `json:"sizeAfter"`
	CompressionRatio float64  `json:"compressionRatio"`
	SizeSaved        int64    `json:"sizeSaved"`
	Errors           []string `json:"errors"`
}

// EncodingStatus counts images per detected payload codec.
type EncodingStatus struct {
	Total          int            `json:"total"`
	NeedsMigration int            `json:"needsMigration"`
	Codecs         map[string]int `json:"codecs"`
	TotalSize      int64          `json:"totalSize"`
}

// EncodingMigrator rewrites inline image payloads to the canonical codec.
type EncodingMigrator struct {
	store      *store.Store
	reader     *snapshot.Reader
	transcoder *images.Transcoder
	logger     *slog.Logger
}

// NewEncodingMigrator creates an EncodingMigrator.
func NewEncodingMigrator(s *store.Store, reader *snapshot.Reader, transcoder *images.Transcoder, logger *slog.Logger) *EncodingMigrator {
	if logger == nil {
		logger = slog.Default()
	}
	if transcoder == nil {
		transcoder = images.NewTranscoder(images.DefaultQuality)
	}
	return &EncodingMigrator{store: s, reader: reader, transcoder: transcoder, logger: logger}
}

// Migrate walks every image sequentially. A dry run estimates the migrated
// size and writes nothing; a live run transcodes and persists each payload.
// Per-image failures are folded into the report and never stop the run.
func (m *EncodingMigrator) Migrate(ctx context.Context, dryRun bool, at time.Time) (*MigrationReport, error) {
	snap, err := m.reader.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("encoding migration: %w", err)
	}

	report := &MigrationReport{DryRun: dryRun, Total: len(snap.Images), Errors: []string{}}

	for _, e := range snap.Images {
		img := e.Image
		if !img.IsInline() {
			report.Skipped++
			continue
		}

		codec, size, err := images.Inspect(img.URL)
		if err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", img.ID, err))
			continue
		}
		report.SizeBefore += size

		if codec == domain.CanonicalCodec {
			report.SizeAfter += size
			continue
		}
		report.NeedsMigration++

		if dryRun {
			report.SizeAfter += int64(math.Round(DryRunRatio * float64(size)))
			continue
		}

		newSize, err := m.migrateOne(ctx, img, at)
		if err != nil {
			report.Failed++
			report.SizeAfter += size
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", img.ID, err))
			m.logger.Warn("image migration failed",
				slog.String("image_id", img.ID),
				slog.String("codec", string(codec)),
				slog.String("error", err.Error()))
			continue
		}
		report.Migrated++
		report.SizeAfter += newSize
	}

	report.SizeSaved = report.SizeBefore - report.SizeAfter
	if report.SizeBefore > 0 {
		report.CompressionRatio = float64(report.SizeSaved) / float64(report.SizeBefore)
	}

	m.logger.Info("encoding migration finished",
		slog.Bool("dry_run", dryRun),
		slog.Int("total", report.Total),
		slog.Int("needs_migration", report.NeedsMigration),
		slog.Int("migrated", report.Migrated),
		slog.Int("failed", report.Failed),
		slog.Int64("size_saved", report.SizeSaved))

	return report, nil
}

// JobItems reports migrated against failed payloads.
func (r *MigrationReport) JobItems() (ok, failed int) {
	return r.Migrated, r.Failed
}

// errPayloadChanged aborts a write when the payload changed after the snapshot was read.
var errPayloadChanged = errors.New("payload changed during migration")

func (m *EncodingMigrator) migrateOne(ctx context.Context, img *domain.Image, at time.Time) (int64, error) {
	out, err := m.transcoder.Transcode(img.URL)
	if err != nil {
		return 0, err
	}

	original := img.URL
	res := m.store.Commit(ctx, []store.Mutation{
		m.store.Images.ModifyOp(img.ID, func(stored *domain.Image) error {
			if stored.URL != original {
				return errPayloadChanged
			}
			stored.URL = out.DataURI
			stored.Codec = out.Codec
			stored.Size = out.Size
			stored.Width = out.Width
			stored.Height = out.Height
			stored.BlurHash = out.BlurHash
			stored.Touch(at)
			return nil
		}),
	})
	if err := res.Err(); err != nil {
		return 0, err
	}
	return out.Size, nil
}

// Status classifies every image by detected codec without writing anything.
// Images without an inline payload, or with one that cannot be parsed, land in InvalidBucket.
func (m *EncodingMigrator) Status(ctx context.Context) (*EncodingStatus, error) {
	snap, err := m.reader.Read(ctx)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "encoding status")
	}

	status := &EncodingStatus{Total: len(snap.Images), Codecs: make(map[string]int)}
	for _, e := range snap.Images {
		codec, size, err := images.Inspect(e.Image.URL)
		if err != nil {
			status.Codecs[InvalidBucket]++
			continue
		}
		status.Codecs[string(codec)]++
		status.TotalSize += size
		if codec != domain.CanonicalCodec {
			status.NeedsMigration++
		}
	}
	return status, nil
}
