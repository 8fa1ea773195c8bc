package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/promptshelf/promptshelf-server/internal/domain"
	"github.com/promptshelf/promptshelf-server/internal/store"
	"golang.org/x/sync/errgroup"
)

// promptWorkers bounds concurrent prompt scans.
const promptWorkers = 8

// Reader loads snapshots from the store. It never caches between calls.
type Reader struct {
	store  *store.Store
	logger *slog.Logger
}

// NewReader creates a Reader.
func NewReader(s *store.Store, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{store: s, logger: logger}
}

type readOptions struct {
	prompts bool
	images  []*domain.Image
}

// ReadOption tunes what Read loads.
type ReadOption func(*readOptions)

// WithPrompts resolves every image's prompt blocks.
func WithPrompts() ReadOption {
	return func(o *readOptions) { o.prompts = true }
}

// WithImages uses images the caller already holds instead of scanning the
// image collection. Tags, categories and prompts are still read from the store.
func WithImages(images []*domain.Image) ReadOption {
	return func(o *readOptions) { o.images = images }
}

// Read scans every collection and returns a fresh snapshot.
// Any scan failure fails the whole read; partial snapshots are never returned.
func (r *Reader) Read(ctx context.Context, opts ...ReadOption) (*Snapshot, error) {
	var o readOptions
	for _, opt := range opts {
		opt(&o)
	}
	start := time.Now()

	var (
		images     []*domain.Image
		tags       []*domain.Tag
		categories []*domain.Category
	)

	g, gctx := errgroup.WithContext(ctx)
	if o.images != nil {
		images = o.images
	} else {
		g.Go(func() (err error) {
			images, err = r.store.Images.All(gctx)
			return err
		})
	}
	g.Go(func() (err error) {
		tags, err = r.store.Tags.All(gctx)
		return err
	})
	g.Go(func() (err error) {
		categories, err = r.store.Categories.All(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var prompts map[string][]*domain.PromptBlock
	if o.prompts {
		var err error
		if prompts, err = r.loadPrompts(ctx, images); err != nil {
			return nil, fmt.Errorf("read snapshot: %w", err)
		}
	}

	snap := New(images, prompts, tags, categories)

	r.logger.Debug("snapshot loaded",
		slog.Int("images", len(images)),
		slog.Int("tags", len(tags)),
		slog.Int("categories", len(categories)),
		slog.Bool("prompts", o.prompts),
		slog.Duration("duration", time.Since(start)))

	return snap, nil
}

// loadPrompts resolves prompts per image concurrently; every resolution must
// finish before the snapshot is assembled.
func (r *Reader) loadPrompts(ctx context.Context, images []*domain.Image) (map[string][]*domain.PromptBlock, error) {
	var mu sync.Mutex
	out := make(map[string][]*domain.PromptBlock, len(images))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(promptWorkers)
	for _, img := range images {
		g.Go(func() error {
			prompts, err := r.store.PromptsFor(gctx, img.ID)
			if err != nil {
				return fmt.Errorf("prompts for %s: %w", img.ID, err)
			}
			mu.Lock()
			out[img.ID] = prompts
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
