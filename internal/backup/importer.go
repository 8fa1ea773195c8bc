package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/promptshelf/promptshelf-server/internal/color"
	"github.com/promptshelf/promptshelf-server/internal/domain"
	domainerrors "github.com/promptshelf/promptshelf-server/internal/errors"
	"github.com/promptshelf/promptshelf-server/internal/id"
	"github.com/promptshelf/promptshelf-server/internal/media/images"
	"github.com/promptshelf/promptshelf-server/internal/normalize"
	"github.com/promptshelf/promptshelf-server/internal/snapshot"
	"github.com/promptshelf/promptshelf-server/internal/store"
	"github.com/promptshelf/promptshelf-server/internal/validation"
)

// ImportReport is the outcome of an import. Imported + Failed == Total.
type ImportReport struct {
	Imported int           `json:"imported"`
	Failed   int           `json:"failed"`
	Total    int           `json:"total"`
	Errors   []ImportError `json:"errors,omitempty"`
}

// JobItems reports imported against failed records.
func (r *ImportReport) JobItems() (ok, failed int) {
	return r.Imported, r.Failed
}

// ImportError describes one record that could not be imported.
type ImportError struct {
	Index int    `json:"index"`
	Title string `json:"title,omitempty"`
	Error string `json:"error"`
}

// Importer replays bundles into the store, one image at a time.
type Importer struct {
	store     *store.Store
	validator *validation.Validator
	logger    *slog.Logger
}

// NewImporter creates an Importer.
func NewImporter(s *store.Store, v *validation.Validator, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	if v == nil {
		v = validation.New()
	}
	return &Importer{store: s, validator: v, logger: logger}
}

// Import validates the bundle envelope in data and imports every image.
// An envelope without a version or with a non-list images field is rejected
// before anything is written.
func (i *Importer) Import(ctx context.Context, data []byte, at time.Time) (*ImportReport, error) {
	var env struct {
		Version *string         `json:"version"`
		Images  json.RawMessage `json:"images"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeValidation, "bundle is not a JSON object")
	}
	if err := checkVersion(env.Version); err != nil {
		return nil, err
	}

	raw := bytes.TrimSpace(env.Images)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, domainerrors.Validation("bundle images must be a list")
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeValidation, "bundle images must be a list")
	}

	return i.ImportRecords(ctx, func(yield func(json.RawMessage, error) bool) {
		for _, item := range items {
			if !yield(item, nil) {
				return
			}
		}
	}, at)
}

// ImportBundle imports an already decoded bundle.
func (i *Importer) ImportBundle(ctx context.Context, b *Bundle, at time.Time) (*ImportReport, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encode bundle: %w", err)
	}
	return i.Import(ctx, data, at)
}

// ImportRecords imports a stream of raw image records sequentially. A record
// that fails to decode, validate or commit is counted and the loop moves on.
func (i *Importer) ImportRecords(ctx context.Context, records iter.Seq2[json.RawMessage, error], at time.Time) (*ImportReport, error) {
	snap, err := snapshot.NewReader(i.store, i.logger).Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("import: %w", err)
	}
	res := &tagResolver{
		snap:    snap,
		created: make(map[string]*domain.Tag),
		pending: make(map[string]*domain.Tag),
	}

	report := &ImportReport{}
	for raw, readErr := range records {
		index := report.Total
		report.Total++

		title, err := "", readErr
		if err == nil {
			title, err = i.importOne(ctx, res, raw, at)
		}
		if err != nil {
			report.Failed++
			report.Errors = append(report.Errors, ImportError{Index: index, Title: title, Error: err.Error()})
			i.logger.Warn("image import failed",
				slog.Int("index", index),
				slog.String("error", err.Error()))
			continue
		}
		report.Imported++
	}

	i.logger.Info("import finished",
		slog.Int("imported", report.Imported),
		slog.Int("failed", report.Failed),
		slog.Int("total", report.Total))

	return report, nil
}

func (i *Importer) importOne(ctx context.Context, res *tagResolver, raw json.RawMessage, at time.Time) (string, error) {
	var item BundleImage
	if err := json.Unmarshal(raw, &item); err != nil {
		return "", domainerrors.Wrap(err, domainerrors.CodeValidation, "malformed image record")
	}
	if err := i.validator.Validate(item); err != nil {
		return item.Title, err
	}

	img := &domain.Image{
		Title:    item.Title,
		URL:      item.URL,
		Width:    item.Width,
		Height:   item.Height,
		Size:     item.Size,
		Codec:    item.Encoding,
		BlurHash: item.BlurHash,
		Tags:     []domain.TagRef{},
	}
	if img.IsInline() {
		codec, size, err := images.Inspect(img.URL)
		if err != nil {
			return item.Title, domainerrors.Wrap(err, domainerrors.CodeValidation, "invalid inline payload")
		}
		img.Codec, img.Size = codec, size
	}

	imageID, err := id.Image()
	if err != nil {
		return item.Title, err
	}
	img.ID = imageID
	img.Stamp(at)

	var ops []store.Mutation
	seen := make(map[string]bool)
	defer res.discard()
	for _, ref := range item.Tags {
		tag, created, err := res.resolve(ref, at)
		if err != nil {
			return item.Title, err
		}
		if tag == nil || seen[tag.ID] {
			continue
		}
		seen[tag.ID] = true
		if created {
			ops = append(ops, i.store.Tags.CreateOp(tag))
		}
		img.Tags = append(img.Tags, domain.RefByID(tag.ID))
		ops = append(ops, i.store.TagUsageDeltaOp(tag.ID, 1, at))
	}

	ops = append(ops, i.store.Images.CreateOp(img))
	for _, p := range item.Prompts {
		promptID, err := id.Prompt()
		if err != nil {
			return item.Title, err
		}
		block := &domain.PromptBlock{ImageID: img.ID, Title: p.Title, Text: p.Text, Order: p.Order}
		block.ID = promptID
		block.Stamp(at)
		ops = append(ops, i.store.Prompts.CreateOp(block))
	}

	result := i.store.Commit(ctx, ops)
	if !result.OK() {
		return item.Title, result.Err()
	}

	res.keep()
	return item.Title, nil
}

// tagResolver maps inlined tag references onto tags in the target store,
// creating new tags for names it has never seen. Tags created for the current
// record stay pending until keep; only committed tags are reused by later records.
type tagResolver struct {
	snap    *snapshot.Snapshot
	created map[string]*domain.Tag
	pending map[string]*domain.Tag
}

func (r *tagResolver) keep() {
	for key, t := range r.pending {
		r.created[key] = t
	}
	clear(r.pending)
}

func (r *tagResolver) discard() {
	clear(r.pending)
}

// resolve returns the tag for ref. created is true when the caller must insert it.
// A ref without a usable name resolves to nil.
func (r *tagResolver) resolve(ref domain.TagRef, at time.Time) (tag *domain.Tag, created bool, err error) {
	if tagID, ok := r.snap.Resolve(ref); ok {
		t, _ := r.snap.Tag(tagID)
		return t, false, nil
	}

	snap, embedded := ref.Snapshot()
	if !embedded {
		snap = domain.TagSnapshot{Name: ref.ID()}
	}
	name := normalize.Name(snap.Name)
	key := normalize.NameKey(name)
	if key == "" {
		return nil, false, nil
	}
	if t, ok := r.created[key]; ok {
		return t, false, nil
	}
	if t, ok := r.pending[key]; ok {
		return t, false, nil
	}

	tagID, err := id.Tag()
	if err != nil {
		return nil, false, err
	}
	t := &domain.Tag{Name: name, Color: snap.Color}
	t.ID = tagID
	t.Stamp(at)
	if t.Color == "" {
		t.Color = color.ForName(name)
	}
	if r.knownCategory(snap.CategoryID) {
		t.CategoryID = snap.CategoryID
	}
	r.pending[key] = t
	return t, true, nil
}

func (r *tagResolver) knownCategory(categoryID string) bool {
	if categoryID == "" {
		return false
	}
	for _, c := range r.snap.Categories {
		if c.ID == categoryID {
			return true
		}
	}
	return false
}

func checkVersion(v *string) error {
	if v == nil || *v == "" {
		return domainerrors.Validation("bundle version is required")
	}
	if !supportedVersion(*v) {
		return domainerrors.Wrapf(ErrVersionMismatch, domainerrors.CodeValidation,
			"bundle version %s is not supported (want %s)", *v, FormatVersion)
	}
	return nil
}
