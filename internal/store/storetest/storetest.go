// Package storetest provides Badger-backed stores and gallery fixtures for tests.
package storetest

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/promptshelf/promptshelf-server/internal/domain"
	"github.com/promptshelf/promptshelf-server/internal/media/images"
	"github.com/promptshelf/promptshelf-server/internal/sse"
	"github.com/promptshelf/promptshelf-server/internal/store"
)

// Base is the reference time used by fixtures.
var Base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// Emitter records every event it receives.
type Emitter struct {
	mu     sync.Mutex
	events []sse.Event
}

// Emit implements store.EventEmitter.
func (e *Emitter) Emit(event any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if evt, ok := event.(sse.Event); ok {
		e.events = append(e.events, evt)
	}
}

// Count returns how many events of type t were emitted.
func (e *Emitter) Count(t sse.EventType) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, evt := range e.events {
		if evt.Type == t {
			n++
		}
	}
	return n
}

// New opens a store in a temp directory, closed on cleanup.
func New(t *testing.T, opts ...store.Option) (*store.Store, *Emitter) {
	t.Helper()
	emitter := &Emitter{}
	s, err := store.New(t.TempDir(), slog.New(slog.DiscardHandler), emitter, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, emitter
}

// PNG encodes a solid w×h PNG.
func PNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: uint8(x * 7), G: uint8(y * 5), B: 180, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// PNGDataURI returns a PNG payload wrapped in a data URI.
func PNGDataURI(t *testing.T, w, h int) string {
	t.Helper()
	return images.EncodeDataURI("image/png", PNG(t, w, h))
}

// Tag builds a tag.
func Tag(id, name, categoryID string, usage int) *domain.Tag {
	t := &domain.Tag{Name: name, CategoryID: categoryID, UsageCount: usage, Color: "#336699"}
	t.ID = id
	t.Stamp(Base)
	return t
}

// Category builds a category.
func Category(id, name string, order int, isDefault bool) *domain.Category {
	c := &domain.Category{Name: name, Color: "#112233", Order: order, IsDefault: isDefault}
	c.ID = id
	c.Stamp(Base)
	return c
}

// Image builds an external-URL image.
func Image(id, title string, created time.Time, refs ...domain.TagRef) *domain.Image {
	img := &domain.Image{Title: title, URL: "https://cdn.example.com/" + id + ".jpg", Codec: domain.CodecJPEG, Tags: refs}
	if img.Tags == nil {
		img.Tags = []domain.TagRef{}
	}
	img.ID = id
	img.Stamp(created)
	return img
}

// Prompt builds a prompt block.
func Prompt(imageID, id, title, text string, order int) *domain.PromptBlock {
	p := &domain.PromptBlock{ImageID: imageID, Title: title, Text: text, Order: order}
	p.ID = id
	p.Stamp(Base)
	return p
}

// Put writes records directly, failing the test on error.
func Put(t *testing.T, s *store.Store, records ...any) {
	t.Helper()
	ctx := context.Background()
	for _, r := range records {
		var err error
		switch v := r.(type) {
		case *domain.Image:
			err = s.Images.Create(ctx, v)
		case *domain.PromptBlock:
			err = s.Prompts.Create(ctx, v)
		case *domain.Tag:
			err = s.Tags.Create(ctx, v)
		case *domain.Category:
			err = s.Categories.Create(ctx, v)
		default:
			t.Fatalf("storetest: unsupported record %T", r)
		}
		require.NoError(t, err)
	}
}

// Gallery seeds a small dataset with drift:
//
//	cat-default  "General" (default)     cat-2 "Nature"
//	tag-1 "Sunset" in cat-2, stored usage 5 (actual 1)
//	tag-2 "cat" orphan, stored usage 0 (actual 2)
//	tag-3 "unused" orphan, stored usage 3 (actual 0)
//	img-a "cat sunset"  refs tag-1 and an embedded "CAT"; two prompts
//	img-b "dog noon"    refs tag-2; one prompt
//	img-c "inline png"  PNG data URI, a dangling ref
func Gallery(t *testing.T, s *store.Store) {
	t.Helper()
	Put(t, s,
		Category("cat-default", "General", 1, true),
		Category("cat-2", "Nature", 2, false),
		Tag("tag-1", "Sunset", "cat-2", 5),
		Tag("tag-2", "cat", "", 0),
		Tag("tag-3", "unused", "", 3),
		Image("img-a", "cat sunset", Base.Add(2*time.Hour),
			domain.RefByID("tag-1"), domain.RefEmbedded(domain.TagSnapshot{Name: "CAT", Color: "#ff0000"})),
		Image("img-b", "dog noon", Base.Add(time.Hour), domain.RefByID("tag-2")),
		Prompt("img-a", "prm-2", "second", "golden hour over the bay", 2),
		Prompt("img-a", "prm-1", "first", "a cat watching the sunset", 1),
		Prompt("img-b", "prm-3", "only", "a dog at noon", 1),
	)

	inline := Image("img-c", "inline png", Base, domain.RefByID("tag-gone"))
	inline.URL = PNGDataURI(t, 16, 12)
	inline.Codec = domain.CodecPNG
	inline.Width, inline.Height = 16, 12
	_, size, err := images.Inspect(inline.URL)
	require.NoError(t, err)
	inline.Size = size
	Put(t, s, inline)
}
