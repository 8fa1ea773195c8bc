package snapshot

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/promptshelf/promptshelf-server/internal/domain"
	"github.com/promptshelf/promptshelf-server/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func tag(id, name string) *domain.Tag {
	t := &domain.Tag{Name: name}
	t.ID = id
	return t
}

func image(id string, created time.Time, refs ...domain.TagRef) *domain.Image {
	img := &domain.Image{Title: id, Tags: refs}
	img.ID = id
	img.Stamp(created)
	return img
}

func TestNew_NormalizesMixedTagRefs(t *testing.T) {
	tags := []*domain.Tag{tag("tag-1", "Cat"), tag("tag-2", "Sunset")}
	img := image("img-1", base,
		domain.RefByID("tag-1"),
		domain.RefEmbedded(domain.TagSnapshot{ID: "tag-2", Name: "Sunset"}),
		domain.RefEmbedded(domain.TagSnapshot{Name: "cat"}), // same tag by name
		domain.RefByID("SUNSET"),                             // raw name stored as a bare string
		domain.RefByID("tag-404"),
		domain.RefEmbedded(domain.TagSnapshot{ID: "tag-9", Name: "Deleted", Color: "red"}),
	)

	snap := New([]*domain.Image{img}, nil, tags, nil)
	require.Len(t, snap.Images, 1)

	e := snap.Images[0]
	assert.Equal(t, []string{"tag-1", "tag-2"}, e.TagIDs)
	assert.Equal(t, 2, e.Dangling)
	require.Len(t, e.Unresolved, 1)
	assert.Equal(t, "Deleted", e.Unresolved[0].Name)
	assert.True(t, e.HasTag("tag-2"))
	assert.False(t, e.HasTag("tag-404"))
}

func TestNew_OrdersImagesNewestFirst(t *testing.T) {
	snap := New([]*domain.Image{
		image("img-a", base),
		image("img-b", base.Add(time.Hour)),
		image("img-c", base),
	}, nil, nil, nil)

	var ids []string
	for _, e := range snap.Images {
		ids = append(ids, e.Image.ID)
	}
	assert.Equal(t, []string{"img-b", "img-a", "img-c"}, ids)
	assert.Len(t, snap.Select([]string{"img-c", "nope"}), 1)
	assert.Len(t, snap.Select(nil), 3)
}

func TestCatalog_MergesByNameAndCountsImages(t *testing.T) {
	tags := []*domain.Tag{tag("tag-1", "Cat"), tag("tag-2", "cat"), tag("tag-3", "Art")}
	snap := New([]*domain.Image{
		image("img-1", base, domain.RefByID("tag-1"), domain.RefByID("tag-2")),
		image("img-2", base, domain.RefByID("tag-2"), domain.RefByID("tag-3")),
		image("img-3", base, domain.RefEmbedded(domain.TagSnapshot{ID: "gone", Name: "Zebra"})),
	}, nil, tags, nil)

	catalog := snap.Catalog(snap.Images)
	require.Len(t, catalog, 3)
	assert.Equal(t, "Art", catalog[0].Name)
	assert.Equal(t, 1, catalog[0].Count)
	assert.Equal(t, 2, catalog[1].Count, "two tags named cat merge and count images once")
	assert.Equal(t, "Zebra", catalog[2].Name)
}

func TestReader_ReadLoadsPromptsInOrder(t *testing.T) {
	s, err := store.New(t.TempDir(), slog.New(slog.DiscardHandler), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	require.NoError(t, s.Tags.Create(ctx, tag("tag-1", "Cat")))
	for i := range 5 {
		img := image("img-"+string(rune('a'+i)), base.Add(time.Duration(i)*time.Minute), domain.RefByID("tag-1"))
		require.NoError(t, s.Images.Create(ctx, img))
		for _, order := range []int{3, 1, 2} {
			p := &domain.PromptBlock{ImageID: img.ID, Order: order, Title: "p"}
			p.ID = "prm-" + string(rune('0'+order))
			require.NoError(t, s.Prompts.Create(ctx, p))
		}
	}

	snap, err := NewReader(s, nil).Read(ctx, WithPrompts())
	require.NoError(t, err)
	require.Len(t, snap.Images, 5)
	assert.Equal(t, "img-e", snap.Images[0].Image.ID)

	for _, e := range snap.Images {
		require.Len(t, e.Prompts, 3)
		assert.Equal(t, []int{1, 2, 3}, []int{e.Prompts[0].Order, e.Prompts[1].Order, e.Prompts[2].Order})
		assert.Equal(t, []string{"tag-1"}, e.TagIDs)
	}

	without, err := NewReader(s, nil).Read(ctx)
	require.NoError(t, err)
	assert.Empty(t, without.Images[0].Prompts)
}

func TestReader_CanceledContextFails(t *testing.T) {
	s, err := store.New(t.TempDir(), slog.New(slog.DiscardHandler), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = NewReader(s, nil).Read(ctx)
	assert.Error(t, err)
}

func TestReader_WithImagesSkipsImageScan(t *testing.T) {
	s, err := store.New(t.TempDir(), slog.New(slog.DiscardHandler), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	require.NoError(t, s.Tags.Create(ctx, tag("tag-1", "Cat")))
	require.NoError(t, s.Images.Create(ctx, image("img-stored", base)))

	cached := image("img-cached", base, domain.RefEmbedded(domain.TagSnapshot{Name: "cat"}))
	snap, err := NewReader(s, nil).Read(ctx, WithImages([]*domain.Image{cached}))
	require.NoError(t, err)

	require.Len(t, snap.Images, 1)
	assert.Equal(t, "img-cached", snap.Images[0].Image.ID)
	assert.Equal(t, []string{"tag-1"}, snap.Images[0].TagIDs)
}
