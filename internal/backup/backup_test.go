package backup_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptshelf/promptshelf-server/internal/backup"
	"github.com/promptshelf/promptshelf-server/internal/domain"
	domainerrors "github.com/promptshelf/promptshelf-server/internal/errors"
	"github.com/promptshelf/promptshelf-server/internal/snapshot"
	"github.com/promptshelf/promptshelf-server/internal/store"
	"github.com/promptshelf/promptshelf-server/internal/store/storetest"
)

var exportTime = time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)

func quiet() *slog.Logger { return slog.New(slog.DiscardHandler) }

func exportAll(t *testing.T, s *store.Store, opts backup.ExportOptions) *backup.Bundle {
	t.Helper()
	b, err := backup.NewExporter(snapshot.NewReader(s, quiet()), quiet()).Export(context.Background(), opts, exportTime)
	require.NoError(t, err)
	return b
}

func TestExport_BundleShape(t *testing.T) {
	s, _ := storetest.New(t)
	storetest.Gallery(t, s)

	b := exportAll(t, s, backup.ExportOptions{})

	assert.Equal(t, "2.0", b.Version)
	assert.Equal(t, exportTime, b.ExportedAt)
	require.Len(t, b.Images, 3)
	assert.Equal(t, []string{"img-a", "img-b", "img-c"},
		[]string{b.Images[0].ID, b.Images[1].ID, b.Images[2].ID}, "newest first")

	a := b.Images[0]
	require.Len(t, a.Prompts, 2)
	assert.Equal(t, "first", a.Prompts[0].Title)
	assert.Equal(t, "second", a.Prompts[1].Title)
	require.Len(t, a.Tags, 2)
	for _, ref := range a.Tags {
		assert.True(t, ref.IsEmbedded(), "tags are inlined")
	}
	snap, _ := a.Tags[1].Snapshot()
	assert.Equal(t, "tag-2", snap.ID, "embedded CAT resolves to tag cat")

	assert.Empty(t, b.Images[2].Tags, "dangling id refs are dropped")

	assert.Equal(t, 3, b.Metadata.TotalImages)
	assert.Equal(t, 3, b.Metadata.TotalPrompts)
	assert.Equal(t, []snapshot.CatalogEntry{
		{Name: "cat", Color: "#336699", Count: 2},
		{Name: "Sunset", Color: "#336699", Count: 1},
	}, b.Metadata.Tags, "catalogue ignores stored usage counts and sorts by name")
	assert.Equal(t, 2, b.Metadata.TotalTags)
}

func TestExport_AllowList(t *testing.T) {
	s, _ := storetest.New(t)
	storetest.Gallery(t, s)

	b := exportAll(t, s, backup.ExportOptions{ImageIDs: []string{"img-b", "img-missing"}})

	require.Len(t, b.Images, 1)
	assert.Equal(t, "img-b", b.Images[0].ID)
	assert.Equal(t, []snapshot.CatalogEntry{{Name: "cat", Color: "#336699", Count: 1}}, b.Metadata.Tags)
}

func TestExport_CallerHeldImages(t *testing.T) {
	s, _ := storetest.New(t)
	storetest.Gallery(t, s)

	held := storetest.Image("img-held", "held", storetest.Base, domain.RefByID("tag-1"))
	b := exportAll(t, s, backup.ExportOptions{Images: []*domain.Image{held}})

	require.Len(t, b.Images, 1)
	assert.Equal(t, "img-held", b.Images[0].ID)
	assert.Equal(t, "Sunset", b.Metadata.Tags[0].Name)
}

func TestExportImport_RoundTrip(t *testing.T) {
	src, _ := storetest.New(t)
	storetest.Gallery(t, src)
	data, err := json.Marshal(exportAll(t, src, backup.ExportOptions{}))
	require.NoError(t, err)

	dst, _ := storetest.New(t)
	ctx := context.Background()
	report, err := backup.NewImporter(dst, nil, quiet()).Import(ctx, data, exportTime)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Imported)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 3, report.Total)

	imgs, err := dst.Images.All(ctx)
	require.NoError(t, err)
	require.Len(t, imgs, 3)
	for _, img := range imgs {
		assert.NotContains(t, []string{"img-a", "img-b", "img-c"}, img.ID, "imports create new records")
		assert.Equal(t, exportTime, img.CreatedAt)
		for _, ref := range img.Tags {
			assert.False(t, ref.IsEmbedded(), "imported images reference tags by id")
		}
	}

	tags, err := dst.Tags.All(ctx)
	require.NoError(t, err)
	usage := map[string]int{}
	for _, tag := range tags {
		usage[tag.Name] = tag.UsageCount
	}
	assert.Equal(t, map[string]int{"Sunset": 1, "cat": 2}, usage)

	prompts, err := dst.Prompts.All(ctx)
	require.NoError(t, err)
	assert.Len(t, prompts, 3)

	again := exportAll(t, dst, backup.ExportOptions{})
	assert.Equal(t, 3, again.Metadata.TotalImages)
	assert.Equal(t, 3, again.Metadata.TotalPrompts)
}

func TestExportImport_KeepsWhatExportEmits(t *testing.T) {
	src, _ := storetest.New(t)
	long := "wide  shot " + strings.Repeat("x", 600)
	storetest.Put(t, src,
		storetest.Image("img-long", long, storetest.Base),
		storetest.Prompt("img-long", "prm-empty", "negative", "", 1),
		storetest.Prompt("img-long", "prm-untitled", "", "text only", 2),
	)
	data, err := json.Marshal(exportAll(t, src, backup.ExportOptions{}))
	require.NoError(t, err)

	dst, _ := storetest.New(t)
	ctx := context.Background()
	report, err := backup.NewImporter(dst, nil, quiet()).Import(ctx, data, exportTime)
	require.NoError(t, err)
	assert.Equal(t, backup.ImportReport{Imported: 1, Failed: 0, Total: 1, Errors: report.Errors}, *report)
	assert.Empty(t, report.Errors)

	imgs, err := dst.Images.All(ctx)
	require.NoError(t, err)
	require.Len(t, imgs, 1)
	assert.Equal(t, long, imgs[0].Title, "titles are stored verbatim")

	prompts, err := dst.Prompts.All(ctx)
	require.NoError(t, err)
	require.Len(t, prompts, 2)
	texts := map[string]string{}
	for _, p := range prompts {
		texts[p.Title] = p.Text
	}
	assert.Equal(t, map[string]string{"negative": "", "": "text only"}, texts)
}

func TestImport_OneMalformedRecord(t *testing.T) {
	src, _ := storetest.New(t)
	storetest.Gallery(t, src)
	b := exportAll(t, src, backup.ExportOptions{})
	b.Images[1].URL = "not a url"

	dst, _ := storetest.New(t)
	report, err := backup.NewImporter(dst, nil, quiet()).ImportBundle(context.Background(), b, exportTime)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Imported)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 3, report.Total)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, 1, report.Errors[0].Index)
	assert.Contains(t, report.Errors[0].Error, "url")
}

func TestImport_NonObjectRecordCountsAsFailure(t *testing.T) {
	dst, _ := storetest.New(t)
	data := []byte(`{"version":"2.0","images":[42,{"url":"https://x.example/a.jpg","title":"ok","prompts":[],"tags":["fresh"]}]}`)

	report, err := backup.NewImporter(dst, nil, quiet()).Import(context.Background(), data, exportTime)
	require.NoError(t, err)
	assert.Equal(t, backup.ImportReport{Imported: 1, Failed: 1, Total: 2, Errors: report.Errors}, *report)

	tags, err := dst.Tags.All(context.Background())
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "fresh", tags[0].Name)
	assert.Equal(t, 1, tags[0].UsageCount)
	assert.True(t, tags[0].IsOrphan())
}

func TestImport_RejectsBadEnvelope(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `nope`},
		{"missing version", `{"images":[]}`},
		{"empty version", `{"version":"","images":[]}`},
		{"unsupported version", `{"version":"1.0","images":[]}`},
		{"images missing", `{"version":"2.0"}`},
		{"images not a list", `{"version":"2.0","images":{"a":1}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst, _ := storetest.New(t)
			_, err := backup.NewImporter(dst, nil, quiet()).Import(context.Background(), []byte(tt.data), exportTime)
			require.Error(t, err)
			assert.True(t, domainerrors.Is(err, domainerrors.ErrValidation))

			n, err := dst.Images.Count(context.Background())
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestImport_ReusesExistingTagsByName(t *testing.T) {
	s, _ := storetest.New(t)
	storetest.Gallery(t, s)
	b := exportAll(t, s, backup.ExportOptions{ImageIDs: []string{"img-b"}})

	report, err := backup.NewImporter(s, nil, quiet()).ImportBundle(context.Background(), b, exportTime)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Imported)

	tags, err := s.Tags.All(context.Background())
	require.NoError(t, err)
	assert.Len(t, tags, 3, "no duplicate tags")

	cat, err := s.Tags.Get(context.Background(), "tag-2")
	require.NoError(t, err)
	assert.Equal(t, 1, cat.UsageCount, "usage applied as a delta on top of the stored value")
}

func TestArchive_RoundTrip(t *testing.T) {
	src, _ := storetest.New(t)
	storetest.Gallery(t, src)
	b := exportAll(t, src, backup.ExportOptions{})

	var buf bytes.Buffer
	require.NoError(t, backup.WriteArchive(&buf, b))

	_, manifest, err := backup.ReadManifest(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	assert.Equal(t, "2.0", manifest.Version)
	assert.Equal(t, 3, manifest.Metadata.TotalImages)
	assert.Len(t, manifest.Checksum, 64)

	dst, _ := storetest.New(t)
	report, err := backup.NewImporter(dst, nil, quiet()).ImportArchive(context.Background(), bytes.NewReader(buf.Bytes()), int64(buf.Len()), exportTime)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Imported)
	assert.Equal(t, 0, report.Failed)
}

func TestArchive_RejectsGarbage(t *testing.T) {
	dst, _ := storetest.New(t)
	garbage := []byte("definitely not a zip")

	_, err := backup.NewImporter(dst, nil, quiet()).ImportArchive(context.Background(), bytes.NewReader(garbage), int64(len(garbage)), exportTime)
	require.Error(t, err)
	assert.True(t, domainerrors.Is(err, domainerrors.ErrValidation))
}
