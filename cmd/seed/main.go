// Package main seeds a data directory with a demo gallery that exercises
// every maintenance job: tag usage counts that disagree with the images,
// orphan tags, PNG payloads awaiting migration, payloads in object storage,
// and images mixing id and embedded tag references.
//
// Usage:
//
//	go run ./cmd/seed --data-path ~/PromptShelf/data --images 40
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log"
	"math/rand/v2"
	"time"

	"github.com/samber/do/v2"

	shelfcolor "github.com/promptshelf/promptshelf-server/internal/color"
	"github.com/promptshelf/promptshelf-server/internal/config"
	"github.com/promptshelf/promptshelf-server/internal/di"
	"github.com/promptshelf/promptshelf-server/internal/di/providers"
	"github.com/promptshelf/promptshelf-server/internal/domain"
	"github.com/promptshelf/promptshelf-server/internal/id"
	"github.com/promptshelf/promptshelf-server/internal/media/images"
	"github.com/promptshelf/promptshelf-server/internal/store"
)

var (
	imageCount = flag.Int("images", 24, "Number of images to create")
	seed       = flag.Uint64("seed", 1, "Random seed")
)

var (
	subjects = []string{"cat", "lighthouse", "forest", "robot", "city", "mountain", "koi pond", "library"}
	styles   = []string{"watercolor", "isometric", "film noir", "pixel art", "oil painting"}
	moods    = []string{"golden hour", "foggy", "neon", "overcast", "moonlit"}
)

func main() {
	flags := config.RegisterFlags(flag.CommandLine)
	flag.Parse()

	cfg, err := flags.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	injector := di.NewContainer(cfg, "cli")
	defer func() {
		if err := di.Shutdown(injector); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	s := do.MustInvoke[*providers.StoreHandle](injector).Store
	storage := do.MustInvoke[*providers.ObjectStorage](injector)

	ctx := context.Background()
	rng := rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15))
	now := time.Now().UTC()

	fmt.Printf("Seeding %d images into %s\n", *imageCount, cfg.Data.BasePath)

	categories, err := seedCategories(ctx, s, now)
	if err != nil {
		log.Fatalf("Failed to seed categories: %v", err)
	}
	tags, err := seedTags(ctx, s, categories, rng, now)
	if err != nil {
		log.Fatalf("Failed to seed tags: %v", err)
	}

	created := 0
	for n := range *imageCount {
		if err := seedImage(ctx, s, storage, tags, rng, n, now.Add(-time.Duration(n)*time.Hour)); err != nil {
			log.Printf("Image %d skipped: %v", n, err)
			continue
		}
		created++
	}

	fmt.Printf("Created %d categories, %d tags, %d images\n", len(categories), len(tags), created)
	fmt.Println("Tag usage counts are random; run `promptshelf reconcile-usage` to fix them.")
}

func seedCategories(ctx context.Context, s *store.Store, now time.Time) ([]*domain.Category, error) {
	var cats []*domain.Category
	var muts []store.Mutation
	for i, name := range []string{"General", "Subject", "Style"} {
		c := &domain.Category{Name: name, Color: shelfcolor.ForName(name), Order: i + 1, IsDefault: i == 0}
		c.ID = id.MustGenerate(id.PrefixCategory)
		c.Stamp(now)
		cats = append(cats, c)
		muts = append(muts, s.Categories.CreateOp(c))
	}
	return cats, s.Commit(ctx, muts).Err()
}

// seedTags creates subject tags in "Subject", style tags in "Style" and
// leaves mood tags orphaned. Usage counts start out wrong on purpose.
func seedTags(ctx context.Context, s *store.Store, cats []*domain.Category, rng *rand.Rand, now time.Time) ([]*domain.Tag, error) {
	var tags []*domain.Tag
	var muts []store.Mutation
	add := func(name, categoryID string) {
		t := &domain.Tag{Name: name, Color: shelfcolor.ForName(name), CategoryID: categoryID, UsageCount: rng.IntN(10)}
		t.ID = id.MustGenerate(id.PrefixTag)
		t.Stamp(now)
		tags = append(tags, t)
		muts = append(muts, s.Tags.CreateOp(t))
	}
	for _, name := range subjects {
		add(name, cats[1].ID)
	}
	for _, name := range styles {
		add(name, cats[2].ID)
	}
	for _, name := range moods {
		add(name, "")
	}
	return tags, s.Commit(ctx, muts).Err()
}

// seedImage writes one image with its prompts in a single atomic group.
// Payload kinds rotate: inline PNG, inline JPEG, object storage, external URL.
func seedImage(ctx context.Context, s *store.Store, storage *providers.ObjectStorage, tags []*domain.Tag, rng *rand.Rand, n int, created time.Time) error {
	subject := subjects[rng.IntN(len(subjects))]
	style := styles[rng.IntN(len(styles))]
	mood := moods[rng.IntN(len(moods))]

	imageID, err := id.Image()
	if err != nil {
		return err
	}
	img := &domain.Image{Title: fmt.Sprintf("%s, %s", subject, style)}
	img.ID = imageID
	img.Stamp(created)

	w, h := 32+rng.IntN(64), 32+rng.IntN(64)
	pngData, err := swatch(w, h, rng)
	if err != nil {
		return err
	}

	switch n % 4 {
	case 0, 1:
		img.URL = images.EncodeDataURI(images.MediaType(domain.CodecPNG), pngData)
		img.Codec, img.Size = domain.CodecPNG, int64(len(pngData))
		if n%4 == 1 {
			// Already canonical: the migrator should skip it.
			t, err := images.NewTranscoder(images.DefaultQuality).Transcode(img.URL)
			if err != nil {
				return err
			}
			img.URL, img.Codec, img.Size, img.BlurHash = t.DataURI, domain.CodecJPEG, t.Size, t.BlurHash
		}
		img.Width, img.Height = w, h
	case 2:
		url, err := storage.Store.Put(ctx, "images/"+imageID+".png", pngData, "image/png")
		if err != nil {
			return err
		}
		img.URL, img.Codec, img.Size, img.Width, img.Height = url, domain.CodecPNG, int64(len(pngData)), w, h
	default:
		img.URL = fmt.Sprintf("https://picsum.photos/seed/%s/%d/%d", imageID, w*8, h*8)
	}

	for _, name := range []string{subject, style, mood} {
		tag := tagNamed(tags, name)
		if tag == nil {
			continue
		}
		if rng.IntN(3) == 0 {
			img.Tags = append(img.Tags, domain.RefEmbedded(domain.TagSnapshot{
				ID: tag.ID, Name: tag.Name, Color: tag.Color, CategoryID: tag.CategoryID,
			}))
		} else {
			img.Tags = append(img.Tags, domain.RefByID(tag.ID))
		}
	}
	if n%7 == 0 {
		img.Tags = append(img.Tags, domain.RefByID("tag-deleted"))
	}

	muts := []store.Mutation{s.Images.CreateOp(img)}
	for order := 1; order <= 1+rng.IntN(3); order++ {
		p := &domain.PromptBlock{
			ImageID: imageID,
			Title:   fmt.Sprintf("prompt %d", order),
			Text:    fmt.Sprintf("%s %s, %s lighting, variation %d", mood, subject, style, order),
			Order:   order,
		}
		p.ID = id.MustGenerate(id.PrefixPrompt)
		p.Stamp(created)
		muts = append(muts, s.Prompts.CreateOp(p))
	}
	return s.CommitGroups(ctx, [][]store.Mutation{muts}).Err()
}

func tagNamed(tags []*domain.Tag, name string) *domain.Tag {
	for _, t := range tags {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// swatch renders a two-tone gradient PNG.
func swatch(w, h int, rng *rand.Rand) ([]byte, error) {
	a := color.RGBA{R: uint8(rng.IntN(256)), G: uint8(rng.IntN(256)), B: uint8(rng.IntN(256)), A: 255}
	b := color.RGBA{R: uint8(rng.IntN(256)), G: uint8(rng.IntN(256)), B: uint8(rng.IntN(256)), A: 255}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			t := float64(x) / float64(w)
			img.Set(x, y, color.RGBA{
				R: uint8(float64(a.R)*(1-t) + float64(b.R)*t),
				G: uint8(float64(a.G)*(1-t) + float64(b.G)*t),
				B: uint8(float64(a.B)*(1-t) + float64(b.B)*t),
				A: 255,
			})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
