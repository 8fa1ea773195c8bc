// Package snapshot loads the full working set into memory for jobs that reason
// about the whole dataset, and normalizes tag references on the way in.
package snapshot

import (
	"cmp"
	"slices"

	"github.com/promptshelf/promptshelf-server/internal/domain"
	"github.com/promptshelf/promptshelf-server/internal/normalize"
)

// Entry is one image with its prompts and normalized tag references.
type Entry struct {
	Image   *domain.Image
	Prompts []*domain.PromptBlock // ordered by Order ascending

	// TagIDs holds each distinct resolved tag identifier, in reference order.
	TagIDs []string
	// Unresolved holds embedded snapshots whose tag no longer exists.
	Unresolved []domain.TagSnapshot
	// Dangling counts references that resolved to nothing.
	Dangling int
}

// HasTag reports whether the entry references tagID.
func (e *Entry) HasTag(tagID string) bool {
	return slices.Contains(e.TagIDs, tagID)
}

// CatalogEntry is a tag name with the number of images carrying it.
type CatalogEntry struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
	Count int    `json:"count"`
}

// Snapshot is an immutable, in-memory view of the store at one point in time.
type Snapshot struct {
	Images     []*Entry // ordered by creation time, newest first
	Tags       []*domain.Tag
	Categories []*domain.Category

	tagsByID   map[string]*domain.Tag
	tagsByName map[string]*domain.Tag
}

// New assembles a snapshot from raw records. Prompts are keyed by image ID.
// It is exported so that callers holding records in memory can build one without a store.
func New(images []*domain.Image, prompts map[string][]*domain.PromptBlock, tags []*domain.Tag, categories []*domain.Category) *Snapshot {
	s := &Snapshot{
		Tags:       slices.Clone(tags),
		Categories: slices.Clone(categories),
		tagsByID:   make(map[string]*domain.Tag, len(tags)),
		tagsByName: make(map[string]*domain.Tag, len(tags)),
	}

	slices.SortFunc(s.Tags, func(a, b *domain.Tag) int { return cmp.Compare(a.ID, b.ID) })
	for _, t := range s.Tags {
		s.tagsByID[t.ID] = t
		// Lowest ID wins when two tags share a display name.
		key := normalize.NameKey(t.Name)
		if _, taken := s.tagsByName[key]; !taken && key != "" {
			s.tagsByName[key] = t
		}
	}

	slices.SortFunc(s.Categories, func(a, b *domain.Category) int {
		return cmp.Or(cmp.Compare(a.Order, b.Order), cmp.Compare(a.ID, b.ID))
	})

	s.Images = make([]*Entry, 0, len(images))
	for _, img := range images {
		entry := &Entry{Image: img, Prompts: slices.Clone(prompts[img.ID])}
		sortPrompts(entry.Prompts)
		s.normalizeTags(entry)
		s.Images = append(s.Images, entry)
	}
	slices.SortFunc(s.Images, func(a, b *Entry) int {
		return cmp.Or(b.Image.CreatedAt.Compare(a.Image.CreatedAt), cmp.Compare(a.Image.ID, b.Image.ID))
	})

	return s
}

// Tag returns the tag with the given identifier.
func (s *Snapshot) Tag(id string) (*domain.Tag, bool) {
	t, ok := s.tagsByID[id]
	return t, ok
}

// TagByName returns the tag whose name matches, ignoring case and spacing.
func (s *Snapshot) TagByName(name string) (*domain.Tag, bool) {
	t, ok := s.tagsByName[normalize.NameKey(name)]
	return t, ok
}

// Resolve maps a tag reference to the canonical tag identifier.
// A reference resolves by identifier first, then by name. It returns false for dangling references.
func (s *Snapshot) Resolve(ref domain.TagRef) (string, bool) {
	if ref.IsZero() {
		return "", false
	}
	if id := ref.ID(); id != "" {
		if _, ok := s.tagsByID[id]; ok {
			return id, true
		}
	}

	name := ref.ID()
	if snap, ok := ref.Snapshot(); ok {
		name = snap.Name
	}
	if t, ok := s.TagByName(name); ok {
		return t.ID, true
	}
	return "", false
}

// Select returns the entries whose image ID is in ids, keeping snapshot order.
// A nil allow-list selects every entry.
func (s *Snapshot) Select(ids []string) []*Entry {
	if ids == nil {
		return s.Images
	}
	allow := make(map[string]bool, len(ids))
	for _, id := range ids {
		allow[id] = true
	}
	out := make([]*Entry, 0, len(ids))
	for _, e := range s.Images {
		if allow[e.Image.ID] {
			out = append(out, e)
		}
	}
	return out
}

// DefaultCategories returns every category flagged as default.
func (s *Snapshot) DefaultCategories() []*domain.Category {
	var out []*domain.Category
	for _, c := range s.Categories {
		if c.IsDefault {
			out = append(out, c)
		}
	}
	return out
}

// Catalog derives the tag catalogue of entries: one row per distinct tag name,
// counting the images that carry it, sorted by name. It never reads the stored
// usage counts, so it is always consistent with the entries given.
func (s *Snapshot) Catalog(entries []*Entry) []CatalogEntry {
	rows := make(map[string]*CatalogEntry)
	var order []string

	add := func(name, color string, seen map[string]bool) {
		key := normalize.NameKey(name)
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		row, ok := rows[key]
		if !ok {
			row = &CatalogEntry{Name: normalize.Name(name), Color: color}
			rows[key] = row
			order = append(order, key)
		}
		row.Count++
	}

	for _, e := range entries {
		seen := make(map[string]bool)
		for _, id := range e.TagIDs {
			t := s.tagsByID[id]
			add(t.Name, t.Color, seen)
		}
		for _, snap := range e.Unresolved {
			add(snap.Name, snap.Color, seen)
		}
	}

	out := make([]CatalogEntry, 0, len(order))
	for _, key := range order {
		out = append(out, *rows[key])
	}
	slices.SortFunc(out, func(a, b CatalogEntry) int {
		return cmp.Or(cmp.Compare(normalize.Fold(a.Name), normalize.Fold(b.Name)), cmp.Compare(a.Name, b.Name))
	})
	return out
}

func (s *Snapshot) normalizeTags(e *Entry) {
	seen := make(map[string]bool, len(e.Image.Tags))
	for _, ref := range e.Image.Tags {
		id, ok := s.Resolve(ref)
		if !ok {
			e.Dangling++
			if snap, embedded := ref.Snapshot(); embedded && snap.Name != "" {
				e.Unresolved = append(e.Unresolved, snap)
			}
			continue
		}
		if !seen[id] {
			seen[id] = true
			e.TagIDs = append(e.TagIDs, id)
		}
	}
}

func sortPrompts(prompts []*domain.PromptBlock) {
	slices.SortFunc(prompts, func(a, b *domain.PromptBlock) int {
		return cmp.Or(cmp.Compare(a.Order, b.Order), cmp.Compare(a.ID, b.ID))
	})
}
