// Package query filters and sorts a snapshot in memory. It combines predicates
// the document store cannot evaluate together in one native query.
package query

import (
	"cmp"
	"slices"
	"time"

	domainerrors "github.com/promptshelf/promptshelf-server/internal/errors"
	"github.com/promptshelf/promptshelf-server/internal/normalize"
	"github.com/promptshelf/promptshelf-server/internal/snapshot"
)

// SortKey selects the field results are ordered by.
type SortKey string

// Sort keys.
const (
	SortNone    SortKey = ""
	SortCreated SortKey = "createdAt"
	SortUpdated SortKey = "updatedAt"
	SortTitle   SortKey = "title"
	SortUsage   SortKey = "usage" // number of tags on the image
)

// Direction is the sort direction.
type Direction string

// Directions.
const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Filter is a search request. Absent predicates match everything; present ones are ANDed.
type Filter struct {
	Query  string     `json:"query,omitempty"`
	Tags   []string   `json:"tags,omitempty"`
	From   *time.Time `json:"from,omitempty"`
	To     *time.Time `json:"to,omitempty"`
	SortBy SortKey    `json:"sortBy,omitempty"`
	Order  Direction  `json:"order,omitempty"`
}

// Result is the filtered, sorted list and its length.
type Result struct {
	Images []*snapshot.Entry
	Count  int
}

// Validate rejects unknown sort keys, directions, and inverted date ranges.
func (f Filter) Validate() error {
	switch f.SortBy {
	case SortNone, SortCreated, SortUpdated, SortTitle, SortUsage:
	default:
		return domainerrors.Validationf("unknown sort key %q", f.SortBy)
	}
	switch f.Order {
	case "", Asc, Desc:
	default:
		return domainerrors.Validationf("unknown sort direction %q", f.Order)
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return domainerrors.Validation("date range start is after its end")
	}
	return nil
}

// Run applies f to the snapshot. It does not mutate the snapshot and returns
// the same result for the same inputs.
func Run(snap *snapshot.Snapshot, f Filter) (Result, error) {
	if err := f.Validate(); err != nil {
		return Result{}, err
	}

	preds := f.predicates(snap)
	out := make([]*snapshot.Entry, 0, len(snap.Images))
	for _, e := range snap.Images {
		if matchAll(preds, e) {
			out = append(out, e)
		}
	}

	if cmpFn := comparator(f.SortBy); cmpFn != nil {
		desc := f.Order == Desc
		slices.SortStableFunc(out, func(a, b *snapshot.Entry) int {
			if desc {
				return cmpFn(b, a)
			}
			return cmpFn(a, b)
		})
	}

	return Result{Images: out, Count: len(out)}, nil
}

type predicate func(*snapshot.Entry) bool

func (f Filter) predicates(snap *snapshot.Snapshot) []predicate {
	var preds []predicate

	if f.Query != "" {
		needle := normalize.Fold(f.Query)
		preds = append(preds, func(e *snapshot.Entry) bool {
			return matchesText(snap, e, needle)
		})
	}

	if len(f.Tags) > 0 {
		wanted := make(map[string]bool, len(f.Tags))
		for _, id := range f.Tags {
			wanted[id] = true
		}
		preds = append(preds, func(e *snapshot.Entry) bool {
			return slices.ContainsFunc(e.TagIDs, func(id string) bool { return wanted[id] })
		})
	}

	if f.From != nil {
		from := *f.From
		preds = append(preds, func(e *snapshot.Entry) bool { return !e.Image.CreatedAt.Before(from) })
	}
	if f.To != nil {
		to := *f.To
		preds = append(preds, func(e *snapshot.Entry) bool { return !e.Image.CreatedAt.After(to) })
	}

	return preds
}

func matchAll(preds []predicate, e *snapshot.Entry) bool {
	for _, p := range preds {
		if !p(e) {
			return false
		}
	}
	return true
}

// matchesText ORs the title, every prompt's title and text, and every tag name.
func matchesText(snap *snapshot.Snapshot, e *snapshot.Entry, needle string) bool {
	if normalize.ContainsFold(e.Image.Title, needle) {
		return true
	}
	for _, p := range e.Prompts {
		if normalize.ContainsFold(p.Title, needle) || normalize.ContainsFold(p.Text, needle) {
			return true
		}
	}
	for _, id := range e.TagIDs {
		if t, ok := snap.Tag(id); ok && normalize.ContainsFold(t.Name, needle) {
			return true
		}
	}
	for _, s := range e.Unresolved {
		if normalize.ContainsFold(s.Name, needle) {
			return true
		}
	}
	return false
}

func comparator(key SortKey) func(a, b *snapshot.Entry) int {
	switch key {
	case SortCreated:
		return func(a, b *snapshot.Entry) int {
			return cmp.Or(a.Image.CreatedAt.Compare(b.Image.CreatedAt), cmp.Compare(a.Image.ID, b.Image.ID))
		}
	case SortUpdated:
		return func(a, b *snapshot.Entry) int {
			return cmp.Or(a.Image.UpdatedAt.Compare(b.Image.UpdatedAt), cmp.Compare(a.Image.ID, b.Image.ID))
		}
	case SortTitle:
		return func(a, b *snapshot.Entry) int {
			return cmp.Or(
				cmp.Compare(normalize.Fold(a.Image.Title), normalize.Fold(b.Image.Title)),
				cmp.Compare(a.Image.Title, b.Image.Title),
				cmp.Compare(a.Image.ID, b.Image.ID),
			)
		}
	case SortUsage:
		return func(a, b *snapshot.Entry) int {
			return cmp.Or(cmp.Compare(len(a.TagIDs), len(b.TagIDs)), cmp.Compare(a.Image.ID, b.Image.ID))
		}
	default:
		return nil
	}
}
