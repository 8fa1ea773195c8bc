package store

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/promptshelf/promptshelf-server/internal/sse"
)

// Collection provides typed CRUD and scans for one document kind.
type Collection[T any] struct {
	store  *Store
	kind   string
	prefix string
	keyOf  func(*T) string
}

// Query narrows and orders a collection scan. Zero value returns everything in key order.
type Query[T any] struct {
	Where   func(*T) bool
	OrderBy func(a, b *T) int
	Desc    bool
}

// By builds an OrderBy comparator on a single field.
func By[T any, K cmp.Ordered](field func(*T) K) func(a, b *T) int {
	return func(a, b *T) int {
		return cmp.Compare(field(a), field(b))
	}
}

// Eq builds a Where predicate matching a single field against a value.
func Eq[T any, K comparable](field func(*T) K, value K) func(*T) bool {
	return func(v *T) bool {
		return field(v) == value
	}
}

func newCollection[T any](s *Store, kind, prefix string, keyOf func(*T) string) *Collection[T] {
	return &Collection[T]{store: s, kind: kind, prefix: prefix, keyOf: keyOf}
}

// Kind returns the entity kind reported in events.
func (c *Collection[T]) Kind() string { return c.kind }

func (c *Collection[T]) key(id string) []byte {
	return []byte(c.prefix + id)
}

// Create stores a new document. Returns ErrAlreadyExists if the key is taken.
func (c *Collection[T]) Create(ctx context.Context, v *T) error {
	return c.commitOne(ctx, c.CreateOp(v))
}

// Get retrieves a document by ID.
// Returns ErrNotFound if the document does not exist.
func (c *Collection[T]) Get(ctx context.Context, id string) (*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var v *T
	err := c.store.db.View(func(txn *badger.Txn) error {
		var err error
		v, err = c.read(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Update replaces an existing document.
// Returns ErrNotFound if the document does not exist.
func (c *Collection[T]) Update(ctx context.Context, v *T) error {
	return c.commitOne(ctx, c.ReplaceOp(v))
}

// Delete removes a document. Deleting a missing document is not an error.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	return c.commitOne(ctx, c.DeleteOp(id))
}

// All scans the whole collection in key order.
func (c *Collection[T]) All(ctx context.Context) ([]*T, error) {
	return c.scan(ctx, c.prefix)
}

// AllWithPrefix scans the documents whose key starts with sub, e.g. the prompts of one image.
func (c *Collection[T]) AllWithPrefix(ctx context.Context, sub string) ([]*T, error) {
	return c.scan(ctx, c.prefix+sub)
}

// List scans the collection, applies the equality filter and single-field ordering.
func (c *Collection[T]) List(ctx context.Context, q Query[T]) ([]*T, error) {
	all, err := c.All(ctx)
	if err != nil {
		return nil, err
	}

	out := all
	if q.Where != nil {
		out = slices.DeleteFunc(all, func(v *T) bool { return !q.Where(v) })
	}
	if q.OrderBy != nil {
		slices.SortStableFunc(out, func(a, b *T) int {
			if q.Desc {
				return q.OrderBy(b, a)
			}
			return q.OrderBy(a, b)
		})
	}
	return out, nil
}

// Count returns the number of documents in the collection.
func (c *Collection[T]) Count(ctx context.Context) (int, error) {
	n := 0
	err := c.store.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(c.prefix)
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

func (c *Collection[T]) scan(ctx context.Context, prefix string) ([]*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []*T
	err := c.store.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			var v T
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &v)
			}); err != nil {
				return fmt.Errorf("decode %s %s: %w", c.kind, it.Item().Key(), err)
			}
			out = append(out, &v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", c.kind, err)
	}
	return out, nil
}

func (c *Collection[T]) read(txn *badger.Txn, id string) (*T, error) {
	item, err := txn.Get(c.key(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, notFound(c.kind, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key: %w", err)
	}

	var v T
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &v)
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", c.kind, err)
	}
	return &v, nil
}

func (c *Collection[T]) write(txn *badger.Txn, id string, v *T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", c.kind, err)
	}
	if err := txn.Set(c.key(id), data); err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}
	return nil
}

func (c *Collection[T]) exists(txn *badger.Txn, id string) (bool, error) {
	_, err := txn.Get(c.key(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check existing key: %w", err)
	}
	return true, nil
}

// commitOne applies a single mutation in its own transaction and returns its error unchanged.
func (c *Collection[T]) commitOne(ctx context.Context, m Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var evt *sse.Event
	err := c.store.db.Update(func(txn *badger.Txn) error {
		var err error
		evt, err = m.run(txn)
		return err
	})
	if err != nil {
		return err
	}
	if evt != nil {
		evt.Timestamp = time.Now()
		c.store.eventEmitter.Emit(*evt)
	}
	return nil
}
