package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/promptshelf/promptshelf-server/internal/sse"
)

// Mutation is one write queued for a batch commit.
type Mutation struct {
	Kind string
	ID   string

	apply         func(txn *badger.Txn) (*sse.Event, error)
	ignoreMissing bool
}

// IgnoreMissing turns a not-found failure of this mutation into a no-op.
func (m Mutation) IgnoreMissing() Mutation {
	m.ignoreMissing = true
	return m
}

// CreateOp queues an insert that fails if the key already exists.
func (c *Collection[T]) CreateOp(v *T) Mutation {
	id := c.keyOf(v)
	return Mutation{Kind: c.kind, ID: id, apply: func(txn *badger.Txn) (*sse.Event, error) {
		found, err := c.exists(txn, id)
		if err != nil {
			return nil, err
		}
		if found {
			return nil, alreadyExists(c.kind, id)
		}
		if err := c.write(txn, id, v); err != nil {
			return nil, err
		}
		evt := sse.NewRecordEvent(sse.EventRecordCreated, c.kind, id, v, time.Time{})
		return &evt, nil
	}}
}

// ReplaceOp queues an overwrite of an existing document.
func (c *Collection[T]) ReplaceOp(v *T) Mutation {
	id := c.keyOf(v)
	return Mutation{Kind: c.kind, ID: id, apply: func(txn *badger.Txn) (*sse.Event, error) {
		found, err := c.exists(txn, id)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, notFound(c.kind, id)
		}
		if err := c.write(txn, id, v); err != nil {
			return nil, err
		}
		evt := sse.NewRecordEvent(sse.EventRecordUpdated, c.kind, id, v, time.Time{})
		return &evt, nil
	}}
}

// ModifyOp queues a read-modify-write. fn runs inside the transaction against
// the current stored value, so concurrent writers are never overwritten blindly.
func (c *Collection[T]) ModifyOp(id string, fn func(*T) error) Mutation {
	return Mutation{Kind: c.kind, ID: id, apply: func(txn *badger.Txn) (*sse.Event, error) {
		v, err := c.read(txn, id)
		if err != nil {
			return nil, err
		}
		if err := fn(v); err != nil {
			return nil, err
		}
		if err := c.write(txn, id, v); err != nil {
			return nil, err
		}
		evt := sse.NewRecordEvent(sse.EventRecordUpdated, c.kind, id, v, time.Time{})
		return &evt, nil
	}}
}

// DeleteOp queues a delete. Deleting a missing key is a no-op.
func (c *Collection[T]) DeleteOp(id string) Mutation {
	return Mutation{Kind: c.kind, ID: id, apply: func(txn *badger.Txn) (*sse.Event, error) {
		found, err := c.exists(txn, id)
		if err != nil || !found {
			return nil, err
		}
		if err := txn.Delete(c.key(id)); err != nil {
			return nil, fmt.Errorf("failed to delete key: %w", err)
		}
		evt := sse.NewRecordEvent(sse.EventRecordDeleted, c.kind, id, nil, time.Time{})
		return &evt, nil
	}}
}

func (m Mutation) run(txn *badger.Txn) (*sse.Event, error) {
	evt, err := m.apply(txn)
	if err != nil && m.ignoreMissing && isNotFound(err) {
		return nil, nil
	}
	return evt, err
}

// ChunkError describes one chunk that failed to commit. None of its mutations were applied.
type ChunkError struct {
	Chunk int      `json:"chunk"`
	IDs   []string `json:"ids"`
	Error string   `json:"error"`

	cause error
}

// BatchResult aggregates the outcome of a chunked commit.
type BatchResult struct {
	Applied int          `json:"applied"`
	Failed  int          `json:"failed"`
	Chunks  int          `json:"chunks"`
	Errors  []ChunkError `json:"errors,omitempty"`
}

// OK reports whether every chunk committed.
func (r BatchResult) OK() bool {
	return r.Failed == 0
}

// Err returns a summary error when any chunk failed.
func (r BatchResult) Err() error {
	if r.OK() {
		return nil
	}
	return fmt.Errorf("%d of %d mutations failed in %d chunk(s): %w",
		r.Failed, r.Applied+r.Failed, len(r.Errors), r.Errors[0].cause)
}

// Commit applies mutations in chunks of at most MaxBatchOps. Each chunk is one
// atomic transaction. A failed chunk is recorded and the next chunk still runs.
func (s *Store) Commit(ctx context.Context, muts []Mutation) BatchResult {
	var chunks [][]Mutation
	for start := 0; start < len(muts); start += s.maxBatchOps {
		chunks = append(chunks, muts[start:min(start+s.maxBatchOps, len(muts))])
	}
	return s.commitChunks(ctx, chunks)
}

// CommitGroups is Commit for mutations that must land together, such as an
// image and the usage deltas of its tags. Groups are packed into chunks of at
// most MaxBatchOps without being split; a group larger than that is chunked on its own.
func (s *Store) CommitGroups(ctx context.Context, groups [][]Mutation) BatchResult {
	var chunks [][]Mutation
	var current []Mutation
	for _, g := range groups {
		if len(current)+len(g) > s.maxBatchOps && len(current) > 0 {
			chunks = append(chunks, current)
			current = nil
		}
		if len(g) > s.maxBatchOps {
			for start := 0; start < len(g); start += s.maxBatchOps {
				chunks = append(chunks, g[start:min(start+s.maxBatchOps, len(g))])
			}
			continue
		}
		current = append(current, g...)
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return s.commitChunks(ctx, chunks)
}

func (s *Store) commitChunks(ctx context.Context, chunks [][]Mutation) BatchResult {
	var res BatchResult

	for _, chunk := range chunks {
		res.Chunks++

		if err := ctx.Err(); err != nil {
			res.fail(res.Chunks, chunk, err)
			continue
		}

		events, err := s.commitChunk(chunk)
		if err != nil {
			res.fail(res.Chunks, chunk, err)
			s.logger.Warn("batch chunk failed",
				slog.Int("chunk", res.Chunks),
				slog.Int("size", len(chunk)),
				slog.String("error", err.Error()))
			continue
		}

		res.Applied += len(chunk)
		s.publish(res.Chunks, len(chunk), events)
	}

	if res.Chunks > 0 {
		s.logger.Debug("batch committed",
			slog.Int("applied", res.Applied),
			slog.Int("failed", res.Failed),
			slog.Int("chunks", res.Chunks))
	}
	return res
}

// FailedIDs returns the IDs of every mutation in a failed chunk.
func (r BatchResult) FailedIDs() map[string]bool {
	out := make(map[string]bool)
	for _, e := range r.Errors {
		for _, id := range e.IDs {
			out[id] = true
		}
	}
	return out
}

func (s *Store) commitChunk(chunk []Mutation) ([]sse.Event, error) {
	var events []sse.Event
	err := s.db.Update(func(txn *badger.Txn) error {
		events = events[:0]
		for _, m := range chunk {
			evt, err := m.run(txn)
			if err != nil {
				return fmt.Errorf("%s %s: %w", m.Kind, m.ID, err)
			}
			if evt != nil {
				events = append(events, *evt)
			}
		}
		return nil
	})
	return events, err
}

func (s *Store) publish(chunk, applied int, events []sse.Event) {
	now := time.Now()
	kinds := make(map[string]int)
	for _, evt := range events {
		if data, ok := evt.Data.(sse.RecordEventData); ok {
			kinds[data.Kind]++
		}
		evt.Timestamp = now
		s.eventEmitter.Emit(evt)
	}
	s.eventEmitter.Emit(sse.NewBatchCommittedEvent(chunk, applied, kinds, now))
}

func (r *BatchResult) fail(chunk int, muts []Mutation, err error) {
	ids := make([]string, len(muts))
	for i, m := range muts {
		ids[i] = m.ID
	}
	r.Failed += len(muts)
	r.Errors = append(r.Errors, ChunkError{Chunk: chunk, IDs: ids, Error: err.Error(), cause: err})
}
