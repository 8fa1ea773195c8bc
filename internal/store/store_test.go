package store

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/promptshelf/promptshelf-server/internal/domain"
	"github.com/promptshelf/promptshelf-server/internal/sse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []sse.Event
}

func (r *recordingEmitter) Emit(event any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if evt, ok := event.(sse.Event); ok {
		r.events = append(r.events, evt)
	}
}

func (r *recordingEmitter) count(t sse.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

var testTime = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func setupTestStore(t *testing.T, opts ...Option) (*Store, *recordingEmitter) {
	t.Helper()
	emitter := &recordingEmitter{}
	s, err := New(t.TempDir(), slog.New(slog.DiscardHandler), emitter, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, emitter
}

func newTag(id, name string, usage int) *domain.Tag {
	tag := &domain.Tag{Name: name, UsageCount: usage}
	tag.ID = id
	tag.Stamp(testTime)
	return tag
}

func TestCollection_CRUD(t *testing.T) {
	s, emitter := setupTestStore(t)
	ctx := context.Background()

	tag := newTag("tag-1", "Cat", 0)
	require.NoError(t, s.Tags.Create(ctx, tag))

	err := s.Tags.Create(ctx, tag)
	assert.ErrorIs(t, err, ErrAlreadyExists)

	got, err := s.Tags.Get(ctx, "tag-1")
	require.NoError(t, err)
	assert.Equal(t, "Cat", got.Name)

	got.Name = "Kitten"
	require.NoError(t, s.Tags.Update(ctx, got))

	got, err = s.Tags.Get(ctx, "tag-1")
	require.NoError(t, err)
	assert.Equal(t, "Kitten", got.Name)

	missing := newTag("tag-404", "Ghost", 0)
	assert.ErrorIs(t, s.Tags.Update(ctx, missing), ErrNotFound)

	require.NoError(t, s.Tags.Delete(ctx, "tag-1"))
	require.NoError(t, s.Tags.Delete(ctx, "tag-1"), "delete is idempotent")

	_, err = s.Tags.Get(ctx, "tag-1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, 1, emitter.count(sse.EventRecordCreated))
	assert.Equal(t, 1, emitter.count(sse.EventRecordUpdated))
	assert.Equal(t, 1, emitter.count(sse.EventRecordDeleted))
}

func TestCollection_ListFiltersAndOrders(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	for i, name := range []string{"b", "c", "a"} {
		cat := &domain.Category{Name: name, Order: i + 1, IsDefault: name == "c"}
		cat.ID = "cat-" + name
		require.NoError(t, s.Categories.Create(ctx, cat))
	}

	byOrderDesc, err := s.Categories.List(ctx, Query[domain.Category]{
		OrderBy: By(func(c *domain.Category) int { return c.Order }),
		Desc:    true,
	})
	require.NoError(t, err)
	require.Len(t, byOrderDesc, 3)
	assert.Equal(t, []int{3, 2, 1}, []int{byOrderDesc[0].Order, byOrderDesc[1].Order, byOrderDesc[2].Order})

	defaults, err := s.Categories.List(ctx, Query[domain.Category]{
		Where: Eq(func(c *domain.Category) bool { return c.IsDefault }, true),
	})
	require.NoError(t, err)
	require.Len(t, defaults, 1)
	assert.Equal(t, "cat-c", defaults[0].ID)

	n, err := s.Categories.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestCommit_SplitsIntoChunks(t *testing.T) {
	s, emitter := setupTestStore(t, WithMaxBatchOps(2))
	ctx := context.Background()

	var muts []Mutation
	for _, id := range []string{"t1", "t2", "t3", "t4", "t5"} {
		muts = append(muts, s.Tags.CreateOp(newTag(id, id, 0)))
	}

	res := s.Commit(ctx, muts)
	assert.True(t, res.OK())
	assert.Equal(t, 5, res.Applied)
	assert.Equal(t, 3, res.Chunks)
	assert.NoError(t, res.Err())

	all, err := s.Tags.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 5)
	assert.Equal(t, 3, emitter.count(sse.EventBatchCommitted))
}

func TestCommit_FailedChunkIsAtomicAndLaterChunksRun(t *testing.T) {
	s, _ := setupTestStore(t, WithMaxBatchOps(2))
	ctx := context.Background()
	require.NoError(t, s.Tags.Create(ctx, newTag("t3", "existing", 0)))

	muts := []Mutation{
		s.Tags.CreateOp(newTag("t1", "one", 0)),
		s.Tags.CreateOp(newTag("t2", "two", 0)),
		s.Tags.CreateOp(newTag("t4", "four", 0)),
		s.Tags.CreateOp(newTag("t3", "dup", 0)), // fails the second chunk
		s.Tags.CreateOp(newTag("t5", "five", 0)),
	}

	res := s.Commit(ctx, muts)
	assert.False(t, res.OK())
	assert.Equal(t, 3, res.Applied)
	assert.Equal(t, 2, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 2, res.Errors[0].Chunk)
	assert.Equal(t, []string{"t4", "t3"}, res.Errors[0].IDs)
	assert.Error(t, res.Err())
	assert.ErrorIs(t, res.Err(), ErrAlreadyExists, "summary error keeps the first cause")

	_, err := s.Tags.Get(ctx, "t4")
	assert.ErrorIs(t, err, ErrNotFound, "failed chunk must not be partially applied")

	t3, err := s.Tags.Get(ctx, "t3")
	require.NoError(t, err)
	assert.Equal(t, "existing", t3.Name)

	_, err = s.Tags.Get(ctx, "t5")
	assert.NoError(t, err)
}

func TestCommit_IgnoreMissing(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Tags.Create(ctx, newTag("t1", "one", 2)))

	res := s.Commit(ctx, []Mutation{
		s.TagUsageDeltaOp("t1", -1, testTime),
		s.TagUsageDeltaOp("gone", -1, testTime).IgnoreMissing(),
		s.TagUsageDeltaOp("t1", -1, testTime),
	})
	require.True(t, res.OK(), res.Errors)

	tag, err := s.Tags.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 0, tag.UsageCount, "deltas in one chunk compose")

	res = s.Commit(ctx, []Mutation{s.TagUsageDeltaOp("gone", 1, testTime)})
	assert.Equal(t, 1, res.Failed)
}

func TestPromptsFor_ScopedToImage(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	for _, p := range []domain.PromptBlock{
		{ImageID: "img-1", Title: "a", Order: 2},
		{ImageID: "img-1", Title: "b", Order: 1},
		{ImageID: "img-2", Title: "c", Order: 1},
	} {
		p.ID = "prm-" + p.Title
		require.NoError(t, s.Prompts.Create(ctx, &p))
	}

	prompts, err := s.PromptsFor(ctx, "img-1")
	require.NoError(t, err)
	assert.Len(t, prompts, 2)

	got, err := s.Prompts.Get(ctx, PromptKey("img-2", "prm-c"))
	require.NoError(t, err)
	assert.Equal(t, "c", got.Title)

	ops, err := s.PromptDeleteOps(ctx, "img-1")
	require.NoError(t, err)
	require.True(t, s.Commit(ctx, ops).OK())

	prompts, err = s.PromptsFor(ctx, "img-1")
	require.NoError(t, err)
	assert.Empty(t, prompts)
}

func TestCommit_CanceledContextFailsRemainingChunks(t *testing.T) {
	s, _ := setupTestStore(t, WithMaxBatchOps(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := s.Commit(ctx, []Mutation{
		s.Tags.CreateOp(newTag("t1", "one", 0)),
		s.Tags.CreateOp(newTag("t2", "two", 0)),
	})
	assert.Equal(t, 0, res.Applied)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 2, res.Chunks)
}

func TestCommitGroups_NeverSplitsAGroup(t *testing.T) {
	s, _ := setupTestStore(t, WithMaxBatchOps(3))
	ctx := context.Background()
	require.NoError(t, s.Tags.Create(ctx, newTag("dup", "taken", 0)))

	groups := [][]Mutation{
		{s.Tags.CreateOp(newTag("a1", "a1", 0)), s.Tags.CreateOp(newTag("a2", "a2", 0))},
		{s.Tags.CreateOp(newTag("b1", "b1", 0)), s.Tags.CreateOp(newTag("dup", "dup", 0))},
		{s.Tags.CreateOp(newTag("c1", "c1", 0))},
	}

	res := s.CommitGroups(ctx, groups)
	assert.Equal(t, 2, res.Chunks, "a | b+c")
	assert.Equal(t, 2, res.Applied)
	assert.Equal(t, 3, res.Failed)
	assert.Equal(t, map[string]bool{"b1": true, "dup": true, "c1": true}, res.FailedIDs())

	_, err := s.Tags.Get(ctx, "a2")
	assert.NoError(t, err)
	_, err = s.Tags.Get(ctx, "b1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCommitGroups_OversizedGroupGetsOwnChunks(t *testing.T) {
	s, _ := setupTestStore(t, WithMaxBatchOps(2))
	ctx := context.Background()

	var big []Mutation
	for _, id := range []string{"x1", "x2", "x3"} {
		big = append(big, s.Tags.CreateOp(newTag(id, id, 0)))
	}
	res := s.CommitGroups(ctx, [][]Mutation{{s.Tags.CreateOp(newTag("y", "y", 0))}, big})

	assert.True(t, res.OK())
	assert.Equal(t, 3, res.Chunks, "y | x1 x2 | x3")
	assert.Equal(t, 4, res.Applied)
}
