package store

import (
	"context"
	"errors"
	"time"

	"github.com/promptshelf/promptshelf-server/internal/domain"
)

// TagUsageDeltaOp queues a signed change to a tag's usage count.
// The count never drops below zero.
func (s *Store) TagUsageDeltaOp(tagID string, delta int, at time.Time) Mutation {
	return s.Tags.ModifyOp(tagID, func(t *domain.Tag) error {
		t.UsageCount = max(t.UsageCount+delta, 0)
		t.Touch(at)
		return nil
	})
}

// PromptsFor returns the prompt blocks stored under an image, in key order.
func (s *Store) PromptsFor(ctx context.Context, imageID string) ([]*domain.PromptBlock, error) {
	return s.Prompts.AllWithPrefix(ctx, imageID+":")
}

// PromptDeleteOps queues deletes for every prompt block of an image.
func (s *Store) PromptDeleteOps(ctx context.Context, imageID string) ([]Mutation, error) {
	prompts, err := s.PromptsFor(ctx, imageID)
	if err != nil {
		return nil, err
	}
	ops := make([]Mutation, 0, len(prompts))
	for _, p := range prompts {
		ops = append(ops, s.Prompts.DeleteOp(PromptKey(imageID, p.ID)))
	}
	return ops, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
