package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/promptshelf/promptshelf-server/internal/color"
	"github.com/promptshelf/promptshelf-server/internal/domain"
	domainerrors "github.com/promptshelf/promptshelf-server/internal/errors"
	"github.com/promptshelf/promptshelf-server/internal/id"
	"github.com/promptshelf/promptshelf-server/internal/normalize"
	"github.com/promptshelf/promptshelf-server/internal/store"
	"github.com/promptshelf/promptshelf-server/internal/validation"
)

// CreateCategoryInput is the payload for creating a category.
type CreateCategoryInput struct {
	Name  string `json:"name" validate:"notblank,max=100"`
	Color string `json:"color,omitempty" validate:"omitempty,hexcolor"`
}

// UpdateCategoryInput changes a category's name and/or color.
type UpdateCategoryInput struct {
	Name  *string `json:"name,omitempty" validate:"omitempty,notblank,max=100"`
	Color *string `json:"color,omitempty" validate:"omitempty,hexcolor"`
}

// CategoryService manages tag categories.
type CategoryService struct {
	store     *store.Store
	validator *validation.Validator
	logger    *slog.Logger
}

// NewCategoryService creates a CategoryService.
func NewCategoryService(s *store.Store, v *validation.Validator, logger *slog.Logger) *CategoryService {
	if logger == nil {
		logger = slog.Default()
	}
	if v == nil {
		v = validation.New()
	}
	return &CategoryService{store: s, validator: v, logger: logger}
}

// List returns every category ordered by Order.
func (s *CategoryService) List(ctx context.Context) ([]*domain.Category, error) {
	return s.store.Categories.List(ctx, store.Query[domain.Category]{
		OrderBy: store.By(func(c *domain.Category) int { return c.Order }),
	})
}

// Get returns one category.
func (s *CategoryService) Get(ctx context.Context, categoryID string) (*domain.Category, error) {
	c, err := s.store.Categories.Get(ctx, categoryID)
	if err != nil {
		return nil, translateStoreErr(err, "category %s not found", categoryID)
	}
	return c, nil
}

// Create adds a category after the current last one. The first category
// created becomes the default.
func (s *CategoryService) Create(ctx context.Context, in CreateCategoryInput, at time.Time) (*domain.Category, error) {
	if err := s.validator.Validate(in); err != nil {
		return nil, err
	}

	existing, err := s.store.Categories.All(ctx)
	if err != nil {
		return nil, err
	}
	maxOrder := 0
	for _, c := range existing {
		maxOrder = max(maxOrder, c.Order)
	}

	categoryID, err := id.Category()
	if err != nil {
		return nil, err
	}
	name := normalize.Name(in.Name)
	c := &domain.Category{
		Name:      name,
		Color:     in.Color,
		Order:     maxOrder + 1,
		IsDefault: len(existing) == 0,
	}
	if c.Color == "" {
		c.Color = color.ForName(name)
	}
	c.ID = categoryID
	c.Stamp(at)

	if err := s.store.Categories.Create(ctx, c); err != nil {
		return nil, err
	}

	s.logger.Info("category created",
		slog.String("category_id", c.ID),
		slog.String("name", c.Name),
		slog.Int("order", c.Order))
	return c, nil
}

// Update changes name and color only.
func (s *CategoryService) Update(ctx context.Context, categoryID string, in UpdateCategoryInput, at time.Time) (*domain.Category, error) {
	if err := s.validator.Validate(in); err != nil {
		return nil, err
	}

	var updated *domain.Category
	res := s.store.Commit(ctx, []store.Mutation{
		s.store.Categories.ModifyOp(categoryID, func(c *domain.Category) error {
			if in.Name != nil {
				c.Name = normalize.Name(*in.Name)
			}
			if in.Color != nil {
				c.Color = *in.Color
			}
			c.Touch(at)
			updated = c
			return nil
		}),
	})
	if err := res.Err(); err != nil {
		return nil, translateStoreErr(err, "category %s not found", categoryID)
	}
	return updated, nil
}

// Delete removes a category that no tag references. Deleting the default
// category leaves none; jobs that need one report a configuration error.
func (s *CategoryService) Delete(ctx context.Context, categoryID string) error {
	c, err := s.Get(ctx, categoryID)
	if err != nil {
		return err
	}

	tags, err := s.store.Tags.List(ctx, store.Query[domain.Tag]{
		Where: store.Eq(func(t *domain.Tag) string { return t.CategoryID }, categoryID),
	})
	if err != nil {
		return err
	}
	if len(tags) > 0 {
		return domainerrors.Conflictf("category %q still has %d tag(s); reassign or remove them first", c.Name, len(tags)).
			WithDetails(map[string]int{"tagCount": len(tags)})
	}
	if err := s.store.Categories.Delete(ctx, categoryID); err != nil {
		return err
	}
	s.logger.Info("category deleted",
		slog.String("category_id", categoryID),
		slog.Bool("was_default", c.IsDefault))
	return nil
}

// Reorder assigns Order 1..n following ids, which must name every category exactly once.
func (s *CategoryService) Reorder(ctx context.Context, ids []string, at time.Time) ([]*domain.Category, error) {
	existing, err := s.store.Categories.All(ctx)
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(existing))
	for _, c := range existing {
		known[c.ID] = true
	}
	seen := make(map[string]bool, len(ids))
	for _, categoryID := range ids {
		if !known[categoryID] || seen[categoryID] {
			return nil, domainerrors.Validationf("reorder must list every category exactly once (bad id %q)", categoryID)
		}
		seen[categoryID] = true
	}
	if len(seen) != len(known) {
		return nil, domainerrors.Validationf("reorder lists %d of %d categories", len(seen), len(known))
	}

	ops := make([]store.Mutation, 0, len(ids))
	for i, categoryID := range ids {
		order := i + 1
		ops = append(ops, s.store.Categories.ModifyOp(categoryID, func(c *domain.Category) error {
			c.Order = order
			c.Touch(at)
			return nil
		}))
	}
	if err := s.store.Commit(ctx, ops).Err(); err != nil {
		return nil, err
	}
	return s.List(ctx)
}

// SetDefault flags categoryID as the only default category.
func (s *CategoryService) SetDefault(ctx context.Context, categoryID string, at time.Time) (*domain.Category, error) {
	existing, err := s.store.Categories.All(ctx)
	if err != nil {
		return nil, err
	}

	var target *domain.Category
	var ops []store.Mutation
	for _, c := range existing {
		switch {
		case c.ID == categoryID:
			target = c
		case c.IsDefault:
			ops = append(ops, s.store.Categories.ModifyOp(c.ID, func(c *domain.Category) error {
				c.IsDefault = false
				c.Touch(at)
				return nil
			}))
		}
	}
	if target == nil {
		return nil, domainerrors.NotFoundf("category %s not found", categoryID)
	}

	ops = append(ops, s.store.Categories.ModifyOp(categoryID, func(c *domain.Category) error {
		c.IsDefault = true
		c.Touch(at)
		return nil
	}))
	if err := s.store.Commit(ctx, ops).Err(); err != nil {
		return nil, err
	}
	return s.Get(ctx, categoryID)
}

// translateStoreErr maps store not-found errors onto the domain taxonomy.
func translateStoreErr(err error, format string, args ...any) error {
	if errors.Is(err, store.ErrNotFound) {
		return domainerrors.NotFoundf(format, args...)
	}
	return err
}
