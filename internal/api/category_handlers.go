package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/promptshelf/promptshelf-server/internal/domain"
	"github.com/promptshelf/promptshelf-server/internal/service"
)

func (s *Server) registerCategoryRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "listCategories",
		Method:      http.MethodGet,
		Path:        "/api/v1/categories",
		Summary:     "List categories",
		Description: "Returns all categories in display order",
		Tags:        []string{"Categories"},
	}, s.handleListCategories)

	huma.Register(s.api, huma.Operation{
		OperationID: "getCategory",
		Method:      http.MethodGet,
		Path:        "/api/v1/categories/{id}",
		Summary:     "Get category",
		Tags:        []string{"Categories"},
	}, s.handleGetCategory)

	huma.Register(s.api, huma.Operation{
		OperationID:   "createCategory",
		Method:        http.MethodPost,
		Path:          "/api/v1/categories",
		Summary:       "Create category",
		Description:   "Creates a category after the last one. The first category becomes the default.",
		Tags:          []string{"Categories"},
		DefaultStatus: http.StatusCreated,
	}, s.handleCreateCategory)

	huma.Register(s.api, huma.Operation{
		OperationID: "updateCategory",
		Method:      http.MethodPatch,
		Path:        "/api/v1/categories/{id}",
		Summary:     "Update category",
		Description: "Changes the name and/or color of a category",
		Tags:        []string{"Categories"},
	}, s.handleUpdateCategory)

	huma.Register(s.api, huma.Operation{
		OperationID: "deleteCategory",
		Method:      http.MethodDelete,
		Path:        "/api/v1/categories/{id}",
		Summary:     "Delete category",
		Description: "Deletes an empty, non-default category",
		Tags:        []string{"Categories"},
	}, s.handleDeleteCategory)

	huma.Register(s.api, huma.Operation{
		OperationID: "reorderCategories",
		Method:      http.MethodPut,
		Path:        "/api/v1/categories/order",
		Summary:     "Reorder categories",
		Description: "Sets the display order from a complete list of category IDs",
		Tags:        []string{"Categories"},
	}, s.handleReorderCategories)

	huma.Register(s.api, huma.Operation{
		OperationID: "setDefaultCategory",
		Method:      http.MethodPut,
		Path:        "/api/v1/categories/{id}/default",
		Summary:     "Set default category",
		Description: "Makes this category the default target for orphan tags",
		Tags:        []string{"Categories"},
	}, s.handleSetDefaultCategory)
}

// === DTOs ===

// CategoryIDInput identifies a category by path.
type CategoryIDInput struct {
	ID string `path:"id" doc:"Category ID"`
}

// CreateCategoryInput is the create request.
type CreateCategoryInput struct {
	Body struct {
		Name  string `json:"name" minLength:"1" maxLength:"100" doc:"Category name"`
		Color string `json:"color,omitempty" doc:"Hex color; derived from the name when omitted"`
	}
}

// UpdateCategoryInput is the update request.
type UpdateCategoryInput struct {
	ID   string `path:"id" doc:"Category ID"`
	Body struct {
		Name  *string `json:"name,omitempty" maxLength:"100" doc:"New name"`
		Color *string `json:"color,omitempty" doc:"New hex color"`
	}
}

// ReorderCategoriesInput carries the new order.
type ReorderCategoriesInput struct {
	Body struct {
		IDs []string `json:"ids" doc:"Every category ID, in display order"`
	}
}

// CategoryOutput wraps one category for Huma.
type CategoryOutput struct {
	Body *domain.Category
}

// CategoriesOutput wraps a category list for Huma.
type CategoriesOutput struct {
	Body struct {
		Categories []*domain.Category `json:"categories"`
	}
}

// DeleteCategoryOutput confirms a delete.
type DeleteCategoryOutput struct {
	Body struct {
		Deleted bool `json:"deleted"`
	}
}

// === Handlers ===

func (s *Server) handleListCategories(ctx context.Context, _ *struct{}) (*CategoriesOutput, error) {
	cats, err := s.services.Categories.List(ctx)
	if err != nil {
		return nil, err
	}
	return categoriesOutput(cats), nil
}

func (s *Server) handleGetCategory(ctx context.Context, input *CategoryIDInput) (*CategoryOutput, error) {
	c, err := s.services.Categories.Get(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &CategoryOutput{Body: c}, nil
}

func (s *Server) handleCreateCategory(ctx context.Context, input *CreateCategoryInput) (*CategoryOutput, error) {
	c, err := s.services.Categories.Create(ctx, service.CreateCategoryInput{
		Name:  input.Body.Name,
		Color: input.Body.Color,
	}, s.now())
	if err != nil {
		return nil, err
	}
	return &CategoryOutput{Body: c}, nil
}

func (s *Server) handleUpdateCategory(ctx context.Context, input *UpdateCategoryInput) (*CategoryOutput, error) {
	c, err := s.services.Categories.Update(ctx, input.ID, service.UpdateCategoryInput{
		Name:  input.Body.Name,
		Color: input.Body.Color,
	}, s.now())
	if err != nil {
		return nil, err
	}
	return &CategoryOutput{Body: c}, nil
}

func (s *Server) handleDeleteCategory(ctx context.Context, input *CategoryIDInput) (*DeleteCategoryOutput, error) {
	if err := s.services.Categories.Delete(ctx, input.ID); err != nil {
		return nil, err
	}
	out := &DeleteCategoryOutput{}
	out.Body.Deleted = true
	return out, nil
}

func (s *Server) handleReorderCategories(ctx context.Context, input *ReorderCategoriesInput) (*CategoriesOutput, error) {
	cats, err := s.services.Categories.Reorder(ctx, input.Body.IDs, s.now())
	if err != nil {
		return nil, err
	}
	return categoriesOutput(cats), nil
}

func (s *Server) handleSetDefaultCategory(ctx context.Context, input *CategoryIDInput) (*CategoryOutput, error) {
	c, err := s.services.Categories.SetDefault(ctx, input.ID, s.now())
	if err != nil {
		return nil, err
	}
	return &CategoryOutput{Body: c}, nil
}

func categoriesOutput(cats []*domain.Category) *CategoriesOutput {
	out := &CategoriesOutput{}
	out.Body.Categories = cats
	if out.Body.Categories == nil {
		out.Body.Categories = []*domain.Category{}
	}
	return out
}
