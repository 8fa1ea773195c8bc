package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/promptshelf/promptshelf-server/internal/domain"
	"github.com/promptshelf/promptshelf-server/internal/jobs"
	"github.com/promptshelf/promptshelf-server/internal/query"
	"github.com/promptshelf/promptshelf-server/internal/snapshot"
)

func (s *Server) registerImageRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "searchImages",
		Method:      http.MethodPost,
		Path:        "/api/v1/images/search",
		Summary:     "Search images",
		Description: "Filters images by text, tags and creation date, then sorts them",
		Tags:        []string{"Images"},
	}, s.handleSearchImages)

	huma.Register(s.api, huma.Operation{
		OperationID: "deleteImages",
		Method:      http.MethodPost,
		Path:        "/api/v1/images/delete",
		Summary:     "Delete images",
		Description: "Deletes images with their prompts and payloads, decrementing tag usage",
		Tags:        []string{"Images"},
		Middlewares: huma.Middlewares{s.limitJobs},
	}, s.handleDeleteImages)
}

// === DTOs ===

// SearchImagesInput is the search request.
type SearchImagesInput struct {
	Body struct {
		Query  string     `json:"query,omitempty" maxLength:"500" doc:"Case-insensitive text matched against titles, prompts and tag names"`
		Tags   []string   `json:"tags,omitempty" doc:"Tag IDs that must all be present"`
		From   *time.Time `json:"from,omitempty" doc:"Inclusive lower bound on creation time"`
		To     *time.Time `json:"to,omitempty" doc:"Inclusive upper bound on creation time"`
		SortBy string     `json:"sortBy,omitempty" enum:"createdAt,updatedAt,title,usage" doc:"Sort key"`
		Order  string     `json:"order,omitempty" enum:"asc,desc" doc:"Sort direction"`
	}
}

// PromptResponse is one prompt block in API responses.
type PromptResponse struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Text  string `json:"text"`
	Order int    `json:"order"`
}

// ImageResponse is an image with its prompts and normalized tags.
type ImageResponse struct {
	ID         string               `json:"id"`
	Title      string               `json:"title"`
	URL        string               `json:"url"`
	Width      int                  `json:"width,omitempty"`
	Height     int                  `json:"height,omitempty"`
	Size       int64                `json:"size,omitempty"`
	Encoding   string               `json:"encoding,omitempty"`
	BlurHash   string               `json:"blurHash,omitempty"`
	TagIDs     []string             `json:"tagIds"`
	Unresolved []domain.TagSnapshot `json:"unresolvedTags,omitempty" doc:"Embedded tag copies whose tag no longer exists"`
	Prompts    []PromptResponse     `json:"prompts"`
	CreatedAt  time.Time            `json:"createdAt"`
	UpdatedAt  time.Time            `json:"updatedAt"`
}

// SearchImagesResponse is the search result.
type SearchImagesResponse struct {
	Images []ImageResponse `json:"images"`
	Count  int             `json:"count"`
}

// SearchImagesOutput wraps the search response for Huma.
type SearchImagesOutput struct {
	Body SearchImagesResponse
}

// DeleteImagesInput lists the images to delete.
type DeleteImagesInput struct {
	Body struct {
		IDs []string `json:"ids" minItems:"1" maxItems:"1000" doc:"Image IDs to delete"`
	}
}

// === Handlers ===

func (s *Server) handleSearchImages(ctx context.Context, input *SearchImagesInput) (*SearchImagesOutput, error) {
	res, err := s.services.Gallery.Search(ctx, query.Filter{
		Query:  input.Body.Query,
		Tags:   input.Body.Tags,
		From:   input.Body.From,
		To:     input.Body.To,
		SortBy: query.SortKey(input.Body.SortBy),
		Order:  query.Direction(input.Body.Order),
	})
	if err != nil {
		return nil, err
	}

	out := SearchImagesResponse{Images: make([]ImageResponse, 0, len(res.Images)), Count: res.Count}
	for _, e := range res.Images {
		out.Images = append(out.Images, imageResponse(e))
	}
	return &SearchImagesOutput{Body: out}, nil
}

func (s *Server) handleDeleteImages(ctx context.Context, input *DeleteImagesInput) (*JobRunOutput, error) {
	ids := input.Body.IDs
	return s.runJob(ctx, jobs.DeleteImages, false, func(ctx context.Context, _ *slog.Logger) (any, error) {
		return s.services.Gallery.DeleteImages(ctx, ids, s.now())
	})
}

func imageResponse(e *snapshot.Entry) ImageResponse {
	img := e.Image
	resp := ImageResponse{
		ID:         img.ID,
		Title:      img.Title,
		URL:        img.URL,
		Width:      img.Width,
		Height:     img.Height,
		Size:       img.Size,
		Encoding:   string(img.Codec),
		BlurHash:   img.BlurHash,
		TagIDs:     e.TagIDs,
		Unresolved: e.Unresolved,
		Prompts:    make([]PromptResponse, 0, len(e.Prompts)),
		CreatedAt:  img.CreatedAt,
		UpdatedAt:  img.UpdatedAt,
	}
	if resp.TagIDs == nil {
		resp.TagIDs = []string{}
	}
	for _, p := range e.Prompts {
		resp.Prompts = append(resp.Prompts, PromptResponse{ID: p.ID, Title: p.Title, Text: p.Text, Order: p.Order})
	}
	return resp
}
