package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/promptshelf/promptshelf-server/internal/backup"
	"github.com/promptshelf/promptshelf-server/internal/domain"
	domainerrors "github.com/promptshelf/promptshelf-server/internal/errors"
	"github.com/promptshelf/promptshelf-server/internal/jobs"
)

// maxImportBytes bounds an uploaded bundle or archive.
const maxImportBytes = 512 << 20

func (s *Server) registerBackupRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "exportBundle",
		Method:      http.MethodPost,
		Path:        "/api/v1/export",
		Summary:     "Export bundle",
		Description: "Builds a versioned bundle of the selected images, or of every image when none are given",
		Tags:        []string{"Backup"},
	}, s.handleExport)

	huma.Register(s.api, huma.Operation{
		OperationID:  "importBundle",
		Method:       http.MethodPost,
		Path:         "/api/v1/import",
		Summary:      "Import bundle",
		Description:  "Imports a JSON bundle, or a zip archive when sent as application/zip",
		Tags:         []string{"Backup"},
		MaxBodyBytes: maxImportBytes,
		Middlewares:  huma.Middlewares{s.limitJobs},
	}, s.handleImport)

	// Archives are binary, so they bypass the JSON envelope.
	s.router.Get("/api/v1/export/archive", s.handleExportArchive)
}

// === DTOs ===

// ExportInput selects the images to export.
type ExportInput struct {
	Body struct {
		ImageIDs     []string        `json:"imageIds,omitempty" doc:"Images to export; all images when omitted"`
		CachedImages []json.RawMessage `json:"cachedImages,omitempty" doc:"Image records the client already holds; replaces the image scan"`
	}
}

// ExportOutput wraps a bundle for Huma.
type ExportOutput struct {
	Body *backup.Bundle
}

// ImportInput is an uploaded bundle.
type ImportInput struct {
	ContentType string `header:"Content-Type"`
	RawBody     []byte
}

// === Handlers ===

func (s *Server) handleExport(ctx context.Context, input *ExportInput) (*ExportOutput, error) {
	cached, err := decodeCachedImages(input.Body.CachedImages)
	if err != nil {
		return nil, err
	}
	b, err := s.services.Exporter.Export(ctx, backup.ExportOptions{ImageIDs: input.Body.ImageIDs, Images: cached}, s.now())
	if err != nil {
		return nil, err
	}
	return &ExportOutput{Body: b}, nil
}

// decodeCachedImages parses client-held image records. Tag refs keep their
// mixed string/object form, so they are decoded here rather than by the schema.
func decodeCachedImages(raw []json.RawMessage) ([]*domain.Image, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]*domain.Image, 0, len(raw))
	for i, msg := range raw {
		var img domain.Image
		if err := json.Unmarshal(msg, &img); err != nil {
			return nil, domainerrors.Wrapf(err, domainerrors.CodeValidation, "cachedImages[%d] is not an image record", i)
		}
		out = append(out, &img)
	}
	return out, nil
}

func (s *Server) handleImport(ctx context.Context, input *ImportInput) (*JobRunOutput, error) {
	data := input.RawBody
	isArchive := false
	if mt, _, err := mime.ParseMediaType(input.ContentType); err == nil {
		isArchive = mt == "application/zip"
	}

	return s.runJob(ctx, jobs.Import, false, func(ctx context.Context, log *slog.Logger) (any, error) {
		log.Info("import received", slog.Int("bytes", len(data)), slog.Bool("archive", isArchive))
		if isArchive {
			return s.services.Importer.ImportArchive(ctx, bytes.NewReader(data), int64(len(data)), s.now())
		}
		return s.services.Importer.Import(ctx, data, s.now())
	})
}

// handleExportArchive streams a zip archive. ?ids=a,b narrows the export.
func (s *Server) handleExportArchive(w http.ResponseWriter, r *http.Request) {
	var ids []string
	if raw := r.URL.Query().Get("ids"); raw != "" {
		ids = strings.Split(raw, ",")
	}

	b, err := s.services.Exporter.Export(r.Context(), backup.ExportOptions{ImageIDs: ids}, s.now())
	if err != nil {
		s.logger.Error("archive export failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "export failed", err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="promptshelf-%s.zip"`, b.ExportedAt.UTC().Format("20060102-150405")))
	if err := backup.WriteArchive(w, b); err != nil {
		// Headers are gone; all that is left is to log.
		s.logger.Error("archive write failed", slog.String("error", err.Error()))
	}
}
