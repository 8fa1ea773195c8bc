package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	domainerrors "github.com/promptshelf/promptshelf-server/internal/errors"
	"github.com/promptshelf/promptshelf-server/internal/jobs"
	"github.com/promptshelf/promptshelf-server/internal/ledger"
	"github.com/promptshelf/promptshelf-server/internal/service"
)

func (s *Server) registerJobRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "migrateEncoding",
		Method:      http.MethodPost,
		Path:        "/api/v1/admin/jobs/migrate-encoding",
		Summary:     "Migrate image encoding",
		Description: "Re-encodes inline payloads to the canonical codec. A dry run only estimates the savings.",
		Tags:        []string{"Jobs"},
		Middlewares: huma.Middlewares{s.limitJobs},
	}, s.handleMigrateEncoding)

	huma.Register(s.api, huma.Operation{
		OperationID: "reconcileUsage",
		Method:      http.MethodPost,
		Path:        "/api/v1/admin/jobs/reconcile-usage",
		Summary:     "Reconcile tag usage",
		Description: "Recomputes every tag's usage count from the images and corrects drift",
		Tags:        []string{"Jobs"},
		Middlewares: huma.Middlewares{s.limitJobs},
	}, s.handleReconcileUsage)

	huma.Register(s.api, huma.Operation{
		OperationID: "backfillCategories",
		Method:      http.MethodPost,
		Path:        "/api/v1/admin/jobs/backfill-categories",
		Summary:     "Backfill tag categories",
		Description: "Assigns every orphan tag to the default category",
		Tags:        []string{"Jobs"},
		Middlewares: huma.Middlewares{s.limitJobs},
	}, s.handleBackfillCategories)

	huma.Register(s.api, huma.Operation{
		OperationID: "getEncodingStatus",
		Method:      http.MethodGet,
		Path:        "/api/v1/admin/encoding-status",
		Summary:     "Encoding status",
		Description: "Counts images per payload codec",
		Tags:        []string{"Jobs"},
	}, s.handleEncodingStatus)

	huma.Register(s.api, huma.Operation{
		OperationID: "listJobRuns",
		Method:      http.MethodGet,
		Path:        "/api/v1/admin/jobs",
		Summary:     "List job runs",
		Description: "Returns recorded job runs, newest first",
		Tags:        []string{"Jobs"},
	}, s.handleListJobRuns)

	huma.Register(s.api, huma.Operation{
		OperationID: "getJobRun",
		Method:      http.MethodGet,
		Path:        "/api/v1/admin/jobs/{id}",
		Summary:     "Get job run",
		Tags:        []string{"Jobs"},
	}, s.handleGetJobRun)
}

// === DTOs ===

// JobRunOutput returns a recorded run. Status is 207 when the job partially failed.
type JobRunOutput struct {
	Status int
	Body   *ledger.Run
}

// MigrateEncodingInput selects a dry or live migration. Omitting dryRun, or
// the whole body, asks for a dry run.
type MigrateEncodingInput struct {
	Body struct {
		DryRun *bool `json:"dryRun,omitempty" required:"false" default:"true" doc:"Estimate without writing"`
	} `required:"false"`
}

// EncodingStatusOutput wraps the codec census for Huma.
type EncodingStatusOutput struct {
	Body *service.EncodingStatus
}

// ListJobRunsInput filters the run history.
type ListJobRunsInput struct {
	Job   string `query:"job" doc:"Only runs of this job"`
	Limit int    `query:"limit" minimum:"0" maximum:"500" doc:"Maximum runs returned (default 50)"`
}

// ListJobRunsOutput wraps the run history for Huma.
type ListJobRunsOutput struct {
	Body struct {
		Runs []*ledger.Run `json:"runs"`
	}
}

// GetJobRunInput identifies a run.
type GetJobRunInput struct {
	ID string `path:"id" doc:"Run ID"`
}

// GetJobRunOutput wraps one run for Huma.
type GetJobRunOutput struct {
	Body *ledger.Run
}

// === Handlers ===

func (s *Server) handleMigrateEncoding(ctx context.Context, input *MigrateEncodingInput) (*JobRunOutput, error) {
	dryRun := input.Body.DryRun == nil || *input.Body.DryRun
	return s.runJob(ctx, jobs.MigrateEncoding, dryRun, func(ctx context.Context, _ *slog.Logger) (any, error) {
		return s.services.Encoding.Migrate(ctx, dryRun, s.now())
	})
}

func (s *Server) handleReconcileUsage(ctx context.Context, _ *struct{}) (*JobRunOutput, error) {
	return s.runJob(ctx, jobs.ReconcileUsage, false, func(ctx context.Context, _ *slog.Logger) (any, error) {
		return s.services.Usage.Reconcile(ctx, s.now())
	})
}

func (s *Server) handleBackfillCategories(ctx context.Context, _ *struct{}) (*JobRunOutput, error) {
	return s.runJob(ctx, jobs.BackfillCategories, false, func(ctx context.Context, _ *slog.Logger) (any, error) {
		return s.services.Backfill.Backfill(ctx, s.now())
	})
}

func (s *Server) handleEncodingStatus(ctx context.Context, _ *struct{}) (*EncodingStatusOutput, error) {
	status, err := s.services.Encoding.Status(ctx)
	if err != nil {
		return nil, err
	}
	return &EncodingStatusOutput{Body: status}, nil
}

func (s *Server) handleListJobRuns(ctx context.Context, input *ListJobRunsInput) (*ListJobRunsOutput, error) {
	if s.services.Ledger == nil {
		return nil, domainerrors.Configuration("job ledger not configured")
	}
	runs, err := s.services.Ledger.Recent(ctx, input.Job, input.Limit)
	if err != nil {
		return nil, err
	}
	out := &ListJobRunsOutput{}
	out.Body.Runs = runs
	return out, nil
}

func (s *Server) handleGetJobRun(ctx context.Context, input *GetJobRunInput) (*GetJobRunOutput, error) {
	if s.services.Ledger == nil {
		return nil, domainerrors.Configuration("job ledger not configured")
	}
	run, err := s.services.Ledger.Get(ctx, input.ID)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, domainerrors.NotFoundf("job run %s not found", input.ID)
	}
	if err != nil {
		return nil, err
	}
	return &GetJobRunOutput{Body: run}, nil
}

// runJob executes fn through the job runner. Partial failures still return
// the recorded run, with status 207.
func (s *Server) runJob(ctx context.Context, name string, dryRun bool, fn jobs.Func) (*JobRunOutput, error) {
	run, err := s.services.Runner.Run(ctx, name, dryRun, fn)
	switch {
	case run != nil && run.Status == ledger.StatusPartial:
		return &JobRunOutput{Status: http.StatusMultiStatus, Body: run}, nil
	case err != nil:
		return nil, err
	default:
		return &JobRunOutput{Status: http.StatusOK, Body: run}, nil
	}
}

// limitJobs throttles job-starting operations per client address.
func (s *Server) limitJobs(ctx huma.Context, next func(huma.Context)) {
	if s.limiter != nil && !s.limiter.Allow(clientKey(ctx.RemoteAddr())) {
		if err := huma.WriteErr(s.api, ctx, http.StatusTooManyRequests, "too many job requests, try again later"); err != nil {
			s.logger.Warn("rate limit response failed", slog.String("error", err.Error()))
		}
		return
	}
	next(ctx)
}

func clientKey(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}
