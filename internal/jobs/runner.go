// Package jobs runs administrative jobs with uniform bookkeeping: every run
// gets an ID, is timed, counted in metrics, persisted in the ledger and
// announced on the event stream.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"

	domainerrors "github.com/promptshelf/promptshelf-server/internal/errors"
	"github.com/promptshelf/promptshelf-server/internal/ledger"
	"github.com/promptshelf/promptshelf-server/internal/logger"
	"github.com/promptshelf/promptshelf-server/internal/observability/metrics"
	"github.com/promptshelf/promptshelf-server/internal/sse"
	"github.com/promptshelf/promptshelf-server/internal/store"
)

// Job names.
const (
	Export             = "export"
	Import             = "import"
	MigrateEncoding    = "migrate-encoding"
	ReconcileUsage     = "reconcile-usage"
	BackfillCategories = "backfill-categories"
	DeleteImages       = "delete-images"
)

// Func is the body of a job. The returned report is persisted even when err
// is non-nil, so partial results stay visible.
type Func func(ctx context.Context, log *slog.Logger) (report any, err error)

// Itemized reports expose how many records succeeded and failed.
type Itemized interface {
	JobItems() (ok, failed int)
}

// Recorder persists finished runs.
type Recorder interface {
	Record(ctx context.Context, run *ledger.Run) error
}

// Option configures a Runner.
type Option func(*Runner)

// WithSource labels runs with the surface that triggered them ("api", "cli").
func WithSource(source string) Option {
	return func(r *Runner) { r.source = source }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// Runner executes jobs. Jobs with the same name never overlap.
type Runner struct {
	ledger  Recorder
	metrics *metrics.JobMetrics
	emitter store.EventEmitter
	logger  *slog.Logger
	source  string
	now     func() time.Time

	mu      sync.Mutex
	running map[string]string // job name -> run ID
}

// NewRunner creates a Runner. ledger, m and emitter may be nil.
func NewRunner(l Recorder, m *metrics.JobMetrics, emitter store.EventEmitter, logger *slog.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if emitter == nil {
		emitter = store.NewNoopEmitter()
	}
	r := &Runner{
		ledger:  l,
		metrics: m,
		emitter: emitter,
		logger:  logger,
		source:  "cli",
		now:     time.Now,
		running: make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes fn as job name and returns the recorded run along with fn's
// error. A second run of the same job while one is in flight fails with a
// conflict. Ledger failures are logged and never fail the job.
func (r *Runner) Run(ctx context.Context, name string, dryRun bool, fn Func) (*ledger.Run, error) {
	runID := uuid.NewString()
	if err := r.acquire(name, runID); err != nil {
		return nil, err
	}
	defer r.release(name)

	jobLog := (&logger.Logger{Logger: r.logger}).ForJob(name, runID).WithField("source", r.source)
	log := jobLog.Logger
	run := &ledger.Run{ID: runID, Job: name, Source: r.source, DryRun: dryRun, StartedAt: r.now()}
	log.Info("job started", slog.Bool("dry_run", dryRun))

	report, err := fn(ctx, log)
	if isNilReport(report) {
		report = nil
	}

	run.FinishedAt = r.now()
	elapsed := run.FinishedAt.Sub(run.StartedAt)
	run.DurationMs = elapsed.Milliseconds()
	var ok, failed int
	if it, isItemized := report.(Itemized); isItemized {
		ok, failed = it.JobItems()
	}
	run.Status = statusOf(err, failed)
	if err != nil {
		run.Error = err.Error()
	}
	if report != nil {
		if data, mErr := json.Marshal(report); mErr != nil {
			log.Warn("job report not serializable", slog.String("error", mErr.Error()))
		} else {
			run.Report = data
		}
	}

	attrs := []any{
		slog.String("status", run.Status),
		slog.Duration("duration", elapsed),
	}
	if _, isItemized := report.(Itemized); isItemized {
		attrs = append(attrs, slog.Int("ok", ok), slog.Int("failed", failed))
	}
	if err != nil {
		jobLog.WithError(err).Error("job finished with error", attrs...)
	} else {
		log.Info("job finished", attrs...)
	}

	if r.metrics != nil {
		r.metrics.RecordRun(name, run.Status, dryRun, elapsed, run.FinishedAt)
		r.metrics.RecordItems(name, metrics.OutcomeOK, ok)
		r.metrics.RecordItems(name, metrics.OutcomeFailed, failed)
	}

	if r.ledger != nil {
		// The job's own context may already be canceled; the record must still land.
		recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if lErr := r.ledger.Record(recordCtx, run); lErr != nil {
			log.Warn("job run not recorded", slog.String("error", lErr.Error()))
			if r.metrics != nil {
				r.metrics.RecordLedgerError()
			}
		}
		cancel()
	}

	r.emitter.Emit(sse.NewJobCompletedEvent(sse.JobEventData{
		RunID:    runID,
		Job:      name,
		DryRun:   dryRun,
		Status:   run.Status,
		Duration: elapsed.String(),
	}, run.FinishedAt))

	return run, err
}

// Running returns the run ID of the in-flight run of name, if any.
func (r *Runner) Running(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	runID, ok := r.running[name]
	return runID, ok
}

func (r *Runner) acquire(name, runID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, busy := r.running[name]; busy {
		return domainerrors.Conflictf("job %s is already running (run %s)", name, current).
			WithDetails(map[string]string{"runId": current})
	}
	r.running[name] = runID
	return nil
}

func (r *Runner) release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, name)
}

// isNilReport catches a nil pointer report wrapped in a non-nil interface,
// which services return alongside an error.
func isNilReport(report any) bool {
	if report == nil {
		return true
	}
	v := reflect.ValueOf(report)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice:
		return v.IsNil()
	}
	return false
}

// statusOf derives the run status. A report with failed items is partial
// even when the job itself returned no error.
func statusOf(err error, failedItems int) string {
	switch {
	case err == nil && failedItems > 0:
		return ledger.StatusPartial
	case err == nil:
		return ledger.StatusSucceeded
	case domainerrors.Is(err, domainerrors.ErrPartialFailure):
		return ledger.StatusPartial
	default:
		return ledger.StatusFailed
	}
}
