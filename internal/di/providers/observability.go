package providers

import (
	"github.com/samber/do/v2"

	"github.com/promptshelf/promptshelf-server/internal/config"
	"github.com/promptshelf/promptshelf-server/internal/observability"
	"github.com/promptshelf/promptshelf-server/internal/ratelimit"
)

// ProvideMetrics provides the Prometheus registry and collectors.
func ProvideMetrics(_ do.Injector) (*observability.Metrics, error) {
	return observability.NewMetrics()
}

// JobLimiterHandle stops the limiter's sweeper on shutdown.
type JobLimiterHandle struct {
	*ratelimit.KeyedRateLimiter
}

// Shutdown implements do.Shutdownable.
func (h *JobLimiterHandle) Shutdown() error {
	if h.KeyedRateLimiter != nil {
		h.Stop()
	}
	return nil
}

// ProvideJobLimiter provides the per-client limiter for job triggers.
// A non-positive rate disables limiting.
func ProvideJobLimiter(i do.Injector) (*JobLimiterHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	if cfg.RateLimit.JobsPerMinute <= 0 {
		return &JobLimiterHandle{}, nil
	}
	return &JobLimiterHandle{KeyedRateLimiter: ratelimit.PerMinute(cfg.RateLimit.JobsPerMinute)}, nil
}
