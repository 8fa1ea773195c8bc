package providers

import (
	"io"
	"os"

	"github.com/samber/do/v2"

	"github.com/promptshelf/promptshelf-server/internal/config"
	"github.com/promptshelf/promptshelf-server/internal/logger"
)

// ProvideLogger provides the structured logger.
func ProvideLogger(i do.Injector) (*logger.Logger, error) {
	cfg := do.MustInvoke[*config.Config](i)

	// CLI commands print reports on stdout, so their logs go to stderr.
	var w io.Writer = os.Stdout
	if source, err := do.Invoke[JobSource](i); err == nil && source == "cli" {
		w = os.Stderr
	}

	log := logger.New(logger.Config{
		Writer:      w,
		Level:       logger.ParseLevel(cfg.Logger.Level),
		AddSource:   cfg.App.Environment == "development",
		Environment: cfg.App.Environment,
	})

	log.Info("Starting PromptShelf",
		"environment", cfg.App.Environment,
		"log_level", cfg.Logger.Level,
		"data_path", cfg.Data.BasePath,
		"objects_backend", cfg.Objects.Backend,
	)

	return log, nil
}
