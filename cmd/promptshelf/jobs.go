package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"github.com/promptshelf/promptshelf-server/internal/di/providers"
	"github.com/promptshelf/promptshelf-server/internal/jobs"
	"github.com/promptshelf/promptshelf-server/internal/ledger"
	"github.com/promptshelf/promptshelf-server/internal/service"
)

// runJob executes fn through the ledger-backed runner, prints the recorded
// run and fails the command unless the run fully succeeded.
func (a *app) runJob(cmd *cobra.Command, name string, dryRun bool, fn jobs.Func) error {
	runner, err := do.Invoke[*jobs.Runner](a.injector)
	if err != nil {
		return err
	}

	run, runErr := runner.Run(cmd.Context(), name, dryRun, fn)
	if run == nil {
		return runErr
	}
	if err := printJSON(cmd.OutOrStdout(), run); err != nil {
		return err
	}
	if run.Status != ledger.StatusSucceeded {
		if runErr != nil {
			return fmt.Errorf("%s %s: %w", name, run.Status, runErr)
		}
		return fmt.Errorf("%s finished with status %s", name, run.Status)
	}
	return nil
}

func (a *app) migrateEncodingCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "migrate-encoding",
		Short: "Re-encode inline image payloads to JPEG (dry run unless --dry-run=false)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := do.Invoke[*service.EncodingMigrator](a.injector)
			if err != nil {
				return err
			}
			return a.runJob(cmd, jobs.MigrateEncoding, dryRun, func(ctx context.Context, _ *slog.Logger) (any, error) {
				return m.Migrate(ctx, dryRun, time.Now())
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", true, "Estimate savings without writing; pass --dry-run=false to re-encode")
	return cmd
}

func (a *app) encodingStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encoding-status",
		Short: "Count images per payload codec",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := do.Invoke[*service.EncodingMigrator](a.injector)
			if err != nil {
				return err
			}
			status, err := m.Status(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), status)
		},
	}
}

func (a *app) reconcileUsageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile-usage",
		Short: "Recompute tag usage counts from the images",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := do.Invoke[*service.UsageReconciler](a.injector)
			if err != nil {
				return err
			}
			return a.runJob(cmd, jobs.ReconcileUsage, false, func(ctx context.Context, _ *slog.Logger) (any, error) {
				return r.Reconcile(ctx, time.Now())
			})
		},
	}
}

func (a *app) backfillCategoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backfill-categories",
		Short: "Assign orphan tags to the default category",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := do.Invoke[*service.CategoryBackfiller](a.injector)
			if err != nil {
				return err
			}
			return a.runJob(cmd, jobs.BackfillCategories, false, func(ctx context.Context, _ *slog.Logger) (any, error) {
				return b.Backfill(ctx, time.Now())
			})
		},
	}
}

func (a *app) deleteImagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-images ID...",
		Short: "Delete images with their prompts and payloads",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := do.Invoke[*service.GalleryService](a.injector)
			if err != nil {
				return err
			}
			return a.runJob(cmd, jobs.DeleteImages, false, func(ctx context.Context, _ *slog.Logger) (any, error) {
				return g.DeleteImages(ctx, args, time.Now())
			})
		},
	}
}

func (a *app) jobsCmd() *cobra.Command {
	var (
		job   string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "jobs [RUN_ID]",
		Short: "Show recorded job runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := do.Invoke[*providers.LedgerHandle](a.injector)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				run, err := l.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), run)
			}
			runs, err := l.Recent(cmd.Context(), job, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), runs)
		},
	}
	cmd.Flags().StringVar(&job, "job", "", "Only runs of this job")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs shown")
	return cmd
}
