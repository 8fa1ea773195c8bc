package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"github.com/promptshelf/promptshelf-server/internal/backup"
	"github.com/promptshelf/promptshelf-server/internal/jobs"
)

// zipMagic opens every zip local file header.
var zipMagic = []byte("PK\x03\x04")

func (a *app) exportCmd() *cobra.Command {
	var (
		out     string
		ids     []string
		archive bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export images, prompts and tags as a bundle",
		Long: strings.TrimSpace(`
Writes a versioned JSON bundle, or a zip archive with --archive, to --out
(stdout when omitted). The run report is logged, not printed.
`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			exporter, err := do.Invoke[*backup.Exporter](a.injector)
			if err != nil {
				return err
			}
			runner, err := do.Invoke[*jobs.Runner](a.injector)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("create %s: %w", out, err)
				}
				defer f.Close()
				w = f
			}

			_, err = runner.Run(cmd.Context(), jobs.Export, false, func(ctx context.Context, log *slog.Logger) (any, error) {
				b, err := exporter.Export(ctx, backup.ExportOptions{ImageIDs: ids}, time.Now())
				if err != nil {
					return nil, err
				}
				if archive {
					err = backup.WriteArchive(w, b)
				} else {
					err = printJSON(w, b)
				}
				if err != nil {
					return nil, fmt.Errorf("write bundle: %w", err)
				}
				log.Info("bundle written", slog.String("out", out), slog.Bool("archive", archive))
				return b.Metadata, nil
			})
			return err
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file")
	cmd.Flags().StringSliceVar(&ids, "ids", nil, "Image IDs to export (default: all)")
	cmd.Flags().BoolVar(&archive, "archive", false, "Write a zip archive instead of JSON")
	return cmd
}

func (a *app) importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Import a JSON bundle or zip archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			importer, err := do.Invoke[*backup.Importer](a.injector)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}

			return a.runJob(cmd, jobs.Import, false, func(ctx context.Context, _ *slog.Logger) (any, error) {
				if bytes.HasPrefix(data, zipMagic) {
					return importer.ImportArchive(ctx, bytes.NewReader(data), int64(len(data)), time.Now())
				}
				return importer.Import(ctx, data, time.Now())
			})
		},
	}
}
