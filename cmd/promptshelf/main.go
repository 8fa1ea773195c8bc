// Command promptshelf runs the gallery maintenance jobs against a data
// directory: export and import bundles, migrate payload encodings, reconcile
// tag usage and backfill tag categories. Every job is recorded in the job ledger.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"github.com/promptshelf/promptshelf-server/internal/config"
	"github.com/promptshelf/promptshelf-server/internal/di"
)

// app carries the container built by the root command for its subcommands.
type app struct {
	injector *do.RootScope
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{}
	goFlags := flag.NewFlagSet("promptshelf", flag.ContinueOnError)
	flags := config.RegisterFlags(goFlags)

	root := &cobra.Command{
		Use:   "promptshelf",
		Short: "Maintain a PromptShelf gallery",
		Long: strings.TrimSpace(`
Runs maintenance jobs against the gallery stored under --data-path.
The server must not be running: the document store allows a single writer.
`),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := flags.Load()
			if err != nil {
				return err
			}
			a.injector = di.NewContainer(cfg, "cli")
			return nil
		},
	}
	root.PersistentFlags().AddGoFlagSet(goFlags)

	root.AddCommand(
		a.exportCmd(),
		a.importCmd(),
		a.migrateEncodingCmd(),
		a.encodingStatusCmd(),
		a.reconcileUsageCmd(),
		a.backfillCategoriesCmd(),
		a.deleteImagesCmd(),
		a.jobsCmd(),
	)
	return root, a
}

func (a *app) shutdown() error {
	if a.injector == nil {
		return nil
	}
	err := di.Shutdown(a.injector)
	a.injector = nil
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	root, a := newRootCmd()
	err := root.ExecuteContext(ctx)
	stop()
	if sErr := a.shutdown(); sErr != nil && err == nil {
		err = sErr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
