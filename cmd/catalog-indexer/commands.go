package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/utafrali/catalog-indexer/internal/app"
	"github.com/utafrali/catalog-indexer/internal/config"
	"github.com/utafrali/catalog-indexer/internal/domain"
	"github.com/utafrali/catalog-indexer/pkg/logger"
	"github.com/utafrali/catalog-indexer/pkg/validator"
)

var rootCmd = &cobra.Command{
	Use:           "catalog-indexer",
	Short:         "Bulk-index Shopify catalogs into Elasticsearch",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, syncCmd, checkpointCmd)
	checkpointCmd.AddCommand(checkpointShowCmd, checkpointClearCmd)

	syncCmd.Flags().Bool("force", false, "restart from line zero and skip the freshness check")
}

// catalogArg validates the single catalog key argument.
func catalogArg(cmd *cobra.Command, args []string) error {
	if err := cobra.ExactArgs(1)(cmd, args); err != nil {
		return err
	}
	p := struct {
		CatalogKey string `validate:"required,catalogkey"`
	}{CatalogKey: args[0]}
	if err := validator.Validate(p); err != nil {
		return fmt.Errorf("invalid catalog key %q: %w", args[0], err)
	}
	return nil
}

// withApp loads configuration, wires the application and calls fn with a
// context canceled on SIGINT or SIGTERM.
func withApp(fn func(ctx context.Context, a *app.App, log *slog.Logger) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.New("catalog-indexer", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	defer a.Close()

	return fn(ctx, a, log)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- serve ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP operations server and the Kafka sync consumer",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App, log *slog.Logger) error {
			log.Info("starting catalog indexer")
			if err := a.Serve(ctx); err != nil {
				return err
			}
			log.Info("catalog indexer stopped")
			return nil
		})
	},
}

// --- sync ---

var syncCmd = &cobra.Command{
	Use:   "sync <catalog-key>",
	Short: "Run one indexing pass for a catalog",
	Long: `Run one indexing pass for a catalog and print the result.

Examples:
  catalog-indexer sync acme
  catalog-indexer sync acme.myshopify.com --force`,
	Args: catalogArg,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		key := args[0]

		return withApp(func(ctx context.Context, a *app.App, _ *slog.Logger) error {
			ctx = logger.WithCatalogKey(ctx, key)
			res, err := a.Orchestrator().Run(ctx, key, domain.RunOptions{Force: force})
			if res != nil {
				if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
					return perr
				}
			}
			if err != nil {
				return err
			}
			if res.Outcome == domain.OutcomeFailed {
				return fmt.Errorf("sync %s failed: %s", key, res.Error)
			}
			return nil
		})
	},
}

// --- checkpoint ---

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect or clear stored checkpoints",
}

var checkpointShowCmd = &cobra.Command{
	Use:   "show <catalog-key>",
	Short: "Show the lock state and checkpoint of a catalog as JSON",
	Args:  catalogArg,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App, _ *slog.Logger) error {
			st, err := a.Catalogs().Status(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		})
	},
}

var checkpointClearCmd = &cobra.Command{
	Use:   "clear <catalog-key>",
	Short: "Delete the checkpoint so the next run starts from line zero",
	Args:  catalogArg,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App, _ *slog.Logger) error {
			if err := a.Catalogs().ClearCheckpoint(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checkpoint for %s cleared\n", args[0])
			return nil
		})
	},
}
