// Package cmd defines and implements the CLI commands of the tripscrape
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/app"
	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/config"
	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. It is a variable so tests can swap
// in a container built from a fixed configuration.
var newApp = func(_ context.Context, cfgPath string) (*app.App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return app.New(cfg, logger)
}

type rootOptions struct {
	cfgFile string
	app     *app.App
}

// newRootCmd creates and configures the root command.
func newRootCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tripscrape",
		Short: "Collects restaurant listings for the cities of the directory.",
		Long: `tripscrape resolves upstream geo ids for directory cities, records how many
restaurants each city lists, queues the paginated listing pages, drains that
queue into the directory API, and enriches single restaurants from their
rendered detail pages.`,
		SilenceUsage: true,

		// Builds the services after flags are parsed and before the
		// subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			instance, err := newApp(cmd.Context(), opts.cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			opts.app = instance
			if err := instance.StartOps(cmd.Context()); err != nil {
				return fmt.Errorf("start ops server: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, instance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (yaml, toml or json)")

	cmd.AddCommand(
		newGeoIDsCmd(),
		newResultsCmd(),
		newLinksCmd(),
		newScrapeCmd(),
		newDetailsCmd(),
		newAuditCmd(),
		newQueueCmd(),
	)
	return cmd
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the running
// command; queued work stays in the queue for the next run.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := &rootOptions{}
	err := newRootCmd(opts).ExecuteContext(ctx)
	if opts.app != nil {
		_ = opts.app.Close()
		_ = opts.app.Logger.Sync()
	}
	if err != nil {
		if opts.app != nil {
			opts.app.Logger.Error("command failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, "tripscrape:", err)
		}
		stop()
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (*app.App, error) {
	instance, ok := ctx.Value(appKey).(*app.App)
	if !ok || instance == nil {
		return nil, errors.New("application services not initialized")
	}
	return instance, nil
}

// interrupted reports whether err only says the run was stopped by a signal.
func interrupted(err error) bool {
	return errors.Is(err, context.Canceled)
}
