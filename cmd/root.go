// Package cmd defines and implements the CLI commands for the leadsniffer
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

	"github.com/JakeFAU/leadsniffer/internal/app"
	"github.com/JakeFAU/leadsniffer/internal/config"
	"github.com/JakeFAU/leadsniffer/internal/logging"
)

var cfgFile string

// appKeyType is the key for storing the App in the command context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. It's a variable so tests can swap in
// a stub factory.
var newApp = func(ctx context.Context, cfgPath string) (*app.App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return app.New(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command. Service construction
// happens in PersistentPreRunE so every subcommand gets a fully built App
// from its context.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "leadsniffer",
		Short: "A lead discovery crawler for developer communities.",
		Long: `leadsniffer crawls configured sources such as Medium tags and
subreddits, extracts author and commenter profiles as sales leads, and
serves them over an HTTP API. Crawls run on a per-source schedule or on
demand, with per-domain rate limiting shared across workers.`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(*app.App); ok && appInstance != nil {
				appInstance.Close()
				_ = appInstance.Logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is built-in defaults plus LEADSNIFFER_* env vars)")

	cmd.AddCommand(newServeCmd())

	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point. It installs signal handling so SIGINT
// and SIGTERM drain workers before exit.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
