package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// newServeCmd creates the 'serve' subcommand, which runs the HTTP API,
// the worker pool, and the crawl scheduler until interrupted.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the lead discovery service",
		Long: `Starts the HTTP API together with the job worker pool and, when
enabled, the cron scheduler that starts crawls for sources whose
interval has elapsed. The process drains cleanly on SIGINT/SIGTERM.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("run service: %w", err)
			}
			return nil
		},
	}
}
