package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/forum-lead-crawler/internal/config"
)

// newServeCmd creates the 'serve' subcommand: the interval loop plus the
// operator HTTP API. Edits to the config file swap sources and classifier
// settings without a restart.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run passes on an interval and serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, err := resolveEnv(ctx)
			if err != nil {
				return err
			}
			app, err := buildApp(ctx, e.cfg, e.logger)
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			defer app.Close(context.Background())

			if e.cfgPath != "" {
				_, err := config.Watch(e.cfgPath, e.logger.Named("config"), func(next config.Config) {
					if err := app.Reload(next); err != nil {
						e.logger.Warn("config reload rejected", zap.Error(err))
						return
					}
					e.logger.Info("config reloaded", zap.Int("sources", len(app.Pipeline().Sources())))
				})
				if err != nil {
					return fmt.Errorf("watch config: %w", err)
				}
			}
			return app.Serve(ctx)
		},
	}
}
