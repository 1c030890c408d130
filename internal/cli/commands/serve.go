package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pulsewatch/internal/app"
	"github.com/pulsewatch/internal/config"
	"github.com/pulsewatch/internal/logging"
	"github.com/spf13/cobra"
)

func NewServeCommand(version string) *cobra.Command {
	var configDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the monitoring service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configDir)
			if err != nil {
				return err
			}

			logger, closer := logging.New(cfg.Logging, cmd.OutOrStdout(), version)
			defer closer.Close()

			a, err := app.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to start: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&configDir, "config", "c", "", "Directory containing config.yaml (default: working directory)")
	return cmd
}
