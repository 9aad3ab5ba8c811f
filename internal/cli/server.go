package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cookieguard/cookieguard/internal/logging"
	"github.com/cookieguard/cookieguard/internal/server"
	"github.com/spf13/cobra"
)

func newServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the cookieguard HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadLocalConfig(configFlag(cmd))
			if err != nil {
				return err
			}
			logger := logging.New(cfg.Logging, cmd.ErrOrStderr())

			s, err := server.New(cfg, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			return s.Run(ctx)
		},
	}
	return cmd
}
