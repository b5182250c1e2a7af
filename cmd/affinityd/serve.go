package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loykin/affinityd"
)

// ServeFlags holds flags for the serve command
type ServeFlags struct {
	Listen string
	NoHTTP bool
}

func createServeCommand(a *app) *cobra.Command {
	flags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reconciliation daemon",
		Long: `Run the reconciliation worker until interrupted. The HTTP API starts
when [server].enabled is set or --listen is given.

Examples:
  affinityd serve
  affinityd serve --listen 127.0.0.1:7878
  affinityd serve --config /etc/affinityd.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, a, flags)
		},
	}
	cmd.Flags().StringVar(&flags.Listen, "listen", "", "HTTP listen address; enables the API")
	cmd.Flags().BoolVar(&flags.NoHTTP, "no-http", false, "disable the HTTP API even if configured")
	return cmd
}

func runServe(ctx context.Context, a *app, flags *ServeFlags, opts ...affinityd.Option) error {
	cfg := a.cfg
	if flags.Listen != "" {
		cfg.Server.Enabled = true
		cfg.Server.Listen = flags.Listen
	}
	if flags.NoHTTP {
		cfg.Server.Enabled = false
	}
	d, err := affinityd.Open(ctx, cfg, opts...)
	if err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	return d.Run(ctx)
}
