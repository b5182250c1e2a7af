package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/affinityd/pkg/client"
)

// StatusFlags holds flags for the status command
type StatusFlags struct {
	APIUrl     string
	APITimeout time.Duration
	JSON       bool
	Insecure   bool
	CACert     string
}

func createStatusCommand(a *app) *cobra.Command {
	flags := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of a running daemon",
		Long: `Query a running daemon's HTTP API for worker liveness and sync state.
The address defaults to [server].listen and [server].base_path.

Examples:
  affinityd status
  affinityd status --api-url http://127.0.0.1:7878/api --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			url := flags.APIUrl
			if url == "" {
				scheme := "http://"
				if a.cfg.Server.TLS.Enabled {
					scheme = "https://"
				}
				url = scheme + a.cfg.Server.Listen + a.cfg.Server.BasePath
			}
			c, err := client.New(client.Config{
				BaseURL:  url,
				Timeout:  flags.APITimeout,
				Insecure: flags.Insecure,
				CACert:   flags.CACert,
			})
			if err != nil {
				return err
			}
			st, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			if flags.JSON {
				return printJSON(cmd.OutOrStdout(), st)
			}
			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(w, "Worker: %s\nSync:   %s\n", st.Worker, st.Sync)
			if st.Heartbeat != nil {
				_, _ = fmt.Fprintf(w, "Last:   %s\n", st.Heartbeat.At.Local().Format(time.RFC3339))
				if st.Heartbeat.Error != "" {
					_, _ = fmt.Fprintf(w, "Error:  %s\n", st.Heartbeat.Error)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", "", "daemon API base URL")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 5*time.Second, "request timeout")
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "print JSON")
	cmd.Flags().BoolVar(&flags.Insecure, "insecure", false, "skip TLS certificate verification")
	cmd.Flags().StringVar(&flags.CACert, "ca-cert", "", "PEM certificate to trust, e.g. the daemon's generated cert")
	return cmd
}
