package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/loykin/affinityd"
	"github.com/loykin/affinityd/internal/logger"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
	LogLevel   string
}

// app carries state prepared by the root command's pre-run hook.
type app struct {
	flags  GlobalFlags
	cfg    affinityd.Config
	closer io.Closer
	// quietConsole sends console logs nowhere; used by the full-screen UI
	quietConsole bool
}

func buildRoot() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "affinityd",
		Short: "Keep a process pinned to a chosen set of CPUs",
		Long: `affinityd watches for a target process and keeps its CPU affinity
equal to a saved selection, correcting drift every few seconds.

Examples:
  affinityd serve                              # run the reconciliation daemon
  affinityd config set --process game.exe --cpus 0-3,8
  affinityd config toggle --cpu 2 --off
  affinityd status                             # query a running daemon
  affinityd ui                                 # terminal editor with live status`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.closer != nil {
				return a.closer.Close()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&a.flags.LogLevel, "log-level", "", "override log level (debug, info, warn, error)")

	root.AddCommand(
		createServeCommand(a),
		createConfigCommand(a),
		createStatusCommand(a),
		createUICommand(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := affinityd.LoadConfig(a.flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if a.flags.LogLevel != "" {
		cfg.Log.Level = a.flags.LogLevel
	}
	if cmd.Annotations[annotationQuiet] == "true" {
		a.quietConsole = true
	}
	lc := cfg.Log
	lc.Stderr = cmd.ErrOrStderr()
	if a.quietConsole {
		lc.Stderr = io.Discard
	}
	l, closer, err := logger.New(lc)
	if err != nil {
		return fmt.Errorf("error configuring logging: %w", err)
	}
	slog.SetDefault(l)
	a.cfg = cfg
	a.closer = closer
	return nil
}

// annotationQuiet marks commands that own the terminal.
const annotationQuiet = "affinityd/quiet-console"
