package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/loykin/affinityd"
	"github.com/loykin/affinityd/internal/ui"
)

func createUICommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ui",
		Short: "Edit the CPU selection in a terminal UI while the worker runs",
		Long: `Run the reconciliation worker in this process and open a terminal UI
for choosing the target process and CPUs. Console logging is disabled while
the UI owns the terminal; configure [log.file] to keep logs.`,
		Annotations: map[string]string{annotationQuiet: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runUI(ctx, a)
		},
	}
	return cmd
}

func runUI(ctx context.Context, a *app) error {
	d, err := affinityd.Open(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	defer func() { _ = d.Close() }()
	if err := d.Start(ctx); err != nil {
		return err
	}

	sub := d.Heartbeats().Subscribe()
	defer sub.Close()
	m := ui.NewModel(ctx, d.Store(), sub, d.CPUCount(ctx))
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = p.Run()
	if err != nil && ctx.Err() != nil {
		// interrupted by a signal
		return nil
	}
	return err
}
