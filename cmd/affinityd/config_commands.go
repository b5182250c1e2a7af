package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/loykin/affinityd/internal/cpuset"
	"github.com/loykin/affinityd/internal/store"
	"github.com/loykin/affinityd/internal/store/factory"
	"github.com/loykin/affinityd/internal/topology"
)

// ConfigSetFlags holds flags for config set
type ConfigSetFlags struct {
	Process string
	CPUs    string
}

// ConfigToggleFlags holds flags for config toggle
type ConfigToggleFlags struct {
	CPU int
	On  bool
	Off bool
}

func createConfigCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or edit the saved target process and CPU selection",
	}
	cmd.AddCommand(
		createConfigShowCommand(a),
		createConfigSetCommand(a),
		createConfigToggleCommand(a),
	)
	return cmd
}

func createConfigShowCommand(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the saved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), a, func(ctx context.Context, st store.Store, n int) error {
				cfg, err := st.Load(ctx, n)
				if err != nil {
					return err
				}
				return printConfig(cmd.OutOrStdout(), cfg, asJSON)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func createConfigSetCommand(a *app) *cobra.Command {
	flags := &ConfigSetFlags{}
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Replace the target process and/or CPU selection",
		Long: `Replace the saved configuration. Omitted flags keep their saved value.

Examples:
  affinityd config set --process iRacingSim64DX11.exe
  affinityd config set --cpus 0-3,8
  affinityd config set --cpus ""        # select no CPUs`,
		RunE: func(cmd *cobra.Command, args []string) error {
			processSet := cmd.Flags().Changed("process")
			cpusSet := cmd.Flags().Changed("cpus")
			if !processSet && !cpusSet {
				return errors.New("nothing to change: pass --process and/or --cpus")
			}
			return withStore(cmd.Context(), a, func(ctx context.Context, st store.Store, n int) error {
				cfg, err := st.Load(ctx, n)
				if err != nil {
					return err
				}
				if processSet {
					cfg.ProcessName = flags.Process
				}
				if cpusSet {
					sel, err := parseSelection(flags.CPUs, n)
					if err != nil {
						return err
					}
					cfg.Selections = sel
				}
				if err := st.Save(ctx, cfg); err != nil {
					return err
				}
				return printConfig(cmd.OutOrStdout(), cfg, false)
			})
		},
	}
	cmd.Flags().StringVar(&flags.Process, "process", "", "executable name of the target process")
	cmd.Flags().StringVar(&flags.CPUs, "cpus", "", "CPU list, e.g. 0-3,8")
	return cmd
}

func createConfigToggleCommand(a *app) *cobra.Command {
	flags := &ConfigToggleFlags{}
	cmd := &cobra.Command{
		Use:   "toggle",
		Short: "Select or deselect one CPU",
		Long: `Select (--on) or deselect (--off) one CPU in the saved selection.

Examples:
  affinityd config toggle --cpu 2 --off
  affinityd config toggle --cpu 2 --on`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.On == flags.Off {
				return errors.New("exactly one of --on or --off is required")
			}
			return withStore(cmd.Context(), a, func(ctx context.Context, st store.Store, n int) error {
				cfg, err := st.Load(ctx, n)
				if err != nil {
					return err
				}
				if err := cfg.Selections.Toggle(flags.CPU, flags.On); err != nil {
					return err
				}
				if err := st.Save(ctx, cfg); err != nil {
					return err
				}
				return printConfig(cmd.OutOrStdout(), cfg, false)
			})
		},
	}
	cmd.Flags().IntVar(&flags.CPU, "cpu", -1, "CPU index")
	cmd.Flags().BoolVar(&flags.On, "on", false, "select the CPU")
	cmd.Flags().BoolVar(&flags.Off, "off", false, "deselect the CPU")
	_ = cmd.MarkFlagRequired("cpu")
	cmd.MarkFlagsMutuallyExclusive("on", "off")
	return cmd
}

// cpuCount is the number of selectable CPUs; tests override it.
var cpuCount = topology.LogicalCPUs

// onlineCPUs lists the CPUs the kernel has online, nil when unknown.
var onlineCPUs = topology.Online

func withStore(ctx context.Context, a *app, fn func(ctx context.Context, st store.Store, n int) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := factory.NewFromDSN(a.cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()
	if err := st.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("prepare store: %w", err)
	}
	return fn(ctx, st, cpuCount(ctx))
}

func parseSelection(list string, n int) (cpuset.Selection, error) {
	idx, err := cpuset.ParseList(list)
	if err != nil {
		return cpuset.Selection{}, err
	}
	sel := cpuset.New(n)
	for _, i := range idx {
		if err := sel.Toggle(i, true); err != nil {
			return cpuset.Selection{}, err
		}
	}
	return sel, nil
}

type configView struct {
	ProcessName string `json:"process_name"`
	CPUs        []int  `json:"cpus"`
	CPUCount    int    `json:"cpu_count"`
	List        string `json:"list"`
	Online      string `json:"online,omitempty"`
}

func printConfig(w io.Writer, cfg store.Configuration, asJSON bool) error {
	if asJSON {
		cpus := cfg.Selections.Indices()
		if cpus == nil {
			cpus = []int{}
		}
		return printJSON(w, configView{
			ProcessName: cfg.ProcessName,
			CPUs:        cpus,
			CPUCount:    cfg.Selections.CPUCount(),
			List:        cpuset.FormatList(cpus),
			Online:      cpuset.FormatList(onlineCPUs()),
		})
	}
	if _, err := fmt.Fprintf(w, "Process: %s\n%s\n", cfg.ProcessName, cfg.Selections.Title()); err != nil {
		return err
	}
	if online := onlineCPUs(); len(online) > 0 {
		_, err := fmt.Fprintf(w, "Online:  %s\n", cpuset.FormatList(online))
		return err
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
