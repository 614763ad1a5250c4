package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/signetai/signetd/internal/daemon"
	"github.com/signetai/signetd/internal/ui"
)

var daemonsCmd = &cobra.Command{
	Use:   "daemons",
	Short: "List and manage running daemons across workspaces",
	RunE:  runDaemonsList,
}

var daemonsStopCmd = &cobra.Command{
	Use:   "stop [workspace]",
	Short: "Stop the daemon for a workspace (default: the current one)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		reg, err := daemon.NewRegistry()
		if err != nil {
			return err
		}
		dir := ""
		if len(args) > 0 {
			dir = args[0]
		}
		info, err := daemon.FindForWorkspace(ctx, reg, dir)
		if err != nil {
			return err
		}
		if info == nil {
			return fmt.Errorf("no daemon registered for this workspace")
		}
		if err := daemon.Stop(*info); err != nil {
			return err
		}
		reg.Unregister(info.Workspace, info.PID)
		if jsonOutput() {
			return printJSON(map[string]any{"workspace": info.Workspace, "pid": info.PID, "status": "stopped"})
		}
		printf("Stopped daemon for %s (pid %d)\n", info.Workspace, info.PID)
		return nil
	},
}

func runDaemonsList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	reg, err := daemon.NewRegistry()
	if err != nil {
		return err
	}
	infos, err := daemon.Discover(ctx, reg)
	if err != nil {
		return err
	}
	if jsonOutput() {
		return printJSON(map[string]any{"count": len(infos), "daemons": infos})
	}
	if len(infos) == 0 {
		printf("No daemons running.\n")
		return nil
	}
	for _, d := range infos {
		state := "dead"
		if d.Alive {
			state = fmt.Sprintf("up %s", (time.Duration(d.UptimeMs) * time.Millisecond).Round(time.Second))
		}
		line := fmt.Sprintf("%-40s %-21s pid %-7d %s",
			ui.Truncate(d.Workspace, 40), d.Addr, d.PID, state)
		printf("%s\n", line)
	}
	return nil
}

func init() {
	daemonsCmd.AddCommand(daemonsStopCmd)
	rootCmd.AddCommand(daemonsCmd)
}
