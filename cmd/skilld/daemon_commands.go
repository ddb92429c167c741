package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"skilld/internal/daemonctl"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the connection daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			facade, err := ctx.facade()
			if err != nil {
				return err
			}

			if _, err := facade.Status(cmd.Context()); err == nil {
				fmt.Fprintln(stdout, "Daemon already running")
				return nil
			} else if !errors.Is(err, daemonctl.ErrNotRunning) {
				return err
			}

			fmt.Fprintln(stdout, "Daemon not running, launching...")
			client, err := facade.EnsureRunning(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()
			fmt.Fprintln(stdout, "Daemon started")
			return nil
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the connection daemon and its tool server",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			facade, err := ctx.facade()
			if err != nil {
				return err
			}
			stopped, err := facade.Stop(cmd.Context())
			if err != nil {
				return err
			}
			if !stopped {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and tool server status",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			facade, err := ctx.facade()
			if err != nil {
				return err
			}
			status, err := facade.Status(cmd.Context())
			if errors.Is(err, daemonctl.ErrNotRunning) {
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{"running": false})
				}
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}

			if ctx.jsonOutput() {
				return writeJSON(cmd, status)
			}

			fmt.Fprintf(stdout, "State:        %s\n", status.State)
			fmt.Fprintf(stdout, "PID:          %d\n", status.PID)
			fmt.Fprintf(stdout, "Address:      %s\n", status.Address)
			fmt.Fprintf(stdout, "Uptime:       %s\n", (time.Duration(status.UptimeSeconds) * time.Second).String())
			if status.IdleTimeoutSeconds > 0 {
				fmt.Fprintf(stdout, "Idle:         %s (shutdown after %s)\n",
					(time.Duration(status.IdleSeconds) * time.Second).String(),
					(time.Duration(status.IdleTimeoutSeconds) * time.Second).String())
			} else {
				fmt.Fprintf(stdout, "Idle:         %s (idle shutdown disabled)\n",
					(time.Duration(status.IdleSeconds) * time.Second).String())
			}
			fmt.Fprintf(stdout, "Server:       %s %s\n", status.ServerName, status.ServerVersion)
			fmt.Fprintf(stdout, "Tools:        %d\n", status.ToolCount)
			fmt.Fprintf(stdout, "Calls:        %d total, %d failed\n", status.TotalCalls, status.FailedCalls)
			if status.LastError != "" {
				fmt.Fprintf(stdout, "Last error:   %s\n", status.LastError)
			}
			return nil
		},
	}

	return []*cobra.Command{startCmd, stopCmd, statusCmd}
}
