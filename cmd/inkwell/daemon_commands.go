package main

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"inkwell/internal/api"
	"inkwell/internal/config"
	"inkwell/internal/daemonctl"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the inkwell daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			result, err := daemonctl.EnsureStarted(cmd.Context(), cfg, exe, daemonLaunchOptions(ctx, cfg), 10*time.Second)
			if err != nil {
				return err
			}

			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintf(stdout, "Daemon started (pid %d)\n", result.PID)
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintf(stdout, "Daemon already running (pid %d)\n", result.PID)
			}
			return nil
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the inkwell daemon (completely terminates the process)",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(cmd.Context(), ctx.configValue(), 5*time.Second)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill {
				fmt.Fprintf(stdout, "Daemon did not exit in time, killed pid %d\n", result.PID)
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, book and work queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := daemonctl.BuildStatusSnapshot(cmd.Context(), ctx.configValue())
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, snap)
			}
			printStatus(cmd.OutOrStdout(), snap)
			return nil
		},
	}

	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the inkwell daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			result, err := daemonctl.Restart(cmd.Context(), cfg, exe, daemonLaunchOptions(ctx, cfg), 5*time.Second, 10*time.Second)
			if err != nil {
				return err
			}
			if result.WasRunning {
				if result.Stop.ForcedKill {
					fmt.Fprintf(stdout, "Daemon did not exit in time, killed pid %d\n", result.Stop.PID)
				}
				fmt.Fprintln(stdout, "Daemon stopped")
			}
			fmt.Fprintf(stdout, "Daemon restarted (pid %d)\n", result.Start.PID)
			return nil
		},
	}

	return []*cobra.Command{startCmd, stopCmd, restartCmd, statusCmd}
}

func printStatus(stdout io.Writer, snap daemonctl.Snapshot) {
	colorize := shouldColorize(stdout)

	printSectionHeader(stdout, "System Status", colorize)
	for _, check := range snap.Checks {
		fmt.Fprintln(stdout, renderStatusLine(check.Name, statusKindFromSeverity(check.Severity), check.Detail, colorize))
	}
	fmt.Fprintln(stdout)

	printSectionHeader(stdout, "Books", colorize)
	if rows := buildBookStatusRows(snap.Status.Books); len(rows) > 0 {
		fmt.Fprint(stdout, renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
	} else {
		fmt.Fprintln(stdout, "No books")
	}
	fmt.Fprintln(stdout)

	printSectionHeader(stdout, "Work Queues", colorize)
	rows := buildQueueRows(snap.Status.Workflow.QueueStats)
	if len(rows) == 0 {
		fmt.Fprintln(stdout, "Work queues are empty")
		return
	}
	fmt.Fprint(stdout, renderTable(
		[]string{"Queue", "Pending", "Leased", "Done", "Failed"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight},
	))
}

func buildBookStatusRows(counts map[string]int) [][]string {
	rows := make([][]string, 0, len(counts))
	for _, status := range slices.Sorted(maps.Keys(counts)) {
		if counts[status] == 0 {
			continue
		}
		rows = append(rows, []string{statusLabel(status), strconv.Itoa(counts[status])})
	}
	return rows
}

func buildQueueRows(stats map[string]api.QueueStats) [][]string {
	rows := make([][]string, 0, len(stats))
	for _, name := range slices.Sorted(maps.Keys(stats)) {
		s := stats[name]
		rows = append(rows, []string{
			name,
			strconv.Itoa(s.Pending),
			strconv.Itoa(s.Leased),
			strconv.Itoa(s.Done),
			strconv.Itoa(s.Failed),
		})
	}
	return rows
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

func daemonLaunchOptions(ctx *commandContext, cfg *config.Config) daemonctl.LaunchOptions {
	return daemonctl.LaunchOptions{
		ConfigPath: ctx.configFlagValue(),
		LogLevel:   ctx.resolvedLogLevel(cfg),
	}
}
