package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"inkwell/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		lines     int
		follow    bool
		raw       bool
		filter    logs.Filter
		bookValue string
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the daemon log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(bookValue) != "" {
				id, err := parseID(bookValue, "book")
				if err != nil {
					return err
				}
				filter.BookID = id
			}

			out := cmd.OutOrStdout()
			emit := func(line string) {
				if !raw {
					line = logs.Format(line)
				}
				fmt.Fprintln(out, line)
			}

			path := cfg.LogPath()
			result, err := logs.Tail(cmd.Context(), path, logs.TailOptions{
				Offset: -1,
				Limit:  lines,
				Filter: filter,
			})
			if err != nil {
				return err
			}
			for _, line := range result.Lines {
				emit(line)
			}
			if !follow {
				if len(result.Lines) == 0 {
					fmt.Fprintf(cmd.ErrOrStderr(), "No log lines in %s\n", path)
				}
				return nil
			}
			return logs.Follow(cmd.Context(), path, result.Offset, filter, emit)
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print raw JSON lines")
	cmd.Flags().StringVar(&filter.MinLevel, "level", "", "Minimum level (debug, info, warn, error)")
	cmd.Flags().StringVar(&filter.Component, "component", "", "Only lines from this component")
	cmd.Flags().StringVar(&bookValue, "book", "", "Only lines for this book id")
	cmd.Flags().StringVar(&filter.Search, "search", "", "Only lines containing this text")
	return cmd
}
