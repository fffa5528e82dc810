package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"inkwell/internal/config"
	"inkwell/internal/daemonrun"
)

func newRootCommand() *cobra.Command {
	var configPath, logLevel string
	var quiet bool

	cmd := &cobra.Command{
		Use:           "inkwelld",
		Short:         "Run the inkwell daemon in the foreground",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, runOptions(cfg, logLevel, quiet))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Configuration file path")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Only write the log file, not stdout")
	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	cfg, _, _, err := config.Load(strings.TrimSpace(path))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return cfg, nil
}

func runOptions(cfg *config.Config, level string, quiet bool) daemonrun.Options {
	level = strings.TrimSpace(level)
	if level == "" && cfg != nil {
		level = cfg.Logging.Level
	}
	return daemonrun.Options{
		LogLevel: level,
		Stdout:   !quiet,
	}
}
