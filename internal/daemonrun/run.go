// Package daemonrun hosts the foreground daemon process used by
// `inkwell daemon` and the standalone inkwelld binary.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"inkwell/internal/config"
	"inkwell/internal/daemon"
	"inkwell/internal/logging"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// Stdout mirrors the log to the terminal in addition to the log file.
	Stdout bool
}

// Run starts the daemon and blocks until ctx is cancelled or the process
// receives SIGINT/SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := newLogger(cfg, opts)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logConfigSnapshot(logger, cfg)

	rt, err := daemon.BuildRuntime(signalCtx, cfg, logger, daemon.RuntimeOptions{})
	if err != nil {
		logger.Error("build runtime", logging.Error(err))
		return err
	}

	d, err := daemon.New(cfg, rt, logger)
	if err != nil {
		_ = rt.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the lock file, api_bind and database access"),
		)
		return err
	}

	// written only once the lock is held so a losing instance never clobbers it
	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	<-signalCtx.Done()
	logger.Info("inkwell daemon shutting down")
	return nil
}

func newLogger(cfg *config.Config, opts Options) (*slog.Logger, error) {
	level := strings.TrimSpace(opts.LogLevel)
	if level == "" {
		level = cfg.Logging.Level
	}
	outputs := []string{cfg.LogPath()}
	if opts.Stdout {
		outputs = append([]string{"stdout"}, outputs...)
	}
	format := cfg.Logging.Format
	if !opts.Stdout {
		// the file is the only sink; keep it machine readable for `inkwell logs`
		format = "json"
	}
	return logging.New(logging.Options{
		Level:            level,
		Format:           format,
		OutputPaths:      outputs,
		ErrorOutputPaths: outputs,
		Development:      opts.Development,
	})
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	backend := cfg.WorkQueue.Backend
	if backend == "" {
		backend = "sqlite"
	}
	logger.Info("configuration snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.String("data_dir", cfg.Paths.DataDir),
		logging.String("api_bind", cfg.Paths.APIBind),
		logging.Bool("api_token_present", strings.TrimSpace(cfg.Paths.APIToken) != ""),
		logging.String("workqueue_backend", backend),
		logging.Bool("llm_key_present", strings.TrimSpace(cfg.LLM.APIKey) != ""),
		logging.String("llm_model", cfg.LLM.Model),
		logging.Bool("scoring_enabled", cfg.Scoring.Enabled),
		logging.Bool("ntfy_configured", strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""),
		logging.Int("admission_cap", cfg.Workflow.AdmissionCap),
		logging.Bool("metrics_enabled", cfg.Metrics.Enabled),
	)
	if strings.TrimSpace(cfg.LLM.APIKey) == "" {
		logging.WarnWithContext(logger, "llm api key missing", "llm_unconfigured",
			logging.String(logging.FieldErrorHint, "set llm.api_key in the config file"),
			logging.String(logging.FieldImpact, "chapter generation units will park chapters in generation_failed"),
		)
	}
}
