package testsupport

import (
	"path/filepath"
	"testing"

	"inkwell/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Timing knobs are shortened so orchestrator tests finish quickly.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Workflow.PollInterval = 1
	cfgVal.Workflow.RetryDelaySeconds = 0
	cfgVal.Workflow.LeaseSeconds = 30
	cfgVal.Workflow.HeartbeatInterval = 1
	cfgVal.LLM.APIKey = "test"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithAdmissionCap overrides the per-book admission cap.
func WithAdmissionCap(limit int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.AdmissionCap = limit
	}
}

// WithMaxUnitAttempts overrides how many times a work unit is attempted.
func WithMaxUnitAttempts(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.MaxUnitAttempts = n
	}
}

// WithConsistencyEvery overrides the consistency sweep interval in chapters.
func WithConsistencyEvery(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.ConsistencyEvery = n
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
