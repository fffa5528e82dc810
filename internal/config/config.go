package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// WorkQueue selects the backend that stores dispatched work units.
type WorkQueue struct {
	// Backend is "sqlite" (default) or "redis".
	Backend string `toml:"backend"`
	// Path overrides the SQLite work queue file. Defaults to <data_dir>/workqueue.db.
	Path string `toml:"path"`
}

// Redis contains connection settings for the redis work queue backend.
type Redis struct {
	Addr               string `toml:"addr"`
	Password           string `toml:"password"`
	DB                 int    `toml:"db"`
	KeyPrefix          string `toml:"key_prefix"`
	DialTimeoutSeconds int    `toml:"dial_timeout_seconds"`
}

// Workflow contains orchestrator timing, admission, and retry settings.
type Workflow struct {
	AdmissionInterval   int `toml:"admission_interval"`
	AdmissionCap        int `toml:"admission_cap"`
	PollInterval        int `toml:"poll_interval"`
	ContentWorkers      int `toml:"content_workers"`
	QualityWorkers      int `toml:"quality_workers"`
	ExportWorkers       int `toml:"export_workers"`
	NotificationWorkers int `toml:"notification_workers"`
	RetryDelaySeconds   int `toml:"retry_delay_seconds"`
	MaxUnitAttempts     int `toml:"max_unit_attempts"`
	LeaseSeconds        int `toml:"lease_seconds"`
	HeartbeatInterval   int `toml:"heartbeat_interval"`
	ConsistencyEvery    int `toml:"consistency_every"`
}

// Quality contains the export gate thresholds. Both bounds are exclusive.
type Quality struct {
	MaxAIScore         float64  `toml:"max_ai_score"`
	MaxPlagiarismScore float64  `toml:"max_plagiarism_score"`
	RequiredChecklist  []string `toml:"required_checklist"`
}

// Pricing contains the phase engine prices and thresholds applied to newly
// created strategies.
type Pricing struct {
	LaunchPrice               float64 `toml:"launch_price"`
	GrowthPrice               float64 `toml:"growth_price"`
	MaturePrice               float64 `toml:"mature_price"`
	PromoPrice                float64 `toml:"promo_price"`
	ReviewsThresholdForGrowth int     `toml:"reviews_threshold_for_growth"`
	DaysInLaunchPhase         int     `toml:"days_in_launch_phase"`
	DaysBetweenPromotions     int     `toml:"days_between_promotions"`
	MatureAfterDays           int     `toml:"mature_after_days"`
	MatureAfterReviews        int     `toml:"mature_after_reviews"`
	PromoDurationDays         int     `toml:"promo_duration_days"`
	SweepInterval             int     `toml:"sweep_interval"`
}

// LLM contains text generation provider settings.
type LLM struct {
	APIKey             string  `toml:"api_key"`
	BaseURL            string  `toml:"base_url"`
	Model              string  `toml:"model"`
	TimeoutSeconds     int     `toml:"timeout_seconds"`
	InputCostPer1K     float64 `toml:"input_cost_per_1k"`
	OutputCostPer1K    float64 `toml:"output_cost_per_1k"`
	ChapterMaxTokens   int     `toml:"chapter_max_tokens"`
	WriteTemperature   float64 `toml:"write_temperature"`
	RewriteTemperature float64 `toml:"rewrite_temperature"`
}

// Scoring contains the AI-detection and plagiarism scoring endpoint.
type Scoring struct {
	Enabled        bool   `toml:"enabled"`
	URL            string `toml:"url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic        string `toml:"ntfy_topic"`
	RequestTimeout   int    `toml:"request_timeout"`
	ExportReady      bool   `toml:"export_ready"`
	GenerationFailed bool   `toml:"generation_failed"`
	Pricing          bool   `toml:"pricing"`
	Consistency      bool   `toml:"consistency"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Metrics controls the Prometheus endpoint exposed by the daemon.
type Metrics struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Config encapsulates all configuration values for Inkwell.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories and API bind address
//   - WorkQueue, Redis: where dispatched work units live
//   - Workflow: admission control, worker lanes, retry policy
//   - Quality: export gate thresholds and required checklist
//   - Pricing: phase prices and transition thresholds
//   - LLM, Scoring: external provider credentials
//   - Notifications: ntfy push notification settings
//   - Logging, Metrics: observability
type Config struct {
	Paths         Paths         `toml:"paths"`
	WorkQueue     WorkQueue     `toml:"workqueue"`
	Redis         Redis         `toml:"redis"`
	Workflow      Workflow      `toml:"workflow"`
	Quality       Quality       `toml:"quality"`
	Pricing       Pricing       `toml:"pricing"`
	LLM           LLM           `toml:"llm"`
	Scoring       Scoring       `toml:"scoring"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
	Metrics       Metrics       `toml:"metrics"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/inkwell/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("inkwell.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the catalog database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, defaultDatabaseFile)
}

// WorkQueuePath returns the SQLite work queue location.
func (c *Config) WorkQueuePath() string {
	if strings.TrimSpace(c.WorkQueue.Path) != "" {
		return c.WorkQueue.Path
	}
	return filepath.Join(c.Paths.DataDir, defaultWorkQueueFile)
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "inkwelld.lock")
}

// PIDPath returns the file holding the running daemon's process ID.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.DataDir, "inkwelld.pid")
}

// LogPath returns the JSON log file the daemon appends to.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.LogDir, "inkwell.log")
}

// RetryDelay returns the base backoff between provider attempts.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Workflow.RetryDelaySeconds) * time.Second
}

// Lease returns how long a claimed work unit stays invisible to other workers.
func (c *Config) Lease() time.Duration {
	return time.Duration(c.Workflow.LeaseSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// RedactedTOML renders the effective configuration with secrets masked.
func (c *Config) RedactedTOML() ([]byte, error) {
	clone := *c
	for _, secret := range []*string{&clone.Paths.APIToken, &clone.Redis.Password, &clone.LLM.APIKey, &clone.Scoring.APIKey} {
		if *secret != "" {
			*secret = "********"
		}
	}
	data, err := toml.Marshal(clone)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
