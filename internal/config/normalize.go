package config

import (
	"fmt"
	"os"
	"strings"
)

var defaultRequiredChecklist = []string{
	"ai_disclosure",
	"copyright_check",
	"trademark_check",
	"derivative_check",
	"quality_check",
	"metadata_locked",
}

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeWorkQueue(); err != nil {
		return err
	}
	c.normalizeLLM()
	c.normalizeQuality()
	c.normalizeLogging()
	c.normalizeMetrics()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("INKWELL_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeWorkQueue() error {
	c.WorkQueue.Backend = strings.ToLower(strings.TrimSpace(c.WorkQueue.Backend))
	if c.WorkQueue.Backend == "" {
		c.WorkQueue.Backend = defaultWorkQueueBackend
	}
	if strings.TrimSpace(c.WorkQueue.Path) != "" {
		expanded, err := expandPath(c.WorkQueue.Path)
		if err != nil {
			return fmt.Errorf("workqueue.path: %w", err)
		}
		c.WorkQueue.Path = expanded
	}
	if value, ok := os.LookupEnv("INKWELL_REDIS_ADDR"); ok && strings.TrimSpace(value) != "" {
		c.Redis.Addr = strings.TrimSpace(value)
	}
	c.Redis.KeyPrefix = strings.TrimSuffix(strings.TrimSpace(c.Redis.KeyPrefix), ":")
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = defaultRedisKeyPrefix
	}
	return nil
}

func (c *Config) normalizeLLM() {
	if c.LLM.APIKey == "" {
		if value, ok := os.LookupEnv("INKWELL_LLM_API_KEY"); ok {
			c.LLM.APIKey = value
		}
	}
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
	c.Scoring.URL = strings.TrimSpace(c.Scoring.URL)
	c.Scoring.APIKey = strings.TrimSpace(c.Scoring.APIKey)
}

func (c *Config) normalizeQuality() {
	if len(c.Quality.RequiredChecklist) == 0 {
		c.Quality.RequiredChecklist = append([]string(nil), defaultRequiredChecklist...)
		return
	}
	seen := make(map[string]struct{}, len(c.Quality.RequiredChecklist))
	items := make([]string, 0, len(c.Quality.RequiredChecklist))
	for _, item := range c.Quality.RequiredChecklist {
		item = strings.ToLower(strings.TrimSpace(item))
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		items = append(items, item)
	}
	c.Quality.RequiredChecklist = items
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) normalizeMetrics() {
	c.Metrics.Path = strings.TrimSpace(c.Metrics.Path)
	if c.Metrics.Path == "" {
		c.Metrics.Path = defaultMetricsPath
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		c.Metrics.Path = "/" + c.Metrics.Path
	}
}
