package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateWorkQueue(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateQuality(); err != nil {
		return err
	}
	if err := c.validatePricing(); err != nil {
		return err
	}
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := c.validateScoring(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateWorkQueue() error {
	switch c.WorkQueue.Backend {
	case "sqlite":
		return nil
	case "redis":
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return errors.New("redis.addr must be set when workqueue.backend is redis")
		}
		if c.Redis.DB < 0 {
			return errors.New("redis.db must be non-negative")
		}
		return nil
	default:
		return fmt.Errorf("workqueue.backend: unsupported value %q (want sqlite or redis)", c.WorkQueue.Backend)
	}
}

func (c *Config) validateWorkflow() error {
	w := c.Workflow
	positive := []struct {
		name  string
		value int
	}{
		{"workflow.admission_interval", w.AdmissionInterval},
		{"workflow.admission_cap", w.AdmissionCap},
		{"workflow.poll_interval", w.PollInterval},
		{"workflow.content_workers", w.ContentWorkers},
		{"workflow.quality_workers", w.QualityWorkers},
		{"workflow.export_workers", w.ExportWorkers},
		{"workflow.notification_workers", w.NotificationWorkers},
		{"workflow.max_unit_attempts", w.MaxUnitAttempts},
		{"workflow.lease_seconds", w.LeaseSeconds},
		{"workflow.heartbeat_interval", w.HeartbeatInterval},
		{"workflow.consistency_every", w.ConsistencyEvery},
	}
	for _, field := range positive {
		if field.value <= 0 {
			return fmt.Errorf("%s must be positive", field.name)
		}
	}
	if w.RetryDelaySeconds < 0 {
		return errors.New("workflow.retry_delay_seconds must be non-negative")
	}
	if w.HeartbeatInterval >= w.LeaseSeconds {
		return errors.New("workflow.heartbeat_interval must be shorter than workflow.lease_seconds")
	}
	return nil
}

func (c *Config) validateQuality() error {
	if c.Quality.MaxAIScore <= 0 || c.Quality.MaxAIScore > 100 {
		return errors.New("quality.max_ai_score must be within (0, 100]")
	}
	if c.Quality.MaxPlagiarismScore <= 0 || c.Quality.MaxPlagiarismScore > 100 {
		return errors.New("quality.max_plagiarism_score must be within (0, 100]")
	}
	return nil
}

func (c *Config) validatePricing() error {
	p := c.Pricing
	for name, price := range map[string]float64{
		"pricing.launch_price": p.LaunchPrice,
		"pricing.growth_price": p.GrowthPrice,
		"pricing.mature_price": p.MaturePrice,
		"pricing.promo_price":  p.PromoPrice,
	} {
		if price <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if p.GrowthPrice < p.LaunchPrice || p.MaturePrice < p.GrowthPrice {
		return errors.New("pricing: launch_price <= growth_price <= mature_price is required")
	}
	if p.ReviewsThresholdForGrowth < 0 || p.MatureAfterReviews < 0 {
		return errors.New("pricing review thresholds must be non-negative")
	}
	if p.DaysInLaunchPhase < 0 || p.MatureAfterDays < 0 || p.DaysBetweenPromotions < 0 {
		return errors.New("pricing day thresholds must be non-negative")
	}
	if p.PromoDurationDays <= 0 {
		return errors.New("pricing.promo_duration_days must be positive")
	}
	if p.SweepInterval <= 0 {
		return errors.New("pricing.sweep_interval must be positive")
	}
	return nil
}

func (c *Config) validateLLM() error {
	if c.LLM.TimeoutSeconds <= 0 {
		return errors.New("llm.timeout_seconds must be positive")
	}
	if c.LLM.ChapterMaxTokens <= 0 {
		return errors.New("llm.chapter_max_tokens must be positive")
	}
	for name, temp := range map[string]float64{
		"llm.write_temperature":   c.LLM.WriteTemperature,
		"llm.rewrite_temperature": c.LLM.RewriteTemperature,
	} {
		if temp < 0 || temp > 2 {
			return fmt.Errorf("%s must be within [0, 2]", name)
		}
	}
	if c.LLM.InputCostPer1K < 0 || c.LLM.OutputCostPer1K < 0 {
		return errors.New("llm token costs must be non-negative")
	}
	return nil
}

func (c *Config) validateScoring() error {
	if !c.Scoring.Enabled {
		return nil
	}
	if c.Scoring.URL == "" {
		return errors.New("scoring.url must be set when scoring.enabled is true")
	}
	if c.Scoring.TimeoutSeconds <= 0 {
		return errors.New("scoring.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
