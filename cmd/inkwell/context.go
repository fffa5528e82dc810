package main

import (
	"context"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"inkwell/internal/api"
	"inkwell/internal/apiclient"
	"inkwell/internal/config"
	"inkwell/internal/daemon"
	"inkwell/internal/daemonctl"
	"inkwell/internal/logging"
)

// bookAPI is satisfied by both the daemon HTTP client and the in-process
// service.
type bookAPI interface {
	CreateBook(ctx context.Context, req api.CreateBookRequest) (api.Book, error)
	GetBook(ctx context.Context, id int64) (api.Book, error)
	ListBooks(ctx context.Context, statuses []string, limit int) ([]api.Book, error)
	FireBookEvent(ctx context.Context, id int64, event string, expectedVersion int64) (api.Book, error)

	ListChapters(ctx context.Context, bookID int64, statuses []string) ([]api.Chapter, error)
	GetChapter(ctx context.Context, id int64) (api.Chapter, error)
	ApproveChapter(ctx context.Context, id int64) (api.Chapter, error)
	RejectChapter(ctx context.Context, id int64, notes string) (api.Chapter, error)
	MarkReady(ctx context.Context, id int64) (api.Chapter, error)
	RequeueChapter(ctx context.Context, id int64) (api.Chapter, error)
	SetChapterContent(ctx context.Context, id int64, content string) (api.Chapter, error)

	Progress(ctx context.Context, bookID int64) (api.Progress, error)
	ResyncWordCount(ctx context.Context, bookID int64) (int, error)
	RecordScores(ctx context.Context, bookID int64, req api.RecordScoresRequest) (api.Book, error)
	UpdateChecklist(ctx context.Context, bookID int64, items map[string]bool) (api.Book, error)
	EvaluateGate(ctx context.Context, bookID int64) (api.GateResult, error)
	SchedulePreflight(ctx context.Context, bookID int64) error
	ConsistencyReports(ctx context.Context, bookID int64) ([]api.ConsistencyReport, error)

	Pricing(ctx context.Context, bookID int64) (api.Pricing, error)
	RunPricingSweep(ctx context.Context, sweep string) (api.SweepResult, error)
	SetPricePhase(ctx context.Context, bookID int64, phase string, price float64, reason string) (api.Pricing, error)
	StartPromotion(ctx context.Context, bookID int64) (api.Pricing, error)
	UpdatePricingSettings(ctx context.Context, bookID int64, settings api.PricingSettings) (api.Pricing, error)
	RecordReviews(ctx context.Context, bookID int64, total int, rating float64) error
}

var (
	_ bookAPI = (*api.Service)(nil)
	_ bookAPI = (*apiclient.Client)(nil)
)

type commandContext struct {
	configFlag   *string
	logLevelFlag *string
	jsonFlag     *bool

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(configFlag, logLevelFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
		jsonFlag:     jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, path, _, err := config.Load(c.configFlagValue())
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = path
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

func (c *commandContext) configFlagValue() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

func (c *commandContext) resolvedLogLevel(cfg *config.Config) string {
	if c.logLevelFlag != nil {
		if level := strings.TrimSpace(*c.logLevelFlag); level != "" {
			return level
		}
	}
	if cfg != nil {
		return cfg.Logging.Level
	}
	return "info"
}

// withAPI runs fn against the daemon when it is alive and reachable, and
// against an in-process runtime otherwise.
func (c *commandContext) withAPI(cmd *cobra.Command, fn func(bookAPI) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	if alive, _, _ := daemonctl.ProcessInfo(cfg); alive {
		client, err := daemonctl.NewClient(cfg)
		if err == nil && client != nil {
			err = fn(client)
			if !apiclient.IsUnavailable(err) {
				return err
			}
		}
	}
	return c.withLocalRuntime(cmd, func(rt *daemon.Runtime) error {
		return fn(rt.Service)
	})
}

func (c *commandContext) withLocalRuntime(cmd *cobra.Command, fn func(*daemon.Runtime) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	level := c.resolvedLogLevel(cfg)
	if level == "info" {
		// keep command output readable; the daemon log has the detail
		level = "warn"
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           "console",
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	})
	if err != nil {
		return err
	}
	rt, err := daemon.BuildRuntime(cmd.Context(), cfg, logger, daemon.RuntimeOptions{})
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
