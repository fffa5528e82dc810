package config

const (
	defaultDataDir = "~/.local/share/inkwell"
	defaultLogDir  = "~/.local/share/inkwell/logs"
	defaultAPIBind = "127.0.0.1:7491"

	defaultDatabaseFile      = "inkwell.db"
	defaultWorkQueueFile     = "workqueue.db"
	defaultWorkQueueBackend  = "sqlite"
	defaultRedisAddr         = "127.0.0.1:6379"
	defaultRedisKeyPrefix    = "inkwell:wq"
	defaultRedisDialTimeout  = 5
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
	defaultNotifyTimeout     = 10
	defaultMetricsPath       = "/metrics"
	defaultLLMBaseURL        = "https://api.openai.com/v1"
	defaultLLMModel          = "gpt-4o-mini"
	defaultLLMTimeoutSeconds = 120
	defaultScoringTimeout    = 60

	defaultAdmissionInterval   = 60
	defaultAdmissionCap        = 5
	defaultPollInterval        = 2
	defaultContentWorkers      = 2
	defaultQualityWorkers      = 1
	defaultExportWorkers       = 1
	defaultNotificationWorkers = 1
	defaultRetryDelaySeconds   = 60
	defaultMaxUnitAttempts     = 3
	defaultLeaseSeconds        = 300
	defaultHeartbeatInterval   = 15
	defaultConsistencyEvery    = 10

	defaultMaxAIScore         = 20.0
	defaultMaxPlagiarismScore = 3.0

	defaultChapterMaxTokens   = 2048
	defaultWriteTemperature   = 0.8
	defaultRewriteTemperature = 0.7

	defaultLaunchPrice               = 0.99
	defaultGrowthPrice               = 2.99
	defaultMaturePrice               = 3.99
	defaultPromoPrice                = 0.99
	defaultReviewsThresholdForGrowth = 20
	defaultDaysInLaunchPhase         = 7
	defaultDaysBetweenPromotions     = 90
	defaultMatureAfterDays           = 30
	defaultMatureAfterReviews        = 50
	defaultPromoDurationDays         = 7
	defaultPricingSweepInterval      = 3600
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		WorkQueue: WorkQueue{
			Backend: defaultWorkQueueBackend,
		},
		Redis: Redis{
			Addr:               defaultRedisAddr,
			KeyPrefix:          defaultRedisKeyPrefix,
			DialTimeoutSeconds: defaultRedisDialTimeout,
		},
		Workflow: Workflow{
			AdmissionInterval:   defaultAdmissionInterval,
			AdmissionCap:        defaultAdmissionCap,
			PollInterval:        defaultPollInterval,
			ContentWorkers:      defaultContentWorkers,
			QualityWorkers:      defaultQualityWorkers,
			ExportWorkers:       defaultExportWorkers,
			NotificationWorkers: defaultNotificationWorkers,
			RetryDelaySeconds:   defaultRetryDelaySeconds,
			MaxUnitAttempts:     defaultMaxUnitAttempts,
			LeaseSeconds:        defaultLeaseSeconds,
			HeartbeatInterval:   defaultHeartbeatInterval,
			ConsistencyEvery:    defaultConsistencyEvery,
		},
		Quality: Quality{
			MaxAIScore:         defaultMaxAIScore,
			MaxPlagiarismScore: defaultMaxPlagiarismScore,
			RequiredChecklist:  append([]string(nil), defaultRequiredChecklist...),
		},
		Pricing: Pricing{
			LaunchPrice:               defaultLaunchPrice,
			GrowthPrice:               defaultGrowthPrice,
			MaturePrice:               defaultMaturePrice,
			PromoPrice:                defaultPromoPrice,
			ReviewsThresholdForGrowth: defaultReviewsThresholdForGrowth,
			DaysInLaunchPhase:         defaultDaysInLaunchPhase,
			DaysBetweenPromotions:     defaultDaysBetweenPromotions,
			MatureAfterDays:           defaultMatureAfterDays,
			MatureAfterReviews:        defaultMatureAfterReviews,
			PromoDurationDays:         defaultPromoDurationDays,
			SweepInterval:             defaultPricingSweepInterval,
		},
		LLM: LLM{
			BaseURL:            defaultLLMBaseURL,
			Model:              defaultLLMModel,
			TimeoutSeconds:     defaultLLMTimeoutSeconds,
			ChapterMaxTokens:   defaultChapterMaxTokens,
			WriteTemperature:   defaultWriteTemperature,
			RewriteTemperature: defaultRewriteTemperature,
		},
		Scoring: Scoring{
			TimeoutSeconds: defaultScoringTimeout,
		},
		Notifications: Notifications{
			RequestTimeout:   defaultNotifyTimeout,
			ExportReady:      true,
			GenerationFailed: true,
			Pricing:          true,
			Consistency:      true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Metrics: Metrics{
			Enabled: true,
			Path:    defaultMetricsPath,
		},
	}
}
