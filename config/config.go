package config

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// SchedulerConfig carries the scan-loop tunables of spec.md §4.2, read
// from SCM_SCHEDULER_* environment variables.
type SchedulerConfig struct {
	Spec                      string  `env:"SCM_SCHEDULER_SPEC" envDefault:"@every 30s"`
	CursorAgeThresholdSeconds int     `env:"SCM_SCHEDULER_CURSOR_AGE_THRESHOLD_SECONDS" envDefault:"3600" validate:"min=1"`
	ErrorBudgetThreshold      float64 `env:"SCM_SCHEDULER_ERROR_BUDGET_THRESHOLD" envDefault:"0.3" validate:"min=0,max=1"`
	MinSamples                int     `env:"SCM_SCHEDULER_MIN_SAMPLES" envDefault:"5" validate:"min=1"`
	RateLimitHitThreshold     float64 `env:"SCM_SCHEDULER_RATE_LIMIT_HIT_THRESHOLD" envDefault:"0.1" validate:"min=0,max=1"`
	MaxRunning                int     `env:"SCM_SCHEDULER_MAX_RUNNING" envDefault:"50" validate:"min=1"`
	MaxQueueDepth             int     `env:"SCM_SCHEDULER_MAX_QUEUE_DEPTH" envDefault:"200" validate:"min=1"`
	PerInstanceConcurrency    int     `env:"SCM_SCHEDULER_PER_INSTANCE_CONCURRENCY" envDefault:"5" validate:"min=1"`
	PerTenantConcurrency      int     `env:"SCM_SCHEDULER_PER_TENANT_CONCURRENCY" envDefault:"10" validate:"min=1"`
	MaxEnqueuePerScan         int     `env:"SCM_SCHEDULER_MAX_ENQUEUE_PER_SCAN" envDefault:"100" validate:"min=1"`
	EnableTenantFairness      bool    `env:"SCM_SCHEDULER_ENABLE_TENANT_FAIRNESS" envDefault:"true"`
	TenantFairnessMaxPerRound int     `env:"SCM_SCHEDULER_TENANT_FAIRNESS_MAX_PER_ROUND" envDefault:"1" validate:"min=1"`
	MVPModeEnabled            bool    `env:"SCM_SCHEDULER_MVP_MODE_ENABLED" envDefault:"false"`
	MVPJobTypeAllowlist       []string `env:"SCM_SCHEDULER_MVP_JOB_TYPE_ALLOWLIST" envSeparator:","`
	SkipOnBucketPause         bool    `env:"SCM_SCHEDULER_SKIP_ON_BUCKET_PAUSE" envDefault:"true"`
	BackfillRepairWindowHours int     `env:"SCM_SCHEDULER_BACKFILL_REPAIR_WINDOW_HOURS" envDefault:"24" validate:"min=1"`
	MaxBackfillWindowHours    int     `env:"SCM_SCHEDULER_MAX_BACKFILL_WINDOW_HOURS" envDefault:"336" validate:"min=1"`
}

// CircuitBreakerConfig carries spec.md §4.4's tunables, read from
// SCM_CB_* environment variables.
type CircuitBreakerConfig struct {
	FailureRateThreshold         float64 `env:"SCM_CB_FAILURE_RATE_THRESHOLD" envDefault:"0.5" validate:"min=0,max=1"`
	RateLimitThreshold           float64 `env:"SCM_CB_RATE_LIMIT_THRESHOLD" envDefault:"0.3" validate:"min=0,max=1"`
	TimeoutRateThreshold         float64 `env:"SCM_CB_TIMEOUT_RATE_THRESHOLD" envDefault:"0.3" validate:"min=0,max=1"`
	MinSamples                   int     `env:"SCM_CB_MIN_SAMPLES" envDefault:"5" validate:"min=1"`
	OpenDurationSeconds          float64 `env:"SCM_CB_OPEN_DURATION_SECONDS" envDefault:"60" validate:"min=1"`
	HalfOpenMaxRequests          int     `env:"SCM_CB_HALF_OPEN_MAX_REQUESTS" envDefault:"5" validate:"min=1"`
	RecoverySuccessCount          int    `env:"SCM_CB_RECOVERY_SUCCESS_COUNT" envDefault:"2" validate:"min=1"`
	EnableSmoothing               bool   `env:"SCM_CB_ENABLE_SMOOTHING" envDefault:"false"`
	SmoothingAlpha                float64 `env:"SCM_CB_SMOOTHING_ALPHA" envDefault:"0.5" validate:"min=0,max=1"`
	BackfillOnlyMode              bool   `env:"SCM_CB_BACKFILL_ONLY_MODE" envDefault:"true"`
	DegradedBatchSize             int    `env:"SCM_CB_DEGRADED_BATCH_SIZE" envDefault:"10" validate:"min=1"`
	ProbeBudgetPerInterval        int    `env:"SCM_CB_PROBE_BUDGET_PER_INTERVAL" envDefault:"3" validate:"min=1"`
}

type Config struct {
	Env  string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	Port string `env:"PORT" envDefault:"8080" validate:"required"`

	PostgresDSN      string `env:"POSTGRES_DSN,required" validate:"required"`
	LogbookNamespace string `env:"LOGBOOK_NAMESPACE" envDefault:"scm"`

	WorkerPoolName    string `env:"WORKER_POOL_NAME" envDefault:"default"`
	WorkerConcurrency int    `env:"WORKER_CONCURRENCY" envDefault:"5" validate:"min=1,max=100"`
	PollIntervalSec   int    `env:"POLL_INTERVAL_SEC" envDefault:"1" validate:"min=1,max=60"`
	ReaperIntervalSec int    `env:"REAPER_INTERVAL_SEC" envDefault:"30" validate:"min=1,max=3600"`
	LeaseGraceSeconds int    `env:"LEASE_GRACE_SECONDS" envDefault:"30" validate:"min=0"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info" validate:"required,oneof=debug info warn error"`

	Scheduler      SchedulerConfig
	CircuitBreaker CircuitBreakerConfig
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SlogLevel converts the LOG_LEVEL string to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
