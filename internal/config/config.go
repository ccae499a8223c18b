// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all engine configuration parsed from environment variables.
// Interval knobs keep their historical _MS / _MINUTES names and units; use
// the duration helpers below instead of reading the raw fields.
type Config struct {
	AppEnv       string `env:"APP_ENV" envDefault:"dev"`
	CentralDBURL string `env:"CENTRAL_DB_URL,required,notEmpty"`

	// Processor
	PollIntervalMS    int `env:"POLL_INTERVAL_MS" envDefault:"5000"`
	MaxConcurrentJobs int `env:"MAX_CONCURRENT_JOBS" envDefault:"5"`
	RetryDelayMinutes int `env:"RETRY_DELAY_MINUTES" envDefault:"5"`
	MaxRetries        int `env:"MAX_RETRIES" envDefault:"3"`

	// Scheduler
	ServiceReminderHourUTC     int `env:"SERVICE_REMINDER_HOUR_UTC" envDefault:"14"`
	InvoiceReminderHourUTC     int `env:"INVOICE_REMINDER_HOUR_UTC" envDefault:"13"`
	DailySweepHourUTC          int `env:"DAILY_SWEEP_HOUR_UTC" envDefault:"9"`
	AppointmentSweepIntervalMS int `env:"APPOINTMENT_CONFIRMATION_INTERVAL_MS" envDefault:"3600000"`
	QueueSweepIntervalMS       int `env:"QUEUE_PROCESSOR_INTERVAL_MS" envDefault:"30000"`

	// Sweep thresholds
	GhostCustomerMonths        int     `env:"GHOST_CUSTOMER_MONTHS" envDefault:"12"`
	WarrantyWarningDays        int     `env:"WARRANTY_WARNING_DAYS" envDefault:"30"`
	TradeInMinAgeYears         int     `env:"TRADE_IN_MIN_AGE_YEARS" envDefault:"8"`
	TradeInMinRepairCount      int     `env:"TRADE_IN_MIN_REPAIR_COUNT" envDefault:"3"`
	FirstServiceHoursThreshold float64 `env:"FIRST_SERVICE_HOURS_THRESHOLD" envDefault:"20"`
	UsageServiceHoursInterval  float64 `env:"USAGE_SERVICE_HOURS_INTERVAL" envDefault:"100"`

	// LLM (OpenAI-compatible chat completions)
	LLMAPIKey  string `env:"LLM_API_KEY"`
	LLMBaseURL string `env:"LLM_BASE_URL" envDefault:"https://api.deepseek.com"`
	LLMModel   string `env:"LLM_MODEL" envDefault:"deepseek-chat"`
	// LLM Backoff Configuration
	LLMBackoffMaxElapsedTime  time.Duration `env:"LLM_BACKOFF_MAX_ELAPSED_TIME" envDefault:"60s"`
	LLMBackoffInitialInterval time.Duration `env:"LLM_BACKOFF_INITIAL_INTERVAL" envDefault:"2s"`
	LLMBackoffMaxInterval     time.Duration `env:"LLM_BACKOFF_MAX_INTERVAL" envDefault:"20s"`
	LLMBackoffMultiplier      float64       `env:"LLM_BACKOFF_MULTIPLIER" envDefault:"1.5"`

	// HTTP server (health + ops)
	HealthPort            int           `env:"HEALTH_PORT" envDefault:"8080"`
	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	HTTPIdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	CORSAllowOrigins      string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	RateLimitPerMin       int           `env:"RATE_LIMIT_PER_MIN" envDefault:"60"`
	OpsUsername           string        `env:"OPS_USERNAME"`
	OpsPassword           string        `env:"OPS_PASSWORD"`

	// Connection pools
	CentralPoolMaxConns int `env:"CENTRAL_POOL_MAX_CONNS" envDefault:"25"`
	TenantPoolMaxConns  int `env:"TENANT_POOL_MAX_CONNS" envDefault:"15"`

	// Shutdown and retention
	ShutdownGraceSeconds int `env:"SHUTDOWN_GRACE_SECONDS" envDefault:"30"`
	DataRetentionDays    int `env:"DATA_RETENTION_DAYS" envDefault:"90"`

	// Send throttle (disabled when REDIS_URL is empty or the rate is 0)
	RedisURL          string `env:"REDIS_URL"`
	SendRatePerMinute int    `env:"SEND_RATE_PER_MINUTE" envDefault:"0"`

	// Agent hook (idle unless explicitly enabled)
	AgentLoopEnabled    bool `env:"AGENT_LOOP_ENABLED" envDefault:"false"`
	AgentMaxIterations  int  `env:"AGENT_MAX_ITERATIONS" envDefault:"10"`
	AgentPollIntervalMS int  `env:"AGENT_POLL_INTERVAL_MS" envDefault:"15000"`

	// Observability
	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"dealercomm-engine"`
}

// Load resolves the env file the way the deploy scripts expect (ENV_FILE
// wins, then .env.local, then .env; existing variables are never
// overridden), then parses the environment into a Config.
func Load() (Config, error) {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		_ = godotenv.Load(envFile)
	} else if _, err := os.Stat(".env.local"); err == nil {
		_ = godotenv.Load(".env.local")
	} else {
		_ = godotenv.Load()
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// IsDev reports whether the engine is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the engine is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the engine is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }

// OpsEnabled reports whether the authenticated ops endpoints should be
// mounted.
func (c Config) OpsEnabled() bool {
	return c.OpsUsername != "" && c.OpsPassword != ""
}

// AgentEnabled reports whether the agent hook loop should run.
func (c Config) AgentEnabled() bool {
	return c.AgentLoopEnabled && c.AgentMaxIterations > 0
}

// ThrottleEnabled reports whether per-tenant send throttling is on.
func (c Config) ThrottleEnabled() bool { return c.RedisURL != "" && c.SendRatePerMinute > 0 }

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMinutes) * time.Minute
}

func (c Config) AppointmentSweepInterval() time.Duration {
	return time.Duration(c.AppointmentSweepIntervalMS) * time.Millisecond
}

func (c Config) QueueSweepInterval() time.Duration {
	return time.Duration(c.QueueSweepIntervalMS) * time.Millisecond
}

func (c Config) AgentPollInterval() time.Duration {
	return time.Duration(c.AgentPollIntervalMS) * time.Millisecond
}

// ShutdownGrace is how long the supervisor waits for in-flight jobs to
// drain before forcing exit.
func (c Config) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSeconds) * time.Second
}

// LLMBackoff returns backoff settings appropriate for the current
// environment. Test mode uses much shorter timeouts.
func (c Config) LLMBackoff() (maxElapsedTime, initialInterval, maxInterval time.Duration, multiplier float64) {
	if c.IsTest() {
		return 2 * time.Second, 50 * time.Millisecond, 500 * time.Millisecond, 2.0
	}
	return c.LLMBackoffMaxElapsedTime, c.LLMBackoffInitialInterval, c.LLMBackoffMaxInterval, c.LLMBackoffMultiplier
}
