package config

import "time"

// CoreConfig holds runtime configuration for the observability core service.
type CoreConfig struct {
	Environment string
	Addr        string
	LogLevel    string

	// Query surface auth and rate limiting.
	APIAuthToken  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Optional archive sink; the core runs fully in-memory when unset.
	DatabaseURL   string
	MigrationsDir string

	// Error tracker.
	ErrorRetention     time.Duration
	ErrorMaxRecords    int
	ErrorSweepInterval time.Duration

	// Health monitor / circuit breaker.
	ProbeInterval           time.Duration
	ProbeTimeout            time.Duration
	BreakerFailureThreshold int
	BreakerFailureWindow    time.Duration
	BreakerCooldown         time.Duration
	UnhealthyRatio          float64
	DegradedRatio           float64

	// Metrics aggregator.
	MetricBufferSize      int
	MetricMaxWindow       time.Duration
	MetricCleanupInterval time.Duration

	// Alert engine.
	AlertCoalesceWindow  time.Duration
	AlertEvaluationTick  time.Duration
	AlertEscalationTick  time.Duration
	AlertRetention       time.Duration
	AlertCleanupInterval time.Duration
	NotifyTimeout        time.Duration
}

// LoadCoreConfig constructs a CoreConfig from environment variables.
func LoadCoreConfig() CoreConfig {
	return CoreConfig{
		Environment: GetString("APP_ENV", "development"),
		Addr:        GetString("CORE_ADDR", ":4100"),
		LogLevel:    GetString("LOG_LEVEL", "info"),

		APIAuthToken:  GetString("CORE_API_TOKEN", ""),
		RedisAddr:     GetString("REDIS_ADDR", ""),
		RedisPassword: GetString("REDIS_PASSWORD", ""),
		RedisDB:       GetInt("REDIS_DB", 0),

		DatabaseURL:   GetString("DATABASE_URL", ""),
		MigrationsDir: GetString("DB_MIGRATIONS_DIR", "./db/migrations"),

		ErrorRetention:     GetDuration("ERROR_RETENTION_SECONDS", 7*24*time.Hour),
		ErrorMaxRecords:    GetInt("ERROR_MAX_RECORDS", 10000),
		ErrorSweepInterval: GetDuration("ERROR_SWEEP_SECONDS", 10*time.Minute),

		ProbeInterval:           GetDuration("PROBE_INTERVAL_SECONDS", 30*time.Second),
		ProbeTimeout:            GetDuration("PROBE_TIMEOUT_SECONDS", 5*time.Second),
		BreakerFailureThreshold: GetInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerFailureWindow:    GetDuration("BREAKER_FAILURE_WINDOW_SECONDS", 5*time.Minute),
		BreakerCooldown:         GetDuration("BREAKER_COOLDOWN_SECONDS", 60*time.Second),
		UnhealthyRatio:          float64(GetInt("HEALTH_UNHEALTHY_PERCENT", 30)) / 100,
		DegradedRatio:           float64(GetInt("HEALTH_DEGRADED_PERCENT", 50)) / 100,

		MetricBufferSize:      GetInt("METRIC_BUFFER_SIZE", 1000),
		MetricMaxWindow:       GetDuration("METRIC_MAX_WINDOW_SECONDS", 24*time.Hour),
		MetricCleanupInterval: GetDuration("METRIC_CLEANUP_SECONDS", 5*time.Minute),

		AlertCoalesceWindow:  GetDuration("ALERT_COALESCE_SECONDS", 5*time.Minute),
		AlertEvaluationTick:  GetDuration("ALERT_EVALUATION_SECONDS", 30*time.Second),
		AlertEscalationTick:  GetDuration("ALERT_ESCALATION_SECONDS", 30*time.Second),
		AlertRetention:       GetDuration("ALERT_RETENTION_SECONDS", 24*time.Hour),
		AlertCleanupInterval: GetDuration("ALERT_CLEANUP_SECONDS", 10*time.Minute),
		NotifyTimeout:        GetDuration("NOTIFY_TIMEOUT_SECONDS", 5*time.Second),
	}
}
