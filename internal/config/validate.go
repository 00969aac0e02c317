package config

import (
	"fmt"
	"net/url"
	"regexp"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

var (
	logLevels       = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	channelIdentRe  = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)
	analyticsWindow = map[time.Duration]bool{time.Minute: true, 5 * time.Minute: true, time.Hour: true, 24 * time.Hour: true}
)

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	backend := cfg.Backend()
	switch {
	case cfg.DatabaseURL == "":
		add("DATABASE_URL", "required")
	case backend == "":
		add("DATABASE_URL", "must start with postgres://, postgresql://, sqlite:// or file:")
	case backend == BackendSQLite && cfg.SQLitePath() == "":
		add("DATABASE_URL", "sqlite path is empty")
	}

	if !logLevels[cfg.LogLevel] {
		add("LOG_LEVEL", "must be one of debug, info, warn, error; got %q", cfg.LogLevel)
	}

	positive := []struct {
		field string
		d     time.Duration
	}{
		{"RECONCILE_INTERVAL", cfg.ReconcileInterval},
		{"STORE_TIMEOUT", cfg.StoreTimeout},
		{"SEND_TIMEOUT", cfg.SendTimeout},
		{"EVENTBUS_EMIT_TIMEOUT", cfg.EventBusEmitTimeout},
		{"DISPATCHER_DRAIN_TIMEOUT", cfg.DispatcherDrainTimeout},
		{"HTTP_SHUTDOWN_TIMEOUT", cfg.HTTPShutdownTimeout},
	}
	for _, p := range positive {
		if p.d <= 0 {
			add(p.field, "must be positive")
		}
	}
	if cfg.StoreTimeout > 0 && cfg.ReconcileInterval > 0 && cfg.StoreTimeout >= cfg.ReconcileInterval {
		add("STORE_TIMEOUT", "must be shorter than RECONCILE_INTERVAL (%s)", cfg.ReconcileInterval)
	}

	if _, err := time.LoadLocation(cfg.DefaultTimezone); err != nil || cfg.DefaultTimezone == "" {
		add("DEFAULT_TIMEZONE", "unknown timezone %q", cfg.DefaultTimezone)
	}

	counts := []struct {
		field string
		n     int
	}{
		{"DISPATCHER_WORKERS", cfg.DispatcherWorkers},
		{"FANOUT_CONCURRENCY", cfg.FanoutConcurrency},
		{"EVENTBUS_BUFFER_SIZE", cfg.EventBusBufferSize},
		{"NTFY_RATE_PER_SEC", cfg.NtfyRatePerSec},
		{"DB_MAX_OPEN_CONNS", cfg.DBMaxOpenConns},
	}
	for _, c := range counts {
		if c.n <= 0 {
			add(c.field, "must be a positive integer")
		}
	}
	if cfg.DBMaxIdleConns < 0 {
		add("DB_MAX_IDLE_CONNS", "must not be negative")
	}

	if u, err := url.Parse(cfg.NtfyBaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("NTFY_BASE_URL", "must be an http(s) URL, got %q", cfg.NtfyBaseURL)
	}

	if cfg.CircuitBreakerThreshold < 0 {
		add("CIRCUIT_BREAKER_THRESHOLD", "must not be negative (0 disables)")
	}
	if cfg.CircuitBreakerThreshold > 0 && cfg.CircuitBreakerCooldown <= 0 {
		add("CIRCUIT_BREAKER_COOLDOWN", "must be positive when the circuit breaker is enabled")
	}

	if cfg.SNSEnabled && cfg.AWSRegion == "" {
		add("AWS_REGION", "required when SNS_ENABLED=true")
	}

	if cfg.MetricsEnabled && (cfg.MetricsPath == "" || cfg.MetricsPath[0] != '/') {
		add("METRICS_PATH", "must start with /")
	}

	if cfg.RedisAddr != "" {
		if !analyticsWindow[cfg.AnalyticsWindow] {
			add("ANALYTICS_WINDOW", "must be 1m, 5m, 1h or 24h; got %s", cfg.AnalyticsWindow)
		}
		if cfg.AnalyticsRetention < cfg.AnalyticsWindow {
			add("ANALYTICS_RETENTION", "must be at least ANALYTICS_WINDOW (%s)", cfg.AnalyticsWindow)
		}
	}

	if cfg.LeaderElectionEnabled {
		if backend == BackendSQLite {
			add("LEADER_ELECTION_ENABLED", "requires a postgres DATABASE_URL")
		}
		if cfg.LeaderLockKey <= 0 {
			add("LEADER_LOCK_KEY", "must be a positive integer")
		}
		if cfg.LeaderRetryInterval <= 0 {
			add("LEADER_RETRY_INTERVAL", "must be positive")
		}
		if cfg.LeaderHeartbeatInterval <= 0 {
			add("LEADER_HEARTBEAT_INTERVAL", "must be positive")
		}
	}

	if cfg.ListenEnabled {
		if backend == BackendSQLite {
			add("LISTEN_ENABLED", "requires a postgres DATABASE_URL")
		}
		if !channelIdentRe.MatchString(cfg.ListenChannel) {
			add("LISTEN_CHANNEL", "must be a lower-case identifier, got %q", cfg.ListenChannel)
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
