// Package config loads the scheduler's configuration from the environment.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Storage backends selected by the DATABASE_URL scheme.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Config holds all configuration for the scheduler.
// Values are loaded from environment variables; see printUsage() for the full list.
type Config struct {
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`
	Env         string `envconfig:"ENV" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"` // debug|info|warn|error

	ReconcileInterval time.Duration `envconfig:"RECONCILE_INTERVAL" default:"60s"`
	StoreTimeout      time.Duration `envconfig:"STORE_TIMEOUT" default:"5s"`
	SendTimeout       time.Duration `envconfig:"SEND_TIMEOUT" default:"10s"`
	DefaultTimezone   string        `envconfig:"DEFAULT_TIMEZONE" default:"America/Vancouver"`

	DispatcherWorkers      int           `envconfig:"DISPATCHER_WORKERS" default:"4"`
	FanoutConcurrency      int           `envconfig:"FANOUT_CONCURRENCY" default:"8"`
	EventBusBufferSize     int           `envconfig:"EVENTBUS_BUFFER_SIZE" default:"100"`
	EventBusEmitTimeout    time.Duration `envconfig:"EVENTBUS_EMIT_TIMEOUT" default:"1s"`
	DispatcherDrainTimeout time.Duration `envconfig:"DISPATCHER_DRAIN_TIMEOUT" default:"30s"`
	HTTPShutdownTimeout    time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"10s"`

	NtfyBaseURL    string `envconfig:"NTFY_BASE_URL" default:"https://ntfy.sh"`
	NtfyToken      string `envconfig:"NTFY_TOKEN"`
	NtfyRatePerSec int    `envconfig:"NTFY_RATE_PER_SEC" default:"5"`

	SNSEnabled  bool   `envconfig:"SNS_ENABLED" default:"false"`
	AWSRegion   string `envconfig:"AWS_REGION" default:"us-east-1"`
	SNSEndpoint string `envconfig:"SNS_ENDPOINT"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold int           `envconfig:"CIRCUIT_BREAKER_THRESHOLD" default:"5"`
	CircuitBreakerCooldown  time.Duration `envconfig:"CIRCUIT_BREAKER_COOLDOWN" default:"2m"`

	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"false"`
	MetricsPath    string `envconfig:"METRICS_PATH" default:"/metrics"`

	RedisAddr          string        `envconfig:"REDIS_ADDR"`
	AnalyticsWindow    time.Duration `envconfig:"ANALYTICS_WINDOW" default:"1h"`
	AnalyticsRetention time.Duration `envconfig:"ANALYTICS_RETENTION" default:"168h"`

	LeaderElectionEnabled bool `envconfig:"LEADER_ELECTION_ENABLED" default:"false"`
	// LeaderLockKey: all instances sharing the same database must use the same key.
	LeaderLockKey int64 `envconfig:"LEADER_LOCK_KEY" default:"728379"`
	// LeaderRetryInterval determines the maximum failover gap.
	LeaderRetryInterval time.Duration `envconfig:"LEADER_RETRY_INTERVAL" default:"5s"`
	// LeaderHeartbeatInterval: pings the dedicated connection to detect local
	// connection death. Does NOT renew the advisory lock.
	LeaderHeartbeatInterval time.Duration `envconfig:"LEADER_HEARTBEAT_INTERVAL" default:"2s"`

	ListenEnabled bool   `envconfig:"LISTEN_ENABLED" default:"false"`
	ListenChannel string `envconfig:"LISTEN_CHANNEL" default:"reminders_changed"`

	DBMaxOpenConns int  `envconfig:"DB_MAX_OPEN_CONNS" default:"10"`
	DBMaxIdleConns int  `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
	DBAutoMigrate  bool `envconfig:"DB_AUTO_MIGRATE" default:"false"`
}

// Load reads environment variables into Config. Malformed values (a bad
// duration, a non-numeric count) and a missing DATABASE_URL are errors here;
// semantic checks are left to Validate.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, err
	}

	// Support a platform-provided PORT as fallback for HTTP_ADDR.
	if os.Getenv("HTTP_ADDR") == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		}
	}
	return cfg, nil
}

// Backend reports which store DATABASE_URL selects, or "" if neither.
func (c Config) Backend() string {
	switch {
	case strings.HasPrefix(c.DatabaseURL, "postgres://"), strings.HasPrefix(c.DatabaseURL, "postgresql://"):
		return BackendPostgres
	case strings.HasPrefix(c.DatabaseURL, "sqlite://"), strings.HasPrefix(c.DatabaseURL, "file:"):
		return BackendSQLite
	default:
		return ""
	}
}

// SQLitePath extracts the database file path from a sqlite:// or file: URL.
func (c Config) SQLitePath() string {
	s := c.DatabaseURL
	switch {
	case strings.HasPrefix(s, "sqlite://"):
		s = strings.TrimPrefix(s, "sqlite://")
	case strings.HasPrefix(s, "file:"):
		s = strings.TrimPrefix(s, "file:")
	}
	if i := strings.IndexByte(s, '?'); i >= 0 {
		s = s[:i]
	}
	return s
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		DatabaseURL             string `json:"database_url"`
		Backend                 string `json:"backend"`
		HTTPAddr                string `json:"http_addr"`
		Env                     string `json:"env"`
		LogLevel                string `json:"log_level"`
		ReconcileInterval       string `json:"reconcile_interval"`
		StoreTimeout            string `json:"store_timeout"`
		SendTimeout             string `json:"send_timeout"`
		DefaultTimezone         string `json:"default_timezone"`
		DispatcherWorkers       int    `json:"dispatcher_workers"`
		FanoutConcurrency       int    `json:"fanout_concurrency"`
		EventBusBufferSize      int    `json:"eventbus_buffer_size"`
		EventBusEmitTimeout     string `json:"eventbus_emit_timeout"`
		DispatcherDrainTimeout  string `json:"dispatcher_drain_timeout"`
		HTTPShutdownTimeout     string `json:"http_shutdown_timeout"`
		NtfyBaseURL             string `json:"ntfy_base_url"`
		NtfyToken               string `json:"ntfy_token,omitempty"`
		NtfyRatePerSec          int    `json:"ntfy_rate_per_sec"`
		SNSEnabled              bool   `json:"sns_enabled"`
		AWSRegion               string `json:"aws_region,omitempty"`
		SNSEndpoint             string `json:"sns_endpoint,omitempty"`
		CircuitBreakerThreshold int    `json:"circuit_breaker_threshold"`
		CircuitBreakerCooldown  string `json:"circuit_breaker_cooldown"`
		MetricsEnabled          bool   `json:"metrics_enabled"`
		MetricsPath             string `json:"metrics_path"`
		RedisAddr               string `json:"redis_addr,omitempty"`
		AnalyticsWindow         string `json:"analytics_window,omitempty"`
		AnalyticsRetention      string `json:"analytics_retention,omitempty"`
		LeaderElectionEnabled   bool   `json:"leader_election_enabled"`
		LeaderLockKey           int64  `json:"leader_lock_key,omitempty"`
		LeaderRetryInterval     string `json:"leader_retry_interval,omitempty"`
		LeaderHeartbeatInterval string `json:"leader_heartbeat_interval,omitempty"`
		ListenEnabled           bool   `json:"listen_enabled"`
		ListenChannel           string `json:"listen_channel,omitempty"`
		DBMaxOpenConns          int    `json:"db_max_open_conns"`
		DBMaxIdleConns          int    `json:"db_max_idle_conns"`
		DBAutoMigrate           bool   `json:"db_auto_migrate"`
	}{
		DatabaseURL:             maskSecret(c.DatabaseURL),
		Backend:                 c.Backend(),
		HTTPAddr:                c.HTTPAddr,
		Env:                     c.Env,
		LogLevel:                c.LogLevel,
		ReconcileInterval:       c.ReconcileInterval.String(),
		StoreTimeout:            c.StoreTimeout.String(),
		SendTimeout:             c.SendTimeout.String(),
		DefaultTimezone:         c.DefaultTimezone,
		DispatcherWorkers:       c.DispatcherWorkers,
		FanoutConcurrency:       c.FanoutConcurrency,
		EventBusBufferSize:      c.EventBusBufferSize,
		EventBusEmitTimeout:     c.EventBusEmitTimeout.String(),
		DispatcherDrainTimeout:  c.DispatcherDrainTimeout.String(),
		HTTPShutdownTimeout:     c.HTTPShutdownTimeout.String(),
		NtfyBaseURL:             c.NtfyBaseURL,
		NtfyRatePerSec:          c.NtfyRatePerSec,
		SNSEnabled:              c.SNSEnabled,
		CircuitBreakerThreshold: c.CircuitBreakerThreshold,
		CircuitBreakerCooldown:  c.CircuitBreakerCooldown.String(),
		MetricsEnabled:          c.MetricsEnabled,
		MetricsPath:             c.MetricsPath,
		RedisAddr:               c.RedisAddr,
		LeaderElectionEnabled:   c.LeaderElectionEnabled,
		ListenEnabled:           c.ListenEnabled,
		DBMaxOpenConns:          c.DBMaxOpenConns,
		DBMaxIdleConns:          c.DBMaxIdleConns,
		DBAutoMigrate:           c.DBAutoMigrate,
	}
	if c.NtfyToken != "" {
		masked.NtfyToken = "***"
	}
	if c.SNSEnabled {
		masked.AWSRegion = c.AWSRegion
		masked.SNSEndpoint = c.SNSEndpoint
	}
	if c.RedisAddr != "" {
		masked.AnalyticsWindow = c.AnalyticsWindow.String()
		masked.AnalyticsRetention = c.AnalyticsRetention.String()
	}
	if c.LeaderElectionEnabled {
		masked.LeaderLockKey = c.LeaderLockKey
		masked.LeaderRetryInterval = c.LeaderRetryInterval.String()
		masked.LeaderHeartbeatInterval = c.LeaderHeartbeatInterval.String()
	}
	if c.ListenEnabled {
		masked.ListenChannel = c.ListenChannel
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks credentials in a database URL. Postgres URLs keep their
// scheme and host; sqlite paths carry no secret and are shown as is.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if strings.HasPrefix(s, "sqlite://") || strings.HasPrefix(s, "file:") {
		return s
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" {
		return "***"
	}
	if u.Host == "" {
		return u.Scheme + "://***"
	}
	return fmt.Sprintf("%s://***@%s%s", u.Scheme, u.Host, u.Path)
}
