package main

import (
	"strings"
	"testing"
	"time"

	"github.com/wuchris-ch/notification-app/internal/config"
	"github.com/wuchris-ch/notification-app/internal/testutil"
)

// captureWarnings calls logConfigWarnings with cfg and returns the logged
// messages joined by newlines.
func captureWarnings(cfg config.Config) string {
	logger, logs := testutil.ObservedLogger()
	logConfigWarnings(logger, cfg)

	var msgs []string
	for _, e := range logs.All() {
		msgs = append(msgs, e.Message)
	}
	return strings.Join(msgs, "\n")
}

func TestLogConfigWarnings_PostgresWithoutLeaderElection(t *testing.T) {
	output := captureWarnings(config.Config{
		DatabaseURL:             "postgres://db/reminders",
		MetricsEnabled:          true,
		CircuitBreakerThreshold: 5,
		RedisAddr:               "localhost:6379",
		ListenEnabled:           true,
	})

	if !strings.Contains(output, "WARNING [P0]: LEADER_ELECTION_ENABLED=false") {
		t.Error("expected leader election P0 warning, got:", output)
	}
	if strings.Contains(output, "WARNING [P1]") {
		t.Error("did not expect P1 warnings, got:", output)
	}
}

func TestLogConfigWarnings_SQLiteNeverWarnsAboutPostgresFeatures(t *testing.T) {
	output := captureWarnings(config.Config{
		DatabaseURL:             "sqlite://./data/reminders.db",
		MetricsEnabled:          true,
		CircuitBreakerThreshold: 5,
		RedisAddr:               "localhost:6379",
	})

	if strings.Contains(output, "LEADER_ELECTION_ENABLED") {
		t.Error("did not expect leader election warning on sqlite, got:", output)
	}
	if strings.Contains(output, "LISTEN_ENABLED") {
		t.Error("did not expect listen info on sqlite, got:", output)
	}
	if output != "" {
		t.Error("expected no output, got:", output)
	}
}

func TestLogConfigWarnings_FullyConfiguredPostgres(t *testing.T) {
	output := captureWarnings(config.Config{
		DatabaseURL:             "postgres://db/reminders",
		LeaderElectionEnabled:   true,
		ListenEnabled:           true,
		MetricsEnabled:          true,
		CircuitBreakerThreshold: 5,
		RedisAddr:               "localhost:6379",
	})

	if strings.Contains(output, "WARNING") {
		t.Error("did not expect any warnings, got:", output)
	}
	if strings.Contains(output, "INFO") {
		t.Error("did not expect any INFO messages, got:", output)
	}
}

func TestLogConfigWarnings_AllWarnings(t *testing.T) {
	output := captureWarnings(config.Config{
		DatabaseURL:       "postgres://db/reminders",
		ReconcileInterval: time.Minute,
	})

	expected := []string{
		"WARNING [P0]: LEADER_ELECTION_ENABLED=false",
		"WARNING [P1]: METRICS_ENABLED=false",
		"WARNING [P1]: CIRCUIT_BREAKER_THRESHOLD=0",
		"INFO: REDIS_ADDR not set",
		"INFO: LISTEN_ENABLED=false",
	}
	for _, want := range expected {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
}
