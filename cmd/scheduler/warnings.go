package main

import (
	"go.uber.org/zap"

	"github.com/wuchris-ch/notification-app/internal/config"
)

// logConfigWarnings logs operator-facing warnings about risky but valid
// configurations. P0 settings can fire reminders twice; P1 ones lose
// visibility.
func logConfigWarnings(logger *zap.Logger, cfg config.Config) {
	if cfg.Backend() == config.BackendPostgres && !cfg.LeaderElectionEnabled {
		logger.Warn("WARNING [P0]: LEADER_ELECTION_ENABLED=false on postgres; run exactly one replica or reminders fire once per replica")
	}

	if !cfg.MetricsEnabled {
		logger.Warn("WARNING [P1]: METRICS_ENABLED=false; delivery failures are only visible in logs and delivery_logs")
	}

	if cfg.CircuitBreakerThreshold == 0 {
		logger.Warn("WARNING [P1]: CIRCUIT_BREAKER_THRESHOLD=0; a dead destination is retried on every firing")
	}

	if cfg.RedisAddr == "" {
		logger.Info("INFO: REDIS_ADDR not set; analytics disabled")
	}

	if cfg.Backend() == config.BackendPostgres && !cfg.ListenEnabled {
		logger.Info("INFO: LISTEN_ENABLED=false; reminder edits take effect within RECONCILE_INTERVAL",
			zap.Duration("reconcile_interval", cfg.ReconcileInterval))
	}
}
