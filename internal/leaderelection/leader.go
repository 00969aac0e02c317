// Package leaderelection makes sure only one replica fires reminders.
//
// A single Postgres session-scoped advisory lock determines the leader. The
// lock is held for the lifetime of a dedicated database connection; there is
// no renewal or TTL. If the connection dies, Postgres releases the lock
// server-side (timing depends on TCP keepalive settings).
//
// The heartbeat ping exists solely to detect local connection death so the
// leader can clear its triggers promptly. It does NOT renew the lock.
package leaderelection

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"
)

// Loss reasons reported to MetricsSink.LeaderLost.
const (
	ReasonShutdown = "shutdown"
	ReasonConnLost = "conn_lost"
)

// MetricsSink defines the interface for recording leader election metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}

// Locker tries to take the leader lock without blocking.
type Locker interface {
	// TryAcquire returns a held Session, or ok=false if another instance
	// holds the lock.
	TryAcquire(ctx context.Context) (s Session, ok bool, err error)
}

// Session is a held lock.
type Session interface {
	Ping(ctx context.Context) error
	Release(ctx context.Context) error
}

// Duties are started on election and stopped on demotion.
type Duties interface {
	// Lead runs leader-only work until ctx is cancelled. It is started in
	// its own goroutine.
	Lead(ctx context.Context)
	// Resign is called synchronously after ctx of Lead is cancelled. It must
	// leave no trigger registered and be idempotent.
	Resign()
}

// Elector manages leader election.
type Elector struct {
	locker            Locker
	duties            Duties
	retryInterval     time.Duration // follower: how often to attempt lock acquisition
	heartbeatInterval time.Duration // leader: how often to ping the session
	metrics           MetricsSink   // optional, nil = disabled
	logger            *zap.Logger
}

func New(locker Locker, duties Duties, retryInterval, heartbeatInterval time.Duration) *Elector {
	return &Elector{
		locker:            locker,
		duties:            duties,
		retryInterval:     retryInterval,
		heartbeatInterval: heartbeatInterval,
		logger:            zap.NewNop(),
	}
}

func (e *Elector) WithLogger(logger *zap.Logger) *Elector {
	e.logger = logger.Named("leader")
	return e
}

// WithMetrics attaches a metrics sink to the elector.
func (e *Elector) WithMetrics(sink MetricsSink) *Elector {
	e.metrics = sink
	return e
}

// Run starts the leader election loop. It blocks until ctx is cancelled.
func (e *Elector) Run(ctx context.Context) {
	e.logger.Info("starting election loop",
		zap.Duration("retry", e.retryInterval),
		zap.Duration("heartbeat", e.heartbeatInterval))

	for {
		reason := e.runOnce(ctx)

		if ctx.Err() != nil {
			e.logger.Info("election loop stopped")
			return
		}
		if reason != "" {
			e.logger.Warn("lost leadership, will retry",
				zap.String("reason", reason),
				zap.Duration("retry", e.retryInterval))
		}

		select {
		case <-ctx.Done():
			e.logger.Info("election loop stopped")
			return
		case <-time.After(e.retryInterval):
		}
	}
}

// runOnce attempts to acquire the lock and hold it.
// Returns the reason leadership was lost ("" if the lock was not acquired).
func (e *Elector) runOnce(ctx context.Context) string {
	session, ok, err := e.locker.TryAcquire(ctx)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Warn("lock attempt failed", zap.Error(err))
		}
		return ""
	}
	if !ok {
		e.logger.Debug("lock held by another instance", zap.Duration("retry", e.retryInterval))
		return ""
	}

	e.logger.Info("acquired leader lock")
	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(true)
		e.metrics.LeaderAcquired()
	}

	leaderCtx, cancelLeader := context.WithCancel(ctx)
	go e.duties.Lead(leaderCtx)

	reason := e.hold(ctx, session)

	cancelLeader()
	e.duties.Resign()

	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := session.Release(releaseCtx); err != nil {
		e.logger.Warn("failed to release leader lock", zap.Error(err))
	}
	cancel()

	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(false)
		e.metrics.LeaderLost(reason)
	}

	e.logger.Info("released leader lock", zap.String("reason", reason))
	return reason
}

// hold blocks while pinging the session. Returns the reason the lock was lost.
func (e *Elector) hold(ctx context.Context, session Session) string {
	ticker := time.NewTicker(e.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ReasonShutdown
		case <-ticker.C:
			if err := session.Ping(ctx); err != nil {
				if ctx.Err() != nil {
					return ReasonShutdown
				}
				e.logger.Error("leader session ping failed", zap.Error(err))
				return ReasonConnLost
			}
		}
	}
}

// PGLocker takes a Postgres advisory lock on a dedicated connection.
type PGLocker struct {
	db      *sql.DB
	lockKey int64
}

func NewPGLocker(db *sql.DB, lockKey int64) *PGLocker {
	return &PGLocker{db: db, lockKey: lockKey}
}

func (l *PGLocker) TryAcquire(ctx context.Context) (Session, bool, error) {
	// Advisory lock is session-scoped: must use a dedicated connection.
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, false, err
	}

	var acquired bool
	err = conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockKey).Scan(&acquired)
	if err != nil || !acquired {
		_ = conn.Close()
		return nil, false, err
	}
	return &pgSession{conn: conn, lockKey: l.lockKey}, true, nil
}

type pgSession struct {
	conn    *sql.Conn
	lockKey int64
}

func (s *pgSession) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

// Release unlocks explicitly so a follower can take over without waiting
// for the connection to be reaped.
func (s *pgSession) Release(ctx context.Context) error {
	defer s.conn.Close()
	_, err := s.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", s.lockKey)
	return err
}
