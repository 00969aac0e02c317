package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Nudger is told to run a reconciliation cycle soon.
type Nudger interface {
	Trigger()
}

const (
	minListenBackoff = time.Second
	maxListenBackoff = time.Minute
)

// Listener holds a dedicated connection subscribed to a notification channel
// and nudges the reconciler on every notification. Polling remains the
// correctness bound; a lost connection only delays changes until the next poll.
type Listener struct {
	dsn     string
	channel string
	nudger  Nudger
	logger  *zap.Logger
}

func NewListener(dsn, channel string, nudger Nudger) *Listener {
	return &Listener{
		dsn:     dsn,
		channel: channel,
		nudger:  nudger,
		logger:  zap.NewNop(),
	}
}

func (l *Listener) WithLogger(logger *zap.Logger) *Listener {
	l.logger = logger.Named("listener")
	return l
}

// Run listens until ctx is cancelled, reconnecting with exponential backoff.
func (l *Listener) Run(ctx context.Context) error {
	backoff := minListenBackoff
	for {
		connected, err := l.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			backoff = minListenBackoff
		}
		l.logger.Warn("listen connection lost, reconnecting",
			zap.String("channel", l.channel),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		backoff = nextBackoff(backoff)
	}
}

// listen runs one connection lifetime. connected reports whether LISTEN
// succeeded before the error.
func (l *Listener) listen(ctx context.Context) (connected bool, err error) {
	conn, err := pgx.Connect(ctx, l.dsn)
	if err != nil {
		return false, fmt.Errorf("connect: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return false, fmt.Errorf("listen: %w", err)
	}
	l.logger.Info("listening for reminder changes", zap.String("channel", l.channel))

	// Changes made while disconnected were missed; catch up now.
	l.nudger.Trigger()

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return true, err
		}
		l.logger.Debug("change notification",
			zap.String("channel", n.Channel),
			zap.String("payload", n.Payload))
		l.nudger.Trigger()
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxListenBackoff {
		return maxListenBackoff
	}
	return d
}
