// Package analytics keeps best-effort firing and delivery counters in Redis,
// bucketed by time window. Errors are logged and never reach the caller.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wuchris-ch/notification-app/internal/domain"
)

// DefaultWriteTimeout bounds one counter update.
const DefaultWriteTimeout = 2 * time.Second

type RedisSink struct {
	client  *redis.Client
	config  domain.AnalyticsConfig
	timeout time.Duration
	logger  *zap.Logger
}

func NewRedisSink(client *redis.Client, config domain.AnalyticsConfig) *RedisSink {
	if config.Window <= 0 {
		config.Window = time.Hour
	}
	if config.Retention < config.Window {
		config.Retention = config.Window
	}
	return &RedisSink{
		client:  client,
		config:  config,
		timeout: DefaultWriteTimeout,
		logger:  zap.NewNop(),
	}
}

func (s *RedisSink) WithLogger(logger *zap.Logger) *RedisSink {
	s.logger = logger.Named("analytics")
	return s
}

// RecordFiring counts one dispatched firing in its scheduled bucket.
func (s *RedisSink) RecordFiring(ctx context.Context, firing domain.Firing) {
	key := buildKey(firing.ReminderID, "fired", firing.ScheduledAt, s.config.Window)
	if err := s.incr(ctx, key); err != nil {
		s.logger.Warn("failed to record firing",
			zap.Int64("reminder_id", firing.ReminderID),
			zap.String("key", key),
			zap.Error(err))
	}
}

// RecordDelivery counts one channel outcome in the firing's bucket.
func (s *RedisSink) RecordDelivery(ctx context.Context, firing domain.Firing, status domain.DeliveryStatus) {
	key := buildKey(firing.ReminderID, string(status), firing.ScheduledAt, s.config.Window)
	if err := s.incr(ctx, key); err != nil {
		s.logger.Warn("failed to record delivery",
			zap.Int64("reminder_id", firing.ReminderID),
			zap.String("status", string(status)),
			zap.String("key", key),
			zap.Error(err))
	}
}

// Ping reports whether Redis is reachable.
func (s *RedisSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisSink) incr(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.config.Retention)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}

	return nil
}

func buildKey(reminderID int64, counter string, t time.Time, window time.Duration) string {
	bucket := truncateToBucket(t, window)
	return fmt.Sprintf("r:%d:%s:%s", reminderID, counter, bucket)
}

func truncateToBucket(t time.Time, window time.Duration) string {
	t = t.UTC()
	switch window {
	case time.Minute:
		return t.Format("200601021504")
	case 5 * time.Minute:
		minute := (t.Minute() / 5) * 5
		return t.Format("2006010215") + fmt.Sprintf("%02d", minute)
	case time.Hour:
		return t.Format("2006010215")
	case 24 * time.Hour:
		return t.Format("20060102")
	default:
		return t.Format("200601021504")
	}
}
