package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wuchris-ch/notification-app/internal/domain"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func testFiring() domain.Firing {
	return domain.Firing{
		ID:          uuid.New(),
		ReminderID:  42,
		ScheduledAt: time.Date(2025, 3, 9, 16, 37, 0, 0, time.UTC),
		FiredAt:     time.Date(2025, 3, 9, 16, 37, 0, 4000000, time.UTC),
	}
}

func TestRecordFiring_IncrementsBucket(t *testing.T) {
	mr, rdb := setupTestRedis(t)
	sink := NewRedisSink(rdb, domain.AnalyticsConfig{Window: time.Hour, Retention: 24 * time.Hour})

	f := testFiring()
	sink.RecordFiring(context.Background(), f)
	sink.RecordFiring(context.Background(), f)

	key := "r:42:fired:2025030916"
	got, err := mr.Get(key)
	if err != nil {
		t.Fatalf("get %s: %v", key, err)
	}
	if got != "2" {
		t.Errorf("count = %s, want 2", got)
	}
	if ttl := mr.TTL(key); ttl != 24*time.Hour {
		t.Errorf("TTL = %v, want 24h", ttl)
	}
}

func TestRecordDelivery_PerStatus(t *testing.T) {
	mr, rdb := setupTestRedis(t)
	sink := NewRedisSink(rdb, domain.AnalyticsConfig{Window: 5 * time.Minute, Retention: time.Hour})

	f := testFiring()
	sink.RecordDelivery(context.Background(), f, domain.DeliveryStatusSent)
	sink.RecordDelivery(context.Background(), f, domain.DeliveryStatusSent)
	sink.RecordDelivery(context.Background(), f, domain.DeliveryStatusError)

	tests := map[string]string{
		"r:42:sent:202503091635":  "2",
		"r:42:error:202503091635": "1",
	}
	for key, want := range tests {
		got, err := mr.Get(key)
		if err != nil {
			t.Errorf("get %s: %v", key, err)
			continue
		}
		if got != want {
			t.Errorf("%s = %s, want %s", key, got, want)
		}
	}
}

func TestRecord_RedisDownIsLoggedNotPropagated(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	t.Cleanup(func() { rdb.Close() })
	core, logs := observer.New(zapcore.WarnLevel)
	sink := NewRedisSink(rdb, domain.AnalyticsConfig{Window: time.Hour, Retention: time.Hour}).
		WithLogger(zap.New(core))

	sink.RecordFiring(context.Background(), testFiring())
	sink.RecordDelivery(context.Background(), testFiring(), domain.DeliveryStatusSent)

	if logs.FilterMessage("failed to record firing").Len() != 1 {
		t.Error("expected firing failure to be logged")
	}
	if logs.FilterMessage("failed to record delivery").Len() != 1 {
		t.Error("expected delivery failure to be logged")
	}
}

func TestNewRedisSink_RetentionAtLeastWindow(t *testing.T) {
	_, rdb := setupTestRedis(t)
	sink := NewRedisSink(rdb, domain.AnalyticsConfig{Window: time.Hour, Retention: time.Minute})
	if sink.config.Retention != time.Hour {
		t.Errorf("Retention = %v, want 1h", sink.config.Retention)
	}
}

func TestTruncateToBucket(t *testing.T) {
	at := time.Date(2025, 3, 9, 16, 37, 45, 0, time.UTC)
	tests := []struct {
		window time.Duration
		want   string
	}{
		{time.Minute, "202503091637"},
		{5 * time.Minute, "202503091635"},
		{time.Hour, "2025030916"},
		{24 * time.Hour, "20250309"},
		{7 * time.Minute, "202503091637"},
	}
	for _, tt := range tests {
		if got := truncateToBucket(at, tt.window); got != tt.want {
			t.Errorf("truncateToBucket(%v) = %s, want %s", tt.window, got, tt.want)
		}
	}

	local := at.In(time.FixedZone("PDT", -7*3600))
	if got := truncateToBucket(local, time.Hour); got != "2025030916" {
		t.Errorf("buckets must be UTC, got %s", got)
	}
}
