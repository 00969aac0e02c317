package main

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wuchris-ch/notification-app/internal/config"
	"github.com/wuchris-ch/notification-app/internal/cron"
	"github.com/wuchris-ch/notification-app/internal/dispatcher"
	"github.com/wuchris-ch/notification-app/internal/domain"
	"github.com/wuchris-ch/notification-app/internal/gateway"
	"github.com/wuchris-ch/notification-app/internal/registry"
	"github.com/wuchris-ch/notification-app/internal/testutil"
	"github.com/wuchris-ch/notification-app/internal/transport/channel"
)

func TestOpenStore_SQLiteInMemory(t *testing.T) {
	ctx := testutil.TestContext(t)
	logger, logs := testutil.ObservedLogger()

	cfg := config.Config{DatabaseURL: "sqlite://:memory:", StoreTimeout: time.Second}
	st, db, err := openStore(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer st.Close()

	if db != nil {
		t.Error("sqlite backend should not expose a postgres handle")
	}
	if err := st.PingContext(ctx); err != nil {
		t.Errorf("PingContext: %v", err)
	}
	reminders, err := st.ListEnabledRemindersWithChannels(ctx)
	if err != nil {
		t.Fatalf("ListEnabledRemindersWithChannels: %v", err)
	}
	if len(reminders) != 0 {
		t.Errorf("fresh database has %d reminders", len(reminders))
	}
	if logs.FilterMessage("store opened").Len() != 1 {
		t.Error("expected a store opened log entry")
	}
}

func TestOpenStore_UnsupportedScheme(t *testing.T) {
	logger, _ := testutil.ObservedLogger()

	_, _, err := openStore(context.Background(), config.Config{DatabaseURL: "mysql://db"}, logger)
	if err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Fatalf("err = %v, want unsupported scheme", err)
	}
}

func TestBuildGateway_CircuitBreaker(t *testing.T) {
	logger, _ := testutil.ObservedLogger()
	cfg := config.Config{
		NtfyBaseURL:             "https://ntfy.sh",
		NtfyRatePerSec:          5,
		SendTimeout:             time.Second,
		CircuitBreakerThreshold: 3,
		CircuitBreakerCooldown:  time.Minute,
	}

	gw, err := buildGateway(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("buildGateway: %v", err)
	}
	if _, ok := gw.(*gateway.Protected); !ok {
		t.Errorf("gateway = %T, want *gateway.Protected", gw)
	}

	cfg.CircuitBreakerThreshold = 0
	gw, err = buildGateway(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("buildGateway: %v", err)
	}
	if _, ok := gw.(*gateway.Router); !ok {
		t.Errorf("gateway = %T, want *gateway.Router", gw)
	}
}

func TestBuildGateway_SNSDisabledIsMalformed(t *testing.T) {
	logger, _ := testutil.ObservedLogger()
	cfg := config.Config{
		NtfyBaseURL:    "https://ntfy.sh",
		NtfyRatePerSec: 5,
		SendTimeout:    time.Second,
	}

	gw, err := buildGateway(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("buildGateway: %v", err)
	}

	dest := domain.MustParseDestination("arn:aws:sns:us-east-1:123456789012:reminders")
	res := gw.Send(context.Background(), dest, domain.Notification{Title: "t", Body: "b"})
	if res.Reason != domain.FailureMalformedDestination {
		t.Errorf("reason = %q, want %q", res.Reason, domain.FailureMalformedDestination)
	}
}

func TestLeaderDuties_ResignClearsTriggers(t *testing.T) {
	logger, logs := testutil.ObservedLogger()
	reg := registry.New(cron.NewParser()).
		WithClock(testutil.FakeClockAt(time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC))).
		WithLogger(logger)
	defer reg.Stop(context.Background())

	for id := int64(1); id <= 2; id++ {
		job := domain.ScheduledJob{ReminderID: id, Cron: "0 9 * * *", Timezone: "UTC"}
		if _, err := reg.Upsert(job, func(context.Context, domain.Firing) {}); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	d := &leaderDuties{registry: reg, logger: logger}
	d.Resign()
	d.Resign()

	if reg.Len() != 0 {
		t.Errorf("registry has %d triggers after resign", reg.Len())
	}
	if logs.FilterMessage("triggers cleared").Len() != 2 {
		t.Error("expected a triggers cleared entry per resign")
	}
}

// memStore serves one reminder and records delivery rows.
type memStore struct {
	mu       sync.Mutex
	reminder domain.ReminderWithChannels
	rows     []domain.DeliveryLog
}

func (s *memStore) GetReminderWithChannels(ctx context.Context, id int64) (domain.ReminderWithChannels, error) {
	if id != s.reminder.Reminder.ID {
		return domain.ReminderWithChannels{}, dispatcher.ErrReminderNotFound
	}
	return s.reminder, nil
}

func (s *memStore) AppendDeliveryLog(ctx context.Context, log domain.DeliveryLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, log)
	return nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// slowGateway holds every send for delay so firings pile up on the bus.
type slowGateway struct {
	mu    sync.Mutex
	calls int
	delay time.Duration
}

func (g *slowGateway) Send(ctx context.Context, dest domain.Destination, n domain.Notification) domain.SendResult {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	time.Sleep(g.delay)
	return domain.SendResult{StatusCode: 200}
}

func (g *slowGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func TestStopFiring_DeliversBufferedFirings(t *testing.T) {
	logger, logs := testutil.ObservedLogger()
	at := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)

	reg := registry.New(cron.NewParser()).
		WithClock(testutil.FakeClockAt(at)).
		WithLogger(logger)
	job := domain.ScheduledJob{ReminderID: 1, Cron: "0 9 * * *", Timezone: "UTC"}
	if _, err := reg.Upsert(job, func(context.Context, domain.Firing) {}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	st := &memStore{reminder: domain.ReminderWithChannels{
		Reminder: domain.Reminder{ID: 1, Title: "Stand-up", Cron: job.Cron, Timezone: job.Timezone, Enabled: true},
		Channels: []domain.Channel{{ID: 10, Name: "team", Destination: domain.MustParseDestination("team-standup"), Enabled: true}},
	}}
	gw := &slowGateway{delay: 50 * time.Millisecond}
	bus := channel.NewEventBus(5)
	disp := dispatcher.New(st, gw).WithActiveChecker(reg).WithLogger(logger)

	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	var dispatcherWg sync.WaitGroup
	dispatcherWg.Add(1)
	go func() {
		defer dispatcherWg.Done()
		disp.Run(dispatcherCtx, bus.Channel())
	}()

	for i := 0; i < 3; i++ {
		f := domain.Firing{ID: uuid.New(), ReminderID: 1, ScheduledAt: at, FiredAt: at}
		if err := bus.Emit(context.Background(), f); err != nil {
			t.Fatalf("Emit: %v", err)
		}
	}
	// A firing is in the gateway and the rest wait on the bus.
	testutil.WaitFor(t, func() bool { return gw.callCount() >= 1 })

	var schedulingWg sync.WaitGroup
	stopFiring(logger, disp, reg, func() {}, &schedulingWg, cancelDispatcher, &dispatcherWg, time.Second)

	if reg.Active(1) {
		t.Error("trigger should be retired after stopFiring")
	}
	if n := st.count(); n != 3 {
		t.Errorf("delivery rows = %d, want 3", n)
	}
	if n := logs.FilterMessage("dropping firing for retired job").Len(); n != 0 {
		t.Errorf("%d firings dropped during shutdown", n)
	}
}
