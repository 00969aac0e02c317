package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wuchris-ch/notification-app/internal/dispatcher"
	"github.com/wuchris-ch/notification-app/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *Store) seedReminder(t *testing.T, title, cron, tz string, enabled bool) int64 {
	t.Helper()
	res, err := s.db.Exec(`INSERT INTO reminders (title, body, cron, timezone, enabled, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		title, "body of "+title, cron, tz, boolToInt(enabled), time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Unix())
	if err != nil {
		t.Fatalf("seed reminder: %v", err)
	}
	id, _ := res.LastInsertId()
	return id
}

func (s *Store) seedChannel(t *testing.T, name, topic string, enabled bool) int64 {
	t.Helper()
	res, err := s.db.Exec(`INSERT INTO channels (name, ntfy_topic, enabled, created_at) VALUES (?, ?, ?, ?)`,
		name, topic, boolToInt(enabled), time.Now().Unix())
	if err != nil {
		t.Fatalf("seed channel: %v", err)
	}
	id, _ := res.LastInsertId()
	return id
}

func (s *Store) link(t *testing.T, reminderID, channelID int64) {
	t.Helper()
	if _, err := s.db.Exec(`INSERT INTO reminder_channels (reminder_id, channel_id) VALUES (?, ?)`, reminderID, channelID); err != nil {
		t.Fatalf("link: %v", err)
	}
}

func TestListEnabledRemindersWithChannels(t *testing.T) {
	s := openTestStore(t)

	meds := s.seedReminder(t, "meds", "0 9 * * *", "America/Vancouver", true)
	bins := s.seedReminder(t, "bins", "0 18 * * 2", "", true)
	s.seedReminder(t, "paused", "0 7 * * *", "UTC", false)

	mom := s.seedChannel(t, "mom", "family-mom", true)
	dad := s.seedChannel(t, "dad", "family-dad", false)
	s.link(t, meds, mom)
	s.link(t, meds, dad)

	got, err := s.ListEnabledRemindersWithChannels(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("reminders = %d, want 2 (disabled excluded)", len(got))
	}
	if got[0].Reminder.ID != meds || got[1].Reminder.ID != bins {
		t.Errorf("ids = %d, %d", got[0].Reminder.ID, got[1].Reminder.ID)
	}
	if got[0].Reminder.Timezone != "America/Vancouver" || got[0].Reminder.Body != "body of meds" {
		t.Errorf("reminder fields = %+v", got[0].Reminder)
	}
	if !got[0].Reminder.CreatedAt.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("CreatedAt = %v", got[0].Reminder.CreatedAt)
	}
	if len(got[0].Channels) != 2 {
		t.Fatalf("meds channels = %d, want 2", len(got[0].Channels))
	}
	if len(got[0].EnabledChannels()) != 1 {
		t.Errorf("meds enabled channels = %d, want 1", len(got[0].EnabledChannels()))
	}
	if got[0].Channels[0].Destination.Kind() != domain.DestinationNtfyTopic {
		t.Errorf("destination kind = %q", got[0].Channels[0].Destination.Kind())
	}
	if len(got[1].Channels) != 0 {
		t.Errorf("bins channels = %d, want 0", len(got[1].Channels))
	}
}

func TestGetReminderWithChannels(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id := s.seedReminder(t, "paused", "0 7 * * *", "UTC", false)
	ch := s.seedChannel(t, "mom", "family-mom", true)
	s.link(t, id, ch)

	got, err := s.GetReminderWithChannels(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Reminder.Enabled {
		t.Error("expected disabled reminder to be returned as disabled")
	}
	if len(got.Channels) != 1 || got.Channels[0].ID != ch {
		t.Errorf("channels = %+v", got.Channels)
	}

	if _, err := s.GetReminderWithChannels(ctx, 9999); !errors.Is(err, dispatcher.ErrReminderNotFound) {
		t.Errorf("missing reminder: err = %v, want ErrReminderNotFound", err)
	}
}

func TestDeletedChannelDisappears(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id := s.seedReminder(t, "meds", "0 9 * * *", "UTC", true)
	ch := s.seedChannel(t, "mom", "family-mom", true)
	s.link(t, id, ch)

	if _, err := s.db.Exec(`DELETE FROM channels WHERE id = ?`, ch); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err := s.GetReminderWithChannels(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Channels) != 0 {
		t.Errorf("channels = %d, want 0 after cascade", len(got.Channels))
	}
}

func TestAppendDeliveryLog(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	firing := uuid.New()
	at := time.Date(2025, 3, 9, 16, 0, 0, 0, time.UTC)
	logs := []domain.DeliveryLog{
		{ReminderID: 1, ChannelID: 10, FiringID: firing, FiredAt: at, Status: domain.DeliveryStatusSent, Detail: "ntfy id abc"},
		{ReminderID: 1, ChannelID: 11, FiringID: firing, FiredAt: at, Status: domain.DeliveryStatusError, Detail: "non_2xx: status 500"},
	}
	for _, l := range logs {
		if err := s.AppendDeliveryLog(ctx, l); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	if err := s.AppendDeliveryLog(ctx, logs[0]); !errors.Is(err, dispatcher.ErrDuplicateDelivery) {
		t.Errorf("duplicate append: err = %v, want ErrDuplicateDelivery", err)
	}

	got, err := s.ListDeliveryLogs(ctx, 1, 10, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("rows = %d, want 2", len(got))
	}
	statuses := map[int64]domain.DeliveryStatus{}
	for _, l := range got {
		statuses[l.ChannelID] = l.Status
		if l.FiringID != firing {
			t.Errorf("FiringID = %v", l.FiringID)
		}
		if !l.FiredAt.Equal(at) {
			t.Errorf("FiredAt = %v, want %v", l.FiredAt, at)
		}
	}
	if statuses[10] != domain.DeliveryStatusSent || statuses[11] != domain.DeliveryStatusError {
		t.Errorf("statuses = %v", statuses)
	}

	page, err := s.ListDeliveryLogs(ctx, 1, 1, 1)
	if err != nil {
		t.Fatalf("List page: %v", err)
	}
	if len(page) != 1 {
		t.Errorf("page rows = %d, want 1", len(page))
	}
}

func TestAppendDeliveryLog_ConcurrentWriters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	const n = 20
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(ch int64) {
			errs <- s.AppendDeliveryLog(ctx, domain.DeliveryLog{
				ReminderID: 7, ChannelID: ch, FiringID: uuid.New(),
				FiredAt: time.Now(), Status: domain.DeliveryStatusSent,
			})
		}(int64(i))
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Errorf("append: %v", err)
		}
	}

	got, err := s.ListDeliveryLogs(ctx, 7, 100, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != n {
		t.Errorf("rows = %d, want %d", len(got), n)
	}
}

func TestOpen_FileCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "reminders.db")
	s, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.PingContext(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}

	// Migrations are idempotent.
	if err := RunMigrations(context.Background(), s.db); err != nil {
		t.Errorf("second migration run: %v", err)
	}
}
