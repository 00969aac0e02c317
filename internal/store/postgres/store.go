package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/lib/pq"

	"github.com/wuchris-ch/notification-app/internal/api"
	"github.com/wuchris-ch/notification-app/internal/dispatcher"
	"github.com/wuchris-ch/notification-app/internal/domain"
	"github.com/wuchris-ch/notification-app/internal/reconciler"
	"github.com/wuchris-ch/notification-app/internal/store"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Store implements reconciler.Store, dispatcher.Store and api.Store using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL store with the given database connection.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// ListEnabledRemindersWithChannels returns every enabled reminder with all of
// its linked channels, ordered by reminder id.
func (s *Store) ListEnabledRemindersWithChannels(ctx context.Context) ([]domain.ReminderWithChannels, error) {
	rows, err := s.db.QueryContext(ctx, queryListEnabledReminders)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	c := store.NewCollector()
	for rows.Next() {
		r, cols, err := scanReminderRow(rows)
		if err != nil {
			return nil, err
		}
		c.Add(r, cols)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return c.Result(), nil
}

// GetReminderWithChannels returns the reminder regardless of its enabled flag.
// Returns dispatcher.ErrReminderNotFound if it does not exist.
func (s *Store) GetReminderWithChannels(ctx context.Context, id int64) (domain.ReminderWithChannels, error) {
	rows, err := s.db.QueryContext(ctx, queryGetReminder, id)
	if err != nil {
		return domain.ReminderWithChannels{}, err
	}
	defer rows.Close()

	c := store.NewCollector()
	for rows.Next() {
		r, cols, err := scanReminderRow(rows)
		if err != nil {
			return domain.ReminderWithChannels{}, err
		}
		c.Add(r, cols)
	}
	if err := rows.Err(); err != nil {
		return domain.ReminderWithChannels{}, err
	}
	if c.Len() == 0 {
		return domain.ReminderWithChannels{}, dispatcher.ErrReminderNotFound
	}
	return c.Result()[0], nil
}

// AppendDeliveryLog inserts one delivery log row.
// Returns dispatcher.ErrDuplicateDelivery if (firing_id, channel_id) already exists.
func (s *Store) AppendDeliveryLog(ctx context.Context, log domain.DeliveryLog) error {
	var id int64
	err := s.db.QueryRowContext(ctx, queryInsertDeliveryLog,
		log.ReminderID,
		log.ChannelID,
		log.FiringID,
		log.FiredAt,
		string(log.Status),
		log.Detail,
	).Scan(&id)
	if err != nil {
		if isDuplicateKeyError(err) {
			return dispatcher.ErrDuplicateDelivery
		}
		return err
	}
	return nil
}

// ListDeliveryLogs returns a reminder's delivery history, newest first.
func (s *Store) ListDeliveryLogs(ctx context.Context, reminderID int64, limit, offset int) ([]domain.DeliveryLog, error) {
	rows, err := s.db.QueryContext(ctx, queryListDeliveryLogs, reminderID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.DeliveryLog
	for rows.Next() {
		var log domain.DeliveryLog
		var status string

		err := rows.Scan(
			&log.ID,
			&log.ReminderID,
			&log.ChannelID,
			&log.FiringID,
			&log.FiredAt,
			&status,
			&log.Detail,
		)
		if err != nil {
			return nil, err
		}
		log.Status = domain.DeliveryStatus(status)
		result = append(result, log)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Store) PingContext(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func scanReminderRow(rows *sql.Rows) (domain.Reminder, store.ChannelColumns, error) {
	var r domain.Reminder
	var cols store.ChannelColumns
	err := rows.Scan(
		&r.ID,
		&r.Title,
		&r.Body,
		&r.Cron,
		&r.Timezone,
		&r.Enabled,
		&r.CreatedAt,
		&cols.ID,
		&cols.Name,
		&cols.Topic,
		&cols.Enabled,
	)
	return r, cols, err
}

// isDuplicateKeyError checks if the error is a PostgreSQL unique violation.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation
	}
	// Fallback for wrapped driver errors that lost their type.
	errStr := err.Error()
	return strings.Contains(errStr, uniqueViolation) || strings.Contains(errStr, "duplicate key")
}

// Compile-time interface assertions
var (
	_ reconciler.Store = (*Store)(nil)
	_ dispatcher.Store = (*Store)(nil)
	_ api.Store        = (*Store)(nil)
)
