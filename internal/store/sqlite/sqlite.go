// Package sqlite is the single-node store backend on an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/wuchris-ch/notification-app/internal/api"
	"github.com/wuchris-ch/notification-app/internal/dispatcher"
	"github.com/wuchris-ch/notification-app/internal/domain"
	"github.com/wuchris-ch/notification-app/internal/reconciler"
	"github.com/wuchris-ch/notification-app/internal/store"
)

// Store implements reconciler.Store, dispatcher.Store and api.Store on SQLite.
type Store struct{ db *sql.DB }

// Open opens (or creates) the SQLite database at path, applies PRAGMAs and
// runs the embedded migrations. ":memory:" opens a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Single writer: one connection also keeps ":memory:" on one database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) PingContext(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const selectReminderWithChannels = `
	SELECT r.id, r.title, r.body, r.cron, r.timezone, r.enabled, r.created_at,
	       c.id, c.name, c.ntfy_topic, c.enabled
	FROM reminders r
	LEFT JOIN reminder_channels rc ON rc.reminder_id = r.id
	LEFT JOIN channels c ON c.id = rc.channel_id`

func (s *Store) ListEnabledRemindersWithChannels(ctx context.Context) ([]domain.ReminderWithChannels, error) {
	rows, err := s.db.QueryContext(ctx, selectReminderWithChannels+`
	WHERE r.enabled = 1
	ORDER BY r.id, c.id`)
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

// GetReminderWithChannels returns dispatcher.ErrReminderNotFound if id does not exist.
func (s *Store) GetReminderWithChannels(ctx context.Context, id int64) (domain.ReminderWithChannels, error) {
	rows, err := s.db.QueryContext(ctx, selectReminderWithChannels+`
	WHERE r.id = ?
	ORDER BY c.id`, id)
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

// AppendDeliveryLog returns dispatcher.ErrDuplicateDelivery if
// (firing_id, channel_id) was already recorded.
func (s *Store) AppendDeliveryLog(ctx context.Context, log domain.DeliveryLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO delivery_logs (reminder_id, channel_id, firing_id, sent_at, status, detail)
		VALUES (?, ?, ?, ?, ?, ?)`,
		log.ReminderID, log.ChannelID, log.FiringID.String(),
		log.FiredAt.UTC().Unix(), string(log.Status), log.Detail,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return dispatcher.ErrDuplicateDelivery
		}
		return err
	}
	return nil
}

func (s *Store) ListDeliveryLogs(ctx context.Context, reminderID int64, limit, offset int) ([]domain.DeliveryLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, reminder_id, channel_id, firing_id, sent_at, status, detail
		FROM delivery_logs
		WHERE reminder_id = ?
		ORDER BY sent_at DESC, id DESC
		LIMIT ? OFFSET ?`,
		reminderID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.DeliveryLog
	for rows.Next() {
		var (
			log      domain.DeliveryLog
			firingID string
			sentAt   int64
			status   string
		)
		if err := rows.Scan(&log.ID, &log.ReminderID, &log.ChannelID, &firingID, &sentAt, &status, &log.Detail); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(firingID)
		if err != nil {
			return nil, fmt.Errorf("delivery log %d: firing id: %w", log.ID, err)
		}
		log.FiringID = id
		log.FiredAt = time.Unix(sentAt, 0).UTC()
		log.Status = domain.DeliveryStatus(status)
		res = append(res, log)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

func scanReminderRow(rows *sql.Rows) (domain.Reminder, store.ChannelColumns, error) {
	var (
		r          domain.Reminder
		enabledInt int
		createdAt  int64
		cols       store.ChannelColumns
		chEnabled  sql.NullInt64
	)
	err := rows.Scan(
		&r.ID, &r.Title, &r.Body, &r.Cron, &r.Timezone, &enabledInt, &createdAt,
		&cols.ID, &cols.Name, &cols.Topic, &chEnabled,
	)
	if err != nil {
		return r, cols, err
	}
	r.Enabled = enabledInt != 0
	r.CreatedAt = time.Unix(createdAt, 0).UTC()
	cols.Enabled = sql.NullBool{Bool: chEnabled.Int64 != 0, Valid: chEnabled.Valid}
	return r, cols, nil
}

func isUniqueViolation(err error) bool {
	var sqlErr *sqlitedrv.Error
	if errors.As(err, &sqlErr) {
		return sqlErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			sqlErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Compile-time interface assertions
var (
	_ reconciler.Store = (*Store)(nil)
	_ dispatcher.Store = (*Store)(nil)
	_ api.Store        = (*Store)(nil)
)
