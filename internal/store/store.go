// Package store holds row-folding helpers shared by the postgres and sqlite
// backends. Both backends read reminders joined with their channels in one
// query, ordered by reminder id, and fold the rows with a Collector.
package store

import (
	"database/sql"

	"github.com/wuchris-ch/notification-app/internal/domain"
)

// ChannelColumns receives the channel side of a reminders LEFT JOIN
// channels row. All columns are NULL for a reminder without channels.
type ChannelColumns struct {
	ID      sql.NullInt64
	Name    sql.NullString
	Topic   sql.NullString
	Enabled sql.NullBool
}

// Channel converts the columns to a domain.Channel. A malformed destination
// is kept as an invalid Destination so the attempt can still be logged.
func (c ChannelColumns) Channel() (domain.Channel, bool) {
	if !c.ID.Valid {
		return domain.Channel{}, false
	}
	dest, _ := domain.ParseDestination(c.Topic.String)
	return domain.Channel{
		ID:          c.ID.Int64,
		Name:        c.Name.String,
		Destination: dest,
		Enabled:     c.Enabled.Valid && c.Enabled.Bool,
	}, true
}

// Collector folds joined rows into one ReminderWithChannels per reminder,
// preserving first-seen order.
type Collector struct {
	out   []domain.ReminderWithChannels
	index map[int64]int
}

func NewCollector() *Collector {
	return &Collector{index: make(map[int64]int)}
}

func (c *Collector) Add(r domain.Reminder, cols ChannelColumns) {
	i, ok := c.index[r.ID]
	if !ok {
		i = len(c.out)
		c.index[r.ID] = i
		c.out = append(c.out, domain.ReminderWithChannels{Reminder: r})
	}
	if ch, ok := cols.Channel(); ok {
		c.out[i].Channels = append(c.out[i].Channels, ch)
	}
}

func (c *Collector) Result() []domain.ReminderWithChannels {
	return c.out
}

// Len returns the number of distinct reminders collected.
func (c *Collector) Len() int {
	return len(c.out)
}
