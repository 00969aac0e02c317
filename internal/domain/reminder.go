package domain

import "time"

// DefaultTimezone applies to reminders stored without a timezone.
const DefaultTimezone = "America/Vancouver"

type Reminder struct {
	ID int64

	Title string
	Body  string // optional, empty means an empty message

	Cron     string // 5-field cron expression
	Timezone string // IANA timezone

	Enabled   bool
	CreatedAt time.Time
}

// Channel is a named delivery target shared by any number of reminders.
type Channel struct {
	ID          int64
	Name        string
	Destination Destination
	Enabled     bool
}

// ReminderWithChannels is a reminder joined with every channel linked to it,
// enabled or not.
type ReminderWithChannels struct {
	Reminder Reminder
	Channels []Channel
}

// EnabledChannels returns the linked channels that should receive a firing.
func (r ReminderWithChannels) EnabledChannels() []Channel {
	var out []Channel
	for _, ch := range r.Channels {
		if ch.Enabled {
			out = append(out, ch)
		}
	}
	return out
}
