package domain

import (
	"time"

	"github.com/google/uuid"
)

// Firing is emitted by the trigger registry when a reminder's schedule fires.
type Firing struct {
	ID         uuid.UUID
	ReminderID int64

	ScheduledAt time.Time // computed fire instant
	FiredAt     time.Time // actual emission time
}
