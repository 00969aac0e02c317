package domain

import (
	"time"

	"github.com/google/uuid"
)

type DeliveryStatus string

const (
	DeliveryStatusSent  DeliveryStatus = "sent"
	DeliveryStatusError DeliveryStatus = "error"
)

// DeliveryLog is the append-only record of one (reminder, channel, firing)
// attempt. Rows are never updated.
type DeliveryLog struct {
	ID int64

	ReminderID int64
	ChannelID  int64
	FiringID   uuid.UUID

	FiredAt time.Time
	Status  DeliveryStatus
	Detail  string
}

type FailureReason string

const (
	FailureUnreachable          FailureReason = "unreachable"
	FailureNon2xx               FailureReason = "non_2xx"
	FailureMalformedDestination FailureReason = "malformed_destination"
)

// Notification is the content delivered to every channel of a firing.
type Notification struct {
	Title string
	Body  string
}

// SendResult is the outcome of one gateway send. An empty Reason means success.
type SendResult struct {
	Reason     FailureReason
	StatusCode int
	Err        error
	Info       string // e.g. upstream message id, recorded on success
	Duration   time.Duration
}

func (r SendResult) IsSuccess() bool {
	return r.Reason == ""
}

// Status maps the result to the delivery log status.
func (r SendResult) Status() DeliveryStatus {
	if r.IsSuccess() {
		return DeliveryStatusSent
	}
	return DeliveryStatusError
}

// Detail renders the text stored in DeliveryLog.Detail.
func (r SendResult) Detail() string {
	if r.IsSuccess() {
		return r.Info
	}
	if r.Err != nil {
		return string(r.Reason) + ": " + r.Err.Error()
	}
	return string(r.Reason)
}
