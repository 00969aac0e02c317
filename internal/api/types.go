package api

import (
	"time"

	"github.com/wuchris-ch/notification-app/internal/registry"
)

type JobResponse struct {
	ReminderID   int64    `json:"reminder_id"`
	Cron         string   `json:"cron"`
	Timezone     string   `json:"timezone"`
	NextFireAt   string   `json:"next_fire_at,omitempty"`
	PrevFireAt   string   `json:"prev_fire_at,omitempty"`
	Destinations []string `json:"destinations"`
}

type ListJobsResponse struct {
	Total int           `json:"total"`
	Jobs  []JobResponse `json:"jobs"`
}

type DeliveryResponse struct {
	ID         int64  `json:"id"`
	ReminderID int64  `json:"reminder_id"`
	ChannelID  int64  `json:"channel_id"`
	FiringID   string `json:"firing_id"`
	FiredAt    string `json:"fired_at"`
	Status     string `json:"status"`
	Detail     string `json:"detail,omitempty"`
}

type ListDeliveriesResponse struct {
	Deliveries []DeliveryResponse `json:"deliveries"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func newJobResponse(e registry.EntryInfo) JobResponse {
	resp := JobResponse{
		ReminderID:   e.Job.ReminderID,
		Cron:         e.Job.Cron,
		Timezone:     e.Job.Timezone,
		NextFireAt:   formatTime(e.NextFire),
		PrevFireAt:   formatTime(e.LastFired),
		Destinations: make([]string, len(e.Job.Destinations)),
	}
	for i, d := range e.Job.Destinations {
		resp.Destinations[i] = d.String()
	}
	return resp
}

// formatTime renders t in RFC 3339 UTC; the zero time renders empty.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
