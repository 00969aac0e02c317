package domain

import (
	"errors"
	"testing"
)

func TestJobFor_OnlyEnabledChannels(t *testing.T) {
	rwc := ReminderWithChannels{
		Reminder: Reminder{ID: 7, Cron: "0 9 * * *", Timezone: "Europe/Berlin", Enabled: true},
		Channels: []Channel{
			{ID: 1, Destination: MustParseDestination("a"), Enabled: true},
			{ID: 2, Destination: MustParseDestination("b"), Enabled: false},
			{ID: 3, Destination: MustParseDestination("c"), Enabled: true},
		},
	}

	job := JobFor(rwc, DefaultTimezone)

	if job.ReminderID != 7 {
		t.Errorf("ReminderID = %d, want 7", job.ReminderID)
	}
	if job.Timezone != "Europe/Berlin" {
		t.Errorf("Timezone = %q, want Europe/Berlin", job.Timezone)
	}
	if len(job.Destinations) != 2 {
		t.Fatalf("expected 2 destinations, got %d", len(job.Destinations))
	}
	if job.Destinations[0].String() != "a" || job.Destinations[1].String() != "c" {
		t.Errorf("unexpected destinations: %v", job.Destinations)
	}
}

func TestJobFor_DefaultTimezone(t *testing.T) {
	rwc := ReminderWithChannels{Reminder: Reminder{ID: 1, Cron: "* * * * *"}}

	job := JobFor(rwc, DefaultTimezone)
	if job.Timezone != DefaultTimezone {
		t.Errorf("Timezone = %q, want %q", job.Timezone, DefaultTimezone)
	}
}

func TestScheduledJob_Compare(t *testing.T) {
	base := ScheduledJob{
		ReminderID:   1,
		Cron:         "0 9 * * *",
		Timezone:     "UTC",
		Destinations: []Destination{MustParseDestination("a")},
	}

	same := base
	if !base.SameTrigger(same) || !base.SameDestinations(same) {
		t.Error("identical jobs should compare equal")
	}

	moved := base
	moved.Cron = "0 10 * * *"
	if base.SameTrigger(moved) {
		t.Error("different cron should not be the same trigger")
	}

	rezoned := base
	rezoned.Timezone = "Asia/Tokyo"
	if base.SameTrigger(rezoned) {
		t.Error("different timezone should not be the same trigger")
	}

	redirected := base
	redirected.Destinations = []Destination{MustParseDestination("b")}
	if base.SameDestinations(redirected) {
		t.Error("different destinations should not compare equal")
	}
	if !base.SameTrigger(redirected) {
		t.Error("destination change should keep the trigger")
	}
}

func TestSendResult_Detail(t *testing.T) {
	ok := SendResult{Info: "status 200"}
	if !ok.IsSuccess() || ok.Status() != DeliveryStatusSent {
		t.Errorf("expected success, got %+v", ok)
	}
	if ok.Detail() != "status 200" {
		t.Errorf("Detail() = %q", ok.Detail())
	}

	failed := SendResult{Reason: FailureNon2xx, StatusCode: 503, Err: errors.New("status 503: busy")}
	if failed.IsSuccess() || failed.Status() != DeliveryStatusError {
		t.Errorf("expected failure, got %+v", failed)
	}
	if failed.Detail() != "non_2xx: status 503: busy" {
		t.Errorf("Detail() = %q", failed.Detail())
	}

	bare := SendResult{Reason: FailureMalformedDestination}
	if bare.Detail() != "malformed_destination" {
		t.Errorf("Detail() = %q", bare.Detail())
	}
}
