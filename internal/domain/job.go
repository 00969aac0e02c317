package domain

// ScheduledJob is the in-memory trigger definition for one reminder.
// It is rebuilt from the store on every reconciliation cycle.
type ScheduledJob struct {
	ReminderID int64

	Cron     string
	Timezone string

	Destinations []Destination
}

// JobFor builds the scheduled job for a reminder. Only enabled channels
// contribute destinations; tz replaces an empty reminder timezone.
func JobFor(r ReminderWithChannels, tz string) ScheduledJob {
	job := ScheduledJob{
		ReminderID: r.Reminder.ID,
		Cron:       r.Reminder.Cron,
		Timezone:   r.Reminder.Timezone,
	}
	if job.Timezone == "" {
		job.Timezone = tz
	}
	for _, ch := range r.EnabledChannels() {
		job.Destinations = append(job.Destinations, ch.Destination)
	}
	return job
}

// SameTrigger reports whether both jobs fire at the same instants.
func (j ScheduledJob) SameTrigger(o ScheduledJob) bool {
	return j.Cron == o.Cron && j.Timezone == o.Timezone
}

// SameDestinations compares destination lists in order.
func (j ScheduledJob) SameDestinations(o ScheduledJob) bool {
	if len(j.Destinations) != len(o.Destinations) {
		return false
	}
	for i := range j.Destinations {
		if j.Destinations[i] != o.Destinations[i] {
			return false
		}
	}
	return true
}
