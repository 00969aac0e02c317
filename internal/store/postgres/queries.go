package postgres

const queryListEnabledReminders = `
SELECT
    r.id, r.title, r.body, r.cron, r.timezone, r.enabled, r.created_at,
    c.id, c.name, c.ntfy_topic, c.enabled
FROM reminders r
LEFT JOIN reminder_channels rc ON rc.reminder_id = r.id
LEFT JOIN channels c ON c.id = rc.channel_id
WHERE r.enabled = true
ORDER BY r.id, c.id
`

const queryGetReminder = `
SELECT
    r.id, r.title, r.body, r.cron, r.timezone, r.enabled, r.created_at,
    c.id, c.name, c.ntfy_topic, c.enabled
FROM reminders r
LEFT JOIN reminder_channels rc ON rc.reminder_id = r.id
LEFT JOIN channels c ON c.id = rc.channel_id
WHERE r.id = $1
ORDER BY c.id
`

const queryInsertDeliveryLog = `
INSERT INTO delivery_logs (reminder_id, channel_id, firing_id, sent_at, status, detail)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id
`

const queryListDeliveryLogs = `
SELECT id, reminder_id, channel_id, firing_id, sent_at, status, detail
FROM delivery_logs
WHERE reminder_id = $1
ORDER BY sent_at DESC, id DESC
LIMIT $2 OFFSET $3
`
