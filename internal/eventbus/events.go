package eventbus

// Event types published by dashcap components.
const (
	BatchStarted  = "capture.batch.started"
	BatchFinished = "capture.batch.finished"
	JobFired      = "jobs.fired"
	JobFireFailed = "jobs.fire_failed"
	JobChanged    = "jobs.changed"
)

// Task engine lifecycle.
const (
	TaskStarted  = "task.started"
	TaskFinished = "task.finished"
	TaskFailed   = "task.failed"
	TaskSkipped  = "task.skipped"
	TaskDropped  = "task.dropped"
)

// Notifier delivery.
const (
	NotifySent    = "notifier.sent"
	NotifyFailed  = "notifier.failed"
	NotifyDropped = "notifier.dropped"
)
