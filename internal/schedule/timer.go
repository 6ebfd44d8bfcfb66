package schedule

import "time"

// Kind names what a timer does when it fires.
type Kind string

const (
	KindReminder     Kind = "reminder"
	KindStartPrompt  Kind = "start_prompt"
	KindFollowUp     Kind = "follow_up"
	KindStatusUpdate Kind = "status_update"
	KindDailyReport  Kind = "daily_report"
)

// ID derives the timer id for kind and key. Keys are job ids, or agent
// addresses for per-agent timers. Scheduling with an id that is already
// live replaces that timer.
func ID(kind Kind, key string) string {
	return string(kind) + ":" + key
}

// Timer is a scheduled callback. Payload is an immutable snapshot handed to
// the handler at fire time.
type Timer struct {
	ID      string
	Kind    Kind
	Key     string
	FireAt  time.Time
	Every   time.Duration // fixed-interval recurrence when > 0
	Cron    string        // cron recurrence when non-empty
	Payload []byte
}

// Recurring reports whether the timer re-arms after firing.
func (t Timer) Recurring() bool {
	return t.Every > 0 || t.Cron != ""
}
