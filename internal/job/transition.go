package job

import (
	"errors"
	"fmt"

	"github.com/zulandar/inspectyard/internal/models"
)

var (
	// ErrJobNotFound is returned for an unknown job id.
	ErrJobNotFound = errors.New("job: not found")
	// ErrInvalidTransition is matched by every *TransitionError.
	ErrInvalidTransition = errors.New("job: invalid transition")
)

// Event is a lifecycle trigger.
type Event string

const (
	EventAccept   Event = "ACCEPT"
	EventConfirm  Event = "CONFIRM"
	EventStart    Event = "START"
	EventComplete Event = "COMPLETE"
)

type transition struct {
	from  models.JobStatus
	to    models.JobStatus
	stamp string // timestamp column set by the transition
}

// transitions is the whole lifecycle. Each event is legal from exactly one
// status; completed has no outgoing edge.
var transitions = map[Event]transition{
	EventAccept:   {from: models.JobPending, to: models.JobAssigned, stamp: "assigned_at"},
	EventConfirm:  {from: models.JobAssigned, to: models.JobApproved, stamp: "approved_at"},
	EventStart:    {from: models.JobApproved, to: models.JobInProgress, stamp: "started_at"},
	EventComplete: {from: models.JobInProgress, to: models.JobCompleted, stamp: "completed_at"},
}

// Next returns the status ev leads to from status, and whether the move is
// legal.
func Next(status models.JobStatus, ev Event) (models.JobStatus, bool) {
	t, ok := transitions[ev]
	if !ok || t.from != status {
		return status, false
	}
	return t.to, true
}

// Requires returns the status an event must find the job in.
func Requires(ev Event) (models.JobStatus, bool) {
	t, ok := transitions[ev]
	return t.from, ok
}

// TransitionError reports an event that was not applied. The job is
// unchanged.
type TransitionError struct {
	JobID string
	From  models.JobStatus
	Event Event
	Agent string // set when the sender is not the assigned agent
}

func (e *TransitionError) Error() string {
	if e.Agent != "" {
		return fmt.Sprintf("job: %s from %s on %s: %s is not the assigned agent", e.Event, e.From, e.JobID, e.Agent)
	}
	return fmt.Sprintf("job: %s not allowed from %s on %s", e.Event, e.From, e.JobID)
}

// Is makes errors.Is(err, ErrInvalidTransition) match.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
