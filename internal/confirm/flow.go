package confirm

import "github.com/zulandar/inspectyard/internal/models"

// Action is what a job is waiting for next.
type Action string

const (
	WaitForYes            Action = "wait_for_yes"
	WaitForConfirm        Action = "wait_for_confirm"
	WaitForInspectionTime Action = "wait_for_inspection_time"
	WaitForComplete       Action = "wait_for_complete"
	Done                  Action = "completed"
)

// NextAction maps a job status to the reply or event it is waiting for.
// Unknown statuses yield "".
func NextAction(status models.JobStatus) Action {
	switch status {
	case models.JobPending:
		return WaitForYes
	case models.JobAssigned:
		return WaitForConfirm
	case models.JobApproved:
		return WaitForInspectionTime
	case models.JobInProgress:
		return WaitForComplete
	case models.JobCompleted:
		return Done
	}
	return ""
}

// Prompt kinds gated by CanPrompt.
const (
	PromptReminder   = "reminder"
	PromptStart      = "start_prompt"
	PromptCompletion = "completion_prompt"
)

// CanPrompt reports whether a prompt of the given kind still makes sense for
// a job in status. Reminders go out while the job is assigned or approved;
// the start prompt only once the schedule is approved.
func CanPrompt(status models.JobStatus, prompt string) bool {
	switch prompt {
	case PromptReminder:
		return status == models.JobAssigned || status == models.JobApproved
	case PromptStart:
		return status == models.JobApproved
	case PromptCompletion:
		return status == models.JobInProgress
	}
	return false
}
