package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/inspectyard/internal/models"
)

const (
	dateLayout = "Mon 2 Jan 2006"
	timeLayout = "15:04"
)

// Texts renders the fixed message bodies. Dates are shown in Location.
type Texts struct {
	Location *time.Location
}

// DailySummary holds the counts for one agent's daily report.
type DailySummary struct {
	Date       time.Time
	Total      int64
	Pending    int64
	InProgress int64
	Completed  int64
}

func (t Texts) when(j models.Job) []string {
	at := j.ScheduledFor
	if t.Location != nil {
		at = at.In(t.Location)
	}
	return []string{
		"Inspection Date: " + at.Format(dateLayout),
		"Inspection Time: " + at.Format(timeLayout),
	}
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func intOrNA(n int) string {
	if n == 0 {
		return "N/A"
	}
	return fmt.Sprint(n)
}

func block(parts ...[]string) string {
	var sections []string
	for _, p := range parts {
		if len(p) > 0 {
			sections = append(sections, strings.Join(p, "\n"))
		}
	}
	return strings.Join(sections, "\n\n")
}

func property(j models.Job) []string {
	return []string{
		"Property: " + orNA(j.Property.Title),
		"Address: " + orNA(j.Property.Address),
	}
}

func clientLines(j models.Job) []string {
	return []string{
		"Client: " + orNA(j.Client.Name),
		"Client Phone: " + orNA(j.Client.Phone),
	}
}

// Offer is broadcast to every active agent when a job is created.
func (t Texts) Offer(j models.Job) string {
	return block(
		[]string{"New Inspection Request"},
		append(property(j),
			"Type: "+orNA(j.Property.Type),
			"Bedrooms: "+intOrNA(j.Property.Bedrooms),
			"Bathrooms: "+intOrNA(j.Property.Bathrooms)),
		t.when(j),
		[]string{"Reply YES to accept this inspection request."},
	)
}

// Assigned goes to the agent who won the job.
func (t Texts) Assigned(j models.Job) string {
	return block(
		[]string{"Inspection Assigned", "You have been assigned to conduct an inspection."},
		append(property(j), clientLines(j)...),
		t.when(j),
		[]string{"Please confirm the schedule by replying CONFIRM."},
	)
}

// AgentAssigned tells the client who will inspect.
func (t Texts) AgentAssigned(j models.Job, agent models.Agent) string {
	return block(
		[]string{"Agent Assigned", "An agent has accepted your inspection request."},
		property(j),
		[]string{"Agent: " + orNA(agent.Name), "Agent Phone: " + orNA(agent.Address)},
		t.when(j),
	)
}

// Taken goes to every other active agent once a job is assigned.
func (t Texts) Taken(j models.Job) string {
	return block(
		[]string{"Job Update"},
		[]string{fmt.Sprintf("The inspection request for %s has been assigned to another agent.", orNA(j.Property.Title))},
		[]string{"Keep an eye out for new inspection requests."},
	)
}

// AlreadyAssigned answers a late YES.
func (t Texts) AlreadyAssigned(j models.Job) string {
	return block(
		[]string{"Job Already Assigned"},
		[]string{fmt.Sprintf("The inspection request for %s has already been assigned to another agent.", orNA(j.Property.Title))},
		[]string{"Thank you for your interest."},
	)
}

// ScheduleConfirmed goes to the agent after CONFIRM.
func (t Texts) ScheduleConfirmed(j models.Job) string {
	return block(
		[]string{"Schedule Confirmed", "Your inspection has been confirmed."},
		property(j),
		t.when(j),
		[]string{"You will receive a reminder before the scheduled time."},
	)
}

// ClientScheduleConfirmed goes to the client after CONFIRM.
func (t Texts) ClientScheduleConfirmed(j models.Job) string {
	return block(
		[]string{"Inspection Confirmed", "Your agent has confirmed the inspection schedule."},
		property(j),
		t.when(j),
	)
}

// Started goes to the agent after START.
func (t Texts) Started(j models.Job) string {
	return block(
		[]string{"Inspection Started", "You have started your inspection."},
		property(j),
		[]string{"Reply COMPLETE when you have finished."},
	)
}

// ClientStarted goes to the client after START.
func (t Texts) ClientStarted(j models.Job) string {
	return block(
		[]string{"Inspection In Progress"},
		[]string{fmt.Sprintf("Your agent has started the inspection of %s.", orNA(j.Property.Title))},
	)
}

// Completed goes to the agent after COMPLETE.
func (t Texts) Completed(j models.Job) string {
	return block(
		[]string{"Inspection Completed"},
		[]string{fmt.Sprintf("Thank you for completing the inspection for %s.", orNA(j.Property.Title))},
	)
}

// ClientCompleted goes to the client after COMPLETE.
func (t Texts) ClientCompleted(j models.Job) string {
	return block(
		[]string{"Inspection Completed"},
		[]string{fmt.Sprintf("The inspection of %s is complete. Your agent will follow up with the findings.", orNA(j.Property.Title))},
	)
}

// Reminder goes to the agent shortly before the inspection.
func (t Texts) Reminder(j models.Job) string {
	return block(
		[]string{"Inspection Reminder", "Your inspection is coming up."},
		append(property(j), clientLines(j)...),
		t.when(j),
		[]string{"Please proceed to the property location."},
	)
}

// ClientReminder goes to the client shortly before the inspection.
func (t Texts) ClientReminder(j models.Job) string {
	return block(
		[]string{"Inspection Reminder"},
		property(j),
		t.when(j),
	)
}

// StartPrompt goes to the agent at the scheduled time.
func (t Texts) StartPrompt(j models.Job) string {
	return block(
		[]string{"Time To Start"},
		property(j),
		[]string{"Reply START when you begin the inspection."},
	)
}

// FollowUp goes to the client some time after completion.
func (t Texts) FollowUp(j models.Job) string {
	return block(
		[]string{"How did it go?"},
		[]string{fmt.Sprintf("Your inspection of %s was completed. Reply to this message if you have any questions.", orNA(j.Property.Title))},
	)
}

// StatusUpdate is the recurring progress note to the client.
func (t Texts) StatusUpdate(j models.Job) string {
	return block(
		[]string{"Inspection Status"},
		property(j),
		[]string{"Status: " + strings.ReplaceAll(string(j.Status), "_", " ")},
		t.when(j),
	)
}

// Additional tells a client's existing agent about another property.
func (t Texts) Additional(j models.Job) string {
	return block(
		[]string{"Additional Inspection Request"},
		[]string{fmt.Sprintf("Your client %s has requested an inspection for another property.", orNA(j.Client.Name))},
		append(property(j), "Type: "+orNA(j.Property.Type)),
		t.when(j),
		[]string{"Reply YES to accept this additional inspection."},
	)
}

// Daily renders an agent's daily summary.
func (t Texts) Daily(s DailySummary) string {
	date := s.Date
	if t.Location != nil {
		date = date.In(t.Location)
	}
	return block(
		[]string{"Daily Summary - " + date.Format("2006-01-02")},
		[]string{
			fmt.Sprintf("Total Inspections: %d", s.Total),
			fmt.Sprintf("Completed: %d", s.Completed),
			fmt.Sprintf("Pending: %d", s.Pending),
			fmt.Sprintf("In Progress: %d", s.InProgress),
		},
	)
}

// NoEligibleJob answers a command that matched no job.
func (t Texts) NoEligibleJob(command string) string {
	switch command {
	case "YES":
		return "There are no open inspection requests right now."
	case "CONFIRM":
		return "You have no assigned inspection waiting for confirmation."
	case "START":
		return "You have no confirmed inspection to start."
	case "COMPLETE":
		return "You have no inspection in progress."
	}
	return "No matching inspection found."
}

// Unrecognized answers a reply that is not a known command.
func (t Texts) Unrecognized() string {
	return "Sorry, I didn't understand that. Reply YES to accept a request, CONFIRM to confirm a schedule, START to begin or COMPLETE when finished."
}

// NotEligible answers a YES from a sender who is not an active agent.
func (t Texts) NotEligible() string {
	return "This number is not registered as an active inspection agent."
}
