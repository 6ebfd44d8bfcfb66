package inbound

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/zulandar/inspectyard/internal/confirm"
	"github.com/zulandar/inspectyard/internal/dispatch"
	"github.com/zulandar/inspectyard/internal/job"
	"github.com/zulandar/inspectyard/internal/models"
	"github.com/zulandar/inspectyard/internal/notify"
)

// Message is one parsed inbound reply.
type Message struct {
	Sender    string
	Text      string
	MessageID string // provider id used to drop redelivered webhooks; may be empty
}

// Result names what Handle did with a message.
type Result string

const (
	ResultAssigned      Result = "assigned"
	ResultApplied       Result = "applied"
	ResultConflictLost  Result = "already_assigned"
	ResultNoEligibleJob Result = "no_eligible_job"
	ResultNotEligible   Result = "not_eligible"
	ResultUnrecognized  Result = "unrecognized"
	ResultDuplicate     Result = "duplicate"
	ResultFailed        Result = "failed"
)

// Outcome is the result of handling one message. Expected cases such as a
// late acceptance are outcomes, not errors; Err is set only for
// ResultFailed.
type Outcome struct {
	Command Command
	Result  Result
	JobID   string
	Status  models.JobStatus
	Err     error
}

// Opts holds parameters for creating a Router.
type Opts struct {
	Registry *job.Registry
	Tracker  *confirm.Tracker
	Outbox   *notify.Outbox
	Texts    notify.Texts
}

// Router applies inbound commands.
type Router struct {
	registry *job.Registry
	tracker  *confirm.Tracker
	outbox   *notify.Outbox
	texts    notify.Texts
}

// New creates a Router.
func New(opts Opts) (*Router, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("inbound: registry is required")
	}
	if opts.Tracker == nil {
		return nil, fmt.Errorf("inbound: tracker is required")
	}
	if opts.Outbox == nil {
		return nil, fmt.Errorf("inbound: outbox is required")
	}
	return &Router{registry: opts.Registry, tracker: opts.Tracker, outbox: opts.Outbox, texts: opts.Texts}, nil
}

var events = map[Command]job.Event{
	Accept:   job.EventAccept,
	Confirm:  job.EventConfirm,
	Start:    job.EventStart,
	Complete: job.EventComplete,
}

// Handle classifies m and applies it. It never panics on bad input and
// never mutates a job for an unrecognized or ineligible command. A message
// that fails with ResultFailed is not remembered, so a redelivery of it is
// processed again.
func (r *Router) Handle(ctx context.Context, m Message) Outcome {
	seen, err := r.tracker.SeenMessage(ctx, m.MessageID, m.Sender, m.Text)
	if err != nil {
		log.Printf("inbound: %v", err)
	}
	cmd := Classify(m.Text)
	if seen {
		return Outcome{Command: cmd, Result: ResultDuplicate}
	}

	out := r.route(ctx, cmd, m)
	if out.Result == ResultFailed {
		if err := r.tracker.ForgetMessage(ctx, m.MessageID); err != nil {
			log.Printf("inbound: %v", err)
		}
	}
	return out
}

func (r *Router) route(ctx context.Context, cmd Command, m Message) Outcome {
	switch cmd {
	case Unknown:
		r.reply(ctx, m.Sender, r.texts.Unrecognized())
		return Outcome{Command: cmd, Result: ResultUnrecognized}
	case Accept:
		return r.accept(ctx, m)
	default:
		return r.advance(ctx, cmd, m)
	}
}

// accept targets the newest pending job system-wide: any free agent may
// take any open request. With nothing pending, a YES is answered as a late
// acceptance of the newest job still in progress.
func (r *Router) accept(ctx context.Context, m Message) Outcome {
	out := Outcome{Command: Accept}
	j, err := r.registry.LatestPending(ctx)
	if errors.Is(err, job.ErrJobNotFound) {
		return r.lateAccept(ctx, m)
	}
	if err != nil {
		return failed(out, err)
	}
	return r.claim(ctx, out, j.ID, m)
}

func (r *Router) lateAccept(ctx context.Context, m Message) Outcome {
	out := Outcome{Command: Accept}
	j, err := r.registry.LatestTaken(ctx)
	if errors.Is(err, job.ErrJobNotFound) {
		r.reply(ctx, m.Sender, r.texts.NoEligibleJob(Accept.Keyword()))
		out.Result = ResultNoEligibleJob
		return out
	}
	if err != nil {
		return failed(out, err)
	}
	if j.AssignedAgent == m.Sender {
		out.JobID, out.Status, out.Result = j.ID, j.Status, ResultDuplicate
		return out
	}
	return r.claim(ctx, out, j.ID, m)
}

// claim records the YES against jobID and asks the registry to award it.
// A job that is no longer pending yields ResultConflictLost, and the
// registry tells the sender who holds it.
func (r *Router) claim(ctx context.Context, out Outcome, jobID string, m Message) Outcome {
	out.JobID = jobID
	r.record(ctx, jobID, m, Accept)

	j, err := r.registry.Accept(ctx, jobID, m.Sender)
	switch {
	case err == nil:
		r.markConfirmed(ctx, j.ID, m.Sender)
		out.Result, out.Status = ResultAssigned, j.Status
	case errors.Is(err, dispatch.ErrConflictLost):
		out.Result, out.Status = ResultConflictLost, j.Status
	case errors.Is(err, dispatch.ErrAgentNotEligible):
		r.reply(ctx, m.Sender, r.texts.NotEligible())
		out.Result = ResultNotEligible
	case errors.Is(err, job.ErrJobNotFound):
		r.reply(ctx, m.Sender, r.texts.NoEligibleJob(Accept.Keyword()))
		out.Result = ResultNoEligibleJob
	default:
		return failed(out, err)
	}
	return out
}

// advance applies CONFIRM, START or COMPLETE to the sender's own job in the
// predecessor status.
func (r *Router) advance(ctx context.Context, cmd Command, m Message) Outcome {
	out := Outcome{Command: cmd}
	ev := events[cmd]
	required, _ := job.Requires(ev)

	j, err := r.registry.HeldBy(ctx, m.Sender, required)
	if errors.Is(err, job.ErrJobNotFound) {
		if r.replayed(ctx, cmd, m.Sender) {
			out.Result = ResultDuplicate
			return out
		}
		r.reply(ctx, m.Sender, r.texts.NoEligibleJob(cmd.Keyword()))
		out.Result = ResultNoEligibleJob
		return out
	}
	if err != nil {
		return failed(out, err)
	}
	out.JobID = j.ID
	r.record(ctx, j.ID, m, cmd)

	j, err = r.registry.Apply(ctx, j.ID, ev, m.Sender)
	switch {
	case err == nil:
		r.markConfirmed(ctx, j.ID, m.Sender)
		out.Result, out.Status = ResultApplied, j.Status
	case errors.Is(err, job.ErrInvalidTransition), errors.Is(err, job.ErrJobNotFound):
		r.reply(ctx, m.Sender, r.texts.NoEligibleJob(cmd.Keyword()))
		out.Result = ResultNoEligibleJob
		if j != nil {
			out.Status = j.Status
		}
	default:
		return failed(out, err)
	}
	return out
}

// replayed reports whether cmd was the last command already applied on the
// sender's most recent job.
func (r *Router) replayed(ctx context.Context, cmd Command, sender string) bool {
	jobs, err := r.registry.List(ctx, job.ListFilters{Agent: sender, Limit: 1})
	if err != nil || len(jobs) == 0 {
		return false
	}
	done, err := r.tracker.AlreadyProcessed(ctx, jobs[0].ID, sender, cmd.Keyword())
	if err != nil {
		log.Printf("inbound: %v", err)
		return false
	}
	return done
}

func (r *Router) record(ctx context.Context, jobID string, m Message, cmd Command) {
	if _, err := r.tracker.Record(ctx, jobID, m.Sender, cmd.Keyword(), m.MessageID); err != nil {
		log.Printf("inbound: %v", err)
	}
}

func (r *Router) markConfirmed(ctx context.Context, jobID, sender string) {
	if _, err := r.tracker.MarkConfirmed(ctx, jobID, sender); err != nil {
		log.Printf("inbound: %v", err)
	}
}

func (r *Router) reply(ctx context.Context, to, text string) {
	r.outbox.Notify(ctx, notify.Message{Address: to, Text: text, Purpose: notify.PurposeReply})
}

func failed(out Outcome, err error) Outcome {
	out.Result = ResultFailed
	out.Err = err
	log.Printf("inbound: %s: %v", out.Command, err)
	return out
}

// Listen feeds replies from a persistent-connection backend into Handle
// until ctx is cancelled or the backend closes its channel.
func (r *Router) Listen(ctx context.Context, l notify.Listener) error {
	replies, err := l.Listen(ctx)
	if err != nil {
		return fmt.Errorf("inbound: listen: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case reply, ok := <-replies:
			if !ok {
				return nil
			}
			out := r.Handle(ctx, Message{Sender: reply.Sender, Text: reply.Text, MessageID: reply.MessageID})
			log.Printf("inbound: %s from %s: %s %s", out.Command, reply.Sender, out.Result, out.JobID)
		}
	}
}
