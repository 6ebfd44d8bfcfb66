// Package job owns the inspection job lifecycle. Every status change goes
// through Registry, which applies it as a conditional update against the
// stored record and then fires the notifications and timers that belong to
// the new status.
package job

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/inspectyard/internal/dispatch"
	"github.com/zulandar/inspectyard/internal/models"
	"github.com/zulandar/inspectyard/internal/notify"
	"github.com/zulandar/inspectyard/internal/schedule"
	"github.com/zulandar/inspectyard/internal/store"
	"github.com/zulandar/inspectyard/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// Opts holds parameters for creating a Registry.
type Opts struct {
	DB        *gorm.DB
	Outbox    *notify.Outbox
	Resolver  *dispatch.Resolver
	Scheduler *schedule.Scheduler
	Texts     notify.Texts
	Now       func() time.Time

	ReminderOffset time.Duration // how long before scheduled_for the reminder fires
	FollowUpAfter  time.Duration // delay after completion; 0 disables the follow-up
	StatusInterval time.Duration // client status update period; 0 disables it
}

// Registry is the job state machine.
type Registry struct {
	jobs      *store.Collection[models.Job]
	agents    *store.Collection[models.Agent]
	outbox    *notify.Outbox
	resolver  *dispatch.Resolver
	scheduler *schedule.Scheduler
	texts     notify.Texts
	now       func() time.Time
	tracer    trace.Tracer

	reminderOffset time.Duration
	followUpAfter  time.Duration
	statusInterval time.Duration
}

// New creates a Registry and registers its timer handlers on the scheduler.
func New(opts Opts) (*Registry, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("job: db is required")
	}
	if opts.Outbox == nil {
		return nil, fmt.Errorf("job: outbox is required")
	}
	if opts.Resolver == nil {
		return nil, fmt.Errorf("job: resolver is required")
	}
	if opts.Scheduler == nil {
		return nil, fmt.Errorf("job: scheduler is required")
	}
	r := &Registry{
		jobs:           store.NewCollection[models.Job](opts.DB),
		agents:         store.NewCollection[models.Agent](opts.DB),
		outbox:         opts.Outbox,
		resolver:       opts.Resolver,
		scheduler:      opts.Scheduler,
		texts:          opts.Texts,
		now:            opts.Now,
		tracer:         telemetry.Tracer("inspectyard/job"),
		reminderOffset: opts.ReminderOffset,
		followUpAfter:  opts.FollowUpAfter,
		statusInterval: opts.StatusInterval,
	}
	if r.now == nil {
		r.now = time.Now
	}
	r.registerTimers()
	return r, nil
}

// CreateRequest is the input to CreateJob.
type CreateRequest struct {
	Property     models.Property
	Client       models.Client
	ScheduledFor time.Time
	Notes        string

	// PreferExistingAgent sends the request to the agent already handling
	// an active job for the same client instead of broadcasting it.
	PreferExistingAgent bool
}

// CreateJob stores a new pending job and offers it to the agents.
func (r *Registry) CreateJob(ctx context.Context, req CreateRequest) (*models.Job, error) {
	ctx, span := r.tracer.Start(ctx, "job.create")
	defer span.End()

	if req.ScheduledFor.IsZero() {
		return nil, fmt.Errorf("job: scheduled_for is required")
	}
	j := &models.Job{
		ID:           uuid.NewString(),
		Status:       models.JobPending,
		PropertyID:   req.Property.ID,
		ClientPhone:  req.Client.Phone,
		Property:     req.Property,
		Client:       req.Client,
		ScheduledFor: req.ScheduledFor.UTC(),
		Notes:        req.Notes,
		CreatedAt:    r.now().UTC(),
	}
	if err := r.jobs.Insert(ctx, j); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert")
		return nil, fmt.Errorf("job: create: %w", err)
	}
	span.SetAttributes(attribute.String("job.id", j.ID))

	if r.statusInterval > 0 {
		if _, err := r.scheduleEvery(ctx, schedule.KindStatusUpdate, *j, r.statusInterval); err != nil {
			log.Printf("job: schedule status updates for %s: %v", j.ID, err)
		}
	}

	if req.PreferExistingAgent {
		if agent, ok := r.existingAgent(ctx, j); ok {
			r.outbox.Notify(ctx, notify.Message{
				Address: agent, Text: r.texts.Additional(*j), Purpose: notify.PurposeAdditional, JobID: j.ID,
			})
			span.SetAttributes(attribute.String("job.offered_to", agent))
			return j, nil
		}
	}

	n, err := r.resolver.Broadcast(ctx, *j)
	if err != nil {
		log.Printf("job: broadcast %s: %v", j.ID, err)
	}
	span.SetAttributes(attribute.Int("job.offers", n))
	return j, nil
}

// existingAgent finds the agent on the client's most recent assigned or
// approved job.
func (r *Registry) existingAgent(ctx context.Context, j *models.Job) (string, bool) {
	if j.ClientPhone == "" {
		return "", false
	}
	jobs, err := r.jobs.Find(ctx, store.Query{"client_phone": j.ClientPhone}, store.FindOpts{OrderBy: "created_at desc"})
	if err != nil {
		log.Printf("job: find jobs for client %s: %v", j.ClientPhone, err)
		return "", false
	}
	for _, other := range jobs {
		if other.ID == j.ID || other.AssignedAgent == "" {
			continue
		}
		if other.Status == models.JobAssigned || other.Status == models.JobApproved {
			return other.AssignedAgent, true
		}
	}
	return "", false
}

// Accept awards a pending job to agent. Exactly one concurrent Accept for a
// job succeeds. Every later one gets an error wrapping
// dispatch.ErrConflictLost, and the late agent is told the job is taken.
func (r *Registry) Accept(ctx context.Context, jobID, agent string) (*models.Job, error) {
	ctx, span := r.tracer.Start(ctx, "job.accept", trace.WithAttributes(
		attribute.String("job.id", jobID), attribute.String("agent", agent)))
	defer span.End()

	j, err := r.resolver.Claim(ctx, jobID, agent)
	switch {
	case errors.Is(err, dispatch.ErrConflictLost):
		span.SetAttributes(attribute.Bool("job.conflict", true))
		if j.AssignedAgent != agent {
			r.resolver.NotifyLate(ctx, *j, agent)
		}
		return j, err
	case errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	case err != nil:
		span.RecordError(err)
		return nil, err
	}

	a := r.agentDetails(ctx, agent)
	r.outbox.Notify(ctx,
		notify.Message{Address: agent, Text: r.texts.Assigned(*j), Purpose: notify.PurposeAssigned, JobID: j.ID},
		notify.Message{Address: j.Client.Phone, Text: r.texts.AgentAssigned(*j, a), Purpose: notify.PurposeAgentAssigned, JobID: j.ID},
	)
	r.resolver.NotifyTaken(ctx, *j)
	r.scheduleVisit(ctx, *j)
	return j, nil
}

// Approve confirms the schedule of an assigned job.
func (r *Registry) Approve(ctx context.Context, jobID string) (*models.Job, error) {
	return r.Apply(ctx, jobID, EventConfirm, "")
}

// Start marks an approved job as in progress.
func (r *Registry) Start(ctx context.Context, jobID string) (*models.Job, error) {
	return r.Apply(ctx, jobID, EventStart, "")
}

// Complete marks an in-progress job as completed.
func (r *Registry) Complete(ctx context.Context, jobID string) (*models.Job, error) {
	return r.Apply(ctx, jobID, EventComplete, "")
}

// Apply moves jobID along the lifecycle for ev. When agent is non-empty the
// job must also be held by that agent. The status check is part of the
// update itself, so a replayed or out-of-order event changes nothing and
// returns a *TransitionError without side effects. ACCEPT is handled by
// Accept.
func (r *Registry) Apply(ctx context.Context, jobID string, ev Event, agent string) (*models.Job, error) {
	if ev == EventAccept {
		if agent == "" {
			return nil, fmt.Errorf("job: accept requires an agent")
		}
		return r.Accept(ctx, jobID, agent)
	}
	t, ok := transitions[ev]
	if !ok {
		return nil, fmt.Errorf("job: unknown event %q", ev)
	}

	ctx, span := r.tracer.Start(ctx, "job."+string(ev), trace.WithAttributes(
		attribute.String("job.id", jobID), attribute.String("agent", agent)))
	defer span.End()

	cond := store.Query{"status": t.from}
	if agent != "" {
		cond["assigned_agent"] = agent
	}
	applied, err := r.jobs.UpdateIf(ctx, jobID, cond, map[string]any{
		"status": t.to,
		t.stamp:  r.now().UTC(),
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("job: %s %s: %w", ev, jobID, err)
	}

	j, err := r.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !applied {
		terr := &TransitionError{JobID: jobID, From: j.Status, Event: ev}
		if agent != "" && j.AssignedAgent != agent {
			terr.Agent = agent
		}
		span.SetAttributes(attribute.String("job.rejected_from", string(j.Status)))
		return j, terr
	}

	r.afterTransition(ctx, ev, *j)
	return j, nil
}

// afterTransition runs the side effects of a committed transition. Nothing
// here can fail the transition.
func (r *Registry) afterTransition(ctx context.Context, ev Event, j models.Job) {
	agent := j.AssignedAgent
	client := j.Client.Phone
	switch ev {
	case EventConfirm:
		r.outbox.Notify(ctx,
			notify.Message{Address: agent, Text: r.texts.ScheduleConfirmed(j), Purpose: notify.PurposeScheduleApproved, JobID: j.ID},
			notify.Message{Address: client, Text: r.texts.ClientScheduleConfirmed(j), Purpose: notify.PurposeScheduleApproved, JobID: j.ID},
		)
	case EventStart:
		r.scheduler.CancelKey(ctx, j.ID, schedule.KindReminder, schedule.KindStartPrompt)
		r.outbox.Notify(ctx,
			notify.Message{Address: agent, Text: r.texts.Started(j), Purpose: notify.PurposeStarted, JobID: j.ID},
			notify.Message{Address: client, Text: r.texts.ClientStarted(j), Purpose: notify.PurposeStarted, JobID: j.ID},
		)
	case EventComplete:
		r.scheduler.CancelKey(ctx, j.ID)
		if _, err := r.agents.UpdateWhere(ctx, store.Query{"address": agent},
			map[string]any{"total_inspections": gorm.Expr("total_inspections + 1")}); err != nil {
			log.Printf("job: count inspection for %s: %v", agent, err)
		}
		r.outbox.Notify(ctx,
			notify.Message{Address: agent, Text: r.texts.Completed(j), Purpose: notify.PurposeCompleted, JobID: j.ID},
			notify.Message{Address: client, Text: r.texts.ClientCompleted(j), Purpose: notify.PurposeCompleted, JobID: j.ID},
		)
		if r.followUpAfter > 0 {
			if _, err := r.scheduleAfter(ctx, schedule.KindFollowUp, j, r.followUpAfter); err != nil {
				log.Printf("job: schedule follow-up for %s: %v", j.ID, err)
			}
		}
	}
}

// Delete removes a job in any state and cancels all of its timers. It
// reports whether the job existed.
func (r *Registry) Delete(ctx context.Context, jobID string) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "job.delete", trace.WithAttributes(attribute.String("job.id", jobID)))
	defer span.End()

	existed, err := r.jobs.Delete(ctx, jobID)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("job: delete %s: %w", jobID, err)
	}
	cancelled := r.scheduler.CancelKey(ctx, jobID)
	span.SetAttributes(attribute.Int("job.timers_cancelled", cancelled))
	return existed, nil
}

// Get returns the job with id, or ErrJobNotFound.
func (r *Registry) Get(ctx context.Context, id string) (*models.Job, error) {
	j, err := r.jobs.FindByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("job: get %s: %w", id, err)
	}
	return j, nil
}

// ListFilters narrows List. Zero fields match everything.
type ListFilters struct {
	Status      models.JobStatus
	Agent       string
	ClientPhone string
	PropertyID  string
	Limit       int
}

// List returns jobs matching filters, newest first.
func (r *Registry) List(ctx context.Context, f ListFilters) ([]models.Job, error) {
	q := store.Query{}
	if f.Status != "" {
		q["status"] = f.Status
	}
	if f.Agent != "" {
		q["assigned_agent"] = f.Agent
	}
	if f.ClientPhone != "" {
		q["client_phone"] = f.ClientPhone
	}
	if f.PropertyID != "" {
		q["property_id"] = f.PropertyID
	}
	jobs, err := r.jobs.Find(ctx, q, store.FindOpts{OrderBy: "created_at desc", Limit: f.Limit})
	if err != nil {
		return nil, fmt.Errorf("job: list: %w", err)
	}
	return jobs, nil
}

// LatestPending returns the most recently created pending job, or
// ErrJobNotFound when there is none.
func (r *Registry) LatestPending(ctx context.Context) (*models.Job, error) {
	j, err := r.jobs.FindOne(ctx, store.Query{"status": models.JobPending}, store.FindOpts{OrderBy: "created_at desc"})
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("job: latest pending: %w", err)
	}
	return j, nil
}

// LatestTaken returns the most recently assigned job that is not yet
// completed, or ErrJobNotFound.
func (r *Registry) LatestTaken(ctx context.Context) (*models.Job, error) {
	j, err := r.jobs.FindOne(ctx,
		store.Query{"status": []models.JobStatus{models.JobAssigned, models.JobApproved, models.JobInProgress}},
		store.FindOpts{OrderBy: "assigned_at desc"})
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("job: latest taken: %w", err)
	}
	return j, nil
}

// HeldBy returns agent's most recent job in status, or ErrJobNotFound.
func (r *Registry) HeldBy(ctx context.Context, agent string, status models.JobStatus) (*models.Job, error) {
	j, err := r.jobs.FindOne(ctx,
		store.Query{"assigned_agent": agent, "status": status},
		store.FindOpts{OrderBy: "created_at desc"})
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("job: find %s job for %s: %w", status, agent, err)
	}
	return j, nil
}

func (r *Registry) agentDetails(ctx context.Context, address string) models.Agent {
	a, err := r.resolver.Agent(ctx, address)
	if err != nil {
		return models.Agent{Address: address, Name: "Unknown Agent"}
	}
	return *a
}
