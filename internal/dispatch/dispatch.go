// Package dispatch offers a new job to the active agent roster and resolves
// concurrent acceptances to a single winner.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/zulandar/inspectyard/internal/models"
	"github.com/zulandar/inspectyard/internal/notify"
	"github.com/zulandar/inspectyard/internal/store"
	"github.com/zulandar/inspectyard/internal/telemetry"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var (
	// ErrConflictLost is returned to every acceptance after the first.
	ErrConflictLost = errors.New("dispatch: job already assigned")
	// ErrAgentNotEligible is returned when the sender is not an active agent.
	ErrAgentNotEligible = errors.New("dispatch: sender is not an active agent")
)

// Opts holds parameters for creating a Resolver.
type Opts struct {
	DB          *gorm.DB
	Outbox      *notify.Outbox
	Texts       notify.Texts
	Now         func() time.Time
	Concurrency int // parallel sends per fan-out; defaults to 8
}

// Resolver owns the claim on pending jobs.
type Resolver struct {
	jobs   *store.Collection[models.Job]
	agents *store.Collection[models.Agent]
	outbox *notify.Outbox
	texts  notify.Texts
	now    func() time.Time
	limit  int

	claims metric.Int64Counter
	losses metric.Int64Counter
}

// New creates a Resolver.
func New(opts Opts) (*Resolver, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("dispatch: db is required")
	}
	if opts.Outbox == nil {
		return nil, fmt.Errorf("dispatch: outbox is required")
	}
	r := &Resolver{
		jobs:   store.NewCollection[models.Job](opts.DB),
		agents: store.NewCollection[models.Agent](opts.DB),
		outbox: opts.Outbox,
		texts:  opts.Texts,
		now:    opts.Now,
		limit:  opts.Concurrency,
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.limit <= 0 {
		r.limit = 8
	}
	meter := telemetry.Meter("inspectyard/dispatch")
	r.claims = telemetry.Counter(meter, "inspectyard.dispatch.claims", "Jobs won by an agent")
	r.losses = telemetry.Counter(meter, "inspectyard.dispatch.conflicts", "Acceptances that lost the race")
	return r, nil
}

// ActiveAgents returns the current broadcast roster.
func (r *Resolver) ActiveAgents(ctx context.Context) ([]models.Agent, error) {
	agents, err := r.agents.Find(ctx, store.Query{"status": models.AgentActive}, store.FindOpts{OrderBy: "created_at"})
	if err != nil {
		return nil, fmt.Errorf("dispatch: list active agents: %w", err)
	}
	return agents, nil
}

// Agent looks up an agent by address. It returns store.ErrNotFound for an
// unknown address.
func (r *Resolver) Agent(ctx context.Context, address string) (*models.Agent, error) {
	return r.agents.FindOne(ctx, store.Query{"address": address})
}

// Broadcast offers job to every active agent in parallel and returns how
// many offers were accepted by the provider. Individual send failures are
// logged; the offer stands for whoever did receive it.
func (r *Resolver) Broadcast(ctx context.Context, job models.Job) (int, error) {
	agents, err := r.ActiveAgents(ctx)
	if err != nil {
		return 0, err
	}
	text := r.texts.Offer(job)
	msgs := make([]notify.Message, 0, len(agents))
	for _, a := range agents {
		msgs = append(msgs, notify.Message{Address: a.Address, Text: text, Purpose: notify.PurposeOffer, JobID: job.ID})
	}
	return r.fanOut(ctx, msgs), nil
}

// fanOut delivers msgs with at most r.limit sends in flight and returns how
// many the provider accepted. It returns once every send has finished.
func (r *Resolver) fanOut(ctx context.Context, msgs []notify.Message) int {
	var delivered atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.limit)
	for _, m := range msgs {
		if m.Address == "" {
			continue
		}
		g.Go(func() error {
			if _, err := r.outbox.Deliver(gctx, m); err != nil {
				log.Printf("dispatch: %s %s: %v", m.Purpose, m.JobID, err)
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(delivered.Load())
}

// Claim assigns jobID to agent if and only if the job is still pending.
// The status check and the assignment are one conditional update, so among
// concurrent callers exactly one wins; the rest get ErrConflictLost. An
// unknown job yields store.ErrNotFound.
func (r *Resolver) Claim(ctx context.Context, jobID, agent string) (*models.Job, error) {
	a, err := r.Agent(ctx, agent)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !a.IsActive()) {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotEligible, agent)
	}
	if err != nil {
		return nil, fmt.Errorf("dispatch: claim %s: %w", jobID, err)
	}

	now := r.now().UTC()
	won, err := r.jobs.UpdateIf(ctx, jobID,
		store.Query{"status": models.JobPending},
		map[string]any{
			"status":         models.JobAssigned,
			"assigned_agent": agent,
			"assigned_at":    now,
		})
	if err != nil {
		return nil, fmt.Errorf("dispatch: claim %s: %w", jobID, err)
	}

	job, err := r.jobs.FindByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("dispatch: claim %s: %w", jobID, err)
	}
	if !won {
		r.losses.Add(ctx, 1)
		return job, fmt.Errorf("%w: %s is held by %s", ErrConflictLost, jobID, job.AssignedAgent)
	}
	r.claims.Add(ctx, 1)
	return job, nil
}

// NotifyTaken tells every active agent except the winner that job is gone,
// using the same bounded fan-out as Broadcast.
func (r *Resolver) NotifyTaken(ctx context.Context, job models.Job) {
	agents, err := r.ActiveAgents(ctx)
	if err != nil {
		log.Printf("dispatch: notify taken %s: %v", job.ID, err)
		return
	}
	text := r.texts.Taken(job)
	msgs := make([]notify.Message, 0, len(agents))
	for _, a := range agents {
		if a.Address == job.AssignedAgent {
			continue
		}
		msgs = append(msgs, notify.Message{Address: a.Address, Text: text, Purpose: notify.PurposeTaken, JobID: job.ID})
	}
	r.fanOut(ctx, msgs)
}

// NotifyLate tells agent that job was already assigned to someone else.
func (r *Resolver) NotifyLate(ctx context.Context, job models.Job, agent string) {
	r.outbox.Notify(ctx, notify.Message{
		Address: agent, Text: r.texts.AlreadyAssigned(job), Purpose: notify.PurposeAlreadyAssigned, JobID: job.ID,
	})
}
