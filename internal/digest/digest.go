// Package digest builds and sends the per-agent daily summary.
package digest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/zulandar/inspectyard/internal/models"
	"github.com/zulandar/inspectyard/internal/notify"
	"github.com/zulandar/inspectyard/internal/schedule"
	"github.com/zulandar/inspectyard/internal/store"
	"gorm.io/gorm"
)

// StatusCount holds a job status and how many of today's jobs have it.
type StatusCount struct {
	Status models.JobStatus
	Count  int64
}

// Opts holds parameters for creating a Reporter.
type Opts struct {
	DB        *gorm.DB
	Outbox    *notify.Outbox
	Texts     notify.Texts
	Scheduler *schedule.Scheduler // optional; registers the daily_report handler
	Location  *time.Location      // day boundaries; defaults to UTC
	Now       func() time.Time
}

// Reporter computes daily job counts and delivers them.
type Reporter struct {
	db        *gorm.DB
	agents    *store.Collection[models.Agent]
	outbox    *notify.Outbox
	texts     notify.Texts
	scheduler *schedule.Scheduler
	loc       *time.Location
	now       func() time.Time
}

// New creates a Reporter.
func New(opts Opts) (*Reporter, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("digest: db is required")
	}
	if opts.Outbox == nil {
		return nil, fmt.Errorf("digest: outbox is required")
	}
	r := &Reporter{
		db:        opts.DB,
		agents:    store.NewCollection[models.Agent](opts.DB),
		outbox:    opts.Outbox,
		texts:     opts.Texts,
		scheduler: opts.Scheduler,
		loc:       opts.Location,
		now:       opts.Now,
	}
	if r.loc == nil {
		r.loc = time.UTC
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.scheduler != nil {
		r.scheduler.Handle(schedule.KindDailyReport, r.fire)
	}
	return r, nil
}

// Counts returns per-status counts of jobs created on the calendar day
// containing day.
func (r *Reporter) Counts(ctx context.Context, day time.Time) ([]StatusCount, error) {
	local := day.In(r.loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, r.loc)
	end := start.AddDate(0, 0, 1)

	var results []StatusCount
	if err := r.db.WithContext(ctx).Model(&models.Job{}).
		Select("status, COUNT(*) as count").
		Where("created_at >= ? AND created_at < ?", start.UTC(), end.UTC()).
		Group("status").
		Order("status ASC").
		Find(&results).Error; err != nil {
		return nil, fmt.Errorf("digest: count jobs for %s: %w", start.Format("2006-01-02"), err)
	}
	return results, nil
}

// Summary folds Counts into the shape the message text needs.
func (r *Reporter) Summary(ctx context.Context, day time.Time) (notify.DailySummary, error) {
	counts, err := r.Counts(ctx, day)
	if err != nil {
		return notify.DailySummary{}, err
	}
	s := notify.DailySummary{Date: day}
	for _, c := range counts {
		s.Total += c.Count
		switch c.Status {
		case models.JobPending:
			s.Pending = c.Count
		case models.JobInProgress:
			s.InProgress = c.Count
		case models.JobCompleted:
			s.Completed = c.Count
		}
	}
	return s, nil
}

// Send delivers today's summary to address.
func (r *Reporter) Send(ctx context.Context, address string) error {
	s, err := r.Summary(ctx, r.now())
	if err != nil {
		return err
	}
	_, err = r.outbox.Deliver(ctx, notify.Message{
		Address: address, Text: r.texts.Daily(s), Purpose: notify.PurposeDailyReport,
	})
	return err
}

// ScheduleAll arms a daily_report cron timer for every active agent and
// cancels the timers of agents that are no longer active. It returns the
// number of agents scheduled.
func (r *Reporter) ScheduleAll(ctx context.Context, spec string) (int, error) {
	if r.scheduler == nil {
		return 0, fmt.Errorf("digest: no scheduler configured")
	}
	agents, err := r.agents.Find(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("digest: list agents: %w", err)
	}
	n := 0
	for _, a := range agents {
		if !a.IsActive() {
			r.scheduler.Cancel(ctx, schedule.ID(schedule.KindDailyReport, a.Address))
			continue
		}
		if _, err := r.scheduler.Cron(ctx, schedule.KindDailyReport, a.Address, spec, nil); err != nil {
			return n, fmt.Errorf("digest: schedule %s: %w", a.Address, err)
		}
		n++
	}
	return n, nil
}

// fire sends the report for the agent keyed by the timer. Agents removed or
// deactivated since scheduling are skipped and their timer retired.
func (r *Reporter) fire(ctx context.Context, t schedule.Timer) error {
	a, err := r.agents.FindOne(ctx, store.Query{"address": t.Key})
	if errors.Is(err, store.ErrNotFound) || (err == nil && !a.IsActive()) {
		r.scheduler.Cancel(ctx, t.ID)
		log.Printf("digest: retired daily report for %s", t.Key)
		return nil
	}
	if err != nil {
		return err
	}
	return r.Send(ctx, t.Key)
}
