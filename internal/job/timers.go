package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/zulandar/inspectyard/internal/confirm"
	"github.com/zulandar/inspectyard/internal/models"
	"github.com/zulandar/inspectyard/internal/notify"
	"github.com/zulandar/inspectyard/internal/schedule"
	"github.com/zulandar/inspectyard/internal/store"
)

// Timer payloads are a JSON snapshot of the job taken when the timer was
// scheduled. Handlers compose their messages from the snapshot alone; the
// live record is consulted only to suppress prompts the job has outgrown.

func (r *Registry) registerTimers() {
	r.scheduler.Handle(schedule.KindReminder, r.fireReminder)
	r.scheduler.Handle(schedule.KindStartPrompt, r.fireStartPrompt)
	r.scheduler.Handle(schedule.KindFollowUp, r.fireFollowUp)
	r.scheduler.Handle(schedule.KindStatusUpdate, r.fireStatusUpdate)
}

// scheduleVisit arms the reminder and start prompt for a freshly assigned
// job. A fire time already in the past is logged and skipped.
func (r *Registry) scheduleVisit(ctx context.Context, j models.Job) {
	payload, err := json.Marshal(j)
	if err != nil {
		log.Printf("job: encode timer payload for %s: %v", j.ID, err)
		return
	}
	remindAt := j.ScheduledFor.Add(-r.reminderOffset)
	if _, err := r.scheduler.At(ctx, schedule.KindReminder, j.ID, remindAt, payload); err != nil {
		log.Printf("job: schedule reminder for %s: %v", j.ID, err)
	}
	if _, err := r.scheduler.At(ctx, schedule.KindStartPrompt, j.ID, j.ScheduledFor, payload); err != nil {
		log.Printf("job: schedule start prompt for %s: %v", j.ID, err)
	}
}

func (r *Registry) scheduleAfter(ctx context.Context, kind schedule.Kind, j models.Job, d time.Duration) (schedule.Timer, error) {
	payload, err := json.Marshal(j)
	if err != nil {
		return schedule.Timer{}, fmt.Errorf("job: encode timer payload: %w", err)
	}
	return r.scheduler.After(ctx, kind, j.ID, d, payload)
}

func (r *Registry) scheduleEvery(ctx context.Context, kind schedule.Kind, j models.Job, d time.Duration) (schedule.Timer, error) {
	payload, err := json.Marshal(j)
	if err != nil {
		return schedule.Timer{}, fmt.Errorf("job: encode timer payload: %w", err)
	}
	return r.scheduler.Every(ctx, kind, j.ID, d, payload)
}

func decodePayload(t schedule.Timer) (models.Job, error) {
	var j models.Job
	if err := json.Unmarshal(t.Payload, &j); err != nil {
		return j, fmt.Errorf("job: decode payload of %s: %w", t.ID, err)
	}
	return j, nil
}

// current returns the live status of the job. ok is false when the job no
// longer exists. A store failure falls back to the snapshot status.
func (r *Registry) current(ctx context.Context, snap models.Job) (models.JobStatus, bool) {
	live, err := r.jobs.FindByID(ctx, snap.ID)
	if errors.Is(err, store.ErrNotFound) {
		return "", false
	}
	if err != nil {
		log.Printf("job: read %s at fire time, using snapshot: %v", snap.ID, err)
		return snap.Status, true
	}
	return live.Status, true
}

func (r *Registry) fireReminder(ctx context.Context, t schedule.Timer) error {
	j, err := decodePayload(t)
	if err != nil {
		return err
	}
	status, ok := r.current(ctx, j)
	if !ok || !confirm.CanPrompt(status, confirm.PromptReminder) {
		return nil
	}
	return r.outbox.DeliverAll(ctx,
		notify.Message{Address: j.AssignedAgent, Text: r.texts.Reminder(j), Purpose: notify.PurposeReminder, JobID: j.ID},
		notify.Message{Address: j.Client.Phone, Text: r.texts.ClientReminder(j), Purpose: notify.PurposeReminder, JobID: j.ID},
	)
}

func (r *Registry) fireStartPrompt(ctx context.Context, t schedule.Timer) error {
	j, err := decodePayload(t)
	if err != nil {
		return err
	}
	status, ok := r.current(ctx, j)
	if !ok || !confirm.CanPrompt(status, confirm.PromptStart) {
		return nil
	}
	return r.outbox.DeliverAll(ctx,
		notify.Message{Address: j.AssignedAgent, Text: r.texts.StartPrompt(j), Purpose: notify.PurposeStartPrompt, JobID: j.ID},
	)
}

func (r *Registry) fireFollowUp(ctx context.Context, t schedule.Timer) error {
	j, err := decodePayload(t)
	if err != nil {
		return err
	}
	return r.outbox.DeliverAll(ctx,
		notify.Message{Address: j.Client.Phone, Text: r.texts.FollowUp(j), Purpose: notify.PurposeFollowUp, JobID: j.ID},
	)
}

// fireStatusUpdate keeps the client informed while the job is open and
// retires itself once the job is gone or finished.
func (r *Registry) fireStatusUpdate(ctx context.Context, t schedule.Timer) error {
	j, err := decodePayload(t)
	if err != nil {
		return err
	}
	status, ok := r.current(ctx, j)
	if !ok || status == models.JobCompleted {
		r.scheduler.Cancel(ctx, t.ID)
		return nil
	}
	j.Status = status
	return r.outbox.DeliverAll(ctx,
		notify.Message{Address: j.Client.Phone, Text: r.texts.StatusUpdate(j), Purpose: notify.PurposeStatusUpdate, JobID: j.ID},
	)
}
