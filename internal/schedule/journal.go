package schedule

import (
	"context"
	"time"

	"github.com/zulandar/inspectyard/internal/models"
	"github.com/zulandar/inspectyard/internal/store"
	"gorm.io/gorm"
)

// Journal keeps a durable copy of pending timers so a restart can restore
// them. Save must overwrite an existing entry with the same id.
type Journal interface {
	Save(ctx context.Context, t Timer) error
	Remove(ctx context.Context, id string) error
	Load(ctx context.Context) ([]Timer, error)
}

// GormJournal stores timers in the scheduled_timers table.
type GormJournal struct {
	timers *store.Collection[models.ScheduledTimer]
}

// NewGormJournal returns a journal backed by db.
func NewGormJournal(db *gorm.DB) *GormJournal {
	return &GormJournal{timers: store.NewCollection[models.ScheduledTimer](db)}
}

func (j *GormJournal) Save(ctx context.Context, t Timer) error {
	return j.timers.Save(ctx, &models.ScheduledTimer{
		ID:       t.ID,
		Kind:     string(t.Kind),
		Key:      t.Key,
		FireAt:   t.FireAt.UTC(),
		EveryNS:  int64(t.Every),
		CronSpec: t.Cron,
		Payload:  string(t.Payload),
	})
}

func (j *GormJournal) Remove(ctx context.Context, id string) error {
	_, err := j.timers.Delete(ctx, id)
	return err
}

func (j *GormJournal) Load(ctx context.Context) ([]Timer, error) {
	rows, err := j.timers.Find(ctx, nil, store.FindOpts{OrderBy: "fire_at"})
	if err != nil {
		return nil, err
	}
	out := make([]Timer, 0, len(rows))
	for _, r := range rows {
		t := Timer{
			ID:     r.ID,
			Kind:   Kind(r.Kind),
			Key:    r.Key,
			FireAt: r.FireAt,
			Every:  time.Duration(r.EveryNS),
			Cron:   r.CronSpec,
		}
		if r.Payload != "" {
			t.Payload = []byte(r.Payload)
		}
		out = append(out, t)
	}
	return out, nil
}
