package schedule

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/inspectyard/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// fakeClock is a settable clock shared by a scheduler under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// recorder collects handler invocations.
type recorder struct {
	mu    sync.Mutex
	fired []Timer
}

func (r *recorder) handle(_ context.Context, t Timer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fired = append(r.fired, t)
	return nil
}

func (r *recorder) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.fired))
	for i, t := range r.fired {
		out[i] = t.ID
	}
	return out
}

func newTestScheduler(t *testing.T, clock *fakeClock, opts ...func(*Opts)) (*Scheduler, *recorder) {
	t.Helper()
	o := Opts{Now: clock.Now, Concurrency: 1}
	for _, fn := range opts {
		fn(&o)
	}
	s := New(o)
	rec := &recorder{}
	for _, k := range []Kind{KindReminder, KindStartPrompt, KindFollowUp, KindStatusUpdate, KindDailyReport} {
		s.Handle(k, rec.handle)
	}
	return s, rec
}

func openScheduleTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.ScheduledTimer{}))
	return db
}

func TestID(t *testing.T) {
	assert.Equal(t, "reminder:j1", ID(KindReminder, "j1"))
	assert.Equal(t, "daily_report:+1555", ID(KindDailyReport, "+1555"))
}

func TestAt_RejectsPastAndNow(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s, _ := newTestScheduler(t, clock)

	_, err := s.At(ctx, KindReminder, "j1", clock.Now(), nil)
	assert.ErrorIs(t, err, ErrPastFireTime, "fire time equal to now is not in the future")

	_, err = s.At(ctx, KindReminder, "j1", clock.Now().Add(-time.Second), nil)
	assert.ErrorIs(t, err, ErrPastFireTime)

	assert.Zero(t, s.Len(), "rejected timers must not be created")
}

func TestAt_SameIDReplaces(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s, rec := newTestScheduler(t, clock)

	_, err := s.At(ctx, KindReminder, "j1", clock.Now().Add(time.Minute), []byte("first"))
	require.NoError(t, err)
	_, err = s.At(ctx, KindReminder, "j1", clock.Now().Add(2*time.Minute), []byte("second"))
	require.NoError(t, err)

	require.Equal(t, 1, s.Len())
	got, ok := s.Get("reminder:j1")
	require.True(t, ok)
	assert.Equal(t, "second", string(got.Payload))

	assert.Zero(t, s.FireDue(ctx, clock.Advance(time.Minute)), "replaced timer must not fire at the old time")
	assert.Equal(t, 1, s.FireDue(ctx, clock.Advance(time.Minute)))
	assert.Equal(t, []string{"reminder:j1"}, rec.ids())
}

func TestFireDue_OrderAndAtMostOnce(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s, rec := newTestScheduler(t, clock)

	_, err := s.After(ctx, KindStartPrompt, "j1", 3*time.Minute, nil)
	require.NoError(t, err)
	_, err = s.After(ctx, KindReminder, "j1", time.Minute, nil)
	require.NoError(t, err)
	_, err = s.After(ctx, KindReminder, "j2", 2*time.Minute, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, s.FireDue(ctx, clock.Advance(2*time.Minute)))
	assert.Equal(t, []string{"reminder:j1", "reminder:j2"}, rec.ids())

	assert.Zero(t, s.FireDue(ctx, clock.Now()), "fired timers are gone")
	assert.Equal(t, 1, s.FireDue(ctx, clock.Advance(time.Hour)))
	assert.Zero(t, s.FireDue(ctx, clock.Advance(time.Hour)))
	assert.Len(t, rec.ids(), 3)
	assert.Zero(t, s.Len())
}

func TestFireDue_HandlerErrorNotRetried(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	var reported []error
	s := New(Opts{Now: clock.Now, OnError: func(_ Timer, err error) { reported = append(reported, err) }, Concurrency: 1})

	var calls atomic.Int32
	s.Handle(KindReminder, func(context.Context, Timer) error {
		calls.Add(1)
		return errors.New("twilio down")
	})
	_, err := s.After(ctx, KindReminder, "j1", time.Minute, nil)
	require.NoError(t, err)

	s.FireDue(ctx, clock.Advance(time.Minute))
	s.FireDue(ctx, clock.Advance(time.Minute))

	assert.EqualValues(t, 1, calls.Load())
	require.Len(t, reported, 1)
	assert.EqualError(t, reported[0], "twilio down")
}

func TestFireDue_PanicAndMissingHandlerReported(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	var mu sync.Mutex
	var reported []error
	s := New(Opts{Now: clock.Now, OnError: func(_ Timer, err error) {
		mu.Lock()
		reported = append(reported, err)
		mu.Unlock()
	}})
	s.Handle(KindReminder, func(context.Context, Timer) error { panic("nil payload") })

	_, err := s.After(ctx, KindReminder, "j1", time.Minute, nil)
	require.NoError(t, err)
	_, err = s.After(ctx, KindFollowUp, "j1", time.Minute, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, s.FireDue(ctx, clock.Advance(time.Minute)))
	require.Len(t, reported, 2)
	var sawPanic, sawNoHandler bool
	for _, e := range reported {
		if errors.Is(e, ErrNoHandler) {
			sawNoHandler = true
		} else if assert.Contains(t, e.Error(), "panic") {
			sawPanic = true
		}
	}
	assert.True(t, sawPanic)
	assert.True(t, sawNoHandler)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s, rec := newTestScheduler(t, clock)

	_, err := s.After(ctx, KindReminder, "j1", time.Minute, nil)
	require.NoError(t, err)

	assert.True(t, s.Cancel(ctx, "reminder:j1"))
	assert.False(t, s.Cancel(ctx, "reminder:j1"), "cancelling twice is a no-op")
	assert.False(t, s.Cancel(ctx, "start_prompt:nope"))

	s.FireDue(ctx, clock.Advance(time.Hour))
	assert.Empty(t, rec.ids())
}

func TestCancelKey(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s, _ := newTestScheduler(t, clock)

	for _, k := range []Kind{KindReminder, KindStartPrompt, KindStatusUpdate} {
		_, err := s.After(ctx, k, "j1", time.Minute, nil)
		require.NoError(t, err)
	}
	_, err := s.After(ctx, KindReminder, "j2", time.Minute, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, s.CancelKey(ctx, "j1", KindReminder, KindStartPrompt, KindFollowUp))
	assert.Equal(t, 1, s.CancelKey(ctx, "j1"))
	assert.Zero(t, s.CancelKey(ctx, "j1"))

	pending := s.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "reminder:j2", pending[0].ID)
}

func TestEvery_RearmsAndSkipsMissed(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s, rec := newTestScheduler(t, clock)
	start := clock.Now()

	_, err := s.Every(ctx, KindStatusUpdate, "j1", time.Hour, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, s.FireDue(ctx, clock.Advance(time.Hour)))
	got, ok := s.Get("status_update:j1")
	require.True(t, ok)
	assert.True(t, got.FireAt.Equal(start.Add(2*time.Hour)))

	// Three and a half intervals late: one fire, next slot strictly ahead.
	assert.Equal(t, 1, s.FireDue(ctx, clock.Advance(3*time.Hour+30*time.Minute)))
	got, _ = s.Get("status_update:j1")
	assert.True(t, got.FireAt.Equal(start.Add(5*time.Hour)), "next fire %s", got.FireAt)
	assert.Len(t, rec.ids(), 2)
}

func TestEvery_RejectsNonPositive(t *testing.T) {
	s, _ := newTestScheduler(t, newFakeClock())
	_, err := s.Every(context.Background(), KindStatusUpdate, "j1", 0, nil)
	assert.ErrorIs(t, err, ErrInvalidRule)
}

func TestCron(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s, rec := newTestScheduler(t, clock)

	tm, err := s.Cron(ctx, KindDailyReport, "+1555", "0 18 * * *", nil)
	require.NoError(t, err)
	assert.True(t, tm.FireAt.Equal(time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)), "first fire %s", tm.FireAt)

	assert.Equal(t, 1, s.FireDue(ctx, clock.Advance(9*time.Hour)))
	got, ok := s.Get("daily_report:+1555")
	require.True(t, ok)
	assert.True(t, got.FireAt.Equal(time.Date(2026, 3, 15, 18, 0, 0, 0, time.UTC)))
	assert.Len(t, rec.ids(), 1)

	_, err = s.Cron(ctx, KindDailyReport, "x", "not a cron", nil)
	assert.ErrorIs(t, err, ErrInvalidRule)
}

func TestCron_UsesLocation(t *testing.T) {
	clock := newFakeClock()
	lagos := time.FixedZone("WAT", 3600)
	s, _ := newTestScheduler(t, clock, func(o *Opts) { o.Location = lagos })

	tm, err := s.Cron(context.Background(), KindDailyReport, "+1", "0 18 * * *", nil)
	require.NoError(t, err)
	assert.True(t, tm.FireAt.Equal(time.Date(2026, 3, 14, 17, 0, 0, 0, time.UTC)), "fire %s", tm.FireAt.UTC())
}

func TestPayloadIsCopied(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s, rec := newTestScheduler(t, clock)

	payload := []byte(`{"id":"j1"}`)
	_, err := s.After(ctx, KindReminder, "j1", time.Minute, payload)
	require.NoError(t, err)
	payload[2] = 'X'

	s.FireDue(ctx, clock.Advance(time.Minute))
	require.Len(t, rec.fired, 1)
	assert.Equal(t, `{"id":"j1"}`, string(rec.fired[0].Payload))
}

func TestJournal_RestoreDropsPastOneShots(t *testing.T) {
	ctx := context.Background()
	db := openScheduleTestDB(t)
	clock := newFakeClock()
	journal := NewGormJournal(db)

	s1, _ := newTestScheduler(t, clock, func(o *Opts) { o.Journal = journal })
	_, err := s1.After(ctx, KindReminder, "j1", time.Minute, []byte("r1"))
	require.NoError(t, err)
	_, err = s1.After(ctx, KindStartPrompt, "j1", 2*time.Hour, []byte("s1"))
	require.NoError(t, err)
	_, err = s1.Every(ctx, KindStatusUpdate, "j1", time.Hour, nil)
	require.NoError(t, err)
	_, err = s1.Cron(ctx, KindDailyReport, "+1", "0 18 * * *", nil)
	require.NoError(t, err)
	_, err = s1.After(ctx, KindFollowUp, "j9", time.Hour, nil)
	require.NoError(t, err)
	s1.Cancel(ctx, "follow_up:j9")

	var rows int64
	db.Model(&models.ScheduledTimer{}).Count(&rows)
	require.EqualValues(t, 4, rows)

	// Restart 90 minutes later: the reminder is stale, the rest survive.
	clock.Advance(90 * time.Minute)
	s2, rec := newTestScheduler(t, clock, func(o *Opts) { o.Journal = journal })
	n, err := s2.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, ok := s2.Get("reminder:j1")
	assert.False(t, ok, "past one-shot must be dropped")
	sp, ok := s2.Get("start_prompt:j1")
	require.True(t, ok)
	assert.Equal(t, "s1", string(sp.Payload))
	su, ok := s2.Get("status_update:j1")
	require.True(t, ok)
	assert.True(t, su.FireAt.After(clock.Now()), "recurring timer advanced past now")
	_, ok = s2.Get("daily_report:+1")
	assert.True(t, ok)

	db.Model(&models.ScheduledTimer{}).Count(&rows)
	assert.EqualValues(t, 3, rows, "dropped timer removed from journal")
	assert.Zero(t, s2.FireDue(ctx, clock.Now()), "restore never fires stale timers")
	assert.Empty(t, rec.ids())
}

func TestJournal_FiredOneShotRemoved(t *testing.T) {
	ctx := context.Background()
	db := openScheduleTestDB(t)
	clock := newFakeClock()
	s, _ := newTestScheduler(t, clock, func(o *Opts) { o.Journal = NewGormJournal(db) })

	_, err := s.After(ctx, KindReminder, "j1", time.Minute, nil)
	require.NoError(t, err)
	s.FireDue(ctx, clock.Advance(time.Minute))

	var rows int64
	db.Model(&models.ScheduledTimer{}).Count(&rows)
	assert.Zero(t, rows)
}

func TestRestore_NoJournal(t *testing.T) {
	s, _ := newTestScheduler(t, newFakeClock())
	n, err := s.Restore(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRun_FiresDueTimers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(Opts{})
	done := make(chan string, 1)
	s.Handle(KindReminder, func(_ context.Context, t Timer) error {
		done <- t.ID
		return nil
	})

	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(ctx) }()

	_, err := s.After(ctx, KindReminder, "j1", 20*time.Millisecond, nil)
	require.NoError(t, err)

	select {
	case id := <-done:
		assert.Equal(t, "reminder:j1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}

	cancel()
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
