// Package schedule runs delayed and recurring callbacks keyed by a derived
// timer id. Timers live in a min-heap owned by one Scheduler, which is
// driven either by Run or by explicit FireDue ticks.
package schedule

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/zulandar/inspectyard/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrPastFireTime is returned when a one-shot fire time is not strictly
	// after now. No timer is created.
	ErrPastFireTime = errors.New("schedule: fire time is not in the future")
	// ErrInvalidRule is returned for a non-positive interval or bad cron spec.
	ErrInvalidRule = errors.New("schedule: invalid recurrence rule")
	// ErrNoHandler is reported when a timer fires with no handler for its kind.
	ErrNoHandler = errors.New("schedule: no handler for timer kind")
)

// Handler runs when a timer fires. A returned error is reported, never
// retried.
type Handler func(ctx context.Context, t Timer) error

// Opts holds parameters for creating a Scheduler.
type Opts struct {
	Journal     Journal                  // optional durable copy of pending timers
	Now         func() time.Time         // defaults to time.Now
	Location    *time.Location           // cron evaluation zone; defaults to UTC
	Concurrency int                      // max handlers running at once; defaults to 4
	OnError     func(t Timer, err error) // fire failures; defaults to log.Printf
}

// Scheduler owns the timer heap.
type Scheduler struct {
	mu       sync.Mutex
	queue    timerQueue
	byID     map[string]*entry
	handlers map[Kind]Handler
	seq      uint64

	journal Journal
	now     func() time.Time
	loc     *time.Location
	limit   int
	onError func(Timer, error)
	wake    chan struct{}

	fired  metric.Int64Counter
	failed metric.Int64Counter
}

// New creates a Scheduler.
func New(opts Opts) *Scheduler {
	s := &Scheduler{
		byID:     make(map[string]*entry),
		handlers: make(map[Kind]Handler),
		journal:  opts.Journal,
		now:      opts.Now,
		loc:      opts.Location,
		limit:    opts.Concurrency,
		onError:  opts.OnError,
		wake:     make(chan struct{}, 1),
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.limit <= 0 {
		s.limit = 4
	}
	if s.onError == nil {
		s.onError = func(t Timer, err error) {
			log.Printf("schedule: timer %s failed: %v", t.ID, err)
		}
	}
	meter := telemetry.Meter("inspectyard/schedule")
	s.fired = telemetry.Counter(meter, "inspectyard.schedule.fired", "Timers whose handler succeeded")
	s.failed = telemetry.Counter(meter, "inspectyard.schedule.failed", "Timers whose handler failed")
	return s
}

// Handle registers the handler for kind, replacing any previous one.
func (s *Scheduler) Handle(kind Kind, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = h
}

// At schedules a one-shot timer. fireAt must be strictly after now.
func (s *Scheduler) At(ctx context.Context, kind Kind, key string, fireAt time.Time, payload []byte) (Timer, error) {
	now := s.now()
	if !fireAt.After(now) {
		return Timer{}, fmt.Errorf("%w: %s at %s (now %s)", ErrPastFireTime, ID(kind, key),
			fireAt.Format(time.RFC3339), now.Format(time.RFC3339))
	}
	t := Timer{ID: ID(kind, key), Kind: kind, Key: key, FireAt: fireAt, Payload: clone(payload)}
	s.add(ctx, &entry{timer: t})
	return t, nil
}

// After schedules a one-shot timer d from now.
func (s *Scheduler) After(ctx context.Context, kind Kind, key string, d time.Duration, payload []byte) (Timer, error) {
	return s.At(ctx, kind, key, s.now().Add(d), payload)
}

// Every schedules a timer that first fires one interval from now and then
// every interval after that.
func (s *Scheduler) Every(ctx context.Context, kind Kind, key string, every time.Duration, payload []byte) (Timer, error) {
	if every <= 0 {
		return Timer{}, fmt.Errorf("%w: interval %v", ErrInvalidRule, every)
	}
	t := Timer{ID: ID(kind, key), Kind: kind, Key: key, FireAt: s.now().Add(every), Every: every, Payload: clone(payload)}
	s.add(ctx, &entry{timer: t})
	return t, nil
}

// Cron schedules a timer that fires on a cron expression, evaluated in the
// scheduler's location.
func (s *Scheduler) Cron(ctx context.Context, kind Kind, key string, spec string, payload []byte) (Timer, error) {
	sched, err := ParseCron(spec)
	if err != nil {
		return Timer{}, err
	}
	t := Timer{ID: ID(kind, key), Kind: kind, Key: key, Cron: spec, Payload: clone(payload)}
	t.FireAt = sched.Next(s.now().In(s.loc))
	s.add(ctx, &entry{timer: t, cron: sched})
	return t, nil
}

// Cancel removes the timer with id. It reports whether one was pending;
// cancelling an unknown id is not an error.
func (s *Scheduler) Cancel(ctx context.Context, id string) bool {
	s.mu.Lock()
	e, ok := s.byID[id]
	if ok {
		s.removeLocked(ctx, e)
	}
	s.mu.Unlock()
	if ok {
		s.poke()
	}
	return ok
}

// CancelKey removes the timers for key with the given kinds, or every timer
// for key when no kinds are given. It returns how many were removed.
func (s *Scheduler) CancelKey(ctx context.Context, key string, kinds ...Kind) int {
	s.mu.Lock()
	var victims []*entry
	if len(kinds) == 0 {
		for _, e := range s.byID {
			if e.timer.Key == key {
				victims = append(victims, e)
			}
		}
	} else {
		for _, k := range kinds {
			if e, ok := s.byID[ID(k, key)]; ok {
				victims = append(victims, e)
			}
		}
	}
	for _, e := range victims {
		s.removeLocked(ctx, e)
	}
	s.mu.Unlock()
	if len(victims) > 0 {
		s.poke()
	}
	return len(victims)
}

// Get returns the pending timer with id.
func (s *Scheduler) Get(id string) (Timer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok {
		return Timer{}, false
	}
	return e.timer, true
}

// Pending returns every pending timer ordered by fire time.
func (s *Scheduler) Pending() []Timer {
	s.mu.Lock()
	entries := make([]*entry, len(s.queue))
	copy(entries, s.queue)
	s.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return timerQueue(entries).Less(i, j) })
	out := make([]Timer, len(entries))
	for i, e := range entries {
		out[i] = e.timer
	}
	return out
}

// Len returns the number of pending timers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// FireDue fires every timer due at or before now and waits for the
// handlers to return. Each due timer is removed (or re-armed, if recurring)
// before its handler runs, so a fire happens at most once. It returns the
// number of timers fired.
func (s *Scheduler) FireDue(ctx context.Context, now time.Time) int {
	due := s.popDue(ctx, now)
	if len(due) == 0 {
		return 0
	}

	var g errgroup.Group
	g.SetLimit(s.limit)
	for _, t := range due {
		g.Go(func() error {
			s.fire(ctx, t)
			return nil
		})
	}
	g.Wait()
	return len(due)
}

// Run fires timers as they come due until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		if d, ok := s.untilNext(); ok {
			timer.Reset(d)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
			s.FireDue(ctx, s.now())
		}
	}
}

// Restore loads journalled timers into the heap. One-shot timers whose
// fire time has passed are dropped, not fired. Recurring timers are
// advanced to their next future fire time. It returns how many timers were
// restored.
func (s *Scheduler) Restore(ctx context.Context) (int, error) {
	if s.journal == nil {
		return 0, nil
	}
	timers, err := s.journal.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("schedule: restore: %w", err)
	}

	now := s.now()
	restored := 0
	for _, t := range timers {
		e := &entry{timer: t}
		if t.Cron != "" {
			sched, err := ParseCron(t.Cron)
			if err != nil {
				log.Printf("schedule: restore %s: %v", t.ID, err)
				s.forget(ctx, t.ID)
				continue
			}
			e.cron = sched
		}
		if !t.FireAt.After(now) {
			if !t.Recurring() {
				s.forget(ctx, t.ID)
				continue
			}
			e.timer.FireAt = s.nextFire(e, now)
		}
		s.add(ctx, e)
		restored++
	}
	return restored, nil
}

func (s *Scheduler) add(ctx context.Context, e *entry) {
	s.mu.Lock()
	if old, ok := s.byID[e.timer.ID]; ok {
		heap.Remove(&s.queue, old.index)
	}
	s.seq++
	e.seq = s.seq
	heap.Push(&s.queue, e)
	s.byID[e.timer.ID] = e
	s.persist(ctx, e.timer)
	s.mu.Unlock()
	s.poke()
}

func (s *Scheduler) removeLocked(ctx context.Context, e *entry) {
	heap.Remove(&s.queue, e.index)
	delete(s.byID, e.timer.ID)
	s.forget(ctx, e.timer.ID)
}

func (s *Scheduler) popDue(ctx context.Context, now time.Time) []Timer {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Timer
	for len(s.queue) > 0 && !s.queue[0].timer.FireAt.After(now) {
		e := heap.Pop(&s.queue).(*entry)
		due = append(due, e.timer)
		if e.timer.Recurring() {
			e.timer.FireAt = s.nextFire(e, now)
			s.seq++
			e.seq = s.seq
			heap.Push(&s.queue, e)
			s.persist(ctx, e.timer)
			continue
		}
		delete(s.byID, e.timer.ID)
		s.forget(ctx, e.timer.ID)
	}
	return due
}

// nextFire returns the first recurrence strictly after now. Missed
// intervals are skipped rather than replayed.
func (s *Scheduler) nextFire(e *entry, now time.Time) time.Time {
	if e.cron != nil {
		return e.cron.Next(now.In(s.loc))
	}
	next := e.timer.FireAt.Add(e.timer.Every)
	if !next.After(now) {
		missed := now.Sub(e.timer.FireAt) / e.timer.Every
		next = e.timer.FireAt.Add((missed + 1) * e.timer.Every)
	}
	return next
}

func (s *Scheduler) fire(ctx context.Context, t Timer) {
	s.mu.Lock()
	h := s.handlers[t.Kind]
	s.mu.Unlock()

	attrs := metric.WithAttributes(attribute.String("kind", string(t.Kind)))
	if h == nil {
		s.failed.Add(ctx, 1, attrs)
		s.onError(t, fmt.Errorf("%w: %s", ErrNoHandler, t.Kind))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.failed.Add(ctx, 1, attrs)
			s.onError(t, fmt.Errorf("schedule: handler panic: %v", r))
		}
	}()
	if err := h(ctx, t); err != nil {
		s.failed.Add(ctx, 1, attrs)
		s.onError(t, err)
		return
	}
	s.fired.Add(ctx, 1, attrs)
}

func (s *Scheduler) untilNext() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return 0, false
	}
	d := s.queue[0].timer.FireAt.Sub(s.now())
	if d < 0 {
		d = 0
	}
	return d, true
}

// poke wakes Run so it re-reads the head of the heap.
func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) persist(ctx context.Context, t Timer) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Save(ctx, t); err != nil {
		log.Printf("schedule: journal save %s: %v", t.ID, err)
	}
}

func (s *Scheduler) forget(ctx context.Context, id string) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Remove(ctx, id); err != nil {
		log.Printf("schedule: journal remove %s: %v", id, err)
	}
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
