package schedule

import "github.com/robfig/cron/v3"

// entry is a heap slot. seq breaks ties between equal fire times so that
// timers scheduled first fire first.
type entry struct {
	timer Timer
	cron  cron.Schedule
	seq   uint64
	index int
}

// timerQueue is a min-heap of entries ordered by fire time.
type timerQueue []*entry

func (q timerQueue) Len() int { return len(q) }

func (q timerQueue) Less(i, j int) bool {
	if q[i].timer.FireAt.Equal(q[j].timer.FireAt) {
		return q[i].seq < q[j].seq
	}
	return q[i].timer.FireAt.Before(q[j].timer.FireAt)
}

func (q timerQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

// Push adds an entry (heap.Interface).
func (q *timerQueue) Push(x any) {
	e := x.(*entry)
	e.index = len(*q)
	*q = append(*q, e)
}

// Pop removes the last entry (heap.Interface).
func (q *timerQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}
