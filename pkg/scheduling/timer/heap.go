package timer

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vnykmshr/taskpool/pkg/scheduling/future"
)

// entry is a pending timer.
type entry struct {
	id       string
	deadline time.Time
	seq      uint64
	created  time.Time
	job      future.Job

	// Recurring entries only.
	schedule cron.Schedule
	spec     string
	ctx      context.Context
	release  func() bool

	index int
}

func (e *entry) recurring() bool {
	return e.schedule != nil
}

// entryHeap orders entries by deadline, then by insertion order.
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// interval is a fixed-delay cron.Schedule without cron.Every's rounding to
// whole seconds.
type interval time.Duration

func (d interval) Next(t time.Time) time.Time {
	return t.Add(time.Duration(d))
}
