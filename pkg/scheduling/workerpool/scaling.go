package workerpool

import (
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vnykmshr/taskpool/pkg/common/validation"
)

// Resize sets the number of workers, clamped to the current maximum.
// Shrinking blocks until the removed workers finish their current task, so
// a task must not shrink the pool it is running on.
func (p *Pool) Resize(n int) error {
	if err := validation.ValidatePositive(module, "workers", n); err != nil {
		return err
	}
	if p.closed.Load() {
		return p.closedError("Resize")
	}

	p.workersMu.Lock()
	defer p.workersMu.Unlock()
	// Shutdown may have taken the workers while we waited for the lock.
	if p.closed.Load() {
		return p.closedError("Resize")
	}
	p.resizeLocked(n)
	return nil
}

// SetMaxWorkers changes the worker ceiling, shrinking the pool when it is
// currently above the new maximum.
func (p *Pool) SetMaxWorkers(n int) error {
	if err := validation.ValidatePositive(module, "maxWorkers", n); err != nil {
		return err
	}
	if p.closed.Load() {
		return p.closedError("SetMaxWorkers")
	}

	p.workersMu.Lock()
	defer p.workersMu.Unlock()
	// Shutdown may have taken the workers while we waited for the lock.
	if p.closed.Load() {
		return p.closedError("SetMaxWorkers")
	}
	p.maxWorkers.Store(int64(n))
	if len(p.workers) > n {
		p.resizeLocked(n)
	}
	p.updateGauges()
	return nil
}

func (p *Pool) resizeLocked(n int) {
	if max := int(p.maxWorkers.Load()); n > max {
		n = max
	}

	cur := len(p.workers)
	switch {
	case n > cur:
		for len(p.workers) < n {
			p.addWorkerLocked()
		}
		p.recordResize("grow", n-cur)
	case n < cur:
		victims := append([]*worker(nil), p.workers[n:]...)
		for i := n; i < cur; i++ {
			p.workers[i] = nil
		}
		p.workers = p.workers[:n]
		p.numWorkers.Store(int64(n))
		p.stopWorkers(victims)
		p.recordResize("shrink", cur-n)
	}

	p.latestWorkerChange.Store(p.clock.Now().UnixNano())
	if n != cur {
		p.log.WithFields(logrus.Fields{"from": cur, "to": n}).Debug("resized")
	}
	p.updateGauges()
}

func (p *Pool) addWorkerLocked() {
	p.nextWorkerID++
	w := &worker{
		id:      p.nextWorkerID,
		stopped: make(chan struct{}),
	}
	p.workers = append(p.workers, w)
	p.numWorkers.Store(int64(len(p.workers)))
	go p.run(w)
}

// stopWorkers disposes ws and waits for each to exit. Workers finish the
// task they are running first.
func (p *Pool) stopWorkers(ws []*worker) {
	for _, w := range ws {
		w.disposed.Store(true)
	}
	p.eventMu.Lock()
	p.event.Broadcast()
	p.eventMu.Unlock()

	for _, w := range ws {
		<-w.stopped
	}
}

// checkReserve grows the pool when few workers are idle and work is
// stalling or queueing up. It only tries the resize lock, so callers never
// block on a concurrent resize.
func (p *Pool) checkReserve() {
	if p.Available() > p.config.ReserveThreshold {
		return
	}

	now := p.clock.Now()
	stall := now.Sub(time.Unix(0, p.latestActive.Load()))
	if stall <= p.config.MaxStallInterval &&
		p.AverageInterval() <= p.config.MaxTaskInterval &&
		p.AverageWait() <= p.config.MaxTaskWait {
		return
	}

	if !p.workersMu.TryLock() {
		return
	}
	defer p.workersMu.Unlock()
	if p.closed.Load() {
		return
	}

	cur := len(p.workers)
	if cur >= int(p.maxWorkers.Load()) {
		return
	}
	p.log.WithFields(logrus.Fields{
		"workers":          cur,
		"stall":            stall,
		"average_interval": p.AverageInterval(),
		"average_wait":     p.AverageWait(),
	}).Debug("growing pool")
	p.resizeLocked((cur &^ 1) + 2)
}

// observeDequeue folds the time since the last task event and the time the
// task spent queued into the moving averages. Waiting that happened before
// the latest worker change is not counted.
func (p *Pool) observeDequeue(task Task) {
	now := p.clock.Now()

	latestEvent := time.Unix(0, p.latestEvent.Swap(now.UnixNano()))
	p.smooth(&p.averageInterval, now.Sub(latestEvent))

	since := task.Issued
	if changed := time.Unix(0, p.latestWorkerChange.Load()); changed.After(since) {
		since = changed
	}
	p.smooth(&p.averageWait, now.Sub(since))

	p.recordWait(now.Sub(task.Issued))
}

// smooth applies avg = (avg*W + sample) / (W+1).
func (p *Pool) smooth(avg *atomic.Int64, sample time.Duration) {
	if sample < 0 {
		sample = 0
	}
	w := int64(p.config.AverageWeight)
	for {
		old := avg.Load()
		next := (old*w + int64(sample)) / (w + 1)
		if avg.CompareAndSwap(old, next) {
			return
		}
	}
}

// Workers returns the current number of workers.
func (p *Pool) Workers() int {
	return int(p.numWorkers.Load())
}

// MaxWorkers returns the worker ceiling.
func (p *Pool) MaxWorkers() int {
	return int(p.maxWorkers.Load())
}

// Available returns the number of workers not executing a task.
func (p *Pool) Available() int {
	n := p.numWorkers.Load() - p.numWorking.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}

// Pending returns the number of queued tasks.
func (p *Pool) Pending() int {
	return p.tasks.Len()
}

// Capacity returns the fixed queue capacity.
func (p *Pool) Capacity() int {
	return p.tasks.Cap()
}

// AverageInterval is the moving average of the time between task events.
func (p *Pool) AverageInterval() time.Duration {
	return time.Duration(p.averageInterval.Load())
}

// AverageWait is the moving average of the time tasks spend queued.
func (p *Pool) AverageWait() time.Duration {
	return time.Duration(p.averageWait.Load())
}

// Stats is a point-in-time snapshot of a pool.
type Stats struct {
	Name            string        `json:"name"`
	Workers         int           `json:"workers"`
	MaxWorkers      int           `json:"max_workers"`
	Available       int           `json:"available"`
	Pending         int           `json:"pending"`
	Capacity        int           `json:"capacity"`
	AverageInterval time.Duration `json:"average_interval"`
	AverageWait     time.Duration `json:"average_wait"`
	TotalLaunched   int64         `json:"total_launched"`
	TotalExecuted   int64         `json:"total_executed"`
	TotalFailed     int64         `json:"total_failed"`
	LatestActive    time.Time     `json:"latest_active"`
}

// Stats returns a snapshot of the pool's counters and averages.
func (p *Pool) Stats() Stats {
	return Stats{
		Name:            p.config.Name,
		Workers:         p.Workers(),
		MaxWorkers:      p.MaxWorkers(),
		Available:       p.Available(),
		Pending:         p.Pending(),
		Capacity:        p.Capacity(),
		AverageInterval: p.AverageInterval(),
		AverageWait:     p.AverageWait(),
		TotalLaunched:   p.totalLaunched.Load(),
		TotalExecuted:   p.totalExecuted.Load(),
		TotalFailed:     p.totalFailed.Load(),
		LatestActive:    time.Unix(0, p.latestActive.Load()),
	}
}
