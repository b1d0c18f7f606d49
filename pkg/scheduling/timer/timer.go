package timer

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	gfcontext "github.com/vnykmshr/taskpool/pkg/common/context"
	gferrors "github.com/vnykmshr/taskpool/pkg/common/errors"
	"github.com/vnykmshr/taskpool/pkg/common/validation"
	"github.com/vnykmshr/taskpool/pkg/metrics"
	"github.com/vnykmshr/taskpool/pkg/scheduling/future"
	"github.com/vnykmshr/taskpool/pkg/scheduling/workerpool"
)

const module = "timer"

// Entry describes a pending timer.
type Entry struct {
	ID        string    `json:"id"`
	Deadline  time.Time `json:"deadline"`
	Created   time.Time `json:"created"`
	Recurring bool      `json:"recurring"`
	Schedule  string    `json:"schedule,omitempty"`
}

// Config holds scheduler configuration.
type Config struct {
	// Name labels the scheduler in logs and metrics.
	Name string

	// Pool executes promoted timers. If nil, the scheduler creates a pool
	// with workerpool.DefaultConfig and shuts it down on Stop.
	Pool *workerpool.Pool

	// Location is used to evaluate cron expressions (default: time.Local).
	Location *time.Location

	// Logger receives promotion failures. If nil, logrus.StandardLogger() is used.
	Logger logrus.FieldLogger

	// Metrics enables instrumentation at construction when Metrics.Enabled is set.
	Metrics metrics.Config
}

// Scheduler holds tasks until their deadline and then dispatches them to a
// worker pool. A single goroutine sleeps until the earliest deadline.
type Scheduler struct {
	config  Config
	pool    *workerpool.Pool
	ownPool bool
	log     logrus.FieldLogger
	parser  cron.Parser

	mu      sync.Mutex
	entries entryHeap
	byID    map[string]*entry
	seq     uint64
	closed  bool

	wake     chan struct{}
	stopCh   chan struct{}
	exited   chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	metrics atomic.Pointer[metrics.Registry]
}

// New creates a scheduler that dispatches to pool. A nil pool makes the
// scheduler own a default pool.
func New(pool *workerpool.Pool) (*Scheduler, error) {
	return NewWithConfig(Config{Pool: pool})
}

// NewWithConfig creates a scheduler with custom configuration and starts its
// timer goroutine.
func NewWithConfig(cfg Config) (*Scheduler, error) {
	if cfg.Name == "" {
		cfg.Name = module
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	pool := cfg.Pool
	ownPool := false
	if pool == nil {
		poolCfg := workerpool.DefaultConfig()
		poolCfg.Name = cfg.Name
		poolCfg.Logger = cfg.Logger
		poolCfg.Metrics = cfg.Metrics
		var err error
		if pool, err = workerpool.NewWithConfig(poolCfg); err != nil {
			return nil, gferrors.NewOperationError(module, "New", err)
		}
		ownPool = true
	}

	s := &Scheduler{
		config:  cfg,
		pool:    pool,
		ownPool: ownPool,
		log:     cfg.Logger.WithField("scheduler", cfg.Name),
		parser:  cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		byID:    make(map[string]*entry),
		wake:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		exited:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	if cfg.Metrics.Enabled {
		s.metrics.Store(metrics.ForConfig(cfg.Metrics))
	}

	go s.run()
	return s, nil
}

// Pool returns the pool timers are promoted into.
func (s *Scheduler) Pool() *workerpool.Pool {
	return s.pool
}

// At runs fn on the pool no earlier than when and returns a future for its
// result. A deadline that has already passed dispatches immediately.
func At[T any](s *Scheduler, when time.Time, fn func(ctx context.Context) (T, error)) (*future.Future[T], error) {
	if fn == nil {
		return nil, fmt.Errorf("task cannot be nil")
	}
	f, job := future.Package[T](s.pool, fn)
	if _, err := s.add(when, job); err != nil {
		return nil, err
	}
	return f, nil
}

// After is At with a deadline relative to now.
func After[T any](s *Scheduler, delay time.Duration, fn func(ctx context.Context) (T, error)) (*future.Future[T], error) {
	return At(s, time.Now().Add(delay), fn)
}

// Schedule runs fn on the pool no earlier than when. The returned id
// identifies the entry in List.
func (s *Scheduler) Schedule(when time.Time, fn func(ctx context.Context)) (string, error) {
	if fn == nil {
		return "", fmt.Errorf("task cannot be nil")
	}
	return s.add(when, future.Job{Run: fn})
}

// ScheduleCron runs fn every time the cron expression fires until ctx is done
// or the scheduler stops. Expressions have a leading seconds field and may
// use descriptors such as "@hourly" or "@every 5m".
func (s *Scheduler) ScheduleCron(ctx context.Context, expr string, fn func(ctx context.Context)) (string, error) {
	if err := validation.ValidateNotEmpty(module, "cron", expr); err != nil {
		return "", err
	}
	schedule, err := s.parser.Parse(expr)
	if err != nil {
		return "", gferrors.NewValidationError(module, "cron", expr, err.Error())
	}
	return s.addRecurring(ctx, schedule, expr, fn)
}

// ScheduleEvery runs fn every d, starting d from now, until ctx is done or
// the scheduler stops.
func (s *Scheduler) ScheduleEvery(ctx context.Context, d time.Duration, fn func(ctx context.Context)) (string, error) {
	if d <= 0 {
		return "", gferrors.NewValidationError(module, "interval", d, "must be positive")
	}
	return s.addRecurring(ctx, interval(d), "@every "+d.String(), fn)
}

func (s *Scheduler) add(when time.Time, job future.Job) (string, error) {
	now := time.Now()
	e := &entry{
		id:       ulid.Make().String(),
		deadline: when,
		created:  now,
		job:      job,
	}

	if !when.After(now) {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return "", s.closedError("Schedule")
		}
		s.recordScheduled()
		if err := s.pool.Dispatch(job); err != nil {
			s.recordPromotionFailure()
			return "", err
		}
		s.recordPromoted(0)
		return e.id, nil
	}

	if err := s.push(e); err != nil {
		return "", err
	}
	s.recordScheduled()
	return e.id, nil
}

func (s *Scheduler) addRecurring(ctx context.Context, schedule cron.Schedule, spec string, fn func(ctx context.Context)) (string, error) {
	if fn == nil {
		return "", fmt.Errorf("task cannot be nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	now := time.Now()
	e := &entry{
		id:       ulid.Make().String(),
		deadline: schedule.Next(now.In(s.config.Location)),
		created:  now,
		job:      future.Job{Run: fn},
		schedule: schedule,
		spec:     spec,
		ctx:      ctx,
	}
	e.release = context.AfterFunc(ctx, func() { s.remove(e.id) })
	if err := s.push(e); err != nil {
		e.release()
		return "", err
	}
	s.recordScheduled()
	return e.id, nil
}

// push inserts e and wakes the timer goroutine when e becomes the earliest
// deadline.
func (s *Scheduler) push(e *entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return s.closedError("Schedule")
	}
	s.seq++
	e.seq = s.seq
	heap.Push(&s.entries, e)
	s.byID[e.id] = e
	s.updatePending()

	if s.entries[0] == e {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
	return nil
}

func (s *Scheduler) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[id]
	if !ok {
		return
	}
	delete(s.byID, id)
	if e.index >= 0 {
		heap.Remove(&s.entries, e.index)
	}
	s.updatePending()
}

// run is the timer goroutine: it sleeps until the earliest deadline or a
// wake-up, then promotes everything that has come due.
func (s *Scheduler) run() {
	defer close(s.exited)

	t := time.NewTimer(time.Hour)
	defer t.Stop()

	for {
		var expired <-chan time.Time
		if next, ok := s.nextDeadline(); ok {
			if d := time.Until(next); d > 0 {
				t.Reset(d)
				expired = t.C
			} else {
				s.promoteDue()
				continue
			}
		} else {
			t.Stop()
		}

		select {
		case <-s.stopCh:
			return
		case <-s.wake:
		case <-expired:
		}
		s.promoteDue()
	}
}

func (s *Scheduler) nextDeadline() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return time.Time{}, false
	}
	return s.entries[0].deadline, true
}

// promoteDue pops every entry whose deadline has passed and dispatches them
// in deadline order outside the lock. Recurring entries are re-armed.
func (s *Scheduler) promoteDue() {
	now := time.Now()

	s.mu.Lock()
	var due []*entry
	for len(s.entries) > 0 && !s.entries[0].deadline.After(now) {
		e := heap.Pop(&s.entries).(*entry)
		if !e.recurring() {
			delete(s.byID, e.id)
		}
		due = append(due, e)
	}
	s.updatePending()
	s.mu.Unlock()

	for _, e := range due {
		s.promote(e, now)
	}
}

func (s *Scheduler) promote(e *entry, now time.Time) {
	if e.recurring() && gfcontext.IsCanceled(e.ctx) {
		s.remove(e.id)
		return
	}

	if err := s.pool.Dispatch(e.job); err != nil {
		s.recordPromotionFailure()
		s.log.WithFields(logrus.Fields{
			"id":       e.id,
			"deadline": e.deadline,
		}).WithError(err).Warn("timer promotion failed")
		if e.job.Abort != nil {
			e.job.Abort(err)
		}
	} else {
		s.recordPromoted(now.Sub(e.deadline))
	}

	if e.recurring() {
		s.rearm(e, now)
	}
}

func (s *Scheduler) rearm(e *entry, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		e.release()
		return
	}
	if _, ok := s.byID[e.id]; !ok {
		return
	}
	e.deadline = e.schedule.Next(now.In(s.config.Location))
	s.seq++
	e.seq = s.seq
	heap.Push(&s.entries, e)
	s.updatePending()
}

// Pending returns the number of timers waiting for their deadline.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// TotalWaiting returns pending timers plus tasks queued in the pool.
func (s *Scheduler) TotalWaiting() int {
	return s.Pending() + s.pool.Pending()
}

// List returns the pending timers sorted by deadline.
func (s *Scheduler) List() []Entry {
	type snapshot struct {
		Entry
		seq uint64
	}

	s.mu.Lock()
	pending := make([]snapshot, 0, len(s.entries))
	for _, e := range s.entries {
		pending = append(pending, snapshot{
			Entry: Entry{
				ID:        e.id,
				Deadline:  e.deadline,
				Created:   e.created,
				Recurring: e.recurring(),
				Schedule:  e.spec,
			},
			seq: e.seq,
		})
	}
	s.mu.Unlock()

	sort.Slice(pending, func(i, j int) bool {
		if !pending[i].Deadline.Equal(pending[j].Deadline) {
			return pending[i].Deadline.Before(pending[j].Deadline)
		}
		return pending[i].seq < pending[j].seq
	})

	list := make([]Entry, len(pending))
	for i := range pending {
		list[i] = pending[i].Entry
	}
	return list
}

// Stop terminates the timer goroutine. Pending one-shot timers are aborted
// with ErrClosed and recurring timers are dropped. A pool owned by the
// scheduler is shut down. The returned channel is closed once all of that
// is done.
func (s *Scheduler) Stop() <-chan struct{} {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		pending := s.entries
		s.entries = nil
		s.byID = make(map[string]*entry)
		s.updatePending()
		s.mu.Unlock()

		close(s.stopCh)

		go func() {
			<-s.exited
			aborted := 0
			for _, e := range pending {
				if e.release != nil {
					e.release()
				}
				if e.job.Abort != nil {
					e.job.Abort(s.closedError("Stop"))
					aborted++
				}
			}
			s.log.WithField("aborted", aborted).Debug("stopped")
			if s.ownPool {
				<-s.pool.Shutdown()
			}
			close(s.done)
		}()
	})
	return s.done
}

func (s *Scheduler) closedError(op string) error {
	return gferrors.NewOperationError(module, op, gferrors.ErrClosed).
		WithContext("scheduler has been stopped")
}
