package workerpool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"

	gfcontext "github.com/vnykmshr/taskpool/pkg/common/context"
	gferrors "github.com/vnykmshr/taskpool/pkg/common/errors"
	"github.com/vnykmshr/taskpool/pkg/scheduling/future"
)

const (
	minBackoff = 10 * time.Microsecond
	maxBackoff = time.Millisecond
)

// Launch submits fn to the pool and returns a future for its result.
// Continuations attached to the future run on the same pool.
func Launch[T any](p *Pool, fn func(ctx context.Context) (T, error)) (*future.Future[T], error) {
	return future.Submit[T](p, fn)
}

// Submit queues fn for execution and does not report its outcome.
// Panics are recovered by the worker and reported to the PanicHandler.
func (p *Pool) Submit(fn func(ctx context.Context)) error {
	return p.SubmitWithContext(context.Background(), fn)
}

// SubmitWithContext is Submit with a caller context bounding the wait for
// queue space in addition to the launch timeout.
func (p *Pool) SubmitWithContext(ctx context.Context, fn func(ctx context.Context)) error {
	if fn == nil {
		return fmt.Errorf("task cannot be nil")
	}
	return p.DispatchWithContext(ctx, future.Job{Run: fn})
}

// Dispatch queues job, implementing future.Executor.
func (p *Pool) Dispatch(job future.Job) error {
	return p.DispatchWithContext(context.Background(), job)
}

// DispatchWithContext queues job. While the queue is full it retries with a
// growing backoff until the launch timeout or ctx expires, then fails with
// ErrTimeout. It fails with ErrClosed once Shutdown has been called.
//
// When called from a task running on this pool against a full queue, the
// calling worker is blocked for up to the launch timeout.
func (p *Pool) DispatchWithContext(ctx context.Context, job future.Job) error {
	if job.Run == nil {
		return fmt.Errorf("task cannot be nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if p.closed.Load() {
		return p.closedError("Dispatch")
	}

	ctx, cancel := gfcontext.WithTimeoutOrCancel(ctx, p.config.LaunchTimeout)
	defer cancel()

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return gferrors.NewOperationError(module, "Dispatch", gferrors.ErrRateLimited).
				WithContext(err.Error())
		}
	}

	now := p.clock.Now()
	if p.tasks.Empty() {
		p.latestEvent.Store(now.UnixNano())
	}

	task := Task{Job: job, Issued: now}
	backoff := minBackoff
	for !p.tasks.TryPush(task) {
		p.recordBackpressure()
		if err := gfcontext.Sleep(ctx, backoff); err != nil {
			return p.launchFailed(ctx, err)
		}
		if p.closed.Load() {
			return p.closedError("Dispatch")
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}

	p.totalLaunched.Add(1)
	p.recordLaunched()
	p.checkReserve()
	p.signal()

	// Shutdown may have drained the queue between the closed check and the push.
	if p.closed.Load() {
		p.abortPending()
	}
	return nil
}

func (p *Pool) launchFailed(ctx context.Context, err error) error {
	if !gfcontext.IsTimedOut(ctx) {
		return gferrors.NewOperationError(module, "Dispatch", err)
	}
	p.recordLaunchTimeout()
	p.log.WithFields(logrus.Fields{
		"capacity": p.tasks.Cap(),
		"workers":  p.Workers(),
	}).Warn("launch timed out on a full queue")
	cause := fmt.Errorf("%w: %w", gferrors.ErrTimeout, gferrors.ErrCapacityExceeded)
	return gferrors.NewOperationError(module, "Dispatch", cause).
		WithContext(fmt.Sprintf("queue full (capacity %d) for %v", p.tasks.Cap(), p.config.LaunchTimeout))
}

func (p *Pool) closedError(op string) error {
	return gferrors.NewOperationError(module, op, gferrors.ErrClosed).
		WithContext("worker pool has been shut down")
}

// signal wakes one idle worker.
func (p *Pool) signal() {
	p.eventMu.Lock()
	p.event.Signal()
	p.eventMu.Unlock()
}

// Shutdown stops accepting tasks, cancels the context handed to running
// tasks, waits for every worker to exit and aborts the tasks still queued
// with ErrClosed. The returned channel is closed once all of that is done.
// Calling Shutdown again returns the same channel.
func (p *Pool) Shutdown() <-chan struct{} {
	p.shutdownOnce.Do(func() {
		p.closed.Store(true)
		p.cancel()
		p.eventMu.Lock()
		p.event.Broadcast()
		p.eventMu.Unlock()
		p.log.Debug("shutting down")

		go func() {
			p.workersMu.Lock()
			workers := p.workers
			p.workers = nil
			p.numWorkers.Store(0)
			p.workersMu.Unlock()

			p.stopWorkers(workers)
			aborted := p.abortPending()
			p.updateGauges()

			p.log.WithField("aborted", aborted).Debug("shut down")
			close(p.done)
		}()
	})
	return p.done
}

// abortPending drains the queue, aborting each task with ErrClosed.
func (p *Pool) abortPending() int {
	pending := p.tasks.Drain()
	for _, task := range pending {
		if task.Abort != nil {
			task.Abort(p.closedError("Shutdown"))
		}
	}
	p.recordAborted(len(pending))
	return len(pending)
}

// run is the main loop for a worker.
func (p *Pool) run(w *worker) {
	defer close(w.stopped)

	if p.config.OnWorkerStart != nil {
		p.config.OnWorkerStart(w.id)
	}
	defer func() {
		if p.config.OnWorkerStop != nil {
			p.config.OnWorkerStop(w.id)
		}
	}()

	for p.active(w) {
		task, ok := p.tasks.TryPop()
		if !ok {
			p.waitForTask(w)
			continue
		}

		p.observeDequeue(task)
		p.checkReserve()
		p.latestActive.Store(p.clock.Now().UnixNano())

		p.numWorking.Add(1)
		p.executeTask(w, task)
		p.numWorking.Add(-1)
	}

	// Pass on a wake-up this worker may have consumed.
	if !p.tasks.Empty() {
		p.signal()
	}
}

// active reports whether w should keep taking tasks. Workers stop taking
// tasks as soon as Shutdown is called.
func (p *Pool) active(w *worker) bool {
	return !w.disposed.Load() && !p.closed.Load()
}

// waitForTask parks the worker until the queue is non-empty or the worker
// is disposed. Both conditions are checked under eventMu.
func (p *Pool) waitForTask(w *worker) {
	p.eventMu.Lock()
	for p.tasks.Empty() && p.active(w) {
		p.event.Wait()
	}
	p.eventMu.Unlock()
}

// executeTask runs a single task, recovering any panic that escapes it.
func (p *Pool) executeTask(w *worker, task Task) {
	start := time.Now()

	ctx := p.ctx
	if p.config.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.TaskTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			p.recordPanicked()
			p.log.WithFields(logrus.Fields{
				"worker": w.id,
				"panic":  r,
				"stack":  string(debug.Stack()),
			}).Error("task panicked")
			if p.config.PanicHandler != nil {
				p.config.PanicHandler(task, r)
			}
		}
		p.totalExecuted.Add(1)
		p.recordExecuted(time.Since(start))
	}()

	task.Run(ctx)
}

// RecordFailure counts a task whose result was an error, implementing
// future.FailureRecorder.
func (p *Pool) RecordFailure(err error) {
	p.totalFailed.Add(1)
	p.recordFailed()
}

var _ future.FailureRecorder = (*Pool)(nil)

// IsClosed reports whether err is the error returned for a shut down pool.
func IsClosed(err error) bool {
	return errors.Is(err, gferrors.ErrClosed)
}
