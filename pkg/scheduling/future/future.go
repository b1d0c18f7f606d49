package future

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
)

var (
	// ErrAlreadyChained is returned by Get and Then once a continuation has
	// been attached to a future.
	ErrAlreadyChained = errors.New("future: continuation already attached")

	// ErrAlreadyPulled is returned by Then when the result was already
	// requested with Get. A future is either pulled or chained, never both.
	ErrAlreadyPulled = errors.New("future: result already requested by Get")
)

// Job is a packaged unit of work handed to an Executor.
type Job struct {
	// Run executes the work. The context is canceled when the executor shuts down.
	Run func(ctx context.Context)

	// Abort, when set, is called instead of Run if an accepted job will never
	// be executed (for example because the executor shut down first).
	Abort func(err error)
}

// Executor accepts jobs for asynchronous execution.
//
// Dispatch either accepts the job or returns an error; a rejected job is
// not aborted, the caller owns the failure.
type Executor interface {
	Dispatch(job Job) error
}

// FailureRecorder is implemented by executors that count jobs whose task
// returned an error or panicked. Aborted jobs are not reported.
type FailureRecorder interface {
	RecordFailure(err error)
}

// PanicError carries a value recovered from a panicking task.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// Future is the result handle of an asynchronously executed task.
//
// The result is written exactly once. Callers either block on it with Get or
// attach a single continuation with Then/ThenDo.
type Future[T any] struct {
	exec Executor
	done chan struct{}

	mu       sync.Mutex
	resolved bool
	value    T
	err      error
	pulled   bool
	chained  bool
	next     func(T, error)
}

func newFuture[T any](exec Executor) *Future[T] {
	return &Future[T]{
		exec: exec,
		done: make(chan struct{}),
	}
}

// Package wraps fn into a Job whose execution resolves the returned future.
// The job is not dispatched; callers that defer execution (timers) use this.
func Package[T any](exec Executor, fn func(ctx context.Context) (T, error)) (*Future[T], Job) {
	f := newFuture[T](exec)
	return f, f.job(fn)
}

// Submit packages fn and dispatches it on exec.
func Submit[T any](exec Executor, fn func(ctx context.Context) (T, error)) (*Future[T], error) {
	if exec == nil {
		return nil, errors.New("future: executor cannot be nil")
	}
	if fn == nil {
		return nil, errors.New("future: task cannot be nil")
	}

	f, job := Package(exec, fn)
	if err := exec.Dispatch(job); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Future[T]) job(fn func(ctx context.Context) (T, error)) Job {
	return Job{
		Run: func(ctx context.Context) {
			v, err := call(ctx, fn)
			if err != nil {
				if r, ok := f.exec.(FailureRecorder); ok {
					r.RecordFailure(err)
				}
			}
			f.resolve(v, err)
		},
		Abort: func(err error) {
			var zero T
			f.resolve(zero, err)
		},
	}
}

func call[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn(ctx)
}

// resolve commits the result and hands it to an attached continuation.
// Only the first call has any effect.
func (f *Future[T]) resolve(v T, err error) {
	f.mu.Lock()
	if f.resolved {
		f.mu.Unlock()
		return
	}
	f.resolved = true
	f.value, f.err = v, err
	next := f.next
	f.next = nil
	close(f.done)
	f.mu.Unlock()

	if next != nil {
		next(v, err)
	}
}

// Get blocks until the task finishes and returns its result.
func (f *Future[T]) Get() (T, error) {
	return f.GetWithContext(context.Background())
}

// GetWithContext is Get bounded by ctx. Giving up on the wait does not
// affect the task.
func (f *Future[T]) GetWithContext(ctx context.Context) (T, error) {
	var zero T

	f.mu.Lock()
	if f.chained {
		f.mu.Unlock()
		return zero, ErrAlreadyChained
	}
	f.pulled = true
	f.mu.Unlock()

	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Done returns a channel that is closed once the result is committed.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Ready reports whether the result is committed.
func (f *Future[T]) Ready() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Then attaches fn to run with the antecedent's value once it succeeds.
//
// The continuation always runs on the antecedent's executor. If the
// antecedent fails, fn is skipped and the returned future fails with the
// same error.
func Then[T, U any](f *Future[T], fn func(ctx context.Context, in T) (U, error)) (*Future[U], error) {
	if fn == nil {
		return nil, errors.New("future: continuation cannot be nil")
	}
	return attach(f, func(in T) func(context.Context) (U, error) {
		return func(ctx context.Context) (U, error) {
			return fn(ctx, in)
		}
	})
}

// ThenDo is Then for continuations that ignore the antecedent's value.
// They still run only after, and only if, the antecedent succeeded.
func ThenDo[T, U any](f *Future[T], fn func(ctx context.Context) (U, error)) (*Future[U], error) {
	if fn == nil {
		return nil, errors.New("future: continuation cannot be nil")
	}
	return attach(f, func(T) func(context.Context) (U, error) {
		return fn
	})
}

func attach[T, U any](f *Future[T], bind func(T) func(context.Context) (U, error)) (*Future[U], error) {
	next := newFuture[U](f.exec)

	f.mu.Lock()
	if f.chained {
		f.mu.Unlock()
		return nil, ErrAlreadyChained
	}
	if f.pulled {
		f.mu.Unlock()
		return nil, ErrAlreadyPulled
	}
	f.chained = true

	if !f.resolved {
		f.next = func(v T, err error) {
			var zero U
			if err != nil {
				next.resolve(zero, err)
				return
			}
			if derr := f.exec.Dispatch(next.job(bind(v))); derr != nil {
				next.resolve(zero, derr)
			}
		}
		f.mu.Unlock()
		return next, nil
	}

	v, err := f.value, f.err
	f.mu.Unlock()

	if err != nil {
		var zero U
		next.resolve(zero, err)
		return next, nil
	}

	if derr := f.exec.Dispatch(next.job(bind(v))); derr != nil {
		f.mu.Lock()
		f.chained = false
		f.mu.Unlock()
		return nil, derr
	}
	return next, nil
}
