package future

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vnykmshr/taskpool/internal/testutil"
)

// goExecutor runs every job on its own goroutine.
type goExecutor struct {
	wg         sync.WaitGroup
	dispatched int32
}

func (e *goExecutor) Dispatch(job Job) error {
	atomic.AddInt32(&e.dispatched, 1)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		job.Run(context.Background())
	}()
	return nil
}

// heldExecutor queues jobs until the test releases them.
type heldExecutor struct {
	mu   sync.Mutex
	jobs []Job
}

func (e *heldExecutor) Dispatch(job Job) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.jobs = append(e.jobs, job)
	return nil
}

func (e *heldExecutor) runNext() bool {
	e.mu.Lock()
	if len(e.jobs) == 0 {
		e.mu.Unlock()
		return false
	}
	job := e.jobs[0]
	e.jobs = e.jobs[1:]
	e.mu.Unlock()
	job.Run(context.Background())
	return true
}

func (e *heldExecutor) pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.jobs)
}

// recordingExecutor is a heldExecutor that also counts reported failures.
type recordingExecutor struct {
	heldExecutor
	failures atomic.Int32
}

func (e *recordingExecutor) RecordFailure(error) { e.failures.Add(1) }

type rejectingExecutor struct{ err error }

func (e rejectingExecutor) Dispatch(Job) error { return e.err }

func TestSubmitAndGet(t *testing.T) {
	exec := &goExecutor{}
	defer exec.wg.Wait()

	f, err := Submit[int](exec, func(ctx context.Context) (int, error) {
		return 7 * 6, nil
	})
	testutil.AssertNoError(t, err)

	v, err := f.Get()
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, v, 42)
	testutil.AssertEqual(t, f.Ready(), true)

	// Get is read-many.
	v, _ = f.Get()
	testutil.AssertEqual(t, v, 42)
}

func TestSubmitValidation(t *testing.T) {
	_, err := Submit[int](nil, func(context.Context) (int, error) { return 0, nil })
	testutil.AssertError(t, err)

	_, err = Submit[int](&goExecutor{}, nil)
	testutil.AssertError(t, err)

	boom := errors.New("queue full")
	_, err = Submit[int](rejectingExecutor{boom}, func(context.Context) (int, error) { return 0, nil })
	testutil.AssertErrorIs(t, err, boom)
}

func TestTaskErrorIsTransported(t *testing.T) {
	exec := &goExecutor{}
	defer exec.wg.Wait()

	boom := errors.New("boom")
	f, _ := Submit[string](exec, func(ctx context.Context) (string, error) {
		return "", boom
	})

	_, err := f.Get()
	testutil.AssertErrorIs(t, err, boom)
}

func TestPanicIsTransported(t *testing.T) {
	exec := &goExecutor{}
	defer exec.wg.Wait()

	f, _ := Submit[int](exec, func(ctx context.Context) (int, error) {
		panic("kaboom")
	})

	_, err := f.Get()
	var perr *PanicError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *PanicError, got %T: %v", err, err)
	}
	testutil.AssertEqual(t, perr.Value.(string), "kaboom")
	testutil.AssertEqual(t, len(perr.Stack) > 0, true)
}

func TestGetWithContext(t *testing.T) {
	exec := &heldExecutor{}
	f, _ := Submit[int](exec, func(ctx context.Context) (int, error) { return 1, nil })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.GetWithContext(ctx)
	testutil.AssertErrorIs(t, err, context.DeadlineExceeded)
	testutil.AssertEqual(t, f.Ready(), false)

	exec.runNext()
	v, err := f.Get()
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, v, 1)
}

func TestAbortResolvesWithError(t *testing.T) {
	boom := errors.New("shut down")
	f, job := Package[int](&heldExecutor{}, func(ctx context.Context) (int, error) {
		return 99, nil
	})

	job.Abort(boom)
	_, err := f.Get()
	testutil.AssertErrorIs(t, err, boom)

	// The result slot is written once; a late Run does not overwrite it.
	job.Run(context.Background())
	v, err := f.Get()
	testutil.AssertErrorIs(t, err, boom)
	testutil.AssertEqual(t, v, 0)
}

func TestThenChain(t *testing.T) {
	exec := &goExecutor{}
	defer exec.wg.Wait()

	var gDone int32
	f, _ := Submit[int](exec, func(ctx context.Context) (int, error) {
		time.Sleep(5 * time.Millisecond)
		return 3, nil
	})
	g, err := Then(f, func(ctx context.Context, in int) (int, error) {
		time.Sleep(5 * time.Millisecond)
		atomic.StoreInt32(&gDone, 1)
		return in * 10, nil
	})
	testutil.AssertNoError(t, err)
	h, err := Then(g, func(ctx context.Context, in int) (string, error) {
		if atomic.LoadInt32(&gDone) != 1 {
			t.Error("h started before g completed")
		}
		return time.Duration(in).String(), nil
	})
	testutil.AssertNoError(t, err)

	s, err := h.Get()
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, s, "30ns")
}

func TestThenDoIgnoresValue(t *testing.T) {
	exec := &heldExecutor{}

	f, _ := Submit[int](exec, func(ctx context.Context) (int, error) { return 1, nil })
	g, err := ThenDo(f, func(ctx context.Context) (string, error) { return "after", nil })
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, exec.pending(), 1)
	exec.runNext()
	// The continuation is dispatched, not run inline by the resolver.
	testutil.AssertEqual(t, g.Ready(), false)
	testutil.AssertEqual(t, exec.pending(), 1)
	exec.runNext()

	s, err := g.Get()
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, s, "after")
}

func TestThenOnResolvedDispatchesImmediately(t *testing.T) {
	exec := &heldExecutor{}
	f, _ := Submit[int](exec, func(ctx context.Context) (int, error) { return 5, nil })
	exec.runNext()
	<-f.Done()

	g, err := Then(f, func(ctx context.Context, in int) (int, error) { return in + 1, nil })
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, exec.pending(), 1)
	exec.runNext()

	v, _ := g.Get()
	testutil.AssertEqual(t, v, 6)
}

func TestFailureShortCircuitsChain(t *testing.T) {
	exec := &goExecutor{}
	defer exec.wg.Wait()

	boom := errors.New("antecedent failed")
	var ran int32

	f, _ := Submit[int](exec, func(ctx context.Context) (int, error) { return 0, boom })
	g, _ := Then(f, func(ctx context.Context, in int) (int, error) {
		atomic.AddInt32(&ran, 1)
		return in, nil
	})
	h, _ := ThenDo(g, func(ctx context.Context) (int, error) {
		atomic.AddInt32(&ran, 1)
		return 1, nil
	})

	_, err := h.Get()
	testutil.AssertErrorIs(t, err, boom)
	testutil.AssertEqual(t, atomic.LoadInt32(&ran), int32(0))

	// Attaching to an already failed future short-circuits without dispatching.
	before := atomic.LoadInt32(&exec.dispatched)
	failed, _ := Submit[int](exec, func(ctx context.Context) (int, error) { return 0, boom })
	<-failed.Done()
	k, err := Then(failed, func(ctx context.Context, in int) (int, error) { return in, nil })
	testutil.AssertNoError(t, err)
	_, err = k.Get()
	testutil.AssertErrorIs(t, err, boom)
	testutil.AssertEqual(t, atomic.LoadInt32(&exec.dispatched), before+1)
}

func TestProtocolMisuse(t *testing.T) {
	exec := &heldExecutor{}
	cont := func(ctx context.Context, in int) (int, error) { return in, nil }

	f, _ := Submit[int](exec, func(ctx context.Context) (int, error) { return 1, nil })
	_, err := Then(f, cont)
	testutil.AssertNoError(t, err)

	_, err = Then(f, cont)
	testutil.AssertErrorIs(t, err, ErrAlreadyChained)
	_, err = f.Get()
	testutil.AssertErrorIs(t, err, ErrAlreadyChained)

	pulled, _ := Submit[int](exec, func(ctx context.Context) (int, error) { return 1, nil })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _ = pulled.GetWithContext(ctx)
	_, err = Then(pulled, cont)
	testutil.AssertErrorIs(t, err, ErrAlreadyPulled)

	_, err = Then[int, int](pulled, nil)
	testutil.AssertError(t, err)
}

func TestThenDispatchFailure(t *testing.T) {
	boom := errors.New("queue full")

	// Deferred continuation: the failure lands in the successor.
	held := &heldExecutor{}
	f, job := Package[int](held, func(ctx context.Context) (int, error) { return 1, nil })
	f.exec = rejectingExecutor{boom}
	g, err := Then(f, func(ctx context.Context, in int) (int, error) { return in, nil })
	testutil.AssertNoError(t, err)
	job.Run(context.Background())
	_, err = g.Get()
	testutil.AssertErrorIs(t, err, boom)

	// Already resolved: the failure is returned synchronously and Then may be retried.
	r, job := Package[int](rejectingExecutor{boom}, func(ctx context.Context) (int, error) { return 2, nil })
	job.Run(context.Background())
	_, err = Then(r, func(ctx context.Context, in int) (int, error) { return in, nil })
	testutil.AssertErrorIs(t, err, boom)
	r.exec = held
	_, err = Then(r, func(ctx context.Context, in int) (int, error) { return in, nil })
	testutil.AssertNoError(t, err)
}

func TestContinuationRunsExactlyOnce(t *testing.T) {
	for i := 0; i < 500; i++ {
		exec := &goExecutor{}
		var calls int32

		f, _ := Submit[int](exec, func(ctx context.Context) (int, error) { return i, nil })
		g, err := Then(f, func(ctx context.Context, in int) (int, error) {
			atomic.AddInt32(&calls, 1)
			return in, nil
		})
		testutil.AssertNoError(t, err)

		v, err := g.Get()
		testutil.AssertNoError(t, err)
		testutil.AssertEqual(t, v, i)
		exec.wg.Wait()
		testutil.AssertEqual(t, atomic.LoadInt32(&calls), int32(1))
	}
}

func TestFailuresReportedToExecutor(t *testing.T) {
	exec := &recordingExecutor{}

	_, err := Submit(exec, func(ctx context.Context) (int, error) { return 1, nil })
	testutil.AssertNoError(t, err)
	_, err = Submit(exec, func(ctx context.Context) (int, error) { return 0, errors.New("boom") })
	testutil.AssertNoError(t, err)
	_, err = Submit(exec, func(ctx context.Context) (int, error) { panic("kaboom") })
	testutil.AssertNoError(t, err)
	aborted, job := Package(exec, func(ctx context.Context) (int, error) { return 0, nil })

	for exec.runNext() {
	}
	job.Abort(errors.New("shut down"))

	_, err = aborted.Get()
	testutil.AssertError(t, err)
	testutil.AssertEqual(t, exec.failures.Load(), int32(2))
}
