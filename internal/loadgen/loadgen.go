// Package loadgen drives a worker pool with synthetic work so its adaptive
// behaviour can be observed.
package loadgen

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	gfcontext "github.com/vnykmshr/taskpool/pkg/common/context"
	gferrors "github.com/vnykmshr/taskpool/pkg/common/errors"
	"github.com/vnykmshr/taskpool/pkg/common/validation"
	"github.com/vnykmshr/taskpool/pkg/scheduling/future"
	"github.com/vnykmshr/taskpool/pkg/scheduling/timer"
	"github.com/vnykmshr/taskpool/pkg/scheduling/workerpool"
)

// Config describes the generated load.
type Config struct {
	// Producers is the number of goroutines submitting tasks.
	Producers int

	// Tasks is the number of tasks each producer submits; 0 runs until ctx is done.
	Tasks int

	// Work is the upper bound of the simulated duration of each task.
	Work time.Duration

	// Pause is the delay between submissions of one producer.
	Pause time.Duration

	// DelayedEvery makes every n-th task a timer instead of an immediate
	// launch; 0 disables timers.
	DelayedEvery int

	// Logger receives per-producer summaries.
	Logger logrus.FieldLogger
}

// Result summarizes a run.
type Result struct {
	Launched  int64
	Completed int64
	Failed    int64
	Rejected  int64
}

// Run submits load to pool, and to s when timers are enabled, until every
// producer finished or ctx is done. It waits for the submitted tasks to
// settle before returning.
func Run(ctx context.Context, cfg Config, pool *workerpool.Pool, s *timer.Scheduler) (Result, error) {
	if err := validation.ValidatePositive("loadgen", "producers", cfg.Producers); err != nil {
		return Result{}, err
	}
	if cfg.DelayedEvery > 0 && s == nil {
		return Result{}, gferrors.NewValidationError("loadgen", "scheduler", nil, "required when DelayedEvery is set")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	var launched, rejected atomic.Int64
	var outcomes tally

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Producers; i++ {
		producer := i
		g.Go(func() error {
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(producer)))
			for n := 0; cfg.Tasks == 0 || n < cfg.Tasks; n++ {
				if gctx.Err() != nil {
					return nil
				}

				work := time.Duration(0)
				if cfg.Work > 0 {
					work = time.Duration(rng.Int63n(int64(cfg.Work)))
				}

				var f *future.Future[time.Duration]
				var err error
				if cfg.DelayedEvery > 0 && n%cfg.DelayedEvery == cfg.DelayedEvery-1 {
					f, err = timer.After(s, work, simulate(work))
				} else {
					f, err = workerpool.Launch(pool, simulate(work))
				}
				switch {
				case err == nil:
					launched.Add(1)
					outcomes.track(f)
				case gferrors.IsTemporary(err), gferrors.IsRetryable(err):
					rejected.Add(1)
				default:
					return err
				}

				if cfg.Pause > 0 {
					if gfcontext.Sleep(gctx, cfg.Pause) != nil {
						return nil
					}
				}
			}
			cfg.Logger.WithField("producer", producer).Debug("producer finished")
			return nil
		})
	}

	err := g.Wait()
	outcomes.wait()

	return Result{
		Launched:  launched.Load(),
		Completed: outcomes.completed.Load(),
		Failed:    outcomes.failed.Load(),
		Rejected:  rejected.Load(),
	}, err
}

// tally counts task outcomes as their futures resolve. A future is dropped
// once counted, so only unresolved tasks are held.
type tally struct {
	wg        sync.WaitGroup
	inflight  atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

func (t *tally) track(f *future.Future[time.Duration]) {
	t.inflight.Add(1)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer t.inflight.Add(-1)
		if _, err := f.Get(); err != nil {
			t.failed.Add(1)
		} else {
			t.completed.Add(1)
		}
	}()
}

func (t *tally) wait() {
	t.wg.Wait()
}

func simulate(work time.Duration) func(ctx context.Context) (time.Duration, error) {
	return func(ctx context.Context) (time.Duration, error) {
		start := time.Now()
		if err := gfcontext.Sleep(ctx, work); err != nil {
			return time.Since(start), err
		}
		return time.Since(start), nil
	}
}
