// Package integration contains integration tests that verify cross-package functionality.
// These tests ensure that different components work together correctly in realistic scenarios.
package integration

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/vnykmshr/taskpool/internal/testutil"
	gferrors "github.com/vnykmshr/taskpool/pkg/common/errors"
	"github.com/vnykmshr/taskpool/pkg/logging"
	"github.com/vnykmshr/taskpool/pkg/metrics"
	"github.com/vnykmshr/taskpool/pkg/scheduling/future"
	"github.com/vnykmshr/taskpool/pkg/scheduling/timer"
	"github.com/vnykmshr/taskpool/pkg/scheduling/workerpool"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newExecutor(t *testing.T, workers, maxWorkers int, metricsCfg metrics.Config) (*workerpool.Pool, *timer.Scheduler) {
	t.Helper()
	cfg := workerpool.DefaultConfig()
	cfg.Name = t.Name()
	cfg.QueueCapacity = 128
	cfg.Workers = workers
	cfg.MaxWorkers = maxWorkers
	cfg.LaunchTimeout = 5 * time.Second
	cfg.Logger = logging.Discard()
	cfg.Metrics = metricsCfg
	pool, err := workerpool.NewWithConfig(cfg)
	testutil.AssertNoError(t, err)

	s, err := timer.NewWithConfig(timer.Config{Name: t.Name(), Pool: pool, Logger: logging.Discard(), Metrics: metricsCfg})
	testutil.AssertNoError(t, err)

	t.Cleanup(func() {
		<-s.Stop()
		<-pool.Shutdown()
	})
	return pool, s
}

// TestTimersFeedContinuations verifies that timers, immediate launches and
// continuations share one pool and all resolve.
func TestTimersFeedContinuations(t *testing.T) {
	pool, s := newExecutor(t, 2, 8, metrics.Config{})

	const n = 50
	var g errgroup.Group
	results := make([]int, n)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			var f *future.Future[int]
			var err error
			if i%2 == 0 {
				f, err = timer.After(s, time.Duration(i)*time.Millisecond, func(ctx context.Context) (int, error) { return i, nil })
			} else {
				f, err = workerpool.Launch(pool, func(ctx context.Context) (int, error) { return i, nil })
			}
			if err != nil {
				return err
			}
			doubled, err := future.Then(f, func(ctx context.Context, v int) (int, error) { return v * 2, nil })
			if err != nil {
				return err
			}
			v, err := doubled.Get()
			results[i] = v
			return err
		})
	}
	testutil.AssertNoError(t, g.Wait())

	for i, v := range results {
		testutil.AssertEqual(t, v, i*2)
	}
	testutil.AssertEqual(t, s.Pending(), 0)
}

// TestBurstGrowsPoolAndDrains checks that a burst queued behind slow work
// makes the pool grow and that every task still runs exactly once.
func TestBurstGrowsPoolAndDrains(t *testing.T) {
	reg := prometheus.NewRegistry()
	cfg := workerpool.DefaultConfig()
	cfg.Name = "burst"
	cfg.QueueCapacity = 512
	cfg.Workers = 1
	cfg.MaxWorkers = 6
	cfg.MaxTaskWait = 2 * time.Millisecond
	cfg.Logger = logging.Discard()
	cfg.Metrics = metrics.Config{Enabled: true, Registry: reg}
	pool, err := workerpool.NewWithConfig(cfg)
	testutil.AssertNoError(t, err)
	defer func() { <-pool.Shutdown() }()

	var mu sync.Mutex
	seen := make(map[int]int)
	var done atomic.Int32
	for i := 0; i < 300; i++ {
		i := i
		testutil.AssertNoError(t, pool.Submit(func(ctx context.Context) {
			time.Sleep(time.Millisecond)
			mu.Lock()
			seen[i]++
			mu.Unlock()
			done.Add(1)
		}))
	}

	testutil.Eventually(t, func() bool { return done.Load() == 300 }, testutil.TestTimeout, 5*time.Millisecond)
	testutil.AssertEqual(t, pool.Workers(), 6)

	mu.Lock()
	defer mu.Unlock()
	testutil.AssertEqual(t, len(seen), 300)
	for id, count := range seen {
		if count != 1 {
			t.Fatalf("task %d ran %d times", id, count)
		}
	}

	r := metrics.ForConfig(cfg.Metrics)
	if got := promtestutil.ToFloat64(r.WorkerPoolResizes.WithLabelValues("burst", "grow")); got != 6 {
		t.Errorf("grow resizes = %v, want 6 (1 initial + 5 adaptive)", got)
	}
}

// TestStopThenShutdownResolvesEverything ensures no future is left pending
// when the scheduler and pool are torn down with work outstanding.
func TestStopThenShutdownResolvesEverything(t *testing.T) {
	cfg := workerpool.DefaultConfig()
	cfg.QueueCapacity = 16
	cfg.Workers, cfg.MaxWorkers = 1, 1
	cfg.Logger = logging.Discard()
	pool, err := workerpool.NewWithConfig(cfg)
	testutil.AssertNoError(t, err)
	s, err := timer.NewWithConfig(timer.Config{Pool: pool, Logger: logging.Discard()})
	testutil.AssertNoError(t, err)

	started := make(chan struct{})
	testutil.AssertNoError(t, pool.Submit(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	}))
	<-started

	var futures []*future.Future[int]
	for i := 0; i < 4; i++ {
		f, err := workerpool.Launch(pool, func(ctx context.Context) (int, error) { return 1, nil })
		testutil.AssertNoError(t, err)
		futures = append(futures, f)
		f, err = timer.After(s, time.Hour, func(ctx context.Context) (int, error) { return 1, nil })
		testutil.AssertNoError(t, err)
		futures = append(futures, f)
	}
	testutil.AssertEqual(t, s.TotalWaiting(), 8)

	<-s.Stop()
	<-pool.Shutdown()

	for _, f := range futures {
		select {
		case <-f.Done():
		default:
			t.Fatal("future left unresolved after shutdown")
		}
		_, err := f.Get()
		testutil.AssertErrorIs(t, err, gferrors.ErrClosed)
	}
}
