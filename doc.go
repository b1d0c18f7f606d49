/*
Package taskpool provides an adaptive worker pool for Go applications, with
deadline timers and chainable futures built on top of it.

Task Scheduling (pkg/scheduling):
  - queue: Fixed-capacity FIFO used as the pool's task queue
  - workerpool: Worker pool that grows under sustained queue pressure
  - future: Single-assignment results with continuations
  - timer: Deadline and cron scheduling onto a worker pool

Supporting packages:
  - pkg/metrics: Prometheus instrumentation
  - pkg/logging: logrus configuration from the environment
  - pkg/stats/redisexport: Publish pool snapshots to Redis

Example usage:

	import (
		"github.com/vnykmshr/taskpool/pkg/scheduling/future"
		"github.com/vnykmshr/taskpool/pkg/scheduling/timer"
		"github.com/vnykmshr/taskpool/pkg/scheduling/workerpool"
	)

	pool, _ := workerpool.New(1024, 4, 64) // queue 1024, 4 workers, at most 64
	defer func() { <-pool.Shutdown() }()

	f, _ := workerpool.Launch(pool, fetch)
	g, _ := future.Then(f, parse)
	result, err := g.Get()

	s, _ := timer.New(pool)
	defer func() { <-s.Stop() }()
	reminder, _ := timer.After(s, time.Minute, remind)
*/
package taskpool
