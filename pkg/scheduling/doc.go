/*
Package scheduling groups the executor primitives of taskpool.

  - queue: bounded FIFO with non-blocking push and pop
  - workerpool: adaptive worker pool that grows under sustained load
  - timer: deadline-ordered scheduler that promotes due tasks into a pool
  - future: single-assignment results with continuation chains

Worker Pool:

	pool, err := workerpool.New(1024, 4, 64) // queue capacity, workers, max workers
	if err != nil {
		return err
	}
	defer func() { <-pool.Shutdown() }()

	f, err := workerpool.Launch(pool, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	v, err := f.Get()

Continuations:

	g, _ := future.Then(f, func(ctx context.Context, v int) (string, error) {
		return strconv.Itoa(v), nil
	})

Timers:

	s, _ := timer.New(pool)
	defer func() { <-s.Stop() }()

	timer.After(s, time.Second, func(ctx context.Context) (int, error) {
		return 1, nil
	})
	s.ScheduleCron(ctx, "0 0 9 * * MON-FRI", report)
	s.ScheduleEvery(ctx, 30*time.Second, flush)

All components are safe for concurrent use. Failures reach the caller as
errors, either from the submitting call or through the future.
*/
package scheduling
