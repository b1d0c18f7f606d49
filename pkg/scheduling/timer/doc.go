/*
Package timer schedules tasks onto a workerpool.Pool at a future deadline.

A Scheduler keeps pending timers in a min-heap ordered by deadline (ties keep
insertion order) and runs one goroutine that sleeps until the earliest
deadline. When it wakes it promotes every timer that has come due into the
pool, in deadline order.

	pool, _ := workerpool.New(1024, 4, 32)
	s, _ := timer.New(pool)
	defer func() {
		<-s.Stop()
		<-pool.Shutdown()
	}()

	f, err := timer.After(s, 50*time.Millisecond, func(ctx context.Context) (string, error) {
		return "fired", nil
	})
	if err != nil {
		return err
	}
	msg, err := f.Get()

Deadlines in the past dispatch immediately. A timer never runs before its
deadline; how late it runs depends on how busy the pool is.

Recurring timers:

ScheduleCron accepts six-field cron expressions (with a leading seconds field)
and descriptors such as "@daily". ScheduleEvery fires at a fixed interval.
Both keep firing until the given context is done or the scheduler stops.

	id, err := s.ScheduleCron(ctx, "0 0/5 * * * *", func(ctx context.Context) {
		refreshCache(ctx)
	})

One-shot timers cannot be canceled once scheduled. Stop aborts those still
pending, so their futures resolve with errors.ErrClosed.
*/
package timer
