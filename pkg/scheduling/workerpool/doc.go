/*
Package workerpool provides an adaptive worker pool that executes tasks from a
bounded queue and grows its set of workers when work starts to pile up.

Basic usage:

	pool, err := workerpool.New(1024, 4, 64) // queue capacity, workers, max workers
	if err != nil {
		log.Fatal(err)
	}
	defer func() { <-pool.Shutdown() }()

	f, err := workerpool.Launch(pool, func(ctx context.Context) (int, error) {
		return 6 * 7, nil
	})
	if err != nil {
		log.Printf("launch failed: %v", err)
	}
	v, err := f.Get()

Launch returns a future.Future; continuations attached with future.Then and
future.ThenDo are dispatched on the same pool. Submit is the fire-and-forget
variant.

Queueing and back-pressure:

The queue has a fixed capacity. A submission against a full queue is retried
with a growing backoff until Config.LaunchTimeout (one second by default)
expires, after which it fails with an error matching errors.ErrTimeout. After
Shutdown every submission fails with errors.ErrClosed.

Adaptive growth:

After every submission and every dequeue the pool checks whether at most
Config.ReserveThreshold workers are idle and one of the following holds:

  - no task has been dequeued for longer than MaxStallInterval
  - the moving average of the time between task events exceeds MaxTaskInterval
  - the moving average of the time tasks wait in the queue exceeds MaxTaskWait

If so it grows to the next even worker count above the current one, never past
MaxWorkers. The check only tries the resize lock and skips growth when another
resize is in progress. The pool never shrinks on its own; Resize and
SetMaxWorkers do that explicitly.

The averages are exponentially weighted with weight W (Config.AverageWeight,
7 by default):

	avg = (avg*W + sample) / (W+1)

Failures:

A panic in a task is recovered on the worker, logged, counted and handed to
Config.PanicHandler. Workers never exit because of a task. Tasks launched
through Launch carry errors and panics into their future instead.

Shutdown:

Shutdown cancels the context passed to running tasks, waits for all workers to
exit and aborts tasks still in the queue. Futures of aborted tasks resolve
with errors.ErrClosed.

	<-pool.Shutdown()

Metrics:

Pool implements metrics.Instrumentable. Once enabled it exports worker counts,
queue depth, moving averages, wait and execution histograms, launch timeouts
and resizes labelled with Config.Name.
*/
package workerpool
