/*
Package future provides result handles for tasks run by an Executor and
continuations that chain one task's result into the next.

	f, err := future.Submit(pool, func(ctx context.Context) (int, error) {
		return 6 * 7, nil
	})
	if err != nil {
		return err // the pool could not accept the task in time
	}

	g, _ := future.Then(f, func(ctx context.Context, n int) (string, error) {
		return strconv.Itoa(n), nil
	})

	s, err := g.Get() // "42"

A future is either pulled (Get) or chained (Then/ThenDo), never both, and
accepts a single continuation. Continuations are dispatched on the
antecedent's executor by whichever goroutine commits the antecedent's
result, so they never run inline on the caller of Then.

Failures short-circuit a chain: when a task returns an error or panics, every
downstream continuation is skipped and the chain's tail reports that error.
Panics surface as *PanicError.
*/
package future
