package repositories

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// newWatchBackOff is the retry schedule for broken live queries. It never gives up.
func newWatchBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// resubscribe runs watch until ctx is done or watch returns nil. Every error
// watch returns goes to fail, and watch is started again after the next
// backoff interval. watch calls healthy once it has delivered data, which
// resets the schedule.
func resubscribe(ctx context.Context, b backoff.BackOff, watch func(ctx context.Context, healthy func()) error, fail func(error)) {
	for {
		err := watch(ctx, b.Reset)
		if err == nil || ctx.Err() != nil {
			return
		}
		fail(err)

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
