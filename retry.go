package quorumlock

import (
	"context"
	"math/rand/v2"
	"time"
)

const (
	DefaultRetryCount = 3
	DefaultRetryDelay = 200 * time.Millisecond
)

// RetryPolicy bounds how many rounds Acquire runs and how long it waits
// between them. The wait before each round after the first is drawn
// uniformly from [Delay/2, Delay] so that competing clients drift apart.
type RetryPolicy struct {
	Count int
	Delay time.Duration
}

func (p RetryPolicy) Attempts() int {
	if p.Count < 1 {
		return 1
	}
	return p.Count
}

func (p RetryPolicy) NextDelay() time.Duration {
	if p.Delay <= 0 {
		return 0
	}
	low := p.Delay / 2
	return low + time.Duration(rand.Int64N(int64(p.Delay-low)+1))
}

// Wait blocks for one jittered delay. It returns early with ctx.Err() when
// ctx is done.
func (p RetryPolicy) Wait(ctx context.Context) error {
	d := p.NextDelay()
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
