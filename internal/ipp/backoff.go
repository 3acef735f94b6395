package ipp

import (
	"context"
	"time"
)

// Backoff produces the Fibonacci-modulo-60 retry schedule used for
// connection attempts: 1, 1, 2, 3, 5, 8, 13, 21, 34, 55, 29, 24, 53, 17,
// 10, 27, ... seconds. The previous delay rides in the high byte so the
// sequence stays bounded below one minute. The zero value is ready to use;
// each connect site owns its own instance.
type Backoff struct {
	v uint32
}

// Next returns the next delay in the schedule
func (b *Backoff) Next() time.Duration {
	if b.v == 0 {
		b.v = 1
	}
	d := time.Duration(b.v&255) * time.Second
	b.v = (((b.v>>8)+(b.v&255)-1)%60 + 1) | (b.v&255)<<8
	return d
}

// Sleep waits out the next delay in the schedule. It returns early with
// the context error when ctx is cancelled.
func (b *Backoff) Sleep(ctx context.Context) error {
	return Sleep(ctx, b.Next())
}

// Sleep blocks for d or until ctx is cancelled, whichever comes first
func Sleep(ctx context.Context, d time.Duration) error {
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
