package breach

import (
	"context"
	"sync"
	"time"
)

// pacer enforces a minimum pause between the end of one outbound call and
// the start of the next.
type pacer struct {
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last time.Time
}

func newPacer(interval time.Duration) *pacer {
	return &pacer{interval: interval, now: time.Now}
}

// Wait blocks until the interval has passed since the last Done, or ctx is
// done.
func (p *pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	last := p.last
	p.mu.Unlock()

	if !last.IsZero() {
		if d := last.Add(p.interval).Sub(p.now()); d > 0 {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
			}
		}
	}
	return ctx.Err()
}

// Done marks the end of a call.
func (p *pacer) Done() {
	p.mu.Lock()
	p.last = p.now()
	p.mu.Unlock()
}
