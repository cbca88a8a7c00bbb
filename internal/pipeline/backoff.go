package pipeline

import "time"

// Backoff spaces retries exponentially: Base·2^(attempt−1), never above Cap.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

var DefaultBackoff = Backoff{Base: 5 * time.Second, Cap: 5 * time.Minute}

func (b Backoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 {
		b = DefaultBackoff
	}
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if b.Cap > 0 && d >= b.Cap {
			return b.Cap
		}
	}
	if b.Cap > 0 && d > b.Cap {
		return b.Cap
	}
	return d
}
