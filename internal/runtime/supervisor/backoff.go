package supervisor

import (
	"math/rand/v2"
	"time"
)

// Backoff is a jittered exponential backoff window.
//
// Next returns the current wait (plus up to 20% jitter) and doubles the base up to Max.
// Reset brings the base back to Min. The zero value waits zero.
type Backoff struct {
	Min time.Duration
	Max time.Duration

	cur time.Duration
}

func NewBackoff(min, max time.Duration) *Backoff {
	if max < min {
		max = min
	}
	return &Backoff{Min: min, Max: max}
}

func (b *Backoff) Next() time.Duration {
	if b.Min <= 0 {
		return 0
	}
	if b.cur < b.Min {
		b.cur = b.Min
	}
	wait := min(b.cur, b.Max)
	if j := int64(wait) / 5; j > 0 {
		wait += time.Duration(rand.Int64N(j + 1))
	}
	b.cur = min(b.cur*2, b.Max)
	return wait
}

func (b *Backoff) Reset() { b.cur = b.Min }
