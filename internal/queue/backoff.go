package queue

import "time"

// Backoff computes the delay before a job's next attempt using
// exponential backoff: base * 2^(attempt-1). attempt is 1-indexed (the
// attempt that just failed), so the first retry waits exactly base.
type Backoff struct {
	Base time.Duration
}

// Delay returns the wait before retrying after the given failed
// attempt number.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}
