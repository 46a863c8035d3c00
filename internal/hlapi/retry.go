package hlapi

import "time"

// RetryPolicy is the backoff schedule for roster fetches. It is a plain
// value passed into the client so the schedule can be tested without
// touching the network.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  4,
		InitialDelay: 1 * time.Second,
		MaxDelay:     5 * time.Minute,
	}
}

// Delay returns the backoff before retry number `retry` (1-based: the
// delay after the first failure is Delay(1) == InitialDelay, doubling
// each retry, capped at MaxDelay).
func (p RetryPolicy) Delay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	d := p.InitialDelay
	for i := 1; i < retry; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
