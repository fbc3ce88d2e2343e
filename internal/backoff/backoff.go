// Package backoff computes retry delays for failing poll cycles and
// processing attempts. The policy is pure: the caller owns the failure
// counter and the sleep.
package backoff

import "time"

// Policy describes capped exponential backoff.
type Policy struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
}

// Default matches the steady defaults used across integrations and the brain.
func Default() Policy {
	return Policy{
		Initial:    5 * time.Second,
		Multiplier: 2.0,
		Max:        60 * time.Second,
	}
}

// Delay returns the wait before the next attempt after the given number of
// consecutive failures. failures==0 means "first retry" and yields Initial.
// The result never exceeds Max.
func (p Policy) Delay(failures int) time.Duration {
	if failures < 0 {
		failures = 0
	}
	d := float64(p.Initial)
	for i := 0; i < failures; i++ {
		d *= p.Multiplier
		if time.Duration(d) >= p.Max {
			return p.Max
		}
	}
	if time.Duration(d) > p.Max {
		return p.Max
	}
	return time.Duration(d)
}
