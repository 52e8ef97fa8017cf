package connmgr

import (
	"math/rand"
	"time"
)

// Backoff computes the exponential, jittered reconnect delay described in
// §4.2: base 1s, factor 2, cap 60s, jittered by ±20%.
type Backoff struct {
	Base   time.Duration
	Factor float64
	Cap    time.Duration
	Jitter float64
}

// DefaultBackoff returns the §4.2 defaults.
func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Factor: 2, Cap: 60 * time.Second, Jitter: 0.2}
}

// Delay returns the delay before reconnect attempt number n (0-indexed:
// n=0 is the first retry after the initial failure).
func (b Backoff) Delay(n int) time.Duration {
	d := float64(b.Base)
	for i := 0; i < n; i++ {
		d *= b.Factor
		if time.Duration(d) >= b.Cap {
			d = float64(b.Cap)
			break
		}
	}
	if d > float64(b.Cap) {
		d = float64(b.Cap)
	}
	jitterRange := d * b.Jitter
	jittered := d - jitterRange + rand.Float64()*2*jitterRange
	if jittered < 0 {
		jittered = 0
	}
	return time.Duration(jittered)
}
