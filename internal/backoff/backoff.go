// Package backoff computes reconnect delays as a pure function of the
// attempt number, so scheduling policy stays testable apart from timers.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines the exponential backoff parameters.
type Policy struct {
	Base      time.Duration // delay before growth kicks in
	Cap       time.Duration // upper bound for any single delay
	Factor    float64       // growth per attempt
	JitterMax time.Duration // uniform random addition in [0, JitterMax)
}

// Default matches the gateway client's reconnection profile:
// 2s base, 1.5x growth, 30s cap, up to 1s of jitter.
func Default() Policy {
	return Policy{
		Base:      2 * time.Second,
		Cap:       30 * time.Second,
		Factor:    1.5,
		JitterMax: time.Second,
	}
}

// Delay returns the wait before reconnect attempt n (first attempt is 0).
// Jitter desynchronizes clients that all dropped at the same instant.
func (p Policy) Delay(attempt int) time.Duration {
	return p.DelayWithRand(attempt, rand.Float64())
}

// DelayWithRand computes the delay using a provided random value in [0, 1),
// so tests get deterministic results.
func (p Policy) DelayWithRand(attempt int, randomValue float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := float64(p.Base) * math.Pow(p.Factor, float64(attempt))
	jitter := randomValue * float64(p.JitterMax)
	total := base + jitter
	if limit := float64(p.Cap); p.Cap > 0 && total > limit {
		total = limit
	}
	return time.Duration(total)
}
