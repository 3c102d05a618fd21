package stream

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	DefaultPollFloor   = 60 * time.Millisecond
	DefaultPollCeiling = 240 * time.Millisecond
	DefaultPollFactor  = 0.28

	DefaultBackoffInitial    = 130 * time.Millisecond
	DefaultBackoffMultiplier = 1.25
	DefaultBackoffMax        = 1800 * time.Millisecond
)

// Pacing turns the server-suggested timeout into the delay before the next
// poll. The upstream suggestion is far more conservative than needed for a
// live feel, so only a fraction of it is honoured.
type Pacing struct {
	Floor   time.Duration
	Ceiling time.Duration
	Factor  float64
}

// DefaultPacing returns the stock poll pacing.
func DefaultPacing() Pacing {
	return Pacing{Floor: DefaultPollFloor, Ceiling: DefaultPollCeiling, Factor: DefaultPollFactor}
}

// NextDelay returns clamp(floor(timeoutMs*Factor), Floor, Ceiling), or Floor
// when the cycle emitted at least one event.
func (p Pacing) NextDelay(timeoutMs int, emitted bool) time.Duration {
	if emitted {
		return p.Floor
	}
	ms := int64(float64(timeoutMs) * p.Factor)
	d := time.Duration(ms) * time.Millisecond
	if d < p.Floor {
		return p.Floor
	}
	if d > p.Ceiling {
		return p.Ceiling
	}
	return d
}

// NewBackoff returns the growing wait used after failed polls: initial,
// then multiplied on each failure up to max, without jitter. Reset returns
// it to initial. Each engine owns one.
func NewBackoff(initial time.Duration, multiplier float64, max time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.RandomizationFactor = 0
	b.Multiplier = multiplier
	b.MaxInterval = max
	b.Reset()
	return b
}

// DefaultBackoff returns the stock failure backoff.
func DefaultBackoff() *backoff.ExponentialBackOff {
	return NewBackoff(DefaultBackoffInitial, DefaultBackoffMultiplier, DefaultBackoffMax)
}
