package calculator

import (
	"math"
	"time"
)

// Default tuning for the adaptive interval.
const (
	DefaultGrowthFactor  = 1.5
	DefaultComfortFactor = 3.0
	DefaultSafetyFactor  = 0.7
)

// IntervalPolicy computes the delay until the next poll.
type IntervalPolicy struct {
	Dynamic        bool
	Fixed          time.Duration
	Fast           time.Duration
	Max            time.Duration
	InitialDynamic time.Duration
	ThresholdGB    float64

	// GrowthFactor multiplies the current interval while consumption is slow.
	GrowthFactor float64
	// ComfortFactor is how many grown intervals must fit before the threshold
	// is reached for the interval to keep growing.
	ComfortFactor float64
	// SafetyFactor scales the time-to-threshold when the margin is tight.
	SafetyFactor float64
}

// Initial returns the seed interval for a fresh loop.
func (p IntervalPolicy) Initial() time.Duration {
	if !p.Dynamic {
		return p.Fixed
	}
	return p.clamp(p.InitialDynamic)
}

// Next returns the delay before the next poll given the current consumption
// rate in GB/s, the remaining volume and the interval used last.
func (p IntervalPolicy) Next(rate, remainingGB float64, current time.Duration) time.Duration {
	if !p.Dynamic {
		return p.Fixed
	}
	if remainingGB <= p.ThresholdGB {
		return p.Fast
	}

	current = p.clamp(current)
	grown := p.grow(current)
	if rate <= 0 {
		return grown
	}

	margin := remainingGB - p.ThresholdGB
	// Within one fast interval of crossing at the current pace.
	if margin <= rate*p.Fast.Seconds() {
		return p.Fast
	}

	ttt := seconds(margin / rate)
	if ttt < current {
		return p.Fast
	}
	if float64(ttt) >= p.comfort()*float64(grown) {
		return grown
	}

	next := time.Duration(float64(ttt) * p.safety())
	if next > current {
		next = current
	}
	return p.clamp(next)
}

func (p IntervalPolicy) grow(current time.Duration) time.Duration {
	factor := p.GrowthFactor
	if factor < 1 {
		factor = DefaultGrowthFactor
	}
	next := time.Duration(float64(current) * factor)
	if next > p.Max {
		next = p.Max
	}
	return p.clamp(next)
}

func (p IntervalPolicy) comfort() float64 {
	if p.ComfortFactor <= 0 {
		return DefaultComfortFactor
	}
	return p.ComfortFactor
}

func (p IntervalPolicy) safety() float64 {
	if p.SafetyFactor <= 0 || p.SafetyFactor > 1 {
		return DefaultSafetyFactor
	}
	return p.SafetyFactor
}

func (p IntervalPolicy) clamp(d time.Duration) time.Duration {
	if d < p.Fast {
		return p.Fast
	}
	if d > p.Max {
		return p.Max
	}
	return d
}

// seconds converts fractional seconds to a Duration, saturating on overflow.
func seconds(s float64) time.Duration {
	if s >= math.MaxInt64/float64(time.Second) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(s * float64(time.Second))
}
