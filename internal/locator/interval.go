package locator

import "time"

// adaptiveInterval self-tunes the delay between search cycles: a found
// window needs fewer checks, a missing one is hunted more eagerly.
// Not self-locking: guarded by the locator's mutex.
type adaptiveInterval struct {
	cur  time.Duration
	base time.Duration
	min  time.Duration
	max  time.Duration
}

func newAdaptiveInterval(base, minBound, maxBound time.Duration) *adaptiveInterval {
	a := &adaptiveInterval{base: base, min: minBound, max: maxBound}
	a.reset()
	return a
}

// observe widens the interval after a successful search and narrows it after
// a failed one, always staying within [min, max].
func (a *adaptiveInterval) observe(success bool) {
	if success {
		a.cur = time.Duration(float64(a.cur) * IntervalGrowth)
		if a.cur > a.max {
			a.cur = a.max
		}
	} else {
		a.cur = time.Duration(float64(a.cur) * IntervalDecay)
		if a.cur < a.min {
			a.cur = a.min
		}
	}
}

func (a *adaptiveInterval) current() time.Duration {
	return a.cur
}

// reset returns to the base interval, clamped to the bounds.
func (a *adaptiveInterval) reset() {
	a.cur = a.base
	if a.cur < a.min {
		a.cur = a.min
	}
	if a.cur > a.max {
		a.cur = a.max
	}
}
