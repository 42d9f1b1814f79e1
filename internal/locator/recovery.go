package locator

import "time"

// recoveryState bounds automatic re-find attempts after a tracked window
// disappears. Not self-locking: guarded by the locator's mutex.
type recoveryState struct {
	enabled     bool
	attempts    int
	maxAttempts int
	cooldown    time.Duration
	lastAttempt time.Time
}

// canAttempt reports whether another recovery attempt is allowed. Once the
// attempt budget is spent, further attempts wait out the cooldown since the
// last one.
func (r *recoveryState) canAttempt(now time.Time) bool {
	if !r.enabled || r.maxAttempts <= 0 {
		return false
	}
	if r.attempts < r.maxAttempts {
		return true
	}
	if now.Sub(r.lastAttempt) >= r.cooldown {
		r.attempts = 0
		return true
	}
	return false
}

func (r *recoveryState) recordAttempt(now time.Time) {
	r.attempts++
	r.lastAttempt = now
}

// succeed resets the budget after the window is re-found.
func (r *recoveryState) succeed(now time.Time) {
	r.attempts = 0
	r.lastAttempt = now
}

func (r *recoveryState) reset() {
	r.attempts = 0
	r.lastAttempt = time.Time{}
}
