// Package lockout holds the failed-login lockout policy: how many
// consecutive failures trip a lock and how long the lock holds. The policy
// is pure arithmetic over the counters persisted on the credential record;
// locks release lazily when a later attempt observes an elapsed deadline,
// never via a background job.
package lockout

import "time"

// Policy decides when an identity locks and for how long.
type Policy struct {
	// Threshold is the number of consecutive failures that trips a lock.
	Threshold int
	// LockFor is how long a tripped lock holds.
	LockFor time.Duration
}

// DefaultPolicy returns the standard tuning: five consecutive failures lock
// the account for thirty minutes.
func DefaultPolicy() Policy {
	return Policy{Threshold: 5, LockFor: 30 * time.Minute}
}

// Status is the lock state of an identity at one point in time.
type Status struct {
	Locked    bool
	Remaining time.Duration
}

// Evaluate reports whether an identity with the given lock deadline is
// currently locked. A zero deadline means no lock was ever set; an elapsed
// deadline reads as unlocked without any write.
func (p Policy) Evaluate(lockedUntil time.Time, now time.Time) Status {
	if lockedUntil.IsZero() || !now.Before(lockedUntil) {
		return Status{}
	}
	return Status{Locked: true, Remaining: lockedUntil.Sub(now)}
}

// ShouldLock reports whether the failure count, after recording one more
// failure, trips the lock.
func (p Policy) ShouldLock(failedAttempts int) bool {
	return failedAttempts >= p.Threshold
}

// LockDeadline returns the deadline a lock tripped at now should carry.
func (p Policy) LockDeadline(now time.Time) time.Time {
	return now.Add(p.LockFor)
}
