package account

import "github.com/ovaphlow/pitchfork/service-staff/internal/account/entity"

// Transition is the lockout state change produced by one event.
type Transition int

const (
	TransitionNone Transition = iota
	TransitionBlocked
	TransitionUnblocked
)

// LockoutTracker drives the Active/Blocked state machine embedded in an
// account. It only mutates the in-memory value; persisting it is the
// caller's job, under the row lock.
type LockoutTracker struct {
	MaxAttempts int
}

func NewLockoutTracker() LockoutTracker {
	return LockoutTracker{MaxAttempts: MaxLoginAttempts}
}

// RecordSuccess resets the counter of an active account.
func (l LockoutTracker) RecordSuccess(a *entity.Account) {
	a.LoginAttempts = 0
}

// RecordFailure increments the counter and blocks the account once it
// reaches the limit. Blocked accounts are never passed here.
func (l LockoutTracker) RecordFailure(a *entity.Account) Transition {
	a.LoginAttempts++
	if a.LoginAttempts < l.MaxAttempts {
		return TransitionNone
	}
	a.LoginAttempts = l.MaxAttempts
	a.IsActive = false
	return TransitionBlocked
}

// Unblock returns a blocked account to Active with a clean counter.
// Unblocking an active account still clears its counter.
func (l LockoutTracker) Unblock(a *entity.Account) Transition {
	wasBlocked := a.Blocked()
	a.IsActive = true
	a.LoginAttempts = 0
	if wasBlocked {
		return TransitionUnblocked
	}
	return TransitionNone
}
