package authcore

import (
	"context"
	"errors"
	"time"
)

// LockAccount places an administrative lock on the account. A non-positive
// duration uses the configured lockout duration. The lock also cuts off
// everything already issued: sessions are revoked and the token version is
// bumped. Attach the administrator via [WithActorID] so the audit trail
// records who acted.
func (e *Engine) LockAccount(ctx context.Context, campusID, userID string, lockFor time.Duration) error {
	if lockFor <= 0 {
		lockFor = e.lockout.LockFor
	}
	until := time.Now().Add(lockFor)

	if err := e.identities.SetLock(ctx, campusID, userID, until); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return e.storeErr(err)
	}

	if _, err := e.sessions.RevokeAll(ctx, campusID, userID); err != nil {
		return e.storeErr(err)
	}
	if _, err := e.identities.BumpTokenVersion(ctx, campusID, userID); err != nil {
		return e.storeErr(err)
	}

	e.metricInc(MetricAccountLocked)
	e.emitAudit(ctx, auditEventAccountLock, true, userID, campusID, "", nil, func(m map[string]string) {
		m["reason"] = "administrative"
		m["until"] = until.UTC().Format(time.RFC3339)
	})

	return nil
}

// UnlockAccount clears the lock and the failure counter.
func (e *Engine) UnlockAccount(ctx context.Context, campusID, userID string) error {
	if err := e.identities.ResetFailureState(ctx, campusID, userID); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return e.storeErr(err)
	}

	e.metricInc(MetricAccountUnlocked)
	e.emitAudit(ctx, auditEventAccountUnlock, true, userID, campusID, "", nil, nil)

	return nil
}

// SetAccountStatus transitions the account's lifecycle state. Moving away
// from active revokes all sessions and bumps the token version.
func (e *Engine) SetAccountStatus(ctx context.Context, campusID, userID string, status AccountStatus) error {
	if err := e.identities.SetStatus(ctx, campusID, userID, status); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return e.storeErr(err)
	}

	if status != AccountActive {
		if _, err := e.sessions.RevokeAll(ctx, campusID, userID); err != nil {
			return e.storeErr(err)
		}
		if _, err := e.identities.BumpTokenVersion(ctx, campusID, userID); err != nil {
			return e.storeErr(err)
		}
	}

	e.emitAudit(ctx, auditEventAccountSetStatus, true, userID, campusID, "", nil, func(m map[string]string) {
		m["status"] = statusLabel(status)
	})

	return nil
}

func statusLabel(status AccountStatus) string {
	switch status {
	case AccountActive:
		return "active"
	case AccountPendingVerification:
		return "pending_verification"
	case AccountDisabled:
		return "disabled"
	default:
		return "deleted"
	}
}
