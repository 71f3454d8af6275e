package authcore

import (
	"context"
	"errors"
)

// ChangePassword replaces an authenticated user's password after verifying
// the current one. Success bumps the token version and revokes every
// session; the caller must log in again on each device.
func (e *Engine) ChangePassword(ctx context.Context, campusID, userID, oldPassword, newPassword string) error {
	if err := requireInput(campusID, userID, oldPassword, newPassword); err != nil {
		return err
	}

	identity, err := e.identities.GetByID(ctx, campusID, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.metricInc(MetricPasswordChangeFailure)
			return ErrUserNotFound
		}
		return e.storeErr(err)
	}

	if lockErr := e.lockStatus(identity); lockErr != nil {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChange, false, identity.ID, campusID, "", lockErr, nil)
		return lockErr
	}
	if statusErr := accountStatusErr(identity.Status); statusErr != nil {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChange, false, identity.ID, campusID, "", statusErr, nil)
		return statusErr
	}

	ok, err := e.hasher.Verify(oldPassword, identity.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		// A wrong current password counts toward lockout like a failed login.
		e.recordFailure(ctx, identity)
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChange, false, identity.ID, campusID, "", ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	if err := e.installNewPassword(ctx, identity, newPassword); err != nil {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChange, false, identity.ID, campusID, "", err, nil)
		return err
	}

	e.clearFailureState(ctx, identity)

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChange, true, identity.ID, campusID, "", nil, nil)

	return nil
}
