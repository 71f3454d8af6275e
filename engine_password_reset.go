package authcore

import (
	"context"
	"errors"
)

// RequestPasswordReset delivers a reset confirmation code to the identity
// behind the email or phone identifier. Like [Engine.RequestLoginOTP], the
// response does not reveal whether the identifier is enrolled. Locked
// accounts may request a reset; completing one is the recovery path out of
// a lock.
func (e *Engine) RequestPasswordReset(ctx context.Context, campusID, identifier string) error {
	if err := requireInput(campusID, identifier); err != nil {
		return err
	}

	identity, err := e.codeEligible(ctx, campusID, identifier)
	if err != nil {
		return err
	}
	if identity == nil {
		e.emitAudit(ctx, auditEventResetRequest, false, "", campusID, "", ErrUserNotFound, nil)
		return nil
	}

	if err := e.sendCode(ctx, e.resetCodes, PurposeReset, identity); err != nil {
		if errors.Is(err, ErrRateLimited) {
			e.metricInc(MetricOTPRateLimited)
		}
		e.emitAudit(ctx, auditEventResetRequest, false, identity.ID, campusID, "", err, nil)
		return err
	}

	e.metricInc(MetricPasswordResetRequest)
	e.emitAudit(ctx, auditEventResetRequest, true, identity.ID, campusID, "", nil, nil)

	return nil
}

// ConfirmPasswordReset consumes a reset code and installs the new password.
// Success bumps the token version and revokes every session, so a stolen
// refresh token dies with the old password. It also clears any lockout
// state: proving control of the delivery channel ends the lock.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, campusID, identifier, code, newPassword string) error {
	if err := requireInput(campusID, identifier, code, newPassword); err != nil {
		return err
	}

	identity, err := e.lookupIdentifier(ctx, campusID, identifier)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.metricInc(MetricPasswordResetConfirmFailure)
			e.emitAudit(ctx, auditEventResetConfirm, false, "", campusID, "", ErrCodeInvalid, nil)
			return ErrCodeInvalid
		}
		return e.storeErr(err)
	}
	if statusErr := accountStatusErr(identity.Status); statusErr != nil {
		e.metricInc(MetricPasswordResetConfirmFailure)
		e.emitAudit(ctx, auditEventResetConfirm, false, identity.ID, campusID, "", statusErr, nil)
		return statusErr
	}

	matched, _, err := e.resetCodes.Verify(ctx, identity.CampusID, identity.ID, code)
	if err != nil {
		return e.storeErr(err)
	}
	if !matched {
		e.metricInc(MetricPasswordResetConfirmFailure)
		e.emitAudit(ctx, auditEventResetConfirm, false, identity.ID, campusID, "", ErrCodeInvalid, nil)
		return ErrCodeInvalid
	}

	if err := e.installNewPassword(ctx, identity, newPassword); err != nil {
		e.metricInc(MetricPasswordResetConfirmFailure)
		e.emitAudit(ctx, auditEventResetConfirm, false, identity.ID, campusID, "", err, nil)
		return err
	}

	e.clearFailureState(ctx, identity)

	e.metricInc(MetricPasswordResetConfirmSuccess)
	e.emitAudit(ctx, auditEventResetConfirm, true, identity.ID, campusID, "", nil, nil)

	return nil
}

// installNewPassword enforces the reuse rule, writes the new hash, and cuts
// off everything issued under the old credential.
func (e *Engine) installNewPassword(ctx context.Context, identity *Identity, newPassword string) error {
	reused, err := e.hasher.Verify(newPassword, identity.PasswordHash)
	if err == nil && reused {
		return ErrPasswordReuse
	}

	newHash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return ErrPasswordPolicy
	}

	if err := e.identities.UpdatePasswordHash(ctx, identity.CampusID, identity.ID, newHash); err != nil {
		return e.storeErr(err)
	}
	if _, err := e.identities.BumpTokenVersion(ctx, identity.CampusID, identity.ID); err != nil {
		return e.storeErr(err)
	}
	if _, err := e.sessions.RevokeAll(ctx, identity.CampusID, identity.ID); err != nil {
		return e.storeErr(err)
	}

	return nil
}
