package authcore

import (
	"context"
	"errors"
	"strings"

	"github.com/campusid/authcore/otpcode"
)

// RequestLoginOTP delivers a one-time login code to the identity behind the
// email or phone identifier. The response does not reveal whether the
// identifier is enrolled: unknown, ineligible, and locked identities all
// produce the same nil return. Rate limiting is the one observable
// difference, and it only fires for identities that exist.
func (e *Engine) RequestLoginOTP(ctx context.Context, campusID, identifier string) error {
	if err := requireInput(campusID, identifier); err != nil {
		return err
	}

	identity, err := e.codeEligible(ctx, campusID, identifier)
	if err != nil {
		return err
	}
	if identity == nil {
		e.emitAudit(ctx, auditEventOTPRequest, false, "", campusID, "", ErrUserNotFound, nil)
		return nil
	}

	if err := e.sendCode(ctx, e.loginCodes, PurposeLoginOTP, identity); err != nil {
		if errors.Is(err, ErrRateLimited) {
			e.metricInc(MetricOTPRateLimited)
		}
		e.emitAudit(ctx, auditEventOTPRequest, false, identity.ID, campusID, "", err, nil)
		return err
	}

	e.emitAudit(ctx, auditEventOTPRequest, true, identity.ID, campusID, "", nil, nil)

	return nil
}

// ConfirmLoginOTP completes an OTP login. A correct code consumes the
// pending record and establishes a session exactly like a password login; a
// wrong code burns one of the record's attempts.
func (e *Engine) ConfirmLoginOTP(ctx context.Context, campusID, identifier, code string) (*LoginResult, error) {
	return e.confirmCodeLogin(ctx, campusID, identifier, code, e.loginCodes,
		auditEventOTPConfirm, MetricOTPSuccess, MetricOTPFailure)
}

// VerifyMFA completes a password login that answered with MFARequired. The
// step-up code was delivered by [Engine.Login]; a correct code establishes
// the session.
func (e *Engine) VerifyMFA(ctx context.Context, campusID, email, code string) (*LoginResult, error) {
	return e.confirmCodeLogin(ctx, campusID, email, code, e.mfaCodes,
		auditEventMFAVerify, MetricMFASuccess, MetricMFAFailure)
}

func (e *Engine) confirmCodeLogin(ctx context.Context, campusID, identifier, code string, codes *otpcode.Store, eventType string, successMetric, failureMetric MetricID) (*LoginResult, error) {
	if err := requireInput(campusID, identifier, code); err != nil {
		return nil, err
	}

	identity, err := e.lookupIdentifier(ctx, campusID, identifier)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.metricInc(failureMetric)
			e.emitAudit(ctx, eventType, false, "", campusID, "", ErrCodeInvalid, nil)
			return nil, ErrCodeInvalid
		}
		return nil, e.storeErr(err)
	}

	if lockErr := e.lockStatus(identity); lockErr != nil {
		e.metricInc(failureMetric)
		e.emitAudit(ctx, eventType, false, identity.ID, campusID, "", lockErr, nil)
		return nil, lockErr
	}
	if statusErr := accountStatusErr(identity.Status); statusErr != nil {
		e.metricInc(failureMetric)
		e.emitAudit(ctx, eventType, false, identity.ID, campusID, "", statusErr, nil)
		return nil, statusErr
	}

	matched, _, err := codes.Verify(ctx, identity.CampusID, identity.ID, code)
	if err != nil {
		return nil, e.storeErr(err)
	}
	if !matched {
		e.metricInc(failureMetric)
		e.emitAudit(ctx, eventType, false, identity.ID, campusID, "", ErrCodeInvalid, nil)
		return nil, ErrCodeInvalid
	}

	e.clearFailureState(ctx, identity)

	result, sid, err := e.establishSession(ctx, identity)
	if err != nil {
		e.emitAudit(ctx, eventType, false, identity.ID, campusID, "", err, nil)
		return nil, err
	}

	e.metricInc(successMetric)
	e.emitAudit(ctx, eventType, true, identity.ID, campusID, sid, nil, nil)

	return result, nil
}

// lookupIdentifier resolves an email or phone identifier. Anything carrying
// an "@" is treated as an email address, everything else as a phone number.
func (e *Engine) lookupIdentifier(ctx context.Context, campusID, identifier string) (*Identity, error) {
	if strings.Contains(identifier, "@") {
		return e.identities.GetByEmail(ctx, campusID, identifier)
	}
	return e.identities.GetByPhone(ctx, campusID, identifier)
}

// codeEligible is the single place that normalizes code-request lookups for
// anti-enumeration. It returns (nil, nil) when the request must be silently
// accepted without issuing anything: unknown identifier or non-active
// account. Locked identities still receive codes; a lock blocks login, not
// recovery. Storage failures still surface, they reveal nothing about the
// identifier.
func (e *Engine) codeEligible(ctx context.Context, campusID, identifier string) (*Identity, error) {
	identity, err := e.lookupIdentifier(ctx, campusID, identifier)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, nil
		}
		return nil, e.storeErr(err)
	}

	if accountStatusErr(identity.Status) != nil {
		return nil, nil
	}

	return identity, nil
}
