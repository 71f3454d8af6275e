package authcore

import (
	"context"
	"time"
)

// Audit event names. One constant per sensitive operation; the Success flag
// on the event distinguishes outcomes.
const (
	auditEventLogin            = "login"
	auditEventMFAChallenge     = "login.mfa.challenge"
	auditEventMFAVerify        = "login.mfa.verify"
	auditEventOTPRequest       = "login.otp.request"
	auditEventOTPConfirm       = "login.otp.confirm"
	auditEventRefresh          = "token.refresh"
	auditEventTokenRevoke      = "token.revoke"
	auditEventLogout           = "logout"
	auditEventLogoutAll        = "logout.all"
	auditEventSessionRevoke    = "session.revoke"
	auditEventPasswordChange   = "password.change"
	auditEventResetRequest     = "password.reset.request"
	auditEventResetConfirm     = "password.reset.confirm"
	auditEventAccountLock      = "account.lock"
	auditEventAccountUnlock    = "account.unlock"
	auditEventAccountSetStatus = "account.set_status"
)

type metadataBuilder func(map[string]string)

// emitAudit builds and queues one audit event. The error is recorded as its
// stable code, never its message, so sink output stays free of internals.
func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, userID, campusID, sessionID string, err error, meta metadataBuilder) {
	if e.audit == nil {
		return
	}

	event := AuditEvent{
		Timestamp: time.Now(),
		EventType: eventType,
		ActorID:   actorID(ctx),
		UserID:    userID,
		CampusID:  campusID,
		SessionID: sessionID,
		IP:        clientIP(ctx),
		Success:   success,
	}
	if err != nil {
		event.Error = Code(err)
	}
	if meta != nil {
		m := make(map[string]string)
		meta(m)
		if len(m) > 0 {
			event.Metadata = m
		}
	}

	e.audit.Emit(event)
}
