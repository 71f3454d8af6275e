package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/campusid/authcore/denylist"
	"github.com/campusid/authcore/internal/lockout"
	"github.com/campusid/authcore/otpcode"
	"github.com/campusid/authcore/password"
	"github.com/campusid/authcore/session"
	"github.com/campusid/authcore/token"
)

// Engine is the authentication orchestrator. It owns no storage of its own;
// credentials live behind [IdentityStore] and hot state lives in Redis.
// Construct it through [Builder]; the zero value is not usable.
type Engine struct {
	config     Config
	identities IdentityStore
	sender     CodeSender
	tokens     *token.Manager
	sessions   *session.Store
	denylist   *denylist.Store
	loginCodes *otpcode.Store
	mfaCodes   *otpcode.Store
	resetCodes *otpcode.Store
	hasher     *password.Hasher
	lockout    lockout.Policy
	metrics    *Metrics
	audit      *auditDispatcher
}

// Close drains and stops the audit dispatcher. The engine must not be used
// after Close.
func (e *Engine) Close() {
	e.audit.Close()
}

// AuditDropped reports how many audit events were discarded under queue
// pressure since the engine was built.
func (e *Engine) AuditDropped() uint64 {
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of all engine metrics.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	return e.metrics.SnapshotNow()
}

// Ping checks Redis availability and reports the round-trip latency.
func (e *Engine) Ping(ctx context.Context) (time.Duration, error) {
	return e.sessions.Ping(ctx)
}

func (e *Engine) metricInc(id MetricID) {
	e.metrics.Inc(id)
}

// Login authenticates a password credential. On success it establishes a
// device session and returns an access/refresh token pair; when the identity
// has MFA enabled it instead delivers a step-up code and returns a result
// with MFARequired set, to be completed by [Engine.VerifyMFA].
func (e *Engine) Login(ctx context.Context, campusID, email, pass string) (*LoginResult, error) {
	if err := requireInput(campusID, email, pass); err != nil {
		return nil, err
	}

	identity, err := e.identities.GetByEmail(ctx, campusID, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditEventLogin, false, "", campusID, "", ErrInvalidCredentials, nil)
			return nil, ErrInvalidCredentials
		}
		return nil, e.storeErr(err)
	}

	if lockErr := e.lockStatus(identity); lockErr != nil {
		e.metricInc(MetricLoginLocked)
		e.emitAudit(ctx, auditEventLogin, false, identity.ID, campusID, "", lockErr, nil)
		return nil, lockErr
	}
	if statusErr := accountStatusErr(identity.Status); statusErr != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLogin, false, identity.ID, campusID, "", statusErr, nil)
		return nil, statusErr
	}

	ok, err := e.hasher.Verify(pass, identity.PasswordHash)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLogin, false, identity.ID, campusID, "", err, nil)
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		e.recordFailure(ctx, identity)
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLogin, false, identity.ID, campusID, "", ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}

	e.clearFailureState(ctx, identity)
	e.maybeRehash(ctx, identity, pass)

	if identity.MFAEnabled {
		if err := e.sendCode(ctx, e.mfaCodes, PurposeMFA, identity); err != nil {
			if errors.Is(err, ErrRateLimited) {
				e.metricInc(MetricLoginRateLimited)
			}
			e.emitAudit(ctx, auditEventMFAChallenge, false, identity.ID, campusID, "", err, nil)
			return nil, err
		}
		e.metricInc(MetricMFARequired)
		e.emitAudit(ctx, auditEventMFAChallenge, true, identity.ID, campusID, "", nil, nil)
		return &LoginResult{MFARequired: true}, nil
	}

	result, sid, err := e.establishSession(ctx, identity)
	if err != nil {
		e.emitAudit(ctx, auditEventLogin, false, identity.ID, campusID, "", err, nil)
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLogin, true, identity.ID, campusID, sid, nil, nil)

	return result, nil
}

// Refresh exchanges a live refresh token for a fresh access/refresh pair.
// The token must verify, carry the identity's current token version, and
// reference a session that still exists; any password change, logout-all, or
// session revocation since issuance makes it fail.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	claims, err := e.tokens.Verify(refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, mapTokenErr(err)
	}
	if claims.TokenKind != token.KindRefresh {
		e.metricInc(MetricRefreshFailure)
		return nil, ErrTokenInvalid
	}

	revoked, dErr := e.denylist.IsRevoked(ctx, denylist.EntryID(claims.ID, refreshToken))
	if dErr != nil {
		e.metricInc(MetricDenylistFailOpen)
	} else if revoked {
		e.metricInc(MetricDenylistHit)
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefresh, false, claims.Subject, claims.CampusID, claims.SessionID, ErrTokenRevoked, nil)
		return nil, ErrTokenRevoked
	}

	identity, err := e.identities.GetByID(ctx, claims.CampusID, claims.Subject)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, e.storeErr(err)
	}

	if claims.TokenVersion != identity.TokenVersion {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefresh, false, identity.ID, identity.CampusID, claims.SessionID, ErrTokenVersionStale, nil)
		return nil, ErrTokenVersionStale
	}
	if lockErr := e.lockStatus(identity); lockErr != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefresh, false, identity.ID, identity.CampusID, claims.SessionID, lockErr, nil)
		return nil, lockErr
	}
	if statusErr := accountStatusErr(identity.Status); statusErr != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefresh, false, identity.ID, identity.CampusID, claims.SessionID, statusErr, nil)
		return nil, statusErr
	}

	if _, err := e.sessions.Get(ctx, claims.CampusID, claims.SessionID); err != nil {
		e.metricInc(MetricRefreshFailure)
		if errors.Is(err, redis.Nil) {
			e.emitAudit(ctx, auditEventRefresh, false, identity.ID, identity.CampusID, claims.SessionID, ErrSessionNotFound, nil)
			return nil, ErrSessionNotFound
		}
		return nil, e.storeErr(err)
	}
	// Best effort: a failed renewal here does not fail the refresh.
	_ = e.sessions.Touch(ctx, claims.CampusID, claims.SessionID)

	ti := tokenIdentity(identity)
	access, err := e.tokens.IssueAccess(ti, claims.SessionID)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, err
	}
	refresh, err := e.tokens.IssueRefresh(ti, claims.SessionID)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefresh, true, identity.ID, identity.CampusID, claims.SessionID, nil, nil)

	return &LoginResult{AccessToken: access, RefreshToken: refresh}, nil
}

// Validate authenticates an access token on the request hot path. It checks
// signature, expiry, kind, and the revocation denylist; it deliberately does
// not read the identity record or the session, keeping the common case to
// one Redis lookup.
//
// An unreachable denylist fails open: a valid token is accepted and the
// outage is counted. Revocation writes, by contrast, always fail closed.
func (e *Engine) Validate(ctx context.Context, accessToken string) (*AuthResult, error) {
	start := time.Now()
	defer func() {
		e.metrics.Observe(MetricValidateLatency, time.Since(start))
	}()

	claims, err := e.tokens.Verify(accessToken)
	if err != nil {
		return nil, mapTokenErr(err)
	}
	if claims.TokenKind != token.KindAccess {
		return nil, ErrTokenInvalid
	}

	revoked, dErr := e.denylist.IsRevoked(ctx, denylist.EntryID(claims.ID, accessToken))
	if dErr != nil {
		e.metricInc(MetricDenylistFailOpen)
	} else if revoked {
		e.metricInc(MetricDenylistHit)
		return nil, ErrTokenRevoked
	}

	return &AuthResult{
		UserID:    claims.Subject,
		CampusID:  claims.CampusID,
		Role:      claims.Role,
		SessionID: claims.SessionID,
	}, nil
}

// ValidateForCampus is [Engine.Validate] with a campus scope check. Gateways
// routing per campus use it so a token minted in one campus cannot act
// against another.
func (e *Engine) ValidateForCampus(ctx context.Context, campusID, accessToken string) (*AuthResult, error) {
	result, err := e.Validate(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if result.CampusID != campusID {
		return nil, ErrCampusMismatch
	}
	return result, nil
}

// Logout ends the session bound to the access token and denylists the token
// for its remaining lifetime. The token must still verify; an expired token
// has nothing left to revoke.
func (e *Engine) Logout(ctx context.Context, accessToken string) error {
	claims, err := e.tokens.Verify(accessToken)
	if err != nil {
		return mapTokenErr(err)
	}
	if claims.TokenKind != token.KindAccess {
		return ErrTokenInvalid
	}

	if claims.SessionID != "" {
		removed, err := e.sessions.Revoke(ctx, claims.CampusID, claims.SessionID)
		if err != nil {
			return e.storeErr(err)
		}
		if removed {
			e.metricInc(MetricSessionRevoked)
		}
	}

	if err := e.denylist.Revoke(ctx, denylist.EntryID(claims.ID, accessToken), remainingLifetime(claims)); err != nil {
		return e.storeErr(err)
	}
	e.metricInc(MetricTokenRevoked)

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, claims.Subject, claims.CampusID, claims.SessionID, nil, nil)

	return nil
}

// LogoutAll revokes every session the user holds in the campus and bumps the
// token version, orphaning all outstanding refresh tokens. Access tokens
// already in flight remain valid until their own expiry unless individually
// revoked. Returns the number of sessions removed.
func (e *Engine) LogoutAll(ctx context.Context, campusID, userID string) (int, error) {
	removed, err := e.sessions.RevokeAll(ctx, campusID, userID)
	if err != nil {
		return 0, e.storeErr(err)
	}
	if _, err := e.identities.BumpTokenVersion(ctx, campusID, userID); err != nil {
		return removed, e.storeErr(err)
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, userID, campusID, "", nil, func(m map[string]string) {
		m["sessions_revoked"] = fmt.Sprintf("%d", removed)
	})

	return removed, nil
}

// RevokeToken denylists one token for its remaining lifetime, whatever its
// kind. Claims are read without signature verification so that compromised
// or expired tokens can still be revoked; the input must come from a trusted
// administrative channel.
func (e *Engine) RevokeToken(ctx context.Context, rawToken string) error {
	claims, err := e.tokens.Peek(rawToken)
	if err != nil {
		return ErrTokenInvalid
	}

	if err := e.denylist.Revoke(ctx, denylist.EntryID(claims.ID, rawToken), remainingLifetime(claims)); err != nil {
		return e.storeErr(err)
	}

	e.metricInc(MetricTokenRevoked)
	e.emitAudit(ctx, auditEventTokenRevoke, true, claims.Subject, claims.CampusID, claims.SessionID, nil, func(m map[string]string) {
		m["kind"] = string(claims.TokenKind)
	})

	return nil
}

// lockStatus returns a [LockedError] when the identity is currently locked.
func (e *Engine) lockStatus(identity *Identity) error {
	status := e.lockout.Evaluate(identity.LockedUntil, time.Now())
	if !status.Locked {
		return nil
	}
	return &LockedError{Remaining: status.Remaining}
}

// recordFailure advances the failure counter and trips the lock at the
// threshold. Both writes are best effort: a storage hiccup here must not
// change the caller-visible invalid-credentials outcome.
func (e *Engine) recordFailure(ctx context.Context, identity *Identity) {
	count, err := e.identities.IncrementFailedAttempts(ctx, identity.CampusID, identity.ID)
	if err != nil {
		return
	}
	if !e.lockout.ShouldLock(count) {
		return
	}

	until := e.lockout.LockDeadline(time.Now())
	if err := e.identities.SetLock(ctx, identity.CampusID, identity.ID, until); err != nil {
		return
	}

	e.metricInc(MetricAccountLocked)
	e.emitAudit(ctx, auditEventAccountLock, true, identity.ID, identity.CampusID, "", nil, func(m map[string]string) {
		m["reason"] = "failed_attempts"
		m["until"] = until.UTC().Format(time.RFC3339)
	})
}

func (e *Engine) clearFailureState(ctx context.Context, identity *Identity) {
	if identity.FailedAttempts == 0 && identity.LockedUntil.IsZero() {
		return
	}
	_ = e.identities.ResetFailureState(ctx, identity.CampusID, identity.ID)
}

// maybeRehash upgrades hashes produced under weaker parameters on the next
// successful login. Best effort: login succeeds either way.
func (e *Engine) maybeRehash(ctx context.Context, identity *Identity, pass string) {
	needs, err := e.hasher.NeedsRehash(identity.PasswordHash)
	if err != nil || !needs {
		return
	}
	newHash, err := e.hasher.Hash(pass)
	if err != nil {
		return
	}
	_ = e.identities.UpdatePasswordHash(ctx, identity.CampusID, identity.ID, newHash)
}

// establishSession creates the device session and issues the token pair.
func (e *Engine) establishSession(ctx context.Context, identity *Identity) (*LoginResult, string, error) {
	info := deviceInfo(ctx)
	rec := &session.Record{
		UserID:        identity.ID,
		CampusID:      identity.CampusID,
		DeviceType:    info.Type,
		DeviceLabel:   info.Label,
		OriginAddress: clientIP(ctx),
	}

	sid, err := e.sessions.Create(ctx, rec)
	if err != nil {
		return nil, "", e.storeErr(err)
	}

	ti := tokenIdentity(identity)
	access, err := e.tokens.IssueAccess(ti, sid)
	if err != nil {
		_, _ = e.sessions.Revoke(ctx, identity.CampusID, sid)
		return nil, "", err
	}
	refresh, err := e.tokens.IssueRefresh(ti, sid)
	if err != nil {
		_, _ = e.sessions.Revoke(ctx, identity.CampusID, sid)
		return nil, "", err
	}

	e.metricInc(MetricSessionCreated)

	return &LoginResult{AccessToken: access, RefreshToken: refresh}, sid, nil
}

// sendCode issues a one-time code for the identity and hands it to the
// delivery channel. The plaintext code never outlives this call.
func (e *Engine) sendCode(ctx context.Context, codes *otpcode.Store, purpose string, identity *Identity) error {
	code, err := codes.Issue(ctx, identity.CampusID, identity.ID)
	if err != nil {
		var rateErr *otpcode.RateLimitedError
		if errors.As(err, &rateErr) {
			return &RateLimitedError{RetryAfter: rateErr.RetryAfter}
		}
		return e.storeErr(err)
	}

	if err := e.sender.SendCode(ctx, purpose, identity, code); err != nil {
		// The undelivered code stays pending; reissuing overwrites it.
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	e.metricInc(MetricOTPIssued)

	return nil
}

// requireInput rejects blank required fields before any storage work.
func requireInput(fields ...string) error {
	for _, f := range fields {
		if strings.TrimSpace(f) == "" {
			return ErrInvalidInput
		}
	}
	return nil
}

// storeErr normalizes storage-layer failures to [ErrStorageUnavailable]
// while letting contract sentinels pass through.
func (e *Engine) storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrVersionConflict):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
}

func accountStatusErr(status AccountStatus) error {
	switch status {
	case AccountActive:
		return nil
	case AccountPendingVerification:
		return ErrAccountUnverified
	case AccountDisabled:
		return ErrAccountDisabled
	default:
		return ErrAccountDeleted
	}
}

func mapTokenErr(err error) error {
	if errors.Is(err, token.ErrTokenExpired) {
		return ErrTokenExpired
	}
	return ErrTokenInvalid
}

func tokenIdentity(identity *Identity) token.Identity {
	return token.Identity{
		ID:           identity.ID,
		CampusID:     identity.CampusID,
		Role:         identity.Role,
		TokenVersion: identity.TokenVersion,
	}
}

func remainingLifetime(claims *token.Claims) time.Duration {
	if claims.ExpiresAt == nil {
		return 0
	}
	return time.Until(claims.ExpiresAt.Time)
}
