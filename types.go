package authcore

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/campusid/authcore/internal/audit"
	internalmetrics "github.com/campusid/authcore/internal/metrics"
)

// AccountStatus represents the lifecycle state of a user account.
type AccountStatus uint8

const (
	// AccountActive is an exported constant or variable used by the authentication engine.
	AccountActive AccountStatus = iota
	// AccountPendingVerification is an exported constant or variable used by the authentication engine.
	AccountPendingVerification
	// AccountDisabled is an exported constant or variable used by the authentication engine.
	AccountDisabled
	// AccountDeleted is an exported constant or variable used by the authentication engine.
	AccountDeleted
)

// Identity is the credential record for one user. The engine reads it through
// [IdentityStore] and mutates it only through the store's atomic operations,
// never by writing the struct back wholesale.
type Identity struct {
	ID           string
	CampusID     string
	Email        string
	Phone        string
	Role         string
	PasswordHash string
	Status       AccountStatus

	// MFAEnabled requires a second factor after a correct password.
	MFAEnabled bool

	// FailedAttempts and LockedUntil carry the lockout state. LockedUntil is
	// the zero time when no lock has ever been set; an elapsed deadline reads
	// as unlocked without a write.
	FailedAttempts int
	LockedUntil    time.Time

	// TokenVersion invalidates outstanding refresh tokens when bumped.
	TokenVersion int64
}

// IdentityStore is the interface callers implement over their credential
// database. Counter mutations must be atomic at the storage layer: a lost
// update to FailedAttempts or TokenVersion is a security defect. Lookups
// return [ErrUserNotFound] when no record matches, and concurrent-update
// losers return [ErrVersionConflict].
type IdentityStore interface {
	GetByID(ctx context.Context, campusID, id string) (*Identity, error)
	GetByEmail(ctx context.Context, campusID, email string) (*Identity, error)
	GetByPhone(ctx context.Context, campusID, phone string) (*Identity, error)

	// UpdatePasswordHash replaces the password hash. It never touches
	// TokenVersion; flows that must orphan outstanding refresh tokens call
	// BumpTokenVersion explicitly.
	UpdatePasswordHash(ctx context.Context, campusID, id, newHash string) error

	// IncrementFailedAttempts atomically advances the failure counter and
	// returns the new value.
	IncrementFailedAttempts(ctx context.Context, campusID, id string) (int, error)
	// ResetFailureState zeroes FailedAttempts and clears any lock.
	ResetFailureState(ctx context.Context, campusID, id string) error
	// SetLock stamps the lock deadline.
	SetLock(ctx context.Context, campusID, id string, until time.Time) error
	// ClearLock removes the lock deadline without touching the counter.
	ClearLock(ctx context.Context, campusID, id string) error

	// BumpTokenVersion atomically increments TokenVersion and returns the new
	// value.
	BumpTokenVersion(ctx context.Context, campusID, id string) (int64, error)

	SetStatus(ctx context.Context, campusID, id string, status AccountStatus) error
}

// CodeSender delivers one-time codes out of band. Purpose is one of
// "login-otp", "mfa", or "reset". The engine never logs or stores the
// plaintext code; once SendCode returns, the delivery channel owns it.
type CodeSender interface {
	SendCode(ctx context.Context, purpose string, identity *Identity, code string) error
}

// LoginResult is returned by the login and refresh operations. When a second
// factor is required, MFARequired is set and the token fields are empty.
type LoginResult struct {
	AccessToken  string
	RefreshToken string

	MFARequired bool
}

// AuthResult is returned by [Engine.Validate]: the authenticated caller's
// identity as carried by the access token.
type AuthResult struct {
	UserID    string
	CampusID  string
	Role      string
	SessionID string
}

// SessionInfo is one active device session, as reported by
// [Engine.Sessions].
type SessionInfo struct {
	SessionID      string
	DeviceType     string
	DeviceLabel    string
	OriginAddress  string
	CreatedAt      time.Time
	LastActivityAt time.Time
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes JSON-encoded events to an
// [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// MetricID identifies a specific counter or histogram bucket in the
// in-process metrics system.
type MetricID = internalmetrics.MetricID

const (
	// MetricLoginSuccess is an exported constant or variable used by the authentication engine.
	MetricLoginSuccess = internalmetrics.MetricLoginSuccess
	// MetricLoginFailure is an exported constant or variable used by the authentication engine.
	MetricLoginFailure = internalmetrics.MetricLoginFailure
	// MetricLoginLocked is an exported constant or variable used by the authentication engine.
	MetricLoginLocked = internalmetrics.MetricLoginLocked
	// MetricLoginRateLimited is an exported constant or variable used by the authentication engine.
	MetricLoginRateLimited = internalmetrics.MetricLoginRateLimited
	// MetricRefreshSuccess is an exported constant or variable used by the authentication engine.
	MetricRefreshSuccess = internalmetrics.MetricRefreshSuccess
	// MetricRefreshFailure is an exported constant or variable used by the authentication engine.
	MetricRefreshFailure = internalmetrics.MetricRefreshFailure
	// MetricOTPIssued is an exported constant or variable used by the authentication engine.
	MetricOTPIssued = internalmetrics.MetricOTPIssued
	// MetricOTPSuccess is an exported constant or variable used by the authentication engine.
	MetricOTPSuccess = internalmetrics.MetricOTPSuccess
	// MetricOTPFailure is an exported constant or variable used by the authentication engine.
	MetricOTPFailure = internalmetrics.MetricOTPFailure
	// MetricOTPRateLimited is an exported constant or variable used by the authentication engine.
	MetricOTPRateLimited = internalmetrics.MetricOTPRateLimited
	// MetricMFARequired is an exported constant or variable used by the authentication engine.
	MetricMFARequired = internalmetrics.MetricMFARequired
	// MetricMFASuccess is an exported constant or variable used by the authentication engine.
	MetricMFASuccess = internalmetrics.MetricMFASuccess
	// MetricMFAFailure is an exported constant or variable used by the authentication engine.
	MetricMFAFailure = internalmetrics.MetricMFAFailure
	// MetricSessionCreated is an exported constant or variable used by the authentication engine.
	MetricSessionCreated = internalmetrics.MetricSessionCreated
	// MetricSessionRevoked is an exported constant or variable used by the authentication engine.
	MetricSessionRevoked = internalmetrics.MetricSessionRevoked
	// MetricLogout is an exported constant or variable used by the authentication engine.
	MetricLogout = internalmetrics.MetricLogout
	// MetricLogoutAll is an exported constant or variable used by the authentication engine.
	MetricLogoutAll = internalmetrics.MetricLogoutAll
	// MetricTokenRevoked is an exported constant or variable used by the authentication engine.
	MetricTokenRevoked = internalmetrics.MetricTokenRevoked
	// MetricDenylistHit is an exported constant or variable used by the authentication engine.
	MetricDenylistHit = internalmetrics.MetricDenylistHit
	// MetricDenylistFailOpen is an exported constant or variable used by the authentication engine.
	MetricDenylistFailOpen = internalmetrics.MetricDenylistFailOpen
	// MetricPasswordResetRequest is an exported constant or variable used by the authentication engine.
	MetricPasswordResetRequest = internalmetrics.MetricPasswordResetRequest
	// MetricPasswordResetConfirmSuccess is an exported constant or variable used by the authentication engine.
	MetricPasswordResetConfirmSuccess = internalmetrics.MetricPasswordResetConfirmSuccess
	// MetricPasswordResetConfirmFailure is an exported constant or variable used by the authentication engine.
	MetricPasswordResetConfirmFailure = internalmetrics.MetricPasswordResetConfirmFailure
	// MetricPasswordChangeSuccess is an exported constant or variable used by the authentication engine.
	MetricPasswordChangeSuccess = internalmetrics.MetricPasswordChangeSuccess
	// MetricPasswordChangeFailure is an exported constant or variable used by the authentication engine.
	MetricPasswordChangeFailure = internalmetrics.MetricPasswordChangeFailure
	// MetricAccountLocked is an exported constant or variable used by the authentication engine.
	MetricAccountLocked = internalmetrics.MetricAccountLocked
	// MetricAccountUnlocked is an exported constant or variable used by the authentication engine.
	MetricAccountUnlocked = internalmetrics.MetricAccountUnlocked
	// MetricValidateLatency is an exported constant or variable used by the authentication engine.
	MetricValidateLatency = internalmetrics.MetricValidateLatency
)

// Metrics holds atomic counters and optional latency histograms.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time deep copy of all metrics.
type MetricsSnapshot = internalmetrics.Snapshot

// NewMetrics creates a new [Metrics] instance configured by the given
// [MetricsConfig]. When Enabled is false, all operations are no-ops.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return internalmetrics.New(internalmetrics.Config{
		Enabled:       cfg.Enabled,
		EnableLatency: cfg.EnableLatencyHistograms,
	})
}
