package authcore

import (
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/campusid/authcore/denylist"
	"github.com/campusid/authcore/internal/lockout"
	"github.com/campusid/authcore/otpcode"
	"github.com/campusid/authcore/password"
	"github.com/campusid/authcore/session"
	"github.com/campusid/authcore/token"
)

// One-time-code purposes. Purposes namespace the Redis keys, so a login code
// can never satisfy a reset confirmation.
const (
	PurposeLoginOTP = "login-otp"
	PurposeMFA      = "mfa"
	PurposeReset    = "reset"
)

// Builder assembles an [Engine]. Zero value is not usable; start from
// [NewBuilder] and chain the With methods.
type Builder struct {
	config     Config
	redis      redis.UniversalClient
	identities IdentityStore
	sender     CodeSender
	auditSink  AuditSink
}

// NewBuilder returns a [Builder] preloaded with the default configuration.
func NewBuilder() *Builder {
	return &Builder{config: defaultConfig()}
}

// WithConfig replaces the configuration. The config is cloned; later caller
// mutations do not reach the engine.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client backing sessions, the denylist, and
// one-time codes.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithIdentityStore sets the credential store.
func (b *Builder) WithIdentityStore(store IdentityStore) *Builder {
	b.identities = store
	return b
}

// WithCodeSender sets the out-of-band delivery channel for one-time codes.
func (b *Builder) WithCodeSender(sender CodeSender) *Builder {
	b.sender = sender
	return b
}

// WithAuditSink sets the destination for audit events. Without one, events
// are dropped.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// Build validates the configuration and wires the engine. The order is
// deliberate: fail on config before allocating anything that needs Close.
func (b *Builder) Build() (*Engine, error) {
	if b.redis == nil {
		return nil, errors.New("authcore: redis client is required")
	}
	if b.identities == nil {
		return nil, errors.New("authcore: identity store is required")
	}
	if b.sender == nil {
		return nil, errors.New("authcore: code sender is required")
	}
	if err := b.config.Validate(); err != nil {
		return nil, fmt.Errorf("authcore: %w", err)
	}

	tokens, err := token.NewManager(token.Config{
		AccessTTL:     b.config.Token.AccessTTL,
		RefreshTTL:    b.config.Token.RefreshTTL,
		SigningMethod: b.config.Token.SigningMethod,
		PrivateKey:    b.config.Token.PrivateKey,
		PublicKey:     b.config.Token.PublicKey,
		Issuer:        b.config.Token.Issuer,
		Audience:      b.config.Token.Audience,
		Leeway:        b.config.Token.Leeway,
	})
	if err != nil {
		return nil, fmt.Errorf("authcore: %w", err)
	}

	hasher, err := password.NewHasher(password.Config{
		Memory:      b.config.Password.Memory,
		Time:        b.config.Password.Time,
		Parallelism: b.config.Password.Parallelism,
		SaltLength:  b.config.Password.SaltLength,
		KeyLength:   b.config.Password.KeyLength,
	})
	if err != nil {
		return nil, fmt.Errorf("authcore: %w", err)
	}

	loginCfg := otpcode.Config{
		TTL:         b.config.Login.TTL,
		MaxAttempts: b.config.Login.MaxAttempts,
		RateCeiling: b.config.Login.RateCeiling,
		RateWindow:  b.config.Login.RateWindow,
	}
	resetCfg := otpcode.Config{
		TTL:         b.config.Reset.TTL,
		MaxAttempts: b.config.Reset.MaxAttempts,
		RateCeiling: b.config.Reset.RateCeiling,
		RateWindow:  b.config.Reset.RateWindow,
	}

	var dispatcher *auditDispatcher
	if b.config.Audit.Enabled {
		dispatcher = newAuditDispatcher(b.auditSink, b.config.Audit.QueueSize, b.config.Audit.DropIfFull)
	}

	return &Engine{
		config:     b.config,
		identities: b.identities,
		sender:     b.sender,
		tokens:     tokens,
		sessions:   session.NewStore(b.redis, b.config.Session.IdleTTL),
		denylist:   denylist.NewStore(b.redis),
		loginCodes: otpcode.NewStore(b.redis, PurposeLoginOTP, loginCfg),
		mfaCodes:   otpcode.NewStore(b.redis, PurposeMFA, loginCfg),
		resetCodes: otpcode.NewStore(b.redis, PurposeReset, resetCfg),
		hasher:     hasher,
		lockout: lockout.Policy{
			Threshold: b.config.Lockout.Threshold,
			LockFor:   b.config.Lockout.LockFor,
		},
		metrics: NewMetrics(b.config.Metrics),
		audit:   dispatcher,
	}, nil
}
