package authcore

import (
	"errors"
	"time"

	"github.com/campusid/authcore/token"
)

// TokenConfig tunes the token service.
type TokenConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod token.SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

// SessionConfig tunes the session registry.
type SessionConfig struct {
	// IdleTTL is how long a session survives without activity.
	IdleTTL time.Duration
}

// LockoutConfig tunes the failed-login lockout policy.
type LockoutConfig struct {
	Threshold int
	LockFor   time.Duration
}

// OTPConfig tunes one purpose of one-time code.
type OTPConfig struct {
	TTL         time.Duration
	MaxAttempts int
	RateCeiling int
	RateWindow  time.Duration
}

// PasswordConfig tunes the argon2id password hasher.
type PasswordConfig struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// AuditConfig tunes the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled bool
	// QueueSize is the dispatcher buffer. When full, DropIfFull decides
	// between dropping the event and blocking the caller.
	QueueSize  int
	DropIfFull bool
}

// MetricsConfig tunes the in-process metrics system.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// Config defines a public type used by authcore APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Token    TokenConfig
	Session  SessionConfig
	Lockout  LockoutConfig
	Login    OTPConfig
	Reset    OTPConfig
	Password PasswordConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

func defaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AccessTTL:     time.Hour,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: token.MethodEd25519,
			Issuer:        "authcore",
			Leeway:        30 * time.Second,
		},
		Session: SessionConfig{
			IdleTTL: 7 * 24 * time.Hour,
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			LockFor:   30 * time.Minute,
		},
		Login: OTPConfig{
			TTL:         5 * time.Minute,
			MaxAttempts: 3,
			RateCeiling: 3,
			RateWindow:  time.Hour,
		},
		Reset: OTPConfig{
			TTL:         time.Hour,
			MaxAttempts: 3,
			RateCeiling: 3,
			RateWindow:  time.Hour,
		},
		Password: PasswordConfig{
			Memory:      64 * 1024,
			Time:        2,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		Audit: AuditConfig{
			Enabled:    true,
			QueueSize:  1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// cloneConfig deep-copies the key material so a caller mutating its own
// config after Build cannot reach into the engine.
func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.PrivateKey = cloneBytes(cfg.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(cfg.Token.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate checks the parts of the configuration the component constructors
// do not cover themselves.
func (c Config) Validate() error {
	if c.Session.IdleTTL <= 0 {
		return errors.New("session idle TTL must be positive")
	}
	if c.Session.IdleTTL < c.Token.RefreshTTL {
		return errors.New("session idle TTL must cover the refresh TTL")
	}
	if c.Lockout.Threshold < 1 {
		return errors.New("lockout threshold must be >= 1")
	}
	if c.Lockout.LockFor <= 0 {
		return errors.New("lockout duration must be positive")
	}
	if err := validateOTP("login", c.Login); err != nil {
		return err
	}
	if err := validateOTP("reset", c.Reset); err != nil {
		return err
	}
	if c.Audit.Enabled && c.Audit.QueueSize < 1 {
		return errors.New("audit queue size must be >= 1")
	}
	return nil
}

func validateOTP(name string, cfg OTPConfig) error {
	if cfg.TTL <= 0 || cfg.MaxAttempts < 1 || cfg.RateCeiling < 1 || cfg.RateWindow <= 0 {
		return errors.New("invalid " + name + " one-time-code configuration")
	}
	return nil
}
