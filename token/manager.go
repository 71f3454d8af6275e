package token

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind distinguishes access tokens from refresh tokens.
type Kind string

const (
	// KindAccess marks a short-lived token presented on every request.
	KindAccess Kind = "access"
	// KindRefresh marks a long-lived token exchanged for new access tokens.
	KindRefresh Kind = "refresh"
)

// SigningMethod selects the signature algorithm for the deployment.
type SigningMethod string

const (
	// MethodEd25519 is an exported constant or variable used by the token service.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 is an exported constant or variable used by the token service.
	MethodHS256 SigningMethod = "hs256"
)

var (
	// ErrTokenExpired is returned by Verify when the signature is valid but
	// the expiry has passed.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenMalformed is returned by Verify for tampered, truncated, or
	// foreign-algorithm tokens.
	ErrTokenMalformed = errors.New("token malformed")
)

// Config defines a public type used by authcore APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

// Claims is the decoded payload of an authcore bearer token.
type Claims struct {
	CampusID     string `json:"cmp,omitempty"`
	Role         string `json:"role,omitempty"`
	SessionID    string `json:"sid,omitempty"`
	TokenVersion int64  `json:"tv"`
	TokenKind    Kind   `json:"knd"`
	jwt.RegisteredClaims
}

// Identity is the slice of the credential record the token service needs at
// issuance time. The caller owns the full record.
type Identity struct {
	ID           string
	CampusID     string
	Role         string
	TokenVersion int64
}

// Manager is a pure signing/verification component. It reads the system
// clock and performs cryptography; it never touches storage.
type Manager struct {
	config Config
}

// NewManager validates key material against the configured signing method.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key")
		}
		if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	return &Manager{config: cfg}, nil
}

// IssueAccess signs a short-lived access token for the identity.
func (m *Manager) IssueAccess(identity Identity, sessionID string) (string, error) {
	return m.issue(identity, sessionID, KindAccess, m.config.AccessTTL)
}

// IssueRefresh signs a long-lived refresh token carrying the identity's
// current token version.
func (m *Manager) IssueRefresh(identity Identity, sessionID string) (string, error) {
	return m.issue(identity, sessionID, KindRefresh, m.config.RefreshTTL)
}

func (m *Manager) issue(identity Identity, sessionID string, kind Kind, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		CampusID:     identity.CampusID,
		Role:         identity.Role,
		SessionID:    sessionID,
		TokenVersion: identity.TokenVersion,
		TokenKind:    kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   identity.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    m.config.Issuer,
		},
	}
	if m.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.config.Audience}
	}

	tok := jwt.NewWithClaims(m.method(), claims)

	key, err := m.signKey()
	if err != nil {
		return "", err
	}

	return tok.SignedString(key)
}

// Verify checks signature, algorithm, issuer, audience, and expiry. It never
// evaluates business rules: a well-formed token for a locked account still
// verifies, and the caller decides what to do with it.
func (m *Manager) Verify(tokenStr string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method().Alg()}),
		jwt.WithExpirationRequired(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}
	if m.config.Audience != "" {
		options = append(options, jwt.WithAudience(m.config.Audience))
	}

	parser := jwt.NewParser(options...)
	parsed, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != m.method().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return m.verifyKey()
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenMalformed
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenMalformed
	}

	return claims, nil
}

// Peek decodes claims without verifying the signature or expiry. Its only
// legitimate use is recovering the expiry and token ID from tokens that may
// already be expired, to compute a revocation-entry TTL. Never trust Peek
// output for authentication.
func (m *Manager) Peek(tokenStr string) (*Claims, error) {
	parser := jwt.NewParser()
	parsed, _, err := parser.ParseUnverified(tokenStr, &Claims{})
	if err != nil {
		return nil, ErrTokenMalformed
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, ErrTokenMalformed
	}

	return claims, nil
}

func (m *Manager) method() jwt.SigningMethod {
	switch m.config.SigningMethod {
	case MethodHS256:
		return jwt.SigningMethodHS256
	default:
		return jwt.SigningMethodEdDSA
	}
}

func (m *Manager) signKey() (interface{}, error) {
	switch m.config.SigningMethod {
	case MethodHS256:
		return m.config.PrivateKey, nil
	default:
		return parseEdPrivateKey(m.config.PrivateKey)
	}
}

func (m *Manager) verifyKey() (interface{}, error) {
	switch m.config.SigningMethod {
	case MethodHS256:
		return m.config.PrivateKey, nil
	default:
		return parseEdPublicKey(m.config.PublicKey)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
