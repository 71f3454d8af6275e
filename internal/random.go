package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"math/big"
)

// SessionID is a 128-bit random session identifier.
type SessionID [16]byte

const (
	codeMin = 100000
	codeMax = 999999
)

// NewSessionID returns a cryptographically random session identifier.
func NewSessionID() (SessionID, error) {
	var sid SessionID
	_, err := rand.Read(sid[:])
	return sid, err
}

func (s SessionID) Bytes() []byte {
	return s[:]
}

func (s SessionID) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(s[:])
}

// ParseSessionID decodes a session identifier previously produced by String.
func ParseSessionID(sessionID string) (SessionID, error) {
	var sid SessionID

	raw, err := base64.RawURLEncoding.DecodeString(sessionID)
	if err != nil {
		return sid, err
	}
	if len(raw) != len(sid) {
		return sid, errors.New("invalid session id size")
	}

	copy(sid[:], raw)
	return sid, nil
}

// NewNumericCode returns a 6-digit one-time code in [100000, 999999].
// The range never produces a leading zero, so the string form is unambiguous.
func NewNumericCode() (string, error) {
	span := big.NewInt(codeMax - codeMin + 1)

	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return "", err
	}

	value := codeMin + n.Int64()
	var digits [6]byte
	for i := len(digits) - 1; i >= 0; i-- {
		digits[i] = byte('0' + value%10)
		value /= 10
	}

	return string(digits[:]), nil
}

// HashSecret returns the SHA-256 digest of an arbitrary secret value.
// One-time codes and raw bearer tokens are only ever stored in this form.
func HashSecret(secret []byte) [32]byte {
	return sha256.Sum256(secret)
}
