// Package password hashes and verifies login passwords with argon2id,
// serialized in the standard PHC string format so parameters travel with
// every hash and can be raised without breaking stored credentials.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	algorithmID = "argon2id"

	minMemoryKB    uint32 = 8 * 1024
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	minPassBytes          = 10
)

// ErrHashMalformed is returned when a stored hash cannot be parsed.
var ErrHashMalformed = errors.New("password hash malformed")

// Config defines a public type used by authcore APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultConfig returns interactive-login argon2id parameters.
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        2,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Hasher hashes and verifies passwords with a fixed parameter set.
type Hasher struct {
	config Config
}

// NewHasher validates the parameter set and returns a [Hasher].
func NewHasher(cfg Config) (*Hasher, error) {
	switch {
	case cfg.Memory < minMemoryKB:
		return nil, errors.New("password memory must be >= 8192 KB")
	case cfg.Time < 1:
		return nil, errors.New("password time must be >= 1")
	case cfg.Parallelism < 1:
		return nil, errors.New("password parallelism must be >= 1")
	case cfg.SaltLength < minSaltLength:
		return nil, errors.New("password salt length must be >= 16")
	case cfg.KeyLength < minKeyLength:
		return nil, errors.New("password key length must be >= 16")
	}

	return &Hasher{config: cfg}, nil
}

// Hash derives an argon2id hash of the password under a fresh random salt and
// returns it in PHC form. Passwords are used as raw bytes, with no Unicode
// normalization.
func (h *Hasher) Hash(password string) (string, error) {
	if len(password) < minPassBytes {
		return "", errors.New("password must be at least 10 bytes")
	}

	salt := make([]byte, h.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey([]byte(password), salt, h.config.Time, h.config.Memory, h.config.Parallelism, h.config.KeyLength)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.config.Memory,
		h.config.Time,
		h.config.Parallelism,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether the password matches the stored PHC hash. The hash's
// own parameters are used, so credentials hashed under older settings still
// verify.
func (h *Hasher) Verify(password, encodedHash string) (bool, error) {
	parsed, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), parsed.salt, parsed.time, parsed.memory, parsed.parallelism, uint32(len(parsed.key)))

	return subtle.ConstantTimeCompare(computed, parsed.key) == 1, nil
}

// NeedsRehash reports whether a stored hash was produced under weaker
// parameters than the current configuration. Callers rehash on the next
// successful login.
func (h *Hasher) NeedsRehash(encodedHash string) (bool, error) {
	parsed, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}

	weaker := parsed.memory < h.config.Memory ||
		parsed.time < h.config.Time ||
		parsed.parallelism < h.config.Parallelism ||
		uint32(len(parsed.key)) != h.config.KeyLength

	return weaker, nil
}

type parsedHash struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func parsePHC(encodedHash string) (*parsedHash, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithmID {
		return nil, ErrHashMalformed
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if !strings.HasPrefix(parts[2], "v=") || err != nil || version != argon2.Version {
		return nil, ErrHashMalformed
	}

	parsed := &parsedHash{}
	for _, pair := range strings.Split(parts[3], ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, ErrHashMalformed
		}
		value, err := strconv.ParseUint(kv[1], 10, 32)
		if err != nil {
			return nil, ErrHashMalformed
		}
		switch kv[0] {
		case "m":
			parsed.memory = uint32(value)
		case "t":
			parsed.time = uint32(value)
		case "p":
			if value == 0 || value > 255 {
				return nil, ErrHashMalformed
			}
			parsed.parallelism = uint8(value)
		default:
			return nil, ErrHashMalformed
		}
	}
	if parsed.memory < minMemoryKB || parsed.time == 0 || parsed.parallelism == 0 {
		return nil, ErrHashMalformed
	}

	if parsed.salt, err = base64.StdEncoding.DecodeString(parts[4]); err != nil || len(parsed.salt) < int(minSaltLength) {
		return nil, ErrHashMalformed
	}
	if parsed.key, err = base64.StdEncoding.DecodeString(parts[5]); err != nil || len(parsed.key) == 0 {
		return nil, ErrHashMalformed
	}

	return parsed, nil
}
