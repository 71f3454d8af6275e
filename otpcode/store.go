// Package otpcode issues and verifies short-lived numeric one-time codes:
// the codes behind OTP login, MFA step-up, and password reset confirmation.
//
// Each identity holds at most one pending code per purpose. Issuing again
// overwrites the previous code, so only the latest delivery is ever valid.
// Verification is a single atomic consume: a correct code deletes the record,
// a wrong code burns an attempt, and exhausting the attempts deletes the
// record too.
package otpcode

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/campusid/authcore/internal"
)

var (
	// ErrRateLimited is an exported constant or variable used by the authentication engine.
	ErrRateLimited = errors.New("one-time code rate limited")
	// ErrRedisUnavailable is an exported constant or variable used by the authentication engine.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// RateLimitedError reports how long the caller must wait before the issuance
// window opens again. It matches [ErrRateLimited] under errors.Is.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("one-time code rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// Config tunes one purpose of one-time code.
type Config struct {
	// TTL is the lifetime of an issued code.
	TTL time.Duration
	// MaxAttempts is the number of wrong guesses before the code is burned.
	MaxAttempts int
	// RateCeiling caps issuances per identity within RateWindow.
	RateCeiling int
	// RateWindow is the fixed issuance window.
	RateWindow time.Duration
}

// DefaultLoginConfig is the tuning for OTP login and MFA step-up codes.
func DefaultLoginConfig() Config {
	return Config{TTL: 5 * time.Minute, MaxAttempts: 3, RateCeiling: 3, RateWindow: time.Hour}
}

// DefaultResetConfig is the tuning for password reset codes.
func DefaultResetConfig() Config {
	return Config{TTL: time.Hour, MaxAttempts: 3, RateCeiling: 3, RateWindow: time.Hour}
}

// Store manages pending one-time codes for a single purpose.
type Store struct {
	redis   redis.UniversalClient
	purpose string
	config  Config
}

// NewStore creates a one-time-code [Store]. purpose namespaces the keys, so
// a login code can never satisfy a reset confirmation.
func NewStore(client redis.UniversalClient, purpose string, cfg Config) *Store {
	return &Store{redis: client, purpose: purpose, config: cfg}
}

func (s *Store) key(campusID, identityID string) string {
	return "oc:" + s.purpose + ":" + normalizeCampusID(campusID) + ":" + identityID
}

func (s *Store) rateKey(campusID, identityID string) string {
	return "ocr:" + s.purpose + ":" + normalizeCampusID(campusID) + ":" + identityID
}

func normalizeCampusID(campusID string) string {
	if campusID == "" {
		return "0"
	}
	return campusID
}

// Issue generates a fresh 6-digit code for the identity and returns its
// plaintext for delivery. Any previous pending code is overwritten. When the
// identity has hit the issuance ceiling, Issue returns a [RateLimitedError]
// and no code is generated.
//
// The window slot is reserved with an atomic INCR before anything else, so
// concurrent Issues can never squeeze past the ceiling on a stale read. A
// failure after the reservation releases the slot again; a storage failure
// never consumes quota.
func (s *Store) Issue(ctx context.Context, campusID, identityID string) (string, error) {
	rateKey := s.rateKey(campusID, identityID)

	count, err := s.redis.Incr(ctx, rateKey).Result()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count == 1 {
		if err := s.redis.Expire(ctx, rateKey, s.config.RateWindow).Err(); err != nil {
			s.releaseSlot(ctx, rateKey)
			return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	if count > int64(s.config.RateCeiling) {
		retryAfter, err := s.redis.TTL(ctx, rateKey).Result()
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if retryAfter < 0 {
			retryAfter = s.config.RateWindow
		}
		return "", &RateLimitedError{RetryAfter: retryAfter}
	}

	code, err := internal.NewNumericCode()
	if err != nil {
		s.releaseSlot(ctx, rateKey)
		return "", err
	}

	rec := &Record{
		CodeHash:  internal.HashSecret([]byte(code)),
		ExpiresAt: time.Now().Add(s.config.TTL).Unix(),
	}
	encoded, err := encodeRecord(rec)
	if err != nil {
		s.releaseSlot(ctx, rateKey)
		return "", err
	}

	if err := s.redis.Set(ctx, s.key(campusID, identityID), encoded, s.config.TTL).Err(); err != nil {
		s.releaseSlot(ctx, rateKey)
		return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return code, nil
}

// releaseSlot hands a reserved window slot back after a failed issuance.
// Best effort: if the DECR itself fails, the slot expires with the window.
func (s *Store) releaseSlot(ctx context.Context, rateKey string) {
	_ = s.redis.Decr(ctx, rateKey).Err()
}

// Verify atomically consumes a code attempt. It returns (true, 0) when the
// code matches, deleting the record so it can never be replayed. A wrong
// code burns an attempt and reports how many remain; the final wrong attempt
// deletes the record. A missing or expired code reports (false, 0).
//
// The compare-and-burn runs inside a WATCH transaction so concurrent guesses
// cannot share an attempt slot.
func (s *Store) Verify(ctx context.Context, campusID, identityID, code string) (bool, int, error) {
	const maxRetries = 4
	key := s.key(campusID, identityID)
	providedHash := internal.HashSecret([]byte(code))

	for i := 0; i < maxRetries; i++ {
		var (
			matched   bool
			remaining int
		)

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			rec, err := decodeRecord(data)
			if err != nil {
				return err
			}

			if time.Now().Unix() > rec.ExpiresAt {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				matched, remaining = false, 0
				return nil
			}

			if subtle.ConstantTimeCompare(rec.CodeHash[:], providedHash[:]) != 1 {
				rec.Attempts++
				if int(rec.Attempts) >= s.config.MaxAttempts {
					_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
						pipe.Del(ctx, key)
						return nil
					})
					if err != nil {
						return err
					}
					matched, remaining = false, 0
					return nil
				}

				ttl := time.Until(time.Unix(rec.ExpiresAt, 0))
				if ttl <= 0 {
					_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
						pipe.Del(ctx, key)
						return nil
					})
					if err != nil {
						return err
					}
					matched, remaining = false, 0
					return nil
				}

				updated, err := encodeRecord(rec)
				if err != nil {
					return err
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, updated, ttl)
					return nil
				})
				if err != nil {
					return err
				}
				matched, remaining = false, s.config.MaxAttempts-int(rec.Attempts)
				return nil
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			if err != nil {
				return err
			}
			matched, remaining = true, 0
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return false, 0, nil
			}
			if errors.Is(err, ErrRecordCorrupt) {
				return false, 0, err
			}
			return false, 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}

		return matched, remaining, nil
	}

	return false, 0, nil
}

// Clear removes any pending code for the identity. Used when the account
// state changes underneath an outstanding code.
func (s *Store) Clear(ctx context.Context, campusID, identityID string) error {
	if err := s.redis.Del(ctx, s.key(campusID, identityID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
