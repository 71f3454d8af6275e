// Package denylist tracks revoked access tokens until their natural expiry.
// Entries are keyed by token ID and carry a TTL equal to the token's
// remaining lifetime, so the list stays small: once a token would have
// expired anyway, its entry evaporates.
//
// Lookup errors are the caller's policy decision. The authentication engine
// fails open on reads (an unreachable denylist must not take every bearer of
// a valid token offline) and fails closed on writes.
package denylist

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable is an exported constant or variable used by the authentication engine.
var ErrRedisUnavailable = errors.New("redis unavailable")

const keyPrefix = "dl:"

// Store is a Redis-backed revocation denylist.
type Store struct {
	redis redis.UniversalClient
}

// NewStore creates a denylist [Store] backed by the given Redis client.
func NewStore(client redis.UniversalClient) *Store {
	return &Store{redis: client}
}

// EntryID derives the denylist key for a token: the token ID when the claims
// carry one, otherwise the hex SHA-256 of the raw compact form. Tokens minted
// before token IDs were introduced still revoke cleanly through the fallback.
func EntryID(tokenID, rawToken string) string {
	if tokenID != "" {
		return tokenID
	}
	sum := sha256.Sum256([]byte(rawToken))
	return hex.EncodeToString(sum[:])
}

// Revoke records a token as revoked for its remaining lifetime. A token that
// has already expired needs no entry; revoking it is a silent no-op.
//
//	Performance: 1 Redis SET.
func (s *Store) Revoke(ctx context.Context, entryID string, remaining time.Duration) error {
	if remaining <= 0 {
		return nil
	}

	if err := s.redis.Set(ctx, keyPrefix+entryID, 1, remaining).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// IsRevoked reports whether a token appears on the denylist. A storage error
// is returned alongside false; the caller chooses fail-open or fail-closed.
//
//	Performance: 1 Redis EXISTS.
func (s *Store) IsRevoked(ctx context.Context, entryID string) (bool, error) {
	n, err := s.redis.Exists(ctx, keyPrefix+entryID).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n > 0, nil
}
