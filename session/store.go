package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/campusid/authcore/internal"
)

// ErrRedisUnavailable is an exported constant or variable used by the authentication engine.
var ErrRedisUnavailable = errors.New("redis unavailable")

const (
	recordPrefix = "sr"
	indexPrefix  = "su"
)

// Delete record and index member in one round trip so a crash between the
// two writes cannot leave a live record behind a pruned index.
const revokeScript = `
local existed = redis.call("EXISTS", KEYS[1])
if existed == 1 then
  redis.call("DEL", KEYS[1])
end
redis.call("SREM", KEYS[2], ARGV[1])
return existed
`

var revokeLua = redis.NewScript(revokeScript)

// Store is a Redis-backed registry of active device sessions.
//
// Keys are scoped by campus: a session identifier only resolves together
// with the campus it was created under.
type Store struct {
	redis redis.UniversalClient
	ttl   time.Duration
}

// NewStore creates a session [Store] backed by the given Redis client.
// ttl is the idle expiry applied to every record; Touch renews it.
func NewStore(client redis.UniversalClient, ttl time.Duration) *Store {
	return &Store{redis: client, ttl: ttl}
}

func (s *Store) key(campusID, sessionID string) string {
	return recordPrefix + ":" + normalizeCampusID(campusID) + ":" + sessionID
}

func (s *Store) userKey(campusID, userID string) string {
	return indexPrefix + ":" + normalizeCampusID(campusID) + ":" + userID
}

func normalizeCampusID(campusID string) string {
	if campusID == "" {
		return "0"
	}
	return campusID
}

// Create generates a random session identifier, persists the record, and adds
// it to the owner's index set. The generated identifier is written back into
// rec and returned.
//
//	Performance: 2 Redis commands in one MULTI (SET + SADD).
func (s *Store) Create(ctx context.Context, rec *Record) (string, error) {
	sid, err := internal.NewSessionID()
	if err != nil {
		return "", err
	}
	rec.SessionID = sid.String()

	now := time.Now().Unix()
	if rec.CreatedAt == 0 {
		rec.CreatedAt = now
	}
	if rec.LastActivityAt == 0 {
		rec.LastActivityAt = rec.CreatedAt
	}

	data, err := Encode(rec)
	if err != nil {
		return "", err
	}

	recordKey := s.key(rec.CampusID, rec.SessionID)
	userKey := s.userKey(rec.CampusID, rec.UserID)

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, recordKey, data, s.ttl)
		pipe.SAdd(ctx, userKey, rec.SessionID)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return rec.SessionID, nil
}

// Get retrieves a session by campus and session ID. Returns redis.Nil when
// the record does not exist or has expired.
//
//	Performance: 1 Redis GET.
func (s *Store) Get(ctx context.Context, campusID, sessionID string) (*Record, error) {
	data, err := s.redis.Get(ctx, s.key(campusID, sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	rec, err := Decode(data)
	if err != nil {
		return nil, err
	}
	rec.SessionID = sessionID

	return rec, nil
}

// List returns the user's live sessions ordered by LastActivityAt descending.
// Index members whose records have expired are pruned from the set as a side
// effect, so the index converges back to the live population.
//
//	Performance: SMEMBERS + pipelined GETs + optional SREM.
func (s *Store) List(ctx context.Context, campusID, userID string) ([]*Record, error) {
	userKey := s.userKey(campusID, userID)

	sessionIDs, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*Record{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(sessionIDs) == 0 {
		return []*Record{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(sessionIDs))
	for i, sid := range sessionIDs {
		cmds[i] = pipe.Get(ctx, s.key(campusID, sid))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	records := make([]*Record, 0, len(sessionIDs))
	var stale []interface{}
	for i, cmd := range cmds {
		data, cmdErr := cmd.Bytes()
		if cmdErr != nil {
			if errors.Is(cmdErr, redis.Nil) {
				stale = append(stale, sessionIDs[i])
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, cmdErr)
		}

		rec, decErr := Decode(data)
		if decErr != nil {
			return nil, decErr
		}
		rec.SessionID = sessionIDs[i]
		records = append(records, rec)
	}

	if len(stale) > 0 {
		if err := s.redis.SRem(ctx, userKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].LastActivityAt > records[j].LastActivityAt
	})

	return records, nil
}

// Touch records activity: it advances LastActivityAt and renews the idle
// expiry. Touching a session that no longer exists is a silent no-op.
//
//	Performance: 1 GET + 1 SET.
func (s *Store) Touch(ctx context.Context, campusID, sessionID string) error {
	key := s.key(campusID, sessionID)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	rec, err := Decode(data)
	if err != nil {
		return err
	}
	rec.LastActivityAt = time.Now().Unix()

	updated, err := Encode(rec)
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, key, updated, s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// Revoke deletes one session and removes it from the owner's index. Returns
// true when a live record was removed, false when there was nothing to do.
// Revoking twice is safe.
//
//	Performance: 1 GET + 1 Lua EVALSHA.
func (s *Store) Revoke(ctx context.Context, campusID, sessionID string) (bool, error) {
	key := s.key(campusID, sessionID)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	rec, err := Decode(data)
	if err != nil {
		return false, err
	}

	existed, err := revokeLua.Run(
		ctx,
		s.redis,
		[]string{key, s.userKey(campusID, rec.UserID)},
		sessionID,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return existed == 1, nil
}

// RevokeAll deletes every session a user holds in a campus and returns how
// many live records were removed. A storage failure is always surfaced:
// logout-everywhere must never silently leave sessions behind.
//
//	Performance: SMEMBERS + 1 MULTI (DEL keys + DEL index).
func (s *Store) RevokeAll(ctx context.Context, campusID, userID string) (int, error) {
	userKey := s.userKey(campusID, userID)

	sessionIDs, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if len(sessionIDs) == 0 {
		if err := s.redis.Del(ctx, userKey).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		return 0, nil
	}

	sessionKeys := make([]string, 0, len(sessionIDs))
	for _, sid := range sessionIDs {
		sessionKeys = append(sessionKeys, s.key(campusID, sid))
	}

	var delCmd *redis.IntCmd
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		delCmd = pipe.Del(ctx, sessionKeys...)
		pipe.Del(ctx, userKey)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return int(delCmd.Val()), nil
}

// RevokeByID finds and revokes a session without knowing its campus. It scans
// the record keyspace, so it is an admin-only O(n) operation and must not be
// used in request hot paths.
func (s *Store) RevokeByID(ctx context.Context, sessionID string) (bool, error) {
	pattern := recordPrefix + ":*:" + sessionID
	var cursor uint64

	for {
		keys, next, err := s.redis.Scan(ctx, cursor, pattern, 1000).Result()
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}

		for _, key := range keys {
			campusID, ok := campusFromKey(key, sessionID)
			if !ok {
				continue
			}
			return s.Revoke(ctx, campusID, sessionID)
		}

		cursor = next
		if cursor == 0 {
			return false, nil
		}
	}
}

func campusFromKey(key, sessionID string) (string, bool) {
	prefix := recordPrefix + ":"
	suffix := ":" + sessionID
	if len(key) <= len(prefix)+len(suffix) {
		return "", false
	}
	if key[:len(prefix)] != prefix || key[len(key)-len(suffix):] != suffix {
		return "", false
	}
	return key[len(prefix) : len(key)-len(suffix)], true
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}
