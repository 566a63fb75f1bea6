package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps transport-level Redis failures so callers can
// distinguish an outage from a missing record.
var ErrRedisUnavailable = errors.New("redis unavailable")

// DefaultListLimit caps ListActive when the caller passes a non-positive
// limit.
const DefaultListLimit = 25

// revokeScript removes the session record and its index entry together.
// Returns 1 when the record still existed, 0 when it was already gone,
// so a double logout is observable to the caller.
const revokeScript = `
local existed = redis.call("EXISTS", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
if existed == 1 then
  redis.call("DEL", KEYS[1])
end
return existed
`

var revokeLua = redis.NewScript(revokeScript)

// Store persists sessions in Redis. Safe for concurrent use.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

func NewStore(rdb redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "sess"
	}
	return &Store{redis: rdb, prefix: prefix}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

func (s *Store) userKey(userID string) string {
	return s.prefix + "u:" + userID
}

// Save persists a session and indexes it under its user. The record TTL
// is derived from the session's ExpiresAt.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	ttl := time.Until(time.Unix(sess.ExpiresAt, 0))
	if ttl <= 0 {
		return errors.New("session already expired")
	}

	key := s.key(sess.SessionID)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]interface{}{
			"uid":     sess.UserID,
			"ip":      sess.ClientIP,
			"ua":      sess.UserAgent,
			"created": sess.CreatedAt,
			"expires": sess.ExpiresAt,
		})
		pipe.Expire(ctx, key, ttl)
		pipe.SAdd(ctx, s.userKey(sess.UserID), sess.SessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get returns the session or redis.Nil when it does not exist or has
// passed its expiry. An expired record is deleted on sight.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, redis.Nil
	}

	sess, err := fromFields(sessionID, fields)
	if err != nil {
		return nil, err
	}
	if sess.Expired(time.Now()) {
		if _, err := s.Revoke(ctx, sess.UserID, sessionID); err != nil {
			return nil, err
		}
		return nil, redis.Nil
	}
	return sess, nil
}

// IsActive reports whether the session exists and is unexpired.
func (s *Store) IsActive(ctx context.Context, sessionID string) (bool, error) {
	_, err := s.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Revoke deletes the session and its index entry atomically. The bool
// reports whether the record still existed.
func (s *Store) Revoke(ctx context.Context, userID, sessionID string) (bool, error) {
	existed, err := revokeLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sessionID), s.userKey(userID)},
		sessionID,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return existed == 1, nil
}

// RevokeAll removes every session indexed for the user.
//
// Not fully atomic: a session created between reading the index and the
// delete pipeline survives this call and is caught by its own TTL or a
// later RevokeAll.
func (s *Store) RevokeAll(ctx context.Context, userID string) (int, error) {
	userKey := s.userKey(userID)
	sessionIDs, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	keys := make([]string, 0, len(sessionIDs)+1)
	for _, sid := range sessionIDs {
		keys = append(keys, s.key(sid))
	}
	keys = append(keys, userKey)

	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return len(sessionIDs), nil
}

// ListActive returns up to limit unexpired sessions for a user, pruning
// index entries whose records are gone. A non-positive limit falls back
// to DefaultListLimit.
func (s *Store) ListActive(ctx context.Context, userID string, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	userKey := s.userKey(userID)
	sessionIDs, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(sessionIDs) == 0 {
		return []*Session{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(sessionIDs))
	for i, sid := range sessionIDs {
		cmds[i] = pipe.HGetAll(ctx, s.key(sid))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	now := time.Now()
	sessions := make([]*Session, 0, len(sessionIDs))
	var stale []interface{}
	for i, cmd := range cmds {
		fields, cmdErr := cmd.Result()
		if cmdErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, cmdErr)
		}
		if len(fields) == 0 {
			stale = append(stale, sessionIDs[i])
			continue
		}
		sess, decErr := fromFields(sessionIDs[i], fields)
		if decErr != nil {
			return nil, decErr
		}
		if sess.Expired(now) {
			stale = append(stale, sessionIDs[i])
			continue
		}
		if len(sessions) < limit {
			sessions = append(sessions, sess)
		}
	}

	if len(stale) > 0 {
		if err := s.redis.SRem(ctx, userKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return sessions, nil
}

// ActiveCount returns the number of indexed session IDs for a user. The
// count may briefly include expired sessions that have not been pruned.
func (s *Store) ActiveCount(ctx context.Context, userID string) (int, error) {
	count, err := s.redis.SCard(ctx, s.userKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(count), nil
}

// Ping reports Redis availability and round-trip latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

func fromFields(sessionID string, fields map[string]string) (*Session, error) {
	created, err := strconv.ParseInt(fields["created"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt session record %q: %v", sessionID, err)
	}
	expires, err := strconv.ParseInt(fields["expires"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt session record %q: %v", sessionID, err)
	}
	return &Session{
		SessionID: sessionID,
		UserID:    fields["uid"],
		ClientIP:  fields["ip"],
		UserAgent: fields["ua"],
		CreatedAt: created,
		ExpiresAt: expires,
	}, nil
}
