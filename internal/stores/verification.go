package stores

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Verification entry statuses. PENDING is the only state a consume can
// leave; VERIFIED and FAILED are terminal.
const (
	VerificationPending  = "pending"
	VerificationVerified = "verified"
	VerificationFailed   = "failed"
)

var (
	ErrVerificationNotFound    = errors.New("verification entry not found")
	ErrVerificationExpired     = errors.New("verification entry expired")
	ErrVerificationConsumed    = errors.New("verification entry already consumed")
	ErrVerificationUnavailable = errors.New("verification redis unavailable")
)

// usedRetention keeps consumed and expired entries around so a replayed
// token classifies as already-used or expired instead of not-found.
const usedRetention = 24 * time.Hour

// consumeVerificationLua is the single correctness-critical conditional
// write of the flow: transition PENDING -> target only when the entry is
// still PENDING and unexpired.
// KEYS[1] = entry key
// ARGV[1] = target status, ARGV[2] = now unix, ARGV[3] = retention seconds
var consumeVerificationLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {err='not_found'}
end
local status = redis.call('HGET', KEYS[1], 'status')
if status ~= 'pending' then
  return {err='consumed'}
end
local expires = tonumber(redis.call('HGET', KEYS[1], 'expires'))
local now = tonumber(ARGV[2])
if now >= expires then
  return {err='expired'}
end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'used_at', ARGV[2])
redis.call('EXPIRE', KEYS[1], ARGV[3])
return 1
`)

// VerificationRecord mirrors the vfy:<id> hash.
type VerificationRecord struct {
	ID        string
	EmailHash string
	UserID    string
	Status    string
	CreatedAt int64
	ExpiresAt int64
	UsedAt    int64
}

// Expired reports whether a still-pending entry has passed its logical
// expiry. Terminal entries are never reclassified as expired.
func (r *VerificationRecord) Expired(now time.Time) bool {
	return r.Status == VerificationPending && now.Unix() >= r.ExpiresAt
}

// VerificationStore persists verification entries plus a per-email-hash
// index set used to find prior verified entries for an address.
type VerificationStore struct {
	redis redis.UniversalClient
}

func NewVerificationStore(redisClient redis.UniversalClient) *VerificationStore {
	return &VerificationStore{redis: redisClient}
}

func verificationKey(id string) string { return "vfy:" + id }

func verificationIndexKey(emailHash string) string { return "vfyh:" + emailHash }

// Save writes a new PENDING entry. The Redis TTL runs past the logical
// expiry so replayed tokens keep classifying correctly for a while.
func (s *VerificationStore) Save(ctx context.Context, rec *VerificationRecord) error {
	ttl := time.Until(time.Unix(rec.ExpiresAt, 0)) + usedRetention
	key := verificationKey(rec.ID)
	indexKey := verificationIndexKey(rec.EmailHash)

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]interface{}{
			"email_hash": rec.EmailHash,
			"uid":        rec.UserID,
			"status":     rec.Status,
			"created":    rec.CreatedAt,
			"expires":    rec.ExpiresAt,
		})
		pipe.Expire(ctx, key, ttl)
		pipe.SAdd(ctx, indexKey, rec.ID)
		pipe.Expire(ctx, indexKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
	}
	return nil
}

// Get loads an entry without mutating it.
func (s *VerificationStore) Get(ctx context.Context, id string) (*VerificationRecord, error) {
	fields, err := s.redis.HGetAll(ctx, verificationKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrVerificationNotFound
	}
	return verificationFromFields(id, fields)
}

// Consume attempts the PENDING -> target transition. The script rejects
// with ErrVerificationConsumed when another consumer won the race, and
// ErrVerificationExpired when the logical expiry has passed.
func (s *VerificationStore) Consume(ctx context.Context, id, target string) error {
	if target != VerificationVerified && target != VerificationFailed {
		return fmt.Errorf("invalid consume target %q", target)
	}

	_, err := consumeVerificationLua.Run(ctx, s.redis,
		[]string{verificationKey(id)},
		target,
		time.Now().Unix(),
		int(usedRetention.Seconds()),
	).Result()
	if err != nil {
		switch err.Error() {
		case "not_found":
			return ErrVerificationNotFound
		case "expired":
			return ErrVerificationExpired
		case "consumed":
			return ErrVerificationConsumed
		default:
			return fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
		}
	}
	return nil
}

// FindVerifiedByHashes scans the index sets for the candidate hashes and
// returns the first entry that completed verification, or
// ErrVerificationNotFound.
func (s *VerificationStore) FindVerifiedByHashes(ctx context.Context, candidates []string) (*VerificationRecord, error) {
	for _, h := range candidates {
		ids, err := s.redis.SMembers(ctx, verificationIndexKey(h)).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
		}
		for _, id := range ids {
			rec, err := s.Get(ctx, id)
			if err != nil {
				if errors.Is(err, ErrVerificationNotFound) {
					continue
				}
				return nil, err
			}
			if rec.Status == VerificationVerified {
				return rec, nil
			}
		}
	}
	return nil, ErrVerificationNotFound
}

func verificationFromFields(id string, fields map[string]string) (*VerificationRecord, error) {
	rec := &VerificationRecord{
		ID:        id,
		EmailHash: fields["email_hash"],
		UserID:    fields["uid"],
		Status:    fields["status"],
	}

	for _, f := range []struct {
		name string
		dst  *int64
	}{
		{"created", &rec.CreatedAt},
		{"expires", &rec.ExpiresAt},
		{"used_at", &rec.UsedAt},
	} {
		if v := fields[f.name]; v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("corrupt verification entry %q field %s: %v", id, f.name, err)
			}
			*f.dst = n
		}
	}
	return rec, nil
}
