package stores

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrSuppressionUnavailable = errors.New("suppression redis unavailable")

// SuppressionRecord mirrors the sup:<emailHash> hash. ExpiresAt of zero
// means the entry never expires.
type SuppressionRecord struct {
	EmailHash string
	Reason    string
	Source    string
	Notes     string
	CreatedAt int64
	ExpiresAt int64
}

// Active reports whether the entry is in force at now.
func (r *SuppressionRecord) Active(now time.Time) bool {
	return r.ExpiresAt == 0 || now.Unix() < r.ExpiresAt
}

// SuppressionStore persists the send-block list, keyed by email hash.
type SuppressionStore struct {
	redis redis.UniversalClient
}

func NewSuppressionStore(redisClient redis.UniversalClient) *SuppressionStore {
	return &SuppressionStore{redis: redisClient}
}

func suppressionKey(emailHash string) string { return "sup:" + emailHash }

// Suppress writes the entry under its hash, replacing any prior entry.
func (s *SuppressionStore) Suppress(ctx context.Context, rec *SuppressionRecord) error {
	key := suppressionKey(rec.EmailHash)

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, map[string]interface{}{
			"reason":  rec.Reason,
			"source":  rec.Source,
			"notes":   rec.Notes,
			"created": rec.CreatedAt,
			"expires": rec.ExpiresAt,
		})
		if rec.ExpiresAt > 0 {
			pipe.ExpireAt(ctx, key, time.Unix(rec.ExpiresAt, 0))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSuppressionUnavailable, err)
	}
	return nil
}

// FindActive probes every candidate hash in order and returns the first
// entry still in force, or nil when none block the address.
func (s *SuppressionStore) FindActive(ctx context.Context, candidates []string) (*SuppressionRecord, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(candidates))
	for i, h := range candidates {
		cmds[i] = pipe.HGetAll(ctx, suppressionKey(h))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrSuppressionUnavailable, err)
	}

	now := time.Now()
	for i, cmd := range cmds {
		fields, cmdErr := cmd.Result()
		if cmdErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrSuppressionUnavailable, cmdErr)
		}
		if len(fields) == 0 {
			continue
		}
		rec, err := suppressionFromFields(candidates[i], fields)
		if err != nil {
			return nil, err
		}
		if rec.Active(now) {
			return rec, nil
		}
	}
	return nil, nil
}

// Unsuppress deletes entries for every candidate hash. Idempotent.
func (s *SuppressionStore) Unsuppress(ctx context.Context, candidates []string) error {
	if len(candidates) == 0 {
		return nil
	}
	keys := make([]string, len(candidates))
	for i, h := range candidates {
		keys[i] = suppressionKey(h)
	}
	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSuppressionUnavailable, err)
	}
	return nil
}

func suppressionFromFields(emailHash string, fields map[string]string) (*SuppressionRecord, error) {
	rec := &SuppressionRecord{
		EmailHash: emailHash,
		Reason:    fields["reason"],
		Source:    fields["source"],
		Notes:     fields["notes"],
	}
	for _, f := range []struct {
		name string
		dst  *int64
	}{
		{"created", &rec.CreatedAt},
		{"expires", &rec.ExpiresAt},
	} {
		if v := fields[f.name]; v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("corrupt suppression entry field %s: %v", f.name, err)
			}
			*f.dst = n
		}
	}
	return rec, nil
}
