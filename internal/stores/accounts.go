package stores

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrAccountNotFound     = errors.New("account record not found")
	ErrEmailClaimTaken     = errors.New("email claim already taken")
	ErrAccountsUnavailable = errors.New("accounts redis unavailable")
)

// AccountRecord mirrors the acc:<userID> hash. PasswordHash may be blank
// for accounts provisioned without a usable credential.
type AccountRecord struct {
	UserID       string
	EmailHash    string
	EmailEnc     string
	PasswordHash string
	Verified     bool

	LoginFailCount int
	LockUntil      int64

	CreatedAt   int64
	UpdatedAt   int64
	LastLoginAt int64
	LastLoginIP string
	LastLoginUA string
}

// Locked reports whether the record carries an unexpired lock.
func (r *AccountRecord) Locked(now time.Time) bool {
	return r.LockUntil > 0 && now.Unix() < r.LockUntil
}

// recordFailureLua is the lockout conditional write: increment the
// failure counter and, when it reaches the threshold, set the lock and
// reset the counter to zero in the same step. Returns {count, locked}.
var recordFailureLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {err='not_found'}
end
local count = redis.call('HINCRBY', KEYS[1], 'fail_count', 1)
local max = tonumber(ARGV[1])
if count >= max then
  redis.call('HSET', KEYS[1], 'lock_until', ARGV[2], 'fail_count', 0)
  return {0, 1}
end
return {count, 0}
`)

// rotateClaimLua re-points an email claim row from one hash to another,
// used when a login matched under a legacy hash key. The new claim is
// only written when it is free or already ours.
var rotateClaimLua = redis.NewScript(`
local owner = redis.call('GET', KEYS[1])
if owner and owner ~= ARGV[1] then
  return {err='taken'}
end
redis.call('SET', KEYS[1], ARGV[1])
if KEYS[2] ~= KEYS[1] then
  local old = redis.call('GET', KEYS[2])
  if old == ARGV[1] then
    redis.call('DEL', KEYS[2])
  end
end
return 1
`)

// markVerifiedLua flips the verified flag only when the record still
// exists. Returns 1 on write, 0 when the account is gone.
var markVerifiedLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], 'verified', 1, 'updated_at', ARGV[1])
return 1
`)

// AccountStore persists account records and email-claim rows. A claim
// row acch:<emailHash> -> userID written with SET NX is the uniqueness
// guard for registration.
type AccountStore struct {
	redis redis.UniversalClient
}

func NewAccountStore(redisClient redis.UniversalClient) *AccountStore {
	return &AccountStore{redis: redisClient}
}

func accountKey(userID string) string { return "acc:" + userID }

func claimKey(emailHash string) string { return "acch:" + emailHash }

// Create claims the email hash and writes the account record. The SET NX
// on the claim row is what makes concurrent registration of the same
// address safe: exactly one caller wins.
func (s *AccountStore) Create(ctx context.Context, rec *AccountRecord) error {
	ok, err := s.redis.SetNX(ctx, claimKey(rec.EmailHash), rec.UserID, 0).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAccountsUnavailable, err)
	}
	if !ok {
		return ErrEmailClaimTaken
	}

	if err := s.redis.HSet(ctx, accountKey(rec.UserID), recordFields(rec)).Err(); err != nil {
		// Roll back the claim so the address is not stranded.
		_ = s.redis.Del(ctx, claimKey(rec.EmailHash)).Err()
		return fmt.Errorf("%w: %v", ErrAccountsUnavailable, err)
	}
	return nil
}

// Get loads the account record.
func (s *AccountStore) Get(ctx context.Context, userID string) (*AccountRecord, error) {
	fields, err := s.redis.HGetAll(ctx, accountKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAccountsUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrAccountNotFound
	}
	return recordFromFields(userID, fields)
}

// ClaimOwner resolves an email hash to its owning user ID.
func (s *AccountStore) ClaimOwner(ctx context.Context, emailHash string) (string, error) {
	owner, err := s.redis.Get(ctx, claimKey(emailHash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrAccountNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrAccountsUnavailable, err)
	}
	return owner, nil
}

// FindByEmailHashes probes claim rows for each candidate hash in order
// and returns the first owner found, along with the hash that matched.
func (s *AccountStore) FindByEmailHashes(ctx context.Context, candidates []string) (userID, matched string, err error) {
	if len(candidates) == 0 {
		return "", "", ErrAccountNotFound
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(candidates))
	for i, h := range candidates {
		cmds[i] = pipe.Get(ctx, claimKey(h))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return "", "", fmt.Errorf("%w: %v", ErrAccountsUnavailable, err)
	}

	for i, cmd := range cmds {
		owner, cmdErr := cmd.Result()
		if cmdErr != nil {
			if errors.Is(cmdErr, redis.Nil) {
				continue
			}
			return "", "", fmt.Errorf("%w: %v", ErrAccountsUnavailable, cmdErr)
		}
		return owner, candidates[i], nil
	}
	return "", "", ErrAccountNotFound
}

// RotateEmailHash re-points the claim row to the current-key hash after
// a login matched under a legacy hash, and updates the stored hash.
func (s *AccountStore) RotateEmailHash(ctx context.Context, userID, oldHash, newHash string) error {
	if oldHash == newHash {
		return nil
	}

	_, err := rotateClaimLua.Run(ctx, s.redis,
		[]string{claimKey(newHash), claimKey(oldHash)},
		userID,
	).Result()
	if err != nil {
		if err.Error() == "taken" {
			return ErrEmailClaimTaken
		}
		return fmt.Errorf("%w: %v", ErrAccountsUnavailable, err)
	}

	if err := s.redis.HSet(ctx, accountKey(userID),
		"email_hash", newHash,
		"updated_at", time.Now().Unix(),
	).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrAccountsUnavailable, err)
	}
	return nil
}

// RecordLoginFailure bumps the failure counter atomically. When the
// counter reaches maxFailures the lock is set and the counter returns
// to zero in the same script. Reports whether this failure locked the
// account.
func (s *AccountStore) RecordLoginFailure(ctx context.Context, userID string, maxFailures int, lockDuration time.Duration) (bool, error) {
	lockUntil := time.Now().Add(lockDuration).Unix()

	result, err := recordFailureLua.Run(ctx, s.redis,
		[]string{accountKey(userID)},
		maxFailures,
		lockUntil,
	).Result()
	if err != nil {
		if err.Error() == "not_found" {
			return false, ErrAccountNotFound
		}
		return false, fmt.Errorf("%w: %v", ErrAccountsUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) != 2 {
		return false, fmt.Errorf("%w: invalid lockout script response", ErrAccountsUnavailable)
	}
	locked, _ := parts[1].(int64)
	return locked == 1, nil
}

// ResetFailureState clears the failure counter and any lock. Called on
// successful login.
func (s *AccountStore) ResetFailureState(ctx context.Context, userID string) error {
	if err := s.redis.HSet(ctx, accountKey(userID),
		"fail_count", 0,
		"lock_until", 0,
	).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrAccountsUnavailable, err)
	}
	return nil
}

// MarkVerified flips the verified flag. Idempotent: marking an already
// verified account is a no-op write. The write is guarded on the record
// still existing, so verifying an account deleted mid-flow does not
// resurrect a partial hash.
func (s *AccountStore) MarkVerified(ctx context.Context, userID string) error {
	result, err := markVerifiedLua.Run(ctx, s.redis,
		[]string{accountKey(userID)},
		time.Now().Unix(),
	).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAccountsUnavailable, err)
	}
	if n, _ := result.(int64); n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// SetPasswordHash replaces the stored credential, used for transparent
// cost upgrades after a successful verify.
func (s *AccountStore) SetPasswordHash(ctx context.Context, userID, passwordHash string) error {
	if err := s.redis.HSet(ctx, accountKey(userID),
		"pass", passwordHash,
		"updated_at", time.Now().Unix(),
	).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrAccountsUnavailable, err)
	}
	return nil
}

// StampLastLogin records login metadata.
func (s *AccountStore) StampLastLogin(ctx context.Context, userID, ip, userAgent string, at time.Time) error {
	if err := s.redis.HSet(ctx, accountKey(userID),
		"last_login_at", at.Unix(),
		"last_login_ip", ip,
		"last_login_ua", userAgent,
	).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrAccountsUnavailable, err)
	}
	return nil
}

// Delete removes the record and its claim row.
func (s *AccountStore) Delete(ctx context.Context, userID, emailHash string) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, accountKey(userID))
		pipe.Del(ctx, claimKey(emailHash))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAccountsUnavailable, err)
	}
	return nil
}

func recordFields(rec *AccountRecord) map[string]interface{} {
	verified := 0
	if rec.Verified {
		verified = 1
	}
	return map[string]interface{}{
		"email_hash":    rec.EmailHash,
		"email_enc":     rec.EmailEnc,
		"pass":          rec.PasswordHash,
		"verified":      verified,
		"fail_count":    rec.LoginFailCount,
		"lock_until":    rec.LockUntil,
		"created_at":    rec.CreatedAt,
		"updated_at":    rec.UpdatedAt,
		"last_login_at": rec.LastLoginAt,
		"last_login_ip": rec.LastLoginIP,
		"last_login_ua": rec.LastLoginUA,
	}
}

func recordFromFields(userID string, fields map[string]string) (*AccountRecord, error) {
	rec := &AccountRecord{
		UserID:       userID,
		EmailHash:    fields["email_hash"],
		EmailEnc:     fields["email_enc"],
		PasswordHash: fields["pass"],
		Verified:     fields["verified"] == "1",
		LastLoginIP:  fields["last_login_ip"],
		LastLoginUA:  fields["last_login_ua"],
	}

	for _, f := range []struct {
		name string
		dst  *int64
	}{
		{"lock_until", &rec.LockUntil},
		{"created_at", &rec.CreatedAt},
		{"updated_at", &rec.UpdatedAt},
		{"last_login_at", &rec.LastLoginAt},
	} {
		if v := fields[f.name]; v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("corrupt account record %q field %s: %v", userID, f.name, err)
			}
			*f.dst = n
		}
	}
	if v := fields["fail_count"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("corrupt account record %q field fail_count: %v", userID, err)
		}
		rec.LoginFailCount = n
	}
	return rec, nil
}
