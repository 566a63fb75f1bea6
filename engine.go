package idcore

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/mkarlen/idcore/internal"
	"github.com/mkarlen/idcore/internal/audit"
	"github.com/mkarlen/idcore/internal/rate"
	"github.com/mkarlen/idcore/internal/stores"
	"github.com/mkarlen/idcore/jwt"
	"github.com/mkarlen/idcore/session"
	"github.com/mkarlen/idcore/token"
)

// Engine is the account-identity core. Build one through [Builder] and
// treat it as immutable afterwards; all methods are safe for concurrent
// use.
type Engine struct {
	config        Config
	accounts      *stores.AccountStore
	verifications *stores.VerificationStore
	suppressions  *stores.SuppressionStore
	sessions      *session.Store
	limiter       *rate.Limiter
	codec         *token.Codec
	jwtManager    *jwt.Manager
	hasher        PasswordHasher
	emailCrypto   EmailCrypto
	sender        NotificationSender
	audit         *audit.Dispatcher
	metrics       *Metrics

	// dummyHash is verified against on failure paths that have no
	// stored hash, so a missing account costs the same as a wrong
	// password.
	dummyHash string
}

// Close flushes the audit dispatcher. Safe on a nil receiver.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// AuditDropped reports how many audit events were shed under the
// drop-if-full policy.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// Login authenticates an email/passphrase pair and opens a session.
// Unknown addresses and wrong passphrases are indistinguishable to the
// caller; only an active lockout surfaces as [ErrAccountLocked].
func (e *Engine) Login(ctx context.Context, email, passphrase string) (*LoginResult, error) {
	if e == nil || e.hasher == nil {
		return nil, ErrEngineNotReady
	}

	ip := clientIPFromContext(ctx)
	normalized := e.emailCrypto.Normalize(email)
	masked := e.emailCrypto.Mask(normalized)

	if err := e.limiter.Check(ctx, ip); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricLoginRateLimited)
			e.emitAudit(ctx, auditEventLoginRateLimited, false, "", "", ErrLoginRateLimited, func() map[string]string {
				return map[string]string{"identifier": masked}
			})
			return nil, ErrLoginRateLimited
		}
		return nil, err
	}

	candidates := e.emailCrypto.HashCandidates(normalized)
	userID, matched, err := e.accounts.FindByEmailHashes(ctx, candidates)
	if err != nil {
		if errors.Is(err, stores.ErrAccountNotFound) {
			// Burn the same verification cost as a real account.
			_, _ = e.hasher.Verify(passphrase, e.dummyHash)
			e.noteLoginFailure(ctx, "", masked, "unknown_account")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	rec, err := e.accounts.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, stores.ErrAccountNotFound) {
			_, _ = e.hasher.Verify(passphrase, e.dummyHash)
			e.noteLoginFailure(ctx, "", masked, "claim_without_record")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	now := time.Now()

	if rec.PasswordHash == "" {
		_, _ = e.hasher.Verify(passphrase, e.dummyHash)
		e.noteLoginFailure(ctx, userID, masked, "blank_stored_hash")
		return nil, ErrInvalidCredentials
	}

	if rec.Locked(now) {
		e.metricInc(MetricLoginLockout)
		e.emitAudit(ctx, auditEventLoginLockout, false, userID, "", ErrAccountLocked, func() map[string]string {
			return map[string]string{"identifier": masked}
		})
		return nil, ErrAccountLocked
	}

	ok, err := e.hasher.Verify(passphrase, rec.PasswordHash)
	if err != nil || !ok {
		locked, recErr := e.accounts.RecordLoginFailure(ctx, userID, e.config.Lockout.MaxFailures, e.config.Lockout.LockDuration)
		if recErr != nil {
			log.Print("idcore: login failure recording failed")
		}
		if locked {
			e.metricInc(MetricLoginLockout)
			e.emitAudit(ctx, auditEventLoginLockout, false, userID, "", ErrAccountLocked, func() map[string]string {
				return map[string]string{"identifier": masked, "reason": "threshold_reached"}
			})
		}
		e.noteLoginFailure(ctx, userID, masked, "password_mismatch")
		return nil, ErrInvalidCredentials
	}

	if e.config.Password.UpgradeOnLogin {
		e.upgradePasswordHash(ctx, userID, passphrase, rec.PasswordHash)
	}
	passphrase = ""

	// A match under a legacy hash key re-homes the account under the
	// current key so future probes hit on the first candidate.
	if len(candidates) > 0 && matched != candidates[0] {
		if err := e.accounts.RotateEmailHash(ctx, userID, matched, candidates[0]); err != nil {
			log.Print("idcore: email hash rotation failed")
		}
	}

	if !rec.Verified {
		vrec, err := e.verifications.FindVerifiedByHashes(ctx, candidates)
		switch {
		case err == nil && vrec != nil:
			if err := e.accounts.MarkVerified(ctx, userID); err != nil {
				if errors.Is(err, stores.ErrAccountNotFound) {
					// Account deleted underneath the login.
					return nil, ErrInvalidCredentials
				}
				return nil, err
			}
		case e.config.Verification.RequireForLogin:
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditEventLoginFailure, false, userID, "", ErrEmailNotVerified, func() map[string]string {
				return map[string]string{"identifier": masked, "reason": "pending_verification"}
			})
			return nil, ErrEmailNotVerified
		}
	}

	if err := e.accounts.ResetFailureState(ctx, userID); err != nil {
		log.Print("idcore: failure state reset failed after login")
	}
	if err := e.limiter.Reset(ctx, ip); err != nil {
		log.Print("idcore: login throttle reset failed")
	}
	if err := e.accounts.StampLastLogin(ctx, userID, ip, userAgentFromContext(ctx), now); err != nil {
		log.Print("idcore: last-login stamp failed")
	}

	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, err
	}

	sess := &session.Session{
		SessionID: sid.String(),
		UserID:    userID,
		ClientIP:  ip,
		UserAgent: userAgentFromContext(ctx),
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(e.config.Session.TTL).Unix(),
	}
	if err := e.sessions.Save(ctx, sess); err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, userID, sess.SessionID, err, func() map[string]string {
			return map[string]string{"identifier": masked, "reason": "session_save_failed"}
		})
		return nil, err
	}

	// The token carries the session's own expiry so it stays usable
	// (and revocable) for exactly as long as the record is active.
	access, err := e.jwtManager.CreateAccessUntil(userID, sess.SessionID, time.Unix(sess.ExpiresAt, 0))
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricSessionCreated)
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, userID, sess.SessionID, nil, func() map[string]string {
		return map[string]string{"identifier": masked}
	})

	return &LoginResult{
		Token:     access,
		SessionID: sess.SessionID,
		ExpiresAt: time.Unix(sess.ExpiresAt, 0),
	}, nil
}

func (e *Engine) noteLoginFailure(ctx context.Context, userID, masked, reason string) {
	if err := e.limiter.RecordFailure(ctx, clientIPFromContext(ctx)); err != nil && !errors.Is(err, rate.ErrRateLimited) {
		log.Print("idcore: login throttle increment failed")
	}
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, userID, "", ErrInvalidCredentials, func() map[string]string {
		return map[string]string{"identifier": masked, "reason": reason}
	})
}

func (e *Engine) upgradePasswordHash(ctx context.Context, userID, passphrase, stored string) {
	upgrader, ok := e.hasher.(interface{ NeedsRehash(string) (bool, error) })
	if !ok {
		return
	}
	needs, err := upgrader.NeedsRehash(stored)
	if err != nil || !needs {
		return
	}
	upgraded, err := e.hasher.Hash(passphrase)
	if err != nil {
		log.Print("idcore: password hash upgrade generation failed")
		return
	}
	// Rehash is best-effort and must not block a successful login.
	if err := e.accounts.SetPasswordHash(ctx, userID, upgraded); err != nil {
		log.Print("idcore: password hash upgrade update failed")
	}
}

// Logout revokes the session named by a `Bearer` authorization header.
// Malformed headers, invalid tokens, and already-dead sessions all
// collapse to [ErrInvalidCredentials] so the caller learns nothing
// about which check failed.
func (e *Engine) Logout(ctx context.Context, authorization string) error {
	if e == nil || e.jwtManager == nil {
		return ErrEngineNotReady
	}

	raw, ok := strings.CutPrefix(authorization, "Bearer ")
	raw = strings.TrimSpace(raw)
	if !ok || raw == "" {
		e.emitAudit(ctx, auditEventLogoutSession, false, "", "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"reason": "malformed_header"}
		})
		return ErrInvalidCredentials
	}

	claims, err := e.jwtManager.ParseAccess(raw)
	if err != nil {
		e.emitAudit(ctx, auditEventLogoutSession, false, "", "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"reason": "invalid_access_token"}
		})
		return ErrInvalidCredentials
	}

	active, err := e.sessions.IsActive(ctx, claims.SID)
	if err != nil {
		return err
	}
	if !active {
		e.emitAudit(ctx, auditEventLogoutSession, false, claims.UID, claims.SID, ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"reason": "session_inactive"}
		})
		return ErrInvalidCredentials
	}

	existed, err := e.sessions.Revoke(ctx, claims.UID, claims.SID)
	if err != nil {
		return err
	}
	if !existed {
		// Lost a race with another revocation.
		e.emitAudit(ctx, auditEventLogoutSession, false, claims.UID, claims.SID, ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"reason": "session_inactive"}
		})
		return ErrInvalidCredentials
	}

	e.metricInc(MetricLogout)
	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, auditEventLogoutSession, true, claims.UID, claims.SID, nil, nil)
	return nil
}
