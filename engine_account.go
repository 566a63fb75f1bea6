package idcore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/mkarlen/idcore/internal/stores"
)

// CreateAccount registers a new, unverified account. Uniqueness is
// enforced by the claim row in the store, so two concurrent
// registrations of the same address cannot both win.
func (e *Engine) CreateAccount(ctx context.Context, email, passphrase string) (*Account, error) {
	if e == nil || e.hasher == nil {
		return nil, ErrEngineNotReady
	}

	normalized := e.emailCrypto.Normalize(email)
	masked := e.emailCrypto.Mask(normalized)

	if normalized == "" {
		e.emitAudit(ctx, auditEventAccountCreationFailure, false, "", "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"reason": "empty_email"}
		})
		return nil, ErrInvalidCredentials
	}

	candidates := e.emailCrypto.HashCandidates(normalized)
	if _, _, err := e.accounts.FindByEmailHashes(ctx, candidates); err == nil {
		e.metricInc(MetricAccountDuplicate)
		e.emitAudit(ctx, auditEventAccountCreationDuplicate, false, "", "", ErrEmailAlreadyRegistered, func() map[string]string {
			return map[string]string{"identifier": masked}
		})
		return nil, ErrEmailAlreadyRegistered
	} else if !errors.Is(err, stores.ErrAccountNotFound) {
		return nil, err
	}

	passwordHash, err := e.hasher.Hash(passphrase)
	if err != nil {
		e.emitAudit(ctx, auditEventAccountCreationFailure, false, "", "", err, func() map[string]string {
			return map[string]string{"identifier": masked, "reason": "hash_policy"}
		})
		return nil, err
	}
	passphrase = ""

	emailEnc, err := e.emailCrypto.Encrypt(normalized)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	rec := &stores.AccountRecord{
		UserID:       uuid.NewString(),
		EmailHash:    candidates[0],
		EmailEnc:     emailEnc,
		PasswordHash: passwordHash,
		CreatedAt:    now.Unix(),
		UpdatedAt:    now.Unix(),
	}

	if err := e.accounts.Create(ctx, rec); err != nil {
		if errors.Is(err, stores.ErrEmailClaimTaken) {
			e.metricInc(MetricAccountDuplicate)
			e.emitAudit(ctx, auditEventAccountCreationDuplicate, false, "", "", ErrEmailAlreadyRegistered, func() map[string]string {
				return map[string]string{"identifier": masked}
			})
			return nil, ErrEmailAlreadyRegistered
		}
		e.emitAudit(ctx, auditEventAccountCreationFailure, false, "", "", err, func() map[string]string {
			return map[string]string{"identifier": masked, "reason": "store_create_failed"}
		})
		return nil, err
	}

	e.metricInc(MetricAccountCreated)
	e.emitAudit(ctx, auditEventAccountCreationSuccess, true, rec.UserID, "", nil, func() map[string]string {
		return map[string]string{"identifier": masked}
	})

	return &Account{
		UserID:    rec.UserID,
		Email:     normalized,
		Verified:  false,
		CreatedAt: time.Unix(rec.CreatedAt, 0),
	}, nil
}

// GetAccount loads an account and decrypts its stored email address.
func (e *Engine) GetAccount(ctx context.Context, userID string) (*Account, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	rec, err := e.accounts.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, stores.ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	email, err := e.emailCrypto.Decrypt(rec.EmailEnc)
	if err != nil {
		return nil, err
	}

	acc := &Account{
		UserID:    rec.UserID,
		Email:     email,
		Verified:  rec.Verified,
		CreatedAt: time.Unix(rec.CreatedAt, 0),
	}
	if rec.LastLoginAt > 0 {
		acc.LastLoginAt = time.Unix(rec.LastLoginAt, 0)
	}
	return acc, nil
}

// DeleteAccount irreversibly removes the account record, its email
// claim, and every session the user holds.
func (e *Engine) DeleteAccount(ctx context.Context, userID string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	rec, err := e.accounts.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, stores.ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		return err
	}

	if err := e.accounts.Delete(ctx, userID, rec.EmailHash); err != nil {
		return err
	}

	revoked, err := e.sessions.RevokeAll(ctx, userID)
	if err != nil {
		return err
	}
	for i := 0; i < revoked; i++ {
		e.metricInc(MetricSessionRevoked)
	}

	e.metricInc(MetricAccountDeleted)
	e.emitAudit(ctx, auditEventAccountDeleted, true, userID, "", nil, func() map[string]string {
		return map[string]string{"sessions_revoked": strconv.Itoa(revoked)}
	})
	return nil
}

// RevokeAllSessions logs the user out everywhere.
func (e *Engine) RevokeAllSessions(ctx context.Context, userID string) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}

	revoked, err := e.sessions.RevokeAll(ctx, userID)
	if err != nil {
		return 0, err
	}

	if revoked > 0 {
		e.metricInc(MetricLogoutAll)
	}
	for i := 0; i < revoked; i++ {
		e.metricInc(MetricSessionRevoked)
	}
	e.emitAudit(ctx, auditEventLogoutAll, true, userID, "", nil, func() map[string]string {
		return map[string]string{"sessions_revoked": strconv.Itoa(revoked)}
	})
	return revoked, nil
}

// ListSessions reports the user's live sessions, capped to limit.
func (e *Engine) ListSessions(ctx context.Context, userID string, limit int) ([]*Session, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	return e.sessions.ListActive(ctx, userID, limit)
}
