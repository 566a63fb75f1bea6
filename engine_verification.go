package idcore

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/mkarlen/idcore/internal/stores"
)

// verificationTokenTag scopes verification tokens so they can never be
// replayed against another flow.
const verificationTokenTag = "vfy"

// SendVerification creates a pending verification entry for the address
// and hands the encoded token to the notification sender. The argument
// may be a plaintext email or a previously-issued email hash; with a
// hash the recipient is recovered from the account's encrypted email.
// Suppressed addresses are a silent no-op and return an empty token.
func (e *Engine) SendVerification(ctx context.Context, emailOrHash string) (string, error) {
	if e == nil || e.sender == nil {
		return "", ErrEngineNotReady
	}

	recipient, candidates, err := e.resolveRecipient(ctx, emailOrHash)
	if err != nil {
		return "", err
	}
	masked := e.emailCrypto.Mask(recipient)

	blocked, err := e.suppressions.FindActive(ctx, candidates)
	if err != nil {
		return "", err
	}
	if blocked != nil {
		e.metricInc(MetricVerificationSendBlocked)
		e.emitAudit(ctx, auditEventVerificationSendBlocked, false, "", "", nil, func() map[string]string {
			return map[string]string{"identifier": masked, "reason": string(blocked.Reason)}
		})
		return "", nil
	}

	// The entry may predate the account, so a missing claim is fine;
	// confirmation resolves the owner late in that case.
	userID, err := e.accounts.ClaimOwner(ctx, candidates[0])
	if err != nil && !errors.Is(err, stores.ErrAccountNotFound) {
		return "", err
	}

	now := time.Now()
	rec := &stores.VerificationRecord{
		ID:        uuid.NewString(),
		EmailHash: candidates[0],
		UserID:    userID,
		Status:    stores.VerificationPending,
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(e.config.verificationTTL()).Unix(),
	}
	if err := e.verifications.Save(ctx, rec); err != nil {
		return "", err
	}

	tok, err := e.codec.Encode(verificationTokenTag, rec.ID)
	if err != nil {
		return "", err
	}

	if _, err := e.sender.SendVerificationEmail(ctx, VerificationEmail{Recipient: recipient, Token: tok}); err != nil {
		// Entry stays pending and the flow is resendable.
		e.metricInc(MetricVerificationFailed)
		e.emitAudit(ctx, auditEventVerificationFailure, false, userID, "", ErrNotificationSendFailed, func() map[string]string {
			return map[string]string{"identifier": masked, "reason": "sender_rejected"}
		})
		return "", ErrNotificationSendFailed
	}

	e.metricInc(MetricVerificationSent)
	e.emitAudit(ctx, auditEventVerificationSent, true, userID, "", nil, func() map[string]string {
		return map[string]string{"identifier": masked}
	})
	return tok, nil
}

// ConfirmVerification consumes a verification token and marks the
// owning account verified. Each token works exactly once.
func (e *Engine) ConfirmVerification(ctx context.Context, tok string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	id, err := e.codec.DecodeFor(verificationTokenTag, tok)
	if err != nil {
		e.metricInc(MetricVerificationFailed)
		e.emitAudit(ctx, auditEventVerificationFailure, false, "", "", ErrInvalidVerificationToken, func() map[string]string {
			return map[string]string{"reason": "token_decode"}
		})
		return ErrInvalidVerificationToken
	}

	rec, err := e.verifications.Get(ctx, id)
	if err != nil {
		return e.verificationFailure(ctx, "", mapVerificationError(err), "entry_load")
	}
	if rec.Expired(time.Now()) {
		return e.verificationFailure(ctx, rec.UserID, ErrVerificationExpired, "entry_expired")
	}
	if rec.Status != stores.VerificationPending {
		return e.verificationFailure(ctx, rec.UserID, ErrVerificationAlreadyUsed, "entry_consumed")
	}

	userID := rec.UserID
	if userID == "" {
		owner, err := e.accounts.ClaimOwner(ctx, rec.EmailHash)
		if err != nil && !errors.Is(err, stores.ErrAccountNotFound) {
			return err
		}
		userID = owner
	}
	if userID != "" {
		acc, err := e.accounts.Get(ctx, userID)
		if err == nil && acc.Verified {
			return e.verificationFailure(ctx, userID, ErrVerificationAlreadyUsed, "account_verified")
		}
	}

	if err := e.consumeWithRetry(ctx, id, stores.VerificationVerified); err != nil {
		return e.verificationFailure(ctx, userID, err, "consume")
	}

	if userID != "" {
		// The consumed entry is the single source of truth; the account
		// flag just mirrors it. An account deleted between send and
		// confirm has nothing left to mirror into.
		if err := e.accounts.MarkVerified(ctx, userID); err != nil && !errors.Is(err, stores.ErrAccountNotFound) {
			return err
		}
	}

	e.metricInc(MetricVerificationConfirmed)
	e.emitAudit(ctx, auditEventVerificationConfirmed, true, userID, "", nil, nil)
	return nil
}

// DeclineVerification handles a "this wasn't me" response: the entry is
// failed on a best-effort basis and the address is always suppressed so
// no further verification mail reaches it.
func (e *Engine) DeclineVerification(ctx context.Context, tok string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	id, err := e.codec.DecodeFor(verificationTokenTag, tok)
	if err != nil {
		e.metricInc(MetricVerificationFailed)
		e.emitAudit(ctx, auditEventVerificationFailure, false, "", "", ErrInvalidVerificationToken, func() map[string]string {
			return map[string]string{"reason": "token_decode"}
		})
		return ErrInvalidVerificationToken
	}

	rec, err := e.verifications.Get(ctx, id)
	if err != nil {
		return e.verificationFailure(ctx, "", mapVerificationError(err), "entry_load")
	}

	if err := e.verifications.Consume(ctx, id, stores.VerificationFailed); err != nil {
		if errors.Is(err, stores.ErrVerificationUnavailable) {
			return mapVerificationError(err)
		}
		// Losing the race to a confirm does not stop the suppression.
		log.Print("idcore: decline lost the consume race")
	}

	now := time.Now()
	sup := &stores.SuppressionRecord{
		EmailHash: rec.EmailHash,
		Reason:    string(SuppressionReasonComplaint),
		Source:    "verification_decline",
		CreatedAt: now.Unix(),
	}
	if ttl := e.config.Suppression.EntryTTL; ttl > 0 {
		sup.ExpiresAt = now.Add(ttl).Unix()
	}
	if err := e.suppressions.Suppress(ctx, sup); err != nil {
		return err
	}

	e.metricInc(MetricVerificationDeclined)
	e.metricInc(MetricSuppressionAdded)
	e.emitAudit(ctx, auditEventVerificationDeclined, true, rec.UserID, "", nil, nil)
	e.emitAudit(ctx, auditEventSuppressionAdded, true, rec.UserID, "", nil, func() map[string]string {
		return map[string]string{"reason": sup.Reason, "source": sup.Source}
	})
	return nil
}

// consumeWithRetry runs the conditional flip and, when it loses a race,
// re-reads the entry to reclassify. An entry that is somehow still
// pending after a lost race gets exactly one more attempt.
func (e *Engine) consumeWithRetry(ctx context.Context, id, target string) error {
	err := e.verifications.Consume(ctx, id, target)
	if !errors.Is(err, stores.ErrVerificationConsumed) {
		return mapVerificationError(err)
	}

	rec, getErr := e.verifications.Get(ctx, id)
	if getErr != nil {
		return mapVerificationError(getErr)
	}
	if rec.Status == stores.VerificationPending && !rec.Expired(time.Now()) {
		return mapVerificationError(e.verifications.Consume(ctx, id, target))
	}
	if rec.Expired(time.Now()) {
		return ErrVerificationExpired
	}
	return ErrVerificationAlreadyUsed
}

func (e *Engine) verificationFailure(ctx context.Context, userID string, err error, reason string) error {
	e.metricInc(MetricVerificationFailed)
	e.emitAudit(ctx, auditEventVerificationFailure, false, userID, "", err, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	return err
}

func mapVerificationError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stores.ErrVerificationNotFound):
		return ErrVerificationNotFound
	case errors.Is(err, stores.ErrVerificationExpired):
		return ErrVerificationExpired
	case errors.Is(err, stores.ErrVerificationConsumed):
		return ErrVerificationAlreadyUsed
	default:
		return err
	}
}

// resolveRecipient turns a plaintext email or an email hash into the
// deliverable address plus the ordered hash candidates to probe.
func (e *Engine) resolveRecipient(ctx context.Context, emailOrHash string) (string, []string, error) {
	if isEmailHash(emailOrHash) {
		hash := normalizeEmailHash(emailOrHash)
		userID, err := e.accounts.ClaimOwner(ctx, hash)
		if err != nil {
			if errors.Is(err, stores.ErrAccountNotFound) {
				return "", nil, ErrAccountNotFound
			}
			return "", nil, err
		}
		rec, err := e.accounts.Get(ctx, userID)
		if err != nil {
			if errors.Is(err, stores.ErrAccountNotFound) {
				return "", nil, ErrAccountNotFound
			}
			return "", nil, err
		}
		email, err := e.emailCrypto.Decrypt(rec.EmailEnc)
		if err != nil {
			return "", nil, err
		}
		return email, e.emailCrypto.HashCandidates(email), nil
	}

	normalized := e.emailCrypto.Normalize(emailOrHash)
	return normalized, e.emailCrypto.HashCandidates(normalized), nil
}
