package idcore

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/mkarlen/idcore/internal/stores"
)

// unsubscribeTokenTag scopes unsubscribe tokens embedded in outbound
// mail; they carry the email hash, never the address.
const unsubscribeTokenTag = "uns"

// ShouldBlock reports whether the address is suppressed under any hash
// candidate. A backend failure blocks: it is always safe to not send.
func (e *Engine) ShouldBlock(ctx context.Context, email string) bool {
	if e == nil {
		return true
	}

	normalized := e.emailCrypto.Normalize(email)
	rec, err := e.suppressions.FindActive(ctx, e.emailCrypto.HashCandidates(normalized))
	if err != nil {
		log.Print("idcore: suppression probe failed")
		return true
	}
	if rec != nil {
		e.metricInc(MetricSuppressionBlocked)
		return true
	}
	return false
}

// Suppress adds the address to the block list, keyed by its primary
// hash. A zero ttl falls back to the configured entry TTL; both zero
// means the entry never expires.
func (e *Engine) Suppress(ctx context.Context, emailOrHash string, reason SuppressionReason, source, notes string, ttl time.Duration) error {
	if e == nil {
		return ErrEngineNotReady
	}

	hash, masked := e.primaryHashOf(emailOrHash)
	if ttl <= 0 {
		ttl = e.config.Suppression.EntryTTL
	}

	now := time.Now()
	rec := &stores.SuppressionRecord{
		EmailHash: hash,
		Reason:    string(reason),
		Source:    source,
		Notes:     notes,
		CreatedAt: now.Unix(),
	}
	if ttl > 0 {
		rec.ExpiresAt = now.Add(ttl).Unix()
	}

	if err := e.suppressions.Suppress(ctx, rec); err != nil {
		return err
	}

	e.metricInc(MetricSuppressionAdded)
	e.emitAudit(ctx, auditEventSuppressionAdded, true, "", "", nil, func() map[string]string {
		return map[string]string{"identifier": masked, "reason": string(reason), "source": source}
	})
	return nil
}

// Unsuppress removes the address from the block list under every hash
// candidate. Removing an absent entry is not an error.
func (e *Engine) Unsuppress(ctx context.Context, emailOrHash string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	candidates, masked := e.candidatesOf(emailOrHash)
	if err := e.suppressions.Unsuppress(ctx, candidates); err != nil {
		return err
	}

	e.metricInc(MetricSuppressionRemoved)
	e.emitAudit(ctx, auditEventSuppressionRemoved, true, "", "", nil, func() map[string]string {
		return map[string]string{"identifier": masked}
	})
	return nil
}

// UnsubscribeToken encodes an opt-out token for outbound mail footers.
func (e *Engine) UnsubscribeToken(email string) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}
	normalized := e.emailCrypto.Normalize(email)
	return e.codec.Encode(unsubscribeTokenTag, e.emailCrypto.PrimaryHash(normalized))
}

// ProcessUnsubscribe suppresses the address named by an opt-out token.
func (e *Engine) ProcessUnsubscribe(ctx context.Context, tok string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	hash, err := e.codec.DecodeFor(unsubscribeTokenTag, tok)
	if err != nil {
		return ErrInvalidVerificationToken
	}
	return e.Suppress(ctx, hash, SuppressionReasonManual, "unsubscribe", "", 0)
}

// primaryHashOf resolves a plaintext email or an already-computed hash
// to the single primary hash, plus a masked identifier for audit.
func (e *Engine) primaryHashOf(emailOrHash string) (hash, masked string) {
	if isEmailHash(emailOrHash) {
		h := normalizeEmailHash(emailOrHash)
		return h, h
	}
	normalized := e.emailCrypto.Normalize(emailOrHash)
	return e.emailCrypto.PrimaryHash(normalized), e.emailCrypto.Mask(normalized)
}

func (e *Engine) candidatesOf(emailOrHash string) (candidates []string, masked string) {
	if isEmailHash(emailOrHash) {
		h := normalizeEmailHash(emailOrHash)
		return []string{h}, h
	}
	normalized := e.emailCrypto.Normalize(emailOrHash)
	return e.emailCrypto.HashCandidates(normalized), e.emailCrypto.Mask(normalized)
}

// isEmailHash detects the 64-hex-char HMAC-SHA256 form so flows can
// accept either a plaintext address or a previously-issued hash.
func isEmailHash(s string) bool {
	if len(s) != 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

func normalizeEmailHash(s string) string {
	return strings.ToLower(s)
}
