package idcore

import (
	"context"
	"io"
	"time"

	"github.com/mkarlen/idcore/internal/audit"
	"github.com/mkarlen/idcore/session"
)

// Account is the engine's public view of an account record. Email is
// the decrypted address; it is never stored in plaintext.
type Account struct {
	UserID      string
	Email       string
	Verified    bool
	CreatedAt   time.Time
	LastLoginAt time.Time
}

// LoginResult is returned by [Engine.Login].
type LoginResult struct {
	Token     string
	SessionID string
	ExpiresAt time.Time
}

// Session re-exports the registry's session model.
type Session = session.Session

// VerificationStatus classifies a verification entry as seen by callers.
type VerificationStatus string

const (
	VerificationStatusPending  VerificationStatus = "pending"
	VerificationStatusVerified VerificationStatus = "verified"
	VerificationStatusFailed   VerificationStatus = "failed"
	VerificationStatusExpired  VerificationStatus = "expired"
)

// SuppressionReason explains why an address is on the block list.
type SuppressionReason string

const (
	SuppressionReasonBounce    SuppressionReason = "bounce"
	SuppressionReasonComplaint SuppressionReason = "complaint"
	SuppressionReasonAbuse     SuppressionReason = "abuse"
	SuppressionReasonManual    SuppressionReason = "manual"
	SuppressionReasonOther     SuppressionReason = "other"
)

// PasswordHasher hashes and verifies credentials. The default is the
// argon2id hasher from the password package.
type PasswordHasher interface {
	Hash(raw string) (string, error)
	Verify(raw, stored string) (bool, error)
}

// EmailCrypto normalizes, hashes, encrypts, and masks email addresses.
// HashCandidates returns the current-key hash first, then one hash per
// configured legacy key, so callers can probe records written before a
// key rotation.
type EmailCrypto interface {
	Normalize(email string) string
	HashCandidates(email string) []string
	PrimaryHash(email string) string
	Encrypt(email string) (string, error)
	Decrypt(ciphertext string) (string, error)
	Mask(email string) string
}

// VerificationEmail is the payload handed to the NotificationSender.
type VerificationEmail struct {
	Recipient string
	Token     string
}

// SendReceipt identifies a dispatched notification at the provider.
type SendReceipt struct {
	MessageID string
}

// NotificationSender delivers verification email. A returned error maps
// to ErrNotificationSendFailed and leaves the entry pending and
// resendable.
type NotificationSender interface {
	SendVerificationEmail(ctx context.Context, email VerificationEmail) (SendReceipt, error)
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = audit.Event

// AuditSink receives [AuditEvent] values from the audit dispatcher.
type AuditSink = audit.Sink

// NoOpSink is an [AuditSink] that discards all events.
type NoOpSink = audit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = audit.ChannelSink

// JSONWriterSink writes JSON-encoded events to an [io.Writer].
type JSONWriterSink = audit.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}
