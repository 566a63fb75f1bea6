package idcore

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventLoginSuccess             = "login_success"
	auditEventLoginFailure             = "login_failure"
	auditEventLoginLockout             = "login_lockout"
	auditEventLoginRateLimited         = "login_rate_limited"
	auditEventLogoutSession            = "logout_session"
	auditEventLogoutAll                = "logout_all"
	auditEventAccountCreationSuccess   = "account_creation_success"
	auditEventAccountCreationDuplicate = "account_creation_duplicate"
	auditEventAccountCreationFailure   = "account_creation_failure"
	auditEventAccountDeleted           = "account_deleted"
	auditEventVerificationSent         = "verification_sent"
	auditEventVerificationSendBlocked  = "verification_send_blocked"
	auditEventVerificationConfirmed    = "verification_confirmed"
	auditEventVerificationDeclined     = "verification_declined"
	auditEventVerificationFailure      = "verification_failure"
	auditEventSuppressionAdded         = "suppression_added"
	auditEventSuppressionRemoved       = "suppression_removed"
)

// AuditErrorCode is the stable error vocabulary used in emitted events,
// decoupled from the Go error values so sinks can aggregate on it.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrAccountLocked      AuditErrorCode = "account_locked"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrEmailNotVerified   AuditErrorCode = "email_not_verified"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrTokenNotFound      AuditErrorCode = "token_not_found"
	auditErrTokenExpired       AuditErrorCode = "token_expired"
	auditErrTokenUsed          AuditErrorCode = "token_used"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrAccountNotFound    AuditErrorCode = "account_not_found"
	auditErrSendFailed         AuditErrorCode = "send_failed"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrLoginRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrEmailNotVerified):
		return auditErrEmailNotVerified
	case errors.Is(err, ErrInvalidVerificationToken):
		return auditErrInvalidToken
	case errors.Is(err, ErrVerificationNotFound):
		return auditErrTokenNotFound
	case errors.Is(err, ErrVerificationExpired):
		return auditErrTokenExpired
	case errors.Is(err, ErrVerificationAlreadyUsed):
		return auditErrTokenUsed
	case errors.Is(err, ErrEmailAlreadyRegistered):
		return auditErrDuplicate
	case errors.Is(err, ErrAccountNotFound):
		return auditErrAccountNotFound
	case errors.Is(err, ErrNotificationSendFailed):
		return auditErrSendFailed
	default:
		return auditErrInternal
	}
}
