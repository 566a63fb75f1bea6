package idcore

import "errors"

var (
	// ErrInvalidCredentials covers every login failure that must stay
	// indistinguishable to the caller: unknown address, wrong password,
	// malformed or revoked bearer tokens on logout.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is deliberately distinct from ErrInvalidCredentials
	// even though it concedes account existence to a caller who already
	// presented a wrong password.
	ErrAccountLocked    = errors.New("account locked")
	ErrEmailNotVerified = errors.New("email not verified")

	ErrInvalidVerificationToken = errors.New("invalid verification token")
	ErrVerificationNotFound     = errors.New("verification not found")
	ErrVerificationExpired      = errors.New("verification expired")
	ErrVerificationAlreadyUsed  = errors.New("verification already used")

	ErrEmailAlreadyRegistered = errors.New("email already registered")
	ErrAccountNotFound        = errors.New("account not found")

	ErrNotificationSendFailed = errors.New("notification send failed")

	ErrLoginRateLimited = errors.New("login rate limited")
	ErrEngineNotReady   = errors.New("engine not initialized")
)
