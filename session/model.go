// Package session provides Redis-backed session persistence for the
// engine's login registry.
//
// Each session lives in its own Redis hash keyed by session ID, with a
// per-user set indexing the sessions that belong to an account. The set
// is advisory: entries for expired sessions are pruned lazily on read,
// and revocation removes both the record and its index entry in one
// atomic script.
package session

import "time"

// Session is one authenticated login. The ClientIP and UserAgent fields
// are advisory metadata captured at login time.
type Session struct {
	SessionID string
	UserID    string
	ClientIP  string
	UserAgent string

	CreatedAt int64
	ExpiresAt int64
}

// Expired reports whether the session's absolute lifetime has passed.
func (s *Session) Expired(now time.Time) bool {
	return now.Unix() >= s.ExpiresAt
}
