// Package internal contains helper utilities that are intentionally private to idcore,
// including secure random generation.
//
// # Sub-packages
//
//   - audit — async event dispatch (Dispatcher + Sink implementations)
//   - rate — Redis-backed per-IP login throttle
//   - stores — Redis stores for accounts, verification entries, and suppression
//
// # What this package must NOT do
//
//   - Export types that appear in the public idcore API.
//   - Be imported by any package outside the idcore module.
package internal
