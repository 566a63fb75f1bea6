// Package idcore is an account-identity core: email/password login with
// per-account lockout, Redis-backed sessions, single-use email
// verification tokens, and a hash-keyed suppression list.
//
// The package is designed for concurrent server workloads: Engine
// methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// Email addresses are never stored in plaintext. Lookups go through
// HMAC-SHA256 hashes (with ordered legacy-key candidates for key
// rotation), the address itself is encrypted at rest, and audit output
// only ever sees a masked form.
//
// Every correctness-critical state transition — verification token
// consumption, lockout increment, session revocation, email-claim
// registration — is a single conditional write (a Redis Lua script),
// so the package needs no cross-process locks.
package idcore
