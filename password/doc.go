// Package password implements credential hashing and verification with
// argon2id.
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<iterations>,p=<threads>$<salt>$<key>
//
// The [Hasher] supports transparent cost upgrades: when a stored hash was
// produced with weaker parameters, [Hasher.NeedsRehash] reports true so the
// caller can re-hash on the next successful login.
//
// This package owns hashing only. Credential policy and storage belong to
// the engine.
package password
