// Package emailcrypto is the default EmailCrypto collaborator: it
// normalizes addresses, derives the ordered keyed-hash candidate list that
// makes hashing-key rotation transparent to lookups, encrypts the plaintext
// address at rest, and produces the masked form used in audit output.
package emailcrypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

var (
	// ErrInvalidCiphertext is returned by Decrypt for undecodable or
	// unauthenticated ciphertext.
	ErrInvalidCiphertext = errors.New("invalid email ciphertext")
)

// Config carries the keyed-hash and encryption key material. HashKey is the
// current hashing key; LegacyHashKeys are older keys kept so that records
// written before a rotation stay findable. All keys are 32 bytes.
type Config struct {
	HashKey        []byte
	LegacyHashKeys [][]byte
	EncryptionKey  []byte
}

// Crypto implements normalization, candidate hashing, at-rest encryption,
// and masking for email addresses. Immutable after construction.
type Crypto struct {
	hashKeys [][]byte // current first, then legacy in configured order
	encKey   [keySize]byte
}

// New validates the key material and builds a Crypto.
func New(cfg Config) (*Crypto, error) {
	if len(cfg.HashKey) != keySize {
		return nil, errors.New("email hash key must be 32 bytes")
	}
	for _, k := range cfg.LegacyHashKeys {
		if len(k) != keySize {
			return nil, errors.New("legacy email hash keys must be 32 bytes")
		}
	}
	if len(cfg.EncryptionKey) != keySize {
		return nil, errors.New("email encryption key must be 32 bytes")
	}

	c := &Crypto{}
	c.hashKeys = make([][]byte, 0, 1+len(cfg.LegacyHashKeys))
	c.hashKeys = append(c.hashKeys, cloneKey(cfg.HashKey))
	for _, k := range cfg.LegacyHashKeys {
		c.hashKeys = append(c.hashKeys, cloneKey(k))
	}
	copy(c.encKey[:], cfg.EncryptionKey)

	return c, nil
}

// Normalize lowercases and trims an address. All hashing and encryption in
// this package operates on the normalized form.
func (c *Crypto) Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HashCandidates returns the ordered list of keyed hashes for email: the
// current-key hash first, then one per retained legacy key. Lookups by email
// must probe every candidate, not just the first.
func (c *Crypto) HashCandidates(email string) []string {
	normalized := c.Normalize(email)

	out := make([]string, 0, len(c.hashKeys))
	for _, key := range c.hashKeys {
		out = append(out, hashWithKey(key, normalized))
	}
	return out
}

// PrimaryHash returns the current-key hash, the form under which new records
// are written.
func (c *Crypto) PrimaryHash(email string) string {
	return hashWithKey(c.hashKeys[0], c.Normalize(email))
}

// Encrypt seals the normalized address with a random nonce. The result is
// base64url(nonce ‖ box).
func (c *Crypto) Encrypt(email string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", err
	}

	sealed := secretbox.Seal(nonce[:], []byte(c.Normalize(email)), &nonce, &c.encKey)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens ciphertext produced by Encrypt.
func (c *Crypto) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil || len(raw) < nonceSize {
		return "", ErrInvalidCiphertext
	}

	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])

	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &c.encKey)
	if !ok {
		return "", ErrInvalidCiphertext
	}
	return string(plain), nil
}

// Mask returns a non-reversible display form for audit output, e.g.
// "al***@ex***". The plaintext address never reaches a log line.
func (c *Crypto) Mask(email string) string {
	normalized := c.Normalize(email)

	at := strings.IndexByte(normalized, '@')
	if at <= 0 || at == len(normalized)-1 {
		return maskPart(normalized)
	}
	return maskPart(normalized[:at]) + "@" + maskPart(normalized[at+1:])
}

func maskPart(s string) string {
	if len(s) <= 2 {
		return "***"
	}
	return s[:2] + "***"
}

func hashWithKey(key []byte, normalized string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(normalized))
	return hex.EncodeToString(mac.Sum(nil))
}

func cloneKey(k []byte) []byte {
	out := make([]byte, len(k))
	copy(out, k)
	return out
}
