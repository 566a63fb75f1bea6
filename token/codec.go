// Package token implements the signed-token primitive shared by the
// verification and unsubscribe flows: an opaque identifier bound to a short
// domain tag and authenticated with HMAC-SHA256.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
)

// ErrInvalidToken is the single failure mode for decoding. Malformed
// structure, bad base64, a wrong signature, and a wrong domain tag are
// deliberately indistinguishable to the caller.
var ErrInvalidToken = errors.New("invalid token")

const minSecretSize = 32

// Codec signs and verifies domain-tagged identifiers. The wire format is
// base64url(tag ‖ "." ‖ id) + "." + base64url(HMAC-SHA256(secret, tag ‖ "." ‖ id)).
//
// A Codec is immutable and safe for concurrent use.
type Codec struct {
	secret []byte
}

// NewCodec creates a Codec over the given HMAC secret. The secret must be
// at least 32 bytes.
func NewCodec(secret []byte) (*Codec, error) {
	if len(secret) < minSecretSize {
		return nil, errors.New("token secret must be at least 32 bytes")
	}
	s := make([]byte, len(secret))
	copy(s, secret)
	return &Codec{secret: s}, nil
}

// Encode produces a signed token for id under the given domain tag. Neither
// tag nor id may be empty, and neither may contain the "." separator.
func (c *Codec) Encode(tag, id string) (string, error) {
	if tag == "" || id == "" {
		return "", errors.New("token tag and id must be non-empty")
	}
	if strings.Contains(tag, ".") || strings.Contains(id, ".") {
		return "", errors.New("token tag and id must not contain '.'")
	}

	payload := tag + "." + id
	return base64.RawURLEncoding.EncodeToString([]byte(payload)) +
		"." +
		base64.RawURLEncoding.EncodeToString(c.sign(payload)), nil
}

// Decode verifies the signature and returns the embedded domain tag and
// identifier. Any structural or cryptographic mismatch yields ErrInvalidToken.
func (c *Codec) Decode(tok string) (tag, id string, err error) {
	parts := strings.Split(tok, ".")
	if len(parts) != 2 {
		return "", "", ErrInvalidToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", "", ErrInvalidToken
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", "", ErrInvalidToken
	}

	if !hmac.Equal(sig, c.sign(string(payload))) {
		return "", "", ErrInvalidToken
	}

	inner := strings.SplitN(string(payload), ".", 2)
	if len(inner) != 2 || inner[0] == "" || inner[1] == "" {
		return "", "", ErrInvalidToken
	}
	return inner[0], inner[1], nil
}

// DecodeFor decodes tok and additionally requires its domain tag to equal
// want, rejecting cross-purpose replay of a token minted for another flow.
func (c *Codec) DecodeFor(want, tok string) (string, error) {
	tag, id, err := c.Decode(tok)
	if err != nil {
		return "", err
	}
	if tag != want {
		return "", ErrInvalidToken
	}
	return id, nil
}

func (c *Codec) sign(payload string) []byte {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}
