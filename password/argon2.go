package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const algorithm = "argon2id"

const (
	minMemoryKB   uint32 = 8 * 1024
	minSaltBytes  uint32 = 16
	minKeyBytes   uint32 = 16
	minPassphrase        = 8
)

// Params tunes the argon2id cost. Zero values are rejected; use
// DefaultParams for a sensible interactive-login profile.
type Params struct {
	MemoryKB    uint32
	Iterations  uint32
	Parallelism uint8
	SaltBytes   uint32
	KeyBytes    uint32
}

// DefaultParams returns the cost profile used when none is supplied.
func DefaultParams() Params {
	return Params{
		MemoryKB:    64 * 1024,
		Iterations:  2,
		Parallelism: 2,
		SaltBytes:   16,
		KeyBytes:    32,
	}
}

// Hasher derives and verifies argon2id hashes. It is safe for
// concurrent use.
type Hasher struct {
	params Params
}

func New(p Params) (*Hasher, error) {
	if p.MemoryKB < minMemoryKB {
		return nil, fmt.Errorf("password: memory must be >= %d KB", minMemoryKB)
	}
	if p.Iterations < 1 {
		return nil, errors.New("password: iterations must be >= 1")
	}
	if p.Parallelism < 1 {
		return nil, errors.New("password: parallelism must be >= 1")
	}
	if p.SaltBytes < minSaltBytes {
		return nil, fmt.Errorf("password: salt must be >= %d bytes", minSaltBytes)
	}
	if p.KeyBytes < minKeyBytes {
		return nil, fmt.Errorf("password: key must be >= %d bytes", minKeyBytes)
	}
	return &Hasher{params: p}, nil
}

// Hash derives a PHC-encoded argon2id hash over the raw passphrase
// bytes. No Unicode normalization is applied.
func (h *Hasher) Hash(passphrase string) (string, error) {
	if len(passphrase) < minPassphrase {
		return "", fmt.Errorf("password: passphrase must be at least %d bytes", minPassphrase)
	}

	salt := make([]byte, h.params.SaltBytes)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey(
		[]byte(passphrase),
		salt,
		h.params.Iterations,
		h.params.MemoryKB,
		h.params.Parallelism,
		h.params.KeyBytes,
	)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithm,
		argon2.Version,
		h.params.MemoryKB,
		h.params.Iterations,
		h.params.Parallelism,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(key),
	), nil
}

// Verify recomputes the hash with the parameters embedded in encoded
// and compares in constant time.
func (h *Hasher) Verify(passphrase, encoded string) (bool, error) {
	rec, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}

	key := argon2.IDKey(
		[]byte(passphrase),
		rec.salt,
		rec.iterations,
		rec.memoryKB,
		rec.parallelism,
		uint32(len(rec.key)),
	)

	return subtle.ConstantTimeCompare(key, rec.key) == 1, nil
}

// NeedsRehash reports whether encoded was produced with a weaker cost
// than the hasher's current parameters.
func (h *Hasher) NeedsRehash(encoded string) (bool, error) {
	rec, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}

	switch {
	case h.params.MemoryKB > rec.memoryKB:
		return true, nil
	case h.params.Iterations > rec.iterations:
		return true, nil
	case h.params.Parallelism > rec.parallelism:
		return true, nil
	case h.params.KeyBytes != uint32(len(rec.key)):
		return true, nil
	}
	return false, nil
}

type phcRecord struct {
	memoryKB    uint32
	iterations  uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func parsePHC(encoded string) (*phcRecord, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, errors.New("password: malformed PHC string")
	}
	if parts[1] != algorithm {
		return nil, errors.New("password: unsupported algorithm")
	}

	version, ok := strings.CutPrefix(parts[2], "v=")
	if !ok {
		return nil, errors.New("password: missing version")
	}
	if v, err := strconv.Atoi(version); err != nil || v != argon2.Version {
		return nil, errors.New("password: unsupported argon2 version")
	}

	var rec phcRecord
	if err := parseCost(parts[3], &rec); err != nil {
		return nil, err
	}

	salt, err := base64.StdEncoding.DecodeString(parts[4])
	if err != nil || uint32(len(salt)) < minSaltBytes {
		return nil, errors.New("password: invalid salt")
	}
	rec.salt = salt

	key, err := base64.StdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return nil, errors.New("password: invalid key")
	}
	rec.key = key

	return &rec, nil
}

func parseCost(part string, rec *phcRecord) error {
	pairs := strings.Split(part, ",")
	if len(pairs) != 3 {
		return errors.New("password: malformed cost parameters")
	}

	var haveM, haveT, haveP bool
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return errors.New("password: malformed cost parameters")
		}
		switch name {
		case "m":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil || uint32(v) < minMemoryKB {
				return errors.New("password: invalid memory parameter")
			}
			rec.memoryKB = uint32(v)
			haveM = true
		case "t":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil || v < 1 {
				return errors.New("password: invalid iterations parameter")
			}
			rec.iterations = uint32(v)
			haveT = true
		case "p":
			v, err := strconv.ParseUint(value, 10, 8)
			if err != nil || v < 1 {
				return errors.New("password: invalid parallelism parameter")
			}
			rec.parallelism = uint8(v)
			haveP = true
		default:
			return errors.New("password: unknown cost parameter")
		}
	}
	if !haveM || !haveT || !haveP {
		return errors.New("password: missing cost parameters")
	}
	return nil
}
