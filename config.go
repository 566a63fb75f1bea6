package idcore

import (
	"errors"
	"time"
)

// Config is the engine's full configuration. Configure once during
// initialization and treat as immutable afterwards.
type Config struct {
	Bearer       BearerConfig
	Token        TokenConfig
	Session      SessionConfig
	Lockout      LockoutConfig
	Verification VerificationConfig
	Suppression  SuppressionConfig
	Hashing      HashingConfig
	Password     PasswordConfig
	Throttle     ThrottleConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
}

// BearerConfig holds the JWT signing material for login tokens. A
// bearer token expires together with its session record, so the
// lifetime comes from [SessionConfig.TTL], not from here.
type BearerConfig struct {
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
}

// TokenConfig holds the HMAC secret for domain-tagged flow tokens
// (verification and unsubscribe links).
type TokenConfig struct {
	Secret []byte
}

// SessionConfig controls the session registry.
type SessionConfig struct {
	RedisPrefix string
	TTL         time.Duration
	ListLimit   int
}

// LockoutConfig controls the per-account failed-login lock.
type LockoutConfig struct {
	MaxFailures  int
	LockDuration time.Duration
}

// VerificationConfig controls the email verification workflow. TTL is
// floored at one minute so a token is never dead on arrival.
type VerificationConfig struct {
	TTL             time.Duration
	RequireForLogin bool
}

// SuppressionConfig controls the send-block list.
type SuppressionConfig struct {
	// EntryTTL of zero means suppression entries never expire.
	EntryTTL time.Duration
}

// HashingConfig holds the email hashing and encryption keys. All keys
// are 32 bytes. LegacyHashKeys are probed after the current key so
// records written before a rotation still resolve.
type HashingConfig struct {
	HashKey        []byte
	LegacyHashKeys [][]byte
	EncryptionKey  []byte
}

// PasswordConfig tunes the argon2id hasher.
type PasswordConfig struct {
	MemoryKB       uint32
	Iterations     uint32
	Parallelism    uint8
	SaltBytes      uint32
	KeyBytes       uint32
	UpgradeOnLogin bool
}

// ThrottleConfig controls the optional per-IP login throttle. It is
// independent of the per-account lockout and off by default.
type ThrottleConfig struct {
	EnableIPThrottle bool
	MaxAttempts      int
	Cooldown         time.Duration
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled bool
}

const verificationTTLFloor = time.Minute

// DefaultConfig returns a Config with production-leaning defaults. Key
// material (Bearer, Token, Hashing) must still be supplied by the caller.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Bearer: BearerConfig{
			SigningMethod: "hs256",
		},
		Session: SessionConfig{
			RedisPrefix: "sess",
			TTL:         24 * time.Hour,
			ListLimit:   25,
		},
		Lockout: LockoutConfig{
			MaxFailures:  5,
			LockDuration: 15 * time.Minute,
		},
		Verification: VerificationConfig{
			TTL:             24 * time.Hour,
			RequireForLogin: true,
		},
		Suppression: SuppressionConfig{
			EntryTTL: 0,
		},
		Password: PasswordConfig{
			MemoryKB:       64 * 1024,
			Iterations:     2,
			Parallelism:    2,
			SaltBytes:      16,
			KeyBytes:       32,
			UpgradeOnLogin: true,
		},
		Throttle: ThrottleConfig{
			EnableIPThrottle: false,
			MaxAttempts:      20,
			Cooldown:         15 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Bearer.PrivateKey = cloneBytes(cfg.Bearer.PrivateKey)
	out.Bearer.PublicKey = cloneBytes(cfg.Bearer.PublicKey)
	out.Token.Secret = cloneBytes(cfg.Token.Secret)
	out.Hashing.HashKey = cloneBytes(cfg.Hashing.HashKey)
	out.Hashing.EncryptionKey = cloneBytes(cfg.Hashing.EncryptionKey)
	if len(cfg.Hashing.LegacyHashKeys) > 0 {
		out.Hashing.LegacyHashKeys = make([][]byte, len(cfg.Hashing.LegacyHashKeys))
		for i, k := range cfg.Hashing.LegacyHashKeys {
			out.Hashing.LegacyHashKeys[i] = cloneBytes(k)
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate checks the configuration for internal consistency. Collab
// defaults injected by the builder (hasher, email crypto) validate their
// own key material separately.
func (c *Config) Validate() error {
	// Bearer
	switch c.Bearer.SigningMethod {
	case "hs256":
		if len(c.Bearer.PrivateKey) < 32 {
			return errors.New("hs256 requires PrivateKey of at least 32 bytes")
		}
	case "ed25519":
		if len(c.Bearer.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
		if len(c.Bearer.PublicKey) == 0 {
			return errors.New("ed25519 requires PublicKey")
		}
	default:
		return errors.New("unsupported Bearer signing method")
	}

	// Flow tokens
	if len(c.Token.Secret) < 32 {
		return errors.New("Token Secret must be at least 32 bytes")
	}

	// Session
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}
	if c.Session.ListLimit < 0 {
		return errors.New("Session ListLimit must be >= 0")
	}

	// Lockout
	if c.Lockout.MaxFailures <= 0 {
		return errors.New("Lockout MaxFailures must be > 0")
	}
	if c.Lockout.LockDuration <= 0 {
		return errors.New("Lockout LockDuration must be > 0")
	}

	// Verification
	if c.Verification.TTL <= 0 {
		return errors.New("Verification TTL must be > 0")
	}

	// Suppression
	if c.Suppression.EntryTTL < 0 {
		return errors.New("Suppression EntryTTL must be >= 0")
	}

	// Password
	if c.Password.MemoryKB < 8*1024 {
		return errors.New("Password MemoryKB must be >= 8192")
	}
	if c.Password.Iterations < 1 {
		return errors.New("Password Iterations must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltBytes < 16 {
		return errors.New("Password SaltBytes must be >= 16")
	}
	if c.Password.KeyBytes < 16 {
		return errors.New("Password KeyBytes must be >= 16")
	}

	// Throttle
	if c.Throttle.EnableIPThrottle {
		if c.Throttle.MaxAttempts <= 0 {
			return errors.New("Throttle MaxAttempts must be > 0 when the IP throttle is enabled")
		}
		if c.Throttle.Cooldown <= 0 {
			return errors.New("Throttle Cooldown must be > 0 when the IP throttle is enabled")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}

// verificationTTL applies the floor: a configured TTL below one minute
// would hand out tokens that expire in transit.
func (c *Config) verificationTTL() time.Duration {
	if c.Verification.TTL < verificationTTLFloor {
		return verificationTTLFloor
	}
	return c.Verification.TTL
}
