package idcore

import (
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/mkarlen/idcore/emailcrypto"
	"github.com/mkarlen/idcore/internal/audit"
	"github.com/mkarlen/idcore/internal/rate"
	"github.com/mkarlen/idcore/internal/stores"
	"github.com/mkarlen/idcore/jwt"
	"github.com/mkarlen/idcore/password"
	"github.com/mkarlen/idcore/session"
	"github.com/mkarlen/idcore/token"
)

// Builder assembles an [Engine]. Collaborators left unset fall back to
// the package defaults: the argon2id hasher and the HMAC/secretbox email
// crypto built from [Config.Hashing].
type Builder struct {
	config Config
	redis  redis.UniversalClient

	hasher      PasswordHasher
	emailCrypto EmailCrypto
	sender      NotificationSender
	auditSink   AuditSink

	built bool
}

func New() *Builder {
	return &Builder{config: defaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithPasswordHasher overrides the default argon2id hasher.
func (b *Builder) WithPasswordHasher(h PasswordHasher) *Builder {
	b.hasher = h
	return b
}

// WithEmailCrypto overrides the default email crypto built from
// [Config.Hashing].
func (b *Builder) WithEmailCrypto(ec EmailCrypto) *Builder {
	b.emailCrypto = ec
	return b
}

// WithNotificationSender sets the collaborator that delivers
// verification email. Required.
func (b *Builder) WithNotificationSender(s NotificationSender) *Builder {
	b.sender = s
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.sender == nil {
		return nil, errors.New("notification sender required")
	}

	engine := &Engine{
		config:        cfg,
		accounts:      stores.NewAccountStore(b.redis),
		verifications: stores.NewVerificationStore(b.redis),
		suppressions:  stores.NewSuppressionStore(b.redis),
		sessions:      session.NewStore(b.redis, cfg.Session.RedisPrefix),
		sender:        b.sender,
		audit:         audit.NewDispatcher(audit.Config(cfg.Audit), b.auditSink),
		metrics:       NewMetrics(cfg.Metrics),
	}

	engine.limiter = rate.New(b.redis, rate.Config{
		EnableIPThrottle: cfg.Throttle.EnableIPThrottle,
		MaxAttempts:      cfg.Throttle.MaxAttempts,
		Cooldown:         cfg.Throttle.Cooldown,
	})

	codec, err := token.NewCodec(cfg.Token.Secret)
	if err != nil {
		return nil, err
	}
	engine.codec = codec

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.Session.TTL,
		SigningMethod: jwt.SigningMethod(cfg.Bearer.SigningMethod),
		PrivateKey:    cloneBytes(cfg.Bearer.PrivateKey),
		PublicKey:     cloneBytes(cfg.Bearer.PublicKey),
		Issuer:        cfg.Bearer.Issuer,
		Audience:      cfg.Bearer.Audience,
	})
	if err != nil {
		return nil, err
	}
	engine.jwtManager = jm

	engine.hasher = b.hasher
	if engine.hasher == nil {
		ph, err := password.New(password.Params{
			MemoryKB:    cfg.Password.MemoryKB,
			Iterations:  cfg.Password.Iterations,
			Parallelism: cfg.Password.Parallelism,
			SaltBytes:   cfg.Password.SaltBytes,
			KeyBytes:    cfg.Password.KeyBytes,
		})
		if err != nil {
			return nil, err
		}
		engine.hasher = ph
	}

	engine.emailCrypto = b.emailCrypto
	if engine.emailCrypto == nil {
		ec, err := emailcrypto.New(emailcrypto.Config{
			HashKey:        cfg.Hashing.HashKey,
			LegacyHashKeys: cfg.Hashing.LegacyHashKeys,
			EncryptionKey:  cfg.Hashing.EncryptionKey,
		})
		if err != nil {
			return nil, err
		}
		engine.emailCrypto = ec
	}

	// Hash a throwaway credential once so login can burn the same
	// verification cost when the account does not exist.
	dummy, err := engine.hasher.Hash("idcore-dummy-credential-equalizer")
	if err != nil {
		return nil, err
	}
	engine.dummyHash = dummy

	b.built = true
	return engine, nil
}
