package authcore

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	internalaudit "github.com/schoolsync/authcore/internal/audit"
	"github.com/schoolsync/authcore/internal/rate"
	"github.com/schoolsync/authcore/internal/stores"
	"github.com/schoolsync/authcore/jwt"
	"github.com/schoolsync/authcore/password"
	"github.com/schoolsync/authcore/session"
)

// Builder assembles an Engine from its dependencies. Configure during
// initialization, call Build once, then treat the Engine as immutable.
type Builder struct {
	config Config

	redis    redis.UniversalClient
	provider IdentityProvider
	gateway  DeliveryGateway

	auditStore AuditStore
	auditSink  AuditSink
	alerter    Alerter

	clock func() time.Time

	built bool
}

// New returns a Builder preloaded with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration wholesale. Zero-value fields are
// filled from defaults during Build.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the Redis client backing the rate limiter, challenge
// store, session store, and default audit store.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithIdentityProvider sets the identity lookup and mutation backend.
// Required.
func (b *Builder) WithIdentityProvider(p IdentityProvider) *Builder {
	b.provider = p
	return b
}

// WithDeliveryGateway sets the out-of-band code delivery channel.
// Optional; without one, email-OTP issuance records a delivery failure
// and the code can only be confirmed through ResendOTP after a gateway
// is configured.
func (b *Builder) WithDeliveryGateway(g DeliveryGateway) *Builder {
	b.gateway = g
	return b
}

// WithAuditStore overrides the default Redis-backed audit store, e.g.
// with the postgres implementation.
func (b *Builder) WithAuditStore(s AuditStore) *Builder {
	b.auditStore = s
	return b
}

// WithAuditSink attaches an observer that sees every audit event after
// it is persisted.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithAlerter sets the escalation target notified when audit persistence
// fails or the retry buffer overflows.
func (b *Builder) WithAlerter(a Alerter) *Builder {
	b.alerter = a
	return b
}

// WithClock overrides the time source. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration, wires every component, and returns
// a ready Engine. The builder cannot be reused.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.provider == nil {
		return nil, errors.New("identity provider required")
	}

	cfg := applyDefaults(b.config)
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	engine := &Engine{
		config:   cfg,
		redis:    b.redis,
		provider: b.provider,
		gateway:  b.gateway,
	}

	// -------- RATE LIMITING --------
	engine.limiter = rate.New(b.redis, "")
	engine.lockout = rate.NewLockout(b.redis, rate.LockoutConfig{
		Enabled:   cfg.Lockout.Enabled,
		Threshold: cfg.Lockout.Threshold,
		Window:    cfg.Lockout.Window,
	})

	// -------- STORES --------
	engine.challenges = stores.NewChallengeStore(b.redis, cfg.OTP.RedisPrefix)
	engine.sessions = session.NewStore(b.redis, cfg.Session.RedisPrefix)

	// -------- AUDIT --------
	store := b.auditStore
	if store == nil {
		store = internalaudit.NewRedisStore(b.redis, cfg.Audit.RedisPrefix)
	}
	engine.auditStore = store
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:       cfg.Audit.Enabled,
		BufferSize:    cfg.Audit.BufferSize,
		DropIfFull:    cfg.Audit.DropIfFull,
		RetryBuffer:   cfg.Audit.RetryBuffer,
		RetryInterval: cfg.Audit.RetryInterval,
	}, store, b.auditSink, b.alerter)

	// -------- CREDENTIALS --------
	ph, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	engine.hasher = ph

	decoy, err := newDecoyHash(ph)
	if err != nil {
		return nil, err
	}
	engine.decoyHash = decoy

	engine.totp = newTOTPManager(cfg.TOTP)
	engine.metrics = NewMetrics(cfg.Metrics)

	// -------- ACCESS TOKENS --------
	if cfg.JWT.Enabled {
		jm, err := jwt.NewManager(jwt.Config{
			AccessTTL:     cfg.JWT.AccessTTL,
			SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
			PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
			PublicKey:     cloneBytes(cfg.JWT.PublicKey),
			Issuer:        cfg.JWT.Issuer,
			Leeway:        cfg.JWT.Leeway,
		})
		if err != nil {
			return nil, err
		}
		engine.jwtManager = jm
	}

	engine.now = b.clock
	if engine.now == nil {
		engine.now = time.Now
	}

	b.built = true

	return engine, nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
