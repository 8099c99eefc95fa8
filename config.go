package authcore

import (
	"errors"
	"time"
)

// Config is the full engine configuration. Zero-value fields fall back to
// the documented defaults during Build; instances are treated as
// immutable after Build.
type Config struct {
	Login    LoginConfig
	OTP      OTPConfig
	TOTP     TOTPConfig
	Session  SessionConfig
	JWT      JWTConfig
	Lockout  LockoutConfig
	Password PasswordConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

// LoginConfig caps login attempts per identity (and optionally per
// client IP) within a sliding window.
type LoginConfig struct {
	MaxAttempts   int
	Window        time.Duration
	PerIPThrottle bool
}

// OTPConfig controls email-channel code issuance and the OTP-validation
// attempt ceiling.
type OTPConfig struct {
	Digits      int
	TTL         time.Duration
	MaxAttempts int
	Window      time.Duration
	RedisPrefix string
}

// TOTPConfig controls time-based code verification. Skew is the
// clock-drift tolerance in time-steps on each side of now.
type TOTPConfig struct {
	Digits int
	Period int
	Skew   int
	Issuer string
}

// SessionConfig controls opaque session issuance. SingleActive revokes
// all prior sessions of an identity when a new one is issued.
type SessionConfig struct {
	TTL          time.Duration
	SingleActive bool
	RedisPrefix  string
}

// JWTConfig enables the optional signed access token minted alongside
// the opaque session token.
type JWTConfig struct {
	Enabled       bool
	AccessTTL     time.Duration
	SigningMethod string // "hs256" or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
}

// LockoutConfig is the escalation policy on top of rate limiting: after
// Threshold persistent failures within Window the identity is
// deactivated. Disabled by default.
type LockoutConfig struct {
	Enabled   bool
	Threshold int
	Window    time.Duration
}

// PasswordConfig holds the argon2id cost parameters.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// AuditConfig controls the audit dispatcher's buffering and retry
// behavior.
type AuditConfig struct {
	Enabled       bool
	BufferSize    int
	DropIfFull    bool
	RetryBuffer   int
	RetryInterval time.Duration
	RedisPrefix   string
}

func defaultConfig() Config {
	return Config{
		Login: LoginConfig{
			MaxAttempts:   10,
			Window:        time.Minute,
			PerIPThrottle: true,
		},
		OTP: OTPConfig{
			Digits:      6,
			TTL:         10 * time.Minute,
			MaxAttempts: 5,
			Window:      time.Minute,
		},
		TOTP: TOTPConfig{
			Digits: 6,
			Period: 30,
			Skew:   1,
			Issuer: "SchoolSync",
		},
		Session: SessionConfig{
			TTL: time.Hour,
		},
		Lockout: LockoutConfig{
			Enabled:   false,
			Threshold: 25,
			Window:    time.Hour,
		},
		Password: PasswordConfig{
			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		Audit: AuditConfig{
			Enabled:       true,
			BufferSize:    1024,
			DropIfFull:    false,
			RetryBuffer:   256,
			RetryInterval: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func (c Config) validate() error {
	if c.Login.MaxAttempts <= 0 || c.Login.Window <= 0 {
		return errors.New("invalid login rate limit configuration")
	}
	if c.OTP.Digits < 4 || c.OTP.Digits > 10 {
		return errors.New("invalid otp digits")
	}
	if c.OTP.TTL <= 0 {
		return errors.New("invalid otp ttl")
	}
	if c.OTP.MaxAttempts <= 0 || c.OTP.Window <= 0 {
		return errors.New("invalid otp rate limit configuration")
	}
	if c.TOTP.Digits < 6 || c.TOTP.Digits > 8 {
		return errors.New("invalid totp digits")
	}
	if c.TOTP.Period <= 0 {
		return errors.New("invalid totp period")
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 2 {
		return errors.New("invalid totp skew")
	}
	if c.Session.TTL <= 0 {
		return errors.New("invalid session ttl")
	}
	if c.Lockout.Enabled && c.Lockout.Threshold <= 0 {
		return errors.New("invalid lockout threshold")
	}
	return nil
}

// applyDefaults fills zero-value fields from defaultConfig so partial
// configs stay valid.
func applyDefaults(cfg Config) Config {
	def := defaultConfig()

	if cfg.Login.MaxAttempts == 0 {
		cfg.Login.MaxAttempts = def.Login.MaxAttempts
	}
	if cfg.Login.Window == 0 {
		cfg.Login.Window = def.Login.Window
	}
	if cfg.OTP.Digits == 0 {
		cfg.OTP.Digits = def.OTP.Digits
	}
	if cfg.OTP.TTL == 0 {
		cfg.OTP.TTL = def.OTP.TTL
	}
	if cfg.OTP.MaxAttempts == 0 {
		cfg.OTP.MaxAttempts = def.OTP.MaxAttempts
	}
	if cfg.OTP.Window == 0 {
		cfg.OTP.Window = def.OTP.Window
	}
	if cfg.TOTP.Digits == 0 {
		cfg.TOTP.Digits = def.TOTP.Digits
	}
	if cfg.TOTP.Period == 0 {
		cfg.TOTP.Period = def.TOTP.Period
	}
	if cfg.TOTP.Issuer == "" {
		cfg.TOTP.Issuer = def.TOTP.Issuer
	}
	if cfg.Session.TTL == 0 {
		cfg.Session.TTL = def.Session.TTL
	}
	if cfg.Lockout.Threshold == 0 {
		cfg.Lockout.Threshold = def.Lockout.Threshold
	}
	if cfg.Lockout.Window == 0 {
		cfg.Lockout.Window = def.Lockout.Window
	}
	if cfg.Password.Memory == 0 {
		cfg.Password = def.Password
	}
	if cfg.Audit.BufferSize == 0 {
		cfg.Audit.BufferSize = def.Audit.BufferSize
	}
	if cfg.Audit.RetryBuffer == 0 {
		cfg.Audit.RetryBuffer = def.Audit.RetryBuffer
	}
	if cfg.Audit.RetryInterval == 0 {
		cfg.Audit.RetryInterval = def.Audit.RetryInterval
	}

	return cfg
}
