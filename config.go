package idbroker

import (
	"errors"
	"time"
)

// Config is the full engine configuration tree. Zero values fall back to
// the defaults from DefaultConfig during Build.
type Config struct {
	JWT        JWTConfig
	Session    SessionConfig
	Flow       FlowConfig
	OTP        OTPConfig
	Password   PasswordConfig
	Federation FederationConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
}

// JWTConfig controls access-token signing and verification.
type JWTConfig struct {
	// AccessTTL bounds the lifetime of an access token. Access tokens are
	// stateless and not individually revocable, so this TTL is also the
	// exposure window after a session revocation.
	AccessTTL     time.Duration
	SigningMethod string
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

// SessionConfig controls session and refresh-chain lifetime.
type SessionConfig struct {
	RefreshTTL  time.Duration
	RedisPrefix string
}

// FlowConfig controls ephemeral OAuth flow state.
type FlowConfig struct {
	StateTTL time.Duration
}

// OTPConfig controls phone one-time codes.
type OTPConfig struct {
	TTL          time.Duration
	Digits       int
	MaxAttempts  int
	LockDuration time.Duration
}

// PasswordConfig carries Argon2id cost parameters plus the policy minimum.
type PasswordConfig struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	MinLength   int
}

// FederationConfig bounds traffic to upstream identity providers.
type FederationConfig struct {
	HTTPTimeout    time.Duration
	JWKSCacheTTL   time.Duration
	ClockTolerance time.Duration
}

// AuditConfig controls the audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull trades audit completeness for a never-blocking auth
	// path; dropped events are counted and visible via AuditDropped.
	DropIfFull bool
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the default configuration. Signing keys, issuer,
// and audience must still be provided by the caller.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: "HS256",
			Leeway:        time.Minute,
		},
		Session: SessionConfig{
			RefreshTTL:  30 * 24 * time.Hour,
			RedisPrefix: "idb",
		},
		Flow: FlowConfig{
			StateTTL: 10 * time.Minute,
		},
		OTP: OTPConfig{
			TTL:          5 * time.Minute,
			Digits:       6,
			MaxAttempts:  5,
			LockDuration: 15 * time.Minute,
		},
		Password: PasswordConfig{
			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
			MinLength:   8,
		},
		Federation: FederationConfig{
			HTTPTimeout:    10 * time.Second,
			JWKSCacheTTL:   10 * time.Minute,
			ClockTolerance: time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate checks the configuration for inconsistencies Build cannot
// repair.
func (c *Config) Validate() error {
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT.AccessTTL must be positive")
	}
	if c.Session.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("Session.RefreshTTL must exceed JWT.AccessTTL")
	}
	if c.Flow.StateTTL <= 0 {
		return errors.New("Flow.StateTTL must be positive")
	}
	if c.OTP.Digits < 4 || c.OTP.Digits > 10 {
		return errors.New("OTP.Digits must be between 4 and 10")
	}
	if c.OTP.MaxAttempts <= 0 {
		return errors.New("OTP.MaxAttempts must be positive")
	}
	if c.Password.MinLength < 8 {
		return errors.New("Password.MinLength must be at least 8")
	}
	if c.Federation.HTTPTimeout <= 0 {
		return errors.New("Federation.HTTPTimeout must be positive")
	}
	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
