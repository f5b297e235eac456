package idbroker

import (
	"errors"
	"net/http"
	"strings"

	"github.com/keyfold/idbroker/identity"
	"github.com/keyfold/idbroker/jwt"
	"github.com/keyfold/idbroker/password"
	"github.com/keyfold/idbroker/provider"
	"github.com/keyfold/idbroker/session"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. Configure it once, call Build once.
type Builder struct {
	config Config

	redis          redis.UniversalClient
	providerSource provider.Source
	httpClient     *http.Client
	auditSink      AuditSink
	otpSender      OTPSender

	built bool
}

// New returns a Builder preloaded with DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the configuration tree.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client backing every store.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithProviderSource sets where provider configuration is read from.
// Without a source the engine serves only password and OTP login.
func (b *Builder) WithProviderSource(source provider.Source) *Builder {
	b.providerSource = source
	return b
}

// WithHTTPClient overrides the client used for provider traffic. Mainly for
// tests; the default client carries the configured federation timeout.
func (b *Builder) WithHTTPClient(client *http.Client) *Builder {
	b.httpClient = client
	return b
}

// WithAuditSink sets the destination for audit events.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithOTPSender sets the one-time-code delivery transport. Required for
// SendOTP.
func (b *Builder) WithOTPSender(sender OTPSender) *Builder {
	b.otpSender = sender
	return b
}

// Build validates the configuration and assembles the Engine.
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

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(strings.ToLower(cfg.JWT.SigningMethod)),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
	})
	if err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	httpClient := b.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Federation.HTTPTimeout}
	}

	var registry *provider.Registry
	if b.providerSource != nil {
		registry = provider.NewRegistry(
			b.providerSource,
			httpClient,
			cfg.Federation.JWKSCacheTTL,
			cfg.Federation.ClockTolerance,
		)
	}

	prefix := cfg.Session.RedisPrefix

	engine := &Engine{
		config:       cfg,
		identities:   identity.NewStore(b.redis, prefix),
		sessions:     session.NewStore(b.redis, prefix),
		flows:        newFlowStateStore(b.redis, prefix, cfg.Flow.StateTTL),
		otps:         newOTPStore(b.redis, prefix, cfg.OTP),
		providers:    registry,
		jwtManager:   jm,
		passwordHash: hasher,
		otpSender:    b.otpSender,
		audit:        newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:      NewMetrics(cfg.Metrics),
	}

	b.built = true

	return engine, nil
}
