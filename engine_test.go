package idbroker

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-jose/go-jose/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"github.com/keyfold/idbroker/provider"
)

// recordingSink captures audit events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (s *recordingSink) Emit(_ context.Context, event AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) byAction(action string) []AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []AuditEvent
	for _, e := range s.events {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// captureSender records OTP deliveries instead of sending them.
type captureSender struct {
	mu    sync.Mutex
	phone string
	code  string
	fail  bool
}

func (s *captureSender) Send(_ context.Context, phone, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return context.DeadlineExceeded
	}
	s.phone, s.code = phone, code
	return nil
}

func (s *captureSender) lastCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code
}

// testIdP is an in-process OIDC provider for end-to-end engine tests.
type testIdP struct {
	server *httptest.Server
	key    *rsa.PrivateKey

	mu        sync.Mutex
	subject   string
	email     string
	lastNonce string
}

func newTestIdP(t *testing.T) *testIdP {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey failed: %v", err)
	}

	idp := &testIdP{key: key, subject: "upstream-sub-1", email: "alice@example.com"}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"issuer":                 idp.server.URL,
			"authorization_endpoint": idp.server.URL + "/authorize",
			"token_endpoint":         idp.server.URL + "/token",
			"jwks_uri":               idp.server.URL + "/jwks",
		})
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key:       &idp.key.PublicKey,
			KeyID:     "upstream-key",
			Use:       "sig",
			Algorithm: "RS256",
		}}})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		idp.mu.Lock()
		nonce := idp.lastNonce
		sub, email := idp.subject, idp.email
		idp.mu.Unlock()

		claims := jwt.MapClaims{
			"iss":   idp.server.URL,
			"aud":   "rp-client",
			"sub":   sub,
			"email": email,
			"iat":   time.Now().Unix(),
			"exp":   time.Now().Add(time.Hour).Unix(),
		}
		if nonce != "" {
			claims["nonce"] = nonce
		}
		tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		tok.Header["kid"] = "upstream-key"
		signed, err := tok.SignedString(idp.key)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "upstream-access",
			"token_type":   "Bearer",
			"id_token":     signed,
			"expires_in":   3600,
		})
	})

	idp.server = httptest.NewServer(mux)
	t.Cleanup(idp.server.Close)
	return idp
}

// setNonce feeds the nonce the next ID token should carry. Tests extract it
// from the authorization URL the engine produced.
func (idp *testIdP) setNonce(nonce string) {
	idp.mu.Lock()
	defer idp.mu.Unlock()
	idp.lastNonce = nonce
}

func (idp *testIdP) setSubject(subject string) {
	idp.mu.Lock()
	defer idp.mu.Unlock()
	idp.subject = subject
}

func (idp *testIdP) providerConfig() provider.Config {
	return provider.Config{
		Key:           "acme",
		DisplayName:   "Acme",
		Enabled:       true,
		ButtonVisible: true,
		ClientID:      "rp-client",
		ClientSecret:  "rp-secret",
		Issuer:        idp.server.URL,
		RedirectURL:   "https://rp.example.com/callback",
		ExtraRedirectURLs: []string{
			"https://rp.example.com/native-callback",
		},
		PKCERequired: true,
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.JWT.Issuer = "idbroker-test"
	cfg.JWT.Audience = "app"
	cfg.Audit.DropIfFull = false
	cfg.Audit.BufferSize = 64
	// Cheap hashing keeps the suite fast; production costs live in
	// DefaultConfig.
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.KeyLength = 16
	return cfg
}

type testEngineOption func(*Builder)

func withProviderIdP(idp *testIdP) testEngineOption {
	return func(b *Builder) {
		b.WithProviderSource(provider.StaticSource{idp.providerConfig()})
	}
}

func newTestEngine(t *testing.T, opts ...testEngineOption) (*Engine, *miniredis.Miniredis, *recordingSink, *captureSender) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sink := &recordingSink{}
	sender := &captureSender{}

	builder := New().
		WithConfig(testConfig()).
		WithRedis(client).
		WithAuditSink(sink).
		WithOTPSender(sender)
	for _, opt := range opts {
		opt(builder)
	}

	engine, err := builder.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return engine, mr, sink, sender
}
