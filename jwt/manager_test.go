package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"
)

func hsConfig() Config {
	return Config{
		AccessTTL:     15 * time.Minute,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
		Issuer:        "broker-test",
		Audience:      "app",
		Leeway:        time.Minute,
	}
}

func TestCreateAndParseAccess(t *testing.T) {
	m, err := NewManager(hsConfig())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	token, err := m.CreateAccess("user-1", "session-1")
	if err != nil {
		t.Fatalf("CreateAccess failed: %v", err)
	}

	claims, err := m.ParseAccess(token)
	if err != nil {
		t.Fatalf("ParseAccess failed: %v", err)
	}
	if claims.Subject != "user-1" || claims.SessionID != "session-1" {
		t.Fatalf("claims = %+v", claims)
	}
	if claims.Issuer != "broker-test" {
		t.Fatalf("issuer = %q", claims.Issuer)
	}
}

func TestParseRejectsWrongKey(t *testing.T) {
	signer, err := NewManager(hsConfig())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	other := hsConfig()
	other.PrivateKey = []byte("ffffffffffffffffffffffffffffffff")
	verifier, err := NewManager(other)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	token, err := signer.CreateAccess("user-1", "session-1")
	if err != nil {
		t.Fatalf("CreateAccess failed: %v", err)
	}
	if _, err := verifier.ParseAccess(token); err == nil {
		t.Fatal("token verified under the wrong key")
	}
}

func TestParseRejectsWrongIssuerAndAudience(t *testing.T) {
	m, err := NewManager(hsConfig())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	token, err := m.CreateAccess("user-1", "session-1")
	if err != nil {
		t.Fatalf("CreateAccess failed: %v", err)
	}

	cfg := hsConfig()
	cfg.Issuer = "someone-else"
	strict, _ := NewManager(cfg)
	if _, err := strict.ParseAccess(token); err == nil {
		t.Fatal("token accepted with wrong issuer")
	}

	cfg = hsConfig()
	cfg.Audience = "other-app"
	strict, _ = NewManager(cfg)
	if _, err := strict.ParseAccess(token); err == nil {
		t.Fatal("token accepted with wrong audience")
	}
}

func TestParseRejectsExpired(t *testing.T) {
	cfg := hsConfig()
	cfg.AccessTTL = time.Nanosecond
	cfg.Leeway = 0
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	token, err := m.CreateAccess("user-1", "session-1")
	if err != nil {
		t.Fatalf("CreateAccess failed: %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	if _, err := m.ParseAccess(token); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestEd25519RoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	m, err := NewManager(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "broker-test",
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	token, err := m.CreateAccess("user-1", "session-1")
	if err != nil {
		t.Fatalf("CreateAccess failed: %v", err)
	}
	claims, err := m.ParseAccess(token)
	if err != nil {
		t.Fatalf("ParseAccess failed: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Fatalf("subject = %q", claims.Subject)
	}
}

func TestNewManagerValidation(t *testing.T) {
	bad := []func(Config) Config{
		func(c Config) Config { c.AccessTTL = 0; return c },
		func(c Config) Config { c.Issuer = ""; return c },
		func(c Config) Config { c.PrivateKey = nil; return c },
		func(c Config) Config { c.SigningMethod = "rs256"; return c },
		func(c Config) Config { c.Leeway = 5 * time.Minute; return c },
	}
	for i, fn := range bad {
		if _, err := NewManager(fn(hsConfig())); err == nil {
			t.Fatalf("case %d: invalid config accepted", i)
		}
	}
}

func TestParseRejectsClaimlessToken(t *testing.T) {
	m, err := NewManager(hsConfig())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	for _, token := range []string{"", "garbage", "a.b.c"} {
		if _, err := m.ParseAccess(token); err == nil {
			t.Fatalf("ParseAccess(%q) accepted", token)
		}
	}
}
