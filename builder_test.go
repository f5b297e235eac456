package idbroker

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestBuildRequiresRedis(t *testing.T) {
	if _, err := New().WithConfig(testConfig()).Build(); err == nil {
		t.Fatal("Build without Redis succeeded")
	}
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := testConfig()
	cfg.OTP.Digits = 2
	if _, err := New().WithConfig(cfg).WithRedis(client).Build(); err == nil || !strings.Contains(err.Error(), "OTP.Digits") {
		t.Fatalf("bad OTP digits error = %v", err)
	}

	cfg = testConfig()
	cfg.Session.RefreshTTL = cfg.JWT.AccessTTL
	if _, err := New().WithConfig(cfg).WithRedis(client).Build(); err == nil || !strings.Contains(err.Error(), "RefreshTTL") {
		t.Fatalf("bad TTL ordering error = %v", err)
	}

	cfg = testConfig()
	cfg.JWT.PrivateKey = nil
	if _, err := New().WithConfig(cfg).WithRedis(client).Build(); err == nil {
		t.Fatal("Build without a signing key succeeded")
	}
}

func TestBuilderSingleUse(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	b := New().
		WithConfig(testConfig()).
		WithRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	if _, err := b.Build(); err == nil {
		t.Fatal("second Build on the same builder succeeded")
	}
}

func TestEngineWithoutOTPSender(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	engine, err := New().
		WithConfig(testConfig()).
		WithRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()})).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	if err := engine.SendOTP(context.Background(), "+15550001111"); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("SendOTP without sender error = %v, want ErrInvalidRequest", err)
	}
}

func TestConfigCloneIsolation(t *testing.T) {
	cfg := testConfig()
	b := New().WithConfig(cfg)

	// Mutating the caller's key after WithConfig must not reach the builder.
	cfg.JWT.PrivateKey[0] ^= 0xff
	if b.config.JWT.PrivateKey[0] == cfg.JWT.PrivateKey[0] {
		t.Fatal("builder shares the caller's key buffer")
	}
}
