package idbroker

import (
	"context"
	"testing"
)

func TestRequestContextValues(t *testing.T) {
	ctx := context.Background()
	ctx = WithClientIP(ctx, "203.0.113.9")
	ctx = WithUserAgent(ctx, "cli/1.0")
	ctx = WithDeviceID(ctx, "device-1")

	if got := clientIPFromContext(ctx); got != "203.0.113.9" {
		t.Fatalf("client ip = %q", got)
	}
	if got := userAgentFromContext(ctx); got != "cli/1.0" {
		t.Fatalf("user agent = %q", got)
	}
	if got := deviceIDFromContext(ctx); got != "device-1" {
		t.Fatalf("device id = %q", got)
	}

	if got := clientIPFromContext(context.Background()); got != "" {
		t.Fatalf("empty context ip = %q", got)
	}
}

func TestAuditEventCarriesRequestContext(t *testing.T) {
	engine, _, sink, _ := newTestEngine(t)

	ctx := WithClientIP(context.Background(), "203.0.113.9")
	ctx = WithUserAgent(ctx, "cli/1.0")

	if _, err := engine.PasswordSignup(ctx, "alice@example.com", "correct horse"); err != nil {
		t.Fatalf("signup failed: %v", err)
	}

	engine.Close()
	events := sink.byAction(auditActionPasswordSignup)
	if len(events) != 1 {
		t.Fatalf("signup events = %d, want 1", len(events))
	}
	if events[0].IP != "203.0.113.9" || events[0].UserAgent != "cli/1.0" {
		t.Fatalf("event context = %q/%q", events[0].IP, events[0].UserAgent)
	}
}
