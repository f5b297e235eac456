package idbroker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestOTPLoginCreatesAndResolvesUser(t *testing.T) {
	engine, _, _, sender := newTestEngine(t)
	ctx := context.Background()
	phone := "+15550001111"

	if err := engine.SendOTP(ctx, phone); err != nil {
		t.Fatalf("SendOTP failed: %v", err)
	}
	code := sender.lastCode()
	if len(code) != 6 {
		t.Fatalf("delivered code %q, want 6 digits", code)
	}

	first, err := engine.VerifyOTP(ctx, phone, code)
	if err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}
	if !first.IsNewUser {
		t.Fatal("first verification did not create a user")
	}

	// Same phone resolves to the same account on the next login.
	if err := engine.SendOTP(ctx, phone); err != nil {
		t.Fatalf("second SendOTP failed: %v", err)
	}
	second, err := engine.VerifyOTP(ctx, phone, sender.lastCode())
	if err != nil {
		t.Fatalf("second VerifyOTP failed: %v", err)
	}
	if second.IsNewUser {
		t.Fatal("second verification created a user")
	}
	if second.UserID != first.UserID {
		t.Fatalf("second login user = %s, want %s", second.UserID, first.UserID)
	}
}

func TestOTPCodeIsSingleUse(t *testing.T) {
	engine, _, _, sender := newTestEngine(t)
	ctx := context.Background()
	phone := "+15550001111"

	if err := engine.SendOTP(ctx, phone); err != nil {
		t.Fatalf("SendOTP failed: %v", err)
	}
	code := sender.lastCode()

	if _, err := engine.VerifyOTP(ctx, phone, code); err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}
	if _, err := engine.VerifyOTP(ctx, phone, code); !errors.Is(err, ErrOTPInvalid) {
		t.Fatalf("replayed code error = %v, want ErrOTPInvalid", err)
	}
}

func TestOTPWrongCodeLockout(t *testing.T) {
	engine, _, _, sender := newTestEngine(t)
	ctx := context.Background()
	phone := "+15550001111"

	if err := engine.SendOTP(ctx, phone); err != nil {
		t.Fatalf("SendOTP failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		if _, err := engine.VerifyOTP(ctx, phone, "000000"); err == nil {
			t.Fatalf("attempt %d with wrong code succeeded", i)
		}
	}

	// Attempts are exhausted: even the real code is refused now.
	if _, err := engine.VerifyOTP(ctx, phone, sender.lastCode()); !errors.Is(err, ErrOTPLocked) {
		t.Fatalf("post-lockout verify error = %v, want ErrOTPLocked", err)
	}
	// And no new code is issued during the lock.
	if err := engine.SendOTP(ctx, phone); !errors.Is(err, ErrOTPLocked) {
		t.Fatalf("post-lockout send error = %v, want ErrOTPLocked", err)
	}

	snap := engine.MetricsSnapshot()
	if got := snap.Counters[MetricOTPLockout]; got == 0 {
		t.Fatal("lockout counter not incremented")
	}
}

func TestOTPExpires(t *testing.T) {
	engine, mr, _, sender := newTestEngine(t)
	ctx := context.Background()
	phone := "+15550001111"

	if err := engine.SendOTP(ctx, phone); err != nil {
		t.Fatalf("SendOTP failed: %v", err)
	}
	code := sender.lastCode()

	// Past the record TTL the key is gone entirely.
	mr.FastForward(16 * time.Minute)

	if _, err := engine.VerifyOTP(ctx, phone, code); !errors.Is(err, ErrOTPInvalid) {
		t.Fatalf("expired code error = %v, want ErrOTPInvalid", err)
	}
}

func TestOTPResendReplacesCode(t *testing.T) {
	engine, _, _, sender := newTestEngine(t)
	ctx := context.Background()
	phone := "+15550001111"

	if err := engine.SendOTP(ctx, phone); err != nil {
		t.Fatalf("SendOTP failed: %v", err)
	}
	stale := sender.lastCode()

	if err := engine.SendOTP(ctx, phone); err != nil {
		t.Fatalf("resend failed: %v", err)
	}
	fresh := sender.lastCode()
	if stale == fresh {
		t.Skip("codes collided; resend still produced a valid record")
	}

	if _, err := engine.VerifyOTP(ctx, phone, stale); !errors.Is(err, ErrOTPInvalid) {
		t.Fatalf("stale code error = %v, want ErrOTPInvalid", err)
	}
	if err := engine.SendOTP(ctx, phone); err != nil {
		t.Fatalf("SendOTP after stale attempt failed: %v", err)
	}
	if _, err := engine.VerifyOTP(ctx, phone, sender.lastCode()); err != nil {
		t.Fatalf("fresh code rejected: %v", err)
	}
}

func TestOTPSenderFailure(t *testing.T) {
	engine, _, _, sender := newTestEngine(t)
	ctx := context.Background()

	sender.fail = true
	if err := engine.SendOTP(ctx, "+15550001111"); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("failing sender error = %v, want ErrProviderUnavailable", err)
	}
}

func TestOTPPhoneNormalization(t *testing.T) {
	engine, _, _, sender := newTestEngine(t)
	ctx := context.Background()

	if err := engine.SendOTP(ctx, "+1 (555) 000-1111"); err != nil {
		t.Fatalf("SendOTP failed: %v", err)
	}
	res, err := engine.VerifyOTP(ctx, "+15550001111", sender.lastCode())
	if err != nil {
		t.Fatalf("normalized verify failed: %v", err)
	}
	if res.UserID == "" {
		t.Fatal("verification returned no user")
	}

	if err := engine.SendOTP(ctx, "12345"); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("too-short phone error = %v, want ErrInvalidRequest", err)
	}
}

func TestOTPAuditCarriesNoCode(t *testing.T) {
	engine, _, sink, sender := newTestEngine(t)
	ctx := context.Background()

	if err := engine.SendOTP(ctx, "+15550001111"); err != nil {
		t.Fatalf("SendOTP failed: %v", err)
	}
	code := sender.lastCode()

	engine.Close()
	for _, e := range sink.byAction(auditActionOTPSend) {
		for k, v := range e.Metadata {
			if v == code {
				t.Fatalf("audit metadata %q leaked the raw code", k)
			}
		}
	}
}
