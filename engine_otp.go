package idbroker

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/keyfold/idbroker/internal"
	"github.com/keyfold/idbroker/provider"
)

// SendOTP issues a one-time code for phone and hands it to the configured
// sender. Re-requesting replaces the outstanding code; an active lockout
// from failed verifications blocks new codes until it expires.
func (e *Engine) SendOTP(ctx context.Context, phone string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if e.otpSender == nil {
		return ErrInvalidRequest
	}

	phone = normalizePhone(phone)
	if phone == "" {
		return ErrInvalidRequest
	}

	code, err := internal.NewOTPCode(e.config.OTP.Digits)
	if err != nil {
		return err
	}

	if err := e.otps.Issue(ctx, phone, code, time.Now()); err != nil {
		if errors.Is(err, errOTPLockedRecord) {
			e.metricInc(MetricOTPLockout)
			e.emitAudit(ctx, auditActionOTPSend, false, "", "", providerPhone, ErrOTPLocked, nil)
			return ErrOTPLocked
		}
		return ErrBackendUnavailable
	}

	if err := e.otpSender.Send(ctx, phone, code); err != nil {
		e.emitAudit(ctx, auditActionOTPSend, false, "", "", providerPhone, ErrProviderUnavailable, nil)
		return ErrProviderUnavailable
	}

	e.metricInc(MetricOTPSent)
	e.emitAudit(ctx, auditActionOTPSend, true, "", "", providerPhone, nil, func() map[string]string {
		return map[string]string{"code_hash": internal.HashToken(code)}
	})
	return nil
}

// VerifyOTP checks the code for phone and, on success, logs in the phone
// identity, creating the account on first use. Each wrong code burns an
// attempt; exhausting them locks verification for the configured duration.
func (e *Engine) VerifyOTP(ctx context.Context, phone, code string) (*AuthResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	phone = normalizePhone(phone)
	if phone == "" || code == "" {
		return nil, ErrInvalidRequest
	}

	if err := e.otps.Consume(ctx, phone, code, time.Now()); err != nil {
		return nil, e.otpVerifyFailure(ctx, err)
	}

	userID, isNew, err := e.resolveIdentity(ctx, providerPhone, &provider.Profile{Subject: phone}, phone)
	if err != nil {
		e.metricInc(MetricOTPVerifyFailure)
		e.emitAudit(ctx, auditActionOTPVerify, false, "", "", providerPhone, err, nil)
		return nil, err
	}

	sessionID, pair, err := e.mintSession(ctx, userID, providerPhone)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricOTPVerifySuccess)
	e.emitAudit(ctx, auditActionOTPVerify, true, userID, sessionID, providerPhone, nil, func() map[string]string {
		return map[string]string{"new_user": boolString(isNew)}
	})

	return &AuthResult{
		UserID:    userID,
		SessionID: sessionID,
		Tokens:    pair,
		IsNewUser: isNew,
	}, nil
}

func (e *Engine) otpVerifyFailure(ctx context.Context, err error) error {
	var mapped error
	switch {
	case errors.Is(err, errOTPLockedRecord):
		e.metricInc(MetricOTPLockout)
		mapped = ErrOTPLocked
	case errors.Is(err, errOTPExpiredRecord):
		mapped = ErrOTPExpired
	case errors.Is(err, errOTPCodeMismatch), errors.Is(err, errOTPNotFound):
		mapped = ErrOTPInvalid
	default:
		return ErrBackendUnavailable
	}

	e.metricInc(MetricOTPVerifyFailure)
	e.emitAudit(ctx, auditActionOTPVerify, false, "", "", providerPhone, mapped, nil)
	return mapped
}

// normalizePhone keeps a leading plus and digits only.
func normalizePhone(phone string) string {
	var b strings.Builder
	for i, r := range phone {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if len(strings.TrimPrefix(out, "+")) < 7 {
		return ""
	}
	return out
}
