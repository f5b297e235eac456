package idbroker

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/keyfold/idbroker/identity"
)

// providerEmail is the logical provider namespace for password identities;
// the normalized email address is the subject.
const providerEmail = "email"

// providerPhone is the logical provider namespace for OTP identities.
const providerPhone = "phone"

// PasswordSignup registers a new account with an email password identity
// and logs it in.
func (e *Engine) PasswordSignup(ctx context.Context, email, pass string) (*AuthResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	email = normalizeEmail(email)
	if email == "" {
		return nil, ErrInvalidRequest
	}
	if len(pass) < e.config.Password.MinLength {
		return nil, ErrPasswordPolicy
	}

	hash, err := e.passwordHash.Hash(pass)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	user := &identity.User{
		ID:        uuid.NewString(),
		Status:    identity.StatusActive,
		CreatedAt: now.Unix(),
	}
	ident := &identity.Identity{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		Provider:    providerEmail,
		Subject:     email,
		Email:       email,
		CreatedAt:   now.Unix(),
		LastLoginAt: now.Unix(),
	}
	if err := e.identities.CreateUserWithIdentity(ctx, user, ident); err != nil {
		if errors.Is(err, identity.ErrIdentityExists) {
			e.metricInc(MetricPasswordSignupFailure)
			e.emitAudit(ctx, auditActionPasswordSignup, false, "", "", providerEmail, ErrEmailRegistered, nil)
			return nil, ErrEmailRegistered
		}
		return nil, mapStoreErr(err)
	}
	if err := e.identities.SetPasswordHash(ctx, user.ID, hash); err != nil {
		return nil, mapStoreErr(err)
	}

	sessionID, pair, err := e.mintSession(ctx, user.ID, providerEmail)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricPasswordSignupSuccess)
	e.emitAudit(ctx, auditActionPasswordSignup, true, user.ID, sessionID, providerEmail, nil, nil)

	return &AuthResult{
		UserID:    user.ID,
		SessionID: sessionID,
		Tokens:    pair,
		IsNewUser: true,
	}, nil
}

// PasswordLogin authenticates an email password identity. Unknown email,
// wrong password, and password-less accounts all fail identically.
func (e *Engine) PasswordLogin(ctx context.Context, email, pass string) (*AuthResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	email = normalizeEmail(email)
	if email == "" || pass == "" {
		return nil, e.passwordLoginFailure(ctx, "")
	}

	ident, err := e.identities.FindBySubject(ctx, providerEmail, email)
	if err != nil {
		if errors.Is(err, identity.ErrIdentityNotFound) {
			return nil, e.passwordLoginFailure(ctx, "")
		}
		return nil, mapStoreErr(err)
	}

	user, err := e.identities.User(ctx, ident.UserID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if user.Status != identity.StatusActive {
		return nil, e.passwordLoginFailure(ctx, user.ID)
	}

	storedHash, err := e.identities.PasswordHash(ctx, user.ID)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return nil, e.passwordLoginFailure(ctx, user.ID)
		}
		return nil, mapStoreErr(err)
	}

	ok, err := e.passwordHash.Verify(pass, storedHash)
	if err != nil || !ok {
		return nil, e.passwordLoginFailure(ctx, user.ID)
	}

	if err := e.identities.TouchLastLogin(ctx, providerEmail, email, time.Now()); err != nil {
		return nil, mapStoreErr(err)
	}

	sessionID, pair, err := e.mintSession(ctx, user.ID, providerEmail)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricPasswordLoginSuccess)
	e.emitAudit(ctx, auditActionPasswordLogin, true, user.ID, sessionID, providerEmail, nil, nil)

	return &AuthResult{
		UserID:    user.ID,
		SessionID: sessionID,
		Tokens:    pair,
	}, nil
}

func (e *Engine) passwordLoginFailure(ctx context.Context, userID string) error {
	e.metricInc(MetricPasswordLoginFailure)
	e.emitAudit(ctx, auditActionPasswordLogin, false, userID, "", providerEmail, ErrInvalidCredentials, nil)
	return ErrInvalidCredentials
}

func normalizeEmail(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(email, "@") {
		return ""
	}
	return email
}
