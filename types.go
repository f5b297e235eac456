package idbroker

import (
	"context"

	"github.com/keyfold/idbroker/identity"
)

// TokenPair is the credential set handed to clients after authentication or
// refresh. TTLs are in seconds.
type TokenPair struct {
	AccessToken      string `json:"accessToken"`
	ExpiresIn        int64  `json:"expiresIn"`
	RefreshToken     string `json:"refreshToken"`
	RefreshExpiresIn int64  `json:"refreshExpiresIn"`
}

// AuthResult is the outcome of a successful login through any method.
// IsNewUser is true when the login created the account.
type AuthResult struct {
	UserID    string
	SessionID string
	Tokens    TokenPair
	IsNewUser bool
}

// AccessIdentity is the verified content of an access token.
type AccessIdentity struct {
	UserID    string
	SessionID string
}

// FlowStart is the result of beginning an OIDC flow: the URL to redirect
// the browser to and the state value identifying the flow on callback.
type FlowStart struct {
	URL   string
	State string
}

// StartFlowRequest carries the inputs for starting an OIDC flow.
type StartFlowRequest struct {
	Provider    string
	RedirectURI string
	LoginHint   string
	Prompt      string
}

// ExchangeRequest carries the provider callback parameters.
type ExchangeRequest struct {
	Provider string
	State    string
	Code     string
}

// Identity is the caller-facing view of a linked login method.
type Identity struct {
	ID          string
	UserID      string
	Provider    string
	Subject     string
	Email       string
	Phone       string
	CreatedAt   int64
	LastLoginAt int64
}

// OTPSender delivers one-time codes. The transport (SMS, WhatsApp, log)
// lives outside the engine.
type OTPSender interface {
	Send(ctx context.Context, phone, code string) error
}

func toPublicIdentity(ident *identity.Identity) Identity {
	return Identity{
		ID:          ident.ID,
		UserID:      ident.UserID,
		Provider:    ident.Provider,
		Subject:     ident.Subject,
		Email:       ident.Email,
		Phone:       ident.Phone,
		CreatedAt:   ident.CreatedAt,
		LastLoginAt: ident.LastLoginAt,
	}
}
