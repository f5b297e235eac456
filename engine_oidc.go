package idbroker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/keyfold/idbroker/identity"
	"github.com/keyfold/idbroker/internal"
	"github.com/keyfold/idbroker/provider"
)

// StartOIDCFlow begins a login flow against a configured provider. The
// returned URL carries state, nonce, and the PKCE challenge; the matching
// verifier and nonce stay server-side until the callback.
func (e *Engine) StartOIDCFlow(ctx context.Context, req StartFlowRequest) (*FlowStart, error) {
	return e.startFlow(ctx, req, "")
}

// StartOIDCLink begins a flow that attaches a new provider identity to an
// already-authenticated user instead of logging in.
func (e *Engine) StartOIDCLink(ctx context.Context, userID string, req StartFlowRequest) (*FlowStart, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, ErrInvalidRequest
	}
	if err := e.requireActiveUser(ctx, userID); err != nil {
		return nil, err
	}
	return e.startFlow(ctx, req, userID)
}

// requireActiveUser fails with ErrForbidden for unknown and disabled users.
func (e *Engine) requireActiveUser(ctx context.Context, userID string) error {
	user, err := e.identities.User(ctx, userID)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return ErrForbidden
		}
		return mapStoreErr(err)
	}
	if user.Status != identity.StatusActive {
		return ErrForbidden
	}
	return nil
}

func (e *Engine) startFlow(ctx context.Context, req StartFlowRequest, linkingUserID string) (*FlowStart, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if req.Provider == "" {
		return nil, ErrInvalidRequest
	}
	registry, err := e.registryOrErr()
	if err != nil {
		return nil, err
	}

	adapter, err := registry.Adapter(ctx, req.Provider)
	if err != nil {
		return nil, mapStoreErr(err)
	}

	state, err := internal.NewState()
	if err != nil {
		return nil, err
	}
	nonce, err := internal.NewNonce()
	if err != nil {
		return nil, err
	}
	verifier, err := internal.NewCodeVerifier()
	if err != nil {
		return nil, err
	}

	url, err := adapter.AuthorizationURL(ctx, provider.AuthRequest{
		State:         state,
		Nonce:         nonce,
		CodeChallenge: internal.CodeChallengeS256(verifier),
		RedirectURI:   req.RedirectURI,
		LoginHint:     req.LoginHint,
		Prompt:        req.Prompt,
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}

	record := &flowStateRecord{
		Provider:      req.Provider,
		Nonce:         nonce,
		CodeVerifier:  verifier,
		RedirectURI:   req.RedirectURI,
		LinkingUserID: linkingUserID,
		CreatedAt:     time.Now().Unix(),
	}
	if err := e.flows.Save(ctx, state, record); err != nil {
		return nil, ErrBackendUnavailable
	}

	e.metricInc(MetricOIDCStart)
	e.emitAudit(ctx, auditActionOIDCStart, true, linkingUserID, "", req.Provider, nil, func() map[string]string {
		return map[string]string{"linking": boolString(linkingUserID != "")}
	})

	return &FlowStart{URL: url, State: state}, nil
}

// ExchangeOIDCCode completes a login flow: consumes the single-use state,
// redeems the code, verifies the ID token against the flow's nonce, and
// resolves or creates the user.
func (e *Engine) ExchangeOIDCCode(ctx context.Context, req ExchangeRequest) (*AuthResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	record, profile, err := e.completeFlow(ctx, req, false)
	if err != nil {
		e.metricInc(MetricOIDCExchangeFailure)
		e.emitAudit(ctx, auditActionOIDCExchange, false, "", "", req.Provider, err, nil)
		return nil, err
	}

	userID, isNew, err := e.resolveIdentity(ctx, record.Provider, profile, "")
	if err != nil {
		e.metricInc(MetricOIDCExchangeFailure)
		e.emitAudit(ctx, auditActionOIDCExchange, false, "", "", req.Provider, err, nil)
		return nil, err
	}

	sessionID, pair, err := e.mintSession(ctx, userID, record.Provider)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricOIDCExchangeSuccess)
	e.emitAudit(ctx, auditActionOIDCExchange, true, userID, sessionID, req.Provider, nil, func() map[string]string {
		return map[string]string{"new_user": boolString(isNew)}
	})

	return &AuthResult{
		UserID:    userID,
		SessionID: sessionID,
		Tokens:    pair,
		IsNewUser: isNew,
	}, nil
}

// ExchangeOIDCLink completes a linking flow started by StartOIDCLink and
// returns the new identity. The (provider, subject) pair must not belong to
// another user; linking an identity the user already owns succeeds
// idempotently.
func (e *Engine) ExchangeOIDCLink(ctx context.Context, req ExchangeRequest) (*Identity, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	record, profile, err := e.completeFlow(ctx, req, true)
	if err != nil {
		e.emitAudit(ctx, auditActionIdentityLinked, false, "", "", req.Provider, err, nil)
		return nil, err
	}

	// The user was checked when the flow started, up to StateTTL ago; a
	// disable in between must still block the link.
	if err := e.requireActiveUser(ctx, record.LinkingUserID); err != nil {
		e.emitAudit(ctx, auditActionIdentityLinked, false, record.LinkingUserID, "", req.Provider, err, nil)
		return nil, err
	}

	ident, err := e.linkIdentity(ctx, record.Provider, profile, record.LinkingUserID)
	if err != nil {
		e.emitAudit(ctx, auditActionIdentityLinked, false, record.LinkingUserID, "", req.Provider, err, nil)
		return nil, err
	}

	e.metricInc(MetricIdentityLinked)
	e.emitAudit(ctx, auditActionIdentityLinked, true, record.LinkingUserID, "", req.Provider, nil, func() map[string]string {
		return map[string]string{"identity_id": ident.ID}
	})

	public := toPublicIdentity(ident)
	return &public, nil
}

// completeFlow runs the shared callback steps: state consumption, code
// exchange, and profile verification.
func (e *Engine) completeFlow(ctx context.Context, req ExchangeRequest, wantLinking bool) (*flowStateRecord, *provider.Profile, error) {
	if req.Provider == "" || req.State == "" || req.Code == "" {
		return nil, nil, ErrInvalidRequest
	}
	registry, err := e.registryOrErr()
	if err != nil {
		return nil, nil, err
	}

	record, err := e.flows.Consume(ctx, req.State)
	if err != nil {
		if errors.Is(err, errFlowStateNotFound) {
			return nil, nil, ErrFlowStateInvalid
		}
		return nil, nil, ErrBackendUnavailable
	}
	// A state minted for one provider must not complete another's flow.
	if record.Provider != req.Provider {
		return nil, nil, ErrFlowStateInvalid
	}
	if wantLinking != (record.LinkingUserID != "") {
		return nil, nil, ErrFlowStateInvalid
	}

	adapter, err := registry.Adapter(ctx, req.Provider)
	if err != nil {
		return nil, nil, mapStoreErr(err)
	}

	// The token endpoint requires the redirect_uri from the authorization
	// request to be repeated verbatim.
	tokens, err := adapter.Exchange(ctx, req.Code, record.CodeVerifier, record.RedirectURI)
	if err != nil {
		return nil, nil, mapStoreErr(err)
	}

	profile, err := adapter.Identify(ctx, tokens, record.Nonce)
	if err != nil {
		return nil, nil, mapStoreErr(err)
	}

	return record, profile, nil
}

// Providers lists the enabled providers for login-page rendering.
func (e *Engine) Providers(ctx context.Context) ([]provider.Info, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	registry, err := e.registryOrErr()
	if err != nil {
		return nil, err
	}
	return registry.List(ctx)
}

// InvalidateProviderCache drops cached adapters so configuration changes
// take effect. Empty key drops every adapter.
func (e *Engine) InvalidateProviderCache(key string) {
	if e == nil || e.providers == nil {
		return
	}
	e.providers.Invalidate(key)
}

// resolveIdentity applies the reconciliation policy shared by every login
// method: an existing (provider, subject) identity resolves to its owner; a
// missing one creates a user. Disabled users never authenticate.
func (e *Engine) resolveIdentity(ctx context.Context, providerKey string, profile *provider.Profile, phone string) (string, bool, error) {
	now := time.Now()

	existing, err := e.identities.FindBySubject(ctx, providerKey, profile.Subject)
	switch {
	case err == nil:
		user, err := e.identities.User(ctx, existing.UserID)
		if err != nil {
			return "", false, mapStoreErr(err)
		}
		if user.Status != identity.StatusActive {
			return "", false, ErrForbidden
		}
		if err := e.identities.TouchLastLogin(ctx, providerKey, profile.Subject, now); err != nil {
			return "", false, mapStoreErr(err)
		}
		return user.ID, false, nil

	case errors.Is(err, identity.ErrIdentityNotFound):
		user := &identity.User{
			ID:        uuid.NewString(),
			Status:    identity.StatusActive,
			CreatedAt: now.Unix(),
		}
		ident := &identity.Identity{
			ID:          uuid.NewString(),
			UserID:      user.ID,
			Provider:    providerKey,
			Subject:     profile.Subject,
			Email:       profile.Email,
			Phone:       phone,
			CreatedAt:   now.Unix(),
			LastLoginAt: now.Unix(),
		}
		err := e.identities.CreateUserWithIdentity(ctx, user, ident)
		if err == nil {
			return user.ID, true, nil
		}
		if errors.Is(err, identity.ErrIdentityExists) {
			// Lost a signup race; the winner's identity resolves us.
			winner, err := e.identities.FindBySubject(ctx, providerKey, profile.Subject)
			if err != nil {
				return "", false, mapStoreErr(err)
			}
			return winner.UserID, false, nil
		}
		return "", false, mapStoreErr(err)

	default:
		return "", false, mapStoreErr(err)
	}
}

// linkIdentity attaches (provider, subject) to linkingUserID. Conflicts with
// another owner are rejected; re-linking an owned identity is idempotent.
func (e *Engine) linkIdentity(ctx context.Context, providerKey string, profile *provider.Profile, linkingUserID string) (*identity.Identity, error) {
	existing, err := e.identities.FindBySubject(ctx, providerKey, profile.Subject)
	if err == nil {
		if existing.UserID != linkingUserID {
			return nil, ErrIdentityConflict
		}
		return existing, nil
	}
	if !errors.Is(err, identity.ErrIdentityNotFound) {
		return nil, mapStoreErr(err)
	}

	now := time.Now()
	ident := &identity.Identity{
		ID:          uuid.NewString(),
		UserID:      linkingUserID,
		Provider:    providerKey,
		Subject:     profile.Subject,
		Email:       profile.Email,
		CreatedAt:   now.Unix(),
		LastLoginAt: now.Unix(),
	}
	if err := e.identities.CreateIdentity(ctx, ident); err != nil {
		if errors.Is(err, identity.ErrIdentityExists) {
			winner, ferr := e.identities.FindBySubject(ctx, providerKey, profile.Subject)
			if ferr == nil && winner.UserID == linkingUserID {
				return winner, nil
			}
			return nil, ErrIdentityConflict
		}
		return nil, mapStoreErr(err)
	}
	return ident, nil
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
