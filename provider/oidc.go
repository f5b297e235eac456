package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// GenericOIDC is the discovery-driven adapter. Any standard OIDC or OAuth2
// provider is served by configuration alone; only non-standard providers
// need their own Adapter implementation.
type GenericOIDC struct {
	cfg    Config
	client *http.Client
	disc   *discoveryCache
	jwks   *jwksCache
	leeway time.Duration
}

// NewGenericOIDC builds an adapter for cfg. client bounds every outbound
// call to the provider; jwksTTL and leeway fall back to 10 minutes and 60
// seconds when zero.
func NewGenericOIDC(cfg Config, client *http.Client, jwksTTL, leeway time.Duration) (*GenericOIDC, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if leeway <= 0 {
		leeway = time.Minute
	}
	return &GenericOIDC{
		cfg:    cfg,
		client: client,
		disc:   newDiscoveryCache(cfg.discoveryURL(), cfg.Issuer, client),
		jwks:   newJWKSCache(client, jwksTTL),
		leeway: leeway,
	}, nil
}

// Key returns the provider key this adapter serves.
func (a *GenericOIDC) Key() string {
	return a.cfg.Key
}

func (a *GenericOIDC) oauthConfig(doc *discoveryDocument) *oauth2.Config {
	endpoint := oauth2.Endpoint{
		AuthURL:  doc.AuthorizationEndpoint,
		TokenURL: doc.TokenEndpoint,
	}
	switch a.cfg.authMethod() {
	case AuthMethodPost, AuthMethodNone:
		endpoint.AuthStyle = oauth2.AuthStyleInParams
	default:
		endpoint.AuthStyle = oauth2.AuthStyleInHeader
	}

	return &oauth2.Config{
		ClientID:     a.cfg.ClientID,
		ClientSecret: a.cfg.ClientSecret,
		RedirectURL:  a.cfg.RedirectURL,
		Endpoint:     endpoint,
		Scopes:       a.cfg.scopes(),
	}
}

// AuthorizationURL builds the authorization redirect for req.
func (a *GenericOIDC) AuthorizationURL(ctx context.Context, req AuthRequest) (string, error) {
	if !a.cfg.redirectAllowed(req.RedirectURI) {
		return "", fmt.Errorf("%w: provider %s", ErrRedirectMismatch, a.cfg.Key)
	}
	doc, err := a.disc.document(ctx)
	if err != nil {
		return "", err
	}

	opts := []oauth2.AuthCodeOption{}
	if req.Nonce != "" {
		opts = append(opts, oauth2.SetAuthURLParam("nonce", req.Nonce))
	}
	if a.cfg.PKCERequired && req.CodeChallenge != "" {
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", req.CodeChallenge),
			oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		)
	}
	if req.LoginHint != "" {
		opts = append(opts, oauth2.SetAuthURLParam("login_hint", req.LoginHint))
	}
	if req.Prompt != "" {
		opts = append(opts, oauth2.SetAuthURLParam("prompt", req.Prompt))
	}

	conf := a.oauthConfig(doc)
	if req.RedirectURI != "" {
		conf.RedirectURL = req.RedirectURI
	}
	return conf.AuthCodeURL(req.State, opts...), nil
}

// Exchange redeems the authorization code. Provider rejections surface as
// *ExchangeError carrying the provider's error code and HTTP status.
func (a *GenericOIDC) Exchange(ctx context.Context, code, codeVerifier, redirectURI string) (*TokenSet, error) {
	if !a.cfg.redirectAllowed(redirectURI) {
		return nil, fmt.Errorf("%w: provider %s", ErrRedirectMismatch, a.cfg.Key)
	}
	doc, err := a.disc.document(ctx)
	if err != nil {
		return nil, err
	}

	opts := []oauth2.AuthCodeOption{}
	if codeVerifier != "" {
		opts = append(opts, oauth2.SetAuthURLParam("code_verifier", codeVerifier))
	}

	conf := a.oauthConfig(doc)
	if redirectURI != "" {
		conf.RedirectURL = redirectURI
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.client)
	tok, err := conf.Exchange(ctx, code, opts...)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			status := 0
			if retrieveErr.Response != nil {
				status = retrieveErr.Response.StatusCode
			}
			return nil, &ExchangeError{
				Code:        retrieveErr.ErrorCode,
				Description: retrieveErr.ErrorDescription,
				StatusCode:  status,
			}
		}
		return nil, fmt.Errorf("%w: %v", ErrExchange, err)
	}

	ts := &TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if idToken, ok := tok.Extra("id_token").(string); ok {
		ts.IDToken = idToken
	}
	if !tok.Expiry.IsZero() {
		ts.ExpiresIn = int64(time.Until(tok.Expiry).Seconds())
	}
	return ts, nil
}

// Identify verifies the token set and extracts the subject profile. A
// verified ID token is preferred; without one the userinfo endpoint is
// called with the access token.
func (a *GenericOIDC) Identify(ctx context.Context, tokens *TokenSet, nonce string) (*Profile, error) {
	if a.cfg.protocol() == ProtocolOIDC && tokens.IDToken != "" {
		claims, err := a.verifyIDToken(ctx, tokens.IDToken, nonce)
		if err != nil {
			return nil, err
		}
		return profileFromClaims(claims)
	}

	if tokens.AccessToken != "" {
		claims, err := a.userinfo(ctx, tokens.AccessToken)
		if err != nil {
			return nil, err
		}
		return profileFromClaims(claims)
	}

	return nil, fmt.Errorf("%w: no id token or access token", ErrNoSubject)
}

func (a *GenericOIDC) verifyIDToken(ctx context.Context, raw, nonce string) (map[string]any, error) {
	doc, err := a.disc.document(ctx)
	if err != nil {
		return nil, err
	}
	if doc.JWKSURI == "" {
		return nil, fmt.Errorf("%w: provider publishes no jwks_uri", ErrIDToken)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{
			jwt.SigningMethodRS256.Alg(),
			jwt.SigningMethodES256.Alg(),
		}),
		jwt.WithIssuer(doc.Issuer),
		jwt.WithAudience(a.cfg.ClientID),
		jwt.WithLeeway(a.leeway),
		jwt.WithExpirationRequired(),
	)

	claims := jwt.MapClaims{}
	tok, err := parser.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		return a.jwks.key(ctx, doc.JWKSURI, kid)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIDToken, err)
	}
	if !tok.Valid {
		return nil, ErrIDToken
	}

	if nonce != "" {
		got, _ := claims["nonce"].(string)
		if got != nonce {
			return nil, fmt.Errorf("%w: nonce mismatch", ErrIDToken)
		}
	}

	return claims, nil
}

func (a *GenericOIDC) userinfo(ctx context.Context, accessToken string) (map[string]any, error) {
	doc, err := a.disc.document(ctx)
	if err != nil {
		return nil, err
	}
	if doc.UserinfoEndpoint == "" {
		return nil, fmt.Errorf("%w: provider publishes no userinfo endpoint", ErrNoSubject)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, doc.UserinfoEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSubject, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: userinfo: %v", ErrNoSubject, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: userinfo returned %d", ErrNoSubject, resp.StatusCode)
	}

	var claims map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, fmt.Errorf("%w: userinfo decode: %v", ErrNoSubject, err)
	}
	return claims, nil
}

func profileFromClaims(claims map[string]any) (*Profile, error) {
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, ErrNoSubject
	}

	p := &Profile{Subject: sub, Raw: claims}
	p.Email, _ = claims["email"].(string)
	p.Phone, _ = claims["phone_number"].(string)
	p.Name, _ = claims["name"].(string)
	p.Picture, _ = claims["picture"].(string)

	switch v := claims["email_verified"].(type) {
	case bool:
		p.EmailVerified = v
	case string:
		// Some providers encode the claim as a string.
		p.EmailVerified = v == "true"
	}

	return p, nil
}
