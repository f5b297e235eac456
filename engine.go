package idbroker

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/keyfold/idbroker/identity"
	"github.com/keyfold/idbroker/internal"
	"github.com/keyfold/idbroker/jwt"
	"github.com/keyfold/idbroker/password"
	"github.com/keyfold/idbroker/provider"
	"github.com/keyfold/idbroker/session"
)

// Engine is the identity and session broker. Build one with the Builder;
// it is safe for concurrent use afterwards.
type Engine struct {
	config       Config
	identities   *identity.Store
	sessions     *session.Store
	flows        *flowStateStore
	otps         *otpStore
	providers    *provider.Registry
	jwtManager   *jwt.Manager
	passwordHash *password.Hasher
	otpSender    OTPSender
	audit        *auditDispatcher
	metrics      *Metrics
}

// Close flushes and stops the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were dropped because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot copies the engine's counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) emitAudit(
	ctx context.Context,
	action string,
	success bool,
	userID string,
	sessionID string,
	providerKey string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		Action:    action,
		UserID:    userID,
		SessionID: sessionID,
		Provider:  providerKey,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := ErrorCode(err); code != "" {
		event.Error = code
	}

	e.audit.Emit(ctx, event)
}

// mintSession creates a session with the first link of its refresh chain
// and returns the credential pair.
func (e *Engine) mintSession(ctx context.Context, userID, providerKey string) (string, TokenPair, error) {
	now := time.Now()
	sessionID := uuid.NewString()
	tokenID := uuid.NewString()

	secret, err := internal.NewRefreshSecret()
	if err != nil {
		return "", TokenPair{}, err
	}
	wireToken, err := internal.EncodeRefreshToken(tokenID, secret)
	if err != nil {
		return "", TokenPair{}, err
	}

	sess := &session.Session{
		ID:        sessionID,
		UserID:    userID,
		Provider:  providerKey,
		ClientIP:  clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(e.config.Session.RefreshTTL).Unix(),
	}
	first := &session.RefreshToken{
		ID:        tokenID,
		SessionID: sessionID,
		UserID:    userID,
		Hash:      internal.HashToken(secret),
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(e.config.Session.RefreshTTL).Unix(),
	}
	if err := e.sessions.CreateSession(ctx, sess, first, e.config.Session.RefreshTTL); err != nil {
		return "", TokenPair{}, mapStoreErr(err)
	}

	access, err := e.jwtManager.CreateAccess(userID, sessionID)
	if err != nil {
		return "", TokenPair{}, err
	}

	e.metricInc(MetricSessionCreated)

	return sessionID, TokenPair{
		AccessToken:      access,
		ExpiresIn:        int64(e.config.JWT.AccessTTL.Seconds()),
		RefreshToken:     wireToken,
		RefreshExpiresIn: int64(e.config.Session.RefreshTTL.Seconds()),
	}, nil
}

// Refresh rotates the presented refresh token and mints a fresh access
// token. Replay of an already-rotated token returns ErrRefreshReuse after
// the whole session has been revoked.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	if e == nil {
		return TokenPair{}, ErrEngineNotReady
	}
	if refreshToken == "" {
		return TokenPair{}, ErrRefreshInvalid
	}

	tokenID, secret, err := internal.DecodeRefreshToken(refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return TokenPair{}, ErrRefreshInvalid
	}

	newTokenID := uuid.NewString()
	newSecret, err := internal.NewRefreshSecret()
	if err != nil {
		return TokenPair{}, err
	}

	result, err := e.sessions.Rotate(
		ctx,
		tokenID,
		internal.HashToken(secret),
		newTokenID,
		internal.HashToken(newSecret),
		time.Now(),
		e.config.Session.RefreshTTL,
	)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return TokenPair{}, mapStoreErr(err)
	}

	switch result.Status {
	case session.RotateRotated:
		// Fall through to minting below.
	case session.RotateReuse:
		e.metricInc(MetricRefreshReuseDetected)
		e.metricInc(MetricSessionRevoked)
		e.emitAudit(ctx, auditActionRefreshReuse, false, result.UserID, result.SessionID, "", ErrRefreshReuse, func() map[string]string {
			return map[string]string{"token_id": tokenID}
		})
		return TokenPair{}, ErrRefreshReuse
	default:
		// Unknown, expired, forged, and dead-session tokens are uniform
		// to the caller.
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditActionRefresh, false, result.UserID, result.SessionID, "", ErrRefreshInvalid, nil)
		return TokenPair{}, ErrRefreshInvalid
	}

	wireToken, err := internal.EncodeRefreshToken(newTokenID, newSecret)
	if err != nil {
		return TokenPair{}, err
	}
	access, err := e.jwtManager.CreateAccess(result.UserID, result.SessionID)
	if err != nil {
		return TokenPair{}, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditActionRefresh, true, result.UserID, result.SessionID, "", nil, func() map[string]string {
		return map[string]string{"rotated_from": tokenID, "token_id": newTokenID}
	})

	return TokenPair{
		AccessToken:      access,
		ExpiresIn:        int64(e.config.JWT.AccessTTL.Seconds()),
		RefreshToken:     wireToken,
		RefreshExpiresIn: int64(e.config.Session.RefreshTTL.Seconds()),
	}, nil
}

// Logout revokes exactly the presented refresh token. An empty or unknown
// token is a success: logout is idempotent and leaks nothing about token
// validity.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if refreshToken == "" {
		e.emitAudit(ctx, auditActionLogout, true, "", "", "", nil, nil)
		return nil
	}

	tokenID, secret, err := internal.DecodeRefreshToken(refreshToken)
	if err != nil {
		e.emitAudit(ctx, auditActionLogout, true, "", "", "", nil, nil)
		return nil
	}

	result, err := e.sessions.RevokeToken(ctx, tokenID, internal.HashToken(secret))
	if err != nil {
		return mapStoreErr(err)
	}
	if result.Existed {
		e.metricInc(MetricLogout)
	}
	e.emitAudit(ctx, auditActionLogout, true, result.UserID, result.SessionID, "", nil, func() map[string]string {
		return map[string]string{"token_present": "true"}
	})
	return nil
}

// ValidateAccess verifies an access token. Purely local: signature, issuer,
// audience, and expiry. A revoked session's access token stays valid until
// its short TTL runs out.
func (e *Engine) ValidateAccess(ctx context.Context, accessToken string) (*AccessIdentity, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	start := time.Now()
	claims, err := e.jwtManager.ParseAccess(accessToken)
	if e.metrics != nil {
		e.metrics.Observe(MetricValidateLatency, time.Since(start))
	}
	if err != nil {
		e.metricInc(MetricValidateFailure)
		return nil, ErrTokenInvalid
	}

	e.metricInc(MetricValidateSuccess)
	return &AccessIdentity{
		UserID:    claims.Subject,
		SessionID: claims.SessionID,
	}, nil
}

// RevokeSession revokes one of the caller's sessions along with its whole
// refresh chain. Revoking an unknown or foreign session fails.
func (e *Engine) RevokeSession(ctx context.Context, userID, sessionID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if userID == "" || sessionID == "" {
		return ErrInvalidRequest
	}

	sess, err := e.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return mapStoreErr(err)
	}
	if sess.UserID != userID {
		return ErrForbidden
	}

	if _, err := e.sessions.RevokeSession(ctx, sessionID); err != nil {
		return mapStoreErr(err)
	}

	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, auditActionSessionRevoked, true, userID, sessionID, "", nil, nil)
	return nil
}

// registryOrErr guards OIDC operations on engines built without a provider
// source.
func (e *Engine) registryOrErr() (*provider.Registry, error) {
	if e.providers == nil {
		return nil, ErrProviderNotFound
	}
	return e.providers, nil
}
