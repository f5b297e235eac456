package idbroker

import (
	"context"
	"errors"

	"github.com/keyfold/idbroker/identity"
)

// Identities lists every login method linked to userID.
func (e *Engine) Identities(ctx context.Context, userID string) ([]Identity, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, ErrInvalidRequest
	}

	idents, err := e.identities.IdentitiesForUser(ctx, userID)
	if err != nil {
		return nil, mapStoreErr(err)
	}

	out := make([]Identity, 0, len(idents))
	for i := range idents {
		out = append(out, toPublicIdentity(&idents[i]))
	}
	return out, nil
}

// UnlinkIdentity removes a login method from the caller's account. Removing
// an identity the caller does not own is forbidden; removing the last one is
// rejected so the account always keeps a way in.
func (e *Engine) UnlinkIdentity(ctx context.Context, userID, identityID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if userID == "" || identityID == "" {
		return ErrInvalidRequest
	}

	ident, err := e.identities.FindByID(ctx, identityID)
	if err != nil {
		if errors.Is(err, identity.ErrIdentityNotFound) {
			return ErrIdentityNotFound
		}
		return mapStoreErr(err)
	}
	if ident.UserID != userID {
		e.emitAudit(ctx, auditActionIdentityUnlinked, false, userID, "", ident.Provider, ErrForbidden, nil)
		return ErrForbidden
	}

	if err := e.identities.DeleteIdentity(ctx, ident); err != nil {
		mapped := mapStoreErr(err)
		e.emitAudit(ctx, auditActionIdentityUnlinked, false, userID, "", ident.Provider, mapped, nil)
		return mapped
	}

	e.metricInc(MetricIdentityUnlinked)
	e.emitAudit(ctx, auditActionIdentityUnlinked, true, userID, "", ident.Provider, nil, func() map[string]string {
		return map[string]string{"identity_id": identityID}
	})
	return nil
}
