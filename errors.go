package idbroker

import (
	"errors"
	"net/http"

	"github.com/keyfold/idbroker/identity"
	"github.com/keyfold/idbroker/provider"
	"github.com/keyfold/idbroker/session"
)

// Sentinel errors returned by Engine operations. Match with errors.Is; the
// ErrorCode and HTTPStatus helpers translate them for API responses.
var (
	// ErrInvalidRequest covers malformed or missing inputs.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidCredentials is returned for every password login failure.
	// Unknown email and wrong password are deliberately indistinguishable.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrEmailRegistered is returned when a signup email is already taken.
	ErrEmailRegistered = errors.New("email already registered")
	// ErrPasswordPolicy is returned when a password fails the minimum
	// length requirement.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrIdentityConflict is returned when a link attempt targets a
	// (provider, subject) pair owned by a different user.
	ErrIdentityConflict = errors.New("identity belongs to another user")
	// ErrLastIdentity is returned when unlinking would leave the user
	// without a login method.
	ErrLastIdentity = errors.New("cannot remove last identity")
	// ErrForbidden is returned when the caller does not own the resource.
	ErrForbidden = errors.New("forbidden")
	// ErrIdentityNotFound is returned for unknown identity ids.
	ErrIdentityNotFound = errors.New("identity not found")
	// ErrProviderNotFound is returned for unknown or disabled providers.
	ErrProviderNotFound = errors.New("provider not found")
	// ErrProviderUnavailable is returned when the provider cannot be
	// reached or its discovery document is unusable.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrExchangeRejected is returned when the provider rejects the
	// authorization code.
	ErrExchangeRejected = errors.New("provider rejected code exchange")
	// ErrIDTokenInvalid is returned when ID-token verification fails.
	ErrIDTokenInvalid = errors.New("id token verification failed")
	// ErrFlowStateInvalid is returned for unknown, expired, or already
	// consumed OAuth state values.
	ErrFlowStateInvalid = errors.New("flow state invalid or expired")
	// ErrOTPInvalid is returned for a wrong or unknown OTP code.
	ErrOTPInvalid = errors.New("otp code invalid")
	// ErrOTPExpired is returned when the OTP window has passed.
	ErrOTPExpired = errors.New("otp code expired")
	// ErrOTPLocked is returned while OTP verification is locked out after
	// too many failed attempts.
	ErrOTPLocked = errors.New("otp verification locked")
	// ErrTokenInvalid is returned when an access token fails verification.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrRefreshInvalid is returned for unknown, expired, or forged
	// refresh tokens.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrRefreshReuse is returned when an already-rotated refresh token is
	// presented. The session has been revoked by the time callers see it.
	ErrRefreshReuse = errors.New("refresh token reuse detected")
	// ErrSessionNotFound is returned for unknown or revoked sessions.
	ErrSessionNotFound = errors.New("session not found")
	// ErrBackendUnavailable wraps Redis transport failures.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrEngineNotReady is returned when the engine is used before Build.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// ErrorCode maps an engine error to a stable machine-readable code for API
// payloads.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrOTPInvalid), errors.Is(err, ErrOTPExpired):
		return "INVALID_CREDENTIALS"
	case errors.Is(err, ErrTokenInvalid), errors.Is(err, ErrRefreshInvalid), errors.Is(err, ErrRefreshReuse):
		return "UNAUTHORIZED"
	case errors.Is(err, ErrEmailRegistered), errors.Is(err, ErrIdentityConflict):
		return "CONFLICT"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ErrIdentityNotFound), errors.Is(err, ErrProviderNotFound), errors.Is(err, ErrSessionNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrOTPLocked):
		return "LOCKED"
	case errors.Is(err, ErrLastIdentity), errors.Is(err, ErrPasswordPolicy),
		errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrFlowStateInvalid):
		return "INVALID_REQUEST"
	case errors.Is(err, ErrExchangeRejected), errors.Is(err, ErrIDTokenInvalid):
		return "PROVIDER_ERROR"
	case errors.Is(err, ErrProviderUnavailable), errors.Is(err, ErrBackendUnavailable):
		return "UNAVAILABLE"
	default:
		return "INTERNAL"
	}
}

// HTTPStatus maps an engine error to the status a transport layer should
// respond with.
func HTTPStatus(err error) int {
	switch ErrorCode(err) {
	case "":
		return http.StatusOK
	case "INVALID_CREDENTIALS", "UNAUTHORIZED":
		return http.StatusUnauthorized
	case "CONFLICT":
		return http.StatusConflict
	case "FORBIDDEN":
		return http.StatusForbidden
	case "NOT_FOUND":
		return http.StatusNotFound
	case "LOCKED":
		return http.StatusLocked
	case "INVALID_REQUEST", "PROVIDER_ERROR":
		return http.StatusBadRequest
	case "UNAVAILABLE":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// mapStoreErr lifts package-level sentinels into engine sentinels so callers
// only ever match on this package's errors.
func mapStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, identity.ErrIdentityNotFound):
		return ErrIdentityNotFound
	case errors.Is(err, identity.ErrLastIdentity):
		return ErrLastIdentity
	case errors.Is(err, session.ErrSessionNotFound):
		return ErrSessionNotFound
	case errors.Is(err, identity.ErrStoreUnavailable),
		errors.Is(err, session.ErrRedisUnavailable):
		return ErrBackendUnavailable
	case errors.Is(err, provider.ErrProviderNotFound):
		return ErrProviderNotFound
	case errors.Is(err, provider.ErrRedirectMismatch):
		return ErrInvalidRequest
	case errors.Is(err, provider.ErrDiscovery):
		return ErrProviderUnavailable
	case errors.Is(err, provider.ErrExchange):
		return ErrExchangeRejected
	case errors.Is(err, provider.ErrIDToken), errors.Is(err, provider.ErrNoSubject):
		return ErrIDTokenInvalid
	default:
		return err
	}
}
