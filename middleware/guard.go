package middleware

import (
	"context"
	"net/http"
	"strings"

	idbroker "github.com/keyfold/idbroker"
)

type accessIdentityContextKey struct{}

// AccessIdentityFromContext returns the identity the guard attached to the
// request, if any.
func AccessIdentityFromContext(ctx context.Context) (*idbroker.AccessIdentity, bool) {
	who, ok := ctx.Value(accessIdentityContextKey{}).(*idbroker.AccessIdentity)
	return who, ok
}

// RequireAccess rejects requests without a valid bearer access token. On
// success the caller's identity is available through
// AccessIdentityFromContext.
func RequireAccess(engine *idbroker.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			who, err := engine.ValidateAccess(r.Context(), token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), accessIdentityContextKey{}, who)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
