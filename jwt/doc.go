// Package jwt wraps github.com/golang-jwt/jwt/v5 with the narrow claim set the
// broker issues: stateless access tokens carrying the user id as subject and
// the owning session id. Refresh tokens are opaque and never pass through this
// package.
package jwt
