package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
)

const (
	stateSize         = 24
	nonceSize         = 24
	codeVerifierSize  = 32
	refreshSecretSize = 32
)

// NewState returns an unguessable OAuth state value (192 bits of entropy,
// hex-encoded).
func NewState() (string, error) {
	return randomHex(stateSize)
}

// NewNonce returns a per-flow OIDC nonce value.
func NewNonce() (string, error) {
	return randomHex(nonceSize)
}

// NewCodeVerifier returns a PKCE code verifier. The hex encoding keeps the
// value inside the 43-128 character window RFC 7636 requires.
func NewCodeVerifier() (string, error) {
	return randomHex(codeVerifierSize)
}

// CodeChallengeS256 derives the S256 code challenge for a verifier:
// BASE64URL(SHA256(verifier)), unpadded.
func CodeChallengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// NewRefreshSecret returns the opaque secret carried by a refresh token.
// Only its hash is ever persisted.
func NewRefreshSecret() (string, error) {
	return randomHex(refreshSecretSize)
}

// NewOTPCode returns a zero-padded numeric one-time code of the given number
// of digits, drawn from crypto/rand with rejection sampling so every code is
// equally likely.
func NewOTPCode(digits int) (string, error) {
	if digits < 4 || digits > 10 {
		return "", errors.New("otp digits out of range")
	}

	bound := uint64(1)
	for i := 0; i < digits; i++ {
		bound *= 10
	}
	// Largest multiple of bound that fits in a uint64; values at or above it
	// are rejected to avoid modulo bias.
	limit := (^uint64(0) / bound) * bound

	var buf [8]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return "", err
		}
		v := uint64(buf[0])<<56 | uint64(buf[1])<<48 | uint64(buf[2])<<40 | uint64(buf[3])<<32 |
			uint64(buf[4])<<24 | uint64(buf[5])<<16 | uint64(buf[6])<<8 | uint64(buf[7])
		if v >= limit {
			continue
		}
		code := v % bound
		out := make([]byte, digits)
		for i := digits - 1; i >= 0; i-- {
			out[i] = byte('0' + code%10)
			code /= 10
		}
		return string(out), nil
	}
}

// HashToken returns the hex-encoded SHA-256 of an opaque secret. Used as the
// storage form for refresh tokens and OTP codes.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ConstantTimeEquals compares two equal-purpose strings without leaking the
// position of the first mismatch.
func ConstantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
