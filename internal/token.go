package internal

import (
	"encoding/base64"
	"encoding/hex"
	"errors"

	"github.com/google/uuid"
)

const refreshTokenRawSize = 16 + refreshSecretSize

// EncodeRefreshToken packs a token id (UUID) and its hex-encoded secret into
// the opaque wire form handed to clients: base64url of the raw id and secret
// bytes, unpadded.
func EncodeRefreshToken(tokenID, secret string) (string, error) {
	id, err := uuid.Parse(tokenID)
	if err != nil {
		return "", err
	}
	rawSecret, err := hex.DecodeString(secret)
	if err != nil {
		return "", err
	}
	if len(rawSecret) != refreshSecretSize {
		return "", errors.New("invalid refresh secret size")
	}

	var raw [refreshTokenRawSize]byte
	copy(raw[:16], id[:])
	copy(raw[16:], rawSecret)

	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// DecodeRefreshToken unpacks a wire token into its id and hex-encoded secret.
func DecodeRefreshToken(token string) (string, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", "", err
	}
	if len(raw) != refreshTokenRawSize {
		return "", "", errors.New("invalid refresh token size")
	}

	var id uuid.UUID
	copy(id[:], raw[:16])

	return id.String(), hex.EncodeToString(raw[16:]), nil
}
