package session

// Session is one authenticated device context for a user. It lives as long as
// its refresh chain can be extended and dies on logout, revocation, or reuse
// detection.
type Session struct {
	ID        string
	UserID    string
	Provider  string
	ClientIP  string
	UserAgent string
	CreatedAt int64
	ExpiresAt int64
}

// RefreshToken is one link in a session's rotation chain. Hash is the SHA-256
// of the wire secret; the secret itself is never stored. RotatedFromID is
// empty on the chain's first token. HasChild is set when a rotation has
// superseded this token; Revoked without HasChild means a cascade killed the
// chain from elsewhere.
type RefreshToken struct {
	ID            string
	SessionID     string
	UserID        string
	Hash          string
	RotatedFromID string
	CreatedAt     int64
	ExpiresAt     int64
	Revoked       bool
	HasChild      bool
}

// RotateStatus classifies the outcome of a rotation attempt.
type RotateStatus int64

// Rotation outcomes returned by Store.Rotate.
const (
	// RotateNotFound covers unknown token ids and secret hash mismatches.
	// Both look identical to the caller so forged tokens learn nothing.
	RotateNotFound RotateStatus = 0
	RotateExpired  RotateStatus = 1
	// RotateSessionGone means the token's session was revoked or expired.
	// Tokens revoked by a reuse cascade land here too: they prove nothing
	// beyond what the original detection already reported.
	RotateSessionGone RotateStatus = 2
	// RotateReuse means the token was already rotated, so a live successor
	// exists and the presentation is theft evidence. The script has revoked
	// the session before returning this status.
	RotateReuse   RotateStatus = 3
	RotateRotated RotateStatus = 4
)

// RotateResult carries the script outcome plus the identifiers the caller
// needs for auditing. SessionID and UserID are set for every status except
// RotateNotFound.
type RotateResult struct {
	Status    RotateStatus
	SessionID string
	UserID    string
}

// RevokeTokenResult reports a single-token revocation along with the owning
// ids for audit attribution.
type RevokeTokenResult struct {
	Existed   bool
	SessionID string
	UserID    string
}
