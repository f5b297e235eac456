package identity

// User statuses. Only active users may authenticate; users are never
// hard-deleted by this module.
const (
	StatusActive   = "active"
	StatusDisabled = "disabled"
)

// User is the long-lived account a set of identities resolves to.
type User struct {
	ID        string
	Status    string
	CreatedAt int64
}

// Identity binds one login method to a user. Provider is a logical namespace:
// a federated provider key, "email", or "phone". Subject is the provider-side
// stable identifier (OIDC sub, normalized email, normalized phone).
type Identity struct {
	ID          string
	UserID      string
	Provider    string
	Subject     string
	Email       string
	Phone       string
	CreatedAt   int64
	LastLoginAt int64
}
