package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Sentinel errors surfaced by the store. Callers match with errors.Is.
var (
	// ErrUserNotFound is returned when no user record exists for the id.
	ErrUserNotFound = errors.New("user not found")
	// ErrIdentityNotFound is returned for unknown identity ids or
	// (provider, subject) pairs.
	ErrIdentityNotFound = errors.New("identity not found")
	// ErrIdentityExists is returned when the (provider, subject) pair is
	// already claimed.
	ErrIdentityExists = errors.New("identity already exists")
	// ErrLastIdentity is returned when a delete would leave the user with no
	// login method.
	ErrLastIdentity = errors.New("cannot delete last identity")
	// ErrStoreUnavailable wraps transport-level Redis failures.
	ErrStoreUnavailable = errors.New("identity store unavailable")
)

// Store persists users and identities in Redis.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore returns a Store namespaced under prefix.
func NewStore(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "idb"
	}
	return &Store{redis: client, prefix: prefix}
}

func (s *Store) userKey(userID string) string {
	return s.prefix + ":u:" + userID
}

func (s *Store) identityKey(provider, subject string) string {
	return s.prefix + ":i:" + provider + ":" + subject
}

func (s *Store) identityIDKey(identityID string) string {
	return s.prefix + ":iid:" + identityID
}

func (s *Store) userIdentitiesKey(userID string) string {
	return s.prefix + ":ui:" + userID
}

func (s *Store) passwordKey(userID string) string {
	return s.prefix + ":pw:" + userID
}

// CreateUserWithIdentity atomically claims the (provider, subject) pair and,
// on success, writes the user record plus the first identity. The SETNX on
// the identity primary key is the uniqueness arbiter: concurrent signups for
// the same subject produce exactly one user.
func (s *Store) CreateUserWithIdentity(ctx context.Context, user *User, ident *Identity) error {
	identData, err := encodeIdentity(ident)
	if err != nil {
		return err
	}
	userData, err := encodeUser(user)
	if err != nil {
		return err
	}

	claimed, err := s.redis.SetNX(ctx, s.identityKey(ident.Provider, ident.Subject), identData, 0).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !claimed {
		return ErrIdentityExists
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.userKey(user.ID), userData, 0)
		pipe.Set(ctx, s.identityIDKey(ident.ID), s.identityKey(ident.Provider, ident.Subject), 0)
		pipe.SAdd(ctx, s.userIdentitiesKey(user.ID), ident.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return nil
}

// CreateIdentity attaches a new identity to an existing user. Fails with
// ErrIdentityExists when the (provider, subject) pair is already claimed,
// regardless of owner.
func (s *Store) CreateIdentity(ctx context.Context, ident *Identity) error {
	identData, err := encodeIdentity(ident)
	if err != nil {
		return err
	}

	claimed, err := s.redis.SetNX(ctx, s.identityKey(ident.Provider, ident.Subject), identData, 0).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !claimed {
		return ErrIdentityExists
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.identityIDKey(ident.ID), s.identityKey(ident.Provider, ident.Subject), 0)
		pipe.SAdd(ctx, s.userIdentitiesKey(ident.UserID), ident.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return nil
}

// User fetches a user record by id.
func (s *Store) User(ctx context.Context, userID string) (*User, error) {
	data, err := s.redis.Get(ctx, s.userKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return decodeUser(data)
}

// SetStatus updates a user's status. Disabling blocks new logins and link
// completions; running sessions keep working until revoked.
func (s *Store) SetStatus(ctx context.Context, userID, status string) error {
	user, err := s.User(ctx, userID)
	if err != nil {
		return err
	}
	user.Status = status

	data, err := encodeUser(user)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.userKey(userID), data, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// FindBySubject fetches the identity claimed for (provider, subject).
func (s *Store) FindBySubject(ctx context.Context, provider, subject string) (*Identity, error) {
	data, err := s.redis.Get(ctx, s.identityKey(provider, subject)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrIdentityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return decodeIdentity(data)
}

// FindByID fetches an identity through the id redirect key.
func (s *Store) FindByID(ctx context.Context, identityID string) (*Identity, error) {
	primary, err := s.redis.Get(ctx, s.identityIDKey(identityID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrIdentityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	data, err := s.redis.Get(ctx, primary).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrIdentityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return decodeIdentity(data)
}

// IdentitiesForUser enumerates every identity owned by userID.
func (s *Store) IdentitiesForUser(ctx context.Context, userID string) ([]Identity, error) {
	ids, err := s.redis.SMembers(ctx, s.userIdentitiesKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	out := make([]Identity, 0, len(ids))
	for _, id := range ids {
		ident, err := s.FindByID(ctx, id)
		if errors.Is(err, ErrIdentityNotFound) {
			// Set member orphaned by a concurrent delete; skip.
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *ident)
	}
	return out, nil
}

// TouchLastLogin stamps last_login_at on the identity record. Best-effort
// under concurrency: a lost race only costs a slightly stale stamp, so the
// optimistic transaction is retried a bounded number of times and then
// abandoned without error.
func (s *Store) TouchLastLogin(ctx context.Context, provider, subject string, at time.Time) error {
	const maxRetries = 3
	key := s.identityKey(provider, subject)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			ident, err := decodeIdentity(data)
			if err != nil {
				return err
			}
			ident.LastLoginAt = at.Unix()
			updated, err := encodeIdentity(ident)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, 0)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if errors.Is(err, redis.Nil) {
			return ErrIdentityNotFound
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return nil
	}
	return nil
}

// DeleteIdentity removes an identity, rejecting the removal of the user's
// last remaining login method. The count check and the delete run inside one
// optimistic transaction so a concurrent delete cannot slip a user below one
// identity.
func (s *Store) DeleteIdentity(ctx context.Context, ident *Identity) error {
	const maxRetries = 4
	setKey := s.userIdentitiesKey(ident.UserID)
	primary := s.identityKey(ident.Provider, ident.Subject)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			count, err := tx.SCard(ctx, setKey).Result()
			if err != nil {
				return err
			}
			if count <= 1 {
				return ErrLastIdentity
			}

			member, err := tx.SIsMember(ctx, setKey, ident.ID).Result()
			if err != nil {
				return err
			}
			if !member {
				return ErrIdentityNotFound
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, primary)
				pipe.Del(ctx, s.identityIDKey(ident.ID))
				pipe.SRem(ctx, setKey, ident.ID)
				return nil
			})
			return err
		}, setKey, primary)

		if err == redis.TxFailedErr {
			continue
		}
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrLastIdentity), errors.Is(err, ErrIdentityNotFound):
			return err
		default:
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	return fmt.Errorf("%w: delete identity retries exhausted", ErrStoreUnavailable)
}

// SetPasswordHash stores the PHC-encoded password hash for a user.
func (s *Store) SetPasswordHash(ctx context.Context, userID, encodedHash string) error {
	if err := s.redis.Set(ctx, s.passwordKey(userID), encodedHash, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// PasswordHash fetches the stored password hash; empty result maps to
// ErrUserNotFound so login paths stay uniform.
func (s *Store) PasswordHash(ctx context.Context, userID string) (string, error) {
	hash, err := s.redis.Get(ctx, s.passwordKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return hash, nil
}
