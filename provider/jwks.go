package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v3"
)

// jwksCache caches a provider's key set for a bounded TTL. A kid miss forces
// one refetch; repeated misses inside refreshFloor are served from the stale
// set so a flood of bad tokens cannot hammer the JWKS endpoint.
type jwksCache struct {
	client *http.Client
	ttl    time.Duration

	mu      sync.RWMutex
	set     jose.JSONWebKeySet
	fetched time.Time
}

const jwksRefreshFloor = 30 * time.Second

func newJWKSCache(client *http.Client, ttl time.Duration) *jwksCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &jwksCache{client: client, ttl: ttl}
}

// key resolves the verification key for kid, refreshing the cached set when
// it is stale or does not contain the kid.
func (j *jwksCache) key(ctx context.Context, url, kid string) (any, error) {
	j.mu.RLock()
	fresh := time.Since(j.fetched) < j.ttl
	key := findKey(j.set, kid)
	j.mu.RUnlock()

	if key != nil && fresh {
		return key.Key, nil
	}

	if err := j.refresh(ctx, url); err != nil {
		// A stale hit still beats a hard failure.
		if key != nil {
			return key.Key, nil
		}
		return nil, err
	}

	j.mu.RLock()
	key = findKey(j.set, kid)
	j.mu.RUnlock()

	if key == nil {
		return nil, fmt.Errorf("%w: signing key %q not found", ErrIDToken, kid)
	}
	return key.Key, nil
}

func (j *jwksCache) refresh(ctx context.Context, url string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if time.Since(j.fetched) < jwksRefreshFloor {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIDToken, err)
	}
	resp, err := j.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: jwks fetch: %v", ErrIDToken, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: jwks endpoint returned %d", ErrIDToken, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("%w: jwks decode: %v", ErrIDToken, err)
	}

	j.set = set
	j.fetched = time.Now()
	return nil
}

func findKey(set jose.JSONWebKeySet, kid string) *jose.JSONWebKey {
	for i := range set.Keys {
		k := &set.Keys[i]
		if kid == "" || k.KeyID == kid {
			if k.Use != "" && k.Use != "sig" {
				continue
			}
			return k
		}
	}
	return nil
}
