package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// discoveryDocument is the subset of the OIDC discovery response the adapter
// uses.
type discoveryDocument struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
	JWKSURI               string `json:"jwks_uri"`
}

// discoveryCache fetches the discovery document once and serves it for the
// life of the adapter. Invalidation happens by discarding the adapter.
type discoveryCache struct {
	url    string
	issuer string
	client *http.Client

	mu  sync.Mutex
	doc *discoveryDocument
}

func newDiscoveryCache(url, issuer string, client *http.Client) *discoveryCache {
	return &discoveryCache{url: url, issuer: issuer, client: client}
}

func (d *discoveryCache) document(ctx context.Context) (*discoveryDocument, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.doc != nil {
		return d.doc, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscovery, err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscovery, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: discovery endpoint returned %d", ErrDiscovery, resp.StatusCode)
	}

	var doc discoveryDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscovery, err)
	}
	if doc.AuthorizationEndpoint == "" || doc.TokenEndpoint == "" {
		return nil, fmt.Errorf("%w: document missing endpoints", ErrDiscovery)
	}
	if d.issuer != "" && doc.Issuer != d.issuer {
		return nil, fmt.Errorf("%w: issuer mismatch %q", ErrDiscovery, doc.Issuer)
	}

	d.doc = &doc
	return d.doc, nil
}
