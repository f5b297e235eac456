package provider

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Info is the public descriptor of a configured provider, safe to expose to
// clients building a login page.
type Info struct {
	Key           string
	DisplayName   string
	ButtonVisible bool
}

// Registry resolves provider keys to adapters. Adapters are built lazily
// from the configuration source and cached until invalidated; the caches
// inside an adapter (discovery, JWKS) die with it.
type Registry struct {
	source  Source
	client  *http.Client
	jwksTTL time.Duration
	leeway  time.Duration

	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry builds a Registry over source. client bounds all provider
// traffic and is shared across adapters.
func NewRegistry(source Source, client *http.Client, jwksTTL, leeway time.Duration) *Registry {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Registry{
		source:   source,
		client:   client,
		jwksTTL:  jwksTTL,
		leeway:   leeway,
		adapters: make(map[string]Adapter),
	}
}

// Adapter returns the adapter for key, building it on first use. Disabled
// and unknown providers both return ErrProviderNotFound.
func (r *Registry) Adapter(ctx context.Context, key string) (Adapter, error) {
	r.mu.RLock()
	cached, ok := r.adapters[key]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	cfg, err := r.config(ctx, key)
	if err != nil {
		return nil, err
	}

	adapter, err := NewGenericOIDC(*cfg, r.client, r.jwksTTL, r.leeway)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.adapters[key]; ok {
		return existing, nil
	}
	r.adapters[key] = adapter
	return adapter, nil
}

// List returns the descriptors of every enabled provider.
func (r *Registry) List(ctx context.Context) ([]Info, error) {
	configs, err := r.source.Providers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}

	infos := make([]Info, 0, len(configs))
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		infos = append(infos, Info{
			Key:           cfg.Key,
			DisplayName:   cfg.DisplayName,
			ButtonVisible: cfg.ButtonVisible,
		})
	}
	return infos, nil
}

// Invalidate drops the cached adapter for key, forcing a rebuild (and a
// fresh discovery fetch) on next use. Empty key drops every adapter.
func (r *Registry) Invalidate(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if key == "" {
		r.adapters = make(map[string]Adapter)
		return
	}
	delete(r.adapters, key)
}

func (r *Registry) config(ctx context.Context, key string) (*Config, error) {
	configs, err := r.source.Providers(ctx)
	if err != nil {
		return nil, fmt.Errorf("load provider config: %w", err)
	}
	for i := range configs {
		if configs[i].Key == key && configs[i].Enabled {
			return &configs[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, key)
}
