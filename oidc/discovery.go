// Copyright (c) Next Identity, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
)

// ProviderMetadata is the subset of the provider's discovery document the
// relying party depends on.  Every endpoint is required and must be an
// absolute URL; once fetched the metadata is treated as immutable until
// cache expiry or explicit invalidation.
type ProviderMetadata struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserInfoEndpoint      string `json:"userinfo_endpoint"`
	EndSessionEndpoint    string `json:"end_session_endpoint"`
	JWKSURL               string `json:"jwks_uri"`
}

// validate verifies that every required endpoint field is present and an
// absolute URL.  All problems found are reported, not just the first.
func (m *ProviderMetadata) validate() error {
	var result *multierror.Error
	for name, val := range map[string]string{
		"issuer":                 m.Issuer,
		"authorization_endpoint": m.AuthorizationEndpoint,
		"token_endpoint":         m.TokenEndpoint,
		"userinfo_endpoint":      m.UserInfoEndpoint,
		"end_session_endpoint":   m.EndSessionEndpoint,
		"jwks_uri":               m.JWKSURL,
	} {
		if val == "" {
			result = multierror.Append(result, fmt.Errorf("metadata is missing %s: %w", name, ErrInvalidParameter))
			continue
		}
		if u, err := url.Parse(val); err != nil || !u.IsAbs() {
			result = multierror.Append(result, fmt.Errorf("metadata %s %q is not an absolute URL: %w", name, val, ErrInvalidParameter))
		}
	}
	return result.ErrorOrNil()
}

// discoveryRetryBackoff is the pause before the single retry of a failed
// metadata fetch.
const discoveryRetryBackoff = 250 * time.Millisecond

// discoveryCache fetches and caches the provider's discovery document and
// the coreos provider that owns its remote key set.  A mutex guards the
// fetch, so concurrent callers on a cold (or stale) cache block on a single
// in-flight fetch instead of each re-fetching.
type discoveryCache struct {
	mu      sync.Mutex
	issuer  string
	client  *http.Client
	maxAge  time.Duration
	nowFunc func() time.Time
	logger  hclog.Logger

	// baseCtx is the provider's background context.  The coreos provider
	// keeps the context it was constructed with for later key set fetches,
	// so the fetch must not ride a request-scoped context.
	baseCtx context.Context

	provider  *oidc.Provider
	metadata  *ProviderMetadata
	fetchedAt time.Time
}

func newDiscoveryCache(baseCtx context.Context, issuer string, client *http.Client, maxAge time.Duration, nowFunc func() time.Time, logger hclog.Logger) *discoveryCache {
	return &discoveryCache{
		baseCtx: baseCtx,
		issuer:  issuer,
		client:  client,
		maxAge:  maxAge,
		nowFunc: nowFunc,
		logger:  logger,
	}
}

// current returns the cached provider and metadata, fetching synchronously
// on a cold cache, after the freshness window elapses, or after an explicit
// invalidation.  Transient fetch failures are retried once with a short
// backoff; verification failures are not.
func (c *discoveryCache) current(ctx context.Context) (*oidc.Provider, *ProviderMetadata, error) {
	const op = "discoveryCache.current"
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.provider != nil {
		if c.maxAge == 0 || c.now().Sub(c.fetchedAt) < c.maxAge {
			return c.provider, c.metadata, nil
		}
		c.logger.Debug("provider metadata is stale, re-fetching", "issuer", c.issuer, "fetched-at", c.fetchedAt)
	}

	oidcCtx := HTTPClientContext(c.baseCtx, c.client)
	provider, err := oidc.NewProvider(oidcCtx, c.issuer)
	if err != nil {
		c.logger.Warn("provider metadata fetch failed, retrying once", "issuer", c.issuer, "err", err)
		select {
		case <-time.After(discoveryRetryBackoff):
		case <-ctx.Done():
			return nil, nil, fmt.Errorf("%s: %v: %w", op, ctx.Err(), ErrDiscoveryFailed)
		}
		provider, err = oidc.NewProvider(oidcCtx, c.issuer)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%s: unable to fetch provider metadata from %q: %v: %w", op, c.issuer, err, ErrDiscoveryFailed)
	}

	var md ProviderMetadata
	if err := provider.Claims(&md); err != nil {
		return nil, nil, fmt.Errorf("%s: malformed provider metadata: %v: %w", op, err, ErrDiscoveryFailed)
	}
	if err := md.validate(); err != nil {
		return nil, nil, fmt.Errorf("%s: %v: %w", op, err, ErrDiscoveryFailed)
	}

	c.provider = provider
	c.metadata = &md
	c.fetchedAt = c.now()
	c.logger.Debug("fetched provider metadata", "issuer", md.Issuer)
	return c.provider, c.metadata, nil
}

// invalidate drops the cached metadata, forcing a synchronous re-fetch on
// the next use.
func (c *discoveryCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.provider = nil
	c.metadata = nil
}

func (c *discoveryCache) now() time.Time {
	if c.nowFunc != nil {
		return c.nowFunc()
	}
	return time.Now()
}
