// Copyright (c) Next Identity, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"

	"github.com/next-identity/oidc-go/oidc/internal/strutils"
)

// Provider provides integration with a Next Identity provider using the
// typical 3-legged OIDC authorization code flow: it builds authorization and
// logout URLs for the login/register/profile intents, owns the pending flow
// store, exchanges authorization codes for verified tokens, and makes
// userinfo requests.
//
// Construction performs no network I/O; the provider's metadata document is
// fetched (and then cached) on first need.
//
// See Provider.Done() which must be called to release provider resources.
type Provider struct {
	config *Config
	client *http.Client
	cache  *discoveryCache
	flows  *flowStore
	logger hclog.Logger

	mu sync.Mutex

	// backgroundCtx is the context used by the provider for background
	// activities like refreshing its remote key set.
	backgroundCtx context.Context

	// backgroundCtxCancel is used to cancel any background activities running
	// in spawned go routines.
	backgroundCtxCancel context.CancelFunc
}

// NewProvider creates and initializes a Provider for the OIDC authorization
// code flow.  The config is validated eagerly, but the provider's metadata
// is not fetched until the first operation that needs it.
//
// See Provider.Done() which must be called to release provider resources.
func NewProvider(c *Config) (*Provider, error) {
	const op = "oidc.NewProvider"
	if c == nil {
		return nil, fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: provider config is invalid: %w", op, err)
	}

	client, err := newHTTPClient(c.ProviderCA, c.httpTimeout())
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	logger := c.logger()
	p := &Provider{
		config:              c,
		client:              client,
		cache:               newDiscoveryCache(ctx, c.Issuer, client, c.DiscoveryMaxAge, c.NowFunc, logger),
		flows:               newFlowStore(c.NowFunc),
		logger:              logger,
		backgroundCtx:       ctx,
		backgroundCtxCancel: cancel,
	}
	return p, nil
}

// Done with the provider's background resources and must be called for every
// Provider created
func (p *Provider) Done() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.backgroundCtxCancel != nil {
		p.backgroundCtxCancel()
		p.backgroundCtxCancel = nil
	}
}

// DiscoveryInfo returns the provider's metadata, fetching and caching it if
// required.
func (p *Provider) DiscoveryInfo(ctx context.Context) (*ProviderMetadata, error) {
	const op = "Provider.DiscoveryInfo"
	_, md, err := p.cache.current(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	cp := *md
	return &cp, nil
}

// InvalidateDiscovery drops the cached provider metadata, forcing a
// synchronous re-fetch (and a fresh key set) on the next operation.
func (p *Provider) InvalidateDiscovery() {
	p.cache.invalidate()
}

// AuthURL generates a URL the caller can use to redirect an end user to the
// provider for the given intent (login, registration or profile edit).  A
// pending Flow is issued for the redirect and held by the provider until its
// callback is exchanged or the flow's TTL elapses.
//
// Supported options: WithReturnTo
func (p *Provider) AuthURL(ctx context.Context, intent Intent, opt ...Option) (string, error) {
	const op = "Provider.AuthURL"
	if err := intent.Validate(); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	opts := getAuthURLOpts(opt...)

	_, md, err := p.cache.current(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	flow, err := p.flows.Issue(intent, opts.withReturnTo, p.config.flowTTL())
	if err != nil {
		return "", fmt.Errorf("%s: unable to issue flow: %w", op, err)
	}

	oauth2Config := oauth2.Config{
		ClientID:     p.config.ClientID,
		ClientSecret: string(p.config.ClientSecret),
		RedirectURL:  p.config.RedirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:  md.AuthorizationEndpoint,
			TokenURL: md.TokenEndpoint,
		},
		Scopes: p.config.Scopes,
	}
	authCodeOpts := []oauth2.AuthCodeOption{
		oidc.Nonce(flow.Nonce()),
		oauth2.SetAuthURLParam(p.config.intentParameter(), p.config.intentValue(intent)),
	}
	return oauth2Config.AuthCodeURL(flow.State(), authCodeOpts...), nil
}

// LogoutURL generates a URL for the provider's end-session endpoint.  No
// flow is issued since logout returns no authorization code.
//
// Supported options: WithIDTokenHint, WithPostLogoutRedirect
func (p *Provider) LogoutURL(ctx context.Context, opt ...Option) (string, error) {
	const op = "Provider.LogoutURL"
	opts := getLogoutURLOpts(opt...)

	_, md, err := p.cache.current(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	u, err := url.Parse(md.EndSessionEndpoint)
	if err != nil {
		return "", fmt.Errorf("%s: end session endpoint %q is invalid: %v: %w", op, md.EndSessionEndpoint, err, ErrDiscoveryFailed)
	}
	q := u.Query()
	q.Set("client_id", p.config.ClientID)
	if opts.withIDTokenHint != "" {
		q.Set("id_token_hint", string(opts.withIDTokenHint))
	}
	if opts.withPostLogoutRedirect != "" {
		q.Set("post_logout_redirect_uri", opts.withPostLogoutRedirect)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Exchange consumes the pending Flow for the authorizationState returned on
// the callback, requests tokens from the provider's token endpoint using the
// authorizationCode, and fully verifies the returned id_token (signature,
// issuer, audience, expiry with bounded clock skew, and the consumed flow's
// nonce).  If any verification fails, no tokens are returned.
//
// On success, the verified Token and the consumed Flow (whose ReturnTo tells
// the caller where the user originally wanted to go) are returned.  A flow
// can only ever be exchanged once: a second callback with the same state
// fails with ErrFlowAlreadyConsumed.
func (p *Provider) Exchange(ctx context.Context, authorizationState string, authorizationCode string) (*Token, *Flow, error) {
	const op = "Provider.Exchange"
	if authorizationState == "" {
		return nil, nil, fmt.Errorf("%s: authorization state is empty: %w", op, ErrMissingParameter)
	}
	if authorizationCode == "" {
		return nil, nil, fmt.Errorf("%s: authorization code is empty: %w", op, ErrMissingParameter)
	}

	flow, err := p.flows.Consume(authorizationState)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: unable to consume authentication flow: %w", op, err)
	}

	provider, md, err := p.cache.current(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	oauth2Config := oauth2.Config{
		ClientID:     p.config.ClientID,
		ClientSecret: string(p.config.ClientSecret),
		RedirectURL:  p.config.RedirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:  md.AuthorizationEndpoint,
			TokenURL: md.TokenEndpoint,
		},
		Scopes: p.config.Scopes,
	}
	oidcCtx := HTTPClientContext(ctx, p.client)

	oauth2Token, err := oauth2Config.Exchange(oidcCtx, authorizationCode)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %v: %w", op, exchangeFailureDetail(err), ErrExchangeFailed)
	}

	idToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok || idToken == "" {
		return nil, nil, fmt.Errorf("%s: id_token is missing from auth code exchange: %w", op, ErrMissingIDToken)
	}
	if oauth2Token.AccessToken == "" {
		return nil, nil, fmt.Errorf("%s: access_token is missing from auth code exchange: %w", op, ErrMissingAccessToken)
	}

	if err := p.verifyIDToken(ctx, provider, IDToken(idToken), flow.Nonce()); err != nil {
		return nil, nil, fmt.Errorf("%s: id_token failed verification: %w", op, err)
	}

	t, err := NewToken(IDToken(idToken), oauth2Token)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: unable to create new token: %w", op, err)
	}
	p.logger.Debug("exchanged authorization code", "intent", flow.Intent())
	return t, flow, nil
}

// exchangeFailureDetail extracts the provider's error code and description
// from a failed token endpoint response, when present.
func exchangeFailureDetail(err error) string {
	var rErr *oauth2.RetrieveError
	if !errors.As(err, &rErr) {
		return err.Error()
	}
	var body struct {
		Code string `json:"error"`
		Desc string `json:"error_description"`
	}
	if jsonErr := json.Unmarshal(rErr.Body, &body); jsonErr != nil || body.Code == "" {
		return fmt.Sprintf("token endpoint returned %s", rErr.Response.Status)
	}
	if body.Desc != "" {
		return fmt.Sprintf("provider returned %q (%s)", body.Code, body.Desc)
	}
	return fmt.Sprintf("provider returned %q", body.Code)
}

// RefreshToken requests a new Token from the provider using a refresh_token
// grant.  If the response carries a new id_token it is verified (without a
// nonce check, since no flow initiated the refresh); the refresh fails if
// that verification fails.
func (p *Provider) RefreshToken(ctx context.Context, refreshToken RefreshToken) (*Token, error) {
	const op = "Provider.RefreshToken"
	if refreshToken == "" {
		return nil, fmt.Errorf("%s: refresh token is empty: %w", op, ErrInvalidParameter)
	}
	provider, md, err := p.cache.current(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	oauth2Config := oauth2.Config{
		ClientID:     p.config.ClientID,
		ClientSecret: string(p.config.ClientSecret),
		RedirectURL:  p.config.RedirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:  md.AuthorizationEndpoint,
			TokenURL: md.TokenEndpoint,
		},
		Scopes: p.config.Scopes,
	}
	oidcCtx := HTTPClientContext(ctx, p.client)
	ts := oauth2Config.TokenSource(oidcCtx, &oauth2.Token{RefreshToken: string(refreshToken)})
	oauth2Token, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", op, exchangeFailureDetail(err), ErrExchangeFailed)
	}
	if oauth2Token.AccessToken == "" {
		return nil, fmt.Errorf("%s: access_token is missing from refresh: %w", op, ErrMissingAccessToken)
	}

	t := &Token{
		accessToken:  AccessToken(oauth2Token.AccessToken),
		refreshToken: RefreshToken(oauth2Token.RefreshToken),
		expiry:       oauth2Token.Expiry,
		nowFunc:      p.config.NowFunc,
	}
	if t.refreshToken == "" {
		t.refreshToken = refreshToken
	}
	if idToken, ok := oauth2Token.Extra("id_token").(string); ok && idToken != "" {
		if err := p.verifyIDToken(ctx, provider, IDToken(idToken), ""); err != nil {
			return nil, fmt.Errorf("%s: refreshed id_token failed verification: %w", op, err)
		}
		t.idToken = IDToken(idToken)
	}
	return t, nil
}

// VerifyIDToken verifies the inbound id_token: its signature against the
// provider's current signing keys, its issuer, audience, expiry (with the
// config's bounded clock skew) and, when nonce is not empty, its nonce
// claim.  Each failure is classified with its own error value.
func (p *Provider) VerifyIDToken(ctx context.Context, t IDToken, nonce string) error {
	const op = "Provider.VerifyIDToken"
	if t == "" {
		return fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}
	provider, _, err := p.cache.current(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return p.verifyIDToken(ctx, provider, t, nonce)
}

func (p *Provider) verifyIDToken(ctx context.Context, provider *oidc.Provider, t IDToken, nonce string) error {
	const op = "Provider.verifyIDToken"
	algs := make([]string, 0, len(p.config.SupportedSigningAlgs))
	for _, a := range p.config.SupportedSigningAlgs {
		algs = append(algs, string(a))
	}
	// signature only; the issuer, audience, expiry and nonce checks below
	// each need their own classification.
	verifier := provider.Verifier(&oidc.Config{
		SupportedSigningAlgs: algs,
		SkipClientIDCheck:    true,
		SkipExpiryCheck:      true,
		SkipIssuerCheck:      true,
	})
	oidcIDToken, err := verifier.Verify(HTTPClientContext(ctx, p.client), string(t))
	if err != nil {
		return fmt.Errorf("%s: %v: %w", op, err, ErrInvalidSignature)
	}

	if oidcIDToken.Issuer != p.config.Issuer {
		return fmt.Errorf("%s: id_token issuer %q does not match %q: %w", op, oidcIDToken.Issuer, p.config.Issuer, ErrInvalidIssuer)
	}

	audiences := p.config.Audiences
	if len(audiences) == 0 {
		audiences = []string{p.config.ClientID}
	}
	found := false
	for _, a := range audiences {
		if strutils.StrListContains(oidcIDToken.Audience, a) {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%s: id_token audiences %q do not include %q: %w", op, oidcIDToken.Audience, audiences, ErrInvalidAudience)
	}

	now := p.config.now()
	skew := p.config.clockSkew()
	if oidcIDToken.Expiry.Before(now.Add(-skew)) {
		return fmt.Errorf("%s: id_token expired at %s: %w", op, oidcIDToken.Expiry, ErrExpiredToken)
	}
	if !oidcIDToken.IssuedAt.IsZero() && oidcIDToken.IssuedAt.After(now.Add(skew)) {
		return fmt.Errorf("%s: id_token issued in the future at %s: %w", op, oidcIDToken.IssuedAt, ErrExpiredToken)
	}

	if nonce != "" && oidcIDToken.Nonce != nonce {
		return fmt.Errorf("%s: id_token nonce does not match the flow's nonce: %w", op, ErrInvalidNonce)
	}
	return nil
}

// UserInfo gets claims from the provider's userinfo endpoint using the token
// produced by the tokenSource as a bearer credential, unmarshaling them into
// claims.
func (p *Provider) UserInfo(ctx context.Context, tokenSource oauth2.TokenSource, claims interface{}) error {
	const op = "Provider.UserInfo"
	if tokenSource == nil {
		return fmt.Errorf("%s: token source is nil: %w", op, ErrNilParameter)
	}
	if claims == nil {
		return fmt.Errorf("%s: claims interface is nil: %w", op, ErrNilParameter)
	}
	provider, _, err := p.cache.current(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	oidcCtx := HTTPClientContext(ctx, p.client)
	userinfo, err := provider.UserInfo(oidcCtx, tokenSource)
	if err != nil {
		return fmt.Errorf("%s: provider UserInfo request failed: %v: %w", op, err, ErrUserInfoFailed)
	}
	if err := userinfo.Claims(claims); err != nil {
		return fmt.Errorf("%s: failed to get UserInfo claims: %v: %w", op, err, ErrUserInfoFailed)
	}
	return nil
}

// authURLOptions is the set of available options for Provider.AuthURL
type authURLOptions struct {
	withReturnTo string
}

func authURLDefaults() authURLOptions {
	return authURLOptions{}
}

func getAuthURLOpts(opt ...Option) authURLOptions {
	opts := authURLDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithReturnTo provides the originally-requested location to return the user
// to once the callback completes.  It is carried on the issued Flow, not
// sent to the provider.
func WithReturnTo(returnTo string) Option {
	return func(o interface{}) {
		if o, ok := o.(*authURLOptions); ok {
			o.withReturnTo = returnTo
		}
	}
}

// logoutURLOptions is the set of available options for Provider.LogoutURL
type logoutURLOptions struct {
	withIDTokenHint        IDToken
	withPostLogoutRedirect string
}

func logoutURLDefaults() logoutURLOptions {
	return logoutURLOptions{}
}

func getLogoutURLOpts(opt ...Option) logoutURLOptions {
	opts := logoutURLDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithIDTokenHint provides the id_token to identify the provider session
// being ended.
func WithIDTokenHint(t IDToken) Option {
	return func(o interface{}) {
		if o, ok := o.(*logoutURLOptions); ok {
			o.withIDTokenHint = t
		}
	}
}

// WithPostLogoutRedirect provides the target the provider should send the
// user to after ending their session.
func WithPostLogoutRedirect(redirectURL string) Option {
	return func(o interface{}) {
		if o, ok := o.(*logoutURLOptions); ok {
			o.withPostLogoutRedirect = redirectURL
		}
	}
}
