// Copyright (c) Next Identity, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// DefaultTokenExpirySkew defines a default time skew when checking a Token's
// access token expiration.
const DefaultTokenExpirySkew = 10 * time.Second

// Token represents the set of tokens returned by a successful authorization
// code exchange: a verified id_token, an access_token and, depending on the
// provider, a refresh_token.  The core never persists a Token itself; its
// storage belongs to the caller (see the session package).
type Token struct {
	idToken      IDToken
	accessToken  AccessToken
	refreshToken RefreshToken
	expiry       time.Time
	nowFunc      func() time.Time
}

// NewToken creates a Token from a verified id_token and the oauth2 token
// returned by the provider's token endpoint.
func NewToken(idToken IDToken, t *oauth2.Token, opt ...Option) (*Token, error) {
	const op = "oidc.NewToken"
	if t == nil {
		return nil, fmt.Errorf("%s: oauth2 token is nil: %w", op, ErrNilParameter)
	}
	if idToken == "" {
		return nil, fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}
	return &Token{
		idToken:      idToken,
		accessToken:  AccessToken(t.AccessToken),
		refreshToken: RefreshToken(t.RefreshToken),
		expiry:       t.Expiry,
	}, nil
}

// IDToken returns the Token's verified id_token.
func (t *Token) IDToken() IDToken { return t.idToken }

// AccessToken returns the Token's access_token.
func (t *Token) AccessToken() AccessToken { return t.accessToken }

// RefreshToken returns the Token's refresh_token, which may be empty.
func (t *Token) RefreshToken() RefreshToken { return t.refreshToken }

// Expiry returns the access token's expiration.  A zero value means the
// provider did not report one.
func (t *Token) Expiry() time.Time { return t.expiry }

// Expired returns true if the access token has expired. Supports the
// WithExpirySkew option and if none is provided it will use the
// DefaultTokenExpirySkew.
func (t *Token) Expired(opt ...Option) bool {
	if t.expiry.IsZero() {
		return false
	}
	opts := getTokenOpts(opt...)
	return t.expiry.Round(0).Before(t.now().Add(opts.withExpirySkew))
}

// Valid returns true when the Token holds an access token that has not
// expired.
func (t *Token) Valid() bool {
	if t == nil {
		return false
	}
	if t.accessToken == "" {
		return false
	}
	return !t.Expired()
}

// StaticTokenSource returns a TokenSource that always returns the same
// access token, suitable for Provider.UserInfo.
func (t *Token) StaticTokenSource() oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: string(t.accessToken),
		Expiry:      t.expiry,
	})
}

func (t *Token) now() time.Time {
	if t.nowFunc != nil {
		return t.nowFunc()
	}
	return time.Now()
}

// tokenOptions is the set of available options for Token functions
type tokenOptions struct {
	withExpirySkew time.Duration
}

// tokenDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func tokenDefaults() tokenOptions {
	return tokenOptions{
		withExpirySkew: DefaultTokenExpirySkew,
	}
}

// getTokenOpts gets the token defaults and applies the opt overrides passed
// in
func getTokenOpts(opt ...Option) tokenOptions {
	opts := tokenDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
