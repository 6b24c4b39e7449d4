// Copyright (c) Next Identity, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-hclog"

	"github.com/next-identity/oidc-go/oidc"
)

// ErrNotAuthenticated is returned by CurrentUser when the session holds no
// valid token.
var ErrNotAuthenticated = errors.New("not authenticated")

// Gate determines authentication status from a session Store and exposes a
// reusable "require authentication" guard for protected routes.  It never
// makes network calls to answer IsAuthenticated, with one exception: when a
// stored token has expired and carries a refresh token, a gate constructed
// with WithProvider makes a single refresh attempt before failing closed.
type Gate struct {
	store    Store
	provider *oidc.Provider
	logger   hclog.Logger
}

// NewGate creates a Gate over the given session store.
//
// Supported options: WithProvider, WithLogger
func NewGate(store Store, opt ...Option) (*Gate, error) {
	const op = "session.NewGate"
	if store == nil {
		return nil, fmt.Errorf("%s: session store is nil: %w", op, oidc.ErrNilParameter)
	}
	opts := getGateOpts(opt...)
	logger := opts.withLogger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Gate{
		store:    store,
		provider: opts.withProvider,
		logger:   logger,
	}, nil
}

// Authenticate writes a verified token and its user claims into the session
// store.  Invalid or partial tokens are rejected, so a failed flow can never
// leave the session authenticated.
func (g *Gate) Authenticate(ctx context.Context, id string, t *oidc.Token, claims map[string]interface{}) error {
	const op = "Gate.Authenticate"
	if id == "" {
		return fmt.Errorf("%s: session id is empty: %w", op, oidc.ErrInvalidParameter)
	}
	if t == nil {
		return fmt.Errorf("%s: token is nil: %w", op, oidc.ErrNilParameter)
	}
	if !t.Valid() {
		return fmt.Errorf("%s: refusing to store an invalid token: %w", op, oidc.ErrInvalidParameter)
	}
	if err := g.store.Set(ctx, id, &State{Token: t, Claims: claims}); err != nil {
		return fmt.Errorf("%s: unable to write session: %w", op, err)
	}
	return nil
}

// IsAuthenticated reports whether the session holds a valid (present,
// non-expired) token.
func (g *Gate) IsAuthenticated(ctx context.Context, id string) bool {
	return g.read(ctx, id) != nil
}

// CurrentUser returns the claims stored for the session's user.  When no
// claims were cached it falls back to the id_token's claims.
func (g *Gate) CurrentUser(ctx context.Context, id string) (map[string]interface{}, error) {
	const op = "Gate.CurrentUser"
	s := g.read(ctx, id)
	if s == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrNotAuthenticated)
	}
	if s.Claims != nil {
		return s.Claims, nil
	}
	var claims map[string]interface{}
	if err := s.Token.IDToken().Claims(&claims); err != nil {
		return nil, fmt.Errorf("%s: unable to read id_token claims: %w", op, err)
	}
	return claims, nil
}

// Clear removes the session's record.
func (g *Gate) Clear(ctx context.Context, id string) error {
	const op = "Gate.Clear"
	if err := g.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("%s: unable to delete session: %w", op, err)
	}
	return nil
}

// read returns the session's State when it holds a valid token, attempting a
// single refresh of an expired token when possible.  Any failure leaves the
// session unauthenticated (and cleared).
func (g *Gate) read(ctx context.Context, id string) *State {
	if id == "" {
		return nil
	}
	s, err := g.store.Get(ctx, id)
	if err != nil {
		g.logger.Warn("unable to read session", "err", err)
		return nil
	}
	if s == nil || s.Token == nil {
		return nil
	}
	if s.Token.Valid() {
		return s
	}

	refreshToken := s.Token.RefreshToken()
	if refreshToken == "" || g.provider == nil {
		_ = g.store.Delete(ctx, id)
		return nil
	}
	newToken, err := g.provider.RefreshToken(ctx, refreshToken)
	if err != nil {
		g.logger.Warn("token refresh failed, clearing session", "err", err)
		_ = g.store.Delete(ctx, id)
		return nil
	}
	s.Token = newToken
	if err := g.store.Set(ctx, id, s); err != nil {
		g.logger.Warn("unable to write refreshed session", "err", err)
		_ = g.store.Delete(ctx, id)
		return nil
	}
	g.logger.Debug("refreshed session token")
	return s
}

// SessionIDFunc extracts the session key from an inbound request (typically
// from a cookie).  Returning "" means the request has no session.
type SessionIDFunc func(*http.Request) string

// RequireAuthentication wraps next with the authentication guard: when the
// request's session is not authenticated the guard short-circuits with an
// unauthenticated outcome (a 401 by default, or a redirect when
// WithLoginRedirect is set) and next is never invoked.
//
// Supported options: WithLoginRedirect, WithUnauthenticatedHandler
func (g *Gate) RequireAuthentication(next http.Handler, sessionID SessionIDFunc, opt ...Option) (http.Handler, error) {
	const op = "Gate.RequireAuthentication"
	if next == nil {
		return nil, fmt.Errorf("%s: next handler is nil: %w", op, oidc.ErrNilParameter)
	}
	if sessionID == nil {
		return nil, fmt.Errorf("%s: session id func is nil: %w", op, oidc.ErrNilParameter)
	}
	opts := getGateOpts(opt...)
	unauthenticated := opts.withUnauthenticatedHandler
	if unauthenticated == nil {
		switch {
		case opts.withLoginRedirect != "":
			redirect := opts.withLoginRedirect
			unauthenticated = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				http.Redirect(w, req, redirect, http.StatusFound)
			})
		default:
			unauthenticated = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				http.Error(w, "unauthenticated", http.StatusUnauthorized)
			})
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !g.IsAuthenticated(req.Context(), sessionID(req)) {
			unauthenticated.ServeHTTP(w, req)
			return
		}
		next.ServeHTTP(w, req)
	}), nil
}

// Option defines a common functional options type for the session package.
type Option func(interface{})

// gateOptions is the set of available options for Gate functions
type gateOptions struct {
	withProvider               *oidc.Provider
	withLogger                 hclog.Logger
	withLoginRedirect          string
	withUnauthenticatedHandler http.Handler
}

// gateDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func gateDefaults() gateOptions {
	return gateOptions{}
}

// getGateOpts gets the defaults and applies the opt overrides passed in.
func getGateOpts(opt ...Option) gateOptions {
	opts := gateDefaults()
	for _, o := range opt {
		if o != nil {
			o(&opts)
		}
	}
	return opts
}

// WithProvider enables the gate's single refresh-on-expiry attempt via the
// provider's token endpoint.
func WithProvider(p *oidc.Provider) Option {
	return func(o interface{}) {
		if o, ok := o.(*gateOptions); ok {
			o.withProvider = p
		}
	}
}

// WithLogger provides an optional hclog.Logger
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*gateOptions); ok {
			o.withLogger = l
		}
	}
}

// WithLoginRedirect makes the guard redirect unauthenticated requests to the
// given location instead of responding 401.
func WithLoginRedirect(loginURL string) Option {
	return func(o interface{}) {
		if o, ok := o.(*gateOptions); ok {
			o.withLoginRedirect = loginURL
		}
	}
}

// WithUnauthenticatedHandler provides a handler invoked for unauthenticated
// requests, overriding the default 401 (and WithLoginRedirect).
func WithUnauthenticatedHandler(h http.Handler) Option {
	return func(o interface{}) {
		if o, ok := o.(*gateOptions); ok {
			o.withUnauthenticatedHandler = h
		}
	}
}
