// Copyright (c) Next Identity, Inc.
// SPDX-License-Identifier: MPL-2.0

package session_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"gopkg.in/square/go-jose.v2/jwt"

	"github.com/next-identity/oidc-go/oidc"
	"github.com/next-identity/oidc-go/oidc/session"
)

func testJWTClaims(issuer, audience string) jwt.Claims {
	now := jwt.NewNumericDate(time.Now())
	return jwt.Claims{
		Issuer:    issuer,
		Subject:   "alice@example.com",
		IssuedAt:  now,
		NotBefore: now,
		Expiry:    jwt.NewNumericDate(time.Now().Add(1 * time.Minute)),
		Audience:  jwt.Audience{audience},
	}
}

func testValidToken(t *testing.T) *oidc.Token {
	t.Helper()
	tk, err := oidc.NewToken(oidc.IDToken("id-token"), &oauth2.Token{
		AccessToken: "access-token",
		Expiry:      time.Now().Add(1 * time.Hour),
	})
	require.NoError(t, err)
	return tk
}

func testExpiredToken(t *testing.T, refreshToken string) *oidc.Token {
	t.Helper()
	tk, err := oidc.NewToken(oidc.IDToken("id-token"), &oauth2.Token{
		AccessToken:  "access-token",
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-1 * time.Hour),
	})
	require.NoError(t, err)
	return tk
}

func TestNewGate(t *testing.T) {
	t.Parallel()
	t.Run("nil-store", func(t *testing.T) {
		assert := assert.New(t)
		_, err := session.NewGate(nil)
		assert.Truef(errors.Is(err, oidc.ErrNilParameter), "wanted %q and got %q", oidc.ErrNilParameter, err)
	})
	t.Run("valid", func(t *testing.T) {
		require := require.New(t)
		g, err := session.NewGate(session.NewMemStore())
		require.NoError(err)
		require.NotNil(g)
	})
}

func TestGate_Authenticate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("valid-token", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		g, err := session.NewGate(session.NewMemStore())
		require.NoError(err)

		require.NoError(g.Authenticate(ctx, "sess_1", testValidToken(t), map[string]interface{}{"sub": "alice"}))
		assert.True(g.IsAuthenticated(ctx, "sess_1"))
	})
	t.Run("empty-id", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		g, err := session.NewGate(session.NewMemStore())
		require.NoError(err)
		err = g.Authenticate(ctx, "", testValidToken(t), nil)
		assert.Truef(errors.Is(err, oidc.ErrInvalidParameter), "wanted %q and got %q", oidc.ErrInvalidParameter, err)
	})
	t.Run("nil-token", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		g, err := session.NewGate(session.NewMemStore())
		require.NoError(err)
		err = g.Authenticate(ctx, "sess_1", nil, nil)
		assert.Truef(errors.Is(err, oidc.ErrNilParameter), "wanted %q and got %q", oidc.ErrNilParameter, err)
	})
	t.Run("rejects-expired-token", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		g, err := session.NewGate(session.NewMemStore())
		require.NoError(err)
		err = g.Authenticate(ctx, "sess_1", testExpiredToken(t, ""), nil)
		assert.Truef(errors.Is(err, oidc.ErrInvalidParameter), "wanted %q and got %q", oidc.ErrInvalidParameter, err)
		assert.False(g.IsAuthenticated(ctx, "sess_1"))
	})
}

func TestGate_IsAuthenticated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("empty-session-id", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		g, err := session.NewGate(session.NewMemStore())
		require.NoError(err)
		assert.False(g.IsAuthenticated(ctx, ""))
	})
	t.Run("unknown-session", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		g, err := session.NewGate(session.NewMemStore())
		require.NoError(err)
		assert.False(g.IsAuthenticated(ctx, "sess_unknown"))
	})
	t.Run("expired-without-refresh-clears-session", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		store := session.NewMemStore()
		g, err := session.NewGate(store)
		require.NoError(err)

		require.NoError(store.Set(ctx, "sess_1", &session.State{Token: testExpiredToken(t, "")}))
		assert.False(g.IsAuthenticated(ctx, "sess_1"))

		s, err := store.Get(ctx, "sess_1")
		require.NoError(err)
		assert.Nil(s, "the expired session record must be cleared")
	})
	t.Run("expired-with-refresh-token-refreshes", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := oidc.StartTestProvider(t)
		tp.SetClientCreds("test-rp", "fido")
		tp.SetReplyRefreshToken("refresh-me")

		c, err := oidc.NewConfig(tp.Addr(), "test-rp", "fido", "https://example.com/callback",
			oidc.WithSupportedAlgs(oidc.ES256),
			oidc.WithProviderCA(tp.CACert()),
		)
		require.NoError(err)
		p, err := oidc.NewProvider(c)
		require.NoError(err)
		t.Cleanup(p.Done)

		store := session.NewMemStore()
		g, err := session.NewGate(store, session.WithProvider(p))
		require.NoError(err)

		require.NoError(store.Set(ctx, "sess_1", &session.State{
			Token:  testExpiredToken(t, "refresh-me"),
			Claims: map[string]interface{}{"sub": "alice@example.com"},
		}))

		assert.True(g.IsAuthenticated(ctx, "sess_1"))

		s, err := store.Get(ctx, "sess_1")
		require.NoError(err)
		require.NotNil(s)
		assert.True(s.Token.Valid(), "the refreshed token must be stored")
	})
	t.Run("failed-refresh-fails-closed", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := oidc.StartTestProvider(t)
		tp.SetClientCreds("test-rp", "fido")
		tp.SetReplyRefreshToken("refresh-me")

		c, err := oidc.NewConfig(tp.Addr(), "test-rp", "fido", "https://example.com/callback",
			oidc.WithSupportedAlgs(oidc.ES256),
			oidc.WithProviderCA(tp.CACert()),
		)
		require.NoError(err)
		p, err := oidc.NewProvider(c)
		require.NoError(err)
		t.Cleanup(p.Done)

		store := session.NewMemStore()
		g, err := session.NewGate(store, session.WithProvider(p))
		require.NoError(err)

		require.NoError(store.Set(ctx, "sess_1", &session.State{Token: testExpiredToken(t, "stale-token")}))
		assert.False(g.IsAuthenticated(ctx, "sess_1"))

		s, err := store.Get(ctx, "sess_1")
		require.NoError(err)
		assert.Nil(s, "the session must be cleared after a failed refresh")
	})
}

func TestGate_CurrentUser(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("cached-claims", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		g, err := session.NewGate(session.NewMemStore())
		require.NoError(err)
		require.NoError(g.Authenticate(ctx, "sess_1", testValidToken(t), map[string]interface{}{
			"sub":            "alice@example.com",
			"preferred_name": "Alice",
		}))

		claims, err := g.CurrentUser(ctx, "sess_1")
		require.NoError(err)
		assert.Equal("alice@example.com", claims["sub"])
		assert.Equal("Alice", claims["preferred_name"])
	})
	t.Run("falls-back-to-id-token-claims", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, priv := oidc.TestGenerateKeys(t)
		raw := oidc.TestSignJWT(t, priv, testJWTClaims("https://id.example.com", "test-rp"), map[string]interface{}{
			"preferred_name": "Alice",
		})
		tk, err := oidc.NewToken(oidc.IDToken(raw), &oauth2.Token{
			AccessToken: "access-token",
			Expiry:      time.Now().Add(1 * time.Hour),
		})
		require.NoError(err)

		g, err := session.NewGate(session.NewMemStore())
		require.NoError(err)
		require.NoError(g.Authenticate(ctx, "sess_1", tk, nil))

		claims, err := g.CurrentUser(ctx, "sess_1")
		require.NoError(err)
		assert.Equal("alice@example.com", claims["sub"])
		assert.Equal("Alice", claims["preferred_name"])
	})
	t.Run("unauthenticated", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		g, err := session.NewGate(session.NewMemStore())
		require.NoError(err)
		_, err = g.CurrentUser(ctx, "sess_unknown")
		assert.Truef(errors.Is(err, session.ErrNotAuthenticated), "wanted %q and got %q", session.ErrNotAuthenticated, err)
	})
}

func TestGate_Clear(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()

	g, err := session.NewGate(session.NewMemStore())
	require.NoError(err)
	require.NoError(g.Authenticate(ctx, "sess_1", testValidToken(t), nil))
	require.True(g.IsAuthenticated(ctx, "sess_1"))

	require.NoError(g.Clear(ctx, "sess_1"))
	assert.False(g.IsAuthenticated(ctx, "sess_1"))
}

func TestGate_RequireAuthentication(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	sessionID := func(req *http.Request) string {
		return req.Header.Get("X-Session")
	}
	next := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("protected"))
	})

	t.Run("nil-parameters", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		g, err := session.NewGate(session.NewMemStore())
		require.NoError(err)
		_, err = g.RequireAuthentication(nil, sessionID)
		assert.Truef(errors.Is(err, oidc.ErrNilParameter), "wanted %q and got %q", oidc.ErrNilParameter, err)
		_, err = g.RequireAuthentication(next, nil)
		assert.Truef(errors.Is(err, oidc.ErrNilParameter), "wanted %q and got %q", oidc.ErrNilParameter, err)
	})
	t.Run("unauthenticated-401-by-default", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		g, err := session.NewGate(session.NewMemStore())
		require.NoError(err)
		h, err := g.RequireAuthentication(next, sessionID)
		require.NoError(err)

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("GET", "/dashboard", nil))
		assert.Equal(http.StatusUnauthorized, w.Code)
	})
	t.Run("unauthenticated-login-redirect", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		g, err := session.NewGate(session.NewMemStore())
		require.NoError(err)
		h, err := g.RequireAuthentication(next, sessionID, session.WithLoginRedirect("/login"))
		require.NoError(err)

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("GET", "/dashboard", nil))
		assert.Equal(http.StatusFound, w.Code)
		assert.Equal("/login", w.Header().Get("Location"))
	})
	t.Run("unauthenticated-custom-handler", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		g, err := session.NewGate(session.NewMemStore())
		require.NoError(err)
		custom := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		})
		h, err := g.RequireAuthentication(next, sessionID, session.WithUnauthenticatedHandler(custom))
		require.NoError(err)

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("GET", "/dashboard", nil))
		assert.Equal(http.StatusTeapot, w.Code)
	})
	t.Run("authenticated-passes-through", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		g, err := session.NewGate(session.NewMemStore())
		require.NoError(err)
		require.NoError(g.Authenticate(ctx, "sess_1", testValidToken(t), nil))

		h, err := g.RequireAuthentication(next, sessionID)
		require.NoError(err)

		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/dashboard", nil)
		req.Header.Set("X-Session", "sess_1")
		h.ServeHTTP(w, req)
		assert.Equal(http.StatusOK, w.Code)
		assert.Equal("protected", w.Body.String())
	})
}

func TestMemStore(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	store := session.NewMemStore()

	s, err := store.Get(ctx, "sess_1")
	require.NoError(err)
	assert.Nil(s, "an unknown id must return (nil, nil)")

	require.NoError(store.Set(ctx, "sess_1", &session.State{Token: testValidToken(t)}))
	s, err = store.Get(ctx, "sess_1")
	require.NoError(err)
	require.NotNil(s)

	require.NoError(store.Delete(ctx, "sess_1"))
	s, err = store.Get(ctx, "sess_1")
	require.NoError(err)
	assert.Nil(s)

	require.NoError(store.Delete(ctx, "sess_1"), "deleting an unknown id must not error")
}
