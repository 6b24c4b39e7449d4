// Copyright (c) Next Identity, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/next-identity/oidc-go/oidc"
	"github.com/next-identity/oidc-go/oidc/callback"
)

func testProviderPair(t *testing.T) (*oidc.TestProvider, *oidc.Provider) {
	t.Helper()
	require := require.New(t)
	tp := oidc.StartTestProvider(t)

	c, err := oidc.NewConfig(tp.Addr(), "test-rp", "fido", "https://example.com/callback",
		oidc.WithSupportedAlgs(oidc.ES256),
		oidc.WithProviderCA(tp.CACert()),
	)
	require.NoError(err)
	p, err := oidc.NewProvider(c)
	require.NoError(err)
	t.Cleanup(p.Done)

	tp.SetClientCreds("test-rp", "fido")
	return tp, p
}

// testStartFlow builds an authorization URL and primes the test provider for
// its callback, returning the flow's state token.
func testStartFlow(t *testing.T, tp *oidc.TestProvider, p *oidc.Provider, code string) string {
	t.Helper()
	require := require.New(t)
	authURL, err := p.AuthURL(context.Background(), oidc.IntentLogin, oidc.WithReturnTo("/dashboard"))
	require.NoError(err)
	u, err := url.Parse(authURL)
	require.NoError(err)
	tp.SetExpectedAuthNonce(u.Query().Get("nonce"))
	tp.SetExpectedAuthCode(code)
	return u.Query().Get("state")
}

func TestAuthCode(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("nil-parameters", func(t *testing.T) {
		assert := assert.New(t)
		_, p := testProviderPair(t)
		sFn := func(*oidc.Flow, *oidc.Token, http.ResponseWriter, *http.Request) {}
		eFn := func(string, *callback.AuthenErrorResponse, error, http.ResponseWriter, *http.Request) {}

		_, err := callback.AuthCode(ctx, nil, sFn, eFn)
		assert.Truef(errors.Is(err, oidc.ErrNilParameter), "wanted %q and got %q", oidc.ErrNilParameter, err)
		_, err = callback.AuthCode(ctx, p, nil, eFn)
		assert.Truef(errors.Is(err, oidc.ErrNilParameter), "wanted %q and got %q", oidc.ErrNilParameter, err)
		_, err = callback.AuthCode(ctx, p, sFn, nil)
		assert.Truef(errors.Is(err, oidc.ErrNilParameter), "wanted %q and got %q", oidc.ErrNilParameter, err)
	})
	t.Run("success", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, p := testProviderPair(t)
		state := testStartFlow(t, tp, p, "abc123")

		var gotFlow *oidc.Flow
		var gotToken *oidc.Token
		sFn := func(flow *oidc.Flow, tk *oidc.Token, w http.ResponseWriter, req *http.Request) {
			gotFlow, gotToken = flow, tk
			http.Redirect(w, req, flow.ReturnTo(), http.StatusFound)
		}
		eFn := func(state string, r *callback.AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request) {
			t.Errorf("unexpected callback error: %v %v", r, e)
		}
		h, err := callback.AuthCode(ctx, p, sFn, eFn)
		require.NoError(err)

		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/callback?state="+url.QueryEscape(state)+"&code=abc123", nil)
		h.ServeHTTP(w, req)

		require.NotNil(gotFlow)
		require.NotNil(gotToken)
		assert.Equal("/dashboard", gotFlow.ReturnTo())
		assert.True(gotToken.Valid())
		assert.Equal(http.StatusFound, w.Code)
		assert.Equal("/dashboard", w.Header().Get("Location"))
	})
	t.Run("provider-error-response", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, p := testProviderPair(t)

		var gotResp *callback.AuthenErrorResponse
		sFn := func(*oidc.Flow, *oidc.Token, http.ResponseWriter, *http.Request) {
			t.Error("success func must not run for an error callback")
		}
		eFn := func(state string, r *callback.AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request) {
			gotResp = r
			w.WriteHeader(http.StatusUnauthorized)
		}
		h, err := callback.AuthCode(ctx, p, sFn, eFn)
		require.NoError(err)

		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/callback?state=st_x&error=access_denied&error_description=user+cancelled", nil)
		h.ServeHTTP(w, req)

		require.NotNil(gotResp)
		assert.Equal("access_denied", gotResp.Error)
		assert.Equal("user cancelled", gotResp.Description)
		assert.Equal(http.StatusUnauthorized, w.Code)
	})
	t.Run("missing-state-or-code", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, p := testProviderPair(t)

		var gotErr error
		sFn := func(*oidc.Flow, *oidc.Token, http.ResponseWriter, *http.Request) {
			t.Error("success func must not run without state and code")
		}
		eFn := func(state string, r *callback.AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request) {
			gotErr = e
			w.WriteHeader(http.StatusBadRequest)
		}
		h, err := callback.AuthCode(ctx, p, sFn, eFn)
		require.NoError(err)

		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/callback?code=abc123", nil)
		h.ServeHTTP(w, req)
		assert.Truef(errors.Is(gotErr, oidc.ErrMissingParameter), "wanted %q and got %q", oidc.ErrMissingParameter, gotErr)

		gotErr = nil
		w = httptest.NewRecorder()
		req = httptest.NewRequest("GET", "/callback?state=st_x", nil)
		h.ServeHTTP(w, req)
		assert.Truef(errors.Is(gotErr, oidc.ErrMissingParameter), "wanted %q and got %q", oidc.ErrMissingParameter, gotErr)
	})
	t.Run("exchange-failure", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, p := testProviderPair(t)
		state := testStartFlow(t, tp, p, "abc123")

		var gotErr error
		sFn := func(*oidc.Flow, *oidc.Token, http.ResponseWriter, *http.Request) {
			t.Error("success func must not run for a failed exchange")
		}
		eFn := func(state string, r *callback.AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request) {
			gotErr = e
			w.WriteHeader(http.StatusUnauthorized)
		}
		h, err := callback.AuthCode(ctx, p, sFn, eFn)
		require.NoError(err)

		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/callback?state="+url.QueryEscape(state)+"&code=wrong-code", nil)
		h.ServeHTTP(w, req)
		assert.Truef(errors.Is(gotErr, oidc.ErrExchangeFailed), "wanted %q and got %q", oidc.ErrExchangeFailed, gotErr)
	})
}
