// Copyright (c) Next Identity, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io/ioutil"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"

	"github.com/next-identity/oidc-go/oidc/internal/strutils"
)

// TestProvider is a local server that supports test provider capabilities
// which make writing relying party tests much easier.  It implements the
// discovery, authorization, token, jwks, userinfo and end-session endpoints.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string

	jwks                *jose.JSONWebKeySet
	allowedRedirectURIs []string
	replySubject        string
	replyUserinfo       map[string]interface{}

	mu                sync.Mutex
	clientID          string
	clientSecret      string
	expectedAuthCode  string
	expectedAuthNonce string
	replyRefreshToken string
	expectedExpiry    time.Duration
	customClaims      map[string]interface{}
	customAudience    string
	omitIDToken       bool
	omitAccessToken   bool
	disableUserInfo   bool
	omitEndSession    bool
	wellKnownHits     int

	ecdsaPublicKey  string
	ecdsaPrivateKey string

	t *testing.T
}

// StartTestProvider creates a disposable TestProvider.  The server's
// resources are released via t.Cleanup.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		t: t,
		allowedRedirectURIs: []string{
			"https://example.com/callback",
		},
		replySubject:   "alice@example.com",
		expectedExpiry: 1 * time.Minute,
		replyUserinfo: map[string]interface{}{
			"sub":            "alice@example.com",
			"preferred_name": "Alice",
			"email_verified": true,
		},
	}
	p.ecdsaPublicKey, p.ecdsaPrivateKey = TestGenerateKeys(t)
	p.jwks = testJWKS(t, p.ecdsaPublicKey)

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(ioutil.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	cert := p.httpServer.Certificate()

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	require.NoError(err)
	p.caCert = buf.String()

	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// SetClientCreds is for configuring the client information required for the
// OIDC workflows.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// SetExpectedAuthCode configures the auth code to return from /authorize and
// the allowed auth code for /token.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// SetExpectedAuthNonce configures the nonce embedded into issued id_tokens.
func (p *TestProvider) SetExpectedAuthNonce(nonce string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthNonce = nonce
}

// SetReplyRefreshToken configures the refresh_token returned from /token and
// accepted for refresh_token grants.
func (p *TestProvider) SetReplyRefreshToken(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyRefreshToken = token
}

// SetExpectedExpiry configures how long issued tokens live.  Negative values
// issue tokens that are already expired.
func (p *TestProvider) SetExpectedExpiry(exp time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedExpiry = exp
}

// SetAllowedRedirectURIs allows you to configure the allowed redirect URIs
// for the OIDC workflow. If not configured a sample of
// "https://example.com/callback" is used.
func (p *TestProvider) SetAllowedRedirectURIs(uris []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetCustomClaims lets you set claims to return in the JWT issued by the
// OIDC workflow.
func (p *TestProvider) SetCustomClaims(customClaims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = customClaims
}

// SetCustomAudience configures what audience value to embed in the JWT
// issued by the OIDC workflow.
func (p *TestProvider) SetCustomAudience(customAudience string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customAudience = customAudience
}

// SetOmitIDToken forces an error state where the /token endpoint does not
// return an id_token.
func (p *TestProvider) SetOmitIDToken(omit bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = omit
}

// SetOmitAccessToken forces an error state where the /token endpoint does
// not return an access_token.
func (p *TestProvider) SetOmitAccessToken(omit bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitAccessToken = omit
}

// SetDisableUserInfo makes the userinfo endpoint return 404 and omits it
// from the discovery config.
func (p *TestProvider) SetDisableUserInfo(disable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableUserInfo = disable
}

// SetOmitEndSession omits the end_session_endpoint from the discovery
// config, which a relying party must treat as a discovery failure.
func (p *TestProvider) SetOmitEndSession(omit bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitEndSession = omit
}

// SetUserInfoReply sets the JSON payload the userinfo endpoint returns.
func (p *TestProvider) SetUserInfoReply(claims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyUserinfo = claims
}

// WellKnownHits reports how many requests the discovery endpoint has served.
func (p *TestProvider) WellKnownHits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.wellKnownHits
}

// Addr returns the current base URL for the test provider's running
// webserver.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// SigningKeys returns the test provider's pem-encoded keys used to sign
// JWTs.
func (p *TestProvider) SigningKeys() (pub, priv string) {
	return p.ecdsaPublicKey, p.ecdsaPrivateKey
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) error {
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, errorCode, errorMessage string) {
	qv := req.URL.Query()

	redirectURI := qv.Get("redirect_uri") +
		"?state=" + url.QueryEscape(qv.Get("state")) +
		"&error=" + url.QueryEscape(errorCode)

	if errorMessage != "" {
		redirectURI += "&error_description=" + url.QueryEscape(errorMessage)
	}

	http.Redirect(w, req, redirectURI, http.StatusFound)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) error {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}

	w.WriteHeader(statusCode)
	return p.writeJSON(w, &body)
}

// issueSignedJWT builds the id_token for the current test configuration.
// The caller must hold p.mu.
func (p *TestProvider) issueSignedJWT(includeNonce bool) string {
	stdClaims := jwt.Claims{
		Subject:   p.replySubject,
		Issuer:    p.Addr(),
		IssuedAt:  jwt.NewNumericDate(time.Now().Add(-5 * time.Second)),
		NotBefore: jwt.NewNumericDate(time.Now().Add(-5 * time.Second)),
		Expiry:    jwt.NewNumericDate(time.Now().Add(p.expectedExpiry)),
		Audience:  jwt.Audience{p.clientID},
	}
	if p.customAudience != "" {
		stdClaims.Audience = jwt.Audience{p.customAudience}
	}
	privateClaims := map[string]interface{}{}
	if includeNonce && p.expectedAuthNonce != "" {
		privateClaims["nonce"] = p.expectedAuthNonce
	}
	for k, v := range p.customClaims {
		privateClaims[k] = v
	}
	return TestSignJWT(p.t, p.ecdsaPrivateKey, stdClaims, privateClaims)
}

// writeTokenResponse replies with a full token endpoint response.  The
// caller must hold p.mu.
func (p *TestProvider) writeTokenResponse(w http.ResponseWriter, includeNonce bool) error {
	jwtData := p.issueSignedJWT(includeNonce)

	reply := struct {
		AccessToken  string `json:"access_token,omitempty"`
		IDToken      string `json:"id_token,omitempty"`
		RefreshToken string `json:"refresh_token,omitempty"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int64  `json:"expires_in"`
	}{
		AccessToken:  jwtData,
		IDToken:      jwtData,
		RefreshToken: p.replyRefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(p.expectedExpiry.Seconds()),
	}
	if p.omitIDToken {
		reply.IDToken = ""
	}
	if p.omitAccessToken {
		reply.AccessToken = ""
	}
	return p.writeJSON(w, &reply)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.t.Helper()

	w.Header().Set("Content-Type", "application/json")

	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		if req.Method != "GET" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.wellKnownHits++

		reply := struct {
			Issuer             string `json:"issuer"`
			AuthEndpoint       string `json:"authorization_endpoint"`
			TokenEndpoint      string `json:"token_endpoint"`
			JWKSURI            string `json:"jwks_uri"`
			UserinfoEndpoint   string `json:"userinfo_endpoint,omitempty"`
			EndSessionEndpoint string `json:"end_session_endpoint,omitempty"`
		}{
			Issuer:             p.Addr(),
			AuthEndpoint:       p.Addr() + "/authorize",
			TokenEndpoint:      p.Addr() + "/token",
			JWKSURI:            p.Addr() + "/.well-known/jwks.json",
			UserinfoEndpoint:   p.Addr() + "/userinfo",
			EndSessionEndpoint: p.Addr() + "/endsession",
		}
		if p.disableUserInfo {
			reply.UserinfoEndpoint = ""
		}
		if p.omitEndSession {
			reply.EndSessionEndpoint = ""
		}

		_ = p.writeJSON(w, &reply)

	case "/authorize":
		if req.Method != "GET" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		qv := req.URL.Query()

		if qv.Get("response_type") != "code" {
			p.writeAuthErrorResponse(w, req, "unsupported_response_type", "")
			return
		}
		if !strutils.StrListContains(strings.Fields(qv.Get("scope")), "openid") {
			p.writeAuthErrorResponse(w, req, "invalid_scope", "")
			return
		}

		if p.expectedAuthCode == "" {
			p.writeAuthErrorResponse(w, req, "access_denied", "")
			return
		}

		nonce := qv.Get("nonce")
		if p.expectedAuthNonce != "" && p.expectedAuthNonce != nonce {
			p.writeAuthErrorResponse(w, req, "access_denied", "")
			return
		}

		state := qv.Get("state")
		if state == "" {
			p.writeAuthErrorResponse(w, req, "invalid_request", "missing state parameter")
			return
		}

		redirectURI := qv.Get("redirect_uri")
		if redirectURI == "" {
			p.writeAuthErrorResponse(w, req, "invalid_request", "missing redirect_uri parameter")
			return
		}

		redirectURI += "?state=" + url.QueryEscape(state) +
			"&code=" + url.QueryEscape(p.expectedAuthCode)

		http.Redirect(w, req, redirectURI, http.StatusFound)

	case "/.well-known/jwks.json":
		if req.Method != "GET" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		_ = p.writeJSON(w, p.jwks)

	case "/token":
		if req.Method != "POST" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		switch req.FormValue("grant_type") {
		case "authorization_code":
			switch {
			case !strutils.StrListContains(p.allowedRedirectURIs, req.FormValue("redirect_uri")):
				_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "redirect_uri is not allowed")
			case req.FormValue("code") != p.expectedAuthCode:
				_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_grant", "unexpected auth code")
			default:
				_ = p.writeTokenResponse(w, true)
			}
		case "refresh_token":
			switch {
			case p.replyRefreshToken == "":
				_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "unsupported_grant_type", "refresh is not enabled")
			case req.FormValue("refresh_token") != p.replyRefreshToken:
				_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_grant", "unexpected refresh token")
			default:
				_ = p.writeTokenResponse(w, false)
			}
		default:
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "bad grant_type")
		}

	case "/userinfo":
		if p.disableUserInfo {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if req.Method != "GET" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !strings.HasPrefix(req.Header.Get("Authorization"), "Bearer ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		_ = p.writeJSON(w, p.replyUserinfo)

	case "/endsession":
		// the logout leg is browser-driven; nothing to assert here beyond
		// existence.
		w.WriteHeader(http.StatusOK)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// testJWKS converts a pem-encoded public key into JWKS data suitable for a
// verification endpoint response
func testJWKS(t *testing.T, pubKey string) *jose.JSONWebKeySet {
	t.Helper()
	require := require.New(t)

	block, _ := pem.Decode([]byte(pubKey))
	require.NotNil(block)

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	require.NoError(err)

	return &jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{
				Key: pub,
			},
		},
	}
}
