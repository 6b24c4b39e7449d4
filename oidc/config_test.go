// Copyright (c) Next Identity, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name         string
		issuer       string
		clientID     string
		clientSecret ClientSecret
		redirectURL  string
		opts         []Option
		wantErr      error
		check        func(t *testing.T, c *Config)
	}{
		{
			name:         "valid-with-defaults",
			issuer:       "https://id.example.com",
			clientID:     "client-id",
			clientSecret: "client-secret",
			redirectURL:  "https://rp.example.com/callback",
			check: func(t *testing.T, c *Config) {
				assert := assert.New(t)
				assert.Equal([]string{"openid"}, c.Scopes)
				assert.Equal([]Alg{RS256}, c.SupportedSigningAlgs)
				assert.Equal(DefaultFlowTTL, c.flowTTL())
				assert.Equal(DefaultClockSkew, c.clockSkew())
				assert.Equal(DefaultHTTPTimeout, c.httpTimeout())
				assert.Equal(DefaultIntentParameter, c.intentParameter())
				assert.Equal("login", c.intentValue(IntentLogin))
				assert.Equal("register", c.intentValue(IntentRegister))
				assert.Equal("profile", c.intentValue(IntentProfile))
			},
		},
		{
			name:         "valid-with-options",
			issuer:       "https://id.example.com",
			clientID:     "client-id",
			clientSecret: "client-secret",
			redirectURL:  "https://rp.example.com/callback",
			opts: []Option{
				WithScopes("profile", "email", "email"),
				WithAudiences("aud1", "aud2"),
				WithSupportedAlgs(ES256, RS256),
				WithIntentParameter("prompt_screen", map[Intent]string{
					IntentLogin:    "signin",
					IntentRegister: "signup",
					IntentProfile:  "account",
				}),
				WithFlowTTL(5 * time.Minute),
				WithClockSkew(30 * time.Second),
				WithDiscoveryMaxAge(1 * time.Hour),
				WithHTTPTimeout(10 * time.Second),
			},
			check: func(t *testing.T, c *Config) {
				assert := assert.New(t)
				assert.Equal([]string{"openid", "profile", "email"}, c.Scopes)
				assert.Equal([]string{"aud1", "aud2"}, c.Audiences)
				assert.Equal([]Alg{ES256, RS256}, c.SupportedSigningAlgs)
				assert.Equal("prompt_screen", c.intentParameter())
				assert.Equal("signin", c.intentValue(IntentLogin))
				assert.Equal("signup", c.intentValue(IntentRegister))
				assert.Equal("account", c.intentValue(IntentProfile))
				assert.Equal(5*time.Minute, c.flowTTL())
				assert.Equal(30*time.Second, c.clockSkew())
				assert.Equal(1*time.Hour, c.DiscoveryMaxAge)
				assert.Equal(10*time.Second, c.httpTimeout())
			},
		},
		{
			name:         "trims-well-known-suffix",
			issuer:       "https://id.example.com/.well-known/openid-configuration",
			clientID:     "client-id",
			clientSecret: "client-secret",
			redirectURL:  "https://rp.example.com/callback",
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, "https://id.example.com", c.Issuer)
			},
		},
		{
			name:         "keeps-trailing-slash-issuer",
			issuer:       "https://id.example.com/tenant/",
			clientID:     "client-id",
			clientSecret: "client-secret",
			redirectURL:  "https://rp.example.com/callback",
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, "https://id.example.com/tenant/", c.Issuer)
			},
		},
		{
			name:         "missing-client-id",
			issuer:       "https://id.example.com",
			clientSecret: "client-secret",
			redirectURL:  "https://rp.example.com/callback",
			wantErr:      ErrInvalidParameter,
		},
		{
			name:        "missing-client-secret",
			issuer:      "https://id.example.com",
			clientID:    "client-id",
			redirectURL: "https://rp.example.com/callback",
			wantErr:     ErrInvalidParameter,
		},
		{
			name:         "missing-issuer",
			clientID:     "client-id",
			clientSecret: "client-secret",
			redirectURL:  "https://rp.example.com/callback",
			wantErr:      ErrInvalidParameter,
		},
		{
			name:         "relative-issuer",
			issuer:       "id.example.com/no/scheme",
			clientID:     "client-id",
			clientSecret: "client-secret",
			redirectURL:  "https://rp.example.com/callback",
			wantErr:      ErrInvalidParameter,
		},
		{
			name:         "missing-redirect-url",
			issuer:       "https://id.example.com",
			clientID:     "client-id",
			clientSecret: "client-secret",
			wantErr:      ErrInvalidParameter,
		},
		{
			name:         "relative-redirect-url",
			issuer:       "https://id.example.com",
			clientID:     "client-id",
			clientSecret: "client-secret",
			redirectURL:  "/callback",
			wantErr:      ErrInvalidParameter,
		},
		{
			name:         "unsupported-alg",
			issuer:       "https://id.example.com",
			clientID:     "client-id",
			clientSecret: "client-secret",
			redirectURL:  "https://rp.example.com/callback",
			opts:         []Option{WithSupportedAlgs(Alg("none"))},
			wantErr:      ErrInvalidParameter,
		},
		{
			name:         "negative-flow-ttl",
			issuer:       "https://id.example.com",
			clientID:     "client-id",
			clientSecret: "client-secret",
			redirectURL:  "https://rp.example.com/callback",
			opts:         []Option{WithFlowTTL(-1 * time.Minute)},
			wantErr:      ErrInvalidParameter,
		},
		{
			name:         "negative-clock-skew",
			issuer:       "https://id.example.com",
			clientID:     "client-id",
			clientSecret: "client-secret",
			redirectURL:  "https://rp.example.com/callback",
			opts:         []Option{WithClockSkew(-1 * time.Second)},
			wantErr:      ErrInvalidParameter,
		},
		{
			name:         "bad-intent-in-values",
			issuer:       "https://id.example.com",
			clientID:     "client-id",
			clientSecret: "client-secret",
			redirectURL:  "https://rp.example.com/callback",
			opts: []Option{WithIntentParameter("action", map[Intent]string{
				Intent("password-reset"): "reset",
			})},
			wantErr: ErrInvalidParameter,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			c, err := NewConfig(tt.issuer, tt.clientID, tt.clientSecret, tt.redirectURL, tt.opts...)
			if tt.wantErr != nil {
				require.Error(err)
				assert.Truef(errors.Is(err, tt.wantErr), "wanted %q and got %q", tt.wantErr, err)
				return
			}
			require.NoError(err)
			require.NotNil(c)
			if tt.check != nil {
				tt.check(t, c)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()
	t.Run("nil-config", func(t *testing.T) {
		assert := assert.New(t)
		var c *Config
		err := c.Validate()
		assert.Truef(errors.Is(err, ErrNilParameter), "wanted %q and got %q", ErrNilParameter, err)
	})
	t.Run("reports-all-problems", func(t *testing.T) {
		assert := assert.New(t)
		c := &Config{}
		err := c.Validate()
		assert.Error(err)
		for _, want := range []string{"client id", "client secret", "issuer", "redirect URL"} {
			assert.Containsf(err.Error(), want, "wanted %q mentioned in %q", want, err)
		}
	})
}

func TestClientSecret_Redaction(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	secret := ClientSecret("super-secret")

	assert.Equal(RedactedClientSecret, secret.String())
	assert.Equal(RedactedClientSecret, fmt.Sprintf("%s", secret))
	assert.Equal(RedactedClientSecret, fmt.Sprintf("%v", secret))

	got, err := json.Marshal(secret)
	require.NoError(err)
	assert.Equal(fmt.Sprintf("%q", RedactedClientSecret), string(got))
}
