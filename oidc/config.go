// Copyright (c) Next Identity, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/next-identity/oidc-go/oidc/internal/strutils"
)

type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

const (
	// DefaultFlowTTL is how long a pending authentication flow remains
	// consumable after its authorization URL was built.
	DefaultFlowTTL = 10 * time.Minute

	// DefaultClockSkew is the allowance applied when checking an id_token's
	// expiry and issued-at claims.
	DefaultClockSkew = 1 * time.Minute

	// DefaultHTTPTimeout bounds discovery, token exchange and userinfo
	// requests so a slow provider cannot hang the caller indefinitely.
	DefaultHTTPTimeout = 5 * time.Second

	// DefaultIntentParameter is the authorization URL parameter used to
	// select the login/register/profile UI.  The parameter name and its
	// values are provider-defined, so both are configurable (see
	// WithIntentParameter).
	DefaultIntentParameter = "action"

	wellKnownSuffix = "/.well-known/openid-configuration"
)

// defaultIntentValues returns the default values sent for each intent.
func defaultIntentValues() map[Intent]string {
	return map[Intent]string{
		IntentLogin:    "login",
		IntentRegister: "register",
		IntentProfile:  "profile",
	}
}

// Config represents the configuration for a relying party using the typical
// 3-legged OIDC authorization code flow against a Next Identity provider.
type Config struct {
	// ClientID is the relying party id
	ClientID string

	// ClientSecret is the relying party secret, used for confidential-client
	// authentication at the token endpoint.
	ClientSecret ClientSecret

	// Scopes is a list of oidc scopes to request of the provider.  The
	// required "openid" scope is always requested.
	Scopes []string

	// Issuer is a case-sensitive URL string using the https scheme that
	// contains scheme, host, and optionally, port number and path components
	// and no query or fragment components.  A full discovery URL (ending in
	// /.well-known/openid-configuration) is accepted and trimmed to its
	// issuer.
	Issuer string

	// SupportedSigningAlgs is a list of supported signing algorithms. List of
	// currently supported algs: RS256, RS384, RS512, ES256, ES384, ES512,
	// PS256, PS384, PS512, EdDSA
	SupportedSigningAlgs []Alg

	// RedirectURL is the URL where the provider will send the user back with
	// the authorization code and state.  It must be an absolute URL.
	RedirectURL string

	// Audiences is an optional list of case-sensitive strings to verify an
	// id_token's "aud" claim against.  When empty, the ClientID is required
	// to be present in the "aud" claim.
	Audiences []string

	// IntentParameter is the name of the authorization URL parameter the
	// provider interprets to choose login vs registration vs profile-edit UI.
	IntentParameter string

	// IntentValues maps each intent to the parameter value the provider
	// expects.
	IntentValues map[Intent]string

	// FlowTTL is how long a pending flow may wait for its callback.
	FlowTTL time.Duration

	// ClockSkew is the bounded allowance for id_token expiry/issued-at
	// checks.
	ClockSkew time.Duration

	// DiscoveryMaxAge is the freshness window for cached provider metadata.
	// Zero means the metadata is cached until explicitly invalidated.
	DiscoveryMaxAge time.Duration

	// HTTPTimeout bounds every outbound request to the provider.
	HTTPTimeout time.Duration

	// ProviderCA is an optional CA cert to use when sending requests to the
	// provider.
	ProviderCA string

	// Logger is an optional logger
	Logger hclog.Logger

	// NowFunc is an optional time func used for expiry checks (testing).
	NowFunc func() time.Time
}

// NewConfig composes a new config for a provider.
//
// Supported options: WithScopes, WithAudiences, WithSupportedAlgs,
// WithIntentParameter, WithFlowTTL, WithClockSkew, WithDiscoveryMaxAge,
// WithHTTPTimeout, WithProviderCA, WithLogger, WithNow
func NewConfig(issuer string, clientID string, clientSecret ClientSecret, redirectURL string, opt ...Option) (*Config, error) {
	const op = "oidc.NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		Issuer:               strings.TrimSuffix(issuer, wellKnownSuffix),
		ClientID:             clientID,
		ClientSecret:         clientSecret,
		RedirectURL:          redirectURL,
		Scopes:               opts.withScopes,
		Audiences:            opts.withAudiences,
		SupportedSigningAlgs: opts.withSupportedAlgs,
		IntentParameter:      opts.withIntentParameter,
		IntentValues:         opts.withIntentValues,
		FlowTTL:              opts.withFlowTTL,
		ClockSkew:            opts.withClockSkew,
		DiscoveryMaxAge:      opts.withDiscoveryMaxAge,
		HTTPTimeout:          opts.withHTTPTimeout,
		ProviderCA:           opts.withProviderCA,
		Logger:               opts.withLogger,
		NowFunc:              opts.withNowFunc,
	}
	if !strutils.StrListContains(c.Scopes, oidc.ScopeOpenID) {
		c.Scopes = append([]string{oidc.ScopeOpenID}, c.Scopes...)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid relying party config: %w", op, err)
	}
	return c, nil
}

// Validate the config.  Among other validations, it verifies the issuer and
// redirect URL are absolute, but it doesn't verify the Issuer is discoverable
// via an http request.  All problems found are reported, not just the first.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	var result *multierror.Error
	if c.ClientID == "" {
		result = multierror.Append(result, fmt.Errorf("client id is empty: %w", ErrInvalidParameter))
	}
	if c.ClientSecret == "" {
		result = multierror.Append(result, fmt.Errorf("client secret is empty: %w", ErrInvalidParameter))
	}
	if err := validAbsoluteURL("issuer", c.Issuer); err != nil {
		result = multierror.Append(result, err)
	}
	if err := validAbsoluteURL("redirect URL", c.RedirectURL); err != nil {
		result = multierror.Append(result, err)
	}
	if len(c.SupportedSigningAlgs) == 0 {
		result = multierror.Append(result, fmt.Errorf("supported algorithms is empty: %w", ErrInvalidParameter))
	}
	for _, a := range c.SupportedSigningAlgs {
		if !supportedAlgorithms[a] {
			result = multierror.Append(result, fmt.Errorf("unsupported algorithm %q: %w", a, ErrInvalidParameter))
		}
	}
	for i := range c.IntentValues {
		if err := i.Validate(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if c.FlowTTL < 0 {
		result = multierror.Append(result, fmt.Errorf("flow TTL is negative: %w", ErrInvalidParameter))
	}
	if c.ClockSkew < 0 {
		result = multierror.Append(result, fmt.Errorf("clock skew is negative: %w", ErrInvalidParameter))
	}
	if result != nil {
		return fmt.Errorf("%s: %w", op, result.ErrorOrNil())
	}
	return nil
}

func validAbsoluteURL(name, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is empty: %w", name, ErrInvalidParameter)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s %q is invalid: %v: %w", name, raw, err, ErrInvalidParameter)
	}
	if !strutils.StrListContains([]string{"https", "http"}, u.Scheme) || u.Host == "" {
		return fmt.Errorf("%s %q is not an absolute http(s) URL: %w", name, raw, ErrInvalidParameter)
	}
	return nil
}

func (c *Config) flowTTL() time.Duration {
	if c.FlowTTL == 0 {
		return DefaultFlowTTL
	}
	return c.FlowTTL
}

func (c *Config) clockSkew() time.Duration {
	if c.ClockSkew == 0 {
		return DefaultClockSkew
	}
	return c.ClockSkew
}

func (c *Config) httpTimeout() time.Duration {
	if c.HTTPTimeout == 0 {
		return DefaultHTTPTimeout
	}
	return c.HTTPTimeout
}

func (c *Config) intentParameter() string {
	if c.IntentParameter == "" {
		return DefaultIntentParameter
	}
	return c.IntentParameter
}

func (c *Config) intentValue(i Intent) string {
	if v, ok := c.IntentValues[i]; ok {
		return v
	}
	return defaultIntentValues()[i]
}

func (c *Config) logger() hclog.Logger {
	if c.Logger == nil {
		return hclog.NewNullLogger()
	}
	return c.Logger
}

func (c *Config) now() time.Time {
	if c.NowFunc != nil {
		return c.NowFunc()
	}
	return time.Now()
}

// configOptions is the set of available options
type configOptions struct {
	withScopes          []string
	withAudiences       []string
	withSupportedAlgs   []Alg
	withIntentParameter string
	withIntentValues    map[Intent]string
	withFlowTTL         time.Duration
	withClockSkew       time.Duration
	withDiscoveryMaxAge time.Duration
	withHTTPTimeout     time.Duration
	withProviderCA      string
	withLogger          hclog.Logger
	withNowFunc         func() time.Time
}

// configDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func configDefaults() configOptions {
	return configOptions{
		withSupportedAlgs: []Alg{RS256},
	}
}

// getConfigOpts gets the defaults and applies the opt overrides passed in.
func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithScopes provides an optional list of scopes for the config
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withScopes = strutils.RemoveDuplicatesStable(scopes, false)
		}
	}
}

// WithAudiences provides an optional list of audiences to verify an
// id_token's "aud" claim against.
func WithAudiences(auds ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withAudiences = strutils.RemoveDuplicatesStable(auds, false)
		}
	}
}

// WithSupportedAlgs provides an optional list of supported signing algorithms
// (the default is RS256).
func WithSupportedAlgs(algs ...Alg) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withSupportedAlgs = algs
		}
	}
}

// WithIntentParameter overrides the provider-defined parameter name and the
// per-intent values used to select login vs registration vs profile-edit UI.
// A nil values map keeps the defaults.
func WithIntentParameter(name string, values map[Intent]string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withIntentParameter = name
			if values != nil {
				o.withIntentValues = values
			}
		}
	}
}

// WithFlowTTL provides an optional TTL for pending authentication flows (the
// default is DefaultFlowTTL).
func WithFlowTTL(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withFlowTTL = d
		}
	}
}

// WithClockSkew provides an optional clock skew allowance for id_token
// expiry checks (the default is DefaultClockSkew).
func WithClockSkew(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withClockSkew = d
		}
	}
}

// WithDiscoveryMaxAge provides an optional freshness window for cached
// provider metadata.  Without this option the metadata is cached until
// explicitly invalidated.
func WithDiscoveryMaxAge(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withDiscoveryMaxAge = d
		}
	}
}

// WithHTTPTimeout provides an optional timeout for requests sent to the
// provider (the default is DefaultHTTPTimeout).
func WithHTTPTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withHTTPTimeout = d
		}
	}
}

// WithProviderCA provides an optional CA cert for the config
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withProviderCA = cert
		}
	}
}

// WithLogger provides an optional hclog.Logger
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withLogger = l
		}
	}
}
