// Copyright (c) Next Identity, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"errors"
)

var (
	// parameter and configuration errors, fatal at construction
	ErrInvalidParameter  = errors.New("invalid parameter")
	ErrNilParameter      = errors.New("nil parameter")
	ErrInvalidCACert     = errors.New("invalid CA certificate")
	ErrIDGeneratorFailed = errors.New("id generation failed")

	// ErrDiscoveryFailed is returned when the provider's metadata document is
	// unreachable, malformed, or missing required endpoint fields.  It is
	// never silently defaulted.
	ErrDiscoveryFailed = errors.New("provider discovery failed")

	// flow (state/nonce) errors.  These are security decisions and are never
	// retried.
	ErrFlowNotFound        = errors.New("authentication flow not found")
	ErrFlowAlreadyConsumed = errors.New("authentication flow already consumed")
	ErrFlowExpired         = errors.New("authentication flow expired")

	// token exchange and verification errors
	ErrMissingParameter   = errors.New("missing callback parameter")
	ErrExchangeFailed     = errors.New("authorization code exchange failed")
	ErrMissingIDToken     = errors.New("id_token is missing")
	ErrMissingAccessToken = errors.New("access_token is missing")
	ErrInvalidSignature   = errors.New("invalid id_token signature")
	ErrInvalidIssuer      = errors.New("invalid id_token issuer")
	ErrInvalidAudience    = errors.New("invalid id_token audience")
	ErrExpiredToken       = errors.New("id_token is expired")
	ErrInvalidNonce       = errors.New("invalid id_token nonce")

	ErrUserInfoFailed = errors.New("user info request failed")
)
