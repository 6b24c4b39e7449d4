// Copyright (c) Next Identity, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/base64"
	"fmt"

	uuid "github.com/hashicorp/go-uuid"
)

// idByteLen is the number of random bytes in a generated ID, which gives an
// ID 192 bits of entropy.
const idByteLen = 24

// NewID generates an unguessable, URL-safe ID with an optional prefix.  The
// ID generated is suitable for a Flow's State or Nonce.
func NewID(opt ...Option) (string, error) {
	const op = "oidc.NewID"
	opts := getIDOpts(opt...)
	data, err := uuid.GenerateRandomBytes(idByteLen)
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate random bytes: %v: %w", op, err, ErrIDGeneratorFailed)
	}
	id := base64.RawURLEncoding.EncodeToString(data)
	switch {
	case opts.withPrefix != "":
		return fmt.Sprintf("%s_%s", opts.withPrefix, id), nil
	default:
		return id, nil
	}
}

// idOptions is the set of available options
type idOptions struct {
	withPrefix string
}

// idDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func idDefaults() idOptions {
	return idOptions{}
}

// getIDOpts gets the defaults and applies the opt overrides passed in
func getIDOpts(opt ...Option) idOptions {
	opts := idDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithPrefix provides an optional prefix for a new ID.  When this option is
// provided, NewID will prepend the prefix and an underscore to the new ID.
func WithPrefix(prefix string) Option {
	return func(o interface{}) {
		if o, ok := o.(*idOptions); ok {
			o.withPrefix = prefix
		}
	}
}
