// Copyright (c) Next Identity, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import "time"

// Option defines a common functional options type
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil {
			continue
		}
		o(opts)
	}
}

// WithNow provides an optional func for determining what the current time it
// is.  Valid for: Config
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *configOptions:
			v.withNowFunc = now
		}
	}
}

// WithExpirySkew provides an optional expiry skew duration when checking a
// Token's expiration.
func WithExpirySkew(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*tokenOptions); ok {
			o.withExpirySkew = d
		}
	}
}
