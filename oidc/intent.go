// Copyright (c) Next Identity, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import "fmt"

// Intent selects which provider UI an authorization redirect should land the
// end user on.  The three intents share one authorization endpoint and
// code-exchange mechanics; they differ only in the intent-selecting parameter
// appended to the authorization URL (see Config.IntentParameter).
type Intent string

const (
	// IntentLogin redirects to the provider's sign-in UI.
	IntentLogin Intent = "login"

	// IntentRegister redirects to the provider's registration UI.
	IntentRegister Intent = "register"

	// IntentProfile redirects to the provider's profile-management UI.  A
	// provider will typically not require re-authentication if the user
	// already holds a valid provider session.
	IntentProfile Intent = "profile"
)

// Validate the intent against the closed set of supported intents.
func (i Intent) Validate() error {
	const op = "Intent.Validate"
	switch i {
	case IntentLogin, IntentRegister, IntentProfile:
		return nil
	default:
		return fmt.Errorf("%s: %q is not a supported intent: %w", op, string(i), ErrInvalidParameter)
	}
}

// String satisfies the Stringer interface.
func (i Intent) String() string {
	return string(i)
}
