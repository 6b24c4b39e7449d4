// Copyright (c) Next Identity, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
callback is a package for creating the http.HandlerFunc for the callback leg
of the OIDC authorization code flow: the provider redirects the user back to
the relying party with a state and code, and the handler exchanges them for
verified tokens.

The caller provides a SuccessResponseFunc and an ErrorResponseFunc, which
keep response construction (session writes, redirects to the flow's
return-to location, error pages) with the application rather than this
package.
*/
package callback
