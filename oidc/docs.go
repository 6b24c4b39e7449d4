// Copyright (c) Next Identity, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
oidc is a package for relying parties integrating with a Next Identity
provider using the OIDC authorization code flow.

Primary types provided by the package:

* Config: the relying party configuration (client id/secret, issuer,
redirect URL, requested scopes, the provider-defined intent parameter,
flow TTL, clock skew, discovery freshness window, etc), validated eagerly
at construction.

* Provider: integration with the provider.  It lazily fetches and caches
the provider's discovery metadata, builds authorization URLs for the
login/register/profile intents and logout URLs for the end-session
endpoint, owns the pending Flow store, exchanges authorization codes for
verified Tokens, and makes userinfo requests.

* Flow: one in-flight authorization redirect, carrying the state (CSRF
token), nonce (replay token), intent and return-to location.  A Flow is
consumable exactly once.

* Token: the verified result of an exchange; an id_token, access_token and
optional refresh_token with the access token's expiry.

The oidc/callback package provides an http.HandlerFunc for the callback leg
of the flow, and the oidc/session package provides the session gate that
protected routes depend on.

The package also exports a TestProvider which implements enough of a
provider's endpoints (discovery, authorization, token, userinfo, jwks,
end-session) to make writing relying party tests straightforward.
*/
package oidc
