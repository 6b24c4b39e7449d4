// Copyright (c) Next Identity, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"net/http"

	"github.com/next-identity/oidc-go/oidc"
)

// SuccessResponseFunc is used by AuthCode to create a http response when the
// callback is successful.
//
// The flow parameter is the consumed authentication flow (its ReturnTo tells
// the function where the user originally wanted to go) and the token is the
// result of a successful, fully verified exchange with the provider.  The
// function should use the http.ResponseWriter to send back whatever content
// (headers, html, JSON, etc) it wishes to the client that originated the
// oidc flow.  Writing the token into the caller's session store typically
// happens here.
type SuccessResponseFunc func(flow *oidc.Flow, t *oidc.Token, w http.ResponseWriter, req *http.Request)

// ErrorResponseFunc is used by AuthCode to create a http response when the
// callback fails.
//
// The function receives the state returned as part of the authentication
// response, the parameters of the provider's authentication error response
// (when the provider redirected back with an error) and/or the callback
// error raised while processing the request.
type ErrorResponseFunc func(state string, r *AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request)

// AuthenErrorResponse represents Oauth2 error responses.  See:
// https://openid.net/specs/openid-connect-core-1_0.html#AuthError
type AuthenErrorResponse struct {
	Error       string
	Description string
	Uri         string
}
