// Copyright (c) Next Identity, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"fmt"
	"net/http"

	"github.com/next-identity/oidc-go/oidc"
)

// AuthCode creates an oidc authorization code callback handler.  The handler
// reads the "state" and "code" parameters from the provider's redirect and
// exchanges them via p.Exchange, which consumes the pending flow and fully
// verifies the returned tokens.
//
// The SuccessResponseFunc is used to create a response when the callback is
// successful. The ErrorResponseFunc is used to create a response when the
// callback fails.
func AuthCode(ctx context.Context, p *oidc.Provider, sFn SuccessResponseFunc, eFn ErrorResponseFunc) (http.HandlerFunc, error) {
	const op = "callback.AuthCode"
	if p == nil {
		return nil, fmt.Errorf("%s: provider is nil: %w", op, oidc.ErrNilParameter)
	}
	if sFn == nil {
		return nil, fmt.Errorf("%s: success response func is nil: %w", op, oidc.ErrNilParameter)
	}
	if eFn == nil {
		return nil, fmt.Errorf("%s: error response func is nil: %w", op, oidc.ErrNilParameter)
	}
	return func(w http.ResponseWriter, req *http.Request) {
		// get parameters from either the body or query parameters.
		// FormValue prioritizes body values, if found.
		reqState := req.FormValue("state")

		if err := req.FormValue("error"); err != "" {
			reqError := &AuthenErrorResponse{
				Error:       err,
				Description: req.FormValue("error_description"),
				Uri:         req.FormValue("error_uri"),
			}
			eFn(reqState, reqError, nil, w, req)
			return
		}

		reqCode := req.FormValue("code")
		if reqState == "" || reqCode == "" {
			responseErr := fmt.Errorf("%s: state and code are required: %w", op, oidc.ErrMissingParameter)
			eFn(reqState, nil, responseErr, w, req)
			return
		}

		responseToken, flow, err := p.Exchange(ctx, reqState, reqCode)
		if err != nil {
			responseErr := fmt.Errorf("%s: unable to exchange authorization code: %w", op, err)
			eFn(reqState, nil, responseErr, w, req)
			return
		}
		sFn(flow, responseToken, w, req)
	}, nil
}
