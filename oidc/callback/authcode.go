// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hashicorp/cap-rp/oidc"
)

// AuthCode creates an oidc authorization code callback handler for c. The
// request URL is run through Service.CodeFlow.
//
// The SuccessResponseFunc is used to create a response when callback is
// successful. The ErrorResponseFunc is to create a response when the callback
// fails.
func AuthCode(ctx context.Context, s *Service, c *oidc.Config, sFn SuccessResponseFunc, eFn ErrorResponseFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		const op = "callback.AuthCode"

		reqState := req.FormValue("state")

		if s == nil || c == nil {
			responseErr := fmt.Errorf("%s: service or config is nil: %w", op, oidc.ErrNilParameter)
			eFn(reqState, nil, responseErr, w, req)
			return
		}

		if err := req.FormValue("error"); err != "" {
			// get parameters from either the body or query parameters.
			// FormValue prioritizes body values, if found
			reqError := &AuthenErrorResponse{
				Error:       err,
				Description: req.FormValue("error_description"),
				Uri:         req.FormValue("error_uri"),
			}
			// resets the auth state, the error itself is in reqError
			_, _ = s.CodeFlow(ctx, c, req.URL.String())
			eFn(reqState, reqError, nil, w, req)
			return
		}

		cc, err := s.CodeFlow(ctx, c, req.URL.String())
		if err != nil {
			responseErr := fmt.Errorf("%s: unable to complete the code flow: %w", op, err)
			eFn(reqState, nil, responseErr, w, req)
			return
		}
		sFn(reqState, cc.ValidationResult, w, req)
	}
}
