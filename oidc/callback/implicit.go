// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hashicorp/cap-rp/oidc"
)

// Implicit creates an oidc implicit flow callback handler for c. It expects
// the response parameters in the form, as sent by response_mode=form_post,
// and runs them through Service.Implicit.
//
// The SuccessResponseFunc is used to create a response when callback is
// successful. The ErrorResponseFunc is to create a response when the callback
// fails.
func Implicit(ctx context.Context, s *Service, c *oidc.Config, sFn SuccessResponseFunc, eFn ErrorResponseFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		const op = "callback.Implicit"

		if err := req.ParseForm(); err != nil {
			responseErr := fmt.Errorf("%s: unable to parse the form: %v: %w", op, err, oidc.ErrInvalidParameter)
			eFn("", nil, responseErr, w, req)
			return
		}
		reqState := req.FormValue("state")

		if s == nil || c == nil {
			responseErr := fmt.Errorf("%s: service or config is nil: %w", op, oidc.ErrNilParameter)
			eFn(reqState, nil, responseErr, w, req)
			return
		}

		cc, err := s.Implicit(ctx, c, req.Form.Encode())
		if e := req.FormValue("error"); e != "" {
			reqError := &AuthenErrorResponse{
				Error:       e,
				Description: req.FormValue("error_description"),
				Uri:         req.FormValue("error_uri"),
			}
			eFn(reqState, reqError, nil, w, req)
			return
		}
		if err != nil {
			responseErr := fmt.Errorf("%s: unable to complete the implicit flow: %w", op, err)
			eFn(reqState, nil, responseErr, w, req)
			return
		}
		sFn(reqState, cc.ValidationResult, w, req)
	}
}
