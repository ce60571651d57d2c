// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

// ValidationResult is the verdict of a state validation run.
type ValidationResult int

const (
	NotSet ValidationResult = iota
	StatesDoNotMatch
	SignatureFailed
	IncorrectNonce
	RequiredPropertyMissing
	MaxOffsetExpired
	IssDoesNotMatchIssuer
	NoAuthWellKnownEndPoints
	IncorrectAud
	IncorrectIDTokenClaimsAfterRefresh
	IncorrectAzp
	TokenExpired
	IncorrectAtHash
	Ok
	LoginRequired
	SecureTokenServerError
)

var validationResultNames = map[ValidationResult]string{
	NotSet:                             "NotSet",
	StatesDoNotMatch:                   "StatesDoNotMatch",
	SignatureFailed:                    "SignatureFailed",
	IncorrectNonce:                     "IncorrectNonce",
	RequiredPropertyMissing:            "RequiredPropertyMissing",
	MaxOffsetExpired:                   "MaxOffsetExpired",
	IssDoesNotMatchIssuer:              "IssDoesNotMatchIssuer",
	NoAuthWellKnownEndPoints:           "NoAuthWellKnownEndPoints",
	IncorrectAud:                       "IncorrectAud",
	IncorrectIDTokenClaimsAfterRefresh: "IncorrectIdTokenClaimsAfterRefresh",
	IncorrectAzp:                       "IncorrectAzp",
	TokenExpired:                       "TokenExpired",
	IncorrectAtHash:                    "IncorrectAtHash",
	Ok:                                 "Ok",
	LoginRequired:                      "LoginRequired",
	SecureTokenServerError:             "SecureTokenServerError",
}

func (r ValidationResult) String() string {
	if s, ok := validationResultNames[r]; ok {
		return s
	}
	return "Unknown"
}

// StateValidationResult is the outcome of one state validation run. It is
// not modified once returned.
type StateValidationResult struct {
	AccessToken         AccessToken
	IDToken             IDToken
	DecodedIDToken      *IDTokenClaims
	AuthResponseIsValid bool
	State               ValidationResult
}
