// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/cap-rp/oidc/internal/strutils"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"
	"golang.org/x/text/language"
)

// Prompt is a value of the prompt parameter of an authentication request.
// See: https://openid.net/specs/openid-connect-core-1_0.html#AuthRequest
type Prompt string

const (
	None          Prompt = "none"
	Login         Prompt = "login"
	Consent       Prompt = "consent"
	SelectAccount Prompt = "select_account"
)

// authURLOptions is the set of available options for AuthURL
type authURLOptions struct {
	withPrompts      []Prompt
	withUILocales    []language.Tag
	withMaxAge       *uint
	withHostedDomain string
	withCustomParams map[string]string
}

func authURLDefaults() authURLOptions {
	return authURLOptions{}
}

func getAuthURLOpts(opt ...Option) authURLOptions {
	opts := authURLDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithPrompts sets the prompt parameter. None can't be combined with other
// prompts.
//
// Valid for: AuthURLBuilder.AuthURL
func WithPrompts(prompts ...Prompt) Option {
	return func(o interface{}) {
		if o, ok := o.(*authURLOptions); ok {
			o.withPrompts = dedupePrompts(prompts)
		}
	}
}

func dedupePrompts(prompts []Prompt) []Prompt {
	s := strutils.RemoveDuplicatesStable(promptStrings(prompts), false)
	out := make([]Prompt, 0, len(s))
	for _, p := range s {
		out = append(out, Prompt(p))
	}
	return out
}

// WithUILocales sets the ui_locales parameter, in order of preference.
//
// Valid for: AuthURLBuilder.AuthURL
func WithUILocales(locales ...language.Tag) Option {
	return func(o interface{}) {
		if o, ok := o.(*authURLOptions); ok {
			o.withUILocales = locales
		}
	}
}

// WithMaxAge sets the max_age parameter, in seconds.
//
// Valid for: AuthURLBuilder.AuthURL
func WithMaxAge(seconds uint) Option {
	return func(o interface{}) {
		if o, ok := o.(*authURLOptions); ok {
			o.withMaxAge = &seconds
		}
	}
}

// WithHostedDomain sets the hd parameter.
//
// Valid for: AuthURLBuilder.AuthURL
func WithHostedDomain(hd string) Option {
	return func(o interface{}) {
		if o, ok := o.(*authURLOptions); ok {
			o.withHostedDomain = hd
		}
	}
}

// WithCustomParams adds parameters to the request. They take precedence
// over Config.CustomParamsAuthRequest and are kept for later silent renew
// requests.
//
// Valid for: AuthURLBuilder.AuthURL
func WithCustomParams(params map[string]string) Option {
	return func(o interface{}) {
		if o, ok := o.(*authURLOptions); ok {
			o.withCustomParams = params
		}
	}
}

// AuthURLBuilder creates authentication request URLs and stores the state,
// nonce and code verifier the callback will be checked against.
type AuthURLBuilder struct {
	flows     *FlowsData
	wellKnown *WellKnownService
	logger    hclog.Logger
}

// NewAuthURLBuilder creates an AuthURLBuilder.
// Supported options:
//   - WithLogger
func NewAuthURLBuilder(flows *FlowsData, wellKnown *WellKnownService, opt ...Option) (*AuthURLBuilder, error) {
	const op = "oidc.NewAuthURLBuilder"
	switch {
	case flows == nil:
		return nil, fmt.Errorf("%s: flows data is nil: %w", op, ErrNilParameter)
	case wellKnown == nil:
		return nil, fmt.Errorf("%s: well-known service is nil: %w", op, ErrNilParameter)
	}
	opts := getComponentOpts(opt...)
	return &AuthURLBuilder{flows: flows, wellKnown: wellKnown, logger: opts.withLogger}, nil
}

// AuthURL returns the authentication request URL of c. The existing auth
// state control is reused when there is one; a new nonce is always created.
// The code flow gets a PKCE S256 challenge.
//
// Supported options:
//   - WithPrompts
//   - WithUILocales
//   - WithMaxAge
//   - WithHostedDomain
//   - WithCustomParams
func (b *AuthURLBuilder) AuthURL(ctx context.Context, c *Config, opt ...Option) (string, error) {
	const op = "AuthURLBuilder.AuthURL"
	if c == nil {
		return "", fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	opts := getAuthURLOpts(opt...)
	if len(opts.withPrompts) > 1 && strutils.StrListContains(promptStrings(opts.withPrompts), string(None)) {
		return "", fmt.Errorf("%s: prompts (%s) includes %q with other values: %w", op, opts.withPrompts, None, ErrInvalidParameter)
	}
	endpoints, err := b.wellKnown.Endpoints(ctx, c)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if endpoints.AuthorizationEndpoint == "" {
		return "", fmt.Errorf("%s: no authorization endpoint for %s: %w", op, c.ConfigID, ErrNotFound)
	}

	state, err := b.flows.ExistingOrCreateAuthStateControl(c)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	nonce, err := b.flows.CreateNonce(c)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	oauth2Config := oauth2.Config{
		ClientID:    c.ClientID,
		RedirectURL: c.RedirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:   endpoints.AuthorizationEndpoint,
			TokenURL:  endpoints.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: strutils.SplitScope(c.Scope),
	}
	authCodeOpts := []oauth2.AuthCodeOption{
		oidc.Nonce(nonce),
		oauth2.SetAuthURLParam("response_type", c.ResponseType),
	}
	if c.IsCodeFlow() {
		verifier, err := b.flows.CreateCodeVerifier(c)
		if err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		if err := b.flows.SetCodeFlowInProgress(c); err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		authCodeOpts = append(authCodeOpts, oauth2.S256ChallengeOption(verifier))
	}
	if len(opts.withPrompts) > 0 {
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("prompt", strings.Join(promptStrings(opts.withPrompts), " ")))
	}
	if len(opts.withUILocales) > 0 {
		locales := make([]string, 0, len(opts.withUILocales))
		for _, l := range opts.withUILocales {
			locales = append(locales, l.String())
		}
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("ui_locales", strings.Join(locales, " ")))
	}
	if opts.withMaxAge != nil {
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("max_age", strconv.FormatUint(uint64(*opts.withMaxAge), 10)))
	}
	if opts.withHostedDomain != "" {
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("hd", opts.withHostedDomain))
	}
	if len(opts.withCustomParams) > 0 {
		if err := b.flows.storage.Write(KeyCustomParamsAuthRequest, opts.withCustomParams, c); err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
	}
	authCodeOpts = append(authCodeOpts, customParamOpts(c.CustomParamsAuthRequest, opts.withCustomParams)...)

	b.logger.Debug("authorize url created", "config_id", c.ConfigID, "response_type", c.ResponseType)
	return oauth2Config.AuthCodeURL(state, authCodeOpts...), nil
}

func promptStrings(prompts []Prompt) []string {
	s := make([]string, 0, len(prompts))
	for _, p := range prompts {
		s = append(s, string(p))
	}
	return s
}

// customParamOpts merges the param maps, later maps winning, into auth code
// options in key order.
func customParamOpts(params ...map[string]string) []oauth2.AuthCodeOption {
	merged := map[string]string{}
	for _, m := range params {
		for k, v := range m {
			merged[k] = v
		}
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	opts := make([]oauth2.AuthCodeOption, 0, len(keys))
	for _, k := range keys {
		opts = append(opts, oauth2.SetAuthURLParam(k, merged[k]))
	}
	return opts
}
