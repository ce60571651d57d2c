// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"fmt"

	"github.com/hashicorp/cap-rp/oidc"
	"github.com/hashicorp/go-hclog"
)

// serviceOptions is the set of available options for NewService.
type serviceOptions struct {
	withLogger hclog.Logger
}

func serviceDefaults() serviceOptions {
	return serviceOptions{withLogger: hclog.NewNullLogger()}
}

func getServiceOpts(opt ...oidc.Option) serviceOptions {
	opts := serviceDefaults()
	oidc.ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger for the Service and every oidc
// component it creates.
func WithLogger(l hclog.Logger) oidc.Option {
	inner := oidc.WithLogger(l)
	return func(o interface{}) {
		if o, ok := o.(*serviceOptions); ok {
			o.withLogger = l
			return
		}
		inner(o)
	}
}

// Service runs the callback flows of a set of configs.
type Service struct {
	configs   []*oidc.Config
	storage   *oidc.StoragePersistence
	flows     *oidc.FlowsData
	events    *oidc.PublicEvents
	authState *oidc.AuthStateStore
	wellKnown *oidc.WellKnownService
	tokens    *oidc.TokenClient
	validator *oidc.StateValidator
	authURL   *oidc.AuthURLBuilder
	logger    hclog.Logger
}

// NewService prepares configs and creates the components shared by them on
// top of the storage backend s.
// Supported options:
//   - WithLogger
//   - oidc.WithHTTPClient
//   - oidc.WithNow
func NewService(configs []*oidc.Config, s oidc.Storage, opt ...oidc.Option) (*Service, error) {
	const op = "callback.NewService"
	if s == nil {
		return nil, fmt.Errorf("%s: storage is nil: %w", op, oidc.ErrNilParameter)
	}
	configs, err := oidc.PrepareConfigs(configs, opt...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	opts := getServiceOpts(opt...)

	svc := &Service{
		configs: configs,
		events:  oidc.NewPublicEvents(opt...),
		logger:  opts.withLogger,
	}
	if svc.storage, err = oidc.NewStoragePersistence(s, opt...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if svc.flows, err = oidc.NewFlowsData(svc.storage, opt...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if svc.authState, err = oidc.NewAuthStateStore(svc.storage, svc.events, opt...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if svc.wellKnown, err = oidc.NewWellKnownService(svc.storage, svc.events, opt...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if svc.tokens, err = oidc.NewTokenClient(svc.wellKnown, opt...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if svc.validator, err = oidc.NewStateValidator(svc.storage, svc.flows, opt...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if svc.authURL, err = oidc.NewAuthURLBuilder(svc.flows, svc.wellKnown, opt...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return svc, nil
}

// Close closes the event channels of the Service.
func (s *Service) Close() {
	s.events.Close()
	s.authState.Authenticated().Close()
}

// Configs returns the prepared configs.
func (s *Service) Configs() []*oidc.Config { return s.configs }

// Config returns the config with the config id.
func (s *Service) Config(id string) (*oidc.Config, bool) {
	for _, c := range s.configs {
		if c.ConfigID == id {
			return c, true
		}
	}
	return nil, false
}

// Events returns the public event bus.
func (s *Service) Events() *oidc.PublicEvents { return s.events }

// AuthState returns the authenticated state of the configs.
func (s *Service) AuthState() *oidc.AuthStateStore { return s.authState }

// Flows returns the transient flow data.
func (s *Service) Flows() *oidc.FlowsData { return s.flows }

// Storage returns the storage of the configs.
func (s *Service) Storage() *oidc.StoragePersistence { return s.storage }

// WellKnown returns the discovery service.
func (s *Service) WellKnown() *oidc.WellKnownService { return s.wellKnown }

// AuthURL returns the authentication request URL of c. See
// oidc.AuthURLBuilder.AuthURL for the supported options.
func (s *Service) AuthURL(ctx context.Context, c *oidc.Config, opt ...oidc.Option) (string, error) {
	const op = "Service.AuthURL"
	u, err := s.authURL.AuthURL(ctx, c, opt...)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}
