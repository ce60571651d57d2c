// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

// componentOptions are shared by the long-lived components of the package:
// TokenValidator, StateValidator, StoragePersistence, FlowsData,
// AuthStateStore, WellKnownService and the event channels.
type componentOptions struct {
	withLogger     hclog.Logger
	withNowFunc    func() time.Time
	withHTTPClient *http.Client
}

func componentDefaults() componentOptions {
	return componentOptions{
		withLogger:  hclog.NewNullLogger(),
		withNowFunc: time.Now,
	}
}

func getComponentOpts(opt ...Option) componentOptions {
	opts := componentDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger. Every component defaults to a null
// logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *componentOptions:
			if l != nil {
				v.withLogger = l
			}
		}
	}
}

// WithNow provides an optional func for determining what the current time it
// is.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *componentOptions:
			if now != nil {
				v.withNowFunc = now
			}
		}
	}
}

// WithHTTPClient provides an optional http client for discovery, key
// retrieval and the token endpoint. When not provided, Config.HTTPClient()
// is used.
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *componentOptions:
			v.withHTTPClient = c
		}
	}
}
