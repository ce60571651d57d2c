// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/hashicorp/cap-rp/oidc"
	"github.com/hashicorp/cap-rp/oidc/callback"
	"github.com/hashicorp/go-hclog"
)

// List of required configuration environment variables
const (
	clientID   = "OIDC_CLIENT_ID"
	issuer     = "OIDC_ISSUER"
	port       = "OIDC_PORT"
	attemptExp = 2 * time.Minute
)

const successHTML = `<!DOCTYPE html>
<html lang="en">
<body>
  <h1>Signed in</h1>
  <p>You can close this window and return to the CLI.</p>
</body>
</html>`

func envConfig() (map[string]string, error) {
	const op = "envConfig"
	env := map[string]string{
		clientID: os.Getenv(clientID),
		issuer:   os.Getenv(issuer),
		port:     os.Getenv(port),
	}
	for k, v := range env {
		if v == "" {
			return nil, fmt.Errorf("%s: %s is empty", op, k)
		}
	}
	return env, nil
}

func main() {
	useImplicit := flag.Bool("implicit", false, "use the implicit flow with response_mode=form_post")
	implicitAccessToken := flag.Bool("implicit-access-token", false, "include the access_token in the implicit flow")
	useRefresh := flag.Bool("refresh", false, "request a refresh token and renew once after login")
	maxAge := flag.Int("max-age", -1, "max age of user authentication")
	scopes := flag.String("scopes", "", "comma separated list of additional scopes to requests")
	debug := flag.Bool("debug", false, "log the events of the service")
	flag.Parse()

	if *useImplicit && *useRefresh {
		fmt.Fprint(os.Stderr, "you can't request both: -implicit and -refresh")
		return
	}

	env, err := envConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n\n", err)
		return
	}

	logger := hclog.New(&hclog.LoggerOptions{Name: "oidc-cli", Level: hclog.Info})
	if *debug {
		logger.SetLevel(hclog.Debug)
	}

	// handle ctrl-c while waiting for the callback
	sigintCh := make(chan os.Signal, 1)
	signal.Notify(sigintCh, os.Interrupt)
	defer signal.Stop(sigintCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scope := oidc.DefaultScope
	for _, s := range strings.Split(*scopes, ",") {
		if s = strings.TrimSpace(s); s != "" {
			scope += " " + s
		}
	}

	var configOpts []oidc.Option
	configOpts = append(configOpts, oidc.WithScope(scope))
	switch {
	case *useImplicit && *implicitAccessToken:
		configOpts = append(configOpts, oidc.WithResponseType(oidc.ResponseTypeIDTokenAndToken))
	case *useImplicit:
		configOpts = append(configOpts, oidc.WithResponseType(oidc.ResponseTypeIDToken))
	case *useRefresh:
		configOpts = append(configOpts, oidc.WithRefreshTokens(), oidc.WithScope(scope+" offline_access"))
	}

	redirectURL := fmt.Sprintf("http://localhost:%s/callback", env[port])
	c, err := oidc.NewConfig(env[issuer], env[clientID], redirectURL, configOpts...)
	if err != nil {
		fmt.Fprint(os.Stderr, err.Error())
		return
	}

	s, err := callback.NewService([]*oidc.Config{c}, oidc.NewMemoryStorage(), callback.WithLogger(logger))
	if err != nil {
		fmt.Fprint(os.Stderr, err.Error())
		return
	}
	defer s.Close()

	if *debug {
		events, unsubscribe := s.Events().Subscribe()
		defer unsubscribe()
		go func() {
			for e := range events {
				logger.Debug("event", "type", e.Type, "value", fmt.Sprintf("%+v", e.Value))
			}
		}()
	}

	var urlOpts []oidc.Option
	if *maxAge >= 0 {
		urlOpts = append(urlOpts, oidc.WithMaxAge(uint(*maxAge)))
	}
	if *useImplicit {
		urlOpts = append(urlOpts, oidc.WithCustomParams(map[string]string{"response_mode": "form_post"}))
	}

	successFn, successCh := success()
	errorFn, failedCh := failed()

	var handler http.HandlerFunc
	if *useImplicit {
		handler = callback.Implicit(ctx, s, c, successFn, errorFn)
	} else {
		handler = callback.AuthCode(ctx, s, c, successFn, errorFn)
	}

	authURL, err := s.AuthURL(ctx, c, urlOpts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error getting auth url: %s", err)
		return
	}

	// Set up callback handler
	http.HandleFunc("/callback", handler)

	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%s", env[port]))
	if err != nil {
		fmt.Fprint(os.Stderr, err.Error())
		return
	}
	defer listener.Close()

	fmt.Fprintf(os.Stderr, "Complete the login via your OIDC provider. Visit:\n\n    %s\n\n\n", authURL)

	srvCh := make(chan error)
	// Start local server
	go func() {
		err := http.Serve(listener, nil)
		if err != nil && err != http.ErrServerClosed {
			srvCh <- err
		}
	}()

	// Wait for either the callback to finish, SIGINT to be received or up to 2 minutes
	select {
	case err := <-srvCh:
		fmt.Fprintf(os.Stderr, "server closed with error: %s", err.Error())
		return
	case resp := <-successCh:
		if resp.Error != nil {
			fmt.Fprintf(os.Stderr, "channel received success with error: %s", resp.Error)
			return
		}
		printResult(resp.Result)
		printUserData(s, c)
		if *useRefresh {
			renew(ctx, s, c)
		}
		return
	case err := <-failedCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "channel received error: %s", err)
			return
		}
		fmt.Fprint(os.Stderr, "missing error from error channel.  try again?\n")
		return
	case <-sigintCh:
		fmt.Fprintf(os.Stderr, "Interrupted")
		return
	case <-time.After(attemptExp):
		fmt.Fprintf(os.Stderr, "Timed out waiting for response from provider")
		return
	}
}

type successResp struct {
	Result *oidc.StateValidationResult // Result is populated when the callback validated the response.
	Error  error                       // Error is populated when there's an error during the callback
}

func success() (callback.SuccessResponseFunc, <-chan successResp) {
	const op = "success"
	doneCh := make(chan successResp)
	return func(state string, r *oidc.StateValidationResult, w http.ResponseWriter, req *http.Request) {
		var responseErr error
		defer func() {
			doneCh <- successResp{r, responseErr}
			close(doneCh)
		}()
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(successHTML)); err != nil {
			responseErr = fmt.Errorf("%s: %w", op, err)
			fmt.Fprintf(os.Stderr, "error writing successful response: %s", err)
		}
	}, doneCh
}

func failed() (callback.ErrorResponseFunc, <-chan error) {
	const op = "failed"
	doneCh := make(chan error)
	return func(state string, r *callback.AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request) {
		var responseErr error
		defer func() {
			if _, err := w.Write([]byte(responseErr.Error())); err != nil {
				fmt.Fprintf(os.Stderr, "%s: error writing failed response: %s", op, err)
			}
			doneCh <- responseErr
			close(doneCh)
		}()

		if e != nil {
			fmt.Fprintf(os.Stderr, "%s: callback error: %s", op, e.Error())
			responseErr = e
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if r != nil {
			responseErr = fmt.Errorf("%s: callback error from oidc provider: %s: %s", op, r.Error, r.Description)
			fmt.Fprint(os.Stderr, responseErr.Error())
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		responseErr = fmt.Errorf("%s: unknown error from callback", op)
	}, doneCh
}

// printableResult is needed because the oidc token types redact themselves.
type printableResult struct {
	IDToken     string
	AccessToken string
	State       string
	Claims      *oidc.IDTokenClaims
}

func printResult(r *oidc.StateValidationResult) {
	const op = "printResult"
	data, err := json.MarshalIndent(printableResult{
		IDToken:     string(r.IDToken),
		AccessToken: string(r.AccessToken),
		State:       r.State.String(),
		Claims:      r.DecodedIDToken,
	}, "", "    ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s", op, err)
		return
	}
	fmt.Fprintf(os.Stderr, "channel received success.\nResult:%s\n", data)
}

func printUserData(s *callback.Service, c *oidc.Config) {
	const op = "printUserData"
	userData := s.Storage().UserData(c)
	if userData == nil {
		fmt.Fprintf(os.Stderr, "%s: no user data stored\n", op)
		return
	}
	data, err := json.MarshalIndent(userData, "", "    ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s", op, err)
		return
	}
	fmt.Fprintf(os.Stderr, "User data:%s\n", data)
}

func renew(ctx context.Context, s *callback.Service, c *oidc.Config) {
	const op = "renew"
	if s.AuthState().RefreshToken(c) == "" {
		fmt.Fprintf(os.Stderr, "%s: no refresh_token received, so we're unable to renew\n", op)
		return
	}
	cc, err := s.RefreshToken(ctx, c)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", op, err)
		return
	}
	fmt.Fprintf(os.Stderr, "renewed with result %s\n", cc.ValidationResult.State)
	printResult(cc.ValidationResult)
}
