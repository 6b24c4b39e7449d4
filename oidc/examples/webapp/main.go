// Copyright (c) Next Identity, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/joho/godotenv"

	"github.com/next-identity/oidc-go/oidc"
	"github.com/next-identity/oidc-go/oidc/session"
)

// List of required configuration environment variables
const (
	clientID     = "NI_CLIENT_ID"
	clientSecret = "NI_CLIENT_SECRET"
	issuer       = "NI_ISSUER"
	port         = "NI_PORT"
)

func envConfig() (map[string]string, error) {
	const op = "envConfig"
	// optional .env file for local development
	_ = godotenv.Load()
	env := map[string]string{
		clientID:     os.Getenv(clientID),
		clientSecret: os.Getenv(clientSecret),
		issuer:       os.Getenv(issuer),
		port:         os.Getenv(port),
	}
	for k, v := range env {
		if v == "" {
			return nil, fmt.Errorf("%s: %s is empty", op, k)
		}
	}
	return env, nil
}

func main() {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "webapp",
		Level: hclog.Debug,
	})

	env, err := envConfig()
	if err != nil {
		logger.Error("missing configuration", "err", err)
		os.Exit(1)
	}

	redirectURL := fmt.Sprintf("http://localhost:%s/callback", env[port])

	pc, err := oidc.NewConfig(
		env[issuer],
		env[clientID],
		oidc.ClientSecret(env[clientSecret]),
		redirectURL,
		oidc.WithScopes("profile", "email"),
		oidc.WithLogger(logger),
	)
	if err != nil {
		logger.Error("invalid relying party config", "err", err)
		os.Exit(1)
	}

	p, err := oidc.NewProvider(pc)
	if err != nil {
		logger.Error("unable to create provider", "err", err)
		os.Exit(1)
	}
	defer p.Done()

	store := session.NewMemStore()
	gate, err := session.NewGate(store, session.WithProvider(p), session.WithLogger(logger))
	if err != nil {
		logger.Error("unable to create session gate", "err", err)
		os.Exit(1)
	}

	app := &app{
		provider: p,
		store:    store,
		gate:     gate,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", app.index)
	mux.HandleFunc("/login", app.redirectToProvider(oidc.IntentLogin))
	mux.HandleFunc("/register", app.redirectToProvider(oidc.IntentRegister))
	mux.HandleFunc("/profile", app.redirectToProvider(oidc.IntentProfile))
	mux.HandleFunc("/logout", app.logout)

	cb, err := app.callbackHandler()
	if err != nil {
		logger.Error("unable to create callback handler", "err", err)
		os.Exit(1)
	}
	mux.Handle("/callback", cb)

	dashboard, err := gate.RequireAuthentication(
		http.HandlerFunc(app.dashboard),
		sessionIDFromCookie,
		session.WithLoginRedirect("/login?return_to=/dashboard"),
	)
	if err != nil {
		logger.Error("unable to guard dashboard", "err", err)
		os.Exit(1)
	}
	mux.Handle("/dashboard", dashboard)

	addr := "localhost:" + env[port]
	logger.Info("listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}
