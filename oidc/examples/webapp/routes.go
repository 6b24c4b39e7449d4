// Copyright (c) Next Identity, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-hclog"

	"github.com/next-identity/oidc-go/oidc"
	"github.com/next-identity/oidc-go/oidc/callback"
	"github.com/next-identity/oidc-go/oidc/session"
)

const sessionCookie = "webapp-session"

type app struct {
	provider *oidc.Provider
	store    session.Store
	gate     *session.Gate
	logger   hclog.Logger
}

func sessionIDFromCookie(req *http.Request) string {
	c, err := req.Cookie(sessionCookie)
	if err != nil {
		return ""
	}
	return c.Value
}

// ensureSessionID returns the request's session id, minting a new cookie
// when the browser doesn't have one yet.
func ensureSessionID(w http.ResponseWriter, req *http.Request) (string, error) {
	if id := sessionIDFromCookie(req); id != "" {
		return id, nil
	}
	id, err := oidc.NewID(oidc.WithPrefix("sess"))
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
	})
	return id, nil
}

func (a *app) index(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path != "/" {
		http.NotFound(w, req)
		return
	}
	fmt.Fprint(w, `<html><body>
<p><a href="/login">Sign in</a></p>
<p><a href="/register">Create an account</a></p>
<p><a href="/profile">Manage your profile</a></p>
<p><a href="/dashboard">Dashboard (protected)</a></p>
<p><a href="/logout">Sign out</a></p>
</body></html>`)
}

// redirectToProvider builds a provider redirect for the given intent.
func (a *app) redirectToProvider(intent oidc.Intent) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if _, err := ensureSessionID(w, req); err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		returnTo := req.URL.Query().Get("return_to")
		if returnTo == "" {
			returnTo = "/dashboard"
		}
		authURL, err := a.provider.AuthURL(req.Context(), intent, oidc.WithReturnTo(returnTo))
		if err != nil {
			a.logger.Error("unable to build auth URL", "intent", intent, "err", err)
			http.Error(w, "unable to reach the identity provider", http.StatusBadGateway)
			return
		}
		http.Redirect(w, req, authURL, http.StatusFound)
	}
}

func (a *app) callbackHandler() (http.HandlerFunc, error) {
	successFn := func(flow *oidc.Flow, t *oidc.Token, w http.ResponseWriter, req *http.Request) {
		id := sessionIDFromCookie(req)
		if id == "" {
			http.Error(w, "no session", http.StatusBadRequest)
			return
		}
		var claims map[string]interface{}
		if err := a.provider.UserInfo(req.Context(), t.StaticTokenSource(), &claims); err != nil {
			// the exchange already verified the id_token; fall back to its
			// claims when userinfo is unavailable
			a.logger.Warn("userinfo request failed", "err", err)
			if err := t.IDToken().Claims(&claims); err != nil {
				http.Error(w, "authentication failed", http.StatusUnauthorized)
				return
			}
		}
		if err := a.gate.Authenticate(req.Context(), id, t, claims); err != nil {
			a.logger.Error("unable to write session", "err", err)
			http.Error(w, "authentication failed", http.StatusUnauthorized)
			return
		}
		returnTo := flow.ReturnTo()
		if returnTo == "" {
			returnTo = "/dashboard"
		}
		http.Redirect(w, req, returnTo, http.StatusFound)
	}

	errorFn := func(state string, r *callback.AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request) {
		if r != nil {
			a.logger.Error("provider returned an authentication error", "error", r.Error, "description", r.Description)
		}
		if e != nil {
			a.logger.Error("callback failed", "err", e)
		}
		http.Error(w, "authentication failed", http.StatusUnauthorized)
	}

	return callback.AuthCode(context.Background(), a.provider, successFn, errorFn)
}

func (a *app) dashboard(w http.ResponseWriter, req *http.Request) {
	claims, err := a.gate.CurrentUser(req.Context(), sessionIDFromCookie(req))
	if err != nil {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	fmt.Fprintf(w, "<html><body><h1>Dashboard</h1><pre>%v</pre></body></html>", claims)
}

func (a *app) logout(w http.ResponseWriter, req *http.Request) {
	id := sessionIDFromCookie(req)

	opts := []oidc.Option{oidc.WithPostLogoutRedirect("http://" + req.Host + "/")}
	if id != "" {
		if s, err := a.store.Get(req.Context(), id); err == nil && s != nil && s.Token != nil {
			opts = append(opts, oidc.WithIDTokenHint(s.Token.IDToken()))
		}
		if err := a.gate.Clear(req.Context(), id); err != nil {
			a.logger.Warn("unable to clear session", "err", err)
		}
	}

	logoutURL, err := a.provider.LogoutURL(req.Context(), opts...)
	if err != nil {
		a.logger.Error("unable to build logout URL", "err", err)
		http.Redirect(w, req, "/", http.StatusFound)
		return
	}
	http.Redirect(w, req, logoutURL, http.StatusFound)
}
