// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package v1 contains the gateway's HTTP route handlers.
package v1

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/lanolabs/authgate/pkg/api/errors"
	"github.com/lanolabs/authgate/pkg/logger"
	"github.com/lanolabs/authgate/pkg/oauth"
	"github.com/lanolabs/authgate/pkg/session"
)

// OAuthRoutes defines the routes for the OAuth protocol surface.
type OAuthRoutes struct {
	engine   *oauth.Engine
	sessions *session.Engine
}

// OAuthRouter creates the /oauth router.
func OAuthRouter(engine *oauth.Engine, sessions *session.Engine) http.Handler {
	return OAuthRouterLimited(engine, sessions, nil, nil)
}

// OAuthRouterLimited creates the /oauth router with rate limiting applied to
// the authorize and token endpoints.
func OAuthRouterLimited(
	engine *oauth.Engine,
	sessions *session.Engine,
	authorizeLimit, tokenLimit func(http.Handler) http.Handler,
) http.Handler {
	routes := OAuthRoutes{engine: engine, sessions: sessions}

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		if authorizeLimit != nil {
			r.Use(authorizeLimit)
		}
		r.Get("/authorize", routes.authorize)
	})
	r.Group(func(r chi.Router) {
		if tokenLimit != nil {
			r.Use(tokenLimit)
		}
		r.Post("/token", apierrors.ErrorHandler(routes.token))
	})
	r.Post("/revoke", apierrors.ErrorHandler(routes.revoke))
	r.Post("/introspect", apierrors.ErrorHandler(routes.introspect))
	return r
}

// authorize handles GET /oauth/authorize. Success and post-validation
// failures are delivered on the redirect; failures before the redirect URI
// is trusted render an HTML error instead.
func (o *OAuthRoutes) authorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	req := oauth.AuthorizeRequest{
		ResponseType:        q.Get("response_type"),
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		Scope:               q.Get("scope"),
		State:               q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		IPAddress:           r.RemoteAddr,
		UserAgent:           r.UserAgent(),
	}

	// The authenticated subject comes from the browser session, if any. An
	// unauthenticated request fails inside the engine with access_denied.
	if cookie, err := r.Cookie(session.CookieName); err == nil {
		if sess, err := o.sessions.Find(ctx, cookie.Value); err == nil {
			req.UserID = sess.UserID
		}
	}

	result, err := o.engine.Authorize(ctx, req)
	if err != nil {
		perr, ok := oauth.AsProtocolError(err)
		if !ok {
			logger.Errorw("authorize failed", "error", err.Error())
			renderAuthorizeError(w, &oauth.ProtocolError{
				Code:        "server_error",
				Description: "the authorization request could not be processed",
			})
			return
		}
		if perr.SafeRedirect {
			redirectError(w, r, req.RedirectURI, req.State, perr)
			return
		}
		renderAuthorizeError(w, perr)
		return
	}

	u, err := url.Parse(result.RedirectURI)
	if err != nil {
		renderAuthorizeError(w, &oauth.ProtocolError{
			Code:        oauth.ErrInvalidRequest,
			Description: "redirect_uri is not a valid URL",
		})
		return
	}
	values := u.Query()
	values.Set("code", result.Code)
	if result.State != "" {
		values.Set("state", result.State)
	}
	u.RawQuery = values.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}

// redirectError delivers a protocol error on the validated redirect URI.
func redirectError(w http.ResponseWriter, r *http.Request, redirectURI, state string, perr *oauth.ProtocolError) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		renderAuthorizeError(w, perr)
		return
	}
	values := u.Query()
	values.Set("error", perr.Code)
	values.Set("error_description", perr.Description)
	if state != "" {
		values.Set("state", state)
	}
	u.RawQuery = values.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}

// renderAuthorizeError writes the HTML error page used when the redirect URI
// cannot be trusted with the failure.
func renderAuthorizeError(w http.ResponseWriter, perr *oauth.ProtocolError) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusBadRequest)
	fmt.Fprintf(w,
		"<!DOCTYPE html><html><head><title>Authorization Error</title></head>"+
			"<body><h1>Authorization Error</h1><p>%s: %s</p></body></html>",
		html.EscapeString(perr.Code), html.EscapeString(perr.Description))
}

type tokenRequestBody struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code"`
	RedirectURI  string `json:"redirect_uri"`
	ClientID     string `json:"client_id"`
	CodeVerifier string `json:"code_verifier"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

// token handles POST /oauth/token for both grant types. JSON and form
// encodings are accepted.
func (o *OAuthRoutes) token(w http.ResponseWriter, r *http.Request) error {
	req, err := parseTokenRequest(r)
	if err != nil {
		return err
	}
	req.IPAddress = r.RemoteAddr
	req.UserAgent = r.UserAgent()

	resp, err := o.engine.Token(r.Context(), req)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	return json.NewEncoder(w).Encode(resp)
}

func parseTokenRequest(r *http.Request) (oauth.TokenRequest, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body tokenRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return oauth.TokenRequest{}, &oauth.ProtocolError{
				Code:        oauth.ErrInvalidRequest,
				Description: "request body is not valid JSON",
			}
		}
		return oauth.TokenRequest{
			GrantType:    body.GrantType,
			Code:         body.Code,
			RedirectURI:  body.RedirectURI,
			ClientID:     body.ClientID,
			CodeVerifier: body.CodeVerifier,
			RefreshToken: body.RefreshToken,
			Scope:        body.Scope,
		}, nil
	}

	if err := r.ParseForm(); err != nil {
		return oauth.TokenRequest{}, &oauth.ProtocolError{
			Code:        oauth.ErrInvalidRequest,
			Description: "request body is not a valid form",
		}
	}
	return oauth.TokenRequest{
		GrantType:    r.PostFormValue("grant_type"),
		Code:         r.PostFormValue("code"),
		RedirectURI:  r.PostFormValue("redirect_uri"),
		ClientID:     r.PostFormValue("client_id"),
		CodeVerifier: r.PostFormValue("code_verifier"),
		RefreshToken: r.PostFormValue("refresh_token"),
		Scope:        r.PostFormValue("scope"),
	}, nil
}

type revokeRequestBody struct {
	Token         string `json:"token"`
	TokenTypeHint string `json:"token_type_hint"`
}

// revoke handles POST /oauth/revoke. Per revocation privacy norms the
// response is 200 whether or not the token existed.
func (o *OAuthRoutes) revoke(w http.ResponseWriter, r *http.Request) error {
	var body revokeRequestBody
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		_ = json.NewDecoder(r.Body).Decode(&body)
	} else if err := r.ParseForm(); err == nil {
		body.Token = r.PostFormValue("token")
	}

	if err := o.engine.Revoke(r.Context(), body.Token, r.RemoteAddr, r.UserAgent()); err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, err := w.Write([]byte("{}\n"))
	return err
}

type introspectRequestBody struct {
	Token string `json:"token"`
}

// introspect handles POST /oauth/introspect.
func (o *OAuthRoutes) introspect(w http.ResponseWriter, r *http.Request) error {
	var body introspectRequestBody
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		_ = json.NewDecoder(r.Body).Decode(&body)
	} else if err := r.ParseForm(); err == nil {
		body.Token = r.PostFormValue("token")
	}

	result, err := o.engine.Introspect(r.Context(), body.Token)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(result)
}
