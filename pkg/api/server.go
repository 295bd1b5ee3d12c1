// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package api assembles the gateway's HTTP surface: the chi router with its
// middleware stack, and the server lifecycle.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	v1 "github.com/lanolabs/authgate/pkg/api/v1"
	"github.com/lanolabs/authgate/pkg/apikey"
	"github.com/lanolabs/authgate/pkg/identity"
	"github.com/lanolabs/authgate/pkg/logger"
	"github.com/lanolabs/authgate/pkg/oauth"
	"github.com/lanolabs/authgate/pkg/outbox"
	"github.com/lanolabs/authgate/pkg/ratelimit"
	"github.com/lanolabs/authgate/pkg/session"
	"github.com/lanolabs/authgate/pkg/storage"
	"github.com/lanolabs/authgate/pkg/telemetry"
	"github.com/lanolabs/authgate/pkg/upstream"
)

const (
	middlewareTimeout = 60 * time.Second
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 30 * time.Second
)

// Deps carries everything the router serves. Metrics, Limiter, Worker and
// Upstream may be nil; the corresponding surfaces degrade gracefully.
type Deps struct {
	Store    storage.Store
	OAuth    *oauth.Engine
	Sessions *session.Engine
	Keys     *apikey.Engine
	Identity *identity.Resolver
	Upstream upstream.Provider
	Worker   *outbox.Worker
	Metrics  *telemetry.Metrics
	Limiter  ratelimit.Limiter
	Cookies  session.CookieConfig

	// Issuer is the external base URL advertised in the discovery document.
	Issuer string
}

// NewRouter builds the full route tree.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Timeout(middlewareTimeout),
		MetricsMiddleware(deps.Metrics),
		headersMiddleware,
	)

	oauthRouter := v1.OAuthRouter(deps.OAuth, deps.Sessions)
	if deps.Limiter != nil {
		// /oauth/token shares the per-IP budget with login; authorize is
		// keyed per client so one noisy integration cannot starve the rest.
		tokenLimit := RateLimitMiddleware(deps.Limiter, deps.Metrics, "token", RemoteIPKey)
		authorizeLimit := RateLimitMiddleware(deps.Limiter, deps.Metrics, "authorize", ClientIDKey)
		oauthRouter = v1.OAuthRouterLimited(deps.OAuth, deps.Sessions, authorizeLimit, tokenLimit)
	}

	var loginLimit func(http.Handler) http.Handler
	if deps.Limiter != nil {
		loginLimit = RateLimitMiddleware(deps.Limiter, deps.Metrics, "login", RemoteIPKey)
	}

	routers := map[string]http.Handler{
		"/oauth":       oauthRouter,
		"/v1/auth":     v1.AuthRouter(deps.Sessions, deps.Identity, deps.Upstream, deps.Store, deps.Cookies, loginLimit),
		"/v1/api-keys": v1.APIKeyRouter(deps.Keys, deps.Identity),
		"/health":      v1.HealthRouter(deps.Store, deps.Worker),
		"/.well-known": v1.DiscoveryRouter(deps.Issuer),
	}
	for prefix, router := range routers {
		r.Mount(prefix, router)
	}

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}
	return r
}

func headersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/v1/") {
			w.Header().Set("Content-Type", "application/json")
		}
		next.ServeHTTP(w, r)
	})
}

// Serve runs the HTTP server until ctx is canceled, then drains in-flight
// requests.
func Serve(ctx context.Context, address string, handler http.Handler) error {
	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Addr:              address,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("http server listening", "address", address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("http server stopped")
	return nil
}
