// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lanolabs/authgate/pkg/logger"
	"github.com/lanolabs/authgate/pkg/ratelimit"
	"github.com/lanolabs/authgate/pkg/telemetry"
)

// MetricsMiddleware counts requests by chi route pattern and status class.
func MetricsMiddleware(metrics *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = "unmatched"
			}
			metrics.HTTPRequests.WithLabelValues(route, statusClass(ww.Status())).Inc()
		})
	}
}

func statusClass(status int) string {
	if status == 0 {
		status = http.StatusOK
	}
	return strconv.Itoa(status/100) + "xx"
}

// RateLimitMiddleware applies a sliding-window limit keyed by keyFn. Limiter
// failures fail open inside the limiter itself; a denied request gets 429
// with reset metadata.
func RateLimitMiddleware(
	limiter ratelimit.Limiter,
	metrics *telemetry.Metrics,
	class string,
	keyFn func(r *http.Request) string,
) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			decision, err := limiter.Allow(r.Context(), class+":"+keyFn(r))
			if err != nil {
				// The limiter contract is fail-open; an error here means a
				// bug, not an outage. Let the request through regardless.
				logger.Errorw("rate limiter returned an error", "class", class, "error", err.Error())
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

			if !decision.Allowed {
				if metrics != nil {
					metrics.RateLimited.WithLabelValues(class).Inc()
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error":    "rate limit exceeded",
					"reset_at": decision.ResetAt.Unix(),
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RemoteIPKey keys rate limiting by caller IP. RealIP middleware has already
// resolved proxy headers into RemoteAddr.
func RemoteIPKey(r *http.Request) string {
	return r.RemoteAddr
}

// ClientIDKey keys rate limiting by the client_id query parameter, falling
// back to the caller IP for malformed requests.
func ClientIDKey(r *http.Request) string {
	if id := r.URL.Query().Get("client_id"); id != "" {
		return id
	}
	return r.RemoteAddr
}
