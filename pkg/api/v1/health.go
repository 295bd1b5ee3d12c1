// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lanolabs/authgate/pkg/logger"
	"github.com/lanolabs/authgate/pkg/outbox"
	"github.com/lanolabs/authgate/pkg/storage"
)

// HealthRoutes defines the liveness routes.
type HealthRoutes struct {
	store  storage.Store
	worker *outbox.Worker
}

// HealthRouter creates the /health router. worker may be nil when outbox
// delivery is disabled.
func HealthRouter(store storage.Store, worker *outbox.Worker) http.Handler {
	routes := HealthRoutes{store: store, worker: worker}

	r := chi.NewRouter()
	r.Get("/", routes.health)
	return r
}

type healthResponse struct {
	Status string               `json:"status"`
	Outbox *storage.OutboxStats `json:"outbox,omitempty"`
}

func (h *HealthRoutes) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if err := h.store.Ping(r.Context()); err != nil {
		logger.Errorw("health check database ping failed", "error", err.Error())
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(healthResponse{Status: "unavailable"})
		return
	}

	resp := healthResponse{Status: "ok"}
	if h.worker != nil {
		stats, err := h.worker.Stats(r.Context())
		if err != nil {
			logger.Warnw("health check outbox stats failed", "error", err.Error())
		} else {
			resp.Outbox = stats
		}
	}
	_ = json.NewEncoder(w).Encode(resp)
}
