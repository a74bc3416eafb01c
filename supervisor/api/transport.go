// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package api exposes the supervisor management surface and mounts every
// running tenant engine under its own path prefix.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	acs "github.com/acsio/acs"
	"github.com/acsio/acs/pkg/errors"
	"github.com/acsio/acs/supervisor"
)

const svcName = "access-control"

// MakeHandler returns the supervisor HTTP handler. Tenant traffic goes to
// /tenants/{tenantID}/... and is served by the tenant's own worker; the
// rest is the management surface.
func MakeHandler(sup *supervisor.Supervisor, logger *slog.Logger, instanceID string) http.Handler {
	mux := chi.NewRouter()

	mux.Route("/tenants", func(r chi.Router) {
		r.Get("/", listTenants(sup))
		r.Route("/{tenantID}", func(r chi.Router) {
			r.Post("/", startTenant(sup, logger))
			r.Delete("/", stopTenant(sup, logger))
			r.Handle("/*", tenantRouter(sup))
		})
	})

	mux.Get("/health", acs.Health(svcName, instanceID))
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

// tenantRouter delegates the request to the worker of the tenant named in
// the path, with the /tenants/{tenantID} prefix stripped.
func tenantRouter(sup *supervisor.Supervisor) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := chi.URLParam(r, "tenantID")
		handler, err := sup.Route(tenantID)
		if err != nil {
			encodeError(w, err)
			return
		}
		prefix := fmt.Sprintf("/tenants/%s", tenantID)
		http.StripPrefix(prefix, handler).ServeHTTP(w, r)
	})
}

func listTenants(sup *supervisor.Supervisor) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		res := map[string]interface{}{"tenants": sup.Workers()}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(res); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

func startTenant(sup *supervisor.Supervisor, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := chi.URLParam(r, "tenantID")
		if err := sup.StartTenant(r.Context(), tenantID); err != nil {
			logger.Warn("failed to start tenant", slog.String("tenant", tenantID), slog.Any("error", err))
			encodeError(w, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}
}

func stopTenant(sup *supervisor.Supervisor, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := chi.URLParam(r, "tenantID")
		if err := sup.StopTenant(tenantID); err != nil {
			logger.Warn("failed to stop tenant", slog.String("tenant", tenantID), slog.Any("error", err))
			encodeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func encodeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Contains(err, supervisor.ErrTenantUnknown):
		status = http.StatusNotFound
	case errors.Contains(err, supervisor.ErrTenantRunning):
		status = http.StatusConflict
	case errors.Contains(err, supervisor.ErrInvalidTenantID):
		status = http.StatusBadRequest
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(map[string]string{"error": err.Error()}); encErr != nil {
		http.Error(w, encErr.Error(), http.StatusInternalServerError)
	}
}
