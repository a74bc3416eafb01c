// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package acs contains definitions shared by all ACS services: the HTTP
// response contract used by transport encoders and the health/version
// endpoints every worker exposes.
package acs

import (
	"encoding/json"
	"net/http"
	"time"
)

// Version of the service. Set at build time via ldflags.
var Version = "0.1.0"

// Response contains HTTP response specific methods.
type Response interface {
	// Code returns HTTP response code.
	Code() int

	// Headers returns map of HTTP headers with their values.
	Headers() map[string]string

	// Empty indicates if HTTP response has content.
	Empty() bool
}

// HealthInfo contains health check endpoint response.
type HealthInfo struct {
	// Status contains service status.
	Status string `json:"status"`

	// Version contains current service version.
	Version string `json:"version"`

	// Service contains service name.
	Service string `json:"service"`

	// InstanceID contains the ID of the running instance.
	InstanceID string `json:"instance_id"`

	// Timestamp contains the time the check was served.
	Timestamp time.Time `json:"timestamp"`
}

// Health exposes an HTTP handler for retrieving service health.
func Health(service, instanceID string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		res := HealthInfo{
			Status:     "pass",
			Version:    Version,
			Service:    service,
			InstanceID: instanceID,
			Timestamp:  time.Now().UTC(),
		}

		w.Header().Set("Content-Type", "application/health+json")
		if err := json.NewEncoder(w).Encode(res); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}
