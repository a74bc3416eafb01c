// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package api_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/acsio/acs/access"
	pgclient "github.com/acsio/acs/pkg/postgres"
	"github.com/acsio/acs/supervisor"
	"github.com/acsio/acs/supervisor/api"
)

var ts *httptest.Server

func TestMain(m *testing.M) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	sup := supervisor.New(
		supervisor.Config{},
		pgclient.Config{Name: "acs"},
		access.BufferConfig{},
		logger,
		otel.Tracer("test"),
	)
	ts = httptest.NewServer(api.MakeHandler(sup, logger, "instance-1"))
	defer ts.Close()

	m.Run()
}

func TestHealth(t *testing.T) {
	res, err := http.Get(ts.URL + "/health")
	require.Nil(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusOK, res.StatusCode)

	var body map[string]interface{}
	require.Nil(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Equal(t, "pass", body["status"])
	assert.Equal(t, "access-control", body["service"])
	assert.Equal(t, "instance-1", body["instance_id"])
}

func TestMetrics(t *testing.T) {
	res, err := http.Get(ts.URL + "/metrics")
	require.Nil(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestListTenantsEmpty(t *testing.T) {
	res, err := http.Get(ts.URL + "/tenants")
	require.Nil(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusOK, res.StatusCode)

	var body struct {
		Tenants []supervisor.WorkerInfo `json:"tenants"`
	}
	require.Nil(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Empty(t, body.Tenants)
}

func TestStartTenantInvalidID(t *testing.T) {
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/tenants/bad..id", http.NoBody)
	require.Nil(t, err)

	res, err := ts.Client().Do(req)
	require.Nil(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestStopTenantUnknown(t *testing.T) {
	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/tenants/ghost", http.NoBody)
	require.Nil(t, err)

	res, err := ts.Client().Do(req)
	require.Nil(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestTenantRouteUnknown(t *testing.T) {
	res, err := http.Get(ts.URL + "/tenants/ghost/entities/1")
	require.Nil(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}
