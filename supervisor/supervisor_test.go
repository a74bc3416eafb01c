// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-kit/kit/metrics/generic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/acsio/acs/access"
	"github.com/acsio/acs/pkg/errors"
	pgclient "github.com/acsio/acs/pkg/postgres"
)

// Collectors register in the default prometheus registry, so the whole test
// binary shares one supervisor.
var sup = New(
	Config{},
	pgclient.Config{Name: "acs"},
	access.BufferConfig{},
	slog.New(slog.NewJSONHandler(io.Discard, nil)),
	otel.Tracer("test"),
)

func TestStartTenantInvalidID(t *testing.T) {
	cases := []struct {
		desc     string
		tenantID string
	}{
		{
			desc:     "empty tenant",
			tenantID: "",
		},
		{
			desc:     "tenant with spaces",
			tenantID: "acme corp",
		},
		{
			desc:     "tenant with leading hyphen",
			tenantID: "-acme",
		},
		{
			desc:     "tenant with path characters",
			tenantID: "acme/../other",
		},
		{
			desc:     "tenant above the length limit",
			tenantID: strings.Repeat("a", 64),
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			err := sup.StartTenant(context.Background(), tc.tenantID)
			assert.True(t, errors.Contains(err, ErrInvalidTenantID), "expected %s, got %s", ErrInvalidTenantID, err)
		})
	}
}

func TestRouteUnknownTenant(t *testing.T) {
	handler, err := sup.Route("ghost")
	assert.Nil(t, handler)
	assert.True(t, errors.Contains(err, ErrTenantUnknown), "expected %s, got %s", ErrTenantUnknown, err)
}

func TestStopTenantUnknown(t *testing.T) {
	err := sup.StopTenant("ghost")
	assert.True(t, errors.Contains(err, ErrTenantUnknown), "expected %s, got %s", ErrTenantUnknown, err)
}

func TestWorkersEmpty(t *testing.T) {
	assert.Empty(t, sup.Workers())
}

func TestTenantDBName(t *testing.T) {
	cases := []struct {
		desc     string
		base     string
		tenantID string
		name     string
	}{
		{
			desc:     "plain tenant",
			base:     "acs",
			tenantID: "acme",
			name:     "acs_acme",
		},
		{
			desc:     "hyphenated tenant",
			base:     "acs",
			tenantID: "acme-eu",
			name:     "acs_acme_eu",
		},
		{
			desc:     "mixed case tenant",
			base:     "acs",
			tenantID: "AcmeCorp",
			name:     "acs_acmecorp",
		},
		{
			desc:     "empty base",
			base:     "",
			tenantID: "acme",
			name:     "acs_acme",
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.name, tenantDBName(tc.base, tc.tenantID))
		})
	}
}

func TestServiceMetricsReused(t *testing.T) {
	col := sup.col
	c1, l1 := col.serviceMetrics("acme")
	c2, l2 := col.serviceMetrics("acme")
	assert.Same(t, c1, c2)
	assert.Same(t, l1, l2)
}

func TestInstrumentHandler(t *testing.T) {
	active := generic.NewGauge("active_requests")
	errs := generic.NewCounter("request_errors")

	h := instrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, float64(1), active.Value(), "request must be tracked while in flight")
		if r.URL.Path == "/boom" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}), active, errs)

	ts := httptest.NewServer(h)
	defer ts.Close()

	res, err := http.Get(ts.URL + "/ok")
	require.Nil(t, err)
	res.Body.Close()

	res, err = http.Get(ts.URL + "/boom")
	require.Nil(t, err)
	res.Body.Close()

	assert.Equal(t, float64(1), errs.Value())
	assert.Equal(t, float64(0), active.Value(), "in-flight gauge must return to zero")
}
