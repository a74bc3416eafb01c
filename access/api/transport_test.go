// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acsio/acs/access"
	"github.com/acsio/acs/access/api"
	"github.com/acsio/acs/access/mocks"
	"github.com/acsio/acs/entities"
	"github.com/acsio/acs/pkg/uuid"
)

const contentType = "application/json"

type testRequest struct {
	client      *http.Client
	method      string
	url         string
	contentType string
	correlation string
	body        io.Reader
}

func (tr testRequest) make() (*http.Response, error) {
	req, err := http.NewRequest(tr.method, tr.url, tr.body)
	if err != nil {
		return nil, err
	}
	if tr.contentType != "" {
		req.Header.Set("Content-Type", tr.contentType)
	}
	if tr.correlation != "" {
		req.Header.Set("X-Correlation-ID", tr.correlation)
	}
	req.Header.Set("Authorization", "Bearer tester")

	return tr.client.Do(req)
}

func toJSON(data interface{}) string {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	return string(jsonData)
}

func newAccessServer(t *testing.T) *httptest.Server {
	t.Helper()

	graph := entities.NewGraph()
	auditRepo := mocks.NewAuditRepository()
	repo := mocks.NewRepository(auditRepo)
	cache := mocks.NewCache()
	buffer := access.NewBuffer(access.BufferConfig{Capacity: 100})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = buffer.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	svc := access.New(graph, repo, auditRepo, cache, buffer, uuid.NewMock())
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	ts := httptest.NewServer(api.MakeHandler(svc, logger))
	t.Cleanup(ts.Close)
	return ts
}

func createEntity(t *testing.T, ts *httptest.Server, path string, id uint64, name string) {
	t.Helper()
	res, err := testRequest{
		client:      ts.Client(),
		method:      http.MethodPost,
		url:         fmt.Sprintf("%s/%s", ts.URL, path),
		contentType: contentType,
		body:        strings.NewReader(toJSON(map[string]interface{}{"id": id, "name": name})),
	}.make()
	require.Nil(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusCreated, res.StatusCode)
}

func TestCreateUser(t *testing.T) {
	ts := newAccessServer(t)

	cases := []struct {
		desc        string
		body        string
		contentType string
		status      int
	}{
		{
			desc:        "valid user",
			body:        toJSON(map[string]interface{}{"id": 1, "name": "alice"}),
			contentType: contentType,
			status:      http.StatusCreated,
		},
		{
			desc:        "duplicate id",
			body:        toJSON(map[string]interface{}{"id": 1, "name": "alice again"}),
			contentType: contentType,
			status:      http.StatusConflict,
		},
		{
			desc:        "missing id",
			body:        toJSON(map[string]interface{}{"name": "ghost"}),
			contentType: contentType,
			status:      http.StatusBadRequest,
		},
		{
			desc:        "missing name",
			body:        toJSON(map[string]interface{}{"id": 2}),
			contentType: contentType,
			status:      http.StatusBadRequest,
		},
		{
			desc:        "name above the limit",
			body:        toJSON(map[string]interface{}{"id": 2, "name": strings.Repeat("a", 1025)}),
			contentType: contentType,
			status:      http.StatusBadRequest,
		},
		{
			desc:        "malformed body",
			body:        "{",
			contentType: contentType,
			status:      http.StatusBadRequest,
		},
		{
			desc:        "wrong content type",
			body:        toJSON(map[string]interface{}{"id": 2, "name": "bob"}),
			contentType: "text/plain",
			status:      http.StatusUnsupportedMediaType,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			res, err := testRequest{
				client:      ts.Client(),
				method:      http.MethodPost,
				url:         ts.URL + "/users",
				contentType: tc.contentType,
				body:        strings.NewReader(tc.body),
			}.make()
			require.Nil(t, err)
			defer res.Body.Close()
			assert.Equal(t, tc.status, res.StatusCode)
		})
	}
}

func TestCreateDedup(t *testing.T) {
	ts := newAccessServer(t)

	req := testRequest{
		client:      ts.Client(),
		method:      http.MethodPost,
		url:         ts.URL + "/users",
		contentType: contentType,
		correlation: "req-1",
	}

	req.body = strings.NewReader(toJSON(map[string]interface{}{"id": 1, "name": "alice"}))
	res, err := req.make()
	require.Nil(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusCreated, res.StatusCode)

	// The same correlation ID replays the recorded outcome instead of
	// re-running the command, so there is no conflict.
	req.body = strings.NewReader(toJSON(map[string]interface{}{"id": 1, "name": "alice"}))
	res, err = req.make()
	require.Nil(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusCreated, res.StatusCode)

	// A fresh correlation ID runs the command and hits the conflict.
	req.correlation = "req-2"
	req.body = strings.NewReader(toJSON(map[string]interface{}{"id": 1, "name": "alice"}))
	res, err = req.make()
	require.Nil(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusConflict, res.StatusCode)
}

func TestViewEntity(t *testing.T) {
	ts := newAccessServer(t)
	createEntity(t, ts, "users", 1, "alice")

	cases := []struct {
		desc   string
		url    string
		status int
	}{
		{
			desc:   "existing user",
			url:    ts.URL + "/users/1",
			status: http.StatusOK,
		},
		{
			desc:   "missing user",
			url:    ts.URL + "/users/42",
			status: http.StatusNotFound,
		},
		{
			desc:   "non-numeric id",
			url:    ts.URL + "/users/abc",
			status: http.StatusBadRequest,
		},
		{
			desc:   "user route does not serve groups",
			url:    ts.URL + "/groups/1",
			status: http.StatusNotFound,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			res, err := testRequest{client: ts.Client(), method: http.MethodGet, url: tc.url}.make()
			require.Nil(t, err)
			defer res.Body.Close()
			assert.Equal(t, tc.status, res.StatusCode)
		})
	}
}

func TestListUsers(t *testing.T) {
	ts := newAccessServer(t)
	createEntity(t, ts, "users", 1, "alice")
	createEntity(t, ts, "users", 2, "bob")
	createEntity(t, ts, "users", 3, "carol")

	res, err := testRequest{client: ts.Client(), method: http.MethodGet, url: ts.URL + "/users?offset=1&limit=1"}.make()
	require.Nil(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var page struct {
		Total    uint64            `json:"total"`
		Offset   uint64            `json:"offset"`
		Limit    uint64            `json:"limit"`
		Entities []entities.Entity `json:"entities"`
	}
	require.Nil(t, json.NewDecoder(res.Body).Decode(&page))
	assert.Equal(t, uint64(3), page.Total)
	require.Len(t, page.Entities, 1)
	assert.Equal(t, "bob", page.Entities[0].Name)
}

func TestEdges(t *testing.T) {
	ts := newAccessServer(t)
	createEntity(t, ts, "users", 1, "alice")
	createEntity(t, ts, "groups", 10, "devs")
	createEntity(t, ts, "groups", 11, "eng")

	cases := []struct {
		desc   string
		method string
		url    string
		status int
	}{
		{
			desc:   "add user to group",
			method: http.MethodPost,
			url:    ts.URL + "/groups/10/users/1",
			status: http.StatusNoContent,
		},
		{
			desc:   "nest group under group",
			method: http.MethodPost,
			url:    ts.URL + "/groups/11/groups/10",
			status: http.StatusNoContent,
		},
		{
			desc:   "cycle is rejected",
			method: http.MethodPost,
			url:    ts.URL + "/groups/10/groups/11",
			status: http.StatusUnprocessableEntity,
		},
		{
			desc:   "missing child",
			method: http.MethodPost,
			url:    ts.URL + "/groups/10/users/42",
			status: http.StatusNotFound,
		},
		{
			desc:   "remove user from group",
			method: http.MethodDelete,
			url:    ts.URL + "/groups/10/users/1",
			status: http.StatusNoContent,
		},
		{
			desc:   "remove missing edge",
			method: http.MethodDelete,
			url:    ts.URL + "/groups/10/users/1",
			status: http.StatusNotFound,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			res, err := testRequest{client: ts.Client(), method: tc.method, url: tc.url}.make()
			require.Nil(t, err)
			defer res.Body.Close()
			assert.Equal(t, tc.status, res.StatusCode)
		})
	}
}

func TestPermissionFlow(t *testing.T) {
	ts := newAccessServer(t)
	createEntity(t, ts, "users", 1, "alice")

	grant := toJSON(map[string]interface{}{
		"permission": map[string]interface{}{
			"uri":    "/api/projects/*",
			"verb":   "GET",
			"effect": "grant",
		},
	})
	res, err := testRequest{
		client:      ts.Client(),
		method:      http.MethodPost,
		url:         ts.URL + "/entities/1/permissions",
		contentType: contentType,
		body:        strings.NewReader(grant),
	}.make()
	require.Nil(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusCreated, res.StatusCode)

	res, err = testRequest{
		client: ts.Client(),
		method: http.MethodGet,
		url:    ts.URL + "/entities/1/check?uri=/api/projects/alpha&verb=GET",
	}.make()
	require.Nil(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var check struct {
		Allowed bool `json:"allowed"`
	}
	require.Nil(t, json.NewDecoder(res.Body).Decode(&check))
	assert.True(t, check.Allowed)

	res, err = testRequest{
		client: ts.Client(),
		method: http.MethodGet,
		url:    ts.URL + "/entities/1/check?uri=/api/projects/alpha&verb=DELETE",
	}.make()
	require.Nil(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	check.Allowed = true
	require.Nil(t, json.NewDecoder(res.Body).Decode(&check))
	assert.False(t, check.Allowed)

	revoke := toJSON(map[string]interface{}{
		"permission": map[string]interface{}{
			"uri":    "/api/projects/*",
			"verb":   "GET",
			"effect": "grant",
		},
	})
	res, err = testRequest{
		client:      ts.Client(),
		method:      http.MethodDelete,
		url:         ts.URL + "/entities/1/permissions",
		contentType: contentType,
		body:        strings.NewReader(revoke),
	}.make()
	require.Nil(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
}

func TestCheckPermissionInvalidVerb(t *testing.T) {
	ts := newAccessServer(t)
	createEntity(t, ts, "users", 1, "alice")

	res, err := testRequest{
		client: ts.Client(),
		method: http.MethodGet,
		url:    ts.URL + "/entities/1/check?uri=/x&verb=FETCH",
	}.make()
	require.Nil(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestBulkPermissions(t *testing.T) {
	ts := newAccessServer(t)
	createEntity(t, ts, "users", 1, "alice")
	createEntity(t, ts, "users", 2, "bob")

	body := toJSON(map[string]interface{}{
		"operations": []map[string]interface{}{
			{
				"action":     "grant",
				"owner_id":   1,
				"permission": map[string]interface{}{"uri": "/a", "verb": "GET", "effect": "grant"},
			},
			{
				"action":     "grant",
				"owner_id":   2,
				"permission": map[string]interface{}{"uri": "/b", "verb": "POST", "effect": "grant"},
			},
		},
	})
	res, err := testRequest{
		client:      ts.Client(),
		method:      http.MethodPost,
		url:         ts.URL + "/permissions/bulk",
		contentType: contentType,
		body:        strings.NewReader(body),
	}.make()
	require.Nil(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var result struct {
		Total      int `json:"total"`
		Successful int `json:"successful"`
		Failed     int `json:"failed"`
	}
	require.Nil(t, json.NewDecoder(res.Body).Decode(&result))
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 2, result.Successful)
	assert.Equal(t, 0, result.Failed)
}

func TestBulkPermissionsPartialFailure(t *testing.T) {
	ts := newAccessServer(t)
	createEntity(t, ts, "users", 1, "alice")

	body := toJSON(map[string]interface{}{
		"operations": []map[string]interface{}{
			{
				"action":     "grant",
				"owner_id":   1,
				"permission": map[string]interface{}{"uri": "/a", "verb": "GET", "effect": "grant"},
			},
			{
				"action":     "grant",
				"owner_id":   42,
				"permission": map[string]interface{}{"uri": "/b", "verb": "GET", "effect": "grant"},
			},
		},
	})
	res, err := testRequest{
		client:      ts.Client(),
		method:      http.MethodPost,
		url:         ts.URL + "/permissions/bulk",
		contentType: contentType,
		body:        strings.NewReader(body),
	}.make()
	require.Nil(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusMultiStatus, res.StatusCode)

	var result struct {
		Successful int `json:"successful"`
		Failed     int `json:"failed"`
	}
	require.Nil(t, json.NewDecoder(res.Body).Decode(&result))
	assert.Equal(t, 1, result.Successful)
	assert.Equal(t, 1, result.Failed)
}

func TestBulkPermissionsTransactional(t *testing.T) {
	ts := newAccessServer(t)
	createEntity(t, ts, "users", 1, "alice")

	body := toJSON(map[string]interface{}{
		"execute_in_transaction": true,
		"operations": []map[string]interface{}{
			{
				"action":     "grant",
				"owner_id":   1,
				"permission": map[string]interface{}{"uri": "/a", "verb": "GET", "effect": "grant"},
			},
			{
				"action":     "grant",
				"owner_id":   42,
				"permission": map[string]interface{}{"uri": "/b", "verb": "GET", "effect": "grant"},
			},
		},
	})
	res, err := testRequest{
		client:      ts.Client(),
		method:      http.MethodPost,
		url:         ts.URL + "/permissions/bulk",
		contentType: contentType,
		body:        strings.NewReader(body),
	}.make()
	require.Nil(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusMultiStatus, res.StatusCode)

	var result struct {
		Successful int `json:"successful"`
		Failed     int `json:"failed"`
	}
	require.Nil(t, json.NewDecoder(res.Body).Decode(&result))
	assert.Equal(t, 0, result.Successful)
	assert.Equal(t, 2, result.Failed)

	// The rolled back grant must not be visible on the valid target.
	res, err = testRequest{
		client: ts.Client(),
		method: http.MethodGet,
		url:    ts.URL + "/entities/1/permissions",
	}.make()
	require.Nil(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var perms struct {
		Permissions []entities.Permission `json:"permissions"`
	}
	require.Nil(t, json.NewDecoder(res.Body).Decode(&perms))
	assert.Empty(t, perms.Permissions)
}

func TestAuditTrail(t *testing.T) {
	ts := newAccessServer(t)
	createEntity(t, ts, "users", 1, "alice")
	createEntity(t, ts, "groups", 10, "devs")

	res, err := testRequest{client: ts.Client(), method: http.MethodGet, url: ts.URL + "/audit/records?limit=10"}.make()
	require.Nil(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var page struct {
		Total   uint64 `json:"total"`
		Records []struct {
			ChangeType string `json:"change_type"`
			ChangedBy  string `json:"changed_by"`
		} `json:"records"`
	}
	require.Nil(t, json.NewDecoder(res.Body).Decode(&page))
	assert.Equal(t, uint64(2), page.Total)
	require.Len(t, page.Records, 2)
	assert.Equal(t, "create", page.Records[0].ChangeType)
	assert.Equal(t, "tester", page.Records[0].ChangedBy)
}

func TestStats(t *testing.T) {
	ts := newAccessServer(t)
	createEntity(t, ts, "users", 1, "alice")

	for _, path := range []string{"/stats/graph", "/stats/buffer", "/stats/cache"} {
		t.Run(path, func(t *testing.T) {
			res, err := testRequest{client: ts.Client(), method: http.MethodGet, url: ts.URL + path}.make()
			require.Nil(t, err)
			defer res.Body.Close()
			assert.Equal(t, http.StatusOK, res.StatusCode)
		})
	}
}

func TestExecute(t *testing.T) {
	ts := newAccessServer(t)

	cases := []struct {
		desc   string
		body   string
		status int
	}{
		{
			desc: "create user operation",
			body: toJSON(map[string]interface{}{
				"kind":    "user.create",
				"payload": map[string]interface{}{"id": 1, "name": "alice"},
			}),
			status: http.StatusOK,
		},
		{
			desc: "check operation",
			body: toJSON(map[string]interface{}{
				"kind":    "permission.check",
				"payload": map[string]interface{}{"entity_id": 1, "uri": "/x", "verb": "GET"},
			}),
			status: http.StatusOK,
		},
		{
			desc: "unknown kind",
			body: toJSON(map[string]interface{}{
				"kind":    "teleport",
				"payload": map[string]interface{}{},
			}),
			status: http.StatusBadRequest,
		},
		{
			desc: "audit trail with sort direction",
			body: toJSON(map[string]interface{}{
				"kind":    "audit.trail",
				"payload": map[string]interface{}{"page": map[string]interface{}{"direction": "desc"}},
			}),
			status: http.StatusOK,
		},
		{
			desc: "audit trail with hostile sort direction",
			body: toJSON(map[string]interface{}{
				"kind":    "audit.trail",
				"payload": map[string]interface{}{"page": map[string]interface{}{"direction": "asc; DROP TABLE audit_log; --"}},
			}),
			status: http.StatusBadRequest,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			res, err := testRequest{
				client:      ts.Client(),
				method:      http.MethodPost,
				url:         ts.URL + "/execute",
				contentType: contentType,
				body:        strings.NewReader(tc.body),
			}.make()
			require.Nil(t, err)
			defer res.Body.Close()
			assert.Equal(t, tc.status, res.StatusCode)
		})
	}
}
