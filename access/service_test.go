// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package access_test

import (
	"context"
	"testing"
	"time"

	"github.com/acsio/acs/access"
	"github.com/acsio/acs/access/mocks"
	"github.com/acsio/acs/audit"
	"github.com/acsio/acs/entities"
	"github.com/acsio/acs/pkg/errors"
	repoerr "github.com/acsio/acs/pkg/errors/repository"
	"github.com/acsio/acs/pkg/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var session = access.Session{Actor: "tester", CorrelationID: "corr-1"}

type fixture struct {
	svc    access.Service
	graph  *entities.Graph
	repo   interface {
		access.Repository
		FailNext(error)
		Applied() int
	}
	auditRepo interface {
		audit.Repository
		Records() []audit.Record
	}
	cache interface {
		access.Cache
		Contains(uint64) bool
	}
}

func newFixture(t *testing.T) fixture {
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
	return fixture{svc: svc, graph: graph, repo: repo, auditRepo: auditRepo, cache: cache}
}

func (f fixture) mustCreate(t *testing.T, kind entities.Kind, id uint64, name string) {
	t.Helper()
	var err error
	e := entities.Entity{ID: id, Name: name}
	switch kind {
	case entities.GroupKind:
		_, err = f.svc.CreateGroup(context.Background(), session, e)
	case entities.RoleKind:
		_, err = f.svc.CreateRole(context.Background(), session, e)
	default:
		_, err = f.svc.CreateUser(context.Background(), session, e)
	}
	require.NoError(t, err)
}

func TestCreateEntity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.CreateUser(ctx, session, entities.Entity{ID: 1, Name: "alice"})
	require.NoError(t, err)
	assert.Equal(t, entities.UserKind, created.Kind)
	assert.False(t, created.CreatedAt.IsZero())

	_, err = f.svc.CreateUser(ctx, session, entities.Entity{ID: 1, Name: "alice again"})
	assert.True(t, errors.Contains(err, entities.ErrConflict))

	records := f.auditRepo.Records()
	require.Len(t, records, 1, "the failed create must not write an audit row")
	assert.Equal(t, audit.Create, records[0].ChangeType)
	assert.Equal(t, session.Actor, records[0].ChangedBy)
	assert.Equal(t, session.CorrelationID, records[0].CorrelationID)
}

func TestInheritedPermission(t *testing.T) {
	// A user inherits a grant attached to a group it belongs to.
	f := newFixture(t)
	ctx := context.Background()

	f.mustCreate(t, entities.UserKind, 1, "alice")
	f.mustCreate(t, entities.UserKind, 2, "bob")
	f.mustCreate(t, entities.GroupKind, 10, "devs")
	require.NoError(t, f.svc.AddUserToGroup(ctx, session, 1, 10))
	require.NoError(t, f.svc.GrantPermission(ctx, session, 10, entities.Permission{
		URI: "/api/projects", Verb: entities.GET, Effect: entities.Grant,
	}))

	allowed, err := f.svc.CheckPermission(ctx, session, 1, "/api/projects", entities.GET, nil)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = f.svc.CheckPermission(ctx, session, 2, "/api/projects", entities.GET, nil)
	require.NoError(t, err)
	assert.False(t, allowed, "non-member must not inherit the grant")
}

func TestDenyOverridesInheritedGrant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.mustCreate(t, entities.UserKind, 1, "alice")
	f.mustCreate(t, entities.GroupKind, 10, "devs")
	require.NoError(t, f.svc.AddUserToGroup(ctx, session, 1, 10))
	require.NoError(t, f.svc.GrantPermission(ctx, session, 10, entities.Permission{
		URI: "/api/projects", Verb: entities.GET, Effect: entities.Grant,
	}))
	require.NoError(t, f.svc.GrantPermission(ctx, session, 1, entities.Permission{
		URI: "/api/projects", Verb: entities.GET, Effect: entities.Deny,
	}))

	allowed, err := f.svc.CheckPermission(ctx, session, 1, "/api/projects", entities.GET, nil)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestStoreFailureLeavesGraphUntouched(t *testing.T) {
	// A rejected commit must leave no trace in the in-memory graph.
	f := newFixture(t)
	ctx := context.Background()

	f.mustCreate(t, entities.UserKind, 1, "alice")
	f.mustCreate(t, entities.GroupKind, 10, "devs")

	f.repo.FailNext(repoerr.ErrFailedOpDB)
	err := f.svc.AddUserToGroup(ctx, session, 1, 10)
	require.Error(t, err)

	assert.Empty(t, f.graph.Parents(1), "edge must not appear after a failed commit")

	f.repo.FailNext(repoerr.ErrFailedOpDB)
	err = f.svc.GrantPermission(ctx, session, 10, entities.Permission{
		URI: "/api/projects", Verb: entities.GET, Effect: entities.Grant,
	})
	require.Error(t, err)

	perms, err := f.graph.Permissions(10)
	require.NoError(t, err)
	assert.Empty(t, perms, "permission must not appear after a failed commit")
}

func TestEdgeValidationRejectedBeforeCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.mustCreate(t, entities.GroupKind, 20, "a")
	f.mustCreate(t, entities.GroupKind, 21, "b")
	require.NoError(t, f.svc.AddGroupToGroup(ctx, session, 21, 20))

	applied := f.repo.Applied()
	err := f.svc.AddGroupToGroup(ctx, session, 20, 21)
	assert.True(t, errors.Contains(err, entities.ErrCycle))
	assert.Equal(t, applied, f.repo.Applied(), "a rejected edge must not reach the store")
}

func TestRevokePermissionCascade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.mustCreate(t, entities.GroupKind, 10, "parent")
	f.mustCreate(t, entities.GroupKind, 11, "child")
	f.mustCreate(t, entities.UserKind, 1, "alice")
	require.NoError(t, f.svc.AddGroupToGroup(ctx, session, 11, 10))
	require.NoError(t, f.svc.AddUserToGroup(ctx, session, 1, 11))

	perm := entities.Permission{URI: "/api/projects", Verb: entities.GET, Effect: entities.Grant}
	require.NoError(t, f.svc.GrantPermission(ctx, session, 10, perm))
	require.NoError(t, f.svc.GrantPermission(ctx, session, 11, perm))
	require.NoError(t, f.svc.GrantPermission(ctx, session, 1, perm))

	require.NoError(t, f.svc.RevokePermission(ctx, session, 10, perm, true))

	for _, id := range []uint64{10, 11, 1} {
		perms, err := f.graph.Permissions(id)
		require.NoError(t, err)
		assert.Empty(t, perms, "cascade must revoke the permission from descendants")
	}
}

func TestBulkPermissionUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.mustCreate(t, entities.UserKind, 1, "alice")
	f.mustCreate(t, entities.GroupKind, 10, "devs")

	ops := []access.PermissionOp{
		{Action: access.GrantAction, OwnerID: 1, Permission: entities.Permission{URI: "/api/a", Verb: entities.GET, Effect: entities.Grant}},
		{Action: access.GrantAction, OwnerID: 10, Permission: entities.Permission{URI: "/api/b", Verb: entities.POST, Effect: entities.Grant}},
		{Action: access.GrantAction, OwnerID: 99, Permission: entities.Permission{URI: "/api/c", Verb: entities.GET, Effect: entities.Grant}},
	}

	result, err := f.svc.BulkPermissionUpdate(ctx, session, ops, access.BulkOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 2, result.Successful)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, 2, result.Errors[0].Index)

	perms, err := f.graph.Permissions(1)
	require.NoError(t, err)
	assert.Len(t, perms, 1)

	// Aggregate row plus one row per successful element.
	var bulkRows, grantRows int
	for _, r := range f.auditRepo.Records() {
		switch r.ChangeType {
		case audit.BulkPermissionUpdate:
			bulkRows++
		case audit.GrantPermission:
			grantRows++
		}
	}
	assert.Equal(t, 1, bulkRows)
	assert.Equal(t, 2, grantRows)
}

func TestBulkPermissionUpdateTransactional(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.mustCreate(t, entities.UserKind, 1, "alice")

	ops := []access.PermissionOp{
		{Action: access.GrantAction, OwnerID: 1, Permission: entities.Permission{URI: "/api/a", Verb: entities.GET, Effect: entities.Grant}},
		{Action: access.GrantAction, OwnerID: 99, Permission: entities.Permission{URI: "/api/b", Verb: entities.GET, Effect: entities.Grant}},
	}

	result, err := f.svc.BulkPermissionUpdate(ctx, session, ops, access.BulkOptions{Transactional: true})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 0, result.Successful)
	assert.Equal(t, 2, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, 1, result.Errors[0].Index)

	perms, err := f.graph.Permissions(1)
	require.NoError(t, err)
	assert.Empty(t, perms, "a failed transactional batch must not commit the valid elements")

	// Exactly one aggregate row marked unsuccessful, no per-element rows.
	var bulkRows, grantRows int
	for _, r := range f.auditRepo.Records() {
		switch r.ChangeType {
		case audit.BulkPermissionUpdate:
			bulkRows++
			assert.Equal(t, false, r.Details["success"])
			assert.Equal(t, float64(0), r.Details["successful"])
			assert.Equal(t, float64(2), r.Details["failed"])
		case audit.GrantPermission:
			grantRows++
		}
	}
	assert.Equal(t, 1, bulkRows)
	assert.Equal(t, 0, grantRows)
}

func TestBulkPermissionUpdateStopOnFirstError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.mustCreate(t, entities.UserKind, 1, "alice")

	ops := []access.PermissionOp{
		{Action: access.GrantAction, OwnerID: 99, Permission: entities.Permission{URI: "/api/a", Verb: entities.GET, Effect: entities.Grant}},
		{Action: access.GrantAction, OwnerID: 1, Permission: entities.Permission{URI: "/api/b", Verb: entities.GET, Effect: entities.Grant}},
	}

	result, err := f.svc.BulkPermissionUpdate(ctx, session, ops, access.BulkOptions{StopOnFirstError: true})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Successful)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, 0, result.Errors[0].Index)

	perms, err := f.graph.Permissions(1)
	require.NoError(t, err)
	assert.Empty(t, perms, "elements after the first failure must not run")
}

func TestBulkPermissionUpdateValidateFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.mustCreate(t, entities.UserKind, 1, "alice")

	ops := []access.PermissionOp{
		{Action: access.GrantAction, OwnerID: 1, Permission: entities.Permission{URI: "/api/a", Verb: entities.GET, Effect: entities.Grant}},
		{Action: "escalate", OwnerID: 1, Permission: entities.Permission{URI: "/api/b", Verb: entities.GET, Effect: entities.Grant}},
	}

	result, err := f.svc.BulkPermissionUpdate(ctx, session, ops, access.BulkOptions{ValidateFirst: true})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Successful)
	assert.Equal(t, 2, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, 1, result.Errors[0].Index)

	perms, err := f.graph.Permissions(1)
	require.NoError(t, err)
	assert.Empty(t, perms, "an invalid batch must be rejected before execution")
}

func TestCacheInvalidationOnPermissionChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.mustCreate(t, entities.UserKind, 1, "alice")
	f.mustCreate(t, entities.GroupKind, 10, "devs")
	require.NoError(t, f.svc.AddUserToGroup(ctx, session, 1, 10))

	// Warm the cache for the member.
	_, err := f.svc.EntityPermissions(ctx, session, 1, true)
	require.NoError(t, err)
	require.True(t, f.cache.Contains(1))

	// Granting on the group must invalidate the member's cached set.
	require.NoError(t, f.svc.GrantPermission(ctx, session, 10, entities.Permission{
		URI: "/api/projects", Verb: entities.GET, Effect: entities.Grant,
	}))
	assert.False(t, f.cache.Contains(1), "reachable user's cache entry must be dropped")

	perms, err := f.svc.EntityPermissions(ctx, session, 1, true)
	require.NoError(t, err)
	assert.Len(t, perms, 1)
}

func TestCacheInvalidationOnEdgeRemoval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.mustCreate(t, entities.UserKind, 1, "alice")
	f.mustCreate(t, entities.GroupKind, 10, "devs")
	require.NoError(t, f.svc.AddUserToGroup(ctx, session, 1, 10))
	require.NoError(t, f.svc.GrantPermission(ctx, session, 10, entities.Permission{
		URI: "/api/projects", Verb: entities.GET, Effect: entities.Grant,
	}))

	perms, err := f.svc.EntityPermissions(ctx, session, 1, true)
	require.NoError(t, err)
	require.Len(t, perms, 1)

	require.NoError(t, f.svc.RemoveUserFromGroup(ctx, session, 1, 10))
	assert.False(t, f.cache.Contains(1))

	perms, err = f.svc.EntityPermissions(ctx, session, 1, true)
	require.NoError(t, err)
	assert.Empty(t, perms, "inherited permission must disappear with the membership")
}

func TestDeleteEntityDetaches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.mustCreate(t, entities.UserKind, 1, "alice")
	f.mustCreate(t, entities.GroupKind, 10, "devs")
	require.NoError(t, f.svc.AddUserToGroup(ctx, session, 1, 10))
	require.NoError(t, f.svc.GrantPermission(ctx, session, 10, entities.Permission{
		URI: "/api/projects", Verb: entities.GET, Effect: entities.Grant,
	}))

	require.NoError(t, f.svc.DeleteEntity(ctx, session, 10))

	_, err := f.svc.ViewGroup(ctx, session, 10)
	assert.Error(t, err)

	allowed, err := f.svc.CheckPermission(ctx, session, 1, "/api/projects", entities.GET, nil)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestEffectivePermissionsDecisions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.mustCreate(t, entities.UserKind, 1, "alice")
	require.NoError(t, f.svc.GrantPermission(ctx, session, 1, entities.Permission{
		URI: "/api/*", Verb: entities.GET, Effect: entities.Grant,
	}))
	require.NoError(t, f.svc.GrantPermission(ctx, session, 1, entities.Permission{
		URI: "/api/secret", Verb: entities.GET, Effect: entities.Deny,
	}))

	decisions, err := f.svc.EffectivePermissions(ctx, session, 1, []string{"/api/public", "/api/secret", "/other"}, true)
	require.NoError(t, err)
	require.Len(t, decisions, 3)

	assert.Equal(t, []string{"GET"}, decisions[0].AllowedVerbs)
	assert.Empty(t, decisions[1].AllowedVerbs, "deny overlap must win")
	assert.NotEmpty(t, decisions[1].Conflicts)
	assert.Empty(t, decisions[2].AllowedVerbs)
	assert.Empty(t, decisions[2].Matching)
}

func TestReportAccessViolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.mustCreate(t, entities.UserKind, 1, "alice")
	require.NoError(t, f.svc.ReportAccessViolation(ctx, session, access.Violation{
		EntityID: 1, URI: "/api/secret", Verb: entities.DELETE, Reason: "denied by policy",
	}))

	report, err := f.svc.ComplianceReport(ctx, session, time.Time{}, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), report.Violations)
	assert.True(t, report.Integrity.Valid)
	assert.Equal(t, report.TotalChanges, report.Integrity.TotalChecked)
}

func TestValidatePermissionStructure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.mustCreate(t, entities.UserKind, 1, "alice")
	expired := time.Now().Add(-time.Hour)
	require.NoError(t, f.svc.GrantPermission(ctx, session, 1, entities.Permission{
		URI: "/api/old", Verb: entities.GET, Effect: entities.Grant, ExpiresAt: &expired,
	}))
	require.NoError(t, f.svc.GrantPermission(ctx, session, 1, entities.Permission{
		URI: "/api/live", Verb: entities.GET, Effect: entities.Grant,
	}))

	report, err := f.svc.ValidatePermissionStructure(ctx, session, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), report.Checked)
	assert.Equal(t, uint64(1), report.Expired)
	assert.Equal(t, uint64(0), report.Fixed)

	report, err = f.svc.ValidatePermissionStructure(ctx, session, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), report.Fixed)

	perms, err := f.graph.Permissions(1)
	require.NoError(t, err)
	assert.Len(t, perms, 1)
	assert.Equal(t, "/api/live", perms[0].URI)
}

func TestPermissionImpact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.mustCreate(t, entities.GroupKind, 10, "devs")
	f.mustCreate(t, entities.UserKind, 1, "alice")
	require.NoError(t, f.svc.AddUserToGroup(ctx, session, 1, 10))
	require.NoError(t, f.svc.GrantPermission(ctx, session, 10, entities.Permission{
		URI: "/api/projects/*", Verb: entities.GET, Effect: entities.Grant,
	}))

	report, err := f.svc.PermissionImpact(ctx, session, "/api/projects/42", entities.GET, 0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{10}, report.Owners)
	assert.Equal(t, []uint64{1, 10}, report.Affected)
	assert.Equal(t, uint64(2), report.Total)
}

func TestAuditTrailOrderAndChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.mustCreate(t, entities.UserKind, 1, "alice")
	f.mustCreate(t, entities.GroupKind, 10, "devs")
	require.NoError(t, f.svc.AddUserToGroup(ctx, session, 1, 10))

	page, err := f.svc.AuditTrail(ctx, session, audit.Page{Limit: 10})
	require.NoError(t, err)
	require.Equal(t, uint64(3), page.Total)

	integrity, err := f.svc.ValidateAuditIntegrity(ctx, session, time.Time{}, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, integrity.Valid)
	assert.Equal(t, uint64(3), integrity.TotalChecked)
}

func TestPurgeAuditData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.mustCreate(t, entities.UserKind, 1, "alice")
	f.mustCreate(t, entities.UserKind, 2, "bob")

	purged, err := f.svc.PurgeAuditData(ctx, session, time.Now().Add(time.Second), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), purged)

	// The purge itself is audited and the remaining chain verifies.
	integrity, err := f.svc.ValidateAuditIntegrity(ctx, session, time.Time{}, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, integrity.Valid)
	assert.Equal(t, uint64(1), integrity.TotalChecked)
}
