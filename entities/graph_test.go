// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package entities_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/acsio/acs/entities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEntity(id uint64, kind entities.Kind, name string) entities.Entity {
	return entities.Entity{
		ID:        id,
		Kind:      kind,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func seedGraph(t *testing.T) *entities.Graph {
	t.Helper()
	g := entities.NewGraph()
	require.NoError(t, g.Add(newEntity(1, entities.UserKind, "alice")))
	require.NoError(t, g.Add(newEntity(2, entities.UserKind, "bob")))
	require.NoError(t, g.Add(newEntity(10, entities.GroupKind, "devs")))
	require.NoError(t, g.Add(newEntity(11, entities.GroupKind, "platform")))
	require.NoError(t, g.Add(newEntity(20, entities.RoleKind, "admin")))
	return g
}

func TestGraphAdd(t *testing.T) {
	g := entities.NewGraph()

	cases := []struct {
		desc   string
		entity entities.Entity
		err    error
	}{
		{
			desc:   "valid user",
			entity: newEntity(1, entities.UserKind, "alice"),
			err:    nil,
		},
		{
			desc:   "duplicate id",
			entity: newEntity(1, entities.GroupKind, "devs"),
			err:    entities.ErrConflict,
		},
		{
			desc:   "empty name",
			entity: newEntity(2, entities.UserKind, ""),
			err:    entities.ErrMalformedEntity,
		},
		{
			desc:   "zero id",
			entity: newEntity(0, entities.UserKind, "ghost"),
			err:    entities.ErrMalformedEntity,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			err := g.Add(tc.entity)
			if tc.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tc.err.Error())
		})
	}
}

func TestGraphEdgeKinds(t *testing.T) {
	cases := []struct {
		desc     string
		parentID uint64
		childID  uint64
		err      error
	}{
		{
			desc:     "user into group",
			parentID: 10,
			childID:  1,
			err:      nil,
		},
		{
			desc:     "group into group",
			parentID: 10,
			childID:  11,
			err:      nil,
		},
		{
			desc:     "role into group",
			parentID: 10,
			childID:  20,
			err:      nil,
		},
		{
			desc:     "user into role",
			parentID: 20,
			childID:  1,
			err:      nil,
		},
		{
			desc:     "group into role",
			parentID: 20,
			childID:  10,
			err:      entities.ErrEdgeKind,
		},
		{
			desc:     "user as parent",
			parentID: 1,
			childID:  2,
			err:      entities.ErrEdgeKind,
		},
		{
			desc:     "missing parent",
			parentID: 99,
			childID:  1,
			err:      entities.ErrNotFound,
		},
		{
			desc:     "missing child",
			parentID: 10,
			childID:  99,
			err:      entities.ErrNotFound,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			g := seedGraph(t)
			err := g.AddEdge(tc.parentID, tc.childID)
			if tc.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tc.err.Error())
		})
	}
}

func TestGraphEdgeMutuality(t *testing.T) {
	g := seedGraph(t)

	require.NoError(t, g.AddEdge(10, 1))
	require.NoError(t, g.AddEdge(10, 11))
	require.NoError(t, g.AddEdge(20, 1))

	// Every parent edge has a matching child edge and vice versa.
	for _, id := range []uint64{1, 2, 10, 11, 20} {
		for _, parent := range g.Parents(id) {
			assert.Contains(t, g.Children(parent), id, fmt.Sprintf("child edge missing for %d -> %d", parent, id))
		}
		for _, child := range g.Children(id) {
			assert.Contains(t, g.Parents(child), id, fmt.Sprintf("parent edge missing for %d -> %d", id, child))
		}
	}

	require.NoError(t, g.RemoveEdge(10, 1))
	assert.NotContains(t, g.Parents(1), uint64(10))
	assert.NotContains(t, g.Children(10), uint64(1))
}

func TestGraphCycleRejection(t *testing.T) {
	g := entities.NewGraph()
	require.NoError(t, g.Add(newEntity(20, entities.GroupKind, "a")))
	require.NoError(t, g.Add(newEntity(21, entities.GroupKind, "b")))
	require.NoError(t, g.Add(newEntity(22, entities.GroupKind, "c")))

	require.NoError(t, g.AddEdge(20, 21))
	err := g.AddEdge(21, 20)
	assert.ErrorContains(t, err, entities.ErrCycle.Error())

	// Graph unchanged after the rejected edge.
	assert.Empty(t, g.Parents(20))
	assert.Equal(t, []uint64{20}, g.Parents(21))

	// Transitive cycles are rejected too.
	require.NoError(t, g.AddEdge(21, 22))
	err = g.AddEdge(22, 20)
	assert.ErrorContains(t, err, entities.ErrCycle.Error())

	// Self loops are cycles.
	err = g.AddEdge(20, 20)
	assert.ErrorContains(t, err, entities.ErrCycle.Error())
}

func TestGraphDuplicateEdge(t *testing.T) {
	g := seedGraph(t)
	require.NoError(t, g.AddEdge(10, 1))
	err := g.AddEdge(10, 1)
	assert.ErrorContains(t, err, entities.ErrAlreadyAssigned.Error())
}

func TestGraphAncestors(t *testing.T) {
	g := seedGraph(t)
	require.NoError(t, g.AddEdge(11, 10)) // platform contains devs
	require.NoError(t, g.AddEdge(10, 20)) // devs contains admin role
	require.NoError(t, g.AddEdge(20, 1))  // alice holds admin

	assert.Equal(t, []uint64{10, 11, 20}, g.Ancestors(1))
	assert.Equal(t, []uint64{10, 11}, g.Ancestors(20))
	assert.Empty(t, g.Ancestors(11))
}

func TestGraphDescendants(t *testing.T) {
	g := seedGraph(t)
	require.NoError(t, g.AddEdge(11, 10))
	require.NoError(t, g.AddEdge(10, 20))
	require.NoError(t, g.AddEdge(20, 1))

	assert.Equal(t, []uint64{1, 10, 20}, g.Descendants(11, 0))
	assert.Equal(t, []uint64{10}, g.Descendants(11, 1))
	assert.Equal(t, []uint64{10, 20}, g.Descendants(11, 2))
}

func TestGraphRemoveDetaches(t *testing.T) {
	g := seedGraph(t)
	require.NoError(t, g.AddEdge(10, 1))
	require.NoError(t, g.AddEdge(11, 10))
	require.NoError(t, g.AddPermission(10, entities.Permission{URI: "/api/projects", Verb: entities.GET, Effect: entities.Grant}))

	require.NoError(t, g.Remove(10))

	_, err := g.Get(10)
	assert.ErrorContains(t, err, entities.ErrNotFound.Error())
	assert.Empty(t, g.Parents(1))
	assert.Empty(t, g.Children(11))

	// The removed group's permission no longer reaches former members.
	ok, err := g.Check(1, "/api/projects", entities.GET, now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGraphMembershipIndices(t *testing.T) {
	g := seedGraph(t)
	require.NoError(t, g.AddEdge(10, 1)) // alice in devs
	require.NoError(t, g.AddEdge(20, 1)) // alice holds admin
	require.NoError(t, g.AddEdge(10, 20)) // admin role in devs

	assert.Equal(t, []uint64{10}, g.UserGroups(1))
	assert.Equal(t, []uint64{20}, g.UserRoles(1))
	assert.Equal(t, []uint64{20}, g.GroupRoles(10))

	require.NoError(t, g.RemoveEdge(10, 1))
	assert.Empty(t, g.UserGroups(1))
}

func TestGraphCheckInheritedGrant(t *testing.T) {
	// Scenario: user in group, group granted GET /api/projects.
	g := seedGraph(t)
	require.NoError(t, g.AddEdge(10, 1))
	require.NoError(t, g.AddPermission(10, entities.Permission{URI: "/api/projects", Verb: entities.GET, Effect: entities.Grant}))

	ok, err := g.Check(1, "/api/projects", entities.GET, now)
	require.NoError(t, err)
	assert.True(t, ok)

	// Sibling without membership stays denied.
	ok, err = g.Check(2, "/api/projects", entities.GET, now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGraphCheckDenyOverride(t *testing.T) {
	g := seedGraph(t)
	require.NoError(t, g.AddEdge(10, 1))
	require.NoError(t, g.AddPermission(10, entities.Permission{URI: "/api/projects", Verb: entities.GET, Effect: entities.Grant}))
	require.NoError(t, g.AddPermission(1, entities.Permission{URI: "/api/projects", Verb: entities.GET, Effect: entities.Deny}))

	ok, err := g.Check(1, "/api/projects", entities.GET, now)
	require.NoError(t, err)
	assert.False(t, ok, "direct deny must override inherited grant")
}

func TestGraphCheckWildcardSpecificity(t *testing.T) {
	g := seedGraph(t)
	require.NoError(t, g.AddPermission(1, entities.Permission{URI: "/api/*", Verb: entities.GET, Effect: entities.Grant}))
	require.NoError(t, g.AddPermission(1, entities.Permission{URI: "/api/secret", Verb: entities.GET, Effect: entities.Deny}))

	ok, err := g.Check(1, "/api/secret", entities.GET, now)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = g.Check(1, "/api/public", entities.GET, now)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGraphCheckExpiry(t *testing.T) {
	g := seedGraph(t)
	expired := now.Add(-time.Minute)
	require.NoError(t, g.AddPermission(1, entities.Permission{URI: "/api/projects", Verb: entities.GET, Effect: entities.Grant, ExpiresAt: &expired}))

	ok, err := g.Check(1, "/api/projects", entities.GET, now)
	require.NoError(t, err)
	assert.False(t, ok, "expired grant must not allow access")
}

func TestGraphCheckDefaultDeny(t *testing.T) {
	g := seedGraph(t)
	ok, err := g.Check(1, "/api/anything", entities.GET, now)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = g.Check(99, "/api/anything", entities.GET, now)
	assert.ErrorContains(t, err, entities.ErrNotFound.Error())
}

func TestGraphPermissionUpsertAndRevoke(t *testing.T) {
	g := seedGraph(t)
	perm := entities.Permission{URI: "/api/projects", Verb: entities.GET, Effect: entities.Grant}

	require.NoError(t, g.AddPermission(1, perm))
	require.NoError(t, g.AddPermission(1, perm))

	perms, err := g.Permissions(1)
	require.NoError(t, err)
	assert.Len(t, perms, 1, "granting the same permission twice must not duplicate it")

	require.NoError(t, g.RemovePermission(1, perm))
	perms, err = g.Permissions(1)
	require.NoError(t, err)
	assert.Empty(t, perms)

	err = g.RemovePermission(1, perm)
	assert.ErrorContains(t, err, entities.ErrNotFound.Error())
}

func TestGraphEffectivePermissions(t *testing.T) {
	g := seedGraph(t)
	require.NoError(t, g.AddEdge(11, 10))
	require.NoError(t, g.AddEdge(10, 1))

	direct := entities.Permission{URI: "/api/own", Verb: entities.GET, Effect: entities.Grant}
	inherited := entities.Permission{URI: "/api/shared", Verb: entities.GET, Effect: entities.Grant}
	expired := now.Add(-time.Minute)
	gone := entities.Permission{URI: "/api/old", Verb: entities.GET, Effect: entities.Grant, ExpiresAt: &expired}

	require.NoError(t, g.AddPermission(1, direct))
	require.NoError(t, g.AddPermission(11, inherited))
	require.NoError(t, g.AddPermission(10, gone))

	perms, err := g.EffectivePermissions(1, now)
	require.NoError(t, err)
	assert.ElementsMatch(t, []entities.Permission{direct, inherited}, perms)
}

func TestGraphLoadRoundTrip(t *testing.T) {
	expiry := now.Add(time.Hour)
	snapshot := entities.Snapshot{
		Entities: []entities.Entity{
			newEntity(1, entities.UserKind, "alice"),
			newEntity(10, entities.GroupKind, "devs"),
			newEntity(20, entities.RoleKind, "admin"),
		},
		Edges: []entities.Edge{
			{ParentID: 10, ChildID: 1},
			{ParentID: 10, ChildID: 20},
		},
		Permissions: []entities.OwnedPermission{
			{OwnerID: 10, Permission: entities.Permission{URI: "/api/projects", Verb: entities.GET, Effect: entities.Grant, Scheme: entities.DefaultScheme, ExpiresAt: &expiry}},
		},
	}

	g := entities.NewGraph()
	stats, err := g.Load(snapshot)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Entities)
	assert.Equal(t, 2, stats.Edges)
	assert.Equal(t, 1, stats.Permissions)
	for _, phase := range []entities.LoadPhase{
		entities.PhaseBulkEntityLoading,
		entities.PhaseRelationshipBuilding,
		entities.PhaseIndexBuilding,
		entities.PhaseMemoryCalculation,
	} {
		_, ok := stats.Phases[phase]
		assert.True(t, ok, fmt.Sprintf("missing phase timing %s", phase))
	}

	// Attributes survive the round trip.
	alice, err := g.GetUser(1)
	require.NoError(t, err)
	assert.Equal(t, snapshot.Entities[0], alice)

	perms, err := g.Permissions(10)
	require.NoError(t, err)
	assert.Equal(t, snapshot.Permissions[0].Permission, perms[0])

	ok, err := g.Check(1, "/api/projects", entities.GET, now)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGraphLoadRejectsInconsistentSnapshot(t *testing.T) {
	cases := []struct {
		desc     string
		snapshot entities.Snapshot
		err      error
	}{
		{
			desc: "cyclic edges",
			snapshot: entities.Snapshot{
				Entities: []entities.Entity{
					newEntity(20, entities.GroupKind, "a"),
					newEntity(21, entities.GroupKind, "b"),
				},
				Edges: []entities.Edge{
					{ParentID: 20, ChildID: 21},
					{ParentID: 21, ChildID: 20},
				},
			},
			err: entities.ErrCycle,
		},
		{
			desc: "edge referencing missing entity",
			snapshot: entities.Snapshot{
				Entities: []entities.Entity{newEntity(20, entities.GroupKind, "a")},
				Edges:    []entities.Edge{{ParentID: 20, ChildID: 99}},
			},
			err: entities.ErrNotFound,
		},
		{
			desc: "permission owned by missing entity",
			snapshot: entities.Snapshot{
				Entities:    []entities.Entity{newEntity(20, entities.GroupKind, "a")},
				Permissions: []entities.OwnedPermission{{OwnerID: 99, Permission: entities.Permission{URI: "/x", Verb: entities.GET}}},
			},
			err: entities.ErrNotFound,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			g := entities.NewGraph()
			_, err := g.Load(tc.snapshot)
			assert.ErrorContains(t, err, tc.err.Error())
		})
	}
}

func TestGraphStats(t *testing.T) {
	g := seedGraph(t)
	require.NoError(t, g.AddEdge(10, 1))
	require.NoError(t, g.AddPermission(10, entities.Permission{URI: "/api/projects", Verb: entities.GET, Effect: entities.Grant}))

	stats := g.Stats()
	assert.Equal(t, uint64(2), stats.Users)
	assert.Equal(t, uint64(2), stats.Groups)
	assert.Equal(t, uint64(1), stats.Roles)
	assert.Equal(t, uint64(1), stats.Edges)
	assert.Equal(t, uint64(1), stats.Permissions)
	assert.Greater(t, stats.MemoryBytes, uint64(0))
}
