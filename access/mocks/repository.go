// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package mocks

import (
	"context"
	"sync"

	"github.com/acsio/acs/access"
	"github.com/acsio/acs/audit"
	"github.com/acsio/acs/entities"
)

var _ access.Repository = (*repositoryMock)(nil)

type repositoryMock struct {
	mu       sync.Mutex
	audits   audit.Repository
	entities map[uint64]entities.Entity
	edges    map[entities.Edge]struct{}
	perms    map[uint64]map[string]entities.Permission
	applied  int

	failNext error
}

// NewRepository returns an in-memory repository for test purposes. It applies
// mutations atomically against plain maps, forwards audit records to the
// given repository the way the postgres implementation persists them in the
// same transaction, and can be primed to fail.
func NewRepository(audits audit.Repository) *repositoryMock {
	return &repositoryMock{
		audits:   audits,
		entities: make(map[uint64]entities.Entity),
		edges:    make(map[entities.Edge]struct{}),
		perms:    make(map[uint64]map[string]entities.Permission),
	}
}

// FailNext makes the next Apply call fail with the given error.
func (repo *repositoryMock) FailNext(err error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	repo.failNext = err
}

// Applied returns the number of successfully applied mutations.
func (repo *repositoryMock) Applied() int {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	return repo.applied
}

func (repo *repositoryMock) Apply(ctx context.Context, mutation access.Mutation) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if repo.failNext != nil {
		err := repo.failNext
		repo.failNext = nil
		return err
	}

	for _, e := range mutation.EntityUpserts {
		repo.entities[e.ID] = e
	}
	for _, id := range mutation.EntityDeletes {
		delete(repo.entities, id)
		delete(repo.perms, id)
		for edge := range repo.edges {
			if edge.ParentID == id || edge.ChildID == id {
				delete(repo.edges, edge)
			}
		}
	}
	for _, edge := range mutation.EdgeAdds {
		repo.edges[edge] = struct{}{}
	}
	for _, edge := range mutation.EdgeDeletes {
		delete(repo.edges, edge)
	}
	for _, op := range mutation.PermissionAdds {
		if repo.perms[op.OwnerID] == nil {
			repo.perms[op.OwnerID] = make(map[string]entities.Permission)
		}
		repo.perms[op.OwnerID][op.Permission.Key()] = op.Permission
	}
	for _, op := range mutation.PermissionDeletes {
		delete(repo.perms[op.OwnerID], op.Permission.Key())
	}
	if repo.audits != nil && len(mutation.Audits) > 0 {
		if err := repo.audits.Save(ctx, mutation.Audits...); err != nil {
			return err
		}
	}

	repo.applied++
	return nil
}

func (repo *repositoryMock) LoadSnapshot(ctx context.Context) (entities.Snapshot, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	var snapshot entities.Snapshot
	for _, e := range repo.entities {
		snapshot.Entities = append(snapshot.Entities, e)
	}
	for edge := range repo.edges {
		snapshot.Edges = append(snapshot.Edges, edge)
	}
	for owner, perms := range repo.perms {
		for _, p := range perms {
			snapshot.Permissions = append(snapshot.Permissions, entities.OwnedPermission{OwnerID: owner, Permission: p})
		}
	}
	return snapshot, nil
}
