// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package mocks

import (
	"context"
	"sync"

	"github.com/acsio/acs/access"
	"github.com/acsio/acs/entities"
)

var _ access.Cache = (*cacheMock)(nil)

type cacheMock struct {
	mu       sync.Mutex
	entities map[uint64]entities.Entity
	perms    map[uint64][]entities.Permission
	hits     uint64
	misses   uint64
}

// NewCache returns an in-memory cache for test purposes.
func NewCache() *cacheMock {
	return &cacheMock{
		entities: make(map[uint64]entities.Entity),
		perms:    make(map[uint64][]entities.Permission),
	}
}

// Contains reports whether any key of the entity is still cached.
func (c *cacheMock) Contains(id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entities[id]; ok {
		return true
	}
	_, ok := c.perms[id]
	return ok
}

func (c *cacheMock) Entity(_ context.Context, id uint64) (entities.Entity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entities[id]
	if !ok {
		c.misses++
		return entities.Entity{}, entities.ErrNotFound
	}
	c.hits++
	return e, nil
}

func (c *cacheMock) SaveEntity(_ context.Context, entity entities.Entity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entities[entity.ID] = entity
	return nil
}

func (c *cacheMock) Permissions(_ context.Context, id uint64) ([]entities.Permission, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	perms, ok := c.perms[id]
	if !ok {
		c.misses++
		return nil, entities.ErrNotFound
	}
	c.hits++
	return perms, nil
}

func (c *cacheMock) SavePermissions(_ context.Context, id uint64, perms []entities.Permission) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.perms[id] = perms
	return nil
}

func (c *cacheMock) Remove(_ context.Context, ids ...uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.entities, id)
		delete(c.perms, id)
	}
	return nil
}

func (c *cacheMock) Clear(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entities = make(map[uint64]entities.Entity)
	c.perms = make(map[uint64][]entities.Permission)
	return nil
}

func (c *cacheMock) Stats() access.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := access.CacheStats{Hits: c.hits, Misses: c.misses}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}
