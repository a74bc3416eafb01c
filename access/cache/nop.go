// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"sync/atomic"

	"github.com/acsio/acs/access"
	"github.com/acsio/acs/entities"
)

var _ access.Cache = (*nopCache)(nil)

// nopCache misses every read and drops every write. Workers fall back to it
// when no redis URL is configured, so the service code never has to check
// for a nil cache.
type nopCache struct {
	misses uint64
}

// NewNop returns a cache that never stores anything.
func NewNop() access.Cache {
	return &nopCache{}
}

func (c *nopCache) Entity(context.Context, uint64) (entities.Entity, error) {
	atomic.AddUint64(&c.misses, 1)
	return entities.Entity{}, entities.ErrNotFound
}

func (c *nopCache) SaveEntity(context.Context, entities.Entity) error {
	return nil
}

func (c *nopCache) Permissions(context.Context, uint64) ([]entities.Permission, error) {
	atomic.AddUint64(&c.misses, 1)
	return nil, entities.ErrNotFound
}

func (c *nopCache) SavePermissions(context.Context, uint64, []entities.Permission) error {
	return nil
}

func (c *nopCache) Remove(context.Context, ...uint64) error {
	return nil
}

func (c *nopCache) Clear(context.Context) error {
	return nil
}

func (c *nopCache) Stats() access.CacheStats {
	return access.CacheStats{Misses: atomic.LoadUint64(&c.misses)}
}
