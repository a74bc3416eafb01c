// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package cache provides the Redis read-through cache for entities and
// effective permission sets. Values are stored as JSON under per-tenant key
// prefixes so that several tenants can safely share one Redis instance.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/acsio/acs/access"
	"github.com/acsio/acs/entities"
	"github.com/acsio/acs/pkg/errors"
	repoerr "github.com/acsio/acs/pkg/errors/repository"
)

const (
	entityPrefix = "entity"
	permsPrefix  = "perms"

	defEntityTTL   = 5 * time.Minute
	maxEntityTTL   = 30 * time.Minute
	defPermsTTL    = 2 * time.Minute
	maxPermsTTL    = 10 * time.Minute
	jitterFraction = 0.1
)

var _ access.Cache = (*tenantCache)(nil)

type tenantCache struct {
	client    *redis.Client
	tenant    string
	entityTTL time.Duration
	permsTTL  time.Duration

	hits   uint64
	misses uint64
	mu     sync.Mutex
	byType map[string]uint64
}

// NewCache returns a Redis-backed cache scoped to the given tenant. TTLs are
// clamped to sane upper bounds so a misconfigured duration cannot pin stale
// authorization data for hours.
func NewCache(client *redis.Client, tenant string, entityTTL, permsTTL time.Duration) access.Cache {
	if entityTTL <= 0 || entityTTL > maxEntityTTL {
		entityTTL = defEntityTTL
	}
	if permsTTL <= 0 || permsTTL > maxPermsTTL {
		permsTTL = defPermsTTL
	}
	return &tenantCache{
		client:    client,
		tenant:    tenant,
		entityTTL: entityTTL,
		permsTTL:  permsTTL,
		byType:    map[string]uint64{},
	}
}

func (tc *tenantCache) key(prefix string, id uint64) string {
	return fmt.Sprintf("acs:%s:%s:%d", tc.tenant, prefix, id)
}

// jittered spreads expirations so a burst of writes does not expire as one.
func jittered(d time.Duration) time.Duration {
	span := int64(float64(d) * jitterFraction)
	if span <= 0 {
		return d
	}
	return d + time.Duration(rand.Int63n(2*span)-span)
}

func (tc *tenantCache) Entity(ctx context.Context, id uint64) (entities.Entity, error) {
	res, err := tc.client.Get(ctx, tc.key(entityPrefix, id)).Result()
	if err != nil {
		tc.miss(entityPrefix)
		if err == redis.Nil {
			return entities.Entity{}, repoerr.ErrNotFound
		}
		return entities.Entity{}, errors.Wrap(repoerr.ErrNotFound, err)
	}
	var e entities.Entity
	if err := json.Unmarshal([]byte(res), &e); err != nil {
		tc.miss(entityPrefix)
		return entities.Entity{}, errors.Wrap(repoerr.ErrMalformedEntity, err)
	}
	tc.hit(entityPrefix)
	return e, nil
}

func (tc *tenantCache) SaveEntity(ctx context.Context, entity entities.Entity) error {
	if entity.ID == 0 {
		return errors.Wrap(repoerr.ErrCreateEntity, errors.New("entity id is empty"))
	}
	b, err := json.Marshal(entity)
	if err != nil {
		return errors.Wrap(repoerr.ErrCreateEntity, err)
	}
	if err := tc.client.Set(ctx, tc.key(entityPrefix, entity.ID), b, jittered(tc.entityTTL)).Err(); err != nil {
		return errors.Wrap(repoerr.ErrCreateEntity, err)
	}
	return nil
}

func (tc *tenantCache) Permissions(ctx context.Context, id uint64) ([]entities.Permission, error) {
	res, err := tc.client.Get(ctx, tc.key(permsPrefix, id)).Result()
	if err != nil {
		tc.miss(permsPrefix)
		if err == redis.Nil {
			return nil, repoerr.ErrNotFound
		}
		return nil, errors.Wrap(repoerr.ErrNotFound, err)
	}
	var perms []entities.Permission
	if err := json.Unmarshal([]byte(res), &perms); err != nil {
		tc.miss(permsPrefix)
		return nil, errors.Wrap(repoerr.ErrMalformedEntity, err)
	}
	tc.hit(permsPrefix)
	return perms, nil
}

func (tc *tenantCache) SavePermissions(ctx context.Context, id uint64, perms []entities.Permission) error {
	b, err := json.Marshal(perms)
	if err != nil {
		return errors.Wrap(repoerr.ErrCreateEntity, err)
	}
	if err := tc.client.Set(ctx, tc.key(permsPrefix, id), b, jittered(tc.permsTTL)).Err(); err != nil {
		return errors.Wrap(repoerr.ErrCreateEntity, err)
	}
	return nil
}

func (tc *tenantCache) Remove(ctx context.Context, ids ...uint64) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, 0, 2*len(ids))
	for _, id := range ids {
		keys = append(keys, tc.key(entityPrefix, id), tc.key(permsPrefix, id))
	}
	if err := tc.client.Del(ctx, keys...).Err(); err != nil {
		return errors.Wrap(repoerr.ErrRemoveEntity, err)
	}
	return nil
}

func (tc *tenantCache) Clear(ctx context.Context) error {
	pattern := fmt.Sprintf("acs:%s:*", tc.tenant)
	iter := tc.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := tc.client.Del(ctx, iter.Val()).Err(); err != nil {
			return errors.Wrap(repoerr.ErrRemoveEntity, err)
		}
	}
	if err := iter.Err(); err != nil {
		return errors.Wrap(repoerr.ErrRemoveEntity, err)
	}
	return nil
}

func (tc *tenantCache) Stats() access.CacheStats {
	hits := atomic.LoadUint64(&tc.hits)
	misses := atomic.LoadUint64(&tc.misses)
	stats := access.CacheStats{
		Hits:   hits,
		Misses: misses,
		ByType: map[string]uint64{},
	}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	tc.mu.Lock()
	for k, v := range tc.byType {
		stats.ByType[k] = v
	}
	tc.mu.Unlock()
	return stats
}

func (tc *tenantCache) hit(prefix string) {
	atomic.AddUint64(&tc.hits, 1)
	tc.mu.Lock()
	tc.byType[prefix+"_hits"]++
	tc.mu.Unlock()
}

func (tc *tenantCache) miss(prefix string) {
	atomic.AddUint64(&tc.misses, 1)
	tc.mu.Lock()
	tc.byType[prefix+"_misses"]++
	tc.mu.Unlock()
}

// Warmup seeds the cache with every entity currently loaded in the graph,
// typically right after a snapshot load so the first wave of reads does not
// stampede the database.
func Warmup(ctx context.Context, c access.Cache, g *entities.Graph) error {
	for _, list := range [][]entities.Entity{g.Users(), g.Groups(), g.Roles()} {
		for _, e := range list {
			if err := c.SaveEntity(ctx, e); err != nil {
				return err
			}
		}
	}
	return nil
}
