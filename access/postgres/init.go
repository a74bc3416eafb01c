// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package postgres persists tenant state: the entity graph tables and the
// atomic application of staged mutations together with their audit rows.
package postgres

import migrate "github.com/rubenv/sql-migrate"

// Migration of the tenant graph tables.
func Migration() *migrate.MemoryMigrationSource {
	return &migrate.MemoryMigrationSource{
		Migrations: []*migrate.Migration{
			{
				Id: "access_1",
				Up: []string{
					`CREATE TABLE IF NOT EXISTS entities (
						id         BIGINT PRIMARY KEY,
						kind       VARCHAR(10) NOT NULL,
						name       VARCHAR(1024) NOT NULL,
						metadata   JSONB,
						created_at TIMESTAMPTZ NOT NULL,
						updated_at TIMESTAMPTZ
					)`,
					`CREATE TABLE IF NOT EXISTS entity_edges (
						parent_id  BIGINT NOT NULL REFERENCES entities (id) ON DELETE CASCADE,
						child_id   BIGINT NOT NULL REFERENCES entities (id) ON DELETE CASCADE,
						created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
						PRIMARY KEY (parent_id, child_id)
					)`,
					`CREATE INDEX IF NOT EXISTS idx_entity_edges_child ON entity_edges(child_id)`,
					`CREATE TABLE IF NOT EXISTS permissions (
						owner_id   BIGINT NOT NULL REFERENCES entities (id) ON DELETE CASCADE,
						uri        VARCHAR(2048) NOT NULL,
						verb       VARCHAR(10) NOT NULL,
						effect     VARCHAR(10) NOT NULL,
						scheme     VARCHAR(254) NOT NULL,
						expires_at TIMESTAMPTZ,
						metadata   JSONB,
						PRIMARY KEY (owner_id, uri, verb, effect, scheme)
					)`,
					`CREATE INDEX IF NOT EXISTS idx_permissions_uri ON permissions(uri)`,
				},
				Down: []string{
					`DROP TABLE IF EXISTS permissions`,
					`DROP TABLE IF EXISTS entity_edges`,
					`DROP TABLE IF EXISTS entities`,
				},
			},
		},
	}
}
