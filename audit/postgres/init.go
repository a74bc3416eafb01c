// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package postgres

import migrate "github.com/rubenv/sql-migrate"

// Migration of the audit log table.
func Migration() *migrate.MemoryMigrationSource {
	return &migrate.MemoryMigrationSource{
		Migrations: []*migrate.Migration{
			{
				Id: "audit_1",
				Up: []string{
					`CREATE TABLE IF NOT EXISTS audit_log (
						id             VARCHAR(26) PRIMARY KEY,
						entity_type    VARCHAR(36) NOT NULL,
						entity_id      BIGINT NOT NULL,
						change_type    VARCHAR(36) NOT NULL,
						changed_by     VARCHAR(254) NOT NULL,
						change_date    TIMESTAMPTZ NOT NULL,
						details        JSONB,
						correlation_id VARCHAR(254),
						hash           VARCHAR(64) NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS idx_audit_log_change_date ON audit_log(change_date)`,
					`CREATE INDEX IF NOT EXISTS idx_audit_log_entity ON audit_log(entity_type, entity_id)`,
					`CREATE INDEX IF NOT EXISTS idx_audit_log_correlation ON audit_log(correlation_id)`,
				},
				Down: []string{
					`DROP TABLE IF EXISTS audit_log`,
				},
			},
		},
	}
}
