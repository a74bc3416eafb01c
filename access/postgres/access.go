// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/acsio/acs/access"
	auditpg "github.com/acsio/acs/audit/postgres"
	"github.com/acsio/acs/entities"
	"github.com/acsio/acs/pkg/errors"
	repoerr "github.com/acsio/acs/pkg/errors/repository"
	"github.com/acsio/acs/pkg/postgres"
)

type repository struct {
	db postgres.Database
}

func NewRepository(db postgres.Database) access.Repository {
	return &repository{db: db}
}

func (repo *repository) Apply(ctx context.Context, mutation access.Mutation) (err error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return postgres.HandleError(repoerr.ErrCreateEntity, err)
	}
	defer func() {
		if err != nil {
			if txErr := tx.Rollback(); txErr != nil {
				err = errors.Wrap(err, errors.Wrap(repoerr.ErrRollbackTx, txErr))
			}
		}
	}()

	for _, e := range mutation.EntityUpserts {
		dbe, err := toDBEntity(e)
		if err != nil {
			return errors.Wrap(repoerr.ErrCreateEntity, err)
		}
		q := `INSERT INTO entities (id, kind, name, metadata, created_at, updated_at)
			VALUES (:id, :kind, :name, :metadata, :created_at, :updated_at)
			ON CONFLICT (id) DO UPDATE SET name = :name, metadata = :metadata, updated_at = :updated_at;`
		if _, err := tx.NamedExecContext(ctx, q, dbe); err != nil {
			return postgres.HandleError(repoerr.ErrCreateEntity, err)
		}
	}

	for _, id := range mutation.EntityDeletes {
		// Edges and permissions go with the entity through the cascade.
		if _, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE id = $1;`, id); err != nil {
			return postgres.HandleError(repoerr.ErrRemoveEntity, err)
		}
	}

	for _, edge := range mutation.EdgeAdds {
		q := `INSERT INTO entity_edges (parent_id, child_id) VALUES ($1, $2);`
		if _, err := tx.ExecContext(ctx, q, edge.ParentID, edge.ChildID); err != nil {
			return postgres.HandleError(repoerr.ErrCreateEntity, err)
		}
	}

	for _, edge := range mutation.EdgeDeletes {
		q := `DELETE FROM entity_edges WHERE parent_id = $1 AND child_id = $2;`
		if _, err := tx.ExecContext(ctx, q, edge.ParentID, edge.ChildID); err != nil {
			return postgres.HandleError(repoerr.ErrRemoveEntity, err)
		}
	}

	for _, op := range mutation.PermissionAdds {
		dbp, err := toDBPermission(op)
		if err != nil {
			return errors.Wrap(repoerr.ErrCreateEntity, err)
		}
		q := `INSERT INTO permissions (owner_id, uri, verb, effect, scheme, expires_at, metadata)
			VALUES (:owner_id, :uri, :verb, :effect, :scheme, :expires_at, :metadata)
			ON CONFLICT (owner_id, uri, verb, effect, scheme) DO UPDATE SET expires_at = :expires_at, metadata = :metadata;`
		if _, err := tx.NamedExecContext(ctx, q, dbp); err != nil {
			return postgres.HandleError(repoerr.ErrCreateEntity, err)
		}
	}

	for _, op := range mutation.PermissionDeletes {
		q := `DELETE FROM permissions WHERE owner_id = $1 AND uri = $2 AND verb = $3 AND effect = $4 AND scheme = $5;`
		if _, err := tx.ExecContext(ctx, q, op.OwnerID, op.Permission.URI, op.Permission.Verb.String(), op.Permission.Effect.String(), op.Permission.Scheme); err != nil {
			return postgres.HandleError(repoerr.ErrRemoveEntity, err)
		}
	}

	if len(mutation.Audits) > 0 {
		if err := auditpg.SaveIn(ctx, tx, mutation.Audits...); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return postgres.HandleError(repoerr.ErrCreateEntity, err)
	}
	return nil
}

func (repo *repository) LoadSnapshot(ctx context.Context) (entities.Snapshot, error) {
	var snapshot entities.Snapshot

	rows, err := repo.db.QueryxContext(ctx, `SELECT id, kind, name, metadata, created_at, updated_at FROM entities ORDER BY id;`)
	if err != nil {
		return entities.Snapshot{}, postgres.HandleError(repoerr.ErrViewEntity, err)
	}
	defer rows.Close()
	for rows.Next() {
		var dbe dbEntity
		if err := rows.StructScan(&dbe); err != nil {
			return entities.Snapshot{}, postgres.HandleError(repoerr.ErrViewEntity, err)
		}
		e, err := toEntity(dbe)
		if err != nil {
			return entities.Snapshot{}, err
		}
		snapshot.Entities = append(snapshot.Entities, e)
	}
	if err := rows.Err(); err != nil {
		return entities.Snapshot{}, postgres.HandleError(repoerr.ErrViewEntity, err)
	}

	edgeRows, err := repo.db.QueryxContext(ctx, `SELECT parent_id, child_id FROM entity_edges ORDER BY parent_id, child_id;`)
	if err != nil {
		return entities.Snapshot{}, postgres.HandleError(repoerr.ErrViewEntity, err)
	}
	defer edgeRows.Close()
	for edgeRows.Next() {
		var dbe dbEdge
		if err := edgeRows.StructScan(&dbe); err != nil {
			return entities.Snapshot{}, postgres.HandleError(repoerr.ErrViewEntity, err)
		}
		snapshot.Edges = append(snapshot.Edges, entities.Edge{ParentID: dbe.ParentID, ChildID: dbe.ChildID})
	}
	if err := edgeRows.Err(); err != nil {
		return entities.Snapshot{}, postgres.HandleError(repoerr.ErrViewEntity, err)
	}

	permRows, err := repo.db.QueryxContext(ctx, `SELECT owner_id, uri, verb, effect, scheme, expires_at, metadata FROM permissions ORDER BY owner_id, uri;`)
	if err != nil {
		return entities.Snapshot{}, postgres.HandleError(repoerr.ErrViewEntity, err)
	}
	defer permRows.Close()
	for permRows.Next() {
		var dbp dbPermission
		if err := permRows.StructScan(&dbp); err != nil {
			return entities.Snapshot{}, postgres.HandleError(repoerr.ErrViewEntity, err)
		}
		op, err := toOwnedPermission(dbp)
		if err != nil {
			return entities.Snapshot{}, err
		}
		snapshot.Permissions = append(snapshot.Permissions, op)
	}
	if err := permRows.Err(); err != nil {
		return entities.Snapshot{}, postgres.HandleError(repoerr.ErrViewEntity, err)
	}

	return snapshot, nil
}

type dbEntity struct {
	ID        uint64       `db:"id"`
	Kind      string       `db:"kind"`
	Name      string       `db:"name"`
	Metadata  []byte       `db:"metadata"`
	CreatedAt time.Time    `db:"created_at"`
	UpdatedAt sql.NullTime `db:"updated_at"`
}

func toDBEntity(e entities.Entity) (dbEntity, error) {
	metadata := []byte("{}")
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return dbEntity{}, errors.Wrap(repoerr.ErrMalformedEntity, err)
		}
		metadata = b
	}
	return dbEntity{
		ID:        e.ID,
		Kind:      e.Kind.String(),
		Name:      e.Name,
		Metadata:  metadata,
		CreatedAt: e.CreatedAt.UTC(),
		UpdatedAt: sql.NullTime{Time: e.UpdatedAt.UTC(), Valid: !e.UpdatedAt.IsZero()},
	}, nil
}

func toEntity(dbe dbEntity) (entities.Entity, error) {
	kind, err := entities.ToKind(dbe.Kind)
	if err != nil {
		return entities.Entity{}, errors.Wrap(repoerr.ErrMalformedEntity, err)
	}
	var metadata entities.Metadata
	if dbe.Metadata != nil {
		if err := json.Unmarshal(dbe.Metadata, &metadata); err != nil {
			return entities.Entity{}, errors.Wrap(repoerr.ErrMalformedEntity, err)
		}
	}
	if len(metadata) == 0 {
		metadata = nil
	}
	e := entities.Entity{
		ID:        dbe.ID,
		Kind:      kind,
		Name:      dbe.Name,
		Metadata:  metadata,
		CreatedAt: dbe.CreatedAt.UTC(),
	}
	if dbe.UpdatedAt.Valid {
		e.UpdatedAt = dbe.UpdatedAt.Time.UTC()
	}
	return e, nil
}

type dbEdge struct {
	ParentID uint64 `db:"parent_id"`
	ChildID  uint64 `db:"child_id"`
}

type dbPermission struct {
	OwnerID   uint64       `db:"owner_id"`
	URI       string       `db:"uri"`
	Verb      string       `db:"verb"`
	Effect    string       `db:"effect"`
	Scheme    string       `db:"scheme"`
	ExpiresAt sql.NullTime `db:"expires_at"`
	Metadata  []byte       `db:"metadata"`
}

func toDBPermission(op entities.OwnedPermission) (dbPermission, error) {
	p := op.Permission
	metadata := []byte("{}")
	if len(p.Metadata) > 0 {
		b, err := json.Marshal(p.Metadata)
		if err != nil {
			return dbPermission{}, errors.Wrap(repoerr.ErrMalformedEntity, err)
		}
		metadata = b
	}
	dbp := dbPermission{
		OwnerID:  op.OwnerID,
		URI:      p.URI,
		Verb:     p.Verb.String(),
		Effect:   p.Effect.String(),
		Scheme:   p.Scheme,
		Metadata: metadata,
	}
	if p.ExpiresAt != nil {
		dbp.ExpiresAt = sql.NullTime{Time: p.ExpiresAt.UTC(), Valid: true}
	}
	return dbp, nil
}

func toOwnedPermission(dbp dbPermission) (entities.OwnedPermission, error) {
	verb, err := entities.ToVerb(dbp.Verb)
	if err != nil {
		return entities.OwnedPermission{}, errors.Wrap(repoerr.ErrMalformedEntity, err)
	}
	effect, err := entities.ToEffect(dbp.Effect)
	if err != nil {
		return entities.OwnedPermission{}, errors.Wrap(repoerr.ErrMalformedEntity, err)
	}
	var metadata entities.Metadata
	if dbp.Metadata != nil {
		if err := json.Unmarshal(dbp.Metadata, &metadata); err != nil {
			return entities.OwnedPermission{}, errors.Wrap(repoerr.ErrMalformedEntity, err)
		}
	}
	if len(metadata) == 0 {
		metadata = nil
	}
	p := entities.Permission{
		URI:      dbp.URI,
		Verb:     verb,
		Effect:   effect,
		Scheme:   dbp.Scheme,
		Metadata: metadata,
	}
	if dbp.ExpiresAt.Valid {
		t := dbp.ExpiresAt.Time.UTC()
		p.ExpiresAt = &t
	}
	return entities.OwnedPermission{OwnerID: dbp.OwnerID, Permission: p}, nil
}
