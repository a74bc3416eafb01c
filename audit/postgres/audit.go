// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/acsio/acs/audit"
	"github.com/acsio/acs/pkg/errors"
	repoerr "github.com/acsio/acs/pkg/errors/repository"
	"github.com/acsio/acs/pkg/postgres"
	"github.com/jmoiron/sqlx"
)

// Execer is the slice of the database surface needed to append chained
// records. Both the traced database and an open sqlx transaction satisfy it,
// so mutations can write their audit rows inside their own transaction.
type Execer interface {
	NamedExecContext(ctx context.Context, query string, args interface{}) (sql.Result, error)
	QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row
}

type repository struct {
	db postgres.Database
}

func NewRepository(db postgres.Database) audit.Repository {
	return &repository{db: db}
}

func (repo *repository) Save(ctx context.Context, records ...audit.Record) error {
	return SaveIn(ctx, repo.db, records...)
}

// SaveIn chains the records onto the stored tail hash and inserts them using
// the given executor. The caller serializes writers: with a single buffer
// consumer per tenant the tail read and the inserts never race.
func SaveIn(ctx context.Context, db Execer, records ...audit.Record) error {
	if len(records) == 0 {
		return nil
	}

	tail, err := tailHash(ctx, db)
	if err != nil {
		return errors.Wrap(repoerr.ErrCreateEntity, err)
	}
	for i := range records {
		if records[i], err = records[i].Normalize(); err != nil {
			return errors.Wrap(repoerr.ErrMalformedEntity, err)
		}
	}
	if _, err := audit.Chain(records, tail); err != nil {
		return errors.Wrap(repoerr.ErrCreateEntity, err)
	}

	q := `INSERT INTO audit_log (id, entity_type, entity_id, change_type, changed_by, change_date, details, correlation_id, hash)
		VALUES (:id, :entity_type, :entity_id, :change_type, :changed_by, :change_date, :details, :correlation_id, :hash);`

	for _, r := range records {
		dbr, err := toDBRecord(r)
		if err != nil {
			return errors.Wrap(repoerr.ErrCreateEntity, err)
		}
		if _, err := db.NamedExecContext(ctx, q, dbr); err != nil {
			return postgres.HandleError(repoerr.ErrCreateEntity, err)
		}
	}

	return nil
}

func tailHash(ctx context.Context, db Execer) (string, error) {
	var hash string
	err := db.QueryRowxContext(ctx, `SELECT hash FROM audit_log ORDER BY id DESC LIMIT 1;`).Scan(&hash)
	switch err {
	case nil:
		return hash, nil
	case sql.ErrNoRows:
		return "", nil
	default:
		return "", err
	}
}

func (repo *repository) RetrieveAll(ctx context.Context, page audit.Page) (audit.RecordsPage, error) {
	query := pageQuery(page)

	// Direction never reaches the statement verbatim: anything that is not
	// a known keyword collapses to DESC.
	dir := "DESC"
	switch strings.ToLower(page.Direction) {
	case "", "asc":
		dir = "ASC"
	}
	q := fmt.Sprintf(`SELECT id, entity_type, entity_id, change_type, changed_by, change_date, details, correlation_id, hash
		FROM audit_log %s ORDER BY id %s LIMIT :limit OFFSET :offset;`, query, dir)

	rows, err := repo.db.NamedQueryContext(ctx, q, page)
	if err != nil {
		return audit.RecordsPage{}, postgres.HandleError(repoerr.ErrViewEntity, err)
	}
	defer rows.Close()

	var items []audit.Record
	for rows.Next() {
		var item dbRecord
		if err = rows.StructScan(&item); err != nil {
			return audit.RecordsPage{}, postgres.HandleError(repoerr.ErrViewEntity, err)
		}
		r, err := toRecord(item)
		if err != nil {
			return audit.RecordsPage{}, err
		}
		items = append(items, r)
	}

	tq := fmt.Sprintf(`SELECT COUNT(*) FROM audit_log %s;`, query)

	total, err := postgres.Total(ctx, repo.db, tq, page)
	if err != nil {
		return audit.RecordsPage{}, postgres.HandleError(repoerr.ErrViewEntity, err)
	}

	recordsPage := audit.RecordsPage{
		Total:   total,
		Offset:  page.Offset,
		Limit:   page.Limit,
		Records: items,
	}

	return recordsPage, nil
}

// Purge compacts the log and re-seals the chain: interior deletions would
// orphan the hashes of surviving records, so the whole remainder is
// re-chained from scratch inside the same transaction.
func (repo *repository) Purge(ctx context.Context, olderThan time.Time, exceptTypes []audit.ChangeType) (int64, error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, postgres.HandleError(repoerr.ErrRemoveEntity, err)
	}
	defer func() {
		if err != nil {
			if txErr := tx.Rollback(); txErr != nil {
				err = errors.Wrap(err, errors.Wrap(repoerr.ErrRollbackTx, txErr))
			}
		}
	}()

	q := `DELETE FROM audit_log WHERE change_date < $1`
	if len(exceptTypes) > 0 {
		keep := make([]string, 0, len(exceptTypes))
		for _, ct := range exceptTypes {
			keep = append(keep, fmt.Sprintf("'%s'", ct.String()))
		}
		q += fmt.Sprintf(" AND change_type NOT IN (%s)", strings.Join(keep, ", "))
	}

	res, err := tx.ExecContext(ctx, q+";", olderThan)
	if err != nil {
		return 0, postgres.HandleError(repoerr.ErrRemoveEntity, err)
	}
	purged, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(repoerr.ErrRemoveEntity, err)
	}

	if purged > 0 {
		if err = rechain(ctx, tx); err != nil {
			return 0, errors.Wrap(repoerr.ErrUpdateEntity, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, postgres.HandleError(repoerr.ErrRemoveEntity, err)
	}
	return purged, nil
}

func rechain(ctx context.Context, tx *sqlx.Tx) error {
	rows, err := tx.QueryxContext(ctx, `SELECT id, entity_type, entity_id, change_type, changed_by, change_date, details, correlation_id, hash
		FROM audit_log ORDER BY id ASC;`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var records []audit.Record
	for rows.Next() {
		var item dbRecord
		if err := rows.StructScan(&item); err != nil {
			return err
		}
		r, err := toRecord(item)
		if err != nil {
			return err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if _, err := audit.Chain(records, ""); err != nil {
		return err
	}
	for _, r := range records {
		if _, err := tx.ExecContext(ctx, `UPDATE audit_log SET hash = $1 WHERE id = $2;`, r.Hash, r.ID); err != nil {
			return err
		}
	}
	return nil
}

func (repo *repository) ValidateIntegrity(ctx context.Context, from, to time.Time) (audit.IntegrityReport, error) {
	page := audit.Page{From: from, To: to}
	query := pageQuery(page)
	q := fmt.Sprintf(`SELECT id, entity_type, entity_id, change_type, changed_by, change_date, details, correlation_id, hash
		FROM audit_log %s ORDER BY id ASC;`, query)

	rows, err := repo.db.NamedQueryContext(ctx, q, page)
	if err != nil {
		return audit.IntegrityReport{}, postgres.HandleError(repoerr.ErrViewEntity, err)
	}
	defer rows.Close()

	var records []audit.Record
	for rows.Next() {
		var item dbRecord
		if err = rows.StructScan(&item); err != nil {
			return audit.IntegrityReport{}, postgres.HandleError(repoerr.ErrViewEntity, err)
		}
		r, err := toRecord(item)
		if err != nil {
			return audit.IntegrityReport{}, err
		}
		records = append(records, r)
	}

	prev := ""
	if len(records) > 0 {
		prev, err = repo.predecessorHash(ctx, records[0].ID)
		if err != nil {
			return audit.IntegrityReport{}, postgres.HandleError(repoerr.ErrViewEntity, err)
		}
	}

	return audit.Verify(records, prev), nil
}

// predecessorHash returns the hash of the record immediately before the
// given one, seeding chain verification of an interior window.
func (repo *repository) predecessorHash(ctx context.Context, id string) (string, error) {
	var hash string
	err := repo.db.QueryRowxContext(ctx, `SELECT hash FROM audit_log WHERE id < $1 ORDER BY id DESC LIMIT 1;`, id).Scan(&hash)
	switch err {
	case nil:
		return hash, nil
	case sql.ErrNoRows:
		return "", nil
	default:
		return "", err
	}
}

func pageQuery(pm audit.Page) string {
	var query []string
	var emq string
	if pm.EntityType != "" {
		query = append(query, "entity_type = :entity_type")
	}
	if pm.EntityID != 0 {
		query = append(query, "entity_id = :entity_id")
	}
	if pm.ChangeType != "" {
		query = append(query, "change_type = :change_type")
	}
	if pm.ChangedBy != "" {
		query = append(query, "changed_by = :changed_by")
	}
	if pm.CorrelationID != "" {
		query = append(query, "correlation_id = :correlation_id")
	}
	if !pm.From.IsZero() {
		query = append(query, "change_date >= :from")
	}
	if !pm.To.IsZero() {
		query = append(query, "change_date <= :to")
	}

	if len(query) > 0 {
		emq = fmt.Sprintf("WHERE %s", strings.Join(query, " AND "))
	}

	return emq
}

type dbRecord struct {
	ID            string         `db:"id"`
	EntityType    string         `db:"entity_type"`
	EntityID      uint64         `db:"entity_id"`
	ChangeType    string         `db:"change_type"`
	ChangedBy     string         `db:"changed_by"`
	ChangeDate    time.Time      `db:"change_date"`
	Details       []byte         `db:"details"`
	CorrelationID sql.NullString `db:"correlation_id"`
	Hash          string         `db:"hash"`
}

func toDBRecord(r audit.Record) (dbRecord, error) {
	details := []byte("{}")
	if len(r.Details) > 0 {
		b, err := json.Marshal(r.Details)
		if err != nil {
			return dbRecord{}, errors.Wrap(repoerr.ErrMalformedEntity, err)
		}
		details = b
	}

	return dbRecord{
		ID:            r.ID,
		EntityType:    r.EntityType,
		EntityID:      r.EntityID,
		ChangeType:    r.ChangeType.String(),
		ChangedBy:     r.ChangedBy,
		ChangeDate:    r.ChangeDate.UTC(),
		Details:       details,
		CorrelationID: sql.NullString{String: r.CorrelationID, Valid: r.CorrelationID != ""},
		Hash:          r.Hash,
	}, nil
}

func toRecord(dbr dbRecord) (audit.Record, error) {
	ct, err := audit.ToChangeType(dbr.ChangeType)
	if err != nil {
		return audit.Record{}, errors.Wrap(repoerr.ErrMalformedEntity, err)
	}

	var details map[string]interface{}
	if dbr.Details != nil {
		if err := json.Unmarshal(dbr.Details, &details); err != nil {
			return audit.Record{}, errors.Wrap(repoerr.ErrMalformedEntity, err)
		}
	}
	if len(details) == 0 {
		details = nil
	}

	return audit.Record{
		ID:            dbr.ID,
		EntityType:    dbr.EntityType,
		EntityID:      dbr.EntityID,
		ChangeType:    ct,
		ChangedBy:     dbr.ChangedBy,
		ChangeDate:    dbr.ChangeDate.UTC(),
		Details:       details,
		CorrelationID: dbr.CorrelationID.String,
		Hash:          dbr.Hash,
	}, nil
}
