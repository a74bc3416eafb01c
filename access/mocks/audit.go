// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/acsio/acs/audit"
)

var _ audit.Repository = (*auditRepositoryMock)(nil)

type auditRepositoryMock struct {
	mu      sync.Mutex
	records []audit.Record
}

// NewAuditRepository returns an in-memory audit repository for test
// purposes. Records are chained the same way the postgres repository chains
// them.
func NewAuditRepository() *auditRepositoryMock {
	return &auditRepositoryMock{}
}

// Records returns a copy of the stored records in insertion order.
func (repo *auditRepositoryMock) Records() []audit.Record {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	out := make([]audit.Record, len(repo.records))
	copy(out, repo.records)
	return out
}

func (repo *auditRepositoryMock) Save(_ context.Context, records ...audit.Record) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	return repo.saveLocked(records...)
}

func (repo *auditRepositoryMock) saveLocked(records ...audit.Record) error {
	prev := ""
	if len(repo.records) > 0 {
		prev = repo.records[len(repo.records)-1].Hash
	}
	for i := range records {
		var err error
		if records[i], err = records[i].Normalize(); err != nil {
			return err
		}
	}
	if _, err := audit.Chain(records, prev); err != nil {
		return err
	}
	repo.records = append(repo.records, records...)
	return nil
}

func (repo *auditRepositoryMock) RetrieveAll(_ context.Context, page audit.Page) (audit.RecordsPage, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	var matched []audit.Record
	for _, r := range repo.records {
		if matches(r, page) {
			matched = append(matched, r)
		}
	}

	result := audit.RecordsPage{Total: uint64(len(matched)), Offset: page.Offset, Limit: page.Limit}
	if page.Offset >= uint64(len(matched)) {
		return result, nil
	}
	matched = matched[page.Offset:]
	if page.Limit > 0 && page.Limit < uint64(len(matched)) {
		matched = matched[:page.Limit]
	}
	result.Records = matched
	return result, nil
}

func matches(r audit.Record, page audit.Page) bool {
	if page.EntityType != "" && r.EntityType != page.EntityType {
		return false
	}
	if page.EntityID != 0 && r.EntityID != page.EntityID {
		return false
	}
	if page.ChangeType != "" && r.ChangeType.String() != page.ChangeType {
		return false
	}
	if page.ChangedBy != "" && r.ChangedBy != page.ChangedBy {
		return false
	}
	if page.CorrelationID != "" && r.CorrelationID != page.CorrelationID {
		return false
	}
	if !page.From.IsZero() && r.ChangeDate.Before(page.From) {
		return false
	}
	if !page.To.IsZero() && r.ChangeDate.After(page.To) {
		return false
	}
	return true
}

func (repo *auditRepositoryMock) Purge(_ context.Context, olderThan time.Time, exceptTypes []audit.ChangeType) (int64, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	excepted := make(map[audit.ChangeType]struct{}, len(exceptTypes))
	for _, ct := range exceptTypes {
		excepted[ct] = struct{}{}
	}

	var kept []audit.Record
	var purged int64
	for _, r := range repo.records {
		if _, keep := excepted[r.ChangeType]; r.ChangeDate.Before(olderThan) && !keep {
			purged++
			continue
		}
		kept = append(kept, r)
	}

	// The surviving records are re-chained from scratch, like the postgres
	// repository does after compaction.
	repo.records = nil
	if err := repo.saveLocked(kept...); err != nil {
		return 0, err
	}
	return purged, nil
}

func (repo *auditRepositoryMock) ValidateIntegrity(_ context.Context, from, to time.Time) (audit.IntegrityReport, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	prev := ""
	var window []audit.Record
	for _, r := range repo.records {
		inWindow := (from.IsZero() || !r.ChangeDate.Before(from)) && (to.IsZero() || !r.ChangeDate.After(to))
		if !inWindow {
			if len(window) == 0 {
				prev = r.Hash
			}
			continue
		}
		window = append(window, r)
	}
	return audit.Verify(window, prev), nil
}
