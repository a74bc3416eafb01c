// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package postgres_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acsio/acs/audit"
	auditpg "github.com/acsio/acs/audit/postgres"
	"github.com/acsio/acs/pkg/ulid"
)

var idProvider = ulid.New()

func cleanup(t *testing.T) {
	_, err := db.Exec("TRUNCATE audit_log")
	require.Nil(t, err, fmt.Sprintf("cleanup expected to succeed: %s", err))
}

func saveRecords(t *testing.T, repo audit.Repository, n int, changeType audit.ChangeType, age time.Duration) []audit.Record {
	records := make([]audit.Record, 0, n)
	for i := 0; i < n; i++ {
		id, err := idProvider.ID()
		require.Nil(t, err, fmt.Sprintf("id generation expected to succeed: %s", err))
		records = append(records, audit.Record{
			ID:            id,
			EntityType:    "user",
			EntityID:      uint64(i + 1),
			ChangeType:    changeType,
			ChangedBy:     "tester",
			ChangeDate:    time.Now().UTC().Add(-age),
			CorrelationID: fmt.Sprintf("corr-%d", i),
			Details:       map[string]interface{}{"seq": float64(i)},
		})
	}
	err := repo.Save(context.Background(), records...)
	require.Nil(t, err, fmt.Sprintf("save expected to succeed: %s", err))
	return records
}

func TestSaveChainsHashes(t *testing.T) {
	cleanup(t)
	repo := auditpg.NewRepository(database)

	saveRecords(t, repo, 3, audit.Create, 0)

	page, err := repo.RetrieveAll(context.Background(), audit.Page{Limit: 10})
	require.Nil(t, err, fmt.Sprintf("retrieve expected to succeed: %s", err))
	require.Len(t, page.Records, 3)

	prev := ""
	for _, r := range page.Records {
		expected, err := r.ChainHash(prev)
		require.Nil(t, err)
		assert.Equal(t, expected, r.Hash)
		prev = r.Hash
	}
}

func TestSaveAppendsToExistingChain(t *testing.T) {
	cleanup(t)
	repo := auditpg.NewRepository(database)

	first := saveRecords(t, repo, 2, audit.Create, 0)
	saveRecords(t, repo, 2, audit.Update, 0)

	report, err := repo.ValidateIntegrity(context.Background(), time.Time{}, time.Time{})
	require.Nil(t, err, fmt.Sprintf("validate expected to succeed: %s", err))
	assert.True(t, report.Valid)
	assert.Equal(t, uint64(4), report.TotalChecked)
	assert.Empty(t, report.Issues)
	_ = first
}

func TestRetrieveAllFilters(t *testing.T) {
	cleanup(t)
	repo := auditpg.NewRepository(database)

	saveRecords(t, repo, 5, audit.Create, 0)
	saveRecords(t, repo, 3, audit.GrantPermission, 0)

	cases := []struct {
		desc  string
		page  audit.Page
		total uint64
		count int
	}{
		{
			desc:  "all records",
			page:  audit.Page{Limit: 20},
			total: 8,
			count: 8,
		},
		{
			desc:  "filter by change type",
			page:  audit.Page{Limit: 20, ChangeType: audit.GrantPermission.String()},
			total: 3,
			count: 3,
		},
		{
			desc:  "filter by entity",
			page:  audit.Page{Limit: 20, EntityType: "user", EntityID: 1},
			total: 2,
			count: 2,
		},
		{
			desc:  "filter by correlation",
			page:  audit.Page{Limit: 20, CorrelationID: "corr-0"},
			total: 2,
			count: 2,
		},
		{
			desc:  "filter by actor",
			page:  audit.Page{Limit: 20, ChangedBy: "nobody"},
			total: 0,
			count: 0,
		},
		{
			desc:  "second page",
			page:  audit.Page{Offset: 5, Limit: 20},
			total: 8,
			count: 3,
		},
		{
			desc:  "limit clamps the page",
			page:  audit.Page{Limit: 2},
			total: 8,
			count: 2,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			page, err := repo.RetrieveAll(context.Background(), tc.page)
			require.Nil(t, err, fmt.Sprintf("retrieve expected to succeed: %s", err))
			assert.Equal(t, tc.total, page.Total)
			assert.Len(t, page.Records, tc.count)
		})
	}
}

func TestRetrieveAllTimeRange(t *testing.T) {
	cleanup(t)
	repo := auditpg.NewRepository(database)

	saveRecords(t, repo, 2, audit.Create, 48*time.Hour)
	saveRecords(t, repo, 3, audit.Update, 0)

	page, err := repo.RetrieveAll(context.Background(), audit.Page{
		Limit: 20,
		From:  time.Now().UTC().Add(-time.Hour),
	})
	require.Nil(t, err, fmt.Sprintf("retrieve expected to succeed: %s", err))
	assert.Equal(t, uint64(3), page.Total)

	page, err = repo.RetrieveAll(context.Background(), audit.Page{
		Limit: 20,
		To:    time.Now().UTC().Add(-time.Hour),
	})
	require.Nil(t, err, fmt.Sprintf("retrieve expected to succeed: %s", err))
	assert.Equal(t, uint64(2), page.Total)
}

func TestRetrieveAllDescending(t *testing.T) {
	cleanup(t)
	repo := auditpg.NewRepository(database)

	records := saveRecords(t, repo, 3, audit.Create, 0)

	page, err := repo.RetrieveAll(context.Background(), audit.Page{Limit: 10, Direction: "DESC"})
	require.Nil(t, err, fmt.Sprintf("retrieve expected to succeed: %s", err))
	require.Len(t, page.Records, 3)
	assert.Equal(t, records[2].ID, page.Records[0].ID)
	assert.Equal(t, records[0].ID, page.Records[2].ID)
}

func TestRetrieveAllDirectionNeverInterpolated(t *testing.T) {
	cleanup(t)
	repo := auditpg.NewRepository(database)

	records := saveRecords(t, repo, 2, audit.Create, 0)

	// A direction that is not a known keyword must not reach the statement.
	page, err := repo.RetrieveAll(context.Background(), audit.Page{Limit: 10, Direction: "asc; DROP TABLE audit_log; --"})
	require.Nil(t, err, fmt.Sprintf("retrieve expected to succeed: %s", err))
	require.Len(t, page.Records, 2)
	assert.Equal(t, records[1].ID, page.Records[0].ID)

	page, err = repo.RetrieveAll(context.Background(), audit.Page{Limit: 10})
	require.Nil(t, err, fmt.Sprintf("retrieve expected to succeed: %s", err))
	require.Len(t, page.Records, 2, "the table must survive the hostile direction")
	assert.Equal(t, records[0].ID, page.Records[0].ID)
}

func TestPurgeRechains(t *testing.T) {
	cleanup(t)
	repo := auditpg.NewRepository(database)

	saveRecords(t, repo, 3, audit.Create, 48*time.Hour)
	saveRecords(t, repo, 2, audit.Update, 0)

	purged, err := repo.Purge(context.Background(), time.Now().UTC().Add(-time.Hour), nil)
	require.Nil(t, err, fmt.Sprintf("purge expected to succeed: %s", err))
	assert.Equal(t, int64(3), purged)

	// Survivors are re-chained from scratch, so the log still verifies.
	report, err := repo.ValidateIntegrity(context.Background(), time.Time{}, time.Time{})
	require.Nil(t, err, fmt.Sprintf("validate expected to succeed: %s", err))
	assert.True(t, report.Valid)
	assert.Equal(t, uint64(2), report.TotalChecked)
}

func TestPurgeKeepsExceptedTypes(t *testing.T) {
	cleanup(t)
	repo := auditpg.NewRepository(database)

	saveRecords(t, repo, 2, audit.Create, 48*time.Hour)
	saveRecords(t, repo, 3, audit.SecurityViolation, 48*time.Hour)

	purged, err := repo.Purge(context.Background(), time.Now().UTC().Add(-time.Hour), []audit.ChangeType{audit.SecurityViolation})
	require.Nil(t, err, fmt.Sprintf("purge expected to succeed: %s", err))
	assert.Equal(t, int64(2), purged)

	page, err := repo.RetrieveAll(context.Background(), audit.Page{Limit: 10})
	require.Nil(t, err, fmt.Sprintf("retrieve expected to succeed: %s", err))
	require.Len(t, page.Records, 3)
	for _, r := range page.Records {
		assert.Equal(t, audit.SecurityViolation, r.ChangeType)
	}
}

func TestPurgeNothingToDo(t *testing.T) {
	cleanup(t)
	repo := auditpg.NewRepository(database)

	saveRecords(t, repo, 2, audit.Create, 0)

	purged, err := repo.Purge(context.Background(), time.Now().UTC().Add(-time.Hour), nil)
	require.Nil(t, err, fmt.Sprintf("purge expected to succeed: %s", err))
	assert.Equal(t, int64(0), purged)
}

func TestValidateIntegrityDetectsTampering(t *testing.T) {
	cleanup(t)
	repo := auditpg.NewRepository(database)

	records := saveRecords(t, repo, 3, audit.Create, 0)

	_, err := db.Exec("UPDATE audit_log SET changed_by = 'intruder' WHERE id = $1", records[1].ID)
	require.Nil(t, err)

	report, err := repo.ValidateIntegrity(context.Background(), time.Time{}, time.Time{})
	require.Nil(t, err, fmt.Sprintf("validate expected to succeed: %s", err))
	assert.False(t, report.Valid)
	require.NotEmpty(t, report.Issues)
	assert.Equal(t, records[1].ID, report.Issues[0].RecordID)
}

func TestValidateIntegrityWindow(t *testing.T) {
	cleanup(t)
	repo := auditpg.NewRepository(database)

	saveRecords(t, repo, 2, audit.Create, 48*time.Hour)
	saveRecords(t, repo, 3, audit.Update, 0)

	// An interior window is seeded with the predecessor's hash.
	report, err := repo.ValidateIntegrity(context.Background(), time.Now().UTC().Add(-time.Hour), time.Time{})
	require.Nil(t, err, fmt.Sprintf("validate expected to succeed: %s", err))
	assert.True(t, report.Valid)
	assert.Equal(t, uint64(3), report.TotalChecked)
}

func TestValidateIntegrityEmpty(t *testing.T) {
	cleanup(t)
	repo := auditpg.NewRepository(database)

	report, err := repo.ValidateIntegrity(context.Background(), time.Time{}, time.Time{})
	require.Nil(t, err, fmt.Sprintf("validate expected to succeed: %s", err))
	assert.True(t, report.Valid)
	assert.Equal(t, uint64(0), report.TotalChecked)
}
