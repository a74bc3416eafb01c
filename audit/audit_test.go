// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package audit_test

import (
	"testing"
	"time"

	"github.com/acsio/acs/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

func testRecords(n int) []audit.Record {
	records := make([]audit.Record, n)
	for i := range records {
		records[i] = audit.Record{
			ID:            string(rune('a' + i)),
			EntityType:    "user",
			EntityID:      uint64(i + 1),
			ChangeType:    audit.Create,
			ChangedBy:     "tester",
			ChangeDate:    base.Add(time.Duration(i) * time.Second),
			CorrelationID: "corr-1",
		}
	}
	return records
}

func TestChainDeterminism(t *testing.T) {
	r := testRecords(1)[0]

	first, err := r.ChainHash("")
	require.NoError(t, err)
	second, err := r.ChainHash("")
	require.NoError(t, err)
	assert.Equal(t, first, second, "hash must be deterministic")
	assert.Len(t, first, 64)

	chained, err := r.ChainHash(first)
	require.NoError(t, err)
	assert.NotEqual(t, first, chained, "previous hash must influence the chain")
}

func TestChainIgnoresStoredHash(t *testing.T) {
	r := testRecords(1)[0]
	clean, err := r.ChainHash("")
	require.NoError(t, err)

	r.Hash = "leftover"
	dirty, err := r.ChainHash("")
	require.NoError(t, err)
	assert.Equal(t, clean, dirty, "stored hash must be excluded from the canonical form")
}

func TestChainAndVerify(t *testing.T) {
	records := testRecords(5)
	tail, err := audit.Chain(records, "")
	require.NoError(t, err)
	assert.Equal(t, records[4].Hash, tail)

	report := audit.Verify(records, "")
	assert.True(t, report.Valid)
	assert.Equal(t, uint64(5), report.TotalChecked)
	assert.Empty(t, report.Issues)
}

func TestVerifyDetectsTampering(t *testing.T) {
	records := testRecords(5)
	_, err := audit.Chain(records, "")
	require.NoError(t, err)

	records[2].ChangedBy = "intruder"

	report := audit.Verify(records, "")
	assert.False(t, report.Valid)
	require.Len(t, report.Issues, 1, "tampering one record must yield one issue")
	assert.Equal(t, records[2].ID, report.Issues[0].RecordID)
}

func TestVerifyDetectsBrokenLink(t *testing.T) {
	records := testRecords(3)
	_, err := audit.Chain(records, "")
	require.NoError(t, err)

	records[1].Hash = "0000"

	report := audit.Verify(records, "")
	assert.False(t, report.Valid)
	// The forged hash breaks its own link and the successor's.
	require.Len(t, report.Issues, 2)
	assert.Equal(t, records[1].ID, report.Issues[0].RecordID)
	assert.Equal(t, records[2].ID, report.Issues[1].RecordID)
}

func TestChainContinuation(t *testing.T) {
	all := testRecords(4)
	tail, err := audit.Chain(all[:2], "")
	require.NoError(t, err)
	_, err = audit.Chain(all[2:], tail)
	require.NoError(t, err)

	report := audit.Verify(all, "")
	assert.True(t, report.Valid, "chains saved in separate batches must verify as one")
}

func TestChangeTypeRoundTrip(t *testing.T) {
	for _, ct := range []audit.ChangeType{
		audit.Create, audit.Update, audit.Delete,
		audit.GrantPermission, audit.RevokePermission,
		audit.AddEdge, audit.RemoveEdge,
		audit.BulkPermissionUpdate, audit.SecurityViolation, audit.AccessCheck,
	} {
		parsed, err := audit.ToChangeType(ct.String())
		require.NoError(t, err)
		assert.Equal(t, ct, parsed)
	}

	_, err := audit.ToChangeType("reboot")
	assert.Error(t, err)
}
