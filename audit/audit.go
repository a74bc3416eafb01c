// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package audit provides the tamper-evident change log. Every mutation
// applied to a tenant produces one or more records, persisted in the same
// transaction as the mutation and chained with a running SHA-256 hash so
// after-the-fact edits are detectable.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/acsio/acs/pkg/apiutil"
)

type ChangeType uint8

const (
	Create ChangeType = iota
	Update
	Delete
	GrantPermission
	RevokePermission
	AddEdge
	RemoveEdge
	BulkPermissionUpdate
	SecurityViolation
	AccessCheck
)

// String representation of the possible change type values.
const (
	createType     = "create"
	updateType     = "update"
	deleteType     = "delete"
	grantType      = "grant_permission"
	revokeType     = "revoke_permission"
	addEdgeType    = "add_edge"
	removeEdgeType = "remove_edge"
	bulkUpdateType = "bulk_permission_update"
	violationType  = "security_violation"
	checkType      = "access_check"
)

// String converts change type to string literal.
func (c ChangeType) String() string {
	switch c {
	case Create:
		return createType
	case Update:
		return updateType
	case Delete:
		return deleteType
	case GrantPermission:
		return grantType
	case RevokePermission:
		return revokeType
	case AddEdge:
		return addEdgeType
	case RemoveEdge:
		return removeEdgeType
	case BulkPermissionUpdate:
		return bulkUpdateType
	case SecurityViolation:
		return violationType
	case AccessCheck:
		return checkType
	default:
		return ""
	}
}

// ToChangeType converts string value to a valid change type.
func ToChangeType(changeType string) (ChangeType, error) {
	switch changeType {
	case createType:
		return Create, nil
	case updateType:
		return Update, nil
	case deleteType:
		return Delete, nil
	case grantType:
		return GrantPermission, nil
	case revokeType:
		return RevokePermission, nil
	case addEdgeType:
		return AddEdge, nil
	case removeEdgeType:
		return RemoveEdge, nil
	case bulkUpdateType:
		return BulkPermissionUpdate, nil
	case violationType:
		return SecurityViolation, nil
	case checkType:
		return AccessCheck, nil
	default:
		return ChangeType(0), apiutil.ErrInvalidChangeType
	}
}

func (c ChangeType) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *ChangeType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	ct, err := ToChangeType(s)
	if err != nil {
		return err
	}
	*c = ct
	return nil
}

// Record represents one entry of the change log.
type Record struct {
	ID            string                 `json:"id" db:"id"`
	EntityType    string                 `json:"entity_type" db:"entity_type"`
	EntityID      uint64                 `json:"entity_id" db:"entity_id"`
	ChangeType    ChangeType             `json:"change_type" db:"change_type"`
	ChangedBy     string                 `json:"changed_by" db:"changed_by"`
	ChangeDate    time.Time              `json:"change_date" db:"change_date"`
	Details       map[string]interface{} `json:"details,omitempty" db:"details,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty" db:"correlation_id,omitempty"`
	Hash          string                 `json:"hash" db:"hash"`
}

// Normalize returns the record as it will read back from storage: UTC
// timestamp at microsecond precision and details round-tripped through
// JSON. Chaining normalized records keeps verification stable across the
// database round trip.
func (r Record) Normalize() (Record, error) {
	r.ChangeDate = r.ChangeDate.UTC().Truncate(time.Microsecond)
	if len(r.Details) > 0 {
		raw, err := json.Marshal(r.Details)
		if err != nil {
			return Record{}, err
		}
		details := make(map[string]interface{})
		if err := json.Unmarshal(raw, &details); err != nil {
			return Record{}, err
		}
		r.Details = details
	}
	return r, nil
}

// ChainHash computes the record's chain hash from the previous record's
// hash: SHA256(prev || canonical(record)). The canonical form is the record
// serialized as JSON with its Hash field cleared. An empty prev seeds the
// chain.
func (r Record) ChainHash(prev string) (string, error) {
	canonical := r
	canonical.Hash = ""
	payload, err := json.Marshal(canonical)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(append([]byte(prev), payload...))
	return hex.EncodeToString(sum[:]), nil
}

// Chain fills the Hash of every record in order, continuing from prev.
// It returns the hash of the last record for the next batch.
func Chain(records []Record, prev string) (string, error) {
	for i := range records {
		h, err := records[i].ChainHash(prev)
		if err != nil {
			return "", err
		}
		records[i].Hash = h
		prev = h
	}
	return prev, nil
}

// RecordsPage represents a page of audit records.
type RecordsPage struct {
	Total   uint64   `json:"total"`
	Offset  uint64   `json:"offset"`
	Limit   uint64   `json:"limit"`
	Records []Record `json:"records"`
}

func (page RecordsPage) MarshalJSON() ([]byte, error) {
	type Alias RecordsPage
	a := struct {
		Alias
	}{
		Alias: Alias(page),
	}

	if a.Records == nil {
		a.Records = make([]Record, 0)
	}

	return json.Marshal(a)
}

// Page is used to filter audit records.
type Page struct {
	Offset        uint64    `json:"offset" db:"offset"`
	Limit         uint64    `json:"limit" db:"limit"`
	EntityType    string    `json:"entity_type,omitempty" db:"entity_type,omitempty"`
	EntityID      uint64    `json:"entity_id,omitempty" db:"entity_id,omitempty"`
	ChangeType    string    `json:"change_type,omitempty" db:"change_type,omitempty"`
	ChangedBy     string    `json:"changed_by,omitempty" db:"changed_by,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty" db:"correlation_id,omitempty"`
	From          time.Time `json:"from,omitempty" db:"from,omitempty"`
	To            time.Time `json:"to,omitempty" db:"to,omitempty"`
	Direction     string    `json:"direction,omitempty"`
}

// IntegrityIssue describes one broken link of the hash chain.
type IntegrityIssue struct {
	RecordID string `json:"record_id"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// IntegrityReport is the result of re-walking the hash chain.
type IntegrityReport struct {
	TotalChecked uint64           `json:"total_checked"`
	Valid        bool             `json:"valid"`
	Issues       []IntegrityIssue `json:"issues,omitempty"`
}

// Verify re-computes the chain over records ordered oldest first, starting
// from prev, and reports every mismatch against the stored hashes.
func Verify(records []Record, prev string) IntegrityReport {
	report := IntegrityReport{Valid: true}
	for _, r := range records {
		report.TotalChecked++
		expected, err := r.ChainHash(prev)
		if err != nil || expected != r.Hash {
			report.Valid = false
			report.Issues = append(report.Issues, IntegrityIssue{
				RecordID: r.ID,
				Expected: expected,
				Actual:   r.Hash,
			})
		}
		// Continue from the stored hash so a single tampered record
		// yields a single issue instead of failing the whole suffix.
		prev = r.Hash
	}
	return report
}

// Repository provides access to the audit log database.
//
//go:generate mockery --name Repository --output=./mocks --filename repository.go --quiet --note "Copyright (c) Abstract Machines"
type Repository interface {
	// Save persists the records, chaining their hashes onto the stored tail.
	Save(ctx context.Context, records ...Record) error

	// RetrieveAll retrieves audit records matching the page filter.
	RetrieveAll(ctx context.Context, page Page) (RecordsPage, error)

	// Purge removes records older than the given instant, keeping the
	// excepted change types. It returns the number of removed records.
	Purge(ctx context.Context, olderThan time.Time, exceptTypes []ChangeType) (int64, error)

	// ValidateIntegrity re-walks the hash chain between the two instants.
	ValidateIntegrity(ctx context.Context, from, to time.Time) (IntegrityReport, error)
}
