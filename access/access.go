// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package access implements the per-tenant access control engine: the
// command buffer, the handlers mutating the entity graph, and the query
// side backed by the graph and the entity cache.
package access

import (
	"context"
	"encoding/json"
	"time"

	"github.com/acsio/acs/audit"
	"github.com/acsio/acs/entities"
)

// Session carries the identity of the caller and the correlation ID of the
// request through the service layer and into the audit trail.
type Session struct {
	Actor         string `json:"actor"`
	CorrelationID string `json:"correlation_id"`
}

// PageMetadata filters entity listings.
type PageMetadata struct {
	Offset uint64 `json:"offset"`
	Limit  uint64 `json:"limit"`
	Name   string `json:"name,omitempty"`
}

// EntitiesPage represents a page of entities.
type EntitiesPage struct {
	Total    uint64            `json:"total"`
	Offset   uint64            `json:"offset"`
	Limit    uint64            `json:"limit"`
	Entities []entities.Entity `json:"entities"`
}

func (page EntitiesPage) MarshalJSON() ([]byte, error) {
	type Alias EntitiesPage
	a := struct {
		Alias
	}{
		Alias: Alias(page),
	}

	if a.Entities == nil {
		a.Entities = make([]entities.Entity, 0)
	}

	return json.Marshal(a)
}

// BulkOptions controls how a permission batch is validated and committed.
type BulkOptions struct {
	// ValidateFirst runs a precondition pass over the whole batch and
	// rejects it outright when any element is invalid.
	ValidateFirst bool `json:"validate_before_execution"`
	// StopOnFirstError aborts the remaining elements after the first
	// failed one.
	StopOnFirstError bool `json:"stop_on_first_error"`
	// Transactional commits the batch all-or-nothing: any failed element
	// rolls back every other element.
	Transactional bool `json:"execute_in_transaction"`
}

// PermissionOp is one element of a bulk permission update.
type PermissionOp struct {
	Action     string              `json:"action"` // "grant" or "revoke"
	OwnerID    uint64              `json:"owner_id"`
	Permission entities.Permission `json:"permission"`
}

const (
	GrantAction  = "grant"
	RevokeAction = "revoke"
)

// BulkError reports the failure of one bulk element.
type BulkError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// BulkResult summarizes a bulk permission update.
type BulkResult struct {
	Total         int         `json:"total"`
	Successful    int         `json:"successful"`
	Failed        int         `json:"failed"`
	Errors        []BulkError `json:"errors,omitempty"`
	CorrelationID string      `json:"correlation_id,omitempty"`
}

// Violation describes a denied or anomalous access attempt reported by an
// enforcement point.
type Violation struct {
	EntityID uint64        `json:"entity_id"`
	URI      string        `json:"uri"`
	Verb     entities.Verb `json:"verb"`
	Reason   string        `json:"reason,omitempty"`
}

// StructureReport is the result of a permission structure validation pass.
type StructureReport struct {
	Checked    uint64 `json:"checked"`
	Expired    uint64 `json:"expired"`
	Duplicates uint64 `json:"duplicates"`
	Fixed      uint64 `json:"fixed"`
}

// ResourceDecision resolves one resource URI for an entity: which verbs are
// allowed, which permissions applied, and which overlapped with opposite
// effects.
type ResourceDecision struct {
	URI          string                `json:"uri"`
	AllowedVerbs []string              `json:"allowed_verbs"`
	Matching     []entities.Permission `json:"matching,omitempty"`
	Conflicts    []entities.Permission `json:"conflicts,omitempty"`
}

// ComplianceReport aggregates the audit trail over a time window.
type ComplianceReport struct {
	From         time.Time             `json:"from"`
	To           time.Time             `json:"to"`
	TotalChanges uint64                `json:"total_changes"`
	ByChangeType map[string]uint64     `json:"by_change_type"`
	ByActor      map[string]uint64     `json:"by_actor"`
	Violations   uint64                `json:"violations"`
	Integrity    audit.IntegrityReport `json:"integrity"`
}

// ImpactReport lists the entities affected by a permission on a resource.
type ImpactReport struct {
	URI      string        `json:"uri"`
	Verb     entities.Verb `json:"verb"`
	Owners   []uint64      `json:"owners"`
	Affected []uint64      `json:"affected"`
	Total    uint64        `json:"total"`
}

// Mutation is the staged write-set of one command: everything it changes,
// applied to the store in a single transaction together with its audit
// records, then to the in-memory graph.
type Mutation struct {
	EntityUpserts     []entities.Entity
	EntityDeletes     []uint64
	EdgeAdds          []entities.Edge
	EdgeDeletes       []entities.Edge
	PermissionAdds    []entities.OwnedPermission
	PermissionDeletes []entities.OwnedPermission
	Audits            []audit.Record
}

// Empty reports whether the mutation stages no writes.
func (m Mutation) Empty() bool {
	return len(m.EntityUpserts) == 0 && len(m.EntityDeletes) == 0 &&
		len(m.EdgeAdds) == 0 && len(m.EdgeDeletes) == 0 &&
		len(m.PermissionAdds) == 0 && len(m.PermissionDeletes) == 0 &&
		len(m.Audits) == 0
}

// Service is the tenant-scoped access control engine. Mutations are funnelled
// through the command buffer and executed by its single consumer; queries
// read the graph directly.
//
//go:generate mockery --name Service --output=./mocks --filename service.go --quiet --note "Copyright (c) Abstract Machines"
type Service interface {
	// CreateUser registers a new user entity.
	CreateUser(ctx context.Context, session Session, user entities.Entity) (entities.Entity, error)

	// CreateGroup registers a new group entity.
	CreateGroup(ctx context.Context, session Session, group entities.Entity) (entities.Entity, error)

	// CreateRole registers a new role entity.
	CreateRole(ctx context.Context, session Session, role entities.Entity) (entities.Entity, error)

	// UpdateEntity replaces the name and metadata of an entity.
	UpdateEntity(ctx context.Context, session Session, entity entities.Entity) (entities.Entity, error)

	// DeleteEntity removes an entity, detaching its edges and permissions.
	DeleteEntity(ctx context.Context, session Session, id uint64) error

	// AddUserToGroup makes the user a direct member of the group.
	AddUserToGroup(ctx context.Context, session Session, userID, groupID uint64) error

	// RemoveUserFromGroup removes a direct membership.
	RemoveUserFromGroup(ctx context.Context, session Session, userID, groupID uint64) error

	// AddGroupToGroup nests the child group under the parent group.
	AddGroupToGroup(ctx context.Context, session Session, childID, parentID uint64) error

	// RemoveGroupFromGroup removes a group nesting edge.
	RemoveGroupFromGroup(ctx context.Context, session Session, childID, parentID uint64) error

	// AddRoleToGroup places the role inside the group.
	AddRoleToGroup(ctx context.Context, session Session, roleID, groupID uint64) error

	// RemoveRoleFromGroup removes a role from a group.
	RemoveRoleFromGroup(ctx context.Context, session Session, roleID, groupID uint64) error

	// AddUserToRole assigns the role to the user.
	AddUserToRole(ctx context.Context, session Session, userID, roleID uint64) error

	// RemoveUserFromRole removes a role assignment.
	RemoveUserFromRole(ctx context.Context, session Session, userID, roleID uint64) error

	// GrantPermission attaches a permission to an entity. Granting a
	// permission with the same key replaces the stored record.
	GrantPermission(ctx context.Context, session Session, ownerID uint64, perm entities.Permission) error

	// RevokePermission detaches a permission. With cascade set, matching
	// permissions of all descendants are revoked as well.
	RevokePermission(ctx context.Context, session Session, ownerID uint64, perm entities.Permission, cascade bool) error

	// BulkPermissionUpdate applies a batch of grants and revocations. The
	// options select up-front validation, abort on first error, and
	// all-or-nothing commit.
	BulkPermissionUpdate(ctx context.Context, session Session, ops []PermissionOp, opts BulkOptions) (BulkResult, error)

	// RecordAuditEvent appends a custom record to the audit trail.
	RecordAuditEvent(ctx context.Context, session Session, record audit.Record) error

	// PurgeAuditData removes audit records older than the given instant,
	// keeping the excepted change types.
	PurgeAuditData(ctx context.Context, session Session, olderThan time.Time, exceptTypes []audit.ChangeType) (int64, error)

	// ReportAccessViolation records a security violation in the audit trail.
	ReportAccessViolation(ctx context.Context, session Session, violation Violation) error

	// ValidatePermissionStructure scans for expired and duplicate
	// permissions. With fix set, offending records are removed.
	ValidatePermissionStructure(ctx context.Context, session Session, fix bool) (StructureReport, error)

	// CheckPermission decides whether the entity may perform verb on uri.
	// A nil at defaults to the current instant.
	CheckPermission(ctx context.Context, session Session, entityID uint64, uri string, verb entities.Verb, at *time.Time) (bool, error)

	// EntityPermissions returns the permissions of an entity, optionally
	// including those inherited from its ancestors.
	EntityPermissions(ctx context.Context, session Session, entityID uint64, includeInherited bool) ([]entities.Permission, error)

	// EffectivePermissions resolves the entity's decision for each resource
	// URI, optionally reporting the conflicting candidates.
	EffectivePermissions(ctx context.Context, session Session, entityID uint64, resourceURIs []string, resolveConflicts bool) ([]ResourceDecision, error)

	// ViewUser returns a user by ID.
	ViewUser(ctx context.Context, session Session, id uint64) (entities.Entity, error)

	// ViewGroup returns a group by ID.
	ViewGroup(ctx context.Context, session Session, id uint64) (entities.Entity, error)

	// ViewRole returns a role by ID.
	ViewRole(ctx context.Context, session Session, id uint64) (entities.Entity, error)

	// ListUsers returns a page of users.
	ListUsers(ctx context.Context, session Session, pm PageMetadata) (EntitiesPage, error)

	// ListGroups returns a page of groups.
	ListGroups(ctx context.Context, session Session, pm PageMetadata) (EntitiesPage, error)

	// ListRoles returns a page of roles.
	ListRoles(ctx context.Context, session Session, pm PageMetadata) (EntitiesPage, error)

	// ListMembers returns the direct children of a group or role.
	ListMembers(ctx context.Context, session Session, id uint64) ([]entities.Entity, error)

	// ListMemberships returns the groups and roles an entity belongs to.
	ListMemberships(ctx context.Context, session Session, id uint64) ([]entities.Entity, error)

	// AuditTrail returns a page of audit records.
	AuditTrail(ctx context.Context, session Session, page audit.Page) (audit.RecordsPage, error)

	// ComplianceReport aggregates audit activity over a time window.
	ComplianceReport(ctx context.Context, session Session, from, to time.Time) (ComplianceReport, error)

	// ValidateAuditIntegrity re-walks the audit hash chain.
	ValidateAuditIntegrity(ctx context.Context, session Session, from, to time.Time) (audit.IntegrityReport, error)

	// PermissionImpact reports which entities are affected by permissions
	// matching the resource URI and verb.
	PermissionImpact(ctx context.Context, session Session, resourceURI string, verb entities.Verb, depth int) (ImpactReport, error)

	// GraphStats returns entity graph counters.
	GraphStats(ctx context.Context, session Session) (entities.Stats, error)

	// BufferStats returns command buffer counters and latency percentiles.
	BufferStats(ctx context.Context, session Session) (BufferStats, error)

	// CacheStats returns entity cache counters.
	CacheStats(ctx context.Context, session Session) (CacheStats, error)
}

// Repository persists tenant state. Implementations apply a whole Mutation,
// audit records included, in a single transaction.
//
//go:generate mockery --name Repository --output=./mocks --filename repository.go --quiet --note "Copyright (c) Abstract Machines"
type Repository interface {
	// Apply atomically persists the mutation. A failure of any part rolls
	// back every part.
	Apply(ctx context.Context, mutation Mutation) error

	// LoadSnapshot retrieves the full tenant state for graph hydration.
	LoadSnapshot(ctx context.Context) (entities.Snapshot, error)
}

// CacheStats reports entity cache effectiveness from local counters.
type CacheStats struct {
	Hits    uint64            `json:"hits"`
	Misses  uint64            `json:"misses"`
	HitRate float64           `json:"hit_rate"`
	ByType  map[string]uint64 `json:"by_type,omitempty"`
}

// Cache is a read-through cache over entities and their permission sets.
type Cache interface {
	// Entity returns a cached entity, or entities.ErrNotFound on a miss.
	Entity(ctx context.Context, id uint64) (entities.Entity, error)

	// SaveEntity caches an entity.
	SaveEntity(ctx context.Context, entity entities.Entity) error

	// Permissions returns a cached effective permission set.
	Permissions(ctx context.Context, id uint64) ([]entities.Permission, error)

	// SavePermissions caches an effective permission set.
	SavePermissions(ctx context.Context, id uint64, perms []entities.Permission) error

	// Remove drops every cached key of the given entities.
	Remove(ctx context.Context, ids ...uint64) error

	// Clear drops every cached key of the tenant.
	Clear(ctx context.Context) error

	// Stats returns hit and miss counters.
	Stats() CacheStats
}
