// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package access

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/acsio/acs/audit"
	"github.com/acsio/acs/entities"
	"github.com/acsio/acs/pkg/apiutil"
	"github.com/acsio/acs/pkg/errors"
)

// Operation is the transport-agnostic envelope of an external request. The
// kind selects the command, the payload carries its arguments.
type Operation struct {
	Kind          string          `json:"kind"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	RequestedBy   string          `json:"requested_by,omitempty"`
	RequestedAt   time.Time       `json:"requested_at,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// Session builds the service session of the envelope.
func (op Operation) Session() Session {
	return Session{Actor: op.RequestedBy, CorrelationID: op.CorrelationID}
}

// Command is a translated operation ready for dispatch.
type Command interface {
	// Kind returns the operation kind the command was translated from.
	Kind() string

	// IsMutation reports whether the command goes through the buffer.
	IsMutation() bool

	validate() error
}

// Operation kinds accepted by Translate.
const (
	OpCreateUser          = "user.create"
	OpCreateGroup         = "group.create"
	OpCreateRole          = "role.create"
	OpUpdateEntity        = "entity.update"
	OpDeleteEntity        = "entity.delete"
	OpAddUserToGroup      = "group.add_user"
	OpRemoveUserFromGroup = "group.remove_user"
	OpAddGroupToGroup     = "group.add_group"
	OpRemoveGroupFromGrp  = "group.remove_group"
	OpAddRoleToGroup      = "group.add_role"
	OpRemoveRoleFromGroup = "group.remove_role"
	OpAddUserToRole       = "role.add_user"
	OpRemoveUserFromRole  = "role.remove_user"
	OpGrantPermission     = "permission.grant"
	OpRevokePermission    = "permission.revoke"
	OpBulkPermissions     = "permission.bulk_update"
	OpValidateStructure   = "permission.validate_structure"
	OpRecordAuditEvent    = "audit.record"
	OpPurgeAuditData      = "audit.purge"
	OpReportViolation     = "violation.report"
	OpCheckPermission     = "permission.check"
	OpEntityPermissions   = "permission.entity"
	OpEffectivePerms      = "permission.effective"
	OpPermissionImpact    = "permission.impact"
	OpViewUser            = "user.view"
	OpViewGroup           = "group.view"
	OpViewRole            = "role.view"
	OpListUsers           = "user.list"
	OpListGroups          = "group.list"
	OpListRoles           = "role.list"
	OpAuditTrail          = "audit.trail"
	OpComplianceReport    = "compliance.report"
	OpValidateIntegrity   = "audit.validate"
	OpGraphStats          = "stats.graph"
	OpBufferStats         = "stats.buffer"
	OpCacheStats          = "stats.cache"
)

type CreateEntityCmd struct {
	EntityKind entities.Kind
	Entity     entities.Entity
}

func (c CreateEntityCmd) Kind() string {
	switch c.EntityKind {
	case entities.GroupKind:
		return OpCreateGroup
	case entities.RoleKind:
		return OpCreateRole
	default:
		return OpCreateUser
	}
}
func (c CreateEntityCmd) IsMutation() bool { return true }
func (c CreateEntityCmd) validate() error  { return c.Entity.Validate() }

type UpdateEntityCmd struct {
	Entity entities.Entity
}

func (c UpdateEntityCmd) Kind() string     { return OpUpdateEntity }
func (c UpdateEntityCmd) IsMutation() bool { return true }
func (c UpdateEntityCmd) validate() error  { return c.Entity.Validate() }

type DeleteEntityCmd struct {
	ID uint64 `json:"id"`
}

func (c DeleteEntityCmd) Kind() string     { return OpDeleteEntity }
func (c DeleteEntityCmd) IsMutation() bool { return true }
func (c DeleteEntityCmd) validate() error {
	if c.ID == 0 {
		return errors.New("missing entity id")
	}
	return nil
}

// EdgeCmd covers every membership mutation: the operation kind determines
// which pair of entity kinds the edge connects.
type EdgeCmd struct {
	Op       string
	ParentID uint64
	ChildID  uint64
}

func (c EdgeCmd) Kind() string     { return c.Op }
func (c EdgeCmd) IsMutation() bool { return true }
func (c EdgeCmd) validate() error {
	if c.ParentID == 0 || c.ChildID == 0 {
		return errors.New("missing edge endpoint id")
	}
	return nil
}

type GrantPermissionCmd struct {
	OwnerID    uint64              `json:"owner_id"`
	Permission entities.Permission `json:"permission"`
}

func (c GrantPermissionCmd) Kind() string     { return OpGrantPermission }
func (c GrantPermissionCmd) IsMutation() bool { return true }
func (c GrantPermissionCmd) validate() error {
	if c.OwnerID == 0 {
		return errors.New("missing owner id")
	}
	return c.Permission.Validate()
}

type RevokePermissionCmd struct {
	OwnerID    uint64              `json:"owner_id"`
	Permission entities.Permission `json:"permission"`
	Cascade    bool                `json:"cascade"`
}

func (c RevokePermissionCmd) Kind() string     { return OpRevokePermission }
func (c RevokePermissionCmd) IsMutation() bool { return true }
func (c RevokePermissionCmd) validate() error {
	if c.OwnerID == 0 {
		return errors.New("missing owner id")
	}
	return c.Permission.Validate()
}

type BulkPermissionsCmd struct {
	BulkOptions
	Operations []PermissionOp `json:"operations"`
}

func (c BulkPermissionsCmd) Kind() string     { return OpBulkPermissions }
func (c BulkPermissionsCmd) IsMutation() bool { return true }
func (c BulkPermissionsCmd) validate() error {
	if len(c.Operations) == 0 {
		return errors.New("empty operation list")
	}
	return nil
}

type ValidateStructureCmd struct {
	Fix bool `json:"fix"`
}

func (c ValidateStructureCmd) Kind() string     { return OpValidateStructure }
func (c ValidateStructureCmd) IsMutation() bool { return true }
func (c ValidateStructureCmd) validate() error  { return nil }

type RecordAuditEventCmd struct {
	Record audit.Record `json:"record"`
}

func (c RecordAuditEventCmd) Kind() string     { return OpRecordAuditEvent }
func (c RecordAuditEventCmd) IsMutation() bool { return true }
func (c RecordAuditEventCmd) validate() error {
	if c.Record.EntityType == "" {
		return errors.New("missing entity type")
	}
	return nil
}

type PurgeAuditDataCmd struct {
	OlderThan   time.Time          `json:"older_than"`
	ExceptTypes []audit.ChangeType `json:"except_types,omitempty"`
}

func (c PurgeAuditDataCmd) Kind() string     { return OpPurgeAuditData }
func (c PurgeAuditDataCmd) IsMutation() bool { return true }
func (c PurgeAuditDataCmd) validate() error {
	if c.OlderThan.IsZero() {
		return errors.New("missing retention cutoff")
	}
	return nil
}

type ReportViolationCmd struct {
	Violation Violation `json:"violation"`
}

func (c ReportViolationCmd) Kind() string     { return OpReportViolation }
func (c ReportViolationCmd) IsMutation() bool { return true }
func (c ReportViolationCmd) validate() error {
	if c.Violation.EntityID == 0 {
		return errors.New("missing entity id")
	}
	return nil
}

type CheckPermissionQuery struct {
	EntityID uint64        `json:"entity_id"`
	URI      string        `json:"uri"`
	Verb     entities.Verb `json:"verb"`
	At       *time.Time    `json:"at,omitempty"`
}

func (q CheckPermissionQuery) Kind() string     { return OpCheckPermission }
func (q CheckPermissionQuery) IsMutation() bool { return false }
func (q CheckPermissionQuery) validate() error {
	if q.EntityID == 0 {
		return errors.New("missing entity id")
	}
	if q.URI == "" {
		return errors.New("missing resource uri")
	}
	return nil
}

type EntityPermissionsQuery struct {
	EntityID         uint64 `json:"entity_id"`
	IncludeInherited bool   `json:"include_inherited"`
}

func (q EntityPermissionsQuery) Kind() string     { return OpEntityPermissions }
func (q EntityPermissionsQuery) IsMutation() bool { return false }
func (q EntityPermissionsQuery) validate() error {
	if q.EntityID == 0 {
		return errors.New("missing entity id")
	}
	return nil
}

type EffectivePermissionsQuery struct {
	EntityID         uint64   `json:"entity_id"`
	ResourceURIs     []string `json:"resource_uris"`
	ResolveConflicts bool     `json:"resolve_conflicts"`
}

func (q EffectivePermissionsQuery) Kind() string     { return OpEffectivePerms }
func (q EffectivePermissionsQuery) IsMutation() bool { return false }
func (q EffectivePermissionsQuery) validate() error {
	if q.EntityID == 0 {
		return errors.New("missing entity id")
	}
	if len(q.ResourceURIs) == 0 {
		return errors.New("missing resource uris")
	}
	return nil
}

type PermissionImpactQuery struct {
	ResourceURI string        `json:"resource_uri"`
	Verb        entities.Verb `json:"verb"`
	Depth       int           `json:"depth"`
}

func (q PermissionImpactQuery) Kind() string     { return OpPermissionImpact }
func (q PermissionImpactQuery) IsMutation() bool { return false }
func (q PermissionImpactQuery) validate() error {
	if q.ResourceURI == "" {
		return errors.New("missing resource uri")
	}
	return nil
}

// ViewEntityQuery covers user.view, group.view and role.view.
type ViewEntityQuery struct {
	Op string
	ID uint64 `json:"id"`
}

func (q ViewEntityQuery) Kind() string     { return q.Op }
func (q ViewEntityQuery) IsMutation() bool { return false }
func (q ViewEntityQuery) validate() error {
	if q.ID == 0 {
		return errors.New("missing entity id")
	}
	return nil
}

// ListEntitiesQuery covers user.list, group.list and role.list.
type ListEntitiesQuery struct {
	Op   string
	Page PageMetadata `json:"page"`
}

func (q ListEntitiesQuery) Kind() string     { return q.Op }
func (q ListEntitiesQuery) IsMutation() bool { return false }
func (q ListEntitiesQuery) validate() error  { return nil }

type AuditTrailQuery struct {
	Page audit.Page `json:"page"`
}

func (q AuditTrailQuery) Kind() string     { return OpAuditTrail }
func (q AuditTrailQuery) IsMutation() bool { return false }
func (q AuditTrailQuery) validate() error {
	switch strings.ToLower(q.Page.Direction) {
	case "", "asc", "desc":
		return nil
	default:
		return apiutil.ErrInvalidDirection
	}
}

// WindowQuery covers compliance.report and audit.validate.
type WindowQuery struct {
	Op   string
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (q WindowQuery) Kind() string     { return q.Op }
func (q WindowQuery) IsMutation() bool { return false }
func (q WindowQuery) validate() error {
	if !q.From.IsZero() && !q.To.IsZero() && q.To.Before(q.From) {
		return errors.New("window end before start")
	}
	return nil
}

// StatsQuery covers stats.graph, stats.buffer and stats.cache.
type StatsQuery struct {
	Op string
}

func (q StatsQuery) Kind() string     { return q.Op }
func (q StatsQuery) IsMutation() bool { return false }
func (q StatsQuery) validate() error  { return nil }

type createEntityPayload struct {
	ID       uint64            `json:"id"`
	Name     string            `json:"name"`
	Metadata entities.Metadata `json:"metadata,omitempty"`
}

type edgePayload struct {
	UserID   uint64 `json:"user_id,omitempty"`
	GroupID  uint64 `json:"group_id,omitempty"`
	RoleID   uint64 `json:"role_id,omitempty"`
	ParentID uint64 `json:"parent_id,omitempty"`
	ChildID  uint64 `json:"child_id,omitempty"`
}

// Translate decodes an operation envelope into a typed command or query.
// Unknown kinds and malformed payloads fail with ErrTranslation.
func Translate(op Operation) (Command, error) {
	cmd, err := translate(op)
	if err != nil {
		return nil, errors.Wrap(ErrTranslation, err)
	}
	if err := cmd.validate(); err != nil {
		return nil, errors.Wrap(ErrTranslation, err)
	}
	return cmd, nil
}

func translate(op Operation) (Command, error) {
	switch op.Kind {
	case OpCreateUser, OpCreateGroup, OpCreateRole:
		var p createEntityPayload
		if err := decode(op.Payload, &p); err != nil {
			return nil, err
		}
		kind := entities.UserKind
		switch op.Kind {
		case OpCreateGroup:
			kind = entities.GroupKind
		case OpCreateRole:
			kind = entities.RoleKind
		}
		return CreateEntityCmd{
			EntityKind: kind,
			Entity:     entities.Entity{ID: p.ID, Kind: kind, Name: p.Name, Metadata: p.Metadata},
		}, nil
	case OpUpdateEntity:
		var p createEntityPayload
		if err := decode(op.Payload, &p); err != nil {
			return nil, err
		}
		return UpdateEntityCmd{Entity: entities.Entity{ID: p.ID, Name: p.Name, Metadata: p.Metadata}}, nil
	case OpDeleteEntity:
		var c DeleteEntityCmd
		if err := decode(op.Payload, &c); err != nil {
			return nil, err
		}
		return c, nil
	case OpAddUserToGroup, OpRemoveUserFromGroup:
		var p edgePayload
		if err := decode(op.Payload, &p); err != nil {
			return nil, err
		}
		return EdgeCmd{Op: op.Kind, ParentID: p.GroupID, ChildID: p.UserID}, nil
	case OpAddGroupToGroup, OpRemoveGroupFromGrp:
		var p edgePayload
		if err := decode(op.Payload, &p); err != nil {
			return nil, err
		}
		return EdgeCmd{Op: op.Kind, ParentID: p.ParentID, ChildID: p.ChildID}, nil
	case OpAddRoleToGroup, OpRemoveRoleFromGroup:
		var p edgePayload
		if err := decode(op.Payload, &p); err != nil {
			return nil, err
		}
		return EdgeCmd{Op: op.Kind, ParentID: p.GroupID, ChildID: p.RoleID}, nil
	case OpAddUserToRole, OpRemoveUserFromRole:
		var p edgePayload
		if err := decode(op.Payload, &p); err != nil {
			return nil, err
		}
		return EdgeCmd{Op: op.Kind, ParentID: p.RoleID, ChildID: p.UserID}, nil
	case OpGrantPermission:
		var c GrantPermissionCmd
		if err := decode(op.Payload, &c); err != nil {
			return nil, err
		}
		return c, nil
	case OpRevokePermission:
		var c RevokePermissionCmd
		if err := decode(op.Payload, &c); err != nil {
			return nil, err
		}
		return c, nil
	case OpBulkPermissions:
		var c BulkPermissionsCmd
		if err := decode(op.Payload, &c); err != nil {
			return nil, err
		}
		return c, nil
	case OpValidateStructure:
		var c ValidateStructureCmd
		if err := decode(op.Payload, &c); err != nil {
			return nil, err
		}
		return c, nil
	case OpRecordAuditEvent:
		var c RecordAuditEventCmd
		if err := decode(op.Payload, &c); err != nil {
			return nil, err
		}
		return c, nil
	case OpPurgeAuditData:
		var c PurgeAuditDataCmd
		if err := decode(op.Payload, &c); err != nil {
			return nil, err
		}
		return c, nil
	case OpReportViolation:
		var c ReportViolationCmd
		if err := decode(op.Payload, &c); err != nil {
			return nil, err
		}
		return c, nil
	case OpCheckPermission:
		var q CheckPermissionQuery
		if err := decode(op.Payload, &q); err != nil {
			return nil, err
		}
		return q, nil
	case OpEntityPermissions:
		var q EntityPermissionsQuery
		if err := decode(op.Payload, &q); err != nil {
			return nil, err
		}
		return q, nil
	case OpEffectivePerms:
		var q EffectivePermissionsQuery
		if err := decode(op.Payload, &q); err != nil {
			return nil, err
		}
		return q, nil
	case OpPermissionImpact:
		var q PermissionImpactQuery
		if err := decode(op.Payload, &q); err != nil {
			return nil, err
		}
		return q, nil
	case OpViewUser, OpViewGroup, OpViewRole:
		q := ViewEntityQuery{Op: op.Kind}
		if err := decode(op.Payload, &q); err != nil {
			return nil, err
		}
		return q, nil
	case OpListUsers, OpListGroups, OpListRoles:
		q := ListEntitiesQuery{Op: op.Kind}
		if err := decode(op.Payload, &q); err != nil {
			return nil, err
		}
		return q, nil
	case OpAuditTrail:
		var q AuditTrailQuery
		if err := decode(op.Payload, &q); err != nil {
			return nil, err
		}
		return q, nil
	case OpComplianceReport, OpValidateIntegrity:
		q := WindowQuery{Op: op.Kind}
		if err := decode(op.Payload, &q); err != nil {
			return nil, err
		}
		return q, nil
	case OpGraphStats, OpBufferStats, OpCacheStats:
		return StatsQuery{Op: op.Kind}, nil
	default:
		return nil, errors.Wrap(ErrUnknownOperation, errors.New(op.Kind))
	}
}

func decode(payload json.RawMessage, v interface{}) error {
	if len(payload) == 0 {
		return errors.New("missing payload")
	}
	return json.Unmarshal(payload, v)
}

// Execute dispatches a translated command to the service method it stands
// for and returns the method's result.
func Execute(ctx context.Context, svc Service, session Session, cmd Command) (interface{}, error) {
	switch c := cmd.(type) {
	case CreateEntityCmd:
		switch c.EntityKind {
		case entities.GroupKind:
			return svc.CreateGroup(ctx, session, c.Entity)
		case entities.RoleKind:
			return svc.CreateRole(ctx, session, c.Entity)
		default:
			return svc.CreateUser(ctx, session, c.Entity)
		}
	case UpdateEntityCmd:
		return svc.UpdateEntity(ctx, session, c.Entity)
	case DeleteEntityCmd:
		return nil, svc.DeleteEntity(ctx, session, c.ID)
	case EdgeCmd:
		switch c.Op {
		case OpAddUserToGroup:
			return nil, svc.AddUserToGroup(ctx, session, c.ChildID, c.ParentID)
		case OpRemoveUserFromGroup:
			return nil, svc.RemoveUserFromGroup(ctx, session, c.ChildID, c.ParentID)
		case OpAddGroupToGroup:
			return nil, svc.AddGroupToGroup(ctx, session, c.ChildID, c.ParentID)
		case OpRemoveGroupFromGrp:
			return nil, svc.RemoveGroupFromGroup(ctx, session, c.ChildID, c.ParentID)
		case OpAddRoleToGroup:
			return nil, svc.AddRoleToGroup(ctx, session, c.ChildID, c.ParentID)
		case OpRemoveRoleFromGroup:
			return nil, svc.RemoveRoleFromGroup(ctx, session, c.ChildID, c.ParentID)
		case OpAddUserToRole:
			return nil, svc.AddUserToRole(ctx, session, c.ChildID, c.ParentID)
		case OpRemoveUserFromRole:
			return nil, svc.RemoveUserFromRole(ctx, session, c.ChildID, c.ParentID)
		}
	case GrantPermissionCmd:
		return nil, svc.GrantPermission(ctx, session, c.OwnerID, c.Permission)
	case RevokePermissionCmd:
		return nil, svc.RevokePermission(ctx, session, c.OwnerID, c.Permission, c.Cascade)
	case BulkPermissionsCmd:
		return svc.BulkPermissionUpdate(ctx, session, c.Operations, c.BulkOptions)
	case ValidateStructureCmd:
		return svc.ValidatePermissionStructure(ctx, session, c.Fix)
	case RecordAuditEventCmd:
		return nil, svc.RecordAuditEvent(ctx, session, c.Record)
	case PurgeAuditDataCmd:
		return svc.PurgeAuditData(ctx, session, c.OlderThan, c.ExceptTypes)
	case ReportViolationCmd:
		return nil, svc.ReportAccessViolation(ctx, session, c.Violation)
	case CheckPermissionQuery:
		return svc.CheckPermission(ctx, session, c.EntityID, c.URI, c.Verb, c.At)
	case EntityPermissionsQuery:
		return svc.EntityPermissions(ctx, session, c.EntityID, c.IncludeInherited)
	case EffectivePermissionsQuery:
		return svc.EffectivePermissions(ctx, session, c.EntityID, c.ResourceURIs, c.ResolveConflicts)
	case PermissionImpactQuery:
		return svc.PermissionImpact(ctx, session, c.ResourceURI, c.Verb, c.Depth)
	case ViewEntityQuery:
		switch c.Op {
		case OpViewGroup:
			return svc.ViewGroup(ctx, session, c.ID)
		case OpViewRole:
			return svc.ViewRole(ctx, session, c.ID)
		default:
			return svc.ViewUser(ctx, session, c.ID)
		}
	case ListEntitiesQuery:
		switch c.Op {
		case OpListGroups:
			return svc.ListGroups(ctx, session, c.Page)
		case OpListRoles:
			return svc.ListRoles(ctx, session, c.Page)
		default:
			return svc.ListUsers(ctx, session, c.Page)
		}
	case AuditTrailQuery:
		return svc.AuditTrail(ctx, session, c.Page)
	case WindowQuery:
		if c.Op == OpValidateIntegrity {
			return svc.ValidateAuditIntegrity(ctx, session, c.From, c.To)
		}
		return svc.ComplianceReport(ctx, session, c.From, c.To)
	case StatsQuery:
		switch c.Op {
		case OpBufferStats:
			return svc.BufferStats(ctx, session)
		case OpCacheStats:
			return svc.CacheStats(ctx, session)
		default:
			return svc.GraphStats(ctx, session)
		}
	}
	return nil, errors.Wrap(ErrUnknownOperation, errors.New(cmd.Kind()))
}
