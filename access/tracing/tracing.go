// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tracing

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/acsio/acs/access"
	"github.com/acsio/acs/audit"
	"github.com/acsio/acs/entities"
)

var _ access.Service = (*tracingMiddleware)(nil)

type tracingMiddleware struct {
	tracer trace.Tracer
	svc    access.Service
}

// New returns an access control service with tracing capabilities.
func New(svc access.Service, tracer trace.Tracer) access.Service {
	return &tracingMiddleware{tracer, svc}
}

func (tm *tracingMiddleware) CreateUser(ctx context.Context, session access.Session, user entities.Entity) (entities.Entity, error) {
	ctx, span := tm.tracer.Start(ctx, "create_user", trace.WithAttributes(
		attribute.String("name", user.Name),
	))
	defer span.End()

	return tm.svc.CreateUser(ctx, session, user)
}

func (tm *tracingMiddleware) CreateGroup(ctx context.Context, session access.Session, group entities.Entity) (entities.Entity, error) {
	ctx, span := tm.tracer.Start(ctx, "create_group", trace.WithAttributes(
		attribute.String("name", group.Name),
	))
	defer span.End()

	return tm.svc.CreateGroup(ctx, session, group)
}

func (tm *tracingMiddleware) CreateRole(ctx context.Context, session access.Session, role entities.Entity) (entities.Entity, error) {
	ctx, span := tm.tracer.Start(ctx, "create_role", trace.WithAttributes(
		attribute.String("name", role.Name),
	))
	defer span.End()

	return tm.svc.CreateRole(ctx, session, role)
}

func (tm *tracingMiddleware) UpdateEntity(ctx context.Context, session access.Session, entity entities.Entity) (entities.Entity, error) {
	ctx, span := tm.tracer.Start(ctx, "update_entity", trace.WithAttributes(
		attribute.Int64("id", int64(entity.ID)),
	))
	defer span.End()

	return tm.svc.UpdateEntity(ctx, session, entity)
}

func (tm *tracingMiddleware) DeleteEntity(ctx context.Context, session access.Session, id uint64) error {
	ctx, span := tm.tracer.Start(ctx, "delete_entity", trace.WithAttributes(
		attribute.Int64("id", int64(id)),
	))
	defer span.End()

	return tm.svc.DeleteEntity(ctx, session, id)
}

func (tm *tracingMiddleware) AddUserToGroup(ctx context.Context, session access.Session, userID, groupID uint64) error {
	ctx, span := tm.tracer.Start(ctx, "add_user_to_group", trace.WithAttributes(
		attribute.Int64("user_id", int64(userID)),
		attribute.Int64("group_id", int64(groupID)),
	))
	defer span.End()

	return tm.svc.AddUserToGroup(ctx, session, userID, groupID)
}

func (tm *tracingMiddleware) RemoveUserFromGroup(ctx context.Context, session access.Session, userID, groupID uint64) error {
	ctx, span := tm.tracer.Start(ctx, "remove_user_from_group", trace.WithAttributes(
		attribute.Int64("user_id", int64(userID)),
		attribute.Int64("group_id", int64(groupID)),
	))
	defer span.End()

	return tm.svc.RemoveUserFromGroup(ctx, session, userID, groupID)
}

func (tm *tracingMiddleware) AddGroupToGroup(ctx context.Context, session access.Session, childID, parentID uint64) error {
	ctx, span := tm.tracer.Start(ctx, "add_group_to_group", trace.WithAttributes(
		attribute.Int64("child_id", int64(childID)),
		attribute.Int64("parent_id", int64(parentID)),
	))
	defer span.End()

	return tm.svc.AddGroupToGroup(ctx, session, childID, parentID)
}

func (tm *tracingMiddleware) RemoveGroupFromGroup(ctx context.Context, session access.Session, childID, parentID uint64) error {
	ctx, span := tm.tracer.Start(ctx, "remove_group_from_group", trace.WithAttributes(
		attribute.Int64("child_id", int64(childID)),
		attribute.Int64("parent_id", int64(parentID)),
	))
	defer span.End()

	return tm.svc.RemoveGroupFromGroup(ctx, session, childID, parentID)
}

func (tm *tracingMiddleware) AddRoleToGroup(ctx context.Context, session access.Session, roleID, groupID uint64) error {
	ctx, span := tm.tracer.Start(ctx, "add_role_to_group", trace.WithAttributes(
		attribute.Int64("role_id", int64(roleID)),
		attribute.Int64("group_id", int64(groupID)),
	))
	defer span.End()

	return tm.svc.AddRoleToGroup(ctx, session, roleID, groupID)
}

func (tm *tracingMiddleware) RemoveRoleFromGroup(ctx context.Context, session access.Session, roleID, groupID uint64) error {
	ctx, span := tm.tracer.Start(ctx, "remove_role_from_group", trace.WithAttributes(
		attribute.Int64("role_id", int64(roleID)),
		attribute.Int64("group_id", int64(groupID)),
	))
	defer span.End()

	return tm.svc.RemoveRoleFromGroup(ctx, session, roleID, groupID)
}

func (tm *tracingMiddleware) AddUserToRole(ctx context.Context, session access.Session, userID, roleID uint64) error {
	ctx, span := tm.tracer.Start(ctx, "add_user_to_role", trace.WithAttributes(
		attribute.Int64("user_id", int64(userID)),
		attribute.Int64("role_id", int64(roleID)),
	))
	defer span.End()

	return tm.svc.AddUserToRole(ctx, session, userID, roleID)
}

func (tm *tracingMiddleware) RemoveUserFromRole(ctx context.Context, session access.Session, userID, roleID uint64) error {
	ctx, span := tm.tracer.Start(ctx, "remove_user_from_role", trace.WithAttributes(
		attribute.Int64("user_id", int64(userID)),
		attribute.Int64("role_id", int64(roleID)),
	))
	defer span.End()

	return tm.svc.RemoveUserFromRole(ctx, session, userID, roleID)
}

func (tm *tracingMiddleware) GrantPermission(ctx context.Context, session access.Session, ownerID uint64, perm entities.Permission) error {
	ctx, span := tm.tracer.Start(ctx, "grant_permission", trace.WithAttributes(
		attribute.Int64("owner_id", int64(ownerID)),
		attribute.String("uri", perm.URI),
		attribute.String("verb", perm.Verb.String()),
		attribute.String("effect", perm.Effect.String()),
	))
	defer span.End()

	return tm.svc.GrantPermission(ctx, session, ownerID, perm)
}

func (tm *tracingMiddleware) RevokePermission(ctx context.Context, session access.Session, ownerID uint64, perm entities.Permission, cascade bool) error {
	ctx, span := tm.tracer.Start(ctx, "revoke_permission", trace.WithAttributes(
		attribute.Int64("owner_id", int64(ownerID)),
		attribute.String("uri", perm.URI),
		attribute.String("verb", perm.Verb.String()),
		attribute.Bool("cascade", cascade),
	))
	defer span.End()

	return tm.svc.RevokePermission(ctx, session, ownerID, perm, cascade)
}

func (tm *tracingMiddleware) BulkPermissionUpdate(ctx context.Context, session access.Session, ops []access.PermissionOp, opts access.BulkOptions) (access.BulkResult, error) {
	ctx, span := tm.tracer.Start(ctx, "bulk_permission_update", trace.WithAttributes(
		attribute.Int("total", len(ops)),
		attribute.Bool("transactional", opts.Transactional),
	))
	defer span.End()

	return tm.svc.BulkPermissionUpdate(ctx, session, ops, opts)
}

func (tm *tracingMiddleware) RecordAuditEvent(ctx context.Context, session access.Session, record audit.Record) error {
	ctx, span := tm.tracer.Start(ctx, "record_audit_event", trace.WithAttributes(
		attribute.String("change_type", record.ChangeType.String()),
	))
	defer span.End()

	return tm.svc.RecordAuditEvent(ctx, session, record)
}

func (tm *tracingMiddleware) PurgeAuditData(ctx context.Context, session access.Session, olderThan time.Time, exceptTypes []audit.ChangeType) (int64, error) {
	ctx, span := tm.tracer.Start(ctx, "purge_audit_data", trace.WithAttributes(
		attribute.String("older_than", olderThan.Format(time.RFC3339)),
	))
	defer span.End()

	return tm.svc.PurgeAuditData(ctx, session, olderThan, exceptTypes)
}

func (tm *tracingMiddleware) ReportAccessViolation(ctx context.Context, session access.Session, violation access.Violation) error {
	ctx, span := tm.tracer.Start(ctx, "report_access_violation", trace.WithAttributes(
		attribute.Int64("entity_id", int64(violation.EntityID)),
		attribute.String("uri", violation.URI),
	))
	defer span.End()

	return tm.svc.ReportAccessViolation(ctx, session, violation)
}

func (tm *tracingMiddleware) ValidatePermissionStructure(ctx context.Context, session access.Session, fix bool) (access.StructureReport, error) {
	ctx, span := tm.tracer.Start(ctx, "validate_permission_structure", trace.WithAttributes(
		attribute.Bool("fix", fix),
	))
	defer span.End()

	return tm.svc.ValidatePermissionStructure(ctx, session, fix)
}

func (tm *tracingMiddleware) CheckPermission(ctx context.Context, session access.Session, entityID uint64, uri string, verb entities.Verb, at *time.Time) (bool, error) {
	ctx, span := tm.tracer.Start(ctx, "check_permission", trace.WithAttributes(
		attribute.Int64("entity_id", int64(entityID)),
		attribute.String("uri", uri),
		attribute.String("verb", verb.String()),
	))
	defer span.End()

	return tm.svc.CheckPermission(ctx, session, entityID, uri, verb, at)
}

func (tm *tracingMiddleware) EntityPermissions(ctx context.Context, session access.Session, entityID uint64, includeInherited bool) ([]entities.Permission, error) {
	ctx, span := tm.tracer.Start(ctx, "entity_permissions", trace.WithAttributes(
		attribute.Int64("entity_id", int64(entityID)),
		attribute.Bool("include_inherited", includeInherited),
	))
	defer span.End()

	return tm.svc.EntityPermissions(ctx, session, entityID, includeInherited)
}

func (tm *tracingMiddleware) EffectivePermissions(ctx context.Context, session access.Session, entityID uint64, resourceURIs []string, resolveConflicts bool) ([]access.ResourceDecision, error) {
	ctx, span := tm.tracer.Start(ctx, "effective_permissions", trace.WithAttributes(
		attribute.Int64("entity_id", int64(entityID)),
		attribute.Int("resources", len(resourceURIs)),
	))
	defer span.End()

	return tm.svc.EffectivePermissions(ctx, session, entityID, resourceURIs, resolveConflicts)
}

func (tm *tracingMiddleware) ViewUser(ctx context.Context, session access.Session, id uint64) (entities.Entity, error) {
	ctx, span := tm.tracer.Start(ctx, "view_user", trace.WithAttributes(
		attribute.Int64("id", int64(id)),
	))
	defer span.End()

	return tm.svc.ViewUser(ctx, session, id)
}

func (tm *tracingMiddleware) ViewGroup(ctx context.Context, session access.Session, id uint64) (entities.Entity, error) {
	ctx, span := tm.tracer.Start(ctx, "view_group", trace.WithAttributes(
		attribute.Int64("id", int64(id)),
	))
	defer span.End()

	return tm.svc.ViewGroup(ctx, session, id)
}

func (tm *tracingMiddleware) ViewRole(ctx context.Context, session access.Session, id uint64) (entities.Entity, error) {
	ctx, span := tm.tracer.Start(ctx, "view_role", trace.WithAttributes(
		attribute.Int64("id", int64(id)),
	))
	defer span.End()

	return tm.svc.ViewRole(ctx, session, id)
}

func (tm *tracingMiddleware) ListUsers(ctx context.Context, session access.Session, pm access.PageMetadata) (access.EntitiesPage, error) {
	ctx, span := tm.tracer.Start(ctx, "list_users", trace.WithAttributes(
		attribute.Int64("offset", int64(pm.Offset)),
		attribute.Int64("limit", int64(pm.Limit)),
	))
	defer span.End()

	return tm.svc.ListUsers(ctx, session, pm)
}

func (tm *tracingMiddleware) ListGroups(ctx context.Context, session access.Session, pm access.PageMetadata) (access.EntitiesPage, error) {
	ctx, span := tm.tracer.Start(ctx, "list_groups", trace.WithAttributes(
		attribute.Int64("offset", int64(pm.Offset)),
		attribute.Int64("limit", int64(pm.Limit)),
	))
	defer span.End()

	return tm.svc.ListGroups(ctx, session, pm)
}

func (tm *tracingMiddleware) ListRoles(ctx context.Context, session access.Session, pm access.PageMetadata) (access.EntitiesPage, error) {
	ctx, span := tm.tracer.Start(ctx, "list_roles", trace.WithAttributes(
		attribute.Int64("offset", int64(pm.Offset)),
		attribute.Int64("limit", int64(pm.Limit)),
	))
	defer span.End()

	return tm.svc.ListRoles(ctx, session, pm)
}

func (tm *tracingMiddleware) ListMembers(ctx context.Context, session access.Session, id uint64) ([]entities.Entity, error) {
	ctx, span := tm.tracer.Start(ctx, "list_members", trace.WithAttributes(
		attribute.Int64("id", int64(id)),
	))
	defer span.End()

	return tm.svc.ListMembers(ctx, session, id)
}

func (tm *tracingMiddleware) ListMemberships(ctx context.Context, session access.Session, id uint64) ([]entities.Entity, error) {
	ctx, span := tm.tracer.Start(ctx, "list_memberships", trace.WithAttributes(
		attribute.Int64("id", int64(id)),
	))
	defer span.End()

	return tm.svc.ListMemberships(ctx, session, id)
}

func (tm *tracingMiddleware) AuditTrail(ctx context.Context, session access.Session, page audit.Page) (audit.RecordsPage, error) {
	ctx, span := tm.tracer.Start(ctx, "audit_trail", trace.WithAttributes(
		attribute.Int64("offset", int64(page.Offset)),
		attribute.Int64("limit", int64(page.Limit)),
	))
	defer span.End()

	return tm.svc.AuditTrail(ctx, session, page)
}

func (tm *tracingMiddleware) ComplianceReport(ctx context.Context, session access.Session, from, to time.Time) (access.ComplianceReport, error) {
	ctx, span := tm.tracer.Start(ctx, "compliance_report", trace.WithAttributes(
		attribute.String("from", from.Format(time.RFC3339)),
		attribute.String("to", to.Format(time.RFC3339)),
	))
	defer span.End()

	return tm.svc.ComplianceReport(ctx, session, from, to)
}

func (tm *tracingMiddleware) ValidateAuditIntegrity(ctx context.Context, session access.Session, from, to time.Time) (audit.IntegrityReport, error) {
	ctx, span := tm.tracer.Start(ctx, "validate_audit_integrity")
	defer span.End()

	return tm.svc.ValidateAuditIntegrity(ctx, session, from, to)
}

func (tm *tracingMiddleware) PermissionImpact(ctx context.Context, session access.Session, resourceURI string, verb entities.Verb, depth int) (access.ImpactReport, error) {
	ctx, span := tm.tracer.Start(ctx, "permission_impact", trace.WithAttributes(
		attribute.String("uri", resourceURI),
		attribute.String("verb", verb.String()),
		attribute.Int("depth", depth),
	))
	defer span.End()

	return tm.svc.PermissionImpact(ctx, session, resourceURI, verb, depth)
}

func (tm *tracingMiddleware) GraphStats(ctx context.Context, session access.Session) (entities.Stats, error) {
	ctx, span := tm.tracer.Start(ctx, "graph_stats")
	defer span.End()

	return tm.svc.GraphStats(ctx, session)
}

func (tm *tracingMiddleware) BufferStats(ctx context.Context, session access.Session) (access.BufferStats, error) {
	ctx, span := tm.tracer.Start(ctx, "buffer_stats")
	defer span.End()

	return tm.svc.BufferStats(ctx, session)
}

func (tm *tracingMiddleware) CacheStats(ctx context.Context, session access.Session) (access.CacheStats, error) {
	ctx, span := tm.tracer.Start(ctx, "cache_stats")
	defer span.End()

	return tm.svc.CacheStats(ctx, session)
}
