// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"context"
	"time"

	"github.com/go-kit/kit/metrics"

	"github.com/acsio/acs/access"
	"github.com/acsio/acs/audit"
	"github.com/acsio/acs/entities"
)

var _ access.Service = (*metricsMiddleware)(nil)

type metricsMiddleware struct {
	counter metrics.Counter
	latency metrics.Histogram
	service access.Service
}

// MetricsMiddleware instruments the service with method call counters and
// latency histograms.
func MetricsMiddleware(service access.Service, counter metrics.Counter, latency metrics.Histogram) access.Service {
	return &metricsMiddleware{
		counter: counter,
		latency: latency,
		service: service,
	}
}

func (mm *metricsMiddleware) observe(begin time.Time, method string) {
	mm.counter.With("method", method).Add(1)
	mm.latency.With("method", method).Observe(time.Since(begin).Seconds())
}

func (mm *metricsMiddleware) CreateUser(ctx context.Context, session access.Session, user entities.Entity) (entities.Entity, error) {
	defer func(begin time.Time) { mm.observe(begin, "create_user") }(time.Now())
	return mm.service.CreateUser(ctx, session, user)
}

func (mm *metricsMiddleware) CreateGroup(ctx context.Context, session access.Session, group entities.Entity) (entities.Entity, error) {
	defer func(begin time.Time) { mm.observe(begin, "create_group") }(time.Now())
	return mm.service.CreateGroup(ctx, session, group)
}

func (mm *metricsMiddleware) CreateRole(ctx context.Context, session access.Session, role entities.Entity) (entities.Entity, error) {
	defer func(begin time.Time) { mm.observe(begin, "create_role") }(time.Now())
	return mm.service.CreateRole(ctx, session, role)
}

func (mm *metricsMiddleware) UpdateEntity(ctx context.Context, session access.Session, entity entities.Entity) (entities.Entity, error) {
	defer func(begin time.Time) { mm.observe(begin, "update_entity") }(time.Now())
	return mm.service.UpdateEntity(ctx, session, entity)
}

func (mm *metricsMiddleware) DeleteEntity(ctx context.Context, session access.Session, id uint64) error {
	defer func(begin time.Time) { mm.observe(begin, "delete_entity") }(time.Now())
	return mm.service.DeleteEntity(ctx, session, id)
}

func (mm *metricsMiddleware) AddUserToGroup(ctx context.Context, session access.Session, userID, groupID uint64) error {
	defer func(begin time.Time) { mm.observe(begin, "add_user_to_group") }(time.Now())
	return mm.service.AddUserToGroup(ctx, session, userID, groupID)
}

func (mm *metricsMiddleware) RemoveUserFromGroup(ctx context.Context, session access.Session, userID, groupID uint64) error {
	defer func(begin time.Time) { mm.observe(begin, "remove_user_from_group") }(time.Now())
	return mm.service.RemoveUserFromGroup(ctx, session, userID, groupID)
}

func (mm *metricsMiddleware) AddGroupToGroup(ctx context.Context, session access.Session, childID, parentID uint64) error {
	defer func(begin time.Time) { mm.observe(begin, "add_group_to_group") }(time.Now())
	return mm.service.AddGroupToGroup(ctx, session, childID, parentID)
}

func (mm *metricsMiddleware) RemoveGroupFromGroup(ctx context.Context, session access.Session, childID, parentID uint64) error {
	defer func(begin time.Time) { mm.observe(begin, "remove_group_from_group") }(time.Now())
	return mm.service.RemoveGroupFromGroup(ctx, session, childID, parentID)
}

func (mm *metricsMiddleware) AddRoleToGroup(ctx context.Context, session access.Session, roleID, groupID uint64) error {
	defer func(begin time.Time) { mm.observe(begin, "add_role_to_group") }(time.Now())
	return mm.service.AddRoleToGroup(ctx, session, roleID, groupID)
}

func (mm *metricsMiddleware) RemoveRoleFromGroup(ctx context.Context, session access.Session, roleID, groupID uint64) error {
	defer func(begin time.Time) { mm.observe(begin, "remove_role_from_group") }(time.Now())
	return mm.service.RemoveRoleFromGroup(ctx, session, roleID, groupID)
}

func (mm *metricsMiddleware) AddUserToRole(ctx context.Context, session access.Session, userID, roleID uint64) error {
	defer func(begin time.Time) { mm.observe(begin, "add_user_to_role") }(time.Now())
	return mm.service.AddUserToRole(ctx, session, userID, roleID)
}

func (mm *metricsMiddleware) RemoveUserFromRole(ctx context.Context, session access.Session, userID, roleID uint64) error {
	defer func(begin time.Time) { mm.observe(begin, "remove_user_from_role") }(time.Now())
	return mm.service.RemoveUserFromRole(ctx, session, userID, roleID)
}

func (mm *metricsMiddleware) GrantPermission(ctx context.Context, session access.Session, ownerID uint64, perm entities.Permission) error {
	defer func(begin time.Time) { mm.observe(begin, "grant_permission") }(time.Now())
	return mm.service.GrantPermission(ctx, session, ownerID, perm)
}

func (mm *metricsMiddleware) RevokePermission(ctx context.Context, session access.Session, ownerID uint64, perm entities.Permission, cascade bool) error {
	defer func(begin time.Time) { mm.observe(begin, "revoke_permission") }(time.Now())
	return mm.service.RevokePermission(ctx, session, ownerID, perm, cascade)
}

func (mm *metricsMiddleware) BulkPermissionUpdate(ctx context.Context, session access.Session, ops []access.PermissionOp, opts access.BulkOptions) (access.BulkResult, error) {
	defer func(begin time.Time) { mm.observe(begin, "bulk_permission_update") }(time.Now())
	return mm.service.BulkPermissionUpdate(ctx, session, ops, opts)
}

func (mm *metricsMiddleware) RecordAuditEvent(ctx context.Context, session access.Session, record audit.Record) error {
	defer func(begin time.Time) { mm.observe(begin, "record_audit_event") }(time.Now())
	return mm.service.RecordAuditEvent(ctx, session, record)
}

func (mm *metricsMiddleware) PurgeAuditData(ctx context.Context, session access.Session, olderThan time.Time, exceptTypes []audit.ChangeType) (int64, error) {
	defer func(begin time.Time) { mm.observe(begin, "purge_audit_data") }(time.Now())
	return mm.service.PurgeAuditData(ctx, session, olderThan, exceptTypes)
}

func (mm *metricsMiddleware) ReportAccessViolation(ctx context.Context, session access.Session, violation access.Violation) error {
	defer func(begin time.Time) { mm.observe(begin, "report_access_violation") }(time.Now())
	return mm.service.ReportAccessViolation(ctx, session, violation)
}

func (mm *metricsMiddleware) ValidatePermissionStructure(ctx context.Context, session access.Session, fix bool) (access.StructureReport, error) {
	defer func(begin time.Time) { mm.observe(begin, "validate_permission_structure") }(time.Now())
	return mm.service.ValidatePermissionStructure(ctx, session, fix)
}

func (mm *metricsMiddleware) CheckPermission(ctx context.Context, session access.Session, entityID uint64, uri string, verb entities.Verb, at *time.Time) (bool, error) {
	defer func(begin time.Time) { mm.observe(begin, "check_permission") }(time.Now())
	return mm.service.CheckPermission(ctx, session, entityID, uri, verb, at)
}

func (mm *metricsMiddleware) EntityPermissions(ctx context.Context, session access.Session, entityID uint64, includeInherited bool) ([]entities.Permission, error) {
	defer func(begin time.Time) { mm.observe(begin, "entity_permissions") }(time.Now())
	return mm.service.EntityPermissions(ctx, session, entityID, includeInherited)
}

func (mm *metricsMiddleware) EffectivePermissions(ctx context.Context, session access.Session, entityID uint64, resourceURIs []string, resolveConflicts bool) ([]access.ResourceDecision, error) {
	defer func(begin time.Time) { mm.observe(begin, "effective_permissions") }(time.Now())
	return mm.service.EffectivePermissions(ctx, session, entityID, resourceURIs, resolveConflicts)
}

func (mm *metricsMiddleware) ViewUser(ctx context.Context, session access.Session, id uint64) (entities.Entity, error) {
	defer func(begin time.Time) { mm.observe(begin, "view_user") }(time.Now())
	return mm.service.ViewUser(ctx, session, id)
}

func (mm *metricsMiddleware) ViewGroup(ctx context.Context, session access.Session, id uint64) (entities.Entity, error) {
	defer func(begin time.Time) { mm.observe(begin, "view_group") }(time.Now())
	return mm.service.ViewGroup(ctx, session, id)
}

func (mm *metricsMiddleware) ViewRole(ctx context.Context, session access.Session, id uint64) (entities.Entity, error) {
	defer func(begin time.Time) { mm.observe(begin, "view_role") }(time.Now())
	return mm.service.ViewRole(ctx, session, id)
}

func (mm *metricsMiddleware) ListUsers(ctx context.Context, session access.Session, pm access.PageMetadata) (access.EntitiesPage, error) {
	defer func(begin time.Time) { mm.observe(begin, "list_users") }(time.Now())
	return mm.service.ListUsers(ctx, session, pm)
}

func (mm *metricsMiddleware) ListGroups(ctx context.Context, session access.Session, pm access.PageMetadata) (access.EntitiesPage, error) {
	defer func(begin time.Time) { mm.observe(begin, "list_groups") }(time.Now())
	return mm.service.ListGroups(ctx, session, pm)
}

func (mm *metricsMiddleware) ListRoles(ctx context.Context, session access.Session, pm access.PageMetadata) (access.EntitiesPage, error) {
	defer func(begin time.Time) { mm.observe(begin, "list_roles") }(time.Now())
	return mm.service.ListRoles(ctx, session, pm)
}

func (mm *metricsMiddleware) ListMembers(ctx context.Context, session access.Session, id uint64) ([]entities.Entity, error) {
	defer func(begin time.Time) { mm.observe(begin, "list_members") }(time.Now())
	return mm.service.ListMembers(ctx, session, id)
}

func (mm *metricsMiddleware) ListMemberships(ctx context.Context, session access.Session, id uint64) ([]entities.Entity, error) {
	defer func(begin time.Time) { mm.observe(begin, "list_memberships") }(time.Now())
	return mm.service.ListMemberships(ctx, session, id)
}

func (mm *metricsMiddleware) AuditTrail(ctx context.Context, session access.Session, page audit.Page) (audit.RecordsPage, error) {
	defer func(begin time.Time) { mm.observe(begin, "audit_trail") }(time.Now())
	return mm.service.AuditTrail(ctx, session, page)
}

func (mm *metricsMiddleware) ComplianceReport(ctx context.Context, session access.Session, from, to time.Time) (access.ComplianceReport, error) {
	defer func(begin time.Time) { mm.observe(begin, "compliance_report") }(time.Now())
	return mm.service.ComplianceReport(ctx, session, from, to)
}

func (mm *metricsMiddleware) ValidateAuditIntegrity(ctx context.Context, session access.Session, from, to time.Time) (audit.IntegrityReport, error) {
	defer func(begin time.Time) { mm.observe(begin, "validate_audit_integrity") }(time.Now())
	return mm.service.ValidateAuditIntegrity(ctx, session, from, to)
}

func (mm *metricsMiddleware) PermissionImpact(ctx context.Context, session access.Session, resourceURI string, verb entities.Verb, depth int) (access.ImpactReport, error) {
	defer func(begin time.Time) { mm.observe(begin, "permission_impact") }(time.Now())
	return mm.service.PermissionImpact(ctx, session, resourceURI, verb, depth)
}

func (mm *metricsMiddleware) GraphStats(ctx context.Context, session access.Session) (entities.Stats, error) {
	defer func(begin time.Time) { mm.observe(begin, "graph_stats") }(time.Now())
	return mm.service.GraphStats(ctx, session)
}

func (mm *metricsMiddleware) BufferStats(ctx context.Context, session access.Session) (access.BufferStats, error) {
	defer func(begin time.Time) { mm.observe(begin, "buffer_stats") }(time.Now())
	return mm.service.BufferStats(ctx, session)
}

func (mm *metricsMiddleware) CacheStats(ctx context.Context, session access.Session) (access.CacheStats, error) {
	defer func(begin time.Time) { mm.observe(begin, "cache_stats") }(time.Now())
	return mm.service.CacheStats(ctx, session)
}
