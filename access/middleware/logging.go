// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/acsio/acs/access"
	"github.com/acsio/acs/audit"
	"github.com/acsio/acs/entities"
)

var _ access.Service = (*loggingMiddleware)(nil)

type loggingMiddleware struct {
	logger  *slog.Logger
	service access.Service
}

// LoggingMiddleware adds logging facilities to the service.
func LoggingMiddleware(service access.Service, logger *slog.Logger) access.Service {
	return &loggingMiddleware{
		logger:  logger,
		service: service,
	}
}

func (lm *loggingMiddleware) logOp(begin time.Time, op string, err error, args ...any) {
	args = append([]any{slog.String("duration", time.Since(begin).String())}, args...)
	if err != nil {
		args = append(args, slog.Any("error", err))
		lm.logger.Warn(op+" failed", args...)
		return
	}
	lm.logger.Info(op+" completed successfully", args...)
}

func (lm *loggingMiddleware) CreateUser(ctx context.Context, session access.Session, user entities.Entity) (e entities.Entity, err error) {
	defer func(begin time.Time) {
		lm.logOp(begin, "Create user", err, slog.Group("user",
			slog.Uint64("id", e.ID),
			slog.String("name", user.Name),
		))
	}(time.Now())

	return lm.service.CreateUser(ctx, session, user)
}

func (lm *loggingMiddleware) CreateGroup(ctx context.Context, session access.Session, group entities.Entity) (e entities.Entity, err error) {
	defer func(begin time.Time) {
		lm.logOp(begin, "Create group", err, slog.Group("group",
			slog.Uint64("id", e.ID),
			slog.String("name", group.Name),
		))
	}(time.Now())

	return lm.service.CreateGroup(ctx, session, group)
}

func (lm *loggingMiddleware) CreateRole(ctx context.Context, session access.Session, role entities.Entity) (e entities.Entity, err error) {
	defer func(begin time.Time) {
		lm.logOp(begin, "Create role", err, slog.Group("role",
			slog.Uint64("id", e.ID),
			slog.String("name", role.Name),
		))
	}(time.Now())

	return lm.service.CreateRole(ctx, session, role)
}

func (lm *loggingMiddleware) UpdateEntity(ctx context.Context, session access.Session, entity entities.Entity) (e entities.Entity, err error) {
	defer func(begin time.Time) {
		lm.logOp(begin, "Update entity", err, slog.Group("entity",
			slog.Uint64("id", entity.ID),
			slog.String("name", entity.Name),
		))
	}(time.Now())

	return lm.service.UpdateEntity(ctx, session, entity)
}

func (lm *loggingMiddleware) DeleteEntity(ctx context.Context, session access.Session, id uint64) (err error) {
	defer func(begin time.Time) {
		lm.logOp(begin, "Delete entity", err, slog.Uint64("entity_id", id))
	}(time.Now())

	return lm.service.DeleteEntity(ctx, session, id)
}

func (lm *loggingMiddleware) AddUserToGroup(ctx context.Context, session access.Session, userID, groupID uint64) (err error) {
	defer func(begin time.Time) {
		lm.logOp(begin, "Add user to group", err,
			slog.Uint64("user_id", userID),
			slog.Uint64("group_id", groupID),
		)
	}(time.Now())

	return lm.service.AddUserToGroup(ctx, session, userID, groupID)
}

func (lm *loggingMiddleware) RemoveUserFromGroup(ctx context.Context, session access.Session, userID, groupID uint64) (err error) {
	defer func(begin time.Time) {
		lm.logOp(begin, "Remove user from group", err,
			slog.Uint64("user_id", userID),
			slog.Uint64("group_id", groupID),
		)
	}(time.Now())

	return lm.service.RemoveUserFromGroup(ctx, session, userID, groupID)
}

func (lm *loggingMiddleware) AddGroupToGroup(ctx context.Context, session access.Session, childID, parentID uint64) (err error) {
	defer func(begin time.Time) {
		lm.logOp(begin, "Add group to group", err,
			slog.Uint64("child_id", childID),
			slog.Uint64("parent_id", parentID),
		)
	}(time.Now())

	return lm.service.AddGroupToGroup(ctx, session, childID, parentID)
}

func (lm *loggingMiddleware) RemoveGroupFromGroup(ctx context.Context, session access.Session, childID, parentID uint64) (err error) {
	defer func(begin time.Time) {
		lm.logOp(begin, "Remove group from group", err,
			slog.Uint64("child_id", childID),
			slog.Uint64("parent_id", parentID),
		)
	}(time.Now())

	return lm.service.RemoveGroupFromGroup(ctx, session, childID, parentID)
}

func (lm *loggingMiddleware) AddRoleToGroup(ctx context.Context, session access.Session, roleID, groupID uint64) (err error) {
	defer func(begin time.Time) {
		lm.logOp(begin, "Add role to group", err,
			slog.Uint64("role_id", roleID),
			slog.Uint64("group_id", groupID),
		)
	}(time.Now())

	return lm.service.AddRoleToGroup(ctx, session, roleID, groupID)
}

func (lm *loggingMiddleware) RemoveRoleFromGroup(ctx context.Context, session access.Session, roleID, groupID uint64) (err error) {
	defer func(begin time.Time) {
		lm.logOp(begin, "Remove role from group", err,
			slog.Uint64("role_id", roleID),
			slog.Uint64("group_id", groupID),
		)
	}(time.Now())

	return lm.service.RemoveRoleFromGroup(ctx, session, roleID, groupID)
}

func (lm *loggingMiddleware) AddUserToRole(ctx context.Context, session access.Session, userID, roleID uint64) (err error) {
	defer func(begin time.Time) {
		lm.logOp(begin, "Add user to role", err,
			slog.Uint64("user_id", userID),
			slog.Uint64("role_id", roleID),
		)
	}(time.Now())

	return lm.service.AddUserToRole(ctx, session, userID, roleID)
}

func (lm *loggingMiddleware) RemoveUserFromRole(ctx context.Context, session access.Session, userID, roleID uint64) (err error) {
	defer func(begin time.Time) {
		lm.logOp(begin, "Remove user from role", err,
			slog.Uint64("user_id", userID),
			slog.Uint64("role_id", roleID),
		)
	}(time.Now())

	return lm.service.RemoveUserFromRole(ctx, session, userID, roleID)
}

func (lm *loggingMiddleware) GrantPermission(ctx context.Context, session access.Session, ownerID uint64, perm entities.Permission) (err error) {
	defer func(begin time.Time) {
		lm.logOp(begin, "Grant permission", err, slog.Group("permission",
			slog.Uint64("owner_id", ownerID),
			slog.String("uri", perm.URI),
			slog.String("verb", perm.Verb.String()),
			slog.String("effect", perm.Effect.String()),
		))
	}(time.Now())

	return lm.service.GrantPermission(ctx, session, ownerID, perm)
}

func (lm *loggingMiddleware) RevokePermission(ctx context.Context, session access.Session, ownerID uint64, perm entities.Permission, cascade bool) (err error) {
	defer func(begin time.Time) {
		lm.logOp(begin, "Revoke permission", err, slog.Group("permission",
			slog.Uint64("owner_id", ownerID),
			slog.String("uri", perm.URI),
			slog.String("verb", perm.Verb.String()),
			slog.Bool("cascade", cascade),
		))
	}(time.Now())

	return lm.service.RevokePermission(ctx, session, ownerID, perm, cascade)
}

func (lm *loggingMiddleware) BulkPermissionUpdate(ctx context.Context, session access.Session, ops []access.PermissionOp, opts access.BulkOptions) (res access.BulkResult, err error) {
	defer func(begin time.Time) {
		lm.logOp(begin, "Bulk permission update", err, slog.Group("batch",
			slog.Int("total", len(ops)),
			slog.Int("successful", res.Successful),
			slog.Int("failed", res.Failed),
			slog.Bool("transactional", opts.Transactional),
		))
	}(time.Now())

	return lm.service.BulkPermissionUpdate(ctx, session, ops, opts)
}

func (lm *loggingMiddleware) RecordAuditEvent(ctx context.Context, session access.Session, record audit.Record) (err error) {
	defer func(begin time.Time) {
		lm.logOp(begin, "Record audit event", err, slog.Group("record",
			slog.String("change_type", record.ChangeType.String()),
			slog.Uint64("entity_id", record.EntityID),
		))
	}(time.Now())

	return lm.service.RecordAuditEvent(ctx, session, record)
}

func (lm *loggingMiddleware) PurgeAuditData(ctx context.Context, session access.Session, olderThan time.Time, exceptTypes []audit.ChangeType) (purged int64, err error) {
	defer func(begin time.Time) {
		lm.logOp(begin, "Purge audit data", err,
			slog.Time("older_than", olderThan),
			slog.Int64("purged", purged),
		)
	}(time.Now())

	return lm.service.PurgeAuditData(ctx, session, olderThan, exceptTypes)
}

func (lm *loggingMiddleware) ReportAccessViolation(ctx context.Context, session access.Session, violation access.Violation) (err error) {
	defer func(begin time.Time) {
		lm.logOp(begin, "Report access violation", err, slog.Group("violation",
			slog.Uint64("entity_id", violation.EntityID),
			slog.String("uri", violation.URI),
			slog.String("verb", violation.Verb.String()),
		))
	}(time.Now())

	return lm.service.ReportAccessViolation(ctx, session, violation)
}

func (lm *loggingMiddleware) ValidatePermissionStructure(ctx context.Context, session access.Session, fix bool) (report access.StructureReport, err error) {
	defer func(begin time.Time) {
		lm.logOp(begin, "Validate permission structure", err, slog.Group("report",
			slog.Uint64("checked", report.Checked),
			slog.Uint64("expired", report.Expired),
			slog.Uint64("duplicates", report.Duplicates),
			slog.Uint64("fixed", report.Fixed),
		))
	}(time.Now())

	return lm.service.ValidatePermissionStructure(ctx, session, fix)
}

func (lm *loggingMiddleware) CheckPermission(ctx context.Context, session access.Session, entityID uint64, uri string, verb entities.Verb, at *time.Time) (allowed bool, err error) {
	defer func(begin time.Time) {
		lm.logOp(begin, "Check permission", err, slog.Group("check",
			slog.Uint64("entity_id", entityID),
			slog.String("uri", uri),
			slog.String("verb", verb.String()),
			slog.Bool("allowed", allowed),
		))
	}(time.Now())

	return lm.service.CheckPermission(ctx, session, entityID, uri, verb, at)
}

func (lm *loggingMiddleware) EntityPermissions(ctx context.Context, session access.Session, entityID uint64, includeInherited bool) (perms []entities.Permission, err error) {
	defer func(begin time.Time) {
		lm.logOp(begin, "List entity permissions", err,
			slog.Uint64("entity_id", entityID),
			slog.Bool("include_inherited", includeInherited),
			slog.Int("count", len(perms)),
		)
	}(time.Now())

	return lm.service.EntityPermissions(ctx, session, entityID, includeInherited)
}

func (lm *loggingMiddleware) EffectivePermissions(ctx context.Context, session access.Session, entityID uint64, resourceURIs []string, resolveConflicts bool) (decisions []access.ResourceDecision, err error) {
	defer func(begin time.Time) {
		lm.logOp(begin, "Resolve effective permissions", err,
			slog.Uint64("entity_id", entityID),
			slog.Int("resources", len(resourceURIs)),
		)
	}(time.Now())

	return lm.service.EffectivePermissions(ctx, session, entityID, resourceURIs, resolveConflicts)
}

func (lm *loggingMiddleware) ViewUser(ctx context.Context, session access.Session, id uint64) (e entities.Entity, err error) {
	defer func(begin time.Time) {
		lm.logOp(begin, "View user", err, slog.Uint64("user_id", id))
	}(time.Now())

	return lm.service.ViewUser(ctx, session, id)
}

func (lm *loggingMiddleware) ViewGroup(ctx context.Context, session access.Session, id uint64) (e entities.Entity, err error) {
	defer func(begin time.Time) {
		lm.logOp(begin, "View group", err, slog.Uint64("group_id", id))
	}(time.Now())

	return lm.service.ViewGroup(ctx, session, id)
}

func (lm *loggingMiddleware) ViewRole(ctx context.Context, session access.Session, id uint64) (e entities.Entity, err error) {
	defer func(begin time.Time) {
		lm.logOp(begin, "View role", err, slog.Uint64("role_id", id))
	}(time.Now())

	return lm.service.ViewRole(ctx, session, id)
}

func (lm *loggingMiddleware) ListUsers(ctx context.Context, session access.Session, pm access.PageMetadata) (page access.EntitiesPage, err error) {
	defer func(begin time.Time) {
		lm.logOp(begin, "List users", err, lm.pageGroup(pm, page))
	}(time.Now())

	return lm.service.ListUsers(ctx, session, pm)
}

func (lm *loggingMiddleware) ListGroups(ctx context.Context, session access.Session, pm access.PageMetadata) (page access.EntitiesPage, err error) {
	defer func(begin time.Time) {
		lm.logOp(begin, "List groups", err, lm.pageGroup(pm, page))
	}(time.Now())

	return lm.service.ListGroups(ctx, session, pm)
}

func (lm *loggingMiddleware) ListRoles(ctx context.Context, session access.Session, pm access.PageMetadata) (page access.EntitiesPage, err error) {
	defer func(begin time.Time) {
		lm.logOp(begin, "List roles", err, lm.pageGroup(pm, page))
	}(time.Now())

	return lm.service.ListRoles(ctx, session, pm)
}

func (lm *loggingMiddleware) pageGroup(pm access.PageMetadata, page access.EntitiesPage) slog.Attr {
	return slog.Group("page",
		slog.Uint64("offset", pm.Offset),
		slog.Uint64("limit", pm.Limit),
		slog.Uint64("total", page.Total),
	)
}

func (lm *loggingMiddleware) ListMembers(ctx context.Context, session access.Session, id uint64) (members []entities.Entity, err error) {
	defer func(begin time.Time) {
		lm.logOp(begin, "List members", err,
			slog.Uint64("entity_id", id),
			slog.Int("count", len(members)),
		)
	}(time.Now())

	return lm.service.ListMembers(ctx, session, id)
}

func (lm *loggingMiddleware) ListMemberships(ctx context.Context, session access.Session, id uint64) (memberships []entities.Entity, err error) {
	defer func(begin time.Time) {
		lm.logOp(begin, "List memberships", err,
			slog.Uint64("entity_id", id),
			slog.Int("count", len(memberships)),
		)
	}(time.Now())

	return lm.service.ListMemberships(ctx, session, id)
}

func (lm *loggingMiddleware) AuditTrail(ctx context.Context, session access.Session, page audit.Page) (recordsPage audit.RecordsPage, err error) {
	defer func(begin time.Time) {
		lm.logOp(begin, "Retrieve audit trail", err, slog.Group("page",
			slog.Uint64("offset", page.Offset),
			slog.Uint64("limit", page.Limit),
			slog.Uint64("total", recordsPage.Total),
		))
	}(time.Now())

	return lm.service.AuditTrail(ctx, session, page)
}

func (lm *loggingMiddleware) ComplianceReport(ctx context.Context, session access.Session, from, to time.Time) (report access.ComplianceReport, err error) {
	defer func(begin time.Time) {
		lm.logOp(begin, "Compliance report", err,
			slog.Time("from", from),
			slog.Time("to", to),
			slog.Uint64("total_changes", report.TotalChanges),
		)
	}(time.Now())

	return lm.service.ComplianceReport(ctx, session, from, to)
}

func (lm *loggingMiddleware) ValidateAuditIntegrity(ctx context.Context, session access.Session, from, to time.Time) (report audit.IntegrityReport, err error) {
	defer func(begin time.Time) {
		lm.logOp(begin, "Validate audit integrity", err,
			slog.Uint64("checked", report.TotalChecked),
			slog.Int("issues", len(report.Issues)),
		)
	}(time.Now())

	return lm.service.ValidateAuditIntegrity(ctx, session, from, to)
}

func (lm *loggingMiddleware) PermissionImpact(ctx context.Context, session access.Session, resourceURI string, verb entities.Verb, depth int) (report access.ImpactReport, err error) {
	defer func(begin time.Time) {
		lm.logOp(begin, "Permission impact", err,
			slog.String("uri", resourceURI),
			slog.String("verb", verb.String()),
			slog.Uint64("total", report.Total),
		)
	}(time.Now())

	return lm.service.PermissionImpact(ctx, session, resourceURI, verb, depth)
}

func (lm *loggingMiddleware) GraphStats(ctx context.Context, session access.Session) (stats entities.Stats, err error) {
	defer func(begin time.Time) {
		lm.logOp(begin, "Graph stats", err)
	}(time.Now())

	return lm.service.GraphStats(ctx, session)
}

func (lm *loggingMiddleware) BufferStats(ctx context.Context, session access.Session) (stats access.BufferStats, err error) {
	defer func(begin time.Time) {
		lm.logOp(begin, "Buffer stats", err)
	}(time.Now())

	return lm.service.BufferStats(ctx, session)
}

func (lm *loggingMiddleware) CacheStats(ctx context.Context, session access.Session) (stats access.CacheStats, err error) {
	defer func(begin time.Time) {
		lm.logOp(begin, "Cache stats", err)
	}(time.Now())

	return lm.service.CacheStats(ctx, session)
}
