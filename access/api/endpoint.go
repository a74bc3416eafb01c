// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"

	"github.com/go-kit/kit/endpoint"

	"github.com/acsio/acs/access"
	"github.com/acsio/acs/entities"
	"github.com/acsio/acs/pkg/apiutil"
	"github.com/acsio/acs/pkg/errors"
)

func createEntityEndpoint(svc access.Service, kind entities.Kind) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(createEntityReq)
		if err := req.validate(); err != nil {
			return nil, errors.Wrap(apiutil.ErrValidation, err)
		}

		entity := entities.Entity{ID: req.ID, Kind: kind, Name: req.Name, Metadata: req.Metadata}
		var created entities.Entity
		var err error
		switch kind {
		case entities.GroupKind:
			created, err = svc.CreateGroup(ctx, req.session, entity)
		case entities.RoleKind:
			created, err = svc.CreateRole(ctx, req.session, entity)
		default:
			created, err = svc.CreateUser(ctx, req.session, entity)
		}
		if err != nil {
			return nil, err
		}

		return entityRes{Entity: created, created: true}, nil
	}
}

func viewEntityEndpoint(svc access.Service, kind entities.Kind) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(entityReq)
		if err := req.validate(); err != nil {
			return nil, errors.Wrap(apiutil.ErrValidation, err)
		}

		var entity entities.Entity
		var err error
		switch kind {
		case entities.GroupKind:
			entity, err = svc.ViewGroup(ctx, req.session, req.id)
		case entities.RoleKind:
			entity, err = svc.ViewRole(ctx, req.session, req.id)
		default:
			entity, err = svc.ViewUser(ctx, req.session, req.id)
		}
		if err != nil {
			return nil, err
		}

		return entityRes{Entity: entity}, nil
	}
}

func listEntitiesEndpoint(svc access.Service, kind entities.Kind) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(listEntitiesReq)
		if err := req.validate(); err != nil {
			return nil, errors.Wrap(apiutil.ErrValidation, err)
		}

		var page access.EntitiesPage
		var err error
		switch kind {
		case entities.GroupKind:
			page, err = svc.ListGroups(ctx, req.session, req.pm)
		case entities.RoleKind:
			page, err = svc.ListRoles(ctx, req.session, req.pm)
		default:
			page, err = svc.ListUsers(ctx, req.session, req.pm)
		}
		if err != nil {
			return nil, err
		}

		return entitiesPageRes{page}, nil
	}
}

func updateEntityEndpoint(svc access.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(updateEntityReq)
		if err := req.validate(); err != nil {
			return nil, errors.Wrap(apiutil.ErrValidation, err)
		}

		updated, err := svc.UpdateEntity(ctx, req.session, entities.Entity{
			ID:       req.id,
			Name:     req.Name,
			Metadata: req.Metadata,
		})
		if err != nil {
			return nil, err
		}

		return entityRes{Entity: updated}, nil
	}
}

func deleteEntityEndpoint(svc access.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(entityReq)
		if err := req.validate(); err != nil {
			return nil, errors.Wrap(apiutil.ErrValidation, err)
		}

		if err := svc.DeleteEntity(ctx, req.session, req.id); err != nil {
			return nil, err
		}

		return deleteRes{}, nil
	}
}

// edgeOp is the service call an edge endpoint dispatches to.
type edgeOp func(ctx context.Context, session access.Session, childID, parentID uint64) error

func edgeEndpoint(op edgeOp) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(edgeReq)
		if err := req.validate(); err != nil {
			return nil, errors.Wrap(apiutil.ErrValidation, err)
		}

		if err := op(ctx, req.session, req.childID, req.parentID); err != nil {
			return nil, err
		}

		return edgeRes{}, nil
	}
}

func listMembersEndpoint(svc access.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(entityReq)
		if err := req.validate(); err != nil {
			return nil, errors.Wrap(apiutil.ErrValidation, err)
		}

		members, err := svc.ListMembers(ctx, req.session, req.id)
		if err != nil {
			return nil, err
		}

		return membersRes{Members: members}, nil
	}
}

func listMembershipsEndpoint(svc access.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(entityReq)
		if err := req.validate(); err != nil {
			return nil, errors.Wrap(apiutil.ErrValidation, err)
		}

		memberships, err := svc.ListMemberships(ctx, req.session, req.id)
		if err != nil {
			return nil, err
		}

		return membershipsRes{Memberships: memberships}, nil
	}
}

func grantPermissionEndpoint(svc access.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(grantPermissionReq)
		if err := req.validate(); err != nil {
			return nil, errors.Wrap(apiutil.ErrValidation, err)
		}

		perm, err := req.Permission.toPermission()
		if err != nil {
			return nil, errors.Wrap(apiutil.ErrValidation, err)
		}
		if err := svc.GrantPermission(ctx, req.session, req.ownerID, perm); err != nil {
			return nil, err
		}

		return grantRes{}, nil
	}
}

func revokePermissionEndpoint(svc access.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(revokePermissionReq)
		if err := req.validate(); err != nil {
			return nil, errors.Wrap(apiutil.ErrValidation, err)
		}

		perm, err := req.Permission.toPermission()
		if err != nil {
			return nil, errors.Wrap(apiutil.ErrValidation, err)
		}
		if err := svc.RevokePermission(ctx, req.session, req.ownerID, perm, req.cascade); err != nil {
			return nil, err
		}

		return revokeRes{}, nil
	}
}

func bulkPermissionEndpoint(svc access.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(bulkPermissionReq)
		if err := req.validate(); err != nil {
			return nil, errors.Wrap(apiutil.ErrValidation, err)
		}

		ops, err := req.toOps()
		if err != nil {
			return nil, errors.Wrap(apiutil.ErrValidation, err)
		}
		result, err := svc.BulkPermissionUpdate(ctx, req.session, ops, req.BulkOptions)
		if err != nil {
			return nil, err
		}

		return bulkRes{result}, nil
	}
}

func checkPermissionEndpoint(svc access.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(checkPermissionReq)
		if err := req.validate(); err != nil {
			return nil, errors.Wrap(apiutil.ErrValidation, err)
		}

		allowed, err := svc.CheckPermission(ctx, req.session, req.entityID, req.uri, req.verb, req.at)
		if err != nil {
			return nil, err
		}

		return checkRes{Allowed: allowed}, nil
	}
}

func entityPermissionsEndpoint(svc access.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(entityPermissionsReq)
		if err := req.validate(); err != nil {
			return nil, errors.Wrap(apiutil.ErrValidation, err)
		}

		perms, err := svc.EntityPermissions(ctx, req.session, req.entityID, req.includeInherited)
		if err != nil {
			return nil, err
		}

		return permissionsRes{Permissions: perms}, nil
	}
}

func effectivePermissionsEndpoint(svc access.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(effectivePermissionsReq)
		if err := req.validate(); err != nil {
			return nil, errors.Wrap(apiutil.ErrValidation, err)
		}

		decisions, err := svc.EffectivePermissions(ctx, req.session, req.entityID, req.ResourceURIs, req.ResolveConflicts)
		if err != nil {
			return nil, err
		}

		return decisionsRes{Decisions: decisions}, nil
	}
}

func recordAuditEndpoint(svc access.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(recordAuditReq)
		if err := req.validate(); err != nil {
			return nil, errors.Wrap(apiutil.ErrValidation, err)
		}

		if err := svc.RecordAuditEvent(ctx, req.session, req.toRecord()); err != nil {
			return nil, err
		}

		return recordRes{}, nil
	}
}

func purgeAuditEndpoint(svc access.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(purgeAuditReq)
		if err := req.validate(); err != nil {
			return nil, errors.Wrap(apiutil.ErrValidation, err)
		}

		purged, err := svc.PurgeAuditData(ctx, req.session, req.olderThan, req.exceptTypes)
		if err != nil {
			return nil, err
		}

		return purgeRes{Purged: purged}, nil
	}
}

func reportViolationEndpoint(svc access.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(violationReq)
		if err := req.validate(); err != nil {
			return nil, errors.Wrap(apiutil.ErrValidation, err)
		}

		if err := svc.ReportAccessViolation(ctx, req.session, req.toViolation()); err != nil {
			return nil, err
		}

		return recordRes{}, nil
	}
}

func validateStructureEndpoint(svc access.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(validateStructureReq)
		if err := req.validate(); err != nil {
			return nil, errors.Wrap(apiutil.ErrValidation, err)
		}

		report, err := svc.ValidatePermissionStructure(ctx, req.session, req.fix)
		if err != nil {
			return nil, err
		}

		return structureRes{report}, nil
	}
}

func auditTrailEndpoint(svc access.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(auditTrailReq)
		if err := req.validate(); err != nil {
			return nil, errors.Wrap(apiutil.ErrValidation, err)
		}

		page, err := svc.AuditTrail(ctx, req.session, req.page)
		if err != nil {
			return nil, err
		}

		return auditPageRes{page}, nil
	}
}

func complianceReportEndpoint(svc access.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(timeRangeReq)
		if err := req.validate(); err != nil {
			return nil, errors.Wrap(apiutil.ErrValidation, err)
		}

		report, err := svc.ComplianceReport(ctx, req.session, req.from, req.to)
		if err != nil {
			return nil, err
		}

		return complianceRes{report}, nil
	}
}

func auditIntegrityEndpoint(svc access.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(timeRangeReq)
		if err := req.validate(); err != nil {
			return nil, errors.Wrap(apiutil.ErrValidation, err)
		}

		report, err := svc.ValidateAuditIntegrity(ctx, req.session, req.from, req.to)
		if err != nil {
			return nil, err
		}

		return integrityRes{report}, nil
	}
}

func permissionImpactEndpoint(svc access.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(impactReq)
		if err := req.validate(); err != nil {
			return nil, errors.Wrap(apiutil.ErrValidation, err)
		}

		report, err := svc.PermissionImpact(ctx, req.session, req.uri, req.verb, req.depth)
		if err != nil {
			return nil, err
		}

		return impactRes{report}, nil
	}
}

func graphStatsEndpoint(svc access.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(statsReq)
		stats, err := svc.GraphStats(ctx, req.session)
		if err != nil {
			return nil, err
		}

		return graphStatsRes{stats}, nil
	}
}

func bufferStatsEndpoint(svc access.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(statsReq)
		stats, err := svc.BufferStats(ctx, req.session)
		if err != nil {
			return nil, err
		}

		return bufferStatsRes{stats}, nil
	}
}

func cacheStatsEndpoint(svc access.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(statsReq)
		stats, err := svc.CacheStats(ctx, req.session)
		if err != nil {
			return nil, err
		}

		return cacheStatsRes{stats}, nil
	}
}

func executeEndpoint(svc access.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(executeReq)
		if err := req.validate(); err != nil {
			return nil, errors.Wrap(apiutil.ErrValidation, err)
		}

		cmd, err := access.Translate(req.op)
		if err != nil {
			return nil, err
		}
		result, err := access.Execute(ctx, svc, req.session, cmd)
		if err != nil {
			return nil, err
		}

		return executeRes{Kind: cmd.Kind(), Result: result}, nil
	}
}
