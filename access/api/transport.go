// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package api exposes the HTTP transport of the access control service.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	kithttp "github.com/go-kit/kit/transport/http"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/acsio/acs/access"
	"github.com/acsio/acs/audit"
	"github.com/acsio/acs/entities"
	"github.com/acsio/acs/internal/api"
	"github.com/acsio/acs/pkg/apiutil"
	"github.com/acsio/acs/pkg/errors"
)

const (
	cascadeKey   = "cascade"
	fixKey       = "fix"
	inheritedKey = "include_inherited"
	olderThanKey = "older_than"
	exceptKey    = "except"
	fromKey      = "from"
	toKey        = "to"
	changedByKey = "changed_by"
	typeKey      = "change_type"
	entityKey    = "entity_id"
)

// MakeHandler returns the tenant-scoped HTTP API handler.
func MakeHandler(svc access.Service, logger *slog.Logger) http.Handler {
	opts := []kithttp.ServerOption{
		kithttp.ServerErrorEncoder(apiutil.LoggingErrorEncoder(logger, api.EncodeError)),
	}
	dedup := newDedupWindow(defDedupWindow)

	handler := func(name string, ep http.Handler) http.HandlerFunc {
		return otelhttp.NewHandler(ep, name).ServeHTTP
	}

	mux := chi.NewRouter()

	mux.Route("/users", func(r chi.Router) {
		r.Post("/", handler("create_user", kithttp.NewServer(
			dedup.wrap(createEntityEndpoint(svc, entities.UserKind)),
			decodeCreateEntityReq,
			api.EncodeResponse,
			opts...,
		)))
		r.Get("/", handler("list_users", kithttp.NewServer(
			listEntitiesEndpoint(svc, entities.UserKind),
			decodeListEntitiesReq,
			api.EncodeResponse,
			opts...,
		)))
		r.Get("/{entityID}", handler("view_user", kithttp.NewServer(
			viewEntityEndpoint(svc, entities.UserKind),
			decodeEntityReq,
			api.EncodeResponse,
			opts...,
		)))
	})

	mux.Route("/groups", func(r chi.Router) {
		r.Post("/", handler("create_group", kithttp.NewServer(
			dedup.wrap(createEntityEndpoint(svc, entities.GroupKind)),
			decodeCreateEntityReq,
			api.EncodeResponse,
			opts...,
		)))
		r.Get("/", handler("list_groups", kithttp.NewServer(
			listEntitiesEndpoint(svc, entities.GroupKind),
			decodeListEntitiesReq,
			api.EncodeResponse,
			opts...,
		)))
		r.Get("/{entityID}", handler("view_group", kithttp.NewServer(
			viewEntityEndpoint(svc, entities.GroupKind),
			decodeEntityReq,
			api.EncodeResponse,
			opts...,
		)))
		r.Post("/{parentID}/users/{childID}", handler("add_user_to_group", kithttp.NewServer(
			dedup.wrap(edgeEndpoint(func(ctx context.Context, session access.Session, childID, parentID uint64) error {
				return svc.AddUserToGroup(ctx, session, childID, parentID)
			})),
			decodeEdgeReq,
			api.EncodeResponse,
			opts...,
		)))
		r.Delete("/{parentID}/users/{childID}", handler("remove_user_from_group", kithttp.NewServer(
			dedup.wrap(edgeEndpoint(func(ctx context.Context, session access.Session, childID, parentID uint64) error {
				return svc.RemoveUserFromGroup(ctx, session, childID, parentID)
			})),
			decodeEdgeReq,
			api.EncodeResponse,
			opts...,
		)))
		r.Post("/{parentID}/groups/{childID}", handler("add_group_to_group", kithttp.NewServer(
			dedup.wrap(edgeEndpoint(func(ctx context.Context, session access.Session, childID, parentID uint64) error {
				return svc.AddGroupToGroup(ctx, session, childID, parentID)
			})),
			decodeEdgeReq,
			api.EncodeResponse,
			opts...,
		)))
		r.Delete("/{parentID}/groups/{childID}", handler("remove_group_from_group", kithttp.NewServer(
			dedup.wrap(edgeEndpoint(func(ctx context.Context, session access.Session, childID, parentID uint64) error {
				return svc.RemoveGroupFromGroup(ctx, session, childID, parentID)
			})),
			decodeEdgeReq,
			api.EncodeResponse,
			opts...,
		)))
		r.Post("/{parentID}/roles/{childID}", handler("add_role_to_group", kithttp.NewServer(
			dedup.wrap(edgeEndpoint(func(ctx context.Context, session access.Session, childID, parentID uint64) error {
				return svc.AddRoleToGroup(ctx, session, childID, parentID)
			})),
			decodeEdgeReq,
			api.EncodeResponse,
			opts...,
		)))
		r.Delete("/{parentID}/roles/{childID}", handler("remove_role_from_group", kithttp.NewServer(
			dedup.wrap(edgeEndpoint(func(ctx context.Context, session access.Session, childID, parentID uint64) error {
				return svc.RemoveRoleFromGroup(ctx, session, childID, parentID)
			})),
			decodeEdgeReq,
			api.EncodeResponse,
			opts...,
		)))
	})

	mux.Route("/roles", func(r chi.Router) {
		r.Post("/", handler("create_role", kithttp.NewServer(
			dedup.wrap(createEntityEndpoint(svc, entities.RoleKind)),
			decodeCreateEntityReq,
			api.EncodeResponse,
			opts...,
		)))
		r.Get("/", handler("list_roles", kithttp.NewServer(
			listEntitiesEndpoint(svc, entities.RoleKind),
			decodeListEntitiesReq,
			api.EncodeResponse,
			opts...,
		)))
		r.Get("/{entityID}", handler("view_role", kithttp.NewServer(
			viewEntityEndpoint(svc, entities.RoleKind),
			decodeEntityReq,
			api.EncodeResponse,
			opts...,
		)))
		r.Post("/{parentID}/users/{childID}", handler("add_user_to_role", kithttp.NewServer(
			dedup.wrap(edgeEndpoint(func(ctx context.Context, session access.Session, childID, parentID uint64) error {
				return svc.AddUserToRole(ctx, session, childID, parentID)
			})),
			decodeEdgeReq,
			api.EncodeResponse,
			opts...,
		)))
		r.Delete("/{parentID}/users/{childID}", handler("remove_user_from_role", kithttp.NewServer(
			dedup.wrap(edgeEndpoint(func(ctx context.Context, session access.Session, childID, parentID uint64) error {
				return svc.RemoveUserFromRole(ctx, session, childID, parentID)
			})),
			decodeEdgeReq,
			api.EncodeResponse,
			opts...,
		)))
	})

	mux.Route("/entities/{entityID}", func(r chi.Router) {
		r.Patch("/", handler("update_entity", kithttp.NewServer(
			dedup.wrap(updateEntityEndpoint(svc)),
			decodeUpdateEntityReq,
			api.EncodeResponse,
			opts...,
		)))
		r.Delete("/", handler("delete_entity", kithttp.NewServer(
			dedup.wrap(deleteEntityEndpoint(svc)),
			decodeEntityReq,
			api.EncodeResponse,
			opts...,
		)))
		r.Get("/members", handler("list_members", kithttp.NewServer(
			listMembersEndpoint(svc),
			decodeEntityReq,
			api.EncodeResponse,
			opts...,
		)))
		r.Get("/memberships", handler("list_memberships", kithttp.NewServer(
			listMembershipsEndpoint(svc),
			decodeEntityReq,
			api.EncodeResponse,
			opts...,
		)))
		r.Post("/permissions", handler("grant_permission", kithttp.NewServer(
			dedup.wrap(grantPermissionEndpoint(svc)),
			decodeGrantPermissionReq,
			api.EncodeResponse,
			opts...,
		)))
		r.Delete("/permissions", handler("revoke_permission", kithttp.NewServer(
			dedup.wrap(revokePermissionEndpoint(svc)),
			decodeRevokePermissionReq,
			api.EncodeResponse,
			opts...,
		)))
		r.Get("/permissions", handler("entity_permissions", kithttp.NewServer(
			entityPermissionsEndpoint(svc),
			decodeEntityPermissionsReq,
			api.EncodeResponse,
			opts...,
		)))
		r.Post("/effective", handler("effective_permissions", kithttp.NewServer(
			effectivePermissionsEndpoint(svc),
			decodeEffectivePermissionsReq,
			api.EncodeResponse,
			opts...,
		)))
		r.Get("/check", handler("check_permission", kithttp.NewServer(
			checkPermissionEndpoint(svc),
			decodeCheckPermissionReq,
			api.EncodeResponse,
			opts...,
		)))
	})

	mux.Route("/permissions", func(r chi.Router) {
		r.Post("/bulk", handler("bulk_permission_update", kithttp.NewServer(
			dedup.wrap(bulkPermissionEndpoint(svc)),
			decodeBulkPermissionReq,
			api.EncodeResponse,
			opts...,
		)))
		r.Post("/validate", handler("validate_permission_structure", kithttp.NewServer(
			dedup.wrap(validateStructureEndpoint(svc)),
			decodeValidateStructureReq,
			api.EncodeResponse,
			opts...,
		)))
		r.Get("/impact", handler("permission_impact", kithttp.NewServer(
			permissionImpactEndpoint(svc),
			decodeImpactReq,
			api.EncodeResponse,
			opts...,
		)))
	})

	mux.Route("/audit", func(r chi.Router) {
		r.Post("/records", handler("record_audit_event", kithttp.NewServer(
			dedup.wrap(recordAuditEndpoint(svc)),
			decodeRecordAuditReq,
			api.EncodeResponse,
			opts...,
		)))
		r.Get("/records", handler("audit_trail", kithttp.NewServer(
			auditTrailEndpoint(svc),
			decodeAuditTrailReq,
			api.EncodeResponse,
			opts...,
		)))
		r.Delete("/records", handler("purge_audit_data", kithttp.NewServer(
			dedup.wrap(purgeAuditEndpoint(svc)),
			decodePurgeAuditReq,
			api.EncodeResponse,
			opts...,
		)))
		r.Get("/integrity", handler("validate_audit_integrity", kithttp.NewServer(
			auditIntegrityEndpoint(svc),
			decodeTimeRangeReq,
			api.EncodeResponse,
			opts...,
		)))
		r.Get("/compliance", handler("compliance_report", kithttp.NewServer(
			complianceReportEndpoint(svc),
			decodeTimeRangeReq,
			api.EncodeResponse,
			opts...,
		)))
	})

	mux.Post("/violations", handler("report_access_violation", kithttp.NewServer(
		dedup.wrap(reportViolationEndpoint(svc)),
		decodeViolationReq,
		api.EncodeResponse,
		opts...,
	)))

	mux.Route("/stats", func(r chi.Router) {
		r.Get("/graph", handler("graph_stats", kithttp.NewServer(
			graphStatsEndpoint(svc),
			decodeStatsReq,
			api.EncodeResponse,
			opts...,
		)))
		r.Get("/buffer", handler("buffer_stats", kithttp.NewServer(
			bufferStatsEndpoint(svc),
			decodeStatsReq,
			api.EncodeResponse,
			opts...,
		)))
		r.Get("/cache", handler("cache_stats", kithttp.NewServer(
			cacheStatsEndpoint(svc),
			decodeStatsReq,
			api.EncodeResponse,
			opts...,
		)))
	})

	mux.Post("/execute", handler("execute", kithttp.NewServer(
		dedup.wrap(executeEndpoint(svc)),
		decodeExecuteReq,
		api.EncodeResponse,
		opts...,
	)))

	return mux
}

func sessionFromRequest(r *http.Request) access.Session {
	return access.Session{
		Actor:         apiutil.ExtractBearerToken(r),
		CorrelationID: r.Header.Get(api.CorrelationKey),
	}
}

func checkContentType(r *http.Request) error {
	if !strings.Contains(r.Header.Get("Content-Type"), api.ContentType) {
		return apiutil.ErrUnsupportedContentType
	}
	return nil
}

func readEntityID(r *http.Request, key string) (uint64, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, key), 10, 64)
	if err != nil {
		return 0, errors.Wrap(apiutil.ErrValidation, apiutil.ErrMissingID)
	}
	return id, nil
}

func decodeCreateEntityReq(_ context.Context, r *http.Request) (interface{}, error) {
	if err := checkContentType(r); err != nil {
		return nil, err
	}
	req := createEntityReq{session: sessionFromRequest(r)}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Wrap(apiutil.ErrValidation, errors.Wrap(apiutil.ErrMalformedEntity, err))
	}
	return req, nil
}

func decodeUpdateEntityReq(_ context.Context, r *http.Request) (interface{}, error) {
	if err := checkContentType(r); err != nil {
		return nil, err
	}
	id, err := readEntityID(r, "entityID")
	if err != nil {
		return nil, err
	}
	req := updateEntityReq{session: sessionFromRequest(r), id: id}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Wrap(apiutil.ErrValidation, errors.Wrap(apiutil.ErrMalformedEntity, err))
	}
	return req, nil
}

func decodeEntityReq(_ context.Context, r *http.Request) (interface{}, error) {
	id, err := readEntityID(r, "entityID")
	if err != nil {
		return nil, err
	}
	return entityReq{session: sessionFromRequest(r), id: id}, nil
}

func decodeListEntitiesReq(_ context.Context, r *http.Request) (interface{}, error) {
	offset, err := apiutil.ReadNumQuery[uint64](r, api.OffsetKey, api.DefOffset)
	if err != nil {
		return nil, errors.Wrap(apiutil.ErrValidation, err)
	}
	limit, err := apiutil.ReadNumQuery[uint64](r, api.LimitKey, api.DefLimit)
	if err != nil {
		return nil, errors.Wrap(apiutil.ErrValidation, err)
	}
	name, err := apiutil.ReadStringQuery(r, api.NameKey, "")
	if err != nil {
		return nil, errors.Wrap(apiutil.ErrValidation, err)
	}
	return listEntitiesReq{
		session: sessionFromRequest(r),
		pm: access.PageMetadata{
			Offset: offset,
			Limit:  limit,
			Name:   name,
		},
	}, nil
}

func decodeEdgeReq(_ context.Context, r *http.Request) (interface{}, error) {
	parentID, err := readEntityID(r, "parentID")
	if err != nil {
		return nil, err
	}
	childID, err := readEntityID(r, "childID")
	if err != nil {
		return nil, err
	}
	return edgeReq{
		session:  sessionFromRequest(r),
		childID:  childID,
		parentID: parentID,
	}, nil
}

func decodeGrantPermissionReq(_ context.Context, r *http.Request) (interface{}, error) {
	if err := checkContentType(r); err != nil {
		return nil, err
	}
	ownerID, err := readEntityID(r, "entityID")
	if err != nil {
		return nil, err
	}
	req := grantPermissionReq{session: sessionFromRequest(r), ownerID: ownerID}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Wrap(apiutil.ErrValidation, errors.Wrap(apiutil.ErrMalformedEntity, err))
	}
	return req, nil
}

func decodeRevokePermissionReq(_ context.Context, r *http.Request) (interface{}, error) {
	if err := checkContentType(r); err != nil {
		return nil, err
	}
	ownerID, err := readEntityID(r, "entityID")
	if err != nil {
		return nil, err
	}
	cascade, err := apiutil.ReadBoolQuery(r, cascadeKey, false)
	if err != nil {
		return nil, errors.Wrap(apiutil.ErrValidation, err)
	}
	req := revokePermissionReq{
		session: sessionFromRequest(r),
		ownerID: ownerID,
		cascade: cascade,
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Wrap(apiutil.ErrValidation, errors.Wrap(apiutil.ErrMalformedEntity, err))
	}
	return req, nil
}

func decodeBulkPermissionReq(_ context.Context, r *http.Request) (interface{}, error) {
	if err := checkContentType(r); err != nil {
		return nil, err
	}
	req := bulkPermissionReq{session: sessionFromRequest(r)}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Wrap(apiutil.ErrValidation, errors.Wrap(apiutil.ErrMalformedEntity, err))
	}
	return req, nil
}

func decodeCheckPermissionReq(_ context.Context, r *http.Request) (interface{}, error) {
	entityID, err := readEntityID(r, "entityID")
	if err != nil {
		return nil, err
	}
	uri, err := apiutil.ReadStringQuery(r, api.URIKey, "")
	if err != nil {
		return nil, errors.Wrap(apiutil.ErrValidation, err)
	}
	verbStr, err := apiutil.ReadStringQuery(r, api.VerbKey, "")
	if err != nil {
		return nil, errors.Wrap(apiutil.ErrValidation, err)
	}
	verb, err := entities.ToVerb(verbStr)
	if err != nil {
		return nil, errors.Wrap(apiutil.ErrValidation, apiutil.ErrInvalidVerb)
	}
	at, err := readTimeQuery(r, api.AtKey)
	if err != nil {
		return nil, err
	}
	return checkPermissionReq{
		session:  sessionFromRequest(r),
		entityID: entityID,
		uri:      uri,
		verb:     verb,
		at:       at,
	}, nil
}

func decodeEntityPermissionsReq(_ context.Context, r *http.Request) (interface{}, error) {
	entityID, err := readEntityID(r, "entityID")
	if err != nil {
		return nil, err
	}
	inherited, err := apiutil.ReadBoolQuery(r, inheritedKey, false)
	if err != nil {
		return nil, errors.Wrap(apiutil.ErrValidation, err)
	}
	return entityPermissionsReq{
		session:          sessionFromRequest(r),
		entityID:         entityID,
		includeInherited: inherited,
	}, nil
}

func decodeEffectivePermissionsReq(_ context.Context, r *http.Request) (interface{}, error) {
	if err := checkContentType(r); err != nil {
		return nil, err
	}
	entityID, err := readEntityID(r, "entityID")
	if err != nil {
		return nil, err
	}
	req := effectivePermissionsReq{session: sessionFromRequest(r), entityID: entityID}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Wrap(apiutil.ErrValidation, errors.Wrap(apiutil.ErrMalformedEntity, err))
	}
	return req, nil
}

func decodeRecordAuditReq(_ context.Context, r *http.Request) (interface{}, error) {
	if err := checkContentType(r); err != nil {
		return nil, err
	}
	req := recordAuditReq{session: sessionFromRequest(r)}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Wrap(apiutil.ErrValidation, errors.Wrap(apiutil.ErrMalformedEntity, err))
	}
	return req, nil
}

func decodePurgeAuditReq(_ context.Context, r *http.Request) (interface{}, error) {
	olderThan, err := readTimeQuery(r, olderThanKey)
	if err != nil {
		return nil, err
	}
	req := purgeAuditReq{session: sessionFromRequest(r)}
	if olderThan != nil {
		req.olderThan = *olderThan
	}
	except, err := apiutil.ReadStringQuery(r, exceptKey, "")
	if err != nil {
		return nil, errors.Wrap(apiutil.ErrValidation, err)
	}
	if except != "" {
		for _, name := range strings.Split(except, ",") {
			ct, err := audit.ToChangeType(strings.TrimSpace(name))
			if err != nil {
				return nil, errors.Wrap(apiutil.ErrValidation, apiutil.ErrInvalidChangeType)
			}
			req.exceptTypes = append(req.exceptTypes, ct)
		}
	}
	return req, nil
}

func decodeViolationReq(_ context.Context, r *http.Request) (interface{}, error) {
	if err := checkContentType(r); err != nil {
		return nil, err
	}
	req := violationReq{session: sessionFromRequest(r)}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Wrap(apiutil.ErrValidation, errors.Wrap(apiutil.ErrMalformedEntity, err))
	}
	return req, nil
}

func decodeValidateStructureReq(_ context.Context, r *http.Request) (interface{}, error) {
	fix, err := apiutil.ReadBoolQuery(r, fixKey, false)
	if err != nil {
		return nil, errors.Wrap(apiutil.ErrValidation, err)
	}
	return validateStructureReq{session: sessionFromRequest(r), fix: fix}, nil
}

func decodeAuditTrailReq(_ context.Context, r *http.Request) (interface{}, error) {
	offset, err := apiutil.ReadNumQuery[uint64](r, api.OffsetKey, api.DefOffset)
	if err != nil {
		return nil, errors.Wrap(apiutil.ErrValidation, err)
	}
	limit, err := apiutil.ReadNumQuery[uint64](r, api.LimitKey, api.DefLimit)
	if err != nil {
		return nil, errors.Wrap(apiutil.ErrValidation, err)
	}
	entityID, err := apiutil.ReadNumQuery[uint64](r, entityKey, 0)
	if err != nil {
		return nil, errors.Wrap(apiutil.ErrValidation, err)
	}
	changeType, err := apiutil.ReadStringQuery(r, typeKey, "")
	if err != nil {
		return nil, errors.Wrap(apiutil.ErrValidation, err)
	}
	changedBy, err := apiutil.ReadStringQuery(r, changedByKey, "")
	if err != nil {
		return nil, errors.Wrap(apiutil.ErrValidation, err)
	}
	page := audit.Page{
		Offset:     offset,
		Limit:      limit,
		EntityID:   entityID,
		ChangeType: changeType,
		ChangedBy:  changedBy,
	}
	if from, err := readTimeQuery(r, fromKey); err != nil {
		return nil, err
	} else if from != nil {
		page.From = *from
	}
	if to, err := readTimeQuery(r, toKey); err != nil {
		return nil, err
	} else if to != nil {
		page.To = *to
	}
	return auditTrailReq{session: sessionFromRequest(r), page: page}, nil
}

func decodeTimeRangeReq(_ context.Context, r *http.Request) (interface{}, error) {
	req := timeRangeReq{session: sessionFromRequest(r)}
	if from, err := readTimeQuery(r, fromKey); err != nil {
		return nil, err
	} else if from != nil {
		req.from = *from
	}
	if to, err := readTimeQuery(r, toKey); err != nil {
		return nil, err
	} else if to != nil {
		req.to = *to
	}
	return req, nil
}

func decodeImpactReq(_ context.Context, r *http.Request) (interface{}, error) {
	uri, err := apiutil.ReadStringQuery(r, api.URIKey, "")
	if err != nil {
		return nil, errors.Wrap(apiutil.ErrValidation, err)
	}
	verbStr, err := apiutil.ReadStringQuery(r, api.VerbKey, "")
	if err != nil {
		return nil, errors.Wrap(apiutil.ErrValidation, err)
	}
	verb, err := entities.ToVerb(verbStr)
	if err != nil {
		return nil, errors.Wrap(apiutil.ErrValidation, apiutil.ErrInvalidVerb)
	}
	depth, err := apiutil.ReadNumQuery[int64](r, api.DepthKey, 0)
	if err != nil {
		return nil, errors.Wrap(apiutil.ErrValidation, err)
	}
	return impactReq{
		session: sessionFromRequest(r),
		uri:     uri,
		verb:    verb,
		depth:   int(depth),
	}, nil
}

func decodeStatsReq(_ context.Context, r *http.Request) (interface{}, error) {
	return statsReq{session: sessionFromRequest(r)}, nil
}

func decodeExecuteReq(_ context.Context, r *http.Request) (interface{}, error) {
	if err := checkContentType(r); err != nil {
		return nil, err
	}
	var op access.Operation
	if err := json.NewDecoder(r.Body).Decode(&op); err != nil {
		return nil, errors.Wrap(apiutil.ErrValidation, errors.Wrap(apiutil.ErrMalformedEntity, err))
	}
	session := sessionFromRequest(r)
	if op.CorrelationID == "" {
		op.CorrelationID = session.CorrelationID
	}
	if op.RequestedBy == "" {
		op.RequestedBy = session.Actor
	}
	if op.RequestedAt.IsZero() {
		op.RequestedAt = time.Now()
	}
	return executeReq{session: op.Session(), op: op}, nil
}

func readTimeQuery(r *http.Request, key string) (*time.Time, error) {
	val, err := apiutil.ReadStringQuery(r, key, "")
	if err != nil {
		return nil, errors.Wrap(apiutil.ErrValidation, err)
	}
	if val == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return nil, errors.Wrap(apiutil.ErrValidation, apiutil.ErrInvalidTimeFormat)
	}
	return &t, nil
}
