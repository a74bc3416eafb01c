// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"time"

	"github.com/acsio/acs/access"
	"github.com/acsio/acs/audit"
	"github.com/acsio/acs/entities"
	"github.com/acsio/acs/internal/api"
	"github.com/acsio/acs/pkg/apiutil"
)

// correlated is implemented by mutation requests so the dedupe window can key
// replays on the correlation ID.
type correlated interface {
	correlation() string
}

type createEntityReq struct {
	session  access.Session
	ID       uint64            `json:"id"`
	Name     string            `json:"name"`
	Metadata entities.Metadata `json:"metadata,omitempty"`
}

func (req createEntityReq) correlation() string { return req.session.CorrelationID }

func (req createEntityReq) validate() error {
	if req.ID == 0 {
		return apiutil.ErrMissingID
	}
	if req.Name == "" {
		return apiutil.ErrMissingName
	}
	if len(req.Name) > api.MaxNameSize {
		return apiutil.ErrNameSize
	}
	return nil
}

type updateEntityReq struct {
	session  access.Session
	id       uint64
	Name     string            `json:"name"`
	Metadata entities.Metadata `json:"metadata,omitempty"`
}

func (req updateEntityReq) correlation() string { return req.session.CorrelationID }

func (req updateEntityReq) validate() error {
	if req.id == 0 {
		return apiutil.ErrMissingID
	}
	if req.Name == "" {
		return apiutil.ErrMissingName
	}
	return nil
}

type entityReq struct {
	session access.Session
	id      uint64
}

func (req entityReq) correlation() string { return req.session.CorrelationID }

func (req entityReq) validate() error {
	if req.id == 0 {
		return apiutil.ErrMissingID
	}
	return nil
}

type listEntitiesReq struct {
	session access.Session
	pm      access.PageMetadata
}

func (req listEntitiesReq) validate() error {
	if req.pm.Limit > api.MaxLimitSize {
		return apiutil.ErrLimitSize
	}
	return nil
}

type edgeReq struct {
	session  access.Session
	childID  uint64
	parentID uint64
}

func (req edgeReq) correlation() string { return req.session.CorrelationID }

func (req edgeReq) validate() error {
	if req.childID == 0 || req.parentID == 0 {
		return apiutil.ErrMissingID
	}
	return nil
}

type grantPermissionReq struct {
	session    access.Session
	ownerID    uint64
	Permission permissionPayload `json:"permission"`
}

func (req grantPermissionReq) correlation() string { return req.session.CorrelationID }

func (req grantPermissionReq) validate() error {
	if req.ownerID == 0 {
		return apiutil.ErrMissingID
	}
	if req.Permission.URI == "" {
		return apiutil.ErrMissingURI
	}
	return nil
}

type revokePermissionReq struct {
	session    access.Session
	ownerID    uint64
	cascade    bool
	Permission permissionPayload `json:"permission"`
}

func (req revokePermissionReq) correlation() string { return req.session.CorrelationID }

func (req revokePermissionReq) validate() error {
	if req.ownerID == 0 {
		return apiutil.ErrMissingID
	}
	if req.Permission.URI == "" {
		return apiutil.ErrMissingURI
	}
	return nil
}

// permissionPayload is the wire form of a permission with enums as strings.
type permissionPayload struct {
	URI       string            `json:"uri"`
	Verb      string            `json:"verb"`
	Effect    string            `json:"effect"`
	Scheme    string            `json:"scheme,omitempty"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
	Metadata  entities.Metadata `json:"metadata,omitempty"`
}

func (p permissionPayload) toPermission() (entities.Permission, error) {
	verb, err := entities.ToVerb(p.Verb)
	if err != nil {
		return entities.Permission{}, apiutil.ErrInvalidVerb
	}
	effect, err := entities.ToEffect(p.Effect)
	if err != nil {
		return entities.Permission{}, apiutil.ErrInvalidEffect
	}
	return entities.Permission{
		URI:       p.URI,
		Verb:      verb,
		Effect:    effect,
		Scheme:    p.Scheme,
		ExpiresAt: p.ExpiresAt,
		Metadata:  p.Metadata,
	}, nil
}

type bulkPermissionReq struct {
	session access.Session
	access.BulkOptions
	Ops []bulkOpPayload `json:"operations"`
}

type bulkOpPayload struct {
	Action     string            `json:"action"`
	OwnerID    uint64            `json:"owner_id"`
	Permission permissionPayload `json:"permission"`
}

func (req bulkPermissionReq) correlation() string { return req.session.CorrelationID }

func (req bulkPermissionReq) validate() error {
	if len(req.Ops) == 0 {
		return apiutil.ErrEmptyList
	}
	return nil
}

func (req bulkPermissionReq) toOps() ([]access.PermissionOp, error) {
	ops := make([]access.PermissionOp, 0, len(req.Ops))
	for _, op := range req.Ops {
		perm, err := op.Permission.toPermission()
		if err != nil {
			return nil, err
		}
		ops = append(ops, access.PermissionOp{
			Action:     op.Action,
			OwnerID:    op.OwnerID,
			Permission: perm,
		})
	}
	return ops, nil
}

type checkPermissionReq struct {
	session  access.Session
	entityID uint64
	uri      string
	verb     entities.Verb
	at       *time.Time
}

func (req checkPermissionReq) validate() error {
	if req.entityID == 0 {
		return apiutil.ErrMissingID
	}
	if req.uri == "" {
		return apiutil.ErrMissingURI
	}
	return nil
}

type entityPermissionsReq struct {
	session          access.Session
	entityID         uint64
	includeInherited bool
}

func (req entityPermissionsReq) validate() error {
	if req.entityID == 0 {
		return apiutil.ErrMissingID
	}
	return nil
}

type effectivePermissionsReq struct {
	session          access.Session
	entityID         uint64
	ResourceURIs     []string `json:"resource_uris"`
	ResolveConflicts bool     `json:"resolve_conflicts,omitempty"`
}

func (req effectivePermissionsReq) validate() error {
	if req.entityID == 0 {
		return apiutil.ErrMissingID
	}
	if len(req.ResourceURIs) == 0 {
		return apiutil.ErrEmptyList
	}
	return nil
}

type recordAuditReq struct {
	session    access.Session
	EntityType string                 `json:"entity_type"`
	EntityID   uint64                 `json:"entity_id"`
	ChangeType string                 `json:"change_type"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

func (req recordAuditReq) correlation() string { return req.session.CorrelationID }

func (req recordAuditReq) validate() error {
	if _, err := audit.ToChangeType(req.ChangeType); err != nil {
		return apiutil.ErrInvalidChangeType
	}
	return nil
}

func (req recordAuditReq) toRecord() audit.Record {
	changeType, _ := audit.ToChangeType(req.ChangeType)
	return audit.Record{
		EntityType:    req.EntityType,
		EntityID:      req.EntityID,
		ChangeType:    changeType,
		ChangedBy:     req.session.Actor,
		Details:       req.Details,
		CorrelationID: req.session.CorrelationID,
	}
}

type purgeAuditReq struct {
	session     access.Session
	olderThan   time.Time
	exceptTypes []audit.ChangeType
}

func (req purgeAuditReq) correlation() string { return req.session.CorrelationID }

func (req purgeAuditReq) validate() error {
	if req.olderThan.IsZero() {
		return apiutil.ErrInvalidTimeFormat
	}
	return nil
}

type violationReq struct {
	session  access.Session
	EntityID uint64 `json:"entity_id"`
	URI      string `json:"uri"`
	Verb     string `json:"verb"`
	Reason   string `json:"reason,omitempty"`
}

func (req violationReq) correlation() string { return req.session.CorrelationID }

func (req violationReq) validate() error {
	if req.URI == "" {
		return apiutil.ErrMissingURI
	}
	if _, err := entities.ToVerb(req.Verb); err != nil {
		return apiutil.ErrInvalidVerb
	}
	return nil
}

func (req violationReq) toViolation() access.Violation {
	verb, _ := entities.ToVerb(req.Verb)
	return access.Violation{
		EntityID: req.EntityID,
		URI:      req.URI,
		Verb:     verb,
		Reason:   req.Reason,
	}
}

type validateStructureReq struct {
	session access.Session
	fix     bool
}

func (req validateStructureReq) correlation() string { return req.session.CorrelationID }

func (req validateStructureReq) validate() error {
	return nil
}

type auditTrailReq struct {
	session access.Session
	page    audit.Page
}

func (req auditTrailReq) validate() error {
	if req.page.Limit > api.MaxLimitSize {
		return apiutil.ErrLimitSize
	}
	return nil
}

type timeRangeReq struct {
	session access.Session
	from    time.Time
	to      time.Time
}

func (req timeRangeReq) validate() error {
	if !req.to.IsZero() && !req.from.IsZero() && req.to.Before(req.from) {
		return apiutil.ErrInvalidTimeFormat
	}
	return nil
}

type impactReq struct {
	session access.Session
	uri     string
	verb    entities.Verb
	depth   int
}

func (req impactReq) validate() error {
	if req.uri == "" {
		return apiutil.ErrMissingURI
	}
	return nil
}

type statsReq struct {
	session access.Session
}

func (req statsReq) validate() error {
	return nil
}

type executeReq struct {
	session access.Session
	op      access.Operation
}

func (req executeReq) correlation() string { return req.session.CorrelationID }

func (req executeReq) validate() error {
	if req.op.Kind == "" {
		return apiutil.ErrInvalidQueryParams
	}
	return nil
}
