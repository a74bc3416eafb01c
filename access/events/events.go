// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"time"

	"github.com/acsio/acs/access"
	"github.com/acsio/acs/entities"
	"github.com/acsio/acs/pkg/events"
)

const (
	entityPrefix = "acs.entity."
	entityCreate = entityPrefix + "create"
	entityUpdate = entityPrefix + "update"
	entityRemove = entityPrefix + "remove"

	edgePrefix = "acs.edge."
	edgeAdd    = edgePrefix + "add"
	edgeRemove = edgePrefix + "remove"

	permissionPrefix = "acs.permission."
	permissionGrant  = permissionPrefix + "grant"
	permissionRevoke = permissionPrefix + "revoke"
	permissionBulk   = permissionPrefix + "bulk_update"

	auditPrefix    = "acs.audit."
	auditPurge     = auditPrefix + "purge"
	auditViolation = auditPrefix + "violation"

	structureValidate = "acs.structure.validate"
)

var (
	_ events.Event = (*entityEvent)(nil)
	_ events.Event = (*removeEntityEvent)(nil)
	_ events.Event = (*edgeEvent)(nil)
	_ events.Event = (*permissionEvent)(nil)
	_ events.Event = (*bulkPermissionEvent)(nil)
	_ events.Event = (*violationEvent)(nil)
	_ events.Event = (*purgeEvent)(nil)
	_ events.Event = (*structureEvent)(nil)
)

type entityEvent struct {
	entities.Entity
	operation     string
	correlationID string
}

func (ee entityEvent) Encode() (map[string]interface{}, error) {
	val := map[string]interface{}{
		"operation": ee.operation,
		"id":        ee.ID,
		"kind":      ee.Kind.String(),
		"name":      ee.Name,
	}
	if ee.correlationID != "" {
		val["correlation_id"] = ee.correlationID
	}
	if len(ee.Metadata) > 0 {
		val["metadata"] = map[string]interface{}(ee.Metadata)
	}
	return val, nil
}

type removeEntityEvent struct {
	id            uint64
	correlationID string
}

func (re removeEntityEvent) Encode() (map[string]interface{}, error) {
	val := map[string]interface{}{
		"operation": entityRemove,
		"id":        re.id,
	}
	if re.correlationID != "" {
		val["correlation_id"] = re.correlationID
	}
	return val, nil
}

type edgeEvent struct {
	operation     string
	parentID      uint64
	childID       uint64
	correlationID string
}

func (ee edgeEvent) Encode() (map[string]interface{}, error) {
	val := map[string]interface{}{
		"operation": ee.operation,
		"parent_id": ee.parentID,
		"child_id":  ee.childID,
	}
	if ee.correlationID != "" {
		val["correlation_id"] = ee.correlationID
	}
	return val, nil
}

type permissionEvent struct {
	operation     string
	ownerID       uint64
	permission    entities.Permission
	cascade       bool
	correlationID string
}

func (pe permissionEvent) Encode() (map[string]interface{}, error) {
	val := map[string]interface{}{
		"operation": pe.operation,
		"owner_id":  pe.ownerID,
		"uri":       pe.permission.URI,
		"verb":      pe.permission.Verb.String(),
		"effect":    pe.permission.Effect.String(),
	}
	if pe.permission.Scheme != "" {
		val["scheme"] = pe.permission.Scheme
	}
	if pe.permission.ExpiresAt != nil {
		val["expires_at"] = pe.permission.ExpiresAt.Format(time.RFC3339Nano)
	}
	if pe.cascade {
		val["cascade"] = true
	}
	if pe.correlationID != "" {
		val["correlation_id"] = pe.correlationID
	}
	return val, nil
}

type bulkPermissionEvent struct {
	result        access.BulkResult
	correlationID string
}

func (be bulkPermissionEvent) Encode() (map[string]interface{}, error) {
	val := map[string]interface{}{
		"operation":  permissionBulk,
		"total":      be.result.Total,
		"successful": be.result.Successful,
		"failed":     be.result.Failed,
	}
	if be.correlationID != "" {
		val["correlation_id"] = be.correlationID
	}
	return val, nil
}

type violationEvent struct {
	violation     access.Violation
	correlationID string
}

func (ve violationEvent) Encode() (map[string]interface{}, error) {
	val := map[string]interface{}{
		"operation": auditViolation,
		"entity_id": ve.violation.EntityID,
		"uri":       ve.violation.URI,
		"verb":      ve.violation.Verb.String(),
	}
	if ve.violation.Reason != "" {
		val["reason"] = ve.violation.Reason
	}
	if ve.correlationID != "" {
		val["correlation_id"] = ve.correlationID
	}
	return val, nil
}

type purgeEvent struct {
	olderThan time.Time
	purged    int64
}

func (pe purgeEvent) Encode() (map[string]interface{}, error) {
	return map[string]interface{}{
		"operation":  auditPurge,
		"older_than": pe.olderThan.Format(time.RFC3339Nano),
		"purged":     pe.purged,
	}, nil
}

type structureEvent struct {
	report access.StructureReport
	fix    bool
}

func (se structureEvent) Encode() (map[string]interface{}, error) {
	return map[string]interface{}{
		"operation":  structureValidate,
		"checked":    se.report.Checked,
		"expired":    se.report.Expired,
		"duplicates": se.report.Duplicates,
		"fixed":      se.report.Fixed,
		"fix":        se.fix,
	}, nil
}
