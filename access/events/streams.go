// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package events emits mutation and security events of the access service to
// the event store. Read operations pass through unpublished.
package events

import (
	"context"
	"time"

	"github.com/acsio/acs/access"
	"github.com/acsio/acs/audit"
	"github.com/acsio/acs/entities"
	"github.com/acsio/acs/pkg/events"
	natspub "github.com/acsio/acs/pkg/events/nats"
)

const streamID = "acs.access"

var _ access.Service = (*eventStore)(nil)

type eventStore struct {
	events.Publisher
	svc access.Service
}

// NewEventStoreMiddleware returns a wrapper around the access service that
// sends events to the event store.
func NewEventStoreMiddleware(ctx context.Context, svc access.Service, url string) (access.Service, error) {
	publisher, err := natspub.NewPublisher(ctx, url, streamID)
	if err != nil {
		return nil, err
	}

	return &eventStore{
		svc:       svc,
		Publisher: publisher,
	}, nil
}

func (es *eventStore) CreateUser(ctx context.Context, session access.Session, user entities.Entity) (entities.Entity, error) {
	created, err := es.svc.CreateUser(ctx, session, user)
	if err != nil {
		return created, err
	}

	event := entityEvent{created, entityCreate, session.CorrelationID}
	if err := es.Publish(ctx, event); err != nil {
		return created, err
	}

	return created, nil
}

func (es *eventStore) CreateGroup(ctx context.Context, session access.Session, group entities.Entity) (entities.Entity, error) {
	created, err := es.svc.CreateGroup(ctx, session, group)
	if err != nil {
		return created, err
	}

	event := entityEvent{created, entityCreate, session.CorrelationID}
	if err := es.Publish(ctx, event); err != nil {
		return created, err
	}

	return created, nil
}

func (es *eventStore) CreateRole(ctx context.Context, session access.Session, role entities.Entity) (entities.Entity, error) {
	created, err := es.svc.CreateRole(ctx, session, role)
	if err != nil {
		return created, err
	}

	event := entityEvent{created, entityCreate, session.CorrelationID}
	if err := es.Publish(ctx, event); err != nil {
		return created, err
	}

	return created, nil
}

func (es *eventStore) UpdateEntity(ctx context.Context, session access.Session, entity entities.Entity) (entities.Entity, error) {
	updated, err := es.svc.UpdateEntity(ctx, session, entity)
	if err != nil {
		return updated, err
	}

	event := entityEvent{updated, entityUpdate, session.CorrelationID}
	if err := es.Publish(ctx, event); err != nil {
		return updated, err
	}

	return updated, nil
}

func (es *eventStore) DeleteEntity(ctx context.Context, session access.Session, id uint64) error {
	if err := es.svc.DeleteEntity(ctx, session, id); err != nil {
		return err
	}

	event := removeEntityEvent{id, session.CorrelationID}
	return es.Publish(ctx, event)
}

func (es *eventStore) AddUserToGroup(ctx context.Context, session access.Session, userID, groupID uint64) error {
	if err := es.svc.AddUserToGroup(ctx, session, userID, groupID); err != nil {
		return err
	}

	event := edgeEvent{edgeAdd, groupID, userID, session.CorrelationID}
	return es.Publish(ctx, event)
}

func (es *eventStore) RemoveUserFromGroup(ctx context.Context, session access.Session, userID, groupID uint64) error {
	if err := es.svc.RemoveUserFromGroup(ctx, session, userID, groupID); err != nil {
		return err
	}

	event := edgeEvent{edgeRemove, groupID, userID, session.CorrelationID}
	return es.Publish(ctx, event)
}

func (es *eventStore) AddGroupToGroup(ctx context.Context, session access.Session, childID, parentID uint64) error {
	if err := es.svc.AddGroupToGroup(ctx, session, childID, parentID); err != nil {
		return err
	}

	event := edgeEvent{edgeAdd, parentID, childID, session.CorrelationID}
	return es.Publish(ctx, event)
}

func (es *eventStore) RemoveGroupFromGroup(ctx context.Context, session access.Session, childID, parentID uint64) error {
	if err := es.svc.RemoveGroupFromGroup(ctx, session, childID, parentID); err != nil {
		return err
	}

	event := edgeEvent{edgeRemove, parentID, childID, session.CorrelationID}
	return es.Publish(ctx, event)
}

func (es *eventStore) AddRoleToGroup(ctx context.Context, session access.Session, roleID, groupID uint64) error {
	if err := es.svc.AddRoleToGroup(ctx, session, roleID, groupID); err != nil {
		return err
	}

	event := edgeEvent{edgeAdd, groupID, roleID, session.CorrelationID}
	return es.Publish(ctx, event)
}

func (es *eventStore) RemoveRoleFromGroup(ctx context.Context, session access.Session, roleID, groupID uint64) error {
	if err := es.svc.RemoveRoleFromGroup(ctx, session, roleID, groupID); err != nil {
		return err
	}

	event := edgeEvent{edgeRemove, groupID, roleID, session.CorrelationID}
	return es.Publish(ctx, event)
}

func (es *eventStore) AddUserToRole(ctx context.Context, session access.Session, userID, roleID uint64) error {
	if err := es.svc.AddUserToRole(ctx, session, userID, roleID); err != nil {
		return err
	}

	event := edgeEvent{edgeAdd, roleID, userID, session.CorrelationID}
	return es.Publish(ctx, event)
}

func (es *eventStore) RemoveUserFromRole(ctx context.Context, session access.Session, userID, roleID uint64) error {
	if err := es.svc.RemoveUserFromRole(ctx, session, userID, roleID); err != nil {
		return err
	}

	event := edgeEvent{edgeRemove, roleID, userID, session.CorrelationID}
	return es.Publish(ctx, event)
}

func (es *eventStore) GrantPermission(ctx context.Context, session access.Session, ownerID uint64, perm entities.Permission) error {
	if err := es.svc.GrantPermission(ctx, session, ownerID, perm); err != nil {
		return err
	}

	event := permissionEvent{
		operation:     permissionGrant,
		ownerID:       ownerID,
		permission:    perm,
		correlationID: session.CorrelationID,
	}
	return es.Publish(ctx, event)
}

func (es *eventStore) RevokePermission(ctx context.Context, session access.Session, ownerID uint64, perm entities.Permission, cascade bool) error {
	if err := es.svc.RevokePermission(ctx, session, ownerID, perm, cascade); err != nil {
		return err
	}

	event := permissionEvent{
		operation:     permissionRevoke,
		ownerID:       ownerID,
		permission:    perm,
		cascade:       cascade,
		correlationID: session.CorrelationID,
	}
	return es.Publish(ctx, event)
}

func (es *eventStore) BulkPermissionUpdate(ctx context.Context, session access.Session, ops []access.PermissionOp, opts access.BulkOptions) (access.BulkResult, error) {
	result, err := es.svc.BulkPermissionUpdate(ctx, session, ops, opts)
	if err != nil {
		return result, err
	}

	event := bulkPermissionEvent{result, session.CorrelationID}
	if err := es.Publish(ctx, event); err != nil {
		return result, err
	}

	return result, nil
}

func (es *eventStore) RecordAuditEvent(ctx context.Context, session access.Session, record audit.Record) error {
	return es.svc.RecordAuditEvent(ctx, session, record)
}

func (es *eventStore) PurgeAuditData(ctx context.Context, session access.Session, olderThan time.Time, exceptTypes []audit.ChangeType) (int64, error) {
	purged, err := es.svc.PurgeAuditData(ctx, session, olderThan, exceptTypes)
	if err != nil {
		return purged, err
	}

	event := purgeEvent{olderThan, purged}
	if err := es.Publish(ctx, event); err != nil {
		return purged, err
	}

	return purged, nil
}

func (es *eventStore) ReportAccessViolation(ctx context.Context, session access.Session, violation access.Violation) error {
	if err := es.svc.ReportAccessViolation(ctx, session, violation); err != nil {
		return err
	}

	event := violationEvent{violation, session.CorrelationID}
	return es.Publish(ctx, event)
}

func (es *eventStore) ValidatePermissionStructure(ctx context.Context, session access.Session, fix bool) (access.StructureReport, error) {
	report, err := es.svc.ValidatePermissionStructure(ctx, session, fix)
	if err != nil {
		return report, err
	}

	event := structureEvent{report, fix}
	if err := es.Publish(ctx, event); err != nil {
		return report, err
	}

	return report, nil
}

func (es *eventStore) CheckPermission(ctx context.Context, session access.Session, entityID uint64, uri string, verb entities.Verb, at *time.Time) (bool, error) {
	return es.svc.CheckPermission(ctx, session, entityID, uri, verb, at)
}

func (es *eventStore) EntityPermissions(ctx context.Context, session access.Session, entityID uint64, includeInherited bool) ([]entities.Permission, error) {
	return es.svc.EntityPermissions(ctx, session, entityID, includeInherited)
}

func (es *eventStore) EffectivePermissions(ctx context.Context, session access.Session, entityID uint64, resourceURIs []string, resolveConflicts bool) ([]access.ResourceDecision, error) {
	return es.svc.EffectivePermissions(ctx, session, entityID, resourceURIs, resolveConflicts)
}

func (es *eventStore) ViewUser(ctx context.Context, session access.Session, id uint64) (entities.Entity, error) {
	return es.svc.ViewUser(ctx, session, id)
}

func (es *eventStore) ViewGroup(ctx context.Context, session access.Session, id uint64) (entities.Entity, error) {
	return es.svc.ViewGroup(ctx, session, id)
}

func (es *eventStore) ViewRole(ctx context.Context, session access.Session, id uint64) (entities.Entity, error) {
	return es.svc.ViewRole(ctx, session, id)
}

func (es *eventStore) ListUsers(ctx context.Context, session access.Session, pm access.PageMetadata) (access.EntitiesPage, error) {
	return es.svc.ListUsers(ctx, session, pm)
}

func (es *eventStore) ListGroups(ctx context.Context, session access.Session, pm access.PageMetadata) (access.EntitiesPage, error) {
	return es.svc.ListGroups(ctx, session, pm)
}

func (es *eventStore) ListRoles(ctx context.Context, session access.Session, pm access.PageMetadata) (access.EntitiesPage, error) {
	return es.svc.ListRoles(ctx, session, pm)
}

func (es *eventStore) ListMembers(ctx context.Context, session access.Session, id uint64) ([]entities.Entity, error) {
	return es.svc.ListMembers(ctx, session, id)
}

func (es *eventStore) ListMemberships(ctx context.Context, session access.Session, id uint64) ([]entities.Entity, error) {
	return es.svc.ListMemberships(ctx, session, id)
}

func (es *eventStore) AuditTrail(ctx context.Context, session access.Session, page audit.Page) (audit.RecordsPage, error) {
	return es.svc.AuditTrail(ctx, session, page)
}

func (es *eventStore) ComplianceReport(ctx context.Context, session access.Session, from, to time.Time) (access.ComplianceReport, error) {
	return es.svc.ComplianceReport(ctx, session, from, to)
}

func (es *eventStore) ValidateAuditIntegrity(ctx context.Context, session access.Session, from, to time.Time) (audit.IntegrityReport, error) {
	return es.svc.ValidateAuditIntegrity(ctx, session, from, to)
}

func (es *eventStore) PermissionImpact(ctx context.Context, session access.Session, resourceURI string, verb entities.Verb, depth int) (access.ImpactReport, error) {
	return es.svc.PermissionImpact(ctx, session, resourceURI, verb, depth)
}

func (es *eventStore) GraphStats(ctx context.Context, session access.Session) (entities.Stats, error) {
	return es.svc.GraphStats(ctx, session)
}

func (es *eventStore) BufferStats(ctx context.Context, session access.Session) (access.BufferStats, error) {
	return es.svc.BufferStats(ctx, session)
}

func (es *eventStore) CacheStats(ctx context.Context, session access.Session) (access.CacheStats, error) {
	return es.svc.CacheStats(ctx, session)
}
