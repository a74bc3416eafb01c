// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package access

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/acsio/acs"
	"github.com/acsio/acs/audit"
	"github.com/acsio/acs/entities"
	"github.com/acsio/acs/pkg/errors"
	svcerr "github.com/acsio/acs/pkg/errors/service"
)

// defCommandTimeout bounds the store transaction of one command. The
// caller's cancellation is not honored once the commit starts.
const defCommandTimeout = 30 * time.Second

type service struct {
	graph          *entities.Graph
	repo           Repository
	auditRepo      audit.Repository
	cache          Cache
	buffer         *Buffer
	idp            acs.IDProvider
	commandTimeout time.Duration
}

// New returns the tenant access control service. Mutations are executed by
// the buffer consumer; the caller must run buffer.Run in its own goroutine.
func New(graph *entities.Graph, repo Repository, auditRepo audit.Repository, cache Cache, buffer *Buffer, idp acs.IDProvider) Service {
	return &service{
		graph:          graph,
		repo:           repo,
		auditRepo:      auditRepo,
		cache:          cache,
		buffer:         buffer,
		idp:            idp,
		commandTimeout: defCommandTimeout,
	}
}

// submit funnels a task through the command buffer and waits for its result.
func (svc *service) submit(ctx context.Context, kind string, task Task) (interface{}, error) {
	resc, _, err := svc.buffer.Enqueue(ctx, kind, task)
	if err != nil {
		return nil, err
	}
	select {
	case res := <-resc:
		return res.Value, res.Err
	case <-ctx.Done():
		// The consumer still delivers into the buffered channel; the
		// command may or may not have taken effect.
		return nil, errors.Wrap(ErrCancelled, ctx.Err())
	}
}

// apply commits the staged mutation. The commit runs on a detached context
// so a caller hanging up cannot abort a transaction halfway.
func (svc *service) apply(ctx context.Context, mutation Mutation) error {
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), svc.commandTimeout)
	defer cancel()

	return svc.repo.Apply(commitCtx, mutation)
}

// committed translates a post-commit caller cancellation: the mutation
// stands, but the caller is told it gave up too late.
func committed(ctx context.Context) error {
	if ctx.Err() != nil {
		return errors.Wrap(ErrCancelledAfterCommit, ctx.Err())
	}
	return nil
}

func (svc *service) record(session Session, entityType string, entityID uint64, ct audit.ChangeType, details map[string]interface{}) audit.Record {
	id, err := svc.idp.ID()
	if err != nil {
		// The ULID source only fails on entropy exhaustion; fall back to
		// a timestamp so the audit row is still written.
		id = fmt.Sprintf("ts-%d", time.Now().UnixNano())
	}
	return audit.Record{
		ID:            id,
		EntityType:    entityType,
		EntityID:      entityID,
		ChangeType:    ct,
		ChangedBy:     session.Actor,
		ChangeDate:    time.Now().UTC(),
		Details:       details,
		CorrelationID: session.CorrelationID,
	}
}

// invalidate drops cached keys of the given entities and everything below
// them, whose effective permissions may have changed.
func (svc *service) invalidate(ctx context.Context, ids ...uint64) {
	affected := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		affected[id] = struct{}{}
		for _, down := range svc.graph.Descendants(id, 0) {
			affected[down] = struct{}{}
		}
	}
	all := make([]uint64, 0, len(affected))
	for id := range affected {
		all = append(all, id)
	}
	// Cache invalidation is best effort: a failure leaves entries to age
	// out through their TTL.
	_ = svc.cache.Remove(ctx, all...)
}

func (svc *service) CreateUser(ctx context.Context, session Session, user entities.Entity) (entities.Entity, error) {
	return svc.createEntity(ctx, session, user, entities.UserKind)
}

func (svc *service) CreateGroup(ctx context.Context, session Session, group entities.Entity) (entities.Entity, error) {
	return svc.createEntity(ctx, session, group, entities.GroupKind)
}

func (svc *service) CreateRole(ctx context.Context, session Session, role entities.Entity) (entities.Entity, error) {
	return svc.createEntity(ctx, session, role, entities.RoleKind)
}

func (svc *service) createEntity(ctx context.Context, session Session, e entities.Entity, kind entities.Kind) (entities.Entity, error) {
	e.Kind = kind
	value, err := svc.submit(ctx, "entity.create", func(ctx context.Context) (interface{}, error) {
		if err := e.Validate(); err != nil {
			return entities.Entity{}, err
		}
		if _, err := svc.graph.Get(e.ID); err == nil {
			return entities.Entity{}, errors.Wrap(svcerr.ErrCreateEntity, entities.ErrConflict)
		}
		e.CreatedAt = time.Now().UTC()
		e.UpdatedAt = e.CreatedAt

		mutation := Mutation{
			EntityUpserts: []entities.Entity{e},
			Audits: []audit.Record{svc.record(session, kind.String(), e.ID, audit.Create, map[string]interface{}{
				"name": e.Name,
			})},
		}
		if err := svc.apply(ctx, mutation); err != nil {
			return entities.Entity{}, errors.Wrap(svcerr.ErrCreateEntity, err)
		}
		if err := svc.graph.Add(e); err != nil {
			return entities.Entity{}, errors.Wrap(svcerr.ErrCreateEntity, err)
		}
		svc.invalidate(ctx, e.ID)
		return e, committed(ctx)
	})
	if err != nil {
		return entities.Entity{}, err
	}
	return value.(entities.Entity), nil
}

func (svc *service) UpdateEntity(ctx context.Context, session Session, entity entities.Entity) (entities.Entity, error) {
	value, err := svc.submit(ctx, "entity.update", func(ctx context.Context) (interface{}, error) {
		current, err := svc.graph.Get(entity.ID)
		if err != nil {
			return entities.Entity{}, errors.Wrap(svcerr.ErrNotFound, err)
		}
		updated := current
		updated.Name = entity.Name
		updated.Metadata = entity.Metadata
		updated.UpdatedAt = time.Now().UTC()
		if err := updated.Validate(); err != nil {
			return entities.Entity{}, err
		}

		mutation := Mutation{
			EntityUpserts: []entities.Entity{updated},
			Audits: []audit.Record{svc.record(session, current.Kind.String(), updated.ID, audit.Update, map[string]interface{}{
				"name": updated.Name,
			})},
		}
		if err := svc.apply(ctx, mutation); err != nil {
			return entities.Entity{}, errors.Wrap(svcerr.ErrUpdateEntity, err)
		}
		if err := svc.graph.Update(updated); err != nil {
			return entities.Entity{}, errors.Wrap(svcerr.ErrUpdateEntity, err)
		}
		svc.invalidate(ctx, updated.ID)
		return updated, committed(ctx)
	})
	if err != nil {
		return entities.Entity{}, err
	}
	return value.(entities.Entity), nil
}

func (svc *service) DeleteEntity(ctx context.Context, session Session, id uint64) error {
	_, err := svc.submit(ctx, "entity.delete", func(ctx context.Context) (interface{}, error) {
		current, err := svc.graph.Get(id)
		if err != nil {
			return nil, errors.Wrap(svcerr.ErrNotFound, err)
		}

		// Collect the blast radius before the graph forgets the edges.
		affected := append([]uint64{id}, svc.graph.Descendants(id, 0)...)
		affected = append(affected, svc.graph.Parents(id)...)

		mutation := Mutation{
			EntityDeletes: []uint64{id},
			Audits: []audit.Record{svc.record(session, current.Kind.String(), id, audit.Delete, map[string]interface{}{
				"name": current.Name,
			})},
		}
		if err := svc.apply(ctx, mutation); err != nil {
			return nil, errors.Wrap(svcerr.ErrRemoveEntity, err)
		}
		if err := svc.graph.Remove(id); err != nil {
			return nil, errors.Wrap(svcerr.ErrRemoveEntity, err)
		}
		svc.invalidate(ctx, affected...)
		return nil, committed(ctx)
	})
	return err
}

func (svc *service) AddUserToGroup(ctx context.Context, session Session, userID, groupID uint64) error {
	return svc.addEdge(ctx, session, groupID, userID, OpAddUserToGroup)
}

func (svc *service) RemoveUserFromGroup(ctx context.Context, session Session, userID, groupID uint64) error {
	return svc.removeEdge(ctx, session, groupID, userID, OpRemoveUserFromGroup)
}

func (svc *service) AddGroupToGroup(ctx context.Context, session Session, childID, parentID uint64) error {
	return svc.addEdge(ctx, session, parentID, childID, OpAddGroupToGroup)
}

func (svc *service) RemoveGroupFromGroup(ctx context.Context, session Session, childID, parentID uint64) error {
	return svc.removeEdge(ctx, session, parentID, childID, OpRemoveGroupFromGrp)
}

func (svc *service) AddRoleToGroup(ctx context.Context, session Session, roleID, groupID uint64) error {
	return svc.addEdge(ctx, session, groupID, roleID, OpAddRoleToGroup)
}

func (svc *service) RemoveRoleFromGroup(ctx context.Context, session Session, roleID, groupID uint64) error {
	return svc.removeEdge(ctx, session, groupID, roleID, OpRemoveRoleFromGroup)
}

func (svc *service) AddUserToRole(ctx context.Context, session Session, userID, roleID uint64) error {
	return svc.addEdge(ctx, session, roleID, userID, OpAddUserToRole)
}

func (svc *service) RemoveUserFromRole(ctx context.Context, session Session, userID, roleID uint64) error {
	return svc.removeEdge(ctx, session, roleID, userID, OpRemoveUserFromRole)
}

func (svc *service) addEdge(ctx context.Context, session Session, parentID, childID uint64, op string) error {
	_, err := svc.submit(ctx, op, func(ctx context.Context) (interface{}, error) {
		if err := svc.graph.CanAddEdge(parentID, childID); err != nil {
			return nil, err
		}
		parent, err := svc.graph.Get(parentID)
		if err != nil {
			return nil, err
		}

		mutation := Mutation{
			EdgeAdds: []entities.Edge{{ParentID: parentID, ChildID: childID}},
			Audits: []audit.Record{svc.record(session, parent.Kind.String(), parentID, audit.AddEdge, map[string]interface{}{
				"operation": op,
				"child_id":  childID,
			})},
		}
		if err := svc.apply(ctx, mutation); err != nil {
			return nil, errors.Wrap(svcerr.ErrUpdateEntity, err)
		}
		if err := svc.graph.AddEdge(parentID, childID); err != nil {
			return nil, errors.Wrap(svcerr.ErrUpdateEntity, err)
		}
		svc.invalidate(ctx, childID)
		return nil, committed(ctx)
	})
	return err
}

func (svc *service) removeEdge(ctx context.Context, session Session, parentID, childID uint64, op string) error {
	_, err := svc.submit(ctx, op, func(ctx context.Context) (interface{}, error) {
		parent, err := svc.graph.Get(parentID)
		if err != nil {
			return nil, err
		}

		mutation := Mutation{
			EdgeDeletes: []entities.Edge{{ParentID: parentID, ChildID: childID}},
			Audits: []audit.Record{svc.record(session, parent.Kind.String(), parentID, audit.RemoveEdge, map[string]interface{}{
				"operation": op,
				"child_id":  childID,
			})},
		}

		// Invalidate before the edge disappears from the graph, while the
		// child's old reachability is still visible.
		affected := append([]uint64{childID}, svc.graph.Descendants(childID, 0)...)

		if err := svc.apply(ctx, mutation); err != nil {
			return nil, errors.Wrap(svcerr.ErrUpdateEntity, err)
		}
		if err := svc.graph.RemoveEdge(parentID, childID); err != nil {
			return nil, errors.Wrap(svcerr.ErrUpdateEntity, err)
		}
		svc.invalidate(ctx, affected...)
		return nil, committed(ctx)
	})
	return err
}

func (svc *service) GrantPermission(ctx context.Context, session Session, ownerID uint64, perm entities.Permission) error {
	_, err := svc.submit(ctx, OpGrantPermission, func(ctx context.Context) (interface{}, error) {
		if err := perm.Validate(); err != nil {
			return nil, err
		}
		if perm.Scheme == "" {
			perm.Scheme = entities.DefaultScheme
		}
		owner, err := svc.graph.Get(ownerID)
		if err != nil {
			return nil, err
		}

		mutation := Mutation{
			PermissionAdds: []entities.OwnedPermission{{OwnerID: ownerID, Permission: perm}},
			Audits: []audit.Record{svc.record(session, owner.Kind.String(), ownerID, audit.GrantPermission, map[string]interface{}{
				"uri":    perm.URI,
				"verb":   perm.Verb.String(),
				"effect": perm.Effect.String(),
			})},
		}
		if err := svc.apply(ctx, mutation); err != nil {
			return nil, errors.Wrap(svcerr.ErrUpdateEntity, err)
		}
		if err := svc.graph.AddPermission(ownerID, perm); err != nil {
			return nil, errors.Wrap(svcerr.ErrUpdateEntity, err)
		}
		svc.invalidate(ctx, ownerID)
		return nil, committed(ctx)
	})
	return err
}

func (svc *service) RevokePermission(ctx context.Context, session Session, ownerID uint64, perm entities.Permission, cascade bool) error {
	_, err := svc.submit(ctx, OpRevokePermission, func(ctx context.Context) (interface{}, error) {
		if perm.Scheme == "" {
			perm.Scheme = entities.DefaultScheme
		}
		owner, err := svc.graph.Get(ownerID)
		if err != nil {
			return nil, err
		}

		targets := []uint64{ownerID}
		if cascade {
			targets = append(targets, svc.graph.Descendants(ownerID, 0)...)
		}

		key := perm.Key()
		var deletes []entities.OwnedPermission
		for _, target := range targets {
			perms, err := svc.graph.Permissions(target)
			if err != nil {
				continue
			}
			for _, p := range perms {
				if p.Key() == key {
					deletes = append(deletes, entities.OwnedPermission{OwnerID: target, Permission: p})
				}
			}
		}
		if len(deletes) == 0 {
			return nil, errors.Wrap(svcerr.ErrNotFound, entities.ErrNotFound)
		}

		mutation := Mutation{
			PermissionDeletes: deletes,
			Audits: []audit.Record{svc.record(session, owner.Kind.String(), ownerID, audit.RevokePermission, map[string]interface{}{
				"uri":     perm.URI,
				"verb":    perm.Verb.String(),
				"cascade": cascade,
				"revoked": len(deletes),
			})},
		}
		if err := svc.apply(ctx, mutation); err != nil {
			return nil, errors.Wrap(svcerr.ErrUpdateEntity, err)
		}
		for _, d := range deletes {
			if err := svc.graph.RemovePermission(d.OwnerID, d.Permission); err != nil {
				return nil, errors.Wrap(svcerr.ErrUpdateEntity, err)
			}
		}
		svc.invalidate(ctx, ownerID)
		return nil, committed(ctx)
	})
	return err
}

func (svc *service) BulkPermissionUpdate(ctx context.Context, session Session, ops []PermissionOp, opts BulkOptions) (BulkResult, error) {
	value, err := svc.submit(ctx, OpBulkPermissions, func(ctx context.Context) (interface{}, error) {
		result := BulkResult{Total: len(ops), CorrelationID: session.CorrelationID}

		if opts.ValidateFirst {
			for i, op := range ops {
				if err := svc.checkBulkOp(op); err != nil {
					result.Errors = append(result.Errors, BulkError{Index: i, Error: err.Error()})
				}
			}
			if len(result.Errors) > 0 {
				result.Failed = len(ops)
				if err := svc.apply(ctx, Mutation{Audits: []audit.Record{svc.bulkSummary(session, result)}}); err != nil {
					return BulkResult{}, errors.Wrap(svcerr.ErrUpdateEntity, err)
				}
				return result, committed(ctx)
			}
		}

		mutation := Mutation{}
		touched := make(map[uint64]struct{})
		for i, op := range ops {
			if err := svc.stageBulkOp(op, &mutation); err != nil {
				result.Failed++
				result.Errors = append(result.Errors, BulkError{Index: i, Error: err.Error()})
				if opts.StopOnFirstError {
					break
				}
				continue
			}
			result.Successful++
			touched[op.OwnerID] = struct{}{}
			mutation.Audits = append(mutation.Audits, svc.record(session, "permission", op.OwnerID, bulkChangeType(op.Action), map[string]interface{}{
				"uri":    op.Permission.URI,
				"verb":   op.Permission.Verb.String(),
				"action": op.Action,
				"bulk":   true,
			}))
		}

		// All-or-nothing mode drops every staged write and per-element
		// audit on any failure, and reports the whole batch as failed.
		if opts.Transactional && result.Failed > 0 {
			result.Successful = 0
			result.Failed = len(ops)
			mutation = Mutation{}
		}
		mutation.Audits = append(mutation.Audits, svc.bulkSummary(session, result))

		if err := svc.apply(ctx, mutation); err != nil {
			return BulkResult{}, errors.Wrap(svcerr.ErrUpdateEntity, err)
		}
		for _, add := range mutation.PermissionAdds {
			if err := svc.graph.AddPermission(add.OwnerID, add.Permission); err != nil {
				return BulkResult{}, errors.Wrap(svcerr.ErrUpdateEntity, err)
			}
		}
		for _, del := range mutation.PermissionDeletes {
			if err := svc.graph.RemovePermission(del.OwnerID, del.Permission); err != nil {
				return BulkResult{}, errors.Wrap(svcerr.ErrUpdateEntity, err)
			}
		}
		if result.Successful > 0 {
			ids := make([]uint64, 0, len(touched))
			for id := range touched {
				ids = append(ids, id)
			}
			svc.invalidate(ctx, ids...)
		}
		return result, committed(ctx)
	})
	if err != nil {
		return BulkResult{}, err
	}
	return value.(BulkResult), nil
}

// bulkSummary is the aggregate audit record of one batch. It is written on
// every batch, including ones where no element was committed.
func (svc *service) bulkSummary(session Session, result BulkResult) audit.Record {
	return svc.record(session, "permission", 0, audit.BulkPermissionUpdate, map[string]interface{}{
		"total":      result.Total,
		"successful": result.Successful,
		"failed":     result.Failed,
		"success":    result.Failed == 0,
	})
}

// checkBulkOp verifies the preconditions of one batch element without
// staging any writes.
func (svc *service) checkBulkOp(op PermissionOp) error {
	if op.Action != GrantAction && op.Action != RevokeAction {
		return errors.Wrap(entities.ErrInvalidPermission, errors.New("unknown action"))
	}
	if op.Permission.Scheme == "" {
		op.Permission.Scheme = entities.DefaultScheme
	}
	if err := op.Permission.Validate(); err != nil {
		return err
	}
	_, err := svc.graph.Get(op.OwnerID)
	return err
}

func (svc *service) stageBulkOp(op PermissionOp, mutation *Mutation) error {
	if op.Permission.Scheme == "" {
		op.Permission.Scheme = entities.DefaultScheme
	}
	if err := op.Permission.Validate(); err != nil {
		return err
	}
	if _, err := svc.graph.Get(op.OwnerID); err != nil {
		return err
	}
	switch op.Action {
	case GrantAction:
		mutation.PermissionAdds = append(mutation.PermissionAdds, entities.OwnedPermission{OwnerID: op.OwnerID, Permission: op.Permission})
		return nil
	case RevokeAction:
		perms, err := svc.graph.Permissions(op.OwnerID)
		if err != nil {
			return err
		}
		key := op.Permission.Key()
		for _, p := range perms {
			if p.Key() == key {
				mutation.PermissionDeletes = append(mutation.PermissionDeletes, entities.OwnedPermission{OwnerID: op.OwnerID, Permission: p})
				return nil
			}
		}
		return entities.ErrNotFound
	default:
		return errors.Wrap(entities.ErrInvalidPermission, errors.New("unknown action"))
	}
}

func bulkChangeType(action string) audit.ChangeType {
	if action == RevokeAction {
		return audit.RevokePermission
	}
	return audit.GrantPermission
}

func (svc *service) RecordAuditEvent(ctx context.Context, session Session, record audit.Record) error {
	_, err := svc.submit(ctx, OpRecordAuditEvent, func(ctx context.Context) (interface{}, error) {
		stamped := svc.record(session, record.EntityType, record.EntityID, record.ChangeType, record.Details)
		mutation := Mutation{Audits: []audit.Record{stamped}}
		if err := svc.apply(ctx, mutation); err != nil {
			return nil, errors.Wrap(svcerr.ErrCreateEntity, err)
		}
		return nil, committed(ctx)
	})
	return err
}

func (svc *service) PurgeAuditData(ctx context.Context, session Session, olderThan time.Time, exceptTypes []audit.ChangeType) (int64, error) {
	value, err := svc.submit(ctx, OpPurgeAuditData, func(ctx context.Context) (interface{}, error) {
		purgeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), svc.commandTimeout)
		defer cancel()

		purged, err := svc.auditRepo.Purge(purgeCtx, olderThan, exceptTypes)
		if err != nil {
			return int64(0), errors.Wrap(svcerr.ErrRemoveEntity, err)
		}

		keep := make([]string, 0, len(exceptTypes))
		for _, ct := range exceptTypes {
			keep = append(keep, ct.String())
		}
		mutation := Mutation{Audits: []audit.Record{svc.record(session, "audit", 0, audit.Delete, map[string]interface{}{
			"older_than":   olderThan.UTC().Format(time.RFC3339),
			"purged":       purged,
			"except_types": keep,
		})}}
		if err := svc.apply(ctx, mutation); err != nil {
			return int64(0), errors.Wrap(svcerr.ErrCreateEntity, err)
		}
		return purged, committed(ctx)
	})
	if err != nil {
		return 0, err
	}
	return value.(int64), nil
}

func (svc *service) ReportAccessViolation(ctx context.Context, session Session, violation Violation) error {
	_, err := svc.submit(ctx, OpReportViolation, func(ctx context.Context) (interface{}, error) {
		mutation := Mutation{Audits: []audit.Record{svc.record(session, "violation", violation.EntityID, audit.SecurityViolation, map[string]interface{}{
			"uri":    violation.URI,
			"verb":   violation.Verb.String(),
			"reason": violation.Reason,
		})}}
		if err := svc.apply(ctx, mutation); err != nil {
			return nil, errors.Wrap(svcerr.ErrCreateEntity, err)
		}
		return nil, committed(ctx)
	})
	return err
}

func (svc *service) ValidatePermissionStructure(ctx context.Context, session Session, fix bool) (StructureReport, error) {
	value, err := svc.submit(ctx, OpValidateStructure, func(ctx context.Context) (interface{}, error) {
		report := StructureReport{}
		now := time.Now()
		var deletes []entities.OwnedPermission

		for _, kindList := range [][]entities.Entity{svc.graph.Users(), svc.graph.Groups(), svc.graph.Roles()} {
			for _, e := range kindList {
				perms, err := svc.graph.Permissions(e.ID)
				if err != nil {
					continue
				}
				seen := make(map[string]entities.Effect, len(perms))
				for _, p := range perms {
					report.Checked++
					if p.Expired(now) {
						report.Expired++
						deletes = append(deletes, entities.OwnedPermission{OwnerID: e.ID, Permission: p})
						continue
					}
					// Same pattern and verb with both effects is an
					// ambiguity worth surfacing even if deny wins.
					pair := p.URI + "|" + p.Verb.String()
					if prev, ok := seen[pair]; ok && prev != p.Effect {
						report.Duplicates++
					}
					seen[pair] = p.Effect
				}
			}
		}

		if fix && len(deletes) > 0 {
			mutation := Mutation{
				PermissionDeletes: deletes,
				Audits: []audit.Record{svc.record(session, "permission", 0, audit.Update, map[string]interface{}{
					"operation": OpValidateStructure,
					"removed":   len(deletes),
				})},
			}
			if err := svc.apply(ctx, mutation); err != nil {
				return StructureReport{}, errors.Wrap(svcerr.ErrUpdateEntity, err)
			}
			owners := make(map[uint64]struct{})
			for _, d := range deletes {
				if err := svc.graph.RemovePermission(d.OwnerID, d.Permission); err != nil {
					return StructureReport{}, errors.Wrap(svcerr.ErrUpdateEntity, err)
				}
				owners[d.OwnerID] = struct{}{}
				report.Fixed++
			}
			ids := make([]uint64, 0, len(owners))
			for id := range owners {
				ids = append(ids, id)
			}
			svc.invalidate(ctx, ids...)
		}
		return report, committed(ctx)
	})
	if err != nil {
		return StructureReport{}, err
	}
	return value.(StructureReport), nil
}

func (svc *service) CheckPermission(ctx context.Context, _ Session, entityID uint64, uri string, verb entities.Verb, at *time.Time) (bool, error) {
	instant := time.Now()
	if at != nil {
		instant = *at
	}
	return svc.graph.Check(entityID, uri, verb, instant)
}

func (svc *service) EntityPermissions(ctx context.Context, _ Session, entityID uint64, includeInherited bool) ([]entities.Permission, error) {
	if !includeInherited {
		return svc.graph.Permissions(entityID)
	}

	if perms, err := svc.cache.Permissions(ctx, entityID); err == nil {
		return perms, nil
	}
	perms, err := svc.graph.EffectivePermissions(entityID, time.Now())
	if err != nil {
		return nil, err
	}
	_ = svc.cache.SavePermissions(ctx, entityID, perms)
	return perms, nil
}

func (svc *service) EffectivePermissions(ctx context.Context, session Session, entityID uint64, resourceURIs []string, resolveConflicts bool) ([]ResourceDecision, error) {
	perms, err := svc.EntityPermissions(ctx, session, entityID, true)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	decisions := make([]ResourceDecision, 0, len(resourceURIs))
	for _, uri := range resourceURIs {
		decision := ResourceDecision{URI: uri, AllowedVerbs: []string{}}
		for _, p := range perms {
			if !p.Expired(now) && entities.MatchURI(p.URI, uri) {
				decision.Matching = append(decision.Matching, p)
			}
		}
		for _, verb := range entities.Verbs() {
			if entities.Decide(decision.Matching, uri, verb, now) == entities.Grant {
				decision.AllowedVerbs = append(decision.AllowedVerbs, verb.String())
			}
		}
		if resolveConflicts {
			decision.Conflicts = conflicting(decision.Matching)
		}
		decisions = append(decisions, decision)
	}
	return decisions, nil
}

func (svc *service) ViewUser(ctx context.Context, _ Session, id uint64) (entities.Entity, error) {
	return svc.viewEntity(ctx, id, entities.UserKind)
}

func (svc *service) ViewGroup(ctx context.Context, _ Session, id uint64) (entities.Entity, error) {
	return svc.viewEntity(ctx, id, entities.GroupKind)
}

func (svc *service) ViewRole(ctx context.Context, _ Session, id uint64) (entities.Entity, error) {
	return svc.viewEntity(ctx, id, entities.RoleKind)
}

func (svc *service) viewEntity(ctx context.Context, id uint64, kind entities.Kind) (entities.Entity, error) {
	if e, err := svc.cache.Entity(ctx, id); err == nil {
		if e.Kind != kind {
			return entities.Entity{}, errors.Wrap(svcerr.ErrNotFound, entities.ErrNotFound)
		}
		return e, nil
	}

	e, err := svc.graph.Get(id)
	if err != nil {
		return entities.Entity{}, errors.Wrap(svcerr.ErrNotFound, err)
	}
	_ = svc.cache.SaveEntity(ctx, e)
	if e.Kind != kind {
		return entities.Entity{}, errors.Wrap(svcerr.ErrNotFound, entities.ErrNotFound)
	}
	return e, nil
}

func (svc *service) ListUsers(ctx context.Context, _ Session, pm PageMetadata) (EntitiesPage, error) {
	return pageOf(svc.graph.Users(), pm), nil
}

func (svc *service) ListGroups(ctx context.Context, _ Session, pm PageMetadata) (EntitiesPage, error) {
	return pageOf(svc.graph.Groups(), pm), nil
}

func (svc *service) ListRoles(ctx context.Context, _ Session, pm PageMetadata) (EntitiesPage, error) {
	return pageOf(svc.graph.Roles(), pm), nil
}

func pageOf(all []entities.Entity, pm PageMetadata) EntitiesPage {
	if pm.Name != "" {
		filtered := all[:0:0]
		for _, e := range all {
			if e.Name == pm.Name {
				filtered = append(filtered, e)
			}
		}
		all = filtered
	}

	page := EntitiesPage{Total: uint64(len(all)), Offset: pm.Offset, Limit: pm.Limit}
	if pm.Offset >= uint64(len(all)) {
		return page
	}
	all = all[pm.Offset:]
	if pm.Limit > 0 && pm.Limit < uint64(len(all)) {
		all = all[:pm.Limit]
	}
	page.Entities = all
	return page
}

func (svc *service) ListMembers(ctx context.Context, _ Session, id uint64) ([]entities.Entity, error) {
	if _, err := svc.graph.Get(id); err != nil {
		return nil, errors.Wrap(svcerr.ErrNotFound, err)
	}
	return svc.resolveEntities(svc.graph.Children(id)), nil
}

func (svc *service) ListMemberships(ctx context.Context, _ Session, id uint64) ([]entities.Entity, error) {
	if _, err := svc.graph.Get(id); err != nil {
		return nil, errors.Wrap(svcerr.ErrNotFound, err)
	}
	return svc.resolveEntities(svc.graph.Parents(id)), nil
}

func (svc *service) resolveEntities(ids []uint64) []entities.Entity {
	out := make([]entities.Entity, 0, len(ids))
	for _, id := range ids {
		if e, err := svc.graph.Get(id); err == nil {
			out = append(out, e)
		}
	}
	return out
}

func (svc *service) AuditTrail(ctx context.Context, _ Session, page audit.Page) (audit.RecordsPage, error) {
	return svc.auditRepo.RetrieveAll(ctx, page)
}

func (svc *service) ComplianceReport(ctx context.Context, _ Session, from, to time.Time) (ComplianceReport, error) {
	report := ComplianceReport{
		From:         from,
		To:           to,
		ByChangeType: make(map[string]uint64),
		ByActor:      make(map[string]uint64),
	}

	const pageSize = 1000
	for offset := uint64(0); ; offset += pageSize {
		page, err := svc.auditRepo.RetrieveAll(ctx, audit.Page{Offset: offset, Limit: pageSize, From: from, To: to})
		if err != nil {
			return ComplianceReport{}, errors.Wrap(svcerr.ErrViewEntity, err)
		}
		for _, r := range page.Records {
			report.TotalChanges++
			report.ByChangeType[r.ChangeType.String()]++
			if r.ChangedBy != "" {
				report.ByActor[r.ChangedBy]++
			}
			if r.ChangeType == audit.SecurityViolation {
				report.Violations++
			}
		}
		if offset+pageSize >= page.Total {
			break
		}
	}

	integrity, err := svc.auditRepo.ValidateIntegrity(ctx, from, to)
	if err != nil {
		return ComplianceReport{}, errors.Wrap(svcerr.ErrViewEntity, err)
	}
	report.Integrity = integrity

	return report, nil
}

func (svc *service) ValidateAuditIntegrity(ctx context.Context, _ Session, from, to time.Time) (audit.IntegrityReport, error) {
	return svc.auditRepo.ValidateIntegrity(ctx, from, to)
}

func (svc *service) PermissionImpact(ctx context.Context, _ Session, resourceURI string, verb entities.Verb, depth int) (ImpactReport, error) {
	owners := svc.graph.PermissionOwners(resourceURI, verb, time.Now())

	affected := make(map[uint64]struct{})
	for _, owner := range owners {
		affected[owner] = struct{}{}
		for _, down := range svc.graph.Descendants(owner, depth) {
			affected[down] = struct{}{}
		}
	}
	all := make([]uint64, 0, len(affected))
	for id := range affected {
		all = append(all, id)
	}
	sortIDs(all)

	return ImpactReport{
		URI:      resourceURI,
		Verb:     verb,
		Owners:   owners,
		Affected: all,
		Total:    uint64(len(all)),
	}, nil
}

func (svc *service) GraphStats(context.Context, Session) (entities.Stats, error) {
	return svc.graph.Stats(), nil
}

func (svc *service) BufferStats(context.Context, Session) (BufferStats, error) {
	return svc.buffer.Stats(), nil
}

func (svc *service) CacheStats(context.Context, Session) (CacheStats, error) {
	return svc.cache.Stats(), nil
}

// conflicting returns permissions that overlap another matching permission
// of the same verb with the opposite effect.
func conflicting(matching []entities.Permission) []entities.Permission {
	var out []entities.Permission
	for i, p := range matching {
		for j, q := range matching {
			if i != j && p.Verb == q.Verb && p.Effect != q.Effect {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

func sortIDs(ids []uint64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
