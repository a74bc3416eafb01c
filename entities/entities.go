// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package entities contains the tenant domain model: users, groups and roles,
// the permissions they own, and the in-memory graph that holds them together
// with its hierarchy and permission-matching indices.
package entities

import (
	"encoding/json"
	"time"

	"github.com/acsio/acs/pkg/errors"
)

// Errors returned by domain validation and graph operations.
var (
	// ErrNotFound indicates a non-existent entity request.
	ErrNotFound = errors.New("entity not found")

	// ErrConflict indicates the entity ID is already in use.
	ErrConflict = errors.New("entity id already in use")

	// ErrMalformedEntity indicates a malformed entity specification.
	ErrMalformedEntity = errors.New("malformed entity specification")

	// ErrEdgeKind indicates an illegal parent-child kind pair.
	ErrEdgeKind = errors.New("illegal parent-child kind pair")

	// ErrCycle indicates the edge would create a hierarchy cycle.
	ErrCycle = errors.New("edge would create a cycle")

	// ErrAlreadyAssigned indicates the edge already exists.
	ErrAlreadyAssigned = errors.New("edge already exists")

	// ErrEdgeNotFound indicates a non-existent edge.
	ErrEdgeNotFound = errors.New("edge not found")

	// ErrInvalidPermission indicates a malformed permission record.
	ErrInvalidPermission = errors.New("invalid permission")
)

// Kind determines the capabilities of an entity in the hierarchy.
type Kind uint8

const (
	UserKind Kind = iota
	GroupKind
	RoleKind
)

// String representation of the possible kind values.
const (
	userKind  = "user"
	groupKind = "group"
	roleKind  = "role"
)

// String converts entity kind to string literal.
func (k Kind) String() string {
	switch k {
	case UserKind:
		return userKind
	case GroupKind:
		return groupKind
	case RoleKind:
		return roleKind
	default:
		return ""
	}
}

// ToKind converts string value to a valid entity kind.
func ToKind(kind string) (Kind, error) {
	switch kind {
	case userKind:
		return UserKind, nil
	case groupKind:
		return GroupKind, nil
	case roleKind:
		return RoleKind, nil
	default:
		return Kind(0), ErrMalformedEntity
	}
}

func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	kind, err := ToKind(s)
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

// Metadata is an opaque key-value payload attached to entities and permissions.
// It is serialized as JSON at the persistence boundary.
type Metadata map[string]interface{}

// Entity represents a user, group or role within a tenant. Hierarchy edges are
// not stored on the entity; they live in the graph's edge indices so that the
// graph exclusively owns all relations.
type Entity struct {
	ID        uint64    `json:"id"`
	Kind      Kind      `json:"kind"`
	Name      string    `json:"name"`
	Metadata  Metadata  `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Validate checks the structural invariants of an entity.
func (e Entity) Validate() error {
	if e.ID == 0 {
		return errors.Wrap(ErrMalformedEntity, errors.New("id must be positive"))
	}
	if e.Name == "" {
		return errors.Wrap(ErrMalformedEntity, errors.New("name must not be empty"))
	}
	if e.Kind.String() == "" {
		return errors.Wrap(ErrMalformedEntity, errors.New("unknown kind"))
	}
	return nil
}

// Edge is a directed parent-child relation between two entities.
type Edge struct {
	ParentID uint64 `json:"parent_id"`
	ChildID  uint64 `json:"child_id"`
}

// ValidEdge reports whether entities of the given kinds may form a
// parent-child edge. Groups may contain users, sub-groups and roles; roles may
// contain users; users are always leaves.
func ValidEdge(parent, child Kind) error {
	switch parent {
	case GroupKind:
		return nil
	case RoleKind:
		if child == UserKind {
			return nil
		}
	}
	return ErrEdgeKind
}

// OwnedPermission binds a permission to its owning entity, used in snapshots.
type OwnedPermission struct {
	OwnerID    uint64     `json:"owner_id"`
	Permission Permission `json:"permission"`
}

// Snapshot is the full persisted state of a tenant, produced by the
// repository and consumed by Graph.Load.
type Snapshot struct {
	Entities    []Entity
	Edges       []Edge
	Permissions []OwnedPermission
}
