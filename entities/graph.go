// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package entities

import (
	"sort"
	"sync"
	"time"

	"github.com/acsio/acs/pkg/errors"
)

// Load phases reported by Graph.Load.
type LoadPhase string

const (
	PhaseBulkEntityLoading    LoadPhase = "bulk_entity_loading"
	PhaseRelationshipBuilding LoadPhase = "relationship_building"
	PhaseIndexBuilding        LoadPhase = "index_building"
	PhaseMemoryCalculation    LoadPhase = "memory_calculation"
)

// LoadStats reports the duration of a snapshot load and its phases.
type LoadStats struct {
	Duration    time.Duration               `json:"duration"`
	Phases      map[LoadPhase]time.Duration `json:"phases"`
	Entities    int                         `json:"entities"`
	Edges       int                         `json:"edges"`
	Permissions int                         `json:"permissions"`
}

// Stats reports graph size and approximate memory footprint, backing the
// acs_graph_entity_count and acs_graph_memory_bytes gauges.
type Stats struct {
	Users       uint64 `json:"users"`
	Groups      uint64 `json:"groups"`
	Roles       uint64 `json:"roles"`
	Edges       uint64 `json:"edges"`
	Permissions uint64 `json:"permissions"`
	MemoryBytes uint64 `json:"memory_bytes"`
}

// Graph owns every entity, edge and permission of one tenant. It is accessed
// under a single-writer discipline: only the command buffer consumer mutates
// it, while queries read under the reader lock.
type Graph struct {
	mu         sync.RWMutex
	entities   map[uint64]Entity
	parents    map[uint64]map[uint64]struct{}
	children   map[uint64]map[uint64]struct{}
	perms      map[uint64][]Permission
	userGroups map[uint64]map[uint64]struct{}
	userRoles  map[uint64]map[uint64]struct{}
	groupRoles map[uint64]map[uint64]struct{}
	trie       *permTrie
	edgeCount  uint64
	permCount  uint64
}

// NewGraph returns an empty tenant graph.
func NewGraph() *Graph {
	return &Graph{
		entities:   make(map[uint64]Entity),
		parents:    make(map[uint64]map[uint64]struct{}),
		children:   make(map[uint64]map[uint64]struct{}),
		perms:      make(map[uint64][]Permission),
		userGroups: make(map[uint64]map[uint64]struct{}),
		userRoles:  make(map[uint64]map[uint64]struct{}),
		groupRoles: make(map[uint64]map[uint64]struct{}),
		trie:       newPermTrie(),
	}
}

// Add inserts a new entity. The ID must be unused and the entity well-formed.
func (g *Graph) Add(e Entity) error {
	if err := e.Validate(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.entities[e.ID]; ok {
		return ErrConflict
	}
	g.entities[e.ID] = e

	return nil
}

// Update replaces the stored entity. The kind and ID are immutable.
func (g *Graph) Update(e Entity) error {
	if err := e.Validate(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	old, ok := g.entities[e.ID]
	if !ok {
		return ErrNotFound
	}
	if old.Kind != e.Kind {
		return errors.Wrap(ErrMalformedEntity, errors.New("kind is immutable"))
	}
	g.entities[e.ID] = e

	return nil
}

// Remove deletes an entity, detaching all of its edges and dropping its
// owned permissions.
func (g *Graph) Remove(id uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.entities[id]; !ok {
		return ErrNotFound
	}

	for parentID := range g.parents[id] {
		g.unlinkLocked(parentID, id)
	}
	for childID := range g.children[id] {
		g.unlinkLocked(id, childID)
	}

	g.permCount -= uint64(len(g.perms[id]))
	delete(g.perms, id)
	g.trie.removeOwner(id)

	delete(g.parents, id)
	delete(g.children, id)
	delete(g.userGroups, id)
	delete(g.userRoles, id)
	delete(g.groupRoles, id)
	delete(g.entities, id)

	return nil
}

// Get returns an entity by ID.
func (g *Graph) Get(id uint64) (Entity, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	e, ok := g.entities[id]
	if !ok {
		return Entity{}, ErrNotFound
	}
	return e, nil
}

// GetUser returns an entity by ID if it is a user.
func (g *Graph) GetUser(id uint64) (Entity, error) {
	return g.getKind(id, UserKind)
}

// GetGroup returns an entity by ID if it is a group.
func (g *Graph) GetGroup(id uint64) (Entity, error) {
	return g.getKind(id, GroupKind)
}

// GetRole returns an entity by ID if it is a role.
func (g *Graph) GetRole(id uint64) (Entity, error) {
	return g.getKind(id, RoleKind)
}

func (g *Graph) getKind(id uint64, kind Kind) (Entity, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	e, ok := g.entities[id]
	if !ok || e.Kind != kind {
		return Entity{}, ErrNotFound
	}
	return e, nil
}

// Users returns a snapshot of all users sorted by ID.
func (g *Graph) Users() []Entity {
	return g.listKind(UserKind)
}

// Groups returns a snapshot of all groups sorted by ID.
func (g *Graph) Groups() []Entity {
	return g.listKind(GroupKind)
}

// Roles returns a snapshot of all roles sorted by ID.
func (g *Graph) Roles() []Entity {
	return g.listKind(RoleKind)
}

func (g *Graph) listKind(kind Kind) []Entity {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []Entity
	for _, e := range g.entities {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CanAddEdge validates an edge without mutating the graph: both entities must
// exist, the kind pair must be legal, the edge must be new and it must not
// close a cycle.
func (g *Graph) CanAddEdge(parentID, childID uint64) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.canAddEdgeLocked(parentID, childID)
}

func (g *Graph) canAddEdgeLocked(parentID, childID uint64) error {
	parent, ok := g.entities[parentID]
	if !ok {
		return ErrNotFound
	}
	child, ok := g.entities[childID]
	if !ok {
		return ErrNotFound
	}
	if err := ValidEdge(parent.Kind, child.Kind); err != nil {
		return err
	}
	if _, ok := g.children[parentID][childID]; ok {
		return ErrAlreadyAssigned
	}
	if g.wouldCycleLocked(parentID, childID) {
		return ErrCycle
	}
	return nil
}

// wouldCycleLocked reports whether adding parent->child would close a cycle:
// true iff child is already an ancestor of parent. DFS goes upward through
// the parents index of the affected subgraph only.
func (g *Graph) wouldCycleLocked(parentID, childID uint64) bool {
	if parentID == childID {
		return true
	}
	seen := map[uint64]struct{}{parentID: {}}
	stack := []uint64{parentID}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for up := range g.parents[cur] {
			if up == childID {
				return true
			}
			if _, ok := seen[up]; !ok {
				seen[up] = struct{}{}
				stack = append(stack, up)
			}
		}
	}
	return false
}

// AddEdge creates a parent-child edge, maintaining both sides and the
// membership indices.
func (g *Graph) AddEdge(parentID, childID uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.canAddEdgeLocked(parentID, childID); err != nil {
		return err
	}
	g.linkLocked(parentID, childID)

	return nil
}

// RemoveEdge deletes a parent-child edge from both sides.
func (g *Graph) RemoveEdge(parentID, childID uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.children[parentID][childID]; !ok {
		return ErrEdgeNotFound
	}
	g.unlinkLocked(parentID, childID)

	return nil
}

func (g *Graph) linkLocked(parentID, childID uint64) {
	addToSet(g.parents, childID, parentID)
	addToSet(g.children, parentID, childID)
	g.edgeCount++

	parent := g.entities[parentID]
	child := g.entities[childID]
	switch {
	case parent.Kind == GroupKind && child.Kind == UserKind:
		addToSet(g.userGroups, childID, parentID)
	case parent.Kind == RoleKind && child.Kind == UserKind:
		addToSet(g.userRoles, childID, parentID)
	case parent.Kind == GroupKind && child.Kind == RoleKind:
		addToSet(g.groupRoles, parentID, childID)
	}
}

func (g *Graph) unlinkLocked(parentID, childID uint64) {
	removeFromSet(g.parents, childID, parentID)
	removeFromSet(g.children, parentID, childID)
	g.edgeCount--

	parent := g.entities[parentID]
	child := g.entities[childID]
	switch {
	case parent.Kind == GroupKind && child.Kind == UserKind:
		removeFromSet(g.userGroups, childID, parentID)
	case parent.Kind == RoleKind && child.Kind == UserKind:
		removeFromSet(g.userRoles, childID, parentID)
	case parent.Kind == GroupKind && child.Kind == RoleKind:
		removeFromSet(g.groupRoles, parentID, childID)
	}
}

// Parents returns the direct parents of an entity sorted by ID.
func (g *Graph) Parents(id uint64) []uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedSet(g.parents[id])
}

// Children returns the direct children of an entity sorted by ID.
func (g *Graph) Children(id uint64) []uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedSet(g.children[id])
}

// UserGroups returns the groups a user directly belongs to.
func (g *Graph) UserGroups(id uint64) []uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedSet(g.userGroups[id])
}

// UserRoles returns the roles directly assigned to a user.
func (g *Graph) UserRoles(id uint64) []uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedSet(g.userRoles[id])
}

// GroupRoles returns the roles contained in a group.
func (g *Graph) GroupRoles(id uint64) []uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedSet(g.groupRoles[id])
}

// Ancestors returns every entity reachable upward from the given one,
// excluding itself. The sequence is finite since the hierarchy is acyclic.
func (g *Graph) Ancestors(id uint64) []uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.ancestorsLocked(id)
}

func (g *Graph) ancestorsLocked(id uint64) []uint64 {
	var out []uint64
	seen := map[uint64]struct{}{id: {}}
	queue := []uint64{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for up := range g.parents[cur] {
			if _, ok := seen[up]; ok {
				continue
			}
			seen[up] = struct{}{}
			out = append(out, up)
			queue = append(queue, up)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Descendants returns every entity reachable downward from the given one,
// excluding itself. Depth limits the traversal; zero means unlimited.
func (g *Graph) Descendants(id uint64, depth int) []uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []uint64
	seen := map[uint64]struct{}{id: {}}
	type item struct {
		id    uint64
		level int
	}
	queue := []item{{id: id}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if depth > 0 && cur.level >= depth {
			continue
		}
		for down := range g.children[cur.id] {
			if _, ok := seen[down]; ok {
				continue
			}
			seen[down] = struct{}{}
			out = append(out, down)
			queue = append(queue, item{id: down, level: cur.level + 1})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AddPermission grants or denies a permission to the owning entity. Granting
// a permission with the same key again replaces the stored record.
func (g *Graph) AddPermission(ownerID uint64, p Permission) error {
	if err := p.Validate(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.entities[ownerID]; !ok {
		return ErrNotFound
	}

	key := p.Key()
	for i, existing := range g.perms[ownerID] {
		if existing.Key() == key {
			g.perms[ownerID][i] = p
			g.trie.insert(ownerID, p)
			return nil
		}
	}
	g.perms[ownerID] = append(g.perms[ownerID], p)
	g.trie.insert(ownerID, p)
	g.permCount++

	return nil
}

// RemovePermission revokes a permission from the owning entity.
func (g *Graph) RemovePermission(ownerID uint64, p Permission) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.entities[ownerID]; !ok {
		return ErrNotFound
	}

	key := p.Key()
	for i, existing := range g.perms[ownerID] {
		if existing.Key() == key {
			g.perms[ownerID] = append(g.perms[ownerID][:i], g.perms[ownerID][i+1:]...)
			g.trie.remove(ownerID, p)
			g.permCount--
			return nil
		}
	}

	return ErrNotFound
}

// Permissions returns the permissions owned directly by an entity.
func (g *Graph) Permissions(id uint64) ([]Permission, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.entities[id]; !ok {
		return nil, ErrNotFound
	}
	out := make([]Permission, len(g.perms[id]))
	copy(out, g.perms[id])
	return out, nil
}

// EffectivePermissions returns the non-expired permissions owned by the
// entity and every one of its ancestors.
func (g *Graph) EffectivePermissions(id uint64, at time.Time) ([]Permission, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.entities[id]; !ok {
		return nil, ErrNotFound
	}

	owners := append([]uint64{id}, g.ancestorsLocked(id)...)
	var out []Permission
	for _, owner := range owners {
		for _, p := range g.perms[owner] {
			if !p.Expired(at) {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

// Check resolves whether the entity may perform verb on uri at the given
// instant: deny dominates, absence of a matching grant denies.
func (g *Graph) Check(id uint64, uri string, verb Verb, at time.Time) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.entities[id]; !ok {
		return false, ErrNotFound
	}

	owners := map[uint64]struct{}{id: {}}
	for _, a := range g.ancestorsLocked(id) {
		owners[a] = struct{}{}
	}

	granted := false
	for _, op := range g.trie.lookup(uri) {
		if _, ok := owners[op.owner]; !ok {
			continue
		}
		if op.perm.Verb != verb || op.perm.Expired(at) {
			continue
		}
		if op.perm.Effect == Deny {
			return false, nil
		}
		granted = true
	}

	return granted, nil
}

// PermissionOwners returns the IDs of entities owning a permission whose
// pattern matches the URI with the given verb, used for impact analysis.
func (g *Graph) PermissionOwners(uri string, verb Verb, at time.Time) []uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := make(map[uint64]struct{})
	var out []uint64
	for _, op := range g.trie.lookup(uri) {
		if op.perm.Verb != verb || op.perm.Expired(at) {
			continue
		}
		if _, ok := seen[op.owner]; !ok {
			seen[op.owner] = struct{}{}
			out = append(out, op.owner)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Load replaces the graph content with a persisted snapshot, recording
// per-phase timings. Edges violating kind legality or acyclicity fail the
// load: persisted state is expected to be consistent.
func (g *Graph) Load(snapshot Snapshot) (LoadStats, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	start := time.Now()
	stats := LoadStats{Phases: make(map[LoadPhase]time.Duration)}

	g.entities = make(map[uint64]Entity, len(snapshot.Entities))
	g.parents = make(map[uint64]map[uint64]struct{})
	g.children = make(map[uint64]map[uint64]struct{})
	g.perms = make(map[uint64][]Permission)
	g.userGroups = make(map[uint64]map[uint64]struct{})
	g.userRoles = make(map[uint64]map[uint64]struct{})
	g.groupRoles = make(map[uint64]map[uint64]struct{})
	g.trie = newPermTrie()
	g.edgeCount = 0
	g.permCount = 0

	phase := time.Now()
	for _, e := range snapshot.Entities {
		if err := e.Validate(); err != nil {
			return stats, err
		}
		if _, ok := g.entities[e.ID]; ok {
			return stats, ErrConflict
		}
		g.entities[e.ID] = e
	}
	stats.Phases[PhaseBulkEntityLoading] = time.Since(phase)

	phase = time.Now()
	for _, edge := range snapshot.Edges {
		if err := g.canAddEdgeLocked(edge.ParentID, edge.ChildID); err != nil {
			return stats, err
		}
		g.linkLocked(edge.ParentID, edge.ChildID)
	}
	stats.Phases[PhaseRelationshipBuilding] = time.Since(phase)

	phase = time.Now()
	for _, op := range snapshot.Permissions {
		if _, ok := g.entities[op.OwnerID]; !ok {
			return stats, ErrNotFound
		}
		if err := op.Permission.Validate(); err != nil {
			return stats, err
		}
		g.perms[op.OwnerID] = append(g.perms[op.OwnerID], op.Permission)
		g.trie.insert(op.OwnerID, op.Permission)
		g.permCount++
	}
	stats.Phases[PhaseIndexBuilding] = time.Since(phase)

	phase = time.Now()
	_ = g.memoryBytesLocked()
	stats.Phases[PhaseMemoryCalculation] = time.Since(phase)

	stats.Duration = time.Since(start)
	stats.Entities = len(snapshot.Entities)
	stats.Edges = len(snapshot.Edges)
	stats.Permissions = len(snapshot.Permissions)

	return stats, nil
}

// Stats returns graph size counters and the approximate memory footprint.
func (g *Graph) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var s Stats
	for _, e := range g.entities {
		switch e.Kind {
		case UserKind:
			s.Users++
		case GroupKind:
			s.Groups++
		case RoleKind:
			s.Roles++
		}
	}
	s.Edges = g.edgeCount
	s.Permissions = g.permCount
	s.MemoryBytes = g.memoryBytesLocked()

	return s
}

const (
	entityOverheadBytes = 120
	edgeOverheadBytes   = 48
	permOverheadBytes   = 160
)

func (g *Graph) memoryBytesLocked() uint64 {
	total := uint64(0)
	for _, e := range g.entities {
		total += entityOverheadBytes + uint64(len(e.Name))
		for k := range e.Metadata {
			total += uint64(len(k)) + 16
		}
	}
	total += g.edgeCount * 2 * edgeOverheadBytes
	for _, perms := range g.perms {
		for _, p := range perms {
			total += permOverheadBytes + uint64(len(p.URI)+len(p.Scheme))
		}
	}
	return total
}

func addToSet(m map[uint64]map[uint64]struct{}, key, value uint64) {
	if m[key] == nil {
		m[key] = make(map[uint64]struct{})
	}
	m[key][value] = struct{}{}
}

func removeFromSet(m map[uint64]map[uint64]struct{}, key, value uint64) {
	if set, ok := m[key]; ok {
		delete(set, value)
		if len(set) == 0 {
			delete(m, key)
		}
	}
}

func sortedSet(set map[uint64]struct{}) []uint64 {
	out := make([]uint64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
