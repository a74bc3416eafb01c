// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package entities

// permTrie indexes permission patterns by path segment so that a permission
// check only inspects patterns that can match the request URI. Literal
// segments branch by value, `*` and `{name}` share the wildcard branch, and a
// trailing `**` is stored on the node it follows.
type permTrie struct {
	root *trieNode
}

type trieNode struct {
	children map[string]*trieNode
	wildcard *trieNode
	exact    []ownedPerm
	deep     []ownedPerm
}

type ownedPerm struct {
	owner uint64
	perm  Permission
}

func newPermTrie() *permTrie {
	return &permTrie{root: newTrieNode()}
}

func newTrieNode() *trieNode {
	return &trieNode{children: make(map[string]*trieNode)}
}

func (t *permTrie) insert(owner uint64, p Permission) {
	node := t.root
	for _, seg := range splitURI(p.URI) {
		if seg == "**" {
			node.deep = upsertOwned(node.deep, owner, p)
			return
		}
		if isWildcardSegment(seg) {
			if node.wildcard == nil {
				node.wildcard = newTrieNode()
			}
			node = node.wildcard
			continue
		}
		child, ok := node.children[seg]
		if !ok {
			child = newTrieNode()
			node.children[seg] = child
		}
		node = child
	}
	node.exact = upsertOwned(node.exact, owner, p)
}

func (t *permTrie) remove(owner uint64, p Permission) {
	node := t.root
	for _, seg := range splitURI(p.URI) {
		if seg == "**" {
			node.deep = dropOwned(node.deep, owner, p.Key())
			return
		}
		if isWildcardSegment(seg) {
			if node.wildcard == nil {
				return
			}
			node = node.wildcard
			continue
		}
		child, ok := node.children[seg]
		if !ok {
			return
		}
		node = child
	}
	node.exact = dropOwned(node.exact, owner, p.Key())
}

// removeOwner drops every permission owned by the given entity. Empty nodes
// are left in place; the trie is rebuilt on snapshot load.
func (t *permTrie) removeOwner(owner uint64) {
	var walk func(n *trieNode)
	walk = func(n *trieNode) {
		if n == nil {
			return
		}
		n.exact = dropAllOwned(n.exact, owner)
		n.deep = dropAllOwned(n.deep, owner)
		for _, child := range n.children {
			walk(child)
		}
		walk(n.wildcard)
	}
	walk(t.root)
}

// lookup collects every indexed permission whose pattern matches the URI.
// Verb and expiry filtering is left to the caller.
func (t *permTrie) lookup(uri string) []ownedPerm {
	segs := splitURI(uri)
	var out []ownedPerm

	var walk func(n *trieNode, depth int)
	walk = func(n *trieNode, depth int) {
		if n == nil {
			return
		}
		out = append(out, n.deep...)
		if depth == len(segs) {
			out = append(out, n.exact...)
			return
		}
		if child, ok := n.children[segs[depth]]; ok {
			walk(child, depth+1)
		}
		walk(n.wildcard, depth+1)
	}
	walk(t.root, 0)

	return out
}

func upsertOwned(list []ownedPerm, owner uint64, p Permission) []ownedPerm {
	key := p.Key()
	for i, op := range list {
		if op.owner == owner && op.perm.Key() == key {
			list[i].perm = p
			return list
		}
	}
	return append(list, ownedPerm{owner: owner, perm: p})
}

func dropOwned(list []ownedPerm, owner uint64, key string) []ownedPerm {
	for i, op := range list {
		if op.owner == owner && op.perm.Key() == key {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func dropAllOwned(list []ownedPerm, owner uint64) []ownedPerm {
	out := list[:0]
	for _, op := range list {
		if op.owner != owner {
			out = append(out, op)
		}
	}
	return out
}
