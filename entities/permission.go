// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package entities

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/acsio/acs/pkg/errors"
)

// Verb is the request method a permission applies to.
type Verb uint8

const (
	GET Verb = iota
	POST
	PUT
	PATCH
	DELETE
	HEAD
	OPTIONS
	CONNECT
	TRACE
)

var verbNames = map[Verb]string{
	GET:     "GET",
	POST:    "POST",
	PUT:     "PUT",
	PATCH:   "PATCH",
	DELETE:  "DELETE",
	HEAD:    "HEAD",
	OPTIONS: "OPTIONS",
	CONNECT: "CONNECT",
	TRACE:   "TRACE",
}

func (v Verb) String() string {
	return verbNames[v]
}

// Verbs returns every verb in declaration order.
func Verbs() []Verb {
	return []Verb{GET, POST, PUT, PATCH, DELETE, HEAD, OPTIONS, CONNECT, TRACE}
}

// ToVerb converts string value to a valid verb.
func ToVerb(verb string) (Verb, error) {
	for v, name := range verbNames {
		if name == strings.ToUpper(verb) {
			return v, nil
		}
	}
	return Verb(0), errors.Wrap(ErrInvalidPermission, errors.New("unknown verb"))
}

func (v Verb) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.String())
}

func (v *Verb) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	verb, err := ToVerb(s)
	if err != nil {
		return err
	}
	*v = verb
	return nil
}

// Effect determines whether a matching permission allows or forbids access.
// Deny dominates grant during evaluation.
type Effect uint8

const (
	Deny Effect = iota
	Grant
)

const (
	denyEffect  = "deny"
	grantEffect = "grant"
)

func (e Effect) String() string {
	switch e {
	case Grant:
		return grantEffect
	case Deny:
		return denyEffect
	default:
		return ""
	}
}

// ToEffect converts string value to a valid effect.
func ToEffect(effect string) (Effect, error) {
	switch strings.ToLower(effect) {
	case grantEffect:
		return Grant, nil
	case denyEffect:
		return Deny, nil
	default:
		return Effect(0), errors.Wrap(ErrInvalidPermission, errors.New("unknown effect"))
	}
}

func (e Effect) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.String())
}

func (e *Effect) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	effect, err := ToEffect(s)
	if err != nil {
		return err
	}
	*e = effect
	return nil
}

// DefaultScheme tags permissions created without an explicit scheme. The
// scheme is an opaque tag and does not alter evaluation.
const DefaultScheme = "ApiUriAuthorization"

// Permission is a grant or deny of a verb on a resource URI pattern, owned by
// exactly one entity. Patterns support `*` (one path segment), `{name}` (one
// path segment) and a trailing `**` (any suffix).
type Permission struct {
	URI       string     `json:"uri"`
	Verb      Verb       `json:"verb"`
	Effect    Effect     `json:"effect"`
	Scheme    string     `json:"scheme,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Metadata  Metadata   `json:"metadata,omitempty"`
}

// Validate checks the structural invariants of a permission.
func (p Permission) Validate() error {
	if p.URI == "" || !strings.HasPrefix(p.URI, "/") {
		return errors.Wrap(ErrInvalidPermission, errors.New("uri must start with /"))
	}
	if p.Verb.String() == "" {
		return errors.Wrap(ErrInvalidPermission, errors.New("unknown verb"))
	}
	for _, seg := range splitURI(p.URI) {
		if strings.Contains(seg, "**") && seg != "**" {
			return errors.Wrap(ErrInvalidPermission, errors.New("** must occupy a whole segment"))
		}
	}
	return nil
}

// Key identifies a permission within its owner: two permissions with the same
// key are considered the same record during grant and revoke.
func (p Permission) Key() string {
	return p.URI + "|" + p.Verb.String() + "|" + p.Effect.String() + "|" + p.Scheme
}

// Expired reports whether the permission is ignored at the given instant.
func (p Permission) Expired(at time.Time) bool {
	return p.ExpiresAt != nil && !at.Before(*p.ExpiresAt)
}

// Matches reports whether the permission applies to the request (uri, verb)
// at the given instant.
func (p Permission) Matches(uri string, verb Verb, at time.Time) bool {
	if p.Verb != verb || p.Expired(at) {
		return false
	}
	return MatchURI(p.URI, uri)
}

// MatchURI matches a request URI against a pattern. `*` and `{name}` match
// exactly one path segment, a trailing `**` matches any suffix including the
// empty one. Trailing slashes are normalized away.
func MatchURI(pattern, uri string) bool {
	pat := splitURI(pattern)
	req := splitURI(uri)

	for i, seg := range pat {
		if seg == "**" {
			return true
		}
		if i >= len(req) {
			return false
		}
		if isWildcardSegment(seg) {
			continue
		}
		if seg != req[i] {
			return false
		}
	}

	return len(pat) == len(req)
}

// Specificity orders matching permissions for conflict reporting: fewer
// wildcards win, then the longer literal prefix. Higher is more specific.
func (p Permission) Specificity() int {
	wildcards := 0
	prefix := 0
	counting := true
	for _, seg := range splitURI(p.URI) {
		switch {
		case seg == "**":
			wildcards += 2
			counting = false
		case isWildcardSegment(seg):
			wildcards++
			counting = false
		default:
			if counting {
				prefix += len(seg) + 1
			}
		}
	}
	return prefix - wildcards*1000
}

func isWildcardSegment(seg string) bool {
	if seg == "*" {
		return true
	}
	return len(seg) > 1 && strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}")
}

func splitURI(uri string) []string {
	uri = strings.Trim(uri, "/")
	if uri == "" {
		return []string{}
	}
	return strings.Split(uri, "/")
}

// Decide resolves the effect for a request over a candidate permission set:
// any matching deny forbids access, otherwise any matching grant allows it,
// otherwise access is denied.
func Decide(perms []Permission, uri string, verb Verb, at time.Time) Effect {
	granted := false
	for _, p := range perms {
		if !p.Matches(uri, verb, at) {
			continue
		}
		if p.Effect == Deny {
			return Deny
		}
		granted = true
	}
	if granted {
		return Grant
	}
	return Deny
}

// Resolve returns the winning permission for a request: the most specific
// match, with deny dominating grant at equal specificity. The boolean reports
// whether any permission matched at all.
func Resolve(perms []Permission, uri string, verb Verb, at time.Time) (Permission, bool) {
	var winner Permission
	found := false
	for _, p := range perms {
		if !p.Matches(uri, verb, at) {
			continue
		}
		if !found {
			winner, found = p, true
			continue
		}
		ps, ws := p.Specificity(), winner.Specificity()
		if ps > ws || (ps == ws && p.Effect == Deny && winner.Effect == Grant) {
			winner = p
		}
	}
	return winner, found
}
