// Package identity manages the managed identities of apps and jobs.
//
// Features:
//  1. Identity type sum type with the assign/remove transition table
//  2. Normalisation of user identity names to resource ids
//  3. AcrPull role assignment with retries
//  4. Principal id lookup of user-assigned identities
package identity

import (
	"slices"
	"strings"

	"github.com/flavioaiello/containerapps/pkg/apperrors"
	"github.com/flavioaiello/containerapps/pkg/envelope"
)

// Type is the identity type. The four values are exhaustive.
type Type string

// Identity types.
const (
	None                  Type = "None"
	SystemAssigned        Type = "SystemAssigned"
	UserAssigned          Type = "UserAssigned"
	SystemAndUserAssigned Type = "SystemAssigned,UserAssigned"
)

// ParseType parses an identity type case-insensitively. An empty string is
// None.
func ParseType(s string) (Type, error) {
	normalized := strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	for _, t := range []Type{None, SystemAssigned, UserAssigned, SystemAndUserAssigned} {
		if strings.EqualFold(normalized, string(t)) {
			return t, nil
		}
	}
	if normalized == "" {
		return None, nil
	}
	return "", apperrors.Internal("unknown identity type %q", s)
}

func typeOf(system, user bool) Type {
	switch {
	case system && user:
		return SystemAndUserAssigned
	case system:
		return SystemAssigned
	case user:
		return UserAssigned
	}
	return None
}

// HasSystem reports whether the type includes a system identity.
func (t Type) HasSystem() bool {
	return t == SystemAssigned || t == SystemAndUserAssigned
}

// HasUser reports whether the type includes user identities.
func (t Type) HasUser() bool {
	return t == UserAssigned || t == SystemAndUserAssigned
}

// State is the identity configuration of a resource. UserIDs is non-empty
// exactly when Type includes UserAssigned.
type State struct {
	Type    Type
	UserIDs []string
}

// FromEnvelope reads the identity block; nil is None. Null user entries
// mark removals and are skipped.
func FromEnvelope(msi *envelope.ManagedServiceIdentity) (State, error) {
	if msi == nil {
		return State{Type: None}, nil
	}
	t, err := ParseType(msi.Type)
	if err != nil {
		return State{}, err
	}
	s := State{Type: t}
	for id, uai := range msi.UserAssignedIdentities {
		if uai != nil {
			s.UserIDs = append(s.UserIDs, id)
		}
	}
	slices.Sort(s.UserIDs)
	if t.HasUser() != (len(s.UserIDs) > 0) {
		return State{}, apperrors.Internal("identity type %s does not match %d user-assigned identities", t, len(s.UserIDs))
	}
	return s, nil
}

// Envelope renders the state; every user identity is written as {}.
func (s State) Envelope() *envelope.ManagedServiceIdentity {
	msi := &envelope.ManagedServiceIdentity{Type: string(s.Type)}
	if len(s.UserIDs) > 0 {
		msi.UserAssignedIdentities = make(map[string]*envelope.UserAssignedIdentity, len(s.UserIDs))
		for _, id := range s.UserIDs {
			msi.UserAssignedIdentities[id] = &envelope.UserAssignedIdentity{}
		}
	}
	return msi
}

// Removal renders next as a PATCH body against prev. PATCH merges the
// userAssignedIdentities map, so each user id dropped from prev is written
// as null. When next keeps no user identity the type change clears them.
func Removal(prev, next State) *envelope.ManagedServiceIdentity {
	msi := next.Envelope()
	if !next.Type.HasUser() {
		return msi
	}
	for _, id := range prev.UserIDs {
		if !next.HasUserID(id) {
			msi.UserAssignedIdentities[id] = nil
		}
	}
	return msi
}

// HasUserID reports whether id is assigned, ignoring case.
func (s State) HasUserID(id string) bool {
	return indexFold(s.UserIDs, id) >= 0
}

// Assign adds the system identity and user ids. It returns the new state
// and the identities that were already assigned ("system" for the system
// identity).
func (s State) Assign(system bool, users []string) (State, []string) {
	var already []string
	if system && s.Type.HasSystem() {
		already = append(already, SystemIdentity)
	}
	next := State{UserIDs: append([]string(nil), s.UserIDs...)}
	for _, id := range users {
		if next.HasUserID(id) {
			already = append(already, id)
			continue
		}
		next.UserIDs = append(next.UserIDs, id)
	}
	next.Type = typeOf(system || s.Type.HasSystem(), len(next.UserIDs) > 0)
	return next, already
}

// Remove drops the system identity and user ids; all drops every user id.
// Removing the last user id downgrades the type.
func (s State) Remove(system bool, users []string, all bool) (State, error) {
	if s.Type == None {
		return State{}, apperrors.Validation("the resource has no system or user assigned identities")
	}
	if system && !s.Type.HasSystem() {
		return State{}, apperrors.Validation("the resource has no system assigned identity")
	}

	next := State{UserIDs: append([]string(nil), s.UserIDs...)}
	if all {
		next.UserIDs = nil
	}
	for _, id := range users {
		i := indexFold(next.UserIDs, id)
		if i < 0 {
			if all {
				continue
			}
			return State{}, apperrors.Validation("the resource does not have user identity '%s' assigned, so it cannot be removed", id)
		}
		next.UserIDs = append(next.UserIDs[:i], next.UserIDs[i+1:]...)
	}
	next.Type = typeOf(s.Type.HasSystem() && !system, len(next.UserIDs) > 0)
	return next, nil
}

// SystemIdentity is the keyword selecting the system identity.
const SystemIdentity = "system"

// IsSystem reports whether s is the system identity keyword.
func IsSystem(s string) bool {
	return strings.EqualFold(s, SystemIdentity)
}

// Split separates the system keyword from user identities.
func Split(identities []string) (system bool, users []string) {
	for _, id := range identities {
		if IsSystem(id) {
			system = true
			continue
		}
		users = append(users, id)
	}
	return system, users
}

// ResourceID returns nameOrID unchanged when it is a resource id, else
// the id of a user-assigned identity of that name in rg.
func ResourceID(subscriptionID, rg, nameOrID string) string {
	if envelope.IsResourceID(nameOrID) {
		return nameOrID
	}
	return envelope.UserAssignedIdentityID(subscriptionID, rg, nameOrID)
}

// ResourceIDs applies ResourceID to every id.
func ResourceIDs(subscriptionID, rg string, ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, ResourceID(subscriptionID, rg, id))
	}
	return out
}

// Dedupe removes case-insensitive duplicates and reports whether any were
// found.
func Dedupe(ids []string) ([]string, bool) {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if indexFold(out, id) < 0 {
			out = append(out, id)
		}
	}
	return out, len(out) != len(ids)
}

func indexFold(list []string, s string) int {
	for i, v := range list {
		if strings.EqualFold(v, s) {
			return i
		}
	}
	return -1
}
