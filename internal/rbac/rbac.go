// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package rbac implements realm and client roles, the group tree, and
effective-role resolution for token claims.

# Architecture

  - Role: realm-role (ClientID empty) or client-role (ClientID set to the
    OAuth client_id it belongs to).
  - Group: a tree within a realm via ParentID. Role assignments on a group
    are inherited by members of the group and of every descendant group.
  - Service: Lifecycle plus EffectiveRoles, the union of a user's direct
    roles and the roles inherited through group membership.
*/
package rbac

import "time"

// # Domain Entities

// Role is a named grant within a realm, optionally scoped to one client.
type Role struct {
	ID      string `json:"id"`
	RealmID string `json:"realm_id"`
	// ClientID is the OAuth client_id for client roles, empty for realm roles.
	ClientID    string    `json:"client_id,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Group is a node in the realm's group tree.
type Group struct {
	ID        string    `json:"id"`
	RealmID   string    `json:"realm_id"`
	ParentID  string    `json:"parent_id,omitempty"` // empty for root groups
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// EffectiveRoles is the resolved role set for one user, shaped the way
// token claims consume it.
type EffectiveRoles struct {
	// RealmRoles feed the realm_access.roles claim.
	RealmRoles []string `json:"realm_roles"`
	// ClientRoles feed resource_access.{client_id}.roles, keyed by client_id.
	ClientRoles map[string][]string `json:"client_roles"`
}

// # Field Identifiers

const (
	FieldRoleName  = "name"
	FieldGroupName = "name"
	FieldParentID  = "parent_id"
)
