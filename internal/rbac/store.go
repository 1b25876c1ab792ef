// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package rbac

import "context"

// # Role Data Access

// RoleRepository defines the data access contract for roles.
type RoleRepository interface {

	/*
		Create persists a new role.

		Parameters:
		  - context: context.Context
		  - role: *Role

		Returns:
		  - error: Persistence failures
	*/
	Create(context context.Context, role *Role) error

	/*
		FindByID returns the role with the given ID.

		Parameters:
		  - context: context.Context
		  - realmID: string
		  - id: string

		Returns:
		  - *Role: Hydrated entity
		  - error: Database retrieval failures
	*/
	FindByID(context context.Context, realmID, id string) (*Role, error)

	/*
		FindByName returns a role by its (clientID, name) pair within a realm.

		Parameters:
		  - context: context.Context
		  - realmID: string
		  - clientID: string (empty for realm roles)
		  - name: string

		Returns:
		  - *Role: Hydrated entity
		  - error: Database retrieval failures
	*/
	FindByName(context context.Context, realmID, clientID, name string) (*Role, error)

	/*
		List returns all roles in a realm.

		Parameters:
		  - context: context.Context
		  - realmID: string

		Returns:
		  - []*Role: Roles
		  - error: Database retrieval failures
	*/
	List(context context.Context, realmID string) ([]*Role, error)

	/*
		Delete permanently removes a role and its assignments.

		Parameters:
		  - context: context.Context
		  - realmID: string
		  - id: string

		Returns:
		  - error: Persistence failures
	*/
	Delete(context context.Context, realmID, id string) error

	/*
		AssignToUser grants a role to a user directly.

		Parameters:
		  - context: context.Context
		  - userID: string
		  - roleID: string

		Returns:
		  - error: Persistence failures
	*/
	AssignToUser(context context.Context, userID, roleID string) error

	/*
		UnassignFromUser revokes a direct role grant.

		Parameters:
		  - context: context.Context
		  - userID: string
		  - roleID: string

		Returns:
		  - error: Persistence failures
	*/
	UnassignFromUser(context context.Context, userID, roleID string) error

	/*
		ListForUser returns roles granted directly to a user.

		Parameters:
		  - context: context.Context
		  - userID: string

		Returns:
		  - []*Role: Direct roles
		  - error: Database retrieval failures
	*/
	ListForUser(context context.Context, userID string) ([]*Role, error)

	/*
		AssignToGroup attaches a role to a group.

		Parameters:
		  - context: context.Context
		  - groupID: string
		  - roleID: string

		Returns:
		  - error: Persistence failures
	*/
	AssignToGroup(context context.Context, groupID, roleID string) error

	/*
		UnassignFromGroup detaches a role from a group.

		Parameters:
		  - context: context.Context
		  - groupID: string
		  - roleID: string

		Returns:
		  - error: Persistence failures
	*/
	UnassignFromGroup(context context.Context, groupID, roleID string) error

	/*
		ListForGroups returns roles attached to any of the given groups.

		Parameters:
		  - context: context.Context
		  - groupIDs: []string

		Returns:
		  - []*Role: Group roles
		  - error: Database retrieval failures
	*/
	ListForGroups(context context.Context, groupIDs []string) ([]*Role, error)
}

// # Group Data Access

// GroupRepository defines the data access contract for the group tree.
type GroupRepository interface {

	/*
		Create persists a new group node.

		Parameters:
		  - context: context.Context
		  - group: *Group

		Returns:
		  - error: Persistence failures
	*/
	Create(context context.Context, group *Group) error

	/*
		FindByID returns the group with the given ID.

		Parameters:
		  - context: context.Context
		  - realmID: string
		  - id: string

		Returns:
		  - *Group: Hydrated entity
		  - error: Database retrieval failures
	*/
	FindByID(context context.Context, realmID, id string) (*Group, error)

	/*
		List returns all groups in a realm.

		Parameters:
		  - context: context.Context
		  - realmID: string

		Returns:
		  - []*Group: Groups
		  - error: Database retrieval failures
	*/
	List(context context.Context, realmID string) ([]*Group, error)

	/*
		Update persists a group's mutable fields (name, parent).

		Parameters:
		  - context: context.Context
		  - group: *Group

		Returns:
		  - error: Persistence failures
	*/
	Update(context context.Context, group *Group) error

	/*
		Delete removes a group node. Children are re-parented to the
		deleted node's parent.

		Parameters:
		  - context: context.Context
		  - realmID: string
		  - id: string

		Returns:
		  - error: Persistence failures
	*/
	Delete(context context.Context, realmID, id string) error

	/*
		AddMember puts a user into a group.

		Parameters:
		  - context: context.Context
		  - groupID: string
		  - userID: string

		Returns:
		  - error: Persistence failures
	*/
	AddMember(context context.Context, groupID, userID string) error

	/*
		RemoveMember takes a user out of a group.

		Parameters:
		  - context: context.Context
		  - groupID: string
		  - userID: string

		Returns:
		  - error: Persistence failures
	*/
	RemoveMember(context context.Context, groupID, userID string) error

	/*
		ListMemberships returns the IDs of groups a user belongs to directly.

		Parameters:
		  - context: context.Context
		  - userID: string

		Returns:
		  - []string: Group IDs
		  - error: Database retrieval failures
	*/
	ListMemberships(context context.Context, userID string) ([]string, error)
}
