// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package rbac

import (
	"context"
	"fmt"
	"sort"

	"github.com/taibuivan/authme/internal/platform/apperr"
	"github.com/taibuivan/authme/internal/platform/clock"
	"github.com/taibuivan/authme/internal/platform/validate"
	"github.com/taibuivan/authme/pkg/uuid"
)

// # Service Definition

// Service orchestrates role and group management and resolves effective roles.
type Service struct {
	roles  RoleRepository
	groups GroupRepository
	clock  clock.Clock
}

// NewService wires the rbac service with its repositories.
func NewService(roles RoleRepository, groups GroupRepository, clk clock.Clock) *Service {
	return &Service{roles: roles, groups: groups, clock: clk}
}

// # Role Lifecycle

// CreateRoleInput carries the caller-supplied fields for a new role.
type CreateRoleInput struct {
	Name        string `json:"name"`
	ClientID    string `json:"client_id,omitempty"`
	Description string `json:"description,omitempty"`
}

/*
CreateRole registers a new realm or client role.

Role names are unique per (realm, client) pair; a realm role and a client
role may share a name.

Parameters:
  - context: context.Context
  - realmID: string
  - input: CreateRoleInput

Returns:
  - *Role: The persisted role
  - error: Validation or persistence failures
*/
func (service *Service) CreateRole(context context.Context, realmID string, input CreateRoleInput) (*Role, error) {
	validator := validate.New().
		Required(FieldRoleName, input.Name).
		MaxLen(FieldRoleName, input.Name, 255)
	if validator.HasErrors() {
		return nil, validator.Err()
	}

	if _, err := service.roles.FindByName(context, realmID, input.ClientID, input.Name); err == nil {
		return nil, apperr.Conflict("Role already exists: " + input.Name)
	} else if !apperr.IsNotFound(err) {
		return nil, fmt.Errorf("rbac_service_create_role_lookup_failed: %w", err)
	}

	role := &Role{
		ID:          uuid.New(),
		RealmID:     realmID,
		ClientID:    input.ClientID,
		Name:        input.Name,
		Description: input.Description,
		CreatedAt:   service.clock.Now(),
	}
	if err := service.roles.Create(context, role); err != nil {
		return nil, err
	}
	return role, nil
}

// GetRole returns one role by ID.
func (service *Service) GetRole(context context.Context, realmID, roleID string) (*Role, error) {
	return service.roles.FindByID(context, realmID, roleID)
}

// ListRoles returns every role in the realm.
func (service *Service) ListRoles(context context.Context, realmID string) ([]*Role, error) {
	return service.roles.List(context, realmID)
}

// DeleteRole removes a role and all of its assignments.
func (service *Service) DeleteRole(context context.Context, realmID, roleID string) error {
	return service.roles.Delete(context, realmID, roleID)
}

// # Group Lifecycle

// CreateGroupInput carries the caller-supplied fields for a new group.
type CreateGroupInput struct {
	Name     string `json:"name"`
	ParentID string `json:"parent_id,omitempty"`
}

/*
CreateGroup adds a node to the realm's group tree.

Parameters:
  - context: context.Context
  - realmID: string
  - input: CreateGroupInput

Returns:
  - *Group: The persisted group
  - error: Validation or persistence failures
*/
func (service *Service) CreateGroup(context context.Context, realmID string, input CreateGroupInput) (*Group, error) {
	validator := validate.New().
		Required(FieldGroupName, input.Name).
		MaxLen(FieldGroupName, input.Name, 255)
	if validator.HasErrors() {
		return nil, validator.Err()
	}

	// A new leaf cannot close a cycle, but its parent must exist in this realm.
	if input.ParentID != "" {
		if _, err := service.groups.FindByID(context, realmID, input.ParentID); err != nil {
			return nil, err
		}
	}

	group := &Group{
		ID:        uuid.New(),
		RealmID:   realmID,
		ParentID:  input.ParentID,
		Name:      input.Name,
		CreatedAt: service.clock.Now(),
	}
	if err := service.groups.Create(context, group); err != nil {
		return nil, err
	}
	return group, nil
}

// GetGroup returns one group by ID.
func (service *Service) GetGroup(context context.Context, realmID, groupID string) (*Group, error) {
	return service.groups.FindByID(context, realmID, groupID)
}

// ListGroups returns every group in the realm.
func (service *Service) ListGroups(context context.Context, realmID string) ([]*Group, error) {
	return service.groups.List(context, realmID)
}

// UpdateGroupInput carries mutable group fields. Nil means "leave unchanged".
type UpdateGroupInput struct {
	Name     *string `json:"name,omitempty"`
	ParentID *string `json:"parent_id,omitempty"`
}

/*
UpdateGroup renames a group or moves it within the tree.

Moving a group under itself or under one of its own descendants is rejected,
since that would detach the subtree into a cycle.

Parameters:
  - context: context.Context
  - realmID: string
  - groupID: string
  - input: UpdateGroupInput

Returns:
  - *Group: The updated group
  - error: Validation or persistence failures
*/
func (service *Service) UpdateGroup(context context.Context, realmID, groupID string, input UpdateGroupInput) (*Group, error) {
	group, err := service.groups.FindByID(context, realmID, groupID)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		validator := validate.New().
			Required(FieldGroupName, *input.Name).
			MaxLen(FieldGroupName, *input.Name, 255)
		if validator.HasErrors() {
			return nil, validator.Err()
		}
		group.Name = *input.Name
	}

	if input.ParentID != nil && *input.ParentID != group.ParentID {
		if err := service.checkMove(context, realmID, group.ID, *input.ParentID); err != nil {
			return nil, err
		}
		group.ParentID = *input.ParentID
	}

	if err := service.groups.Update(context, group); err != nil {
		return nil, err
	}
	return group, nil
}

// DeleteGroup removes a group node, re-parenting its children.
func (service *Service) DeleteGroup(context context.Context, realmID, groupID string) error {
	return service.groups.Delete(context, realmID, groupID)
}

// checkMove verifies that attaching group under newParentID keeps the tree
// acyclic by walking the ancestor chain from the new parent to a root.
func (service *Service) checkMove(context context.Context, realmID, groupID, newParentID string) error {
	if newParentID == "" {
		return nil // becoming a root is always safe
	}
	if newParentID == groupID {
		return apperr.ValidationError("Group cannot be its own parent",
			apperr.FieldError{Field: FieldParentID, Message: "Parent must be a different group"})
	}

	ancestorID := newParentID
	for ancestorID != "" {
		ancestor, err := service.groups.FindByID(context, realmID, ancestorID)
		if err != nil {
			return err
		}
		if ancestor.ParentID == groupID {
			return apperr.ValidationError("Group move would create a cycle",
				apperr.FieldError{Field: FieldParentID, Message: "Parent is a descendant of this group"})
		}
		ancestorID = ancestor.ParentID
	}
	return nil
}

// # Assignments

// AssignRoleToUser grants a role to a user after checking the role exists
// in the realm.
func (service *Service) AssignRoleToUser(context context.Context, realmID, userID, roleID string) error {
	if _, err := service.roles.FindByID(context, realmID, roleID); err != nil {
		return err
	}
	return service.roles.AssignToUser(context, userID, roleID)
}

// UnassignRoleFromUser revokes a direct role grant.
func (service *Service) UnassignRoleFromUser(context context.Context, userID, roleID string) error {
	return service.roles.UnassignFromUser(context, userID, roleID)
}

// ListUserRoles returns the roles granted directly to a user.
func (service *Service) ListUserRoles(context context.Context, userID string) ([]*Role, error) {
	return service.roles.ListForUser(context, userID)
}

// AssignRoleToGroup attaches a role to a group after checking both exist.
func (service *Service) AssignRoleToGroup(context context.Context, realmID, groupID, roleID string) error {
	if _, err := service.groups.FindByID(context, realmID, groupID); err != nil {
		return err
	}
	if _, err := service.roles.FindByID(context, realmID, roleID); err != nil {
		return err
	}
	return service.roles.AssignToGroup(context, groupID, roleID)
}

// UnassignRoleFromGroup detaches a role from a group.
func (service *Service) UnassignRoleFromGroup(context context.Context, groupID, roleID string) error {
	return service.roles.UnassignFromGroup(context, groupID, roleID)
}

// AddGroupMember puts a user into a group after checking the group exists.
func (service *Service) AddGroupMember(context context.Context, realmID, groupID, userID string) error {
	if _, err := service.groups.FindByID(context, realmID, groupID); err != nil {
		return err
	}
	return service.groups.AddMember(context, groupID, userID)
}

// RemoveGroupMember takes a user out of a group.
func (service *Service) RemoveGroupMember(context context.Context, groupID, userID string) error {
	return service.groups.RemoveMember(context, groupID, userID)
}

// # Effective Role Resolution

/*
EffectiveRoles resolves the full role set a user holds for token claims.

The result is the union of:
  - roles granted to the user directly, and
  - roles attached to any group on the path from the user's groups up to
    the tree roots (membership in a child group inherits the parents' roles).

Role names are deduplicated and sorted so claim emission is deterministic.

Parameters:
  - context: context.Context
  - realmID: string
  - userID: string

Returns:
  - *EffectiveRoles: Realm roles and per-client roles
  - error: Database retrieval failures
*/
func (service *Service) EffectiveRoles(context context.Context, realmID, userID string) (*EffectiveRoles, error) {
	direct, err := service.roles.ListForUser(context, userID)
	if err != nil {
		return nil, err
	}

	memberships, err := service.groups.ListMemberships(context, userID)
	if err != nil {
		return nil, err
	}

	var inherited []*Role
	if len(memberships) > 0 {
		groupIDs, err := service.expandAncestors(context, realmID, memberships)
		if err != nil {
			return nil, err
		}
		inherited, err = service.roles.ListForGroups(context, groupIDs)
		if err != nil {
			return nil, err
		}
	}

	return mergeRoles(direct, inherited), nil
}

// expandAncestors walks each membership up to its root and returns the
// deduplicated set of group IDs along the way. The realm's tree is loaded
// once; walks happen in memory.
func (service *Service) expandAncestors(context context.Context, realmID string, memberships []string) ([]string, error) {
	all, err := service.groups.List(context, realmID)
	if err != nil {
		return nil, err
	}

	parents := make(map[string]string, len(all))
	for _, group := range all {
		parents[group.ID] = group.ParentID
	}

	seen := map[string]bool{}
	for _, groupID := range memberships {
		for current := groupID; current != "" && !seen[current]; {
			seen[current] = true
			current = parents[current]
		}
	}

	groupIDs := make([]string, 0, len(seen))
	for groupID := range seen {
		groupIDs = append(groupIDs, groupID)
	}
	return groupIDs, nil
}

// mergeRoles unions role slices into the claim-shaped result.
func mergeRoles(sets ...[]*Role) *EffectiveRoles {
	realmSeen := map[string]bool{}
	clientSeen := map[string]map[string]bool{}

	for _, set := range sets {
		for _, role := range set {
			if role.ClientID == "" {
				realmSeen[role.Name] = true
				continue
			}
			if clientSeen[role.ClientID] == nil {
				clientSeen[role.ClientID] = map[string]bool{}
			}
			clientSeen[role.ClientID][role.Name] = true
		}
	}

	effective := &EffectiveRoles{
		RealmRoles:  sortedKeys(realmSeen),
		ClientRoles: make(map[string][]string, len(clientSeen)),
	}
	for clientID, names := range clientSeen {
		effective.ClientRoles[clientID] = sortedKeys(names)
	}
	return effective
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
