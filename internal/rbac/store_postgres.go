// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/authme/internal/platform/apperr"
)

// # Role Repository

// PostgresRoleRepository implements [RoleRepository] backed by PostgreSQL.
type PostgresRoleRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRoleRepository creates a role repository on the shared pool.
func NewPostgresRoleRepository(db *pgxpool.Pool) *PostgresRoleRepository {
	return &PostgresRoleRepository{db: db}
}

const roleColumns = `id, realmid, COALESCE(clientid, ''), name, COALESCE(description, ''), createdat`

// Create persists a new role.
func (repository *PostgresRoleRepository) Create(context context.Context, role *Role) error {
	query := `
		INSERT INTO rbac.role (id, realmid, clientid, name, description, createdat)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := repository.db.Exec(context, query,
		role.ID, role.RealmID, nullableString(role.ClientID),
		role.Name, nullableString(role.Description), role.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres_role_repo_create_failed: %w", err)
	}
	return nil
}

// FindByID returns the role with the given ID.
func (repository *PostgresRoleRepository) FindByID(context context.Context, realmID, id string) (*Role, error) {
	query := `SELECT ` + roleColumns + ` FROM rbac.role WHERE realmid = $1 AND id = $2`
	return scanRole(repository.db.QueryRow(context, query, realmID, id))
}

// FindByName returns a role by its (clientID, name) pair within a realm.
func (repository *PostgresRoleRepository) FindByName(context context.Context, realmID, clientID, name string) (*Role, error) {
	query := `
		SELECT ` + roleColumns + `
		FROM rbac.role
		WHERE realmid = $1 AND COALESCE(clientid, '') = $2 AND name = $3`
	return scanRole(repository.db.QueryRow(context, query, realmID, clientID, name))
}

// List returns all roles in a realm ordered by client then name.
func (repository *PostgresRoleRepository) List(context context.Context, realmID string) ([]*Role, error) {
	query := `
		SELECT ` + roleColumns + `
		FROM rbac.role
		WHERE realmid = $1
		ORDER BY COALESCE(clientid, ''), name`

	rows, err := repository.db.Query(context, query, realmID)
	if err != nil {
		return nil, fmt.Errorf("postgres_role_repo_list_failed: %w", err)
	}
	defer rows.Close()

	return collectRoles(rows)
}

// Delete permanently removes a role. Assignments cascade at the schema level.
func (repository *PostgresRoleRepository) Delete(context context.Context, realmID, id string) error {
	tag, err := repository.db.Exec(context,
		`DELETE FROM rbac.role WHERE realmid = $1 AND id = $2`, realmID, id)
	if err != nil {
		return fmt.Errorf("postgres_role_repo_delete_failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Role not found")
	}
	return nil
}

// AssignToUser grants a role to a user directly. Re-granting is a no-op.
func (repository *PostgresRoleRepository) AssignToUser(context context.Context, userID, roleID string) error {
	query := `
		INSERT INTO rbac.userrole (userid, roleid)
		VALUES ($1, $2)
		ON CONFLICT (userid, roleid) DO NOTHING`

	if _, err := repository.db.Exec(context, query, userID, roleID); err != nil {
		return fmt.Errorf("postgres_role_repo_assign_user_failed: %w", err)
	}
	return nil
}

// UnassignFromUser revokes a direct role grant.
func (repository *PostgresRoleRepository) UnassignFromUser(context context.Context, userID, roleID string) error {
	query := `DELETE FROM rbac.userrole WHERE userid = $1 AND roleid = $2`
	if _, err := repository.db.Exec(context, query, userID, roleID); err != nil {
		return fmt.Errorf("postgres_role_repo_unassign_user_failed: %w", err)
	}
	return nil
}

// ListForUser returns roles granted directly to a user.
func (repository *PostgresRoleRepository) ListForUser(context context.Context, userID string) ([]*Role, error) {
	query := `
		SELECT r.id, r.realmid, COALESCE(r.clientid, ''), r.name, COALESCE(r.description, ''), r.createdat
		FROM rbac.role r
		JOIN rbac.userrole ur ON ur.roleid = r.id
		WHERE ur.userid = $1`

	rows, err := repository.db.Query(context, query, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres_role_repo_list_user_failed: %w", err)
	}
	defer rows.Close()

	return collectRoles(rows)
}

// AssignToGroup attaches a role to a group. Re-attaching is a no-op.
func (repository *PostgresRoleRepository) AssignToGroup(context context.Context, groupID, roleID string) error {
	query := `
		INSERT INTO rbac.grouprole (groupid, roleid)
		VALUES ($1, $2)
		ON CONFLICT (groupid, roleid) DO NOTHING`

	if _, err := repository.db.Exec(context, query, groupID, roleID); err != nil {
		return fmt.Errorf("postgres_role_repo_assign_group_failed: %w", err)
	}
	return nil
}

// UnassignFromGroup detaches a role from a group.
func (repository *PostgresRoleRepository) UnassignFromGroup(context context.Context, groupID, roleID string) error {
	query := `DELETE FROM rbac.grouprole WHERE groupid = $1 AND roleid = $2`
	if _, err := repository.db.Exec(context, query, groupID, roleID); err != nil {
		return fmt.Errorf("postgres_role_repo_unassign_group_failed: %w", err)
	}
	return nil
}

// ListForGroups returns roles attached to any of the given groups.
func (repository *PostgresRoleRepository) ListForGroups(context context.Context, groupIDs []string) ([]*Role, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT DISTINCT r.id, r.realmid, COALESCE(r.clientid, ''), r.name, COALESCE(r.description, ''), r.createdat
		FROM rbac.role r
		JOIN rbac.grouprole gr ON gr.roleid = r.id
		WHERE gr.groupid = ANY($1)`

	rows, err := repository.db.Query(context, query, groupIDs)
	if err != nil {
		return nil, fmt.Errorf("postgres_role_repo_list_groups_failed: %w", err)
	}
	defer rows.Close()

	return collectRoles(rows)
}

// # Group Repository

// PostgresGroupRepository implements [GroupRepository] backed by PostgreSQL.
type PostgresGroupRepository struct {
	db *pgxpool.Pool
}

// NewPostgresGroupRepository creates a group repository on the shared pool.
func NewPostgresGroupRepository(db *pgxpool.Pool) *PostgresGroupRepository {
	return &PostgresGroupRepository{db: db}
}

const groupColumns = `id, realmid, COALESCE(parentid, ''), name, createdat`

// Create persists a new group node.
func (repository *PostgresGroupRepository) Create(context context.Context, group *Group) error {
	query := `
		INSERT INTO rbac.usergroup (id, realmid, parentid, name, createdat)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := repository.db.Exec(context, query,
		group.ID, group.RealmID, nullableString(group.ParentID), group.Name, group.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres_group_repo_create_failed: %w", err)
	}
	return nil
}

// FindByID returns the group with the given ID.
func (repository *PostgresGroupRepository) FindByID(context context.Context, realmID, id string) (*Group, error) {
	query := `SELECT ` + groupColumns + ` FROM rbac.usergroup WHERE realmid = $1 AND id = $2`

	group := &Group{}
	err := repository.db.QueryRow(context, query, realmID, id).Scan(
		&group.ID, &group.RealmID, &group.ParentID, &group.Name, &group.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("Group not found")
		}
		return nil, fmt.Errorf("postgres_group_repo_find_failed: %w", err)
	}
	return group, nil
}

// List returns all groups in a realm ordered by name.
func (repository *PostgresGroupRepository) List(context context.Context, realmID string) ([]*Group, error) {
	query := `SELECT ` + groupColumns + ` FROM rbac.usergroup WHERE realmid = $1 ORDER BY name`

	rows, err := repository.db.Query(context, query, realmID)
	if err != nil {
		return nil, fmt.Errorf("postgres_group_repo_list_failed: %w", err)
	}
	defer rows.Close()

	groups := []*Group{}
	for rows.Next() {
		group := &Group{}
		if err := rows.Scan(&group.ID, &group.RealmID, &group.ParentID, &group.Name, &group.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres_group_repo_scan_failed: %w", err)
		}
		groups = append(groups, group)
	}
	return groups, rows.Err()
}

// Update persists a group's name and parent.
func (repository *PostgresGroupRepository) Update(context context.Context, group *Group) error {
	query := `UPDATE rbac.usergroup SET name = $3, parentid = $4 WHERE realmid = $1 AND id = $2`

	tag, err := repository.db.Exec(context, query,
		group.RealmID, group.ID, group.Name, nullableString(group.ParentID))
	if err != nil {
		return fmt.Errorf("postgres_group_repo_update_failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Group not found")
	}
	return nil
}

// Delete removes a group node, re-parenting its children to the deleted
// node's parent so the subtree stays reachable.
func (repository *PostgresGroupRepository) Delete(context context.Context, realmID, id string) error {
	transaction, err := repository.db.Begin(context)
	if err != nil {
		return fmt.Errorf("postgres_group_repo_delete_begin_failed: %w", err)
	}
	defer func() { _ = transaction.Rollback(context) }()

	_, err = transaction.Exec(context, `
		UPDATE rbac.usergroup
		SET parentid = (SELECT parentid FROM rbac.usergroup WHERE realmid = $1 AND id = $2)
		WHERE realmid = $1 AND parentid = $2`, realmID, id)
	if err != nil {
		return fmt.Errorf("postgres_group_repo_reparent_failed: %w", err)
	}

	tag, err := transaction.Exec(context,
		`DELETE FROM rbac.usergroup WHERE realmid = $1 AND id = $2`, realmID, id)
	if err != nil {
		return fmt.Errorf("postgres_group_repo_delete_failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Group not found")
	}

	if err := transaction.Commit(context); err != nil {
		return fmt.Errorf("postgres_group_repo_delete_commit_failed: %w", err)
	}
	return nil
}

// AddMember puts a user into a group. Re-adding is a no-op.
func (repository *PostgresGroupRepository) AddMember(context context.Context, groupID, userID string) error {
	query := `
		INSERT INTO rbac.groupmembership (groupid, userid)
		VALUES ($1, $2)
		ON CONFLICT (groupid, userid) DO NOTHING`

	if _, err := repository.db.Exec(context, query, groupID, userID); err != nil {
		return fmt.Errorf("postgres_group_repo_add_member_failed: %w", err)
	}
	return nil
}

// RemoveMember takes a user out of a group.
func (repository *PostgresGroupRepository) RemoveMember(context context.Context, groupID, userID string) error {
	query := `DELETE FROM rbac.groupmembership WHERE groupid = $1 AND userid = $2`
	if _, err := repository.db.Exec(context, query, groupID, userID); err != nil {
		return fmt.Errorf("postgres_group_repo_remove_member_failed: %w", err)
	}
	return nil
}

// ListMemberships returns the IDs of groups a user belongs to directly.
func (repository *PostgresGroupRepository) ListMemberships(context context.Context, userID string) ([]string, error) {
	rows, err := repository.db.Query(context,
		`SELECT groupid FROM rbac.groupmembership WHERE userid = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres_group_repo_memberships_failed: %w", err)
	}
	defer rows.Close()

	groupIDs := []string{}
	for rows.Next() {
		var groupID string
		if err := rows.Scan(&groupID); err != nil {
			return nil, fmt.Errorf("postgres_group_repo_membership_scan_failed: %w", err)
		}
		groupIDs = append(groupIDs, groupID)
	}
	return groupIDs, rows.Err()
}

// # Scan Helpers

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRole(row rowScanner) (*Role, error) {
	role := &Role{}
	err := row.Scan(&role.ID, &role.RealmID, &role.ClientID, &role.Name, &role.Description, &role.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("Role not found")
		}
		return nil, fmt.Errorf("postgres_role_repo_find_failed: %w", err)
	}
	return role, nil
}

func collectRoles(rows pgx.Rows) ([]*Role, error) {
	roles := []*Role{}
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// nullableString maps empty strings to SQL NULL so partial unique indexes
// and parent references behave correctly.
func nullableString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
