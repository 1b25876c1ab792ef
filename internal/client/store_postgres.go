// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/authme/internal/platform/apperr"
)

// # Client Repository

// PostgresRepository implements the Repository interface using pgx.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL implementation of the Repository.
func NewRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// URI and grant lists are small and read whole; TEXT[] keeps them simple.
const clientColumns = `
	id, realmid, clientid, name, type, secrethash,
	redirecturis, weborigins, granttypes, requireconsent,
	backchannellogouturi, backchannellogoutsessionrequired,
	serviceaccountuserid, enabled, createdat, updatedat`

/*
Create persists a new client record into the clients.client table.

Parameters:
  - context: context.Context
  - client: *Client

Returns:
  - error: Database constraint violations or connectivity errors
*/
func (repository *PostgresRepository) Create(context context.Context, client *Client) error {
	const query = `
		INSERT INTO clients.client (` + clientColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	now := time.Now()
	if client.CreatedAt.IsZero() {
		client.CreatedAt = now
	}
	client.UpdatedAt = now

	_, err := repository.pool.Exec(context, query,
		client.ID,
		client.RealmID,
		client.ClientID,
		client.Name,
		string(client.Type),
		nullableString(client.SecretHash),
		client.RedirectURIs,
		client.WebOrigins,
		client.GrantTypes,
		client.RequireConsent,
		nullableString(client.BackchannelLogoutURI),
		client.BackchannelLogoutSessionRequired,
		nullableString(client.ServiceAccountUserID),
		client.Enabled,
		client.CreatedAt,
		client.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("postgres_client_repo_create_failed: %w", err)
	}

	return nil
}

/*
FindByID retrieves a client by its internal row ID within a realm.

Parameters:
  - context: context.Context
  - realmID: string
  - id: string

Returns:
  - *Client: Hydrated entity
  - error: apperr.NotFound or database errors
*/
func (repository *PostgresRepository) FindByID(context context.Context, realmID, id string) (*Client, error) {
	const query = `
		SELECT ` + clientColumns + `
		FROM clients.client
		WHERE realmid = $1 AND id = $2`

	return scanOneClient(repository.pool.QueryRow(context, query, realmID, id), "postgres_client_repo_find_by_id_failed")
}

/*
FindByClientID retrieves a client by its OAuth client_id within a realm.

Description: Hot path for every protocol request carrying client_id.

Parameters:
  - context: context.Context
  - realmID: string
  - clientID: string

Returns:
  - *Client: Hydrated entity
  - error: apperr.NotFound or database errors
*/
func (repository *PostgresRepository) FindByClientID(context context.Context, realmID, clientID string) (*Client, error) {
	const query = `
		SELECT ` + clientColumns + `
		FROM clients.client
		WHERE realmid = $1 AND clientid = $2`

	return scanOneClient(repository.pool.QueryRow(context, query, realmID, clientID), "postgres_client_repo_find_by_client_id_failed")
}

/*
List retrieves all clients in a realm ordered by client_id.

Parameters:
  - context: context.Context
  - realmID: string

Returns:
  - []*Client: Clients
  - error: Database retrieval failures
*/
func (repository *PostgresRepository) List(context context.Context, realmID string) ([]*Client, error) {
	const query = `
		SELECT ` + clientColumns + `
		FROM clients.client
		WHERE realmid = $1
		ORDER BY clientid`

	return repository.queryClients(context, query, realmID)
}

/*
ListWithBackchannel retrieves enabled clients with a backchannel logout URI.

Parameters:
  - context: context.Context
  - realmID: string

Returns:
  - []*Client: Subscribed clients
  - error: Database retrieval failures
*/
func (repository *PostgresRepository) ListWithBackchannel(context context.Context, realmID string) ([]*Client, error) {
	const query = `
		SELECT ` + clientColumns + `
		FROM clients.client
		WHERE realmid = $1 AND enabled = TRUE AND backchannellogouturi IS NOT NULL
		ORDER BY clientid`

	return repository.queryClients(context, query, realmID)
}

func (repository *PostgresRepository) queryClients(context context.Context, query string, args ...any) ([]*Client, error) {
	rows, err := repository.pool.Query(context, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres_client_repo_query_failed: %w", err)
	}
	defer rows.Close()

	var clients []*Client
	for rows.Next() {
		client, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres_client_repo_scan_failed: %w", err)
		}
		clients = append(clients, client)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres_client_repo_rows_failed: %w", err)
	}

	return clients, nil
}

/*
Update persists changes to a client's mutable fields.

Parameters:
  - context: context.Context
  - client: *Client

Returns:
  - error: Update failures
*/
func (repository *PostgresRepository) Update(context context.Context, client *Client) error {
	const query = `
		UPDATE clients.client
		SET name = $2, type = $3, redirecturis = $4, weborigins = $5,
			granttypes = $6, requireconsent = $7,
			backchannellogouturi = $8, backchannellogoutsessionrequired = $9,
			serviceaccountuserid = $10, enabled = $11, updatedat = $12
		WHERE id = $1`

	client.UpdatedAt = time.Now()
	commandTag, err := repository.pool.Exec(context, query,
		client.ID,
		client.Name,
		string(client.Type),
		client.RedirectURIs,
		client.WebOrigins,
		client.GrantTypes,
		client.RequireConsent,
		nullableString(client.BackchannelLogoutURI),
		client.BackchannelLogoutSessionRequired,
		nullableString(client.ServiceAccountUserID),
		client.Enabled,
		client.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("postgres_client_repo_update_failed: %w", err)
	}
	if commandTag.RowsAffected() == 0 {
		return apperr.NotFound("Client not found")
	}

	return nil
}

/*
UpdateSecretHash replaces only the stored secret digest.

Parameters:
  - context: context.Context
  - id: string
  - secretHash: string

Returns:
  - error: Execution errors
*/
func (repository *PostgresRepository) UpdateSecretHash(context context.Context, id, secretHash string) error {
	const query = "UPDATE clients.client SET secrethash = $2, updatedat = $3 WHERE id = $1"

	commandTag, err := repository.pool.Exec(context, query, id, secretHash, time.Now())
	if err != nil {
		return fmt.Errorf("postgres_client_repo_update_secret_failed: %w", err)
	}
	if commandTag.RowsAffected() == 0 {
		return apperr.NotFound("Client not found")
	}

	return nil
}

/*
Delete permanently removes a client.

Description: Hard delete. Scope assignments, refresh tokens, and consents
cascade via foreign keys.

Parameters:
  - context: context.Context
  - realmID: string
  - id: string

Returns:
  - error: Side-effect failures
*/
func (repository *PostgresRepository) Delete(context context.Context, realmID, id string) error {
	const query = "DELETE FROM clients.client WHERE realmid = $1 AND id = $2"

	commandTag, err := repository.pool.Exec(context, query, realmID, id)
	if err != nil {
		return fmt.Errorf("postgres_client_repo_delete_failed: %w", err)
	}
	if commandTag.RowsAffected() == 0 {
		return apperr.NotFound("Client not found")
	}

	return nil
}

// # Row Scanning

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOneClient(row rowScanner, failCode string) (*Client, error) {
	client, err := scanClient(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("Client not found")
		}
		return nil, fmt.Errorf("%s: %w", failCode, err)
	}
	return client, nil
}

func scanClient(row rowScanner) (*Client, error) {
	var (
		client               Client
		clientType           string
		secretHash           *string
		backchannelLogoutURI *string
		serviceAccountUserID *string
	)

	err := row.Scan(
		&client.ID,
		&client.RealmID,
		&client.ClientID,
		&client.Name,
		&clientType,
		&secretHash,
		&client.RedirectURIs,
		&client.WebOrigins,
		&client.GrantTypes,
		&client.RequireConsent,
		&backchannelLogoutURI,
		&client.BackchannelLogoutSessionRequired,
		&serviceAccountUserID,
		&client.Enabled,
		&client.CreatedAt,
		&client.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	client.Type = Type(clientType)
	if secretHash != nil {
		client.SecretHash = *secretHash
	}
	if backchannelLogoutURI != nil {
		client.BackchannelLogoutURI = *backchannelLogoutURI
	}
	if serviceAccountUserID != nil {
		client.ServiceAccountUserID = *serviceAccountUserID
	}

	return &client, nil
}

func nullableString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

// # Scope Repository

// PostgresScopeRepository implements the ScopeRepository interface.
type PostgresScopeRepository struct {
	pool *pgxpool.Pool
}

// NewScopeRepository creates a new PostgreSQL ScopeRepository.
func NewScopeRepository(pool *pgxpool.Pool) *PostgresScopeRepository {
	return &PostgresScopeRepository{pool: pool}
}

const scopeColumns = "id, realmid, name, description, builtin, mappers, createdat, updatedat"

/*
Create persists a new scope with its mappers as a JSONB document.

Parameters:
  - context: context.Context
  - scope: *Scope

Returns:
  - error: Persistence failures
*/
func (repository *PostgresScopeRepository) Create(context context.Context, scope *Scope) error {
	const query = `
		INSERT INTO clients.clientscope (` + scopeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	now := time.Now()
	if scope.CreatedAt.IsZero() {
		scope.CreatedAt = now
	}
	scope.UpdatedAt = now

	mappers, err := json.Marshal(scope.Mappers)
	if err != nil {
		return fmt.Errorf("postgres_scope_repo_encode_mappers_failed: %w", err)
	}

	_, err = repository.pool.Exec(context, query,
		scope.ID, scope.RealmID, scope.Name, scope.Description,
		scope.BuiltIn, mappers, scope.CreatedAt, scope.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres_scope_repo_create_failed: %w", err)
	}

	return nil
}

/*
FindByID retrieves a scope by ID within a realm.

Parameters:
  - context: context.Context
  - realmID: string
  - id: string

Returns:
  - *Scope: Hydrated entity
  - error: apperr.NotFound or database errors
*/
func (repository *PostgresScopeRepository) FindByID(context context.Context, realmID, id string) (*Scope, error) {
	const query = `
		SELECT ` + scopeColumns + `
		FROM clients.clientscope
		WHERE realmid = $1 AND id = $2`

	scope, err := scanScope(repository.pool.QueryRow(context, query, realmID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("Client scope not found")
		}
		return nil, fmt.Errorf("postgres_scope_repo_find_by_id_failed: %w", err)
	}
	return scope, nil
}

/*
List retrieves all scopes in a realm ordered by name.

Parameters:
  - context: context.Context
  - realmID: string

Returns:
  - []*Scope: Scopes
  - error: Database retrieval failures
*/
func (repository *PostgresScopeRepository) List(context context.Context, realmID string) ([]*Scope, error) {
	const query = `
		SELECT ` + scopeColumns + `
		FROM clients.clientscope
		WHERE realmid = $1
		ORDER BY name`

	rows, err := repository.pool.Query(context, query, realmID)
	if err != nil {
		return nil, fmt.Errorf("postgres_scope_repo_list_failed: %w", err)
	}
	defer rows.Close()

	var scopes []*Scope
	for rows.Next() {
		scope, err := scanScope(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres_scope_repo_scan_failed: %w", err)
		}
		scopes = append(scopes, scope)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres_scope_repo_rows_failed: %w", err)
	}

	return scopes, nil
}

/*
Update persists changes to a scope's mutable fields.

Parameters:
  - context: context.Context
  - scope: *Scope

Returns:
  - error: Update failures
*/
func (repository *PostgresScopeRepository) Update(context context.Context, scope *Scope) error {
	const query = `
		UPDATE clients.clientscope
		SET name = $2, description = $3, mappers = $4, updatedat = $5
		WHERE id = $1`

	mappers, err := json.Marshal(scope.Mappers)
	if err != nil {
		return fmt.Errorf("postgres_scope_repo_encode_mappers_failed: %w", err)
	}

	scope.UpdatedAt = time.Now()
	commandTag, err := repository.pool.Exec(context, query,
		scope.ID, scope.Name, scope.Description, mappers, scope.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres_scope_repo_update_failed: %w", err)
	}
	if commandTag.RowsAffected() == 0 {
		return apperr.NotFound("Client scope not found")
	}

	return nil
}

/*
Delete permanently removes a scope. Assignments cascade.

Parameters:
  - context: context.Context
  - realmID: string
  - id: string

Returns:
  - error: Side-effect failures
*/
func (repository *PostgresScopeRepository) Delete(context context.Context, realmID, id string) error {
	const query = "DELETE FROM clients.clientscope WHERE realmid = $1 AND id = $2"

	commandTag, err := repository.pool.Exec(context, query, realmID, id)
	if err != nil {
		return fmt.Errorf("postgres_scope_repo_delete_failed: %w", err)
	}
	if commandTag.RowsAffected() == 0 {
		return apperr.NotFound("Client scope not found")
	}

	return nil
}

/*
Assign binds a scope to a client, replacing an existing assignment.

Parameters:
  - context: context.Context
  - assignment: *Assignment

Returns:
  - error: Persistence failures
*/
func (repository *PostgresScopeRepository) Assign(context context.Context, assignment *Assignment) error {
	const query = `
		INSERT INTO clients.scopeassignment (clientid, scopeid, defaultscope)
		VALUES ($1, $2, $3)
		ON CONFLICT (clientid, scopeid) DO UPDATE SET defaultscope = EXCLUDED.defaultscope`

	_, err := repository.pool.Exec(context, query,
		assignment.ClientID, assignment.ScopeID, assignment.DefaultScope,
	)
	if err != nil {
		return fmt.Errorf("postgres_scope_repo_assign_failed: %w", err)
	}

	return nil
}

/*
Unassign removes a scope assignment from a client.

Parameters:
  - context: context.Context
  - clientID: string
  - scopeID: string

Returns:
  - error: Persistence failures
*/
func (repository *PostgresScopeRepository) Unassign(context context.Context, clientID, scopeID string) error {
	const query = "DELETE FROM clients.scopeassignment WHERE clientid = $1 AND scopeid = $2"

	_, err := repository.pool.Exec(context, query, clientID, scopeID)
	if err != nil {
		return fmt.Errorf("postgres_scope_repo_unassign_failed: %w", err)
	}

	return nil
}

/*
ListAssigned returns the scopes assigned to a client, split by kind.

Parameters:
  - context: context.Context
  - clientID: string

Returns:
  - []*Scope: Default scopes
  - []*Scope: Optional scopes
  - error: Database retrieval failures
*/
func (repository *PostgresScopeRepository) ListAssigned(context context.Context, clientID string) ([]*Scope, []*Scope, error) {
	const query = `
		SELECT s.id, s.realmid, s.name, s.description, s.builtin, s.mappers, s.createdat, s.updatedat,
			a.defaultscope
		FROM clients.scopeassignment a
		JOIN clients.clientscope s ON s.id = a.scopeid
		WHERE a.clientid = $1
		ORDER BY s.name`

	rows, err := repository.pool.Query(context, query, clientID)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres_scope_repo_list_assigned_failed: %w", err)
	}
	defer rows.Close()

	var defaults, optionals []*Scope
	for rows.Next() {
		var (
			scope          Scope
			mappersJSON    []byte
			isDefaultScope bool
		)
		err := rows.Scan(
			&scope.ID, &scope.RealmID, &scope.Name, &scope.Description,
			&scope.BuiltIn, &mappersJSON, &scope.CreatedAt, &scope.UpdatedAt,
			&isDefaultScope,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres_scope_repo_list_assigned_scan_failed: %w", err)
		}
		if err := json.Unmarshal(mappersJSON, &scope.Mappers); err != nil {
			return nil, nil, fmt.Errorf("postgres_scope_repo_decode_mappers_failed: %w", err)
		}

		if isDefaultScope {
			defaults = append(defaults, &scope)
		} else {
			optionals = append(optionals, &scope)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("postgres_scope_repo_list_assigned_rows_failed: %w", err)
	}

	return defaults, optionals, nil
}

func scanScope(row rowScanner) (*Scope, error) {
	var (
		scope       Scope
		mappersJSON []byte
	)

	err := row.Scan(
		&scope.ID, &scope.RealmID, &scope.Name, &scope.Description,
		&scope.BuiltIn, &mappersJSON, &scope.CreatedAt, &scope.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(mappersJSON, &scope.Mappers); err != nil {
		return nil, fmt.Errorf("postgres_scope_repo_decode_mappers_failed: %w", err)
	}

	return &scope, nil
}
