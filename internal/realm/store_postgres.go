// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package realm

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

// # Realm Repository

// PostgresRepository implements the Repository interface using pgx.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL implementation of the Repository.
func NewRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Durations are stored as integer seconds; structured policies as JSONB.
const realmColumns = `
	id, name, displayname, enabled,
	accesstokenlifespan, refreshtokenlifespan, offlinetokenlifespan, ssosessionlifespan,
	passwordpolicy, bruteforcepolicy,
	mfarequired, registrationallowed, requireemailverification,
	eventsexpiration, smtp, logintheme, createdat, updatedat`

/*
Create persists a new realm record into the realms.realm table.

Description: Deep-persists tenant settings, encoding the policy structs
as JSONB documents.

Parameters:
  - context: context.Context
  - realm: *Realm (Entity to persist)

Returns:
  - error: Database constraint violations or connectivity errors
*/
func (repository *PostgresRepository) Create(context context.Context, realm *Realm) error {
	const query = `
		INSERT INTO realms.realm (` + realmColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	now := time.Now()
	if realm.CreatedAt.IsZero() {
		realm.CreatedAt = now
	}
	realm.UpdatedAt = now

	passwordPolicy, err := json.Marshal(realm.PasswordPolicy)
	if err != nil {
		return fmt.Errorf("postgres_realm_repo_encode_password_policy_failed: %w", err)
	}
	bruteForcePolicy, err := json.Marshal(realm.BruteForcePolicy)
	if err != nil {
		return fmt.Errorf("postgres_realm_repo_encode_brute_force_policy_failed: %w", err)
	}
	smtp, err := json.Marshal(realm.SMTP)
	if err != nil {
		return fmt.Errorf("postgres_realm_repo_encode_smtp_failed: %w", err)
	}

	_, err = repository.pool.Exec(context, query,
		realm.ID,
		realm.Name,
		realm.DisplayName,
		realm.Enabled,
		int64(realm.AccessTokenLifespan.Seconds()),
		int64(realm.RefreshTokenLifespan.Seconds()),
		int64(realm.OfflineTokenLifespan.Seconds()),
		int64(realm.SsoSessionLifespan.Seconds()),
		passwordPolicy,
		bruteForcePolicy,
		realm.MfaRequired,
		realm.RegistrationAllowed,
		realm.RequireEmailVerification,
		int64(realm.EventsExpiration.Seconds()),
		smtp,
		realm.LoginTheme,
		realm.CreatedAt,
		realm.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("postgres_realm_repo_create_failed: %w", err)
	}

	return nil
}

/*
FindByName retrieves a realm record by its unique slug.

Description: Primary lookup used by the request resolver. Hot path.

Parameters:
  - context: context.Context
  - name: string

Returns:
  - *Realm: Hydrated tenant entity
  - error: apperr.NotFound or database errors
*/
func (repository *PostgresRepository) FindByName(context context.Context, name string) (*Realm, error) {
	const query = `
		SELECT ` + realmColumns + `
		FROM realms.realm
		WHERE name = $1`

	return repository.scanOne(repository.pool.QueryRow(context, query, name), "postgres_realm_repo_find_by_name_failed")
}

/*
FindByID retrieves a realm record by its unique ID.

Parameters:
  - context: context.Context
  - id: string (UUIDv7)

Returns:
  - *Realm: Hydrated tenant entity
  - error: apperr.NotFound or database errors
*/
func (repository *PostgresRepository) FindByID(context context.Context, id string) (*Realm, error) {
	const query = `
		SELECT ` + realmColumns + `
		FROM realms.realm
		WHERE id = $1`

	return repository.scanOne(repository.pool.QueryRow(context, query, id), "postgres_realm_repo_find_by_id_failed")
}

/*
List retrieves all realms ordered by name.

Parameters:
  - context: context.Context

Returns:
  - []*Realm: All tenant entities
  - error: Database retrieval failures
*/
func (repository *PostgresRepository) List(context context.Context) ([]*Realm, error) {
	const query = `
		SELECT ` + realmColumns + `
		FROM realms.realm
		ORDER BY name`

	rows, err := repository.pool.Query(context, query)
	if err != nil {
		return nil, fmt.Errorf("postgres_realm_repo_list_failed: %w", err)
	}
	defer rows.Close()

	var realms []*Realm
	for rows.Next() {
		realm, err := repository.scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres_realm_repo_list_scan_failed: %w", err)
		}
		realms = append(realms, realm)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres_realm_repo_list_rows_failed: %w", err)
	}

	return realms, nil
}

/*
Update persists changes to a realm's mutable settings.

Description: Synchronizes the in-memory realm state with the database,
refreshing the updatedat timestamp. The slug is immutable.

Parameters:
  - context: context.Context
  - realm: *Realm

Returns:
  - error: Update failures
*/
func (repository *PostgresRepository) Update(context context.Context, realm *Realm) error {
	const query = `
		UPDATE realms.realm
		SET displayname = $2, enabled = $3,
			accesstokenlifespan = $4, refreshtokenlifespan = $5,
			offlinetokenlifespan = $6, ssosessionlifespan = $7,
			passwordpolicy = $8, bruteforcepolicy = $9,
			mfarequired = $10, registrationallowed = $11, requireemailverification = $12,
			eventsexpiration = $13, smtp = $14, logintheme = $15, updatedat = $16
		WHERE id = $1`

	passwordPolicy, err := json.Marshal(realm.PasswordPolicy)
	if err != nil {
		return fmt.Errorf("postgres_realm_repo_encode_password_policy_failed: %w", err)
	}
	bruteForcePolicy, err := json.Marshal(realm.BruteForcePolicy)
	if err != nil {
		return fmt.Errorf("postgres_realm_repo_encode_brute_force_policy_failed: %w", err)
	}
	smtp, err := json.Marshal(realm.SMTP)
	if err != nil {
		return fmt.Errorf("postgres_realm_repo_encode_smtp_failed: %w", err)
	}

	realm.UpdatedAt = time.Now()
	commandTag, err := repository.pool.Exec(context, query,
		realm.ID,
		realm.DisplayName,
		realm.Enabled,
		int64(realm.AccessTokenLifespan.Seconds()),
		int64(realm.RefreshTokenLifespan.Seconds()),
		int64(realm.OfflineTokenLifespan.Seconds()),
		int64(realm.SsoSessionLifespan.Seconds()),
		passwordPolicy,
		bruteForcePolicy,
		realm.MfaRequired,
		realm.RegistrationAllowed,
		realm.RequireEmailVerification,
		int64(realm.EventsExpiration.Seconds()),
		smtp,
		realm.LoginTheme,
		realm.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("postgres_realm_repo_update_failed: %w", err)
	}
	if commandTag.RowsAffected() == 0 {
		return apperr.NotFound("Realm not found")
	}

	return nil
}

/*
Delete permanently removes a realm.

Description: Hard delete. Foreign keys cascade to users, clients, roles,
groups, signing keys, sessions, and events owned by the realm.

Parameters:
  - context: context.Context
  - id: string

Returns:
  - error: Side-effect failures
*/
func (repository *PostgresRepository) Delete(context context.Context, id string) error {
	const query = "DELETE FROM realms.realm WHERE id = $1"

	commandTag, err := repository.pool.Exec(context, query, id)
	if err != nil {
		return fmt.Errorf("postgres_realm_repo_delete_failed: %w", err)
	}
	if commandTag.RowsAffected() == 0 {
		return apperr.NotFound("Realm not found")
	}

	return nil
}

// # Row Scanning

// rowScanner abstracts pgx.Row and pgx.Rows for shared scan logic.
type rowScanner interface {
	Scan(dest ...any) error
}

func (repository *PostgresRepository) scanOne(row rowScanner, failCode string) (*Realm, error) {
	realm, err := repository.scanRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("Realm not found")
		}
		return nil, fmt.Errorf("%s: %w", failCode, err)
	}
	return realm, nil
}

func (repository *PostgresRepository) scanRow(row rowScanner) (*Realm, error) {
	var (
		realm                Realm
		accessTokenSeconds   int64
		refreshTokenSeconds  int64
		offlineTokenSeconds  int64
		ssoSessionSeconds    int64
		eventsExpirySeconds  int64
		passwordPolicyJSON   []byte
		bruteForcePolicyJSON []byte
		smtpJSON             []byte
	)

	err := row.Scan(
		&realm.ID,
		&realm.Name,
		&realm.DisplayName,
		&realm.Enabled,
		&accessTokenSeconds,
		&refreshTokenSeconds,
		&offlineTokenSeconds,
		&ssoSessionSeconds,
		&passwordPolicyJSON,
		&bruteForcePolicyJSON,
		&realm.MfaRequired,
		&realm.RegistrationAllowed,
		&realm.RequireEmailVerification,
		&eventsExpirySeconds,
		&smtpJSON,
		&realm.LoginTheme,
		&realm.CreatedAt,
		&realm.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	realm.AccessTokenLifespan = time.Duration(accessTokenSeconds) * time.Second
	realm.RefreshTokenLifespan = time.Duration(refreshTokenSeconds) * time.Second
	realm.OfflineTokenLifespan = time.Duration(offlineTokenSeconds) * time.Second
	realm.SsoSessionLifespan = time.Duration(ssoSessionSeconds) * time.Second
	realm.EventsExpiration = time.Duration(eventsExpirySeconds) * time.Second

	if err := json.Unmarshal(passwordPolicyJSON, &realm.PasswordPolicy); err != nil {
		return nil, fmt.Errorf("postgres_realm_repo_decode_password_policy_failed: %w", err)
	}
	if err := json.Unmarshal(bruteForcePolicyJSON, &realm.BruteForcePolicy); err != nil {
		return nil, fmt.Errorf("postgres_realm_repo_decode_brute_force_policy_failed: %w", err)
	}
	if err := json.Unmarshal(smtpJSON, &realm.SMTP); err != nil {
		return nil, fmt.Errorf("postgres_realm_repo_decode_smtp_failed: %w", err)
	}

	return &realm, nil
}
