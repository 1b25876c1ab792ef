// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/authme/internal/platform/apperr"
)

// # User Repository

// PostgresRepository implements the Repository interface using pgx.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL implementation of the Repository.
func NewRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const userColumns = `
	id, realmid, username, email, emailverified, firstname, lastname, enabled,
	passwordhash, passwordchangedat, federationlink, createdat, updatedat`

/*
Create persists a new user record into the users.account table.

Parameters:
  - context: context.Context
  - user: *User (Entity to persist)

Returns:
  - error: Database constraint violations or connectivity errors
*/
func (repository *PostgresRepository) Create(context context.Context, user *User) error {
	const query = `
		INSERT INTO users.account (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	_, err := repository.pool.Exec(context, query,
		user.ID,
		user.RealmID,
		user.Username,
		nullableString(user.Email),
		user.EmailVerified,
		user.FirstName,
		user.LastName,
		user.Enabled,
		nullableString(user.PasswordHash),
		user.PasswordChangedAt,
		nullableString(user.FederationLink),
		user.CreatedAt,
		user.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("postgres_user_repo_create_failed: %w", err)
	}

	return nil
}

/*
FindByID retrieves a user record by ID within a realm.

Parameters:
  - context: context.Context
  - realmID: string
  - id: string (UUIDv7)

Returns:
  - *User: Hydrated account entity
  - error: apperr.NotFound or database errors
*/
func (repository *PostgresRepository) FindByID(context context.Context, realmID, id string) (*User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM users.account
		WHERE realmid = $1 AND id = $2`

	return repository.scanOne(repository.pool.QueryRow(context, query, realmID, id), "postgres_user_repo_find_by_id_failed")
}

/*
FindByUsername retrieves a user record by username within a realm.

Description: Primary lookup for interactive login.

Parameters:
  - context: context.Context
  - realmID: string
  - username: string

Returns:
  - *User: Hydrated account entity
  - error: apperr.NotFound or database errors
*/
func (repository *PostgresRepository) FindByUsername(context context.Context, realmID, username string) (*User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM users.account
		WHERE realmid = $1 AND username = $2`

	return repository.scanOne(repository.pool.QueryRow(context, query, realmID, username), "postgres_user_repo_find_by_username_failed")
}

/*
FindByEmail retrieves a user record by email within a realm.

Parameters:
  - context: context.Context
  - realmID: string
  - email: string

Returns:
  - *User: Hydrated account entity
  - error: apperr.NotFound or database errors
*/
func (repository *PostgresRepository) FindByEmail(context context.Context, realmID, email string) (*User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM users.account
		WHERE realmid = $1 AND email = $2`

	return repository.scanOne(repository.pool.QueryRow(context, query, realmID, email), "postgres_user_repo_find_by_email_failed")
}

/*
List retrieves all accounts in a realm ordered by username.

Parameters:
  - context: context.Context
  - realmID: string

Returns:
  - []*User: Accounts
  - error: Database retrieval failures
*/
func (repository *PostgresRepository) List(context context.Context, realmID string) ([]*User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM users.account
		WHERE realmid = $1
		ORDER BY username`

	rows, err := repository.pool.Query(context, query, realmID)
	if err != nil {
		return nil, fmt.Errorf("postgres_user_repo_list_failed: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres_user_repo_list_scan_failed: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres_user_repo_list_rows_failed: %w", err)
	}

	return users, nil
}

/*
Update persists changes to a user's mutable profile fields.

Parameters:
  - context: context.Context
  - user: *User

Returns:
  - error: Update failures
*/
func (repository *PostgresRepository) Update(context context.Context, user *User) error {
	const query = `
		UPDATE users.account
		SET email = $2, emailverified = $3, firstname = $4, lastname = $5,
			enabled = $6, federationlink = $7, updatedat = $8
		WHERE id = $1`

	user.UpdatedAt = time.Now()
	commandTag, err := repository.pool.Exec(context, query,
		user.ID,
		nullableString(user.Email),
		user.EmailVerified,
		user.FirstName,
		user.LastName,
		user.Enabled,
		nullableString(user.FederationLink),
		user.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("postgres_user_repo_update_failed: %w", err)
	}
	if commandTag.RowsAffected() == 0 {
		return apperr.NotFound("User not found")
	}

	return nil
}

/*
UpdatePassword replaces only the password hash and its change timestamp.

Parameters:
  - context: context.Context
  - userID: string
  - newHash: string
  - changedAt: time.Time

Returns:
  - error: Execution errors
*/
func (repository *PostgresRepository) UpdatePassword(context context.Context, userID, newHash string, changedAt time.Time) error {
	const query = `
		UPDATE users.account
		SET passwordhash = $2, passwordchangedat = $3, updatedat = $4
		WHERE id = $1`

	commandTag, err := repository.pool.Exec(context, query, userID, newHash, changedAt, time.Now())
	if err != nil {
		return fmt.Errorf("postgres_user_repo_update_password_failed: %w", err)
	}
	if commandTag.RowsAffected() == 0 {
		return apperr.NotFound("User not found")
	}

	return nil
}

/*
MarkEmailVerified updates the user's status to emailverified = true.

Parameters:
  - context: context.Context
  - userID: string

Returns:
  - error: Database errors
*/
func (repository *PostgresRepository) MarkEmailVerified(context context.Context, userID string) error {
	const query = "UPDATE users.account SET emailverified = TRUE, updatedat = $2 WHERE id = $1"

	_, err := repository.pool.Exec(context, query, userID, time.Now())
	if err != nil {
		return fmt.Errorf("postgres_user_repo_mark_email_verified_failed: %w", err)
	}
	return nil
}

/*
Delete permanently removes the account.

Description: Hard delete. Sessions, refresh tokens, consents, credentials,
recovery codes, and history cascade via foreign keys.

Parameters:
  - context: context.Context
  - realmID: string
  - id: string

Returns:
  - error: Side-effect failures
*/
func (repository *PostgresRepository) Delete(context context.Context, realmID, id string) error {
	const query = "DELETE FROM users.account WHERE realmid = $1 AND id = $2"

	commandTag, err := repository.pool.Exec(context, query, realmID, id)
	if err != nil {
		return fmt.Errorf("postgres_user_repo_delete_failed: %w", err)
	}
	if commandTag.RowsAffected() == 0 {
		return apperr.NotFound("User not found")
	}

	return nil
}

// # Row Scanning

type rowScanner interface {
	Scan(dest ...any) error
}

func (repository *PostgresRepository) scanOne(row rowScanner, failCode string) (*User, error) {
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("User not found")
		}
		return nil, fmt.Errorf("%s: %w", failCode, err)
	}
	return user, nil
}

func scanUser(row rowScanner) (*User, error) {
	var (
		user           User
		email          *string
		passwordHash   *string
		federationLink *string
	)

	err := row.Scan(
		&user.ID,
		&user.RealmID,
		&user.Username,
		&email,
		&user.EmailVerified,
		&user.FirstName,
		&user.LastName,
		&user.Enabled,
		&passwordHash,
		&user.PasswordChangedAt,
		&federationLink,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if email != nil {
		user.Email = *email
	}
	if passwordHash != nil {
		user.PasswordHash = *passwordHash
	}
	if federationLink != nil {
		user.FederationLink = *federationLink
	}

	return &user, nil
}

// nullableString maps "" to SQL NULL so partial unique indexes work.
func nullableString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

// # Password History Repository

// PostgresHistoryRepository implements the HistoryRepository interface.
type PostgresHistoryRepository struct {
	pool *pgxpool.Pool
}

// NewHistoryRepository creates a new PostgreSQL HistoryRepository.
func NewHistoryRepository(pool *pgxpool.Pool) *PostgresHistoryRepository {
	return &PostgresHistoryRepository{pool: pool}
}

/*
Append records a retired hash and prunes older entries beyond the keep count.

Description: Both statements run in one transaction so history never
transiently exceeds the retention bound.

Parameters:
  - context: context.Context
  - entry: *PasswordHistoryEntry
  - keep: int

Returns:
  - error: Persistence failures
*/
func (repository *PostgresHistoryRepository) Append(context context.Context, entry *PasswordHistoryEntry, keep int) error {
	const insertQuery = `
		INSERT INTO users.passwordhistory (id, userid, realmid, passwordhash, createdat)
		VALUES ($1, $2, $3, $4, $5)`
	const pruneQuery = `
		DELETE FROM users.passwordhistory
		WHERE userid = $1 AND id NOT IN (
			SELECT id FROM users.passwordhistory
			WHERE userid = $1
			ORDER BY createdat DESC
			LIMIT $2
		)`

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	transaction, err := repository.pool.Begin(context)
	if err != nil {
		return fmt.Errorf("postgres_history_repo_begin_failed: %w", err)
	}
	defer func() { _ = transaction.Rollback(context) }()

	if _, err := transaction.Exec(context, insertQuery,
		entry.ID, entry.UserID, entry.RealmID, entry.PasswordHash, entry.CreatedAt,
	); err != nil {
		return fmt.Errorf("postgres_history_repo_append_failed: %w", err)
	}

	if keep > 0 {
		if _, err := transaction.Exec(context, pruneQuery, entry.UserID, keep); err != nil {
			return fmt.Errorf("postgres_history_repo_prune_failed: %w", err)
		}
	}

	if err := transaction.Commit(context); err != nil {
		return fmt.Errorf("postgres_history_repo_commit_failed: %w", err)
	}

	return nil
}

/*
LastN returns up to n most recent retired hashes, newest first.

Parameters:
  - context: context.Context
  - realmID: string
  - userID: string
  - n: int

Returns:
  - []string: Password hashes
  - error: Database retrieval failures
*/
func (repository *PostgresHistoryRepository) LastN(context context.Context, realmID, userID string, n int) ([]string, error) {
	const query = `
		SELECT passwordhash
		FROM users.passwordhistory
		WHERE realmid = $1 AND userid = $2
		ORDER BY createdat DESC
		LIMIT $3`

	rows, err := repository.pool.Query(context, query, realmID, userID, n)
	if err != nil {
		return nil, fmt.Errorf("postgres_history_repo_last_n_failed: %w", err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, fmt.Errorf("postgres_history_repo_scan_failed: %w", err)
		}
		hashes = append(hashes, hash)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres_history_repo_rows_failed: %w", err)
	}

	return hashes, nil
}

// # Login Failure Repository

// PostgresFailureRepository implements the FailureRepository interface.
type PostgresFailureRepository struct {
	pool *pgxpool.Pool
}

// NewFailureRepository creates a new PostgreSQL FailureRepository.
func NewFailureRepository(pool *pgxpool.Pool) *PostgresFailureRepository {
	return &PostgresFailureRepository{pool: pool}
}

/*
Record appends a login failure row.

Parameters:
  - context: context.Context
  - failure: *LoginFailure

Returns:
  - error: Persistence failures
*/
func (repository *PostgresFailureRepository) Record(context context.Context, failure *LoginFailure) error {
	const query = `
		INSERT INTO users.loginfailure (id, userid, realmid, ipaddress, createdat)
		VALUES ($1, $2, $3, $4, $5)`

	if failure.CreatedAt.IsZero() {
		failure.CreatedAt = time.Now()
	}

	_, err := repository.pool.Exec(context, query,
		failure.ID, failure.UserID, failure.RealmID, failure.IPAddress, failure.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres_failure_repo_record_failed: %w", err)
	}

	return nil
}

/*
CountSince counts failures within the window and finds the most recent one.

Parameters:
  - context: context.Context
  - realmID: string
  - userID: string
  - since: time.Time

Returns:
  - int: Failure count within the window
  - time.Time: Most recent failure instant
  - error: Database retrieval failures
*/
func (repository *PostgresFailureRepository) CountSince(context context.Context, realmID, userID string, since time.Time) (int, time.Time, error) {
	const query = `
		SELECT COUNT(*), COALESCE(MAX(createdat), 'epoch'::timestamptz)
		FROM users.loginfailure
		WHERE realmid = $1 AND userid = $2 AND createdat >= $3`

	var count int
	var lastFailure time.Time
	err := repository.pool.QueryRow(context, query, realmID, userID, since).Scan(&count, &lastFailure)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("postgres_failure_repo_count_since_failed: %w", err)
	}

	return count, lastFailure, nil
}

/*
CountAll returns the lifetime failure count for permanent lockout checks.

Parameters:
  - context: context.Context
  - realmID: string
  - userID: string

Returns:
  - int: Total recorded failures
  - error: Database retrieval failures
*/
func (repository *PostgresFailureRepository) CountAll(context context.Context, realmID, userID string) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM users.loginfailure
		WHERE realmid = $1 AND userid = $2`

	var count int
	err := repository.pool.QueryRow(context, query, realmID, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres_failure_repo_count_all_failed: %w", err)
	}

	return count, nil
}

/*
Reset deletes all failures for a user.

Parameters:
  - context: context.Context
  - realmID: string
  - userID: string

Returns:
  - error: Persistence failures
*/
func (repository *PostgresFailureRepository) Reset(context context.Context, realmID, userID string) error {
	const query = "DELETE FROM users.loginfailure WHERE realmid = $1 AND userid = $2"

	_, err := repository.pool.Exec(context, query, realmID, userID)
	if err != nil {
		return fmt.Errorf("postgres_failure_repo_reset_failed: %w", err)
	}

	return nil
}
