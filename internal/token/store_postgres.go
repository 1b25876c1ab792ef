// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package token

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/authme/internal/platform/apperr"
)

// # Definitions & Constructors

// PostgresKeyRepository implements [KeyRepository] backed by PostgreSQL.
type PostgresKeyRepository struct {
	db *pgxpool.Pool
}

// NewPostgresKeyRepository creates a key repository on the shared pool.
func NewPostgresKeyRepository(db *pgxpool.Pool) *PostgresKeyRepository {
	return &PostgresKeyRepository{db: db}
}

const keyColumns = `kid, realmid, algorithm, publicpem, privatesealed, active, createdat`

// # Repository Operations

// Create persists a new signing key.
func (repository *PostgresKeyRepository) Create(context context.Context, key *SigningKey) error {
	query := `
		INSERT INTO keys.signingkey (kid, realmid, algorithm, publicpem, privatesealed, active, createdat)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := repository.db.Exec(context, query,
		key.KID, key.RealmID, key.Algorithm, key.PublicPEM, key.PrivateSealed, key.Active, key.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres_key_repo_create_failed: %w", err)
	}
	return nil
}

// FindActive returns the realm's current signing key.
func (repository *PostgresKeyRepository) FindActive(context context.Context, realmID string) (*SigningKey, error) {
	query := `SELECT ` + keyColumns + ` FROM keys.signingkey WHERE realmid = $1 AND active`
	return scanKey(repository.db.QueryRow(context, query, realmID))
}

// FindByKID returns one key by its identifier.
func (repository *PostgresKeyRepository) FindByKID(context context.Context, realmID, kid string) (*SigningKey, error) {
	query := `SELECT ` + keyColumns + ` FROM keys.signingkey WHERE realmid = $1 AND kid = $2`
	return scanKey(repository.db.QueryRow(context, query, realmID, kid))
}

// List returns all keys in a realm, newest first.
func (repository *PostgresKeyRepository) List(context context.Context, realmID string) ([]*SigningKey, error) {
	query := `SELECT ` + keyColumns + ` FROM keys.signingkey WHERE realmid = $1 ORDER BY createdat DESC`

	rows, err := repository.db.Query(context, query, realmID)
	if err != nil {
		return nil, fmt.Errorf("postgres_key_repo_list_failed: %w", err)
	}
	defer rows.Close()

	keys := []*SigningKey{}
	for rows.Next() {
		key, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Activate marks one key active and retires the rest transactionally, so
// the realm never observes zero or two signing keys.
func (repository *PostgresKeyRepository) Activate(context context.Context, realmID, kid string) error {
	transaction, err := repository.db.Begin(context)
	if err != nil {
		return fmt.Errorf("postgres_key_repo_activate_begin_failed: %w", err)
	}
	defer func() { _ = transaction.Rollback(context) }()

	if _, err := transaction.Exec(context,
		`UPDATE keys.signingkey SET active = FALSE WHERE realmid = $1 AND active`, realmID); err != nil {
		return fmt.Errorf("postgres_key_repo_retire_failed: %w", err)
	}

	tag, err := transaction.Exec(context,
		`UPDATE keys.signingkey SET active = TRUE WHERE realmid = $1 AND kid = $2`, realmID, kid)
	if err != nil {
		return fmt.Errorf("postgres_key_repo_activate_failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Signing key not found")
	}

	if err := transaction.Commit(context); err != nil {
		return fmt.Errorf("postgres_key_repo_activate_commit_failed: %w", err)
	}
	return nil
}

// Delete removes a retired key permanently.
func (repository *PostgresKeyRepository) Delete(context context.Context, realmID, kid string) error {
	tag, err := repository.db.Exec(context,
		`DELETE FROM keys.signingkey WHERE realmid = $1 AND kid = $2 AND NOT active`, realmID, kid)
	if err != nil {
		return fmt.Errorf("postgres_key_repo_delete_failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Signing key not found")
	}
	return nil
}

// # Scan Helpers

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKey(row rowScanner) (*SigningKey, error) {
	key := &SigningKey{}
	err := row.Scan(&key.KID, &key.RealmID, &key.Algorithm, &key.PublicPEM,
		&key.PrivateSealed, &key.Active, &key.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("Signing key not found")
		}
		return nil, fmt.Errorf("postgres_key_repo_find_failed: %w", err)
	}
	return key, nil
}
