// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package mfa

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/authme/internal/platform/apperr"
)

// # Credential Repository

// PostgresCredentialRepository implements [CredentialRepository].
type PostgresCredentialRepository struct {
	db *pgxpool.Pool
}

// NewPostgresCredentialRepository creates a credential repository on the
// shared pool.
func NewPostgresCredentialRepository(db *pgxpool.Pool) *PostgresCredentialRepository {
	return &PostgresCredentialRepository{db: db}
}

// Create persists an enrolment, replacing any earlier one for the user.
func (repository *PostgresCredentialRepository) Create(context context.Context, credential *Credential) error {
	query := `
		INSERT INTO mfa.credential (id, realmid, userid, secretsealed, confirmed, lastusedstep, createdat)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (userid) DO UPDATE
		SET id = EXCLUDED.id,
		    secretsealed = EXCLUDED.secretsealed,
		    confirmed = EXCLUDED.confirmed,
		    lastusedstep = EXCLUDED.lastusedstep,
		    createdat = EXCLUDED.createdat`

	_, err := repository.db.Exec(context, query,
		credential.ID, credential.RealmID, credential.UserID,
		credential.SecretSealed, credential.Confirmed, credential.LastUsedStep, credential.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres_mfa_repo_create_failed: %w", err)
	}
	return nil
}

// FindByUser returns the user's enrolment.
func (repository *PostgresCredentialRepository) FindByUser(context context.Context, realmID, userID string) (*Credential, error) {
	query := `
		SELECT id, realmid, userid, secretsealed, confirmed, lastusedstep, createdat
		FROM mfa.credential
		WHERE realmid = $1 AND userid = $2`

	credential := &Credential{}
	err := repository.db.QueryRow(context, query, realmID, userID).Scan(
		&credential.ID, &credential.RealmID, &credential.UserID,
		&credential.SecretSealed, &credential.Confirmed, &credential.LastUsedStep, &credential.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("MFA credential not found")
		}
		return nil, fmt.Errorf("postgres_mfa_repo_find_failed: %w", err)
	}
	return credential, nil
}

// Confirm marks the enrolment verified.
func (repository *PostgresCredentialRepository) Confirm(context context.Context, id string) error {
	tag, err := repository.db.Exec(context,
		`UPDATE mfa.credential SET confirmed = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres_mfa_repo_confirm_failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("MFA credential not found")
	}
	return nil
}

// AdvanceLastUsedStep records an accepted step if it is strictly newer.
// The WHERE clause is the replay guard.
func (repository *PostgresCredentialRepository) AdvanceLastUsedStep(context context.Context, id string, step int64) (bool, error) {
	tag, err := repository.db.Exec(context,
		`UPDATE mfa.credential SET lastusedstep = $2 WHERE id = $1 AND lastusedstep < $2`, id, step)
	if err != nil {
		return false, fmt.Errorf("postgres_mfa_repo_advance_failed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Delete removes the user's enrolment.
func (repository *PostgresCredentialRepository) Delete(context context.Context, realmID, userID string) error {
	tag, err := repository.db.Exec(context,
		`DELETE FROM mfa.credential WHERE realmid = $1 AND userid = $2`, realmID, userID)
	if err != nil {
		return fmt.Errorf("postgres_mfa_repo_delete_failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("MFA credential not found")
	}
	return nil
}

// # Recovery Code Repository

// PostgresRecoveryCodeRepository implements [RecoveryCodeRepository].
type PostgresRecoveryCodeRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRecoveryCodeRepository creates a recovery code repository on
// the shared pool.
func NewPostgresRecoveryCodeRepository(db *pgxpool.Pool) *PostgresRecoveryCodeRepository {
	return &PostgresRecoveryCodeRepository{db: db}
}

// Replace swaps the user's full code set transactionally.
func (repository *PostgresRecoveryCodeRepository) Replace(context context.Context, userID string, codes []*RecoveryCode) error {
	transaction, err := repository.db.Begin(context)
	if err != nil {
		return fmt.Errorf("postgres_recovery_repo_replace_begin_failed: %w", err)
	}
	defer func() { _ = transaction.Rollback(context) }()

	if _, err := transaction.Exec(context,
		`DELETE FROM mfa.recoverycode WHERE userid = $1`, userID); err != nil {
		return fmt.Errorf("postgres_recovery_repo_clear_failed: %w", err)
	}

	for _, code := range codes {
		_, err := transaction.Exec(context,
			`INSERT INTO mfa.recoverycode (id, userid, codehash, used) VALUES ($1, $2, $3, FALSE)`,
			code.ID, userID, code.CodeHash)
		if err != nil {
			return fmt.Errorf("postgres_recovery_repo_insert_failed: %w", err)
		}
	}

	if err := transaction.Commit(context); err != nil {
		return fmt.Errorf("postgres_recovery_repo_replace_commit_failed: %w", err)
	}
	return nil
}

// Consume marks one matching unused code as used. The conditional update
// makes each code single-use under concurrency.
func (repository *PostgresRecoveryCodeRepository) Consume(context context.Context, userID, codeHash string) error {
	tag, err := repository.db.Exec(context,
		`UPDATE mfa.recoverycode SET used = TRUE WHERE userid = $1 AND codehash = $2 AND NOT used`,
		userID, codeHash)
	if err != nil {
		return fmt.Errorf("postgres_recovery_repo_consume_failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Recovery code is invalid or already used")
	}
	return nil
}

// CountUnused returns how many codes remain.
func (repository *PostgresRecoveryCodeRepository) CountUnused(context context.Context, userID string) (int, error) {
	var count int
	err := repository.db.QueryRow(context,
		`SELECT COUNT(*) FROM mfa.recoverycode WHERE userid = $1 AND NOT used`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres_recovery_repo_count_failed: %w", err)
	}
	return count, nil
}
