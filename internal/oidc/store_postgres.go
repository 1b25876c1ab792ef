// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package oidc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/authme/internal/platform/apperr"
)

// rowScanner abstracts pgx.Row and pgx.Rows for shared scan helpers.
type rowScanner interface {
	Scan(dest ...any) error
}

// nullableString maps "" to NULL for optional columns.
func nullableString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

// # Authorization Codes

// PostgresCodeRepository implements [CodeRepository] backed by PostgreSQL.
type PostgresCodeRepository struct {
	db *pgxpool.Pool
}

// NewCodeRepository constructs a new PostgreSQL-backed code repository.
func NewCodeRepository(pool *pgxpool.Pool) *PostgresCodeRepository {
	return &PostgresCodeRepository{db: pool}
}

const codeColumns = `id, realmid, clientid, userid, sessionid, redirecturi, scope,
	nonce, codechallenge, codechallengemethod, codehash, authtime, consumed, createdat, expiresat`

// Create persists a new authorization code.
func (repository *PostgresCodeRepository) Create(context context.Context, code *AuthorizationCode) error {
	const query = `
		INSERT INTO oidc.authorizationcode (` + codeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := repository.db.Exec(context, query,
		code.ID,
		code.RealmID,
		code.ClientID,
		code.UserID,
		code.SessionID,
		code.RedirectURI,
		code.Scope,
		nullableString(code.Nonce),
		nullableString(code.CodeChallenge),
		nullableString(code.CodeChallengeMethod),
		code.CodeHash,
		code.AuthTime,
		code.Consumed,
		code.CreatedAt,
		code.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("postgres_code_repo_create_failed: %w", err)
	}
	return nil
}

// FindByHash returns the code matching a digest, consumed or not.
func (repository *PostgresCodeRepository) FindByHash(context context.Context, realmID, codeHash string) (*AuthorizationCode, error) {
	const query = `
		SELECT id, realmid, clientid, userid, sessionid, redirecturi, scope,
		       COALESCE(nonce, ''), COALESCE(codechallenge, ''), COALESCE(codechallengemethod, ''),
		       codehash, authtime, consumed, createdat, expiresat
		FROM oidc.authorizationcode
		WHERE realmid = $1 AND codehash = $2`

	return scanCode(repository.db.QueryRow(context, query, realmID, codeHash), "postgres_code_repo_find_failed")
}

// Consume marks the code redeemed. Conditional write: a concurrent or
// repeated redemption finds zero rows and loses.
func (repository *PostgresCodeRepository) Consume(context context.Context, id string) (bool, error) {
	const query = `
		UPDATE oidc.authorizationcode
		SET consumed = TRUE
		WHERE id = $1 AND NOT consumed`

	tag, err := repository.db.Exec(context, query, id)
	if err != nil {
		return false, fmt.Errorf("postgres_code_repo_consume_failed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteExpired removes codes past their expiry.
func (repository *PostgresCodeRepository) DeleteExpired(context context.Context, now time.Time) (int64, error) {
	const query = `DELETE FROM oidc.authorizationcode WHERE expiresat < $1`

	tag, err := repository.db.Exec(context, query, now)
	if err != nil {
		return 0, fmt.Errorf("postgres_code_repo_sweep_failed: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanCode(row rowScanner, failCode string) (*AuthorizationCode, error) {
	code := &AuthorizationCode{}
	err := row.Scan(
		&code.ID, &code.RealmID, &code.ClientID, &code.UserID, &code.SessionID,
		&code.RedirectURI, &code.Scope,
		&code.Nonce, &code.CodeChallenge, &code.CodeChallengeMethod,
		&code.CodeHash, &code.AuthTime, &code.Consumed, &code.CreatedAt, &code.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("Authorization code")
		}
		return nil, fmt.Errorf("%s: %w", failCode, err)
	}
	return code, nil
}

// # Device Codes

// PostgresDeviceCodeRepository implements [DeviceCodeRepository] backed by
// PostgreSQL.
type PostgresDeviceCodeRepository struct {
	db *pgxpool.Pool
}

// NewDeviceCodeRepository constructs a new PostgreSQL-backed device code
// repository.
func NewDeviceCodeRepository(pool *pgxpool.Pool) *PostgresDeviceCodeRepository {
	return &PostgresDeviceCodeRepository{db: pool}
}

const deviceCodeColumns = `id, realmid, clientid, userid, scope, devicecodehash,
	usercode, status, consumed, createdat, expiresat`

// Create persists a new device authorization.
func (repository *PostgresDeviceCodeRepository) Create(context context.Context, code *DeviceCode) error {
	const query = `
		INSERT INTO oidc.devicecode (` + deviceCodeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := repository.db.Exec(context, query,
		code.ID,
		code.RealmID,
		code.ClientID,
		nullableString(code.UserID),
		code.Scope,
		code.DeviceCodeHash,
		code.UserCode,
		string(code.Status),
		code.Consumed,
		code.CreatedAt,
		code.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("postgres_device_repo_create_failed: %w", err)
	}
	return nil
}

// FindByDeviceHash returns the authorization matching a polled digest.
func (repository *PostgresDeviceCodeRepository) FindByDeviceHash(context context.Context, realmID, deviceCodeHash string) (*DeviceCode, error) {
	const query = `
		SELECT id, realmid, clientid, COALESCE(userid, ''), scope, devicecodehash,
		       usercode, status, consumed, createdat, expiresat
		FROM oidc.devicecode
		WHERE realmid = $1 AND devicecodehash = $2`

	return scanDeviceCode(repository.db.QueryRow(context, query, realmID, deviceCodeHash), "postgres_device_repo_find_by_hash_failed")
}

// FindByUserCode returns the authorization a user is approving.
func (repository *PostgresDeviceCodeRepository) FindByUserCode(context context.Context, realmID, userCode string) (*DeviceCode, error) {
	const query = `
		SELECT id, realmid, clientid, COALESCE(userid, ''), scope, devicecodehash,
		       usercode, status, consumed, createdat, expiresat
		FROM oidc.devicecode
		WHERE realmid = $1 AND usercode = $2`

	return scanDeviceCode(repository.db.QueryRow(context, query, realmID, userCode), "postgres_device_repo_find_by_user_code_failed")
}

// Decide moves a pending authorization to its decision. Conditional on the
// row still being pending.
func (repository *PostgresDeviceCodeRepository) Decide(context context.Context, id string, status DeviceStatus, userID string) (bool, error) {
	const query = `
		UPDATE oidc.devicecode
		SET status = $2, userid = $3
		WHERE id = $1 AND status = $4`

	tag, err := repository.db.Exec(context, query, id, string(status), nullableString(userID), string(DeviceStatusPending))
	if err != nil {
		return false, fmt.Errorf("postgres_device_repo_decide_failed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ConsumeApproved redeems an approved authorization exactly once.
func (repository *PostgresDeviceCodeRepository) ConsumeApproved(context context.Context, id string) (bool, error) {
	const query = `
		UPDATE oidc.devicecode
		SET consumed = TRUE
		WHERE id = $1 AND status = $2 AND NOT consumed`

	tag, err := repository.db.Exec(context, query, id, string(DeviceStatusApproved))
	if err != nil {
		return false, fmt.Errorf("postgres_device_repo_consume_failed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteExpired removes authorizations past their expiry.
func (repository *PostgresDeviceCodeRepository) DeleteExpired(context context.Context, now time.Time) (int64, error) {
	const query = `DELETE FROM oidc.devicecode WHERE expiresat < $1`

	tag, err := repository.db.Exec(context, query, now)
	if err != nil {
		return 0, fmt.Errorf("postgres_device_repo_sweep_failed: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanDeviceCode(row rowScanner, failCode string) (*DeviceCode, error) {
	code := &DeviceCode{}
	var status string

	err := row.Scan(
		&code.ID, &code.RealmID, &code.ClientID, &code.UserID, &code.Scope,
		&code.DeviceCodeHash, &code.UserCode, &status, &code.Consumed,
		&code.CreatedAt, &code.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("Device code")
		}
		return nil, fmt.Errorf("%s: %w", failCode, err)
	}

	code.Status = DeviceStatus(status)
	return code, nil
}

// # Consent Ledger

// PostgresConsentRepository implements [ConsentRepository] backed by
// PostgreSQL.
type PostgresConsentRepository struct {
	db *pgxpool.Pool
}

// NewConsentRepository constructs a new PostgreSQL-backed consent
// repository.
func NewConsentRepository(pool *pgxpool.Pool) *PostgresConsentRepository {
	return &PostgresConsentRepository{db: pool}
}

const consentColumns = `id, realmid, userid, clientid, scopes, createdat, updatedat`

// Find returns the consent one user granted one client.
func (repository *PostgresConsentRepository) Find(context context.Context, realmID, userID, clientID string) (*UserConsent, error) {
	const query = `
		SELECT ` + consentColumns + `
		FROM oidc.userconsent
		WHERE realmid = $1 AND userid = $2 AND clientid = $3`

	return scanConsent(repository.db.QueryRow(context, query, realmID, userID, clientID), "postgres_consent_repo_find_failed")
}

// Upsert persists the full scope set for a (user, client) pair.
func (repository *PostgresConsentRepository) Upsert(context context.Context, consent *UserConsent) error {
	const query = `
		INSERT INTO oidc.userconsent (` + consentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (realmid, userid, clientid) DO UPDATE
		SET scopes = EXCLUDED.scopes,
		    updatedat = EXCLUDED.updatedat`

	_, err := repository.db.Exec(context, query,
		consent.ID,
		consent.RealmID,
		consent.UserID,
		consent.ClientID,
		consent.Scopes,
		consent.CreatedAt,
		consent.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres_consent_repo_upsert_failed: %w", err)
	}
	return nil
}

// ListByUser returns every consent a user has granted, newest first.
func (repository *PostgresConsentRepository) ListByUser(context context.Context, realmID, userID string) ([]*UserConsent, error) {
	const query = `
		SELECT ` + consentColumns + `
		FROM oidc.userconsent
		WHERE realmid = $1 AND userid = $2
		ORDER BY updatedat DESC`

	rows, err := repository.db.Query(context, query, realmID, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres_consent_repo_list_failed: %w", err)
	}
	defer rows.Close()

	consents := make([]*UserConsent, 0)
	for rows.Next() {
		consent, err := scanConsent(rows, "postgres_consent_repo_list_scan_failed")
		if err != nil {
			return nil, err
		}
		consents = append(consents, consent)
	}
	return consents, rows.Err()
}

// Delete removes one consent record.
func (repository *PostgresConsentRepository) Delete(context context.Context, realmID, userID, clientID string) error {
	const query = `
		DELETE FROM oidc.userconsent
		WHERE realmid = $1 AND userid = $2 AND clientid = $3`

	_, err := repository.db.Exec(context, query, realmID, userID, clientID)
	if err != nil {
		return fmt.Errorf("postgres_consent_repo_delete_failed: %w", err)
	}
	return nil
}

func scanConsent(row rowScanner, failCode string) (*UserConsent, error) {
	consent := &UserConsent{}
	err := row.Scan(
		&consent.ID, &consent.RealmID, &consent.UserID, &consent.ClientID,
		&consent.Scopes, &consent.CreatedAt, &consent.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("Consent")
		}
		return nil, fmt.Errorf("%s: %w", failCode, err)
	}
	return consent, nil
}
