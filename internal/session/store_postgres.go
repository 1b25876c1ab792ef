// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/authme/internal/platform/apperr"
)

// # Session Repository

// PostgresSessionRepository implements [SessionRepository].
type PostgresSessionRepository struct {
	db *pgxpool.Pool
}

// NewPostgresSessionRepository creates a session repository on the shared pool.
func NewPostgresSessionRepository(db *pgxpool.Pool) *PostgresSessionRepository {
	return &PostgresSessionRepository{db: db}
}

const sessionColumns = `id, realmid, userid, tokenhash, COALESCE(ipaddress, ''), COALESCE(useragent, ''), rememberme, createdat, lastaccessat, expiresat`

// Create persists a new session.
func (repository *PostgresSessionRepository) Create(context context.Context, session *Session) error {
	query := `
		INSERT INTO sessions.session
			(id, realmid, userid, tokenhash, ipaddress, useragent, rememberme, createdat, lastaccessat, expiresat)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := repository.db.Exec(context, query,
		session.ID, session.RealmID, session.UserID, session.TokenHash,
		nullableString(session.IPAddress), nullableString(session.UserAgent),
		session.RememberMe, session.CreatedAt, session.LastAccessAt, session.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("postgres_session_repo_create_failed: %w", err)
	}
	return nil
}

// FindByTokenHash returns the session matching a cookie token digest.
func (repository *PostgresSessionRepository) FindByTokenHash(context context.Context, realmID, tokenHash string) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions.session WHERE realmid = $1 AND tokenhash = $2`
	return scanSession(repository.db.QueryRow(context, query, realmID, tokenHash))
}

// FindByID returns one session.
func (repository *PostgresSessionRepository) FindByID(context context.Context, realmID, id string) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions.session WHERE realmid = $1 AND id = $2`
	return scanSession(repository.db.QueryRow(context, query, realmID, id))
}

// Touch records session activity.
func (repository *PostgresSessionRepository) Touch(context context.Context, id string, lastAccessAt time.Time) error {
	_, err := repository.db.Exec(context,
		`UPDATE sessions.session SET lastaccessat = $2 WHERE id = $1`, id, lastAccessAt)
	if err != nil {
		return fmt.Errorf("postgres_session_repo_touch_failed: %w", err)
	}
	return nil
}

// ListByUser returns a user's sessions, newest first.
func (repository *PostgresSessionRepository) ListByUser(context context.Context, realmID, userID string) ([]*Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions.session
		WHERE realmid = $1 AND userid = $2
		ORDER BY createdat DESC`

	rows, err := repository.db.Query(context, query, realmID, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres_session_repo_list_failed: %w", err)
	}
	defer rows.Close()

	sessions := []*Session{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// Delete destroys one session.
func (repository *PostgresSessionRepository) Delete(context context.Context, realmID, id string) error {
	tag, err := repository.db.Exec(context,
		`DELETE FROM sessions.session WHERE realmid = $1 AND id = $2`, realmID, id)
	if err != nil {
		return fmt.Errorf("postgres_session_repo_delete_failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Session not found")
	}
	return nil
}

// DeleteByUser destroys all of a user's sessions.
func (repository *PostgresSessionRepository) DeleteByUser(context context.Context, realmID, userID string) error {
	_, err := repository.db.Exec(context,
		`DELETE FROM sessions.session WHERE realmid = $1 AND userid = $2`, realmID, userID)
	if err != nil {
		return fmt.Errorf("postgres_session_repo_delete_user_failed: %w", err)
	}
	return nil
}

// DeleteExpired removes sessions past their expiry.
func (repository *PostgresSessionRepository) DeleteExpired(context context.Context, now time.Time) (int64, error) {
	tag, err := repository.db.Exec(context,
		`DELETE FROM sessions.session WHERE expiresat < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("postgres_session_repo_sweep_failed: %w", err)
	}
	return tag.RowsAffected(), nil
}

// # Refresh Token Repository

// PostgresRefreshTokenRepository implements [RefreshTokenRepository].
type PostgresRefreshTokenRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRefreshTokenRepository creates a refresh token repository on
// the shared pool.
func NewPostgresRefreshTokenRepository(db *pgxpool.Pool) *PostgresRefreshTokenRepository {
	return &PostgresRefreshTokenRepository{db: db}
}

const refreshColumns = `id, realmid, COALESCE(sessionid, ''), userid, clientid, tokenhash, familyid, offline, scope, revoked, COALESCE(replacedby, ''), createdat, expiresat`

// Create persists a new refresh token.
func (repository *PostgresRefreshTokenRepository) Create(context context.Context, token *RefreshToken) error {
	query := `
		INSERT INTO sessions.refreshtoken
			(id, realmid, sessionid, userid, clientid, tokenhash, familyid, offline, scope, revoked, replacedby, createdat, expiresat)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := repository.db.Exec(context, query,
		token.ID, token.RealmID, nullableString(token.SessionID), token.UserID, token.ClientID,
		token.TokenHash, token.FamilyID, token.Offline, token.Scope, token.Revoked,
		nullableString(token.ReplacedBy), token.CreatedAt, token.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("postgres_refresh_repo_create_failed: %w", err)
	}
	return nil
}

// FindByTokenHash returns the token matching a presented digest.
func (repository *PostgresRefreshTokenRepository) FindByTokenHash(context context.Context, realmID, tokenHash string) (*RefreshToken, error) {
	query := `SELECT ` + refreshColumns + ` FROM sessions.refreshtoken WHERE realmid = $1 AND tokenhash = $2`
	return scanRefreshToken(repository.db.QueryRow(context, query, realmID, tokenHash))
}

// Rotate revokes the predecessor and inserts its successor in one
// transaction. The conditional revocation is the rotation race arbiter.
func (repository *PostgresRefreshTokenRepository) Rotate(context context.Context, predecessorID string, successor *RefreshToken) (bool, error) {
	transaction, err := repository.db.Begin(context)
	if err != nil {
		return false, fmt.Errorf("postgres_refresh_repo_rotate_begin_failed: %w", err)
	}
	defer func() { _ = transaction.Rollback(context) }()

	tag, err := transaction.Exec(context,
		`UPDATE sessions.refreshtoken SET revoked = TRUE, replacedby = $2 WHERE id = $1 AND NOT revoked`,
		predecessorID, successor.ID)
	if err != nil {
		return false, fmt.Errorf("postgres_refresh_repo_revoke_failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Lost the race (or predecessor already revoked): no successor.
		return false, nil
	}

	_, err = transaction.Exec(context, `
		INSERT INTO sessions.refreshtoken
			(id, realmid, sessionid, userid, clientid, tokenhash, familyid, offline, scope, revoked, createdat, expiresat)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE, $10, $11)`,
		successor.ID, successor.RealmID, nullableString(successor.SessionID), successor.UserID,
		successor.ClientID, successor.TokenHash, successor.FamilyID, successor.Offline,
		successor.Scope, successor.CreatedAt, successor.ExpiresAt,
	)
	if err != nil {
		return false, fmt.Errorf("postgres_refresh_repo_insert_failed: %w", err)
	}

	if err := transaction.Commit(context); err != nil {
		return false, fmt.Errorf("postgres_refresh_repo_rotate_commit_failed: %w", err)
	}
	return true, nil
}

// RevokeFamily revokes every member of a rotation family.
func (repository *PostgresRefreshTokenRepository) RevokeFamily(context context.Context, familyID string) error {
	_, err := repository.db.Exec(context,
		`UPDATE sessions.refreshtoken SET revoked = TRUE WHERE familyid = $1`, familyID)
	if err != nil {
		return fmt.Errorf("postgres_refresh_repo_revoke_family_failed: %w", err)
	}
	return nil
}

// RevokeBySession revokes the session's non-offline tokens.
func (repository *PostgresRefreshTokenRepository) RevokeBySession(context context.Context, sessionID string) error {
	_, err := repository.db.Exec(context,
		`UPDATE sessions.refreshtoken SET revoked = TRUE WHERE sessionid = $1 AND NOT offline`, sessionID)
	if err != nil {
		return fmt.Errorf("postgres_refresh_repo_revoke_session_failed: %w", err)
	}
	return nil
}

// ListOfflineByUser returns the user's live offline tokens.
func (repository *PostgresRefreshTokenRepository) ListOfflineByUser(context context.Context, realmID, userID string) ([]*RefreshToken, error) {
	query := `
		SELECT ` + refreshColumns + `
		FROM sessions.refreshtoken
		WHERE realmid = $1 AND userid = $2 AND offline AND NOT revoked
		ORDER BY createdat DESC`

	rows, err := repository.db.Query(context, query, realmID, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres_refresh_repo_list_offline_failed: %w", err)
	}
	defer rows.Close()

	tokens := []*RefreshToken{}
	for rows.Next() {
		token, err := scanRefreshToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}

// RevokeByID revokes one token.
func (repository *PostgresRefreshTokenRepository) RevokeByID(context context.Context, realmID, id string) error {
	tag, err := repository.db.Exec(context,
		`UPDATE sessions.refreshtoken SET revoked = TRUE WHERE realmid = $1 AND id = $2`, realmID, id)
	if err != nil {
		return fmt.Errorf("postgres_refresh_repo_revoke_failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Refresh token not found")
	}
	return nil
}

// DeleteExpired removes tokens past their expiry.
func (repository *PostgresRefreshTokenRepository) DeleteExpired(context context.Context, now time.Time) (int64, error) {
	tag, err := repository.db.Exec(context,
		`DELETE FROM sessions.refreshtoken WHERE expiresat < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("postgres_refresh_repo_sweep_failed: %w", err)
	}
	return tag.RowsAffected(), nil
}

// # Scan Helpers

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	session := &Session{}
	err := row.Scan(
		&session.ID, &session.RealmID, &session.UserID, &session.TokenHash,
		&session.IPAddress, &session.UserAgent, &session.RememberMe,
		&session.CreatedAt, &session.LastAccessAt, &session.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("Session not found")
		}
		return nil, fmt.Errorf("postgres_session_repo_find_failed: %w", err)
	}
	return session, nil
}

func scanRefreshToken(row rowScanner) (*RefreshToken, error) {
	token := &RefreshToken{}
	err := row.Scan(
		&token.ID, &token.RealmID, &token.SessionID, &token.UserID, &token.ClientID,
		&token.TokenHash, &token.FamilyID, &token.Offline, &token.Scope, &token.Revoked,
		&token.ReplacedBy, &token.CreatedAt, &token.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("Refresh token not found")
		}
		return nil, fmt.Errorf("postgres_refresh_repo_find_failed: %w", err)
	}
	return token, nil
}

func nullableString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
