// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// # Definitions & Constructors

// PostgresRepository implements [Repository] backed by PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewRepository constructs a new PostgreSQL-backed event repository.
func NewRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: pool}
}

const eventColumns = `id, realmid, kind, userid, clientid, sessionid, ipaddress, detail, createdat`

// # Repository Implementation

// Insert appends one event row.
func (repository *PostgresRepository) Insert(context context.Context, event *Event) error {
	const query = `
		INSERT INTO events.event (` + eventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	detail, err := json.Marshal(event.Detail)
	if err != nil {
		return fmt.Errorf("postgres_event_repo_detail_encode_failed: %w", err)
	}

	_, err = repository.db.Exec(context, query,
		event.ID,
		event.RealmID,
		string(event.Kind),
		nullableString(event.UserID),
		nullableString(event.ClientID),
		nullableString(event.SessionID),
		nullableString(event.IPAddress),
		detail,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres_event_repo_insert_failed: %w", err)
	}
	return nil
}

// ListByRealm returns a realm's events, newest first.
func (repository *PostgresRepository) ListByRealm(context context.Context, realmID string, filter Filter) ([]*Event, error) {
	query := `
		SELECT id, realmid, kind,
		       COALESCE(userid, ''), COALESCE(clientid, ''),
		       COALESCE(sessionid, ''), COALESCE(ipaddress, ''),
		       detail, createdat
		FROM events.event
		WHERE realmid = $1`

	args := []any{realmID}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		query += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		query += fmt.Sprintf(" AND userid = $%d", len(args))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY createdat DESC LIMIT $%d", len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := repository.db.Query(context, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres_event_repo_list_failed: %w", err)
	}
	defer rows.Close()

	events := make([]*Event, 0)
	for rows.Next() {
		event := &Event{}
		var kind string
		var detail []byte

		err := rows.Scan(
			&event.ID, &event.RealmID, &kind,
			&event.UserID, &event.ClientID,
			&event.SessionID, &event.IPAddress,
			&detail, &event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres_event_repo_scan_failed: %w", err)
		}

		event.Kind = Kind(kind)
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &event.Detail); err != nil {
				return nil, fmt.Errorf("postgres_event_repo_detail_decode_failed: %w", err)
			}
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// CountByRealm returns the number of events matching the filter.
func (repository *PostgresRepository) CountByRealm(context context.Context, realmID string, filter Filter) (int, error) {
	query := `SELECT COUNT(*) FROM events.event WHERE realmid = $1`

	args := []any{realmID}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		query += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		query += fmt.Sprintf(" AND userid = $%d", len(args))
	}

	var total int
	if err := repository.db.QueryRow(context, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("postgres_event_repo_count_failed: %w", err)
	}
	return total, nil
}

// DeleteOlderThan prunes a realm's events past the retention cutoff.
func (repository *PostgresRepository) DeleteOlderThan(context context.Context, realmID string, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM events.event WHERE realmid = $1 AND createdat < $2`

	tag, err := repository.db.Exec(context, query, realmID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres_event_repo_prune_failed: %w", err)
	}
	return tag.RowsAffected(), nil
}

// nullableString maps "" to NULL for optional columns.
func nullableString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
