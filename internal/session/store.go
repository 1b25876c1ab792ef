// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package session

import (
	"context"
	"time"
)

// # Session Data Access

// SessionRepository defines the data access contract for SSO sessions.
type SessionRepository interface {

	/*
		Create persists a new session.

		Parameters:
		  - context: context.Context
		  - session: *Session

		Returns:
		  - error: Persistence failures
	*/
	Create(context context.Context, session *Session) error

	/*
		FindByTokenHash returns the session matching a cookie token digest.

		Parameters:
		  - context: context.Context
		  - realmID: string
		  - tokenHash: string

		Returns:
		  - *Session: Hydrated entity
		  - error: apperr.NotFound for unknown digests
	*/
	FindByTokenHash(context context.Context, realmID, tokenHash string) (*Session, error)

	/*
		FindByID returns one session.

		Parameters:
		  - context: context.Context
		  - realmID: string
		  - id: string

		Returns:
		  - *Session: Hydrated entity
		  - error: Database retrieval failures
	*/
	FindByID(context context.Context, realmID, id string) (*Session, error)

	/*
		Touch records session activity.

		Parameters:
		  - context: context.Context
		  - id: string
		  - lastAccessAt: time.Time

		Returns:
		  - error: Persistence failures
	*/
	Touch(context context.Context, id string, lastAccessAt time.Time) error

	/*
		ListByUser returns a user's live sessions, newest first.

		Parameters:
		  - context: context.Context
		  - realmID: string
		  - userID: string

		Returns:
		  - []*Session: Sessions
		  - error: Database retrieval failures
	*/
	ListByUser(context context.Context, realmID, userID string) ([]*Session, error)

	/*
		Delete destroys one session.

		Parameters:
		  - context: context.Context
		  - realmID: string
		  - id: string

		Returns:
		  - error: Persistence failures
	*/
	Delete(context context.Context, realmID, id string) error

	/*
		DeleteByUser destroys all of a user's sessions.

		Parameters:
		  - context: context.Context
		  - realmID: string
		  - userID: string

		Returns:
		  - error: Persistence failures
	*/
	DeleteByUser(context context.Context, realmID, userID string) error

	/*
		DeleteExpired removes sessions past their expiry.

		Parameters:
		  - context: context.Context
		  - now: time.Time

		Returns:
		  - int64: Rows removed
		  - error: Persistence failures
	*/
	DeleteExpired(context context.Context, now time.Time) (int64, error)
}

// # Refresh Token Data Access

// RefreshTokenRepository defines the data access contract for rotation
// families.
type RefreshTokenRepository interface {

	/*
		Create persists a new refresh token.

		Parameters:
		  - context: context.Context
		  - token: *RefreshToken

		Returns:
		  - error: Persistence failures
	*/
	Create(context context.Context, token *RefreshToken) error

	/*
		FindByTokenHash returns the token matching a presented digest,
		revoked or not. The caller inspects Revoked for reuse detection.

		Parameters:
		  - context: context.Context
		  - realmID: string
		  - tokenHash: string

		Returns:
		  - *RefreshToken: Hydrated entity
		  - error: apperr.NotFound for unknown digests
	*/
	FindByTokenHash(context context.Context, realmID, tokenHash string) (*RefreshToken, error)

	/*
		Rotate atomically revokes the predecessor and persists its
		successor. The revocation is conditional on the predecessor still
		being live; when two rotations race, exactly one succeeds.

		Parameters:
		  - context: context.Context
		  - predecessorID: string
		  - successor: *RefreshToken

		Returns:
		  - bool: Whether this call won the rotation
		  - error: Persistence failures
	*/
	Rotate(context context.Context, predecessorID string, successor *RefreshToken) (bool, error)

	/*
		RevokeFamily revokes every member of a rotation family.

		Parameters:
		  - context: context.Context
		  - familyID: string

		Returns:
		  - error: Persistence failures
	*/
	RevokeFamily(context context.Context, familyID string) error

	/*
		RevokeBySession revokes the session's non-offline tokens at logout.
		Offline tokens outlive the session by design.

		Parameters:
		  - context: context.Context
		  - sessionID: string

		Returns:
		  - error: Persistence failures
	*/
	RevokeBySession(context context.Context, sessionID string) error

	/*
		ListOfflineByUser returns the user's live offline tokens.

		Parameters:
		  - context: context.Context
		  - realmID: string
		  - userID: string

		Returns:
		  - []*RefreshToken: Offline tokens
		  - error: Database retrieval failures
	*/
	ListOfflineByUser(context context.Context, realmID, userID string) ([]*RefreshToken, error)

	/*
		RevokeByID revokes one token (admin or self-service revocation).

		Parameters:
		  - context: context.Context
		  - realmID: string
		  - id: string

		Returns:
		  - error: Persistence failures
	*/
	RevokeByID(context context.Context, realmID, id string) error

	/*
		DeleteExpired removes tokens past their expiry.

		Parameters:
		  - context: context.Context
		  - now: time.Time

		Returns:
		  - int64: Rows removed
		  - error: Persistence failures
	*/
	DeleteExpired(context context.Context, now time.Time) (int64, error)
}
