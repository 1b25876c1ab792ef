// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package user

import (
	"context"
	"time"
)

// # User Data Access

// Repository defines the data access contract for user accounts.
// Every lookup is keyed by realm; cross-realm reads are impossible by
// construction.
type Repository interface {

	/*
		Create persists a brand-new user account to the storage.

		Parameters:
		  - context: context.Context
		  - user: *User

		Returns:
		  - error: Persistence failures
	*/
	Create(context context.Context, user *User) error

	/*
		FindByID returns the account with the given ID within a realm.

		Parameters:
		  - context: context.Context
		  - realmID: string
		  - id: string

		Returns:
		  - *User: Hydrated entity
		  - error: Database retrieval failures
	*/
	FindByID(context context.Context, realmID, id string) (*User, error)

	/*
		FindByUsername returns the account with the given username within a realm.

		Parameters:
		  - context: context.Context
		  - realmID: string
		  - username: string

		Returns:
		  - *User: Hydrated entity
		  - error: Database retrieval failures
	*/
	FindByUsername(context context.Context, realmID, username string) (*User, error)

	/*
		FindByEmail returns the account with the given email within a realm.

		Parameters:
		  - context: context.Context
		  - realmID: string
		  - email: string

		Returns:
		  - *User: Hydrated entity
		  - error: Database retrieval failures
	*/
	FindByEmail(context context.Context, realmID, email string) (*User, error)

	/*
		List returns all accounts in a realm ordered by username.

		Parameters:
		  - context: context.Context
		  - realmID: string

		Returns:
		  - []*User: Accounts
		  - error: Database retrieval failures
	*/
	List(context context.Context, realmID string) ([]*User, error)

	/*
		Update persists changes to mutable profile fields.

		Parameters:
		  - context: context.Context
		  - user: *User

		Returns:
		  - error: Persistence failures
	*/
	Update(context context.Context, user *User) error

	/*
		UpdatePassword replaces the password hash and stamps passwordchangedat.

		Parameters:
		  - context: context.Context
		  - userID: string
		  - newHash: string
		  - changedAt: time.Time

		Returns:
		  - error: Persistence failures
	*/
	UpdatePassword(context context.Context, userID, newHash string, changedAt time.Time) error

	/*
		MarkEmailVerified updates the user's status to emailverified = true.

		Parameters:
		  - context: context.Context
		  - userID: string

		Returns:
		  - error: Persistence failures
	*/
	MarkEmailVerified(context context.Context, userID string) error

	/*
		Delete permanently removes the account. Foreign keys cascade to
		sessions, refresh tokens, consents, credentials, and history.

		Parameters:
		  - context: context.Context
		  - realmID: string
		  - id: string

		Returns:
		  - error: Persistence failures
	*/
	Delete(context context.Context, realmID, id string) error
}

// # Password History Data Access

// HistoryRepository stores retired password hashes for reuse checks.
type HistoryRepository interface {

	/*
		Append records a retired hash and prunes the history to keep entries.

		Parameters:
		  - context: context.Context
		  - entry: *PasswordHistoryEntry
		  - keep: int (retention count; 0 disables pruning)

		Returns:
		  - error: Persistence failures
	*/
	Append(context context.Context, entry *PasswordHistoryEntry, keep int) error

	/*
		LastN returns up to n most recent retired hashes for a user.

		Parameters:
		  - context: context.Context
		  - realmID: string
		  - userID: string
		  - n: int

		Returns:
		  - []string: Password hashes, newest first
		  - error: Database retrieval failures
	*/
	LastN(context context.Context, realmID, userID string, n int) ([]string, error)
}

// # Login Failure Data Access

// FailureRepository stores login failures for the brute-force guard.
type FailureRepository interface {

	/*
		Record appends a login failure.

		Parameters:
		  - context: context.Context
		  - failure: *LoginFailure

		Returns:
		  - error: Persistence failures
	*/
	Record(context context.Context, failure *LoginFailure) error

	/*
		CountSince returns the number of failures for a user since the cutoff
		and the time of the most recent one.

		Parameters:
		  - context: context.Context
		  - realmID: string
		  - userID: string
		  - since: time.Time

		Returns:
		  - int: Failure count within the window
		  - time.Time: Most recent failure instant (zero when count is 0)
		  - error: Database retrieval failures
	*/
	CountSince(context context.Context, realmID, userID string, since time.Time) (int, time.Time, error)

	/*
		CountAll returns the lifetime failure count for permanent lockout.

		Parameters:
		  - context: context.Context
		  - realmID: string
		  - userID: string

		Returns:
		  - int: Total recorded failures
		  - error: Database retrieval failures
	*/
	CountAll(context context.Context, realmID, userID string) (int, error)

	/*
		Reset deletes all failures for a user.

		Parameters:
		  - context: context.Context
		  - realmID: string
		  - userID: string

		Returns:
		  - error: Persistence failures
	*/
	Reset(context context.Context, realmID, userID string) error
}

// # Verification Token Data Access

// VerificationTokenRepository stores single-use hashed tokens with a TTL.
type VerificationTokenRepository interface {

	/*
		Set stores a token digest for a userID under a purpose tag.

		Parameters:
		  - context: context.Context
		  - purpose: VerificationPurpose
		  - tokenHash: string
		  - userID: string
		  - ttl: time.Duration

		Returns:
		  - error: Persistence failures
	*/
	Set(context context.Context, purpose VerificationPurpose, tokenHash, userID string, ttl time.Duration) error

	/*
		Consume atomically retrieves and deletes the userID for a token digest.

		Parameters:
		  - context: context.Context
		  - purpose: VerificationPurpose
		  - tokenHash: string

		Returns:
		  - string: UserID
		  - error: apperr.NotFound when absent, expired, or already used
	*/
	Consume(context context.Context, purpose VerificationPurpose, tokenHash string) (string, error)
}
