// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package mfa

import (
	"context"
	"time"
)

// # Credential Data Access

// CredentialRepository defines the data access contract for TOTP enrolments.
type CredentialRepository interface {

	/*
		Create persists a new, unconfirmed enrolment. An existing enrolment
		for the user is replaced, so a restarted setup never leaves two.

		Parameters:
		  - context: context.Context
		  - credential: *Credential

		Returns:
		  - error: Persistence failures
	*/
	Create(context context.Context, credential *Credential) error

	/*
		FindByUser returns the user's enrolment, confirmed or not.

		Parameters:
		  - context: context.Context
		  - realmID: string
		  - userID: string

		Returns:
		  - *Credential: Hydrated entity
		  - error: apperr.NotFound when the user has no enrolment
	*/
	FindByUser(context context.Context, realmID, userID string) (*Credential, error)

	/*
		Confirm marks the enrolment verified.

		Parameters:
		  - context: context.Context
		  - id: string

		Returns:
		  - error: Persistence failures
	*/
	Confirm(context context.Context, id string) error

	/*
		AdvanceLastUsedStep records an accepted code's time step, but only
		if it is newer than the stored one. The conditional write is the
		replay guard: two submissions of the same code race here and
		exactly one wins.

		Parameters:
		  - context: context.Context
		  - id: string
		  - step: int64

		Returns:
		  - bool: Whether this call won the step
		  - error: Persistence failures
	*/
	AdvanceLastUsedStep(context context.Context, id string, step int64) (bool, error)

	/*
		Delete removes the user's enrolment.

		Parameters:
		  - context: context.Context
		  - realmID: string
		  - userID: string

		Returns:
		  - error: Persistence failures
	*/
	Delete(context context.Context, realmID, userID string) error
}

// # Recovery Code Data Access

// RecoveryCodeRepository defines the data access contract for fallback codes.
type RecoveryCodeRepository interface {

	/*
		Replace swaps the user's full code set in one transaction.

		Parameters:
		  - context: context.Context
		  - userID: string
		  - codes: []*RecoveryCode

		Returns:
		  - error: Persistence failures
	*/
	Replace(context context.Context, userID string, codes []*RecoveryCode) error

	/*
		Consume marks one unused code as used by its digest. The conditional
		update makes each code single-use under concurrency.

		Parameters:
		  - context: context.Context
		  - userID: string
		  - codeHash: string

		Returns:
		  - error: apperr.NotFound when no unused code matches
	*/
	Consume(context context.Context, userID, codeHash string) error

	/*
		CountUnused returns how many codes remain.

		Parameters:
		  - context: context.Context
		  - userID: string

		Returns:
		  - int: Remaining codes
		  - error: Database retrieval failures
	*/
	CountUnused(context context.Context, userID string) (int, error)
}

// # Challenge Data Access

// ChallengeRepository defines the volatile store for pending second-factor
// logins. Implementations must expire entries server-side.
type ChallengeRepository interface {

	/*
		Create stores a challenge under its identifier with a TTL.

		Parameters:
		  - context: context.Context
		  - challenge: *Challenge
		  - ttl: time.Duration

		Returns:
		  - error: Storage failures
	*/
	Create(context context.Context, challenge *Challenge, ttl time.Duration) error

	/*
		Find returns a live challenge by identifier.

		Parameters:
		  - context: context.Context
		  - id: string

		Returns:
		  - *Challenge: The pending challenge
		  - error: apperr.NotFound when expired or unknown
	*/
	Find(context context.Context, id string) (*Challenge, error)

	/*
		RecordFailure increments the attempt counter, preserving the TTL.

		Parameters:
		  - context: context.Context
		  - id: string

		Returns:
		  - int: The new attempt count
		  - error: Storage failures
	*/
	RecordFailure(context context.Context, id string) (int, error)

	/*
		Delete removes a challenge (after success or attempt exhaustion).

		Parameters:
		  - context: context.Context
		  - id: string

		Returns:
		  - error: Storage failures
	*/
	Delete(context context.Context, id string) error
}
