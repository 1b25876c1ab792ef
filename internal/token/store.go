// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package token

import "context"

// # Key Data Access

// KeyRepository defines the data access contract for signing keys.
type KeyRepository interface {

	/*
		Create persists a new signing key.

		Parameters:
		  - context: context.Context
		  - key: *SigningKey

		Returns:
		  - error: Persistence failures
	*/
	Create(context context.Context, key *SigningKey) error

	/*
		FindActive returns the realm's current signing key.

		Parameters:
		  - context: context.Context
		  - realmID: string

		Returns:
		  - *SigningKey: The active key
		  - error: apperr.NotFound when the realm has no active key
	*/
	FindActive(context context.Context, realmID string) (*SigningKey, error)

	/*
		FindByKID returns one key by its identifier.

		Parameters:
		  - context: context.Context
		  - realmID: string
		  - kid: string

		Returns:
		  - *SigningKey: Hydrated entity
		  - error: Database retrieval failures
	*/
	FindByKID(context context.Context, realmID, kid string) (*SigningKey, error)

	/*
		List returns all keys in a realm, newest first.

		Parameters:
		  - context: context.Context
		  - realmID: string

		Returns:
		  - []*SigningKey: Keys
		  - error: Database retrieval failures
	*/
	List(context context.Context, realmID string) ([]*SigningKey, error)

	/*
		Activate marks one key active and retires every other key of the
		realm in the same transaction.

		Parameters:
		  - context: context.Context
		  - realmID: string
		  - kid: string

		Returns:
		  - error: Persistence failures
	*/
	Activate(context context.Context, realmID, kid string) error

	/*
		Delete removes a retired key permanently. Deleting the active key
		is a caller error and is rejected at the service layer.

		Parameters:
		  - context: context.Context
		  - realmID: string
		  - kid: string

		Returns:
		  - error: Persistence failures
	*/
	Delete(context context.Context, realmID, kid string) error
}
