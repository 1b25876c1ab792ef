// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package realm

import "context"

// # Realm Data Access

// Repository defines the data access contract for realm entities.
type Repository interface {

	/*
		Create persists a brand-new realm to the storage.

		Parameters:
		  - context: context.Context
		  - realm: *Realm

		Returns:
		  - error: Persistence failures
	*/
	Create(context context.Context, realm *Realm) error

	/*
		FindByName returns the realm with the given unique slug.

		Parameters:
		  - context: context.Context
		  - name: string

		Returns:
		  - *Realm: Hydrated entity
		  - error: Database retrieval failures
	*/
	FindByName(context context.Context, name string) (*Realm, error)

	/*
		FindByID returns the realm with the given ID.

		Parameters:
		  - context: context.Context
		  - id: string

		Returns:
		  - *Realm: Hydrated entity
		  - error: Database retrieval failures
	*/
	FindByID(context context.Context, id string) (*Realm, error)

	/*
		List returns all realms ordered by name.

		Parameters:
		  - context: context.Context

		Returns:
		  - []*Realm: All realms
		  - error: Database retrieval failures
	*/
	List(context context.Context) ([]*Realm, error)

	/*
		Update persists changes to a realm's mutable settings.

		Parameters:
		  - context: context.Context
		  - realm: *Realm

		Returns:
		  - error: Persistence failures
	*/
	Update(context context.Context, realm *Realm) error

	/*
		Delete permanently removes a realm and cascades to all owned data.

		Parameters:
		  - context: context.Context
		  - id: string

		Returns:
		  - error: Persistence failures
	*/
	Delete(context context.Context, id string) error
}
