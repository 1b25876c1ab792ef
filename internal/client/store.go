// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package client

import "context"

// # Client Data Access

// Repository defines the data access contract for OAuth clients.
type Repository interface {

	/*
		Create persists a brand-new client to the storage.

		Parameters:
		  - context: context.Context
		  - client: *Client

		Returns:
		  - error: Persistence failures
	*/
	Create(context context.Context, client *Client) error

	/*
		FindByID returns the client row with the given internal ID.

		Parameters:
		  - context: context.Context
		  - realmID: string
		  - id: string

		Returns:
		  - *Client: Hydrated entity
		  - error: Database retrieval failures
	*/
	FindByID(context context.Context, realmID, id string) (*Client, error)

	/*
		FindByClientID returns the client with the given OAuth client_id.

		Parameters:
		  - context: context.Context
		  - realmID: string
		  - clientID: string

		Returns:
		  - *Client: Hydrated entity
		  - error: Database retrieval failures
	*/
	FindByClientID(context context.Context, realmID, clientID string) (*Client, error)

	/*
		List returns all clients in a realm ordered by client_id.

		Parameters:
		  - context: context.Context
		  - realmID: string

		Returns:
		  - []*Client: Clients
		  - error: Database retrieval failures
	*/
	List(context context.Context, realmID string) ([]*Client, error)

	/*
		ListWithBackchannel returns enabled clients that registered a
		backchannel logout URI.

		Parameters:
		  - context: context.Context
		  - realmID: string

		Returns:
		  - []*Client: Subscribed clients
		  - error: Database retrieval failures
	*/
	ListWithBackchannel(context context.Context, realmID string) ([]*Client, error)

	/*
		Update persists changes to mutable client fields.

		Parameters:
		  - context: context.Context
		  - client: *Client

		Returns:
		  - error: Persistence failures
	*/
	Update(context context.Context, client *Client) error

	/*
		UpdateSecretHash replaces only the stored secret digest.

		Parameters:
		  - context: context.Context
		  - id: string
		  - secretHash: string

		Returns:
		  - error: Persistence failures
	*/
	UpdateSecretHash(context context.Context, id, secretHash string) error

	/*
		Delete permanently removes a client.

		Parameters:
		  - context: context.Context
		  - realmID: string
		  - id: string

		Returns:
		  - error: Persistence failures
	*/
	Delete(context context.Context, realmID, id string) error
}

// # Scope Data Access

// ScopeRepository defines the data access contract for client scopes and
// their client assignments.
type ScopeRepository interface {

	/*
		Create persists a new scope.

		Parameters:
		  - context: context.Context
		  - scope: *Scope

		Returns:
		  - error: Persistence failures
	*/
	Create(context context.Context, scope *Scope) error

	/*
		FindByID returns the scope with the given ID.

		Parameters:
		  - context: context.Context
		  - realmID: string
		  - id: string

		Returns:
		  - *Scope: Hydrated entity
		  - error: Database retrieval failures
	*/
	FindByID(context context.Context, realmID, id string) (*Scope, error)

	/*
		List returns all scopes in a realm ordered by name.

		Parameters:
		  - context: context.Context
		  - realmID: string

		Returns:
		  - []*Scope: Scopes
		  - error: Database retrieval failures
	*/
	List(context context.Context, realmID string) ([]*Scope, error)

	/*
		Update persists changes to a scope's mutable fields.

		Parameters:
		  - context: context.Context
		  - scope: *Scope

		Returns:
		  - error: Persistence failures
	*/
	Update(context context.Context, scope *Scope) error

	/*
		Delete permanently removes a scope and its assignments.

		Parameters:
		  - context: context.Context
		  - realmID: string
		  - id: string

		Returns:
		  - error: Persistence failures
	*/
	Delete(context context.Context, realmID, id string) error

	/*
		Assign binds a scope to a client as default or optional, replacing
		any existing assignment of the same pair.

		Parameters:
		  - context: context.Context
		  - assignment: *Assignment

		Returns:
		  - error: Persistence failures
	*/
	Assign(context context.Context, assignment *Assignment) error

	/*
		Unassign removes a scope assignment from a client.

		Parameters:
		  - context: context.Context
		  - clientID: string (internal client row id)
		  - scopeID: string

		Returns:
		  - error: Persistence failures
	*/
	Unassign(context context.Context, clientID, scopeID string) error

	/*
		ListAssigned returns the scopes assigned to a client, split by kind.

		Parameters:
		  - context: context.Context
		  - clientID: string (internal client row id)

		Returns:
		  - []*Scope: Default scopes
		  - []*Scope: Optional scopes
		  - error: Database retrieval failures
	*/
	ListAssigned(context context.Context, clientID string) ([]*Scope, []*Scope, error)
}
