// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package oidc

import (
	"context"
	"time"
)

// # Authorization Code Data Access

// CodeRepository defines the data access contract for authorization codes.
type CodeRepository interface {

	/*
		Create persists a new authorization code.

		Parameters:
		  - context: context.Context
		  - code: *AuthorizationCode

		Returns:
		  - error: Persistence failures
	*/
	Create(context context.Context, code *AuthorizationCode) error

	/*
		FindByHash returns the code matching a presented digest, consumed
		or not. The caller inspects Consumed for replay detection.

		Parameters:
		  - context: context.Context
		  - realmID: string
		  - codeHash: string

		Returns:
		  - *AuthorizationCode: Hydrated entity
		  - error: apperr.NotFound for unknown digests
	*/
	FindByHash(context context.Context, realmID, codeHash string) (*AuthorizationCode, error)

	/*
		Consume marks the code redeemed. The write is conditional on the
		code still being live; when two redemptions race, exactly one wins.

		Parameters:
		  - context: context.Context
		  - id: string

		Returns:
		  - bool: Whether this call won the redemption
		  - error: Persistence failures
	*/
	Consume(context context.Context, id string) (bool, error)

	/*
		DeleteExpired removes codes past their expiry.

		Parameters:
		  - context: context.Context
		  - now: time.Time

		Returns:
		  - int64: Rows removed
		  - error: Persistence failures
	*/
	DeleteExpired(context context.Context, now time.Time) (int64, error)
}

// # Device Code Data Access

// DeviceCodeRepository defines the data access contract for the device
// authorization flow.
type DeviceCodeRepository interface {

	/*
		Create persists a new device authorization.

		Parameters:
		  - context: context.Context
		  - code: *DeviceCode

		Returns:
		  - error: Persistence failures
	*/
	Create(context context.Context, code *DeviceCode) error

	/*
		FindByDeviceHash returns the authorization matching a polled
		device_code digest.

		Parameters:
		  - context: context.Context
		  - realmID: string
		  - deviceCodeHash: string

		Returns:
		  - *DeviceCode: Hydrated entity
		  - error: apperr.NotFound for unknown digests
	*/
	FindByDeviceHash(context context.Context, realmID, deviceCodeHash string) (*DeviceCode, error)

	/*
		FindByUserCode returns the authorization a user is approving.

		Parameters:
		  - context: context.Context
		  - realmID: string
		  - userCode: string

		Returns:
		  - *DeviceCode: Hydrated entity
		  - error: apperr.NotFound for unknown codes
	*/
	FindByUserCode(context context.Context, realmID, userCode string) (*DeviceCode, error)

	/*
		Decide moves a pending authorization to APPROVED or DENIED. The
		write is conditional on the authorization still being pending.

		Parameters:
		  - context: context.Context
		  - id: string
		  - status: DeviceStatus (the target decision)
		  - userID: string (the approver; empty on denial)

		Returns:
		  - bool: Whether this call made the transition
		  - error: Persistence failures
	*/
	Decide(context context.Context, id string, status DeviceStatus, userID string) (bool, error)

	/*
		ConsumeApproved redeems an approved authorization for tokens,
		exactly once.

		Parameters:
		  - context: context.Context
		  - id: string

		Returns:
		  - bool: Whether this call won the redemption
		  - error: Persistence failures
	*/
	ConsumeApproved(context context.Context, id string) (bool, error)

	/*
		DeleteExpired removes authorizations past their expiry.

		Parameters:
		  - context: context.Context
		  - now: time.Time

		Returns:
		  - int64: Rows removed
		  - error: Persistence failures
	*/
	DeleteExpired(context context.Context, now time.Time) (int64, error)
}

// # Consent Data Access

// ConsentRepository defines the data access contract for the durable
// consent ledger.
type ConsentRepository interface {

	/*
		Find returns the consent one user granted one client.

		Parameters:
		  - context: context.Context
		  - realmID: string
		  - userID: string
		  - clientID: string (OAuth client_id)

		Returns:
		  - *UserConsent: Hydrated entity
		  - error: apperr.NotFound when no consent exists
	*/
	Find(context context.Context, realmID, userID, clientID string) (*UserConsent, error)

	/*
		Upsert persists the full scope set for a (user, client) pair,
		replacing any previous record.

		Parameters:
		  - context: context.Context
		  - consent: *UserConsent

		Returns:
		  - error: Persistence failures
	*/
	Upsert(context context.Context, consent *UserConsent) error

	/*
		ListByUser returns every consent a user has granted.

		Parameters:
		  - context: context.Context
		  - realmID: string
		  - userID: string

		Returns:
		  - []*UserConsent: Grants, newest first
		  - error: Database retrieval failures
	*/
	ListByUser(context context.Context, realmID, userID string) ([]*UserConsent, error)

	/*
		Delete removes one consent record.

		Parameters:
		  - context: context.Context
		  - realmID: string
		  - userID: string
		  - clientID: string (OAuth client_id)

		Returns:
		  - error: Persistence failures
	*/
	Delete(context context.Context, realmID, userID, clientID string) error
}

// # Transient Protocol State

// ConsentRequestRepository holds paused authorization requests. Single-use:
// consuming destroys the entry.
type ConsentRequestRepository interface {
	Set(context context.Context, request *ConsentRequest, ttl time.Duration) error

	// Consume atomically fetches and destroys the request. Returns
	// apperr.NotFound for unknown or already-consumed ids.
	Consume(context context.Context, id string) (*ConsentRequest, error)
}

// PollThrottle enforces the device-flow polling interval.
type PollThrottle interface {

	// Acquire reports whether the device may poll now. A false return
	// means the client must slow down.
	Acquire(context context.Context, deviceCodeID string, interval time.Duration) (bool, error)
}
