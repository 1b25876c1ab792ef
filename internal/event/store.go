// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package event

import (
	"context"
	"time"
)

// # Event Data Access

// Repository defines the data access contract for the audit trail.
type Repository interface {

	/*
		Insert appends one event.

		Parameters:
		  - context: context.Context
		  - event: *Event

		Returns:
		  - error: Persistence failures
	*/
	Insert(context context.Context, event *Event) error

	/*
		ListByRealm returns a realm's events, newest first.

		Parameters:
		  - context: context.Context
		  - realmID: string
		  - filter: Filter

		Returns:
		  - []*Event: Matching events
		  - error: Database retrieval failures
	*/
	ListByRealm(context context.Context, realmID string, filter Filter) ([]*Event, error)

	/*
		CountByRealm returns the number of events matching the filter,
		ignoring Limit and Offset.

		Parameters:
		  - context: context.Context
		  - realmID: string
		  - filter: Filter

		Returns:
		  - int: Matching row count
		  - error: Database retrieval failures
	*/
	CountByRealm(context context.Context, realmID string, filter Filter) (int, error)

	/*
		DeleteOlderThan prunes a realm's events past the retention cutoff.

		Parameters:
		  - context: context.Context
		  - realmID: string
		  - cutoff: time.Time

		Returns:
		  - int64: Rows removed
		  - error: Persistence failures
	*/
	DeleteOlderThan(context context.Context, realmID string, cutoff time.Time) (int64, error)
}
