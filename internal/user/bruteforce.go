// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package user

import (
	"context"
	"sync"

	"github.com/taibuivan/authme/internal/platform/clock"
	"github.com/taibuivan/authme/internal/realm"
	"github.com/taibuivan/authme/pkg/uuid"
)

// # Brute-Force Guard

// LockState describes the result of a lockout check.
type LockState struct {
	Locked    bool
	Permanent bool
}

// Guard tracks login failures per (realm, user) and derives lockout state
// from the realm's brute-force policy.
//
// # Concurrency
//
// Serialize runs a critical section under a per-user mutex so that two
// parallel bad attempts cannot both slip past maxLoginFailures. The mutex
// map grows with distinct users seen since startup; entries are reclaimed
// when their reference count drops to zero.
type Guard struct {
	failures FailureRepository
	clock    clock.Clock

	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// NewGuard constructs a brute-force [Guard].
func NewGuard(failures FailureRepository, clk clock.Clock) *Guard {
	return &Guard{
		failures: failures,
		clock:    clk,
		locks:    make(map[string]*userLock),
	}
}

/*
Serialize runs fn under the mutex for (realmID, userID).

Description: The credential verifier wraps its check-verify-record sequence
in this to make failure accounting race-free.

Parameters:
  - realmID: string
  - userID: string
  - fn: func() error (critical section)

Returns:
  - error: Whatever fn returns
*/
func (guard *Guard) Serialize(realmID, userID string, fn func() error) error {
	key := realmID + "/" + userID

	guard.mu.Lock()
	lock, found := guard.locks[key]
	if !found {
		lock = &userLock{}
		guard.locks[key] = lock
	}
	lock.refs++
	guard.mu.Unlock()

	lock.mu.Lock()
	err := fn()
	lock.mu.Unlock()

	guard.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(guard.locks, key)
	}
	guard.mu.Unlock()

	return err
}

/*
Check derives the lockout state for a user under the realm's policy.

Description: A user is locked when the failure count within failureResetTime
has reached maxLoginFailures and the lockout window since the last failure
has not yet elapsed. Permanent lockout applies when the lifetime failure
count reaches permanentLockoutAfter (when configured > 0).

Parameters:
  - context: context.Context
  - currentRealm: *realm.Realm
  - userID: string

Returns:
  - LockState: Lockout decision
  - error: Storage failures
*/
func (guard *Guard) Check(context context.Context, currentRealm *realm.Realm, userID string) (LockState, error) {
	policy := currentRealm.BruteForcePolicy
	if !policy.Enabled {
		return LockState{}, nil
	}

	now := guard.clock.Now()

	if policy.PermanentLockoutAfter > 0 {
		total, err := guard.failures.CountAll(context, currentRealm.ID, userID)
		if err != nil {
			return LockState{}, err
		}
		if total >= policy.PermanentLockoutAfter {
			return LockState{Locked: true, Permanent: true}, nil
		}
	}

	windowStart := now.Add(-policy.FailureResetTime)
	count, lastFailure, err := guard.failures.CountSince(context, currentRealm.ID, userID, windowStart)
	if err != nil {
		return LockState{}, err
	}

	if count >= policy.MaxLoginFailures && now.Before(lastFailure.Add(policy.LockoutDuration)) {
		return LockState{Locked: true}, nil
	}

	return LockState{}, nil
}

/*
RecordFailure appends a login failure for the user.

Parameters:
  - context: context.Context
  - currentRealm: *realm.Realm
  - userID: string
  - ip: string

Returns:
  - error: Storage failures
*/
func (guard *Guard) RecordFailure(context context.Context, currentRealm *realm.Realm, userID, ip string) error {
	if !currentRealm.BruteForcePolicy.Enabled {
		return nil
	}

	return guard.failures.Record(context, &LoginFailure{
		ID:        uuid.New(),
		UserID:    userID,
		RealmID:   currentRealm.ID,
		IPAddress: ip,
		CreatedAt: guard.clock.Now(),
	})
}

/*
Reset deletes all failures for the user. Called on successful login and
by the admin unlock operation.

Parameters:
  - context: context.Context
  - realmID: string
  - userID: string

Returns:
  - error: Storage failures
*/
func (guard *Guard) Reset(context context.Context, realmID, userID string) error {
	return guard.failures.Reset(context, realmID, userID)
}
