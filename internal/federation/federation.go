// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package federation provides the external-directory credential verification
used when a realm delegates authentication to an outside user store.

The core never syncs or imports directories; it only needs bind-style
verification at login time. This package ships the disabled default used
when no directory is attached, plus a static in-memory directory for
development and tests.
*/
package federation

import (
	"context"
	"sync"

	"github.com/taibuivan/authme/internal/platform/apperr"
	"github.com/taibuivan/authme/internal/platform/sec"
	"github.com/taibuivan/authme/internal/user"
)

// # Disabled Default

// Disabled is the no-directory default. Every realm reports unconfigured
// and every bind fails.
type Disabled struct{}

// NewDisabled returns the no-directory verifier.
func NewDisabled() *Disabled {
	return &Disabled{}
}

// Configured always reports false.
func (*Disabled) Configured(string) bool {
	return false
}

// Bind always fails with invalid credentials.
func (*Disabled) Bind(context.Context, string, string, string) (*user.FederatedIdentity, error) {
	return nil, apperr.InvalidCredentials()
}

// # Static Directory

// StaticEntry is one account in a [Static] directory.
type StaticEntry struct {
	ExternalID string
	Username   string
	Email      string
	FirstName  string
	LastName   string
	Password   string
}

// Static is an in-memory directory keyed by (realmID, username). It exists
// for development environments and integration tests; production realms
// attach a real directory implementation instead.
type Static struct {
	mu      sync.RWMutex
	entries map[string]map[string]StaticEntry
}

// NewStatic returns an empty in-memory directory.
func NewStatic() *Static {
	return &Static{entries: make(map[string]map[string]StaticEntry)}
}

// Add registers an account under a realm.
func (directory *Static) Add(realmID string, entry StaticEntry) {
	directory.mu.Lock()
	defer directory.mu.Unlock()

	if directory.entries[realmID] == nil {
		directory.entries[realmID] = make(map[string]StaticEntry)
	}
	directory.entries[realmID][entry.Username] = entry
}

// Configured reports whether the realm has at least one account.
func (directory *Static) Configured(realmID string) bool {
	directory.mu.RLock()
	defer directory.mu.RUnlock()

	return len(directory.entries[realmID]) > 0
}

// Bind verifies the credentials against the in-memory directory.
func (directory *Static) Bind(_ context.Context, realmID, username, password string) (*user.FederatedIdentity, error) {
	directory.mu.RLock()
	entry, found := directory.entries[realmID][username]
	directory.mu.RUnlock()

	if !found || !sec.ConstantTimeEquals(entry.Password, password) {
		return nil, apperr.InvalidCredentials()
	}

	return &user.FederatedIdentity{
		ExternalID: entry.ExternalID,
		Username:   entry.Username,
		Email:      entry.Email,
		FirstName:  entry.FirstName,
		LastName:   entry.LastName,
	}, nil
}
