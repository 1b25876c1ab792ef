// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package user

import (
	"context"
	"fmt"

	"github.com/taibuivan/authme/internal/platform/apperr"
	"github.com/taibuivan/authme/internal/platform/sec"
	"github.com/taibuivan/authme/internal/realm"
	"github.com/taibuivan/authme/pkg/uuid"
)

// # Federation Contract

// FederatedIdentity is the profile returned by a successful federation bind.
type FederatedIdentity struct {
	ExternalID string
	Username   string
	Email      string
	FirstName  string
	LastName   string
}

// FederationVerifier is the verify-federated-credentials capability.
// Directory sync and import are external concerns; the core only needs
// bind-style verification.
type FederationVerifier interface {
	// Configured reports whether the realm has a federation source.
	Configured(realmID string) bool

	// Bind verifies the credentials against the external directory.
	// Returns apperr.InvalidCredentials on mismatch.
	Bind(context context.Context, realmID, username, password string) (*FederatedIdentity, error)
}

// # Credential Verifier

// Verifier runs the credential check used by interactive login.
//
// # Timing
//
// Unknown-user and wrong-password paths both perform one Argon2id
// verification so response timing does not reveal whether the username
// exists.
type Verifier struct {
	users      Repository
	guard      *Guard
	federation FederationVerifier
}

// NewVerifier constructs a credential [Verifier].
func NewVerifier(users Repository, guard *Guard, federation FederationVerifier) *Verifier {
	return &Verifier{users: users, guard: guard, federation: federation}
}

/*
Verify authenticates (username, password) within a realm.

Description: Resolves the account, consults the brute-force guard, and
verifies the password locally or against the federation source. The whole
check-verify-record sequence runs serialized per user so parallel attempts
cannot outrun the failure counter.

Parameters:
  - context: context.Context
  - currentRealm: *realm.Realm
  - username: string
  - password: string
  - ip: string

Returns:
  - *User: The authenticated account
  - error: apperr.InvalidCredentials, apperr.AccountLocked,
    apperr.AccountDisabled, or storage failures
*/
func (verifier *Verifier) Verify(context context.Context, currentRealm *realm.Realm, username, password, ip string) (*User, error) {
	account, err := verifier.users.FindByUsername(context, currentRealm.ID, username)
	if err != nil {
		if !apperr.HasCode(err, "NOT_FOUND") {
			return nil, err
		}

		// Unknown user. Try a realm-wide federation bind, which may
		// materialize a local account on first login.
		if verifier.federation != nil && verifier.federation.Configured(currentRealm.ID) {
			return verifier.bindAndMaterialize(context, currentRealm, username, password)
		}

		// Burn the same time a real verification would take.
		sec.DummyCheckPassword(password)
		return nil, apperr.InvalidCredentials()
	}

	if !account.Enabled {
		sec.DummyCheckPassword(password)
		return nil, apperr.AccountDisabled()
	}
	if !account.HasCredentials() {
		sec.DummyCheckPassword(password)
		return nil, apperr.InvalidCredentials()
	}

	var verified *User
	serializeErr := verifier.guard.Serialize(currentRealm.ID, account.ID, func() error {
		state, err := verifier.guard.Check(context, currentRealm, account.ID)
		if err != nil {
			return err
		}
		if state.Locked {
			return apperr.AccountLocked()
		}

		var passwordOK bool
		if account.FederationLink != "" {
			_, bindErr := verifier.federation.Bind(context, currentRealm.ID, username, password)
			passwordOK = bindErr == nil
		} else {
			passwordOK = sec.CheckPasswordHash(password, account.PasswordHash)
		}

		if !passwordOK {
			if err := verifier.guard.RecordFailure(context, currentRealm, account.ID, ip); err != nil {
				return err
			}
			return apperr.InvalidCredentials()
		}

		if err := verifier.guard.Reset(context, currentRealm.ID, account.ID); err != nil {
			return err
		}
		verified = account
		return nil
	})
	if serializeErr != nil {
		return nil, serializeErr
	}

	return verified, nil
}

// bindAndMaterialize creates a local shadow account for a federated user on
// first successful login.
func (verifier *Verifier) bindAndMaterialize(context context.Context, currentRealm *realm.Realm, username, password string) (*User, error) {
	identity, err := verifier.federation.Bind(context, currentRealm.ID, username, password)
	if err != nil {
		return nil, apperr.InvalidCredentials()
	}

	account := &User{
		ID:             uuid.New(),
		RealmID:        currentRealm.ID,
		Username:       identity.Username,
		Email:          identity.Email,
		EmailVerified:  identity.Email != "",
		FirstName:      identity.FirstName,
		LastName:       identity.LastName,
		Enabled:        true,
		FederationLink: identity.ExternalID,
	}

	if err := verifier.users.Create(context, account); err != nil {
		return nil, fmt.Errorf("user_verifier_materialize_failed: %w", err)
	}

	return account, nil
}
