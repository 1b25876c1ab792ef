// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package user implements the per-realm user population and the credential
verification pipeline.

It covers account lifecycle, Argon2id password management with policy and
history enforcement, the brute-force guard, and single-use verification
tokens for email-verify and password-reset flows.

# Architecture

  - Service: Account lifecycle and password management.
  - Verifier: The credential check used by interactive login (password or
    federated, with enumeration-resistant timing).
  - Guard: Per-(realm,user) login-failure accounting and lockout.
  - Repository interfaces: Postgres for durable state, Redis for
    single-use verification tokens.
*/
package user

import "time"

// # Domain Entities

// User represents an account scoped to one realm.
type User struct {
	ID            string `json:"id"`
	RealmID       string `json:"realm_id"`
	Username      string `json:"username"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified"`
	FirstName     string `json:"first_name,omitempty"`
	LastName      string `json:"last_name,omitempty"`
	Enabled       bool   `json:"enabled"`

	// PasswordHash is empty for federated-only accounts.
	PasswordHash      string     `json:"-"`
	PasswordChangedAt *time.Time `json:"password_changed_at,omitempty"`

	// FederationLink is an opaque reference into the external directory.
	// Empty means the account is local.
	FederationLink string `json:"federation_link,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasCredentials reports whether the account can be authenticated at all.
func (user *User) HasCredentials() bool {
	return user.PasswordHash != "" || user.FederationLink != ""
}

// PasswordHistoryEntry is one retired password hash kept for reuse checks.
type PasswordHistoryEntry struct {
	ID           string
	UserID       string
	RealmID      string
	PasswordHash string
	CreatedAt    time.Time
}

// LoginFailure is one failed authentication attempt.
type LoginFailure struct {
	ID        string
	UserID    string
	RealmID   string
	IPAddress string
	CreatedAt time.Time
}

// # Verification Tokens

// VerificationPurpose tags what a single-use token authorizes.
type VerificationPurpose string

const (
	PurposeEmailVerification VerificationPurpose = "email_verification"
	PurposePasswordReset     VerificationPurpose = "password_reset"
	PurposeChangePassword    VerificationPurpose = "change_password"
)

// # Field Identifiers

// Global field names for validation in the user domain.
const (
	FieldUsername  = "username"
	FieldEmail     = "email"
	FieldPassword  = "password"
	FieldFirstName = "first_name"
	FieldLastName  = "last_name"
)
