// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package mfa implements TOTP second-factor credentials, recovery codes, and
the short-lived login challenges that bridge the password step and the
one-time-code step.

# Architecture

  - Credential: A user's TOTP enrolment. The seed is sealed under the
    process master key before it reaches PostgreSQL and only unsealed for
    the duration of a code check.
  - RecoveryCode: Single-use fallback codes, stored as digests.
  - Challenge: Redis-held state for a login that passed the password check
    and is waiting for the second factor. Bounded attempts, short TTL.
  - Service: Enrolment, confirmation, verification with replay protection.
*/
package mfa

import "time"

// # Domain Entities

// Credential is one user's TOTP enrolment.
type Credential struct {
	ID      string `json:"id"`
	RealmID string `json:"realm_id"`
	UserID  string `json:"user_id"`
	// SecretSealed is the Base32 TOTP seed sealed under the master key.
	SecretSealed string `json:"-"`
	// Confirmed flips when the user proves possession with a first valid
	// code. Unconfirmed enrolments are ignored at login.
	Confirmed bool `json:"confirmed"`
	// LastUsedStep is the 30-second time step of the last accepted code.
	// A code for a step at or before this value is a replay.
	LastUsedStep int64     `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// RecoveryCode is a single-use fallback credential.
type RecoveryCode struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	CodeHash string `json:"-"`
	Used     bool   `json:"used"`
}

// Challenge is the pending-second-factor state of one login attempt.
type Challenge struct {
	ID      string `json:"id"`
	RealmID string `json:"realm_id"`
	UserID  string `json:"user_id"`
	// Attempts counts failed code submissions. The challenge is destroyed
	// when it exceeds [MaxAttempts].
	Attempts int `json:"attempts"`
	// Payload carries the interrupted authorization request (client_id,
	// redirect_uri, scope, state, nonce, PKCE) across the MFA step.
	Payload   map[string]string `json:"payload,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// # Tuning

const (
	// Period is the TOTP time-step size in seconds.
	Period = 30
	// Skew is how many adjacent steps are accepted around "now".
	Skew = 1
	// SecretBytes sizes the TOTP seed (160 bits per RFC 4226).
	SecretBytes = 20
	// RecoveryCodeCount is how many fallback codes an enrolment mints.
	RecoveryCodeCount = 10
	// RecoveryCodeLength is the character length of one fallback code.
	RecoveryCodeLength = 10
	// ChallengeTTL bounds how long the second-factor step may take.
	ChallengeTTL = 5 * time.Minute
	// MaxAttempts bounds code submissions per challenge.
	MaxAttempts = 5
	// ChallengeIDBytes sizes the challenge identifier (256 bits).
	ChallengeIDBytes = 32
)
