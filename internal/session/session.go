// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package session implements browser SSO sessions, refresh token rotation
with reuse detection, offline tokens, and back-channel logout delivery.

# Architecture

  - Session: One browser login. The cookie carries a random token; the
    store holds only its SHA-256 digest.
  - RefreshToken: A rotating credential chained into a family. Each
    rotation revokes the predecessor with a conditional write; presenting
    a revoked member is theft evidence and burns the whole family.
  - Offline tokens: Refresh tokens flagged offline. They survive the
    browser session's logout and are enumerable and revocable per user.
  - Notifier: A bounded worker queue that delivers OIDC back-channel
    logout tokens to registered clients with retry.
*/
package session

import "time"

// # Domain Entities

// Session is one authenticated browser session within a realm.
type Session struct {
	ID      string `json:"id"`
	RealmID string `json:"realm_id"`
	UserID  string `json:"user_id"`
	// TokenHash is the SHA-256 digest of the cookie token.
	TokenHash string `json:"-"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	// RememberMe extends the session to the remember-me lifetime.
	RememberMe   bool      `json:"remember_me"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessAt time.Time `json:"last_access_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// RefreshToken is one member of a rotation family.
type RefreshToken struct {
	ID      string `json:"id"`
	RealmID string `json:"realm_id"`
	// SessionID ties the token to its SSO session. Empty for offline
	// tokens whose session has ended.
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id"`
	// ClientID is the OAuth client_id the token was issued to.
	ClientID  string `json:"client_id"`
	TokenHash string `json:"-"`
	// FamilyID groups every rotation of one original grant. Reuse
	// detection revokes by family.
	FamilyID string `json:"family_id"`
	// Offline marks tokens minted for the offline_access scope.
	Offline bool   `json:"offline"`
	Scope   string `json:"scope"`
	Revoked bool   `json:"revoked"`
	// ReplacedBy names the successor once rotated.
	ReplacedBy string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the token is past its expiry at the given instant.
func (token *RefreshToken) Expired(now time.Time) bool {
	return now.After(token.ExpiresAt)
}

// Expired reports whether the session is past its expiry at the given instant.
func (session *Session) Expired(now time.Time) bool {
	return now.After(session.ExpiresAt)
}
