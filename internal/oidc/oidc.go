// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package oidc implements the OAuth 2.0 / OpenID Connect protocol surface of
the identity provider.

It covers the authorization endpoint, the token endpoint with its grant
dispatch (authorization_code with PKCE, refresh_token, client_credentials,
password, device_code), token introspection and revocation, the UserInfo
endpoint, RP-initiated logout, the device authorization flow, and the
discovery document.

# Architecture

  - AuthorizationCode: Single-use code minted after login and consent.
    Stored as a digest; consumption is a conditional write, so a replayed
    code loses deterministically.
  - DeviceCode: The pending device-flow authorization, advanced by the
    user's approval and polled by the device against a Redis throttle.
  - UserConsent: The durable per-(user, client) scope grant ledger.
  - ConsentRequest: Redis-held state of an authorization request paused at
    the consent screen.
  - Service: Request validation and the grant state machines.
  - Handler: The realm-scoped protocol endpoints.
*/
package oidc

import "time"

// # Authorization Codes

// AuthorizationCode is a single-use credential bridging the front channel
// and the token endpoint.
type AuthorizationCode struct {
	ID      string `json:"id"`
	RealmID string `json:"realm_id"`
	// ClientID is the OAuth client_id the code was issued to.
	ClientID  string `json:"client_id"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	// RedirectURI must be presented byte-identical at redemption.
	RedirectURI string `json:"redirect_uri"`
	Scope       string `json:"scope"`
	Nonce       string `json:"nonce,omitempty"`
	// CodeChallenge pins the PKCE verifier. Empty only for confidential
	// clients that did not send one.
	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`
	// CodeHash is the SHA-256 digest of the raw code.
	CodeHash string `json:"-"`
	// AuthTime is when the user last actively authenticated.
	AuthTime time.Time `json:"auth_time"`
	// Consumed flips exactly once; a second redemption is a replay.
	Consumed  bool      `json:"consumed"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the code is past its expiry at the given instant.
func (code *AuthorizationCode) Expired(now time.Time) bool {
	return now.After(code.ExpiresAt)
}

// # Device Codes

// DeviceStatus is the state of a device-flow authorization.
type DeviceStatus string

const (
	DeviceStatusPending  DeviceStatus = "PENDING"
	DeviceStatusApproved DeviceStatus = "APPROVED"
	DeviceStatusDenied   DeviceStatus = "DENIED"
)

// DeviceCode is one pending device-flow authorization (RFC 8628).
type DeviceCode struct {
	ID      string `json:"id"`
	RealmID string `json:"realm_id"`
	// ClientID is the OAuth client_id that started the flow.
	ClientID string `json:"client_id"`
	// UserID is set when a user approves on the secondary device.
	UserID string `json:"user_id,omitempty"`
	Scope  string `json:"scope"`
	// DeviceCodeHash is the SHA-256 digest of the device_code the client
	// polls with.
	DeviceCodeHash string `json:"-"`
	// UserCode is the short code the user types on the secondary device.
	UserCode string       `json:"user_code"`
	Status   DeviceStatus `json:"status"`
	// Consumed flips when an approved code is exchanged for tokens.
	Consumed  bool      `json:"consumed"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the device code is past its expiry.
func (code *DeviceCode) Expired(now time.Time) bool {
	return now.After(code.ExpiresAt)
}

// # Consent

// UserConsent is the durable record of scopes a user granted to a client.
type UserConsent struct {
	ID      string `json:"id"`
	RealmID string `json:"realm_id"`
	UserID  string `json:"user_id"`
	// ClientID is the OAuth client_id the grant applies to.
	ClientID string `json:"client_id"`
	// Scopes accumulate across grants; re-consent only covers additions.
	Scopes    []string  `json:"scopes"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Covers reports whether every requested scope is already granted.
func (consent *UserConsent) Covers(requested []string) bool {
	granted := make(map[string]bool, len(consent.Scopes))
	for _, scope := range consent.Scopes {
		granted[scope] = true
	}
	for _, scope := range requested {
		if !granted[scope] {
			return false
		}
	}
	return true
}

// ConsentRequest is the transient state of an authorization request paused
// at the consent screen. Held in Redis, consumed exactly once.
type ConsentRequest struct {
	ID        string    `json:"id"`
	RealmID   string    `json:"realm_id"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	ClientID  string    `json:"client_id"`
	Scope     string    `json:"scope"`
	State     string    `json:"state,omitempty"`
	Nonce     string    `json:"nonce,omitempty"`
	AuthTime  time.Time `json:"auth_time"`

	RedirectURI         string `json:"redirect_uri"`
	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`
}

// # Well-Known Scope Names

const (
	// ScopeOpenID turns a plain OAuth request into an OIDC one.
	ScopeOpenID = "openid"
	// ScopeOfflineAccess requests a session-surviving refresh token.
	ScopeOfflineAccess = "offline_access"
)
