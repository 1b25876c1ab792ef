// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package client implements OAuth client registration within a realm.

It covers the client entity and its secret lifecycle, client authentication
for the token endpoint, and the scope system: named client scopes carrying
protocol mappers, assigned to clients as default (always applied) or
optional (applied when requested).

# Architecture

  - Service: Client lifecycle, secret rotation, authentication, scope
    resolution.
  - Repository interfaces: Postgres-backed storage for clients, scopes,
    and assignments.
*/
package client

import "time"

// # Domain Entities

// Type distinguishes confidential clients (hold a secret) from public ones.
type Type string

const (
	TypeConfidential Type = "CONFIDENTIAL"
	TypePublic       Type = "PUBLIC"
)

// Grant type identifiers accepted in a client's grantTypes set.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
	GrantClientCredentials = "client_credentials"
	GrantPassword          = "password"
	GrantDeviceCode        = "urn:ietf:params:oauth:grant-type:device_code"
)

// Client represents an OAuth relying party registered in a realm.
type Client struct {
	ID       string `json:"id"`
	RealmID  string `json:"realm_id"`
	ClientID string `json:"client_id"` // unique within the realm
	Name     string `json:"name"`
	Type     Type   `json:"type"`

	// SecretHash is the SHA-256 digest of the client secret. Confidential
	// clients only; the plaintext is returned exactly once on rotation.
	SecretHash string `json:"-"`

	RedirectURIs []string `json:"redirect_uris"`
	WebOrigins   []string `json:"web_origins"`
	GrantTypes   []string `json:"grant_types"`

	RequireConsent bool `json:"require_consent"`

	BackchannelLogoutURI             string `json:"backchannel_logout_uri,omitempty"`
	BackchannelLogoutSessionRequired bool   `json:"backchannel_logout_session_required"`

	// ServiceAccountUserID is non-empty iff client_credentials is granted.
	ServiceAccountUserID string `json:"service_account_user_id,omitempty"`

	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasGrant reports whether the grant type is enabled for this client.
func (client *Client) HasGrant(grantType string) bool {
	for _, grant := range client.GrantTypes {
		if grant == grantType {
			return true
		}
	}
	return false
}

// HasRedirectURI reports whether uri byte-matches a registered redirect URI.
func (client *Client) HasRedirectURI(uri string) bool {
	for _, registered := range client.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// # Scopes & Protocol Mappers

// MapperType enumerates the supported protocol mapper kinds.
type MapperType string

const (
	// MapperUserProperty maps a user profile field to a claim.
	// Config: {"property": "username|email|first_name|last_name|full_name", "claim": <name>}
	MapperUserProperty MapperType = "user-property"
	// MapperHardcodedClaim injects a fixed claim value.
	// Config: {"claim": <name>, "value": <string>}
	MapperHardcodedClaim MapperType = "hardcoded-claim"
	// MapperRealmRoles injects realm_access.roles.
	MapperRealmRoles MapperType = "realm-roles"
	// MapperClientRoles injects resource_access.{clientId}.roles.
	MapperClientRoles MapperType = "client-roles"
	// MapperAudience appends an extra audience.
	// Config: {"audience": <clientId>}
	MapperAudience MapperType = "audience"
)

// ProtocolMapper is one claim-injection rule attached to a scope.
type ProtocolMapper struct {
	ID     string            `json:"id"`
	Name   string            `json:"name"`
	Type   MapperType        `json:"type"`
	Config map[string]string `json:"config,omitempty"`
}

// Scope is a named bundle of protocol mappers assignable to clients.
type Scope struct {
	ID          string           `json:"id"`
	RealmID     string           `json:"realm_id"`
	Name        string           `json:"name"` // unique within the realm
	Description string           `json:"description,omitempty"`
	BuiltIn     bool             `json:"built_in"`
	Mappers     []ProtocolMapper `json:"mappers"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Assignment binds a scope to a client as default or optional.
type Assignment struct {
	ClientID     string `json:"client_id"` // internal client row id
	ScopeID      string `json:"scope_id"`
	DefaultScope bool   `json:"default_scope"`
}

// # Field Identifiers

// Global field names for validation in the client domain.
const (
	FieldClientID     = "client_id"
	FieldName         = "name"
	FieldType         = "type"
	FieldRedirectURIs = "redirect_uris"
	FieldGrantTypes   = "grant_types"
	FieldScopeName    = "name"
)
