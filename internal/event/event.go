// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package event implements the append-only audit trail of authentication and
administration activity.

# Architecture

  - Event: One recorded occurrence, scoped to a realm.
  - Recorder: A bounded worker queue. Recording never blocks a login;
    overflow drops the event with a warning.
  - Sweep: Periodic pruning driven by each realm's retention setting.
*/
package event

import "time"

// # Event Kinds

// Kind names what happened.
type Kind string

const (
	KindLogin          Kind = "LOGIN"
	KindLoginFailed    Kind = "LOGIN_FAILED"
	KindLogout         Kind = "LOGOUT"
	KindRegister       Kind = "REGISTER"
	KindMfaVerified    Kind = "MFA_VERIFIED"
	KindMfaFailed      Kind = "MFA_FAILED"
	KindCodeIssued     Kind = "CODE_ISSUED"
	KindTokenIssued    Kind = "TOKEN_ISSUED"
	KindTokenRefreshed Kind = "TOKEN_REFRESHED"
	KindTokenRevoked   Kind = "TOKEN_REVOKED"
	KindConsentGranted Kind = "CONSENT_GRANTED"
	KindConsentDenied  Kind = "CONSENT_DENIED"
	KindDeviceApproved Kind = "DEVICE_APPROVED"
	KindDeviceDenied   Kind = "DEVICE_DENIED"
	KindPasswordReset  Kind = "PASSWORD_RESET"
	KindEmailVerified  Kind = "EMAIL_VERIFIED"
	// KindLogoutDropped marks a back-channel logout notification that
	// was never delivered: the queue was full or every attempt failed.
	KindLogoutDropped Kind = "LOGOUT_DROPPED"
)

// # Domain Entities

// Event is one recorded occurrence within a realm.
type Event struct {
	ID      string `json:"id"`
	RealmID string `json:"realm_id"`
	Kind    Kind   `json:"kind"`

	// Correlation fields; empty when not applicable.
	UserID    string `json:"user_id,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`

	// Detail carries kind-specific context (grant type, scope, error).
	Detail map[string]string `json:"detail,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Filter narrows an event listing.
type Filter struct {
	Kind   Kind
	UserID string
	// Limit caps the result set; zero applies the default page size.
	Limit int
	// Offset skips rows for page-based navigation.
	Offset int
}

// DefaultListLimit caps event listings when the caller does not.
const DefaultListLimit = 100
