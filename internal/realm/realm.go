// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package realm implements the multi-tenant root of the identity provider.

A realm is an isolated tenant: it owns its own users, clients, roles, groups,
signing keys, and policies. Nothing crosses a realm boundary — every
downstream store call is keyed by the realm id resolved from the request URL.

# Architecture

  - Realm: The tenant entity with token lifespans and security policies.
  - Service: Lifecycle operations plus a short-TTL settings cache.
  - Resolver: HTTP middleware that turns /realms/{realmName}/... into a
    hydrated [*Realm] in the request context.
*/
package realm

import "time"

// # Domain Entities

// Realm represents an isolated tenant of the identity provider.
type Realm struct {
	ID          string `json:"id"`
	Name        string `json:"name"` // URL-safe slug, unique across the process
	DisplayName string `json:"display_name"`
	Enabled     bool   `json:"enabled"`

	// Token lifespans
	AccessTokenLifespan  time.Duration `json:"access_token_lifespan"`
	RefreshTokenLifespan time.Duration `json:"refresh_token_lifespan"`
	OfflineTokenLifespan time.Duration `json:"offline_token_lifespan"`
	SsoSessionLifespan   time.Duration `json:"sso_session_lifespan"`

	// Policies
	PasswordPolicy   PasswordPolicy   `json:"password_policy"`
	BruteForcePolicy BruteForcePolicy `json:"brute_force_policy"`

	// Login behavior
	MfaRequired              bool `json:"mfa_required"`
	RegistrationAllowed      bool `json:"registration_allowed"`
	RequireEmailVerification bool `json:"require_email_verification"`

	// Operational settings
	EventsExpiration time.Duration `json:"events_expiration"`
	SMTP             SMTPConfig    `json:"smtp"`
	LoginTheme       string        `json:"login_theme"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PasswordPolicy is the per-realm password complexity and rotation policy.
type PasswordPolicy struct {
	MinLength        int  `json:"min_length"`
	RequireUppercase bool `json:"require_uppercase"`
	RequireLowercase bool `json:"require_lowercase"`
	RequireDigits    bool `json:"require_digits"`
	RequireSpecial   bool `json:"require_special"`
	HistoryCount     int  `json:"history_count"`
	MaxAgeDays       int  `json:"max_age_days"`
}

// BruteForcePolicy is the per-realm login-failure lockout policy.
type BruteForcePolicy struct {
	Enabled               bool          `json:"enabled"`
	MaxLoginFailures      int           `json:"max_login_failures"`
	LockoutDuration       time.Duration `json:"lockout_duration"`
	FailureResetTime      time.Duration `json:"failure_reset_time"`
	PermanentLockoutAfter int           `json:"permanent_lockout_after"`
}

// SMTPConfig is passthrough configuration for the external mail collaborator.
// The core only emits send-email requests; delivery happens elsewhere.
type SMTPConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	From     string `json:"from"`
	Username string `json:"username"`
	Password string `json:"-"` // Never serialized
}

// # Defaults

// Defaults returns a realm pre-populated with production-sane settings.
// Create applies these before persisting unless the caller overrides them.
func Defaults() Realm {
	return Realm{
		Enabled:              true,
		AccessTokenLifespan:  5 * time.Minute,
		RefreshTokenLifespan: 30 * 24 * time.Hour,
		OfflineTokenLifespan: 60 * 24 * time.Hour,
		SsoSessionLifespan:   10 * time.Hour,
		PasswordPolicy: PasswordPolicy{
			MinLength:        8,
			RequireUppercase: true,
			RequireLowercase: true,
			RequireDigits:    true,
			RequireSpecial:   false,
			HistoryCount:     3,
			MaxAgeDays:       0, // never expires unless configured
		},
		BruteForcePolicy: BruteForcePolicy{
			Enabled:               true,
			MaxLoginFailures:      5,
			LockoutDuration:       15 * time.Minute,
			FailureResetTime:      12 * time.Hour,
			PermanentLockoutAfter: 0, // disabled unless configured
		},
		EventsExpiration: 30 * 24 * time.Hour,
	}
}

// # Field Identifiers

// Global field names for validation in the realm domain.
const (
	FieldName        = "name"
	FieldDisplayName = "display_name"
)
