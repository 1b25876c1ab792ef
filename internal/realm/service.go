// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package realm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/taibuivan/authme/internal/platform/apperr"
	"github.com/taibuivan/authme/internal/platform/clock"
	"github.com/taibuivan/authme/internal/platform/validate"
	"github.com/taibuivan/authme/pkg/slug"
	"github.com/taibuivan/authme/pkg/uuid"
)

// # Contracts & Types

// KeyProvisioner creates the first signing key for a freshly created realm.
// Implemented by the token domain; injected here to avoid a package cycle.
type KeyProvisioner interface {
	ProvisionInitialKey(context context.Context, realmID string) error
}

// ScopeSeeder creates the built-in client scopes (openid, profile, email,
// roles, offline_access) for a freshly created realm. Implemented by the
// client domain; injected here to avoid a package cycle.
type ScopeSeeder interface {
	SeedBuiltInScopes(context context.Context, realmID string) error
}

// settingsCacheTTL bounds how stale a resolved realm may be. Settings changes
// take effect within this window on other instances.
const settingsCacheTTL = 60 * time.Second

type cachedRealm struct {
	realm    *Realm
	cachedAt time.Time
}

// Service implements realm lifecycle use cases and the resolver cache.
//
// # Concurrency
//
// The settings cache is guarded by a RWMutex: resolution is read-heavy
// (every request under /realms/{name}), writes happen only on admin changes
// and cache misses.
type Service struct {
	repository     Repository
	keyProvisioner KeyProvisioner
	scopeSeeder    ScopeSeeder
	clock          clock.Clock

	cacheMu sync.RWMutex
	cache   map[string]cachedRealm
}

// NewService constructs a new realm [Service] with necessary dependencies.
func NewService(repository Repository, keyProvisioner KeyProvisioner, scopeSeeder ScopeSeeder, clk clock.Clock) *Service {
	return &Service{
		repository:     repository,
		keyProvisioner: keyProvisioner,
		scopeSeeder:    scopeSeeder,
		clock:          clk,
		cache:          make(map[string]cachedRealm),
	}
}

// # Lifecycle

// CreateInput holds the data required to provision a new tenant.
type CreateInput struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

/*
Create validates and persists a brand new realm with default settings.

Description: Provisions an isolated tenant. The realm starts enabled with
production-sane defaults and an initial RSA signing key.

Parameters:
  - context: context.Context
  - input: CreateInput

Returns:
  - *Realm: Created entity
  - error: Conflict (if slug exists), validation, or storage errors
*/
func (service *Service) Create(context context.Context, input CreateInput) (*Realm, error) {
	input.Name = strings.TrimSpace(input.Name)

	// Derive the URL name from the display name when the caller omits it
	// ("Acme Corp" becomes "acme-corp").
	if input.Name == "" {
		input.Name = slug.From(input.DisplayName)
	}

	validator := &validate.Validator{}
	err := validator.
		Required(FieldName, input.Name).
		Slug(FieldName, input.Name).
		MaxLen(FieldName, input.Name, 64).
		MaxLen(FieldDisplayName, input.DisplayName, 255).
		Err()
	if err != nil {
		return nil, err
	}

	// Verify slug uniqueness. Return a client-safe Conflict err.
	_, err = service.repository.FindByName(context, input.Name)
	if err == nil {
		return nil, apperr.Conflict("Realm name is already taken")
	}

	realm := Defaults()
	realm.ID = uuid.New()
	realm.Name = input.Name
	realm.DisplayName = input.DisplayName
	if realm.DisplayName == "" {
		realm.DisplayName = input.Name
	}

	if err := service.repository.Create(context, &realm); err != nil {
		return nil, fmt.Errorf("realm_service_create_failed: %w", err)
	}

	// A realm without a signing key cannot issue tokens. Provision eagerly.
	if err := service.keyProvisioner.ProvisionInitialKey(context, realm.ID); err != nil {
		return nil, fmt.Errorf("realm_service_key_provision_failed: %w", err)
	}

	// Seed the built-in protocol scopes so new clients can request openid
	// and mint ID tokens without admin intervention.
	if err := service.scopeSeeder.SeedBuiltInScopes(context, realm.ID); err != nil {
		return nil, fmt.Errorf("realm_service_scope_seed_failed: %w", err)
	}

	return &realm, nil
}

/*
GetByName resolves a realm by slug, serving from the settings cache when fresh.

Description: Hot path called by the HTTP resolver on every tenant-scoped
request. Cache entries older than 60 seconds are re-fetched.

Parameters:
  - context: context.Context
  - name: string

Returns:
  - *Realm: Hydrated tenant entity
  - error: apperr.NotFound or storage errors
*/
func (service *Service) GetByName(context context.Context, name string) (*Realm, error) {
	now := service.clock.Now()

	service.cacheMu.RLock()
	entry, found := service.cache[name]
	service.cacheMu.RUnlock()

	if found && now.Sub(entry.cachedAt) < settingsCacheTTL {
		return entry.realm, nil
	}

	realm, err := service.repository.FindByName(context, name)
	if err != nil {
		return nil, err
	}

	service.cacheMu.Lock()
	service.cache[name] = cachedRealm{realm: realm, cachedAt: now}
	service.cacheMu.Unlock()

	return realm, nil
}

/*
GetByID resolves a realm by its primary key, bypassing the cache.

Parameters:
  - context: context.Context
  - id: string

Returns:
  - *Realm: Hydrated tenant entity
  - error: apperr.NotFound or storage errors
*/
func (service *Service) GetByID(context context.Context, id string) (*Realm, error) {
	return service.repository.FindByID(context, id)
}

/*
List returns all realms.

Parameters:
  - context: context.Context

Returns:
  - []*Realm: All tenant entities
  - error: Storage errors
*/
func (service *Service) List(context context.Context) ([]*Realm, error) {
	return service.repository.List(context)
}

// UpdateInput holds the mutable realm settings. Pointer fields distinguish
// "not provided" from zero values.
type UpdateInput struct {
	DisplayName              *string           `json:"display_name"`
	Enabled                  *bool             `json:"enabled"`
	AccessTokenLifespan      *int64            `json:"access_token_lifespan"` // seconds
	RefreshTokenLifespan     *int64            `json:"refresh_token_lifespan"`
	OfflineTokenLifespan     *int64            `json:"offline_token_lifespan"`
	SsoSessionLifespan       *int64            `json:"sso_session_lifespan"`
	PasswordPolicy           *PasswordPolicy   `json:"password_policy"`
	BruteForcePolicy         *BruteForcePolicy `json:"brute_force_policy"`
	MfaRequired              *bool             `json:"mfa_required"`
	RegistrationAllowed      *bool             `json:"registration_allowed"`
	RequireEmailVerification *bool             `json:"require_email_verification"`
	LoginTheme               *string           `json:"login_theme"`
	SMTP                     *SMTPConfig       `json:"smtp"`
}

/*
Update applies a partial settings change to an existing realm.

Description: Only provided fields change. The slug is immutable. The settings
cache entry is invalidated so the change takes effect immediately on this
instance.

Parameters:
  - context: context.Context
  - id: string
  - input: UpdateInput

Returns:
  - *Realm: Updated entity
  - error: Not found, validation, or storage errors
*/
func (service *Service) Update(context context.Context, id string, input UpdateInput) (*Realm, error) {
	realm, err := service.repository.FindByID(context, id)
	if err != nil {
		return nil, err
	}

	if input.DisplayName != nil {
		realm.DisplayName = *input.DisplayName
	}
	if input.Enabled != nil {
		realm.Enabled = *input.Enabled
	}
	if input.AccessTokenLifespan != nil {
		realm.AccessTokenLifespan = time.Duration(*input.AccessTokenLifespan) * time.Second
	}
	if input.RefreshTokenLifespan != nil {
		realm.RefreshTokenLifespan = time.Duration(*input.RefreshTokenLifespan) * time.Second
	}
	if input.OfflineTokenLifespan != nil {
		realm.OfflineTokenLifespan = time.Duration(*input.OfflineTokenLifespan) * time.Second
	}
	if input.SsoSessionLifespan != nil {
		realm.SsoSessionLifespan = time.Duration(*input.SsoSessionLifespan) * time.Second
	}
	if input.PasswordPolicy != nil {
		realm.PasswordPolicy = *input.PasswordPolicy
	}
	if input.BruteForcePolicy != nil {
		realm.BruteForcePolicy = *input.BruteForcePolicy
	}
	if input.MfaRequired != nil {
		realm.MfaRequired = *input.MfaRequired
	}
	if input.RegistrationAllowed != nil {
		realm.RegistrationAllowed = *input.RegistrationAllowed
	}
	if input.RequireEmailVerification != nil {
		realm.RequireEmailVerification = *input.RequireEmailVerification
	}
	if input.LoginTheme != nil {
		realm.LoginTheme = *input.LoginTheme
	}
	if input.SMTP != nil {
		realm.SMTP = *input.SMTP
	}

	validator := &validate.Validator{}
	err = validator.
		MaxLen(FieldDisplayName, realm.DisplayName, 255).
		Custom("access_token_lifespan", realm.AccessTokenLifespan <= 0, "Must be positive").
		Custom("refresh_token_lifespan", realm.RefreshTokenLifespan <= 0, "Must be positive").
		Custom("password_policy.min_length", realm.PasswordPolicy.MinLength < 1, "Must be at least 1").
		Err()
	if err != nil {
		return nil, err
	}

	if err := service.repository.Update(context, realm); err != nil {
		return nil, err
	}

	service.invalidate(realm.Name)
	return realm, nil
}

/*
Delete permanently removes a realm and everything it owns.

Parameters:
  - context: context.Context
  - id: string

Returns:
  - error: Not found or storage errors
*/
func (service *Service) Delete(context context.Context, id string) error {
	realm, err := service.repository.FindByID(context, id)
	if err != nil {
		return err
	}

	if err := service.repository.Delete(context, id); err != nil {
		return err
	}

	service.invalidate(realm.Name)
	return nil
}

// invalidate drops a realm's cache entry after a settings change.
func (service *Service) invalidate(name string) {
	service.cacheMu.Lock()
	delete(service.cache, name)
	service.cacheMu.Unlock()
}
