// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package client

import (
	"context"
	"fmt"
	"strings"

	"github.com/taibuivan/authme/internal/platform/apperr"
	"github.com/taibuivan/authme/internal/platform/constants"
	"github.com/taibuivan/authme/internal/platform/sec"
	"github.com/taibuivan/authme/internal/platform/validate"
	"github.com/taibuivan/authme/pkg/uuid"
)

// # Contracts & Types

// ServiceAccountProvisioner creates the backing user for a client that is
// granted client_credentials. Implemented by the user domain.
type ServiceAccountProvisioner interface {
	ProvisionServiceAccount(context context.Context, realmID, clientID string) (userID string, err error)
}

// Service implements OAuth client lifecycle and authentication use cases.
type Service struct {
	clients         Repository
	scopes          ScopeRepository
	serviceAccounts ServiceAccountProvisioner
}

// NewService constructs a new client [Service] with necessary dependencies.
func NewService(clients Repository, scopes ScopeRepository, serviceAccounts ServiceAccountProvisioner) *Service {
	return &Service{clients: clients, scopes: scopes, serviceAccounts: serviceAccounts}
}

// # Client Lifecycle

// CreateInput holds the data required to register a new client.
type CreateInput struct {
	ClientID                         string   `json:"client_id"`
	Name                             string   `json:"name"`
	Type                             Type     `json:"type"`
	RedirectURIs                     []string `json:"redirect_uris"`
	WebOrigins                       []string `json:"web_origins"`
	GrantTypes                       []string `json:"grant_types"`
	RequireConsent                   bool     `json:"require_consent"`
	BackchannelLogoutURI             string   `json:"backchannel_logout_uri"`
	BackchannelLogoutSessionRequired bool     `json:"backchannel_logout_session_required"`
}

// CreateResult carries the created client and, for confidential clients,
// the plaintext secret. The secret is never retrievable again.
type CreateResult struct {
	Client *Client `json:"client"`
	Secret string  `json:"secret,omitempty"`
}

/*
Create validates and registers a new OAuth client in a realm.

Description: Confidential clients receive a generated secret (returned in
plaintext exactly once). A client granted client_credentials gets a
service-account user provisioned and linked.

Parameters:
  - context: context.Context
  - realmID: string
  - input: CreateInput

Returns:
  - *CreateResult: Created client plus one-time secret
  - error: Conflict (if client_id exists), validation, or storage errors
*/
func (service *Service) Create(context context.Context, realmID string, input CreateInput) (*CreateResult, error) {
	input.ClientID = strings.TrimSpace(input.ClientID)

	if err := validateClientInput(&input); err != nil {
		return nil, err
	}

	// Verify client_id uniqueness within the realm.
	if _, err := service.clients.FindByClientID(context, realmID, input.ClientID); err == nil {
		return nil, apperr.Conflict("Client ID is already registered")
	}

	registered := &Client{
		ID:                               uuid.New(),
		RealmID:                          realmID,
		ClientID:                         input.ClientID,
		Name:                             input.Name,
		Type:                             input.Type,
		RedirectURIs:                     input.RedirectURIs,
		WebOrigins:                       input.WebOrigins,
		GrantTypes:                       input.GrantTypes,
		RequireConsent:                   input.RequireConsent,
		BackchannelLogoutURI:             input.BackchannelLogoutURI,
		BackchannelLogoutSessionRequired: input.BackchannelLogoutSessionRequired,
		Enabled:                          true,
	}
	if registered.Name == "" {
		registered.Name = input.ClientID
	}
	if len(registered.GrantTypes) == 0 {
		registered.GrantTypes = []string{GrantAuthorizationCode, GrantRefreshToken}
	}

	var plaintextSecret string
	if registered.Type == TypeConfidential {
		secret, err := sec.GenerateSecureToken(constants.TokenLength)
		if err != nil {
			return nil, fmt.Errorf("client_service_secret_failed: %w", err)
		}
		plaintextSecret = secret
		registered.SecretHash = sec.HashToken(secret)
	}

	if registered.HasGrant(GrantClientCredentials) {
		serviceAccountID, err := service.serviceAccounts.ProvisionServiceAccount(context, realmID, registered.ClientID)
		if err != nil {
			return nil, fmt.Errorf("client_service_service_account_failed: %w", err)
		}
		registered.ServiceAccountUserID = serviceAccountID
	}

	if err := service.clients.Create(context, registered); err != nil {
		return nil, fmt.Errorf("client_service_create_failed: %w", err)
	}

	// New clients start with the realm's built-in scopes assigned:
	// offline_access stays opt-in, the rest are defaults.
	scopes, err := service.scopes.List(context, realmID)
	if err != nil {
		return nil, fmt.Errorf("client_service_scope_list_failed: %w", err)
	}
	for _, scope := range scopes {
		if !scope.BuiltIn {
			continue
		}
		assignment := &Assignment{
			ClientID:     registered.ID,
			ScopeID:      scope.ID,
			DefaultScope: scope.Name != "offline_access",
		}
		if err := service.scopes.Assign(context, assignment); err != nil {
			return nil, fmt.Errorf("client_service_scope_assign_failed: %w", err)
		}
	}

	return &CreateResult{Client: registered, Secret: plaintextSecret}, nil
}

func validateClientInput(input *CreateInput) error {
	validator := &validate.Validator{}
	validator.Required(FieldClientID, input.ClientID).
		MaxLen(FieldClientID, input.ClientID, 255).
		OneOf(FieldType, string(input.Type), string(TypeConfidential), string(TypePublic))

	for _, uri := range input.RedirectURIs {
		validator.AbsoluteURL(FieldRedirectURIs, uri)
	}
	if input.BackchannelLogoutURI != "" {
		validator.AbsoluteURL("backchannel_logout_uri", input.BackchannelLogoutURI)
	}
	for _, grant := range input.GrantTypes {
		validator.OneOf(FieldGrantTypes, grant,
			GrantAuthorizationCode, GrantRefreshToken, GrantClientCredentials, GrantPassword, GrantDeviceCode)
	}

	// Public clients cannot hold a secret, so client_credentials is
	// confidential-only.
	validator.Custom(FieldGrantTypes,
		input.Type == TypePublic && containsGrant(input.GrantTypes, GrantClientCredentials),
		"Public clients cannot use client_credentials")

	return validator.Err()
}

func containsGrant(grants []string, grant string) bool {
	for _, g := range grants {
		if g == grant {
			return true
		}
	}
	return false
}

/*
Get returns a client by internal ID.

Parameters:
  - context: context.Context
  - realmID: string
  - id: string

Returns:
  - *Client: Hydrated entity
  - error: Not found or storage errors
*/
func (service *Service) Get(context context.Context, realmID, id string) (*Client, error) {
	return service.clients.FindByID(context, realmID, id)
}

/*
GetByClientID returns a client by OAuth client_id.

Parameters:
  - context: context.Context
  - realmID: string
  - clientID: string

Returns:
  - *Client: Hydrated entity
  - error: Not found or storage errors
*/
func (service *Service) GetByClientID(context context.Context, realmID, clientID string) (*Client, error) {
	return service.clients.FindByClientID(context, realmID, clientID)
}

/*
List returns all clients in a realm.

Parameters:
  - context: context.Context
  - realmID: string

Returns:
  - []*Client: Clients
  - error: Storage errors
*/
func (service *Service) List(context context.Context, realmID string) ([]*Client, error) {
	return service.clients.List(context, realmID)
}

// UpdateInput holds mutable client fields.
type UpdateInput struct {
	Name                             *string   `json:"name"`
	RedirectURIs                     *[]string `json:"redirect_uris"`
	WebOrigins                       *[]string `json:"web_origins"`
	GrantTypes                       *[]string `json:"grant_types"`
	RequireConsent                   *bool     `json:"require_consent"`
	BackchannelLogoutURI             *string   `json:"backchannel_logout_uri"`
	BackchannelLogoutSessionRequired *bool     `json:"backchannel_logout_session_required"`
	Enabled                          *bool     `json:"enabled"`
}

/*
Update applies a partial change to a registered client.

Parameters:
  - context: context.Context
  - realmID: string
  - id: string
  - input: UpdateInput

Returns:
  - *Client: Updated entity
  - error: Not found, validation, or storage errors
*/
func (service *Service) Update(context context.Context, realmID, id string, input UpdateInput) (*Client, error) {
	registered, err := service.clients.FindByID(context, realmID, id)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		registered.Name = *input.Name
	}
	if input.RedirectURIs != nil {
		registered.RedirectURIs = *input.RedirectURIs
	}
	if input.WebOrigins != nil {
		registered.WebOrigins = *input.WebOrigins
	}
	if input.GrantTypes != nil {
		registered.GrantTypes = *input.GrantTypes
	}
	if input.RequireConsent != nil {
		registered.RequireConsent = *input.RequireConsent
	}
	if input.BackchannelLogoutURI != nil {
		registered.BackchannelLogoutURI = *input.BackchannelLogoutURI
	}
	if input.BackchannelLogoutSessionRequired != nil {
		registered.BackchannelLogoutSessionRequired = *input.BackchannelLogoutSessionRequired
	}
	if input.Enabled != nil {
		registered.Enabled = *input.Enabled
	}

	validator := &validate.Validator{}
	for _, uri := range registered.RedirectURIs {
		validator.AbsoluteURL(FieldRedirectURIs, uri)
	}
	if registered.BackchannelLogoutURI != "" {
		validator.AbsoluteURL("backchannel_logout_uri", registered.BackchannelLogoutURI)
	}
	if err := validator.Err(); err != nil {
		return nil, err
	}

	// Granting client_credentials later provisions the service account then.
	if registered.HasGrant(GrantClientCredentials) && registered.ServiceAccountUserID == "" {
		serviceAccountID, err := service.serviceAccounts.ProvisionServiceAccount(context, realmID, registered.ClientID)
		if err != nil {
			return nil, fmt.Errorf("client_service_service_account_failed: %w", err)
		}
		registered.ServiceAccountUserID = serviceAccountID
	}

	if err := service.clients.Update(context, registered); err != nil {
		return nil, err
	}

	return registered, nil
}

/*
Delete permanently removes a client.

Parameters:
  - context: context.Context
  - realmID: string
  - id: string

Returns:
  - error: Not found or storage errors
*/
func (service *Service) Delete(context context.Context, realmID, id string) error {
	return service.clients.Delete(context, realmID, id)
}

// # Secret Management

/*
RotateSecret generates a fresh secret for a confidential client.

Description: The plaintext is returned exactly once; only its SHA-256
digest is stored. Tokens already issued remain valid.

Parameters:
  - context: context.Context
  - realmID: string
  - id: string

Returns:
  - string: The new plaintext secret
  - error: Not found, validation (public client), or storage errors
*/
func (service *Service) RotateSecret(context context.Context, realmID, id string) (string, error) {
	registered, err := service.clients.FindByID(context, realmID, id)
	if err != nil {
		return "", err
	}
	if registered.Type != TypeConfidential {
		return "", apperr.ValidationError("Public clients have no secret")
	}

	secret, err := sec.GenerateSecureToken(constants.TokenLength)
	if err != nil {
		return "", fmt.Errorf("client_service_secret_failed: %w", err)
	}

	if err := service.clients.UpdateSecretHash(context, registered.ID, sec.HashToken(secret)); err != nil {
		return "", err
	}

	return secret, nil
}

// # Client Authentication

/*
Authenticate verifies client credentials at a protocol endpoint.

Description: Confidential clients must present their secret (basic or post
style, already extracted by the caller). Public clients authenticate by
identifier alone and must not present a secret.

Parameters:
  - context: context.Context
  - realmID: string
  - clientID: string
  - secret: string (empty for public clients)

Returns:
  - *Client: The authenticated client
  - error: apperr.Unauthorized on any mismatch, storage failures otherwise
*/
func (service *Service) Authenticate(context context.Context, realmID, clientID, secret string) (*Client, error) {
	registered, err := service.clients.FindByClientID(context, realmID, clientID)
	if err != nil {
		if apperr.HasCode(err, "NOT_FOUND") {
			return nil, apperr.Unauthorized("Client authentication failed")
		}
		return nil, err
	}

	if !registered.Enabled {
		return nil, apperr.Unauthorized("Client authentication failed")
	}

	switch registered.Type {
	case TypeConfidential:
		if secret == "" || !sec.ConstantTimeEquals(sec.HashToken(secret), registered.SecretHash) {
			return nil, apperr.Unauthorized("Client authentication failed")
		}
	case TypePublic:
		if secret != "" {
			return nil, apperr.Unauthorized("Client authentication failed")
		}
	default:
		return nil, apperr.Unauthorized("Client authentication failed")
	}

	return registered, nil
}

// # Scope Resolution

// ResolvedScopes is the outcome of scope resolution for a token request.
type ResolvedScopes struct {
	// Names are the effective scope names, defaults first.
	Names []string
	// Scopes are the backing scope entities carrying protocol mappers.
	Scopes []*Scope
}

// String renders the effective scopes as a space-separated list.
func (resolved *ResolvedScopes) String() string {
	return strings.Join(resolved.Names, " ")
}

/*
ResolveScopes computes the effective scope set for a request.

Description: Starts with the client's default scopes and adds requested
scopes that appear in the client's optional set. Unknown or unassigned
requested scopes are silently dropped.

Parameters:
  - context: context.Context
  - registered: *Client
  - requested: string (the raw space-separated scope parameter)

Returns:
  - *ResolvedScopes: Effective names plus mapper-bearing scope entities
  - error: Storage failures
*/
func (service *Service) ResolveScopes(context context.Context, registered *Client, requested string) (*ResolvedScopes, error) {
	defaults, optionals, err := service.scopes.ListAssigned(context, registered.ID)
	if err != nil {
		return nil, err
	}

	resolved := &ResolvedScopes{}
	seen := make(map[string]bool)

	for _, scope := range defaults {
		resolved.Names = append(resolved.Names, scope.Name)
		resolved.Scopes = append(resolved.Scopes, scope)
		seen[scope.Name] = true
	}

	optionalByName := make(map[string]*Scope, len(optionals))
	for _, scope := range optionals {
		optionalByName[scope.Name] = scope
	}

	for _, name := range strings.Fields(requested) {
		if seen[name] {
			continue
		}
		if scope, ok := optionalByName[name]; ok {
			resolved.Names = append(resolved.Names, scope.Name)
			resolved.Scopes = append(resolved.Scopes, scope)
			seen[name] = true
		}
		// Unknown scopes are dropped, not rejected.
	}

	return resolved, nil
}

// # Scope Lifecycle

// ScopeInput holds the data for creating or updating a client scope.
type ScopeInput struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Mappers     []ProtocolMapper `json:"mappers"`
}

/*
CreateScope validates and persists a new client scope.

Parameters:
  - context: context.Context
  - realmID: string
  - input: ScopeInput

Returns:
  - *Scope: Created entity
  - error: Validation or storage errors
*/
func (service *Service) CreateScope(context context.Context, realmID string, input ScopeInput) (*Scope, error) {
	validator := &validate.Validator{}
	if err := validator.Required(FieldScopeName, input.Name).MaxLen(FieldScopeName, input.Name, 255).Err(); err != nil {
		return nil, err
	}

	for i := range input.Mappers {
		if input.Mappers[i].ID == "" {
			input.Mappers[i].ID = uuid.New()
		}
	}

	scope := &Scope{
		ID:          uuid.New(),
		RealmID:     realmID,
		Name:        input.Name,
		Description: input.Description,
		Mappers:     input.Mappers,
	}

	if err := service.scopes.Create(context, scope); err != nil {
		return nil, fmt.Errorf("client_service_create_scope_failed: %w", err)
	}

	return scope, nil
}

/*
UpdateScope replaces a scope's mutable fields. Built-in scopes are read-only.

Parameters:
  - context: context.Context
  - realmID: string
  - id: string
  - input: ScopeInput

Returns:
  - *Scope: Updated entity
  - error: Not found, forbidden (built-in), validation, or storage errors
*/
func (service *Service) UpdateScope(context context.Context, realmID, id string, input ScopeInput) (*Scope, error) {
	scope, err := service.scopes.FindByID(context, realmID, id)
	if err != nil {
		return nil, err
	}
	if scope.BuiltIn {
		return nil, apperr.Forbidden("Built-in scopes cannot be modified")
	}

	if input.Name != "" {
		scope.Name = input.Name
	}
	scope.Description = input.Description
	for i := range input.Mappers {
		if input.Mappers[i].ID == "" {
			input.Mappers[i].ID = uuid.New()
		}
	}
	scope.Mappers = input.Mappers

	if err := service.scopes.Update(context, scope); err != nil {
		return nil, err
	}

	return scope, nil
}

/*
DeleteScope removes a scope. Built-in scopes are protected.

Parameters:
  - context: context.Context
  - realmID: string
  - id: string

Returns:
  - error: Not found, forbidden (built-in), or storage errors
*/
func (service *Service) DeleteScope(context context.Context, realmID, id string) error {
	scope, err := service.scopes.FindByID(context, realmID, id)
	if err != nil {
		return err
	}
	if scope.BuiltIn {
		return apperr.Forbidden("Built-in scopes cannot be deleted")
	}

	return service.scopes.Delete(context, realmID, id)
}

/*
ListScopes returns all scopes in a realm.

Parameters:
  - context: context.Context
  - realmID: string

Returns:
  - []*Scope: Scopes
  - error: Storage errors
*/
func (service *Service) ListScopes(context context.Context, realmID string) ([]*Scope, error) {
	return service.scopes.List(context, realmID)
}

/*
AssignScope binds a scope to a client as default or optional.

Parameters:
  - context: context.Context
  - realmID: string
  - clientID: string (internal row id)
  - scopeID: string
  - defaultScope: bool

Returns:
  - error: Not found or storage errors
*/
func (service *Service) AssignScope(context context.Context, realmID, clientID, scopeID string, defaultScope bool) error {
	if _, err := service.clients.FindByID(context, realmID, clientID); err != nil {
		return err
	}
	if _, err := service.scopes.FindByID(context, realmID, scopeID); err != nil {
		return err
	}

	return service.scopes.Assign(context, &Assignment{
		ClientID:     clientID,
		ScopeID:      scopeID,
		DefaultScope: defaultScope,
	})
}

/*
UnassignScope removes a scope assignment.

Parameters:
  - context: context.Context
  - clientID: string
  - scopeID: string

Returns:
  - error: Storage errors
*/
func (service *Service) UnassignScope(context context.Context, clientID, scopeID string) error {
	return service.scopes.Unassign(context, clientID, scopeID)
}

// # Built-in Scopes

// builtInScopeDefinitions returns the protocol scopes every realm starts
// with. IDs are assigned at seeding time.
func builtInScopeDefinitions() []Scope {
	return []Scope{
		{
			Name:        "openid",
			Description: "OpenID Connect sign-in",
			BuiltIn:     true,
		},
		{
			Name:        "profile",
			Description: "User profile claims",
			BuiltIn:     true,
			Mappers: []ProtocolMapper{
				{Name: "username", Type: MapperUserProperty,
					Config: map[string]string{"property": "username", "claim": "preferred_username"}},
				{Name: "given name", Type: MapperUserProperty,
					Config: map[string]string{"property": "firstName", "claim": "given_name"}},
				{Name: "family name", Type: MapperUserProperty,
					Config: map[string]string{"property": "lastName", "claim": "family_name"}},
			},
		},
		{
			Name:        "email",
			Description: "Email address",
			BuiltIn:     true,
			Mappers: []ProtocolMapper{
				{Name: "email", Type: MapperUserProperty,
					Config: map[string]string{"property": "email", "claim": "email"}},
			},
		},
		{
			Name:        "roles",
			Description: "Realm and client role claims",
			BuiltIn:     true,
			Mappers: []ProtocolMapper{
				{Name: "realm roles", Type: MapperRealmRoles},
				{Name: "client roles", Type: MapperClientRoles},
			},
		},
		{
			Name:        "offline_access",
			Description: "Long-lived offline refresh tokens",
			BuiltIn:     true,
		},
	}
}

/*
SeedBuiltInScopes provisions the standard protocol scopes for a freshly
created realm: openid, profile, email, roles, and offline_access, each with
its canonical mappers. Implements the realm domain's seeder contract; new
clients pick these up as their starting scope assignments.

Parameters:
  - context: context.Context
  - realmID: string

Returns:
  - error: Storage errors
*/
func (service *Service) SeedBuiltInScopes(context context.Context, realmID string) error {
	for _, definition := range builtInScopeDefinitions() {
		scope := definition
		scope.ID = uuid.New()
		scope.RealmID = realmID
		for i := range scope.Mappers {
			scope.Mappers[i].ID = uuid.New()
		}

		if err := service.scopes.Create(context, &scope); err != nil {
			return fmt.Errorf("client_service_seed_scopes_failed: %w", err)
		}
	}
	return nil
}
