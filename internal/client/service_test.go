// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package client_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/authme/internal/client"
	"github.com/taibuivan/authme/internal/platform/apperr"
)

// # Test Doubles

type fakeClientRepo struct {
	byClientID map[string]*client.Client
	byID       map[string]*client.Client
}

func newFakeClientRepo() *fakeClientRepo {
	return &fakeClientRepo{
		byClientID: make(map[string]*client.Client),
		byID:       make(map[string]*client.Client),
	}
}

func (f *fakeClientRepo) Create(_ context.Context, c *client.Client) error {
	copied := *c
	f.byClientID[c.RealmID+"/"+c.ClientID] = &copied
	f.byID[c.ID] = &copied
	return nil
}

func (f *fakeClientRepo) FindByID(_ context.Context, realmID, id string) (*client.Client, error) {
	if c, ok := f.byID[id]; ok && c.RealmID == realmID {
		copied := *c
		return &copied, nil
	}
	return nil, apperr.NotFound("Client not found")
}

func (f *fakeClientRepo) FindByClientID(_ context.Context, realmID, clientID string) (*client.Client, error) {
	if c, ok := f.byClientID[realmID+"/"+clientID]; ok {
		copied := *c
		return &copied, nil
	}
	return nil, apperr.NotFound("Client not found")
}

func (f *fakeClientRepo) List(_ context.Context, realmID string) ([]*client.Client, error) {
	var all []*client.Client
	for _, c := range f.byID {
		if c.RealmID == realmID {
			all = append(all, c)
		}
	}
	return all, nil
}

func (f *fakeClientRepo) ListWithBackchannel(_ context.Context, realmID string) ([]*client.Client, error) {
	var all []*client.Client
	for _, c := range f.byID {
		if c.RealmID == realmID && c.Enabled && c.BackchannelLogoutURI != "" {
			all = append(all, c)
		}
	}
	return all, nil
}

func (f *fakeClientRepo) Update(_ context.Context, c *client.Client) error {
	copied := *c
	f.byClientID[c.RealmID+"/"+c.ClientID] = &copied
	f.byID[c.ID] = &copied
	return nil
}

func (f *fakeClientRepo) UpdateSecretHash(_ context.Context, id, secretHash string) error {
	if c, ok := f.byID[id]; ok {
		c.SecretHash = secretHash
		return nil
	}
	return apperr.NotFound("Client not found")
}

func (f *fakeClientRepo) Delete(_ context.Context, realmID, id string) error {
	c, ok := f.byID[id]
	if !ok || c.RealmID != realmID {
		return apperr.NotFound("Client not found")
	}
	delete(f.byClientID, c.RealmID+"/"+c.ClientID)
	delete(f.byID, id)
	return nil
}

type fakeScopeRepo struct {
	scopes      map[string]*client.Scope
	assignments []*client.Assignment
}

func newFakeScopeRepo() *fakeScopeRepo {
	return &fakeScopeRepo{scopes: make(map[string]*client.Scope)}
}

func (f *fakeScopeRepo) Create(_ context.Context, s *client.Scope) error {
	copied := *s
	f.scopes[s.ID] = &copied
	return nil
}

func (f *fakeScopeRepo) FindByID(_ context.Context, realmID, id string) (*client.Scope, error) {
	if s, ok := f.scopes[id]; ok && s.RealmID == realmID {
		copied := *s
		return &copied, nil
	}
	return nil, apperr.NotFound("Client scope not found")
}

func (f *fakeScopeRepo) List(_ context.Context, realmID string) ([]*client.Scope, error) {
	var all []*client.Scope
	for _, s := range f.scopes {
		if s.RealmID == realmID {
			all = append(all, s)
		}
	}
	return all, nil
}

func (f *fakeScopeRepo) Update(_ context.Context, s *client.Scope) error {
	copied := *s
	f.scopes[s.ID] = &copied
	return nil
}

func (f *fakeScopeRepo) Delete(_ context.Context, realmID, id string) error {
	delete(f.scopes, id)
	return nil
}

func (f *fakeScopeRepo) Assign(_ context.Context, a *client.Assignment) error {
	for _, existing := range f.assignments {
		if existing.ClientID == a.ClientID && existing.ScopeID == a.ScopeID {
			existing.DefaultScope = a.DefaultScope
			return nil
		}
	}
	copied := *a
	f.assignments = append(f.assignments, &copied)
	return nil
}

func (f *fakeScopeRepo) Unassign(_ context.Context, clientID, scopeID string) error {
	kept := f.assignments[:0]
	for _, a := range f.assignments {
		if !(a.ClientID == clientID && a.ScopeID == scopeID) {
			kept = append(kept, a)
		}
	}
	f.assignments = kept
	return nil
}

func (f *fakeScopeRepo) ListAssigned(_ context.Context, clientID string) ([]*client.Scope, []*client.Scope, error) {
	var defaults, optionals []*client.Scope
	for _, a := range f.assignments {
		if a.ClientID != clientID {
			continue
		}
		scope := f.scopes[a.ScopeID]
		if a.DefaultScope {
			defaults = append(defaults, scope)
		} else {
			optionals = append(optionals, scope)
		}
	}
	return defaults, optionals, nil
}

type fakeServiceAccounts struct {
	provisioned map[string]string
}

func (f *fakeServiceAccounts) ProvisionServiceAccount(_ context.Context, realmID, clientID string) (string, error) {
	if f.provisioned == nil {
		f.provisioned = make(map[string]string)
	}
	id := "svc-" + clientID
	f.provisioned[realmID+"/"+clientID] = id
	return id, nil
}

func newClientService() (*client.Service, *fakeScopeRepo, *fakeServiceAccounts) {
	scopes := newFakeScopeRepo()
	accounts := &fakeServiceAccounts{}
	return client.NewService(newFakeClientRepo(), scopes, accounts), scopes, accounts
}

// # Lifecycle

/*
TestService_Create_Confidential returns the secret exactly once and stores
only its digest.
*/
func TestService_Create_Confidential(t *testing.T) {
	service, _, _ := newClientService()

	result, err := service.Create(context.Background(), "realm-1", client.CreateInput{
		ClientID:     "web",
		Type:         client.TypeConfidential,
		RedirectURIs: []string{"https://web.example/cb"},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, result.Secret)
	assert.NotEqual(t, result.Secret, result.Client.SecretHash)
	assert.True(t, result.Client.Enabled)

	// The secret authenticates; a wrong one does not
	_, err = service.Authenticate(context.Background(), "realm-1", "web", result.Secret)
	assert.NoError(t, err)
	_, err = service.Authenticate(context.Background(), "realm-1", "web", "wrong")
	assert.True(t, apperr.HasCode(err, "UNAUTHORIZED"))
}

/*
TestService_Create_Public verifies no secret is issued and secret-based
authentication is rejected.
*/
func TestService_Create_Public(t *testing.T) {
	service, _, _ := newClientService()

	result, err := service.Create(context.Background(), "realm-1", client.CreateInput{
		ClientID:     "spa",
		Type:         client.TypePublic,
		RedirectURIs: []string{"https://spa.example/cb"},
	})
	require.NoError(t, err)
	assert.Empty(t, result.Secret)

	// Identifier-only authentication succeeds
	_, err = service.Authenticate(context.Background(), "realm-1", "spa", "")
	assert.NoError(t, err)

	// Presenting a secret as a public client is a mismatch
	_, err = service.Authenticate(context.Background(), "realm-1", "spa", "anything")
	assert.True(t, apperr.HasCode(err, "UNAUTHORIZED"))
}

/*
TestService_Create_ServiceAccount provisions the backing user for
client_credentials clients.
*/
func TestService_Create_ServiceAccount(t *testing.T) {
	service, _, accounts := newClientService()

	result, err := service.Create(context.Background(), "realm-1", client.CreateInput{
		ClientID:   "batch",
		Type:       client.TypeConfidential,
		GrantTypes: []string{client.GrantClientCredentials},
	})
	require.NoError(t, err)

	assert.Equal(t, "svc-batch", result.Client.ServiceAccountUserID)
	assert.Contains(t, accounts.provisioned, "realm-1/batch")
}

/*
TestService_Create_RejectsPublicClientCredentials enforces the
confidential-only rule for client_credentials.
*/
func TestService_Create_RejectsPublicClientCredentials(t *testing.T) {
	service, _, _ := newClientService()

	_, err := service.Create(context.Background(), "realm-1", client.CreateInput{
		ClientID:   "bad",
		Type:       client.TypePublic,
		GrantTypes: []string{client.GrantClientCredentials},
	})
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, "VALIDATION_ERROR"))
}

/*
TestService_RotateSecret invalidates the old secret.
*/
func TestService_RotateSecret(t *testing.T) {
	service, _, _ := newClientService()

	result, err := service.Create(context.Background(), "realm-1", client.CreateInput{
		ClientID: "web",
		Type:     client.TypeConfidential,
	})
	require.NoError(t, err)
	oldSecret := result.Secret

	newSecret, err := service.RotateSecret(context.Background(), "realm-1", result.Client.ID)
	require.NoError(t, err)
	assert.NotEqual(t, oldSecret, newSecret)

	_, err = service.Authenticate(context.Background(), "realm-1", "web", oldSecret)
	assert.Error(t, err)
	_, err = service.Authenticate(context.Background(), "realm-1", "web", newSecret)
	assert.NoError(t, err)
}

// # Scope Resolution

/*
TestService_ResolveScopes verifies defaults always apply, optional scopes
apply only when requested, and unknown scopes are dropped.
*/
func TestService_ResolveScopes(t *testing.T) {
	service, _, _ := newClientService()
	ctx := context.Background()

	result, err := service.Create(ctx, "realm-1", client.CreateInput{
		ClientID: "web",
		Type:     client.TypeConfidential,
	})
	require.NoError(t, err)
	registered := result.Client

	openid, err := service.CreateScope(ctx, "realm-1", client.ScopeInput{Name: "openid"})
	require.NoError(t, err)
	profile, err := service.CreateScope(ctx, "realm-1", client.ScopeInput{Name: "profile"})
	require.NoError(t, err)
	offline, err := service.CreateScope(ctx, "realm-1", client.ScopeInput{Name: "offline_access"})
	require.NoError(t, err)

	require.NoError(t, service.AssignScope(ctx, "realm-1", registered.ID, openid.ID, true))
	require.NoError(t, service.AssignScope(ctx, "realm-1", registered.ID, profile.ID, false))
	require.NoError(t, service.AssignScope(ctx, "realm-1", registered.ID, offline.ID, false))

	tests := []struct {
		name      string
		requested string
		expected  []string
	}{
		{"defaults_only", "", []string{"openid"}},
		{"optional_requested", "profile", []string{"openid", "profile"}},
		{"unknown_dropped", "profile unknown-scope", []string{"openid", "profile"}},
		{"default_re_requested", "openid profile", []string{"openid", "profile"}},
		{"offline", "offline_access", []string{"openid", "offline_access"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolved, err := service.ResolveScopes(ctx, registered, tt.requested)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, resolved.Names)
		})
	}
}

/*
TestService_BuiltInScope_Protected verifies built-in scopes reject writes.
*/
func TestService_BuiltInScope_Protected(t *testing.T) {
	service, scopes, _ := newClientService()
	ctx := context.Background()

	builtIn := &client.Scope{ID: "scope-openid", RealmID: "realm-1", Name: "openid", BuiltIn: true}
	require.NoError(t, scopes.Create(ctx, builtIn))

	_, err := service.UpdateScope(ctx, "realm-1", "scope-openid", client.ScopeInput{Name: "renamed"})
	assert.True(t, apperr.HasCode(err, "FORBIDDEN"))

	err = service.DeleteScope(ctx, "realm-1", "scope-openid")
	assert.True(t, apperr.HasCode(err, "FORBIDDEN"))
}

// # Built-in Scopes

/*
TestService_SeedBuiltInScopes verifies every realm starts with the five
standard protocol scopes and their canonical mappers.
*/
func TestService_SeedBuiltInScopes(t *testing.T) {
	service, _, _ := newClientService()
	ctx := context.Background()

	require.NoError(t, service.SeedBuiltInScopes(ctx, "realm-1"))

	seeded, err := service.ListScopes(ctx, "realm-1")
	require.NoError(t, err)
	require.Len(t, seeded, 5)

	byName := make(map[string]*client.Scope, len(seeded))
	for _, scope := range seeded {
		assert.True(t, scope.BuiltIn, "scope %q must be built-in", scope.Name)
		assert.NotEmpty(t, scope.ID)
		byName[scope.Name] = scope
	}
	for _, name := range []string{"openid", "profile", "email", "roles", "offline_access"} {
		require.Contains(t, byName, name)
	}

	// The roles scope carries both role mappers.
	roleTypes := make([]client.MapperType, 0)
	for _, mapper := range byName["roles"].Mappers {
		roleTypes = append(roleTypes, mapper.Type)
	}
	assert.ElementsMatch(t, []client.MapperType{client.MapperRealmRoles, client.MapperClientRoles}, roleTypes)

	// Seeded scopes are protected like any other built-in.
	_, err = service.UpdateScope(ctx, "realm-1", byName["openid"].ID, client.ScopeInput{Name: "renamed"})
	assert.True(t, apperr.HasCode(err, "FORBIDDEN"))
}

/*
TestService_Create_AssignsBuiltInScopes verifies a new client picks up the
realm's built-ins without admin intervention: offline_access opt-in, the
rest defaults.
*/
func TestService_Create_AssignsBuiltInScopes(t *testing.T) {
	service, _, _ := newClientService()
	ctx := context.Background()

	require.NoError(t, service.SeedBuiltInScopes(ctx, "realm-1"))

	result, err := service.Create(ctx, "realm-1", client.CreateInput{
		ClientID:     "web",
		Type:         client.TypeConfidential,
		RedirectURIs: []string{"https://web.example/cb"},
	})
	require.NoError(t, err)

	resolved, err := service.ResolveScopes(ctx, result.Client, "openid offline_access")
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]string{"openid", "profile", "email", "roles", "offline_access"},
		resolved.Names)

	// Without an explicit request offline_access stays out.
	resolved, err = service.ResolveScopes(ctx, result.Client, "openid")
	require.NoError(t, err)
	assert.NotContains(t, resolved.Names, "offline_access")
	assert.Contains(t, resolved.Names, "openid")
}
