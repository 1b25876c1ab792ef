// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package login_test

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/authme/internal/client"
	"github.com/taibuivan/authme/internal/event"
	"github.com/taibuivan/authme/internal/login"
	"github.com/taibuivan/authme/internal/mfa"
	"github.com/taibuivan/authme/internal/oidc"
	"github.com/taibuivan/authme/internal/platform/apperr"
	"github.com/taibuivan/authme/internal/platform/clock"
	"github.com/taibuivan/authme/internal/platform/sec"
	"github.com/taibuivan/authme/internal/rbac"
	"github.com/taibuivan/authme/internal/realm"
	"github.com/taibuivan/authme/internal/session"
	"github.com/taibuivan/authme/internal/token"
	"github.com/taibuivan/authme/internal/user"
)

// # Storage Fakes
//
// The flow service sits on top of the full service graph, so the fixture
// assembles real services over in-memory repositories.

type memoryStore[T any] struct {
	mu    sync.Mutex
	items map[string]*T
}

func newMemoryStore[T any]() *memoryStore[T] {
	return &memoryStore[T]{items: map[string]*T{}}
}

func (m *memoryStore[T]) put(key string, item *T) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *item
	m.items[key] = &copied
}

func (m *memoryStore[T]) get(key string) (*T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[key]
	if !ok {
		return nil, false
	}
	copied := *item
	return &copied, true
}

func (m *memoryStore[T]) delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
}

func (m *memoryStore[T]) scan(match func(*T) bool) (*T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.items {
		if match(item) {
			copied := *item
			return &copied, true
		}
	}
	return nil, false
}

func (m *memoryStore[T]) update(key string, apply func(*T)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[key]
	if !ok {
		return false
	}
	apply(item)
	return true
}

type userRepo struct{ store *memoryStore[user.User] }

func (r userRepo) Create(_ context.Context, u *user.User) error {
	r.store.put(u.ID, u)
	return nil
}

func (r userRepo) FindByID(_ context.Context, realmID, id string) (*user.User, error) {
	if u, ok := r.store.get(id); ok && u.RealmID == realmID {
		return u, nil
	}
	return nil, apperr.NotFound("User not found")
}

func (r userRepo) FindByUsername(_ context.Context, realmID, username string) (*user.User, error) {
	if u, ok := r.store.scan(func(u *user.User) bool {
		return u.RealmID == realmID && u.Username == username
	}); ok {
		return u, nil
	}
	return nil, apperr.NotFound("User not found")
}

func (r userRepo) FindByEmail(_ context.Context, realmID, email string) (*user.User, error) {
	if u, ok := r.store.scan(func(u *user.User) bool {
		return u.RealmID == realmID && u.Email == email
	}); ok {
		return u, nil
	}
	return nil, apperr.NotFound("User not found")
}

func (r userRepo) List(_ context.Context, realmID string) ([]*user.User, error) { return nil, nil }

func (r userRepo) Update(_ context.Context, u *user.User) error {
	r.store.put(u.ID, u)
	return nil
}

func (r userRepo) UpdatePassword(_ context.Context, userID, newHash string, changedAt time.Time) error {
	if r.store.update(userID, func(u *user.User) {
		u.PasswordHash = newHash
		stamped := changedAt
		u.PasswordChangedAt = &stamped
	}) {
		return nil
	}
	return apperr.NotFound("User not found")
}

func (r userRepo) MarkEmailVerified(_ context.Context, userID string) error {
	r.store.update(userID, func(u *user.User) { u.EmailVerified = true })
	return nil
}

func (r userRepo) Delete(_ context.Context, realmID, id string) error {
	r.store.delete(id)
	return nil
}

type clientRepo struct{ store *memoryStore[client.Client] }

func (r clientRepo) Create(_ context.Context, c *client.Client) error {
	r.store.put(c.ID, c)
	return nil
}

func (r clientRepo) FindByID(_ context.Context, realmID, id string) (*client.Client, error) {
	if c, ok := r.store.get(id); ok && c.RealmID == realmID {
		return c, nil
	}
	return nil, apperr.NotFound("Client not found")
}

func (r clientRepo) FindByClientID(_ context.Context, realmID, clientID string) (*client.Client, error) {
	if c, ok := r.store.scan(func(c *client.Client) bool {
		return c.RealmID == realmID && c.ClientID == clientID
	}); ok {
		return c, nil
	}
	return nil, apperr.NotFound("Client not found")
}

func (r clientRepo) List(_ context.Context, realmID string) ([]*client.Client, error) {
	return nil, nil
}

func (r clientRepo) ListWithBackchannel(_ context.Context, realmID string) ([]*client.Client, error) {
	return nil, nil
}

func (r clientRepo) Update(_ context.Context, c *client.Client) error {
	r.store.put(c.ID, c)
	return nil
}

func (r clientRepo) UpdateSecretHash(_ context.Context, id, secretHash string) error { return nil }

func (r clientRepo) Delete(_ context.Context, realmID, id string) error { return nil }

type scopeRepo struct {
	mu     sync.Mutex
	scopes []*client.Scope
}

func (r *scopeRepo) Create(_ context.Context, s *client.Scope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *s
	r.scopes = append(r.scopes, &copied)
	return nil
}

func (r *scopeRepo) FindByID(_ context.Context, realmID, id string) (*client.Scope, error) {
	return nil, apperr.NotFound("Scope not found")
}

func (r *scopeRepo) List(_ context.Context, realmID string) ([]*client.Scope, error) {
	return nil, nil
}

func (r *scopeRepo) Update(_ context.Context, s *client.Scope) error { return nil }

func (r *scopeRepo) Delete(_ context.Context, realmID, id string) error { return nil }

func (r *scopeRepo) Assign(_ context.Context, a *client.Assignment) error { return nil }

func (r *scopeRepo) Unassign(_ context.Context, clientID, scopeID string) error { return nil }

// Every registered scope is a default for every client; enough for the
// flow tests, which never exercise optional scopes.
func (r *scopeRepo) ListAssigned(_ context.Context, clientID string) ([]*client.Scope, []*client.Scope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	defaults := make([]*client.Scope, 0, len(r.scopes))
	for _, s := range r.scopes {
		copied := *s
		defaults = append(defaults, &copied)
	}
	return defaults, nil, nil
}

type noopProvisioner struct{}

func (noopProvisioner) ProvisionServiceAccount(context.Context, string, string) (string, error) {
	return "", nil
}

type historyRepo struct{}

func (historyRepo) Append(context.Context, *user.PasswordHistoryEntry, int) error { return nil }

func (historyRepo) LastN(context.Context, string, string, int) ([]string, error) { return nil, nil }

type failureRepo struct{}

func (failureRepo) Record(context.Context, *user.LoginFailure) error { return nil }

func (failureRepo) CountSince(context.Context, string, string, time.Time) (int, time.Time, error) {
	return 0, time.Time{}, nil
}

func (failureRepo) CountAll(context.Context, string, string) (int, error) { return 0, nil }

func (failureRepo) Reset(context.Context, string, string) error { return nil }

type verificationRepo struct{}

func (verificationRepo) Set(context.Context, user.VerificationPurpose, string, string, time.Duration) error {
	return nil
}

func (verificationRepo) Consume(context.Context, user.VerificationPurpose, string) (string, error) {
	return "", apperr.NotFound("Token not found")
}

type noopMail struct{}

func (noopMail) Send(realm.SMTPConfig, string, string, string) {}

type roleRepo struct{}

func (roleRepo) Create(context.Context, *rbac.Role) error { return nil }

func (roleRepo) FindByID(context.Context, string, string) (*rbac.Role, error) {
	return nil, apperr.NotFound("Role not found")
}

func (roleRepo) FindByName(context.Context, string, string, string) (*rbac.Role, error) {
	return nil, apperr.NotFound("Role not found")
}

func (roleRepo) List(context.Context, string) ([]*rbac.Role, error) { return nil, nil }

func (roleRepo) Delete(context.Context, string, string) error { return nil }

func (roleRepo) AssignToUser(context.Context, string, string) error { return nil }

func (roleRepo) UnassignFromUser(context.Context, string, string) error { return nil }

func (roleRepo) ListForUser(context.Context, string) ([]*rbac.Role, error) { return nil, nil }

func (roleRepo) AssignToGroup(context.Context, string, string) error { return nil }

func (roleRepo) UnassignFromGroup(context.Context, string, string) error { return nil }

func (roleRepo) ListForGroups(context.Context, []string) ([]*rbac.Role, error) { return nil, nil }

type groupRepo struct{}

func (groupRepo) Create(context.Context, *rbac.Group) error { return nil }

func (groupRepo) FindByID(context.Context, string, string) (*rbac.Group, error) {
	return nil, apperr.NotFound("Group not found")
}

func (groupRepo) List(context.Context, string) ([]*rbac.Group, error) { return nil, nil }

func (groupRepo) Update(context.Context, *rbac.Group) error { return nil }

func (groupRepo) Delete(context.Context, string, string) error { return nil }

func (groupRepo) AddMember(context.Context, string, string) error { return nil }

func (groupRepo) RemoveMember(context.Context, string, string) error { return nil }

func (groupRepo) ListMemberships(context.Context, string) ([]string, error) { return nil, nil }

type sessionRepo struct{ store *memoryStore[session.Session] }

func (r sessionRepo) Create(_ context.Context, s *session.Session) error {
	r.store.put(s.ID, s)
	return nil
}

func (r sessionRepo) FindByTokenHash(_ context.Context, realmID, tokenHash string) (*session.Session, error) {
	if s, ok := r.store.scan(func(s *session.Session) bool {
		return s.RealmID == realmID && s.TokenHash == tokenHash
	}); ok {
		return s, nil
	}
	return nil, apperr.NotFound("Session not found")
}

func (r sessionRepo) FindByID(_ context.Context, realmID, id string) (*session.Session, error) {
	if s, ok := r.store.get(id); ok && s.RealmID == realmID {
		return s, nil
	}
	return nil, apperr.NotFound("Session not found")
}

func (r sessionRepo) Touch(_ context.Context, id string, lastAccessAt time.Time) error {
	r.store.update(id, func(s *session.Session) { s.LastAccessAt = lastAccessAt })
	return nil
}

func (r sessionRepo) ListByUser(_ context.Context, realmID, userID string) ([]*session.Session, error) {
	return nil, nil
}

func (r sessionRepo) Delete(_ context.Context, realmID, id string) error {
	r.store.delete(id)
	return nil
}

func (r sessionRepo) DeleteByUser(_ context.Context, realmID, userID string) error { return nil }

func (r sessionRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	return 0, nil
}

type refreshRepo struct{ store *memoryStore[session.RefreshToken] }

func (r refreshRepo) Create(_ context.Context, t *session.RefreshToken) error {
	r.store.put(t.ID, t)
	return nil
}

func (r refreshRepo) FindByTokenHash(_ context.Context, realmID, tokenHash string) (*session.RefreshToken, error) {
	if t, ok := r.store.scan(func(t *session.RefreshToken) bool {
		return t.RealmID == realmID && t.TokenHash == tokenHash
	}); ok {
		return t, nil
	}
	return nil, apperr.NotFound("Refresh token not found")
}

func (r refreshRepo) Rotate(_ context.Context, predecessorID string, successor *session.RefreshToken) (bool, error) {
	won := r.store.update(predecessorID, func(t *session.RefreshToken) { t.Revoked = true })
	if won {
		r.store.put(successor.ID, successor)
	}
	return won, nil
}

func (r refreshRepo) RevokeFamily(_ context.Context, familyID string) error { return nil }

func (r refreshRepo) RevokeBySession(_ context.Context, sessionID string) error { return nil }

func (r refreshRepo) ListOfflineByUser(_ context.Context, realmID, userID string) ([]*session.RefreshToken, error) {
	return nil, nil
}

func (r refreshRepo) RevokeByID(_ context.Context, realmID, id string) error { return nil }

func (r refreshRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) { return 0, nil }

type keyRepo struct{ store *memoryStore[token.SigningKey] }

func (r keyRepo) Create(_ context.Context, key *token.SigningKey) error {
	r.store.put(key.KID, key)
	return nil
}

func (r keyRepo) FindActive(_ context.Context, realmID string) (*token.SigningKey, error) {
	if key, ok := r.store.scan(func(key *token.SigningKey) bool {
		return key.RealmID == realmID && key.Active
	}); ok {
		return key, nil
	}
	return nil, apperr.NotFound("Signing key not found")
}

func (r keyRepo) FindByKID(_ context.Context, realmID, kid string) (*token.SigningKey, error) {
	if key, ok := r.store.get(kid); ok && key.RealmID == realmID {
		return key, nil
	}
	return nil, apperr.NotFound("Signing key not found")
}

func (r keyRepo) List(_ context.Context, realmID string) ([]*token.SigningKey, error) {
	return nil, nil
}

func (r keyRepo) Activate(_ context.Context, realmID, kid string) error { return nil }

func (r keyRepo) Delete(_ context.Context, realmID, kid string) error { return nil }

type codeRepo struct{ store *memoryStore[oidc.AuthorizationCode] }

func (r codeRepo) Create(_ context.Context, code *oidc.AuthorizationCode) error {
	r.store.put(code.ID, code)
	return nil
}

func (r codeRepo) FindByHash(_ context.Context, realmID, codeHash string) (*oidc.AuthorizationCode, error) {
	if code, ok := r.store.scan(func(code *oidc.AuthorizationCode) bool {
		return code.RealmID == realmID && code.CodeHash == codeHash
	}); ok {
		return code, nil
	}
	return nil, apperr.NotFound("Authorization code not found")
}

func (r codeRepo) Consume(_ context.Context, id string) (bool, error) {
	code, ok := r.store.get(id)
	if !ok || code.Consumed {
		return false, nil
	}
	r.store.update(id, func(code *oidc.AuthorizationCode) { code.Consumed = true })
	return true, nil
}

func (r codeRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) { return 0, nil }

type deviceRepo struct{}

func (deviceRepo) Create(context.Context, *oidc.DeviceCode) error { return nil }

func (deviceRepo) FindByDeviceHash(context.Context, string, string) (*oidc.DeviceCode, error) {
	return nil, apperr.NotFound("Device code not found")
}

func (deviceRepo) FindByUserCode(context.Context, string, string) (*oidc.DeviceCode, error) {
	return nil, apperr.NotFound("Device code not found")
}

func (deviceRepo) Decide(context.Context, string, oidc.DeviceStatus, string) (bool, error) {
	return false, nil
}

func (deviceRepo) ConsumeApproved(context.Context, string) (bool, error) { return false, nil }

func (deviceRepo) DeleteExpired(context.Context, time.Time) (int64, error) { return 0, nil }

type consentRepo struct{}

func (consentRepo) Find(context.Context, string, string, string) (*oidc.UserConsent, error) {
	return nil, apperr.NotFound("Consent not found")
}

func (consentRepo) Upsert(context.Context, *oidc.UserConsent) error { return nil }

func (consentRepo) ListByUser(context.Context, string, string) ([]*oidc.UserConsent, error) {
	return nil, nil
}

func (consentRepo) Delete(context.Context, string, string, string) error { return nil }

type consentRequestRepo struct{ store *memoryStore[oidc.ConsentRequest] }

func (r consentRequestRepo) Set(_ context.Context, request *oidc.ConsentRequest, _ time.Duration) error {
	r.store.put(request.ID, request)
	return nil
}

func (r consentRequestRepo) Consume(_ context.Context, id string) (*oidc.ConsentRequest, error) {
	request, ok := r.store.get(id)
	if !ok {
		return nil, apperr.NotFound("Consent request not found")
	}
	r.store.delete(id)
	return request, nil
}

type openThrottle struct{}

func (openThrottle) Acquire(context.Context, string, time.Duration) (bool, error) {
	return true, nil
}

type mfaCredentialRepo struct{ store *memoryStore[mfa.Credential] }

func (r mfaCredentialRepo) Create(_ context.Context, credential *mfa.Credential) error {
	r.store.put(credential.UserID, credential)
	return nil
}

func (r mfaCredentialRepo) FindByUser(_ context.Context, realmID, userID string) (*mfa.Credential, error) {
	if credential, ok := r.store.get(userID); ok && credential.RealmID == realmID {
		return credential, nil
	}
	return nil, apperr.NotFound("MFA credential not found")
}

func (r mfaCredentialRepo) Confirm(_ context.Context, id string) error {
	found, ok := r.store.scan(func(credential *mfa.Credential) bool { return credential.ID == id })
	if !ok {
		return apperr.NotFound("MFA credential not found")
	}
	r.store.update(found.UserID, func(credential *mfa.Credential) { credential.Confirmed = true })
	return nil
}

func (r mfaCredentialRepo) AdvanceLastUsedStep(_ context.Context, id string, step int64) (bool, error) {
	found, ok := r.store.scan(func(credential *mfa.Credential) bool { return credential.ID == id })
	if !ok {
		return false, apperr.NotFound("MFA credential not found")
	}
	if found.LastUsedStep >= step {
		return false, nil
	}
	r.store.update(found.UserID, func(credential *mfa.Credential) { credential.LastUsedStep = step })
	return true, nil
}

func (r mfaCredentialRepo) Delete(_ context.Context, realmID, userID string) error {
	r.store.delete(userID)
	return nil
}

type mfaRecoveryRepo struct{}

func (mfaRecoveryRepo) Replace(context.Context, string, []*mfa.RecoveryCode) error { return nil }

func (mfaRecoveryRepo) Consume(context.Context, string, string) error {
	return apperr.NotFound("Recovery code is invalid or already used")
}

func (mfaRecoveryRepo) CountUnused(context.Context, string) (int, error) { return 0, nil }

type mfaChallengeRepo struct {
	store    *memoryStore[mfa.Challenge]
	mu       sync.Mutex
	attempts map[string]int
}

func (r *mfaChallengeRepo) Create(_ context.Context, challenge *mfa.Challenge, _ time.Duration) error {
	r.store.put(challenge.ID, challenge)
	return nil
}

func (r *mfaChallengeRepo) Find(_ context.Context, id string) (*mfa.Challenge, error) {
	challenge, ok := r.store.get(id)
	if !ok {
		return nil, apperr.NotFound("Challenge is invalid or expired")
	}
	r.mu.Lock()
	challenge.Attempts = r.attempts[id]
	r.mu.Unlock()
	return challenge, nil
}

func (r *mfaChallengeRepo) RecordFailure(_ context.Context, id string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts[id]++
	return r.attempts[id], nil
}

func (r *mfaChallengeRepo) Delete(_ context.Context, id string) error {
	r.store.delete(id)
	return nil
}

type captureRecorder struct {
	mu     sync.Mutex
	events []*event.Event
}

func (c *captureRecorder) Record(e *event.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *captureRecorder) kinds() []event.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	var kinds []event.Kind
	for _, e := range c.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

// # Fixture

const (
	flowRedirect = "https://app.example.com/callback"
	flowPassword = "Correct-Horse-9"
)

type flowFixture struct {
	login    *login.Service
	mfa      *mfa.Service
	sessions *session.Service
	users    *user.Service
	accounts userRepo
	clock    *clock.Fake
	realm    *realm.Realm
	events   *captureRecorder
}

func newFlowFixture(t *testing.T) *flowFixture {
	t.Helper()

	fixed := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	currentRealm := &realm.Realm{
		ID:                  "realm-1",
		Name:                "acme",
		DisplayName:         "Acme Corp",
		Enabled:             true,
		AccessTokenLifespan: 5 * time.Minute,
		SsoSessionLifespan:  10 * time.Hour,
		RegistrationAllowed: true,
	}

	clients := clientRepo{store: newMemoryStore[client.Client]()}
	scopes := &scopeRepo{}
	clientService := client.NewService(clients, scopes, noopProvisioner{})

	require.NoError(t, clients.Create(context.Background(), &client.Client{
		ID:           "c-web",
		RealmID:      currentRealm.ID,
		ClientID:     "web-app",
		Name:         "Web App",
		Type:         client.TypeConfidential,
		SecretHash:   sec.HashToken("secret"),
		RedirectURIs: []string{flowRedirect},
		GrantTypes:   []string{client.GrantAuthorizationCode, client.GrantRefreshToken},
		Enabled:      true,
	}))
	require.NoError(t, scopes.Create(context.Background(),
		&client.Scope{ID: "s-openid", RealmID: currentRealm.ID, Name: oidc.ScopeOpenID}))

	accounts := userRepo{store: newMemoryStore[user.User]()}
	passwordHash, err := sec.HashPassword(flowPassword)
	require.NoError(t, err)
	require.NoError(t, accounts.Create(context.Background(), &user.User{
		ID:           "user-alice",
		RealmID:      currentRealm.ID,
		Username:     "alice",
		Email:        "alice@example.com",
		Enabled:      true,
		PasswordHash: passwordHash,
	}))

	guard := user.NewGuard(failureRepo{}, fixed)
	policy := user.NewPolicy(historyRepo{}, fixed)
	userService := user.NewService(accounts, policy, guard, verificationRepo{}, noopMail{}, fixed)
	verifier := user.NewVerifier(accounts, guard, nil)

	roleService := rbac.NewService(roleRepo{}, groupRepo{}, fixed)
	sessionService := session.NewService(
		sessionRepo{store: newMemoryStore[session.Session]()},
		refreshRepo{store: newMemoryStore[session.RefreshToken]()},
		nil, userService, fixed)

	wrapper, err := sec.NewKeyWrapper(strings.Repeat("0a", 32))
	require.NoError(t, err)
	manager := token.NewManager(keyRepo{store: newMemoryStore[token.SigningKey]()}, wrapper, fixed)
	require.NoError(t, manager.ProvisionInitialKey(context.Background(), currentRealm.ID))
	factory := token.NewFactory(manager, "https://id.example.com", fixed)

	events := &captureRecorder{}
	protocol := oidc.NewService(
		clientService,
		userService,
		verifier,
		roleService,
		sessionService,
		factory,
		codeRepo{store: newMemoryStore[oidc.AuthorizationCode]()},
		deviceRepo{},
		consentRepo{},
		consentRequestRepo{store: newMemoryStore[oidc.ConsentRequest]()},
		openThrottle{},
		events,
		"https://id.example.com",
		fixed,
	)

	mfaService := mfa.NewService(
		mfaCredentialRepo{store: newMemoryStore[mfa.Credential]()},
		mfaRecoveryRepo{},
		&mfaChallengeRepo{store: newMemoryStore[mfa.Challenge](), attempts: map[string]int{}},
		wrapper, fixed)

	loginService := login.NewService(verifier, userService, policy, mfaService,
		sessionService, protocol, events)

	return &flowFixture{
		login:    loginService,
		mfa:      mfaService,
		sessions: sessionService,
		users:    userService,
		accounts: accounts,
		clock:    fixed,
		realm:    currentRealm,
		events:   events,
	}
}

func (f *flowFixture) authorizeRequest() oidc.AuthorizeRequest {
	return oidc.AuthorizeRequest{
		ResponseType: "code",
		ClientID:     "web-app",
		RedirectURI:  flowRedirect,
		Scope:        "openid",
		State:        "st4te",
	}
}

func totpAt(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period: mfa.Period, Digits: otp.DigitsSix, Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

// enrollMfa confirms a TOTP credential for alice.
func (f *flowFixture) enrollMfa(t *testing.T) string {
	t.Helper()

	enrolment, err := f.mfa.Enroll(context.Background(), f.realm, "user-alice", "alice")
	require.NoError(t, err)
	_, err = f.mfa.Confirm(context.Background(), f.realm.ID, "user-alice",
		totpAt(t, enrolment.Secret, f.clock.Now()))
	require.NoError(t, err)

	// Confirm burned the current step; step past it.
	f.clock.Advance(2 * mfa.Period * time.Second)
	return enrolment.Secret
}

// # Password Step

func TestAuthenticate_EstablishesSessionAndDeliversCode(t *testing.T) {
	f := newFlowFixture(t)

	outcome, err := f.login.Authenticate(context.Background(), f.realm, login.AuthenticateInput{
		Username:  "alice",
		Password:  flowPassword,
		IP:        "203.0.113.7",
		UserAgent: "test-agent",
		Authorize: f.authorizeRequest(),
	})
	require.NoError(t, err)

	assert.Equal(t, login.StatusAuthenticated, outcome.Status)
	require.NotEmpty(t, outcome.SessionToken)
	require.NotNil(t, outcome.Session)

	parsed, err := url.Parse(outcome.RedirectTo)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(outcome.RedirectTo, flowRedirect+"?"))
	assert.NotEmpty(t, parsed.Query().Get("code"))
	assert.Equal(t, "st4te", parsed.Query().Get("state"))

	resolved, err := f.sessions.Resolve(context.Background(), f.realm, outcome.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, "user-alice", resolved.UserID)
	assert.Equal(t, "203.0.113.7", resolved.IPAddress)

	assert.Contains(t, f.events.kinds(), event.KindLogin)
}

func TestDisabledUserSessionStopsResolving(t *testing.T) {
	f := newFlowFixture(t)

	outcome, err := f.login.Authenticate(context.Background(), f.realm, login.AuthenticateInput{
		Username:  "alice",
		Password:  flowPassword,
		Authorize: f.authorizeRequest(),
	})
	require.NoError(t, err)
	require.NotEmpty(t, outcome.SessionToken)

	account, err := f.accounts.FindByID(context.Background(), f.realm.ID, "user-alice")
	require.NoError(t, err)
	account.Enabled = false
	require.NoError(t, f.accounts.Update(context.Background(), account))

	// The live session dies with the account.
	_, err = f.sessions.Resolve(context.Background(), f.realm, outcome.SessionToken)
	assert.True(t, apperr.IsNotFound(err))
}

func TestAuthenticate_WrongPassword(t *testing.T) {
	f := newFlowFixture(t)

	_, err := f.login.Authenticate(context.Background(), f.realm, login.AuthenticateInput{
		Username:  "alice",
		Password:  "not-the-password",
		Authorize: f.authorizeRequest(),
	})
	assert.True(t, apperr.HasCode(err, "INVALID_CREDENTIALS"))
	assert.Contains(t, f.events.kinds(), event.KindLoginFailed)
}

func TestAuthenticate_RejectsTamperedAuthorizeRequest(t *testing.T) {
	f := newFlowFixture(t)

	request := f.authorizeRequest()
	request.RedirectURI = "https://evil.example.com/callback"

	_, err := f.login.Authenticate(context.Background(), f.realm, login.AuthenticateInput{
		Username:  "alice",
		Password:  flowPassword,
		Authorize: request,
	})
	require.Error(t, err, "credentials must never be checked against an invalid request")
	assert.NotContains(t, f.events.kinds(), event.KindLoginFailed)
}

func TestAuthenticate_ExpiredPasswordBlocksLogin(t *testing.T) {
	f := newFlowFixture(t)

	f.realm.PasswordPolicy.MaxAgeDays = 30
	changed := f.clock.Now().Add(-31 * 24 * time.Hour)
	require.NoError(t, f.accounts.UpdatePassword(context.Background(), "user-alice",
		mustHash(t, flowPassword), changed))

	_, err := f.login.Authenticate(context.Background(), f.realm, login.AuthenticateInput{
		Username:  "alice",
		Password:  flowPassword,
		Authorize: f.authorizeRequest(),
	})
	assert.True(t, apperr.HasCode(err, "POLICY_VIOLATION"))
}

// # MFA Step

func TestAuthenticate_MfaDetour(t *testing.T) {
	f := newFlowFixture(t)
	secret := f.enrollMfa(t)

	outcome, err := f.login.Authenticate(context.Background(), f.realm, login.AuthenticateInput{
		Username:   "alice",
		Password:   flowPassword,
		RememberMe: true,
		IP:         "203.0.113.7",
		Authorize:  f.authorizeRequest(),
	})
	require.NoError(t, err)
	assert.Equal(t, login.StatusMfaRequired, outcome.Status)
	require.NotEmpty(t, outcome.ChallengeID)
	assert.Empty(t, outcome.SessionToken, "no session before the second factor")

	// A wrong code burns an attempt but keeps the challenge alive.
	_, err = f.login.CompleteMfa(context.Background(), f.realm, outcome.ChallengeID, "000000")
	assert.True(t, apperr.HasCode(err, "INVALID_CREDENTIALS"))
	assert.Contains(t, f.events.kinds(), event.KindMfaFailed)

	finished, err := f.login.CompleteMfa(context.Background(), f.realm, outcome.ChallengeID,
		totpAt(t, secret, f.clock.Now()))
	require.NoError(t, err)

	assert.Equal(t, login.StatusAuthenticated, finished.Status)
	require.NotEmpty(t, finished.SessionToken)
	assert.Contains(t, finished.RedirectTo, "code=")
	assert.Contains(t, finished.RedirectTo, "state=st4te")
	assert.Contains(t, f.events.kinds(), event.KindMfaVerified)

	// The remember-me choice survived the detour.
	resolved, err := f.sessions.Resolve(context.Background(), f.realm, finished.SessionToken)
	require.NoError(t, err)
	assert.True(t, resolved.RememberMe)

	// The challenge is single-use.
	_, err = f.login.CompleteMfa(context.Background(), f.realm, outcome.ChallengeID,
		totpAt(t, secret, f.clock.Now()))
	assert.True(t, apperr.IsNotFound(err))
}

func TestAuthenticate_RealmMandateForcesMfaSetup(t *testing.T) {
	f := newFlowFixture(t)
	f.realm.MfaRequired = true

	outcome, err := f.login.Authenticate(context.Background(), f.realm, login.AuthenticateInput{
		Username:  "alice",
		Password:  flowPassword,
		IP:        "203.0.113.7",
		Authorize: f.authorizeRequest(),
	})
	require.NoError(t, err)

	assert.Equal(t, login.StatusMfaSetupRequired, outcome.Status)
	require.NotEmpty(t, outcome.ChallengeID)
	require.NotNil(t, outcome.Enrolment)
	require.NotEmpty(t, outcome.Enrolment.Secret)
	assert.Empty(t, outcome.SessionToken, "no session until the factor is confirmed")

	// The first valid code confirms the enrolment and resumes the login.
	finished, err := f.login.CompleteMfa(context.Background(), f.realm, outcome.ChallengeID,
		totpAt(t, outcome.Enrolment.Secret, f.clock.Now()))
	require.NoError(t, err)

	assert.Equal(t, login.StatusAuthenticated, finished.Status)
	require.NotEmpty(t, finished.SessionToken)
	assert.NotEmpty(t, finished.RecoveryCodes)
	assert.Contains(t, finished.RedirectTo, "code=")

	enrolled, err := f.mfa.Enrolled(context.Background(), f.realm.ID, "user-alice")
	require.NoError(t, err)
	assert.True(t, enrolled, "the forced setup left a confirmed factor behind")

	// The next login takes the ordinary MFA detour.
	f.clock.Advance(2 * mfa.Period * time.Second)
	next, err := f.login.Authenticate(context.Background(), f.realm, login.AuthenticateInput{
		Username:  "alice",
		Password:  flowPassword,
		Authorize: f.authorizeRequest(),
	})
	require.NoError(t, err)
	assert.Equal(t, login.StatusMfaRequired, next.Status)
}

// # Registration

func TestRegister(t *testing.T) {
	f := newFlowFixture(t)

	created, err := f.login.Register(context.Background(), f.realm, user.RegisterInput{
		Username: "bob",
		Email:    "bob@example.com",
		Password: "Another-Horse-7",
	})
	require.NoError(t, err)
	assert.Equal(t, "bob", created.Username)
	assert.Contains(t, f.events.kinds(), event.KindRegister)

	f.realm.RegistrationAllowed = false
	_, err = f.login.Register(context.Background(), f.realm, user.RegisterInput{
		Username: "carol",
		Email:    "carol@example.com",
		Password: "Third-Horse-5",
	})
	assert.True(t, apperr.HasCode(err, "FORBIDDEN"))
}

// # Helpers

func mustHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := sec.HashPassword(password)
	require.NoError(t, err)
	return hash
}
