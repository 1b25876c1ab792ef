// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package oidc_test

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/authme/internal/client"
	"github.com/taibuivan/authme/internal/event"
	"github.com/taibuivan/authme/internal/oidc"
	"github.com/taibuivan/authme/internal/platform/apperr"
	"github.com/taibuivan/authme/internal/platform/clock"
	"github.com/taibuivan/authme/internal/platform/oautherr"
	"github.com/taibuivan/authme/internal/platform/sec"
	"github.com/taibuivan/authme/internal/rbac"
	"github.com/taibuivan/authme/internal/realm"
	"github.com/taibuivan/authme/internal/session"
	"github.com/taibuivan/authme/internal/token"
	"github.com/taibuivan/authme/internal/user"
)

// # Storage Fakes

type fakeClientRepo struct {
	mu      sync.Mutex
	clients map[string]*client.Client // keyed by internal id
}

func newFakeClientRepo() *fakeClientRepo {
	return &fakeClientRepo{clients: map[string]*client.Client{}}
}

func (f *fakeClientRepo) Create(_ context.Context, c *client.Client) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *c
	f.clients[c.ID] = &copied
	return nil
}

func (f *fakeClientRepo) FindByID(_ context.Context, realmID, id string) (*client.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.clients[id]; ok && c.RealmID == realmID {
		copied := *c
		return &copied, nil
	}
	return nil, apperr.NotFound("Client not found")
}

func (f *fakeClientRepo) FindByClientID(_ context.Context, realmID, clientID string) (*client.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.clients {
		if c.RealmID == realmID && c.ClientID == clientID {
			copied := *c
			return &copied, nil
		}
	}
	return nil, apperr.NotFound("Client not found")
}

func (f *fakeClientRepo) List(_ context.Context, realmID string) ([]*client.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []*client.Client
	for _, c := range f.clients {
		if c.RealmID == realmID {
			copied := *c
			all = append(all, &copied)
		}
	}
	return all, nil
}

func (f *fakeClientRepo) ListWithBackchannel(_ context.Context, realmID string) ([]*client.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []*client.Client
	for _, c := range f.clients {
		if c.RealmID == realmID && c.BackchannelLogoutURI != "" {
			copied := *c
			all = append(all, &copied)
		}
	}
	return all, nil
}

func (f *fakeClientRepo) Update(_ context.Context, c *client.Client) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *c
	f.clients[c.ID] = &copied
	return nil
}

func (f *fakeClientRepo) UpdateSecretHash(_ context.Context, id, secretHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.clients[id]; ok {
		c.SecretHash = secretHash
		return nil
	}
	return apperr.NotFound("Client not found")
}

func (f *fakeClientRepo) Delete(_ context.Context, realmID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.clients[id]; ok && c.RealmID == realmID {
		delete(f.clients, id)
		return nil
	}
	return apperr.NotFound("Client not found")
}

type fakeScopeRepo struct {
	mu          sync.Mutex
	scopes      map[string]*client.Scope
	assignments []*client.Assignment
}

func newFakeScopeRepo() *fakeScopeRepo {
	return &fakeScopeRepo{scopes: map[string]*client.Scope{}}
}

func (f *fakeScopeRepo) Create(_ context.Context, s *client.Scope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *s
	f.scopes[s.ID] = &copied
	return nil
}

func (f *fakeScopeRepo) FindByID(_ context.Context, realmID, id string) (*client.Scope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.scopes[id]; ok && s.RealmID == realmID {
		copied := *s
		return &copied, nil
	}
	return nil, apperr.NotFound("Scope not found")
}

func (f *fakeScopeRepo) List(_ context.Context, realmID string) ([]*client.Scope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []*client.Scope
	for _, s := range f.scopes {
		if s.RealmID == realmID {
			copied := *s
			all = append(all, &copied)
		}
	}
	return all, nil
}

func (f *fakeScopeRepo) Update(_ context.Context, s *client.Scope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *s
	f.scopes[s.ID] = &copied
	return nil
}

func (f *fakeScopeRepo) Delete(_ context.Context, realmID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.scopes, id)
	return nil
}

func (f *fakeScopeRepo) Assign(_ context.Context, a *client.Assignment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *a
	f.assignments = append(f.assignments, &copied)
	return nil
}

func (f *fakeScopeRepo) Unassign(_ context.Context, clientID, scopeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
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
	f.mu.Lock()
	defer f.mu.Unlock()
	var defaults, optionals []*client.Scope
	for _, a := range f.assignments {
		if a.ClientID != clientID {
			continue
		}
		s, ok := f.scopes[a.ScopeID]
		if !ok {
			continue
		}
		copied := *s
		if a.DefaultScope {
			defaults = append(defaults, &copied)
		} else {
			optionals = append(optionals, &copied)
		}
	}
	return defaults, optionals, nil
}

type noopProvisioner struct{}

func (noopProvisioner) ProvisionServiceAccount(context.Context, string, string) (string, error) {
	return "", nil
}

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*user.User // keyed by id
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: map[string]*user.User{}}
}

func (f *fakeUserRepo) Create(_ context.Context, u *user.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *u
	f.users[u.ID] = &copied
	return nil
}

func (f *fakeUserRepo) FindByID(_ context.Context, realmID, id string) (*user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok && u.RealmID == realmID {
		copied := *u
		return &copied, nil
	}
	return nil, apperr.NotFound("User not found")
}

func (f *fakeUserRepo) FindByUsername(_ context.Context, realmID, username string) (*user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.RealmID == realmID && u.Username == username {
			copied := *u
			return &copied, nil
		}
	}
	return nil, apperr.NotFound("User not found")
}

func (f *fakeUserRepo) FindByEmail(_ context.Context, realmID, email string) (*user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.RealmID == realmID && u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, apperr.NotFound("User not found")
}

func (f *fakeUserRepo) List(_ context.Context, realmID string) ([]*user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []*user.User
	for _, u := range f.users {
		if u.RealmID == realmID {
			copied := *u
			all = append(all, &copied)
		}
	}
	return all, nil
}

func (f *fakeUserRepo) Update(_ context.Context, u *user.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *u
	f.users[u.ID] = &copied
	return nil
}

func (f *fakeUserRepo) UpdatePassword(_ context.Context, userID, newHash string, changedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[userID]; ok {
		u.PasswordHash = newHash
		stamped := changedAt
		u.PasswordChangedAt = &stamped
		return nil
	}
	return apperr.NotFound("User not found")
}

func (f *fakeUserRepo) MarkEmailVerified(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[userID]; ok {
		u.EmailVerified = true
		return nil
	}
	return apperr.NotFound("User not found")
}

func (f *fakeUserRepo) Delete(_ context.Context, realmID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.users, id)
	return nil
}

type fakeHistoryRepo struct{}

func (fakeHistoryRepo) Append(context.Context, *user.PasswordHistoryEntry, int) error {
	return nil
}

func (fakeHistoryRepo) LastN(context.Context, string, string, int) ([]string, error) {
	return nil, nil
}

type fakeFailureRepo struct{}

func (fakeFailureRepo) Record(context.Context, *user.LoginFailure) error { return nil }

func (fakeFailureRepo) CountSince(context.Context, string, string, time.Time) (int, time.Time, error) {
	return 0, time.Time{}, nil
}

func (fakeFailureRepo) CountAll(context.Context, string, string) (int, error) { return 0, nil }

func (fakeFailureRepo) Reset(context.Context, string, string) error { return nil }

type fakeVerificationRepo struct{}

func (fakeVerificationRepo) Set(context.Context, user.VerificationPurpose, string, string, time.Duration) error {
	return nil
}

func (fakeVerificationRepo) Consume(context.Context, user.VerificationPurpose, string) (string, error) {
	return "", apperr.NotFound("Token not found")
}

type noopMail struct{}

func (noopMail) Send(realm.SMTPConfig, string, string, string) {}

type fakeRoleRepo struct{}

func (fakeRoleRepo) Create(context.Context, *rbac.Role) error { return nil }

func (fakeRoleRepo) FindByID(context.Context, string, string) (*rbac.Role, error) {
	return nil, apperr.NotFound("Role not found")
}

func (fakeRoleRepo) FindByName(context.Context, string, string, string) (*rbac.Role, error) {
	return nil, apperr.NotFound("Role not found")
}

func (fakeRoleRepo) List(context.Context, string) ([]*rbac.Role, error) { return nil, nil }

func (fakeRoleRepo) Delete(context.Context, string, string) error { return nil }

func (fakeRoleRepo) AssignToUser(context.Context, string, string) error { return nil }

func (fakeRoleRepo) UnassignFromUser(context.Context, string, string) error { return nil }

func (fakeRoleRepo) ListForUser(context.Context, string) ([]*rbac.Role, error) { return nil, nil }

func (fakeRoleRepo) AssignToGroup(context.Context, string, string) error { return nil }

func (fakeRoleRepo) UnassignFromGroup(context.Context, string, string) error { return nil }

func (fakeRoleRepo) ListForGroups(context.Context, []string) ([]*rbac.Role, error) { return nil, nil }

type fakeGroupRepo struct{}

func (fakeGroupRepo) Create(context.Context, *rbac.Group) error { return nil }

func (fakeGroupRepo) FindByID(context.Context, string, string) (*rbac.Group, error) {
	return nil, apperr.NotFound("Group not found")
}

func (fakeGroupRepo) List(context.Context, string) ([]*rbac.Group, error) { return nil, nil }

func (fakeGroupRepo) Update(context.Context, *rbac.Group) error { return nil }

func (fakeGroupRepo) Delete(context.Context, string, string) error { return nil }

func (fakeGroupRepo) AddMember(context.Context, string, string) error { return nil }

func (fakeGroupRepo) RemoveMember(context.Context, string, string) error { return nil }

func (fakeGroupRepo) ListMemberships(context.Context, string) ([]string, error) { return nil, nil }

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: map[string]*session.Session{}}
}

func (f *fakeSessionRepo) Create(_ context.Context, s *session.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *s
	f.sessions[s.ID] = &copied
	return nil
}

func (f *fakeSessionRepo) FindByTokenHash(_ context.Context, realmID, tokenHash string) (*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.RealmID == realmID && s.TokenHash == tokenHash {
			copied := *s
			return &copied, nil
		}
	}
	return nil, apperr.NotFound("Session not found")
}

func (f *fakeSessionRepo) FindByID(_ context.Context, realmID, id string) (*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok && s.RealmID == realmID {
		copied := *s
		return &copied, nil
	}
	return nil, apperr.NotFound("Session not found")
}

func (f *fakeSessionRepo) Touch(_ context.Context, id string, lastAccessAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		s.LastAccessAt = lastAccessAt
	}
	return nil
}

func (f *fakeSessionRepo) ListByUser(_ context.Context, realmID, userID string) ([]*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []*session.Session
	for _, s := range f.sessions {
		if s.RealmID == realmID && s.UserID == userID {
			copied := *s
			all = append(all, &copied)
		}
	}
	return all, nil
}

func (f *fakeSessionRepo) Delete(_ context.Context, realmID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok && s.RealmID == realmID {
		delete(f.sessions, id)
		return nil
	}
	return apperr.NotFound("Session not found")
}

func (f *fakeSessionRepo) DeleteByUser(_ context.Context, realmID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, s := range f.sessions {
		if s.RealmID == realmID && s.UserID == userID {
			delete(f.sessions, id)
		}
	}
	return nil
}

func (f *fakeSessionRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	for id, s := range f.sessions {
		if s.Expired(now) {
			delete(f.sessions, id)
			removed++
		}
	}
	return removed, nil
}

type fakeRefreshRepo struct {
	mu     sync.Mutex
	tokens map[string]*session.RefreshToken
}

func newFakeRefreshRepo() *fakeRefreshRepo {
	return &fakeRefreshRepo{tokens: map[string]*session.RefreshToken{}}
}

func (f *fakeRefreshRepo) Create(_ context.Context, t *session.RefreshToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *t
	f.tokens[t.ID] = &copied
	return nil
}

func (f *fakeRefreshRepo) FindByTokenHash(_ context.Context, realmID, tokenHash string) (*session.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tokens {
		if t.RealmID == realmID && t.TokenHash == tokenHash {
			copied := *t
			return &copied, nil
		}
	}
	return nil, apperr.NotFound("Refresh token not found")
}

func (f *fakeRefreshRepo) Rotate(_ context.Context, predecessorID string, successor *session.RefreshToken) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	predecessor, ok := f.tokens[predecessorID]
	if !ok || predecessor.Revoked {
		return false, nil
	}
	predecessor.Revoked = true
	copied := *successor
	f.tokens[successor.ID] = &copied
	return true, nil
}

func (f *fakeRefreshRepo) RevokeFamily(_ context.Context, familyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tokens {
		if t.FamilyID == familyID {
			t.Revoked = true
		}
	}
	return nil
}

func (f *fakeRefreshRepo) RevokeBySession(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tokens {
		if t.SessionID == sessionID && !t.Offline {
			t.Revoked = true
		}
	}
	return nil
}

func (f *fakeRefreshRepo) ListOfflineByUser(_ context.Context, realmID, userID string) ([]*session.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []*session.RefreshToken
	for _, t := range f.tokens {
		if t.RealmID == realmID && t.UserID == userID && t.Offline && !t.Revoked {
			copied := *t
			all = append(all, &copied)
		}
	}
	return all, nil
}

func (f *fakeRefreshRepo) RevokeByID(_ context.Context, realmID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tokens[id]; ok && t.RealmID == realmID {
		t.Revoked = true
		return nil
	}
	return apperr.NotFound("Refresh token not found")
}

func (f *fakeRefreshRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	for id, t := range f.tokens {
		if t.Expired(now) {
			delete(f.tokens, id)
			removed++
		}
	}
	return removed, nil
}

type fakeKeyRepo struct {
	mu   sync.Mutex
	keys map[string]*token.SigningKey
}

func newFakeKeyRepo() *fakeKeyRepo {
	return &fakeKeyRepo{keys: map[string]*token.SigningKey{}}
}

func (f *fakeKeyRepo) Create(_ context.Context, key *token.SigningKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *key
	f.keys[key.KID] = &copied
	return nil
}

func (f *fakeKeyRepo) FindActive(_ context.Context, realmID string) (*token.SigningKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range f.keys {
		if key.RealmID == realmID && key.Active {
			copied := *key
			return &copied, nil
		}
	}
	return nil, apperr.NotFound("Signing key not found")
}

func (f *fakeKeyRepo) FindByKID(_ context.Context, realmID, kid string) (*token.SigningKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key, ok := f.keys[kid]
	if !ok || key.RealmID != realmID {
		return nil, apperr.NotFound("Signing key not found")
	}
	copied := *key
	return &copied, nil
}

func (f *fakeKeyRepo) List(_ context.Context, realmID string) ([]*token.SigningKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*token.SigningKey
	for _, key := range f.keys {
		if key.RealmID == realmID {
			copied := *key
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeKeyRepo) Activate(_ context.Context, realmID, kid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range f.keys {
		if key.RealmID == realmID {
			key.Active = key.KID == kid
		}
	}
	return nil
}

func (f *fakeKeyRepo) Delete(_ context.Context, realmID, kid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.keys, kid)
	return nil
}

type fakeCodeRepo struct {
	mu    sync.Mutex
	codes map[string]*oidc.AuthorizationCode
}

func newFakeCodeRepo() *fakeCodeRepo {
	return &fakeCodeRepo{codes: map[string]*oidc.AuthorizationCode{}}
}

func (f *fakeCodeRepo) Create(_ context.Context, code *oidc.AuthorizationCode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *code
	f.codes[code.ID] = &copied
	return nil
}

func (f *fakeCodeRepo) FindByHash(_ context.Context, realmID, codeHash string) (*oidc.AuthorizationCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, code := range f.codes {
		if code.RealmID == realmID && code.CodeHash == codeHash {
			copied := *code
			return &copied, nil
		}
	}
	return nil, apperr.NotFound("Authorization code not found")
}

func (f *fakeCodeRepo) Consume(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	code, ok := f.codes[id]
	if !ok || code.Consumed {
		return false, nil
	}
	code.Consumed = true
	return true, nil
}

func (f *fakeCodeRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	for id, code := range f.codes {
		if code.Expired(now) {
			delete(f.codes, id)
			removed++
		}
	}
	return removed, nil
}

type fakeDeviceRepo struct {
	mu    sync.Mutex
	codes map[string]*oidc.DeviceCode
}

func newFakeDeviceRepo() *fakeDeviceRepo {
	return &fakeDeviceRepo{codes: map[string]*oidc.DeviceCode{}}
}

func (f *fakeDeviceRepo) Create(_ context.Context, code *oidc.DeviceCode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *code
	f.codes[code.ID] = &copied
	return nil
}

func (f *fakeDeviceRepo) FindByDeviceHash(_ context.Context, realmID, deviceCodeHash string) (*oidc.DeviceCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, code := range f.codes {
		if code.RealmID == realmID && code.DeviceCodeHash == deviceCodeHash {
			copied := *code
			return &copied, nil
		}
	}
	return nil, apperr.NotFound("Device code not found")
}

func (f *fakeDeviceRepo) FindByUserCode(_ context.Context, realmID, userCode string) (*oidc.DeviceCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, code := range f.codes {
		if code.RealmID == realmID && code.UserCode == userCode {
			copied := *code
			return &copied, nil
		}
	}
	return nil, apperr.NotFound("Device code not found")
}

func (f *fakeDeviceRepo) Decide(_ context.Context, id string, status oidc.DeviceStatus, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	code, ok := f.codes[id]
	if !ok || code.Status != oidc.DeviceStatusPending {
		return false, nil
	}
	code.Status = status
	code.UserID = userID
	return true, nil
}

func (f *fakeDeviceRepo) ConsumeApproved(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	code, ok := f.codes[id]
	if !ok || code.Status != oidc.DeviceStatusApproved || code.Consumed {
		return false, nil
	}
	code.Consumed = true
	return true, nil
}

func (f *fakeDeviceRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	for id, code := range f.codes {
		if code.Expired(now) {
			delete(f.codes, id)
			removed++
		}
	}
	return removed, nil
}

type fakeConsentRepo struct {
	mu       sync.Mutex
	consents map[string]*oidc.UserConsent // keyed by realm/user/client
}

func newFakeConsentRepo() *fakeConsentRepo {
	return &fakeConsentRepo{consents: map[string]*oidc.UserConsent{}}
}

func consentKey(realmID, userID, clientID string) string {
	return realmID + "/" + userID + "/" + clientID
}

func (f *fakeConsentRepo) Find(_ context.Context, realmID, userID, clientID string) (*oidc.UserConsent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.consents[consentKey(realmID, userID, clientID)]; ok {
		copied := *c
		return &copied, nil
	}
	return nil, apperr.NotFound("Consent not found")
}

func (f *fakeConsentRepo) Upsert(_ context.Context, c *oidc.UserConsent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *c
	f.consents[consentKey(c.RealmID, c.UserID, c.ClientID)] = &copied
	return nil
}

func (f *fakeConsentRepo) ListByUser(_ context.Context, realmID, userID string) ([]*oidc.UserConsent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []*oidc.UserConsent
	for _, c := range f.consents {
		if c.RealmID == realmID && c.UserID == userID {
			copied := *c
			all = append(all, &copied)
		}
	}
	return all, nil
}

func (f *fakeConsentRepo) Delete(_ context.Context, realmID, userID, clientID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.consents, consentKey(realmID, userID, clientID))
	return nil
}

type fakeConsentRequests struct {
	mu       sync.Mutex
	requests map[string]*oidc.ConsentRequest
}

func newFakeConsentRequests() *fakeConsentRequests {
	return &fakeConsentRequests{requests: map[string]*oidc.ConsentRequest{}}
}

func (f *fakeConsentRequests) Set(_ context.Context, request *oidc.ConsentRequest, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *request
	f.requests[request.ID] = &copied
	return nil
}

func (f *fakeConsentRequests) Consume(_ context.Context, id string) (*oidc.ConsentRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	request, ok := f.requests[id]
	if !ok {
		return nil, apperr.NotFound("Consent request not found")
	}
	delete(f.requests, id)
	return request, nil
}

type fakeThrottle struct {
	mu    sync.Mutex
	allow bool
}

func (f *fakeThrottle) Acquire(context.Context, string, time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.allow, nil
}

func (f *fakeThrottle) setAllow(allow bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allow = allow
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
	fixtureRealmID  = "realm-1"
	webAppSecret    = "s3cret-of-web-app"
	portalSecret    = "s3cret-of-portal"
	alicePassword   = "Tr0ub4dor&3"
	fixtureBaseURL  = "https://id.example.com"
	fixtureRedirect = "https://app.example.com/callback"
	pkceVerifier    = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
)

type protocolFixture struct {
	service  *oidc.Service
	sessions *session.Service
	factory  *token.Factory
	clock    *clock.Fake
	realm    *realm.Realm
	webApp   *client.Client
	portal   *client.Client
	spa      *client.Client
	tv       *client.Client
	alice    *user.User
	throttle *fakeThrottle
	events   *captureRecorder
}

func newProtocolFixture(t *testing.T) *protocolFixture {
	t.Helper()

	fixed := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	currentRealm := &realm.Realm{
		ID:                   fixtureRealmID,
		Name:                 "acme",
		Enabled:              true,
		AccessTokenLifespan:  5 * time.Minute,
		RefreshTokenLifespan: 24 * time.Hour,
		SsoSessionLifespan:   10 * time.Hour,
	}

	clientRepo := newFakeClientRepo()
	scopeRepo := newFakeScopeRepo()
	clientService := client.NewService(clientRepo, scopeRepo, noopProvisioner{})

	webApp := &client.Client{
		ID:           "c-web",
		RealmID:      fixtureRealmID,
		ClientID:     "web-app",
		Name:         "Web App",
		Type:         client.TypeConfidential,
		SecretHash:   sec.HashToken(webAppSecret),
		RedirectURIs: []string{fixtureRedirect},
		GrantTypes: []string{
			client.GrantAuthorizationCode,
			client.GrantRefreshToken,
			client.GrantClientCredentials,
			client.GrantPassword,
		},
		ServiceAccountUserID: "svc-web",
		Enabled:              true,
	}
	portal := &client.Client{
		ID:             "c-portal",
		RealmID:        fixtureRealmID,
		ClientID:       "portal",
		Name:           "Customer Portal",
		Type:           client.TypeConfidential,
		SecretHash:     sec.HashToken(portalSecret),
		RedirectURIs:   []string{fixtureRedirect},
		GrantTypes:     []string{client.GrantAuthorizationCode, client.GrantRefreshToken},
		RequireConsent: true,
		Enabled:        true,
	}
	spa := &client.Client{
		ID:           "c-spa",
		RealmID:      fixtureRealmID,
		ClientID:     "spa",
		Name:         "Single Page App",
		Type:         client.TypePublic,
		RedirectURIs: []string{fixtureRedirect},
		GrantTypes:   []string{client.GrantAuthorizationCode, client.GrantRefreshToken},
		Enabled:      true,
	}
	tv := &client.Client{
		ID:         "c-tv",
		RealmID:    fixtureRealmID,
		ClientID:   "tv-app",
		Name:       "Television",
		Type:       client.TypePublic,
		GrantTypes: []string{client.GrantDeviceCode},
		Enabled:    true,
	}
	require.NoError(t, clientRepo.Create(context.Background(), webApp))
	require.NoError(t, clientRepo.Create(context.Background(), portal))
	require.NoError(t, clientRepo.Create(context.Background(), spa))
	require.NoError(t, clientRepo.Create(context.Background(), tv))

	for _, name := range []string{oidc.ScopeOpenID, "profile", "email"} {
		scope := &client.Scope{ID: "s-" + name, RealmID: fixtureRealmID, Name: name}
		require.NoError(t, scopeRepo.Create(context.Background(), scope))
		for _, clientRow := range []string{"c-web", "c-portal", "c-spa", "c-tv"} {
			require.NoError(t, scopeRepo.Assign(context.Background(),
				&client.Assignment{ClientID: clientRow, ScopeID: scope.ID, DefaultScope: true}))
		}
	}
	offline := &client.Scope{ID: "s-offline", RealmID: fixtureRealmID, Name: oidc.ScopeOfflineAccess}
	require.NoError(t, scopeRepo.Create(context.Background(), offline))
	require.NoError(t, scopeRepo.Assign(context.Background(),
		&client.Assignment{ClientID: "c-web", ScopeID: offline.ID, DefaultScope: false}))

	userRepo := newFakeUserRepo()
	passwordHash, err := sec.HashPassword(alicePassword)
	require.NoError(t, err)
	alice := &user.User{
		ID:           "user-alice",
		RealmID:      fixtureRealmID,
		Username:     "alice",
		Email:        "alice@example.com",
		FirstName:    "Alice",
		LastName:     "Doe",
		Enabled:      true,
		PasswordHash: passwordHash,
	}
	serviceAccount := &user.User{
		ID:       "svc-web",
		RealmID:  fixtureRealmID,
		Username: "service-account-web-app",
		Enabled:  true,
	}
	require.NoError(t, userRepo.Create(context.Background(), alice))
	require.NoError(t, userRepo.Create(context.Background(), serviceAccount))

	guard := user.NewGuard(fakeFailureRepo{}, fixed)
	policy := user.NewPolicy(fakeHistoryRepo{}, fixed)
	userService := user.NewService(userRepo, policy, guard, fakeVerificationRepo{}, noopMail{}, fixed)
	verifier := user.NewVerifier(userRepo, guard, nil)

	roleService := rbac.NewService(fakeRoleRepo{}, fakeGroupRepo{}, fixed)

	sessionService := session.NewService(newFakeSessionRepo(), newFakeRefreshRepo(), nil, userService, fixed)

	wrapper, err := sec.NewKeyWrapper(strings.Repeat("cd", 32))
	require.NoError(t, err)
	manager := token.NewManager(newFakeKeyRepo(), wrapper, fixed)
	require.NoError(t, manager.ProvisionInitialKey(context.Background(), fixtureRealmID))
	factory := token.NewFactory(manager, fixtureBaseURL, fixed)

	throttle := &fakeThrottle{allow: true}
	events := &captureRecorder{}

	service := oidc.NewService(
		clientService,
		userService,
		verifier,
		roleService,
		sessionService,
		factory,
		newFakeCodeRepo(),
		newFakeDeviceRepo(),
		newFakeConsentRepo(),
		newFakeConsentRequests(),
		throttle,
		events,
		fixtureBaseURL,
		fixed,
	)

	return &protocolFixture{
		service:  service,
		sessions: sessionService,
		factory:  factory,
		clock:    fixed,
		realm:    currentRealm,
		webApp:   webApp,
		portal:   portal,
		spa:      spa,
		tv:       tv,
		alice:    alice,
		throttle: throttle,
		events:   events,
	}
}

// login opens an SSO session for alice and returns it.
func (fx *protocolFixture) login(t *testing.T) *session.Session {
	t.Helper()
	currentSession, _, err := fx.sessions.CreateSession(context.Background(), fx.realm,
		fx.alice.ID, "203.0.113.7", "test-agent", false)
	require.NoError(t, err)
	return currentSession
}

// authorize runs the post-login half of the authorization endpoint and
// returns the raw code extracted from the redirect.
func (fx *protocolFixture) authorize(t *testing.T, registered *client.Client, request oidc.AuthorizeRequest, currentSession *session.Session) string {
	t.Helper()

	redirect, err := fx.service.ContinueAuthorization(context.Background(), fx.realm,
		registered, request, currentSession)
	require.NoError(t, err)

	parsed, err := url.Parse(redirect)
	require.NoError(t, err)
	code := parsed.Query().Get("code")
	require.NotEmpty(t, code)
	return code
}

func pkceChallenge(verifier string) string {
	digest := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(digest[:])
}

func protocolError(t *testing.T, err error) *oautherr.Error {
	t.Helper()
	var protocolErr *oautherr.Error
	require.ErrorAs(t, err, &protocolErr)
	return protocolErr
}

// # Authorization Code Grant

func TestAuthorizationCodeFlow_FullRoundTrip(t *testing.T) {
	fx := newProtocolFixture(t)
	currentSession := fx.login(t)

	registered, err := fx.service.ResolveAuthorizeClient(context.Background(), fx.realm,
		"web-app", fixtureRedirect)
	require.NoError(t, err)

	request := oidc.AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            "web-app",
		RedirectURI:         fixtureRedirect,
		Scope:               "openid profile email",
		State:               "xyz",
		Nonce:               "n-0S6_WzA2Mj",
		CodeChallenge:       pkceChallenge(pkceVerifier),
		CodeChallengeMethod: sec.PKCEMethodS256,
	}
	require.Nil(t, fx.service.CheckAuthorizeRequest(fx.realm, registered, request))

	redirect, err := fx.service.ContinueAuthorization(context.Background(), fx.realm,
		registered, request, currentSession)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(redirect, fixtureRedirect+"?"))

	parsed, err := url.Parse(redirect)
	require.NoError(t, err)
	assert.Equal(t, "xyz", parsed.Query().Get("state"))
	code := parsed.Query().Get("code")
	require.NotEmpty(t, code)

	response, err := fx.service.Token(context.Background(), fx.realm, oidc.TokenRequest{
		GrantType:    client.GrantAuthorizationCode,
		ClientID:     "web-app",
		ClientSecret: webAppSecret,
		Code:         code,
		RedirectURI:  fixtureRedirect,
		CodeVerifier: pkceVerifier,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, response.AccessToken)
	assert.NotEmpty(t, response.RefreshToken)
	assert.NotEmpty(t, response.IDToken, "openid scope must produce an ID token")
	assert.Equal(t, "Bearer", response.TokenType)
	assert.Equal(t, int64(300), response.ExpiresIn)
	assert.Equal(t, currentSession.ID, response.SessionState)

	claims, err := fx.factory.Verify(context.Background(), fx.realm, response.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, fx.alice.ID, claims["sub"])
	assert.Equal(t, fixtureBaseURL+"/realms/acme", claims["iss"])

	assert.Contains(t, fx.events.kinds(), event.KindCodeIssued)
	assert.Contains(t, fx.events.kinds(), event.KindTokenIssued)
}

func TestAuthorizationCode_ReplayDestroysSession(t *testing.T) {
	fx := newProtocolFixture(t)
	currentSession := fx.login(t)

	code := fx.authorize(t, fx.webApp, oidc.AuthorizeRequest{
		ResponseType: "code",
		ClientID:     "web-app",
		RedirectURI:  fixtureRedirect,
		Scope:        "openid",
	}, currentSession)

	redeem := oidc.TokenRequest{
		GrantType:    client.GrantAuthorizationCode,
		ClientID:     "web-app",
		ClientSecret: webAppSecret,
		Code:         code,
		RedirectURI:  fixtureRedirect,
	}

	_, err := fx.service.Token(context.Background(), fx.realm, redeem)
	require.NoError(t, err)

	_, err = fx.service.Token(context.Background(), fx.realm, redeem)
	assert.Equal(t, "invalid_grant", protocolError(t, err).Code)

	_, err = fx.sessions.GetLive(context.Background(), fx.realm, currentSession.ID)
	assert.True(t, apperr.IsNotFound(err), "replay must destroy the backing session")
}

func TestAuthorizationCode_PKCE(t *testing.T) {
	fx := newProtocolFixture(t)

	t.Run("required for public clients", func(t *testing.T) {
		protocolErr := fx.service.CheckAuthorizeRequest(fx.realm, fx.spa, oidc.AuthorizeRequest{
			ResponseType: "code",
			ClientID:     "spa",
			RedirectURI:  fixtureRedirect,
		})
		require.NotNil(t, protocolErr)
		assert.Equal(t, "invalid_request", protocolErr.Code)
	})

	t.Run("only S256 is accepted", func(t *testing.T) {
		protocolErr := fx.service.CheckAuthorizeRequest(fx.realm, fx.spa, oidc.AuthorizeRequest{
			ResponseType:        "code",
			ClientID:            "spa",
			RedirectURI:         fixtureRedirect,
			CodeChallenge:       pkceChallenge(pkceVerifier),
			CodeChallengeMethod: "plain",
		})
		require.NotNil(t, protocolErr)
		assert.Equal(t, "invalid_request", protocolErr.Code)
	})

	t.Run("wrong verifier is rejected", func(t *testing.T) {
		currentSession := fx.login(t)
		code := fx.authorize(t, fx.spa, oidc.AuthorizeRequest{
			ResponseType:        "code",
			ClientID:            "spa",
			RedirectURI:         fixtureRedirect,
			Scope:               "openid",
			CodeChallenge:       pkceChallenge(pkceVerifier),
			CodeChallengeMethod: sec.PKCEMethodS256,
		}, currentSession)

		_, err := fx.service.Token(context.Background(), fx.realm, oidc.TokenRequest{
			GrantType:    client.GrantAuthorizationCode,
			ClientID:     "spa",
			Code:         code,
			RedirectURI:  fixtureRedirect,
			CodeVerifier: "not-the-right-verifier-at-all-0000000000000",
		})
		assert.Equal(t, "invalid_grant", protocolError(t, err).Code)
	})
}

func TestResolveAuthorizeClient_NeverRedirectsBadTargets(t *testing.T) {
	fx := newProtocolFixture(t)

	_, err := fx.service.ResolveAuthorizeClient(context.Background(), fx.realm, "ghost", fixtureRedirect)
	assert.Equal(t, "invalid_request", protocolError(t, err).Code)

	// Registered client, attacker-controlled redirect.
	_, err = fx.service.ResolveAuthorizeClient(context.Background(), fx.realm, "web-app",
		"https://evil.example.com/callback")
	assert.Equal(t, "invalid_request", protocolError(t, err).Code)

	// Exact match only: a sub-path of a registered URI is rejected.
	_, err = fx.service.ResolveAuthorizeClient(context.Background(), fx.realm, "web-app",
		fixtureRedirect+"/extra")
	assert.Equal(t, "invalid_request", protocolError(t, err).Code)
}

// # Consent

func TestConsentFlow(t *testing.T) {
	fx := newProtocolFixture(t)

	currentSession := fx.login(t)
	request := oidc.AuthorizeRequest{
		ResponseType: "code",
		ClientID:     "portal",
		RedirectURI:  fixtureRedirect,
		Scope:        "openid profile",
		State:        "abc",
	}

	redirect, err := fx.service.ContinueAuthorization(context.Background(), fx.realm,
		fx.portal, request, currentSession)
	require.NoError(t, err)
	require.Contains(t, redirect, "/realms/acme/login/consent?")

	parsed, err := url.Parse(redirect)
	require.NoError(t, err)
	requestID := parsed.Query().Get("request_id")
	require.NotEmpty(t, requestID)

	final, err := fx.service.FinishConsent(context.Background(), fx.realm, requestID, true)
	require.NoError(t, err)
	finalURL, err := url.Parse(final)
	require.NoError(t, err)
	assert.NotEmpty(t, finalURL.Query().Get("code"))
	assert.Equal(t, "abc", finalURL.Query().Get("state"))

	// The request is single-use.
	_, err = fx.service.FinishConsent(context.Background(), fx.realm, requestID, true)
	assert.True(t, apperr.IsNotFound(err))

	// Consent is durable: the next authorization skips the prompt.
	again, err := fx.service.ContinueAuthorization(context.Background(), fx.realm,
		fx.portal, request, currentSession)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(again, fixtureRedirect+"?"))

	consents, err := fx.service.ListConsents(context.Background(), fx.realm.ID, fx.alice.ID)
	require.NoError(t, err)
	require.Len(t, consents, 1)
	assert.ElementsMatch(t, []string{"openid", "profile", "email"}, consents[0].Scopes)

	// Revocation brings the prompt back.
	require.NoError(t, fx.service.RevokeConsent(context.Background(), fx.realm.ID, fx.alice.ID, "portal"))
	prompted, err := fx.service.ContinueAuthorization(context.Background(), fx.realm,
		fx.portal, request, currentSession)
	require.NoError(t, err)
	assert.Contains(t, prompted, "/login/consent?")
}

func TestConsentContextRotatesRequestID(t *testing.T) {
	fx := newProtocolFixture(t)

	currentSession := fx.login(t)
	redirect, err := fx.service.ContinueAuthorization(context.Background(), fx.realm,
		fx.portal, oidc.AuthorizeRequest{
			ResponseType: "code",
			ClientID:     "portal",
			RedirectURI:  fixtureRedirect,
			Scope:        "openid profile",
			State:        "abc",
		}, currentSession)
	require.NoError(t, err)

	parsed, err := url.Parse(redirect)
	require.NoError(t, err)
	issued := parsed.Query().Get("request_id")
	require.NotEmpty(t, issued)

	view, err := fx.service.ConsentContext(context.Background(), fx.realm, issued)
	require.NoError(t, err)
	assert.Equal(t, "portal", view.ClientID)
	assert.Contains(t, view.Scopes, "openid")
	require.NotEmpty(t, view.RequestID)
	assert.NotEqual(t, issued, view.RequestID)

	// The superseded id can no longer render or decide the request.
	_, err = fx.service.ConsentContext(context.Background(), fx.realm, issued)
	assert.True(t, apperr.IsNotFound(err))
	_, err = fx.service.FinishConsent(context.Background(), fx.realm, issued, true)
	assert.True(t, apperr.IsNotFound(err))

	// The rotated id still completes the flow.
	final, err := fx.service.FinishConsent(context.Background(), fx.realm, view.RequestID, true)
	require.NoError(t, err)
	finalURL, err := url.Parse(final)
	require.NoError(t, err)
	assert.NotEmpty(t, finalURL.Query().Get("code"))
}

func TestConsentDenialRedirectsAccessDenied(t *testing.T) {
	fx := newProtocolFixture(t)

	currentSession := fx.login(t)
	redirect, err := fx.service.ContinueAuthorization(context.Background(), fx.realm,
		fx.portal, oidc.AuthorizeRequest{
			ResponseType: "code",
			ClientID:     "portal",
			RedirectURI:  fixtureRedirect,
			Scope:        "openid",
			State:        "s1",
		}, currentSession)
	require.NoError(t, err)

	parsed, _ := url.Parse(redirect)
	final, err := fx.service.FinishConsent(context.Background(), fx.realm,
		parsed.Query().Get("request_id"), false)
	require.NoError(t, err)

	finalURL, err := url.Parse(final)
	require.NoError(t, err)
	assert.Equal(t, "access_denied", finalURL.Query().Get("error"))
	assert.Equal(t, "s1", finalURL.Query().Get("state"))
	assert.Contains(t, fx.events.kinds(), event.KindConsentDenied)
}

// # Refresh Token Grant

func TestRefreshRotation_ReuseBurnsFamily(t *testing.T) {
	fx := newProtocolFixture(t)
	currentSession := fx.login(t)

	code := fx.authorize(t, fx.webApp, oidc.AuthorizeRequest{
		ResponseType: "code",
		ClientID:     "web-app",
		RedirectURI:  fixtureRedirect,
		Scope:        "openid",
	}, currentSession)

	first, err := fx.service.Token(context.Background(), fx.realm, oidc.TokenRequest{
		GrantType:    client.GrantAuthorizationCode,
		ClientID:     "web-app",
		ClientSecret: webAppSecret,
		Code:         code,
		RedirectURI:  fixtureRedirect,
	})
	require.NoError(t, err)

	second, err := fx.service.Token(context.Background(), fx.realm, oidc.TokenRequest{
		GrantType:    client.GrantRefreshToken,
		ClientID:     "web-app",
		ClientSecret: webAppSecret,
		RefreshToken: first.RefreshToken,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, second.RefreshToken)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	// Replaying the rotated-out predecessor burns the whole family.
	_, err = fx.service.Token(context.Background(), fx.realm, oidc.TokenRequest{
		GrantType:    client.GrantRefreshToken,
		ClientID:     "web-app",
		ClientSecret: webAppSecret,
		RefreshToken: first.RefreshToken,
	})
	assert.Equal(t, "invalid_grant", protocolError(t, err).Code)

	_, err = fx.service.Token(context.Background(), fx.realm, oidc.TokenRequest{
		GrantType:    client.GrantRefreshToken,
		ClientID:     "web-app",
		ClientSecret: webAppSecret,
		RefreshToken: second.RefreshToken,
	})
	assert.Equal(t, "invalid_grant", protocolError(t, err).Code,
		"the successor must die with the family")
}

// # Machine Grants

func TestClientCredentialsGrant(t *testing.T) {
	fx := newProtocolFixture(t)

	response, err := fx.service.Token(context.Background(), fx.realm, oidc.TokenRequest{
		GrantType:    client.GrantClientCredentials,
		ClientID:     "web-app",
		ClientSecret: webAppSecret,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, response.AccessToken)
	assert.Empty(t, response.RefreshToken, "machine tokens carry no refresh side")
	assert.Empty(t, response.SessionState)

	claims, err := fx.factory.Verify(context.Background(), fx.realm, response.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "svc-web", claims["sub"])
}

func TestClientCredentialsRejectsPublicAndSecretless(t *testing.T) {
	fx := newProtocolFixture(t)

	_, err := fx.service.Token(context.Background(), fx.realm, oidc.TokenRequest{
		GrantType: client.GrantClientCredentials,
		ClientID:  "web-app",
	})
	assert.Equal(t, "invalid_client", protocolError(t, err).Code)

	_, err = fx.service.Token(context.Background(), fx.realm, oidc.TokenRequest{
		GrantType: client.GrantClientCredentials,
		ClientID:  "spa",
	})
	assert.Equal(t, "unauthorized_client", protocolError(t, err).Code)
}

func TestPasswordGrant(t *testing.T) {
	fx := newProtocolFixture(t)

	_, err := fx.service.Token(context.Background(), fx.realm, oidc.TokenRequest{
		GrantType:    client.GrantPassword,
		ClientID:     "web-app",
		ClientSecret: webAppSecret,
		Username:     "alice",
		Password:     "wrong-password",
	})
	require.Error(t, err)
	assert.Contains(t, fx.events.kinds(), event.KindLoginFailed)

	response, err := fx.service.Token(context.Background(), fx.realm, oidc.TokenRequest{
		GrantType:    client.GrantPassword,
		ClientID:     "web-app",
		ClientSecret: webAppSecret,
		Username:     "alice",
		Password:     alicePassword,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, response.AccessToken)
	assert.NotEmpty(t, response.RefreshToken)
}

// # Device Authorization Grant

func TestDeviceFlow(t *testing.T) {
	fx := newProtocolFixture(t)

	started, err := fx.service.StartDeviceAuthorization(context.Background(), fx.realm, "tv-app", "openid")
	require.NoError(t, err)
	assert.NotEmpty(t, started.DeviceCode)
	assert.Regexp(t, `^[BCDFGHJKLMNPQRSTVWXZ]{4}-[BCDFGHJKLMNPQRSTVWXZ]{4}$`, started.UserCode)
	assert.Equal(t, fixtureBaseURL+"/realms/acme/device", started.VerificationURI)
	assert.Contains(t, started.VerificationURIComplete, "user_code=")

	poll := oidc.TokenRequest{
		GrantType:  client.GrantDeviceCode,
		ClientID:   "tv-app",
		DeviceCode: started.DeviceCode,
	}

	_, err = fx.service.Token(context.Background(), fx.realm, poll)
	assert.Equal(t, "authorization_pending", protocolError(t, err).Code)

	fx.throttle.setAllow(false)
	_, err = fx.service.Token(context.Background(), fx.realm, poll)
	assert.Equal(t, "slow_down", protocolError(t, err).Code)
	fx.throttle.setAllow(true)

	// The user types the code with sloppy casing and no hyphen.
	sloppy := strings.ToLower(strings.ReplaceAll(started.UserCode, "-", ""))
	require.NoError(t, fx.service.DecideDevice(context.Background(), fx.realm, sloppy, fx.alice.ID, true))

	// Deciding twice conflicts.
	err = fx.service.DecideDevice(context.Background(), fx.realm, started.UserCode, fx.alice.ID, true)
	assert.True(t, apperr.HasCode(err, "CONFLICT"))

	response, err := fx.service.Token(context.Background(), fx.realm, poll)
	require.NoError(t, err)
	assert.NotEmpty(t, response.AccessToken)
	assert.NotEmpty(t, response.IDToken)

	// An approved code is redeemable exactly once.
	_, err = fx.service.Token(context.Background(), fx.realm, poll)
	assert.Equal(t, "invalid_grant", protocolError(t, err).Code)
}

func TestDeviceFlowDenialAndExpiry(t *testing.T) {
	fx := newProtocolFixture(t)

	denied, err := fx.service.StartDeviceAuthorization(context.Background(), fx.realm, "tv-app", "")
	require.NoError(t, err)
	require.NoError(t, fx.service.DecideDevice(context.Background(), fx.realm, denied.UserCode, fx.alice.ID, false))

	_, err = fx.service.Token(context.Background(), fx.realm, oidc.TokenRequest{
		GrantType:  client.GrantDeviceCode,
		ClientID:   "tv-app",
		DeviceCode: denied.DeviceCode,
	})
	assert.Equal(t, "access_denied", protocolError(t, err).Code)

	expired, err := fx.service.StartDeviceAuthorization(context.Background(), fx.realm, "tv-app", "")
	require.NoError(t, err)

	fx.clock.Advance(11 * time.Minute)
	_, err = fx.service.Token(context.Background(), fx.realm, oidc.TokenRequest{
		GrantType:  client.GrantDeviceCode,
		ClientID:   "tv-app",
		DeviceCode: expired.DeviceCode,
	})
	assert.Equal(t, "expired_token", protocolError(t, err).Code)
}

// # Introspection & Revocation

func TestIntrospectAndRevoke(t *testing.T) {
	fx := newProtocolFixture(t)
	currentSession := fx.login(t)

	code := fx.authorize(t, fx.webApp, oidc.AuthorizeRequest{
		ResponseType: "code",
		ClientID:     "web-app",
		RedirectURI:  fixtureRedirect,
		Scope:        "openid",
	}, currentSession)

	issued, err := fx.service.Token(context.Background(), fx.realm, oidc.TokenRequest{
		GrantType:    client.GrantAuthorizationCode,
		ClientID:     "web-app",
		ClientSecret: webAppSecret,
		Code:         code,
		RedirectURI:  fixtureRedirect,
	})
	require.NoError(t, err)

	active, err := fx.service.Introspect(context.Background(), fx.realm, issued.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, true, active["active"])
	assert.Equal(t, fx.alice.ID, active["sub"])

	refresh, err := fx.service.Introspect(context.Background(), fx.realm, issued.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, true, refresh["active"])
	assert.Equal(t, "refresh_token", refresh["token_type"])

	garbage, err := fx.service.Introspect(context.Background(), fx.realm, "not-a-token")
	require.NoError(t, err)
	assert.Equal(t, false, garbage["active"])

	require.NoError(t, fx.service.Revoke(context.Background(), fx.realm, fx.webApp, issued.RefreshToken))
	revoked, err := fx.service.Introspect(context.Background(), fx.realm, issued.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, false, revoked["active"])

	// RFC 7009: revoking an unknown token still succeeds.
	assert.NoError(t, fx.service.Revoke(context.Background(), fx.realm, fx.webApp, "unknown-token"))
}

// # Maintenance

func TestSweepRemovesExpiredCodes(t *testing.T) {
	fx := newProtocolFixture(t)
	currentSession := fx.login(t)

	fx.authorize(t, fx.webApp, oidc.AuthorizeRequest{
		ResponseType: "code",
		ClientID:     "web-app",
		RedirectURI:  fixtureRedirect,
		Scope:        "openid",
	}, currentSession)
	_, err := fx.service.StartDeviceAuthorization(context.Background(), fx.realm, "tv-app", "")
	require.NoError(t, err)

	fx.clock.Advance(time.Hour)
	removed, err := fx.service.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
}

// # Discovery

func TestDiscovery_AdvertisesCoreCapabilities(t *testing.T) {
	fx := newProtocolFixture(t)

	document := fx.service.Discovery(fx.realm)

	assert.Equal(t, fixtureBaseURL+"/realms/acme", document.Issuer)
	assert.Equal(t, document.Issuer+"/protocol/openid-connect/certs", document.JwksURI)
	assert.Equal(t, []string{"code"}, document.ResponseTypesSupported)
	assert.Subset(t, document.ScopesSupported,
		[]string{"openid", "profile", "email", "roles", "offline_access"})
	assert.Equal(t, []string{"S256"}, document.CodeChallengeMethodsSupported)
	assert.True(t, document.BackchannelLogoutSupported)
}
