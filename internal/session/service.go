// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package session

import (
	"context"
	"net/http"
	"time"

	"github.com/taibuivan/authme/internal/platform/apperr"
	"github.com/taibuivan/authme/internal/platform/clock"
	"github.com/taibuivan/authme/internal/platform/constants"
	"github.com/taibuivan/authme/internal/platform/sec"
	"github.com/taibuivan/authme/internal/realm"
	"github.com/taibuivan/authme/pkg/uuid"
)

// # Collaborator Contracts

// LogoutBroadcaster fans a logout out to clients registered for
// back-channel notification. Delivery is asynchronous and best-effort.
type LogoutBroadcaster interface {
	EnqueueLogout(currentRealm *realm.Realm, userID, sessionID string)
}

// AccountGate reports whether a session's user may still use the account.
// Implemented by the user domain. A disabled account invalidates every
// live session on its next resolution.
type AccountGate interface {
	IsEnabled(context context.Context, realmID, userID string) (bool, error)
}

// # Service Definition

// Service orchestrates SSO sessions and refresh token families.
type Service struct {
	sessions SessionRepository
	refresh  RefreshTokenRepository
	notifier LogoutBroadcaster
	accounts AccountGate
	clock    clock.Clock
}

// NewService wires the session service. notifier may be nil when
// back-channel logout is not deployed.
func NewService(sessions SessionRepository, refresh RefreshTokenRepository, notifier LogoutBroadcaster, accounts AccountGate, clk clock.Clock) *Service {
	return &Service{sessions: sessions, refresh: refresh, notifier: notifier, accounts: accounts, clock: clk}
}

// # SSO Sessions

/*
CreateSession opens a browser session after a completed login.

Parameters:
  - context: context.Context
  - currentRealm: *realm.Realm
  - userID: string
  - ipAddress: string
  - userAgent: string
  - rememberMe: bool (extends expiry to the remember-me lifetime)

Returns:
  - *Session: The persisted session
  - string: The raw cookie token, never stored
  - error: Persistence failures
*/
func (service *Service) CreateSession(context context.Context, currentRealm *realm.Realm, userID, ipAddress, userAgent string, rememberMe bool) (*Session, string, error) {
	rawToken, err := sec.GenerateSecureToken(constants.SessionTokenLength)
	if err != nil {
		return nil, "", apperr.Internal(err)
	}

	now := service.clock.Now()
	lifespan := currentRealm.SsoSessionLifespan
	if lifespan <= 0 {
		lifespan = constants.SsoSessionTTL
	}
	if rememberMe {
		lifespan = constants.RememberMeSessionTTL
	}

	session := &Session{
		ID:           uuid.New(),
		RealmID:      currentRealm.ID,
		UserID:       userID,
		TokenHash:    sec.HashToken(rawToken),
		IPAddress:    ipAddress,
		UserAgent:    userAgent,
		RememberMe:   rememberMe,
		CreatedAt:    now,
		LastAccessAt: now,
		ExpiresAt:    now.Add(lifespan),
	}
	if err := service.sessions.Create(context, session); err != nil {
		return nil, "", err
	}
	return session, rawToken, nil
}

/*
Resolve validates a cookie token against the store.

An expired session is deleted on sight and reported as not found, so the
caller treats it exactly like an absent cookie. The same applies when the
session's account has been disabled since login.

Parameters:
  - context: context.Context
  - currentRealm: *realm.Realm
  - rawToken: string

Returns:
  - *Session: The live session
  - error: apperr.NotFound for unknown, expired, or disabled-user tokens
*/
func (service *Service) Resolve(context context.Context, currentRealm *realm.Realm, rawToken string) (*Session, error) {
	session, err := service.sessions.FindByTokenHash(context, currentRealm.ID, sec.HashToken(rawToken))
	if err != nil {
		return nil, err
	}

	now := service.clock.Now()
	if session.Expired(now) {
		_ = service.sessions.Delete(context, currentRealm.ID, session.ID)
		return nil, apperr.NotFound("Session not found")
	}

	enabled, err := service.accounts.IsEnabled(context, currentRealm.ID, session.UserID)
	if err != nil {
		return nil, err
	}
	if !enabled {
		_ = service.sessions.Delete(context, currentRealm.ID, session.ID)
		return nil, apperr.NotFound("Session not found")
	}

	if err := service.sessions.Touch(context, session.ID, now); err != nil {
		return nil, err
	}
	session.LastAccessAt = now
	return session, nil
}

/*
Logout destroys a session, revokes its non-offline refresh tokens, and
fans out back-channel notifications. Offline tokens survive.

Parameters:
  - context: context.Context
  - currentRealm: *realm.Realm
  - session: *Session

Returns:
  - error: Persistence failures
*/
func (service *Service) Logout(context context.Context, currentRealm *realm.Realm, session *Session) error {
	if err := service.refresh.RevokeBySession(context, session.ID); err != nil {
		return err
	}
	if err := service.sessions.Delete(context, currentRealm.ID, session.ID); err != nil && !apperr.IsNotFound(err) {
		return err
	}

	if service.notifier != nil {
		service.notifier.EnqueueLogout(currentRealm, session.UserID, session.ID)
	}
	return nil
}

// GetLive returns one session by id, or apperr.NotFound when it is
// unknown or already expired. Used when redeeming credentials that are
// bound to a session.
func (service *Service) GetLive(context context.Context, currentRealm *realm.Realm, sessionID string) (*Session, error) {
	session, err := service.sessions.FindByID(context, currentRealm.ID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Expired(service.clock.Now()) {
		return nil, apperr.NotFound("Session not found")
	}
	return session, nil
}

// ListSessions returns a user's live sessions for the admin surface.
func (service *Service) ListSessions(context context.Context, realmID, userID string) ([]*Session, error) {
	return service.sessions.ListByUser(context, realmID, userID)
}

// DestroySession force-terminates one session without back-channel fanout
// suppression: the same logout path applies.
func (service *Service) DestroySession(context context.Context, currentRealm *realm.Realm, sessionID string) error {
	session, err := service.sessions.FindByID(context, currentRealm.ID, sessionID)
	if err != nil {
		return err
	}
	return service.Logout(context, currentRealm, session)
}

// # Session Cookies

/*
WriteCookie sets the realm-scoped session cookie.

The path pins the cookie to one realm so multi-tenant deployments never
leak a session across tenants.

Parameters:
  - writer: http.ResponseWriter
  - currentRealm: *realm.Realm
  - rawToken: string
  - expiresAt: time.Time
  - secure: bool (false only in development over plain HTTP)
*/
func WriteCookie(writer http.ResponseWriter, currentRealm *realm.Realm, rawToken string, expiresAt time.Time, secure bool) {
	http.SetCookie(writer, &http.Cookie{
		Name:     constants.SessionCookieName,
		Value:    rawToken,
		Path:     "/realms/" + currentRealm.Name,
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie expires the realm-scoped session cookie.
func ClearCookie(writer http.ResponseWriter, currentRealm *realm.Realm, secure bool) {
	http.SetCookie(writer, &http.Cookie{
		Name:     constants.SessionCookieName,
		Value:    "",
		Path:     "/realms/" + currentRealm.Name,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// # Refresh Tokens

// IssueRefreshInput carries the parameters of a fresh grant.
type IssueRefreshInput struct {
	SessionID string
	UserID    string
	ClientID  string
	Scope     string
	Offline   bool
}

/*
IssueRefreshToken mints the first member of a new rotation family.

Parameters:
  - context: context.Context
  - currentRealm: *realm.Realm
  - input: IssueRefreshInput

Returns:
  - string: The raw token, never stored
  - *RefreshToken: The persisted entity
  - error: Persistence failures
*/
func (service *Service) IssueRefreshToken(context context.Context, currentRealm *realm.Realm, input IssueRefreshInput) (string, *RefreshToken, error) {
	rawToken, err := sec.GenerateSecureToken(constants.TokenLength)
	if err != nil {
		return "", nil, apperr.Internal(err)
	}

	now := service.clock.Now()
	token := &RefreshToken{
		ID:        uuid.New(),
		RealmID:   currentRealm.ID,
		SessionID: input.SessionID,
		UserID:    input.UserID,
		ClientID:  input.ClientID,
		TokenHash: sec.HashToken(rawToken),
		FamilyID:  uuid.New(),
		Offline:   input.Offline,
		Scope:     input.Scope,
		CreatedAt: now,
		ExpiresAt: now.Add(service.refreshLifespan(currentRealm, input.Offline)),
	}
	if err := service.refresh.Create(context, token); err != nil {
		return "", nil, err
	}
	return rawToken, token, nil
}

/*
RotateRefreshToken exchanges a live refresh token for its successor.

# Reuse Detection

Presenting a revoked family member is treated as theft: the entire family
is revoked and the backing session destroyed, ending both the attacker's
and the victim's credentials. A lost rotation race takes the same path,
since by then the presented token is revoked as well.

Parameters:
  - context: context.Context
  - currentRealm: *realm.Realm
  - rawToken: string
  - clientID: string (the authenticated caller, must match issuance)

Returns:
  - string: The successor's raw token
  - *RefreshToken: The successor entity
  - error: apperr.Unauthorized for invalid, expired, or reused tokens
*/
func (service *Service) RotateRefreshToken(context context.Context, currentRealm *realm.Realm, rawToken, clientID string) (string, *RefreshToken, error) {
	presented, err := service.refresh.FindByTokenHash(context, currentRealm.ID, sec.HashToken(rawToken))
	if err != nil {
		if apperr.IsNotFound(err) {
			return "", nil, apperr.Unauthorized("Refresh token is invalid")
		}
		return "", nil, err
	}

	if presented.ClientID != clientID {
		return "", nil, apperr.Unauthorized("Refresh token is invalid")
	}
	if presented.Revoked {
		if err := service.burnFamily(context, currentRealm, presented); err != nil {
			return "", nil, err
		}
		return "", nil, apperr.Unauthorized("Refresh token has been revoked")
	}
	if presented.Expired(service.clock.Now()) {
		return "", nil, apperr.Unauthorized("Refresh token has expired")
	}

	successorRaw, err := sec.GenerateSecureToken(constants.TokenLength)
	if err != nil {
		return "", nil, apperr.Internal(err)
	}

	now := service.clock.Now()
	successor := &RefreshToken{
		ID:        uuid.New(),
		RealmID:   presented.RealmID,
		SessionID: presented.SessionID,
		UserID:    presented.UserID,
		ClientID:  presented.ClientID,
		TokenHash: sec.HashToken(successorRaw),
		FamilyID:  presented.FamilyID,
		Offline:   presented.Offline,
		Scope:     presented.Scope,
		CreatedAt: now,
		ExpiresAt: now.Add(service.refreshLifespan(currentRealm, presented.Offline)),
	}

	won, err := service.refresh.Rotate(context, presented.ID, successor)
	if err != nil {
		return "", nil, err
	}
	if !won {
		if err := service.burnFamily(context, currentRealm, presented); err != nil {
			return "", nil, err
		}
		return "", nil, apperr.Unauthorized("Refresh token has been revoked")
	}

	return successorRaw, successor, nil
}

/*
RevokeByRawToken revokes the family of a presented refresh token. Unknown
tokens are ignored: RFC 7009 requires revocation to succeed regardless.

Parameters:
  - context: context.Context
  - currentRealm: *realm.Realm
  - rawToken: string

Returns:
  - error: Persistence failures only
*/
func (service *Service) RevokeByRawToken(context context.Context, currentRealm *realm.Realm, rawToken string) error {
	presented, err := service.refresh.FindByTokenHash(context, currentRealm.ID, sec.HashToken(rawToken))
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil
		}
		return err
	}
	return service.refresh.RevokeFamily(context, presented.FamilyID)
}

// ValidateRefreshToken returns a live token for introspection without
// rotating it.
func (service *Service) ValidateRefreshToken(context context.Context, currentRealm *realm.Realm, rawToken string) (*RefreshToken, error) {
	presented, err := service.refresh.FindByTokenHash(context, currentRealm.ID, sec.HashToken(rawToken))
	if err != nil {
		return nil, err
	}
	if presented.Revoked || presented.Expired(service.clock.Now()) {
		return nil, apperr.NotFound("Refresh token not found")
	}
	return presented, nil
}

// # Offline Tokens

// ListOfflineTokens returns the user's live offline tokens.
func (service *Service) ListOfflineTokens(context context.Context, realmID, userID string) ([]*RefreshToken, error) {
	return service.refresh.ListOfflineByUser(context, realmID, userID)
}

// RevokeOfflineToken revokes one offline token by ID.
func (service *Service) RevokeOfflineToken(context context.Context, realmID, id string) error {
	return service.refresh.RevokeByID(context, realmID, id)
}

// # Maintenance

// Sweep deletes expired sessions and refresh tokens. Run periodically.
func (service *Service) Sweep(context context.Context) (int64, error) {
	now := service.clock.Now()

	sessions, err := service.sessions.DeleteExpired(context, now)
	if err != nil {
		return 0, err
	}
	tokens, err := service.refresh.DeleteExpired(context, now)
	if err != nil {
		return sessions, err
	}
	return sessions + tokens, nil
}

// burnFamily revokes a compromised family and destroys its session.
func (service *Service) burnFamily(context context.Context, currentRealm *realm.Realm, member *RefreshToken) error {
	if err := service.refresh.RevokeFamily(context, member.FamilyID); err != nil {
		return err
	}
	if member.SessionID == "" {
		return nil
	}

	session, err := service.sessions.FindByID(context, currentRealm.ID, member.SessionID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil
		}
		return err
	}
	return service.Logout(context, currentRealm, session)
}

func (service *Service) refreshLifespan(currentRealm *realm.Realm, offline bool) time.Duration {
	if offline {
		if currentRealm.OfflineTokenLifespan > 0 {
			return currentRealm.OfflineTokenLifespan
		}
		return constants.DefaultOfflineTokenTTL
	}
	if currentRealm.RefreshTokenLifespan > 0 {
		return currentRealm.RefreshTokenLifespan
	}
	return constants.DefaultRefreshTokenTTL
}
