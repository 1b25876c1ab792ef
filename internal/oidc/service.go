// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package oidc

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/taibuivan/authme/internal/client"
	"github.com/taibuivan/authme/internal/event"
	"github.com/taibuivan/authme/internal/platform/apperr"
	"github.com/taibuivan/authme/internal/platform/clock"
	"github.com/taibuivan/authme/internal/platform/constants"
	"github.com/taibuivan/authme/internal/platform/oautherr"
	"github.com/taibuivan/authme/internal/platform/sec"
	"github.com/taibuivan/authme/internal/rbac"
	"github.com/taibuivan/authme/internal/realm"
	"github.com/taibuivan/authme/internal/session"
	"github.com/taibuivan/authme/internal/token"
	"github.com/taibuivan/authme/internal/user"
	"github.com/taibuivan/authme/pkg/uuid"
)

// # Contracts & Types

// EventRecorder is the fire-and-forget audit sink.
type EventRecorder interface {
	Record(event *event.Event)
}

// Service implements the OAuth/OIDC protocol use cases.
type Service struct {
	clients  *client.Service
	users    *user.Service
	verifier *user.Verifier
	roles    *rbac.Service
	sessions *session.Service
	tokens   *token.Factory

	codes           CodeRepository
	deviceCodes     DeviceCodeRepository
	consents        ConsentRepository
	consentRequests ConsentRequestRepository
	throttle        PollThrottle

	events  EventRecorder
	baseURL string
	clock   clock.Clock
}

// NewService constructs a new protocol [Service] with necessary dependencies.
func NewService(
	clients *client.Service,
	users *user.Service,
	verifier *user.Verifier,
	roles *rbac.Service,
	sessions *session.Service,
	tokens *token.Factory,
	codes CodeRepository,
	deviceCodes DeviceCodeRepository,
	consents ConsentRepository,
	consentRequests ConsentRequestRepository,
	throttle PollThrottle,
	events EventRecorder,
	baseURL string,
	clk clock.Clock,
) *Service {
	return &Service{
		clients:         clients,
		users:           users,
		verifier:        verifier,
		roles:           roles,
		sessions:        sessions,
		tokens:          tokens,
		codes:           codes,
		deviceCodes:     deviceCodes,
		consents:        consents,
		consentRequests: consentRequests,
		throttle:        throttle,
		events:          events,
		baseURL:         strings.TrimRight(baseURL, "/"),
		clock:           clk,
	}
}

// # Authorization Endpoint

// AuthorizeRequest carries the query parameters of one authorization
// request.
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	Prompt              string
}

/*
ResolveAuthorizeClient validates the parts of an authorization request
that must NEVER produce a redirect: an unknown client or an unregistered
redirect URI is rendered to the user agent, not delivered to the attacker
controlled address.

Parameters:
  - context: context.Context
  - currentRealm: *realm.Realm
  - clientID: string
  - redirectURI: string

Returns:
  - *client.Client: The registered client
  - error: oautherr.InvalidRequest rendered directly, never redirected
*/
func (service *Service) ResolveAuthorizeClient(context context.Context, currentRealm *realm.Realm, clientID, redirectURI string) (*client.Client, error) {
	if clientID == "" {
		return nil, oautherr.InvalidRequest("Missing client_id")
	}

	registered, err := service.clients.GetByClientID(context, currentRealm.ID, clientID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, oautherr.InvalidRequest("Unknown client")
		}
		return nil, err
	}
	if !registered.Enabled {
		return nil, oautherr.InvalidRequest("Client is disabled")
	}

	// Exact byte match only. No prefix, wildcard, or port tolerance.
	if redirectURI == "" || !registered.HasRedirectURI(redirectURI) {
		return nil, oautherr.InvalidRequest("Invalid redirect_uri")
	}
	return registered, nil
}

/*
CheckAuthorizeRequest validates the remainder of the request. The caller
has a verified redirect URI at this point, so failures here are delivered
to the client application via error redirect.

Parameters:
  - currentRealm: *realm.Realm
  - registered: *client.Client
  - request: AuthorizeRequest

Returns:
  - *oautherr.Error: nil when the request is acceptable
*/
func (service *Service) CheckAuthorizeRequest(currentRealm *realm.Realm, registered *client.Client, request AuthorizeRequest) *oautherr.Error {
	if request.ResponseType != "code" {
		return oautherr.New("unsupported_response_type", "Only the code response type is supported", http.StatusBadRequest)
	}
	if !registered.HasGrant(client.GrantAuthorizationCode) {
		return oautherr.UnauthorizedClient("Client may not use the authorization code grant")
	}

	// Public clients cannot keep a secret, so PKCE is their only binding
	// between the front channel and the token request.
	if registered.Type == client.TypePublic && request.CodeChallenge == "" {
		return oautherr.InvalidRequest("PKCE is required for public clients")
	}
	if request.CodeChallenge != "" && request.CodeChallengeMethod != sec.PKCEMethodS256 {
		return oautherr.InvalidRequest("Only the S256 code challenge method is supported")
	}
	return nil
}

// ErrorRedirect renders a protocol error onto a validated redirect URI.
func ErrorRedirect(redirectURI, state string, protocolErr *oautherr.Error) string {
	values := url.Values{"error": {protocolErr.Code}}
	if protocolErr.Description != "" {
		values.Set("error_description", protocolErr.Description)
	}
	if state != "" {
		values.Set("state", state)
	}
	return appendQuery(redirectURI, values)
}

// LoginURL is where the authorization endpoint sends an unauthenticated
// user agent: the realm's login page, carrying the original query so the
// flow can resume after authentication.
func (service *Service) LoginURL(currentRealm *realm.Realm, query url.Values) string {
	return service.baseURL + "/realms/" + currentRealm.Name + "/login?" + query.Encode()
}

// ConsentURL is where the authorization endpoint sends an authenticated
// user agent that still owes consent.
func (service *Service) ConsentURL(currentRealm *realm.Realm, requestID string) string {
	return service.baseURL + "/realms/" + currentRealm.Name + "/login/consent?" +
		url.Values{"request_id": {requestID}}.Encode()
}

/*
ContinueAuthorization advances a validated authorization request for an
already-authenticated session: it resolves the effective scopes, detours
through the consent screen when consent is still owed, and otherwise mints
the code.

Parameters:
  - context: context.Context
  - currentRealm: *realm.Realm
  - registered: *client.Client
  - request: AuthorizeRequest
  - currentSession: *session.Session

Returns:
  - string: The redirect URL to send the user agent to
  - error: Storage failures
*/
func (service *Service) ContinueAuthorization(context context.Context, currentRealm *realm.Realm, registered *client.Client, request AuthorizeRequest, currentSession *session.Session) (string, error) {
	resolved, err := service.clients.ResolveScopes(context, registered, request.Scope)
	if err != nil {
		return "", err
	}

	needsConsent, err := service.NeedsConsent(context, currentRealm, registered, currentSession.UserID, resolved.Names)
	if err != nil {
		return "", err
	}

	if needsConsent {
		requestID, err := service.StashConsentRequest(context, &ConsentRequest{
			RealmID:             currentRealm.ID,
			UserID:              currentSession.UserID,
			SessionID:           currentSession.ID,
			ClientID:            registered.ClientID,
			Scope:               resolved.String(),
			State:               request.State,
			Nonce:               request.Nonce,
			AuthTime:            currentSession.CreatedAt,
			RedirectURI:         request.RedirectURI,
			CodeChallenge:       request.CodeChallenge,
			CodeChallengeMethod: request.CodeChallengeMethod,
		})
		if err != nil {
			return "", err
		}
		return service.ConsentURL(currentRealm, requestID), nil
	}

	return service.IssueCode(context, currentRealm, CodeInput{
		Client:              registered,
		UserID:              currentSession.UserID,
		SessionID:           currentSession.ID,
		RedirectURI:         request.RedirectURI,
		Scope:               resolved.String(),
		State:               request.State,
		Nonce:               request.Nonce,
		CodeChallenge:       request.CodeChallenge,
		CodeChallengeMethod: request.CodeChallengeMethod,
		AuthTime:            currentSession.CreatedAt,
	})
}

// AuthenticateCaller authenticates a client for the endpoints that demand
// it outside the token grant dispatch (introspection, revocation).
func (service *Service) AuthenticateCaller(context context.Context, currentRealm *realm.Realm, clientID, clientSecret string) (*client.Client, error) {
	return service.authenticateClient(context, currentRealm, TokenRequest{ClientID: clientID, ClientSecret: clientSecret})
}

// # Code Issuance

// CodeInput carries everything needed to mint one authorization code.
type CodeInput struct {
	Client              *client.Client
	UserID              string
	SessionID           string
	RedirectURI         string
	Scope               string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	AuthTime            time.Time
}

/*
IssueCode mints a single-use authorization code and returns the full
redirect URL delivering it.

Parameters:
  - context: context.Context
  - currentRealm: *realm.Realm
  - input: CodeInput

Returns:
  - string: The redirect URL carrying code and state
  - error: Persistence failures
*/
func (service *Service) IssueCode(context context.Context, currentRealm *realm.Realm, input CodeInput) (string, error) {
	rawCode, err := sec.GenerateSecureToken(constants.TokenLength)
	if err != nil {
		return "", apperr.Internal(err)
	}

	now := service.clock.Now()
	authTime := input.AuthTime
	if authTime.IsZero() {
		authTime = now
	}

	code := &AuthorizationCode{
		ID:                  uuid.New(),
		RealmID:             currentRealm.ID,
		ClientID:            input.Client.ClientID,
		UserID:              input.UserID,
		SessionID:           input.SessionID,
		RedirectURI:         input.RedirectURI,
		Scope:               input.Scope,
		Nonce:               input.Nonce,
		CodeChallenge:       input.CodeChallenge,
		CodeChallengeMethod: input.CodeChallengeMethod,
		CodeHash:            sec.HashToken(rawCode),
		AuthTime:            authTime,
		CreatedAt:           now,
		ExpiresAt:           now.Add(constants.AuthorizationCodeTTL),
	}
	if err := service.codes.Create(context, code); err != nil {
		return "", err
	}

	service.events.Record(&event.Event{
		RealmID:   currentRealm.ID,
		Kind:      event.KindCodeIssued,
		UserID:    input.UserID,
		ClientID:  input.Client.ClientID,
		SessionID: input.SessionID,
		Detail:    map[string]string{"scope": input.Scope},
	})

	values := url.Values{"code": {rawCode}}
	if input.State != "" {
		values.Set("state", input.State)
	}
	return appendQuery(input.RedirectURI, values), nil
}

// # Consent

/*
NeedsConsent reports whether the user still owes consent for the resolved
scope set. Clients without the consent requirement never prompt.

Parameters:
  - context: context.Context
  - currentRealm: *realm.Realm
  - registered: *client.Client
  - userID: string
  - scopeNames: []string (the resolved effective scopes)

Returns:
  - bool: Whether a consent prompt is required
  - error: Storage failures
*/
func (service *Service) NeedsConsent(context context.Context, currentRealm *realm.Realm, registered *client.Client, userID string, scopeNames []string) (bool, error) {
	if !registered.RequireConsent {
		return false, nil
	}

	consent, err := service.consents.Find(context, currentRealm.ID, userID, registered.ClientID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return true, nil
		}
		return false, err
	}
	return !consent.Covers(scopeNames), nil
}

// StashConsentRequest parks an authorization request while the consent
// screen is open. Returns the single-use request id.
func (service *Service) StashConsentRequest(context context.Context, request *ConsentRequest) (string, error) {
	id, err := sec.GenerateSecureToken(constants.TokenLength)
	if err != nil {
		return "", apperr.Internal(err)
	}
	request.ID = id

	if err := service.consentRequests.Set(context, request, constants.ConsentRequestTTL); err != nil {
		return "", err
	}
	return id, nil
}

// ConsentContextView is what the consent screen renders: the requesting
// client and the scopes awaiting approval, under a freshly rotated id.
type ConsentContextView struct {
	RequestID  string   `json:"request_id"`
	ClientID   string   `json:"client_id"`
	ClientName string   `json:"client_name"`
	Scopes     []string `json:"scopes"`
}

/*
ConsentContext loads a parked authorization request for rendering.

Description: Every read rotates the request id. The stored entry is
consumed atomically and re-stashed under a fresh id, so an id captured
from an earlier render (browser history, a resubmitted form) can never
act on the pending request — only the latest handed-out id decides it.

Parameters:
  - context: context.Context
  - currentRealm: *realm.Realm
  - requestID: string

Returns:
  - *ConsentContextView: Render data carrying the successor request id
  - error: apperr.NotFound for unknown, expired, or superseded ids
*/
func (service *Service) ConsentContext(context context.Context, currentRealm *realm.Realm, requestID string) (*ConsentContextView, error) {
	request, err := service.consentRequests.Consume(context, requestID)
	if err != nil {
		return nil, err
	}

	freshID, err := service.StashConsentRequest(context, request)
	if err != nil {
		return nil, err
	}

	registered, err := service.clients.GetByClientID(context, currentRealm.ID, request.ClientID)
	if err != nil {
		return nil, err
	}

	return &ConsentContextView{
		RequestID:  freshID,
		ClientID:   registered.ClientID,
		ClientName: registered.Name,
		Scopes:     strings.Fields(request.Scope),
	}, nil
}

/*
FinishConsent resumes a parked authorization request with the user's
decision.

Description: Consumes the single-use request, and on approval merges the
scopes into the durable consent ledger and mints the authorization code.
On denial the client receives the standard access_denied redirect.

Parameters:
  - context: context.Context
  - currentRealm: *realm.Realm
  - requestID: string
  - approve: bool

Returns:
  - string: The redirect URL to send the user agent to
  - error: apperr.NotFound for unknown or expired requests
*/
func (service *Service) FinishConsent(context context.Context, currentRealm *realm.Realm, requestID string, approve bool) (string, error) {
	request, err := service.consentRequests.Consume(context, requestID)
	if err != nil {
		return "", err
	}

	registered, err := service.clients.GetByClientID(context, currentRealm.ID, request.ClientID)
	if err != nil {
		return "", err
	}

	if !approve {
		service.events.Record(&event.Event{
			RealmID:  currentRealm.ID,
			Kind:     event.KindConsentDenied,
			UserID:   request.UserID,
			ClientID: request.ClientID,
		})
		return ErrorRedirect(request.RedirectURI, request.State,
			oautherr.AccessDenied("User denied consent")), nil
	}

	if err := service.recordConsent(context, currentRealm, request.UserID, registered.ClientID, strings.Fields(request.Scope)); err != nil {
		return "", err
	}

	service.events.Record(&event.Event{
		RealmID:  currentRealm.ID,
		Kind:     event.KindConsentGranted,
		UserID:   request.UserID,
		ClientID: request.ClientID,
		Detail:   map[string]string{"scope": request.Scope},
	})

	return service.IssueCode(context, currentRealm, CodeInput{
		Client:              registered,
		UserID:              request.UserID,
		SessionID:           request.SessionID,
		RedirectURI:         request.RedirectURI,
		Scope:               request.Scope,
		State:               request.State,
		Nonce:               request.Nonce,
		CodeChallenge:       request.CodeChallenge,
		CodeChallengeMethod: request.CodeChallengeMethod,
		AuthTime:            request.AuthTime,
	})
}

// recordConsent merges newly granted scopes into the ledger. Scopes only
// accumulate; revocation is an explicit account operation.
func (service *Service) recordConsent(context context.Context, currentRealm *realm.Realm, userID, clientID string, scopes []string) error {
	now := service.clock.Now()

	existing, err := service.consents.Find(context, currentRealm.ID, userID, clientID)
	if err != nil {
		if !apperr.IsNotFound(err) {
			return err
		}
		existing = &UserConsent{
			ID:        uuid.New(),
			RealmID:   currentRealm.ID,
			UserID:    userID,
			ClientID:  clientID,
			CreatedAt: now,
		}
	}

	existing.Scopes = mergeScopes(existing.Scopes, scopes)
	existing.UpdatedAt = now
	return service.consents.Upsert(context, existing)
}

// ListConsents returns a user's consent grants for the account surface.
func (service *Service) ListConsents(context context.Context, realmID, userID string) ([]*UserConsent, error) {
	return service.consents.ListByUser(context, realmID, userID)
}

// RevokeConsent removes one consent grant.
func (service *Service) RevokeConsent(context context.Context, realmID, userID, clientID string) error {
	return service.consents.Delete(context, realmID, userID, clientID)
}

// # Token Endpoint

// TokenRequest carries the form parameters of one token request, with the
// client credentials already extracted from Basic auth or the body.
type TokenRequest struct {
	GrantType    string
	ClientID     string
	ClientSecret string

	Code         string
	RedirectURI  string
	CodeVerifier string

	RefreshToken string
	Scope        string

	Username string
	Password string

	DeviceCode string

	IP string
}

// TokenResponse is the RFC 6749 token endpoint success body.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	SessionState string `json:"session_state,omitempty"`
}

/*
Token dispatches one token request to its grant handler.

Parameters:
  - context: context.Context
  - currentRealm: *realm.Realm
  - request: TokenRequest

Returns:
  - *TokenResponse: The token set
  - error: *oautherr.Error protocol failures
*/
func (service *Service) Token(context context.Context, currentRealm *realm.Realm, request TokenRequest) (*TokenResponse, error) {
	caller, err := service.authenticateClient(context, currentRealm, request)
	if err != nil {
		return nil, err
	}

	switch request.GrantType {
	case client.GrantAuthorizationCode:
		return service.grantAuthorizationCode(context, currentRealm, caller, request)
	case client.GrantRefreshToken:
		return service.grantRefreshToken(context, currentRealm, caller, request)
	case client.GrantClientCredentials:
		return service.grantClientCredentials(context, currentRealm, caller, request)
	case client.GrantPassword:
		return service.grantPassword(context, currentRealm, caller, request)
	case client.GrantDeviceCode:
		return service.grantDeviceCode(context, currentRealm, caller, request)
	default:
		return nil, oautherr.UnsupportedGrantType(request.GrantType)
	}
}

// authenticateClient resolves and authenticates the calling client.
// Confidential clients must present their secret; public clients are
// identified by client_id alone and bound by PKCE instead.
func (service *Service) authenticateClient(context context.Context, currentRealm *realm.Realm, request TokenRequest) (*client.Client, error) {
	if request.ClientID == "" {
		return nil, oautherr.InvalidClient("Missing client authentication")
	}

	if request.ClientSecret != "" {
		caller, err := service.clients.Authenticate(context, currentRealm.ID, request.ClientID, request.ClientSecret)
		if err != nil {
			return nil, oautherr.InvalidClient("Client authentication failed")
		}
		return caller, nil
	}

	caller, err := service.clients.GetByClientID(context, currentRealm.ID, request.ClientID)
	if err != nil {
		return nil, oautherr.InvalidClient("Client authentication failed")
	}
	if !caller.Enabled {
		return nil, oautherr.InvalidClient("Client is disabled")
	}
	if caller.Type == client.TypeConfidential {
		return nil, oautherr.InvalidClient("Confidential client must authenticate")
	}
	return caller, nil
}

// grantAuthorizationCode redeems a code for the full token set.
func (service *Service) grantAuthorizationCode(context context.Context, currentRealm *realm.Realm, caller *client.Client, request TokenRequest) (*TokenResponse, error) {
	if !caller.HasGrant(client.GrantAuthorizationCode) {
		return nil, oautherr.UnauthorizedClient("Client may not use the authorization code grant")
	}
	if request.Code == "" {
		return nil, oautherr.InvalidRequest("Missing code")
	}

	code, err := service.codes.FindByHash(context, currentRealm.ID, sec.HashToken(request.Code))
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, oautherr.InvalidGrant("Invalid authorization code")
		}
		return nil, err
	}

	if code.ClientID != caller.ClientID {
		return nil, oautherr.InvalidGrant("Code was issued to another client")
	}
	if code.Expired(service.clock.Now()) {
		return nil, oautherr.InvalidGrant("Authorization code has expired")
	}

	// A replayed code is treated as a leak: the session it was minted
	// under is destroyed so any tokens from the first redemption die with
	// it.
	if code.Consumed {
		if code.SessionID != "" {
			_ = service.sessions.DestroySession(context, currentRealm, code.SessionID)
		}
		return nil, oautherr.InvalidGrant("Authorization code already used")
	}

	if code.RedirectURI != request.RedirectURI {
		return nil, oautherr.InvalidGrant("redirect_uri mismatch")
	}
	if code.CodeChallenge != "" {
		if request.CodeVerifier == "" || !sec.VerifyPKCE(request.CodeVerifier, code.CodeChallenge) {
			return nil, oautherr.InvalidGrant("PKCE verification failed")
		}
	}

	won, err := service.codes.Consume(context, code.ID)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, oautherr.InvalidGrant("Authorization code already used")
	}

	currentSession, err := service.sessions.GetLive(context, currentRealm, code.SessionID)
	if err != nil {
		return nil, oautherr.InvalidGrant("Session has ended")
	}

	return service.issueTokenSet(context, currentRealm, caller, issueParams{
		userID:      code.UserID,
		sessionID:   currentSession.ID,
		scope:       code.Scope,
		nonce:       code.Nonce,
		authTime:    code.AuthTime,
		withRefresh: true,
		kind:        event.KindTokenIssued,
		grantType:   client.GrantAuthorizationCode,
	})
}

// grantRefreshToken rotates a refresh token and re-mints the access side.
func (service *Service) grantRefreshToken(context context.Context, currentRealm *realm.Realm, caller *client.Client, request TokenRequest) (*TokenResponse, error) {
	if !caller.HasGrant(client.GrantRefreshToken) {
		return nil, oautherr.UnauthorizedClient("Client may not use the refresh token grant")
	}
	if request.RefreshToken == "" {
		return nil, oautherr.InvalidRequest("Missing refresh_token")
	}

	rawSuccessor, successor, err := service.sessions.RotateRefreshToken(context, currentRealm, request.RefreshToken, caller.ClientID)
	if err != nil {
		return nil, oautherr.FromInternal(err)
	}

	response, err := service.assembleAccessSide(context, currentRealm, caller, issueParams{
		userID:    successor.UserID,
		sessionID: successor.SessionID,
		scope:     successor.Scope,
		authTime:  successor.CreatedAt,
		kind:      event.KindTokenRefreshed,
		grantType: client.GrantRefreshToken,
	})
	if err != nil {
		return nil, err
	}

	response.RefreshToken = rawSuccessor
	return response, nil
}

// grantClientCredentials issues a sessionless machine token against the
// client's service account.
func (service *Service) grantClientCredentials(context context.Context, currentRealm *realm.Realm, caller *client.Client, request TokenRequest) (*TokenResponse, error) {
	if !caller.HasGrant(client.GrantClientCredentials) {
		return nil, oautherr.UnauthorizedClient("Client may not use the client credentials grant")
	}
	// Identity comes from the secret alone, so a public client can never
	// hold this grant.
	if caller.Type != client.TypeConfidential || request.ClientSecret == "" {
		return nil, oautherr.InvalidClient("Client credentials grant requires a confidential client")
	}
	if caller.ServiceAccountUserID == "" {
		return nil, oautherr.UnauthorizedClient("Client has no service account")
	}

	return service.assembleAccessSide(context, currentRealm, caller, issueParams{
		userID:    caller.ServiceAccountUserID,
		scope:     request.Scope,
		authTime:  service.clock.Now(),
		kind:      event.KindTokenIssued,
		grantType: client.GrantClientCredentials,
	})
}

// grantPassword exchanges resource-owner credentials directly. Disabled
// unless the client explicitly carries the grant; it bypasses MFA and the
// interactive login flow, and exists for legacy integrations only.
func (service *Service) grantPassword(context context.Context, currentRealm *realm.Realm, caller *client.Client, request TokenRequest) (*TokenResponse, error) {
	if !caller.HasGrant(client.GrantPassword) {
		return nil, oautherr.UnauthorizedClient("Client may not use the password grant")
	}
	if request.Username == "" || request.Password == "" {
		return nil, oautherr.InvalidRequest("Missing username or password")
	}

	account, err := service.verifier.Verify(context, currentRealm, request.Username, request.Password, request.IP)
	if err != nil {
		service.events.Record(&event.Event{
			RealmID:   currentRealm.ID,
			Kind:      event.KindLoginFailed,
			ClientID:  caller.ClientID,
			IPAddress: request.IP,
			Detail:    map[string]string{"grant_type": client.GrantPassword, "username": request.Username},
		})
		return nil, oautherr.FromInternal(err)
	}

	return service.issueTokenSet(context, currentRealm, caller, issueParams{
		userID:      account.ID,
		scope:       request.Scope,
		authTime:    service.clock.Now(),
		withRefresh: caller.HasGrant(client.GrantRefreshToken),
		kind:        event.KindTokenIssued,
		grantType:   client.GrantPassword,
	})
}

// grantDeviceCode serves the device's token polling (RFC 8628 §3.4-3.5).
func (service *Service) grantDeviceCode(context context.Context, currentRealm *realm.Realm, caller *client.Client, request TokenRequest) (*TokenResponse, error) {
	if !caller.HasGrant(client.GrantDeviceCode) {
		return nil, oautherr.UnauthorizedClient("Client may not use the device code grant")
	}
	if request.DeviceCode == "" {
		return nil, oautherr.InvalidRequest("Missing device_code")
	}

	code, err := service.deviceCodes.FindByDeviceHash(context, currentRealm.ID, sec.HashToken(request.DeviceCode))
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, oautherr.InvalidGrant("Invalid device code")
		}
		return nil, err
	}
	if code.ClientID != caller.ClientID {
		return nil, oautherr.InvalidGrant("Device code was issued to another client")
	}

	// The throttle gates every poll, including the final successful one,
	// so a burst of parallel polls cannot bypass the interval.
	allowed, err := service.throttle.Acquire(context, code.ID, constants.DeviceCodePollInterval)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, oautherr.SlowDown()
	}

	if code.Expired(service.clock.Now()) {
		return nil, oautherr.ExpiredToken()
	}

	switch code.Status {
	case DeviceStatusPending:
		return nil, oautherr.AuthorizationPending()
	case DeviceStatusDenied:
		return nil, oautherr.AccessDenied("User denied the request")
	}

	won, err := service.deviceCodes.ConsumeApproved(context, code.ID)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, oautherr.InvalidGrant("Device code already used")
	}

	return service.issueTokenSet(context, currentRealm, caller, issueParams{
		userID:      code.UserID,
		scope:       code.Scope,
		authTime:    service.clock.Now(),
		withRefresh: caller.HasGrant(client.GrantRefreshToken),
		kind:        event.KindTokenIssued,
		grantType:   client.GrantDeviceCode,
	})
}

// # Token Assembly

// issueParams collects what the assembly helpers need beyond the client.
type issueParams struct {
	userID      string
	sessionID   string
	scope       string
	nonce       string
	authTime    time.Time
	withRefresh bool
	kind        event.Kind
	grantType   string
}

// issueTokenSet assembles access, ID, and refresh tokens for a grant.
func (service *Service) issueTokenSet(context context.Context, currentRealm *realm.Realm, caller *client.Client, params issueParams) (*TokenResponse, error) {
	response, err := service.assembleAccessSide(context, currentRealm, caller, params)
	if err != nil {
		return nil, err
	}

	if params.withRefresh {
		offline := containsField(response.Scope, ScopeOfflineAccess)
		rawRefresh, _, err := service.sessions.IssueRefreshToken(context, currentRealm, session.IssueRefreshInput{
			SessionID: params.sessionID,
			UserID:    params.userID,
			ClientID:  caller.ClientID,
			Scope:     response.Scope,
			Offline:   offline,
		})
		if err != nil {
			return nil, oautherr.FromInternal(err)
		}
		response.RefreshToken = rawRefresh
	}

	return response, nil
}

// assembleAccessSide resolves scopes and mints the access token, plus the
// ID token when openid is in scope.
func (service *Service) assembleAccessSide(context context.Context, currentRealm *realm.Realm, caller *client.Client, params issueParams) (*TokenResponse, error) {
	account, err := service.users.Get(context, currentRealm.ID, params.userID)
	if err != nil {
		return nil, oautherr.InvalidGrant("Account no longer exists")
	}
	if !account.Enabled {
		return nil, oautherr.InvalidGrant("Account is disabled")
	}

	resolved, err := service.clients.ResolveScopes(context, caller, params.scope)
	if err != nil {
		return nil, oautherr.FromInternal(err)
	}

	effectiveRoles, err := service.roles.EffectiveRoles(context, currentRealm.ID, account.ID)
	if err != nil {
		return nil, oautherr.FromInternal(err)
	}

	mappers := make([]client.ProtocolMapper, 0)
	for _, scope := range resolved.Scopes {
		mappers = append(mappers, scope.Mappers...)
	}

	input := token.IssueInput{
		Realm:     currentRealm,
		Client:    caller,
		User:      account,
		Scope:     resolved.String(),
		Mappers:   mappers,
		Roles:     effectiveRoles,
		SessionID: params.sessionID,
		AuthTime:  params.authTime,
		Nonce:     params.nonce,
	}

	accessToken, _, err := service.tokens.AccessToken(context, input)
	if err != nil {
		return nil, oautherr.FromInternal(err)
	}

	response := &TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(currentRealm.AccessTokenLifespan.Seconds()),
		Scope:        resolved.String(),
		SessionState: params.sessionID,
	}

	if containsField(response.Scope, ScopeOpenID) {
		idToken, err := service.tokens.IDToken(context, input, accessToken)
		if err != nil {
			return nil, oautherr.FromInternal(err)
		}
		response.IDToken = idToken
	}

	service.events.Record(&event.Event{
		RealmID:   currentRealm.ID,
		Kind:      params.kind,
		UserID:    account.ID,
		ClientID:  caller.ClientID,
		SessionID: params.sessionID,
		Detail:    map[string]string{"grant_type": params.grantType, "scope": response.Scope},
	})
	return response, nil
}

// # Introspection & Revocation

/*
Introspect reports the state of a presented token (RFC 7662). Access
tokens are verified as JWTs; anything else is tried as a refresh token.

Parameters:
  - context: context.Context
  - currentRealm: *realm.Realm
  - presented: string

Returns:
  - map[string]any: The introspection response, at minimum {"active": bool}
  - error: Storage failures only; an invalid token is {"active": false}
*/
func (service *Service) Introspect(context context.Context, currentRealm *realm.Realm, presented string) (map[string]any, error) {
	if claims, err := service.tokens.Verify(context, currentRealm, presented); err == nil {
		response := map[string]any{"active": true, "token_type": "Bearer"}
		for name, value := range claims {
			response[name] = value
		}
		return response, nil
	}

	refreshToken, err := service.sessions.ValidateRefreshToken(context, currentRealm, presented)
	if err != nil {
		return map[string]any{"active": false}, nil
	}

	return map[string]any{
		"active":     true,
		"token_type": "refresh_token",
		"client_id":  refreshToken.ClientID,
		"sub":        refreshToken.UserID,
		"scope":      refreshToken.Scope,
		"exp":        refreshToken.ExpiresAt.Unix(),
		"iat":        refreshToken.CreatedAt.Unix(),
	}, nil
}

/*
Revoke invalidates a presented refresh token (RFC 7009). Access tokens are
stateless and expire on their own; revoking one is a silent no-op, as is
revoking an unknown token.

Parameters:
  - context: context.Context
  - currentRealm: *realm.Realm
  - caller: *client.Client
  - presented: string

Returns:
  - error: Storage failures only
*/
func (service *Service) Revoke(context context.Context, currentRealm *realm.Realm, caller *client.Client, presented string) error {
	err := service.sessions.RevokeByRawToken(context, currentRealm, presented)
	if err != nil {
		if apperr.IsNotFound(err) || apperr.HasCode(err, "UNAUTHORIZED") {
			return nil
		}
		return err
	}

	service.events.Record(&event.Event{
		RealmID:  currentRealm.ID,
		Kind:     event.KindTokenRevoked,
		ClientID: caller.ClientID,
	})
	return nil
}

// # UserInfo

/*
UserInfo returns the claims for a bearer access token (OIDC Core §5.3).
Claim release follows the granted scopes: profile unlocks name fields,
email unlocks the address.

Parameters:
  - context: context.Context
  - currentRealm: *realm.Realm
  - accessToken: string

Returns:
  - map[string]any: The claims document
  - error: apperr.Unauthorized for invalid tokens
*/
func (service *Service) UserInfo(context context.Context, currentRealm *realm.Realm, accessToken string) (map[string]any, error) {
	claims, err := service.tokens.Verify(context, currentRealm, accessToken)
	if err != nil {
		return nil, apperr.Unauthorized("Invalid access token")
	}

	subject, _ := claims["sub"].(string)
	scope, _ := claims["scope"].(string)

	account, err := service.users.Get(context, currentRealm.ID, subject)
	if err != nil {
		return nil, apperr.Unauthorized("Invalid access token")
	}

	response := map[string]any{"sub": account.ID}
	if containsField(scope, "profile") {
		response["preferred_username"] = account.Username
		if account.FirstName != "" {
			response["given_name"] = account.FirstName
		}
		if account.LastName != "" {
			response["family_name"] = account.LastName
		}
		if fullName := strings.TrimSpace(account.FirstName + " " + account.LastName); fullName != "" {
			response["name"] = fullName
		}
	}
	if containsField(scope, "email") && account.Email != "" {
		response["email"] = account.Email
		response["email_verified"] = account.EmailVerified
	}
	return response, nil
}

// # Logout

/*
Logout ends the browser session behind an RP-initiated logout and records
the event. Offline tokens survive; everything session-bound dies and
back-channel notifications fan out.

Parameters:
  - context: context.Context
  - currentRealm: *realm.Realm
  - currentSession: *session.Session

Returns:
  - error: Persistence failures
*/
func (service *Service) Logout(context context.Context, currentRealm *realm.Realm, currentSession *session.Session) error {
	if err := service.sessions.Logout(context, currentRealm, currentSession); err != nil {
		return err
	}

	service.events.Record(&event.Event{
		RealmID:   currentRealm.ID,
		Kind:      event.KindLogout,
		UserID:    currentSession.UserID,
		SessionID: currentSession.ID,
	})
	return nil
}

// ValidatePostLogoutRedirect checks an RP-provided post-logout target
// against the id_token_hint's client registration.
func (service *Service) ValidatePostLogoutRedirect(context context.Context, currentRealm *realm.Realm, idTokenHint, redirectURI string) bool {
	if redirectURI == "" {
		return false
	}

	claims, err := service.tokens.Verify(context, currentRealm, idTokenHint)
	if err != nil {
		return false
	}

	clientID := extractAudience(claims["aud"])
	if clientID == "" {
		return false
	}

	registered, err := service.clients.GetByClientID(context, currentRealm.ID, clientID)
	if err != nil {
		return false
	}
	return registered.HasRedirectURI(redirectURI)
}

// # Device Authorization

// DeviceAuthorizationResponse is the RFC 8628 §3.2 response body.
type DeviceAuthorizationResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int64  `json:"expires_in"`
	Interval                int64  `json:"interval"`
}

/*
StartDeviceAuthorization begins a device flow for an input-constrained
client.

Parameters:
  - context: context.Context
  - currentRealm: *realm.Realm
  - clientID: string
  - scope: string

Returns:
  - *DeviceAuthorizationResponse: Codes and polling parameters
  - error: *oautherr.Error protocol failures
*/
func (service *Service) StartDeviceAuthorization(context context.Context, currentRealm *realm.Realm, clientID, scope string) (*DeviceAuthorizationResponse, error) {
	if clientID == "" {
		return nil, oautherr.InvalidRequest("Missing client_id")
	}

	registered, err := service.clients.GetByClientID(context, currentRealm.ID, clientID)
	if err != nil {
		return nil, oautherr.InvalidClient("Unknown client")
	}
	if !registered.Enabled || !registered.HasGrant(client.GrantDeviceCode) {
		return nil, oautherr.UnauthorizedClient("Client may not use the device code grant")
	}

	resolved, err := service.clients.ResolveScopes(context, registered, scope)
	if err != nil {
		return nil, oautherr.FromInternal(err)
	}

	rawDeviceCode, err := sec.GenerateSecureToken(constants.TokenLength)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	userCode, err := sec.GenerateUserCode()
	if err != nil {
		return nil, apperr.Internal(err)
	}

	now := service.clock.Now()
	code := &DeviceCode{
		ID:             uuid.New(),
		RealmID:        currentRealm.ID,
		ClientID:       registered.ClientID,
		Scope:          resolved.String(),
		DeviceCodeHash: sec.HashToken(rawDeviceCode),
		UserCode:       userCode,
		Status:         DeviceStatusPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(constants.DeviceCodeTTL),
	}
	if err := service.deviceCodes.Create(context, code); err != nil {
		return nil, err
	}

	verificationURI := service.baseURL + "/realms/" + currentRealm.Name + "/device"
	return &DeviceAuthorizationResponse{
		DeviceCode:              rawDeviceCode,
		UserCode:                userCode,
		VerificationURI:         verificationURI,
		VerificationURIComplete: verificationURI + "?" + url.Values{"user_code": {userCode}}.Encode(),
		ExpiresIn:               int64(constants.DeviceCodeTTL.Seconds()),
		Interval:                int64(constants.DeviceCodePollInterval.Seconds()),
	}, nil
}

/*
DecideDevice resolves a pending device authorization with the
authenticated user's decision.

Parameters:
  - context: context.Context
  - currentRealm: *realm.Realm
  - userCode: string (as typed by the user)
  - userID: string (the authenticated approver)
  - approve: bool

Returns:
  - error: apperr.NotFound for unknown codes, apperr.Conflict when the
    authorization was already decided or has expired
*/
func (service *Service) DecideDevice(context context.Context, currentRealm *realm.Realm, userCode, userID string, approve bool) error {
	code, err := service.deviceCodes.FindByUserCode(context, currentRealm.ID, normalizeUserCode(userCode))
	if err != nil {
		return err
	}
	if code.Expired(service.clock.Now()) {
		return apperr.Conflict("Device code has expired")
	}

	decision := DeviceStatusApproved
	kind := event.KindDeviceApproved
	approver := userID
	if !approve {
		decision = DeviceStatusDenied
		kind = event.KindDeviceDenied
		approver = ""
	}

	won, err := service.deviceCodes.Decide(context, code.ID, decision, approver)
	if err != nil {
		return err
	}
	if !won {
		return apperr.Conflict("Device authorization was already decided")
	}

	service.events.Record(&event.Event{
		RealmID:  currentRealm.ID,
		Kind:     kind,
		UserID:   userID,
		ClientID: code.ClientID,
	})
	return nil
}

// normalizeUserCode forgives case and the display hyphen, restoring the
// canonical XXXX-XXXX form.
func normalizeUserCode(userCode string) string {
	compact := strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(userCode)), "-", "")
	if len(compact) != 8 {
		return strings.ToUpper(strings.TrimSpace(userCode))
	}
	return compact[:4] + "-" + compact[4:]
}

// # Maintenance

// Sweep removes expired authorization and device codes.
func (service *Service) Sweep(context context.Context) (int64, error) {
	now := service.clock.Now()

	codes, err := service.codes.DeleteExpired(context, now)
	if err != nil {
		return 0, err
	}
	deviceCodes, err := service.deviceCodes.DeleteExpired(context, now)
	if err != nil {
		return codes, err
	}
	return codes + deviceCodes, nil
}

// # Helpers

// appendQuery merges values into a URL that may already carry a query.
func appendQuery(rawURL string, values url.Values) string {
	separator := "?"
	if strings.Contains(rawURL, "?") {
		separator = "&"
	}
	return rawURL + separator + values.Encode()
}

// containsField reports whether a space-separated list contains a value.
func containsField(list, value string) bool {
	for _, field := range strings.Fields(list) {
		if field == value {
			return true
		}
	}
	return false
}

// mergeScopes unions two scope sets, preserving first-seen order.
func mergeScopes(existing, added []string) []string {
	seen := make(map[string]bool, len(existing)+len(added))
	merged := make([]string, 0, len(existing)+len(added))
	for _, scope := range append(append([]string{}, existing...), added...) {
		if scope == "" || seen[scope] {
			continue
		}
		seen[scope] = true
		merged = append(merged, scope)
	}
	return merged
}

// extractAudience pulls a single client_id out of an aud claim that may be
// a string or a list.
func extractAudience(aud any) string {
	switch value := aud.(type) {
	case string:
		return value
	case []any:
		if len(value) > 0 {
			if first, ok := value[0].(string); ok {
				return first
			}
		}
	case []string:
		if len(value) > 0 {
			return value[0]
		}
	}
	return ""
}
