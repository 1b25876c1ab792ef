// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package login implements the interactive authentication flow that feeds
the authorization endpoint: credential submission, the MFA detour, the
consent screen, self-service registration, and credential recovery.

# Architecture

  - Service: The flow state machine. Password verification, the MFA
    challenge bridge, session establishment, and hand-off back to the
    protocol layer for code issuance.
  - Handler: Form-post endpoints driven by the hosted login UI. The flow
    moves by redirect: success lands on the client's callback, an owed
    consent lands on the consent screen, a failure lands back on the
    login page with an error marker.
*/
package login

import (
	"context"
	"time"

	"github.com/taibuivan/authme/internal/client"
	"github.com/taibuivan/authme/internal/event"
	"github.com/taibuivan/authme/internal/mfa"
	"github.com/taibuivan/authme/internal/oidc"
	"github.com/taibuivan/authme/internal/platform/apperr"
	"github.com/taibuivan/authme/internal/realm"
	"github.com/taibuivan/authme/internal/session"
	"github.com/taibuivan/authme/internal/user"
)

// # Contracts & Types

// EventRecorder is the fire-and-forget audit sink.
type EventRecorder interface {
	Record(event *event.Event)
}

// Status tells the handler which leg of the flow comes next.
type Status string

const (
	// StatusAuthenticated means a session exists and RedirectTo carries
	// the continuation (client callback or consent screen).
	StatusAuthenticated Status = "AUTHENTICATED"
	// StatusMfaRequired means the password checked out and a second
	// factor is pending under ChallengeID.
	StatusMfaRequired Status = "MFA_REQUIRED"
	// StatusMfaSetupRequired means the realm mandates MFA and the user
	// has no confirmed factor yet. Enrolment carries the provisioning
	// material; the first valid code completes both setup and login.
	StatusMfaSetupRequired Status = "MFA_SETUP_REQUIRED"
)

// Outcome is the result of one authentication step.
type Outcome struct {
	Status     Status
	RedirectTo string

	// ChallengeID is set for [StatusMfaRequired] and
	// [StatusMfaSetupRequired]; it goes into the MFA challenge cookie.
	ChallengeID string

	// Enrolment is set for [StatusMfaSetupRequired]: the TOTP seed and
	// provisioning URI the setup screen renders.
	Enrolment *mfa.Enrolment

	// RecoveryCodes are set when completing the challenge also confirmed
	// a pending enrolment. Shown once.
	RecoveryCodes []string

	// Session material, set for [StatusAuthenticated].
	SessionToken     string
	SessionExpiresAt time.Time
	Session          *session.Session
}

// AuthenticateInput carries one credential submission together with the
// authorization request it interrupts.
type AuthenticateInput struct {
	Username   string
	Password   string
	RememberMe bool
	IP         string
	UserAgent  string
	Authorize  oidc.AuthorizeRequest
}

// Service orchestrates the interactive login flow.
type Service struct {
	verifier *user.Verifier
	users    *user.Service
	policy   *user.Policy
	mfa      *mfa.Service
	sessions *session.Service
	protocol *oidc.Service
	events   EventRecorder
}

// NewService constructs a new login flow [Service].
func NewService(
	verifier *user.Verifier,
	users *user.Service,
	policy *user.Policy,
	mfaService *mfa.Service,
	sessions *session.Service,
	protocol *oidc.Service,
	events EventRecorder,
) *Service {
	return &Service{
		verifier: verifier,
		users:    users,
		policy:   policy,
		mfa:      mfaService,
		sessions: sessions,
		protocol: protocol,
		events:   events,
	}
}

// # Authentication

/*
Authenticate runs the password step of the login flow.

Description: Validates the interrupted authorization request, verifies
the credentials, enforces password expiry, and either establishes the
session immediately or parks the flow in an MFA challenge. A realm with
mandatory MFA forces enrolment here: users without a confirmed factor
get a setup challenge instead of a session. The authorization parameters
survive the MFA detour inside the challenge payload.

Parameters:
  - context: context.Context
  - currentRealm: *realm.Realm
  - input: AuthenticateInput

Returns:
  - *Outcome: The next flow leg
  - error: Credential, policy, protocol, or storage errors
*/
func (service *Service) Authenticate(context context.Context, currentRealm *realm.Realm, input AuthenticateInput) (*Outcome, error) {
	registered, err := service.protocol.ResolveAuthorizeClient(context, currentRealm,
		input.Authorize.ClientID, input.Authorize.RedirectURI)
	if err != nil {
		return nil, err
	}
	if protocolErr := service.protocol.CheckAuthorizeRequest(currentRealm, registered, input.Authorize); protocolErr != nil {
		return nil, protocolErr
	}

	account, err := service.verifier.Verify(context, currentRealm, input.Username, input.Password, input.IP)
	if err != nil {
		service.events.Record(&event.Event{
			RealmID:   currentRealm.ID,
			Kind:      event.KindLoginFailed,
			ClientID:  input.Authorize.ClientID,
			IPAddress: input.IP,
			Detail:    map[string]string{"username": input.Username},
		})
		return nil, err
	}

	if service.policy.IsExpired(account, currentRealm) {
		return nil, apperr.PolicyViolation(apperr.FieldError{
			Field:   user.FieldPassword,
			Message: "Password has expired and must be reset",
		})
	}

	enrolled, err := service.mfa.Enrolled(context, currentRealm.ID, account.ID)
	if err != nil {
		return nil, err
	}
	if enrolled {
		challenge, err := service.mfa.CreateChallenge(context, currentRealm.ID, account.ID,
			challengePayload(input))
		if err != nil {
			return nil, err
		}
		return &Outcome{Status: StatusMfaRequired, ChallengeID: challenge.ID}, nil
	}

	if currentRealm.MfaRequired {
		// The realm mandates a second factor. Park the flow in a setup
		// challenge: the first valid code against the fresh enrolment
		// confirms it and resumes the login.
		enrolment, err := service.mfa.Enroll(context, currentRealm, account.ID, account.Username)
		if err != nil {
			return nil, err
		}
		challenge, err := service.mfa.CreateChallenge(context, currentRealm.ID, account.ID,
			challengePayload(input))
		if err != nil {
			return nil, err
		}
		return &Outcome{Status: StatusMfaSetupRequired, ChallengeID: challenge.ID, Enrolment: enrolment}, nil
	}

	return service.finishLogin(context, currentRealm, registered, input.Authorize, account.ID,
		input.RememberMe, input.IP, input.UserAgent, event.KindLogin)
}

/*
CompleteMfa runs the second-factor step of the login flow.

Parameters:
  - context: context.Context
  - currentRealm: *realm.Realm
  - challengeID: string (from the MFA challenge cookie)
  - code: string (TOTP or recovery code)

Returns:
  - *Outcome: Always [StatusAuthenticated] on success
  - error: apperr.InvalidCredentials for a wrong code with attempts left,
    apperr.NotFound once the challenge is destroyed or expired
*/
func (service *Service) CompleteMfa(context context.Context, currentRealm *realm.Realm, challengeID, code string) (*Outcome, error) {
	challenge, recoveryCodes, err := service.mfa.CompleteChallenge(context, challengeID, code)
	if err != nil {
		if apperr.HasCode(err, "INVALID_CREDENTIALS") {
			service.events.Record(&event.Event{
				RealmID: currentRealm.ID,
				Kind:    event.KindMfaFailed,
			})
		}
		return nil, err
	}
	if challenge.RealmID != currentRealm.ID {
		return nil, apperr.NotFound("Challenge not found")
	}

	input := payloadToInput(challenge.Payload)
	registered, err := service.protocol.ResolveAuthorizeClient(context, currentRealm,
		input.Authorize.ClientID, input.Authorize.RedirectURI)
	if err != nil {
		return nil, err
	}

	outcome, err := service.finishLogin(context, currentRealm, registered, input.Authorize, challenge.UserID,
		input.RememberMe, input.IP, input.UserAgent, event.KindMfaVerified)
	if err != nil {
		return nil, err
	}
	outcome.RecoveryCodes = recoveryCodes
	return outcome, nil
}

// finishLogin establishes the SSO session and hands the flow back to the
// protocol layer.
func (service *Service) finishLogin(
	context context.Context,
	currentRealm *realm.Realm,
	registered *client.Client,
	authorize oidc.AuthorizeRequest,
	userID string,
	rememberMe bool,
	ip, userAgent string,
	kind event.Kind,
) (*Outcome, error) {
	currentSession, rawToken, err := service.sessions.CreateSession(context, currentRealm, userID, ip, userAgent, rememberMe)
	if err != nil {
		return nil, err
	}

	service.events.Record(&event.Event{
		RealmID:   currentRealm.ID,
		Kind:      kind,
		UserID:    userID,
		ClientID:  authorize.ClientID,
		SessionID: currentSession.ID,
		IPAddress: ip,
	})

	redirect, err := service.protocol.ContinueAuthorization(context, currentRealm, registered, authorize, currentSession)
	if err != nil {
		return nil, err
	}

	return &Outcome{
		Status:           StatusAuthenticated,
		RedirectTo:       redirect,
		SessionToken:     rawToken,
		SessionExpiresAt: currentSession.ExpiresAt,
		Session:          currentSession,
	}, nil
}

// # Registration & Recovery

// Register performs self-service enrollment and records the event.
func (service *Service) Register(context context.Context, currentRealm *realm.Realm, input user.RegisterInput) (*user.User, error) {
	account, err := service.users.Register(context, currentRealm, input)
	if err != nil {
		return nil, err
	}

	service.events.Record(&event.Event{
		RealmID: currentRealm.ID,
		Kind:    event.KindRegister,
		UserID:  account.ID,
	})
	return account, nil
}

// RequestPasswordReset queues a reset email. Silent for unknown addresses.
func (service *Service) RequestPasswordReset(context context.Context, currentRealm *realm.Realm, email string) error {
	return service.users.RequestPasswordReset(context, currentRealm, email)
}

// ResetPassword consumes a reset token, sets the new password, and records
// the event.
func (service *Service) ResetPassword(context context.Context, currentRealm *realm.Realm, rawToken, newPassword string) error {
	if err := service.users.ResetPassword(context, currentRealm, rawToken, newPassword); err != nil {
		return err
	}

	service.events.Record(&event.Event{
		RealmID: currentRealm.ID,
		Kind:    event.KindPasswordReset,
	})
	return nil
}

// VerifyEmail consumes a verification token and records the event.
func (service *Service) VerifyEmail(context context.Context, currentRealm *realm.Realm, rawToken string) error {
	if err := service.users.VerifyEmail(context, currentRealm, rawToken); err != nil {
		return err
	}

	service.events.Record(&event.Event{
		RealmID: currentRealm.ID,
		Kind:    event.KindEmailVerified,
	})
	return nil
}

// # Challenge Payload Codec

// Payload keys carrying the interrupted authorization request across the
// MFA detour.
const (
	payloadClientID            = "client_id"
	payloadRedirectURI         = "redirect_uri"
	payloadScope               = "scope"
	payloadState               = "state"
	payloadNonce               = "nonce"
	payloadCodeChallenge       = "code_challenge"
	payloadCodeChallengeMethod = "code_challenge_method"
	payloadRememberMe          = "remember_me"
	payloadIP                  = "ip"
	payloadUserAgent           = "user_agent"
)

func challengePayload(input AuthenticateInput) map[string]string {
	payload := map[string]string{
		payloadClientID:            input.Authorize.ClientID,
		payloadRedirectURI:         input.Authorize.RedirectURI,
		payloadScope:               input.Authorize.Scope,
		payloadState:               input.Authorize.State,
		payloadNonce:               input.Authorize.Nonce,
		payloadCodeChallenge:       input.Authorize.CodeChallenge,
		payloadCodeChallengeMethod: input.Authorize.CodeChallengeMethod,
		payloadIP:                  input.IP,
		payloadUserAgent:           input.UserAgent,
	}
	if input.RememberMe {
		payload[payloadRememberMe] = "true"
	}
	return payload
}

func payloadToInput(payload map[string]string) AuthenticateInput {
	return AuthenticateInput{
		RememberMe: payload[payloadRememberMe] == "true",
		IP:         payload[payloadIP],
		UserAgent:  payload[payloadUserAgent],
		Authorize: oidc.AuthorizeRequest{
			ResponseType:        "code",
			ClientID:            payload[payloadClientID],
			RedirectURI:         payload[payloadRedirectURI],
			Scope:               payload[payloadScope],
			State:               payload[payloadState],
			Nonce:               payload[payloadNonce],
			CodeChallenge:       payload[payloadCodeChallenge],
			CodeChallengeMethod: payload[payloadCodeChallengeMethod],
		},
	}
}
