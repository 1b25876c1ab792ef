// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package login

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/taibuivan/authme/internal/mfa"
	"github.com/taibuivan/authme/internal/oidc"
	"github.com/taibuivan/authme/internal/platform/apperr"
	"github.com/taibuivan/authme/internal/platform/constants"
	requestutil "github.com/taibuivan/authme/internal/platform/request"
	"github.com/taibuivan/authme/internal/platform/respond"
	"github.com/taibuivan/authme/internal/platform/validate"
	"github.com/taibuivan/authme/internal/realm"
	"github.com/taibuivan/authme/internal/session"
	"github.com/taibuivan/authme/internal/user"
)

// # Definitions & Constructors

// Handler implements the hosted login UI endpoints: the login actions the
// UI posts to and the self-service account surface.
type Handler struct {
	loginService  *Service
	sessions      *session.Service
	mfa           *mfa.Service
	protocol      *oidc.Service
	users         *user.Service
	secureCookies bool
}

// NewHandler constructs a new [Handler] with its service dependencies.
func NewHandler(
	loginService *Service,
	sessions *session.Service,
	mfaService *mfa.Service,
	protocol *oidc.Service,
	users *user.Service,
	secureCookies bool,
) *Handler {
	return &Handler{
		loginService:  loginService,
		sessions:      sessions,
		mfa:           mfaService,
		protocol:      protocol,
		users:         users,
		secureCookies: secureCookies,
	}
}

// Routes returns a [chi.Router] for the hosted login flow. Mounted under
// /realms/{realmName}/login behind the realm resolver. The action endpoints
// answer JSON {status, redirect_to}; the UI follows redirect_to after the
// server has set the session cookie.
//
// # Endpoints
//   - GET    /                                  : Login page context.
//   - GET    /consent                           : Consent page context;
//     every read rotates the pending request id.
//   - POST   /actions/authenticate              : Password submission.
//   - POST   /actions/mfa                       : Second-factor submission.
//   - POST   /actions/consent                   : Consent decision.
//   - POST   /actions/register                  : Self-service registration.
//   - POST   /actions/reset-credentials         : Password reset request.
//   - POST   /actions/reset-credentials/confirm : Password reset completion.
//   - POST   /actions/verify-email              : Email verification.
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()

	router.Get("/", handler.loginContext)
	router.Get("/consent", handler.consentContext)

	router.Route("/actions", func(actions chi.Router) {
		actions.Post("/authenticate", handler.authenticate)
		actions.Post("/mfa", handler.completeMfa)
		actions.Post("/consent", handler.consent)
		actions.Post("/register", handler.register)
		actions.Post("/reset-credentials", handler.resetRequest)
		actions.Post("/reset-credentials/confirm", handler.resetConfirm)
		actions.Post("/verify-email", handler.verifyEmail)
	})

	return router
}

// AccountRoutes returns a [chi.Router] for the self-service account
// console. Mounted under /realms/{realmName}/account behind the realm
// resolver; every endpoint requires the session cookie.
//
// # Endpoints
//   - GET    /                       : Own profile.
//   - GET    /consents               : Granted consents.
//   - DELETE /consents/{clientID}    : Revoke a consent.
//   - POST   /mfa/setup              : Begin TOTP enrollment.
//   - POST   /mfa/setup/confirm      : Confirm TOTP enrollment.
//   - DELETE /mfa                    : Remove the second factor.
//   - POST   /device                 : Approve or deny a device code.
func (handler *Handler) AccountRoutes() chi.Router {
	router := chi.NewRouter()

	router.Get("/", handler.profile)
	router.Get("/consents", handler.listConsents)
	router.Delete("/consents/{clientID}", handler.revokeConsent)
	router.Post("/mfa/setup", handler.mfaSetup)
	router.Post("/mfa/setup/confirm", handler.mfaSetupConfirm)
	router.Delete("/mfa", handler.mfaDisable)
	router.Post("/device", handler.decideDevice)

	return router
}

// # Request & Response Payloads

type authenticateRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`

	ClientID            string `json:"client_id"`
	RedirectURI         string `json:"redirect_uri"`
	Scope               string `json:"scope"`
	State               string `json:"state"`
	Nonce               string `json:"nonce"`
	CodeChallenge       string `json:"code_challenge"`
	CodeChallengeMethod string `json:"code_challenge_method"`
}

type mfaRequest struct {
	Code string `json:"code"`
}

type consentRequest struct {
	RequestID string `json:"request_id"`
	Approve   bool   `json:"approve"`
}

type resetRequestBody struct {
	Email string `json:"email"`
}

type resetConfirmBody struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type verifyEmailBody struct {
	Token string `json:"token"`
}

type mfaConfirmBody struct {
	Code string `json:"code"`
}

type decideDeviceBody struct {
	UserCode string `json:"user_code"`
	Approve  bool   `json:"approve"`
}

type flowResponse struct {
	Status     Status `json:"status"`
	RedirectTo string `json:"redirect_to,omitempty"`

	// Enrolment accompanies MFA_SETUP_REQUIRED; RecoveryCodes accompany
	// the AUTHENTICATED response that completed a forced setup.
	Enrolment     *mfa.Enrolment `json:"enrolment,omitempty"`
	RecoveryCodes []string       `json:"recovery_codes,omitempty"`
}

// # Login Flow

/*
LoginContext returns what the login page needs to render itself.

GET /realms/{realmName}/login
*/
func (handler *Handler) loginContext(writer http.ResponseWriter, request *http.Request) {
	currentRealm := realm.FromContext(request.Context())

	respond.OK(writer, map[string]any{
		"realm":           currentRealm.Name,
		"display_name":    currentRealm.DisplayName,
		"login_theme":     currentRealm.LoginTheme,
		"registration":    currentRealm.RegistrationAllowed,
		"authorize_query": request.URL.RawQuery,
	})
}

/*
Authenticate handles the password submission from the login page.

POST /realms/{realmName}/login/actions/authenticate

Response:
  - 200 {status: AUTHENTICATED, redirect_to} with the session cookie set,
    {status: MFA_REQUIRED} with the challenge cookie set, or
    {status: MFA_SETUP_REQUIRED, enrolment} when the realm mandates MFA
    and the account has no confirmed factor yet
  - 401: Bad credentials, locked, or disabled account
*/
func (handler *Handler) authenticate(writer http.ResponseWriter, request *http.Request) {
	currentRealm := realm.FromContext(request.Context())

	var body authenticateRequest
	if err := requestutil.DecodeJSON(request, &body); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	outcome, err := handler.loginService.Authenticate(request.Context(), currentRealm, AuthenticateInput{
		Username:   body.Username,
		Password:   body.Password,
		RememberMe: body.RememberMe,
		IP:         requestutil.ClientIP(request),
		UserAgent:  request.UserAgent(),
		Authorize: oidc.AuthorizeRequest{
			ResponseType:        "code",
			ClientID:            body.ClientID,
			RedirectURI:         body.RedirectURI,
			Scope:               body.Scope,
			State:               body.State,
			Nonce:               body.Nonce,
			CodeChallenge:       body.CodeChallenge,
			CodeChallengeMethod: body.CodeChallengeMethod,
		},
	})
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	if outcome.Status == StatusMfaRequired || outcome.Status == StatusMfaSetupRequired {
		writeChallengeCookie(writer, currentRealm, outcome.ChallengeID, handler.secureCookies)
		respond.OK(writer, flowResponse{Status: outcome.Status, Enrolment: outcome.Enrolment})
		return
	}

	session.WriteCookie(writer, currentRealm, outcome.SessionToken, outcome.SessionExpiresAt, handler.secureCookies)
	respond.OK(writer, flowResponse{Status: StatusAuthenticated, RedirectTo: outcome.RedirectTo})
}

/*
CompleteMfa handles the second-factor submission.

POST /realms/{realmName}/login/actions/mfa

Response:
  - 200 {status: AUTHENTICATED, redirect_to} with the session cookie set
  - 401: Wrong code with attempts remaining
  - 404: Challenge expired or exhausted; restart the login flow
*/
func (handler *Handler) completeMfa(writer http.ResponseWriter, request *http.Request) {
	currentRealm := realm.FromContext(request.Context())

	cookie, err := request.Cookie(constants.MfaChallengeCookieName)
	if err != nil || cookie.Value == "" {
		respond.Error(writer, request, apperr.NotFound("No pending challenge"))
		return
	}

	var body mfaRequest
	if err := requestutil.DecodeJSON(request, &body); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	outcome, err := handler.loginService.CompleteMfa(request.Context(), currentRealm, cookie.Value, body.Code)
	if err != nil {
		if apperr.IsNotFound(err) {
			clearChallengeCookie(writer, currentRealm, handler.secureCookies)
		}
		respond.Error(writer, request, err)
		return
	}

	clearChallengeCookie(writer, currentRealm, handler.secureCookies)
	session.WriteCookie(writer, currentRealm, outcome.SessionToken, outcome.SessionExpiresAt, handler.secureCookies)
	respond.OK(writer, flowResponse{
		Status:        StatusAuthenticated,
		RedirectTo:    outcome.RedirectTo,
		RecoveryCodes: outcome.RecoveryCodes,
	})
}

/*
ConsentContext loads the data the consent screen renders.

GET /realms/{realmName}/login/consent?request_id=...

Each read consumes the pending request and re-parks it under a fresh id,
so the response always carries the only id that can still decide it.

Response:
  - 200 {request_id, client_id, client_name, scopes}
  - 404: The request expired, was decided, or the id was superseded
*/
func (handler *Handler) consentContext(writer http.ResponseWriter, request *http.Request) {
	currentRealm := realm.FromContext(request.Context())

	view, err := handler.protocol.ConsentContext(request.Context(), currentRealm,
		request.URL.Query().Get("request_id"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, view)
}

/*
Consent handles the consent screen decision.

POST /realms/{realmName}/login/actions/consent

Response:
  - 200 {status: AUTHENTICATED, redirect_to}: The client callback, carrying
    either the code or access_denied
  - 404: The consent request expired or was already decided
*/
func (handler *Handler) consent(writer http.ResponseWriter, request *http.Request) {
	currentRealm := realm.FromContext(request.Context())

	var body consentRequest
	if err := requestutil.DecodeJSON(request, &body); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	redirect, err := handler.protocol.FinishConsent(request.Context(), currentRealm, body.RequestID, body.Approve)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, flowResponse{Status: StatusAuthenticated, RedirectTo: redirect})
}

// # Registration & Recovery

/*
Register handles self-service enrollment.

POST /realms/{realmName}/login/actions/register

Response:
  - 201: User
  - 403: Registration disabled for the realm
  - 409: Username or email already exists
*/
func (handler *Handler) register(writer http.ResponseWriter, request *http.Request) {
	currentRealm := realm.FromContext(request.Context())

	var input user.RegisterInput
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	created, err := handler.loginService.Register(request.Context(), currentRealm, input)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.Created(writer, created)
}

// ResetRequest answers 200 regardless of whether the address exists.
//
// POST /realms/{realmName}/login/actions/reset-credentials
func (handler *Handler) resetRequest(writer http.ResponseWriter, request *http.Request) {
	currentRealm := realm.FromContext(request.Context())

	var body resetRequestBody
	if err := requestutil.DecodeJSON(request, &body); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	if err := handler.loginService.RequestPasswordReset(request.Context(), currentRealm, body.Email); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, map[string]string{"status": "sent"})
}

// ResetConfirm consumes a reset token and sets the new password.
//
// POST /realms/{realmName}/login/actions/reset-credentials/confirm
func (handler *Handler) resetConfirm(writer http.ResponseWriter, request *http.Request) {
	currentRealm := realm.FromContext(request.Context())

	var body resetConfirmBody
	if err := requestutil.DecodeJSON(request, &body); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	if err := handler.loginService.ResetPassword(request.Context(), currentRealm, body.Token, body.NewPassword); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, map[string]string{"status": "password_reset"})
}

// VerifyEmail consumes an email verification token.
//
// POST /realms/{realmName}/login/actions/verify-email
func (handler *Handler) verifyEmail(writer http.ResponseWriter, request *http.Request) {
	currentRealm := realm.FromContext(request.Context())

	var body verifyEmailBody
	if err := requestutil.DecodeJSON(request, &body); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	if err := handler.loginService.VerifyEmail(request.Context(), currentRealm, body.Token); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, map[string]string{"status": "email_verified"})
}

// # Account Console

// requireSession resolves the caller's session cookie or fails with 401.
func (handler *Handler) requireSession(request *http.Request, currentRealm *realm.Realm) (*session.Session, error) {
	cookie, err := request.Cookie(constants.SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, apperr.Unauthorized("Authentication required")
	}

	currentSession, err := handler.sessions.Resolve(request.Context(), currentRealm, cookie.Value)
	if err != nil {
		return nil, apperr.Unauthorized("Authentication required")
	}
	return currentSession, nil
}

// Profile returns the signed-in user's own account.
//
// GET /realms/{realmName}/account
func (handler *Handler) profile(writer http.ResponseWriter, request *http.Request) {
	currentRealm := realm.FromContext(request.Context())

	currentSession, err := handler.requireSession(request, currentRealm)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	account, err := handler.users.Get(request.Context(), currentRealm.ID, currentSession.UserID)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, account)
}

// ListConsents returns the caller's granted consents.
//
// GET /realms/{realmName}/account/consents
func (handler *Handler) listConsents(writer http.ResponseWriter, request *http.Request) {
	currentRealm := realm.FromContext(request.Context())

	currentSession, err := handler.requireSession(request, currentRealm)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	consents, err := handler.protocol.ListConsents(request.Context(), currentRealm.ID, currentSession.UserID)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, consents)
}

// RevokeConsent removes one client's consent grant.
//
// DELETE /realms/{realmName}/account/consents/{clientID}
func (handler *Handler) revokeConsent(writer http.ResponseWriter, request *http.Request) {
	currentRealm := realm.FromContext(request.Context())

	currentSession, err := handler.requireSession(request, currentRealm)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.protocol.RevokeConsent(request.Context(), currentRealm.ID,
		currentSession.UserID, chi.URLParam(request, "clientID")); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.NoContent(writer)
}

/*
MfaSetup begins TOTP enrollment for the signed-in user.

POST /realms/{realmName}/account/mfa/setup

Response:
  - 200: {secret, uri} for the authenticator app
  - 409: A confirmed credential already exists
*/
func (handler *Handler) mfaSetup(writer http.ResponseWriter, request *http.Request) {
	currentRealm := realm.FromContext(request.Context())

	currentSession, err := handler.requireSession(request, currentRealm)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	account, err := handler.users.Get(request.Context(), currentRealm.ID, currentSession.UserID)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	enrolment, err := handler.mfa.Enroll(request.Context(), currentRealm, account.ID, account.Username)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, enrolment)
}

/*
MfaSetupConfirm proves possession of the enrolled authenticator.

POST /realms/{realmName}/account/mfa/setup/confirm

Response:
  - 200: {recovery_codes}; shown exactly once
  - 401: Wrong code
*/
func (handler *Handler) mfaSetupConfirm(writer http.ResponseWriter, request *http.Request) {
	currentRealm := realm.FromContext(request.Context())

	currentSession, err := handler.requireSession(request, currentRealm)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var body mfaConfirmBody
	if err := requestutil.DecodeJSON(request, &body); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	recoveryCodes, err := handler.mfa.Confirm(request.Context(), currentRealm.ID, currentSession.UserID, body.Code)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, map[string]any{"recovery_codes": recoveryCodes})
}

// MfaDisable removes the caller's second factor and recovery codes.
//
// DELETE /realms/{realmName}/account/mfa
func (handler *Handler) mfaDisable(writer http.ResponseWriter, request *http.Request) {
	currentRealm := realm.FromContext(request.Context())

	currentSession, err := handler.requireSession(request, currentRealm)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.mfa.Disable(request.Context(), currentRealm.ID, currentSession.UserID); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.NoContent(writer)
}

/*
DecideDevice resolves a device-flow user code for the signed-in user.

POST /realms/{realmName}/account/device

Response:
  - 200: {status}
  - 404: Unknown, expired, or already-decided code
*/
func (handler *Handler) decideDevice(writer http.ResponseWriter, request *http.Request) {
	currentRealm := realm.FromContext(request.Context())

	currentSession, err := handler.requireSession(request, currentRealm)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var body decideDeviceBody
	if err := requestutil.DecodeJSON(request, &body); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	if err := handler.protocol.DecideDevice(request.Context(), currentRealm,
		body.UserCode, currentSession.UserID, body.Approve); err != nil {
		respond.Error(writer, request, err)
		return
	}

	status := "denied"
	if body.Approve {
		status = "approved"
	}
	respond.OK(writer, map[string]string{"status": status})
}

// # Challenge Cookie

func writeChallengeCookie(writer http.ResponseWriter, currentRealm *realm.Realm, challengeID string, secure bool) {
	http.SetCookie(writer, &http.Cookie{
		Name:     constants.MfaChallengeCookieName,
		Value:    challengeID,
		Path:     "/realms/" + currentRealm.Name,
		MaxAge:   int(constants.MfaChallengeTTL.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearChallengeCookie(writer http.ResponseWriter, currentRealm *realm.Realm, secure bool) {
	http.SetCookie(writer, &http.Cookie{
		Name:     constants.MfaChallengeCookieName,
		Value:    "",
		Path:     "/realms/" + currentRealm.Name,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
