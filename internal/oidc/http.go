// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package oidc

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/taibuivan/authme/internal/platform/constants"
	"github.com/taibuivan/authme/internal/platform/oautherr"
	requestutil "github.com/taibuivan/authme/internal/platform/request"
	"github.com/taibuivan/authme/internal/platform/respond"
	"github.com/taibuivan/authme/internal/realm"
	"github.com/taibuivan/authme/internal/session"
	"github.com/taibuivan/authme/internal/token"
)

// # Definitions & Constructors

// Handler implements the realm-scoped protocol endpoints.
type Handler struct {
	service       *Service
	keys          *token.Manager
	sessions      *session.Service
	secureCookies bool
}

// NewHandler constructs a new [Handler] with its service dependencies.
func NewHandler(service *Service, keys *token.Manager, sessions *session.Service, secureCookies bool) *Handler {
	return &Handler{service: service, keys: keys, sessions: sessions, secureCookies: secureCookies}
}

// Routes returns a [chi.Router] for the protocol surface. Mounted under
// /realms/{realmName} behind the realm resolver.
//
// # Endpoints
//   - GET  /.well-known/openid-configuration          : Discovery document.
//   - GET  /protocol/openid-connect/auth              : Authorization endpoint.
//   - POST /protocol/openid-connect/auth/device       : Device authorization (RFC 8628).
//   - POST /protocol/openid-connect/token             : Token endpoint, all grants.
//   - POST /protocol/openid-connect/token/introspect  : Introspection (RFC 7662).
//   - POST /protocol/openid-connect/revoke            : Revocation (RFC 7009).
//   - GET|POST /protocol/openid-connect/userinfo      : UserInfo.
//   - GET|POST /protocol/openid-connect/logout        : RP-initiated logout.
//   - GET  /protocol/openid-connect/certs             : Realm JWKS.
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()

	router.Get("/.well-known/openid-configuration", handler.discovery)

	router.Route("/protocol/openid-connect", func(protocol chi.Router) {
		protocol.Get("/auth", handler.authorize)
		protocol.Post("/auth/device", handler.deviceAuthorization)
		protocol.Post("/token", handler.token)
		protocol.Post("/token/introspect", handler.introspect)
		protocol.Post("/revoke", handler.revoke)
		protocol.Get("/userinfo", handler.userinfo)
		protocol.Post("/userinfo", handler.userinfo)
		protocol.Get("/logout", handler.logout)
		protocol.Post("/logout", handler.logout)
		protocol.Get("/certs", handler.certs)
	})

	return router
}

// # Front Channel

func (handler *Handler) authorize(writer http.ResponseWriter, request *http.Request) {
	currentRealm := realm.FromContext(request.Context())
	query := request.URL.Query()

	authorizeRequest := AuthorizeRequest{
		ResponseType:        query.Get("response_type"),
		ClientID:            query.Get("client_id"),
		RedirectURI:         query.Get("redirect_uri"),
		Scope:               query.Get("scope"),
		State:               query.Get("state"),
		Nonce:               query.Get("nonce"),
		CodeChallenge:       query.Get("code_challenge"),
		CodeChallengeMethod: query.Get("code_challenge_method"),
		Prompt:              query.Get("prompt"),
	}

	registered, err := handler.service.ResolveAuthorizeClient(request.Context(), currentRealm,
		authorizeRequest.ClientID, authorizeRequest.RedirectURI)
	if err != nil {
		// No validated redirect target exists; render instead.
		oautherr.WriteFrom(writer, err)
		return
	}

	if protocolErr := handler.service.CheckAuthorizeRequest(currentRealm, registered, authorizeRequest); protocolErr != nil {
		respond.Redirect(writer, request,
			ErrorRedirect(authorizeRequest.RedirectURI, authorizeRequest.State, protocolErr))
		return
	}

	if authorizeRequest.Prompt != "login" {
		if currentSession := handler.resolveSession(request, currentRealm); currentSession != nil {
			redirect, err := handler.service.ContinueAuthorization(request.Context(), currentRealm,
				registered, authorizeRequest, currentSession)
			if err != nil {
				respond.Redirect(writer, request,
					ErrorRedirect(authorizeRequest.RedirectURI, authorizeRequest.State, oautherr.FromInternal(err)))
				return
			}
			respond.Redirect(writer, request, redirect)
			return
		}
	}

	respond.Redirect(writer, request, handler.service.LoginURL(currentRealm, query))
}

func (handler *Handler) logout(writer http.ResponseWriter, request *http.Request) {
	currentRealm := realm.FromContext(request.Context())
	_ = request.ParseForm()

	idTokenHint := request.Form.Get("id_token_hint")
	postLogoutRedirect := request.Form.Get("post_logout_redirect_uri")
	state := request.Form.Get("state")

	if currentSession := handler.resolveSession(request, currentRealm); currentSession != nil {
		if err := handler.service.Logout(request.Context(), currentRealm, currentSession); err != nil {
			respond.Error(writer, request, err)
			return
		}
	}
	session.ClearCookie(writer, currentRealm, handler.secureCookies)

	if handler.service.ValidatePostLogoutRedirect(request.Context(), currentRealm, idTokenHint, postLogoutRedirect) {
		if state != "" {
			postLogoutRedirect = appendQuery(postLogoutRedirect, url.Values{"state": {state}})
		}
		respond.Redirect(writer, request, postLogoutRedirect)
		return
	}

	respond.OK(writer, map[string]string{"status": "logged_out"})
}

// resolveSession returns the live session behind the realm cookie, or nil.
func (handler *Handler) resolveSession(request *http.Request, currentRealm *realm.Realm) *session.Session {
	cookie, err := request.Cookie(constants.SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}

	currentSession, err := handler.sessions.Resolve(request.Context(), currentRealm, cookie.Value)
	if err != nil {
		return nil
	}
	return currentSession
}

// # Back Channel

func (handler *Handler) token(writer http.ResponseWriter, request *http.Request) {
	currentRealm := realm.FromContext(request.Context())
	if err := request.ParseForm(); err != nil {
		oautherr.Write(writer, oautherr.InvalidRequest("Malformed request body"))
		return
	}

	clientID, clientSecret := clientCredentials(request)
	tokenRequest := TokenRequest{
		GrantType:    request.PostFormValue("grant_type"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Code:         request.PostFormValue("code"),
		RedirectURI:  request.PostFormValue("redirect_uri"),
		CodeVerifier: request.PostFormValue("code_verifier"),
		RefreshToken: request.PostFormValue("refresh_token"),
		Scope:        request.PostFormValue("scope"),
		Username:     request.PostFormValue("username"),
		Password:     request.PostFormValue("password"),
		DeviceCode:   request.PostFormValue("device_code"),
		IP:           requestutil.ClientIP(request),
	}

	response, err := handler.service.Token(request.Context(), currentRealm, tokenRequest)
	if err != nil {
		oautherr.WriteFrom(writer, err)
		return
	}

	writer.Header().Set("Cache-Control", "no-store")
	writer.Header().Set("Pragma", "no-cache")
	respond.JSON(writer, http.StatusOK, response)
}

func (handler *Handler) introspect(writer http.ResponseWriter, request *http.Request) {
	currentRealm := realm.FromContext(request.Context())
	if err := request.ParseForm(); err != nil {
		oautherr.Write(writer, oautherr.InvalidRequest("Malformed request body"))
		return
	}

	clientID, clientSecret := clientCredentials(request)
	if _, err := handler.service.AuthenticateCaller(request.Context(), currentRealm, clientID, clientSecret); err != nil {
		oautherr.WriteFrom(writer, err)
		return
	}

	response, err := handler.service.Introspect(request.Context(), currentRealm, request.PostFormValue("token"))
	if err != nil {
		oautherr.WriteFrom(writer, err)
		return
	}
	respond.JSON(writer, http.StatusOK, response)
}

func (handler *Handler) revoke(writer http.ResponseWriter, request *http.Request) {
	currentRealm := realm.FromContext(request.Context())
	if err := request.ParseForm(); err != nil {
		oautherr.Write(writer, oautherr.InvalidRequest("Malformed request body"))
		return
	}

	clientID, clientSecret := clientCredentials(request)
	caller, err := handler.service.AuthenticateCaller(request.Context(), currentRealm, clientID, clientSecret)
	if err != nil {
		oautherr.WriteFrom(writer, err)
		return
	}

	if err := handler.service.Revoke(request.Context(), currentRealm, caller, request.PostFormValue("token")); err != nil {
		oautherr.WriteFrom(writer, err)
		return
	}
	writer.WriteHeader(http.StatusOK)
}

func (handler *Handler) userinfo(writer http.ResponseWriter, request *http.Request) {
	currentRealm := realm.FromContext(request.Context())

	bearer, err := requestutil.BearerToken(request)
	if err != nil {
		writer.Header().Set("WWW-Authenticate", `Bearer realm="`+currentRealm.Name+`"`)
		respond.Error(writer, request, err)
		return
	}

	claims, err := handler.service.UserInfo(request.Context(), currentRealm, bearer)
	if err != nil {
		writer.Header().Set("WWW-Authenticate", `Bearer realm="`+currentRealm.Name+`", error="invalid_token"`)
		respond.Error(writer, request, err)
		return
	}
	respond.JSON(writer, http.StatusOK, claims)
}

func (handler *Handler) deviceAuthorization(writer http.ResponseWriter, request *http.Request) {
	currentRealm := realm.FromContext(request.Context())
	if err := request.ParseForm(); err != nil {
		oautherr.Write(writer, oautherr.InvalidRequest("Malformed request body"))
		return
	}

	clientID, clientSecret := clientCredentials(request)
	caller, err := handler.service.AuthenticateCaller(request.Context(), currentRealm, clientID, clientSecret)
	if err != nil {
		oautherr.WriteFrom(writer, err)
		return
	}

	response, err := handler.service.StartDeviceAuthorization(request.Context(), currentRealm,
		caller.ClientID, request.PostFormValue("scope"))
	if err != nil {
		oautherr.WriteFrom(writer, err)
		return
	}

	writer.Header().Set("Cache-Control", "no-store")
	respond.JSON(writer, http.StatusOK, response)
}

// # Metadata

func (handler *Handler) discovery(writer http.ResponseWriter, request *http.Request) {
	currentRealm := realm.FromContext(request.Context())
	respond.JSON(writer, http.StatusOK, handler.service.Discovery(currentRealm))
}

func (handler *Handler) certs(writer http.ResponseWriter, request *http.Request) {
	currentRealm := realm.FromContext(request.Context())

	jwks, err := handler.keys.JWKS(request.Context(), currentRealm.ID)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.JSON(writer, http.StatusOK, jwks)
}

// clientCredentials extracts client authentication from Basic auth or the
// form body. Basic credentials are form-urlencoded per RFC 6749 §2.3.1.
func clientCredentials(request *http.Request) (string, string) {
	if id, secret, ok := request.BasicAuth(); ok {
		if decodedID, err := url.QueryUnescape(id); err == nil {
			id = decodedID
		}
		if decodedSecret, err := url.QueryUnescape(secret); err == nil {
			secret = decodedSecret
		}
		return id, secret
	}
	return request.PostFormValue("client_id"), request.PostFormValue("client_secret")
}
