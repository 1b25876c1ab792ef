// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package session

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	requestutil "github.com/taibuivan/authme/internal/platform/request"
	"github.com/taibuivan/authme/internal/platform/respond"
	"github.com/taibuivan/authme/internal/realm"
)

// # Definitions & Constructors

// Handler implements the session administration HTTP endpoints.
type Handler struct {
	sessionService *Service
	realmService   *realm.Service
}

// NewHandler constructs a new [Handler] with its service dependencies.
func NewHandler(sessionService *Service, realmService *realm.Service) *Handler {
	return &Handler{sessionService: sessionService, realmService: realmService}
}

// Routes returns a [chi.Router] for session administration. Mounted under
// /admin/realms/{realmID}/users/{userID}.
//
// # Endpoints
//   - GET    /sessions                    : Lists the user's live sessions.
//   - DELETE /sessions/{sessionID}        : Force-terminates one session.
//   - GET    /offline-tokens              : Lists live offline tokens.
//   - DELETE /offline-tokens/{tokenID}    : Revokes one offline token.
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()

	router.Get("/sessions", handler.listSessions)
	router.Delete("/sessions/{sessionID}", handler.destroySession)
	router.Get("/offline-tokens", handler.listOfflineTokens)
	router.Delete("/offline-tokens/{tokenID}", handler.revokeOfflineToken)

	return router
}

// # Endpoints

func (handler *Handler) listSessions(writer http.ResponseWriter, request *http.Request) {
	sessions, err := handler.sessionService.ListSessions(request.Context(),
		chi.URLParam(request, "realmID"), requestutil.Param(request, "userID"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, sessions)
}

func (handler *Handler) destroySession(writer http.ResponseWriter, request *http.Request) {
	currentRealm, err := handler.realmService.GetByID(request.Context(), chi.URLParam(request, "realmID"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	err = handler.sessionService.DestroySession(request.Context(), currentRealm,
		requestutil.Param(request, "sessionID"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}

func (handler *Handler) listOfflineTokens(writer http.ResponseWriter, request *http.Request) {
	tokens, err := handler.sessionService.ListOfflineTokens(request.Context(),
		chi.URLParam(request, "realmID"), requestutil.Param(request, "userID"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, tokens)
}

func (handler *Handler) revokeOfflineToken(writer http.ResponseWriter, request *http.Request) {
	err := handler.sessionService.RevokeOfflineToken(request.Context(),
		chi.URLParam(request, "realmID"), requestutil.Param(request, "tokenID"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}
