// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package token

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	requestutil "github.com/taibuivan/authme/internal/platform/request"
	"github.com/taibuivan/authme/internal/platform/respond"
)

// # Definitions & Constructors

// Handler implements the signing-key administration HTTP endpoints.
type Handler struct {
	manager *Manager
}

// NewHandler constructs a new [Handler] with its manager dependency.
func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

// Routes returns a [chi.Router] for key administration. Mounted under
// /admin/realms/{realmID}/keys.
//
// # Endpoints
//   - GET    /         : Lists the realm's keys (public fields only).
//   - POST   /rotate   : Generates and activates a fresh signing key.
//   - DELETE /{kid}    : Removes a retired key.
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()

	router.Get("/", handler.list)
	router.Post("/rotate", handler.rotate)
	router.Delete("/{kid}", handler.delete)

	return router
}

// # Endpoints

func (handler *Handler) list(writer http.ResponseWriter, request *http.Request) {
	keys, err := handler.manager.List(request.Context(), chi.URLParam(request, "realmID"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, keys)
}

func (handler *Handler) rotate(writer http.ResponseWriter, request *http.Request) {
	key, err := handler.manager.Rotate(request.Context(), chi.URLParam(request, "realmID"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Created(writer, key)
}

func (handler *Handler) delete(writer http.ResponseWriter, request *http.Request) {
	err := handler.manager.DeleteRetired(request.Context(),
		chi.URLParam(request, "realmID"), requestutil.Param(request, "kid"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}
