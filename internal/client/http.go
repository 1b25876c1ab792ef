// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package client

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	requestutil "github.com/taibuivan/authme/internal/platform/request"
	"github.com/taibuivan/authme/internal/platform/respond"
	"github.com/taibuivan/authme/internal/platform/validate"
)

// # Definitions & Constructors

// Handler implements the client administration HTTP endpoints.
type Handler struct {
	clientService *Service
}

// NewHandler constructs a new [Handler] with its service dependency.
func NewHandler(service *Service) *Handler {
	return &Handler{clientService: service}
}

// Routes returns a [chi.Router] for client administration. Mounted under
// /admin/realms/{realmID}/clients.
//
// # Endpoints
//   - POST   /                      : Registers a client (secret returned once).
//   - GET    /                      : Lists clients.
//   - GET    /{clientID}            : Returns a single client.
//   - PATCH  /{clientID}            : Applies a partial update.
//   - DELETE /{clientID}            : Removes a client.
//   - POST   /{clientID}/rotate-secret : Regenerates the secret.
//   - PUT    /{clientID}/scopes/{scopeID} : Assigns a scope (body: {"default": bool}).
//   - DELETE /{clientID}/scopes/{scopeID} : Unassigns a scope.
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()

	router.Post("/", handler.create)
	router.Get("/", handler.list)
	router.Get("/{clientID}", handler.get)
	router.Patch("/{clientID}", handler.update)
	router.Delete("/{clientID}", handler.delete)
	router.Post("/{clientID}/rotate-secret", handler.rotateSecret)
	router.Put("/{clientID}/scopes/{scopeID}", handler.assignScope)
	router.Delete("/{clientID}/scopes/{scopeID}", handler.unassignScope)

	return router
}

// ScopeRoutes returns a [chi.Router] for scope administration. Mounted
// under /admin/realms/{realmID}/client-scopes.
func (handler *Handler) ScopeRoutes() chi.Router {
	router := chi.NewRouter()

	router.Post("/", handler.createScope)
	router.Get("/", handler.listScopes)
	router.Patch("/{scopeID}", handler.updateScope)
	router.Delete("/{scopeID}", handler.deleteScope)

	return router
}

func realmIDParam(request *http.Request) string {
	return chi.URLParam(request, "realmID")
}

// # Client Endpoints

type assignScopeRequest struct {
	Default bool `json:"default"`
}

type rotateSecretResponse struct {
	Secret string `json:"secret"`
}

/*
Create registers a new client.

POST /admin/realms/{realmID}/clients

Response:
  - 201: CreateResult (client + one-time secret for confidential clients)
  - 400: Validation failure
  - 409: client_id already registered
*/
func (handler *Handler) create(writer http.ResponseWriter, request *http.Request) {
	var input CreateInput
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	result, err := handler.clientService.Create(request.Context(), realmIDParam(request), input)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Created(writer, result)
}

func (handler *Handler) list(writer http.ResponseWriter, request *http.Request) {
	clients, err := handler.clientService.List(request.Context(), realmIDParam(request))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, clients)
}

func (handler *Handler) get(writer http.ResponseWriter, request *http.Request) {
	registered, err := handler.clientService.Get(request.Context(), realmIDParam(request), chi.URLParam(request, "clientID"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, registered)
}

func (handler *Handler) update(writer http.ResponseWriter, request *http.Request) {
	var input UpdateInput
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	updated, err := handler.clientService.Update(request.Context(), realmIDParam(request), chi.URLParam(request, "clientID"), input)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, updated)
}

func (handler *Handler) delete(writer http.ResponseWriter, request *http.Request) {
	err := handler.clientService.Delete(request.Context(), realmIDParam(request), chi.URLParam(request, "clientID"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.NoContent(writer)
}

/*
RotateSecret regenerates a confidential client's secret.

POST /admin/realms/{realmID}/clients/{clientID}/rotate-secret

Response:
  - 200: {"secret": "..."} (plaintext, shown exactly once)
  - 400: Public client
  - 404: Client not found
*/
func (handler *Handler) rotateSecret(writer http.ResponseWriter, request *http.Request) {
	secret, err := handler.clientService.RotateSecret(request.Context(), realmIDParam(request), chi.URLParam(request, "clientID"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, rotateSecretResponse{Secret: secret})
}

func (handler *Handler) assignScope(writer http.ResponseWriter, request *http.Request) {
	var input assignScopeRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	err := handler.clientService.AssignScope(request.Context(),
		realmIDParam(request),
		chi.URLParam(request, "clientID"),
		chi.URLParam(request, "scopeID"),
		input.Default,
	)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.NoContent(writer)
}

func (handler *Handler) unassignScope(writer http.ResponseWriter, request *http.Request) {
	err := handler.clientService.UnassignScope(request.Context(),
		chi.URLParam(request, "clientID"),
		chi.URLParam(request, "scopeID"),
	)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.NoContent(writer)
}

// # Scope Endpoints

func (handler *Handler) createScope(writer http.ResponseWriter, request *http.Request) {
	var input ScopeInput
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	scope, err := handler.clientService.CreateScope(request.Context(), realmIDParam(request), input)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.Created(writer, scope)
}

func (handler *Handler) listScopes(writer http.ResponseWriter, request *http.Request) {
	scopes, err := handler.clientService.ListScopes(request.Context(), realmIDParam(request))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, scopes)
}

func (handler *Handler) updateScope(writer http.ResponseWriter, request *http.Request) {
	var input ScopeInput
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	scope, err := handler.clientService.UpdateScope(request.Context(), realmIDParam(request), chi.URLParam(request, "scopeID"), input)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, scope)
}

func (handler *Handler) deleteScope(writer http.ResponseWriter, request *http.Request) {
	err := handler.clientService.DeleteScope(request.Context(), realmIDParam(request), chi.URLParam(request, "scopeID"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.NoContent(writer)
}
