// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package realm

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/taibuivan/authme/internal/platform/apperr"
	"github.com/taibuivan/authme/internal/platform/ctxkey"
	requestutil "github.com/taibuivan/authme/internal/platform/request"
	"github.com/taibuivan/authme/internal/platform/respond"
	"github.com/taibuivan/authme/internal/platform/validate"
)

// # Definitions & Constructors

// Handler implements realm administration HTTP endpoints.
type Handler struct {
	realmService *Service
}

// NewHandler constructs a new [Handler] with its service dependency.
func NewHandler(service *Service) *Handler {
	return &Handler{realmService: service}
}

// Routes returns a [chi.Router] configured with realm administration routes.
//
// # Endpoints
//   - POST   /        : Provisions a new realm.
//   - GET    /        : Lists all realms.
//   - GET    /{id}    : Returns a single realm by ID.
//   - PATCH  /{id}    : Applies a partial settings update.
//   - DELETE /{id}    : Removes a realm and everything it owns.
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()

	router.Post("/", handler.create)
	router.Get("/", handler.list)
	router.Get("/{id}", handler.get)
	router.Patch("/{id}", handler.update)
	router.Delete("/{id}", handler.delete)

	return router
}

// # Request Resolution

// Resolver turns the {realmName} URL parameter into a hydrated realm in the
// request context. Mounted on every /realms/{realmName}/... route.
//
// # Behavior
//
// An unknown realm yields 404; a disabled realm yields 403 for every
// operation beneath it.
func (handler *Handler) Resolver(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		name := requestutil.Param(request, "realmName")

		resolved, err := handler.realmService.GetByName(request.Context(), name)
		if err != nil {
			respond.Error(writer, request, apperr.NotFound("Realm not found"))
			return
		}

		if !resolved.Enabled {
			respond.Error(writer, request, apperr.NotFound("Realm not found"))
			return
		}

		// The realm package cannot import ctxutil (ctxutil imports this
		// package), so the value is written under the shared key directly.
		// ctxutil.GetRealm reads it back.
		ctx := context.WithValue(request.Context(), ctxkey.KeyRealm, resolved)
		next.ServeHTTP(writer, request.WithContext(ctx))
	})
}

// FromContext returns the realm resolved by [Handler.Resolver], or nil.
func FromContext(ctx context.Context) *Realm {
	resolved, _ := ctx.Value(ctxkey.KeyRealm).(*Realm)
	return resolved
}

/*
Create handles the provisioning of a new realm.

POST /admin/realms

Request:
  - Body: CreateInput (Name, DisplayName)

Response:
  - 201: Realm: Created tenant
  - 400: ErrInvalidJSON: Bad input or validation failure
  - 409: ErrConflict: Realm name already exists
*/
func (handler *Handler) create(writer http.ResponseWriter, request *http.Request) {
	var input CreateInput

	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	created, err := handler.realmService.Create(request.Context(), input)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Created(writer, created)
}

/*
List returns all realms.

GET /admin/realms

Response:
  - 200: []Realm
*/
func (handler *Handler) list(writer http.ResponseWriter, request *http.Request) {
	realms, err := handler.realmService.List(request.Context())
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, realms)
}

/*
Get returns a single realm by ID.

GET /admin/realms/{id}

Response:
  - 200: Realm
  - 404: ErrNotFound
*/
func (handler *Handler) get(writer http.ResponseWriter, request *http.Request) {
	id := chi.URLParam(request, "id")

	found, err := handler.realmService.GetByID(request.Context(), id)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, found)
}

/*
Update applies a partial settings change.

PATCH /admin/realms/{id}

Request:
  - Body: UpdateInput (all fields optional)

Response:
  - 200: Realm: Updated tenant
  - 400: ErrInvalidJSON: Bad input or validation failure
  - 404: ErrNotFound
*/
func (handler *Handler) update(writer http.ResponseWriter, request *http.Request) {
	id := chi.URLParam(request, "id")

	var input UpdateInput
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	updated, err := handler.realmService.Update(request.Context(), id, input)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, updated)
}

/*
Delete removes a realm.

DELETE /admin/realms/{id}

Response:
  - 204: No content
  - 404: ErrNotFound
*/
func (handler *Handler) delete(writer http.ResponseWriter, request *http.Request) {
	id := chi.URLParam(request, "id")

	if err := handler.realmService.Delete(request.Context(), id); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}
