// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package user

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	requestutil "github.com/taibuivan/authme/internal/platform/request"
	"github.com/taibuivan/authme/internal/platform/respond"
	"github.com/taibuivan/authme/internal/platform/validate"
	"github.com/taibuivan/authme/internal/realm"
)

// # Definitions & Constructors

// Handler implements the user administration HTTP endpoints.
type Handler struct {
	userService  *Service
	realmService *realm.Service
}

// NewHandler constructs a new [Handler] with its service dependencies.
func NewHandler(userService *Service, realmService *realm.Service) *Handler {
	return &Handler{userService: userService, realmService: realmService}
}

// Routes returns a [chi.Router] for user administration. Mounted under
// /admin/realms/{realmID}/users.
//
// # Endpoints
//   - POST   /                        : Creates an account.
//   - GET    /                        : Lists accounts in the realm.
//   - GET    /{userID}                : Returns a single account.
//   - PATCH  /{userID}                : Applies a partial profile update.
//   - DELETE /{userID}                : Removes an account.
//   - PUT    /{userID}/password       : Sets a new password.
//   - POST   /{userID}/unlock         : Clears brute-force lockout.
//   - POST   /{userID}/send-verify-email : Issues a verification email.
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()

	router.Post("/", handler.create)
	router.Get("/", handler.list)
	router.Get("/{userID}", handler.get)
	router.Patch("/{userID}", handler.update)
	router.Delete("/{userID}", handler.delete)
	router.Put("/{userID}/password", handler.setPassword)
	router.Post("/{userID}/unlock", handler.unlock)
	router.Post("/{userID}/send-verify-email", handler.sendVerifyEmail)

	return router
}

// adminRealm loads the realm addressed by the admin route.
func (handler *Handler) adminRealm(request *http.Request) (*realm.Realm, error) {
	return handler.realmService.GetByID(request.Context(), chi.URLParam(request, "realmID"))
}

// # Request Payloads

type setPasswordRequest struct {
	Password string `json:"password"`
}

/*
Create handles admin enrollment of a new account.

POST /admin/realms/{realmID}/users

Response:
  - 201: User
  - 400: Validation or policy failure
  - 409: Username or email already exists
*/
func (handler *Handler) create(writer http.ResponseWriter, request *http.Request) {
	currentRealm, err := handler.adminRealm(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var input CreateInput
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	created, err := handler.userService.Create(request.Context(), currentRealm, input)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Created(writer, created)
}

/*
List returns all accounts in the realm.

GET /admin/realms/{realmID}/users
*/
func (handler *Handler) list(writer http.ResponseWriter, request *http.Request) {
	currentRealm, err := handler.adminRealm(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	users, err := handler.userService.List(request.Context(), currentRealm.ID)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, users)
}

/*
Get returns a single account.

GET /admin/realms/{realmID}/users/{userID}
*/
func (handler *Handler) get(writer http.ResponseWriter, request *http.Request) {
	currentRealm, err := handler.adminRealm(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	account, err := handler.userService.Get(request.Context(), currentRealm.ID, chi.URLParam(request, "userID"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, account)
}

/*
Update applies a partial profile change.

PATCH /admin/realms/{realmID}/users/{userID}
*/
func (handler *Handler) update(writer http.ResponseWriter, request *http.Request) {
	currentRealm, err := handler.adminRealm(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var input UpdateInput
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	updated, err := handler.userService.Update(request.Context(), currentRealm, chi.URLParam(request, "userID"), input)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, updated)
}

/*
Delete removes an account.

DELETE /admin/realms/{realmID}/users/{userID}
*/
func (handler *Handler) delete(writer http.ResponseWriter, request *http.Request) {
	currentRealm, err := handler.adminRealm(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.userService.Delete(request.Context(), currentRealm.ID, chi.URLParam(request, "userID")); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}

/*
SetPassword replaces the account's password under the realm policy.

PUT /admin/realms/{realmID}/users/{userID}/password
*/
func (handler *Handler) setPassword(writer http.ResponseWriter, request *http.Request) {
	currentRealm, err := handler.adminRealm(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var input setPasswordRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	err = handler.userService.SetPassword(request.Context(), currentRealm, chi.URLParam(request, "userID"), input.Password)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}

/*
Unlock clears brute-force lockout state.

POST /admin/realms/{realmID}/users/{userID}/unlock
*/
func (handler *Handler) unlock(writer http.ResponseWriter, request *http.Request) {
	currentRealm, err := handler.adminRealm(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.userService.Unlock(request.Context(), currentRealm.ID, chi.URLParam(request, "userID")); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}

/*
SendVerifyEmail issues a fresh email-verification token.

POST /admin/realms/{realmID}/users/{userID}/send-verify-email
*/
func (handler *Handler) sendVerifyEmail(writer http.ResponseWriter, request *http.Request) {
	currentRealm, err := handler.adminRealm(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	err = handler.userService.SendVerificationEmail(request.Context(), currentRealm, chi.URLParam(request, "userID"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}
