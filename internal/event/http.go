// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package event

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/taibuivan/authme/internal/platform/respond"
	"github.com/taibuivan/authme/pkg/pagination"
)

// # Definitions & Constructors

// Handler implements the audit-trail administration HTTP endpoints.
type Handler struct {
	events Repository
}

// NewHandler constructs a new [Handler] with its repository dependency.
func NewHandler(events Repository) *Handler {
	return &Handler{events: events}
}

// Routes returns a [chi.Router] for event administration. Mounted under
// /admin/realms/{realmID}/events.
//
// # Endpoints
//   - GET / : Lists the realm's events, newest first. Supports the
//     kind, user_id, page, and limit query parameters.
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()

	router.Get("/", handler.list)

	return router
}

// # Endpoints

func (handler *Handler) list(writer http.ResponseWriter, request *http.Request) {
	realmID := chi.URLParam(request, "realmID")
	params := pagination.FromRequest(request)

	filter := Filter{
		Kind:   Kind(request.URL.Query().Get("kind")),
		UserID: request.URL.Query().Get("user_id"),
		Limit:  params.Limit,
		Offset: params.Offset(),
	}

	events, err := handler.events.ListByRealm(request.Context(), realmID, filter)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	total, err := handler.events.CountByRealm(request.Context(), realmID, filter)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, map[string]any{
		"data": events,
		"meta": pagination.NewMeta(params.Page, params.Limit, total),
	})
}
