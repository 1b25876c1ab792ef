// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package rbac

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	requestutil "github.com/taibuivan/authme/internal/platform/request"
	"github.com/taibuivan/authme/internal/platform/respond"
	"github.com/taibuivan/authme/internal/platform/validate"
)

// # Definitions & Constructors

// Handler implements the role and group administration HTTP endpoints.
type Handler struct {
	rbacService *Service
}

// NewHandler constructs a new [Handler] with its service dependency.
func NewHandler(service *Service) *Handler {
	return &Handler{rbacService: service}
}

// RoleRoutes returns a [chi.Router] for role administration. Mounted under
// /admin/realms/{realmID}/roles.
//
// # Endpoints
//   - POST   /          : Creates a realm or client role.
//   - GET    /          : Lists roles.
//   - GET    /{roleID}  : Returns a single role.
//   - DELETE /{roleID}  : Removes a role and its assignments.
func (handler *Handler) RoleRoutes() chi.Router {
	router := chi.NewRouter()

	router.Post("/", handler.createRole)
	router.Get("/", handler.listRoles)
	router.Get("/{roleID}", handler.getRole)
	router.Delete("/{roleID}", handler.deleteRole)

	return router
}

// GroupRoutes returns a [chi.Router] for group administration. Mounted under
// /admin/realms/{realmID}/groups.
//
// # Endpoints
//   - POST   /                              : Creates a group node.
//   - GET    /                              : Lists the realm's groups.
//   - GET    /{groupID}                     : Returns a single group.
//   - PATCH  /{groupID}                     : Renames or moves a group.
//   - DELETE /{groupID}                     : Removes a group (children re-parent).
//   - PUT    /{groupID}/roles/{roleID}      : Attaches a role to the group.
//   - DELETE /{groupID}/roles/{roleID}      : Detaches a role.
//   - PUT    /{groupID}/members/{userID}    : Adds a member.
//   - DELETE /{groupID}/members/{userID}    : Removes a member.
func (handler *Handler) GroupRoutes() chi.Router {
	router := chi.NewRouter()

	router.Post("/", handler.createGroup)
	router.Get("/", handler.listGroups)
	router.Get("/{groupID}", handler.getGroup)
	router.Patch("/{groupID}", handler.updateGroup)
	router.Delete("/{groupID}", handler.deleteGroup)
	router.Put("/{groupID}/roles/{roleID}", handler.assignGroupRole)
	router.Delete("/{groupID}/roles/{roleID}", handler.unassignGroupRole)
	router.Put("/{groupID}/members/{userID}", handler.addMember)
	router.Delete("/{groupID}/members/{userID}", handler.removeMember)

	return router
}

// UserRoleRoutes returns a [chi.Router] for per-user role mappings. Mounted
// under /admin/realms/{realmID}/users/{userID}/role-mappings.
//
// # Endpoints
//   - GET    /           : Lists roles granted directly.
//   - GET    /effective  : Resolves direct plus group-inherited roles.
//   - PUT    /{roleID}   : Grants a role directly.
//   - DELETE /{roleID}   : Revokes a direct grant.
func (handler *Handler) UserRoleRoutes() chi.Router {
	router := chi.NewRouter()

	router.Get("/", handler.listUserRoles)
	router.Get("/effective", handler.effectiveRoles)
	router.Put("/{roleID}", handler.assignUserRole)
	router.Delete("/{roleID}", handler.unassignUserRole)

	return router
}

func realmIDParam(request *http.Request) string {
	return chi.URLParam(request, "realmID")
}

// # Role Endpoints

func (handler *Handler) createRole(writer http.ResponseWriter, request *http.Request) {
	var input CreateRoleInput
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	role, err := handler.rbacService.CreateRole(request.Context(), realmIDParam(request), input)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Created(writer, role)
}

func (handler *Handler) listRoles(writer http.ResponseWriter, request *http.Request) {
	roles, err := handler.rbacService.ListRoles(request.Context(), realmIDParam(request))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, roles)
}

func (handler *Handler) getRole(writer http.ResponseWriter, request *http.Request) {
	role, err := handler.rbacService.GetRole(request.Context(),
		realmIDParam(request), requestutil.Param(request, "roleID"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, role)
}

func (handler *Handler) deleteRole(writer http.ResponseWriter, request *http.Request) {
	err := handler.rbacService.DeleteRole(request.Context(),
		realmIDParam(request), requestutil.Param(request, "roleID"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}

// # Group Endpoints

func (handler *Handler) createGroup(writer http.ResponseWriter, request *http.Request) {
	var input CreateGroupInput
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	group, err := handler.rbacService.CreateGroup(request.Context(), realmIDParam(request), input)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Created(writer, group)
}

func (handler *Handler) listGroups(writer http.ResponseWriter, request *http.Request) {
	groups, err := handler.rbacService.ListGroups(request.Context(), realmIDParam(request))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, groups)
}

func (handler *Handler) getGroup(writer http.ResponseWriter, request *http.Request) {
	group, err := handler.rbacService.GetGroup(request.Context(),
		realmIDParam(request), requestutil.Param(request, "groupID"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, group)
}

func (handler *Handler) updateGroup(writer http.ResponseWriter, request *http.Request) {
	var input UpdateGroupInput
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	group, err := handler.rbacService.UpdateGroup(request.Context(),
		realmIDParam(request), requestutil.Param(request, "groupID"), input)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, group)
}

func (handler *Handler) deleteGroup(writer http.ResponseWriter, request *http.Request) {
	err := handler.rbacService.DeleteGroup(request.Context(),
		realmIDParam(request), requestutil.Param(request, "groupID"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}

func (handler *Handler) assignGroupRole(writer http.ResponseWriter, request *http.Request) {
	err := handler.rbacService.AssignRoleToGroup(request.Context(),
		realmIDParam(request),
		requestutil.Param(request, "groupID"),
		requestutil.Param(request, "roleID"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}

func (handler *Handler) unassignGroupRole(writer http.ResponseWriter, request *http.Request) {
	err := handler.rbacService.UnassignRoleFromGroup(request.Context(),
		requestutil.Param(request, "groupID"),
		requestutil.Param(request, "roleID"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}

func (handler *Handler) addMember(writer http.ResponseWriter, request *http.Request) {
	err := handler.rbacService.AddGroupMember(request.Context(),
		realmIDParam(request),
		requestutil.Param(request, "groupID"),
		requestutil.Param(request, "userID"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}

func (handler *Handler) removeMember(writer http.ResponseWriter, request *http.Request) {
	err := handler.rbacService.RemoveGroupMember(request.Context(),
		requestutil.Param(request, "groupID"),
		requestutil.Param(request, "userID"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}

// # User Role Mapping Endpoints

func (handler *Handler) listUserRoles(writer http.ResponseWriter, request *http.Request) {
	roles, err := handler.rbacService.ListUserRoles(request.Context(),
		requestutil.Param(request, "userID"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, roles)
}

func (handler *Handler) effectiveRoles(writer http.ResponseWriter, request *http.Request) {
	effective, err := handler.rbacService.EffectiveRoles(request.Context(),
		realmIDParam(request), requestutil.Param(request, "userID"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, effective)
}

func (handler *Handler) assignUserRole(writer http.ResponseWriter, request *http.Request) {
	err := handler.rbacService.AssignRoleToUser(request.Context(),
		realmIDParam(request),
		requestutil.Param(request, "userID"),
		requestutil.Param(request, "roleID"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}

func (handler *Handler) unassignUserRole(writer http.ResponseWriter, request *http.Request) {
	err := handler.rbacService.UnassignRoleFromUser(request.Context(),
		requestutil.Param(request, "userID"),
		requestutil.Param(request, "roleID"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}
