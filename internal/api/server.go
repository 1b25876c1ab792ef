// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package api wires together the HTTP router, middleware chain, and all
domain handlers into a runnable [http.Server].

Architecture:

  - This package is the topmost Presentation layer boundary.
  - It acts as the central composition root for the HTTP transport framework (chi router).
  - Only this package and cmd/api are allowed to import net/http server primitives.

The route tree has two halves:

  - /realms/{realmName}/... : The tenant-scoped protocol and account
    surface. Every request passes the realm resolver first.
  - /admin/...              : The administration API, gated by a static
    API key.
*/
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/taibuivan/authme/internal/client"
	"github.com/taibuivan/authme/internal/event"
	"github.com/taibuivan/authme/internal/login"
	"github.com/taibuivan/authme/internal/oidc"
	"github.com/taibuivan/authme/internal/platform/config"
	"github.com/taibuivan/authme/internal/platform/constants"
	"github.com/taibuivan/authme/internal/platform/middleware"
	"github.com/taibuivan/authme/internal/rbac"
	"github.com/taibuivan/authme/internal/realm"
	"github.com/taibuivan/authme/internal/session"
	"github.com/taibuivan/authme/internal/token"
	"github.com/taibuivan/authme/internal/user"
)

// # Server Definitions

// Server wraps the chi router and the [http.Server].
//
// It is constructed once in main.go with all dependencies injected.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	log        *slog.Logger
}

// # Handler Registry

// Handlers groups all domain-specific HTTP handler sets.
//
// # Usage
//
// New domains add a field here — no other change to server.go is required.
type Handlers struct {
	// Liveness is the /health handler — always returns 200 if process is alive.
	Liveness http.HandlerFunc

	// Readiness is the /ready handler — returns 200 when all deps are healthy.
	Readiness http.HandlerFunc

	// Realm administers tenants and resolves {realmName} on tenant routes.
	Realm *realm.Handler

	// Protocol serves the OAuth/OIDC endpoints of one realm.
	Protocol *oidc.Handler

	// Login serves the hosted login flow and the account console.
	Login *login.Handler

	// User administers accounts.
	User *user.Handler

	// Client administers OAuth clients and scopes.
	Client *client.Handler

	// Rbac administers roles and groups.
	Rbac *rbac.Handler

	// Session administers live sessions and offline tokens.
	Session *session.Handler

	// Key administers realm signing keys.
	Key *token.Handler

	// Event exposes the audit trail.
	Event *event.Handler
}

// # Server Initialization

// NewServer constructs the chi router with the full middleware chain and
// registers all route groups.
func NewServer(context context.Context, cfg *config.Config, log *slog.Logger, h Handlers) *Server {
	r := chi.NewRouter()

	// # Middleware Chain
	// Global middleware applied in order of execution.
	r.Use(middleware.RequestID())
	r.Use(middleware.StructuredLogger(log))
	r.Use(chimw.Timeout(constants.GlobalRequestTimeout))
	r.Use(middleware.RateLimit(context))
	r.Use(middleware.PanicRecovery(log))
	r.Use(middleware.CORS(cfg))
	r.Use(chimw.CleanPath)

	// # Infrastructure Endpoints
	// Unauthenticated health probes for container orchestration.
	r.Get("/health", h.Liveness)
	r.Get("/ready", h.Readiness)

	// # Tenant Surface
	// Protocol, login flow, and account console, all scoped to one realm.
	// The protocol router owns the catch-all; the static /login and
	// /account mounts take precedence over it.
	r.Route("/realms/{realmName}", func(tenant chi.Router) {
		tenant.Use(h.Realm.Resolver)
		tenant.Mount("/login", h.Login.Routes())
		tenant.Mount("/account", h.Login.AccountRoutes())
		tenant.Mount("/", h.Protocol.Routes())
	})

	// # Administration Surface
	// Key-gated tenant management. Realm CRUD sits at the top; everything
	// else is addressed through the owning realm's ID.
	r.Route("/admin", func(admin chi.Router) {
		admin.Use(middleware.AdminKey(cfg.AdminAPIKey))

		admin.Mount("/realms", h.Realm.Routes())
		admin.Route("/realms/{realmID}", func(owned chi.Router) {
			owned.Mount("/users", h.User.Routes())
			owned.Mount("/users/{userID}", h.Session.Routes())
			owned.Mount("/clients", h.Client.Routes())
			owned.Mount("/client-scopes", h.Client.ScopeRoutes())
			owned.Mount("/roles", h.Rbac.RoleRoutes())
			owned.Mount("/groups", h.Rbac.GroupRoutes())
			owned.Mount("/keys", h.Key.Routes())
			owned.Mount("/events", h.Event.Routes())
		})
	})

	return &Server{
		router: r,
		log:    log,
		httpServer: &http.Server{
			Addr:              ":" + cfg.ServerPort,
			Handler:           r,
			ReadTimeout:       constants.DefaultReadTimeout,
			WriteTimeout:      constants.DefaultWriteTimeout,
			IdleTimeout:       constants.DefaultIdleTimeout,
			ReadHeaderTimeout: constants.DefaultReadHeaderTimeout,
		},
	}
}

// # Server Lifecycle

// ListenAndServe starts the HTTP server.
//
// It blocks until the server is closed or an error occurs.
func (s *Server) ListenAndServe() error {
	s.log.Info("server starting", slog.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(timeout time.Duration) error {
	context, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.httpServer.Shutdown(context)
}
