// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Command api is the entry point for the Authme identity server.
//
// # Startup Sequence
//
//  1. Initialize structured logger.
//  2. Load configuration from environment variables.
//  3. Connect to PostgreSQL (pgxpool).
//  4. Connect to Redis.
//  5. Run database migrations (idempotent).
//  6. Wire repositories, services, and background workers.
//  7. Start HTTP server with graceful shutdown.
//
// No business logic lives here. All wiring is explicit constructor injection.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/taibuivan/authme/internal/api"
	"github.com/taibuivan/authme/internal/client"
	"github.com/taibuivan/authme/internal/event"
	"github.com/taibuivan/authme/internal/federation"
	"github.com/taibuivan/authme/internal/login"
	"github.com/taibuivan/authme/internal/mailer"
	"github.com/taibuivan/authme/internal/mfa"
	"github.com/taibuivan/authme/internal/oidc"
	"github.com/taibuivan/authme/internal/platform/clock"
	"github.com/taibuivan/authme/internal/platform/config"
	"github.com/taibuivan/authme/internal/platform/constants"
	"github.com/taibuivan/authme/internal/platform/migration"
	pgstore "github.com/taibuivan/authme/internal/platform/postgres"
	redisstore "github.com/taibuivan/authme/internal/platform/redis"
	"github.com/taibuivan/authme/internal/platform/sec"
	"github.com/taibuivan/authme/internal/rbac"
	"github.com/taibuivan/authme/internal/realm"
	"github.com/taibuivan/authme/internal/session"
	"github.com/taibuivan/authme/internal/token"
	"github.com/taibuivan/authme/internal/user"
)

// sweepInterval is how often expired sessions, codes, and refresh tokens
// are pruned from storage.
const sweepInterval = 10 * time.Minute

func main() {
	// ── 1. Logger ──────────────────────────────────────────────────────────
	// Initialize first so that subsequent startup errors are structured JSON.
	rawLog := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Add global context to all log entries.
	log := rawLog.With(slog.String("app", constants.AppName))
	slog.SetDefault(log)

	log.Info("[Authme] service_initializing")

	// ── 2. Configuration ──────────────────────────────────────────────────
	cfg, err := config.Load()
	must(log, err, "load configuration")

	if cfg.Debug {
		debugLog := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
		log = debugLog.With(slog.String("app", constants.AppName))
		slog.SetDefault(log)
		log.Debug("debug_logging_enabled")
	}

	log.Info("configuration_loaded",
		slog.String("environment", cfg.Environment),
		slog.String("port", cfg.ServerPort),
		slog.String("issuer_base", cfg.BaseURL),
	)

	// Root context for startup. Use a 30s deadline so misconfiguration is
	// caught quickly rather than hanging indefinitely.
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	// Application context: cancelled on shutdown, stops every background
	// worker and sweeper.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	// ── 3. PostgreSQL ─────────────────────────────────────────────────────
	pool, err := pgstore.NewPool(startupCtx, cfg.DatabaseURL, log)
	must(log, err, "connect to postgres")
	defer func() {
		log.Info("closing postgres pool")
		pool.Close()
	}()

	// ── 4. Redis ──────────────────────────────────────────────────────────
	rdb, err := redisstore.NewClient(startupCtx, cfg.RedisURL, log)
	must(log, err, "connect to redis")
	defer func() {
		log.Info("closing redis client")
		if cerr := rdb.Close(); cerr != nil {
			log.Error("redis close error", slog.Any("error", cerr))
		}
	}()

	// ── 5. Migrations ─────────────────────────────────────────────────────
	must(log, migration.RunUp(cfg.DatabaseURL, cfg.MigrationPath, log), "run migrations")

	// ── 6. Crypto & Keys ──────────────────────────────────────────────────
	wrapper, err := sec.NewKeyWrapper(cfg.MasterKey)
	must(log, err, "initialize master key wrapper")

	keyManager := token.NewManager(token.NewPostgresKeyRepository(pool), wrapper, clock.System)
	tokenFactory := token.NewFactory(keyManager, cfg.BaseURL, clock.System)

	// ── 7. Health handlers (wired with real dependency checkers) ──────────
	liveness, readiness := api.NewHealthHandlers(api.HealthDependencies{
		CheckDatabase: func() error {
			return pgstore.Ping(context.Background(), pool)
		},
		CheckCache: func() error {
			return redisstore.Ping(context.Background(), rdb)
		},
	}, log)

	// ── 8. Domain Wiring ──────────────────────────────────────────────────
	// Outbound mail. Production delivers through per-realm SMTP settings;
	// development logs the message body instead.
	var deliverer mailer.Deliverer = mailer.NewSMTPDeliverer()
	if cfg.IsDevelopment() {
		deliverer = mailer.NewLogDeliverer(log)
	}
	mail := mailer.NewDispatcher(deliverer, log, 256)
	mail.Start(appCtx, 2)
	defer mail.Stop()

	// Users, credential policy, and brute-force guard.
	userRepository := user.NewRepository(pool)
	policy := user.NewPolicy(user.NewHistoryRepository(pool), clock.System)
	guard := user.NewGuard(user.NewFailureRepository(pool), clock.System)
	userService := user.NewService(userRepository, policy, guard,
		user.NewVerificationTokenRepository(rdb), mail, clock.System)
	verifier := user.NewVerifier(userRepository, guard, federation.NewDisabled())

	// Clients and scopes. The user service provisions service accounts for
	// clients with the client_credentials grant.
	clientRepository := client.NewRepository(pool)
	clientService := client.NewService(clientRepository, client.NewScopeRepository(pool), userService)

	// Realms: every other request hangs off a resolved tenant. Creation
	// provisions the initial signing key and the built-in scopes.
	realmService := realm.NewService(realm.NewRepository(pool), keyManager, clientService, clock.System)

	// Audit trail. The recorder absorbs events on a queue so request paths
	// never block on the write.
	eventRepository := event.NewRepository(pool)
	recorder := event.NewRecorder(eventRepository, realmService, log, clock.System, 1024)
	recorder.Start(appCtx, 2)
	defer recorder.Stop()

	// Roles and groups.
	rbacService := rbac.NewService(rbac.NewPostgresRoleRepository(pool),
		rbac.NewPostgresGroupRepository(pool), clock.System)

	// Second factor.
	mfaService := mfa.NewService(
		mfa.NewPostgresCredentialRepository(pool),
		mfa.NewPostgresRecoveryCodeRepository(pool),
		mfa.NewRedisChallengeRepository(rdb),
		wrapper, clock.System)

	// Sessions and refresh rotation, with back-channel logout fan-out.
	// Undeliverable logouts land in the audit trail via the recorder.
	notifier := session.NewNotifier(clientRepository, tokenFactory, recorder, log, 256)
	notifier.Start(appCtx, 2)
	defer notifier.Stop()
	sessionService := session.NewService(
		session.NewPostgresSessionRepository(pool),
		session.NewPostgresRefreshTokenRepository(pool),
		notifier, userService, clock.System)

	// The protocol engine.
	oidcService := oidc.NewService(
		clientService,
		userService,
		verifier,
		rbacService,
		sessionService,
		tokenFactory,
		oidc.NewCodeRepository(pool),
		oidc.NewDeviceCodeRepository(pool),
		oidc.NewConsentRepository(pool),
		oidc.NewConsentRequestRepository(rdb),
		oidc.NewPollThrottle(rdb),
		recorder,
		cfg.BaseURL,
		clock.System)

	// The interactive login flow on top of it.
	loginService := login.NewService(verifier, userService, policy, mfaService,
		sessionService, oidcService, recorder)

	// ── 9. Background Sweepers ────────────────────────────────────────────
	go runSweeper(appCtx, log, "sessions", sessionService.Sweep)
	go runSweeper(appCtx, log, "protocol", oidcService.Sweep)
	go recorder.RunSweeper(appCtx, time.Hour)

	// ── 10. HTTP Server ───────────────────────────────────────────────────
	secureCookies := cfg.IsProduction()

	handlers := api.Handlers{
		Liveness:  liveness,
		Readiness: readiness,
		Realm:     realm.NewHandler(realmService),
		Protocol:  oidc.NewHandler(oidcService, keyManager, sessionService, secureCookies),
		Login:     login.NewHandler(loginService, sessionService, mfaService, oidcService, userService, secureCookies),
		User:      user.NewHandler(userService, realmService),
		Client:    client.NewHandler(clientService),
		Rbac:      rbac.NewHandler(rbacService),
		Session:   session.NewHandler(sessionService, realmService),
		Key:       token.NewHandler(keyManager),
		Event:     event.NewHandler(eventRepository),
	}

	server := api.NewServer(appCtx, cfg, log, handlers)

	// ── 11. Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Block until OS signal or server error.
	select {
	case sig := <-quit:
		log.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-serverErr:
		log.Error("server startup error", slog.Any("error", err))
	}

	// Give in-flight requests enough time to complete.
	shutdownTimeout := constants.ShutdownTimeout
	log.Info("shutting down server", slog.Duration("timeout", shutdownTimeout))

	if err := server.Shutdown(shutdownTimeout); err != nil {
		log.Error("shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	log.Info("server stopped cleanly")
}

// runSweeper prunes expired rows on a fixed interval until the context ends.
func runSweeper(ctx context.Context, log *slog.Logger, name string, sweep func(context.Context) (int64, error)) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := sweep(ctx)
			if err != nil {
				log.Error("sweep failed", slog.String("sweeper", name), slog.Any("error", err))
				continue
			}
			if removed > 0 {
				log.Info("sweep completed", slog.String("sweeper", name), slog.Int64("removed", removed))
			}
		}
	}
}

// must logs a structured fatal error and terminates the process if err is non-nil.
//
// It is intentionally limited to startup wiring. After startup, all errors
// must be returned and handled explicitly (never panic).
func must(log *slog.Logger, err error, context string) {
	if err != nil {
		log.Error("startup failure",
			slog.String("context", context),
			slog.Any("error", err),
		)
		os.Exit(1)
	}
}
