package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"clinauth.org/internal/access"
	"clinauth.org/internal/audit"
	"clinauth.org/internal/config"
	"clinauth.org/internal/httpapi"
	"clinauth.org/internal/idp"
	"clinauth.org/internal/obs"
	"clinauth.org/internal/store/pg"
)

var version = "0.3.1"

func main() {
	_ = godotenv.Load()
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("CLINAUTH_COMMIT"))

	cfg, err := config.Load(os.Getenv("CLINAUTH_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.PGDSN == "" {
		log.Fatal("CLINAUTH_PG_DSN is required")
	}
	if cfg.TokenSecret == "" {
		log.Fatal("CLINAUTH_TOKEN_SECRET is required")
	}

	store, err := pg.Open(cfg.PGDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}
	if err := store.Permissions(ctx).Ensure(ctx, access.BuiltinPermissions); err != nil {
		log.Fatalf("seed permissions: %v", err)
	}

	auditLog := audit.NewLogger(store.Audit())
	provider := idp.NewArgon2Provider(store)
	sessions := access.NewSessionManager(store,
		access.WithSessionTTL(cfg.Auth.SessionTTL()),
		access.WithSessionLimit(cfg.Auth.MaxSessionsPerUser),
	)
	resolver := access.NewResolver(store, cfg.Cache.TTL())
	authenticator := access.NewAuthenticator(store, provider, sessions, resolver, auditLog,
		access.WithLockoutThreshold(cfg.Auth.LockoutThreshold),
	)

	var ctrlOpts []access.ControllerOption
	if cfg.Audit.FailOpen {
		ctrlOpts = append(ctrlOpts, access.WithFailOpenAudit())
	}
	if cfg.Emergency.JustificationOptional {
		ctrlOpts = append(ctrlOpts, access.WithOptionalEmergencyJustification())
	}
	controller := access.NewController(store, sessions, resolver, auditLog, ctrlOpts...)
	admin := access.NewAdmin(store, resolver, auditLog)

	tokens, err := httpapi.NewTokenCodec(cfg.TokenSecret)
	if err != nil {
		log.Fatalf("token codec: %v", err)
	}

	api := httpapi.New(httpapi.Deps{
		Ready:         httpapi.ReadyProbe{DB: store.DB()},
		Version:       version,
		Tokens:        tokens,
		Authenticator: authenticator,
		Sessions:      sessions,
		Resolver:      resolver,
		Controller:    controller,
		Admin:         admin,
		AuditLog:      auditLog,
	})

	handler := api.Handler()
	handler = httpapi.MaxBodyBytes(handler, cfg.HTTP.MaxBodyBytes)
	handler = httpapi.RateLimit(handler, cfg.HTTP.RateLimitBurst, cfg.HTTP.RateLimitPerSec)
	handler = httpapi.SecurityHeaders(handler)
	handler = httpapi.Logging(handler)
	handler = httpapi.RequestID(handler)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting clinauth-api %s on %s", version, srv.Addr)

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout())
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	log.Println("Stopped")
}
