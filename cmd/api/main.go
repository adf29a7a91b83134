package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"opsdesk.org/internal/auth"
	"opsdesk.org/internal/config"
	"opsdesk.org/internal/httpapi"
	"opsdesk.org/internal/notify"
	"opsdesk.org/internal/obs"
	"opsdesk.org/internal/store/memory"
	"opsdesk.org/internal/store/pg"
)

var version = "0.3.1"

func main() {
	obs.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Directory: Postgres when a DSN is set, otherwise in-memory (dev only).
	var (
		dir auth.Directory
		db  *sql.DB
	)
	if cfg.PGDSN != "" {
		store, err := pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		dir = store
		db = store.DB()
	} else {
		log.Println("OPSDESK_PG_DSN not set, using in-memory directory")
		dir = memory.New()
	}

	// Attempt tracker: shared Redis counters when an address is set, otherwise
	// process-local shards.
	var tracker auth.AttemptTracker
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		tracker = auth.NewRedisTracker(client, cfg.MaxLoginAttempts, cfg.LoginAttemptWindow)
	} else {
		tracker = auth.NewMemoryTracker(cfg.MaxLoginAttempts, cfg.LoginAttemptWindow)
	}

	tokens, err := auth.NewTokens(cfg.AuthSecret,
		auth.WithIssuer(cfg.Issuer),
		auth.WithTokenTTL(cfg.TokenTTL),
	)
	if err != nil {
		log.Fatalf("tokens: %v", err)
	}

	svc, err := auth.NewService(dir, tracker, tokens,
		auth.WithResetTTL(cfg.ResetTTL),
		auth.WithPasswordMinLength(cfg.PasswordMinLength),
		auth.WithManagementRoles(cfg.ManagementRoles),
		auth.WithStoreTimeout(cfg.StoreTimeout),
		auth.WithNotifier(notify.LogDispatcher{}),
	)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	admin, err := auth.NewAdmin(dir)
	if err != nil {
		log.Fatalf("admin service: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := svc.EnsureBuiltins(ctx); err != nil {
		cancel()
		log.Fatalf("ensure builtins: %v", err)
	}
	cancel()

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, svc, admin, tokens,
		httpapi.WithRateLimit(cfg.RateBurst, cfg.RatePerSec),
	)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting opsdesk-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
