package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"ecotrack.org/internal/auth"
	"ecotrack.org/internal/config"
	"ecotrack.org/internal/httpapi"
	"ecotrack.org/internal/obs"
	"ecotrack.org/internal/store/pg"
	"ecotrack.org/internal/stream"
	"ecotrack.org/internal/waste"
)

func main() {
	obs.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Postgres when a DSN is configured, in-memory otherwise. The in-memory
	// path keeps local development and smoke runs database-free.
	var (
		records   waste.Service
		authStore auth.Store
		probe     httpapi.ReadyProbe
		closeDB   func() error
	)
	if cfg.PGDSN != "" {
		pgStore, err := pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		records = pgStore
		authStore = pg.NewAuthStore(pgStore.DB())
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
		closeDB = pgStore.Close
	} else {
		records = waste.NewInMemory()
		authStore = auth.NewInMemoryStore()
	}

	authSvc, err := auth.NewService(authStore, cfg.AuthSecret,
		auth.WithIssuer(cfg.AuthIssuer),
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL))
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	opts := []httpapi.APIOption{httpapi.WithStream(stream.New())}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		opts = append(opts, httpapi.WithStatsCache(httpapi.NewStatsCache(rdb, time.Minute)))
	}

	api := httpapi.New(probe, cfg.Version, authSvc, records, opts...)
	handler := httpapi.MaxBodyBytes(api.Handler(), 1<<20)
	handler = httpapi.RateLimit(handler, cfg.RateLimitBurst, int(cfg.RateLimitRPS))

	// No WriteTimeout: the event stream endpoint holds its response open.
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting ecotrack-api %s on %s", cfg.Version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if closeDB != nil {
		_ = closeDB()
	}
	log.Println("Stopped")
}
