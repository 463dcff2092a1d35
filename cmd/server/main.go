package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/questforge/trade-engine/internal/inventory"
	"github.com/questforge/trade-engine/internal/metrics"
	"github.com/questforge/trade-engine/internal/negotiation"
	"github.com/questforge/trade-engine/internal/quota"
	"github.com/questforge/trade-engine/internal/request"
	"github.com/questforge/trade-engine/internal/session"
	"github.com/questforge/trade-engine/internal/settlement"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Quota store ---
	var qs quota.Store
	var cleanup []func()

	switch {
	case os.Getenv("DATABASE_URL") != "":
		pool, err := pgxpool.New(context.Background(), os.Getenv("DATABASE_URL"))
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		qs = quota.NewPostgresStore(pool)
		slog.Info("quota records in PostgreSQL")

	case os.Getenv("REDIS_URL") != "":
		opt, err := redis.ParseURL(os.Getenv("REDIS_URL"))
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		qs = quota.NewRedisStore(rdb)
		slog.Info("quota records in Redis")

	default:
		slog.Warn("DATABASE_URL and REDIS_URL not set, quota records will not persist")
		qs = quota.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// Progression levels come from the hosting application; standalone
	// the server treats everyone as the lowest tier.
	limiter := quota.New(qs, nil, nil)

	// The host injects its real inventory when embedding the engine.
	slog.Warn("using in-memory inventory (dev only)")
	inv := inventory.NewMemory(0)

	// --- Hub, registries, engine, façade ---
	hub := negotiation.NewHub()
	go hub.Run()

	requests := request.NewRegistry(requestTTL())
	sessions := session.NewRegistry()
	engine := settlement.NewEngine(inv, limiter, hub, decimal.Zero)
	svc := negotiation.NewService(requests, sessions, engine, inv, hub, hub)
	hub.SetDisconnectHandler(svc.OnDisconnect)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go requests.RunSweeper(sweepCtx, 5*time.Second)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"trade-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Websocket event feed; also drives presence and disconnects.
		r.Get("/ws", hub.HandleWS)
		svc.Mount(r)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("trade-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down trade-engine...")
	stopSweep()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("trade-engine stopped")
}

func requestTTL() time.Duration {
	if v := os.Getenv("TRADE_REQUEST_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		slog.Warn("invalid TRADE_REQUEST_TTL, using default", "value", v)
	}
	return 0 // registry default
}
