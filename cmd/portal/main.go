package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/diagnosis/luxsuv-portal/internal/apiclient"
	"github.com/diagnosis/luxsuv-portal/internal/flow"
	"github.com/diagnosis/luxsuv-portal/internal/http/handlers"
	httpmw "github.com/diagnosis/luxsuv-portal/internal/http/middleware"
	"github.com/diagnosis/luxsuv-portal/internal/session"
	"github.com/diagnosis/luxsuv-portal/pkg/config"
	"github.com/diagnosis/luxsuv-portal/pkg/events"
	"github.com/diagnosis/luxsuv-portal/pkg/logger"
	mw "github.com/diagnosis/luxsuv-portal/pkg/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessions, closeSessions, err := session.NewFactory(ctx, cfg)
	if err != nil {
		logger.Error("Failed to open session store", "store", cfg.Session.Store, "error", err)
		os.Exit(1)
	}
	defer closeSessions()

	publisher, err := events.Connect(cfg.NATS.URL)
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()

	// Every flow gets its own session and client so a stale token in one
	// browser never leaks into another.
	newFlow := func(_ context.Context, id string) (*flow.Flow, func(), error) {
		store := sessions("flow-" + id)
		manager := session.NewManager(store)
		api := apiclient.New(cfg.Backend.BaseURL,
			apiclient.WithTimeout(cfg.Backend.Timeout),
			apiclient.WithTokenSource(manager),
		)
		f := flow.New(api,
			flow.WithID(id),
			flow.WithEvents(publisher),
			flow.WithFallback(cfg.Flow.SearchFallback),
			flow.WithSession(manager),
		)
		release := func() {
			if err := store.Clear(context.Background()); err != nil {
				logger.Warn("Failed to clear flow session", "flow_id", id, "error", err)
			}
		}
		return f, release, nil
	}

	registry := handlers.NewRegistry(newFlow, cfg.Flow.IdleTTL)
	go registry.Run(ctx, time.Minute)

	var counter httpmw.Counter = httpmw.NewMemoryCounter()
	if cfg.Session.Store == "redis" {
		client, err := session.OpenRedis(ctx, cfg.Redis)
		if err != nil {
			logger.Error("Failed to connect to redis for rate limits", "error", err)
			os.Exit(1)
		}
		defer client.Close()
		counter = httpmw.NewRedisCounter(client)
	}

	contact := apiclient.NewContactClient(cfg.Backend.BaseURL, cfg.Backend.AuxTimeout)
	h := handlers.NewFlowHandler(registry, contact)
	h.OTPLimit = httpmw.NewRateLimiter(counter, httpmw.RateLimitConfig{
		Name:     "otp",
		Requests: cfg.Limits.OTPPerWindow,
		Window:   cfg.Limits.Window,
		KeyFunc:  httpmw.FlowKey,
	}).Middleware
	h.CreateLimit = httpmw.NewRateLimiter(counter, httpmw.RateLimitConfig{
		Name:     "flows",
		Requests: cfg.Limits.FlowsPerWindow,
		Window:   cfg.Limits.Window,
	}).Middleware

	ready := func(ctx context.Context) error {
		_, err := sessions("healthz").Load(ctx)
		return err
	}

	// Setup router
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("portal"))
	r.Use(mw.Logging)
	r.Use(mw.Recover)

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Use(mw.Health(ready))

	r.Mount("/v1", h.Routes())

	// Start server
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		logger.Info("Shutting down portal...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Portal shutdown error", "error", err)
		}
	}()

	logger.Info("Starting portal", "port", cfg.Server.Port, "backend", cfg.Backend.BaseURL, "session_store", cfg.Session.Store)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Portal server error", "error", err)
		os.Exit(1)
	}
}
