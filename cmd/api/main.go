// Package main is the entry point for the API server.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/waypost/waypost/internal/alert"
	"github.com/waypost/waypost/internal/api"
	"github.com/waypost/waypost/internal/auth"
	"github.com/waypost/waypost/internal/config"
	"github.com/waypost/waypost/internal/feed"
	"github.com/waypost/waypost/internal/health"
	"github.com/waypost/waypost/internal/location"
	"github.com/waypost/waypost/internal/middleware"
	"github.com/waypost/waypost/internal/sharing"
	"github.com/waypost/waypost/internal/store"
	"github.com/waypost/waypost/internal/visibility"
)

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "path to optional YAML config file")
	flag.Parse()

	if *help {
		fmt.Println("Waypost API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	logger := middleware.NewLogger(cfg.Env)
	if len(errs) > 0 {
		for _, err := range errs {
			logger.Error("configuration error", "error", err)
		}
		os.Exit(1)
	}
	logger.Info("configuration loaded", "config", cfg.LogSummary())

	// Document store: Redis when configured, in-memory otherwise.
	var (
		docs         store.Store
		redisClient  *redis.Client
		redisChecker api.HealthChecker
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid redis url", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)
		docs = store.NewRedisStore(redisClient, logger)
		redisChecker = health.NewRedisChecker(redisClient)
	} else {
		mem := store.NewMemoryStore()
		defer mem.Close()
		docs = mem
	}

	// Metrics registry and per-package metrics.
	registry := prometheus.NewRegistry()
	locMetrics := location.NewMetrics()
	feedMetrics := feed.NewMetrics()
	alertMetrics := alert.NewMetrics()
	for _, register := range []func(prometheus.Registerer) error{
		locMetrics.Register,
		feedMetrics.Register,
		alertMetrics.Register,
	} {
		if err := register(registry); err != nil {
			logger.Error("failed to register metrics", "error", err)
			os.Exit(1)
		}
	}

	// Domain components.
	directory := auth.NewDirectory(docs)
	registryEdges := sharing.NewRegistry(docs)
	graph := visibility.NewGraph(registryEdges)
	locations := location.NewStore(docs, locMetrics, logger)
	positionFeed := feed.New(locations, graph, feedMetrics, logger)
	channel := alert.NewChannel(docs, graph, alertMetrics, logger)

	// Optional Postgres mirror of position records.
	var dbChecker api.HealthChecker
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		locations.SetMirror(location.NewPostgresStore(db, logger))
		dbChecker = health.NewDBChecker(db)
	}

	var jwtService *auth.JWTService
	if cfg.JWTPreviousSecret != "" {
		jwtService = auth.NewJWTServiceWithRotation(cfg.JWTSecret, cfg.JWTPreviousSecret)
	} else {
		jwtService = auth.NewJWTService(cfg.JWTSecret)
	}

	// Handlers.
	locationHandlers := api.NewLocationHandlers(locations, positionFeed, directory)
	sharingHandlers := api.NewSharingHandlers(registryEdges, directory)
	sosHandlers := api.NewSosHandlers(channel, directory)
	userHandlers := api.NewUserHandlers(directory)
	streamHandlers := api.NewStreamHandlers(positionFeed, channel, directory)
	healthHandlers := api.NewHealthHandlers(api.HealthHandlersConfig{
		RedisChecker: redisChecker,
		DBChecker:    dbChecker,
	})

	// Authenticated API routes.
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("/locations", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			locationHandlers.ReportPosition(w, r)
		case http.MethodGet:
			locationHandlers.ListPositions(w, r)
		default:
			api.WriteError(w, r.Context(), http.StatusMethodNotAllowed, api.ErrCodeBadRequest, "Method not allowed")
		}
	})
	apiMux.HandleFunc("/sharing", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			sharingHandlers.CreateShare(w, r)
		case http.MethodGet:
			sharingHandlers.ListShares(w, r)
		default:
			api.WriteError(w, r.Context(), http.StatusMethodNotAllowed, api.ErrCodeBadRequest, "Method not allowed")
		}
	})
	apiMux.HandleFunc("/sharing/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			api.WriteError(w, r.Context(), http.StatusMethodNotAllowed, api.ErrCodeBadRequest, "Method not allowed")
			return
		}
		sharingHandlers.DeleteShare(w, r)
	})
	apiMux.HandleFunc("/sos", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			sosHandlers.BroadcastSos(w, r)
		case http.MethodGet:
			sosHandlers.ListSos(w, r)
		default:
			api.WriteError(w, r.Context(), http.StatusMethodNotAllowed, api.ErrCodeBadRequest, "Method not allowed")
		}
	})
	apiMux.HandleFunc("/users", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			api.WriteError(w, r.Context(), http.StatusMethodNotAllowed, api.ErrCodeBadRequest, "Method not allowed")
			return
		}
		userHandlers.RegisterUser(w, r)
	})
	apiMux.HandleFunc("/users/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			api.WriteError(w, r.Context(), http.StatusMethodNotAllowed, api.ErrCodeBadRequest, "Method not allowed")
			return
		}
		userHandlers.GetMe(w, r)
	})
	apiMux.HandleFunc("/users/me/visibility", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			api.WriteError(w, r.Context(), http.StatusMethodNotAllowed, api.ErrCodeBadRequest, "Method not allowed")
			return
		}
		userHandlers.SetVisibility(w, r)
	})
	apiMux.HandleFunc("/feed/ws", streamHandlers.FeedWS)
	apiMux.HandleFunc("/alerts/ws", streamHandlers.AlertsWS)

	authenticated := middleware.Auth(jwtService)(apiMux)

	// Root routes: probes and metrics stay unauthenticated.
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandlers.Health)
	mux.HandleFunc("/ready", healthHandlers.Ready)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/", authenticated)

	// Apply middleware: RequestID -> Logging
	handler := middleware.RequestID(middleware.Logging(logger)(mux))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Create context with timeout for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Warn("failed to close redis client", "error", err)
		}
	}

	logger.Info("server stopped")
}
