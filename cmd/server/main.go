package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/ledgerx/backend/internal/config"
	"github.com/ledgerx/backend/internal/database"
	"github.com/ledgerx/backend/internal/handlers"
	mW "github.com/ledgerx/backend/internal/middleware"
	"github.com/ledgerx/backend/internal/observability"
	"github.com/ledgerx/backend/internal/resilience"
	"github.com/ledgerx/backend/internal/services"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// @title Ledger API
// @version 1.0
// @description Hash-chained double-entry ledger
// @BasePath /api/v1

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.BindEnv("server.port", "PORT")
	viper.BindEnv("log.level", "LOG_LEVEL")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("ledger.store", "LEDGER_STORE")
	viper.BindEnv("ledger.reversal_window", "LEDGER_REVERSAL_WINDOW")
	viper.BindEnv("ledger.max_retries", "LEDGER_MAX_RETRIES")
	viper.BindEnv("ledger.initial_backoff", "LEDGER_INITIAL_BACKOFF")
	viper.BindEnv("ledger.events_queue", "LEDGER_EVENTS_QUEUE")

	viper.BindEnv("risk.scoring_url", "RISK_SCORING_URL")
	viper.BindEnv("risk.timeout", "RISK_TIMEOUT")
	viper.BindEnv("risk.max_concurrency", "RISK_MAX_CONCURRENCY")
	viper.BindEnv("risk.suspicious_threshold", "RISK_SUSPICIOUS_THRESHOLD")
	viper.BindEnv("risk.high_amount_threshold", "RISK_HIGH_AMOUNT_THRESHOLD")

	viper.BindEnv("otel.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")

	configErr := viper.ReadInConfig()

	cfg := config.LoadLedgerConfig()
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	if configErr != nil {
		logger.Info("config file not found, using environment and defaults", zap.Error(configErr))
	}

	shutdownTracer, err := observability.InitTracer(cfg.OTLPEndpoint, "ledger")
	if err != nil {
		logger.Fatal("failed to initialize tracer", zap.Error(err))
	}
	defer shutdownTracer(context.Background())

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()

	repo, db := openRepository(startCtx, cfg, logger)
	if db != nil {
		defer db.Close()
	}

	metrics := observability.NewMetrics()

	var scoringClient services.ScoringClient = services.NoopScoringClient{}
	if cfg.ScoringURL != "" {
		scoringClient = services.NewHTTPScoringClient(
			&http.Client{Timeout: cfg.ScoringTimeout},
			cfg.ScoringURL,
			resilience.NewCircuitBreaker("risk-scoring"),
		)
	} else {
		logger.Warn("risk.scoring_url not set, every entry gets the neutral score")
	}
	scorer := services.NewRiskScorer(scoringClient, services.RiskScorerConfig{
		Timeout:             cfg.ScoringTimeout,
		MaxConcurrency:      cfg.MaxScoringConcurrency,
		SuspiciousThreshold: cfg.SuspiciousThreshold,
		HighAmountThreshold: cfg.HighAmountThreshold,
	}, metrics, logger)

	var ledgerOpts []services.LedgerOption
	redisClient := database.InitRedis(startCtx, logger)
	if redisClient != nil {
		defer redisClient.Close()
		ledgerOpts = append(ledgerOpts, services.WithEventPublisher(
			services.NewRedisEventPublisher(redisClient, cfg.EventsQueue),
		))
	}

	ledger := services.NewLedgerService(repo, scorer, resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
	}, metrics, logger, ledgerOpts...)
	reversals := services.NewReversalService(repo, ledger, cfg.ReversalWindow, logger)
	ledgerHandler := handlers.NewLedgerHandler(ledger, reversals, metrics, logger)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.TracingMiddleware)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{"status": "healthy", "store": cfg.Store}
		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				status["status"] = "degraded"
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(status)
	})

	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		if cfg.JWTSecret != "" {
			r.Use(mW.Auth(cfg.JWTSecret, logger))
		} else {
			logger.Warn("jwt.secret_key not set, ledger API is unauthenticated")
		}
		ledgerHandler.Routes(r)
	})

	// Start server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		logger.Info("server starting", zap.String("addr", server.Addr), zap.String("store", cfg.Store))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

func openRepository(ctx context.Context, cfg *config.LedgerConfig, logger *zap.Logger) (services.LedgerRepository, *sql.DB) {
	switch cfg.Store {
	case "memory":
		logger.Warn("using in-memory ledger store, data is lost on restart")
		return database.NewMemoryLedgerStore(), nil
	case "postgres":
		db, err := database.InitDB(ctx, logger)
		if err != nil {
			logger.Fatal("failed to initialize database", zap.Error(err))
		}
		return database.NewPostgresLedgerStore(db), db
	default:
		logger.Fatal("unknown ledger.store", zap.String("store", cfg.Store))
		return nil, nil
	}
}
