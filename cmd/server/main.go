package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DukeRupert/plangate/internal"
	"github.com/DukeRupert/plangate/internal/auth"
	"github.com/DukeRupert/plangate/internal/catalog"
	"github.com/DukeRupert/plangate/internal/handler"
	"github.com/DukeRupert/plangate/internal/ledger"
	"github.com/DukeRupert/plangate/internal/metrics"
	"github.com/DukeRupert/plangate/internal/middleware"
	"github.com/DukeRupert/plangate/internal/policy"
	"github.com/DukeRupert/plangate/internal/repository"
	"github.com/DukeRupert/plangate/internal/service"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Plan catalog
	plans, err := loadCatalog(cfg.PlanCatalogPath)
	if err != nil {
		return fmt.Errorf("plan catalog failed: %w", err)
	}
	logger.Info("Plan catalog loaded", "plans", len(plans.Plans()), "actions", len(plans.Actions()))

	devUsers, err := service.ParseDevUsers(cfg.DevUsers)
	if err != nil {
		return fmt.Errorf("DEV_USERS: %w", err)
	}

	// Database is optional in development
	var db *sql.DB
	if cfg.DatabaseUrl != "" {
		db, err = openDatabase(ctx, cfg.DatabaseUrl, logger)
		if err != nil {
			return err
		}
		defer db.Close()
	}

	// User directory
	var users service.UserDirectory
	if db != nil {
		queries := repository.New(db)
		if err := service.SeedUsers(ctx, queries, devUsers); err != nil {
			return fmt.Errorf("seeding dev users failed: %w", err)
		}
		users = service.NewSQLDirectory(queries)
	} else {
		logger.Warn("No DATABASE_URL, using in-memory user directory", "users", len(devUsers))
		users = service.NewMemoryDirectory(devUsers...)
	}

	// Usage ledger
	store, closeStore, err := openLedgerStore(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer closeStore()
	usage := ledger.New(store, nil, logger.With("component", "ledger"))
	logger.Info("Usage ledger ready", "backend", cfg.LedgerBackend)

	// Initialize services
	observer := service.Observers{service.NewLogObserver(logger), metrics.Observer{}}
	gate := service.NewAccessGate(users, plans, usage, policy.New(plans), observer, logger)

	tokens, err := auth.NewTokens(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		return fmt.Errorf("token verifier initialization failed: %w", err)
	}

	// Initialize middleware
	isSecure := !cfg.IsDevelopment()
	authMw := middleware.NewAuthMiddleware(tokens, logger)
	gateMw := middleware.NewGateMiddleware(gate, middleware.JSONResponder{Logger: logger}, logger)
	loggingMw := middleware.NewRequestLoggingMiddleware(logger)
	securityMw := middleware.NewSecurityHeadersMiddleware(isSecure)
	metricsAuth := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword, logger)
	if !metricsAuth.Enabled() && isSecure {
		logger.Warn("Metrics endpoint is unprotected; set METRICS_USERNAME and METRICS_PASSWORD")
	}

	// Initialize handlers
	accessHandler := handler.NewAccessHandler(gate, plans, logger)

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus scrape endpoint
	mux.Handle("GET /metrics", metricsAuth.Handler(promhttp.Handler()))

	accessHandler.RegisterRoutes(mux, handler.RouteMiddleware{
		Authenticated: authMw.RequireUser,
		Admin:         middleware.Stack(authMw.RequireUser, authMw.RequireAdmin),
		Gated:         gateMw.RequireFromPath("action"),
	})

	// Global middleware, outermost first
	var root http.Handler = middleware.Stack(
		securityMw.Handler,
		metrics.Middleware,
		loggingMw.Handler,
		authMw.WithIdentity,
	)(mux)

	if len(cfg.CORSAllowedOrigins) > 0 {
		root = cors.New(cors.Options{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			ExposedHeaders: []string{middleware.HeaderBudgetCeiling, middleware.HeaderBudgetRemaining},
			MaxAge:         600,
		}).Handler(root)
	}

	// ==========================================================================
	// Background sweeper
	// ==========================================================================

	var sweeper *ledger.Sweeper
	if cfg.SweepEnabled {
		sweeper, err = ledger.NewSweeper(usage, ledger.SweeperConfig{
			Schedule:      cfg.SweepSchedule,
			RetainPeriods: cfg.SweepRetainPeriods,
			Timeout:       cfg.SweepTimeout,
		}, logger.With("component", "sweeper"))
		if err != nil {
			return err
		}
		sweeper.Start()
	}

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           root,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}
	if sweeper != nil {
		sweeper.Stop(shutdownCtx)
	}

	logger.Info("Server stopped")
	return nil
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default()
	}
	return catalog.LoadFile(path)
}

func openDatabase(ctx context.Context, url string, logger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	// Run migrations
	if err := internal.RunMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database ready")
	return db, nil
}

// openLedgerStore builds the configured ledger store and its cleanup func.
func openLedgerStore(ctx context.Context, cfg *internal.Config, db *sql.DB) (ledger.Store, func(), error) {
	switch cfg.LedgerBackend {
	case internal.LedgerPostgres:
		return ledger.NewPostgresStore(db), func() {}, nil
	case internal.LedgerRedis:
		client, err := ledger.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("redis connection failed: %w", err)
		}
		return ledger.NewRedisStore(client, cfg.RedisPrefix), func() { client.Close() }, nil
	default:
		return ledger.NewMemoryStore(), func() {}, nil
	}
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
