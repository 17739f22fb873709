package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/fleetlease/backend/internal/audit"
	"github.com/fleetlease/backend/internal/config"
	"github.com/fleetlease/backend/internal/database"
	"github.com/fleetlease/backend/internal/handlers"
	"github.com/fleetlease/backend/internal/idempotency"
	"github.com/fleetlease/backend/internal/ledger"
	"github.com/fleetlease/backend/internal/logger"
	mW "github.com/fleetlease/backend/internal/middleware"
	"github.com/fleetlease/backend/internal/store"
	"github.com/fleetlease/backend/internal/store/postgres"
)

// @title Fleet Lease Ledger API
// @version 1.0
// @description Driver obligation ledger: obligations, earnings, targeted payments and voids
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

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

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("server.port", "PORT")
	viper.BindEnv("log.level", "LOG_LEVEL")
	viper.BindEnv("ledger.category_priority", "LEDGER_CATEGORY_PRIORITY")
	viper.BindEnv("ledger.default_page_size", "LEDGER_DEFAULT_PAGE_SIZE")
	viper.BindEnv("ledger.idempotency_ttl", "LEDGER_IDEMPOTENCY_TTL")

	configErr := viper.ReadInConfig()

	serverCfg := config.LoadServerConfig()
	zlog, err := logger.NewZapLog(serverCfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zlog.Sync()

	if configErr != nil {
		zlog.Info("config file not found, using environment and defaults", zap.Error(configErr))
	}

	ledgerCfg, err := config.LoadLedgerConfig()
	if err != nil {
		zlog.Fatal("invalid ledger configuration", zap.Error(err))
	}

	secret := viper.GetString("jwt.secret_key")
	if secret == "" {
		zlog.Fatal("jwt.secret_key is required")
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()

	db, err := database.InitDB(startCtx, zlog)
	if err != nil {
		zlog.Fatal("failed to initialize database", zap.Error(err))
	}
	var ledgerStore store.Store = postgres.New(db)
	defer ledgerStore.Close()

	if err := ledgerStore.Migrate(startCtx); err != nil {
		zlog.Fatal("failed to migrate ledger schema", zap.Error(err))
	}

	var idemStore *idempotency.Store
	if redisClient := database.InitRedis(startCtx, zlog); redisClient != nil {
		defer redisClient.Close()
		idemStore = idempotency.NewStore(redisClient, ledgerCfg.IdempotencyTTL)
	}

	ledgerService := ledger.NewService(ledgerStore,
		ledger.WithPriority(ledgerCfg.Priority),
		ledger.WithLogger(zlog.Named("ledger")),
		ledger.WithAudit(audit.NewLogger(zlog)),
	)
	ledgerHandler := handlers.NewLedgerHandler(ledgerService, zlog.Named("http"), ledgerCfg.DefaultPageSize)

	// Setup router
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.RequestLogger(zlog.Named("http")))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", idempotency.HeaderKey},
		ExposedHeaders:   []string{idempotency.HeaderReplayed},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := ledgerStore.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mW.AuthMiddleware([]byte(secret)))

		ledgerHandler.ReadRoutes(r)
		r.Group(func(r chi.Router) {
			r.Use(idempotency.Middleware(idemStore, zlog.Named("idempotency")))
			ledgerHandler.WriteRoutes(r)
		})
	})

	server := &http.Server{
		Addr:         ":" + serverCfg.Port,
		Handler:      r,
		ReadTimeout:  serverCfg.ReadTimeout,
		WriteTimeout: serverCfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		zlog.Info("server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), serverCfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		zlog.Error("server forced to shutdown", zap.Error(err))
	}

	zlog.Info("server stopped")
}
