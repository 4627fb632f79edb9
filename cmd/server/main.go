package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lidapay/backend/internal/config"
	"github.com/lidapay/backend/internal/database"
	"github.com/lidapay/backend/internal/gateway"
	"github.com/lidapay/backend/internal/handlers"
	"github.com/lidapay/backend/internal/jobs"
	"github.com/lidapay/backend/internal/logging"
	"github.com/lidapay/backend/internal/metrics"
	"github.com/lidapay/backend/internal/middleware"
	"github.com/lidapay/backend/internal/reconcile"
	"github.com/lidapay/backend/internal/routes"
	"github.com/lidapay/backend/internal/store"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.LoadConfig()

	if err := logging.Init(cfg.Environment); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logging.Sync()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logging.Fatal("failed to register metrics", zap.Error(err))
	}

	ctx := context.Background()
	checks := map[string]handlers.HealthCheck{}

	// Pending transactions live in Redis; "memory" keeps them in-process for local runs
	var kv store.KV
	if cfg.Redis.URL == "memory" {
		logging.Warn("using in-memory pending store, records will not survive a restart")
		kv = store.NewMemoryKV()
	} else {
		redisClient, err := store.NewRedisClient(ctx, cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logging.Fatal("failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		kv = store.NewRedisKV(redisClient, cfg.Redis.KeyPrefix)
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	pendingStore := store.NewPendingStore(kv, store.Options{
		IndexTTL:   2 * cfg.Reconcile.StaleAfter,
		OutcomeTTL: cfg.Reconcile.OutcomeTTL,
	})

	// Purchase history is best effort; the reconciler runs without it
	var (
		db      *gorm.DB
		history reconcile.HistoryRecorder
		lister  handlers.HistoryLister
	)
	db, err := database.InitDB(cfg.Database, cfg.IsProduction())
	if err != nil {
		logging.Error("database unavailable, purchase history disabled", zap.Error(err))
	} else {
		repo := database.NewTransactionRepository(db)
		history, lister = repo, repo
		checks["database"] = func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}
	}

	gatewayClient := gateway.NewClient(gateway.Config{
		BaseURL:      cfg.Gateway.BaseURL,
		InitiatePath: cfg.Gateway.InitiatePath,
		StatusPath:   cfg.Gateway.StatusPath,
		APIKey:       cfg.Gateway.APIKey,
		Timeout:      cfg.Gateway.Timeout,
	})

	machine := reconcile.NewMachine(pendingStore, gatewayClient, history, reconcile.Config{
		Poller: reconcile.PollerConfig{
			MaxRetries:   cfg.Reconcile.MaxRetries,
			InitialDelay: cfg.Reconcile.InitialDelay,
			RetryDelay:   cfg.Reconcile.RetryDelay,
		},
		StaleAfter:    cfg.Reconcile.StaleAfter,
		PendingPolicy: cfg.Reconcile.PendingPolicy,
		OrderImgURL:   cfg.Gateway.OrderImgURL,
	})

	sweeper := jobs.NewSweeper(machine, cfg.Reconcile.SweepInterval)
	if err := sweeper.Start(); err != nil {
		logging.Fatal("failed to start sweeper", zap.Error(err))
	}

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	router := gin.New()
	router.Use(middleware.RequestLogger())
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{cfg.FrontendURL},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
		AllowCredentials: true,
	}))
	router.Use(middleware.SecureHeadersMiddleware(middleware.DefaultSecureHeadersConfig(cfg.IsProduction())))

	h := routes.Handlers{
		Checkout:     handlers.NewCheckoutHandler(machine, cfg.Gateway.RedirectURL),
		Preferences:  handlers.NewPreferencesHandler(machine),
		Transactions: handlers.NewTransactionHandler(lister),
		Health:       handlers.NewHealthHandler(checks),
	}
	if !cfg.IsProduction() {
		h.Device = handlers.NewDeviceHandler(cfg.JWT.Secret, time.Duration(cfg.JWT.Expiration)*time.Hour)
	}
	routes.SetupRoutes(router, h, routes.Options{
		JWTSecret:   cfg.JWT.Secret,
		RateLimiter: rateLimiter,
	})

	srv := startServer(router, cfg.Server)

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("server forced to shutdown", zap.Error(err))
	}

	sweeper.Stop()
	machine.Close()
	rateLimiter.Stop()
	if db != nil {
		if err := database.Close(db); err != nil {
			logging.Error("failed to close database", zap.Error(err))
		}
	}

	logging.Info("server exited")
}

// startServer starts the HTTP server
func startServer(router *gin.Engine, cfg config.ServerConfig) *http.Server {
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatal("failed to start server", zap.Error(err))
		}
	}()

	logging.Info("server started", zap.String("port", cfg.Port))
	return srv
}
