package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/redis/go-redis/v9"

	"exclusive-orders-backend/config"
	"exclusive-orders-backend/internal/api"
	"exclusive-orders-backend/internal/arbiter"
	"exclusive-orders-backend/internal/db"
	"exclusive-orders-backend/internal/event"
	"exclusive-orders-backend/internal/ledger"
	"exclusive-orders-backend/internal/metrics"
	"exclusive-orders-backend/internal/notification"
	"exclusive-orders-backend/internal/policy"
	"exclusive-orders-backend/internal/sched"
)

func main() {
	// Setup logger
	logger := log.New(os.Stdout, "arbiterd ", log.LstdFlags)

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	var webpushOptions *webpush.Options
	if cfg.Push.Enabled {
		if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
			logger.Fatalf("push is enabled but VAPID keys are not configured")
		}
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
	}

	metrics.Register()

	// Initialize database
	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")

	store := ledger.NewGormStore(gormDB)

	// The claim ledger defaults to the same Postgres the orders live in.
	// Redis is a drop-in alternative when claim volume outgrows the
	// database's write path.
	var claims ledger.Ledger = store
	if cfg.Ledger.Backend == "redis" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Ledger.RedisAddr})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Fatalf("failed to reach redis claim ledger at %s: %v", cfg.Ledger.RedisAddr, err)
		}
		claims = ledger.NewRedisLedger(rdb)
		logger.Printf("claim ledger backed by redis at %s", cfg.Ledger.RedisAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := event.NewBus()
	scheduler := sched.New()
	go scheduler.Run(ctx)

	arb := arbiter.New(claims, store, bus, scheduler, arbiter.Config{
		Policy: policy.Config{
			ShowLockedOrders: cfg.Policy.ShowLockedOrders,
		},
		LedgerTimeout: cfg.Ledger.Timeout,
	})

	// Re-arm live orders that were in flight when the previous process died.
	if err := arb.Recover(ctx); err != nil {
		logger.Fatalf("failed to recover live orders: %v", err)
	}

	if webpushOptions != nil {
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, webpushOptions)
		pool.Start(ctx)
		go pool.Consume(ctx, bus)
		logger.Printf("notification worker pool started with %d workers", cfg.WorkerPool.Size)
	}

	// Initialize router
	handler := api.NewHandler(arb, store, bus, webpushOptions, cfg)
	router := api.NewRouter(handler)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start the server in a goroutine
	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// Block until a signal is received.
	<-stop
	logger.Println("Shutdown signal received, stopping services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}

	logger.Println("Server gracefully stopped")
}
