package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	"github.com/ssvgopal/omnifyproduct-sub002/db"
	"github.com/ssvgopal/omnifyproduct-sub002/internal/config"
	"github.com/ssvgopal/omnifyproduct-sub002/services"
	"github.com/ssvgopal/omnifyproduct-sub002/workers"
)

func main() {
	log.Println("Starting escalation monitor...")

	// Load Config
	configPath := os.Getenv("CONFIG_PATH")

	if err := config.LoadConfig(configPath); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Database connection
	if config.App.DatabaseURL == "" {
		log.Fatal("DATABASE_URL environment variable (or config) is required")
	}

	pg, err := sql.Open("postgres", config.App.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pg.Close()

	if err := pg.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	// Set timezone to UTC for consistent time handling
	if _, err := pg.Exec("SET TIME ZONE 'UTC'"); err != nil {
		log.Printf("Failed to set timezone to UTC: %v", err)
	}
	log.Println("  Connected to database successfully")

	var redisClient *redis.Client
	if config.App.RedisURL != "" {
		opt, err := redis.ParseURL(config.App.RedisURL)
		if err != nil {
			log.Fatalf("Failed to parse REDIS_URL: %v", err)
		}
		redisClient = redis.NewClient(opt)
		defer redisClient.Close()
		log.Println("  Connected to Redis")
	} else {
		log.Println("  No REDIS_URL set, running without the sweep lock")
	}

	// Initialize services
	repo := db.NewPostgresRepository(pg)
	registry := services.NewExpertRegistry(repo)
	store := services.NewInterventionStore(repo)

	var sink services.NotificationSink = services.LogSink{}
	if redisClient != nil {
		sink = services.NewRedisSink(redisClient, config.App.EventChannel)
	}

	lifecycle := services.NewLifecycleManager(repo, registry, store, sink, services.LifecycleConfig{
		DefaultSLA:      config.App.DefaultSLA(),
		EmergencySLA:    config.App.EmergencySLA(),
		EscalationGrace: config.App.EscalationGrace(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := registry.Load(ctx); err != nil {
		log.Fatalf("Failed to load expert registry: %v", err)
	}
	if err := store.Load(ctx); err != nil {
		log.Fatalf("Failed to load active requests: %v", err)
	}

	var lock *workers.SweepLock
	if redisClient != nil {
		lock = workers.NewSweepLock(redisClient, "escalation_monitor:sweep", config.App.SweepLockTTL())
	}

	monitor := workers.NewEscalationMonitor(lifecycle, registry, store, lock, workers.MonitorConfig{
		SweepInterval:   config.App.SweepInterval(),
		RefreshInterval: config.App.RefreshInterval(),
		ResponseTimeout: config.App.ResponseTimeout(),
	})

	monitor.Run(ctx)
	log.Println("Shutting down...")
}
