package router

import (
	"context"
	"database/sql"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"github.com/ssvgopal/omnifyproduct-sub002/db"
	"github.com/ssvgopal/omnifyproduct-sub002/handlers"
	"github.com/ssvgopal/omnifyproduct-sub002/internal/config"
	"github.com/ssvgopal/omnifyproduct-sub002/services"
)

func NewGinRouter(pg *sql.DB, redisClient *redis.Client) *gin.Engine {
	r := gin.Default()

	// Add CORS middleware
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

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

	ctx := context.Background()
	if err := registry.Load(ctx); err != nil {
		log.Printf("Warning: failed to load expert registry: %v", err)
	}
	if err := store.Load(ctx); err != nil {
		log.Printf("Warning: failed to load active requests: %v", err)
	}

	interventionHandler := handlers.NewInterventionHandler(lifecycle, registry)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	interventionRoutes := r.Group("/interventions")
	{
		interventionRoutes.POST("", interventionHandler.CreateIntervention)
		interventionRoutes.GET("/:id", interventionHandler.GetIntervention)
		interventionRoutes.POST("/:id/decision", interventionHandler.SubmitDecision)
		interventionRoutes.POST("/:id/escalate", interventionHandler.EscalateIntervention)
	}

	expertRoutes := r.Group("/experts")
	{
		expertRoutes.POST("", interventionHandler.RegisterExpert)
		expertRoutes.GET("/:id/workload", interventionHandler.GetExpertWorkload)
	}

	return r
}
