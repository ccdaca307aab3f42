package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/intelliaflow/IAIMMOBOT/internal/api/handlers"
	"github.com/intelliaflow/IAIMMOBOT/internal/api/middleware"
	"github.com/intelliaflow/IAIMMOBOT/internal/config"
	"github.com/intelliaflow/IAIMMOBOT/internal/geocoding"
	"github.com/intelliaflow/IAIMMOBOT/internal/services"
)

// BackfillScheduler queues a backfill sweep on the background worker.
type BackfillScheduler interface {
	ScheduleBackfill(ctx context.Context) error
}

// SetupRouter configures and returns the main Gin engine.
func SetupRouter(cfg *config.Config, listingService services.IListingService, addressSearcher geocoding.IAddressSearcher) *gin.Engine {
	r := gin.Default()

	rateLimiter := middleware.NewRateLimiterMiddleware(cfg)

	// Apply global middleware first (order matters)
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.CORSMiddleware())
	r.Use(rateLimiter.Limit())

	restListingHandler := handlers.NewRestListingHandler(listingService)
	restAddressHandler := handlers.NewRestAddressHandler(addressSearcher)
	agencyRequired := middleware.AgencyMiddleware(cfg.JwtSecret, cfg.DefaultAgencyID)

	apiGroup := r.Group("/api")
	{
		handlers.RegisterRestListingRoutes(apiGroup, restListingHandler, agencyRequired)
		handlers.RegisterRestAddressRoutes(apiGroup, restAddressHandler)

		apiGroup.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})
	}

	return r
}

// SetupServiceRouter configures the internal control API. rdb may be nil.
func SetupServiceRouter(rdb *redis.Client, backfill BackfillScheduler, shutdownChan chan<- struct{}) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.POST("/api", func(c *gin.Context) {
		var req struct {
			Method    string          `json:"method"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request format"})
			return
		}

		switch req.Method {
		case "shutdown":
			log.Println("Received shutdown command via Service API")
			c.JSON(http.StatusOK, gin.H{"success": true, "result": "Shutdown initiated"})
			select {
			case shutdownChan <- struct{}{}:
			default:
				log.Println("Shutdown channel already signaled or blocked.")
			}
		case "geocodeBackfill":
			if backfill == nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "Task queue unavailable"})
				return
			}
			if err := backfill.ScheduleBackfill(c.Request.Context()); err != nil {
				log.Printf("Service API: %v", err)
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to enqueue backfill"})
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"success": true, "result": "Backfill enqueued"})
		case "clearAddressCache":
			if rdb == nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "Redis unavailable"})
				return
			}
			removed, err := geocoding.ClearAddressCache(c.Request.Context(), rdb)
			if err != nil {
				log.Printf("Service API: %v", err)
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Redis error"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "result": removed})
		default:
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Unknown service method: %s", req.Method)})
		}
	})
	return r
}
