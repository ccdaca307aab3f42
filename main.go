package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/intelliaflow/IAIMMOBOT/internal/api"
	"github.com/intelliaflow/IAIMMOBOT/internal/cache"
	"github.com/intelliaflow/IAIMMOBOT/internal/config"
	"github.com/intelliaflow/IAIMMOBOT/internal/db"
	"github.com/intelliaflow/IAIMMOBOT/internal/events"
	"github.com/intelliaflow/IAIMMOBOT/internal/geocoding"
	"github.com/intelliaflow/IAIMMOBOT/internal/repository"
	"github.com/intelliaflow/IAIMMOBOT/internal/services"
	"github.com/intelliaflow/IAIMMOBOT/internal/tasks"
)

var runMode = flag.String("m", "all", "Run mode: 'api', 'bg' (background tasks), 'all' (default)")

const connectTimeout = 10 * time.Second

func main() {
	flag.Parse()

	cfg, err := config.Load(*runMode)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	switch cfg.RunMode {
	case "api", "bg", "all":
	default:
		log.Fatalf("Invalid run mode: %s.", cfg.RunMode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	// Listing store
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open %s listing store: %v", cfg.StoreDriver, err)
	}
	defer closeStore()

	// Redis backs the task queue and the shared caches
	redisClient, err := cache.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer func() {
		if err := cache.DisconnectRedis(redisClient); err != nil {
			log.Printf("Error disconnecting from Redis: %v", err)
		}
	}()

	coordinateCache := geocoding.NewCache(cfg.GeocoderCacheSize, cfg.GeocoderCacheTTL, sharedCoordinateStore(cfg, redisClient))
	defer coordinateCache.Stop()
	geocoder := geocoding.NewGeocoder(cfg, coordinateCache)

	publisher := openPublisher(cfg)
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Printf("Error closing event publisher: %v", err)
		}
	}()

	taskClient := tasks.NewClient(redisClient)
	defer taskClient.Close()
	enqueuer := tasks.NewGeocodeEnqueuer(taskClient, cfg.GeocodeCreateDelay)

	listingService := services.NewListingService(cfg, store, geocoder, enqueuer, publisher)

	var wg sync.WaitGroup

	// Channel to signal shutdown from Service API
	shutdownChan := make(chan struct{}, 1)

	var serviceSrv *http.Server
	if cfg.ServiceApiPort != "" {
		serviceSrv = &http.Server{
			Addr:    ":" + cfg.ServiceApiPort,
			Handler: api.SetupServiceRouter(redisClient, enqueuer, shutdownChan),
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Printf("Service API listening on :%s", cfg.ServiceApiPort)
			if err := serviceSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("Service API ListenAndServe error: %v", err)
			}
			log.Println("Service API server stopped.")
		}()
	}

	var mainApiSrv *http.Server
	var taskSrv *asynq.Server
	var scheduler *asynq.Scheduler

	log.Printf("Starting application in '%s' mode...", cfg.RunMode)

	apiMode := func() {
		router := api.SetupRouter(cfg, listingService, geocoding.NewAddressSearcher(cfg, redisClient))
		mainApiSrv = &http.Server{
			Addr:    ":" + cfg.ApiPort,
			Handler: router,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Printf("Main API listening on :%s", cfg.ApiPort)
			if err := mainApiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("Main API ListenAndServe error: %v", err)
			}
			log.Println("Main API server stopped.")
		}()
	}

	bgMode := func() {
		var mux *asynq.ServeMux
		taskSrv, mux = tasks.SetupServer(redisClient, tasks.NewTaskProcessor(listingService))
		if err := taskSrv.Start(mux); err != nil {
			log.Fatalf("Background task server error: %v", err)
		}
		log.Println("Background task server started.")

		scheduler, err = tasks.NewScheduler(redisClient, cfg)
		if err != nil {
			log.Fatalf("Failed to create task scheduler: %v", err)
		}
		if scheduler != nil {
			if err := scheduler.Start(); err != nil {
				log.Fatalf("Task scheduler error: %v", err)
			}
		}
	}

	switch cfg.RunMode {
	case "api":
		apiMode()
	case "bg":
		bgMode()
	case "all":
		apiMode()
		bgMode()
	}

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("Received signal: %s. Shutting down gracefully...", sig)
	case <-shutdownChan:
		log.Println("Shutdown requested via Service API. Shutting down gracefully...")
	}

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()

	if serviceSrv != nil {
		if err := serviceSrv.Shutdown(ctxShutdown); err != nil {
			log.Printf("Service API server shutdown error: %v", err)
		}
	}
	if mainApiSrv != nil {
		if err := mainApiSrv.Shutdown(ctxShutdown); err != nil {
			log.Printf("Main API server shutdown error: %v", err)
		}
	}
	if scheduler != nil {
		scheduler.Shutdown()
	}
	if taskSrv != nil {
		taskSrv.Shutdown()
	}

	wg.Wait()
	log.Println("Server gracefully stopped")
}

// openStore connects the configured listing store and prepares its schema or indexes.
func openStore(ctx context.Context, cfg *config.Config) (repository.ListingStore, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		conn, err := db.ConnectPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		store := repository.NewPostgresStore(conn)
		if err := store.EnsureSchema(ctx); err != nil {
			_ = db.DisconnectPostgres(conn)
			return nil, nil, err
		}
		return store, func() {
			if err := db.DisconnectPostgres(conn); err != nil {
				log.Printf("Error disconnecting from Postgres: %v", err)
			}
		}, nil
	case config.StoreDriverMongo:
		client, database, err := db.ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDbName)
		if err != nil {
			return nil, nil, err
		}
		store := repository.NewMongoStore(database)
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = db.DisconnectMongo(client)
			return nil, nil, err
		}
		return store, func() {
			if err := db.DisconnectMongo(client); err != nil {
				log.Printf("Error disconnecting from MongoDB: %v", err)
			}
		}, nil
	case config.StoreDriverMemory:
		log.Println("WARN: using the in-memory listing store; data is lost on restart")
		return repository.NewMemoryStore(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
}

// sharedCoordinateStore prefers memcached when configured and falls back to Redis.
func sharedCoordinateStore(cfg *config.Config, rdb *redis.Client) geocoding.CoordinateStore {
	if cfg.MemcachedAddr != "" {
		mc, err := cache.ConnectMemcache(cfg.MemcachedAddr)
		if err == nil {
			return geocoding.NewMemcacheCoordinateStore(mc)
		}
		log.Printf("WARN: %v; using Redis for the shared geocode cache", err)
	}
	return geocoding.NewRedisCoordinateStore(rdb)
}

func openPublisher(cfg *config.Config) events.Publisher {
	if cfg.AmqpURL == "" {
		return events.NopPublisher{}
	}
	publisher, err := events.NewAMQPPublisher(cfg.AmqpURL, cfg.AmqpQueue)
	if err != nil {
		log.Printf("WARN: listing events disabled: %v", err)
		return events.NopPublisher{}
	}
	return publisher
}
