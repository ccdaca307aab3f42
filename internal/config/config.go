package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Supported listing store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMongo    = "mongo"
	StoreDriverMemory   = "memory"
)

// Config holds all configuration for the application.
type Config struct {
	// Environment
	RunMode string // Set via flag, not env

	// Listing store
	StoreDriver string
	DatabaseURL string // Postgres DSN
	MongoURI    string
	MongoDbName string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Memcached (optional shared coordinate cache)
	MemcachedAddr string

	// RabbitMQ (optional listing events)
	AmqpURL   string
	AmqpQueue string

	// Server
	ApiPort        string
	ServiceApiPort string // Internal control API; empty disables it

	// Principal
	JwtSecret       string
	DefaultAgencyID int // Used when no bearer token is presented; 0 disables the fallback

	// Geocoder
	GeocoderURL               string
	GeocoderUserAgent         string
	GeocoderLanguage          string
	GeocoderCountryName       string
	GeocoderCountryCode       string
	GeocoderTimeout           time.Duration
	GeocoderRequestsPerSecond float64
	GeocoderMaxRetries        int
	GeocoderBackoff           time.Duration
	GeocoderCacheSize         int
	GeocoderCacheTTL          time.Duration
	GeocodeCreateAttempts     int
	GeocodeCreateDelay        time.Duration
	GeocodeBackfillCron       string

	// Address suggestions
	AddressSearchURL string
	AddressCacheTTL  time.Duration

	// Rate Limiting Defaults
	RateLimitBucketSize int
	RateLimitRefillRate int // tokens per second
}

// Load configuration from environment variables.
// RunMode needs to be passed in as it comes from command-line flags.
func Load(runMode string) (*Config, error) {
	// Load .env file, ignoring errors if it doesn't exist
	godotenv.Load()

	cfg := &Config{
		RunMode: runMode,
	}

	var err error

	getEnv := func(key, defaultValue string) string {
		if value, exists := os.LookupEnv(key); exists {
			return value
		}
		return defaultValue
	}

	getRequiredEnv := func(key string) (string, error) {
		value, exists := os.LookupEnv(key)
		if !exists || value == "" {
			return "", fmt.Errorf("missing required environment variable: %s", key)
		}
		return value, nil
	}

	cfg.StoreDriver = getEnv("STORE_DRIVER", StoreDriverPostgres)
	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		cfg.DatabaseURL, err = getRequiredEnv("DATABASE_URL")
		if err != nil {
			return nil, err
		}
	case StoreDriverMongo:
		cfg.MongoURI, err = getRequiredEnv("MONGO_URI")
		if err != nil {
			return nil, err
		}
	case StoreDriverMemory:
	default:
		return nil, fmt.Errorf("invalid STORE_DRIVER: %q", cfg.StoreDriver)
	}
	cfg.MongoDbName = getEnv("MONGO_DB_NAME", "iaimmo")

	cfg.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.MemcachedAddr = getEnv("MEMCACHED_ADDR", "")
	cfg.AmqpURL = getEnv("AMQP_URL", "")
	cfg.AmqpQueue = getEnv("AMQP_QUEUE", "properties_queue")
	cfg.ApiPort = getEnv("API_PORT", "5000")
	cfg.ServiceApiPort = getEnv("SERVICE_API_PORT", "")
	cfg.JwtSecret = getEnv("JWT_SECRET", "")

	cfg.GeocoderURL = getEnv("GEOCODER_URL", "https://nominatim.openstreetmap.org/search")
	cfg.GeocoderUserAgent = getEnv("GEOCODER_USER_AGENT", "IAImmo/1.0")
	cfg.GeocoderLanguage = getEnv("GEOCODER_LANGUAGE", "fr")
	cfg.GeocoderCountryName = getEnv("GEOCODER_COUNTRY_NAME", "France")
	cfg.GeocoderCountryCode = getEnv("GEOCODER_COUNTRY_CODE", "fr")
	cfg.GeocodeBackfillCron = getEnv("GEOCODE_BACKFILL_CRON", "@hourly")
	cfg.AddressSearchURL = getEnv("ADDRESS_SEARCH_URL", "https://api-adresse.data.gouv.fr/search/")

	cfg.RedisDB, err = strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg.DefaultAgencyID, err = strconv.Atoi(getEnv("DEFAULT_AGENCY_ID", "1"))
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_AGENCY_ID: %w", err)
	}

	geocoderTimeoutSeconds, err := strconv.ParseInt(getEnv("GEOCODER_TIMEOUT_SECONDS", "10"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid GEOCODER_TIMEOUT_SECONDS: %w", err)
	}
	cfg.GeocoderTimeout = time.Duration(geocoderTimeoutSeconds) * time.Second

	cfg.GeocoderRequestsPerSecond, err = strconv.ParseFloat(getEnv("GEOCODER_REQUESTS_PER_SECOND", "1"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid GEOCODER_REQUESTS_PER_SECOND: %w", err)
	}

	cfg.GeocoderMaxRetries, err = strconv.Atoi(getEnv("GEOCODER_MAX_RETRIES", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid GEOCODER_MAX_RETRIES: %w", err)
	}

	backoffMs, err := strconv.ParseInt(getEnv("GEOCODER_BACKOFF_MS", "2000"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid GEOCODER_BACKOFF_MS: %w", err)
	}
	cfg.GeocoderBackoff = time.Duration(backoffMs) * time.Millisecond

	cfg.GeocoderCacheSize, err = strconv.Atoi(getEnv("GEOCODER_CACHE_SIZE", "10000"))
	if err != nil {
		return nil, fmt.Errorf("invalid GEOCODER_CACHE_SIZE: %w", err)
	}

	cacheTTLHours, err := strconv.ParseInt(getEnv("GEOCODER_CACHE_TTL_HOURS", "720"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid GEOCODER_CACHE_TTL_HOURS: %w", err)
	}
	if cacheTTLHours <= 0 {
		return nil, fmt.Errorf("invalid GEOCODER_CACHE_TTL_HOURS: must be positive, got %d", cacheTTLHours)
	}
	cfg.GeocoderCacheTTL = time.Duration(cacheTTLHours) * time.Hour

	cfg.GeocodeCreateAttempts, err = strconv.Atoi(getEnv("GEOCODE_CREATE_ATTEMPTS", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid GEOCODE_CREATE_ATTEMPTS: %w", err)
	}

	createDelayMs, err := strconv.ParseInt(getEnv("GEOCODE_CREATE_DELAY_MS", "1000"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid GEOCODE_CREATE_DELAY_MS: %w", err)
	}
	cfg.GeocodeCreateDelay = time.Duration(createDelayMs) * time.Millisecond

	addressCacheTTLSeconds, err := strconv.ParseInt(getEnv("ADDRESS_CACHE_TTL_SECONDS", "300"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid ADDRESS_CACHE_TTL_SECONDS: %w", err)
	}
	cfg.AddressCacheTTL = time.Duration(addressCacheTTLSeconds) * time.Second

	// Rate Limiting
	cfg.RateLimitBucketSize, err = strconv.Atoi(getEnv("RATE_LIMIT_BUCKET_SIZE", "20"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_BUCKET_SIZE: %w", err)
	}
	cfg.RateLimitRefillRate, err = strconv.Atoi(getEnv("RATE_LIMIT_REFILL_RATE", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_REFILL_RATE: %w", err)
	}

	return cfg, nil
}
