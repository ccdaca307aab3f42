// Package geocoding resolves free-text addresses to coordinates through a Nominatim-compatible
// search service and proxies address autocompletion.
package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/intelliaflow/IAIMMOBOT/internal/config"
	"github.com/intelliaflow/IAIMMOBOT/internal/models"
)

// ErrRateLimited is returned when the service keeps answering 429 after all retries.
var ErrRateLimited = errors.New("geocoding service rate limit exceeded")

// IGeocoder resolves addresses. A nil result with a nil error means "no coordinates".
type IGeocoder interface {
	Geocode(ctx context.Context, address string) (*models.Coordinates, error)
	GeocodeBatch(ctx context.Context, addresses []string) map[string]*models.Coordinates
}

type nominatimResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
	Address     struct {
		CountryCode string `json:"country_code"`
	} `json:"address"`
}

// Geocoder talks to the search endpoint one request at a time, throttled by a token bucket.
type Geocoder struct {
	cfg        *config.Config
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      *Cache

	// mu serializes outbound lookups.
	mu sync.Mutex
}

// NewGeocoder creates a Geocoder. cache may be nil, in which case a local-only cache is used.
func NewGeocoder(cfg *config.Config, cache *Cache) *Geocoder {
	if cache == nil {
		cache = NewCache(cfg.GeocoderCacheSize, cfg.GeocoderCacheTTL, nil)
	}
	limit := rate.Inf
	if cfg.GeocoderRequestsPerSecond > 0 {
		limit = rate.Limit(cfg.GeocoderRequestsPerSecond)
	}
	return &Geocoder{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.GeocoderTimeout},
		limiter:    rate.NewLimiter(limit, 1),
		cache:      cache,
	}
}

// Geocode resolves address. Cached answers never reach the network. When the full query has no
// match, one fallback query is made with the first comma-separated segment only.
func (g *Geocoder) Geocode(ctx context.Context, address string) (*models.Coordinates, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, nil
	}
	if coords, ok := g.cache.Get(ctx, address); ok {
		return coords, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// A concurrent caller may have resolved the same address while we waited.
	if coords, ok := g.cache.Get(ctx, address); ok {
		return coords, nil
	}

	query := g.normalize(address)
	results, err := g.search(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		fallback := g.normalize(firstSegment(query))
		if fallback == query {
			return nil, nil
		}
		log.Printf("WARN: no geocoding match for %q, retrying with %q", query, fallback)
		results, err = g.search(ctx, fallback)
		if err != nil {
			return nil, err
		}
		if len(results) == 0 {
			return nil, nil
		}
	}

	best := results[0]
	if !strings.EqualFold(best.Address.CountryCode, g.cfg.GeocoderCountryCode) {
		log.Printf("WARN: geocoding match for %q is outside %s (%q)", query, g.cfg.GeocoderCountryCode, best.Address.CountryCode)
		return nil, nil
	}
	if best.Lat == "" || best.Lon == "" {
		return nil, nil
	}

	coords := &models.Coordinates{Latitude: best.Lat, Longitude: best.Lon}
	g.cache.Set(ctx, address, coords)
	return coords, nil
}

// GeocodeBatch resolves addresses sequentially. Failures are logged and map to nil.
func (g *Geocoder) GeocodeBatch(ctx context.Context, addresses []string) map[string]*models.Coordinates {
	results := make(map[string]*models.Coordinates, len(addresses))
	for _, address := range addresses {
		if ctx.Err() != nil {
			results[address] = nil
			continue
		}
		coords, err := g.Geocode(ctx, address)
		if err != nil {
			log.Printf("ERROR geocoding %q: %v", address, err)
		}
		results[address] = coords
	}
	return results
}

// normalize trims the address and appends the country name unless it is already mentioned.
func (g *Geocoder) normalize(address string) string {
	address = strings.TrimSpace(address)
	country := g.cfg.GeocoderCountryName
	if country == "" || strings.Contains(strings.ToLower(address), strings.ToLower(country)) {
		return address
	}
	return address + ", " + country
}

func firstSegment(query string) string {
	if i := strings.Index(query, ","); i >= 0 {
		return strings.TrimSpace(query[:i])
	}
	return strings.TrimSpace(query)
}

// search performs one logical lookup, retrying 429 answers with exponential backoff.
func (g *Geocoder) search(ctx context.Context, query string) ([]nominatimResult, error) {
	backoff := g.cfg.GeocoderBackoff
	for attempt := 0; ; attempt++ {
		results, err := g.request(ctx, query)
		if !errors.Is(err, ErrRateLimited) {
			return results, err
		}
		if attempt >= g.cfg.GeocoderMaxRetries {
			return nil, fmt.Errorf("%w after %d retries", ErrRateLimited, attempt)
		}
		log.Printf("WARN: geocoding service rate limited, retrying in %s (attempt %d/%d)", backoff, attempt+1, g.cfg.GeocoderMaxRetries)
		if err := SleepContext(ctx, backoff); err != nil {
			return nil, err
		}
		backoff *= 2
	}
}

func (g *Geocoder) request(ctx context.Context, query string) ([]nominatimResult, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("format", "json")
	params.Set("q", query)
	params.Set("countrycodes", g.cfg.GeocoderCountryCode)
	params.Set("addressdetails", "1")
	params.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.GeocoderURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create geocoding request: %w", err)
	}
	req.Header.Set("User-Agent", g.cfg.GeocoderUserAgent)
	req.Header.Set("Accept-Language", g.cfg.GeocoderLanguage)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to contact geocoding service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("geocoding service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var results []nominatimResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("failed to decode geocoding response: %w", err)
	}
	return results, nil
}

// SleepContext waits for d or until ctx is done, whichever comes first.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
