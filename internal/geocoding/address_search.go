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
	"unicode/utf8"

	"github.com/redis/go-redis/v9"

	"github.com/intelliaflow/IAIMMOBOT/internal/config"
	"github.com/intelliaflow/IAIMMOBOT/internal/models"
)

const (
	// MinAddressQueryLength is the shortest query forwarded to the address service.
	MinAddressQueryLength = 2
	addressSearchLimit    = 5
	addressCachePrefix    = "address:search:"
)

// IAddressSearcher returns autocomplete suggestions for a partial address.
type IAddressSearcher interface {
	Search(ctx context.Context, query string) ([]models.AddressSuggestion, error)
}

type addressResponse struct {
	Features []struct {
		Geometry struct {
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties struct {
			Label    string `json:"label"`
			Postcode string `json:"postcode"`
			City     string `json:"city"`
			Context  string `json:"context"`
		} `json:"properties"`
	} `json:"features"`
}

type addressSearcher struct {
	cfg        *config.Config
	httpClient *http.Client
	redis      *redis.Client
}

// NewAddressSearcher creates a searcher against cfg.AddressSearchURL. rdb may be nil to disable caching.
func NewAddressSearcher(cfg *config.Config, rdb *redis.Client) IAddressSearcher {
	return &addressSearcher{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.GeocoderTimeout},
		redis:      rdb,
	}
}

// Search returns at most five house-number or street matches. Queries shorter than
// MinAddressQueryLength return an empty list without a network call.
func (s *addressSearcher) Search(ctx context.Context, query string) ([]models.AddressSuggestion, error) {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < MinAddressQueryLength {
		return []models.AddressSuggestion{}, nil
	}

	cacheKey := addressCachePrefix + CacheKey(query)
	if cached, ok := s.cached(ctx, cacheKey); ok {
		return cached, nil
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", fmt.Sprint(addressSearchLimit))
	params.Set("type", "housenumber,street")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.AddressSearchURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create address search request: %w", err)
	}
	req.Header.Set("User-Agent", s.cfg.GeocoderUserAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to contact address service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("address service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded addressResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode address response: %w", err)
	}

	suggestions := make([]models.AddressSuggestion, 0, len(decoded.Features))
	for _, f := range decoded.Features {
		suggestions = append(suggestions, models.AddressSuggestion{
			Label:       f.Properties.Label,
			Postcode:    f.Properties.Postcode,
			City:        f.Properties.City,
			Context:     f.Properties.Context,
			Coordinates: f.Geometry.Coordinates,
		})
	}

	s.store(ctx, cacheKey, suggestions)
	return suggestions, nil
}

func (s *addressSearcher) cached(ctx context.Context, key string) ([]models.AddressSuggestion, bool) {
	if s.redis == nil {
		return nil, false
	}
	raw, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("WARN: address cache read failed: %v", err)
		}
		return nil, false
	}
	var suggestions []models.AddressSuggestion
	if err := json.Unmarshal(raw, &suggestions); err != nil {
		return nil, false
	}
	return suggestions, true
}

func (s *addressSearcher) store(ctx context.Context, key string, suggestions []models.AddressSuggestion) {
	if s.redis == nil || s.cfg.AddressCacheTTL <= 0 {
		return
	}
	raw, err := json.Marshal(suggestions)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, key, raw, s.cfg.AddressCacheTTL).Err(); err != nil {
		log.Printf("WARN: address cache write failed: %v", err)
	}
}

// ClearAddressCache deletes every cached address suggestion and returns how many keys were removed.
func ClearAddressCache(ctx context.Context, rdb *redis.Client) (int, error) {
	removed := 0
	iter := rdb.Scan(ctx, 0, addressCachePrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n, err := rdb.Del(ctx, iter.Val()).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to delete %s: %w", iter.Val(), err)
		}
		removed += int(n)
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to scan address cache: %w", err)
	}
	return removed, nil
}
