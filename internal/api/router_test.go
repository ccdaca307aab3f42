package api_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intelliaflow/IAIMMOBOT/internal/api"
	"github.com/intelliaflow/IAIMMOBOT/internal/config"
	"github.com/intelliaflow/IAIMMOBOT/internal/geocoding"
	"github.com/intelliaflow/IAIMMOBOT/internal/repository"
	"github.com/intelliaflow/IAIMMOBOT/internal/services"
)

type fakeBackfill struct {
	calls int
	err   error
}

func (f *fakeBackfill) ScheduleBackfill(ctx context.Context) error {
	f.calls++
	return f.err
}

func testConfig() *config.Config {
	return &config.Config{
		DefaultAgencyID:       1,
		RateLimitBucketSize:   100,
		RateLimitRefillRate:   100,
		GeocodeCreateAttempts: 1,
		GeocoderCountryName:   "France",
		GeocoderCountryCode:   "fr",
	}
}

func TestSetupRouter_EndToEndWithMemoryStore(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := testConfig()
	nominatim := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"lat":"48.87","lon":"2.33","address":{"country_code":"fr"}}]`))
	}))
	defer nominatim.Close()
	cfg.GeocoderURL = nominatim.URL

	cache := geocoding.NewCache(100, time.Hour, nil)
	defer cache.Stop()
	svc := services.NewListingService(cfg, repository.NewMemoryStore(), geocoding.NewGeocoder(cfg, cache), nil, nil)
	r := api.SetupRouter(cfg, svc, geocoding.NewAddressSearcher(cfg, nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	body := `{"title":"Appartement","description":"Lumineux","price":450000,"location":"10 Rue de la Paix, 75002 Paris, France","type":"apartment"}`
	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/properties", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"latitude":"48.87"`)
	assert.Contains(t, w.Body.String(), `"agencyId":1`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/properties/transaction/invalid", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/properties/agency?minPrice=abc", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Appartement")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/addresses/search?q=a", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", w.Body.String())
}

func serviceCall(r *gin.Engine, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestSetupServiceRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	backfill := &fakeBackfill{}
	shutdown := make(chan struct{}, 1)
	r := api.SetupServiceRouter(nil, backfill, shutdown)

	assert.Equal(t, http.StatusAccepted, serviceCall(r, `{"method":"geocodeBackfill"}`).Code)
	assert.Equal(t, 1, backfill.calls)

	backfill.err = errors.New("redis down")
	assert.Equal(t, http.StatusInternalServerError, serviceCall(r, `{"method":"geocodeBackfill"}`).Code)

	assert.Equal(t, http.StatusServiceUnavailable, serviceCall(r, `{"method":"clearAddressCache"}`).Code)
	assert.Equal(t, http.StatusNotFound, serviceCall(r, `{"method":"nope"}`).Code)
	assert.Equal(t, http.StatusBadRequest, serviceCall(r, `not json`).Code)

	assert.Equal(t, http.StatusOK, serviceCall(r, `{"method":"shutdown"}`).Code)
	select {
	case <-shutdown:
	default:
		t.Fatal("shutdown was not signaled")
	}
}
