package main_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAppBinary      = "./iaimmo_test_app"
	testAppPort        = "8089"
	testServiceApiPort = "8091"
	testAppURL         = "http://localhost:" + testAppPort
	testServiceApiURL  = "http://localhost:" + testServiceApiPort
	startupTimeout     = 15 * time.Second
	pingEndpoint       = testAppURL + "/api/ping"
)

// integrationReady is false when the environment cannot run the binary (no Redis configured).
var integrationReady bool

// TestMain builds the binary and runs it in "all" mode against an in-memory store and a
// stub geocoding service.
func TestMain(m *testing.M) {
	godotenv.Load()
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		log.Println("REDIS_ADDR not set, integration tests will be skipped")
		os.Exit(m.Run())
	}

	exitCode := run(m, redisAddr)
	os.Exit(exitCode)
}

func run(m *testing.M, redisAddr string) int {
	defer func() { _ = os.Remove(testAppBinary) }()

	log.Println("Integration Test Setup: Building application...")
	buildCmd := exec.Command("go", "build", "-o", testAppBinary, ".")
	if out, err := buildCmd.CombinedOutput(); err != nil {
		log.Printf("Failed to build application: %v\nOutput:\n%s", err, string(out))
		return 1
	}

	nominatim := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"lat":"48.87","lon":"2.33","address":{"country_code":"fr"}}]`))
	}))
	defer nominatim.Close()

	appCmd := exec.Command(testAppBinary, "-m", "all")
	appCmd.Env = append(os.Environ(),
		"STORE_DRIVER=memory",
		"API_PORT="+testAppPort,
		"SERVICE_API_PORT="+testServiceApiPort,
		"REDIS_ADDR="+redisAddr,
		"GEOCODER_URL="+nominatim.URL,
		"GEOCODER_REQUESTS_PER_SECOND=0",
		"GEOCODE_CREATE_DELAY_MS=0",
		"GEOCODE_BACKFILL_CRON=",
		"MEMCACHED_ADDR=",
		"AMQP_URL=",
		"JWT_SECRET=",
		"DEFAULT_AGENCY_ID=1",
		"GIN_MODE=release",
	)
	appCmd.Stderr = os.Stderr
	appCmd.Stdout = os.Stdout
	if err := appCmd.Start(); err != nil {
		log.Printf("Failed to start application: %v", err)
		return 1
	}
	defer func() {
		log.Println("Integration Test Teardown: Sending SIGTERM to application...")
		if err := appCmd.Process.Signal(syscall.SIGTERM); err != nil {
			_ = appCmd.Process.Kill()
		}
		_, _ = appCmd.Process.Wait()
	}()

	startTime := time.Now()
	for time.Since(startTime) < startupTimeout {
		resp, err := http.Get(pingEndpoint)
		if err == nil {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK && string(body) == "pong" {
				integrationReady = true
				break
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
	if !integrationReady {
		log.Printf("Application failed to start within %v", startupTimeout)
		return 1
	}

	return m.Run()
}

func requireApp(t *testing.T) {
	if !integrationReady {
		t.Skip("application not running, skipping integration test")
	}
}

func TestIntegration_Ping(t *testing.T) {
	requireApp(t)
	resp, err := http.Get(pingEndpoint)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pong", string(body))
}

func TestIntegration_CreateAndSearch(t *testing.T) {
	requireApp(t)
	payload := map[string]interface{}{
		"title":           "Appartement Opéra",
		"description":     "Trois pièces",
		"price":           450000,
		"location":        "10 Rue de la Paix, 75002 Paris, France",
		"type":            "apartment",
		"bedrooms":        2,
		"transactionType": "sale",
	}
	raw, _ := json.Marshal(payload)
	resp, err := http.Post(testAppURL+"/api/properties", "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, "48.87", created["latitude"])
	assert.Equal(t, "2.33", created["longitude"])
	assert.EqualValues(t, 1, created["agencyId"])

	resp, err = http.Get(testAppURL + "/api/properties/transaction/sale?location=paris&minPrice=abc")
	require.NoError(t, err)
	defer resp.Body.Close()
	var listings []map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listings))
	require.NotEmpty(t, listings)
	assert.Equal(t, created["id"], listings[0]["id"])

	resp, err = http.Get(testAppURL + "/api/properties/transaction/invalid")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIntegration_ServiceApiBackfill(t *testing.T) {
	requireApp(t)
	resp, err := http.Post(testServiceApiURL+"/api", "application/json", bytes.NewBufferString(`{"method":"geocodeBackfill"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}
