package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	appconfig "tickflow/config"
	"tickflow/internal/cache"
	"tickflow/internal/channel"
	"tickflow/internal/feed"
	"tickflow/internal/models"
	"tickflow/internal/persistence"
)

func testServer(t *testing.T) (*Server, *gin.Engine, *cache.PriceCache, *persistence.Executor) {
	t.Helper()

	c := cache.New(5 * time.Minute)
	ch := channel.NewChannels(4, 4)
	t.Cleanup(ch.Close)

	breaker := persistence.NewCircuitBreaker(appconfig.CircuitBreakerConfig{FailureThreshold: 5, RecoveryTimeout: 30 * time.Second})
	exec := persistence.NewExecutor(breaker, persistence.NewMemoryResponseCache(time.Minute), appconfig.RetryConfig{MaxAttempts: 1})

	feeds := map[string]*feed.Manager{
		"binance": feed.NewManager(feed.NewBinanceAdapter(appconfig.FeedConfig{Symbols: []string{"BTC"}}), appconfig.FeedConfig{Symbols: []string{"BTC"}}, ch),
	}

	s := NewServer(appconfig.APIConfig{Enabled: true, Address: ":0"}, c, nil, exec, nil, ch, feeds)
	if s == nil {
		t.Fatal("enabled server config returned nil server")
	}
	router, err := s.buildRouter()
	if err != nil {
		t.Fatalf("build router: %v", err)
	}
	return s, router, c, exec
}

func doRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestGetPriceNotCached(t *testing.T) {
	_, router, _, _ := testServer(t)

	rec := doRequest(router, http.MethodGet, "/api/prices/BTC", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestGetPriceReturnsCachedEntry(t *testing.T) {
	_, router, c, _ := testServer(t)
	c.Upsert(models.PriceTick{Symbol: "BTC", Price: 50000, TimestampMs: time.Now().UnixMilli()})

	rec := doRequest(router, http.MethodGet, "/api/prices/btc", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var entry models.CacheEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry.Symbol != "BTC" || entry.Price != 50000 {
		t.Errorf("entry = %+v", entry)
	}
}

func TestPostPricesUpsertsCache(t *testing.T) {
	_, router, c, _ := testServer(t)

	rec := doRequest(router, http.MethodPost, "/api/prices",
		`[{"symbol":"btc","price":50000},{"symbol":"ETH","price":3000,"timestamp_ms":1748779200000},{"symbol":"BAD","price":-1}]`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Accepted int `json:"accepted"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Accepted != 2 {
		t.Errorf("accepted = %d, want 2", resp.Accepted)
	}

	if entry, ok := c.Get("BTC"); !ok || entry.Price != 50000 {
		t.Errorf("BTC = %+v, ok=%v", entry, ok)
	}
	if entry, ok := c.Get("ETH"); !ok || entry.TimestampMs != 1748779200000 {
		t.Errorf("ETH = %+v, ok=%v", entry, ok)
	}
}

func TestPostPricesRejectsEmptyBatch(t *testing.T) {
	_, router, _, _ := testServer(t)

	if rec := doRequest(router, http.MethodPost, "/api/prices", `[]`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty batch status = %d, want 400", rec.Code)
	}
	if rec := doRequest(router, http.MethodPost, "/api/prices", `{"symbol":"x"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("non-array body status = %d, want 400", rec.Code)
	}
}

func TestGetFeedsReportsState(t *testing.T) {
	_, router, _, _ := testServer(t)

	rec := doRequest(router, http.MethodGet, "/api/feeds", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"state":"disconnected"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"exchange":"binance"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestHealthReflectsDegradedMode(t *testing.T) {
	_, router, _, exec := testServer(t)

	rec := doRequest(router, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("healthy status = %d, want 200", rec.Code)
	}

	exec.MarkDegraded()
	rec = doRequest(router, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("degraded status = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"degraded"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestHealthRunsPingAndClearsDegradedMode(t *testing.T) {
	c := cache.New(5 * time.Minute)
	ch := channel.NewChannels(4, 4)
	t.Cleanup(ch.Close)

	breaker := persistence.NewCircuitBreaker(appconfig.CircuitBreakerConfig{FailureThreshold: 5, RecoveryTimeout: 30 * time.Second})
	exec := persistence.NewExecutor(breaker, persistence.NewMemoryResponseCache(time.Minute), appconfig.RetryConfig{MaxAttempts: 1})

	pingErr := errors.New("storage down")
	ping := func(context.Context) error { return pingErr }

	s := NewServer(appconfig.APIConfig{Enabled: true, Address: ":0"}, c, nil, exec, ping, ch, nil)
	router, err := s.buildRouter()
	if err != nil {
		t.Fatalf("build router: %v", err)
	}

	exec.MarkDegraded()

	rec := doRequest(router, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status with failing ping = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "storage down") {
		t.Errorf("body = %s, want storage_error surfaced", rec.Body.String())
	}
	if !exec.Degraded() {
		t.Fatal("failing ping must not clear degraded mode")
	}

	pingErr = nil
	rec = doRequest(router, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status with healthy storage = %d, want 200", rec.Code)
	}
	if exec.Degraded() {
		t.Fatal("successful ping through the health endpoint must clear degraded mode")
	}
}

func TestDisabledServerIsNil(t *testing.T) {
	if s := NewServer(appconfig.APIConfig{}, nil, nil, nil, nil, nil, nil); s != nil {
		t.Error("disabled config produced a server")
	}
}

func TestNormalizeAddress(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", "0.0.0.0:8080"},
		{":9000", "0.0.0.0:9000"},
		{"localhost", "localhost:8080"},
		{"127.0.0.1", "127.0.0.1:8080"},
		{"http://0.0.0.0:8081", "0.0.0.0:8081"},
		{"*:7000", "0.0.0.0:7000"},
	}
	for _, tc := range cases {
		if got := normalizeAddress(tc.in); got != tc.want {
			t.Errorf("normalizeAddress(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
