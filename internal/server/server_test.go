package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/drawsettle/internal/crypto"
	"github.com/alanyoungcy/drawsettle/internal/lottery"
	"github.com/alanyoungcy/drawsettle/internal/lottery/lotterytest"
	"github.com/alanyoungcy/drawsettle/internal/metrics"
	"github.com/alanyoungcy/drawsettle/internal/oracle"
	"github.com/alanyoungcy/drawsettle/internal/server/handler"
	"github.com/alanyoungcy/drawsettle/internal/store/leveldb"
)

func newTestServer(t *testing.T, cfg Config) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	store, err := leveldb.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	v := lotterytest.Validator{}
	eng := lottery.New(store, &lotterytest.Ledger{}, &lotterytest.Oracle{}, v, logger)
	h := Handlers{
		Health:  handler.NewHealthHandler(map[string]handler.Pinger{"store": store}, logger),
		Status:  &handler.StatusHandler{Mode: "server", Storage: "leveldb", StartedAt: time.Now()},
		Config:  handler.NewConfigHandler(eng, v, crypto.NewDeliveryDomain(1), logger),
		Draws:   handler.NewDrawHandler(eng, v, logger),
		Oracle:  handler.NewOracleHandler(eng, oracle.NewVerifier(1), nil, logger),
		Metrics: metrics.New(),
	}
	return NewServer(cfg, h, nil, logger).Handler()
}

func get(h http.Handler, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServerRoutesAndAuth(t *testing.T) {
	h := newTestServer(t, Config{APIKey: "secret"})

	assert.Equal(t, http.StatusOK, get(h, "/api/health", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, get(h, "/api/status", nil).Code)

	rec := get(h, "/api/status", map[string]string{"X-API-Key": "secret"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"storage":"leveldb"`)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	// Not instantiated yet.
	rec = get(h, "/api/draws/current", map[string]string{"Authorization": "Bearer secret"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// Optional handlers that were not supplied are not routed.
	rec = get(h, "/api/payouts/unpaid", map[string]string{"X-API-Key": "secret"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/oracle/callback", strings.NewReader(`{}`))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "callback is public and rejects an empty delivery")

	rec = get(h, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `drawsettle_http_requests_total{method="GET",route="/api/status",status="200"} 1`)
}

func TestServerOpenReads(t *testing.T) {
	h := newTestServer(t, Config{APIKey: "secret", OpenReads: true})
	assert.Equal(t, http.StatusOK, get(h, "/api/status", nil).Code)

	req := httptest.NewRequest(http.MethodPut, "/api/config", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
