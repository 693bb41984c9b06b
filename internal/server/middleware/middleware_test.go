package middleware

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuth(t *testing.T) {
	h := Auth("k3y", AuthOptions{PublicPrefixes: []string{"/api/health"}})(ok)

	cases := []struct {
		name   string
		method string
		path   string
		header map[string]string
		code   int
	}{
		{"missing", http.MethodPost, "/api/draws/1/claim", nil, http.StatusUnauthorized},
		{"wrong", http.MethodPost, "/api/draws/1/claim", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
		{"header", http.MethodPost, "/api/draws/1/claim", map[string]string{"X-API-Key": "k3y"}, http.StatusNoContent},
		{"bearer", http.MethodPost, "/api/draws/1/claim", map[string]string{"Authorization": "bearer k3y"}, http.StatusNoContent},
		{"basic scheme", http.MethodPost, "/api/draws/1/claim", map[string]string{"Authorization": "Basic k3y"}, http.StatusUnauthorized},
		{"public", http.MethodGet, "/api/health", nil, http.StatusNoContent},
		{"closed read", http.MethodGet, "/api/draws", nil, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			for k, v := range tc.header {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tc.code, serve(h, req).Code)
		})
	}

	open := Auth("k3y", AuthOptions{OpenReads: true})(ok)
	assert.Equal(t, http.StatusNoContent, serve(open, httptest.NewRequest(http.MethodGet, "/api/draws", nil)).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(open, httptest.NewRequest(http.MethodPost, "/api/draws/1/settle", nil)).Code)

	disabled := Auth("", AuthOptions{})(ok)
	assert.Equal(t, http.StatusNoContent, serve(disabled, httptest.NewRequest(http.MethodPost, "/x", nil)).Code)
}

type fakeLimiter struct {
	mu    sync.Mutex
	err   error
	keys  map[string]int
	limit int
}

func (f *fakeLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.keys == nil {
		f.keys = map[string]int{}
	}
	f.keys[key]++
	f.limit = limit
	return f.keys[key] <= limit, nil
}

func TestRateLimit(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	lim := &fakeLimiter{}
	h := RateLimit(lim, 2, time.Minute, logger)(ok)

	req := func(ip string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/api/draws", nil)
		r.Header.Set("X-Forwarded-For", ip+", 10.0.0.1")
		return r
	}
	assert.Equal(t, http.StatusNoContent, serve(h, req("1.2.3.4")).Code)
	assert.Equal(t, http.StatusNoContent, serve(h, req("1.2.3.4")).Code)
	rec := serve(h, req("1.2.3.4"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusNoContent, serve(h, req("5.6.7.8")).Code)
	assert.Equal(t, 3, lim.keys["api:1.2.3.4"])

	lim.err = errors.New("redis down")
	assert.Equal(t, http.StatusNoContent, serve(h, req("1.2.3.4")).Code)
	assert.Contains(t, buf.String(), "rate limiter unavailable")
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.7:5555"
	assert.Equal(t, "192.0.2.7", clientIP(r))
	r.Header.Set("X-Real-IP", " 198.51.100.1 ")
	assert.Equal(t, "198.51.100.1", clientIP(r))
	r.Header.Set("X-Forwarded-For", "203.0.113.9")
	assert.Equal(t, "203.0.113.9", clientIP(r))
}

func TestLoggingRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	var seen string
	h := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
	assert.Contains(t, buf.String(), `"status":418`)
	assert.Contains(t, buf.String(), `"request_id":"`+seen+`"`)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec = serve(h, req)
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example"})(ok)

	req := httptest.NewRequest(http.MethodOptions, "/api/draws", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := serve(h, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-Request-Id")

	req = httptest.NewRequest(http.MethodGet, "/api/draws", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = serve(h, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
