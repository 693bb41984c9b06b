package metrics

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/drawsettle/internal/domain"
)

func value(c prometheus.Metric) float64 {
	var out dto.Metric
	if err := c.Write(&out); err != nil {
		panic(err)
	}
	if out.Counter != nil {
		return out.Counter.GetValue()
	}
	return out.Gauge.GetValue()
}

func TestObserveOperationOutcome(t *testing.T) {
	m := New()
	m.ObserveOperation("claim", nil, time.Millisecond)
	m.ObserveOperation("claim", fmt.Errorf("lottery: claim: %w", domain.ErrAlreadyClaimed), time.Millisecond)
	m.ObserveOperation("claim", errors.New("disk full"), time.Millisecond)

	assert.Equal(t, 1.0, value(m.operations.WithLabelValues("claim", "ok")))
	assert.Equal(t, 1.0, value(m.operations.WithLabelValues("claim", "rejected")))
	assert.Equal(t, 1.0, value(m.operations.WithLabelValues("claim", "error")))
}

func TestEngineCounters(t *testing.T) {
	m := New()
	m.TicketsSold("uusd", 3, 3000)
	m.DrawSettled(domain.WinnerCounts{0, 0, 0, 0, 2, 1})
	m.PrizeClaimed("uusd", 800)
	m.TransferFailed("claim")

	assert.Equal(t, 3.0, value(m.ticketsSold.WithLabelValues("uusd")))
	assert.Equal(t, 3000.0, value(m.ticketRevenue.WithLabelValues("uusd")))
	assert.Equal(t, 1.0, value(m.drawsSettled))
	assert.Equal(t, 2.0, value(m.winners.WithLabelValues("5")))
	assert.Equal(t, 1.0, value(m.winners.WithLabelValues("6")))
	assert.Equal(t, 800.0, value(m.prizesClaimed.WithLabelValues("uusd")))
	assert.Equal(t, 1.0, value(m.transferFailure.WithLabelValues("claim")))
}

func TestInstrumentUsesRoutePattern(t *testing.T) {
	m := New()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/draws/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	h := m.Instrument(mux)

	for _, id := range []string{"1", "2", "3"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/draws/"+id, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}
	assert.Equal(t, 3.0, value(m.httpRequests.WithLabelValues("GET", "/api/draws/{id}", "404")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveJob("close_expired", 10*time.Millisecond, nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `drawsettle_keeper_job_runs_total{job="close_expired",success="true"} 1`)
}
