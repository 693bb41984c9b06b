package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/drawsettle/internal/config"
	"github.com/alanyoungcy/drawsettle/internal/domain"
)

const (
	oracleKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	owner     = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	buyer     = "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Lottery.Owner = owner
	cfg.Lottery.TicketPrice = "100"
	cfg.Lottery.Interval.Duration = 300 * time.Millisecond
	cfg.Storage.LevelDBPath = filepath.Join(t.TempDir(), "db")
	cfg.Storage.SyncCommits = false
	cfg.Oracle.PrivateKey = oracleKey
	cfg.Oracle.LocalDelay.Duration = 10 * time.Millisecond
	return &cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestWireInstantiatesOnce(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	deps, cleanup, err := Wire(ctx, cfg, quietLogger())
	require.NoError(t, err)
	got, err := deps.Engine.GetConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Identity(owner), got.Owner)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", string(got.Oracle))
	assert.Equal(t, "100uusd", got.TicketPrice.String())
	assert.Contains(t, deps.Checks, "leveldb")
	assert.Nil(t, deps.SignalBus)
	assert.NotNil(t, deps.Metrics)
	cleanup()

	// A restart keeps the stored config even when the file changes.
	cfg.Lottery.TicketPrice = "999"
	deps, cleanup, err = Wire(ctx, cfg, quietLogger())
	require.NoError(t, err)
	defer cleanup()
	got, err = deps.Engine.GetConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, "100uusd", got.TicketPrice.String())
}

func TestWireRejectsBadOwner(t *testing.T) {
	cfg := testConfig(t)
	cfg.Lottery.Owner = "nobody"
	_, _, err := Wire(context.Background(), cfg, quietLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lottery owner")
}

func TestWireRejectsMissingKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.Oracle.PrivateKey = ""
	_, _, err := Wire(context.Background(), cfg, quietLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oracle key")
}

func TestOracleFee(t *testing.T) {
	fee, err := oracleFee(config.OracleConfig{})
	require.NoError(t, err)
	assert.Nil(t, fee)

	fee, err = oracleFee(config.OracleConfig{FeeAmount: "0", FeeDenom: "uluna"})
	require.NoError(t, err)
	assert.Nil(t, fee)

	fee, err = oracleFee(config.OracleConfig{FeeAmount: "25", FeeDenom: "uluna"})
	require.NoError(t, err)
	require.Len(t, fee, 1)
	assert.Equal(t, "25uluna", fee[0].String())

	_, err = oracleFee(config.OracleConfig{FeeAmount: "-1", FeeDenom: "uluna"})
	assert.Error(t, err)
}

func TestKeeperConfig(t *testing.T) {
	cfg := config.Defaults()
	fee := domain.Funds{domain.NewCoin(5, "uluna")}
	kc := keeperConfig(&cfg, fee)
	assert.Equal(t, cfg.Keeper.CloseSpec, kc.CloseSpec)
	assert.Equal(t, cfg.Keeper.ArchiveSpec, kc.ArchiveSpec)
	assert.Equal(t, cfg.Keeper.ArchiveWindow, kc.ArchiveWindow)
	assert.Equal(t, fee, kc.OracleFee)
}

// TestServerSettlesWithLocalOracle drives a draw from purchase to a
// claimable result through the wired HTTP API and the in-process oracle.
func TestServerSettlesWithLocalOracle(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	a := New(cfg, quietLogger())

	deps, cleanup, err := Wire(ctx, cfg, a.logger)
	require.NoError(t, err)
	defer cleanup()

	srv, hub := a.newServer(deps)
	assert.Nil(t, hub)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	// send does not touch t so it is safe inside Eventually conditions.
	send := func(method, path string, body any) (int, []byte, error) {
		var r io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			if err != nil {
				return 0, nil, err
			}
			r = bytes.NewReader(data)
		}
		req, err := http.NewRequest(method, ts.URL+path, r)
		if err != nil {
			return 0, nil, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return 0, nil, err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		return resp.StatusCode, data, err
	}
	do := func(method, path string, body any) (int, []byte) {
		code, data, err := send(method, path, body)
		require.NoError(t, err)
		return code, data
	}

	code, body := do(http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, code, string(body))
	assert.Contains(t, string(body), `"leveldb":"ok"`)

	code, body = do(http.MethodPost, "/api/draws/1/tickets", map[string]any{
		"buyer":   buyer,
		"tickets": []string{"123456"},
		"funds":   []map[string]string{{"denom": "uusd", "amount": "100"}},
	})
	require.Equal(t, http.StatusCreated, code, string(body))

	require.Eventually(t, func() bool {
		code, _, err := send(http.MethodPost, "/api/draws/1/settle", nil)
		return err == nil && code == http.StatusAccepted
	}, 3*time.Second, 50*time.Millisecond)

	require.Eventually(t, func() bool {
		code, body, err := send(http.MethodGet, "/api/draws/1", nil)
		if err != nil || code != http.StatusOK {
			return false
		}
		var d domain.Draw
		return json.Unmarshal(body, &d) == nil && d.Status == domain.DrawClaimable
	}, 3*time.Second, 20*time.Millisecond)

	code, body = do(http.MethodGet, "/api/draws/current", nil)
	require.Equal(t, http.StatusOK, code)
	var current domain.Draw
	require.NoError(t, json.Unmarshal(body, &current))
	assert.Equal(t, uint64(2), current.ID)

	code, body = do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "drawsettle_http_requests_total")
}
