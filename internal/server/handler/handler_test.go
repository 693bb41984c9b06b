package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/drawsettle/internal/crypto"
	"github.com/alanyoungcy/drawsettle/internal/domain"
	"github.com/alanyoungcy/drawsettle/internal/ledger"
	"github.com/alanyoungcy/drawsettle/internal/lottery"
	"github.com/alanyoungcy/drawsettle/internal/lottery/lotterytest"
	"github.com/alanyoungcy/drawsettle/internal/oracle"
	"github.com/alanyoungcy/drawsettle/internal/store/leveldb"
)

const (
	oracleKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	ownerKeyHex  = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
)

type testAPI struct {
	mux    *http.ServeMux
	engine *lottery.Engine
	oracle *lotterytest.Oracle
	ledger *ledger.Memory
	signer *crypto.Signer
	owner  *crypto.Signer

	mu  sync.Mutex
	now time.Time
}

func (a *testAPI) clock() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.now
}

func (a *testAPI) advance(d time.Duration) {
	a.mu.Lock()
	a.now = a.now.Add(d)
	a.mu.Unlock()
}

var (
	alice = lotterytest.Addr(2)
	bob   = lotterytest.Addr(3)
)

func newTestAPI(t *testing.T, hmac *crypto.HMACAuth) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	store, err := leveldb.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	pk, err := crypto.ParseKey(oracleKeyHex)
	require.NoError(t, err)
	ownerPK, err := crypto.ParseKey(ownerKeyHex)
	require.NoError(t, err)

	a := &testAPI{
		oracle: &lotterytest.Oracle{},
		ledger: ledger.NewMemory(logger),
		signer: crypto.NewSigner(pk, 1),
		owner:  crypto.NewSigner(ownerPK, 1),
		now:    time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	v := lotterytest.Validator{}
	a.engine = lottery.New(store, a.ledger, a.oracle, v, logger, lottery.WithClock(a.clock))

	mux := http.NewServeMux()
	cfg := NewConfigHandler(a.engine, v, crypto.NewDeliveryDomain(1), logger)
	draws := NewDrawHandler(a.engine, v, logger)
	payouts := NewPayoutHandler(a.engine, a.ledger, v, logger)
	cb := NewOracleHandler(a.engine, oracle.NewVerifier(1), hmac, logger)
	mux.HandleFunc("GET /api/config", cfg.GetConfig)
	mux.HandleFunc("PUT /api/config", cfg.UpdateConfig)
	mux.HandleFunc("GET /api/draws", draws.ListDraws)
	mux.HandleFunc("GET /api/draws/current", draws.GetCurrentDraw)
	mux.HandleFunc("GET /api/draws/{id}", draws.GetDraw)
	mux.HandleFunc("POST /api/draws/{id}/tickets", draws.BuyTickets)
	mux.HandleFunc("GET /api/draws/{id}/tickets/{addr}", draws.GetTickets)
	mux.HandleFunc("GET /api/draws/{id}/winners/{addr}", draws.CheckWinner)
	mux.HandleFunc("POST /api/draws/{id}/settle", draws.RequestSettlement)
	mux.HandleFunc("POST /api/draws/{id}/claim", draws.Claim)
	mux.HandleFunc("POST /api/oracle/callback", cb.Callback)
	mux.HandleFunc("GET /api/payouts/unpaid", payouts.ListUnpaid)
	mux.HandleFunc("POST /api/payouts/treasury/{id}/retry", payouts.RetryTreasury)
	mux.HandleFunc("GET /api/balances/{addr}", payouts.GetBalance)
	a.mux = mux
	return a
}

func (a *testAPI) instantiate(t *testing.T) {
	t.Helper()
	owner := domain.Identity(a.owner.Address().Hex())
	_, err := a.engine.Instantiate(context.Background(), owner, domain.InstantiateParams{
		Oracle:             a.signer.Address().Hex(),
		TicketPrice:        domain.NewCoin(100, "uusd"),
		Interval:           time.Hour,
		TreasuryFeePercent: 10,
		PercentagePerMatch: [domain.MatchTiers]uint8{5, 5, 10, 15, 25, 40},
		MaxTicketsPerUser:  5,
		RequestTimeout:     time.Minute,
	})
	require.NoError(t, err)
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	a.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func buy(buyer domain.Identity, tickets ...string) map[string]any {
	return map[string]any{
		"buyer":   buyer,
		"tickets": tickets,
		"funds":   []coinJSON{{Denom: "uusd", Amount: "100"}},
	}
}

func TestConfigEndpoints(t *testing.T) {
	a := newTestAPI(t, nil)

	rec := a.do(t, http.MethodGet, "/api/config", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	a.instantiate(t)
	rec = a.do(t, http.MethodGet, "/api/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cfg := decode[configResponse](t, rec)
	assert.Equal(t, "1h0m0s", cfg.Interval)
	assert.Equal(t, coinJSON{Denom: "uusd", Amount: "100"}, cfg.TicketPrice)

	now := time.Now()
	put := func(body any) *httptest.ResponseRecorder {
		return a.do(t, http.MethodPut, "/api/config", body)
	}

	// A signed body is required; a claimed sender is not accepted.
	rec = put(map[string]any{"sender": a.owner.Address().Hex(), "max_tickets_per_user": 9})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = put(signedUpdate(t, a.signer, `{"max_tickets_per_user":9}`, now))
	assert.Equal(t, http.StatusForbidden, rec.Code, "signed by someone other than the owner")

	rec = put(signedUpdate(t, a.owner, `{"interval":"soon"}`, now))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = put(signedUpdate(t, a.owner, `{"treasury_fee_percent":101}`, now))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = put(signedUpdate(t, a.owner, `{"max_tickets_per_user":9}`, now.Add(-10*time.Minute)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "stale signature")

	body := signedUpdate(t, a.owner, `{"max_tickets_per_user":9}`, now)
	body["signature"] = "0x"
	rec = put(body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Changing the body after signing attributes it to another signer.
	body = signedUpdate(t, a.owner, `{"max_tickets_per_user":9}`, now)
	body["update"] = json.RawMessage(`{"max_tickets_per_user":1}`)
	rec = put(body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	body = signedUpdate(t, a.owner, `{"max_tickets_per_user":9,"interval":"30m"}`, now)
	rec = put(body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cfg = decode[configResponse](t, rec)
	assert.Equal(t, uint32(9), cfg.MaxTicketsPerUser)
	assert.Equal(t, "30m0s", cfg.Interval)

	rec = put(body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "replayed update")

	rec = put(signedUpdate(t, a.owner, `{"max_tickets_per_user":3}`, now.Add(time.Second)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, uint32(3), decode[configResponse](t, rec).MaxTicketsPerUser)
}

// signedUpdate builds a PUT /api/config body for update signed by s at at.
// update must be compact JSON so it survives re-encoding byte for byte.
func signedUpdate(t *testing.T, s *crypto.Signer, update string, at time.Time) map[string]any {
	t.Helper()
	sig, err := s.SignConfigUpdate([]byte(update), at.Unix())
	require.NoError(t, err)
	return map[string]any{
		"update":    json.RawMessage(update),
		"signed_at": at.Unix(),
		"signature": sig,
	}
}

func TestBuyAndQueryTickets(t *testing.T) {
	a := newTestAPI(t, nil)
	a.instantiate(t)

	rec := a.do(t, http.MethodPost, "/api/draws/1/tickets", buy(alice, "123456"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	d := decode[domain.Draw](t, rec)
	assert.Equal(t, uint64(1), d.TotalTickets)
	assert.Equal(t, "100", d.Pot.Dec())

	cases := []struct {
		name string
		path string
		body any
		code int
	}{
		{"bad draw id", "/api/draws/x/tickets", buy(alice, "111111"), http.StatusBadRequest},
		{"zero draw id", "/api/draws/0/tickets", buy(alice, "111111"), http.StatusBadRequest},
		{"unknown draw", "/api/draws/7/tickets", buy(alice, "111111"), http.StatusNotFound},
		{"bad ticket", "/api/draws/1/tickets", buy(alice, "12a456"), http.StatusBadRequest},
		{"no buyer", "/api/draws/1/tickets", buy("", "111111"), http.StatusBadRequest},
		{"unknown field", "/api/draws/1/tickets", `{"buyer":"x","tickets":["111111"],"tip":1}`, http.StatusBadRequest},
		{"wrong denom", "/api/draws/1/tickets", map[string]any{
			"buyer": alice, "tickets": []string{"111111"},
			"funds": []coinJSON{{Denom: "uatom", Amount: "100"}},
		}, http.StatusBadRequest},
		{"bad amount", "/api/draws/1/tickets", map[string]any{
			"buyer": alice, "tickets": []string{"111111"},
			"funds": []coinJSON{{Denom: "uusd", Amount: "-1"}},
		}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := a.do(t, http.MethodPost, tc.path, tc.body)
			assert.Equal(t, tc.code, rec.Code, rec.Body.String())
		})
	}

	rec = a.do(t, http.MethodGet, "/api/draws/1/tickets/"+string(alice), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"tickets":["123456"]}`, rec.Body.String())

	rec = a.do(t, http.MethodGet, "/api/draws/1/tickets/"+string(bob), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"tickets":[]}`, rec.Body.String())

	rec = a.do(t, http.MethodGet, "/api/draws/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint64(1), decode[domain.Draw](t, rec).ID)

	rec = a.do(t, http.MethodGet, "/api/draws?limit=10&since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = a.do(t, http.MethodGet, "/api/draws?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string][]domain.Draw](t, rec)["draws"], 1)
}

func TestSettleDeliverAndClaim(t *testing.T) {
	a := newTestAPI(t, nil)
	a.instantiate(t)

	seed := bytes.Repeat([]byte{0x42}, 32)
	winning, err := lottery.WinningNumber(seed)
	require.NoError(t, err)
	loser := []byte(winning)
	for i := range loser {
		loser[i] = '0' + (loser[i]-'0'+1)%10
	}

	rec := a.do(t, http.MethodPost, "/api/draws/1/tickets", buy(alice, winning))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = a.do(t, http.MethodPost, "/api/draws/1/tickets", buy(bob, string(loser)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodPost, "/api/draws/1/settle", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	a.advance(2 * time.Hour)
	rec = a.do(t, http.MethodPost, "/api/draws/1/settle", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, domain.DrawPending, decode[domain.Draw](t, rec).Status)
	require.Len(t, a.oracle.Calls(), 1)

	// A stranger's signature is attributed to the stranger and refused.
	strangerKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	forged, err := oracle.Seal(crypto.NewSigner(strangerKey, 1), lottery.JobID(1), seed)
	require.NoError(t, err)
	rec = a.do(t, http.MethodPost, "/api/oracle/callback", forged)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/oracle/callback", oracle.Delivery{JobID: "1", Seed: "0xzz", Signature: "0x00"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	d, err := oracle.Seal(a.signer, lottery.JobID(1), seed)
	require.NoError(t, err)
	rec = a.do(t, http.MethodPost, "/api/oracle/callback", d)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	settled := decode[domain.Draw](t, rec)
	assert.Equal(t, domain.DrawClaimable, settled.Status)
	require.NotNil(t, settled.WinningNumber)
	assert.Equal(t, winning, *settled.WinningNumber)

	rec = a.do(t, http.MethodPost, "/api/oracle/callback", d)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/draws/1/winners/"+string(alice), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	results := decode[map[string][]domain.TicketResult](t, rec)["results"]
	require.Len(t, results, 1)
	assert.Equal(t, uint8(domain.TicketDigits), results[0].Matches)

	rec = a.do(t, http.MethodPost, "/api/draws/1/claim", map[string]any{"buyer": bob})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/draws/1/claim", map[string]any{"buyer": alice})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = a.do(t, http.MethodPost, "/api/draws/1/claim", map[string]any{"buyer": alice})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/balances/"+string(alice), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEqual(t, "0", decode[map[string]coinJSON](t, rec)["balance"].Amount)
}

func TestOracleCallbackHMAC(t *testing.T) {
	auth := &crypto.HMACAuth{Key: "proxy", Secret: "s3cret"}
	a := newTestAPI(t, auth)
	a.instantiate(t)

	body := `{"job_id":"1","seed":"0x00","signature":"0x00"}`
	rec := a.do(t, http.MethodPost, "/api/oracle/callback", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/oracle/callback", bytes.NewBufferString(body))
	for k, v := range auth.Headers(http.MethodPost, "/api/oracle/callback", body) {
		req.Header.Set(k, v)
	}
	rec = httptest.NewRecorder()
	a.mux.ServeHTTP(rec, req)
	// Authenticated, but the signature itself is garbage.
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPayoutEndpoints(t *testing.T) {
	a := newTestAPI(t, nil)
	a.instantiate(t)

	rec := a.do(t, http.MethodGet, "/api/payouts/unpaid", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[domain.UnpaidTransfers](t, rec).Treasury)

	rec = a.do(t, http.MethodPost, "/api/payouts/treasury/1/retry", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/balances/"+string(bob)+"?denom=uatom", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, coinJSON{Denom: "uatom", Amount: "0"}, decode[map[string]coinJSON](t, rec)["balance"])

	h := NewPayoutHandler(a.engine, nil, lotterytest.Validator{}, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/balances/x", nil)
	req.SetPathValue("addr", "x")
	h.GetBalance(rec, req)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestHealthCheck(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	rec := httptest.NewRecorder()
	NewHealthHandler(map[string]Pinger{"store": pinger{}}, logger).
		HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = httptest.NewRecorder()
	NewHealthHandler(map[string]Pinger{"store": pinger{}, "redis": pinger{errors.New("dial tcp: refused")}}, logger).
		HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redis":"dial tcp: refused"`)
}

func TestStatusFor(t *testing.T) {
	transfer := fmt.Errorf("pay treasury: %w", domain.ErrTransferFailed)
	cases := map[error]int{
		domain.ErrUnauthorized:       http.StatusForbidden,
		domain.ErrDrawNotFound:       http.StatusNotFound,
		domain.ErrMaxTicketsExceeded: http.StatusBadRequest,
		domain.ErrAlreadyClaimed:     http.StatusConflict,
		domain.ErrNoPrizeToClaim:     http.StatusUnprocessableEntity,
		transfer:                     http.StatusBadGateway,
		domain.ErrLockHeld:           http.StatusServiceUnavailable,
		errors.New("disk on fire"):   http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, statusFor(err), err.Error())
	}
}
