package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/drawsettle/internal/domain"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// writeJSON marshals v as JSON and writes it with the given status. If
// marshaling fails it falls back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSON reads a bounded JSON body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// drawID parses the {id} path value.
func drawID(r *http.Request) (uint64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid draw id %q", raw)
	}
	return id, nil
}

// parseListOpts extracts pagination and time filters from the query string.
// Defaults: limit=50 (max 500), offset=0. since/until are RFC 3339.
func parseListOpts(r *http.Request) (domain.ListOpts, error) {
	q := r.URL.Query()
	opts := domain.ListOpts{Limit: 50}

	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			opts.Limit = min(n, 500)
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			opts.Offset = n
		}
	}
	for _, f := range []struct {
		name string
		dst  **time.Time
	}{{"since", &opts.Since}, {"until", &opts.Until}} {
		v := q.Get(f.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return opts, fmt.Errorf("invalid %s: %w", f.name, err)
		}
		*f.dst = &t
	}
	return opts, nil
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrDrawNotFound), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTicket),
		errors.Is(err, domain.ErrMaxTicketsExceeded),
		errors.Is(err, domain.ErrWrongDenomination),
		errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrInvalidAddress),
		errors.Is(err, domain.ErrInvalidConfig),
		errors.Is(err, domain.ErrInvalidRandomness):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrDrawNotOpen),
		errors.Is(err, domain.ErrDrawStillOpen),
		errors.Is(err, domain.ErrDrawNotPending),
		errors.Is(err, domain.ErrDrawNotClaimable),
		errors.Is(err, domain.ErrAlreadyClaimed),
		errors.Is(err, domain.ErrRandomnessAlreadyRequested),
		errors.Is(err, domain.ErrAlreadyInstantiated):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNoPrizeToClaim), errors.Is(err, domain.ErrNoTicketsFound):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrTransferFailed):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrNotInstantiated), errors.Is(err, domain.ErrLockHeld):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// coinJSON is the API shape of a coin.
type coinJSON struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

func (c coinJSON) coin() (domain.Coin, error) {
	if c.Denom == "" {
		return domain.Coin{}, fmt.Errorf("coin denom is required: %w", domain.ErrInvalidConfig)
	}
	return domain.ParseCoin(c.Amount, c.Denom)
}

func toCoinJSON(c domain.Coin) coinJSON {
	amount := "0"
	if c.Amount != nil {
		amount = c.Amount.Dec()
	}
	return coinJSON{Denom: c.Denom, Amount: amount}
}

func parseFunds(in []coinJSON) (domain.Funds, error) {
	out := make(domain.Funds, 0, len(in))
	for _, c := range in {
		coin, err := c.coin()
		if err != nil {
			return nil, fmt.Errorf("funds: %w", err)
		}
		out = append(out, coin)
	}
	return out, nil
}
