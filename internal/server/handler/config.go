package handler

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/alanyoungcy/drawsettle/internal/crypto"
	"github.com/alanyoungcy/drawsettle/internal/domain"
)

// ConfigHandler serves the lottery configuration. Updates are attributed to
// whoever signed them; the engine rejects anyone but the owner.
type ConfigHandler struct {
	engine    Engine
	validator domain.IdentityValidator
	signing   crypto.DeliveryDomain
	skew      time.Duration
	now       func() time.Time
	logger    *slog.Logger

	mu       sync.Mutex
	lastSeen map[domain.Identity]int64
}

// NewConfigHandler creates a ConfigHandler that accepts updates signed in
// the signing domain.
func NewConfigHandler(engine Engine, validator domain.IdentityValidator, signing crypto.DeliveryDomain, logger *slog.Logger) *ConfigHandler {
	return &ConfigHandler{
		engine:    engine,
		validator: validator,
		signing:   signing,
		skew:      5 * time.Minute,
		now:       time.Now,
		logger:    logger,
		lastSeen:  make(map[domain.Identity]int64),
	}
}

type configResponse struct {
	Owner              string                   `json:"owner"`
	Oracle             string                   `json:"oracle"`
	TicketPrice        coinJSON                 `json:"ticket_price"`
	Interval           string                   `json:"interval"`
	TreasuryFeePercent uint8                    `json:"treasury_fee_percent"`
	PercentagePerMatch [domain.MatchTiers]uint8 `json:"percentage_per_match"`
	MaxTicketsPerUser  uint32                   `json:"max_tickets_per_user"`
	RequestTimeout     string                   `json:"request_timeout"`
}

func toConfigResponse(c domain.Config) configResponse {
	return configResponse{
		Owner:              c.Owner.String(),
		Oracle:             c.Oracle.String(),
		TicketPrice:        toCoinJSON(c.TicketPrice),
		Interval:           c.Interval.String(),
		TreasuryFeePercent: c.TreasuryFeePercent,
		PercentagePerMatch: c.PercentagePerMatch,
		MaxTicketsPerUser:  c.MaxTicketsPerUser,
		RequestTimeout:     c.RequestTimeout.String(),
	}
}

// signedConfigUpdate is the PUT body. Signature covers the raw bytes of
// Update and SignedAt (unix seconds).
type signedConfigUpdate struct {
	Update    json.RawMessage `json:"update"`
	SignedAt  int64           `json:"signed_at"`
	Signature string          `json:"signature"`
}

// updateConfigRequest is the signed update. Absent fields stay unchanged.
type updateConfigRequest struct {
	Owner              *string                   `json:"owner,omitempty"`
	Oracle             *string                   `json:"oracle,omitempty"`
	TicketPrice        *coinJSON                 `json:"ticket_price,omitempty"`
	Interval           *string                   `json:"interval,omitempty"`
	TreasuryFeePercent *uint8                    `json:"treasury_fee_percent,omitempty"`
	PercentagePerMatch *[domain.MatchTiers]uint8 `json:"percentage_per_match,omitempty"`
	MaxTicketsPerUser  *uint32                   `json:"max_tickets_per_user,omitempty"`
	RequestTimeout     *string                   `json:"request_timeout,omitempty"`
}

func (req updateConfigRequest) update() (domain.ConfigUpdate, error) {
	upd := domain.ConfigUpdate{
		Owner:              req.Owner,
		Oracle:             req.Oracle,
		TreasuryFeePercent: req.TreasuryFeePercent,
		PercentagePerMatch: req.PercentagePerMatch,
		MaxTicketsPerUser:  req.MaxTicketsPerUser,
	}
	if req.TicketPrice != nil {
		c, err := req.TicketPrice.coin()
		if err != nil {
			return upd, err
		}
		upd.TicketPrice = &c
	}
	for _, f := range []struct {
		in  *string
		out **time.Duration
	}{{req.Interval, &upd.Interval}, {req.RequestTimeout, &upd.RequestTimeout}} {
		if f.in == nil {
			continue
		}
		d, err := time.ParseDuration(*f.in)
		if err != nil {
			return upd, err
		}
		*f.out = &d
	}
	return upd, nil
}

// GetConfig returns the current configuration.
// GET /api/config
func (h *ConfigHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.engine.GetConfig(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toConfigResponse(cfg))
}

// UpdateConfig applies an owner's changes.
// PUT /api/config
func (h *ConfigHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var body signedConfigUpdate
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(body.Update) == 0 {
		writeError(w, http.StatusBadRequest, "missing update")
		return
	}
	signedAt := time.Unix(body.SignedAt, 0)
	if d := h.now().Sub(signedAt); d > h.skew || d < -h.skew {
		writeError(w, http.StatusUnauthorized, "signed_at outside the accepted window")
		return
	}
	addr, err := h.signing.RecoverConfigUpdate(body.Update, body.SignedAt, body.Signature)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	sender, err := h.validator.Validate(addr.Hex())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "signer: "+err.Error())
		return
	}

	var req updateConfigRequest
	dec := json.NewDecoder(bytes.NewReader(body.Update))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid update: "+err.Error())
		return
	}
	upd, err := req.update()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// signed_at strictly increases per signer.
	h.mu.Lock()
	defer h.mu.Unlock()
	if body.SignedAt <= h.lastSeen[sender] {
		writeError(w, http.StatusUnauthorized, "signed_at already used")
		return
	}

	cfg, err := h.engine.UpdateConfig(r.Context(), sender, upd)
	if err != nil {
		code := statusFor(err)
		if code >= http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "handler: update config failed",
				slog.String("sender", sender.String()),
				slog.String("error", err.Error()),
			)
		}
		writeError(w, code, err.Error())
		return
	}
	h.lastSeen[sender] = body.SignedAt
	writeJSON(w, http.StatusOK, toConfigResponse(cfg))
}
