package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/drawsettle/internal/domain"
	"github.com/alanyoungcy/drawsettle/internal/ledger"
)

// PayoutHandler exposes transfer reconciliation and ledger balances.
type PayoutHandler struct {
	engine    Engine
	balances  ledger.Balances
	validator domain.IdentityValidator
	logger    *slog.Logger
}

// NewPayoutHandler creates a PayoutHandler. balances may be nil when the
// ledger cannot report balances.
func NewPayoutHandler(engine Engine, balances ledger.Balances, validator domain.IdentityValidator, logger *slog.Logger) *PayoutHandler {
	return &PayoutHandler{engine: engine, balances: balances, validator: validator, logger: logger}
}

// ListUnpaid returns claim and treasury records without a confirmed
// transfer.
// GET /api/payouts/unpaid
func (h *PayoutHandler) ListUnpaid(w http.ResponseWriter, r *http.Request) {
	unpaid, err := h.engine.UnpaidTransfers(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list unpaid failed", slog.String("error", err.Error()))
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, unpaid)
}

// RetryTreasury re-sends a draw's treasury fee.
// POST /api/payouts/treasury/{id}/retry
func (h *PayoutHandler) RetryTreasury(w http.ResponseWriter, r *http.Request) {
	id, err := drawID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.engine.RetryTreasuryPayout(r.Context(), id); err != nil {
		code := statusFor(err)
		if code >= http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "handler: retry treasury failed",
				slog.Uint64("draw_id", id),
				slog.String("error", err.Error()),
			)
		}
		writeError(w, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"draw_id": id, "status": "paid"})
}

// GetBalance returns what the ledger has paid an address in one denom.
// GET /api/balances/{addr}?denom=
func (h *PayoutHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	if h.balances == nil {
		writeError(w, http.StatusNotImplemented, "ledger does not report balances")
		return
	}
	who, err := h.validator.Validate(r.PathValue("addr"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	denom := r.URL.Query().Get("denom")
	if denom == "" {
		cfg, err := h.engine.GetConfig(r.Context())
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		denom = cfg.TicketPrice.Denom
	}
	bal, err := h.balances.Balance(r.Context(), who, denom)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: balance failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read balance")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"address": who, "balance": toCoinJSON(bal)})
}
