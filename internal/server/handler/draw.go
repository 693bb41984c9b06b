package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/drawsettle/internal/domain"
)

// DrawHandler serves draw, ticket and claim endpoints.
type DrawHandler struct {
	engine    Engine
	validator domain.IdentityValidator
	logger    *slog.Logger
}

// NewDrawHandler creates a DrawHandler.
func NewDrawHandler(engine Engine, validator domain.IdentityValidator, logger *slog.Logger) *DrawHandler {
	return &DrawHandler{engine: engine, validator: validator, logger: logger}
}

// fail writes err with its mapped status. Server-side failures are logged.
func (h *DrawHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	writeError(w, code, err.Error())
}

// ListDraws returns draws newest first.
// GET /api/draws?limit=&offset=&since=&until=
func (h *DrawHandler) ListDraws(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	draws, err := h.engine.ListDraws(r.Context(), opts)
	if err != nil {
		h.fail(w, r, "list draws", err)
		return
	}
	if draws == nil {
		draws = []domain.Draw{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"draws": draws})
}

// GetCurrentDraw returns the newest draw.
// GET /api/draws/current
func (h *DrawHandler) GetCurrentDraw(w http.ResponseWriter, r *http.Request) {
	d, err := h.engine.GetCurrentDraw(r.Context())
	if err != nil {
		h.fail(w, r, "get current draw", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// GetDraw returns one draw.
// GET /api/draws/{id}
func (h *DrawHandler) GetDraw(w http.ResponseWriter, r *http.Request) {
	id, err := drawID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	d, err := h.engine.GetDraw(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get draw", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type buyRequest struct {
	Buyer   string     `json:"buyer"`
	Tickets []string   `json:"tickets"`
	Funds   []coinJSON `json:"funds"`
}

// BuyTickets adds tickets to an open draw.
// POST /api/draws/{id}/tickets
func (h *DrawHandler) BuyTickets(w http.ResponseWriter, r *http.Request) {
	id, err := drawID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req buyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	buyer, err := h.validator.Validate(req.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, "buyer: "+err.Error())
		return
	}
	funds, err := parseFunds(req.Funds)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	d, err := h.engine.BuyTickets(r.Context(), id, buyer, req.Tickets, funds)
	if err != nil {
		h.fail(w, r, "buy tickets", err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// GetTickets lists a buyer's tickets in a draw.
// GET /api/draws/{id}/tickets/{addr}
func (h *DrawHandler) GetTickets(w http.ResponseWriter, r *http.Request) {
	id, err := drawID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tickets, err := h.engine.GetTickets(r.Context(), id, r.PathValue("addr"))
	if err != nil {
		h.fail(w, r, "get tickets", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tickets": tickets})
}

// CheckWinner reports per-ticket matches for a buyer.
// GET /api/draws/{id}/winners/{addr}
func (h *DrawHandler) CheckWinner(w http.ResponseWriter, r *http.Request) {
	id, err := drawID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	results, err := h.engine.CheckWinner(r.Context(), id, r.PathValue("addr"))
	if err != nil {
		h.fail(w, r, "check winner", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

type settleRequest struct {
	Fee []coinJSON `json:"fee"`
}

// RequestSettlement closes an expired draw and requests randomness. The
// body is optional.
// POST /api/draws/{id}/settle
func (h *DrawHandler) RequestSettlement(w http.ResponseWriter, r *http.Request) {
	id, err := drawID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req settleRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	fee, err := parseFunds(req.Fee)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	d, err := h.engine.RequestSettlement(r.Context(), id, fee)
	if err != nil {
		h.fail(w, r, "request settlement", err)
		return
	}
	writeJSON(w, http.StatusAccepted, d)
}

type claimRequest struct {
	Buyer string `json:"buyer"`
}

// Claim pays out a buyer's winnings once.
// POST /api/draws/{id}/claim
func (h *DrawHandler) Claim(w http.ResponseWriter, r *http.Request) {
	id, err := drawID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req claimRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	buyer, err := h.validator.Validate(req.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, "buyer: "+err.Error())
		return
	}

	amount, err := h.engine.Claim(r.Context(), id, buyer)
	if err != nil {
		h.fail(w, r, "claim", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"draw_id": id,
		"buyer":   buyer,
		"amount":  toCoinJSON(amount),
	})
}
