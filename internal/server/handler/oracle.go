package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/drawsettle/internal/crypto"
	"github.com/alanyoungcy/drawsettle/internal/oracle"
)

// OracleHandler receives randomness deliveries from the oracle proxy.
type OracleHandler struct {
	engine   Engine
	verifier *oracle.Verifier
	auth     *crypto.HMACAuth
	skew     time.Duration
	logger   *slog.Logger
}

// NewOracleHandler creates an OracleHandler. When auth is non-nil every
// callback must also carry a valid HMAC from the proxy.
func NewOracleHandler(engine Engine, verifier *oracle.Verifier, auth *crypto.HMACAuth, logger *slog.Logger) *OracleHandler {
	return &OracleHandler{
		engine:   engine,
		verifier: verifier,
		auth:     auth,
		skew:     5 * time.Minute,
		logger:   logger,
	}
}

// Callback verifies and applies a delivery. The sender is whoever signed
// it; the engine rejects anyone but the configured oracle.
// POST /api/oracle/callback
func (h *OracleHandler) Callback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	if h.auth != nil {
		err := h.auth.Verify(r.Method, r.URL.Path, string(body),
			r.Header.Get(crypto.HeaderTimestamp), r.Header.Get(crypto.HeaderSignature), time.Now(), h.skew)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
	}

	var d oracle.Delivery
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&d); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	draw, err := h.verifier.Deliver(r.Context(), h.engine, d)
	if err != nil {
		code := statusFor(err)
		if errors.Is(err, oracle.ErrMalformedDelivery) {
			code = http.StatusBadRequest
		}
		h.logger.WarnContext(r.Context(), "handler: oracle delivery rejected",
			slog.String("job_id", d.JobID),
			slog.Int("status", code),
			slog.String("error", err.Error()),
		)
		writeError(w, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, draw)
}
