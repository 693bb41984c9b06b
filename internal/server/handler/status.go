package handler

import (
	"net/http"
	"time"
)

// StatusHandler reports how this process was started.
type StatusHandler struct {
	Mode      string
	Storage   string
	StartedAt time.Time
}

// GetStatus responds with the run mode, storage backend and uptime.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.Mode,
		"storage":        h.Storage,
		"started_at":     h.StartedAt.UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(h.StartedAt).Seconds()),
	})
}
