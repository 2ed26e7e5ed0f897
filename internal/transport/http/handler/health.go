package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// HealthHandler handles health-check endpoints.
type HealthHandler struct {
	env string
	now func() time.Time
}

func NewHealthHandler(env string) *HealthHandler {
	return &HealthHandler{env: env, now: time.Now}
}

// Health reports liveness with the running environment name.
func (h *HealthHandler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Success     bool   `json:"success"`
		Message     string `json:"message"`
		Timestamp   string `json:"timestamp"`
		Environment string `json:"environment"`
	}{true, "Kustom API is running", h.now().UTC().Format(time.RFC3339), h.env})
}

func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	if chi.URLParam(r, "action") == "ping" {
		writeOK(w, http.StatusOK, "pong", nil)
		return
	}
	writeError(w, http.StatusBadRequest, "bad_request", "unknown action")
}
