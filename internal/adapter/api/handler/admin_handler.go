package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/V4T54L/hb-acquire/internal/domain"
)

// deviceFailed is the device state reported once reconnects are exhausted.
const deviceFailed = "failed"

// StatusProvider returns the daemon's current status.
type StatusProvider interface {
	Snapshot() domain.Status
}

// AdminHandler serves health and status for operators and supervisors.
type AdminHandler struct {
	status StatusProvider
	logger *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(status StatusProvider, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{status: status, logger: logger}
}

// HealthCheck reports 200 while the upload worker runs and the device has not
// failed, 503 otherwise.
// GET /healthz
func (h *AdminHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	st := h.status.Snapshot()

	body := map[string]interface{}{
		"status":         "ok",
		"uploader_alive": st.UploaderAlive,
		"device_state":   st.DeviceState,
	}
	if !st.UploaderAlive || st.DeviceState == deviceFailed {
		body["status"] = "unhealthy"
		h.respondWithJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	h.respondWithJSON(w, http.StatusOK, body)
}

// Status returns the full status snapshot.
// GET /status
func (h *AdminHandler) Status(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, h.status.Snapshot())
}

func (h *AdminHandler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("failed to marshal JSON response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Internal Server Error"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
