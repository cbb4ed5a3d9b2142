package hub

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ercoshn4-droid/vnc-server/internal/protocol"
)

// RegisterHTTPHandlers adds the out-of-band request/response surface to
// mux. These are the only endpoints that surface structured errors to
// the caller; the in-band routing path never does.
func RegisterHTTPHandlers(mux *http.ServeMux, h *Hub) {
	mux.HandleFunc("GET /{$}", statusHandler(h))
	mux.HandleFunc("POST /device/register", deviceRegisterHandler(h))
	mux.HandleFunc("GET /devices", devicesHandler(h))
	mux.HandleFunc("POST /command/{deviceId}", commandHandler(h))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// statusHandler handles GET /: a summary of hub state.
func statusHandler(h *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, protocol.StatusSummary{
			Status:         "running",
			ServerTime:     time.Now().UnixMilli(),
			Devices:        h.registry.Count(),
			ActiveSessions: h.sessions.Count(),
		})
	}
}

// deviceRegisterHandler handles POST /device/register. Registration via
// this path attaches no connection handle; it still triggers the same
// device_connected broadcast as an in-band declaration.
func deviceRegisterHandler(h *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req protocol.RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		attrs := DeviceAttrs{
			Name:           req.DeviceName,
			AndroidVersion: req.AndroidVersion,
			IPAddress:      req.IPAddress,
		}
		if err := h.RegisterDevice(req.DeviceID, attrs, ""); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, map[string]string{
			"status":    "registered",
			"device_id": req.DeviceID,
		})
	}
}

// devicesHandler handles GET /devices: the full registry snapshot in
// insertion order.
func devicesHandler(h *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		devices := h.registry.List()
		infos := make([]protocol.DeviceInfo, 0, len(devices))
		for _, d := range devices {
			infos = append(infos, d.Info())
		}
		writeJSON(w, infos)
	}
}

// commandHandler handles POST /command/{deviceId}. Fire-and-forget: the
// acknowledgment says the command was published, not that any device
// received it.
func commandHandler(h *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deviceID := r.PathValue("deviceId")
		var req protocol.CommandRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Command == "" {
			writeError(w, http.StatusBadRequest, "command is required")
			return
		}
		h.SendCommand(deviceID, req.Command, req.Payload, "")
		writeJSON(w, map[string]string{
			"status":    "sent",
			"device_id": deviceID,
		})
	}
}
