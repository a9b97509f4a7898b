package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/infinity-portal/fleet-core/internal/protocol"
)

// registerRequest is the body for POST /devices/register. Everything besides
// device_id is kept as registration metadata, mirroring the broker path.
type registerRequest map[string]any

// themeRequest is the body for theme push and broadcast.
type themeRequest struct {
	Theme string `json:"theme"`
}

// commandRequest is the body for POST /devices/{id}/command.
type commandRequest struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params"`
}

// handleListDevices returns every known device in registration order,
// together with fleet statistics.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.registry.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
		"stats":   s.registry.GetStats(),
	})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	device, ok := s.registry.Get(id)
	if !ok {
		writeNotFound(w, "device not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, device)
}

// handleRegisterDevice registers a device through the REST path. The broker
// register topic remains the primary route; this exists for devices behind
// networks where MQTT is blocked.
func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	id, _ := req["device_id"].(string)
	if id == "" {
		writeBadRequest(w, "device_id is required")
		return
	}
	delete(req, "device_id")

	device := s.registry.Register(id, req)
	writeJSON(w, http.StatusCreated, device)
}

// handleRecordStatus applies a status report through the REST path.
func (s *Server) handleRecordStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var status protocol.StatusPayload
	if err := json.NewDecoder(r.Body).Decode(&status); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	device, err := s.registry.RecordStatus(id, status)
	if err != nil {
		writeNotFound(w, "device not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, device)
}

// handlePushTheme pushes a theme to one device over the broker.
func (s *Server) handlePushTheme(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req themeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if !protocol.ValidTheme(req.Theme) {
		writeBadRequest(w, "invalid theme: "+req.Theme)
		return
	}
	if s.dispatcher == nil {
		writeInternalError(w, "dispatcher unavailable")
		return
	}

	if !s.dispatcher.PushTheme(id, req.Theme) {
		writeNotFound(w, "device not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"device":  id,
		"theme":   req.Theme,
	})
}

// handleBroadcastTheme pushes a theme to every online device.
func (s *Server) handleBroadcastTheme(w http.ResponseWriter, r *http.Request) {
	var req themeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if !protocol.ValidTheme(req.Theme) {
		writeBadRequest(w, "invalid theme: "+req.Theme)
		return
	}
	if s.dispatcher == nil {
		writeInternalError(w, "dispatcher unavailable")
		return
	}

	count := s.dispatcher.BroadcastTheme(req.Theme)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"theme":   req.Theme,
		"pushed":  count,
	})
}

// handleSendCommand sends an arbitrary command to one device.
func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Action == "" {
		writeBadRequest(w, "action is required")
		return
	}
	if s.dispatcher == nil {
		writeInternalError(w, "dispatcher unavailable")
		return
	}

	if !s.dispatcher.SendCommand(id, req.Action, req.Params) {
		writeNotFound(w, "device not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"device":  id,
		"action":  req.Action,
	})
}

// handleInfo reports hub statistics: registry counts, broker state, and the
// gateway message counter.
func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	info := map[string]any{
		"version": s.version,
		"stats":   s.registry.GetStats(),
	}
	if s.bus != nil {
		info["bus"] = map[string]any{
			"connected":     s.bus.Connected(),
			"message_count": s.bus.MessageCount(),
		}
	}
	if s.hub != nil {
		info["ws_clients"] = s.hub.ClientCount()
	}
	writeJSON(w, http.StatusOK, info)
}
