package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mastalir1980/ha-2N-intercom/internal/engine"
	"github.com/mastalir1980/ha-2N-intercom/internal/history"
	"github.com/mastalir1980/ha-2N-intercom/internal/intercom"
)

// deviceResponse is the API representation of one configured device.
type deviceResponse struct {
	ID        string                  `json:"id"`
	Name      string                  `json:"name"`
	Health    engine.ConnectionHealth `json:"health"`
	Call      *intercom.CallSnapshot  `json:"call,omitempty"`
	Relays    []relayResponse         `json:"relays"`
	StreamURL string                  `json:"stream_url,omitempty"`
}

// relayResponse is the API representation of one relay output.
type relayResponse struct {
	Index    int               `json:"index"`
	Name     string            `json:"name"`
	Kind     string            `json:"kind"`
	State    engine.RelayState `json:"state"`
	Duration int               `json:"duration_ms"`
}

// commandRequest is the request body for POST /devices/{id}/relays/{index}/command.
type commandRequest struct {
	Command string `json:"command"`
}

// handleListDevices returns all configured devices with their live state.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.manager.Devices()
	out := make([]deviceResponse, 0, len(devices))
	for i := range devices {
		resp, err := s.deviceResponse(devices[i].ID)
		if err != nil {
			continue // device removed between listing and lookup
		}
		out = append(out, resp)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": out,
		"count":   len(out),
	})
}

// handleGetDevice returns one device with its live state.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	resp, err := s.deviceResponse(chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDeviceHealth returns the connection health of one device.
func (s *Server) handleDeviceHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.manager.Health(chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, health)
}

// handleListRelays returns the relay outputs of one device.
func (s *Server) handleListRelays(w http.ResponseWriter, r *http.Request) {
	eng, err := s.manager.Engine(chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"relays": relayResponses(eng),
	})
}

// handleRelayCommand dispatches an actuation command to a relay.
//
// Accepted commands are "activate" for doors and "open", "close", "stop"
// for gates. A busy relay returns 409; an unavailable device returns 503
// without touching hardware.
func (s *Server) handleRelayCommand(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeBadRequest(w, "relay index must be a number")
		return
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Command == "" {
		writeBadRequest(w, "command is required")
		return
	}

	if err := s.manager.Actuate(r.Context(), deviceID, index, engine.Command(req.Command)); err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"device_id": deviceID,
		"relay":     index,
		"command":   req.Command,
	})
}

// handleGetRelay returns one relay output of one device.
func (s *Server) handleGetRelay(w http.ResponseWriter, r *http.Request) {
	eng, err := s.manager.Engine(chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeBadRequest(w, "relay index must be a number")
		return
	}

	for _, relay := range relayResponses(eng) {
		if relay.Index == index {
			writeJSON(w, http.StatusOK, relay)
			return
		}
	}
	writeEngineError(w, fmt.Errorf("%w: relay %d", engine.ErrUnknownRelay, index))
}

// handleDeviceInfo proxies the device identity endpoint.
func (s *Server) handleDeviceInfo(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")
	fetcher, ok := s.snapshots[deviceID]
	if !ok {
		writeNotFound(w, "unknown device: "+deviceID)
		return
	}

	info, err := fetcher.GetSystemInfo(r.Context())
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleListRings returns recorded ring events, newest first.
//
// The device is taken from the path when mounted under /devices/{id},
// from the device_id query parameter otherwise. Other query parameters:
// since (RFC3339), limit, offset.
func (s *Server) handleListRings(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "ring history is not enabled")
		return
	}

	deviceID := chi.URLParam(r, "id")
	if deviceID == "" {
		deviceID = r.URL.Query().Get("device_id")
	}
	filter := history.Filter{
		DeviceID: deviceID,
	}
	if since := r.URL.Query().Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeBadRequest(w, "since must be an RFC3339 timestamp")
			return
		}
		filter.Since = t
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative number")
			return
		}
		filter.Limit = n
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		n, err := strconv.Atoi(offset)
		if err != nil || n < 0 {
			writeBadRequest(w, "offset must be a non-negative number")
			return
		}
		filter.Offset = n
	}

	result, err := s.history.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("ring history query failed", "error", err)
		writeInternalError(w, "ring history query failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleSnapshot proxies a camera snapshot from the device.
//
// Query parameters: width, height (pixels, optional).
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")
	fetcher, ok := s.snapshots[deviceID]
	if !ok {
		writeNotFound(w, "unknown device: "+deviceID)
		return
	}

	width, err := dimensionParam(r, "width")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	height, err := dimensionParam(r, "height")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	data, err := fetcher.GetSnapshot(r.Context(), width, height)
	if err != nil {
		writeDeviceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // Best-effort write; connection may be closed
	w.Write(data)
}

// dimensionParam parses an optional positive integer query parameter.
func dimensionParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New(name + " must be a positive number")
	}
	return n, nil
}

// deviceResponse assembles the API view of one device.
func (s *Server) deviceResponse(deviceID string) (deviceResponse, error) {
	eng, err := s.manager.Engine(deviceID)
	if err != nil {
		return deviceResponse{}, err
	}

	cfg := eng.Config()
	resp := deviceResponse{
		ID:     cfg.ID,
		Name:   cfg.Name,
		Health: eng.Health(),
		Relays: relayResponses(eng),
	}
	if snap, ok := eng.Snapshot(); ok {
		resp.Call = &snap
	}
	if fetcher, ok := s.snapshots[deviceID]; ok {
		resp.StreamURL = fetcher.RTSPURL()
	}
	return resp, nil
}

// relayResponses maps an engine's relay configs and states to API form.
func relayResponses(eng *engine.Engine) []relayResponse {
	cfg := eng.Config()
	states := eng.RelayStates()

	out := make([]relayResponse, 0, len(cfg.Relays))
	for _, relay := range cfg.Relays {
		out = append(out, relayResponse{
			Index:    relay.Index,
			Name:     relay.Name,
			Kind:     relay.Kind,
			State:    states[relay.Index],
			Duration: relay.Duration,
		})
	}
	return out
}
