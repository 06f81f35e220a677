package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/yok-tottii/delayloop/internal/audio"
	"github.com/yok-tottii/delayloop/internal/config"
	"github.com/yok-tottii/delayloop/internal/device"
	"github.com/yok-tottii/delayloop/internal/session"
)

// StatusSource reports the running session
type StatusSource interface {
	Status() session.Status
}

// Handler manages the read-only status endpoints
type Handler struct {
	config  *config.Config
	status  StatusSource
	devices device.Enumerator
}

// New creates a new API handler. devices may be nil, in which case
// /api/devices answers 503.
func New(cfg *config.Config, status StatusSource, devices device.Enumerator) *Handler {
	return &Handler{
		config:  cfg,
		status:  status,
		devices: devices,
	}
}

// RegisterRoutes registers all API routes on the given mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/status", h.handleStatus)
	mux.HandleFunc("/api/settings", h.handleSettings)
	mux.HandleFunc("/api/devices", h.handleDevices)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// handleStatus handles GET /api/status
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, h.status.Status())
}

// handleSettings handles GET /api/settings. Settings are fixed once the
// session has started, so there is no PUT.
func (h *Handler) handleSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, struct {
		*config.Config
		Prefill int `json:"prefill"`
	}{h.config, h.config.Prefill()})
}

// DeviceInfo is the JSON form of a device
type DeviceInfo struct {
	Index             int     `json:"index"`
	Name              string  `json:"name"`
	MaxInputChannels  int     `json:"max_input_channels"`
	MaxOutputChannels int     `json:"max_output_channels"`
	DefaultSampleRate float64 `json:"default_sample_rate"`
}

// handleDevices handles GET /api/devices[?direction=input|output]
func (h *Handler) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.devices == nil {
		http.Error(w, "Audio driver not available", http.StatusServiceUnavailable)
		return
	}

	devices, err := h.devices.Devices(h.config.HostAPI)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to list devices: %v", err), http.StatusInternalServerError)
		return
	}

	switch dir := r.URL.Query().Get("direction"); dir {
	case "":
	case "input":
		devices = device.Relevant(devices, audio.Input)
	case "output":
		devices = device.Relevant(devices, audio.Output)
	default:
		http.Error(w, fmt.Sprintf("Invalid direction: %q", dir), http.StatusBadRequest)
		return
	}

	result := make([]DeviceInfo, 0, len(devices))
	for _, dev := range devices {
		result = append(result, DeviceInfo{
			Index:             dev.Index,
			Name:              dev.Name,
			MaxInputChannels:  dev.MaxInputChannels,
			MaxOutputChannels: dev.MaxOutputChannels,
			DefaultSampleRate: dev.DefaultSampleRate,
		})
	}

	writeJSON(w, map[string]any{
		"host_api": h.config.HostAPI,
		"devices":  result,
	})
}
