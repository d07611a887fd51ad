package server

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

type handlers struct {
	opts    Options
	started time.Time
	logger  *zap.Logger
}

type healthResponse struct {
	Status string    `json:"status"`
	Mode   string    `json:"mode,omitempty"`
	Time   time.Time `json:"time"`
}

type statusResponse struct {
	Mode      string         `json:"mode,omitempty"`
	Uptime    string         `json:"uptime"`
	Workers   map[string]any `json:"workers"`
	WebSocket any            `json:"websocket,omitempty"`
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Mode: h.opts.Mode, Time: time.Now().UTC()})
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Mode:    h.opts.Mode,
		Uptime:  time.Since(h.started).Round(time.Second).String(),
		Workers: make(map[string]any, len(h.opts.Workers)),
	}
	for name, fn := range h.opts.Workers {
		resp.Workers[name] = fn()
	}
	if h.opts.Hub != nil {
		resp.WebSocket = h.opts.Hub.Stats()
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}
