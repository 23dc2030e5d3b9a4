package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	vc "github.com/LeonardoBeccarini/irrigation_node/internal/services/valve-controller"
)

// SetClockRequest is the body of POST /clock.
type SetClockRequest struct {
	Value string `json:"value"` // DD/MM/YYYY HH:MM
}

// ClockResponse answers both clock routes.
type ClockResponse struct {
	Success bool   `json:"success"`
	Clock   string `json:"clock,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// GET /status
func (g *Gateway) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, g.admin.Snapshot())
}

// POST /clock {"value":"02/12/2025 06:55"}
func (g *Gateway) HandleSetClock(w http.ResponseWriter, r *http.Request) {
	var req SetClockRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ClockResponse{Error: "invalid JSON body"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), g.cfg.Timeout)
	defer cancel()

	now, err := g.admin.SetClock(ctx, req.Value)
	if err != nil {
		writeJSON(w, statusFor(err), ClockResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ClockResponse{Success: true, Clock: now.Format(time.RFC3339)})
}

// POST /clock/sync
func (g *Gateway) HandleSyncClock(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), g.cfg.Timeout)
	defer cancel()

	ok, err := g.admin.SyncClock(ctx)
	if err != nil {
		writeJSON(w, statusFor(err), ClockResponse{Error: err.Error()})
		return
	}
	resp := ClockResponse{Success: ok, Clock: g.admin.Snapshot().Clock.Format(time.RFC3339)}
	if !ok {
		resp.Error = "network time unavailable"
		writeJSON(w, http.StatusBadGateway, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, vc.ErrInvalidTime):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
