// Package health serves the liveness and readiness endpoints. Both bypass the
// gateway middleware pipeline.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// StorePinger is what readiness needs from the audit store.
type StorePinger interface {
	Ping(ctx context.Context) error
}

// ToolCounter is what readiness needs from the tool registry.
type ToolCounter interface {
	Len() int
}

const pingTimeout = 2 * time.Second

// Handler provides the HTTP health check endpoints.
type Handler struct {
	store         StorePinger
	registry      ToolCounter
	version       string
	readinessMode string // "all_checks" or "store_only"
}

// NewHandler creates a health check handler.
func NewHandler(store StorePinger, registry ToolCounter, version, readinessMode string) *Handler {
	return &Handler{
		store:         store,
		registry:      registry,
		version:       version,
		readinessMode: readinessMode,
	}
}

// LivenessResponse is the JSON response for the liveness endpoint.
type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ReadinessResponse is the JSON response for the readiness endpoint.
type ReadinessResponse struct {
	Status     string `json:"status"`
	StoreOK    bool   `json:"store_ok"`
	ToolCount  int    `json:"tool_count"`
	StoreError string `json:"store_error,omitempty"`
}

// Liveness reports the process is up. It never consults dependencies.
func (h *Handler) Liveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(LivenessResponse{Status: "ok", Version: h.version})
}

// Readiness reports whether the gateway can serve dispatches: the audit store
// answers Ping and, in all_checks mode, at least one tool is registered. A
// gateway that cannot record outcomes must not accept traffic.
func (h *Handler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	resp := ReadinessResponse{ToolCount: h.registry.Len()}

	if err := h.store.Ping(ctx); err != nil {
		resp.StoreError = err.Error()
	} else {
		resp.StoreOK = true
	}

	ready := resp.StoreOK
	if h.readinessMode != "store_only" {
		ready = ready && resp.ToolCount > 0
	}

	w.Header().Set("Content-Type", "application/json")
	if ready {
		resp.Status = "ready"
		w.WriteHeader(http.StatusOK)
	} else {
		resp.Status = "not_ready"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(resp)
}
