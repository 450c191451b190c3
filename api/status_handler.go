// Package api exposes the limiter's diagnostics over HTTP: a read-only
// status endpoint per group and a counters endpoint. Intended for local
// observability tooling; the handlers never mutate limiter state.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/pacegate/pacegate/metrics"
	"github.com/pacegate/pacegate/pkg/pacegate"
)

// StatusProvider is the part of the limiter the handlers consume.
type StatusProvider interface {
	Status() map[pacegate.Group]pacegate.GroupStatus
	Metrics() *metrics.Collector
}

// StatusHandler handles GET requests for limiter status.
type StatusHandler struct {
	provider StatusProvider
}

// NewStatusHandler creates a new status handler.
func NewStatusHandler(provider StatusProvider) *StatusHandler {
	return &StatusHandler{provider: provider}
}

// StatusResponse is the JSON envelope of the status endpoint.
type StatusResponse struct {
	Timestamp time.Time               `json:"timestamp"`
	Groups    []pacegate.GroupStatus  `json:"groups"`
	Counters  []metrics.GroupSnapshot `json:"counters"`
}

// ServeHTTP handles the status endpoint.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := h.provider.Status()
	groups := make([]pacegate.GroupStatus, 0, len(status))
	for _, group := range pacegate.Groups() {
		if st, ok := status[group]; ok {
			groups = append(groups, st)
		}
	}

	response := StatusResponse{
		Timestamp: time.Now(),
		Groups:    groups,
		Counters:  h.provider.Metrics().GetSnapshot().Groups,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
