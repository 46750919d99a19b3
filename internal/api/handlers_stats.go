package api

import (
	"net/http"
	"time"

	"github.com/mkarlsen/sendlater/internal/storage"
)

type HealthHandler struct {
	store storage.Storage
	ticks TickSource
}

func NewHealthHandler(store storage.Storage, ticks TickSource) *HealthHandler {
	return &HealthHandler{store: store, ticks: ticks}
}

type healthResponse struct {
	Status   string     `json:"status"`
	LastTick *time.Time `json:"last_tick,omitempty"`
}

// Health reports when the scheduler last completed a successful tick. The
// orchestrator decides what staleness threshold is tolerable; a zero tick
// only means this instance has not claimed anything since starting.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if h.ticks != nil {
		if last := h.ticks.LastTick(); !last.IsZero() {
			t := last.UTC()
			resp.LastTick = &t
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HealthHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
