package http

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/evermem/evermem/internal/api/respond"
	"github.com/evermem/evermem/internal/memory"
)

// StatsHandler serves per-profile memory statistics for operators.
type StatsHandler struct {
	svc *memory.Service
}

func NewStatsHandler(svc *memory.Service) *StatsHandler {
	return &StatsHandler{svc: svc}
}

// ProfileStats handles GET /v1/profiles/{profileId}/stats.
func (h *StatsHandler) ProfileStats(w http.ResponseWriter, r *http.Request) {
	profileID := mux.Vars(r)["profileId"]
	if profileID == "" {
		respond.WriteBadRequest(w, "profileId is required")
		return
	}

	stats, err := h.svc.Stats(r.Context(), profileID)
	if err != nil {
		respond.WriteInternalError(w, err.Error())
		return
	}
	respond.WriteJSON(w, http.StatusOK, stats)
}
