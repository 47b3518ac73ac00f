package http

import (
	"context"
	"net/http"
	"time"

	"github.com/evermem/evermem/internal/api/respond"
	"github.com/evermem/evermem/internal/embeddings"
	"github.com/evermem/evermem/internal/metastore"
	"github.com/evermem/evermem/internal/vectorindex"
)

const probeTimeout = 3 * time.Second

// HealthHandler probes the three dependencies on every request. The probes
// are cheap (HEAD/meta endpoints, SELECT 1) so a poll interval is left to the
// caller rather than cached here.
type HealthHandler struct {
	meta metastore.Store
	idx  vectorindex.Index
	emb  embeddings.Provider
}

func NewHealthHandler(meta metastore.Store, idx vectorindex.Index, emb embeddings.Provider) *HealthHandler {
	return &HealthHandler{meta: meta, idx: idx, emb: emb}
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Health responds 200 when every probe passes, 503 otherwise. A dependency
// that does not expose a probe reports "unknown" and does not degrade status.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: map[string]string{}}

	record := func(name string, err error) {
		if err != nil {
			resp.Status = "degraded"
			resp.Checks[name] = err.Error()
		} else {
			resp.Checks[name] = "ok"
		}
	}

	if h.meta != nil {
		record("metadata", h.meta.Ping(ctx))
	}
	if hp, ok := h.idx.(vectorindex.HealthPinger); ok {
		record("vectorIndex", hp.HealthPing(ctx))
	} else {
		resp.Checks["vectorIndex"] = "unknown"
	}
	if hp, ok := h.emb.(embeddings.HealthPinger); ok {
		record("embeddings", hp.HealthPing(ctx))
	} else {
		resp.Checks["embeddings"] = "unknown"
	}

	code := http.StatusOK
	if resp.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	respond.WriteJSON(w, code, resp)
}
