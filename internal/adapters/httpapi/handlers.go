// Package httpapi serves the read-only query endpoints of the relay.
package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/ghalamif/PulseFlow/internal/app/stats"
)

// MetricsSource reads per-source delivery metrics.
type MetricsSource interface {
	Snapshot(sourceID string) (stats.Snapshot, bool)
	SnapshotAll() map[string]stats.Snapshot
}

// BufferSource reports resident sources and their pending events.
type BufferSource interface {
	Sources() []string
	BufferedLen(sourceID string) int
}

// SourceStatus is one entry of the /api/sources listing.
type SourceStatus struct {
	SourceID string `json:"source_id"`
	Buffered int    `json:"buffered"`
	Received int64  `json:"received"`
}

// SourcesResponse is the body of /api/sources.
type SourcesResponse struct {
	Subscribers int            `json:"subscribers"`
	Sources     []SourceStatus `json:"sources"`
}

type Handler struct {
	metrics     MetricsSource
	buffers     BufferSource
	subscribers func() int
	log         *zap.Logger
}

func NewHandler(metrics MetricsSource, buffers BufferSource, subscribers func() int, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if subscribers == nil {
		subscribers = func() int { return 0 }
	}
	return &Handler{metrics: metrics, buffers: buffers, subscribers: subscribers, log: logger}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/metrics", h.allMetrics)
	mux.HandleFunc("GET /api/metrics/{source_id}", h.sourceMetrics)
	mux.HandleFunc("GET /api/sources", h.sources)
	mux.HandleFunc("GET /healthz", h.health)
}

func (h *Handler) allMetrics(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.metrics.SnapshotAll())
}

func (h *Handler) sourceMetrics(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("source_id")
	snap, ok := h.metrics.Snapshot(id)
	if !ok {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown source", "source_id": id})
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) sources(w http.ResponseWriter, _ *http.Request) {
	resp := SourcesResponse{Subscribers: h.subscribers(), Sources: []SourceStatus{}}
	for _, id := range h.buffers.Sources() {
		st := SourceStatus{SourceID: id, Buffered: h.buffers.BufferedLen(id)}
		if snap, ok := h.metrics.Snapshot(id); ok {
			st.Received = snap.Count
		}
		resp.Sources = append(resp.Sources, st)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warn("response_encode_failed", zap.Error(err))
	}
}
