package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghalamif/PulseFlow/internal/app/stats"
	"github.com/ghalamif/PulseFlow/internal/domain"
)

type fakeBuffers map[string]int

func (f fakeBuffers) Sources() []string {
	ids := make([]string, 0, len(f))
	for id := range f {
		ids = append(ids, id)
	}
	return ids
}

func (f fakeBuffers) BufferedLen(id string) int { return f[id] }

func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()
	agg := stats.NewAggregator(0)
	for i, lat := range []int64{10, 20, 30, 40} {
		agg.Record(&domain.Event{SourceID: "p1", Sequence: int64(i + 1), SentAtMs: 0, ReceivedAtMs: lat})
	}
	mux := http.NewServeMux()
	NewHandler(agg, fakeBuffers{"p1": 2}, func() int { return 3 }, nil).Register(mux)
	return mux
}

func get(t *testing.T, mux *http.ServeMux, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestAllMetrics(t *testing.T) {
	rec := get(t, newTestMux(t), "/api/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]stats.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body, "p1")
	assert.Equal(t, int64(4), body["p1"].Count)
	assert.InDelta(t, 25.0, body["p1"].MeanLatency, 1e-9)
	assert.InDelta(t, 40.0, body["p1"].P95Latency, 1e-9)
	assert.InDelta(t, 1.0, body["p1"].DeliveryRatio, 1e-9)
}

func TestSourceMetrics(t *testing.T) {
	mux := newTestMux(t)

	rec := get(t, mux, "/api/metrics/p1")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap stats.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "p1", snap.SourceID)

	rec = get(t, mux, "/api/metrics/nobody")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "nobody")
}

func TestSources(t *testing.T) {
	rec := get(t, newTestMux(t), "/api/sources")
	require.Equal(t, http.StatusOK, rec.Code)

	var body SourcesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Subscribers)
	require.Len(t, body.Sources, 1)
	assert.Equal(t, SourceStatus{SourceID: "p1", Buffered: 2, Received: 4}, body.Sources[0])
}

func TestHealthz(t *testing.T) {
	rec := get(t, newTestMux(t), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestMethodNotAllowed(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestMux(t).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/metrics", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
