// Package stats keeps per-source delivery-quality metrics: latency distribution,
// jitter and packet-delivery ratio. It performs no I/O.
package stats

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/ghalamif/PulseFlow/internal/domain"
)

// Snapshot is a point-in-time view of one source's metrics. Latencies are in
// milliseconds.
type Snapshot struct {
	SourceID      string  `json:"source_id"`
	Count         int64   `json:"count"`
	MeanLatency   float64 `json:"mean_latency"`
	MedianLatency float64 `json:"median_latency"`
	P95Latency    float64 `json:"p95_latency"`
	MaxLatency    float64 `json:"max_latency"`
	JitterMean    float64 `json:"jitter_mean"`
	JitterStd     float64 `json:"jitter_std"`
	DeliveryRatio float64 `json:"delivery_ratio"`
	MaxSequence   int64   `json:"max_sequence"`
	Duplicates    int64   `json:"duplicates"`
	Late          int64   `json:"late"`
	Retained      int     `json:"retained_samples"`
}

// Aggregator holds running statistics for every source it has seen.
type Aggregator struct {
	maxRetained int

	mu      sync.RWMutex
	sources map[string]*sourceStats
	seed    int64
}

// NewAggregator creates an aggregator. maxRetained bounds the latency samples kept
// per source for percentiles; zero keeps every sample.
func NewAggregator(maxRetained int) *Aggregator {
	return NewAggregatorWithSeed(maxRetained, 1)
}

// NewAggregatorWithSeed is NewAggregator with a fixed reservoir seed.
func NewAggregatorWithSeed(maxRetained int, seed int64) *Aggregator {
	if maxRetained < 0 {
		maxRetained = 0
	}
	return &Aggregator{
		maxRetained: maxRetained,
		sources:     make(map[string]*sourceStats),
		seed:        seed,
	}
}

// Record accounts for one received event, before any buffering.
func (a *Aggregator) Record(e *domain.Event) {
	a.slot(e.SourceID).record(e)
}

// RecordDuplicate counts an event discarded by the duplicate policy.
func (a *Aggregator) RecordDuplicate(sourceID string) {
	s := a.slot(sourceID)
	s.mu.Lock()
	s.duplicates++
	s.mu.Unlock()
}

// RecordLate counts an event that arrived after its successors were emitted.
func (a *Aggregator) RecordLate(sourceID string) {
	s := a.slot(sourceID)
	s.mu.Lock()
	s.late++
	s.mu.Unlock()
}

func (a *Aggregator) Snapshot(sourceID string) (Snapshot, bool) {
	a.mu.RLock()
	s, ok := a.sources[sourceID]
	a.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return s.snapshot(sourceID), true
}

// SnapshotAll returns a snapshot for every known source.
func (a *Aggregator) SnapshotAll() map[string]Snapshot {
	a.mu.RLock()
	slots := make(map[string]*sourceStats, len(a.sources))
	for id, s := range a.sources {
		slots[id] = s
	}
	a.mu.RUnlock()

	out := make(map[string]Snapshot, len(slots))
	for id, s := range slots {
		out[id] = s.snapshot(id)
	}
	return out
}

// Sources lists known source ids in lexical order.
func (a *Aggregator) Sources() []string {
	a.mu.RLock()
	ids := make([]string, 0, len(a.sources))
	for id := range a.sources {
		ids = append(ids, id)
	}
	a.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Evict drops a source's statistics.
func (a *Aggregator) Evict(sourceID string) {
	a.mu.Lock()
	delete(a.sources, sourceID)
	a.mu.Unlock()
}

func (a *Aggregator) slot(sourceID string) *sourceStats {
	a.mu.RLock()
	s, ok := a.sources[sourceID]
	a.mu.RUnlock()
	if ok {
		return s
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok = a.sources[sourceID]; ok {
		return s
	}
	a.seed++
	s = &sourceStats{
		maxRetained: a.maxRetained,
		rng:         rand.New(rand.NewSource(a.seed)),
		maxSeq:      domain.NoSequence,
	}
	a.sources[sourceID] = s
	return s
}

type sourceStats struct {
	mu sync.Mutex

	maxRetained int
	rng         *rand.Rand

	received   int64
	sumLatency float64
	maxLatency float64
	samples    []float64
	maxSeq     int64
	duplicates int64
	late       int64

	// jitter: Welford over |latency - previous latency|
	hasPrev     bool
	prevLatency float64
	jitterN     int64
	jitterMean  float64
	jitterM2    float64
}

func (s *sourceStats) record(e *domain.Event) {
	lat := float64(e.LatencyMs())

	s.mu.Lock()
	defer s.mu.Unlock()

	s.received++
	s.sumLatency += lat
	if s.received == 1 || lat > s.maxLatency {
		s.maxLatency = lat
	}
	if e.Sequence > s.maxSeq {
		s.maxSeq = e.Sequence
	}
	s.retain(lat)

	if s.hasPrev {
		j := math.Abs(lat - s.prevLatency)
		s.jitterN++
		d := j - s.jitterMean
		s.jitterMean += d / float64(s.jitterN)
		s.jitterM2 += d * (j - s.jitterMean)
	}
	s.prevLatency = lat
	s.hasPrev = true
}

// retain keeps every sample, or a uniform reservoir when bounded.
func (s *sourceStats) retain(lat float64) {
	if s.maxRetained == 0 || len(s.samples) < s.maxRetained {
		s.samples = append(s.samples, lat)
		return
	}
	if j := s.rng.Int63n(s.received); j < int64(s.maxRetained) {
		s.samples[j] = lat
	}
}

func (s *sourceStats) snapshot(id string) Snapshot {
	s.mu.Lock()
	sorted := make([]float64, len(s.samples))
	copy(sorted, s.samples)
	snap := Snapshot{
		SourceID:    id,
		Count:       s.received,
		MaxLatency:  s.maxLatency,
		JitterMean:  s.jitterMean,
		MaxSequence: s.maxSeq,
		Duplicates:  s.duplicates,
		Late:        s.late,
		Retained:    len(s.samples),
	}
	if s.received > 0 {
		snap.MeanLatency = s.sumLatency / float64(s.received)
	}
	if s.jitterN > 1 {
		snap.JitterStd = math.Sqrt(s.jitterM2 / float64(s.jitterN-1))
	}
	snap.DeliveryRatio = deliveryRatio(s.received, s.maxSeq)
	s.mu.Unlock()

	sort.Float64s(sorted)
	snap.MedianLatency = median(sorted)
	snap.P95Latency = percentile95(sorted)
	return snap
}

// deliveryRatio estimates received/sent using the highest sequence as the sent
// count. It exceeds 1 when duplicates or restarted sequences inflate received.
func deliveryRatio(received, maxSeq int64) float64 {
	if received == 0 {
		return 0
	}
	expected := maxSeq
	if expected < 1 {
		expected = 1
	}
	return float64(received) / float64(expected)
}

func median(sorted []float64) float64 {
	n := len(sorted)
	switch {
	case n == 0:
		return 0
	case n%2 == 1:
		return sorted[n/2]
	default:
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
}

func percentile95(sorted []float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	return sorted[int(0.95*float64(len(sorted)))]
}
