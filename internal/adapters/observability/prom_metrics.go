package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ghalamif/PulseFlow/internal/domain"
	"github.com/ghalamif/PulseFlow/internal/ports"
)

// PromObs reports pipeline metrics to Prometheus and logs through zap.
// Unknown metric names are ignored.
type PromObs struct {
	log      *zap.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

// NewPromObs registers the relay metrics on reg. A nil reg means the default
// registerer; a nil logger discards logs.
func NewPromObs(logger *zap.Logger, reg prometheus.Registerer) *PromObs {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	}

	received := counter("pulse_events_received_total", "Events decoded and accepted for buffering.")
	emitted := counter("pulse_events_emitted_total", "Events released by the reorder buffers.")
	decodeErrs := counter("pulse_decode_errors_total", "Frames dropped because they could not be decoded.")
	duplicates := counter("pulse_duplicates_total", "Events discarded as duplicates.")
	late := counter("pulse_late_drops_total", "Events discarded because a higher sequence was already emitted.")
	deliveryFail := counter("pulse_delivery_failures_total", "Subscriber deliveries that failed or timed out.")
	sessionFail := counter("pulse_sessions_failed_total", "Producer sessions that ended with an error.")
	backlogDrops := counter("pulse_backlog_drops_total", "Released events dropped because their source's fan-out backlog was full.")

	subscribers := gauge("pulse_subscribers", "Currently registered subscribers.")
	sources := gauge("pulse_sources", "Sources with resident state.")
	buffered := gauge("pulse_buffered_events", "Events waiting in reorder buffers.")

	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pulse_event_latency_seconds",
		Help:    "Producer to relay latency of received events.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})
	publish := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pulse_publish_duration_seconds",
		Help:    "Time to fan one frame out to every subscriber.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
	})

	reg.MustRegister(received, emitted, decodeErrs, duplicates, late, deliveryFail, sessionFail, backlogDrops,
		subscribers, sources, buffered, latency, publish)

	return &PromObs{
		log: logger,
		counters: map[string]prometheus.Counter{
			"pulse_events_received_total":   received,
			"pulse_events_emitted_total":    emitted,
			"pulse_decode_errors_total":     decodeErrs,
			"pulse_duplicates_total":        duplicates,
			"pulse_late_drops_total":        late,
			"pulse_delivery_failures_total": deliveryFail,
			"pulse_sessions_failed_total":   sessionFail,
			"pulse_backlog_drops_total":     backlogDrops,
		},
		gauges: map[string]prometheus.Gauge{
			"pulse_subscribers":     subscribers,
			"pulse_sources":         sources,
			"pulse_buffered_events": buffered,
		},
		histos: map[string]prometheus.Observer{
			"pulse_event_latency_seconds":    latency,
			"pulse_publish_duration_seconds": publish,
		},
	}
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.log.Info(msg, zapFields(fields)...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	p.log.Error(msg, append(zapFields(fields), zap.Error(err))...)
}

// LogCritical logs at error level with a critical marker; it never exits.
func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	p.log.Error(msg, append(zapFields(fields), zap.Error(err), zap.Bool("critical", true))...)
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

// RecordDrop logs an event the buffer refused. Counting is left to the caller.
func (p *PromObs) RecordDrop(reason string, e *domain.Event) {
	if e == nil {
		return
	}
	p.log.Debug("event_dropped",
		zap.String("reason", reason),
		zap.String("source_id", e.SourceID),
		zap.Int64("sequence", e.Sequence))
}

func zapFields(fields []ports.Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields)+1)
	for _, f := range fields {
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}

var _ ports.Observability = (*PromObs)(nil)
