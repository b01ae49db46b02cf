package pulseflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ghalamif/PulseFlow/internal/adapters/codec"
	"github.com/ghalamif/PulseFlow/internal/adapters/httpapi"
	"github.com/ghalamif/PulseFlow/internal/adapters/mqtt"
	"github.com/ghalamif/PulseFlow/internal/adapters/observability"
	"github.com/ghalamif/PulseFlow/internal/adapters/queue"
	"github.com/ghalamif/PulseFlow/internal/adapters/sink"
	"github.com/ghalamif/PulseFlow/internal/adapters/websocket"
	"github.com/ghalamif/PulseFlow/internal/app/fanout"
	"github.com/ghalamif/PulseFlow/internal/app/pipeline"
	"github.com/ghalamif/PulseFlow/internal/app/stats"
	"github.com/ghalamif/PulseFlow/internal/domain"
	"github.com/ghalamif/PulseFlow/internal/ports"
)

// ErrRelayClosed is returned by operations on a relay that has been shut down.
var ErrRelayClosed = errors.New("pulseflow: relay closed")

// Option customizes the dependencies used by Relay.
type Option func(*overrides)

type overrides struct {
	subscribers   []Subscriber
	collectors    []Collector
	observability Observability
	clock         Clock
	decoder       Decoder
	logger        *zap.Logger
	registry      *prometheus.Registry
}

// WithSubscriber registers a subscriber for the relay's whole lifetime.
func WithSubscriber(sub Subscriber) Option {
	return func(o *overrides) {
		o.subscribers = append(o.subscribers, sub)
	}
}

// WithCollector adds a producer transport besides the websocket endpoints.
func WithCollector(col Collector) Option {
	return func(o *overrides) {
		o.collectors = append(o.collectors, col)
	}
}

// WithObservability plugs in a custom observability backend.
func WithObservability(obs Observability) Option {
	return func(o *overrides) {
		o.observability = obs
	}
}

// WithClock overrides the receive-time clock.
func WithClock(c Clock) Option {
	return func(o *overrides) {
		o.clock = c
	}
}

// WithDecoder replaces the JSON frame decoder.
func WithDecoder(d Decoder) Option {
	return func(o *overrides) {
		o.decoder = d
	}
}

// WithLogger replaces the logger built from the log section of the config.
func WithLogger(l *zap.Logger) Option {
	return func(o *overrides) {
		o.logger = l
	}
}

// WithRegistry registers relay metrics on reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *overrides) {
		o.registry = reg
	}
}

// Relay wires producer transports → reorder buffers → metrics → fan-out and
// exposes simple lifecycle hooks for embedding PulseFlow inside any Go service.
type Relay struct {
	cfg        *Config
	log        *zap.Logger
	obs        ports.Observability
	registry   *prometheus.Registry
	clock      ports.Clock
	decoder    ports.Decoder
	agg        *stats.Aggregator
	fan        *fanout.Broadcaster
	coord      *pipeline.Coordinator
	ws         *websocket.Server
	api        *httpapi.Handler
	collectors []ports.Collector
	archives   []ports.Subscriber
	db         *sql.DB
	redis      *redis.Client

	mu         sync.Mutex
	started    bool
	closed     bool
	cancel     context.CancelFunc
	group      *errgroup.Group
	httpSrv    *http.Server
	httpLn     net.Listener
	metricsSrv *http.Server
	metricsLn  net.Listener
}

// NewRelay bootstraps the default adapters (JSON codec, reorder buffers,
// Prometheus observability, websocket transport) and the optional ones the
// config enables (MQTT collector, Timescale and Redis archives). Hand-built
// configs should start from DefaultConfig.
func NewRelay(cfg *Config, opts ...Option) (*Relay, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o overrides
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	logger := o.logger
	if logger == nil {
		var err error
		logger, err = observability.NewLogger(cfg.Log.Level, cfg.Log.Format, "pulse-relay")
		if err != nil {
			return nil, fmt.Errorf("build logger: %w", err)
		}
	}

	reg := o.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	obs := o.observability
	switch {
	case obs != nil:
	case cfg.Metrics.Addr == "" && o.registry == nil:
		// metrics listener disabled
		obs = observability.NewLogObs(logger)
	default:
		obs = observability.NewPromObs(logger, reg)
	}

	clock := o.clock
	if clock == nil {
		clock = ports.SystemClock{}
	}
	dec := o.decoder
	if dec == nil {
		dec = codec.NewJSONCodec()
	}

	agg := stats.NewAggregator(cfg.Relay.MaxRetainedLatencySamples)
	fan := fanout.NewBroadcaster(nil, cfg.Relay.WriteTimeout, obs)
	coord := pipeline.NewCoordinator(cfg.Relay, dec, clock, agg, fan, obs, func(windowMs int64) ports.EventBuffer {
		return queue.NewReorderBuffer(windowMs)
	})

	r := &Relay{
		cfg:        cfg,
		log:        logger,
		obs:        obs,
		registry:   reg,
		clock:      clock,
		decoder:    dec,
		agg:        agg,
		fan:        fan,
		coord:      coord,
		ws:         websocket.NewServer(coord, fan, cfg.Relay, logger),
		api:        httpapi.NewHandler(agg, coord, fan.Registry().Len, logger),
		collectors: o.collectors,
		archives:   o.subscribers,
	}

	if cfg.MQTT.Enabled() {
		col, err := mqtt.NewCollector(cfg.MQTT, logger)
		if err != nil {
			return nil, fmt.Errorf("mqtt collector: %w", err)
		}
		r.collectors = append(r.collectors, col)
	}

	if cfg.Timescale.ConnString != "" {
		db, err := sql.Open("postgres", cfg.Timescale.ConnString)
		if err != nil {
			return nil, fmt.Errorf("open timescale: %w", err)
		}
		r.db = db
		r.archives = append(r.archives, sink.NewTimescaleSubscriber(db, cfg.Timescale.Table))
	}

	if cfg.Redis.Addr != "" {
		r.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		r.archives = append(r.archives, sink.NewRedisStreamSubscriber(r.redis, cfg.Redis.Stream, cfg.Redis.MaxLen))
	}

	return r, nil
}

// Start opens the listeners, starts collectors and the idle drain loop.
// It returns immediately; call Run to block on a context instead.
func (r *Relay) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRelayClosed
	}
	if r.started {
		return fmt.Errorf("relay already started")
	}

	for _, sub := range r.archives {
		r.fan.Subscribe(sub)
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		r.coord.Run(gctx)
		return nil
	})

	var started []ports.Collector
	fail := func(err error) error {
		for _, col := range started {
			_ = col.Stop()
		}
		cancel()
		_ = g.Wait()
		return err
	}

	for _, col := range r.collectors {
		if err := col.Start(r.coord.FrameHandler(ctx, col.Name())); err != nil {
			return fail(fmt.Errorf("start collector %s: %w", col.Name(), err))
		}
		started = append(started, col)
	}

	if r.cfg.HTTP.Addr != "" {
		ln, err := net.Listen("tcp", r.cfg.HTTP.Addr)
		if err != nil {
			return fail(fmt.Errorf("listen http: %w", err))
		}
		r.httpLn = ln
		r.httpSrv = &http.Server{Handler: r.Handler(), ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error { return serve(r.httpSrv, ln) })
	}

	if r.cfg.Metrics.Addr != "" {
		ln, err := net.Listen("tcp", r.cfg.Metrics.Addr)
		if err != nil {
			if r.httpSrv != nil {
				_ = r.httpSrv.Close()
			}
			return fail(fmt.Errorf("listen metrics: %w", err))
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		r.metricsLn = ln
		r.metricsSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error { return serve(r.metricsSrv, ln) })
	}

	r.cancel = cancel
	r.group = g
	r.started = true
	r.log.Info("relay_started",
		zap.String("http_addr", addrOf(r.httpLn)),
		zap.String("metrics_addr", addrOf(r.metricsLn)),
		zap.Int64("window_ms", r.cfg.Relay.WindowMs),
		zap.Int("collectors", len(r.collectors)),
		zap.Int("archives", len(r.archives)))
	return nil
}

// Run starts the relay and blocks until ctx is cancelled or a listener fails.
// Either way it attempts a graceful shutdown.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.Start(); err != nil {
		return err
	}

	failed := make(chan error, 1)
	go func() { failed <- r.group.Wait() }()

	select {
	case <-ctx.Done():
	case <-failed:
	}

	// Shutdown reports the listener error, if any
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.Shutdown(shutdownCtx)
}

// Shutdown stops collectors and listeners, ends open sessions, flushes every
// buffered event to the remaining subscribers and closes archive connections.
func (r *Relay) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	var errs []error

	for _, col := range r.collectors {
		if err := col.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop collector %s: %w", col.Name(), err))
		}
	}

	for _, srv := range []*http.Server{r.httpSrv, r.metricsSrv} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
	}
	r.ws.Close()

	if r.cancel != nil {
		r.cancel()
		if err := r.group.Wait(); err != nil {
			errs = append(errs, err)
		}
	}

	r.coord.Flush(ctx)
	r.fan.Close()

	if r.db != nil {
		if err := r.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.redis != nil {
		if err := r.redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	r.log.Info("relay_stopped")
	_ = r.log.Sync()
	return errors.Join(errs...)
}

// Handler returns the websocket and query endpoints, for embedding the relay
// in an existing HTTP server.
func (r *Relay) Handler() http.Handler {
	mux := http.NewServeMux()
	r.ws.Register(mux)
	r.api.Register(mux)
	return mux
}

// Ingest pushes an event through the pipeline as if a producer had sent it.
// A zero ReceivedAtMs is stamped with the relay clock.
func (r *Relay) Ingest(ctx context.Context, e Event) error {
	if r.isClosed() {
		return ErrRelayClosed
	}
	if e.ReceivedAtMs == 0 {
		e.ReceivedAtMs = r.clock.NowMs()
	}
	if e.SourceID == "" {
		e.SourceID = domain.UnknownSource
	}
	r.coord.Ingest(ctx, &e)
	return nil
}

// IngestFrame decodes raw with the relay decoder and ingests the result.
func (r *Relay) IngestFrame(ctx context.Context, raw []byte) error {
	if r.isClosed() {
		return ErrRelayClosed
	}
	e, err := r.decoder.Decode(raw, r.clock.NowMs())
	if err != nil {
		r.obs.IncCounter("pulse_decode_errors_total", 1)
		return err
	}
	r.coord.Ingest(ctx, e)
	return nil
}

// Subscribe adds a live subscriber. It is removed on its first failed delivery.
func (r *Relay) Subscribe(sub Subscriber) error {
	if r.isClosed() {
		return ErrRelayClosed
	}
	r.fan.Subscribe(sub)
	return nil
}

// Unsubscribe removes and closes the subscriber with the given id.
func (r *Relay) Unsubscribe(id string) {
	r.fan.Unsubscribe(id)
}

// Snapshot returns the metrics of one source.
func (r *Relay) Snapshot(sourceID string) (Snapshot, bool) {
	return r.agg.Snapshot(sourceID)
}

// SnapshotAll returns the metrics of every known source.
func (r *Relay) SnapshotAll() map[string]Snapshot {
	return r.agg.SnapshotAll()
}

// Sources lists sources with resident buffer state.
func (r *Relay) Sources() []string {
	return r.coord.Sources()
}

// HTTPAddr is the bound websocket/query address, empty before Start.
func (r *Relay) HTTPAddr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return addrOf(r.httpLn)
}

// MetricsAddr is the bound Prometheus address, empty before Start.
func (r *Relay) MetricsAddr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return addrOf(r.metricsLn)
}

func (r *Relay) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func serve(srv *http.Server, ln net.Listener) error {
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func addrOf(ln net.Listener) string {
	if ln == nil {
		return ""
	}
	return ln.Addr().String()
}
