package affinityd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/affinityd/internal/config"
	"github.com/loykin/affinityd/internal/cpuset"
	"github.com/loykin/affinityd/internal/gateway"
	"github.com/loykin/affinityd/internal/heartbeat"
	"github.com/loykin/affinityd/internal/history"
	hfactory "github.com/loykin/affinityd/internal/history/factory"
	"github.com/loykin/affinityd/internal/metrics"
	iapi "github.com/loykin/affinityd/internal/server"
	"github.com/loykin/affinityd/internal/store"
	sfactory "github.com/loykin/affinityd/internal/store/factory"
	itls "github.com/loykin/affinityd/internal/tls"
	"github.com/loykin/affinityd/internal/topology"
	"github.com/loykin/affinityd/internal/worker"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = config.Config

type Configuration = store.Configuration

type Selection = cpuset.Selection

type Heartbeat = heartbeat.Heartbeat

type HistorySink = history.Sink

type Gateway = gateway.Gateway

func LoadConfig(path string) (Config, error) { return config.Load(path) }

func DefaultConfig() Config { return config.Default() }

// Daemon wires the configuration store, the affinity gateway, the
// reconciliation worker and the optional HTTP API together.
type Daemon struct {
	cfg    Config
	log    *slog.Logger
	store  store.Store
	gw     gateway.Gateway
	ch     *heartbeat.Channel
	sinks  []history.Sink
	prune  *history.Retention
	worker *worker.Worker
	reg    prometheus.Registerer
	gather prometheus.Gatherer

	// cancelled on Close to end open heartbeat streams
	streams    context.Context
	endStreams context.CancelFunc

	mu      sync.Mutex
	stop    func()
	srv     *http.Server
	closed  bool
	started bool
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithGateway replaces the operating-system gateway.
func WithGateway(gw Gateway) Option { return func(d *Daemon) { d.gw = gw } }

func WithLogger(l *slog.Logger) Option { return func(d *Daemon) { d.log = l } }

// WithRegistry registers metrics with r and serves them from g instead of
// the Prometheus default registry.
func WithRegistry(r prometheus.Registerer, g prometheus.Gatherer) Option {
	return func(d *Daemon) { d.reg, d.gather = r, g }
}

// Open connects to the configured store, prepares its schema and history
// sinks. Nothing runs until Start.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Daemon{
		cfg:    cfg,
		log:    slog.Default(),
		gw:     gateway.NewSystem(),
		ch:     heartbeat.NewChannel(),
		reg:    prometheus.DefaultRegisterer,
		gather: prometheus.DefaultGatherer,
	}
	for _, o := range opts {
		o(d)
	}
	d.streams, d.endStreams = context.WithCancel(context.Background())

	st, err := sfactory.NewFromDSN(cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.EnsureSchema(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("prepare store: %w", err)
	}
	d.store = st

	if cfg.History.Enabled {
		for _, dsn := range cfg.History.DSNs {
			s, err := hfactory.NewSinkFromDSN(dsn)
			if err != nil {
				_ = d.Close()
				return nil, fmt.Errorf("open history sink: %w", err)
			}
			d.sinks = append(d.sinks, s)
		}
		if cfg.History.Retention > 0 {
			r, err := history.NewRetention(cfg.History.PruneSchedule, cfg.History.Retention, d.sinks, d.log.With("component", "history"))
			if err != nil {
				_ = d.Close()
				return nil, err
			}
			d.prune = r
		}
	}

	if cfg.Metrics.Enabled {
		if err := metrics.Register(d.reg); err != nil {
			_ = d.Close()
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	ops := &worker.SystemOperations{
		Store:    d.store,
		Gateway:  d.gw,
		Interval: cfg.Worker.Interval,
		CPUCount: topology.LogicalCPUs,
	}
	d.worker = worker.New(ops, d.ch,
		worker.WithLogger(d.log.With("component", "worker")),
		worker.WithHistorySinks(d.sinks...),
	)
	return d, nil
}

// Store returns the configuration store.
func (d *Daemon) Store() store.Store { return d.store }

// Heartbeats returns the channel the worker publishes to.
func (d *Daemon) Heartbeats() *heartbeat.Channel { return d.ch }

// CPUCount reports the number of selectable CPUs on this machine.
func (d *Daemon) CPUCount(ctx context.Context) int { return topology.LogicalCPUs(ctx) }

// Handler returns the HTTP API, including /metrics when metrics are enabled.
func (d *Daemon) Handler() http.Handler {
	opts := []iapi.Option{iapi.WithCPUCount(topology.LogicalCPUs), iapi.WithContext(d.streams)}
	if d.cfg.Metrics.Enabled {
		opts = append(opts, iapi.WithMetrics(metrics.HandlerFor(d.gather)))
	}
	return iapi.NewRouter(d.store, d.ch, d.cfg.Server.BasePath, opts...).Handler()
}

// Start launches the worker and, when enabled, the HTTP server.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("daemon closed")
	}
	if d.started {
		return errors.New("daemon already started")
	}
	if d.cfg.Server.Enabled {
		tlsCfg, err := itls.Setup(d.cfg.Server.TLS)
		if err != nil {
			return err
		}
		srv, err := iapi.NewServer(d.cfg.Server.Listen, d.Handler(), tlsCfg)
		if err != nil {
			return err
		}
		d.srv = srv
		d.log.Info("HTTP API listening", "addr", srv.Addr, "base_path", d.cfg.Server.BasePath, "tls", tlsCfg != nil)
	}
	if d.prune != nil {
		if err := d.prune.Start(); err != nil {
			return err
		}
	}
	d.stop = d.worker.Start(ctx)
	d.started = true
	d.log.Info("Daemon started", "store", redact(d.cfg.Store.DSN), "interval", d.cfg.Worker.Interval, "history_sinks", len(d.sinks))
	return nil
}

// ServerAddr returns the bound HTTP address, or "" when the server is off.
func (d *Daemon) ServerAddr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.srv == nil {
		return ""
	}
	return d.srv.Addr
}

// Run starts the daemon and blocks until ctx is done, then closes it.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return d.Close()
}

// Close stops the worker and server and releases the store and sinks.
func (d *Daemon) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	stop, srv := d.stop, d.srv
	d.mu.Unlock()

	d.endStreams()
	var errs []error
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
		}
		cancel()
	}
	if stop != nil {
		stop()
	}
	if d.prune != nil {
		d.prune.Stop()
	}
	for _, s := range d.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close history sink: %w", err))
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	d.log.Info("Daemon stopped")
	return errors.Join(errs...)
}
