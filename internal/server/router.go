package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/affinityd/internal/cpuset"
	"github.com/loykin/affinityd/internal/heartbeat"
	"github.com/loykin/affinityd/internal/store"
)

// Router provides embeddable HTTP handlers for the daemon.
// Endpoints:
//
//	GET  {basePath}/status         worker and sync labels plus the latest heartbeat
//	GET  {basePath}/config         saved configuration
//	PUT  {basePath}/config         body: ConfigBody; replaces the configuration
//	POST {basePath}/config/toggle  body: ToggleBody; flips one CPU
//	GET  {basePath}/heartbeats     websocket stream of heartbeats
//	GET  /metrics                  Prometheus exposition, when enabled
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	store    store.Store
	ch       *heartbeat.Channel
	basePath string
	cpuCount func(ctx context.Context) int
	metrics  http.Handler
	now      func() time.Time
	// streams end when ctx is done
	ctx context.Context

	// serializes read-modify-write config updates from this process
	mu sync.Mutex
}

// Option configures a Router.
type Option func(*Router)

// WithCPUCount sets how the router learns the machine's logical CPU count.
func WithCPUCount(f func(ctx context.Context) int) Option {
	return func(r *Router) { r.cpuCount = f }
}

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) Option { return func(r *Router) { r.metrics = h } }

// WithClock overrides the time source used for staleness.
func WithClock(now func() time.Time) Option { return func(r *Router) { r.now = now } }

// WithContext ties open heartbeat streams to ctx; cancelling it closes them.
func WithContext(ctx context.Context) Option { return func(r *Router) { r.ctx = ctx } }

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(st store.Store, ch *heartbeat.Channel, basePath string, opts ...Option) *Router {
	r := &Router{
		store:    st,
		ch:       ch,
		basePath: sanitizeBase(basePath),
		cpuCount: func(context.Context) int { return cpuset.MaxCPUs },
		now:      time.Now,
		ctx:      context.Background(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/config", r.handleGetConfig)
	group.PUT("/config", r.handlePutConfig)
	group.POST("/config/toggle", r.handleToggle)
	group.GET("/heartbeats", r.handleHeartbeats)
	if r.metrics != nil {
		g.GET("/metrics", gin.WrapH(r.metrics))
	}
	return g
}

// NewServer listens on addr and serves h in the background, over TLS when
// tlsCfg is non-nil. Listen errors are returned; errors after that are logged.
func NewServer(addr string, h http.Handler, tlsCfg *tls.Config) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
	}
	server := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		TLSConfig:         tlsCfg,
	}
	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "addr", server.Addr, "error", err)
		}
	}()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

// StatusResp is the body of GET /status.
type StatusResp struct {
	Worker    string               `json:"worker"`
	Sync      string               `json:"sync"`
	Stale     bool                 `json:"stale"`
	Heartbeat *heartbeat.Heartbeat `json:"heartbeat"`
}

// ConfigResp is the body of GET and PUT /config.
type ConfigResp struct {
	ProcessName string `json:"process_name"`
	CPUs        []int  `json:"cpus"`
	CPUCount    int    `json:"cpu_count"`
	Title       string `json:"title"`
	Mask        string `json:"mask"`
}

// ConfigBody is the body of PUT /config.
type ConfigBody struct {
	ProcessName string `json:"process_name"`
	CPUs        []int  `json:"cpus"`
}

// ToggleBody is the body of POST /config/toggle.
type ToggleBody struct {
	CPU int  `json:"cpu"`
	On  bool `json:"on"`
}

// Status builds the status view of the latest heartbeat at now.
func Status(ch *heartbeat.Channel, now time.Time) StatusResp {
	if hb, ok := ch.Latest(); ok {
		return statusOf(&hb, now)
	}
	return statusOf(nil, now)
}

func statusOf(hbp *heartbeat.Heartbeat, now time.Time) StatusResp {
	resp := StatusResp{
		Worker:    heartbeat.WorkerLabel(hbp, now),
		Sync:      heartbeat.SyncLabel(hbp, now),
		Heartbeat: hbp,
	}
	if hbp != nil {
		resp.Stale = hbp.IsStaleAt(now)
	}
	return resp
}

func toConfigResp(cfg store.Configuration) ConfigResp {
	cpus := cfg.Selections.Indices()
	if cpus == nil {
		cpus = []int{}
	}
	return ConfigResp{
		ProcessName: cfg.ProcessName,
		CPUs:        cpus,
		CPUCount:    cfg.Selections.CPUCount(),
		Title:       cfg.Selections.Title(),
		Mask:        fmt.Sprintf("%#x", cfg.Selections.Mask()),
	}
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, Status(r.ch, r.now()))
}

func (r *Router) handleGetConfig(c *gin.Context) {
	ctx := c.Request.Context()
	cfg, err := r.store.Load(ctx, r.cpuCount(ctx))
	if err != nil {
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, toConfigResp(cfg))
}

func (r *Router) handlePutConfig(c *gin.Context) {
	var body ConfigBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if !isSafeName(body.ProcessName) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid process_name"})
		return
	}
	ctx := c.Request.Context()
	sel := cpuset.New(r.cpuCount(ctx))
	for _, i := range body.CPUs {
		if err := sel.Toggle(i, true); err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
			return
		}
	}
	cfg := store.Configuration{ProcessName: body.ProcessName, Selections: sel}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.Save(ctx, cfg); err != nil {
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	slog.Info("Configuration replaced", "process", cfg.ProcessName, "cpus", cfg.Selections.String())
	writeJSON(c, http.StatusOK, toConfigResp(cfg))
}

func (r *Router) handleToggle(c *gin.Context) {
	var body ToggleBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	ctx := c.Request.Context()

	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, err := r.store.Load(ctx, r.cpuCount(ctx))
	if err != nil {
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	if err := cfg.Selections.Toggle(body.CPU, body.On); err != nil {
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	if err := r.store.Save(ctx, cfg); err != nil {
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	slog.Info("CPU toggled", "cpu", body.CPU, "on", body.On, "cpus", cfg.Selections.String())
	writeJSON(c, http.StatusOK, toConfigResp(cfg))
}
