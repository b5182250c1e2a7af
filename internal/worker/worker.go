package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/affinityd/internal/heartbeat"
	"github.com/loykin/affinityd/internal/history"
	"github.com/loykin/affinityd/internal/metrics"
)

// Stages of a tick, reported when a tick fails.
const (
	StageLoad      = "load"
	StageEnumerate = "enumerate"
	StageCheck     = "check"
	StageSync      = "sync"
	StageRecheck   = "recheck"
)

// Outcome describes one finished tick. Heartbeat is the value that was
// published for it.
type Outcome struct {
	Heartbeat   heartbeat.Heartbeat
	ProcessName string
	Matched     int
	Corrected   bool
	// FailedStage is empty when the tick completed without error.
	FailedStage string
	// SleepErr is set when the sleep failed for a reason other than ctx.
	SleepErr error
}

// RunTick performs one reconciliation pass: sleep, load, enumerate, check,
// correct drift, re-check, and publish exactly one heartbeat on ch.
//
// Every failure after the sleep is converted into a heartbeat. The only
// error returned is ctx's, when it is done during the sleep; nothing is
// published in that case. Any other sleep error is reported in
// Outcome.SleepErr and the tick proceeds.
func RunTick(ctx context.Context, ops Operations, ch *heartbeat.Channel) (Outcome, error) {
	sleepErr := ops.Sleep(ctx)
	if sleepErr != nil && ctx.Err() != nil {
		return Outcome{}, ctx.Err()
	}
	out := tick(ctx, ops)
	out.SleepErr = sleepErr
	ch.Publish(out.Heartbeat)
	return out, nil
}

func tick(ctx context.Context, ops Operations) Outcome {
	cfg, err := ops.LoadConfiguration(ctx)
	if err != nil {
		return failed(StageLoad, nil, err, Outcome{})
	}
	out := Outcome{ProcessName: cfg.ProcessName}

	procs, err := ops.FindProcesses(ctx, cfg.ProcessName)
	if err != nil {
		return failed(StageEnumerate, nil, err, out)
	}
	out.Matched = len(procs)
	if len(procs) == 0 {
		out.Heartbeat = heartbeat.Now(nil, nil)
		return out
	}

	synced, err := ops.CheckSynced(ctx, cfg, procs)
	if err != nil {
		return failed(StageCheck, nil, err, out)
	}
	if !synced {
		if err := ops.ApplySync(ctx, cfg, procs); err != nil {
			return failed(StageSync, heartbeat.Bool(synced), err, out)
		}
		out.Corrected = true
		synced, err = ops.CheckSynced(ctx, cfg, procs)
		if err != nil {
			return failed(StageRecheck, nil, err, out)
		}
	}
	out.Heartbeat = heartbeat.Now(heartbeat.Bool(synced), nil)
	return out
}

func failed(stage string, synced *bool, err error, out Outcome) Outcome {
	out.FailedStage = stage
	out.Heartbeat = heartbeat.Now(synced, err)
	return out
}

// Worker runs RunTick forever and fans each outcome out to metrics, logs
// and history sinks.
type Worker struct {
	ops   Operations
	ch    *heartbeat.Channel
	log   *slog.Logger
	mu    sync.Mutex
	sinks []history.Sink
}

// Option configures a Worker.
type Option func(*Worker)

func WithLogger(l *slog.Logger) Option { return func(w *Worker) { w.log = l } }

// WithHistorySinks records every heartbeat to sinks.
func WithHistorySinks(sinks ...history.Sink) Option {
	return func(w *Worker) { w.sinks = append([]history.Sink(nil), sinks...) }
}

func New(ops Operations, ch *heartbeat.Channel, opts ...Option) *Worker {
	w := &Worker{ops: ops, ch: ch, log: slog.Default()}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Channel returns the heartbeat channel the worker publishes to.
func (w *Worker) Channel() *heartbeat.Channel { return w.ch }

// Tick runs a single reconciliation pass.
func (w *Worker) Tick(ctx context.Context) (Outcome, error) {
	var started time.Time
	ops := &timedOps{Operations: w.ops, started: &started}
	out, err := RunTick(ctx, ops, w.ch)
	if err != nil {
		return out, err
	}
	metrics.ObserveTickDuration(time.Since(started).Seconds())
	w.observe(ctx, out)
	return out, nil
}

// Run ticks with ops until ctx is done, publishing on ch.
func Run(ctx context.Context, ops Operations, ch *heartbeat.Channel) error {
	return New(ops, ch).Run(ctx)
}

// Run ticks until ctx is done. Errors inside a tick never stop the loop.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("Worker started")
	defer w.log.Info("Worker stopped")
	for {
		if _, err := w.Tick(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			w.log.Error("Unexpected tick error", "error", err)
		}
	}
}

// Start runs the worker in a background goroutine. The returned function
// stops it and waits for the goroutine to exit.
func (w *Worker) Start(ctx context.Context) (stop func()) {
	cctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(cctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func (w *Worker) observe(ctx context.Context, out Outcome) {
	if out.SleepErr != nil {
		w.log.Warn("Worker sleep interrupted", "error", out.SleepErr)
	}
	hb := out.Heartbeat
	metrics.SetLastHeartbeat(float64(hb.At.UnixNano()) / 1e9)
	metrics.SetMatched(out.Matched)
	metrics.SetSynced(hb.IsSynced)
	if out.Corrected {
		metrics.IncCorrection()
	}
	switch {
	case out.FailedStage != "":
		metrics.IncTick(metrics.ResultError)
		metrics.IncError(out.FailedStage)
		w.log.Warn("Reconciliation failed", "process", out.ProcessName, "stage", out.FailedStage, "matched", out.Matched, "error", hb.Error)
	case out.Matched == 0:
		metrics.IncTick(metrics.ResultNoProcess)
		w.log.Debug("No target process running", "process", out.ProcessName)
	case *hb.IsSynced:
		metrics.IncTick(metrics.ResultSynced)
		if out.Corrected {
			w.log.Info("Corrected affinity drift", "process", out.ProcessName, "matched", out.Matched)
		}
	default:
		metrics.IncTick(metrics.ResultUnsynced)
		w.log.Warn("Affinity still differs after correction", "process", out.ProcessName, "matched", out.Matched)
	}

	w.mu.Lock()
	sinks := append([]history.Sink(nil), w.sinks...)
	w.mu.Unlock()
	if len(sinks) == 0 {
		return
	}
	evt := history.FromHeartbeat(hb, out.ProcessName, out.Matched, out.Corrected)
	for _, s := range sinks {
		if err := s.Send(ctx, evt); err != nil {
			w.log.Warn("History sink failed", "error", err)
		}
	}
}

// timedOps marks when the sleep ends so tick duration excludes it.
type timedOps struct {
	Operations
	started *time.Time
}

func (t *timedOps) Sleep(ctx context.Context) error {
	err := t.Operations.Sleep(ctx)
	*t.started = time.Now()
	return err
}
