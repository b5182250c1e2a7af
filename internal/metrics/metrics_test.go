package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIdempotentAndHelpersWork(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	// idempotent: calling again should be no-op
	require.NoError(t, Register(reg))

	IncTick(ResultSynced)
	IncTick(ResultSynced)
	IncTick(ResultError)
	IncError("check")
	IncCorrection()
	ObserveTickDuration(0.01)
	SetMatched(2)
	yes := true
	SetSynced(&yes)
	SetLastHeartbeat(1700000000)

	assert.Equal(t, 2.0, value(t, ticks.WithLabelValues(ResultSynced)))
	assert.Equal(t, 1.0, value(t, tickErrors.WithLabelValues("check")))
	assert.Equal(t, 2.0, value(t, matched))
	assert.Equal(t, 1.0, value(t, synced))

	SetSynced(nil)
	assert.Equal(t, -1.0, value(t, synced))
	no := false
	SetSynced(&no)
	assert.Equal(t, 0.0, value(t, synced))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	for _, n := range []string{
		"affinityd_worker_ticks_total",
		"affinityd_worker_errors_total",
		"affinityd_worker_corrections_total",
		"affinityd_worker_tick_duration_seconds",
		"affinityd_target_matched_processes",
		"affinityd_target_synced",
		"affinityd_worker_last_heartbeat_timestamp_seconds",
	} {
		assert.True(t, names[n], "missing %s", n)
	}

	srv := httptest.NewServer(HandlerFor(reg))
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	assert.True(t, strings.Contains(string(body), "affinityd_worker_corrections_total 1"))
}

func TestRegisterOnSeveralRegistries(t *testing.T) {
	first, second := prometheus.NewRegistry(), prometheus.NewRegistry()
	require.NoError(t, Register(first))
	require.NoError(t, Register(second))
	SetMatched(3)

	for _, reg := range []*prometheus.Registry{first, second} {
		mfs, err := reg.Gather()
		require.NoError(t, err)
		found := false
		for _, mf := range mfs {
			if mf.GetName() == "affinityd_target_matched_processes" {
				found = true
				assert.Equal(t, 3.0, mf.GetMetric()[0].GetGauge().GetValue())
			}
		}
		assert.True(t, found)
	}
}

func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var pb dto.Metric
	require.NoError(t, m.Write(&pb))
	if pb.Counter != nil {
		return pb.Counter.GetValue()
	}
	return pb.Gauge.GetValue()
}
