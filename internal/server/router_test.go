package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/affinityd/internal/heartbeat"
	"github.com/loykin/affinityd/internal/metrics"
	"github.com/loykin/affinityd/internal/store"
	"github.com/loykin/affinityd/internal/store/sqlite"
)

type fixture struct {
	store *sqlite.DB
	ch    *heartbeat.Channel
	h     http.Handler
	now   time.Time
}

func setupRouter(t *testing.T, base string, opts ...Option) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.EnsureSchema(context.Background()))

	f := &fixture{store: db, ch: heartbeat.NewChannel(), now: time.Now()}
	opts = append([]Option{
		WithCPUCount(func(context.Context) int { return 4 }),
		WithClock(func() time.Time { return f.now }),
	}, opts...)
	f.h = NewRouter(db, f.ch, base, opts...).Handler()
	return f
}

func doReq(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestStatusBeforeFirstHeartbeat(t *testing.T) {
	f := setupRouter(t, "/api")
	rec := doReq(t, f.h, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	s := decode[StatusResp](t, rec)
	assert.Equal(t, heartbeat.LabelStarting, s.Worker)
	assert.Equal(t, heartbeat.LabelNotApplicable, s.Sync)
	assert.Nil(t, s.Heartbeat)
}

func TestStatusStalenessComputedAtRead(t *testing.T) {
	f := setupRouter(t, "")
	f.ch.Publish(heartbeat.Heartbeat{At: f.now, IsSynced: heartbeat.Bool(true)})

	s := decode[StatusResp](t, doReq(t, f.h, http.MethodGet, "/status", nil))
	assert.Equal(t, heartbeat.LabelRunning, s.Worker)
	assert.Equal(t, heartbeat.LabelSynced, s.Sync)
	assert.False(t, s.Stale)

	f.now = f.now.Add(11 * time.Second)
	s = decode[StatusResp](t, doReq(t, f.h, http.MethodGet, "/status", nil))
	assert.Equal(t, heartbeat.LabelLostConnection, s.Worker)
	assert.Equal(t, heartbeat.LabelLikelySynced, s.Sync)
	assert.True(t, s.Stale)
}

func TestGetConfigDefault(t *testing.T) {
	f := setupRouter(t, "/api")
	rec := doReq(t, f.h, http.MethodGet, "/api/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	c := decode[ConfigResp](t, rec)
	assert.Equal(t, store.DefaultProcessName, c.ProcessName)
	assert.Equal(t, []int{0, 1, 2, 3}, c.CPUs)
	assert.Equal(t, "CPUs: All (4)", c.Title)
	assert.Equal(t, "0xf", c.Mask)
}

func TestPutConfigPersists(t *testing.T) {
	f := setupRouter(t, "/api")
	rec := doReq(t, f.h, http.MethodPut, "/api/config", ConfigBody{ProcessName: "game.exe", CPUs: []int{2, 0}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	cfg, err := f.store.Load(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, "game.exe", cfg.ProcessName)
	assert.Equal(t, []int{0, 2}, cfg.Selections.Indices())

	c := decode[ConfigResp](t, doReq(t, f.h, http.MethodGet, "/api/config", nil))
	assert.Equal(t, "CPUs: 0, 2", c.Title)
	assert.Equal(t, "0x5", c.Mask)
}

func TestPutConfigRejects(t *testing.T) {
	f := setupRouter(t, "")
	cases := map[string]any{
		"cpu beyond count": ConfigBody{ProcessName: "game.exe", CPUs: []int{4}},
		"negative cpu":     ConfigBody{ProcessName: "game.exe", CPUs: []int{-1}},
		"path name":        ConfigBody{ProcessName: "../game.exe"},
		"not json":         "{",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := doReq(t, f.h, http.MethodPut, "/config", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	_, err := f.store.Load(context.Background(), 4)
	require.NoError(t, err)
}

func TestToggle(t *testing.T) {
	f := setupRouter(t, "")
	rec := doReq(t, f.h, http.MethodPost, "/config/toggle", ToggleBody{CPU: 1, On: false})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []int{0, 2, 3}, decode[ConfigResp](t, rec).CPUs)

	// repeating is idempotent
	rec = doReq(t, f.h, http.MethodPost, "/config/toggle", ToggleBody{CPU: 1, On: false})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int{0, 2, 3}, decode[ConfigResp](t, rec).CPUs)

	rec = doReq(t, f.h, http.MethodPost, "/config/toggle", ToggleBody{CPU: 9, On: true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStoreClosed(t *testing.T) {
	f := setupRouter(t, "")
	require.NoError(t, f.store.Close())
	rec := doReq(t, f.h, http.MethodGet, "/config", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")
}

func TestMetricsMounted(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, metrics.Register(reg))
	f := setupRouter(t, "/api", WithMetrics(metrics.HandlerFor(reg)))
	rec := doReq(t, f.h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	f = setupRouter(t, "/api")
	rec = doReq(t, f.h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSanitizeBase(t *testing.T) {
	assert.Equal(t, "", sanitizeBase(" / "))
	assert.Equal(t, "/api", sanitizeBase("api/"))
	assert.Equal(t, "/a/b", sanitizeBase("/a/b//"))
}

func TestIsSafeName(t *testing.T) {
	assert.True(t, isSafeName("iRacingSim64DX11.exe"))
	assert.True(t, isSafeName("My Game.exe"))
	assert.True(t, isSafeName(""))
	assert.False(t, isSafeName("C:\\game.exe"))
	assert.False(t, isSafeName("a/b"))
	assert.False(t, isSafeName("x\ny"))
}

func TestHeartbeatStream(t *testing.T) {
	f := setupRouter(t, "/api")
	f.ch.Publish(heartbeat.Heartbeat{At: f.now})
	srv := httptest.NewServer(f.h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/heartbeats"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = ws.Close() }()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))

	var msg HeartbeatMessage
	require.NoError(t, ws.ReadJSON(&msg))
	assert.Equal(t, "heartbeat", msg.Type)
	assert.Equal(t, heartbeat.LabelRunning, msg.Status.Worker)
	assert.Equal(t, heartbeat.LabelNotApplicable, msg.Status.Sync)

	f.ch.Publish(heartbeat.Heartbeat{At: f.now.Add(time.Second), IsSynced: heartbeat.Bool(false)})
	require.NoError(t, ws.ReadJSON(&msg))
	require.NotNil(t, msg.Status.Heartbeat)
	assert.Equal(t, heartbeat.LabelUnsynced, msg.Status.Sync)

	// closing the client detaches the subscription
	require.NoError(t, ws.Close())
	assert.Eventually(t, func() bool { return f.ch.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHeartbeatStreamEndsWithRouterContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := setupRouter(t, "/api", WithContext(ctx))
	srv := httptest.NewServer(f.h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/heartbeats"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = ws.Close() }()
	require.Eventually(t, func() bool { return f.ch.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = ws.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	assert.Eventually(t, func() bool { return f.ch.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}
