package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/szagi3891/notatki-panel/internal/daemon"
	"github.com/szagi3891/notatki-panel/internal/engine"
)

type fakeController struct {
	mu      sync.Mutex
	status  engine.Status
	enables int
}

func (f *fakeController) Status() engine.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeController) RequestEnable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enables++
	if f.status.Enabled {
		return false
	}
	f.status.EnableRequested = true
	return true
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, ctrl Controller, cfg Config) *Server {
	t.Helper()
	cfg.Logger = quietLogger()
	s, err := NewServer(cfg, ctrl)
	require.NoError(t, err)
	return s
}

func TestNewServerRequiresController(t *testing.T) {
	_, err := NewServer(Config{}, nil)
	require.Error(t, err)
}

func TestStatusEndpoint(t *testing.T) {
	ctrl := &fakeController{status: engine.Status{Enabled: true, Phase: engine.PhaseIdle, Remote: "origin", QueueLength: 2}}
	s := newTestServer(t, ctrl, Config{
		LoopStats: func() daemon.Stats { return daemon.Stats{Ticks: 7, Failures: 1, LastError: "boom"} },
	})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Engine.Enabled)
	assert.Equal(t, "origin", resp.Engine.Remote)
	assert.Equal(t, 2, resp.Engine.QueueLength)
	require.NotNil(t, resp.Loop)
	assert.Equal(t, uint64(7), resp.Loop.Ticks)
	assert.Equal(t, "boom", resp.Loop.LastError)
}

func TestEnableEndpoint(t *testing.T) {
	ctrl := &fakeController{status: engine.Status{Enabled: false, Phase: engine.PhaseDisabled}}
	s := newTestServer(t, ctrl, Config{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/enable", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp EnableResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Requested)
	assert.True(t, resp.Status.EnableRequested)

	// GET is not routed
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/enable", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, 1, ctrl.enables)
}

func TestEnableWhenAlreadyEnabled(t *testing.T) {
	ctrl := &fakeController{status: engine.Status{Enabled: true}}
	s := newTestServer(t, ctrl, Config{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/enable", nil))

	var resp EnableResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Requested)
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "notesync_enabled 1\n")
	})
	s := newTestServer(t, &fakeController{}, Config{Metrics: metrics})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "notesync_enabled 1")
}

func TestMetricsRouteAbsentWithoutHandler(t *testing.T) {
	s := newTestServer(t, &fakeController{}, Config{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebSocketReceivesStatusThenEvents(t *testing.T) {
	ctrl := &fakeController{status: engine.Status{Enabled: true, Remote: "origin"}}
	s := newTestServer(t, ctrl, Config{Address: "127.0.0.1:0"})
	require.NoError(t, s.Start())
	defer s.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+s.Addr()+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var hello Message
	require.NoError(t, json.Unmarshal(data, &hello))
	assert.Equal(t, MessageTypeStatus, hello.Type)

	var st engine.Status
	require.NoError(t, json.Unmarshal(hello.Data, &st))
	assert.Equal(t, "origin", st.Remote)

	// Registration follows the hello write
	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	s.Report(engine.Event{Kind: engine.EventDisabled, Time: time.Now(), Branch: "main", Stage: engine.StagePush, ExitCode: 1})

	_, data, err = conn.Read(ctx)
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, MessageTypeEvent, msg.Type)

	var ev engine.Event
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	assert.Equal(t, engine.EventDisabled, ev.Kind)
	assert.Equal(t, "main", ev.Branch)
	assert.Equal(t, 1, ev.ExitCode)
}

func TestStopWithoutStart(t *testing.T) {
	s := newTestServer(t, &fakeController{}, Config{})
	assert.NoError(t, s.Stop())
}
