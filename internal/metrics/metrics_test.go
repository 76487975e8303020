package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/szagi3891/notatki-panel/internal/engine"
)

func TestCollectorCountsCycles(t *testing.T) {
	c := New()
	now := time.Unix(1_700_000_000, 0)

	c.Report(engine.Event{Kind: engine.EventCycle, Time: now, Outcome: engine.OutcomeInSync, Duration: time.Second})
	c.Report(engine.Event{Kind: engine.EventCycle, Time: now, Outcome: engine.OutcomeInSync})
	c.Report(engine.Event{Kind: engine.EventCycle, Time: now, Outcome: engine.OutcomePulled})

	assert.Equal(t, 2.0, testutil.ToFloat64(c.cycles.WithLabelValues("in_sync")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cycles.WithLabelValues("pulled")))
	assert.Equal(t, float64(now.Unix()), testutil.ToFloat64(c.lastSync))
}

func TestCollectorStageFailuresAndQueue(t *testing.T) {
	c := New()

	c.Report(engine.Event{Kind: engine.EventStage, Stage: engine.StageFetch, ExitCode: 0})
	c.Report(engine.Event{Kind: engine.EventStage, Stage: engine.StagePull, ExitCode: 1})
	c.Report(engine.Event{Kind: engine.EventStage, Stage: engine.StageBranch, ExitCode: -1, Err: "detached"})
	c.Report(engine.Event{Kind: engine.EventQueue, Drained: 3})
	c.Report(engine.Event{Kind: engine.EventQueue, Drained: 1, Err: "boom"})

	assert.Equal(t, 0.0, testutil.ToFloat64(c.stageFailures.WithLabelValues("fetch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.stageFailures.WithLabelValues("pull")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.stageFailures.WithLabelValues("branch")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.queueActions))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.queueFailures))
}

func TestCollectorEnabledGauge(t *testing.T) {
	c := New()
	assert.Equal(t, 1.0, testutil.ToFloat64(c.enabled))

	c.Report(engine.Event{Kind: engine.EventDisabled})
	assert.Equal(t, 0.0, testutil.ToFloat64(c.enabled))

	c.Report(engine.Event{Kind: engine.EventEnabled})
	assert.Equal(t, 1.0, testutil.ToFloat64(c.enabled))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := New()
	c.Report(engine.Event{Kind: engine.EventCycle, Outcome: engine.OutcomeRebased})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `notesync_cycles_total{outcome="rebased"} 1`), body)
	assert.Contains(t, body, "notesync_enabled 1")
	assert.Contains(t, body, "go_goroutines")
}

func TestNilCollectorIgnoresEvents(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() { c.Report(engine.Event{Kind: engine.EventCycle}) })
}
