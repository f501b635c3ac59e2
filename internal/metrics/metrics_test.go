package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Forwarded()
		m.Dropped()
		m.Unclassified()
		m.SinkOverflow()
		m.SinkError()
		m.Recorded()
		m.Refresh(nil)
		m.SetTrackers(3)
		m.SetRunning(true)
		m.SetQueueLength(1)
	})
}

func TestCounters(t *testing.T) {
	m := New()

	m.Forwarded()
	m.Forwarded()
	m.Dropped()
	m.Refresh(nil)
	m.Refresh(errors.New("boom"))
	m.SetTrackers(5)
	m.SetRunning(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.packets.WithLabelValues("forwarded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.packets.WithLabelValues("dropped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshes.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshes.WithLabelValues("error")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.trackers))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.loopRunning))
}

func TestHandler(t *testing.T) {
	m := New()
	m.Dropped()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `trackguard_packets_total{verdict="dropped"} 1`)
}
