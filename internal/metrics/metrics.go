// Package metrics exposes Prometheus counters for the filtering engine. All
// methods are safe on a nil *Metrics so components can run without them.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const namespace = "trackguard"

type Metrics struct {
	registry *prometheus.Registry

	packets      *prometheus.CounterVec
	unclassified prometheus.Counter
	sinkOverflow prometheus.Counter
	sinkErrors   prometheus.Counter
	recorded     prometheus.Counter
	refreshes    *prometheus.CounterVec
	trackers     prometheus.Gauge
	loopRunning  prometheus.Gauge
	queuedEvents prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_total",
			Help:      "Packets read from the tunnel by verdict.",
		}, []string{"verdict"}),
		unclassified: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_unclassified_total",
			Help:      "Packets that could not be classified and were forwarded unfiltered.",
		}),
		sinkOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_overflow_total",
			Help:      "Blocked events discarded because the sink queue was full.",
		}),
		sinkErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Blocked events that failed to persist.",
		}),
		recorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_recorded_total",
			Help:      "Blocked events persisted to the event store.",
		}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracker_refreshes_total",
			Help:      "Tracker list refresh attempts by result.",
		}, []string{"result"}),
		trackers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "trackers",
			Help:      "Trackers currently in the index.",
		}),
		loopRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "filter_running",
			Help:      "1 while the filtering loop is running.",
		}),
		queuedEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sink_queue_length",
			Help:      "Blocked events waiting to be persisted.",
		}),
	}

	m.registry.MustRegister(
		m.packets, m.unclassified, m.sinkOverflow, m.sinkErrors, m.recorded,
		m.refreshes, m.trackers, m.loopRunning, m.queuedEvents,
		prometheus.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Forwarded() {
	if m == nil {
		return
	}
	m.packets.WithLabelValues("forwarded").Inc()
}

func (m *Metrics) Dropped() {
	if m == nil {
		return
	}
	m.packets.WithLabelValues("dropped").Inc()
}

func (m *Metrics) Unclassified() {
	if m == nil {
		return
	}
	m.unclassified.Inc()
}

func (m *Metrics) SinkOverflow() {
	if m == nil {
		return
	}
	m.sinkOverflow.Inc()
}

func (m *Metrics) SinkError() {
	if m == nil {
		return
	}
	m.sinkErrors.Inc()
}

func (m *Metrics) Recorded() {
	if m == nil {
		return
	}
	m.recorded.Inc()
}

func (m *Metrics) SetQueueLength(n int) {
	if m == nil {
		return
	}
	m.queuedEvents.Set(float64(n))
}

// Refresh records the outcome of a tracker list refresh.
func (m *Metrics) Refresh(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) SetTrackers(n int) {
	if m == nil {
		return
	}
	m.trackers.Set(float64(n))
}

func (m *Metrics) SetRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.loopRunning.Set(1)
	} else {
		m.loopRunning.Set(0)
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes the registry on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr, path string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Str("path", path).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
