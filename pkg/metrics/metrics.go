// Package metrics exports live session signals to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-go/vai-live/pkg/core/live"
)

var statuses = []live.Status{live.StatusIdle, live.StatusConnecting, live.StatusConnected, live.StatusError}

// Metrics implements live.Observer on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Status      *prometheus.GaugeVec
	Transitions *prometheus.CounterVec

	ChunksSent    prometheus.Counter
	BytesSent     prometheus.Counter
	ChunksDropped *prometheus.CounterVec

	ScheduledSeconds prometheus.Counter
	ChunkDuration    prometheus.Histogram
	DecodeFailures   prometheus.Counter

	Interruptions  prometheus.Counter
	SourcesStopped prometheus.Counter
	TurnsCompleted prometheus.Counter
}

// New registers every collector under namespace ("vai_live" when empty).
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "vai_live"
	}
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		Status: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "status",
			Help:      "1 for the session's current status, 0 otherwise",
		}, []string{"status"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Status transitions by target status",
		}, []string{"status"}),
		ChunksSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_sent_total",
			Help:      "Captured audio chunks delivered to the transport",
		}),
		BytesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_sent_bytes_total",
			Help:      "PCM bytes delivered to the transport",
		}),
		ChunksDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_dropped_total",
			Help:      "Captured audio chunks that were not delivered",
		}, []string{"reason"}),
		ScheduledSeconds: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_scheduled_seconds_total",
			Help:      "Seconds of model audio scheduled for playback",
		}),
		ChunkDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "playback_chunk_seconds",
			Help:      "Duration of individual playback chunks",
			Buckets:   []float64{0.01, 0.02, 0.04, 0.08, 0.16, 0.32, 0.64, 1.28},
		}),
		DecodeFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Inbound audio chunks that could not be decoded",
		}),
		Interruptions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interruptions_total",
			Help:      "Server interruptions that cleared playback",
		}),
		SourcesStopped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interrupted_sources_total",
			Help:      "Playback buffers stopped by interruptions",
		}),
		TurnsCompleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_completed_total",
			Help:      "Model turns reported complete",
		}),
	}
	m.StatusChanged(live.StatusIdle)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) StatusChanged(s live.Status) {
	for _, st := range statuses {
		v := 0.0
		if st == s {
			v = 1
		}
		m.Status.WithLabelValues(st.String()).Set(v)
	}
	m.Transitions.WithLabelValues(s.String()).Inc()
}

func (m *Metrics) ChunkSent(bytes int) {
	m.ChunksSent.Inc()
	m.BytesSent.Add(float64(bytes))
}

func (m *Metrics) ChunkDropped(reason string) {
	m.ChunksDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) AudioScheduled(d time.Duration) {
	m.ScheduledSeconds.Add(d.Seconds())
	m.ChunkDuration.Observe(d.Seconds())
}

func (m *Metrics) DecodeFailed() { m.DecodeFailures.Inc() }

func (m *Metrics) Interrupted(stopped int) {
	m.Interruptions.Inc()
	m.SourcesStopped.Add(float64(stopped))
}

func (m *Metrics) TurnComplete() { m.TurnsCompleted.Inc() }

// Handler serves /metrics and /healthz.
func (m *Metrics) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

var _ live.Observer = (*Metrics)(nil)
