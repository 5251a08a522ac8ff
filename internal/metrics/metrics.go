package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Session lifecycle counters
	SessionsNegotiated  atomic.Uint64
	NegotiationFailures atomic.Uint64
	SessionConnected    atomic.Uint64 // 0 = down, 1 = connected

	// Media flow counters
	UnitsReceived atomic.Uint64
	UnitsDropped  atomic.Uint64
	FramesDecoded atomic.Uint64
	DecodeErrors  atomic.Uint64

	// Capture counters
	CapturesTaken    atomic.Uint64
	CapturesNotReady atomic.Uint64

	// Recording state
	RecordingsStarted atomic.Uint64
	RecordingFailures atomic.Uint64
	RecordingActive   atomic.Uint64 // 0 = inactive, 1 = active
	RecordingBytes    atomic.Uint64
	RecordingChunks   atomic.Uint64

	// Artifact gallery
	ArtifactsStored  atomic.Uint64
	ArtifactsEvicted atomic.Uint64

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.registerPrometheusMetrics()

	return m
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	// Session metrics
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "console_sessions_negotiated_total",
			Help: "Total media sessions negotiated with the gateway",
		},
		func() float64 { return float64(m.SessionsNegotiated.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "console_negotiation_failures_total",
			Help: "Total failed session negotiations",
		},
		func() float64 { return float64(m.NegotiationFailures.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "console_session_connected",
			Help: "Session connected (0=down, 1=connected)",
		},
		func() float64 { return float64(m.SessionConnected.Load()) },
	))

	// Media flow metrics
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "console_units_received_total",
			Help: "Total access units received from the source",
		},
		func() float64 { return float64(m.UnitsReceived.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "console_units_dropped_total",
			Help: "Total access units dropped on buffer pressure",
		},
		func() float64 { return float64(m.UnitsDropped.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "console_frames_decoded_total",
			Help: "Total keyframes decoded onto the playback surface",
		},
		func() float64 { return float64(m.FramesDecoded.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "console_decode_errors_total",
			Help: "Total keyframe decode errors",
		},
		func() float64 { return float64(m.DecodeErrors.Load()) },
	))

	// Capture metrics
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "console_captures_taken_total",
			Help: "Total frame captures produced",
		},
		func() float64 { return float64(m.CapturesTaken.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "console_captures_not_ready_total",
			Help: "Total capture requests with no frame available",
		},
		func() float64 { return float64(m.CapturesNotReady.Load()) },
	))

	// Recording metrics
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "console_recordings_started_total",
			Help: "Total recording sessions started",
		},
		func() float64 { return float64(m.RecordingsStarted.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "console_recording_failures_total",
			Help: "Total rejected or failed recording operations",
		},
		func() float64 { return float64(m.RecordingFailures.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "console_recording_active",
			Help: "Recording active (0=inactive, 1=active)",
		},
		func() float64 { return float64(m.RecordingActive.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "console_recording_bytes",
			Help: "Bytes buffered by the active recording",
		},
		func() float64 { return float64(m.RecordingBytes.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "console_recording_chunks",
			Help: "Sealed chunks in the active recording",
		},
		func() float64 { return float64(m.RecordingChunks.Load()) },
	))

	// Gallery metrics
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "console_artifacts_stored_total",
			Help: "Total artifacts added to the gallery",
		},
		func() float64 { return float64(m.ArtifactsStored.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "console_artifacts_evicted_total",
			Help: "Total artifacts evicted from the gallery",
		},
		func() float64 { return float64(m.ArtifactsEvicted.Load()) },
	))
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server
func (m *Metrics) StartServer(addr string) error {
	http.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, nil)
}
