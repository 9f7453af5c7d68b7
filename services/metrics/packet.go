package metricsvc

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/trezcool/mitihani/core/packet"
)

// PacketMetrics exposes custody ledger activity to Prometheus.
type PacketMetrics struct {
	packetsCreated   prometheus.Counter
	handovers        *prometheus.CounterVec   // by status_at_handover, result
	handoverDuration *prometheus.HistogramVec // by result
	incidents        *prometheus.CounterVec   // by status
}

var _ packet.Observer = (*PacketMetrics)(nil)

// NewPacketMetrics creates the packet metrics and registers them on registry.
func NewPacketMetrics(registry prometheus.Registerer) (*PacketMetrics, error) {
	m := &PacketMetrics{
		packetsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mitihani_packets_created_total",
			Help: "Total number of exam packets registered",
		}),
		handovers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mitihani_handovers_total",
				Help: "Total number of handover attempts by requested status and result",
			},
			[]string{"status", "result"}, // result: accepted, rejected, invalid, conflict, error
		),
		handoverDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mitihani_handover_duration_seconds",
				Help:    "Time taken to record a handover, retries included",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"result"},
		),
		incidents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mitihani_packet_incidents_total",
				Help: "Total number of packets reported missing or damaged",
			},
			[]string{"status"},
		),
	}
	if err := registry.Register(m); err != nil {
		return nil, errors.Wrap(err, "registering packet metrics")
	}
	return m, nil
}

func (m *PacketMetrics) PacketCreated() {
	m.packetsCreated.Inc()
}

// unknownStatus labels handovers whose requested status failed validation, keeping the series bounded.
const unknownStatus = "unknown"

func (m *PacketMetrics) HandoverRecorded(status packet.Status, result string, elapsed time.Duration) {
	label := unknownStatus
	if status.IsValid() {
		label = string(status)
	}
	m.handovers.WithLabelValues(label, result).Inc()
	m.handoverDuration.WithLabelValues(result).Observe(elapsed.Seconds())
	if result == packet.ResultAccepted && status.IsIncident() {
		m.incidents.WithLabelValues(string(status)).Inc()
	}
}

// Describe implements prometheus.Collector.
func (m *PacketMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.packetsCreated.Describe(ch)
	m.handovers.Describe(ch)
	m.handoverDuration.Describe(ch)
	m.incidents.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *PacketMetrics) Collect(ch chan<- prometheus.Metric) {
	m.packetsCreated.Collect(ch)
	m.handovers.Collect(ch)
	m.handoverDuration.Collect(ch)
	m.incidents.Collect(ch)
}
