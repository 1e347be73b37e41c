package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry is served on /metrics by the node's HTTP server.
var Registry = prometheus.NewRegistry()

var (
	// OTASessionsTotal counts finished update attempts.
	// outcome: finish/fail, reason: empty on success, otherwise the failure reason.
	OTASessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensornode_ota_sessions_total",
			Help: "Total number of firmware update attempts by outcome.",
		},
		[]string{"outcome", "reason"},
	)

	// OTAResultsTotal counts result messages emitted to the server.
	OTAResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensornode_ota_results_total",
			Help: "Total number of update results sent, by status.",
		},
		[]string{"status"},
	)

	// OTABytesWritten counts image bytes handed to the flasher.
	OTABytesWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sensornode_ota_bytes_written_total",
			Help: "Total number of firmware bytes written to storage.",
		},
	)

	// LinkStatus records the transport link (1 = connected, 0 = down).
	LinkStatus = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sensornode_link_status",
			Help: "The connectivity status to the server (1=Connected, 0=Down).",
		},
	)

	// TelemetryPublished counts sensor readings by peripheral and outcome.
	TelemetryPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensornode_telemetry_published_total",
			Help: "Total number of sensor readings published.",
		},
		[]string{"peripheral", "status"}, // status: success/failed
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		OTASessionsTotal,
		OTAResultsTotal,
		OTABytesWritten,
		LinkStatus,
		TelemetryPublished,
	)
}
