package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hb_acquire"

// AcquireMetrics holds all Prometheus metrics for the acquisition daemon.
type AcquireMetrics struct {
	LinesTotal        *prometheus.CounterVec
	SampleRateChanges prometheus.Counter
	Rotations         prometheus.Counter
	LinesWritten      prometheus.Gauge
	SampleRate        prometheus.Gauge
	GPSFix            prometheus.Gauge
	Clipping          prometheus.Gauge

	DeviceState      prometheus.Gauge
	DeviceReconnects prometheus.Counter

	QueueDepth    prometheus.Gauge
	UploadsTotal  *prometheus.CounterVec
	UploadedBytes prometheus.Counter
	UploaderAlive prometheus.Gauge
}

// NewAcquireMetrics initializes the metrics and registers them with reg.
func NewAcquireMetrics(reg prometheus.Registerer) *AcquireMetrics {
	f := promauto.With(reg)
	return &AcquireMetrics{
		LinesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "lines_total",
			Help:      "Total number of lines read from the device by outcome.",
		}, []string{"outcome"}), // outcome: accepted, parse_error, decode_error, comment, ignored
		SampleRateChanges: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "sample_rate_changes_total",
			Help:      "Number of times the device reported a different sample rate mid-session.",
		}),
		Rotations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "rotations_total",
			Help:      "Number of capture files closed by rotation.",
		}),
		LinesWritten: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "lines_written",
			Help:      "Records in the active capture file.",
		}),
		SampleRate: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "sample_rate_hz",
			Help:      "Established sample rate, -1 while unknown.",
		}),
		GPSFix: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "gps_fix",
			Help:      "1 when the latest record reported a GPS fix.",
		}),
		Clipping: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "clipping",
			Help:      "1 when the latest record reported clipping.",
		}),
		DeviceState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "state",
			Help:      "Serial connection state (0 disconnected, 1 connected, 2 reconnecting, 3 failed).",
		}),
		DeviceReconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "reconnects_total",
			Help:      "Number of successful reconnects after a device failure.",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "queue_depth",
			Help:      "Jobs waiting in the upload queue.",
		}),
		UploadsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "attempts_total",
			Help:      "Upload attempts by result.",
		}, []string{"result"}), // result: success, put_error, tag_error
		UploadedBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "bytes_total",
			Help:      "Bytes sent to remote storage.",
		}),
		UploaderAlive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "worker_alive",
			Help:      "1 while the upload worker is running.",
		}),
	}
}

// BoolGauge converts a flag to a gauge value.
func BoolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
