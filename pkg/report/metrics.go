package report

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/thinger-io/thinger-ota/pkg/firmware"
	"github.com/thinger-io/thinger-ota/pkg/ota"
)

const namespace = "thinger_ota"

// Metrics exports rollout events as Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	rollouts      prometheus.Counter
	firmwareBytes prometheus.Gauge
	results       *prometheus.CounterVec
	duration      prometheus.Histogram
	progress      *prometheus.GaugeVec
	compression   *prometheus.GaugeVec
	bytesSent     prometheus.Counter
	fleetDone     prometheus.Gauge
	fleetTotal    prometheus.Gauge
}

// NewMetrics creates the rollout metrics on a private registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		rollouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollouts_total",
			Help:      "Number of rollouts started",
		}),
		firmwareBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "firmware_size_bytes",
			Help:      "Size of the firmware image being pushed",
		}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_results_total",
			Help:      "Device updates by outcome",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "device_update_duration_seconds",
			Help:      "Time spent updating a single device",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		progress: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_progress_percent",
			Help:      "Transfer progress of the device being updated",
		}, []string{"device"}),
		compression: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "compression_ratio_percent",
			Help:      "Compressed size as a percentage of the original image",
		}, []string{"scheme"}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Payload bytes written to devices",
		}),
		fleetDone: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fleet_devices_done",
			Help:      "Devices processed in the current rollout",
		}),
		fleetTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fleet_devices_total",
			Help:      "Devices targeted by the current rollout",
		}),
	}

	m.registry.MustRegister(
		m.rollouts, m.firmwareBytes, m.results, m.duration, m.progress,
		m.compression, m.bytesSent, m.fleetDone, m.fleetTotal,
	)
	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// InitReport implements ota.Reporter
func (m *Metrics) InitReport(_ ota.Target, image *firmware.Image) {
	m.rollouts.Inc()
	m.firmwareBytes.Set(float64(image.Size()))
	m.fleetDone.Set(0)
	m.fleetTotal.Set(0)
}

// LogCompressionResult implements ota.Reporter
func (m *Metrics) LogCompressionResult(scheme string, originalSize, compressedSize int) {
	if originalSize <= 0 {
		return
	}
	m.compression.WithLabelValues(scheme).Set(float64(compressedSize) / float64(originalSize) * 100)
}

// LogProgress implements ota.Reporter
func (m *Metrics) LogProgress(deviceID string, percent float64) {
	m.progress.WithLabelValues(deviceID).Set(percent)
}

// LogResult implements ota.Reporter
func (m *Metrics) LogResult(result ota.Result) {
	m.results.WithLabelValues(string(result.Outcome)).Inc()
	if result.Duration > 0 {
		m.duration.Observe(result.Duration.Seconds())
	}
	m.bytesSent.Add(float64(result.BytesSent))
	m.progress.DeleteLabelValues(result.DeviceID)
}

// LogFleetProgress implements ota.FleetProgressReporter
func (m *Metrics) LogFleetProgress(done, total int) {
	m.fleetDone.Set(float64(done))
	m.fleetTotal.Set(float64(total))
}

// EndReport implements ota.Reporter
func (m *Metrics) EndReport() {}
