// Package metrics exports pipeline telemetry to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aliskhannn/imager/internal/processor"
)

const namespace = "imager"

// Metrics records image and batch outcomes. A nil *Metrics is a no-op.
type Metrics struct {
	images          *prometheus.CounterVec
	imageDuration   prometheus.Histogram
	batchSize       prometheus.Histogram
	batches         *prometheus.CounterVec
	cleanupFailures prometheus.Counter
}

// New registers the pipeline metrics on reg.
// Pass a fresh registry in tests to avoid duplicate registration.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		images: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "images_processed_total",
			Help:      "Images run through the pipeline, by outcome.",
		}, []string{"outcome"}),
		imageDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "image_processing_duration_seconds",
			Help:      "Time spent decoding, resizing, watermarking and storing one image.",
			Buckets:   prometheus.DefBuckets,
		}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of files per batch upload.",
			Buckets:   []float64{1, 2, 3, 5, 8, 10},
		}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Batch uploads, by outcome.",
		}, []string{"outcome"}),
		cleanupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_failures_total",
			Help:      "Staged or processed files that could not be deleted.",
		}),
	}

	collectors := []prometheus.Collector{m.images, m.imageDuration, m.batchSize, m.batches, m.cleanupFailures}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}

	return m, nil
}

// ObserveImage records one ProcessImage call.
func (m *Metrics) ObserveImage(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.images.WithLabelValues(Outcome(err)).Inc()
	m.imageDuration.Observe(d.Seconds())
}

// CountImage records the outcome of one image whose duration is not tracked,
// such as a batch item.
func (m *Metrics) CountImage(err error) {
	if m == nil {
		return
	}
	m.images.WithLabelValues(Outcome(err)).Inc()
}

// ObserveBatch records one batch of size files.
func (m *Metrics) ObserveBatch(size int, err error) {
	if m == nil {
		return
	}
	m.batchSize.Observe(float64(size))
	if err != nil {
		m.batches.WithLabelValues("failed").Inc()
		return
	}
	m.batches.WithLabelValues("ok").Inc()
}

// CleanupFailed counts a file that could not be deleted.
func (m *Metrics) CleanupFailed() {
	if m == nil {
		return
	}
	m.cleanupFailures.Inc()
}

// Outcome maps a pipeline error to a label value.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, processor.ErrDecode):
		return "decode_error"
	case errors.Is(err, processor.ErrEncode):
		return "encode_error"
	case errors.Is(err, processor.ErrWrite):
		return "write_error"
	default:
		return "error"
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
