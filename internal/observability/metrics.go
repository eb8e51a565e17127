package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Admission metrics
	requestsAdmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "synthcore_requests_admitted_total",
		Help: "Total number of requests admitted, by category",
	}, []string{"category"})

	requestsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "synthcore_requests_rejected_total",
		Help: "Total number of requests rejected at admission",
	})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "synthcore_queue_depth",
		Help: "Current number of requests waiting in each category queue",
	}, []string{"category"})

	// Batch metrics
	batchesFormed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "synthcore_batches_formed_total",
		Help: "Total number of batches formed, by category and trigger (size or timeout)",
	}, []string{"category", "trigger"})

	batchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "synthcore_batch_size",
		Help:    "Number of requests per dispatched batch",
		Buckets: []float64{1, 2, 4, 8, 16, 32},
	})

	batchSplits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "synthcore_batch_splits_total",
		Help: "Total number of batch splits forced by the memory ceiling",
	})

	dispatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "synthcore_dispatch_latency_seconds",
		Help:    "Wall time from batch formation to all handles resolved",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	batchRTF = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "synthcore_batch_rtf",
		Help:    "Real-time factor per batch (processing time / audio duration)",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 4.0},
	})

	// Cache metrics
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "synthcore_voice_cache_hits_total",
		Help: "Total voice embedding cache hits",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "synthcore_voice_cache_misses_total",
		Help: "Total voice embedding cache misses",
	})

	cacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "synthcore_voice_cache_evictions_total",
		Help: "Total voice embedding cache evictions",
	})

	cacheOccupancy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "synthcore_voice_cache_entries",
		Help: "Current number of voice embeddings resident in the cache",
	})

	cacheBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "synthcore_voice_cache_bytes",
		Help: "Total memory footprint of resident voice embeddings",
	})

	// Auto-tuner metrics
	tunerAdjustments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "synthcore_tuner_adjustments_total",
		Help: "Total auto-tuner adjustments, by category and direction",
	}, []string{"category", "parameter", "direction"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "synthcore_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})
)

// RecordAdmission records an admitted request
func RecordAdmission(category string) {
	requestsAdmitted.WithLabelValues(category).Inc()
}

// RecordRejection records a request rejected at admission
func RecordRejection() {
	requestsRejected.Inc()
}

// SetQueueDepth updates the queue depth gauge for a category
func SetQueueDepth(category string, depth int) {
	queueDepth.WithLabelValues(category).Set(float64(depth))
}

// RecordBatchFormed records a formed batch; trigger is "size" or "timeout"
func RecordBatchFormed(category, trigger string, size int) {
	batchesFormed.WithLabelValues(category, trigger).Inc()
	batchSize.Observe(float64(size))
}

// RecordBatchSplit records a memory-ceiling batch split
func RecordBatchSplit() {
	batchSplits.Inc()
}

// RecordCacheHit records a voice cache hit
func RecordCacheHit() {
	cacheHits.Inc()
}

// RecordCacheMiss records a voice cache miss
func RecordCacheMiss() {
	cacheMisses.Inc()
}

// RecordCacheEviction records a voice cache eviction
func RecordCacheEviction() {
	cacheEvictions.Inc()
}

// SetCacheOccupancy updates the cache occupancy gauges
func SetCacheOccupancy(entries int, bytes int64) {
	cacheOccupancy.Set(float64(entries))
	cacheBytes.Set(float64(bytes))
}

// RecordTunerAdjustment records an auto-tuner change; parameter is
// "batch_size" or "timeout", direction is "up" or "down"
func RecordTunerAdjustment(category, parameter, direction string) {
	tunerAdjustments.WithLabelValues(category, parameter, direction).Inc()
}

// RecordError records an error
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// BatchMetrics tracks timing for a single dispatched batch
type BatchMetrics struct {
	category  string
	startTime time.Time
	mu        sync.Mutex
	done      bool
}

// NewBatchMetrics creates a timing tracker for one batch
func NewBatchMetrics(category string) *BatchMetrics {
	return &BatchMetrics{
		category:  category,
		startTime: time.Now(),
	}
}

// RecordDone records completion of a batch dispatch; audioDuration may be
// zero when every request in the batch failed
func (m *BatchMetrics) RecordDone(audioDuration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.done {
		return
	}
	m.done = true

	elapsed := time.Since(m.startTime)
	dispatchLatency.Observe(elapsed.Seconds())

	if audioDuration > 0 {
		batchRTF.Observe(elapsed.Seconds() / audioDuration.Seconds())
	}
}

// Elapsed returns the wall time since batch formation
func (m *BatchMetrics) Elapsed() time.Duration {
	return time.Since(m.startTime)
}
