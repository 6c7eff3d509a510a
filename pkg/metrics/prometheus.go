package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns every Prometheus collector of the engine.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Evaluation pipeline
	evaluations          *prometheus.CounterVec
	submissionsDuplicate prometheus.Counter
	scoringLatency       prometheus.Histogram
	scoringErrors        prometheus.Counter
	similarityLatency    prometheus.Histogram
	archiveSize          prometheus.Gauge
	overlap              prometheus.Histogram
	evaluatorLatency     *prometheus.HistogramVec

	// Ledger
	allocations           *prometheus.CounterVec
	rewardUnits           *prometheus.CounterVec
	partialAllocations    *prometheus.CounterVec
	poolBalance           *prometheus.GaugeVec
	reconcileCorrections  *prometheus.CounterVec
	ledgerInconsistencies prometheus.Counter
	epochAdvances         *prometheus.CounterVec
	currentEpoch          prometheus.Gauge

	// Queue and workers
	queueSize              prometheus.Gauge
	queueCapacity          prometheus.Gauge
	queueUtilization       prometheus.Gauge
	queueEnqueued          prometheus.Counter
	queueDequeued          prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueProcessingLatency prometheus.Histogram
	workerCount            prometheus.Gauge
	workerActive           prometheus.Gauge
	workerLatency          prometheus.Histogram
	workerErrors           prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	errorsByComponent *prometheus.CounterVec
}

var globalManager *Manager //nolint:gochecknoglobals // singleton used by package-level helpers

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // keeps default Go collectors out

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "assay",
		subsystem:        "engine",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets,
	})
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)

	m.evaluations = m.counterVec("evaluations_total", "Evaluations by outcome", "outcome")
	m.submissionsDuplicate = m.counter("submissions_duplicate_total", "Submissions dropped by intake dedupe")
	m.scoringLatency = m.histogram("scoring_latency_milliseconds", "Scorer latency in milliseconds", m.histogramBuckets)
	m.scoringErrors = m.counter("scoring_errors_total", "Scorer input range violations")
	m.similarityLatency = m.histogram("similarity_scan_milliseconds", "Archive similarity scan latency in milliseconds", m.histogramBuckets)
	m.archiveSize = m.gauge("archive_entries", "Archive entries seen by the last similarity scan")
	m.overlap = m.histogram("overlap_percent", "Redundancy overlap percentage",
		[]float64{5, 9.2, 19.2, 30, 50, 75, 90, 100})
	m.evaluatorLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name:    "evaluator_latency_milliseconds",
		Help:    "Evaluator oracle latency in milliseconds",
		Buckets: m.histogramBuckets,
	}, []string{"source", "status"})

	m.allocations = m.counterVec("allocations_total", "Allocation records created", "epoch", "metal")
	m.rewardUnits = m.counterVec("reward_units_total", "Token units granted", "epoch", "metal")
	m.partialAllocations = m.counterVec("partial_allocations_total", "Partial or zero-reward allocations", "reason")
	m.poolBalance = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "pool_balance_units",
		Help: "Reconciled pool balance",
	}, []string{"epoch", "metal"})
	m.reconcileCorrections = m.counterVec("reconcile_corrections_total", "Stored balances overwritten by reconciliation", "epoch", "metal")
	m.ledgerInconsistencies = m.counter("ledger_inconsistencies_total", "Reconciliations that found unexplainable pool state")
	m.epochAdvances = m.counterVec("epoch_advances_total", "Epoch pointer advances", "from", "to")
	m.currentEpoch = m.gauge("current_epoch", "Current epoch pointer (4 means closed)")

	m.queueSize = m.gauge("queue_size", "Current size of the submission queue")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum submission queue capacity")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue size over capacity")
	m.queueEnqueued = m.counter("queue_enqueued_total", "Submissions enqueued")
	m.queueDequeued = m.counter("queue_dequeued_total", "Submissions dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Enqueue failures")
	m.queueProcessingLatency = m.histogram("queue_processing_latency_milliseconds", "Enqueue latency in milliseconds", m.histogramBuckets)
	m.workerCount = m.gauge("worker_count", "Configured workers")
	m.workerActive = m.gauge("worker_active_count", "Workers processing a submission")
	m.workerLatency = m.histogram("worker_processing_latency_milliseconds", "Per-submission processing latency in milliseconds", m.histogramBuckets)
	m.workerErrors = m.counter("worker_errors_total", "Submissions that failed processing")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name:    "http_request_duration_milliseconds",
		Help:    "HTTP request duration in milliseconds",
		Buckets: m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.errorsByComponent = m.counterVec("errors_total", "Errors by component and type", "component", "error_type")
}

// RecordEvaluation counts an evaluation outcome.
func RecordEvaluation(outcome string) {
	globalManager.evaluations.WithLabelValues(outcome).Inc()
}

// RecordSubmissionDuplicate counts a submission dropped by dedupe.
func RecordSubmissionDuplicate() {
	globalManager.submissionsDuplicate.Inc()
}

// RecordScoringLatency records scoring latency in milliseconds.
func RecordScoringLatency(latencyMs float64) {
	globalManager.scoringLatency.Observe(latencyMs)
}

// RecordScoringError increments the scoring errors counter.
func RecordScoringError() {
	globalManager.scoringErrors.Inc()
}

// RecordSimilarityScan records a scan duration and the archive size it covered.
func RecordSimilarityScan(latencyMs float64, archiveSize int) {
	globalManager.similarityLatency.Observe(latencyMs)
	globalManager.archiveSize.Set(float64(archiveSize))
}

// RecordOverlap observes a redundancy overlap percentage.
func RecordOverlap(percent float64) {
	globalManager.overlap.Observe(percent)
}

// RecordEvaluatorLatency records an oracle call.
func RecordEvaluatorLatency(source, status string, latencyMs float64) {
	globalManager.evaluatorLatency.WithLabelValues(source, status).Observe(latencyMs)
}

// RecordAllocation counts an allocation and the units it granted.
func RecordAllocation(epoch, metal string, reward int64) {
	globalManager.allocations.WithLabelValues(epoch, metal).Inc()
	globalManager.rewardUnits.WithLabelValues(epoch, metal).Add(float64(reward))
}

// RecordPartialAllocation counts a partial or zero-reward allocation.
func RecordPartialAllocation(reason string) {
	globalManager.partialAllocations.WithLabelValues(reason).Inc()
}

// UpdatePoolBalance sets the reconciled balance of a pool.
func UpdatePoolBalance(epoch, metal string, balance int64) {
	globalManager.poolBalance.WithLabelValues(epoch, metal).Set(float64(balance))
}

// RecordReconcileCorrection counts a stored balance overwritten by reconciliation.
func RecordReconcileCorrection(epoch, metal string) {
	globalManager.reconcileCorrections.WithLabelValues(epoch, metal).Inc()
}

// RecordLedgerInconsistency counts a fatal reconciliation failure.
func RecordLedgerInconsistency() {
	globalManager.ledgerInconsistencies.Inc()
}

// RecordEpochAdvance counts a pointer advance and sets the current epoch gauge.
func RecordEpochAdvance(from, to string, current int) {
	globalManager.epochAdvances.WithLabelValues(from, to).Inc()
	globalManager.currentEpoch.Set(float64(current))
}

// UpdateCurrentEpoch sets the current epoch gauge.
func UpdateCurrentEpoch(current int) {
	globalManager.currentEpoch.Set(float64(current))
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueued.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeued.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// RecordQueueProcessingLatency records enqueue latency.
func RecordQueueProcessingLatency(latencyMs float64) {
	globalManager.queueProcessingLatency.Observe(latencyMs)
}

// UpdateWorkerCount sets the configured worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// AddWorkerActive adjusts the active worker gauge.
func AddWorkerActive(delta int) {
	globalManager.workerActive.Add(float64(delta))
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// Handler serves the custom registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(customRegistry, promhttp.HandlerOpts{})
}
