// Package metrics provides Prometheus metrics for the levelup service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the levelup service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	constLabels      map[string]string
	registry         prometheus.Registerer

	// Progression
	grantsTotal      *prometheus.CounterVec
	grantXP          *prometheus.CounterVec
	grantFailures    *prometheus.CounterVec
	cooldownSkips    prometheus.Counter
	levelUps         prometheus.Counter
	trackedUsers     prometheus.Gauge
	storeSaveLatency prometheus.Histogram

	// Voice accrual
	voiceSessionsActive prometheus.Gauge
	voiceTicks          prometheus.Counter

	// Rewards
	roleAwards    *prometheus.CounterVec
	notifications *prometheus.CounterVec

	// Reconciliation
	syncStatus      *prometheus.GaugeVec
	syncDesyncRatio prometheus.Gauge
	syncUpdates     *prometheus.CounterVec

	// Backups
	backupsCreated  *prometheus.CounterVec
	backupsFailed   *prometheus.CounterVec
	backupsPruned   prometheus.Counter
	restores        *prometheus.CounterVec
	backupDuration  prometheus.Histogram
	backupsRetained prometheus.Gauge

	// Ingestion
	eventsReceived  *prometheus.CounterVec
	eventsDuplicate prometheus.Counter
	queueSize       prometheus.Gauge
	queueCapacity   prometheus.Gauge
	queueRejected   prometheus.Counter
	workerCount     prometheus.Gauge
	workerLatency   prometheus.Histogram

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "levelup",
		subsystem:        "progression",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		constLabels:      map[string]string{},
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
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: m.histogramBuckets,
	})
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every metric definition
	m.grantsTotal = m.counterVec("grants_total", "XP grants applied, by source", "source")
	m.grantXP = m.counterVec("granted_xp_total", "XP granted, by source", "source")
	m.grantFailures = m.counterVec("grant_failures_total", "Grants aborted by a persistence failure", "source")
	m.cooldownSkips = m.counter("cooldown_skips_total", "Text grants skipped because the cooldown had not elapsed")
	m.levelUps = m.counter("level_ups_total", "Level-up transitions produced by grants")
	m.trackedUsers = m.gauge("tracked_users", "Progression records currently stored")
	m.storeSaveLatency = m.histogram("store_save_latency_milliseconds", "Progression store save latency in milliseconds")

	m.voiceSessionsActive = m.gauge("voice_sessions_active", "Voice participants currently accruing XP")
	m.voiceTicks = m.counter("voice_ticks_total", "Completed voice accrual ticks")

	m.roleAwards = m.counterVec("role_awards_total", "Role reward assignments, by outcome", "outcome")
	m.notifications = m.counterVec("notifications_total", "Level-up notifications, by outcome", "outcome")

	m.syncStatus = promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: "sync_status",
		Help: "Last observed reconciliation status (1 for the active status)", ConstLabels: m.constLabels,
	}, []string{"status"})
	m.syncDesyncRatio = m.gauge("sync_desync_ratio", "Share of overlapping users whose XP drifted beyond tolerance")
	m.syncUpdates = m.counterVec("sync_updates_total", "Records overwritten by synchronization", "direction", "outcome")

	m.backupsCreated = m.counterVec("backups_created_total", "Snapshots written", "kind")
	m.backupsFailed = m.counterVec("backups_failed_total", "Snapshot attempts that failed", "kind")
	m.backupsPruned = m.counter("backups_pruned_total", "Snapshots deleted by retention")
	m.restores = m.counterVec("restores_total", "Restore attempts, by outcome", "outcome")
	m.backupDuration = m.histogram("backup_duration_milliseconds", "Snapshot creation duration in milliseconds")
	m.backupsRetained = m.gauge("backups_retained", "Snapshots currently retained")

	m.eventsReceived = m.counterVec("events_received_total", "Activity events accepted, by kind", "kind")
	m.eventsDuplicate = m.counter("events_duplicate_total", "Duplicate activity events dropped")
	m.queueSize = m.gauge("queue_size", "Current size of the activity queue")
	m.queueCapacity = m.gauge("queue_capacity", "Capacity of the activity queue")
	m.queueRejected = m.counter("queue_rejected_total", "Events rejected because the queue was full")
	m.workerCount = m.gauge("worker_count", "Activity workers running")
	m.workerLatency = m.histogram("worker_processing_latency_milliseconds", "Activity event processing latency in milliseconds")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: "http_request_duration_milliseconds",
		Help: "HTTP request duration in milliseconds", Buckets: m.histogramBuckets, ConstLabels: m.constLabels,
	}, []string{"endpoint", "method", "status_code"})

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
}

// SyncStatuses lists the label values used by the sync_status gauge.
var SyncStatuses = []string{"no_common_users", "synchronized", "minor_desync", "major_desync"} //nolint:gochecknoglobals // label set

func on() bool { return globalManager != nil && globalManager.enabled }

// RecordGrant counts one applied grant of amount XP from source.
func RecordGrant(source string, amount int64) {
	if on() {
		globalManager.grantsTotal.WithLabelValues(source).Inc()
		globalManager.grantXP.WithLabelValues(source).Add(float64(amount))
	}
}

// RecordGrantFailure counts a grant aborted by persistence failure.
func RecordGrantFailure(source string) {
	if on() {
		globalManager.grantFailures.WithLabelValues(source).Inc()
	}
}

// RecordCooldownSkip counts a text grant suppressed by cooldown.
func RecordCooldownSkip() {
	if on() {
		globalManager.cooldownSkips.Inc()
	}
}

// RecordLevelUp counts a level-up transition.
func RecordLevelUp() {
	if on() {
		globalManager.levelUps.Inc()
	}
}

// UpdateTrackedUsers sets the number of stored progression records.
func UpdateTrackedUsers(count int) {
	if on() {
		globalManager.trackedUsers.Set(float64(count))
	}
}

// RecordStoreSaveLatency records a store save duration.
func RecordStoreSaveLatency(latencyMs float64) {
	if on() {
		globalManager.storeSaveLatency.Observe(latencyMs)
	}
}

// UpdateVoiceSessions sets the number of accruing voice participants.
func UpdateVoiceSessions(count int) {
	if on() {
		globalManager.voiceSessionsActive.Set(float64(count))
	}
}

// RecordVoiceTick counts one completed voice tick.
func RecordVoiceTick() {
	if on() {
		globalManager.voiceTicks.Inc()
	}
}

// RecordRoleAward counts a role assignment outcome ("assigned", "failed").
func RecordRoleAward(outcome string) {
	if on() {
		globalManager.roleAwards.WithLabelValues(outcome).Inc()
	}
}

// RecordNotification counts a notification outcome ("sent", "text_only", "skipped", "failed").
func RecordNotification(outcome string) {
	if on() {
		globalManager.notifications.WithLabelValues(outcome).Inc()
	}
}

// UpdateSyncStatus publishes the latest reconciliation status and drift ratio.
func UpdateSyncStatus(status string, ratio float64) {
	if !on() {
		return
	}
	for _, s := range SyncStatuses {
		v := 0.0
		if s == status {
			v = 1
		}
		globalManager.syncStatus.WithLabelValues(s).Set(v)
	}
	globalManager.syncDesyncRatio.Set(ratio)
}

// RecordSyncUpdates counts records written by a synchronization run.
func RecordSyncUpdates(direction string, updated, failed int) {
	if on() {
		globalManager.syncUpdates.WithLabelValues(direction, "updated").Add(float64(updated))
		globalManager.syncUpdates.WithLabelValues(direction, "failed").Add(float64(failed))
	}
}

// RecordBackupCreated counts a written snapshot and its duration.
func RecordBackupCreated(kind string, durationMs float64) {
	if on() {
		globalManager.backupsCreated.WithLabelValues(kind).Inc()
		globalManager.backupDuration.Observe(durationMs)
	}
}

// RecordBackupFailed counts a failed snapshot attempt.
func RecordBackupFailed(kind string) {
	if on() {
		globalManager.backupsFailed.WithLabelValues(kind).Inc()
	}
}

// RecordBackupsPruned counts snapshots removed by retention.
func RecordBackupsPruned(n int) {
	if on() {
		globalManager.backupsPruned.Add(float64(n))
	}
}

// UpdateBackupsRetained sets the number of retained snapshots.
func UpdateBackupsRetained(n int) {
	if on() {
		globalManager.backupsRetained.Set(float64(n))
	}
}

// RecordRestore counts a restore outcome ("ok", "partial", "failed").
func RecordRestore(outcome string) {
	if on() {
		globalManager.restores.WithLabelValues(outcome).Inc()
	}
}

// RecordEventReceived counts an accepted activity event.
func RecordEventReceived(kind string) {
	if on() {
		globalManager.eventsReceived.WithLabelValues(kind).Inc()
	}
}

// RecordEventDuplicate counts a dropped duplicate event.
func RecordEventDuplicate() {
	if on() {
		globalManager.eventsDuplicate.Inc()
	}
}

// UpdateQueueSize sets the queue size gauge.
func UpdateQueueSize(size int) {
	if on() {
		globalManager.queueSize.Set(float64(size))
	}
}

// UpdateQueueCapacity sets the queue capacity gauge.
func UpdateQueueCapacity(capacity int) {
	if on() {
		globalManager.queueCapacity.Set(float64(capacity))
	}
}

// RecordQueueRejected counts an event rejected by backpressure.
func RecordQueueRejected() {
	if on() {
		globalManager.queueRejected.Inc()
	}
}

// UpdateWorkerCount sets the worker count gauge.
func UpdateWorkerCount(count int) {
	if on() {
		globalManager.workerCount.Set(float64(count))
	}
}

// RecordWorkerProcessingLatency records how long one event took to apply.
func RecordWorkerProcessingLatency(latencyMs float64) {
	if on() {
		globalManager.workerLatency.Observe(latencyMs)
	}
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if on() {
		globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	}
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	if on() {
		globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
	}
}

// UpdateSystemMemoryUsage updates system memory usage.
func UpdateSystemMemoryUsage(bytes uint64) {
	if on() {
		globalManager.systemMemoryUsage.Set(float64(bytes))
	}
}

// UpdateSystemGoroutineCount updates goroutine count.
func UpdateSystemGoroutineCount(count int) {
	if on() {
		globalManager.systemGoroutineCount.Set(float64(count))
	}
}

// GetRegistry returns the custom registry for serving metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
