// Package metrics provides Prometheus metrics collection for the runtime's
// own concerns: arbiter health, bus delivery, supervisor restarts, indexer
// scans, and nighttime orchestrator sessions.
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arbiterfabric/cogrt/infrastructure/runtime"
)

// Metrics holds all Prometheus collectors for one process.
type Metrics struct {
	// Arbiter health
	ArbiterLoad       *prometheus.GaugeVec
	ArbiterErrorTotal *prometheus.CounterVec
	ArbiterStatus     *prometheus.GaugeVec
	MemorizeDuration  *prometheus.HistogramVec
	RecallDuration    *prometheus.HistogramVec

	// Message bus
	BusMessagesTotal    *prometheus.CounterVec
	BusDeliveryDuration *prometheus.HistogramVec
	BusPeerUnknownTotal prometheus.Counter

	// Supervisor
	SupervisorRestartsTotal *prometheus.CounterVec
	SupervisorHeartbeatAge  *prometheus.GaugeVec

	// Content indexer
	IndexerFilesScanned  prometheus.Counter
	IndexerScanDuration  prometheus.Histogram
	IndexerQueueDepth    prometheus.Gauge

	// Nighttime orchestrator
	NighttimeSessionsTotal   *prometheus.CounterVec
	NighttimePhaseDuration   *prometheus.HistogramVec
	NighttimeActiveSessions  prometheus.Gauge

	// Experience store
	ExperienceBufferSize   *prometheus.GaugeVec
	ExperienceEvictedTotal *prometheus.CounterVec
	ExperienceSampleTotal  *prometheus.CounterVec

	// Outcome store
	OutcomeLogSize *prometheus.GaugeVec

	// Memory tiers
	MemoryTierHitTotal *prometheus.CounterVec
	MemoryWarmSize     prometheus.Gauge
	MemoryHotDegraded  prometheus.Gauge

	// Strategy selector
	SelectorTrialsTotal   *prometheus.CounterVec
	SelectorExplorationTotal *prometheus.CounterVec

	// Process info
	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New creates a Metrics instance registered against the default registerer.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance against a custom registerer,
// letting tests use a scoped prometheus.NewRegistry() instead of the global.
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		ArbiterLoad: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "arbiter_load", Help: "Derived load ratio in [0,1] per arbiter"},
			[]string{"arbiter"},
		),
		ArbiterErrorTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "arbiter_errors_total", Help: "Total errors observed per arbiter"},
			[]string{"arbiter", "operation"},
		),
		ArbiterStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "arbiter_status", Help: "Arbiter status as an enum ordinal"},
			[]string{"arbiter", "status"},
		),
		MemorizeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arbiter_memorize_duration_seconds",
				Help:    "memorize() call duration",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"arbiter"},
		),
		RecallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arbiter_recall_duration_seconds",
				Help:    "recall() call duration",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"arbiter"},
		),
		BusMessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "bus_messages_total", Help: "Total messages routed by the bus"},
			[]string{"type", "status"},
		),
		BusDeliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bus_delivery_duration_seconds",
				Help:    "Time from send to handler completion",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"type"},
		),
		BusPeerUnknownTotal: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "bus_peer_unknown_total", Help: "Sends to an unregistered peer"},
		),
		SupervisorRestartsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "supervisor_restarts_total", Help: "Arbiter restarts performed by the supervisor"},
			[]string{"arbiter", "reason"},
		),
		SupervisorHeartbeatAge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "supervisor_heartbeat_age_seconds", Help: "Seconds since last heartbeat per arbiter"},
			[]string{"arbiter"},
		),
		IndexerFilesScanned: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "indexer_files_scanned_total", Help: "Files observed by the content indexer crawler"},
		),
		IndexerScanDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "indexer_scan_duration_seconds",
				Help:    "Duration of a full content indexer scan pass",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
			},
		),
		IndexerQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "indexer_queue_depth", Help: "Pending work items in the indexer's worker pool queue"},
		),
		NighttimeSessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "nighttime_sessions_total", Help: "Nighttime orchestrator sessions by outcome"},
			[]string{"outcome"},
		),
		NighttimePhaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nighttime_phase_duration_seconds",
				Help:    "Duration of one DAG phase within a nighttime session",
				Buckets: []float64{1, 5, 15, 30, 60, 300, 900},
			},
			[]string{"phase"},
		),
		NighttimeActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "nighttime_active_sessions", Help: "Nighttime sessions currently running"},
		),
		ExperienceBufferSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "experience_buffer_size", Help: "Current entries held in an experience store buffer"},
			[]string{"store"},
		),
		ExperienceEvictedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "experience_evicted_total", Help: "Entries evicted from an experience store on overflow"},
			[]string{"store"},
		),
		ExperienceSampleTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "experience_sample_total", Help: "Sample calls against an experience store by strategy"},
			[]string{"store", "strategy"},
		),
		OutcomeLogSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "outcome_log_size", Help: "Current entries held in an outcome store log"},
			[]string{"store"},
		),
		SelectorTrialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "selector_trials_total", Help: "Strategy selector record() calls by domain and strategy"},
			[]string{"domain", "strategy"},
		),
		SelectorExplorationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "selector_exploration_total", Help: "select() calls that took an exploration path"},
			[]string{"domain", "reason"},
		),
		MemoryTierHitTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "memory_tier_hit_total", Help: "recall() hits by the tier that satisfied them"},
			[]string{"tier"},
		),
		MemoryWarmSize: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "memory_warm_size", Help: "Current vector entries held in the warm memory tier"},
		),
		MemoryHotDegraded: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "memory_hot_degraded", Help: "1 when the hot memory tier has fallen back to the in-process cache"},
		),
		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "service_uptime_seconds", Help: "Process uptime in seconds"},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "service_info", Help: "Build/environment info, always set to 1"},
			[]string{"service", "version", "environment"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.ArbiterLoad,
			m.ArbiterErrorTotal,
			m.ArbiterStatus,
			m.MemorizeDuration,
			m.RecallDuration,
			m.BusMessagesTotal,
			m.BusDeliveryDuration,
			m.BusPeerUnknownTotal,
			m.SupervisorRestartsTotal,
			m.SupervisorHeartbeatAge,
			m.IndexerFilesScanned,
			m.IndexerScanDuration,
			m.IndexerQueueDepth,
			m.NighttimeSessionsTotal,
			m.NighttimePhaseDuration,
			m.NighttimeActiveSessions,
			m.ExperienceBufferSize,
			m.ExperienceEvictedTotal,
			m.ExperienceSampleTotal,
			m.OutcomeLogSize,
			m.SelectorTrialsTotal,
			m.SelectorExplorationTotal,
			m.MemoryTierHitTotal,
			m.MemoryWarmSize,
			m.MemoryHotDegraded,
			m.ServiceUptime,
			m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0", getEnvironment()).Set(1)

	return m
}

// RecordMemorize records one memorize() call's duration for arbiter.
func (m *Metrics) RecordMemorize(arbiter string, d time.Duration) {
	m.MemorizeDuration.WithLabelValues(arbiter).Observe(d.Seconds())
}

// RecordRecall records one recall() call's duration for arbiter.
func (m *Metrics) RecordRecall(arbiter string, d time.Duration) {
	m.RecallDuration.WithLabelValues(arbiter).Observe(d.Seconds())
}

// RecordArbiterError increments the per-arbiter, per-operation error count.
func (m *Metrics) RecordArbiterError(arbiter, operation string) {
	m.ArbiterErrorTotal.WithLabelValues(arbiter, operation).Inc()
}

// SetArbiterLoad records an arbiter's derived load ratio.
func (m *Metrics) SetArbiterLoad(arbiter string, load float64) {
	m.ArbiterLoad.WithLabelValues(arbiter).Set(load)
}

// RecordBusMessage records one bus send outcome.
func (m *Metrics) RecordBusMessage(msgType, status string, d time.Duration) {
	m.BusMessagesTotal.WithLabelValues(msgType, status).Inc()
	m.BusDeliveryDuration.WithLabelValues(msgType).Observe(d.Seconds())
}

// RecordPeerUnknown increments the unknown-peer-send counter.
func (m *Metrics) RecordPeerUnknown() {
	m.BusPeerUnknownTotal.Inc()
}

// RecordRestart increments the supervisor restart counter for arbiter.
func (m *Metrics) RecordRestart(arbiter, reason string) {
	m.SupervisorRestartsTotal.WithLabelValues(arbiter, reason).Inc()
}

// SetHeartbeatAge records seconds since the last heartbeat for arbiter.
func (m *Metrics) SetHeartbeatAge(arbiter string, age time.Duration) {
	m.SupervisorHeartbeatAge.WithLabelValues(arbiter).Set(age.Seconds())
}

// SetExperienceBufferSize records the current entry count for an experience
// store's buffer.
func (m *Metrics) SetExperienceBufferSize(store string, n int) {
	m.ExperienceBufferSize.WithLabelValues(store).Set(float64(n))
}

// RecordExperienceEviction increments the eviction counter for store by n.
func (m *Metrics) RecordExperienceEviction(store string, n int) {
	m.ExperienceEvictedTotal.WithLabelValues(store).Add(float64(n))
}

// RecordExperienceSample increments the sample-call counter for store and
// strategy.
func (m *Metrics) RecordExperienceSample(store, strategy string) {
	m.ExperienceSampleTotal.WithLabelValues(store, strategy).Inc()
}

// SetOutcomeLogSize records the current entry count for an outcome store.
func (m *Metrics) SetOutcomeLogSize(store string, n int) {
	m.OutcomeLogSize.WithLabelValues(store).Set(float64(n))
}

// RecordMemoryTierHit increments the per-tier recall hit counter.
func (m *Metrics) RecordMemoryTierHit(tier string) {
	m.MemoryTierHitTotal.WithLabelValues(tier).Inc()
}

// SetMemoryWarmSize records the warm tier's current vector entry count.
func (m *Metrics) SetMemoryWarmSize(n int) {
	m.MemoryWarmSize.Set(float64(n))
}

// SetMemoryHotDegraded records whether the hot tier has fallen back to its
// in-process cache (1) or is still backed by Redis (0).
func (m *Metrics) SetMemoryHotDegraded(degraded bool) {
	if degraded {
		m.MemoryHotDegraded.Set(1)
	} else {
		m.MemoryHotDegraded.Set(0)
	}
}

// RecordSelectorTrial increments the record() counter for domain/strategy.
func (m *Metrics) RecordSelectorTrial(domain, strategy string) {
	m.SelectorTrialsTotal.WithLabelValues(domain, strategy).Inc()
}

// RecordSelectorExploration increments the exploration-path counter for
// domain, tagged by reason ("cold_start", "epsilon_greedy").
func (m *Metrics) RecordSelectorExploration(domain, reason string) {
	m.SelectorExplorationTotal.WithLabelValues(domain, reason).Inc()
}

// RecordIndexerScan records one completed crawl pass.
func (m *Metrics) RecordIndexerScan(filesScanned int, d time.Duration) {
	m.IndexerFilesScanned.Add(float64(filesScanned))
	m.IndexerScanDuration.Observe(d.Seconds())
}

// SetIndexerQueueDepth records the indexer worker pool's pending queue size.
func (m *Metrics) SetIndexerQueueDepth(depth int) {
	m.IndexerQueueDepth.Set(float64(depth))
}

// RecordNighttimeSession records the completion of one orchestrator session.
func (m *Metrics) RecordNighttimeSession(outcome string) {
	m.NighttimeSessionsTotal.WithLabelValues(outcome).Inc()
}

// RecordNighttimePhase records one DAG phase's duration.
func (m *Metrics) RecordNighttimePhase(phase string, d time.Duration) {
	m.NighttimePhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// SetNighttimeActiveSessions records the current in-flight session count.
func (m *Metrics) SetNighttimeActiveSessions(n int) {
	m.NighttimeActiveSessions.Set(float64(n))
}

// UpdateUptime updates the process uptime gauge.
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

func getEnvironment() string {
	return string(runtime.Env())
}

// Enabled returns whether Prometheus metrics should be exposed.
//
// Defaults:
// - production: disabled unless explicitly enabled via METRICS_ENABLED
// - non-production: enabled unless explicitly disabled via METRICS_ENABLED
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return !runtime.IsProduction()
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance.
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the global metrics instance, lazily initializing one.
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New("unknown")
	}
	return globalMetrics
}
