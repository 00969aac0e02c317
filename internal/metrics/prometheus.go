package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	logger *zap.Logger

	// Reconciler metrics
	reconcileCyclesTotal *prometheus.CounterVec
	reconcileDuration    prometheus.Histogram
	configErrors         prometheus.Gauge

	// Registry metrics
	registryJobs prometheus.Gauge
	firingsTotal *prometheus.CounterVec

	// Dispatcher metrics
	deliveriesTotal *prometheus.CounterVec
	gatewayDuration *prometheus.HistogramVec
	inFlight        prometheus.Gauge

	// EventBus metrics
	bufferSize       prometheus.Gauge
	bufferCapacity   prometheus.Gauge
	bufferSaturation prometheus.Gauge
	emitErrorsTotal  prometheus.Counter

	// Leader election metrics
	leaderStatus        prometheus.Gauge
	leaderAcquiredTotal prometheus.Counter
	leaderLostTotal     *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink;
// unregistered collectors still accept observations.
func NewPrometheusSink(reg prometheus.Registerer, logger *zap.Logger) *PrometheusSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &PrometheusSink{logger: logger.Named("metrics")}
	s.initReconcilerMetrics(reg)
	s.initRegistryMetrics(reg)
	s.initDispatcherMetrics(reg)
	s.initEventBusMetrics(reg)
	s.initLeaderMetrics(reg)
	return s
}

func (s *PrometheusSink) initReconcilerMetrics(reg prometheus.Registerer) {
	s.reconcileCyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reminders_reconcile_cycles_total",
		Help: "Total number of reconciliation cycles by result.",
	}, []string{"result"})
	s.reconcileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "reminders_reconcile_duration_seconds",
		Help:    "Duration of each reconciliation cycle in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})
	s.configErrors = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reminders_config_errors",
		Help: "Enabled reminders excluded from scheduling by an invalid cron or timezone.",
	})

	s.register(reg, s.reconcileCyclesTotal, "reminders_reconcile_cycles_total")
	s.register(reg, s.reconcileDuration, "reminders_reconcile_duration_seconds")
	s.register(reg, s.configErrors, "reminders_config_errors")
}

func (s *PrometheusSink) initRegistryMetrics(reg prometheus.Registerer) {
	s.registryJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reminders_registry_jobs",
		Help: "Number of triggers currently registered.",
	})
	s.firingsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reminders_firings_total",
		Help: "Total number of firings by outcome (dispatched, skipped, dropped).",
	}, []string{"outcome"})

	s.register(reg, s.registryJobs, "reminders_registry_jobs")
	s.register(reg, s.firingsTotal, "reminders_firings_total")
}

func (s *PrometheusSink) initDispatcherMetrics(reg prometheus.Registerer) {
	s.deliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reminders_deliveries_total",
		Help: "Total number of per-channel delivery attempts by status and failure reason.",
	}, []string{"status", "reason"})

	s.gatewayDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reminders_gateway_duration_seconds",
		Help:    "Notification gateway send latency in seconds.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"status_class"})

	s.inFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reminders_dispatch_in_flight",
		Help: "Number of firings currently being dispatched.",
	})

	s.register(reg, s.deliveriesTotal, "reminders_deliveries_total")
	s.register(reg, s.gatewayDuration, "reminders_gateway_duration_seconds")
	s.register(reg, s.inFlight, "reminders_dispatch_in_flight")
}

func (s *PrometheusSink) initEventBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reminders_eventbus_buffer_size",
		Help: "Current number of firings in the event bus buffer.",
	})
	s.bufferCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reminders_eventbus_buffer_capacity",
		Help: "Capacity of the event bus buffer.",
	})
	s.bufferSaturation = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reminders_eventbus_buffer_saturation",
		Help: "Buffer fill ratio between 0 and 1.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reminders_eventbus_emit_errors_total",
		Help: "Total number of emit errors (buffer full).",
	})

	s.register(reg, s.bufferSize, "reminders_eventbus_buffer_size")
	s.register(reg, s.bufferCapacity, "reminders_eventbus_buffer_capacity")
	s.register(reg, s.bufferSaturation, "reminders_eventbus_buffer_saturation")
	s.register(reg, s.emitErrorsTotal, "reminders_eventbus_emit_errors_total")
}

func (s *PrometheusSink) initLeaderMetrics(reg prometheus.Registerer) {
	s.leaderStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reminders_leader_status",
		Help: "1 if this instance holds the scheduling lock, 0 otherwise.",
	})
	s.leaderAcquiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reminders_leader_acquired_total",
		Help: "Total number of times leadership was acquired.",
	})
	s.leaderLostTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reminders_leader_lost_total",
		Help: "Total number of times leadership was lost by reason.",
	}, []string{"reason"})

	s.register(reg, s.leaderStatus, "reminders_leader_status")
	s.register(reg, s.leaderAcquiredTotal, "reminders_leader_acquired_total")
	s.register(reg, s.leaderLostTotal, "reminders_leader_lost_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		s.logger.Warn("failed to register collector", zap.String("name", name), zap.Error(err))
	}
}

// Reconciler metrics implementation

func (s *PrometheusSink) ReconcileCompleted(duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	s.reconcileCyclesTotal.WithLabelValues(result).Inc()
	s.reconcileDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) ConfigErrorsUpdate(count int) {
	s.configErrors.Set(float64(count))
}

// Registry metrics implementation

func (s *PrometheusSink) RegistrySizeUpdate(size int) {
	s.registryJobs.Set(float64(size))
}

func (s *PrometheusSink) FiringOutcome(outcome string) {
	s.firingsTotal.WithLabelValues(outcome).Inc()
}

// Dispatcher metrics implementation

func (s *PrometheusSink) DeliveryCompleted(status, reason, statusClass string, duration time.Duration) {
	s.deliveriesTotal.WithLabelValues(status, reason).Inc()
	s.gatewayDuration.WithLabelValues(statusClass).Observe(duration.Seconds())
}

func (s *PrometheusSink) EventsInFlightIncr() {
	s.inFlight.Inc()
}

func (s *PrometheusSink) EventsInFlightDecr() {
	s.inFlight.Dec()
}

// EventBus metrics implementation

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) BufferCapacitySet(capacity int) {
	s.bufferCapacity.Set(float64(capacity))
}

func (s *PrometheusSink) BufferSaturationUpdate(saturation float64) {
	s.bufferSaturation.Set(saturation)
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

// Leader election metrics implementation

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.leaderStatus.Set(1)
		return
	}
	s.leaderStatus.Set(0)
}

func (s *PrometheusSink) LeaderAcquired() {
	s.leaderAcquiredTotal.Inc()
}

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLostTotal.WithLabelValues(reason).Inc()
}
