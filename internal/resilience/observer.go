package resilience

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Observer receives every pipeline transition so operators can diagnose
// degraded dependencies, not just observe final outcomes.
type Observer interface {
	RetryAttempt(operationKey string, attempt int, cause error)
	BreakerTransition(operationKey string, from, to BreakerStatus)
	FallbackTriggered(operationKey string, cause error)
	Timeout(operationKey string)
	BulkheadRejected(operationKey string)
}

// NopObserver discards all transitions.
type NopObserver struct{}

func (NopObserver) RetryAttempt(string, int, error)                        {}
func (NopObserver) BreakerTransition(string, BreakerStatus, BreakerStatus) {}
func (NopObserver) FallbackTriggered(string, error)                        {}
func (NopObserver) Timeout(string)                                         {}
func (NopObserver) BulkheadRejected(string)                                {}

// MetricsObserver logs transitions through zap and counts them in Prometheus.
type MetricsObserver struct {
	log *zap.Logger

	retries   *prometheus.CounterVec
	breaker   *prometheus.CounterVec
	fallbacks *prometheus.CounterVec
	timeouts  *prometheus.CounterVec
	rejects   *prometheus.CounterVec
}

// NewMetricsObserver constructs the observer and registers its collectors.
func NewMetricsObserver(log *zap.Logger, reg prometheus.Registerer) *MetricsObserver {
	if log == nil {
		log = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	o := &MetricsObserver{
		log: log,
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "baton",
			Subsystem: "resilience",
			Name:      "retry_attempts_total",
			Help:      "Failed attempts that triggered a retry decision.",
		}, []string{"operation"}),
		breaker: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "baton",
			Subsystem: "resilience",
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions.",
		}, []string{"operation", "to"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "baton",
			Subsystem: "resilience",
			Name:      "fallbacks_total",
			Help:      "Calls answered with a substituted fallback response.",
		}, []string{"operation"}),
		timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "baton",
			Subsystem: "resilience",
			Name:      "timeouts_total",
			Help:      "Single-call deadline expirations.",
		}, []string{"operation"}),
		rejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "baton",
			Subsystem: "resilience",
			Name:      "bulkhead_rejections_total",
			Help:      "Calls rejected because the bulkhead was saturated.",
		}, []string{"operation"}),
	}
	reg.MustRegister(o.retries, o.breaker, o.fallbacks, o.timeouts, o.rejects)
	return o
}

func (o *MetricsObserver) RetryAttempt(operationKey string, attempt int, cause error) {
	o.retries.WithLabelValues(operationKey).Inc()
	o.log.Warn("outbound attempt failed",
		zap.String("operation", operationKey),
		zap.Int("attempt", attempt),
		zap.Error(cause))
}

func (o *MetricsObserver) BreakerTransition(operationKey string, from, to BreakerStatus) {
	o.breaker.WithLabelValues(operationKey, string(to)).Inc()
	o.log.Warn("circuit breaker transition",
		zap.String("operation", operationKey),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
}

func (o *MetricsObserver) FallbackTriggered(operationKey string, cause error) {
	o.fallbacks.WithLabelValues(operationKey).Inc()
	o.log.Warn("fallback response substituted",
		zap.String("operation", operationKey),
		zap.Error(cause))
}

func (o *MetricsObserver) Timeout(operationKey string) {
	o.timeouts.WithLabelValues(operationKey).Inc()
	o.log.Warn("call timed out", zap.String("operation", operationKey))
}

func (o *MetricsObserver) BulkheadRejected(operationKey string) {
	o.rejects.WithLabelValues(operationKey).Inc()
	o.log.Warn("bulkhead rejected call", zap.String("operation", operationKey))
}
