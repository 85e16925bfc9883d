package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "smsgate"

const (
	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
)

var (
	admittedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admitted_total",
			Help:      "Count of messages admitted into the delivery queue.",
		},
	)
	rejectedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_total",
			Help:      "Count of messages rejected by phone or account limits.",
		},
	)
	queueDepthGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Messages admitted but not yet drained by the dispatcher.",
		},
	)
	dispatchedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatched_total",
			Help:      "Count of dispatched messages by delivery outcome.",
		},
		[]string{"outcome"},
	)
	sinkErrorCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Count of dispatch ticks where the delivery sink failed or timed out.",
		},
	)
	evictedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evicted_total",
			Help:      "Count of stats entries removed by the sweeper.",
		},
		[]string{"level"},
	)
	invariantViolationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invariant_violations_total",
			Help:      "Count of detected counter/queue desynchronizations.",
		},
		[]string{"stage"},
	)
	taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Duration of periodic task runs.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"task"},
	)
)

var registerMetrics sync.Once

// Register all metrics.
func Register(reg prometheus.Registerer) {
	registerMetrics.Do(func() {
		reg.MustRegister(
			admittedCounter,
			rejectedCounter,
			queueDepthGauge,
			dispatchedCounter,
			sinkErrorCounter,
			evictedCounter,
			invariantViolationCounter,
			taskDuration,
		)
	})
}

func RecordAdmission(admitted, rejected int) {
	admittedCounter.Add(float64(admitted))
	rejectedCounter.Add(float64(rejected))
}

func SetQueueDepth(depth int) {
	queueDepthGauge.Set(float64(depth))
}

func RecordDispatched(outcome string, n int) {
	dispatchedCounter.WithLabelValues(outcome).Add(float64(n))
}

func RecordSinkError() {
	sinkErrorCounter.Inc()
}

func RecordEvicted(accounts, phones int) {
	evictedCounter.WithLabelValues("account").Add(float64(accounts))
	evictedCounter.WithLabelValues("phone").Add(float64(phones))
}

// RecordInvariantViolations counts desynchronizations found at stage
// ("release" or "sweep").
func RecordInvariantViolations(stage string, n int) {
	invariantViolationCounter.WithLabelValues(stage).Add(float64(n))
}

func ObserveTask(task string, d time.Duration) {
	taskDuration.WithLabelValues(task).Observe(d.Seconds())
}
