package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	httpDurationHistogram *prometheus.HistogramVec
	transitionCounter     *prometheus.CounterVec
	railEventCounter      *prometheus.CounterVec
	amlRequestCounter     *prometheus.CounterVec
	switchReportCounter   *prometheus.CounterVec
	bufferedEventsGauge   prometheus.Gauge
	deadLetterGauge       prometheus.Gauge
	stuckTransferGauge    prometheus.Gauge
	workerRunCounter      *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		transitionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transfer_transitions_total",
			Help: "Transfer state machine transitions",
		}, []string{"from", "to", "reason"})

		railEventCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rail_events_total",
			Help: "Rail settlement event reconciliation outcomes",
		}, []string{"outcome"})

		amlRequestCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aml_requests_total",
			Help: "AML validator request outcomes",
		}, []string{"outcome"})

		switchReportCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switch_reports_total",
			Help: "Switch outcome publish attempts",
		}, []string{"outcome"})

		bufferedEventsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rail_events_buffered",
			Help: "Settlement events buffered awaiting AML resolution",
		})

		deadLetterGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rail_events_dead_letter_queue_size",
			Help: "Events escalated for manual reconciliation",
		})

		stuckTransferGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transfers_pending_stale",
			Help: "PENDING transfers older than the review age",
		})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			transitionCounter,
			railEventCounter,
			amlRequestCounter,
			switchReportCounter,
			bufferedEventsGauge,
			deadLetterGauge,
			stuckTransferGauge,
			workerRunCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementTransition(from, to, reason string) {
	if transitionCounter == nil {
		return
	}
	transitionCounter.WithLabelValues(from, to, reason).Inc()
}

func IncrementRailEvent(outcome string) {
	if railEventCounter == nil {
		return
	}
	railEventCounter.WithLabelValues(outcome).Inc()
}

func IncrementAmlRequest(outcome string) {
	if amlRequestCounter == nil {
		return
	}
	amlRequestCounter.WithLabelValues(outcome).Inc()
}

func IncrementSwitchReport(outcome string) {
	if switchReportCounter == nil {
		return
	}
	switchReportCounter.WithLabelValues(outcome).Inc()
}

func SetBufferedEvents(n int) {
	if bufferedEventsGauge == nil {
		return
	}
	bufferedEventsGauge.Set(float64(n))
}

func SetDeadLetterQueueSize(n int) {
	if deadLetterGauge == nil {
		return
	}
	deadLetterGauge.Set(float64(n))
}

func SetStuckTransfers(n int) {
	if stuckTransferGauge == nil {
		return
	}
	stuckTransferGauge.Set(float64(n))
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}
