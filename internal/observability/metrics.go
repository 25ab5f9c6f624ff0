package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce           sync.Once
	httpDurationHistogram  *prometheus.HistogramVec
	httpInFlightGauge      prometheus.Gauge
	panicCounter           *prometheus.CounterVec
	ledgerConflictCounter  *prometheus.CounterVec
	ledgerDriftGauge       prometheus.Gauge
	transferCounter        *prometheus.CounterVec
	withdrawalCounter      *prometheus.CounterVec
	webhookCounter         *prometheus.CounterVec
	idempotencyCounter     *prometheus.CounterVec
	manualReviewQueueGauge prometheus.Gauge
	workerRunCounter       *prometheus.CounterVec
	providerRequestCounter *prometheus.CounterVec
)

// Init registers all Prometheus collectors. Calls after the first are no-ops.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		httpInFlightGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Requests currently being served",
		})

		panicCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_panics_total",
			Help: "Handler panics recovered by route",
		}, []string{"path"})

		ledgerConflictCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_cas_conflicts_total",
			Help: "Balance compare-and-set attempts lost to a concurrent writer",
		}, []string{"op"})

		ledgerDriftGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_drift_rows",
			Help: "Balance rows disagreeing with the ledger journal at the last reconciliation",
		})

		transferCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transfers_total",
			Help: "Transfer outcomes",
		}, []string{"outcome"})

		withdrawalCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "withdrawals_total",
			Help: "Withdrawal outcomes",
		}, []string{"outcome"})

		webhookCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Inbound webhook outcomes",
		}, []string{"provider", "outcome"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		manualReviewQueueGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "payout_manual_review_queue_size",
			Help: "Withdrawals with an unresolved payout submission past the stale window",
		})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		providerRequestCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payout_provider_requests_total",
			Help: "Payout provider API calls by endpoint and result",
		}, []string{"endpoint", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			httpInFlightGauge,
			panicCounter,
			ledgerConflictCounter,
			ledgerDriftGauge,
			transferCounter,
			withdrawalCounter,
			webhookCounter,
			idempotencyCounter,
			manualReviewQueueGauge,
			workerRunCounter,
			providerRequestCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

// TrackInFlight counts a request as in flight until the returned func runs.
func TrackInFlight() func() {
	if httpInFlightGauge == nil {
		return func() {}
	}
	httpInFlightGauge.Inc()
	return httpInFlightGauge.Dec
}

func IncrementPanic(path string) {
	if panicCounter == nil {
		return
	}
	panicCounter.WithLabelValues(path).Inc()
}

func IncrementLedgerConflict(op string) {
	if ledgerConflictCounter == nil {
		return
	}
	ledgerConflictCounter.WithLabelValues(op).Inc()
}

func SetLedgerDrift(rows int) {
	if ledgerDriftGauge == nil {
		return
	}
	ledgerDriftGauge.Set(float64(rows))
}

func IncrementTransfer(outcome string) {
	if transferCounter == nil {
		return
	}
	transferCounter.WithLabelValues(outcome).Inc()
}

func IncrementWithdrawal(outcome string) {
	if withdrawalCounter == nil {
		return
	}
	withdrawalCounter.WithLabelValues(outcome).Inc()
}

func IncrementWebhook(provider, outcome string) {
	if webhookCounter == nil {
		return
	}
	webhookCounter.WithLabelValues(provider, outcome).Inc()
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func SetManualReviewQueueSize(size int) {
	if manualReviewQueueGauge == nil {
		return
	}
	manualReviewQueueGauge.Set(float64(size))
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}

func IncrementProviderRequest(endpoint, result string) {
	if providerRequestCounter == nil {
		return
	}
	providerRequestCounter.WithLabelValues(endpoint, result).Inc()
}
