package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce            sync.Once
	httpDurationHistogram   *prometheus.HistogramVec
	ordersCreatedCounter    *prometheus.CounterVec
	batchCounter            *prometheus.CounterVec
	ledgerAttemptsHistogram *prometheus.HistogramVec
	ledgerMismatchCounter   *prometheus.CounterVec
	idempotencyCounter      *prometheus.CounterVec
	assignmentCounter       *prometheus.CounterVec
	unassignedGauge         prometheus.Gauge
	resolutionCounter       *prometheus.CounterVec
	notificationCounter     *prometheus.CounterVec
	webhookCounter          *prometheus.CounterVec
	queueDepthGauge         prometheus.Gauge
	taskCounter             *prometheus.CounterVec
	workerRunCounter        *prometheus.CounterVec
	backendUpGauge          *prometheus.GaugeVec
	backendActiveGauge      *prometheus.GaugeVec
	snapshotCounter         *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		ordersCreatedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Order creation outcomes by kind and backend",
		}, []string{"kind", "backend", "result"})

		batchCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_batches_total",
			Help: "Order requests by processing strategy",
		}, []string{"strategy"})

		ledgerAttemptsHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_cas_attempts",
			Help:    "Compare-and-swap attempts per balance adjustment",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		}, []string{"outcome"})

		ledgerMismatchCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_debit_mismatch_total",
			Help: "Withdrawals whose ledger entries do not match their status",
		}, []string{"reason"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		assignmentCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "processor_assignments_total",
			Help: "Withdrawal processor assignment outcomes",
		}, []string{"source", "result"})

		unassignedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "withdrawals_unassigned",
			Help: "Pending withdrawals without a ready processor after the last backfill",
		})

		resolutionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "withdrawal_resolutions_total",
			Help: "Staff withdrawal resolutions",
		}, []string{"decision"})

		notificationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Staff notification outcomes",
		}, []string{"kind", "outcome"})

		webhookCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_deliveries_total",
			Help: "Merchant webhook delivery outcomes",
		}, []string{"outcome"})

		queueDepthGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "task_queue_depth",
			Help: "Background tasks waiting to run",
		})

		taskCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "task_results_total",
			Help: "Background task outcomes",
		}, []string{"task", "result"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		backendUpGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "storage_backend_up",
			Help: "Last health check result per storage backend",
		}, []string{"backend"})

		backendActiveGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "storage_backend_active",
			Help: "1 for the backend currently receiving new orders",
		}, []string{"backend"})

		snapshotCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storage_snapshot_reads_total",
			Help: "Reference data served from last-known-good snapshots",
		}, []string{"kind"})

		prometheus.MustRegister(
			httpDurationHistogram,
			ordersCreatedCounter,
			batchCounter,
			ledgerAttemptsHistogram,
			ledgerMismatchCounter,
			idempotencyCounter,
			assignmentCounter,
			unassignedGauge,
			resolutionCounter,
			notificationCounter,
			webhookCounter,
			queueDepthGauge,
			taskCounter,
			workerRunCounter,
			backendUpGauge,
			backendActiveGauge,
			snapshotCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementOrderCreated(kind, backend, result string) {
	if ordersCreatedCounter == nil {
		return
	}
	ordersCreatedCounter.WithLabelValues(kind, backend, result).Inc()
}

func IncrementBatch(strategy string) {
	if batchCounter == nil {
		return
	}
	batchCounter.WithLabelValues(strategy).Inc()
}

func ObserveLedgerAttempts(outcome string, attempts int) {
	if ledgerAttemptsHistogram == nil {
		return
	}
	ledgerAttemptsHistogram.WithLabelValues(outcome).Observe(float64(attempts))
}

func IncrementLedgerMismatch(reason string) {
	if ledgerMismatchCounter == nil {
		return
	}
	ledgerMismatchCounter.WithLabelValues(reason).Inc()
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func IncrementAssignment(source, result string) {
	if assignmentCounter == nil {
		return
	}
	assignmentCounter.WithLabelValues(source, result).Inc()
}

func SetUnassignedWithdrawals(n int) {
	if unassignedGauge == nil {
		return
	}
	unassignedGauge.Set(float64(n))
}

func IncrementResolution(decision string) {
	if resolutionCounter == nil {
		return
	}
	resolutionCounter.WithLabelValues(decision).Inc()
}

func IncrementNotification(kind, outcome string) {
	if notificationCounter == nil {
		return
	}
	notificationCounter.WithLabelValues(kind, outcome).Inc()
}

func IncrementWebhook(outcome string) {
	if webhookCounter == nil {
		return
	}
	webhookCounter.WithLabelValues(outcome).Inc()
}

func SetQueueDepth(n int) {
	if queueDepthGauge == nil {
		return
	}
	queueDepthGauge.Set(float64(n))
}

func IncrementTask(task, result string) {
	if taskCounter == nil {
		return
	}
	taskCounter.WithLabelValues(task, result).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}

func SetBackendHealth(backend string, up bool) {
	if backendUpGauge == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	backendUpGauge.WithLabelValues(backend).Set(v)
}

// SetActiveBackend marks active as 1 and every other name in all as 0.
func SetActiveBackend(active string, all []string) {
	if backendActiveGauge == nil {
		return
	}
	for _, name := range all {
		v := 0.0
		if name == active {
			v = 1
		}
		backendActiveGauge.WithLabelValues(name).Set(v)
	}
}

func IncrementSnapshotServed(kind string) {
	if snapshotCounter == nil {
		return
	}
	snapshotCounter.WithLabelValues(kind).Inc()
}
