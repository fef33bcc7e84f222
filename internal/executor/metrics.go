package executor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики исполнителя
// ============================================================

// ============ Счётчики исходов ============

// OrdersExecuted - завершённые попытки исполнения по исходам
var OrdersExecuted = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "orderexec",
		Subsystem: "executor",
		Name:      "orders_total",
		Help:      "Order execution outcomes",
	},
	[]string{"outcome"}, // completed, retry, failed, deferred, abandoned
)

// ErrorsClassified - ошибки биржи по классам
var ErrorsClassified = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "orderexec",
		Subsystem: "executor",
		Name:      "errors_classified_total",
		Help:      "Exchange errors by classification",
	},
	[]string{"reason", "retryable"},
)

// CredentialFailovers - переключения на следующий креденшел
var CredentialFailovers = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "orderexec",
		Subsystem: "executor",
		Name:      "credential_failovers_total",
		Help:      "Number of failovers to an alternate credential within one pass",
	},
)

// StuckOrdersReset - ордера, возвращённые из застрявшего PROCESSING
var StuckOrdersReset = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "orderexec",
		Subsystem: "executor",
		Name:      "stuck_orders_reset_total",
		Help:      "Orders auto-reset from stale PROCESSING state",
	},
)

// PanicsRecovered - паники, пойманные в воркерах
var PanicsRecovered = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "orderexec",
		Subsystem: "executor",
		Name:      "panics_recovered_total",
		Help:      "Panics recovered in order workers",
	},
)

// ============ Латентность ============

// PlaceOrderLatency - время вызова биржи на размещение
var PlaceOrderLatency = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "orderexec",
		Subsystem: "executor",
		Name:      "place_order_latency_ms",
		Help:      "Exchange AddOrder call latency in milliseconds",
		Buckets:   []float64{50, 100, 200, 300, 500, 1000, 2000, 5000, 10000},
	},
)

// VerifyAttempts - сколько опросов статуса потребовалось до подтверждения
var VerifyAttempts = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "orderexec",
		Subsystem: "executor",
		Name:      "verify_attempts",
		Help:      "Status polls needed to confirm execution",
		Buckets:   []float64{1, 2, 3, 4, 5, 10},
	},
)

// ============ Состояние ============

// InFlightOrders - текущее число ордеров в исполнении
var InFlightOrders = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "orderexec",
		Subsystem: "executor",
		Name:      "in_flight_orders",
		Help:      "Orders currently being executed",
	},
)

// QueueDepth - число ордеров по статусам (обновляется на каждом цикле)
var QueueDepth = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "orderexec",
		Subsystem: "queue",
		Name:      "orders_by_status",
		Help:      "Number of orders by queue status",
	},
	[]string{"status"},
)

// BreakerOpenKeys - число креденшелов с открытым breaker'ом
var BreakerOpenKeys = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "orderexec",
		Subsystem: "breaker",
		Name:      "open_keys",
		Help:      "Credentials currently blocked by the circuit breaker",
	},
)

// ============ Вспомогательные функции ============

// RecordOutcome записывает исход исполнения ордера
func RecordOutcome(outcome string) {
	OrdersExecuted.WithLabelValues(outcome).Inc()
}

// RecordClassifiedError записывает классифицированную ошибку биржи
func RecordClassifiedError(reason string, retryable bool) {
	label := "no"
	if retryable {
		label = "yes"
	}
	ErrorsClassified.WithLabelValues(reason, label).Inc()
}
