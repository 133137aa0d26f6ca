package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics tracks order, payment, risk and inventory outcomes.
type SettlementMetrics struct {
	ordersCreated       prometheus.Counter
	orderTransitions    *prometheus.CounterVec
	paymentTransactions *prometheus.CounterVec
	refunds             *prometheus.CounterVec
	riskDecisions       *prometheus.CounterVec
	riskScores          prometheus.Histogram
	stockRejections     prometheus.Counter
	stockSignals        *prometheus.CounterVec
}

// NewSettlementMetrics registers the settlement metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	m := &SettlementMetrics{
		ordersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Orders committed together with their reservation.",
		}),
		orderTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_transitions_total",
			Help: "Order status transitions by source and target status.",
		}, []string{"from", "to"}),
		paymentTransactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_transactions_total",
			Help: "Payment transaction status changes by method.",
		}, []string{"method", "status"}),
		refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_refunds_total",
			Help: "Recorded refunds by kind.",
		}, []string{"kind"}),
		riskDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_decisions_total",
			Help: "Risk evaluator decisions by action.",
		}, []string{"action"}),
		riskScores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "risk_score",
			Help:    "Distribution of risk scores.",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),
		stockRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inventory_adjustments_rejected_total",
			Help: "Stock adjustments refused because stock would go negative.",
		}),
		stockSignals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inventory_threshold_signals_total",
			Help: "Low-stock and out-of-stock crossings.",
		}, []string{"kind"}),
	}
	reg.MustRegister(
		m.ordersCreated,
		m.orderTransitions,
		m.paymentTransactions,
		m.refunds,
		m.riskDecisions,
		m.riskScores,
		m.stockRejections,
		m.stockSignals,
	)
	return m
}

func (m *SettlementMetrics) IncOrderCreated() {
	if m == nil || m.ordersCreated == nil {
		return
	}
	m.ordersCreated.Inc()
}

func (m *SettlementMetrics) IncOrderTransition(from, to string) {
	if m == nil || m.orderTransitions == nil {
		return
	}
	m.orderTransitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to)).Inc()
}

func (m *SettlementMetrics) IncPaymentStatus(method, status string) {
	if m == nil || m.paymentTransactions == nil {
		return
	}
	m.paymentTransactions.WithLabelValues(normalizeLabel(method), normalizeLabel(status)).Inc()
}

func (m *SettlementMetrics) IncRefund(kind string) {
	if m == nil || m.refunds == nil {
		return
	}
	m.refunds.WithLabelValues(normalizeLabel(kind)).Inc()
}

// ObserveRiskDecision records the action and the score that produced it.
func (m *SettlementMetrics) ObserveRiskDecision(action string, score int) {
	if m == nil || m.riskDecisions == nil {
		return
	}
	m.riskDecisions.WithLabelValues(normalizeLabel(action)).Inc()
	m.riskScores.Observe(float64(score))
}

func (m *SettlementMetrics) IncStockRejection() {
	if m == nil || m.stockRejections == nil {
		return
	}
	m.stockRejections.Inc()
}

func (m *SettlementMetrics) IncStockSignal(kind string) {
	if m == nil || m.stockSignals == nil {
		return
	}
	m.stockSignals.WithLabelValues(normalizeLabel(kind)).Inc()
}
