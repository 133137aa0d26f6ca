package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestSettlementMetricsExportsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSettlementMetrics(reg)

	m.IncOrderCreated()
	m.IncOrderTransition("pending", "accepted")
	m.IncPaymentStatus("card", "completed")
	m.IncRefund("partial")
	m.ObserveRiskDecision("challenge", 45)
	m.IncStockRejection()
	m.IncStockSignal("low_stock")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "order_transitions_total", "to", "accepted"); err != nil {
		t.Fatalf("fetch transitions: %v", err)
	} else if got != 1 {
		t.Fatalf("expected transitions=1, got %f", got)
	}
	if got, err := fetchCounterValue(mfs, "payment_transactions_total", "status", "completed"); err != nil {
		t.Fatalf("fetch payments: %v", err)
	} else if got != 1 {
		t.Fatalf("expected payments=1, got %f", got)
	}
	if got, err := fetchCounterValue(mfs, "risk_decisions_total", "action", "challenge"); err != nil {
		t.Fatalf("fetch risk: %v", err)
	} else if got != 1 {
		t.Fatalf("expected risk=1, got %f", got)
	}
	if got, err := fetchCounterValue(mfs, "inventory_threshold_signals_total", "kind", "low_stock"); err != nil {
		t.Fatalf("fetch signals: %v", err)
	} else if got != 1 {
		t.Fatalf("expected signals=1, got %f", got)
	}

	scores := findMetricFamily(mfs, "risk_score")
	if scores == nil || len(scores.GetMetric()) != 1 {
		t.Fatalf("risk_score histogram missing")
	}
	if sum := scores.GetMetric()[0].GetHistogram().GetSampleSum(); sum != 45 {
		t.Fatalf("expected score sum 45, got %f", sum)
	}
}

func TestNilSettlementMetricsAreNoops(t *testing.T) {
	var m *SettlementMetrics
	m.IncOrderCreated()
	m.IncOrderTransition("a", "b")
	m.ObserveRiskDecision("block", 90)

	empty := NewSettlementMetrics(nil)
	empty.IncStockRejection()
	empty.IncRefund("full")
}
