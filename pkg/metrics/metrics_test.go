package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestSettlementMetricsExportsCommitOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSettlementMetrics(reg)

	m.ObserveCommit(OutcomeCommitted, 1, 20*time.Millisecond)
	m.ObserveCommit(OutcomeCommitted, 2, 30*time.Millisecond)
	m.ObserveCommit(OutcomeInsufficientStock, 1, time.Millisecond)
	m.IncStoreBusy()
	m.SetLowStock("4", true)
	m.IncTransition("completed")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "settlement_order_commits_total", "outcome", OutcomeCommitted); err != nil {
		t.Fatalf("fetch committed: %v", err)
	} else if got != 2 {
		t.Fatalf("expected committed=2, got %f", got)
	}
	if got, err := fetchCounterValue(mfs, "settlement_order_commits_total", "outcome", OutcomeInsufficientStock); err != nil {
		t.Fatalf("fetch insufficient: %v", err)
	} else if got != 1 {
		t.Fatalf("expected insufficient_stock=1, got %f", got)
	}
	if got, err := fetchHistogramSum(mfs, "settlement_order_commit_duration_seconds", "outcome", OutcomeCommitted); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f", got)
	}
	if mf := findMetricFamily(mfs, "settlement_order_commit_attempts"); mf == nil {
		t.Fatalf("attempts histogram missing")
	} else if sum := mf.GetMetric()[0].GetHistogram().GetSampleSum(); sum != 4 {
		t.Fatalf("expected attempts sum 4, got %f", sum)
	}
	if mf := findMetricFamily(mfs, "settlement_store_busy_retries_total"); mf == nil || mf.GetMetric()[0].GetCounter().GetValue() != 1 {
		t.Fatalf("expected one busy retry")
	}
	if mf := findMetricFamily(mfs, "settlement_inventory_low_stock"); mf == nil || mf.GetMetric()[0].GetGauge().GetValue() != 1 {
		t.Fatalf("expected low stock gauge set")
	}
	if got, err := fetchCounterValue(mfs, "settlement_order_transitions_total", "status", "completed"); err != nil || got != 1 {
		t.Fatalf("expected one completed transition, got %f (%v)", got, err)
	}
}

func TestJobMetricsSplitsSuccessAndFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewJobMetrics(reg)
	started := time.Now().Add(-250 * time.Millisecond)

	m.Observe("outbox_relay", started, nil)
	m.Observe("outbox_relay", started, errors.New("redis down"))

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "settlement_job_success_total", "job", "outbox_relay"); err != nil || got != 1 {
		t.Fatalf("expected success=1, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "settlement_job_failure_total", "job", "outbox_relay"); err != nil || got != 1 {
		t.Fatalf("expected failure=1, got %f (%v)", got, err)
	}
	if got, err := fetchHistogramSum(mfs, "settlement_job_duration_seconds", "job", "outbox_relay"); err != nil || got < 0.5 {
		t.Fatalf("expected duration sum >= 0.5, got %f (%v)", got, err)
	}
}

func TestNilRegistererIsNoop(t *testing.T) {
	NewSettlementMetrics(nil).ObserveCommit(OutcomeCommitted, 1, time.Second)
	NewJobMetrics(nil).Observe("x", time.Now(), nil)

	var m *SettlementMetrics
	m.IncStoreBusy()
	m.SetLowStock("1", false)
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}

func TestHTTPMetricsLabelsByRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)

	m.ObserveRequest("/api/v1/orders/{orderID}", "GET", 200, time.Millisecond)
	m.ObserveRequest("/api/v1/orders/{orderID}", "GET", 200, time.Millisecond)
	m.ObserveRequest("", "GET", 404, time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "settlement_http_requests_total", "route", "/api/v1/orders/{orderID}"); err != nil || got != 2 {
		t.Fatalf("expected 2 order requests, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "settlement_http_requests_total", "route", "unknown"); err != nil || got != 1 {
		t.Fatalf("expected unmatched route under unknown, got %f (%v)", got, err)
	}

	var noop *HTTPMetrics
	noop.ObserveRequest("/", "GET", 200, time.Millisecond)
	NewHTTPMetrics(nil).ObserveRequest("/", "GET", 200, time.Millisecond)
}
