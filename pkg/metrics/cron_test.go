package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCronJobMetricsExportsCountersAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewCronJobMetrics(reg)
	job := "test-job"
	metrics.ObserveDuration(job, 250*time.Millisecond)
	metrics.IncSuccess(job)
	metrics.IncFailure(job)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "recapz_cron_job_success_total", "job", job); err != nil {
		t.Fatalf("fetch success: %v", err)
	} else if got != 1 {
		t.Fatalf("expected success=1, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "recapz_cron_job_failure_total", "job", job); err != nil {
		t.Fatalf("fetch failure: %v", err)
	} else if got != 1 {
		t.Fatalf("expected failure=1, got %f", got)
	}

	if got, err := fetchHistogramSum(mfs, "recapz_cron_job_duration_seconds", "job", job); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f", got)
	}
}

func TestExecutorMetricsRecordsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewExecutorMetrics(reg)
	m.IncRetry("transcripts.fetch", "network")
	m.IncRetry("transcripts.fetch", "network")
	m.IncFallback("summarizer.generate", "gpt-4o")
	m.ObserveCall("transcripts.fetch", "success", "", 1500*time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "recapz_executor_retries_total", "class", "network"); err != nil || got != 2 {
		t.Fatalf("expected 2 retries, got %f err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "recapz_executor_fallbacks_total", "source", "gpt-4o"); err != nil || got != 1 {
		t.Fatalf("expected 1 fallback, got %f err=%v", got, err)
	}
	if got, err := fetchHistogramSum(mfs, "recapz_executor_call_duration_seconds", "operation", "transcripts.fetch"); err != nil || got != 1.5 {
		t.Fatalf("expected duration sum 1.5, got %f err=%v", got, err)
	}
}

func TestCacheCollectorsReadSnapshot(t *testing.T) {
	reg := prometheus.NewRegistry()
	snap := CacheSnapshot{Hits: 7, Misses: 3, Evictions: 1, Items: 42}
	RegisterCache(reg, "app", func() CacheSnapshot { return snap })

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "recapz_cache_hits_total", "cache", "app"); err != nil || got != 7 {
		t.Fatalf("expected 7 hits, got %f err=%v", got, err)
	}
	mf := findMetricFamily(mfs, "recapz_cache_items")
	if mf == nil || mf.GetMetric()[0].GetGauge().GetValue() != 42 {
		t.Fatalf("expected items gauge 42")
	}
}

func TestNilRecordersAreSafe(t *testing.T) {
	var cron *CronJobMetrics
	cron.IncSuccess("x")
	NewExecutorMetrics(nil).IncRetry("op", "network")
	NewPipelineMetrics(nil).AddCredits("reserve", 5)
	RegisterCache(nil, "app", nil)
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
