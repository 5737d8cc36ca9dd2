package prometheus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetricName(t *testing.T) {
	cases := map[string]string{
		"mailevents.webhook.total":         "mailevents_webhook_total",
		"mailevents.process-pending.total": "mailevents_process_pending_total",
		"9lives":                           "_9lives",
		"  ":                               "",
	}
	for in, want := range cases {
		if got := MetricName(in); got != want {
			t.Fatalf("MetricName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRecorder_ExportsCountersAndHistograms(t *testing.T) {
	registry := prometheus.NewRegistry()
	recorder := NewRecorder(registry)
	ctx := context.Background()

	recorder.IncCounter(ctx, "mailevents.webhook.total", 1, map[string]string{"outcome": "received", "event_type": "email.sent"})
	recorder.IncCounter(ctx, "mailevents.webhook.total", 2, map[string]string{"outcome": "duplicate", "ignored": "x"})
	recorder.ObserveHistogram(ctx, "mailevents.webhook.duration_ms", 12, map[string]string{"outcome": "received"})

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := map[string]bool{}
	for _, family := range families {
		found[family.GetName()] = true
		if family.GetName() == "mailevents_webhook_total" {
			total := 0.0
			for _, metric := range family.GetMetric() {
				total += metric.GetCounter().GetValue()
			}
			if total != 3 {
				t.Fatalf("expected counter total 3, got %v", total)
			}
		}
	}
	if !found["mailevents_webhook_total"] || !found["mailevents_webhook_duration_ms"] {
		t.Fatalf("expected both collectors, got %#v", found)
	}
}

func TestRecorder_SharedRegistryReusesCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := NewRecorder(registry)
	second := NewRecorder(registry)
	first.IncCounter(context.Background(), "mailevents.hooks.failures", 1, nil)
	second.IncCounter(context.Background(), "mailevents.hooks.failures", 1, nil)

	families, _ := registry.Gather()
	for _, family := range families {
		if family.GetName() == "mailevents_hooks_failures" {
			if got := family.GetMetric()[0].GetCounter().GetValue(); got != 2 {
				t.Fatalf("expected shared counter value 2, got %v", got)
			}
			return
		}
	}
	t.Fatalf("expected hooks failures collector")
}

func TestRecorder_Handler(t *testing.T) {
	recorder := NewRecorder(nil)
	recorder.IncCounter(context.Background(), "mailevents.process_pending.total", 1, map[string]string{"status": "success"})

	rec := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "mailevents_process_pending_total") {
		t.Fatalf("unexpected exposition %d %q", rec.Code, rec.Body.String())
	}
}
