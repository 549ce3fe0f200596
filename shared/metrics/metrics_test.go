package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCollectorExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.WebhookEvent("polar", "promoted")
	c.WebhookEvent("polar", "promoted")
	c.GenerationAttempt("success")
	c.RouteDecision("/dashboard", "redirect")
	c.TierExpiryDowngrade()

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`snapquant_webhook_events_total{outcome="promoted",provider="polar"} 2`,
		`snapquant_generation_attempts_total{result="success"} 1`,
		`snapquant_route_decisions_total{destination="/dashboard",outcome="redirect"} 1`,
		`snapquant_tier_expiry_downgrades_total 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("expected %q in scrape output:\n%s", want, body)
		}
	}
}

func TestNopSatisfiesRecorder(t *testing.T) {
	var r Recorder = Nop{}
	r.WebhookEvent("stripe", "ignored")
	r.TierExpiryDowngrade()
}
