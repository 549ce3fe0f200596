// Package metrics exposes the Prometheus collectors shared by the SnapQuant binaries.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the narrow surface services report through.
type Recorder interface {
	WebhookEvent(provider, outcome string)
	GenerationAttempt(result string)
	RouteDecision(destination, outcome string)
	TierExpiryDowngrade()
}

// Collector is the Prometheus-backed Recorder.
type Collector struct {
	webhookEvents      *prometheus.CounterVec
	generationAttempts *prometheus.CounterVec
	routeDecisions     *prometheus.CounterVec
	expiryDowngrades   prometheus.Counter
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapquant_webhook_events_total",
			Help: "Payment webhook deliveries by provider and reconciliation outcome.",
		}, []string{"provider", "outcome"}),
		generationAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapquant_generation_attempts_total",
			Help: "AI generation attempts by result.",
		}, []string{"result"}),
		routeDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapquant_route_decisions_total",
			Help: "Route guard decisions by destination and outcome.",
		}, []string{"destination", "outcome"}),
		expiryDowngrades: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snapquant_tier_expiry_downgrades_total",
			Help: "Pro records lazily downgraded after expiresAt passed.",
		}),
	}

	reg.MustRegister(
		c.webhookEvents,
		c.generationAttempts,
		c.routeDecisions,
		c.expiryDowngrades,
	)

	return c
}

func (c *Collector) WebhookEvent(provider, outcome string) {
	c.webhookEvents.WithLabelValues(provider, outcome).Inc()
}

func (c *Collector) GenerationAttempt(result string) {
	c.generationAttempts.WithLabelValues(result).Inc()
}

func (c *Collector) RouteDecision(destination, outcome string) {
	c.routeDecisions.WithLabelValues(destination, outcome).Inc()
}

func (c *Collector) TierExpiryDowngrade() {
	c.expiryDowngrades.Inc()
}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop discards everything.
type Nop struct{}

func (Nop) WebhookEvent(string, string)  {}
func (Nop) GenerationAttempt(string)     {}
func (Nop) RouteDecision(string, string) {}
func (Nop) TierExpiryDowngrade()         {}
