package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hoale240803/kaopiz-sub000/internal/core/port"
)

const namespace = "auth"

// Provider holds the Prometheus collectors for the authentication flows.
type Provider struct {
	registry *prometheus.Registry

	logins             *prometheus.CounterVec
	refreshes          *prometheus.CounterVec
	reuseDetected      prometheus.Counter
	rateLimited        prometheus.Counter
	logouts            prometheus.Counter
	revocationFailures prometheus.Counter
	auditFailures      prometheus.Counter
}

// NewProvider registers the auth collectors on a dedicated registry that also carries
// the Go runtime and process collectors.
func NewProvider() *Provider {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewProviderWith(registry)
}

// NewProviderWith registers the auth collectors on the supplied registry.
func NewProviderWith(registry *prometheus.Registry) *Provider {
	factory := promauto.With(registry)

	return &Provider{
		registry: registry,
		logins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "Login attempts partitioned by outcome.",
		}, []string{"outcome"}),
		refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_attempts_total",
			Help:      "Refresh attempts partitioned by outcome.",
		}, []string{"outcome"}),
		reuseDetected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_reuse_detected_total",
			Help:      "Refresh token reuse detections.",
		}),
		rateLimited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_rate_limited_total",
			Help:      "Login attempts rejected by the rate limiter.",
		}),
		logouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logouts_total",
			Help:      "Completed logout requests.",
		}),
		revocationFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revocation_store_failures_total",
			Help:      "Revocation registry lookups that failed and were treated as revoked.",
		}),
		auditFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_publish_failures_total",
			Help:      "Audit events the Kafka producer failed to deliver.",
		}),
	}
}

// Registry exposes the registry for the /metrics handler and the HTTP middleware.
func (p *Provider) Registry() *prometheus.Registry {
	return p.registry
}

func (p *Provider) ObserveLogin(outcome string) {
	p.logins.WithLabelValues(outcome).Inc()
}

func (p *Provider) ObserveRefresh(outcome string) {
	p.refreshes.WithLabelValues(outcome).Inc()
}

func (p *Provider) IncReuseDetected() { p.reuseDetected.Inc() }

func (p *Provider) IncRateLimited() { p.rateLimited.Inc() }

func (p *Provider) IncLogout() { p.logouts.Inc() }

func (p *Provider) IncRevocationStoreFailure() { p.revocationFailures.Inc() }

// CountAuditFailures drains a producer error channel into the audit failure counter.
// It returns when the channel closes.
func (p *Provider) CountAuditFailures(errs <-chan error) {
	for range errs {
		p.auditFailures.Inc()
	}
}

var _ port.AuthMetrics = (*Provider)(nil)
