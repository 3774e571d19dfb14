// Package metrics registers the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service collectors.
type Metrics struct {
	Authorizations  *prometheus.CounterVec
	TokensIssued    *prometheus.CounterVec
	TokenErrors     *prometheus.CounterVec
	Revocations     prometheus.Counter
	GuardRejections *prometheus.CounterVec
	Logins          *prometheus.CounterVec
}

// New registers collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Authorizations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oauth2",
			Name:      "authorizations_total",
			Help:      "Authorization requests by outcome.",
		}, []string{"outcome"}),
		TokensIssued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oauth2",
			Name:      "tokens_issued_total",
			Help:      "Access tokens issued by grant type.",
		}, []string{"grant_type"}),
		TokenErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oauth2",
			Name:      "token_errors_total",
			Help:      "Token endpoint failures by error code.",
		}, []string{"error"}),
		Revocations: f.NewCounter(prometheus.CounterOpts{
			Namespace: "oauth2",
			Name:      "revocations_total",
			Help:      "Tokens revoked.",
		}),
		GuardRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oauth2",
			Name:      "bearer_rejections_total",
			Help:      "Protected API requests rejected by the bearer guard.",
		}, []string{"reason"}),
		Logins: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oauth2",
			Name:      "logins_total",
			Help:      "End-user sign-ins by method and outcome.",
		}, []string{"method", "outcome"}),
	}
}

// Nop returns collectors registered with a throwaway registry.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}
