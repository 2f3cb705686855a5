// Package metrics registers the service's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sealedvote"

var (
	// Operations counts executed operations by kind and result code.
	Operations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_total",
		Help:      "Executed operations by kind and result.",
	}, []string{"kind", "result"})

	// Disclosures counts bulk disclosure queries.
	Disclosures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "disclosures_total",
		Help:      "Disclosure queries served.",
	})

	// UnsealFailures counts ballots that failed authenticated decryption.
	UnsealFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "unseal_failures_total",
		Help:      "Sealed ballots that failed to open.",
	})

	// Blocks counts blocks committed by the in-memory ledger.
	Blocks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "blocks_total",
		Help:      "Blocks committed.",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
