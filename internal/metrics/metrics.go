package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ResultSuccess = "success"
	ResultError   = "error"

	OutcomeHit       = "hit"
	OutcomeRefreshed = "refreshed"
	OutcomeUnknown   = "unknown"
	OutcomeError     = "error"

	DecisionAllow = "allow"
	DecisionDeny  = "deny"
	DecisionError = "error"
)

var (
	// KeyFetchTotal counts fetch-and-replace attempts against the key source.
	KeyFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jwks_authorizer_key_fetch_total",
			Help: "Total number of signing key fetches",
		},
		[]string{"result"}, // result: success, error
	)

	KeyResolveTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jwks_authorizer_key_resolve_total",
			Help: "Total number of signing key resolutions by outcome",
		},
		[]string{"outcome"}, // outcome: hit, refreshed, unknown, error
	)

	KeysSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jwks_authorizer_keys_skipped_total",
			Help: "Total number of key set entries skipped while fetching",
		},
		[]string{"reason"}, // reason: unsupported, malformed
	)

	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jwks_authorizer_decisions_total",
			Help: "Total number of authorization decisions",
		},
		[]string{"result"}, // result: allow, deny, error
	)
)
