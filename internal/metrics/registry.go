package metrics

import (
	"github.com/armon/go-metrics"
	"github.com/armon/go-metrics/prometheus"
)

var (
	SessionsActive           = []string{"cda", "sessions_active"}
	SessionCreationSuccess   = []string{"cda", "session_creation", "success"}
	SessionCreationFailure   = []string{"cda", "session_creation", "failure"}
	CertRotations            = []string{"cda", "cert_rotations"}
	CertRotationFailures     = []string{"cda", "cert_rotation_failures"}
	PolicyDecisionsAllow     = []string{"cda", "policy_decisions", "allow"}
	PolicyDecisionsDeny      = []string{"cda", "policy_decisions", "deny"}
	ThingCacheHits           = []string{"cda", "thing_cache_hits"}
	ThingCacheMisses         = []string{"cda", "thing_cache_misses"}
	ShadowDeltasProcessed    = []string{"cda", "shadow_deltas_processed"}
	ShadowReportedPublishes  = []string{"cda", "shadow_reported_publishes"}
)

var Registry metrics.MetricSink

func init() {
	sink, err := prometheus.NewPrometheusSinkFrom(prometheus.PrometheusOpts{
		GaugeDefinitions: []prometheus.GaugeDefinition{{
			Name: SessionsActive,
			Help: "The number of authenticated sessions currently cached",
		}},
		CounterDefinitions: []prometheus.CounterDefinition{{
			Name: SessionCreationSuccess,
			Help: "The number of sessions successfully created",
		}, {
			Name: SessionCreationFailure,
			Help: "The number of session creation attempts that failed authentication",
		}, {
			Name: CertRotations,
			Help: "The number of certificate generators successfully re-issued",
		}, {
			Name: CertRotationFailures,
			Help: "The number of certificate generator re-issuance attempts that failed",
		}, {
			Name: PolicyDecisionsAllow,
			Help: "The number of authorization requests that evaluated to ALLOW",
		}, {
			Name: PolicyDecisionsDeny,
			Help: "The number of authorization requests that evaluated to DENY",
		}, {
			Name: ThingCacheHits,
			Help: "The number of thing attribute lookups served from the local trust cache",
		}, {
			Name: ThingCacheMisses,
			Help: "The number of thing attribute lookups that required a cloud round trip",
		}, {
			Name: ShadowDeltasProcessed,
			Help: "The number of connectivity shadow deltas processed to completion",
		}, {
			Name: ShadowReportedPublishes,
			Help: "The number of reported-state publishes sent to the connectivity shadow",
		}},
	})
	if err != nil {
		panic(err)
	}
	Registry = sink
}
