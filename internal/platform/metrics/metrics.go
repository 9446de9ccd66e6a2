package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine-wide Prometheus collectors. Per-area timings live
// next to their stores.
type Metrics struct {
	BindsTotal          *prometheus.CounterVec
	EntitlementsRevoked prometheus.Counter
	PoolsRefreshed      prometheus.Counter
	ManifestImports     *prometheus.CounterVec
	ConsumerEvents      prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		BindsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "entpool_binds_total",
			Help: "Bind attempts by outcome (success, constraint, eligibility, multi_entitlement)",
		}, []string{"outcome"}),
		EntitlementsRevoked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "entpool_entitlements_revoked_total",
			Help: "Entitlements removed by unbind or cascade",
		}),
		PoolsRefreshed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "entpool_pool_refreshes_total",
			Help: "Per-owner pool refresh passes completed",
		}),
		ManifestImports: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "entpool_manifest_imports_total",
			Help: "Manifest imports by status (success, failure, noop)",
		}, []string{"status"}),
		ConsumerEvents: promauto.NewCounter(prometheus.CounterOpts{
			Name: "entpool_consumer_modified_events_total",
			Help: "MODIFIED events emitted for observable consumer changes",
		}),
	}
}
