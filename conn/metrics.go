package conn

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are ambient observability; correctness never depends on them.
var (
	commitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "datomcore_commits_total",
		Help: "counter of InProgress commits that advanced the metadata generation",
	})

	rollbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "datomcore_rollbacks_total",
		Help: "counter of InProgress transactions discarded via Rollback (including InProgressRead.Close)",
	})

	raceTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "datomcore_commit_races_total",
		Help: "counter of commits that observed a metadata generation mismatch",
	})

	cacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "datomcore_cache_lookups_total",
		Help: "counter of attribute lookups by cache outcome",
	}, []string{"outcome"})
)
