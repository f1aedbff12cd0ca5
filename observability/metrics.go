package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// GovernanceMetrics tracks proposal lifecycle activity.
type GovernanceMetrics struct {
	Proposals     prometheus.Counter
	Votes         prometheus.Counter
	SweepOutcomes *prometheus.CounterVec
}

// MarketMetrics tracks marketplace settlement activity.
type MarketMetrics struct {
	Listings    prometheus.Counter
	Settlements prometheus.Counter
}

var (
	governanceOnce     sync.Once
	governanceRegistry *GovernanceMetrics

	marketOnce     sync.Once
	marketRegistry *MarketMetrics
)

// Governance returns the lazily-initialised governance metrics registry.
func Governance() *GovernanceMetrics {
	governanceOnce.Do(func() {
		governanceRegistry = &GovernanceMetrics{
			Proposals: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "agora",
				Subsystem: "gov",
				Name:      "proposals_total",
				Help:      "Total proposals admitted into the pipeline.",
			}),
			Votes: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "agora",
				Subsystem: "gov",
				Name:      "votes_total",
				Help:      "Total ballots recorded across all proposals.",
			}),
			SweepOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "agora",
				Subsystem: "gov",
				Name:      "sweep_outcomes_total",
				Help:      "Auto-execution sweep results segmented by outcome.",
			}, []string{"outcome"}),
		}
		prometheus.MustRegister(
			governanceRegistry.Proposals,
			governanceRegistry.Votes,
			governanceRegistry.SweepOutcomes,
		)
	})
	return governanceRegistry
}

// Market returns the lazily-initialised marketplace metrics registry.
func Market() *MarketMetrics {
	marketOnce.Do(func() {
		marketRegistry = &MarketMetrics{
			Listings: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "agora",
				Subsystem: "market",
				Name:      "listings_total",
				Help:      "Total listings created.",
			}),
			Settlements: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "agora",
				Subsystem: "market",
				Name:      "settlements_total",
				Help:      "Total listings settled.",
			}),
		}
		prometheus.MustRegister(marketRegistry.Listings, marketRegistry.Settlements)
	})
	return marketRegistry
}
