package metrics

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// CommunityMetrics exposes the ledger's operational counters. Dust retained
// by floor division is derivable as deposited minus paid for closed periods.
type CommunityMetrics struct {
	contributions  prometheus.Counter
	pointsAwarded  prometheus.Counter
	deposited      prometheus.Counter
	claims         prometheus.Counter
	paidOut        prometheus.Counter
	currentPeriod  prometheus.Gauge
	rejectedClaims *prometheus.CounterVec
}

var (
	communityOnce     sync.Once
	communityRegistry *CommunityMetrics
)

// Community returns the process-wide community metrics registry.
func Community() *CommunityMetrics {
	communityOnce.Do(func() {
		communityRegistry = &CommunityMetrics{
			contributions: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "community_contributions_total",
				Help: "Count of contribution records appended to the ledger.",
			}),
			pointsAwarded: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "community_points_awarded_total",
				Help: "Sum of points credited across all contributions.",
			}),
			deposited: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "community_rewards_deposited_total",
				Help: "Total value deposited into period reward pools.",
			}),
			claims: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "community_claims_total",
				Help: "Count of settled reward claims.",
			}),
			paidOut: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "community_rewards_paid_total",
				Help: "Total value paid out by settled claims.",
			}),
			currentPeriod: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "community_current_period",
				Help: "Id of the currently active period.",
			}),
			rejectedClaims: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "community_rejected_claims_total",
				Help: "Count of rejected claim attempts by reason.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			communityRegistry.contributions,
			communityRegistry.pointsAwarded,
			communityRegistry.deposited,
			communityRegistry.claims,
			communityRegistry.paidOut,
			communityRegistry.currentPeriod,
			communityRegistry.rejectedClaims,
		)
	})
	return communityRegistry
}

func bigFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}

// ObserveContribution records an appended contribution.
func (m *CommunityMetrics) ObserveContribution(points uint64) {
	if m == nil {
		return
	}
	m.contributions.Inc()
	m.pointsAwarded.Add(float64(points))
}

// ObserveDeposit records value entering a reward pool.
func (m *CommunityMetrics) ObserveDeposit(amount *big.Int) {
	if m == nil {
		return
	}
	m.deposited.Add(bigFloat(amount))
}

// ObserveClaim records a settled claim and its payout.
func (m *CommunityMetrics) ObserveClaim(amount *big.Int) {
	if m == nil {
		return
	}
	m.claims.Inc()
	m.paidOut.Add(bigFloat(amount))
}

// ObserveRejectedClaim records a claim rejection by reason label.
func (m *CommunityMetrics) ObserveRejectedClaim(reason string) {
	if m == nil {
		return
	}
	m.rejectedClaims.WithLabelValues(reason).Inc()
}

// SetCurrentPeriod tracks period rollover.
func (m *CommunityMetrics) SetCurrentPeriod(id uint64) {
	if m == nil {
		return
	}
	m.currentPeriod.Set(float64(id))
}
