// Package correlation enforces exposure limits that account for correlated
// weather risk between cities.
//
// A heat wave over the northeast moves New York, Boston and Philadelphia
// together, so stakes on markets in the same cluster are limited in
// aggregate, on top of the per-market and whole-book caps.
package correlation

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/atmx/weather-edge/internal/model"
)

var (
	// ErrPerEventLimitExceeded is returned when a stake would push a single
	// market's exposure beyond the per-event maximum.
	ErrPerEventLimitExceeded = errors.New("correlation: per-event exposure limit exceeded")

	// ErrCorrelatedLimitExceeded is returned when a stake would push the
	// aggregate exposure across one cluster beyond the cluster maximum.
	ErrCorrelatedLimitExceeded = errors.New("correlation: correlated exposure limit exceeded")

	// ErrTotalLimitExceeded is returned when a stake would push total open
	// exposure beyond the book maximum.
	ErrTotalLimitExceeded = errors.New("correlation: total exposure limit exceeded")
)

// Holding is the exposure held on one market.
type Holding struct {
	Cluster string
	Stake   decimal.Decimal
}

// PositionLimiter enforces absolute exposure limits. Limits are computed once
// per cycle from the cycle bankroll and then checked at every admission
// against the live holdings, so earlier admissions in the same cycle count.
type PositionLimiter struct {
	// MaxPerEvent is the maximum stake on any single market.
	MaxPerEvent decimal.Decimal

	// MaxPerCluster is the maximum aggregate stake across all markets whose
	// city belongs to the same cluster.
	MaxPerCluster decimal.Decimal

	// MaxTotal is the maximum aggregate stake across the whole book.
	MaxTotal decimal.Decimal
}

// NewPositionLimiter creates a limiter with the given absolute limits.
func NewPositionLimiter(maxPerEvent, maxPerCluster, maxTotal decimal.Decimal) *PositionLimiter {
	return &PositionLimiter{
		MaxPerEvent:   maxPerEvent,
		MaxPerCluster: maxPerCluster,
		MaxTotal:      maxTotal,
	}
}

// ForBankroll scales the strategy's fractional caps by the cycle bankroll.
func ForBankroll(s model.Strategy, bankroll decimal.Decimal) *PositionLimiter {
	return NewPositionLimiter(
		bankroll.Mul(decimal.NewFromFloat(s.MaxEventExposure)),
		bankroll.Mul(decimal.NewFromFloat(s.MaxClusterExposure)),
		bankroll.Mul(decimal.NewFromFloat(s.TotalExposureCap())),
	)
}

// CheckLimit validates whether adding stake on marketID in cluster respects
// every limit, given the current holdings keyed by market ID.
//
// Returns nil if the stake is within limits, or the first violated limit.
func (l *PositionLimiter) CheckLimit(
	marketID, cluster string,
	stake decimal.Decimal,
	holdings map[string]Holding,
) error {
	// 1. Per-event limit.
	newPosition := holdings[marketID].Stake.Add(stake)
	if newPosition.GreaterThan(l.MaxPerEvent) {
		return ErrPerEventLimitExceeded
	}

	// 2. Cluster and total exposure.
	clusterTotal := newPosition
	total := newPosition
	for id, h := range holdings {
		if id == marketID {
			continue // already counted via newPosition above
		}
		total = total.Add(h.Stake)
		if h.Cluster == cluster {
			clusterTotal = clusterTotal.Add(h.Stake)
		}
	}

	if clusterTotal.GreaterThan(l.MaxPerCluster) {
		return ErrCorrelatedLimitExceeded
	}
	if total.GreaterThan(l.MaxTotal) {
		return ErrTotalLimitExceeded
	}
	return nil
}

// ClusterExposure sums the holdings in one cluster.
func ClusterExposure(cluster string, holdings map[string]Holding) decimal.Decimal {
	sum := decimal.Zero
	for _, h := range holdings {
		if h.Cluster == cluster {
			sum = sum.Add(h.Stake)
		}
	}
	return sum
}
