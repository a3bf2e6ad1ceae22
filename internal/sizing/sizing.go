// Package sizing turns an edge into a stake with fractional Kelly, clipped by
// per-event, per-cluster and total exposure caps and by the bankroll buffer.
//
// Caps are fractions of the cycle bankroll: the cash on hand when the cycle
// started. Stakes are truncated to cents; a stake below the minimum tradable
// unit is no trade, never rounded up.
package sizing

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/weather-edge/internal/model"
)

// Reasons reported on a Decision. The first non-Kelly reason names the
// constraint that bound the stake.
const (
	ReasonKelly        = "kelly"
	ReasonEventCap     = "event_cap"
	ReasonClusterCap   = "cluster_cap"
	ReasonTotalCap     = "total_cap"
	ReasonCash         = "cash_buffer"
	ReasonNoEdge       = "no_edge"
	ReasonInvalidPrice = "invalid_price"
	ReasonBelowMinimum = "below_min_stake"
)

const cents int32 = 2

// Exposure is the ledger snapshot a stake is sized against.
type Exposure struct {
	Bankroll        decimal.Decimal // cycle bankroll, the base for every cap
	Cash            decimal.Decimal // cash available right now
	OpenExposure    decimal.Decimal // sum of open stakes
	ClusterExposure decimal.Decimal // sum of open stakes in the target cluster
}

// Decision is the outcome of sizing one evaluation.
type Decision struct {
	Stake  decimal.Decimal
	Kelly  float64 // full-Kelly fraction f*
	Reason string
}

// Tradable reports whether the decision carries a positive stake.
func (d Decision) Tradable() bool {
	return d.Stake.IsPositive()
}

// Sizer applies one strategy's sizing rules. It is safe for concurrent use.
type Sizer struct {
	strategy model.Strategy
}

// NewSizer creates a Sizer for the strategy.
func NewSizer(s model.Strategy) *Sizer {
	return &Sizer{strategy: s}
}

// Kelly returns the full-Kelly fraction for a win probability p at the given
// price: b = 1/price - 1, f* = (p*b - (1-p)) / b.
func Kelly(p, price float64) float64 {
	if price <= 0 || price >= 1 {
		return 0
	}
	b := 1/price - 1
	return (p*b - (1 - p)) / b
}

// Size computes the stake for ev. The returned stake is never negative and
// is zero whenever the edge or the Kelly fraction is not positive.
func (s *Sizer) Size(ev model.EdgeEvaluation, exp Exposure) Decision {
	if ev.MarketPrice <= 0 || ev.MarketPrice >= 1 {
		return Decision{Stake: decimal.Zero, Reason: ReasonInvalidPrice}
	}
	f := Kelly(ev.FairProbability, ev.MarketPrice)
	if ev.Edge <= 0 || f <= 0 {
		return Decision{Stake: decimal.Zero, Kelly: f, Reason: ReasonNoEdge}
	}

	st := s.strategy
	base := exp.Bankroll
	stake := base.Mul(decimal.NewFromFloat(f * st.KellyFraction))
	reason := ReasonKelly

	clip := func(limit decimal.Decimal, why string) {
		if limit.LessThan(stake) {
			stake = limit
			reason = why
		}
	}
	clip(base.Mul(decimal.NewFromFloat(st.MaxEventExposure)), ReasonEventCap)
	clip(base.Mul(decimal.NewFromFloat(st.MaxClusterExposure)).Sub(exp.ClusterExposure), ReasonClusterCap)
	clip(base.Mul(decimal.NewFromFloat(st.TotalExposureCap())).Sub(exp.OpenExposure), ReasonTotalCap)
	clip(exp.Cash.Sub(st.MinBankrollBuffer), ReasonCash)

	stake = stake.Truncate(cents)
	if !stake.IsPositive() || stake.LessThan(st.MinStake) {
		return Decision{Stake: decimal.Zero, Kelly: f, Reason: ReasonBelowMinimum}
	}
	return Decision{Stake: stake, Kelly: f, Reason: reason}
}

// Halted reports whether cash has fallen to the bankroll buffer, below which
// no new position may be opened.
func (s *Sizer) Halted(cash decimal.Decimal) bool {
	return cash.LessThanOrEqual(s.strategy.MinBankrollBuffer)
}

// DailyLimitReached reports whether the day's trade count has hit the limit.
func (s *Sizer) DailyLimitReached(tradesToday int) bool {
	return s.strategy.MaxTradesPerDay > 0 && tradesToday >= s.strategy.MaxTradesPerDay
}
