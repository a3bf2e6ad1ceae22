package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/weather-edge/internal/model"
)

// OutcomeSource reports a market's own settlement. settled is false while
// the market has not resolved.
type OutcomeSource interface {
	Outcome(ctx context.Context, marketID string) (winner model.Side, settled bool, err error)
}

// WeatherSource reports the realized daily maximum temperature (°C) for a
// city and date. It returns an error while the value is not yet published.
type WeatherSource interface {
	RealizedMax(ctx context.Context, city string, date time.Time) (float64, error)
}

// Resolution is the result of one resolution pass.
type Resolution struct {
	Settled []model.Position // closed this pass, for the audit log
	Pending []string         // due but no outcome data yet; retried next cycle
	Stale   []string         // pending for longer than StaleAfter past expiry
}

// Resolver settles due positions, first against the market's own outcome
// and then against realized weather. Positions with no outcome data stay
// open; there is no forced default outcome.
type Resolver struct {
	ledger     *Ledger
	outcomes   OutcomeSource
	weather    WeatherSource
	commission decimal.Decimal
	staleAfter time.Duration
	logger     *slog.Logger
}

// ResolverConfig wires a Resolver. Either source may be nil.
type ResolverConfig struct {
	Outcomes   OutcomeSource
	Weather    WeatherSource
	Commission decimal.Decimal
	StaleAfter time.Duration // 0 disables stale reporting
	Logger     *slog.Logger
}

// NewResolver creates a Resolver over l.
func NewResolver(l *Ledger, cfg ResolverConfig) *Resolver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		ledger:     l,
		outcomes:   cfg.Outcomes,
		weather:    cfg.Weather,
		commission: cfg.Commission,
		staleAfter: cfg.StaleAfter,
		logger:     logger,
	}
}

// Resolve settles every open position whose expiry has passed. Positions are
// handled sequentially.
func (r *Resolver) Resolve(ctx context.Context, now time.Time) Resolution {
	var res Resolution
	for _, pos := range r.ledger.Due(now) {
		if ctx.Err() != nil {
			break
		}
		won, s, ok := r.outcome(ctx, pos, now)
		if !ok {
			res.Pending = append(res.Pending, pos.MarketID)
			if r.staleAfter > 0 && now.Sub(pos.ExpiresAt) > r.staleAfter {
				res.Stale = append(res.Stale, pos.MarketID)
				r.logger.Warn("position unresolved past stale window",
					"market_id", pos.MarketID,
					"expired_at", pos.ExpiresAt,
					"overdue", now.Sub(pos.ExpiresAt).String(),
				)
			}
			continue
		}

		settled, err := r.ledger.Settle(pos.MarketID, won, r.commission, s)
		if err != nil {
			r.logger.Error("settle failed", "market_id", pos.MarketID, "err", err)
			continue
		}
		r.logger.Info("position settled",
			"market_id", settled.MarketID,
			"status", settled.Status,
			"resolution", settled.Resolution,
			"stake", settled.Stake.String(),
			"payout", settled.Payout.String(),
		)
		res.Settled = append(res.Settled, settled)
	}
	return res
}

func (r *Resolver) outcome(ctx context.Context, pos model.Position, now time.Time) (bool, Settlement, bool) {
	if r.outcomes != nil {
		winner, settled, err := r.outcomes.Outcome(ctx, pos.MarketID)
		switch {
		case err != nil:
			r.logger.Warn("market outcome unavailable", "market_id", pos.MarketID, "err", err)
		case settled:
			return pos.Side == winner, Settlement{At: now, Resolution: model.ResolvedByMarket}, true
		}
	}

	if r.weather != nil {
		temp, err := r.weather.RealizedMax(ctx, pos.Condition.City, pos.Condition.TargetDate)
		if err != nil {
			r.logger.Debug("realized weather unavailable", "market_id", pos.MarketID, "err", err)
			return false, Settlement{}, false
		}
		yes := pos.Condition.Holds(temp)
		return (pos.Side == model.Yes) == yes, Settlement{
			At:           now,
			Resolution:   model.ResolvedByWeather,
			RealizedTemp: &temp,
		}, true
	}
	return false, Settlement{}, false
}
