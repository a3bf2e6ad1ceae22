// Package edge compares a fair YES probability against the quoted YES and NO
// prices of a market and selects the side worth trading, if any.
package edge

import (
	"errors"
	"fmt"

	"github.com/atmx/weather-edge/internal/model"
)

var (
	// ErrNoTrade is returned when neither side clears the minimum edge or the
	// selected price is outside the tradable band. It is a normal outcome.
	ErrNoTrade = errors.New("edge: no tradable edge")

	// ErrInvalidQuote is returned when a quote violates 0 < price < 1.
	ErrInvalidQuote = errors.New("edge: invalid quote")

	// ErrInvalidProbability is returned when fairYes is outside [0, 1].
	ErrInvalidProbability = errors.New("edge: probability outside [0,1]")
)

// Evaluator holds the edge and price filters of a strategy.
type Evaluator struct {
	MinEdge  float64
	MinPrice float64 // 0 disables
	MaxPrice float64 // 0 disables
}

// NewEvaluator builds an Evaluator from a strategy.
func NewEvaluator(s model.Strategy) *Evaluator {
	return &Evaluator{MinEdge: s.MinEdge, MinPrice: s.MinPrice, MaxPrice: s.MaxPrice}
}

// Sides returns the raw edges for both sides without any filtering.
func Sides(fairYes float64, q model.Quotes) (edgeYes, edgeNo float64) {
	return fairYes - q.Yes.Price, (1 - fairYes) - q.No.Price
}

// Evaluate selects the side with the larger edge, preferring YES on a tie.
// The returned evaluation is populated even with ErrNoTrade so callers can
// log the rejected edge.
func (e *Evaluator) Evaluate(fairYes float64, q model.Quotes) (model.EdgeEvaluation, error) {
	if fairYes < 0 || fairYes > 1 || fairYes != fairYes {
		return model.EdgeEvaluation{}, fmt.Errorf("%w: %v", ErrInvalidProbability, fairYes)
	}
	if err := q.Yes.Validate(); err != nil {
		return model.EdgeEvaluation{}, fmt.Errorf("%w: %v", ErrInvalidQuote, err)
	}
	if err := q.No.Validate(); err != nil {
		return model.EdgeEvaluation{}, fmt.Errorf("%w: %v", ErrInvalidQuote, err)
	}

	edgeYes, edgeNo := Sides(fairYes, q)
	ev := model.EdgeEvaluation{
		Side:            model.Yes,
		FairProbability: fairYes,
		MarketPrice:     q.Yes.Price,
		Edge:            edgeYes,
	}
	if edgeNo > edgeYes {
		ev = model.EdgeEvaluation{
			Side:            model.No,
			FairProbability: 1 - fairYes,
			MarketPrice:     q.No.Price,
			Edge:            edgeNo,
		}
	}

	if ev.Edge < e.MinEdge {
		return ev, fmt.Errorf("%w: best edge %.4f on %s below %.4f", ErrNoTrade, ev.Edge, ev.Side, e.MinEdge)
	}
	if e.MinPrice > 0 && ev.MarketPrice < e.MinPrice {
		return ev, fmt.Errorf("%w: %s price %.4f below %.4f", ErrNoTrade, ev.Side, ev.MarketPrice, e.MinPrice)
	}
	if e.MaxPrice > 0 && ev.MarketPrice > e.MaxPrice {
		return ev, fmt.Errorf("%w: %s price %.4f above %.4f", ErrNoTrade, ev.Side, ev.MarketPrice, e.MaxPrice)
	}
	return ev, nil
}
