// Package model defines the core domain types shared across the edge engine.
// All monetary values use shopspring/decimal; probabilities and temperatures
// are float64.
package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Operator is the comparison a market question asks about.
type Operator string

const (
	GreaterThan Operator = "gt"
	LessThan    Operator = "lt"
	InRange     Operator = "range"
)

// Valid reports whether o is one of the known operators.
func (o Operator) Valid() bool {
	switch o {
	case GreaterThan, LessThan, InRange:
		return true
	}
	return false
}

// Side is a binary market outcome.
type Side string

const (
	Yes Side = "YES"
	No  Side = "NO"
)

// Opposite returns the other outcome.
func (s Side) Opposite() Side {
	if s == Yes {
		return No
	}
	return Yes
}

// Status is the lifecycle state of a position: open -> won | lost.
type Status string

const (
	StatusOpen Status = "open"
	StatusWon  Status = "won"
	StatusLost Status = "lost"
)

// Resolution sources for a settled position.
const (
	ResolvedByMarket  = "market"
	ResolvedByWeather = "weather"
)

// MarketCondition is the structured form of a market question. It is parsed
// once per market observation and never mutated. Temperatures are Celsius.
type MarketCondition struct {
	City       string    `json:"city"`
	Operator   Operator  `json:"operator"`
	Threshold  float64   `json:"threshold"`
	Low        float64   `json:"low,omitempty"`
	High       float64   `json:"high,omitempty"`
	TargetDate time.Time `json:"target_date"`
	SourceUnit string    `json:"source_unit,omitempty"` // "C" or "F" as written in the question
}

// Holds reports whether a realized temperature satisfies the condition.
// GreaterThan and LessThan are strict; ranges include both bounds.
func (c MarketCondition) Holds(realizedC float64) bool {
	switch c.Operator {
	case GreaterThan:
		return realizedC > c.Threshold
	case LessThan:
		return realizedC < c.Threshold
	case InRange:
		return realizedC >= c.Low && realizedC <= c.High
	}
	return false
}

func (c MarketCondition) String() string {
	switch c.Operator {
	case InRange:
		return fmt.Sprintf("%s %.2f..%.2fC on %s", c.City, c.Low, c.High, c.TargetDate.Format("2006-01-02"))
	case LessThan:
		return fmt.Sprintf("%s < %.2fC on %s", c.City, c.Threshold, c.TargetDate.Format("2006-01-02"))
	default:
		return fmt.Sprintf("%s > %.2fC on %s", c.City, c.Threshold, c.TargetDate.Format("2006-01-02"))
	}
}

// ForecastSample is a consensus daily-max forecast for one city and date.
type ForecastSample struct {
	City          string    `json:"city"`
	TargetDate    time.Time `json:"target_date"`
	Mean          float64   `json:"mean"`
	Sigma         float64   `json:"sigma"`
	ProviderCount int       `json:"provider_count"`
	Spread        float64   `json:"spread"` // max - min of provider point forecasts
}

// MarketQuote is the price of one side of a binary market.
type MarketQuote struct {
	MarketID  string  `json:"market_id"`
	Side      Side    `json:"side"`
	Price     float64 `json:"price"`
	Liquidity float64 `json:"liquidity"`
}

// Validate checks the 0 < price < 1 contract for a single quote.
func (q MarketQuote) Validate() error {
	if !(q.Price > 0 && q.Price < 1) {
		return fmt.Errorf("quote %s/%s: price %v outside (0,1)", q.MarketID, q.Side, q.Price)
	}
	return nil
}

// Quotes pairs the YES and NO quotes of one market. The two prices need
// not sum to 1.
type Quotes struct {
	Yes MarketQuote `json:"yes"`
	No  MarketQuote `json:"no"`
}

// MarketObservation is a normalized market record from the market source.
type MarketObservation struct {
	ID          string    `json:"id"`
	Question    string    `json:"question"`
	Slug        string    `json:"slug,omitempty"`
	EndDate     time.Time `json:"end_date"`
	Liquidity   float64   `json:"liquidity"`
	Quotes      Quotes    `json:"quotes"`
	Closed      bool      `json:"closed"`
	WinningSide Side      `json:"winning_side,omitempty"` // set only once settled
}

// EdgeEvaluation is the selected side of a market with its fair probability
// and price. Derived per scan, never persisted on its own.
type EdgeEvaluation struct {
	Side            Side    `json:"side"`
	FairProbability float64 `json:"fair_probability"`
	MarketPrice     float64 `json:"market_price"`
	Edge            float64 `json:"edge"`
}

// Position is a stake held on one market, keyed by MarketID.
type Position struct {
	ID              string          `json:"id"`
	MarketID        string          `json:"market_id"`
	Question        string          `json:"question,omitempty"`
	City            string          `json:"city"`
	ClusterID       string          `json:"cluster_id"`
	Side            Side            `json:"side"`
	EntryPrice      float64         `json:"entry_price"`
	Stake           decimal.Decimal `json:"stake"`
	Condition       MarketCondition `json:"condition"`
	FairProbability float64         `json:"fair_probability,omitempty"`
	Edge            float64         `json:"edge,omitempty"`
	OrderID         string          `json:"order_id,omitempty"`
	OpenedAt        time.Time       `json:"opened_at"`
	ExpiresAt       time.Time       `json:"expires_at"`
	Status          Status          `json:"status"`

	// Settlement fields, zero while open.
	SettledAt    *time.Time      `json:"settled_at,omitempty"`
	Payout       decimal.Decimal `json:"payout"`
	Resolution   string          `json:"resolution,omitempty"`
	RealizedTemp *float64        `json:"realized_temp,omitempty"`
}

// BankrollSnapshot is one point of the rolling bankroll history.
type BankrollSnapshot struct {
	At           time.Time       `json:"at"`
	Bankroll     decimal.Decimal `json:"bankroll"`
	OpenExposure decimal.Decimal `json:"open_exposure"`
	Reason       string          `json:"reason,omitempty"`
}
