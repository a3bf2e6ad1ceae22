package model

import (
	"github.com/shopspring/decimal"
)

// StateVersion is written into every persisted state document.
const StateVersion = 1

// State is the persisted form of the ledger: bankroll, open positions and
// a bounded bankroll history. The counters are optional; state files that
// predate them load with zero values.
type State struct {
	Version   int                 `json:"version,omitempty"`
	Bankroll  decimal.Decimal     `json:"bankroll"`
	Positions map[string]Position `json:"positions"`
	History   []BankrollSnapshot  `json:"history"`

	TradesToday int    `json:"trades_today,omitempty"`
	TradeDay    string `json:"trade_day,omitempty"` // UTC YYYY-MM-DD of TradesToday
	TotalTrades int    `json:"total_trades,omitempty"`
	Wins        int    `json:"wins,omitempty"`
	Losses      int    `json:"losses,omitempty"`
}

// NewState returns an empty state funded with the given bankroll.
func NewState(bankroll decimal.Decimal) *State {
	return &State{
		Version:   StateVersion,
		Bankroll:  bankroll,
		Positions: make(map[string]Position),
	}
}
