// Package ledger owns the bankroll and the set of open positions. All
// mutation goes through Admit and Settle, each atomic under one mutex, so a
// stake is debited in the same step that records the position and a payout
// is credited in the same step that closes it.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/weather-edge/internal/correlation"
	"github.com/atmx/weather-edge/internal/model"
)

var (
	// ErrDuplicateMarket is returned when a market already has a position.
	ErrDuplicateMarket = errors.New("ledger: market already has an open position")

	// ErrInsufficientFunds is returned when cash cannot cover the stake.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrNotOpen is returned when settling a market with no open position.
	ErrNotOpen = errors.New("ledger: no open position for market")

	// ErrNegativeStake is returned for a zero or negative stake.
	ErrNegativeStake = errors.New("ledger: stake must be positive")

	// ErrInvalidPosition is returned for a position missing its market ID or
	// carrying an entry price outside (0,1).
	ErrInvalidPosition = errors.New("ledger: invalid position")
)

// DefaultHistoryLimit bounds the rolling bankroll history.
const DefaultHistoryLimit = 500

const dayLayout = "2006-01-02"

// Settlement describes how a position was resolved.
type Settlement struct {
	At           time.Time
	Resolution   string   // model.ResolvedByMarket or model.ResolvedByWeather
	RealizedTemp *float64 // set for weather resolutions
}

// Stats is a point-in-time summary of the ledger.
type Stats struct {
	Bankroll      decimal.Decimal `json:"bankroll"`
	OpenExposure  decimal.Decimal `json:"open_exposure"`
	OpenPositions int             `json:"open_positions"`
	TradesToday   int             `json:"trades_today"`
	TotalTrades   int             `json:"total_trades"`
	Wins          int             `json:"wins"`
	Losses        int             `json:"losses"`
}

// Ledger is the single holder of bankroll and open positions. It is safe
// for concurrent use.
type Ledger struct {
	mu           sync.RWMutex
	state        model.State
	historyLimit int
	now          func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithHistoryLimit bounds the bankroll history to n snapshots.
func WithHistoryLimit(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.historyLimit = n
		}
	}
}

// WithClock overrides the clock used for snapshots.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates an empty ledger funded with bankroll.
func New(bankroll decimal.Decimal, opts ...Option) *Ledger {
	return Restore(model.NewState(bankroll), opts...)
}

// Restore rebuilds a ledger from persisted state. Only open positions are
// kept; settled records belong to the audit log.
func Restore(st *model.State, opts ...Option) *Ledger {
	l := &Ledger{
		historyLimit: DefaultHistoryLimit,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}

	l.state = *st
	l.state.Version = model.StateVersion
	l.state.Positions = make(map[string]model.Position, len(st.Positions))
	for id, p := range st.Positions {
		if p.Status == "" {
			p.Status = model.StatusOpen
		}
		if p.Status != model.StatusOpen {
			continue
		}
		if p.MarketID == "" {
			p.MarketID = id
		}
		l.state.Positions[id] = p
	}
	l.state.History = append([]model.BankrollSnapshot(nil), st.History...)
	l.trimHistory()
	return l
}

// Admit opens pos, debiting its stake from cash. When limits is non-nil the
// per-event, cluster and total caps are re-checked against the live open
// set, so admissions earlier in the same cycle count.
func (l *Ledger) Admit(pos model.Position, limits *correlation.PositionLimiter) error {
	if !pos.Stake.IsPositive() {
		return fmt.Errorf("%w: %s", ErrNegativeStake, pos.Stake)
	}
	if pos.MarketID == "" || !(pos.EntryPrice > 0 && pos.EntryPrice < 1) {
		return fmt.Errorf("%w: market %q price %v", ErrInvalidPosition, pos.MarketID, pos.EntryPrice)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.state.Positions[pos.MarketID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateMarket, pos.MarketID)
	}
	if limits != nil {
		if err := limits.CheckLimit(pos.MarketID, pos.ClusterID, pos.Stake, l.holdingsLocked()); err != nil {
			return err
		}
	}
	if l.state.Bankroll.LessThan(pos.Stake) {
		return fmt.Errorf("%w: stake %s, cash %s", ErrInsufficientFunds, pos.Stake, l.state.Bankroll)
	}

	if pos.OpenedAt.IsZero() {
		pos.OpenedAt = l.now()
	}
	pos.Status = model.StatusOpen
	l.state.Bankroll = l.state.Bankroll.Sub(pos.Stake)
	l.state.Positions[pos.MarketID] = pos

	l.rollDayLocked(pos.OpenedAt)
	l.state.TradesToday++
	l.state.TotalTrades++
	l.snapshotLocked("admit " + pos.MarketID)
	return nil
}

// Payout returns the net credit for a winning stake bought at price:
// stake / price * (1 - commission), rounded to cents.
func Payout(stake decimal.Decimal, price float64, commission decimal.Decimal) decimal.Decimal {
	gross := stake.Div(decimal.NewFromFloat(price))
	return gross.Mul(decimal.NewFromInt(1).Sub(commission)).Round(2)
}

// Settle closes the open position on marketID. A win credits the payout; a
// loss credits nothing because the stake was debited at admission. The
// settled record is returned for the audit log and removed from the ledger.
func (l *Ledger) Settle(marketID string, won bool, commission decimal.Decimal, s Settlement) (model.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.state.Positions[marketID]
	if !ok || pos.Status != model.StatusOpen {
		return model.Position{}, fmt.Errorf("%w: %s", ErrNotOpen, marketID)
	}

	at := s.At
	if at.IsZero() {
		at = l.now()
	}
	pos.SettledAt = &at
	pos.Resolution = s.Resolution
	pos.RealizedTemp = s.RealizedTemp

	if won {
		pos.Status = model.StatusWon
		pos.Payout = Payout(pos.Stake, pos.EntryPrice, commission)
		l.state.Bankroll = l.state.Bankroll.Add(pos.Payout)
		l.state.Wins++
	} else {
		pos.Status = model.StatusLost
		pos.Payout = decimal.Zero
		l.state.Losses++
	}

	delete(l.state.Positions, marketID)
	l.snapshotLocked(fmt.Sprintf("settle %s %s", marketID, pos.Status))
	return pos, nil
}

// RollDay resets the daily trade counter when now falls on a new UTC day.
// It reports whether a reset happened.
func (l *Ledger) RollDay(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rollDayLocked(now)
}

func (l *Ledger) rollDayLocked(now time.Time) bool {
	day := now.UTC().Format(dayLayout)
	if l.state.TradeDay == day {
		return false
	}
	l.state.TradeDay = day
	l.state.TradesToday = 0
	return true
}

// Cash returns the bankroll not committed to open positions.
func (l *Ledger) Cash() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.Bankroll
}

// Exposure returns cash, total open exposure and open exposure in cluster,
// read under one lock.
func (l *Ledger) Exposure(cluster string) (cash, open, clustered decimal.Decimal) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	h := l.holdingsLocked()
	open = decimal.Zero
	for _, x := range h {
		open = open.Add(x.Stake)
	}
	return l.state.Bankroll, open, correlation.ClusterExposure(cluster, h)
}

// Has reports whether marketID has an open position.
func (l *Ledger) Has(marketID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.state.Positions[marketID]
	return ok
}

// Position returns the open position on marketID.
func (l *Ledger) Position(marketID string) (model.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.state.Positions[marketID]
	return p, ok
}

// OpenPositions returns the open positions ordered by opening time.
func (l *Ledger) OpenPositions() []model.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.Position, 0, len(l.state.Positions))
	for _, p := range l.state.Positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].MarketID < out[j].MarketID
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

// Due returns the open positions whose expiry is at or before now.
func (l *Ledger) Due(now time.Time) []model.Position {
	var due []model.Position
	for _, p := range l.OpenPositions() {
		if !p.ExpiresAt.After(now) {
			due = append(due, p)
		}
	}
	return due
}

// History returns a copy of the bankroll history, oldest first.
func (l *Ledger) History() []model.BankrollSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]model.BankrollSnapshot(nil), l.state.History...)
}

// TradesToday returns the number of admissions on the current trade day.
func (l *Ledger) TradesToday() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.TradesToday
}

// Stats summarizes the ledger.
func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	open := decimal.Zero
	for _, p := range l.state.Positions {
		open = open.Add(p.Stake)
	}
	return Stats{
		Bankroll:      l.state.Bankroll,
		OpenExposure:  open,
		OpenPositions: len(l.state.Positions),
		TradesToday:   l.state.TradesToday,
		TotalTrades:   l.state.TotalTrades,
		Wins:          l.state.Wins,
		Losses:        l.state.Losses,
	}
}

// State returns a deep copy of the ledger for persistence.
func (l *Ledger) State() *model.State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st := l.state
	st.Positions = make(map[string]model.Position, len(l.state.Positions))
	for id, p := range l.state.Positions {
		st.Positions[id] = p
	}
	st.History = append([]model.BankrollSnapshot(nil), l.state.History...)
	return &st
}

func (l *Ledger) holdingsLocked() map[string]correlation.Holding {
	h := make(map[string]correlation.Holding, len(l.state.Positions))
	for id, p := range l.state.Positions {
		h[id] = correlation.Holding{Cluster: p.ClusterID, Stake: p.Stake}
	}
	return h
}

func (l *Ledger) snapshotLocked(reason string) {
	open := decimal.Zero
	for _, p := range l.state.Positions {
		open = open.Add(p.Stake)
	}
	l.state.History = append(l.state.History, model.BankrollSnapshot{
		At:           l.now(),
		Bankroll:     l.state.Bankroll,
		OpenExposure: open,
		Reason:       reason,
	})
	l.trimHistory()
}

func (l *Ledger) trimHistory() {
	if over := len(l.state.History) - l.historyLimit; over > 0 {
		l.state.History = append([]model.BankrollSnapshot(nil), l.state.History[over:]...)
	}
}
