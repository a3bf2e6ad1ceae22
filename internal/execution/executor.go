// Package execution places the orders the engine decides on. Paper fills at
// the quoted price locally; Webhook hands the order to an external signing
// service that owns wallet custody and returns the fill.
package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/weather-edge/internal/model"
	"github.com/atmx/weather-edge/internal/transport"
)

const (
	ModePaper = "paper"
	ModeLive  = "live"
)

var (
	// ErrRejected is returned when the venue refuses the order.
	ErrRejected = errors.New("execution: order rejected")

	// ErrInvalidOrder is returned for an order with a non-positive stake or
	// a price outside (0,1).
	ErrInvalidOrder = errors.New("execution: invalid order")
)

// Order is a buy of one side of a binary market.
type Order struct {
	ClientOrderID string          `json:"client_order_id"`
	MarketID      string          `json:"market_id"`
	Question      string          `json:"question,omitempty"`
	Side          model.Side      `json:"side"`
	Price         float64         `json:"price"`
	Stake         decimal.Decimal `json:"stake"`
}

// Validate checks the order before it leaves the process.
func (o Order) Validate() error {
	if o.MarketID == "" || !o.Stake.IsPositive() || !(o.Price > 0 && o.Price < 1) {
		return fmt.Errorf("%w: market=%q stake=%s price=%v", ErrInvalidOrder, o.MarketID, o.Stake, o.Price)
	}
	return nil
}

// Fill is an executed order.
type Fill struct {
	OrderID  string          `json:"order_id"`
	MarketID string          `json:"market_id"`
	Side     model.Side      `json:"side"`
	Price    float64         `json:"price"`
	Stake    decimal.Decimal `json:"stake"`
	FilledAt time.Time       `json:"filled_at"`
	Mode     string          `json:"mode"`
}

// OrderExecutor places orders.
type OrderExecutor interface {
	Execute(ctx context.Context, o Order) (Fill, error)
	Mode() string
}

// Paper simulates fills at the quoted price.
type Paper struct {
	mu    sync.Mutex
	fills []Fill
	now   func() time.Time
}

// NewPaper creates a paper executor.
func NewPaper() *Paper {
	return &Paper{now: func() time.Time { return time.Now().UTC() }}
}

func (p *Paper) Mode() string { return ModePaper }

// Execute fills the whole stake at the order price.
func (p *Paper) Execute(_ context.Context, o Order) (Fill, error) {
	if err := o.Validate(); err != nil {
		return Fill{}, err
	}
	f := Fill{
		OrderID:  uuid.New().String(),
		MarketID: o.MarketID,
		Side:     o.Side,
		Price:    o.Price,
		Stake:    o.Stake,
		FilledAt: p.now(),
		Mode:     ModePaper,
	}
	p.mu.Lock()
	p.fills = append(p.fills, f)
	p.mu.Unlock()
	return f, nil
}

// Fills returns every simulated fill so far.
func (p *Paper) Fills() []Fill {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Fill(nil), p.fills...)
}

// webhookResponse is the signer's answer.
type webhookResponse struct {
	OrderID     string          `json:"order_id"`
	Status      string          `json:"status"` // filled | rejected
	Reason      string          `json:"reason,omitempty"`
	FilledPrice float64         `json:"filled_price,omitempty"`
	FilledStake decimal.Decimal `json:"filled_stake,omitempty"`
}

// Webhook submits orders to an external signer over HTTP.
type Webhook struct {
	http *transport.Client
	path string
	now  func() time.Time
}

// NewWebhook creates a live executor posting to path on the transport's
// base URL.
func NewWebhook(t *transport.Client, path string) *Webhook {
	if path == "" {
		path = "/orders"
	}
	return &Webhook{http: t, path: path, now: func() time.Time { return time.Now().UTC() }}
}

func (w *Webhook) Mode() string { return ModeLive }

// Execute posts the order and returns the signer's fill. A partial fill
// returns the filled stake; the caller admits only what was filled.
func (w *Webhook) Execute(ctx context.Context, o Order) (Fill, error) {
	if err := o.Validate(); err != nil {
		return Fill{}, err
	}
	if o.ClientOrderID == "" {
		o.ClientOrderID = uuid.New().String()
	}

	var resp webhookResponse
	if err := w.http.PostJSON(ctx, w.path, o, &resp); err != nil {
		return Fill{}, fmt.Errorf("submit order %s: %w", o.ClientOrderID, err)
	}
	if resp.Status != "filled" {
		return Fill{}, fmt.Errorf("%w: %s: %s %s", ErrRejected, o.MarketID, resp.Status, resp.Reason)
	}

	f := Fill{
		OrderID:  resp.OrderID,
		MarketID: o.MarketID,
		Side:     o.Side,
		Price:    o.Price,
		Stake:    o.Stake,
		FilledAt: w.now(),
		Mode:     ModeLive,
	}
	if f.OrderID == "" {
		f.OrderID = o.ClientOrderID
	}
	if resp.FilledPrice > 0 && resp.FilledPrice < 1 {
		f.Price = resp.FilledPrice
	}
	if resp.FilledStake.IsPositive() && resp.FilledStake.LessThan(o.Stake) {
		f.Stake = resp.FilledStake
	}
	return f, nil
}
