// Package engine runs one trading cycle: resolve due positions, scan the
// market source, price each market against the forecast, size and execute
// the tradable ones, and persist the ledger.
//
// A cycle is a single pass. Scheduling belongs to the caller (cron, the
// edgebot CLI, or the server's POST /cycle); Engine only guarantees that two
// cycles never interleave.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/weather-edge/internal/contract"
	"github.com/atmx/weather-edge/internal/correlation"
	"github.com/atmx/weather-edge/internal/edge"
	"github.com/atmx/weather-edge/internal/execution"
	"github.com/atmx/weather-edge/internal/gamma"
	"github.com/atmx/weather-edge/internal/ledger"
	"github.com/atmx/weather-edge/internal/metrics"
	"github.com/atmx/weather-edge/internal/model"
	"github.com/atmx/weather-edge/internal/probability"
	"github.com/atmx/weather-edge/internal/sizing"
	"github.com/atmx/weather-edge/internal/store"
)

// Halt reasons reported on a CycleReport. A halted cycle still resolves
// and persists; it only stops opening positions.
const (
	HaltKillSwitch = "kill_switch"
	HaltDailyLimit = "daily_limit"
)

// Skip reasons counted on a CycleReport. Sizing reasons from the sizing
// package are counted as-is.
const (
	SkipHeld      = "already_held"
	SkipClosed    = "closed"
	SkipLiquidity = "low_liquidity"
	SkipMalformed = "malformed"
	SkipUnparsed  = "unparsed"
	SkipExpired   = "expired"
	SkipForecast  = "forecast_unavailable"
	SkipNoEdge    = "no_edge"
	SkipBadQuote  = "invalid_quote"
	SkipExecution = "execution_failed"
	SkipLimit     = "exposure_limit"
	SkipAdmission = "admission_failed"
)

const defaultParallel = 4

// MarketLister lists candidate markets.
type MarketLister interface {
	ListMarkets(ctx context.Context, q gamma.Query) (gamma.Listing, error)
}

// Forecaster returns a consensus forecast for a city and date.
type Forecaster interface {
	Forecast(ctx context.Context, city string, date time.Time) (model.ForecastSample, error)
}

// Config holds the per-variant settings of an Engine.
type Config struct {
	Strategy    model.Strategy
	Query       gamma.Query
	Concurrency int           // forecast prefetch workers
	StaleAfter  time.Duration // unresolved positions older than this past expiry are flagged
	Seed        uint64        // market shuffle seed; 0 seeds from the clock
}

// CycleReport summarizes one cycle. It is also the JSON summary printed by
// the edgebot CLI.
type CycleReport struct {
	ID            string           `json:"id"`
	Mode          string           `json:"mode"`
	StartedAt     time.Time        `json:"started_at"`
	FinishedAt    time.Time        `json:"finished_at"`
	BankrollStart decimal.Decimal  `json:"bankroll_start"`
	BankrollEnd   decimal.Decimal  `json:"bankroll_end"`
	OpenExposure  decimal.Decimal  `json:"open_exposure"`
	Scanned       int              `json:"scanned"`
	Evaluated     int              `json:"evaluated"`
	Skipped       map[string]int   `json:"skipped"`
	Admitted      []model.Position `json:"admitted"`
	Settled       []model.Position `json:"settled"`
	Pending       []string         `json:"pending,omitempty"`
	Stale         []string         `json:"stale,omitempty"`
	Halted        string           `json:"halted,omitempty"`
	Errors        []string         `json:"errors,omitempty"`
}

func (r *CycleReport) skip(reason string) {
	r.Skipped[reason]++
	metrics.MarketsSkipped.WithLabelValues(reason).Inc()
}

// Engine wires the pipeline stages around one ledger.
type Engine struct {
	mu sync.Mutex

	cfg       Config
	ledger    *ledger.Ledger
	resolver  *ledger.Resolver
	parser    *contract.Parser
	evaluator *edge.Evaluator
	sizer     *sizing.Sizer
	probOpts  probability.Options

	markets   MarketLister
	forecasts Forecaster
	executor  execution.OrderExecutor
	state     store.StateStore
	audit     store.AuditLog
	outcomes  ledger.OutcomeSource
	weather   ledger.WeatherSource
	listeners []Listener

	logger *slog.Logger
	now    func() time.Time

	last    *CycleReport
	lastMu  sync.RWMutex
	seedSeq uint64
}

// Option configures an Engine.
type Option func(*Engine)

// WithAuditLog sets where settled positions are recorded.
func WithAuditLog(a store.AuditLog) Option {
	return func(e *Engine) { e.audit = a }
}

// WithOutcomes sets the market settlement source used by the resolver.
func WithOutcomes(o ledger.OutcomeSource) Option {
	return func(e *Engine) { e.outcomes = o }
}

// WithWeather sets the realized temperature source used by the resolver.
func WithWeather(w ledger.WeatherSource) Option {
	return func(e *Engine) { e.weather = w }
}

// WithListener registers a receiver for admission, settlement and cycle
// events. Events are delivered after the state is persisted.
func WithListener(l Listener) Option {
	return func(e *Engine) { e.listeners = append(e.listeners, l) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the engine clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine over an already restored ledger.
func New(
	cfg Config,
	l *ledger.Ledger,
	markets MarketLister,
	forecasts Forecaster,
	executor execution.OrderExecutor,
	state store.StateStore,
	opts ...Option,
) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultParallel
	}
	e := &Engine{
		cfg:       cfg,
		ledger:    l,
		parser:    contract.NewParser(cfg.Strategy.Cities),
		evaluator: edge.NewEvaluator(cfg.Strategy),
		sizer:     sizing.NewSizer(cfg.Strategy),
		probOpts:  probability.OptionsFromStrategy(cfg.Strategy),
		markets:   markets,
		forecasts: forecasts,
		executor:  executor,
		state:     state,
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	e.resolver = ledger.NewResolver(l, ledger.ResolverConfig{
		Outcomes:   e.outcomes,
		Weather:    e.weather,
		Commission: cfg.Strategy.Commission,
		StaleAfter: cfg.StaleAfter,
		Logger:     e.logger,
	})
	return e
}

// Ledger returns the engine's ledger for read access.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// Strategy returns the strategy the engine trades.
func (e *Engine) Strategy() model.Strategy { return e.cfg.Strategy }

// LastReport returns the most recent cycle report.
func (e *Engine) LastReport() (CycleReport, bool) {
	e.lastMu.RLock()
	defer e.lastMu.RUnlock()
	if e.last == nil {
		return CycleReport{}, false
	}
	return *e.last, true
}

// LoadLedger restores the ledger from st. Missing state starts a fresh
// ledger funded with the strategy's initial bankroll; corrupt state with no
// usable backup does the same and logs the lost continuity.
func LoadLedger(ctx context.Context, st store.StateStore, s model.Strategy, logger *slog.Logger, opts ...ledger.Option) (*ledger.Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	state, err := st.Load(ctx)
	switch {
	case err == nil:
		l := ledger.Restore(state, opts...)
		stats := l.Stats()
		logger.Info("ledger restored",
			"bankroll", stats.Bankroll.String(),
			"open_positions", stats.OpenPositions,
		)
		return l, nil
	case errors.Is(err, store.ErrNoState):
		logger.Info("no persisted state, starting fresh ledger", "bankroll", s.InitialBankroll.String())
		return ledger.New(s.InitialBankroll, opts...), nil
	case errors.Is(err, store.ErrCorruptState):
		logger.Error("persisted state corrupt and no usable backup; reinitialising, open positions and bankroll history are lost",
			"bankroll", s.InitialBankroll.String(),
			"err", err,
		)
		return ledger.New(s.InitialBankroll, opts...), nil
	default:
		return nil, fmt.Errorf("load state: %w", err)
	}
}

// candidate is a market that passed parsing and the cheap filters.
type candidate struct {
	obs     model.MarketObservation
	cond    model.MarketCondition
	cluster string
}

// RunCycle runs one full cycle. Business stops (kill switch, daily limit)
// are reported on CycleReport.Halted; the returned error is reserved for
// persistence failures, after which the in-memory ledger is still valid.
func (e *Engine) RunCycle(ctx context.Context) (CycleReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := e.now()
	report := CycleReport{
		ID:            uuid.New().String(),
		Mode:          e.executor.Mode(),
		StartedAt:     start,
		BankrollStart: e.ledger.Cash(),
		Skipped:       make(map[string]int),
		Admitted:      []model.Position{},
		Settled:       []model.Position{},
	}
	log := e.logger.With("cycle_id", report.ID)
	var events []Event

	if e.ledger.RollDay(start) {
		log.Info("trade day rolled over", "day", start.Format("2006-01-02"))
	}

	// 1. Resolve.
	res := e.resolver.Resolve(ctx, start)
	report.Pending = res.Pending
	report.Stale = res.Stale
	for _, pos := range res.Settled {
		report.Settled = append(report.Settled, pos)
		metrics.PositionsSettled.WithLabelValues(string(pos.Status), pos.Resolution).Inc()
		events = append(events, Event{Type: EventSettled, At: start, Position: ptr(pos)})
		if e.audit != nil {
			if err := e.audit.Append(context.WithoutCancel(ctx), pos); err != nil {
				log.Error("audit append failed", "market_id", pos.MarketID, "err", err)
				report.Errors = append(report.Errors, fmt.Sprintf("audit %s: %v", pos.MarketID, err))
			}
		}
	}
	metrics.StalePositions.Set(float64(len(res.Stale)))

	// 2. Scan unless halted.
	if halt := e.halted(); halt != "" {
		report.Halted = halt
		log.Warn("cycle halted before scan", "reason", halt, "cash", e.ledger.Cash().String())
	} else {
		events = append(events, e.scan(ctx, log, &report)...)
	}

	// 3. Persist.
	stats := e.ledger.Stats()
	report.BankrollEnd = stats.Bankroll
	report.OpenExposure = stats.OpenExposure
	report.FinishedAt = e.now()
	metrics.Bankroll.Set(stats.Bankroll.InexactFloat64())
	metrics.OpenExposure.Set(stats.OpenExposure.InexactFloat64())
	metrics.OpenPositions.Set(float64(stats.OpenPositions))
	metrics.CycleDuration.Observe(report.FinishedAt.Sub(start).Seconds())

	if err := e.state.Save(context.WithoutCancel(ctx), e.ledger.State()); err != nil {
		metrics.CyclesTotal.WithLabelValues("error").Inc()
		report.Errors = append(report.Errors, "persist: "+err.Error())
		e.remember(report)
		log.Error("state persist failed", "err", err)
		e.emit(ctx, log, Event{Type: EventError, At: report.FinishedAt, Message: "state persist failed: " + err.Error()})
		return report, fmt.Errorf("persist state: %w", err)
	}

	result := "ok"
	if report.Halted != "" {
		result = "halted"
	}
	metrics.CyclesTotal.WithLabelValues(result).Inc()
	e.remember(report)

	log.Info("cycle complete",
		"mode", report.Mode,
		"scanned", report.Scanned,
		"evaluated", report.Evaluated,
		"admitted", len(report.Admitted),
		"settled", len(report.Settled),
		"pending", len(report.Pending),
		"halted", report.Halted,
		"bankroll", report.BankrollEnd.String(),
		"open_exposure", report.OpenExposure.String(),
		"duration", report.FinishedAt.Sub(start).String(),
	)

	events = append(events, Event{Type: EventCycle, At: report.FinishedAt, Report: ptr(report)})
	e.emit(ctx, log, events...)
	return report, nil
}

// halted returns the business stop that blocks new positions, if any.
func (e *Engine) halted() string {
	if e.sizer.Halted(e.ledger.Cash()) {
		return HaltKillSwitch
	}
	if e.sizer.DailyLimitReached(e.ledger.TradesToday()) {
		return HaltDailyLimit
	}
	return ""
}

// scan fetches, filters, prices and admits markets. It returns admission
// events.
func (e *Engine) scan(ctx context.Context, log *slog.Logger, report *CycleReport) []Event {
	listing, err := e.markets.ListMarkets(ctx, e.cfg.Query)
	if err != nil {
		log.Error("market listing failed", "err", err)
		report.Errors = append(report.Errors, "markets: "+err.Error())
		return nil
	}
	report.Scanned = len(listing.Markets)
	metrics.MarketsScanned.Add(float64(len(listing.Markets)))
	for i := 0; i < listing.Rejected; i++ {
		report.skip(SkipMalformed)
	}

	cands := e.candidates(listing.Markets, report)
	e.shuffle(cands)
	forecasts := e.prefetch(ctx, cands)

	// Caps are fractions of the bankroll at the start of the scan.
	base := e.ledger.Cash()
	limits := correlation.ForBankroll(e.cfg.Strategy, base)

	var events []Event
	for _, c := range cands {
		if ctx.Err() != nil {
			report.Errors = append(report.Errors, "scan interrupted: "+ctx.Err().Error())
			break
		}
		if halt := e.halted(); halt != "" {
			report.Halted = halt
			log.Info("scan stopped", "reason", halt)
			break
		}

		pos, ok := e.evaluate(ctx, log, report, c, forecasts[forecastKey(c.cond)], base, limits)
		if !ok {
			continue
		}
		report.Admitted = append(report.Admitted, pos)
		events = append(events, Event{Type: EventAdmitted, At: pos.OpenedAt, Position: ptr(pos)})
	}
	return events
}

func (e *Engine) candidates(markets []model.MarketObservation, report *CycleReport) []candidate {
	today := truncateDay(report.StartedAt)
	out := make([]candidate, 0, len(markets))
	for _, obs := range markets {
		switch {
		case e.ledger.Has(obs.ID):
			report.skip(SkipHeld)
			continue
		case obs.Closed:
			report.skip(SkipClosed)
			continue
		case obs.Liquidity < e.cfg.Strategy.MinLiquidity:
			report.skip(SkipLiquidity)
			continue
		}
		cond, err := e.parser.Parse(obs)
		if err != nil {
			e.logger.Debug("market not parsed", "market_id", obs.ID, "question", obs.Question, "err", err)
			report.skip(SkipUnparsed)
			continue
		}
		if cond.TargetDate.Before(today) {
			report.skip(SkipExpired)
			continue
		}
		out = append(out, candidate{obs: obs, cond: *cond, cluster: e.cfg.Strategy.ClusterOf(cond.City)})
	}
	return out
}

func (e *Engine) shuffle(cands []candidate) {
	seed := e.cfg.Seed
	if seed == 0 {
		seed = uint64(e.now().UnixNano())
	} else {
		// Fixed seed, distinct but reproducible order per cycle.
		e.seedSeq++
		seed += e.seedSeq
	}
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	r.Shuffle(len(cands), func(i, j int) { cands[i], cands[j] = cands[j], cands[i] })
}

// evaluate prices, sizes, executes and admits one candidate.
func (e *Engine) evaluate(
	ctx context.Context,
	log *slog.Logger,
	report *CycleReport,
	c candidate,
	fc forecastResult,
	base decimal.Decimal,
	limits *correlation.PositionLimiter,
) (model.Position, bool) {
	mlog := log.With("market_id", c.obs.ID, "condition", c.cond.String())
	if fc.err != nil {
		mlog.Debug("forecast unavailable", "err", fc.err)
		report.skip(SkipForecast)
		return model.Position{}, false
	}
	report.Evaluated++

	fair := probability.FairYes(fc.sample, c.cond, e.probOpts)
	ev, err := e.evaluator.Evaluate(fair, c.obs.Quotes)
	if err != nil {
		if errors.Is(err, edge.ErrNoTrade) {
			metrics.EdgeObserved.WithLabelValues(string(ev.Side)).Observe(ev.Edge)
			report.skip(SkipNoEdge)
		} else {
			report.skip(SkipBadQuote)
			mlog.Warn("market rejected by evaluator", "err", err)
		}
		return model.Position{}, false
	}
	metrics.EdgeObserved.WithLabelValues(string(ev.Side)).Observe(ev.Edge)

	cash, open, clustered := e.ledger.Exposure(c.cluster)
	dec := e.sizer.Size(ev, sizing.Exposure{
		Bankroll:        base,
		Cash:            cash,
		OpenExposure:    open,
		ClusterExposure: clustered,
	})
	if !dec.Tradable() {
		report.skip(dec.Reason)
		return model.Position{}, false
	}

	// Pre-check so a live order is never placed that the ledger would refuse.
	if err := limits.CheckLimit(c.obs.ID, c.cluster, dec.Stake, holdings(e.ledger.OpenPositions())); err != nil {
		metrics.PositionLimitRejections.WithLabelValues(limitName(err)).Inc()
		report.skip(SkipLimit)
		mlog.Info("stake refused by exposure limits", "stake", dec.Stake.String(), "err", err)
		return model.Position{}, false
	}

	fill, err := e.executor.Execute(ctx, execution.Order{
		MarketID: c.obs.ID,
		Question: c.obs.Question,
		Side:     ev.Side,
		Price:    ev.MarketPrice,
		Stake:    dec.Stake,
	})
	if err != nil {
		report.skip(SkipExecution)
		report.Errors = append(report.Errors, fmt.Sprintf("execute %s: %v", c.obs.ID, err))
		mlog.Error("order execution failed", "side", ev.Side, "stake", dec.Stake.String(), "err", err)
		return model.Position{}, false
	}

	pos := model.Position{
		ID:              uuid.New().String(),
		MarketID:        c.obs.ID,
		Question:        c.obs.Question,
		City:            c.cond.City,
		ClusterID:       c.cluster,
		Side:            ev.Side,
		EntryPrice:      fill.Price,
		Stake:           fill.Stake,
		Condition:       c.cond,
		FairProbability: ev.FairProbability,
		Edge:            ev.Edge,
		OrderID:         fill.OrderID,
		OpenedAt:        e.now(),
		ExpiresAt:       expiry(c.obs, c.cond),
	}
	if err := e.ledger.Admit(pos, limits); err != nil {
		switch {
		case errors.Is(err, correlation.ErrPerEventLimitExceeded),
			errors.Is(err, correlation.ErrCorrelatedLimitExceeded),
			errors.Is(err, correlation.ErrTotalLimitExceeded):
			metrics.PositionLimitRejections.WithLabelValues(limitName(err)).Inc()
			report.skip(SkipLimit)
		default:
			report.skip(SkipAdmission)
		}
		report.Errors = append(report.Errors, fmt.Sprintf("admit %s: %v", c.obs.ID, err))
		mlog.Error("filled order not admitted", "order_id", fill.OrderID, "mode", fill.Mode, "err", err)
		return model.Position{}, false
	}

	metrics.PositionsAdmitted.WithLabelValues(c.cluster, string(ev.Side)).Inc()
	mlog.Info("position admitted",
		"side", pos.Side,
		"fair", fmt.Sprintf("%.4f", ev.FairProbability),
		"price", pos.EntryPrice,
		"edge", fmt.Sprintf("%.4f", ev.Edge),
		"kelly", fmt.Sprintf("%.4f", dec.Kelly),
		"stake", pos.Stake.String(),
		"bound_by", dec.Reason,
		"forecast_mean", fc.sample.Mean,
		"forecast_sigma", fc.sample.Sigma,
	)
	return pos, true
}

// expiry is when a position becomes due for resolution: the market's end
// date, or the day after the target date when the market has none.
func expiry(obs model.MarketObservation, cond model.MarketCondition) time.Time {
	if !obs.EndDate.IsZero() {
		return obs.EndDate
	}
	return cond.TargetDate.AddDate(0, 0, 1)
}

func holdings(open []model.Position) map[string]correlation.Holding {
	h := make(map[string]correlation.Holding, len(open))
	for _, p := range open {
		h[p.MarketID] = correlation.Holding{Cluster: p.ClusterID, Stake: p.Stake}
	}
	return h
}

func limitName(err error) string {
	switch {
	case errors.Is(err, correlation.ErrPerEventLimitExceeded):
		return "event"
	case errors.Is(err, correlation.ErrCorrelatedLimitExceeded):
		return "cluster"
	default:
		return "total"
	}
}

func (e *Engine) remember(r CycleReport) {
	e.lastMu.Lock()
	e.last = &r
	e.lastMu.Unlock()
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptr[T any](v T) *T { return &v }
