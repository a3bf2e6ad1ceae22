// Package api provides the HTTP handlers for inspecting the ledger and
// triggering a cycle on demand, plus the WebSocket hub that streams engine
// events.
//
// All monetary values use shopspring/decimal and serialize as strings.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/weather-edge/internal/engine"
	"github.com/atmx/weather-edge/internal/ledger"
	"github.com/atmx/weather-edge/internal/model"
)

// Engine is the part of engine.Engine the handlers use.
type Engine interface {
	RunCycle(ctx context.Context) (engine.CycleReport, error)
	LastReport() (engine.CycleReport, bool)
	Ledger() *ledger.Ledger
}

// Service serves the ledger read API and the cycle trigger. Only one
// triggered cycle runs at a time; a second request gets 409.
type Service struct {
	engine       Engine
	cycleTimeout time.Duration
	running      atomic.Bool
}

// NewService creates a new API service. cycleTimeout bounds a triggered
// cycle; 0 means two minutes.
func NewService(e Engine, cycleTimeout time.Duration) *Service {
	if cycleTimeout <= 0 {
		cycleTimeout = 2 * time.Minute
	}
	return &Service{engine: e, cycleTimeout: cycleTimeout}
}

// --- Response types ---

// Portfolio is the JSON body for GET /portfolio.
type Portfolio struct {
	ledger.Stats
	ExposureByCluster map[string]decimal.Decimal `json:"exposure_by_cluster"`
	LastCycle         *CycleSummary              `json:"last_cycle,omitempty"`
}

// CycleSummary is the short form of a cycle report.
type CycleSummary struct {
	ID         string    `json:"id"`
	FinishedAt time.Time `json:"finished_at"`
	Admitted   int       `json:"admitted"`
	Settled    int       `json:"settled"`
	Halted     string    `json:"halted,omitempty"`
	Errors     int       `json:"errors"`
}

func summarize(r engine.CycleReport) *CycleSummary {
	return &CycleSummary{
		ID:         r.ID,
		FinishedAt: r.FinishedAt,
		Admitted:   len(r.Admitted),
		Settled:    len(r.Settled),
		Halted:     r.Halted,
		Errors:     len(r.Errors),
	}
}

// --- HTTP Handlers ---

// GetPortfolio handles GET /api/v1/portfolio
// Returns bankroll, exposure per cluster and the last cycle.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	l := s.engine.Ledger()

	byCluster := make(map[string]decimal.Decimal)
	for _, p := range l.OpenPositions() {
		byCluster[p.ClusterID] = byCluster[p.ClusterID].Add(p.Stake)
	}

	portfolio := Portfolio{Stats: l.Stats(), ExposureByCluster: byCluster}
	if last, ok := s.engine.LastReport(); ok {
		portfolio.LastCycle = summarize(last)
	}
	writeJSON(w, http.StatusOK, portfolio)
}

// ListPositions handles GET /api/v1/positions
// Returns open positions, optionally filtered by ?cluster= or ?city=.
func (s *Service) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions := s.engine.Ledger().OpenPositions()

	cluster := r.URL.Query().Get("cluster")
	city := r.URL.Query().Get("city")
	filtered := make([]model.Position, 0, len(positions))
	for _, p := range positions {
		if cluster != "" && p.ClusterID != cluster {
			continue
		}
		if city != "" && p.City != city {
			continue
		}
		filtered = append(filtered, p)
	}
	writeJSON(w, http.StatusOK, filtered)
}

// GetPosition handles GET /api/v1/positions/{marketID}
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	p, ok := s.engine.Ledger().Position(marketID)
	if !ok {
		writeError(w, "no open position for market", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetHistory handles GET /api/v1/history
// Returns the bankroll history newest first, limited by ?limit= (default 100).
func (s *Service) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	history := s.engine.Ledger().History()
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}
	if len(history) > limit {
		history = history[:limit]
	}
	writeJSON(w, http.StatusOK, history)
}

// GetLastCycle handles GET /api/v1/cycles/last
func (s *Service) GetLastCycle(w http.ResponseWriter, r *http.Request) {
	last, ok := s.engine.LastReport()
	if !ok {
		writeError(w, "no cycle has run yet", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, last)
}

// RunCycle handles POST /api/v1/cycle
// Runs one cycle synchronously and returns its report.
func (s *Service) RunCycle(w http.ResponseWriter, r *http.Request) {
	if !s.running.CompareAndSwap(false, true) {
		writeError(w, "a cycle is already running", http.StatusConflict)
		return
	}
	defer s.running.Store(false)

	// The cycle outlives a dropped client; only the timeout stops it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.cycleTimeout)
	defer cancel()

	report, err := s.engine.RunCycle(ctx)
	if err != nil {
		slog.Error("triggered cycle failed", "cycle_id", report.ID, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":  err.Error(),
			"report": report,
		})
		return
	}

	slog.Info("triggered cycle complete",
		"cycle_id", report.ID,
		"admitted", len(report.Admitted),
		"settled", len(report.Settled),
		"halted", report.Halted,
	)
	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
