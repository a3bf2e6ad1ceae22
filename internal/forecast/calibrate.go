package forecast

import (
	"context"
	"log/slog"
	"math"
	"time"
)

// Calibration controls sigma estimation.
type Calibration struct {
	Window        int           // trailing days of history
	MinSamples    int           // fewer samples fall back to FallbackSigma
	MinSigma      float64       // floor against overconfidence
	FallbackSigma float64       // used when history is missing or short
	TTL           time.Duration // cache lifetime per city
}

// DefaultCalibration returns a 30-day window with a 0.6°C floor and a 1.3°C
// fallback, cached for 12 hours.
func DefaultCalibration() Calibration {
	return Calibration{
		Window:        30,
		MinSamples:    10,
		MinSigma:      0.6,
		FallbackSigma: 1.3,
		TTL:           12 * time.Hour,
	}
}

// HistorySource returns observed daily maxima over a date range.
type HistorySource interface {
	Series(ctx context.Context, loc Location, start, end time.Time) ([]float64, error)
}

// Calibrator estimates forecast dispersion per city as the standard
// deviation of recent observed daily maxima, floored at MinSigma.
type Calibrator struct {
	history HistorySource
	cache   SigmaCache
	cfg     Calibration
	now     func() time.Time
	logger  *slog.Logger
}

// NewCalibrator creates a Calibrator. cache may be nil.
func NewCalibrator(history HistorySource, cache SigmaCache, cfg Calibration, logger *slog.Logger) *Calibrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Calibrator{history: history, cache: cache, cfg: cfg, now: time.Now, logger: logger}
}

// Sigma returns the calibrated sigma for loc. It never fails: any error
// yields the fallback, which is not cached so the next cycle retries.
func (c *Calibrator) Sigma(ctx context.Context, loc Location) float64 {
	if c.cache != nil {
		if v, ok, err := c.cache.Get(ctx, loc.Name); err != nil {
			c.logger.Warn("sigma cache read failed", "city", loc.Name, "err", err)
		} else if ok {
			return v
		}
	}

	if c.history == nil {
		return c.cfg.FallbackSigma
	}
	end := day(c.now()).AddDate(0, 0, -1)
	start := end.AddDate(0, 0, -(c.cfg.Window - 1))
	series, err := c.history.Series(ctx, loc, start, end)
	if err != nil {
		c.logger.Warn("sigma history unavailable, using fallback", "city", loc.Name, "err", err)
		return c.cfg.FallbackSigma
	}
	if len(series) < c.cfg.MinSamples {
		c.logger.Info("sigma history too short, using fallback", "city", loc.Name, "samples", len(series))
		return c.cfg.FallbackSigma
	}

	sigma := math.Max(c.cfg.MinSigma, StdDev(series))
	if c.cache != nil {
		if err := c.cache.Set(ctx, loc.Name, sigma, c.cfg.TTL); err != nil {
			c.logger.Warn("sigma cache write failed", "city", loc.Name, "err", err)
		}
	}
	return sigma
}

// StdDev is the sample standard deviation. Fewer than two values give 0.
func StdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var ss float64
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}
