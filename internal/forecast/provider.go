package forecast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/atmx/weather-edge/internal/model"
)

// RealizedSource reports observed daily maxima.
type RealizedSource interface {
	RealizedMax(ctx context.Context, loc Location, date time.Time) (float64, error)
}

// Provider combines sources into a consensus ForecastSample.
type Provider struct {
	sources       []Source
	calibrator    *Calibrator
	realized      RealizedSource
	fallbackSigma float64
	cities        map[string]model.City
	logger        *slog.Logger
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithCalibrator sets the sigma calibrator.
func WithCalibrator(c *Calibrator) ProviderOption {
	return func(p *Provider) { p.calibrator = c }
}

// WithRealized sets the source of observed temperatures for settlement.
func WithRealized(r RealizedSource) ProviderOption {
	return func(p *Provider) { p.realized = r }
}

// WithFallbackSigma sets the sigma used without a calibrator.
func WithFallbackSigma(s float64) ProviderOption {
	return func(p *Provider) { p.fallbackSigma = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ProviderOption {
	return func(p *Provider) { p.logger = l }
}

// NewProvider creates a Provider for the configured cities.
func NewProvider(cities []model.City, sources []Source, opts ...ProviderOption) *Provider {
	p := &Provider{
		sources:       sources,
		fallbackSigma: DefaultCalibration().FallbackSigma,
		cities:        make(map[string]model.City, len(cities)),
		logger:        slog.Default(),
	}
	for _, c := range cities {
		p.cities[strings.ToLower(c.Name)] = c
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Forecast returns the consensus forecast for city on date: the mean of the
// responding sources, their count and spread, and a calibrated sigma. It
// fails with ErrUnavailable when no source responds; when every source was
// out of horizon the error also matches ErrOutOfHorizon.
func (p *Provider) Forecast(ctx context.Context, city string, date time.Time) (model.ForecastSample, error) {
	c, ok := p.cities[strings.ToLower(city)]
	if !ok {
		return model.ForecastSample{}, fmt.Errorf("%w: unknown city %q", ErrUnavailable, city)
	}
	loc := LocationOf(c)
	target := day(date)

	var (
		values      []float64
		lastErr     error
		outOfWindow int
	)
	for _, s := range p.sources {
		v, err := s.DailyMax(ctx, loc, target)
		if err != nil {
			if errors.Is(err, ErrOutOfHorizon) {
				outOfWindow++
			} else {
				p.logger.Warn("forecast source failed", "source", s.Name(), "city", c.Name, "err", err)
			}
			lastErr = err
			continue
		}
		values = append(values, v)
	}

	if len(values) == 0 {
		if len(p.sources) > 0 && outOfWindow == len(p.sources) {
			return model.ForecastSample{}, fmt.Errorf("%w: %s on %s: %w", ErrUnavailable, c.Name, target.Format(dateLayout), ErrOutOfHorizon)
		}
		return model.ForecastSample{}, fmt.Errorf("%w: %s on %s: %v", ErrUnavailable, c.Name, target.Format(dateLayout), lastErr)
	}

	lo, hi, sum := math.Inf(1), math.Inf(-1), 0.0
	for _, v := range values {
		sum += v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	sigma := p.fallbackSigma
	if p.calibrator != nil {
		sigma = p.calibrator.Sigma(ctx, loc)
	}

	return model.ForecastSample{
		City:          c.Name,
		TargetDate:    target,
		Mean:          sum / float64(len(values)),
		Sigma:         sigma,
		ProviderCount: len(values),
		Spread:        hi - lo,
	}, nil
}

// RealizedMax returns the observed daily maximum for a configured city.
func (p *Provider) RealizedMax(ctx context.Context, city string, date time.Time) (float64, error) {
	if p.realized == nil {
		return 0, fmt.Errorf("forecast: no realized weather source")
	}
	c, ok := p.cities[strings.ToLower(city)]
	if !ok {
		return 0, fmt.Errorf("forecast: unknown city %q", city)
	}
	return p.realized.RealizedMax(ctx, LocationOf(c), date)
}
