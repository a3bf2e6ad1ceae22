// Package probability converts a consensus temperature forecast into a fair
// YES probability for a market condition, using a Gaussian error model
// around the forecast mean.
//
// The output is always clamped to [MinProbability, MaxProbability]. Raw
// Gaussian tails reach exactly 0 or 1 in float64, and a certain outcome
// makes the Kelly odds undefined downstream.
package probability

import (
	"math"

	"github.com/atmx/weather-edge/internal/model"
)

const (
	// MinProbability is the lowest probability the model ever reports.
	MinProbability = 0.001

	// MaxProbability is the highest probability the model ever reports.
	MaxProbability = 0.999
)

// Options tunes the dispersion correction. The zero value disables it.
type Options struct {
	// DispersionThreshold is the provider spread (°C) above which the
	// probability is shrunk toward 0.5.
	DispersionThreshold float64

	// Damping multiplies (p - 0.5) when the spread exceeds the threshold.
	// Values outside (0, 1) disable damping.
	Damping float64
}

// OptionsFromStrategy reads the dispersion settings of a strategy.
func OptionsFromStrategy(s model.Strategy) Options {
	return Options{DispersionThreshold: s.DispersionThreshold, Damping: s.DispersionDamping}
}

// CDF returns P(X <= t) for X ~ N(mean, sigma²). A non-positive sigma
// collapses the distribution onto the mean.
func CDF(t, mean, sigma float64) float64 {
	if sigma <= 0 || math.IsNaN(sigma) {
		if t < mean {
			return 0
		}
		return 1
	}
	z := (t - mean) / (sigma * math.Sqrt2)
	return 0.5 * (1 + math.Erf(z))
}

// Raw returns the unclamped, undamped YES probability of cond under the
// forecast. Unknown operators yield 0.
func Raw(f model.ForecastSample, cond model.MarketCondition) float64 {
	switch cond.Operator {
	case model.GreaterThan:
		return 1 - CDF(cond.Threshold, f.Mean, f.Sigma)
	case model.LessThan:
		return CDF(cond.Threshold, f.Mean, f.Sigma)
	case model.InRange:
		return CDF(cond.High, f.Mean, f.Sigma) - CDF(cond.Low, f.Mean, f.Sigma)
	}
	return 0
}

// FairYes returns the fair probability that cond resolves YES. When more
// than one provider reported and their spread exceeds the threshold, the
// probability is pulled toward 0.5 before clamping.
func FairYes(f model.ForecastSample, cond model.MarketCondition, opts Options) float64 {
	p := Raw(f, cond)
	if opts.damps(f) {
		p = 0.5 + (p-0.5)*opts.Damping
	}
	return Clamp(p)
}

func (o Options) damps(f model.ForecastSample) bool {
	return o.Damping > 0 && o.Damping < 1 &&
		f.ProviderCount > 1 && f.Spread > o.DispersionThreshold
}

// Clamp bounds p to [MinProbability, MaxProbability]. NaN maps to the floor.
func Clamp(p float64) float64 {
	if math.IsNaN(p) || p < MinProbability {
		return MinProbability
	}
	if p > MaxProbability {
		return MaxProbability
	}
	return p
}
