package probability

import (
	"math"
	"testing"

	"github.com/atmx/weather-edge/internal/model"
)

func sample(mean, sigma float64) model.ForecastSample {
	return model.ForecastSample{City: "London", Mean: mean, Sigma: sigma, ProviderCount: 1}
}

func gt(t float64) model.MarketCondition {
	return model.MarketCondition{Operator: model.GreaterThan, Threshold: t}
}

func lt(t float64) model.MarketCondition {
	return model.MarketCondition{Operator: model.LessThan, Threshold: t}
}

func TestCDF_Symmetry(t *testing.T) {
	if got := CDF(20, 20, 1.3); math.Abs(got-0.5) > 1e-12 {
		t.Errorf("CDF at mean = %v, want 0.5", got)
	}
	a := CDF(18, 20, 1.3)
	b := CDF(22, 20, 1.3)
	if math.Abs(a+b-1) > 1e-12 {
		t.Errorf("CDF(-x)+CDF(x) = %v, want 1", a+b)
	}
}

func TestCDF_ZeroSigmaIsStep(t *testing.T) {
	if CDF(19.9, 20, 0) != 0 || CDF(20, 20, 0) != 1 {
		t.Error("zero sigma should collapse to a step at the mean")
	}
}

// Mean 30, sigma 1.3, threshold 28: 1 - Φ(-1.088) ≈ 0.938.
func TestFairYes_EndToEndScenario(t *testing.T) {
	p := FairYes(sample(30, 1.3), gt(28), Options{})
	if p < 0.92 || p > 0.95 {
		t.Errorf("expected fairYes near 0.94, got %v", p)
	}
	if edge := p - 0.60; edge < 0.30 {
		t.Errorf("expected edge over 0.30 against a 0.60 price, got %v", edge)
	}
}

func TestFairYes_GreaterThanIncreasesWithMean(t *testing.T) {
	prev := 0.0
	for mean := 15.0; mean <= 40; mean += 0.25 {
		p := FairYes(sample(mean, 1.3), gt(28), Options{})
		if p < prev {
			t.Fatalf("not monotone at mean=%v: %v < %v", mean, p, prev)
		}
		prev = p
	}
}

func TestFairYes_LessThanDecreasesWithMean(t *testing.T) {
	prev := 1.0
	for mean := 15.0; mean <= 40; mean += 0.25 {
		p := FairYes(sample(mean, 1.3), lt(28), Options{})
		if p > prev {
			t.Fatalf("not monotone at mean=%v: %v > %v", mean, p, prev)
		}
		prev = p
	}
}

func TestFairYes_ClampInvariant(t *testing.T) {
	conds := []model.MarketCondition{
		gt(28), lt(28),
		{Operator: model.InRange, Low: 20, High: 22},
		{Operator: model.InRange, Low: -100, High: 100},
		{Operator: "bogus"},
	}
	for _, sigma := range []float64{0, 0.01, 0.6, 1.3, 5, 50} {
		for _, mean := range []float64{-60, 0, 21, 28, 35, 80} {
			for _, c := range conds {
				p := FairYes(sample(mean, sigma), c, Options{DispersionThreshold: 3, Damping: 0.8})
				if p < MinProbability || p > MaxProbability {
					t.Fatalf("p=%v out of bounds for mean=%v sigma=%v cond=%+v", p, mean, sigma, c)
				}
			}
		}
	}
}

func TestFairYes_InRange(t *testing.T) {
	c := model.MarketCondition{Operator: model.InRange, Low: 20, High: 22}
	p := FairYes(sample(21, 1.3), c, Options{})
	want := CDF(22, 21, 1.3) - CDF(20, 21, 1.3)
	if math.Abs(p-want) > 1e-12 {
		t.Errorf("got %v, want %v", p, want)
	}
	if far := FairYes(sample(35, 1.3), c, Options{}); far != MinProbability {
		t.Errorf("distant range should clamp to floor, got %v", far)
	}
}

func TestFairYes_DispersionDamping(t *testing.T) {
	opts := Options{DispersionThreshold: 3, Damping: 0.8}
	f := sample(30, 1.3)
	raw := FairYes(f, gt(28), Options{})

	f.ProviderCount = 2
	f.Spread = 4
	damped := FairYes(f, gt(28), opts)
	want := 0.5 + (raw-0.5)*0.8
	if math.Abs(damped-want) > 1e-12 {
		t.Errorf("damped = %v, want %v", damped, want)
	}

	f.Spread = 2
	if got := FairYes(f, gt(28), opts); got != raw {
		t.Errorf("spread under threshold should not damp: %v vs %v", got, raw)
	}

	f.ProviderCount = 1
	f.Spread = 10
	if got := FairYes(f, gt(28), opts); got != raw {
		t.Errorf("single provider should not damp: %v vs %v", got, raw)
	}
}

func TestClamp(t *testing.T) {
	tests := []struct{ in, want float64 }{
		{-1, MinProbability},
		{0, MinProbability},
		{0.5, 0.5},
		{1, MaxProbability},
		{math.NaN(), MinProbability},
	}
	for _, tt := range tests {
		if got := Clamp(tt.in); got != tt.want {
			t.Errorf("Clamp(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
