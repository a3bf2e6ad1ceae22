package contract

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/atmx/weather-edge/internal/model"
)

const tol = 0.01

func near(a, b float64) bool {
	return math.Abs(a-b) <= tol
}

func TestParseQuestion(t *testing.T) {
	tests := []struct {
		name     string
		question string
		op       model.Operator
		thresh   float64
		low      float64
		high     float64
		unit     string
	}{
		{"celsius or higher", "Will the highest temperature in London be 34°C or higher on July 18?", model.GreaterThan, 34, 0, 0, "C"},
		{"no keyword defaults to greater", "Highest temperature in Tokyo 31°C on July 18?", model.GreaterThan, 31, 0, 0, "C"},
		{"fahrenheit below", "Will NYC be 90°F or below on July 18?", model.LessThan, 32.2222, 0, 0, "F"},
		{"under with degrees", "Will Chicago stay under 25 degrees celsius?", model.LessThan, 25, 0, 0, "C"},
		{"negative threshold", "Will Toronto drop below -5°C on January 3?", model.LessThan, -5, 0, 0, "C"},
		{"at least fahrenheit word", "Will Miami reach at least 95 fahrenheit?", model.GreaterThan, 35, 0, 0, "F"},
		{"dash range fahrenheit", "Will the high in NYC be between 70-75°F on July 18?", model.InRange, 22.5, 21.1111, 23.8889, "F"},
		{"en dash range", "Will NYC be 70–75°F on July 18?", model.InRange, 22.5, 21.1111, 23.8889, "F"},
		{"to range", "Will London be 20 to 22 °C on July 18?", model.InRange, 21, 20, 22, "C"},
		{"between and", "Will London be between 20 and 22°C on July 18?", model.InRange, 21, 20, 22, "C"},
		{"range with both units", "Will Seattle hit 18°C-20°C?", model.InRange, 19, 18, 20, "C"},
		{"exact band celsius", "Will London be exactly 22°C on July 18?", model.InRange, 22, 21.5, 22.5, "C"},
		{"exact band fahrenheit", "Will Dallas be exactly 72°F?", model.InRange, 22.2222, 21.9444, 22.5, "F"},
		{"diacritics and ordinal day", "Will São Paulo reach 34ºC on the 18th?", model.GreaterThan, 34, 0, 0, "C"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := ParseQuestion(tt.question)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if c.Operator != tt.op {
				t.Errorf("operator = %s, want %s", c.Operator, tt.op)
			}
			if !near(c.Threshold, tt.thresh) {
				t.Errorf("threshold = %.4f, want %.4f", c.Threshold, tt.thresh)
			}
			if tt.op == model.InRange && (!near(c.Low, tt.low) || !near(c.High, tt.high)) {
				t.Errorf("range = [%.4f, %.4f], want [%.4f, %.4f]", c.Low, c.High, tt.low, tt.high)
			}
			if c.SourceUnit != tt.unit {
				t.Errorf("unit = %s, want %s", c.SourceUnit, tt.unit)
			}
		})
	}
}

// A date number next to a temperature must not read as a range.
func TestParseQuestion_DateIsNotRange(t *testing.T) {
	c, err := ParseQuestion("Will London on July 18 be above 34°C?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Operator != model.GreaterThan || c.Threshold != 34 {
		t.Errorf("got %s %.2f, want gt 34", c.Operator, c.Threshold)
	}
}

func TestParseQuestion_NoThreshold(t *testing.T) {
	tests := []string{
		"",
		"Will it be hot in London tomorrow?",
		"Will London have 18 sunny days in July?",
		"Will 10 cities exceed their record?",
	}
	for _, q := range tests {
		if _, err := ParseQuestion(q); !errors.Is(err, ErrNoThreshold) {
			t.Errorf("ParseQuestion(%q) err = %v, want ErrNoThreshold", q, err)
		}
	}
}

// Every parsed condition must evaluate a realized temperature the same way
// the question reads.
func TestParseQuestion_HoldsRoundTrip(t *testing.T) {
	tests := []struct {
		question string
		temp     float64
		want     bool
	}{
		{"Will London be above 30°C?", 30.5, true},
		{"Will London be above 30°C?", 29.5, false},
		{"Will NYC be below 50°F?", 9.9, true},
		{"Will NYC be below 50°F?", 10.1, false},
		{"Will London be between 20 and 22°C?", 22, true},
		{"Will London be between 20 and 22°C?", 22.1, false},
	}
	for _, tt := range tests {
		c, err := ParseQuestion(tt.question)
		if err != nil {
			t.Fatalf("ParseQuestion(%q): %v", tt.question, err)
		}
		if got := c.Holds(tt.temp); got != tt.want {
			t.Errorf("%q Holds(%v) = %v, want %v", tt.question, tt.temp, got, tt.want)
		}
	}
}

func testCities() []model.City {
	return []model.City{
		{Name: "London", Cluster: "international"},
		{Name: "New York", Aliases: []string{"NYC", "New York City"}, Cluster: "northeast"},
		{Name: "São Paulo", Cluster: "south_america"},
		{Name: "York", Cluster: "uk"},
	}
}

func TestParser_Parse(t *testing.T) {
	p := NewParser(testCities())
	end := time.Date(2026, 7, 19, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		question string
		city     string
		date     time.Time
	}{
		{"alias", "Will the high in NYC be above 90°F on July 18?", "New York", time.Date(2026, 7, 18, 0, 0, 0, 0, time.UTC)},
		{"longest alias wins", "Will New York City exceed 30°C on Jul 17th?", "New York", time.Date(2026, 7, 17, 0, 0, 0, 0, time.UTC)},
		{"short city", "Will York exceed 25°C on 2026-07-20?", "York", time.Date(2026, 7, 20, 0, 0, 0, 0, time.UTC)},
		{"diacritics", "Will Sao Paulo be above 30°C on 7/18?", "São Paulo", time.Date(2026, 7, 18, 0, 0, 0, 0, time.UTC)},
		{"end date fallback", "Will London exceed 30°C?", "London", time.Date(2026, 7, 19, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := p.Parse(model.MarketObservation{ID: "m", Question: tt.question, EndDate: end})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if c.City != tt.city {
				t.Errorf("city = %q, want %q", c.City, tt.city)
			}
			if !c.TargetDate.Equal(tt.date) {
				t.Errorf("date = %v, want %v", c.TargetDate, tt.date)
			}
		})
	}
}

func TestParser_UnknownCity(t *testing.T) {
	p := NewParser(testCities())
	_, err := p.Parse(model.MarketObservation{Question: "Will Paris exceed 30°C on July 18?", EndDate: time.Now()})
	if !errors.Is(err, ErrUnknownCity) {
		t.Errorf("expected ErrUnknownCity, got %v", err)
	}
}

func TestParseDate(t *testing.T) {
	ref := time.Date(2027, 1, 2, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		text string
		want time.Time
		ok   bool
	}{
		{"on december 31", time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC), true},
		{"on 12/31", time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC), true},
		{"on jan 5, 2027", time.Date(2027, 1, 5, 0, 0, 0, 0, time.UTC), true},
		{"on 1/5/27", time.Date(2027, 1, 5, 0, 0, 0, 0, time.UTC), true},
		{"on february 30", time.Time{}, false},
		{"sometime soon", time.Time{}, false},
	}
	for _, tt := range tests {
		got, ok := ParseDate(tt.text, ref)
		if ok != tt.ok || (ok && !got.Equal(tt.want)) {
			t.Errorf("ParseDate(%q) = %v, %v; want %v, %v", tt.text, got, ok, tt.want, tt.ok)
		}
	}
}
