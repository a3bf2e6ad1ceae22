// Package forecast produces consensus daily-maximum temperature forecasts for
// a city and date, calibrates their dispersion from recent history and
// reports realized temperatures for settlement.
package forecast

import (
	"context"
	"errors"
	"time"

	"github.com/atmx/weather-edge/internal/model"
)

var (
	// ErrUnavailable is returned when no source produced a forecast. Callers
	// skip the market; it is never fatal.
	ErrUnavailable = errors.New("forecast: unavailable")

	// ErrOutOfHorizon is returned by a source when the target date is beyond
	// its forecast horizon. No request is made.
	ErrOutOfHorizon = errors.New("forecast: target date outside forecast horizon")

	// ErrNoData is returned when an upstream answered without a value for
	// the requested date.
	ErrNoData = errors.New("forecast: no value for date")
)

// Location is a point to forecast for.
type Location struct {
	Name      string
	Latitude  float64
	Longitude float64
	Timezone  string
}

// LocationOf converts a configured city.
func LocationOf(c model.City) Location {
	return Location{Name: c.Name, Latitude: c.Latitude, Longitude: c.Longitude, Timezone: c.Timezone}
}

// Source is one upstream point forecast of the daily maximum in °C.
type Source interface {
	Name() string
	DailyMax(ctx context.Context, loc Location, date time.Time) (float64, error)
}

func day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
