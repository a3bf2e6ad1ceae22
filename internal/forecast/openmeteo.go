package forecast

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/atmx/weather-edge/internal/transport"
)

const (
	DefaultForecastURL = "https://api.open-meteo.com"
	DefaultArchiveURL  = "https://archive-api.open-meteo.com"
	DefaultHorizonDays = 7

	dateLayout  = "2006-01-02"
	dailyMetric = "temperature_2m_max"
)

// dailyResponse is the subset of the Open-Meteo daily payload used here.
// Missing values arrive as null.
type dailyResponse struct {
	Daily struct {
		Time    []string   `json:"time"`
		MaxTemp []*float64 `json:"temperature_2m_max"`
	} `json:"daily"`
}

func (r dailyResponse) values() map[string]float64 {
	out := make(map[string]float64, len(r.Daily.Time))
	for i, d := range r.Daily.Time {
		if i < len(r.Daily.MaxTemp) && r.Daily.MaxTemp[i] != nil {
			out[d] = *r.Daily.MaxTemp[i]
		}
	}
	return out
}

func dailyQuery(loc Location, start, end time.Time) url.Values {
	tz := loc.Timezone
	if tz == "" {
		tz = "auto"
	}
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(loc.Latitude, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(loc.Longitude, 'f', 4, 64))
	q.Set("daily", dailyMetric)
	q.Set("temperature_unit", "celsius")
	q.Set("timezone", tz)
	q.Set("start_date", start.Format(dateLayout))
	q.Set("end_date", end.Format(dateLayout))
	return q
}

// OpenMeteo is a forecast Source backed by the Open-Meteo forecast API. When
// Model is set the request pins one weather model, so two OpenMeteo sources
// with different models act as two independent providers.
type OpenMeteo struct {
	http        *transport.Client
	model       string
	horizonDays int
	now         func() time.Time
}

// OpenMeteoOption configures an OpenMeteo source.
type OpenMeteoOption func(*OpenMeteo)

// WithModel pins the weather model, e.g. "ecmwf_ifs025" or "gfs_seamless".
func WithModel(m string) OpenMeteoOption {
	return func(o *OpenMeteo) { o.model = m }
}

// WithHorizon sets the forecast horizon in days.
func WithHorizon(days int) OpenMeteoOption {
	return func(o *OpenMeteo) {
		if days > 0 {
			o.horizonDays = days
		}
	}
}

// WithClock overrides the clock used for the horizon check.
func WithClock(now func() time.Time) OpenMeteoOption {
	return func(o *OpenMeteo) { o.now = now }
}

// NewOpenMeteo creates a source over a transport pointed at the forecast API.
func NewOpenMeteo(t *transport.Client, opts ...OpenMeteoOption) *OpenMeteo {
	o := &OpenMeteo{
		http:        t,
		horizonDays: DefaultHorizonDays,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *OpenMeteo) Name() string {
	if o.model == "" {
		return "open-meteo"
	}
	return "open-meteo/" + o.model
}

// DailyMax returns the forecast daily maximum for date. Dates before today or
// beyond the horizon fail with ErrOutOfHorizon before any request.
func (o *OpenMeteo) DailyMax(ctx context.Context, loc Location, date time.Time) (float64, error) {
	target := day(date)
	today := day(o.now())
	ahead := int(target.Sub(today).Hours() / 24)
	if ahead < 0 || ahead > o.horizonDays {
		return 0, fmt.Errorf("%w: %s is %d days out, horizon %d", ErrOutOfHorizon, target.Format(dateLayout), ahead, o.horizonDays)
	}

	q := dailyQuery(loc, target, target)
	if o.model != "" {
		q.Set("models", o.model)
	}
	var resp dailyResponse
	if err := o.http.GetJSON(ctx, "/v1/forecast", q, &resp); err != nil {
		return 0, fmt.Errorf("%s: %w", o.Name(), err)
	}
	v, ok := resp.values()[target.Format(dateLayout)]
	if !ok {
		return 0, fmt.Errorf("%s: %w: %s", o.Name(), ErrNoData, target.Format(dateLayout))
	}
	return v, nil
}

// Archive reads observed daily maxima from the Open-Meteo historical API.
type Archive struct {
	http *transport.Client
}

// NewArchive creates an archive reader over a transport pointed at the
// archive API.
func NewArchive(t *transport.Client) *Archive {
	return &Archive{http: t}
}

// Series returns the observed daily maxima between start and end inclusive,
// skipping days without data.
func (a *Archive) Series(ctx context.Context, loc Location, start, end time.Time) ([]float64, error) {
	var resp dailyResponse
	if err := a.http.GetJSON(ctx, "/v1/archive", dailyQuery(loc, day(start), day(end)), &resp); err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	out := make([]float64, 0, len(resp.Daily.MaxTemp))
	for _, v := range resp.Daily.MaxTemp {
		if v != nil {
			out = append(out, *v)
		}
	}
	return out, nil
}

// RealizedMax returns the observed daily maximum for date, or ErrNoData while
// the archive has not published it.
func (a *Archive) RealizedMax(ctx context.Context, loc Location, date time.Time) (float64, error) {
	target := day(date)
	var resp dailyResponse
	if err := a.http.GetJSON(ctx, "/v1/archive", dailyQuery(loc, target, target), &resp); err != nil {
		return 0, fmt.Errorf("archive: %w", err)
	}
	v, ok := resp.values()[target.Format(dateLayout)]
	if !ok {
		return 0, fmt.Errorf("archive: %w: %s", ErrNoData, target.Format(dateLayout))
	}
	return v, nil
}
