package forecast

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/atmx/weather-edge/internal/model"
	"github.com/atmx/weather-edge/internal/transport"
)

var today = time.Date(2026, 7, 15, 9, 30, 0, 0, time.UTC)

func clock() time.Time { return today }

var london = model.City{Name: "London", Latitude: 51.51, Longitude: -0.13, Timezone: "Europe/London", Cluster: "international"}

func openMeteoServer(t *testing.T, calls *atomic.Int32, body string) *transport.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		q := r.URL.Query()
		if q.Get("daily") != "temperature_2m_max" || q.Get("latitude") != "51.5100" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return transport.New(srv.URL, transport.WithRetries(0, time.Millisecond), transport.WithRateLimit(0, 0))
}

func TestOpenMeteo_DailyMax(t *testing.T) {
	var calls atomic.Int32
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		gotModel = r.URL.Query().Get("models")
		if r.URL.Query().Get("start_date") != "2026-07-18" {
			t.Errorf("start_date = %s", r.URL.Query().Get("start_date"))
		}
		w.Write([]byte(`{"daily":{"time":["2026-07-18"],"temperature_2m_max":[30.4]}}`))
	}))
	defer srv.Close()
	tc := transport.New(srv.URL, transport.WithRetries(0, time.Millisecond), transport.WithRateLimit(0, 0))

	src := NewOpenMeteo(tc, WithModel("gfs_seamless"), WithClock(clock))
	v, err := src.DailyMax(context.Background(), LocationOf(london), time.Date(2026, 7, 18, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 30.4 {
		t.Errorf("value = %v, want 30.4", v)
	}
	if gotModel != "gfs_seamless" {
		t.Errorf("models = %q", gotModel)
	}
	if src.Name() != "open-meteo/gfs_seamless" {
		t.Errorf("name = %q", src.Name())
	}
}

func TestOpenMeteo_NullValue(t *testing.T) {
	var calls atomic.Int32
	tc := openMeteoServer(t, &calls, `{"daily":{"time":["2026-07-18"],"temperature_2m_max":[null]}}`)
	src := NewOpenMeteo(tc, WithClock(clock))
	_, err := src.DailyMax(context.Background(), LocationOf(london), time.Date(2026, 7, 18, 0, 0, 0, 0, time.UTC))
	if !errors.Is(err, ErrNoData) {
		t.Errorf("expected ErrNoData, got %v", err)
	}
}

// Ten days out with a seven day horizon: unavailable, no request, no panic.
func TestProvider_StaleHorizonIsUnavailable(t *testing.T) {
	var calls atomic.Int32
	tc := openMeteoServer(t, &calls, `{}`)
	p := NewProvider([]model.City{london}, []Source{
		NewOpenMeteo(tc, WithHorizon(7), WithClock(clock)),
		NewOpenMeteo(tc, WithModel("ecmwf_ifs025"), WithHorizon(7), WithClock(clock)),
	})

	_, err := p.Forecast(context.Background(), "London", today.AddDate(0, 0, 10))
	if !errors.Is(err, ErrUnavailable) || !errors.Is(err, ErrOutOfHorizon) {
		t.Fatalf("expected unavailable out-of-horizon error, got %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("no request should be made beyond the horizon, got %d", calls.Load())
	}
}

type fixedSource struct {
	name string
	v    float64
	err  error
}

func (f fixedSource) Name() string { return f.name }

func (f fixedSource) DailyMax(context.Context, Location, time.Time) (float64, error) {
	return f.v, f.err
}

func TestProvider_Consensus(t *testing.T) {
	p := NewProvider([]model.City{london}, []Source{
		fixedSource{name: "a", v: 30},
		fixedSource{name: "b", v: 33},
		fixedSource{name: "c", err: errors.New("boom")},
	}, WithFallbackSigma(1.3))

	s, err := p.Forecast(context.Background(), "london", today)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Mean != 31.5 || s.ProviderCount != 2 || s.Spread != 3 || s.Sigma != 1.3 {
		t.Errorf("unexpected sample %+v", s)
	}
	if s.City != "London" || !s.TargetDate.Equal(time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected identity %+v", s)
	}
}

func TestProvider_AllSourcesFail(t *testing.T) {
	p := NewProvider([]model.City{london}, []Source{
		fixedSource{name: "a", err: errors.New("timeout")},
	})
	_, err := p.Forecast(context.Background(), "London", today)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
	if errors.Is(err, ErrOutOfHorizon) {
		t.Error("a failing source is not an out-of-horizon condition")
	}

	if _, err := p.Forecast(context.Background(), "Atlantis", today); !errors.Is(err, ErrUnavailable) {
		t.Errorf("unknown city: expected ErrUnavailable, got %v", err)
	}
}

type fakeHistory struct {
	series []float64
	err    error
	calls  int
}

func (f *fakeHistory) Series(context.Context, Location, time.Time, time.Time) ([]float64, error) {
	f.calls++
	return f.series, f.err
}

func TestCalibrator_Sigma(t *testing.T) {
	wide := []float64{20, 24, 22, 26, 21, 25, 23, 27, 19, 28, 22, 24}
	flat := []float64{22, 22.1, 22, 22.1, 22, 22.1, 22, 22.1, 22, 22.1}

	tests := []struct {
		name string
		h    *fakeHistory
		want float64
	}{
		{"stddev of window", &fakeHistory{series: wide}, StdDev(wide)},
		{"floored", &fakeHistory{series: flat}, 0.6},
		{"too short", &fakeHistory{series: wide[:9]}, 1.3},
		{"history error", &fakeHistory{err: errors.New("archive down")}, 1.3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCalibrator(tt.h, nil, DefaultCalibration(), nil)
			if got := c.Sigma(context.Background(), LocationOf(london)); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("sigma = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCalibrator_Caches(t *testing.T) {
	h := &fakeHistory{series: []float64{20, 24, 22, 26, 21, 25, 23, 27, 19, 28}}
	c := NewCalibrator(h, NewMemoryCache(), DefaultCalibration(), nil)

	first := c.Sigma(context.Background(), LocationOf(london))
	second := c.Sigma(context.Background(), LocationOf(london))
	if first != second || h.calls != 1 {
		t.Errorf("expected one history call and stable sigma, got calls=%d %v/%v", h.calls, first, second)
	}

	failing := &fakeHistory{err: errors.New("down")}
	c = NewCalibrator(failing, NewMemoryCache(), DefaultCalibration(), nil)
	c.Sigma(context.Background(), LocationOf(london))
	c.Sigma(context.Background(), LocationOf(london))
	if failing.calls != 2 {
		t.Errorf("fallback sigma must not be cached, calls=%d", failing.calls)
	}
}

func TestStdDev(t *testing.T) {
	// sample variance of 2,4,4,4,5,5,7,9 is 32/7
	got := StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if math.Abs(got-math.Sqrt(32.0/7.0)) > 1e-12 {
		t.Errorf("StdDev = %v", got)
	}
	if StdDev([]float64{5}) != 0 {
		t.Error("single value should give 0")
	}
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCache()
	now := today
	c.now = func() time.Time { return now }

	if err := c.Set(context.Background(), "London", 1.7, time.Hour); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, ok, _ := c.Get(context.Background(), "London"); !ok || v != 1.7 {
		t.Errorf("get = %v, %v", v, ok)
	}
	now = now.Add(2 * time.Hour)
	if _, ok, _ := c.Get(context.Background(), "London"); ok {
		t.Error("entry should expire")
	}
}

func TestRedisCache_Key(t *testing.T) {
	c := NewRedisCache(nil, "weather-edge:")
	if got := c.key("London"); got != "weather-edge:sigma:London" {
		t.Errorf("key = %q", got)
	}
}

func TestArchive_RealizedMax(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/archive" {
			t.Errorf("path = %s", r.URL.Path)
		}
		switch r.URL.Query().Get("start_date") {
		case "2026-07-10":
			w.Write([]byte(`{"daily":{"time":["2026-07-10"],"temperature_2m_max":[27.9]}}`))
		default:
			w.Write([]byte(`{"daily":{"time":["2026-07-14"],"temperature_2m_max":[null]}}`))
		}
	}))
	defer srv.Close()
	a := NewArchive(transport.New(srv.URL, transport.WithRetries(0, time.Millisecond), transport.WithRateLimit(0, 0)))

	p := NewProvider([]model.City{london}, nil, WithRealized(a))
	v, err := p.RealizedMax(context.Background(), "London", time.Date(2026, 7, 10, 0, 0, 0, 0, time.UTC))
	if err != nil || v != 27.9 {
		t.Errorf("realized = %v, %v", v, err)
	}
	if _, err := p.RealizedMax(context.Background(), "London", time.Date(2026, 7, 14, 0, 0, 0, 0, time.UTC)); !errors.Is(err, ErrNoData) {
		t.Errorf("unpublished day: expected ErrNoData, got %v", err)
	}
}
