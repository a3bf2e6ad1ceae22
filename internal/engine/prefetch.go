package engine

import (
	"context"
	"sync"

	"github.com/atmx/weather-edge/internal/model"
)

type forecastResult struct {
	sample model.ForecastSample
	err    error
}

func forecastKey(c model.MarketCondition) string {
	return c.City + "|" + c.TargetDate.Format("2006-01-02")
}

// prefetch fetches one forecast per distinct (city, date) with at most
// Concurrency requests in flight. Workers only write to the memo.
func (e *Engine) prefetch(ctx context.Context, cands []candidate) map[string]forecastResult {
	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		memo = make(map[string]forecastResult)
		sem  = make(chan struct{}, e.cfg.Concurrency)
	)

	seen := make(map[string]bool)
	for _, c := range cands {
		key := forecastKey(c.cond)
		if seen[key] {
			continue
		}
		seen[key] = true

		wg.Add(1)
		go func(city string, cond model.MarketCondition) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				mu.Lock()
				memo[key] = forecastResult{err: ctx.Err()}
				mu.Unlock()
				return
			}
			defer func() { <-sem }()

			s, err := e.forecasts.Forecast(ctx, city, cond.TargetDate)
			mu.Lock()
			memo[key] = forecastResult{sample: s, err: err}
			mu.Unlock()
		}(c.cond.City, c.cond)
	}
	wg.Wait()
	return memo
}
