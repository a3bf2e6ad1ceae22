package gamma

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/atmx/weather-edge/internal/model"
)

// ErrMalformedMarket is returned when a raw record cannot be normalized.
var ErrMalformedMarket = errors.New("gamma: malformed market")

// settledPrice is the outcome price at or above which a closed market's side
// counts as the winner.
const settledPrice = 0.99

var endDateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05Z", "2006-01-02"}

// Normalize converts a raw market into an observation or rejects it. Open
// markets must quote both sides strictly inside (0,1); closed markets may
// quote 0 and 1 and report the winning side.
func Normalize(m Market) (model.MarketObservation, error) {
	id := strings.TrimSpace(string(m.ID))
	if id == "" {
		return model.MarketObservation{}, fmt.Errorf("%w: missing id", ErrMalformedMarket)
	}
	if strings.TrimSpace(m.Question) == "" {
		return model.MarketObservation{}, fmt.Errorf("%w: %s: missing question", ErrMalformedMarket, id)
	}

	yes, no, err := binaryPrices(m)
	if err != nil {
		return model.MarketObservation{}, fmt.Errorf("%w: %s: %v", ErrMalformedMarket, id, err)
	}

	liquidity := m.Liquidity.Float64()
	if l := m.LiquidityNum.Float64(); l > liquidity {
		liquidity = l
	}

	obs := model.MarketObservation{
		ID:        id,
		Question:  strings.TrimSpace(m.Question),
		Slug:      m.Slug,
		Liquidity: liquidity,
		Closed:    m.Closed,
		Quotes: model.Quotes{
			Yes: model.MarketQuote{MarketID: id, Side: model.Yes, Price: yes, Liquidity: liquidity},
			No:  model.MarketQuote{MarketID: id, Side: model.No, Price: no, Liquidity: liquidity},
		},
	}
	if m.EndDate != "" {
		end, err := parseEndDate(m.EndDate)
		if err != nil {
			return model.MarketObservation{}, fmt.Errorf("%w: %s: %v", ErrMalformedMarket, id, err)
		}
		obs.EndDate = end
	}

	if m.Closed {
		switch {
		case yes >= settledPrice:
			obs.WinningSide = model.Yes
		case no >= settledPrice:
			obs.WinningSide = model.No
		}
		return obs, nil
	}

	if err := obs.Quotes.Yes.Validate(); err != nil {
		return model.MarketObservation{}, fmt.Errorf("%w: %v", ErrMalformedMarket, err)
	}
	if err := obs.Quotes.No.Validate(); err != nil {
		return model.MarketObservation{}, fmt.Errorf("%w: %v", ErrMalformedMarket, err)
	}
	return obs, nil
}

// binaryPrices maps outcomes to YES/NO prices. Missing outcome labels on a
// two-price market mean the usual ["Yes","No"] order.
func binaryPrices(m Market) (yes, no float64, err error) {
	if len(m.OutcomePrices) != 2 {
		return 0, 0, fmt.Errorf("expected 2 outcome prices, got %d", len(m.OutcomePrices))
	}
	labels := []string(m.Outcomes)
	if len(labels) == 0 {
		labels = []string{"Yes", "No"}
	}
	if len(labels) != len(m.OutcomePrices) {
		return 0, 0, fmt.Errorf("%d outcomes but %d prices", len(labels), len(m.OutcomePrices))
	}

	yesIdx, noIdx := -1, -1
	for i, l := range labels {
		switch strings.ToLower(strings.TrimSpace(l)) {
		case "yes":
			yesIdx = i
		case "no":
			noIdx = i
		}
	}
	if yesIdx < 0 || noIdx < 0 {
		return 0, 0, fmt.Errorf("not a yes/no market: %v", labels)
	}

	yes, err = strconv.ParseFloat(strings.TrimSpace(m.OutcomePrices[yesIdx]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("yes price: %w", err)
	}
	no, err = strconv.ParseFloat(strings.TrimSpace(m.OutcomePrices[noIdx]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("no price: %w", err)
	}
	return yes, no, nil
}

func parseEndDate(s string) (time.Time, error) {
	for _, layout := range endDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable endDate %q", s)
}
