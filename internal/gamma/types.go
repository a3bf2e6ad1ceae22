// Package gamma reads weather markets from the Polymarket Gamma API and
// normalizes each record into a model.MarketObservation or rejects it.
// Untyped shapes never leave this package.
package gamma

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Market is the raw Gamma market record, limited to the fields this bot uses.
type Market struct {
	ID            FlexString `json:"id"`
	Question      string     `json:"question"`
	Slug          string     `json:"slug"`
	Active        bool       `json:"active"`
	Closed        bool       `json:"closed"`
	EndDate       string     `json:"endDate"`
	Liquidity     JSONFloat  `json:"liquidity"`
	LiquidityNum  JSONFloat  `json:"liquidityNum"`
	Outcomes      StringList `json:"outcomes"`
	OutcomePrices StringList `json:"outcomePrices"`
}

// JSONFloat handles both numeric and string JSON values.
type JSONFloat float64

func (j *JSONFloat) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*j = 0
		return nil
	}

	// Try as number first
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*j = JSONFloat(f)
		return nil
	}

	// Try as string
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*j = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*j = JSONFloat(f)
	return nil
}

func (j JSONFloat) Float64() float64 {
	return float64(j)
}

// FlexString accepts a JSON string or number.
type FlexString string

func (s *FlexString) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = FlexString(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("gamma: id is neither string nor number: %s", data)
	}
	*s = FlexString(n.String())
	return nil
}

// StringList accepts a JSON array of strings or numbers, or a string holding
// such an array JSON-encoded, which is how Gamma usually ships outcomes and
// outcomePrices.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return err
		}
		if inner == "" {
			*l = nil
			return nil
		}
		data = []byte(inner)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("gamma: expected list: %w", err)
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err == nil {
			out = append(out, s)
			continue
		}
		var n json.Number
		if err := json.Unmarshal(r, &n); err != nil {
			return fmt.Errorf("gamma: list element %s: %w", r, err)
		}
		out = append(out, n.String())
	}
	*l = out
	return nil
}
