// Package contract turns a weather market's natural-language question into a
// structured MarketCondition: temperature threshold or range, comparison
// operator, city and target date.
package contract

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/atmx/weather-edge/internal/model"
)

var (
	// ErrNoThreshold is returned when the question carries no number with a
	// temperature unit after it. Callers skip the market.
	ErrNoThreshold = errors.New("contract: no temperature threshold in question")

	// ErrUnknownCity is returned when no configured city is named.
	ErrUnknownCity = errors.New("contract: no configured city in question")
)

// bandHalfWidth is the half width of the band used for "exactly N" questions,
// in the unit the question is written in.
const bandHalfWidth = 0.5

const (
	number = `(-?\d+(?:\.\d+)?)`
	// unit must directly follow the number; bare numbers (dates, counts) are
	// never threshold candidates.
	unit = `(°\s*(?:fahrenheit|celsius|f|c)?|degrees?(?:\s+(?:fahrenheit|celsius|f|c))?|fahrenheit|celsius|f|c)`
	end  = `(?:[^a-z0-9]|$)`
)

var (
	// rangeRegex matches "70-75°f", "20 to 22 °c", "18°c-20°c".
	rangeRegex = regexp.MustCompile(`(?:^|[^\d.])` + number + `\s*(?:°\s*[cf]?)?\s*(?:-|to)\s*` + number + `\s*` + unit + end)

	// betweenRegex matches "between 20 and 22°c" and "between 68°f and 70°f".
	betweenRegex = regexp.MustCompile(`between\s+` + number + `\s*(?:°\s*[cf]?)?\s*and\s+` + number + `\s*` + unit + end)

	// singleRegex matches one unit-anchored number.
	singleRegex = regexp.MustCompile(`(?:^|[^\d.])` + number + `\s*` + unit + end)
)

var (
	lessKeywords    = map[string]bool{"below": true, "under": true, "less": true, "lower": true}
	greaterKeywords = map[string]bool{"above": true, "over": true, "higher": true, "exceed": true, "exceeds": true, "least": true, "more": true}
	bandKeywords    = map[string]bool{"exact": true, "exactly": true, "between": true}
)

// ParseQuestion extracts the threshold and operator from a question. City and
// TargetDate are left empty; Parser.Parse fills them.
//
// Rules, applied in order:
//   - two unit-anchored numbers joined by "-", "to", an en-dash, or
//     "between ... and ..." form InRange(low, high);
//   - a single number with one of below/under/less/lower is LessThan;
//   - a single number with one of above/over/higher/exceed/at least/or more
//     is GreaterThan;
//   - a single number with exact/exactly/between and no direction is the
//     band [n-0.5, n+0.5] in the question's unit;
//   - anything else is GreaterThan.
//
// Fahrenheit values are converted to Celsius after the band is applied.
func ParseQuestion(question string) (*model.MarketCondition, error) {
	text := Normalize(question)

	if lo, hi, u, ok := matchRange(text); ok {
		low, high := toCelsius(lo, u), toCelsius(hi, u)
		if low > high {
			low, high = high, low
		}
		return &model.MarketCondition{
			Operator:   model.InRange,
			Threshold:  (low + high) / 2,
			Low:        low,
			High:       high,
			SourceUnit: unitName(u),
		}, nil
	}

	m := singleRegex.FindStringSubmatch(text)
	if m == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoThreshold, question)
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrNoThreshold, question)
	}
	u := m[2]

	words := keywords(text)
	cond := &model.MarketCondition{SourceUnit: unitName(u)}
	switch {
	case hasAny(words, lessKeywords):
		cond.Operator = model.LessThan
		cond.Threshold = toCelsius(n, u)
	case hasAny(words, greaterKeywords):
		cond.Operator = model.GreaterThan
		cond.Threshold = toCelsius(n, u)
	case hasAny(words, bandKeywords):
		cond.Operator = model.InRange
		cond.Low = toCelsius(n-bandHalfWidth, u)
		cond.High = toCelsius(n+bandHalfWidth, u)
		cond.Threshold = toCelsius(n, u)
	default:
		cond.Operator = model.GreaterThan
		cond.Threshold = toCelsius(n, u)
	}
	return cond, nil
}

func matchRange(text string) (lo, hi float64, u string, ok bool) {
	m := betweenRegex.FindStringSubmatch(text)
	if m == nil {
		m = rangeRegex.FindStringSubmatch(text)
	}
	if m == nil {
		return 0, 0, "", false
	}
	var err1, err2 error
	lo, err1 = strconv.ParseFloat(m[1], 64)
	hi, err2 = strconv.ParseFloat(m[2], 64)
	if err1 != nil || err2 != nil {
		return 0, 0, "", false
	}
	return lo, hi, m[3], true
}

// Normalize lower-cases the text, strips diacritics and folds dash and degree
// look-alikes so the patterns above see one spelling.
func Normalize(s string) string {
	s = strings.ToLower(s)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if out, _, err := transform.String(t, s); err == nil {
		s = out
	}
	s = strings.NewReplacer(
		"–", "-", // en dash
		"—", "-", // em dash
		"−", "-", // minus sign
		"º", "°",
		"˚", "°",
	).Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

func isFahrenheit(u string) bool {
	return strings.Contains(u, "f")
}

func toCelsius(v float64, u string) float64 {
	if isFahrenheit(u) {
		return (v - 32) * 5 / 9
	}
	return v
}

func unitName(u string) string {
	if isFahrenheit(u) {
		return "F"
	}
	return "C"
}

func keywords(text string) map[string]bool {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

func hasAny(words, set map[string]bool) bool {
	for w := range set {
		if words[w] {
			return true
		}
	}
	return false
}
