package contract

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/atmx/weather-edge/internal/model"
)

var months = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may": time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September, "sept": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

var (
	isoDateRegex   = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	monthDateRegex = regexp.MustCompile(`\b(january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sept|sep|oct|nov|dec)\.?\s+(\d{1,2})(?:st|nd|rd|th)?(?:,?\s+(\d{4}))?(?:[^\d°.]|\.(?:\s|$)|$)`)
	slashDateRegex = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})(?:/(\d{2,4}))?\b`)
)

type cityAlias struct {
	alias string
	city  model.City
}

// Parser resolves a full MarketCondition (threshold, city and target date)
// against a fixed list of configured cities.
type Parser struct {
	aliases []cityAlias
}

// NewParser indexes every city name and alias. Longer aliases are tried
// first so "new york city" wins over "york".
func NewParser(cities []model.City) *Parser {
	p := &Parser{}
	for _, c := range cities {
		names := append([]string{c.Name}, c.Aliases...)
		for _, n := range names {
			a := strings.Join(words(Normalize(n)), " ")
			if a == "" {
				continue
			}
			p.aliases = append(p.aliases, cityAlias{alias: a, city: c})
		}
	}
	sort.SliceStable(p.aliases, func(i, j int) bool {
		return len(p.aliases[i].alias) > len(p.aliases[j].alias)
	})
	return p
}

// Parse builds the condition for a market observation. The target date comes
// from the question when it names one, otherwise from the market end date.
func (p *Parser) Parse(obs model.MarketObservation) (*model.MarketCondition, error) {
	cond, err := ParseQuestion(obs.Question)
	if err != nil {
		return nil, err
	}

	text := Normalize(obs.Question)
	city, ok := p.City(text)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCity, obs.Question)
	}
	cond.City = city.Name

	ref := obs.EndDate
	if ref.IsZero() {
		ref = time.Now().UTC()
	}
	if date, ok := ParseDate(text, ref); ok {
		cond.TargetDate = date
	} else {
		cond.TargetDate = truncateDay(obs.EndDate)
	}
	if cond.TargetDate.IsZero() {
		return nil, fmt.Errorf("contract: no target date for %q", obs.Question)
	}
	return cond, nil
}

// City returns the configured city named in already normalized text.
func (p *Parser) City(text string) (model.City, bool) {
	padded := " " + strings.Join(words(text), " ") + " "
	for _, a := range p.aliases {
		if strings.Contains(padded, " "+a.alias+" ") {
			return a.city, true
		}
	}
	return model.City{}, false
}

// ParseDate finds a calendar date in normalized text. Dates without a year
// take the year that puts them closest to ref.
func ParseDate(text string, ref time.Time) (time.Time, bool) {
	if m := isoDateRegex.FindStringSubmatch(text); m != nil {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		return makeDate(y, time.Month(mo), day)
	}
	if m := monthDateRegex.FindStringSubmatch(text); m != nil {
		day, _ := strconv.Atoi(m[2])
		if m[3] != "" {
			y, _ := strconv.Atoi(m[3])
			return makeDate(y, months[m[1]], day)
		}
		return nearestYear(months[m[1]], day, ref)
	}
	if m := slashDateRegex.FindStringSubmatch(text); m != nil {
		mo, _ := strconv.Atoi(m[1])
		day, _ := strconv.Atoi(m[2])
		if m[3] != "" {
			y, _ := strconv.Atoi(m[3])
			if y < 100 {
				y += 2000
			}
			return makeDate(y, time.Month(mo), day)
		}
		return nearestYear(time.Month(mo), day, ref)
	}
	return time.Time{}, false
}

func nearestYear(mo time.Month, day int, ref time.Time) (time.Time, bool) {
	t, ok := makeDate(ref.Year(), mo, day)
	if !ok {
		return t, false
	}
	const half = 183 * 24 * time.Hour
	switch {
	case t.Sub(ref) > half:
		return makeDate(ref.Year()-1, mo, day)
	case ref.Sub(t) > half:
		return makeDate(ref.Year()+1, mo, day)
	}
	return t, true
}

// makeDate rejects dates that time.Date would normalize, like February 30.
func makeDate(y int, mo time.Month, day int) (time.Time, bool) {
	if mo < time.January || mo > time.December || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t := time.Date(y, mo, day, 0, 0, 0, 0, time.UTC)
	if t.Month() != mo || t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

func truncateDay(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func words(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
