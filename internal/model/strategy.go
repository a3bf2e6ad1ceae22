package model

import (
	"strings"

	"github.com/shopspring/decimal"
)

// City is a tradable location. Cluster groups cities whose forecast errors
// are treated as correlated for exposure limits.
type City struct {
	Name      string   `json:"name"`
	Aliases   []string `json:"aliases,omitempty"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Timezone  string   `json:"timezone,omitempty"`
	Cluster   string   `json:"cluster"`
}

// Strategy holds every tunable of one trading variant. It is built once
// from configuration and passed by value; nothing in the core mutates it.
type Strategy struct {
	Cities []City

	MinPrice     float64
	MaxPrice     float64
	MinLiquidity float64
	MinEdge      float64

	KellyFraction      float64
	MaxEventExposure   float64 // fraction of cycle bankroll per market
	MaxClusterExposure float64 // fraction of cycle bankroll per cluster
	MaxTotalExposure   float64 // fraction of cycle bankroll overall; 0 means MaxClusterExposure

	Commission        decimal.Decimal
	MinStake          decimal.Decimal
	MinBankrollBuffer decimal.Decimal
	InitialBankroll   decimal.Decimal
	MaxTradesPerDay   int // 0 disables the limit

	DispersionThreshold float64 // °C spread between providers above which probabilities are damped
	DispersionDamping   float64 // multiplier applied to (p - 0.5) when damped
}

// TotalExposureCap returns the effective total exposure fraction.
func (s Strategy) TotalExposureCap() float64 {
	if s.MaxTotalExposure > 0 {
		return s.MaxTotalExposure
	}
	return s.MaxClusterExposure
}

// CityByName finds a configured city by name, case-insensitively.
func (s Strategy) CityByName(name string) (City, bool) {
	for _, c := range s.Cities {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return City{}, false
}

// ClusterOf returns the cluster of the named city, or the city name itself
// when it has no cluster so that it forms its own group.
func (s Strategy) ClusterOf(city string) string {
	if c, ok := s.CityByName(city); ok && c.Cluster != "" {
		return c.Cluster
	}
	return strings.ToLower(city)
}
