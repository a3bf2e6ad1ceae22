package gamma

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/atmx/weather-edge/internal/model"
	"github.com/atmx/weather-edge/internal/transport"
)

const (
	// DefaultBaseURL is the Gamma API base URL
	DefaultBaseURL = "https://gamma-api.polymarket.com"

	defaultPageSize = 100
	defaultMaxPages = 5
)

// Query selects active markets. Keywords filter questions client-side
// (any keyword, case-insensitive); TagSlug filters server-side.
type Query struct {
	Keywords []string
	TagSlug  string
	PageSize int
	MaxPages int
}

// Listing is one normalized page set.
type Listing struct {
	Markets  []model.MarketObservation
	Rejected int // records that failed normalization
	Filtered int // records dropped by the keyword filter
}

// Client is a Gamma API client.
type Client struct {
	http   *transport.Client
	logger *slog.Logger
}

// NewClient creates a Gamma client over a configured transport.
func NewClient(t *transport.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{http: t, logger: logger}
}

// ListMarkets pages through active, unclosed markets and returns the ones
// that normalize and match the keywords.
func (c *Client) ListMarkets(ctx context.Context, q Query) (Listing, error) {
	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	maxPages := q.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}

	var out Listing
	seen := make(map[string]bool)
	for page := 0; page < maxPages; page++ {
		params := url.Values{}
		params.Set("active", "true")
		params.Set("closed", "false")
		params.Set("limit", strconv.Itoa(pageSize))
		params.Set("offset", strconv.Itoa(page*pageSize))
		if q.TagSlug != "" {
			params.Set("tag_slug", q.TagSlug)
		}

		var raw []Market
		if err := c.http.GetJSON(ctx, "/markets", params, &raw); err != nil {
			if page == 0 {
				return Listing{}, fmt.Errorf("list markets: %w", err)
			}
			c.logger.Warn("market listing truncated", "page", page, "err", err)
			break
		}

		for _, m := range raw {
			if !matches(m.Question, q.Keywords) {
				out.Filtered++
				continue
			}
			obs, err := Normalize(m)
			if err != nil {
				out.Rejected++
				c.logger.Debug("market rejected", "id", string(m.ID), "err", err)
				continue
			}
			if seen[obs.ID] {
				continue
			}
			seen[obs.ID] = true
			out.Markets = append(out.Markets, obs)
		}
		if len(raw) < pageSize {
			break
		}
	}
	return out, nil
}

// GetMarket fetches one market by ID.
func (c *Client) GetMarket(ctx context.Context, id string) (model.MarketObservation, error) {
	var raw Market
	if err := c.http.GetJSON(ctx, "/markets/"+url.PathEscape(id), nil, &raw); err != nil {
		return model.MarketObservation{}, fmt.Errorf("get market %s: %w", id, err)
	}
	return Normalize(raw)
}

// Outcome reports the winning side of a closed market. A closed market with
// no side at the settlement price is not settled yet.
func (c *Client) Outcome(ctx context.Context, marketID string) (model.Side, bool, error) {
	obs, err := c.GetMarket(ctx, marketID)
	if err != nil {
		if errors.Is(err, ErrMalformedMarket) {
			return "", false, nil
		}
		return "", false, err
	}
	if !obs.Closed || obs.WinningSide == "" {
		return "", false, nil
	}
	return obs.WinningSide, true, nil
}

func matches(question string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	q := strings.ToLower(question)
	for _, k := range keywords {
		if k != "" && strings.Contains(q, strings.ToLower(k)) {
			return true
		}
	}
	return false
}
