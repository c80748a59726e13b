package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/Togather-Foundation/eventsite/internal/payload"
)

// EventFilter mirrors the query parameters of GET /events.
type EventFilter struct {
	Page     int
	PerPage  int
	Month    string // YYYY-MM
	Type     string
	City     string
	Province string
	Category string
	Status   string
	Search   string
	Sort     string // "latest" is the API default and is not sent
	OrderBy  string
	Order    string
	Include  []string
}

func (f EventFilter) query() url.Values {
	q := url.Values{}
	if f.Page > 0 {
		q.Set("page", strconv.Itoa(f.Page))
	}
	if f.PerPage > 0 {
		q.Set("per_page", strconv.Itoa(f.PerPage))
	}
	setIf(q, "month", f.Month)
	setIf(q, "type", f.Type)
	setIf(q, "city", f.City)
	setIf(q, "province", f.Province)
	setIf(q, "category", f.Category)
	setIf(q, "status", f.Status)
	setIf(q, "search", f.Search)
	if f.Sort != "" && f.Sort != "latest" {
		q.Set("sort", f.Sort)
	}
	setIf(q, "order_by", f.OrderBy)
	setIf(q, "order", f.Order)
	if len(f.Include) > 0 {
		q.Set("include", strings.Join(f.Include, ","))
	}
	return q
}

func setIf(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

// Events lists events matching filter.
func (c *Client) Events(ctx context.Context, filter EventFilter) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.api.Get(ctx, "/events", filter.query(), &raw); err != nil {
		return nil, fmt.Errorf("fetch events: %w", err)
	}
	return raw, nil
}

func publishedLatest(limit int) EventFilter {
	return EventFilter{
		Status:  "published",
		PerPage: limit,
		Sort:    "latest",
		Include: []string{"categories"},
	}
}

// LatestEvents lists the newest published events.
func (c *Client) LatestEvents(ctx context.Context, limit int) (json.RawMessage, error) {
	return c.Events(ctx, publishedLatest(limit))
}

// EventsByType lists the newest published events of one event type.
func (c *Client) EventsByType(ctx context.Context, typeSlug string, limit int) (json.RawMessage, error) {
	filter := publishedLatest(limit)
	filter.Type = typeSlug
	return c.Events(ctx, filter)
}

// EventsByProvince lists the newest published events in one province.
func (c *Client) EventsByProvince(ctx context.Context, provinceSlug string, limit int) (json.RawMessage, error) {
	filter := publishedLatest(limit)
	filter.Province = provinceSlug
	return c.Events(ctx, filter)
}

// FeaturedHeroEvents lists the events promoted in the homepage hero slider.
func (c *Client) FeaturedHeroEvents(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	q := url.Values{"include": {"categories"}}
	if err := c.api.Get(ctx, "/events/featured-hero", q, &raw); err != nil {
		return nil, fmt.Errorf("fetch featured hero events: %w", err)
	}
	return raw, nil
}

// CalendarStats returns per-month event counts for year. A zero year lets
// the API pick the current one.
func (c *Client) CalendarStats(ctx context.Context, year int) (CalendarStats, error) {
	q := url.Values{}
	if year > 0 {
		q.Set("year", strconv.Itoa(year))
	}

	var raw json.RawMessage
	if err := c.api.Get(ctx, "/events/calendar-stats", q, &raw); err != nil {
		return nil, fmt.Errorf("fetch calendar stats for %d: %w", year, err)
	}

	stats := CalendarStats{}
	inner := payload.Unwrap(raw)
	if inner == nil {
		return stats, nil
	}
	if err := json.Unmarshal(inner, &stats); err != nil {
		return nil, fmt.Errorf("decode calendar stats for %d: %w", year, err)
	}
	return stats, nil
}
