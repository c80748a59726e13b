package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// Provinces lists provinces, optionally narrowed by query.
func (c *Client) Provinces(ctx context.Context, query url.Values) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.api.Get(ctx, "/provinces", query, &raw); err != nil {
		return nil, fmt.Errorf("fetch provinces: %w", err)
	}
	return raw, nil
}

// MajorProvinces lists the provinces featured on the frontend.
func (c *Client) MajorProvinces(ctx context.Context) (json.RawMessage, error) {
	return c.Provinces(ctx, url.Values{"featured": {"true"}})
}
