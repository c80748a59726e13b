package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// LatestBlogPosts lists the newest blog posts.
func (c *Client) LatestBlogPosts(ctx context.Context, limit int) (json.RawMessage, error) {
	q := url.Values{"sort": {"latest"}}
	if limit > 0 {
		q.Set("per_page", strconv.Itoa(limit))
	}
	var raw json.RawMessage
	if err := c.api.Get(ctx, "/blog/posts", q, &raw); err != nil {
		return nil, fmt.Errorf("fetch blog posts: %w", err)
	}
	return raw, nil
}
