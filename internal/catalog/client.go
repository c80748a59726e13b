package catalog

import (
	"context"
	"net/url"
)

// Getter is the part of the upstream client the fetchers need.
type Getter interface {
	Get(ctx context.Context, path string, query url.Values, out any) error
}

// Client reads events, event types, provinces, blog posts, ad banners and
// calendar statistics from the upstream API. List methods return the raw
// response payload because envelope shapes differ between endpoints; callers
// normalize them with payload.ExtractList.
type Client struct {
	api Getter
}

func NewClient(api Getter) *Client {
	return &Client{api: api}
}
