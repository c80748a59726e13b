package catalog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Togather-Foundation/eventsite/internal/payload"
)

// EventTypes lists every event type.
func (c *Client) EventTypes(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.api.Get(ctx, "/event-types", nil, &raw); err != nil {
		return nil, fmt.Errorf("fetch event types: %w", err)
	}
	return raw, nil
}

// ActiveEventTypes lists event types not explicitly marked inactive, wrapped
// as {"data": [...]}.
func (c *Client) ActiveEventTypes(ctx context.Context) (json.RawMessage, error) {
	raw, err := c.EventTypes(ctx)
	if err != nil {
		return nil, err
	}
	all := payload.ExtractList[EventType](raw)
	active := make([]EventType, 0, len(all))
	for _, t := range all {
		if t.Active() {
			active = append(active, t)
		}
	}
	return payload.Envelope(active), nil
}
