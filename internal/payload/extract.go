// Package payload normalizes the inconsistent response envelopes returned by
// the upstream event API.
//
// List endpoints answer with one of three shapes:
//
//	[...]
//	{"data": [...]}
//	{"data": {"data": [...]}}
//
// Anything else is treated as an empty list so that callers never see nil.
package payload

import (
	"bytes"
	"encoding/json"
)

type envelope struct {
	Data json.RawMessage `json:"data"`
}

// ExtractList decodes raw into a list of T, unwrapping at most two levels of
// "data" envelope. It returns an empty, non-nil slice for null, missing,
// malformed or non-list payloads, and for lists whose elements do not decode
// as T.
func ExtractList[T any](raw json.RawMessage) []T {
	list := listBytes(raw, 0)
	if list == nil {
		return []T{}
	}
	var out []T
	if err := json.Unmarshal(list, &out); err != nil || out == nil {
		return []T{}
	}
	return out
}

// listBytes returns the JSON array found at depth 0, 1 or 2 of nested "data"
// envelopes, or nil.
func listBytes(raw json.RawMessage, depth int) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}
	switch trimmed[0] {
	case '[':
		return trimmed
	case '{':
		if depth >= 2 {
			return nil
		}
		var env envelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil
		}
		return listBytes(env.Data, depth+1)
	default:
		return nil
	}
}

// Unwrap strips a single {"data": ...} envelope whose payload is an object or
// an array. Any other object is returned unchanged; non-objects yield nil.
func Unwrap(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err == nil {
		inner := bytes.TrimSpace(env.Data)
		if len(inner) > 0 && (inner[0] == '{' || inner[0] == '[') {
			return inner
		}
	}
	return trimmed
}

// Envelope wraps items as {"data": items}, the canonical shape this service
// hands back after filtering an upstream list.
func Envelope[T any](items []T) json.RawMessage {
	if items == nil {
		items = []T{}
	}
	raw, err := json.Marshal(struct {
		Data []T `json:"data"`
	}{Data: items})
	if err != nil {
		return json.RawMessage(`{"data":[]}`)
	}
	return raw
}
