// Package sanitize strips markup from free text received from the upstream
// API before it is handed to renderers.
package sanitize

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// strictPolicy removes all HTML tags and attributes.
var strictPolicy = bluemonday.StrictPolicy()

// Text strips all HTML and returns plain text. Entities escaped by the policy
// are decoded again because consumers escape on render.
// Use for: event descriptions, blog excerpts, category names.
func Text(input string) string {
	if input == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(input)))
}

// TextPtr is Text for optional fields. nil stays nil.
func TextPtr(input *string) *string {
	if input == nil {
		return nil
	}
	out := Text(*input)
	return &out
}

// TextSlice sanitizes each string in a slice, removing all HTML.
func TextSlice(inputs []string) []string {
	if inputs == nil {
		return nil
	}
	sanitized := make([]string, len(inputs))
	for i, input := range inputs {
		sanitized[i] = Text(input)
	}
	return sanitized
}
