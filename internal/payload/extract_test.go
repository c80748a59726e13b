package payload

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractList_EmptyShapes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"bare empty array", `[]`},
		{"wrapped empty array", `{"data": []}`},
		{"double wrapped empty array", `{"data": {"data": []}}`},
		{"null", `null`},
		{"empty object", `{}`},
		{"string", `"garbage"`},
		{"number", `42`},
		{"no bytes", ``},
		{"malformed json", `{"data": [`},
		{"data is null", `{"data": null}`},
		{"data is string", `{"data": "x"}`},
		{"triple wrapped", `{"data": {"data": {"data": [1]}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractList[int](json.RawMessage(tt.raw))
			assert.NotNil(t, got)
			assert.Empty(t, got)
		})
	}
}

func TestExtractList_PopulatedShapes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"bare array", `[1,2,3]`},
		{"wrapped", `{"data":[1,2,3]}`},
		{"double wrapped", `{"data":{"data":[1,2,3]}}`},
		{"wrapped with meta", `{"success":true,"message":"ok","data":[1,2,3],"meta":{"total":3}}`},
		{"whitespace", "  \n[1, 2, 3]\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, []int{1, 2, 3}, ExtractList[int](json.RawMessage(tt.raw)))
		})
	}
}

func TestExtractList_ElementTypeMismatch(t *testing.T) {
	got := ExtractList[int](json.RawMessage(`{"data":["a","b"]}`))
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestExtractList_Structs(t *testing.T) {
	type item struct {
		Slug string `json:"slug"`
	}
	got := ExtractList[item](json.RawMessage(`{"data":{"data":[{"slug":"run"},{"slug":"ride"}]}}`))
	assert.Equal(t, []item{{Slug: "run"}, {Slug: "ride"}}, got)
}

func TestExtractList_Idempotent(t *testing.T) {
	first := ExtractList[int](json.RawMessage(`{"data":{"data":[4,5]}}`))
	again, err := json.Marshal(first)
	assert.NoError(t, err)
	assert.Equal(t, first, ExtractList[int](again))
}

func TestUnwrap(t *testing.T) {
	assert.JSONEq(t, `{"1":3}`, string(Unwrap(json.RawMessage(`{"success":true,"data":{"1":3}}`))))
	assert.JSONEq(t, `[1,2]`, string(Unwrap(json.RawMessage(`{"data":[1,2]}`))))
	assert.JSONEq(t, `{"id":7}`, string(Unwrap(json.RawMessage(`{"id":7}`))))
	assert.JSONEq(t, `{"data":"x"}`, string(Unwrap(json.RawMessage(`{"data":"x"}`))))
	assert.Nil(t, Unwrap(json.RawMessage(`[1]`)))
	assert.Nil(t, Unwrap(json.RawMessage(`null`)))
}

func TestEnvelope(t *testing.T) {
	assert.JSONEq(t, `{"data":[]}`, string(Envelope[int](nil)))
	assert.JSONEq(t, `{"data":[1,2]}`, string(Envelope([]int{1, 2})))
	assert.Equal(t, []int{1, 2}, ExtractList[int](Envelope([]int{1, 2})))
}
