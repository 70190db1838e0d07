package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"fenced", "Here you go:\n```json\n{\"a\":1}\n```\nthanks", `{"a":1}`},
		{"fence without language", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around object", `Sure. {"a":1} Hope that helps.`, `{"a":1}`},
		{"trailing comma", `{"a":[1,2,],}`, `{"a":[1,2]}`},
		{"line comment", "{\n\"a\": 1 // the answer\n}", "{\n\"a\": 1\n}"},
		{"url survives comment stripping", `{"url":"https://example.com/x"}`, `{"url":"https://example.com/x"}`},
		{"no object", "no json here", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSON(tt.content))
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	var out struct {
		Action     string  `json:"action"`
		Confidence float64 `json:"confidence"`
	}
	require.NoError(t, DecodeJSON("```json\n{\"action\":\"stop\",\"confidence\":0.4,}\n```", &out))
	assert.Equal(t, "stop", out.Action)
	assert.InDelta(t, 0.4, out.Confidence, 1e-9)

	assert.ErrorIs(t, DecodeJSON("nothing", &out), ErrNoJSON)
	assert.Error(t, DecodeJSON(`{"action": }`, &out))
}
