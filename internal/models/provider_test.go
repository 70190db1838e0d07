package models

import (
	"testing"
)

func TestDetectProvider(t *testing.T) {
	tests := []struct {
		name     string
		model    string
		expected string
	}{
		// Gateway-prefixed ids
		{"Planner default", "anthropic/claude-3.5-sonnet", "anthropic"},
		{"Verifier default", "openai/gpt-4o-mini", "openai"},
		{"Executor default", "mistralai/mixtral-8x7b-instruct", "mistral"},
		{"Meta prefix", "meta-llama/llama-3.1-70b-instruct", "meta"},
		{"XAI prefix", "x-ai/grok-2", "xai"},
		{"Unknown prefix passthrough", "cohere/command-r", "cohere"},

		// Bare ids
		{"Bare GPT", "gpt-4o", "openai"},
		{"Bare Claude", "claude-3-haiku", "anthropic"},
		{"Bare Mixtral", "mixtral-8x7b", "mistral"},
		{"Bare Llama", "llama-3.2-3b", "meta"},
		{"Bare Gemini", "gemini-1.5-pro", "google"},

		{"Empty model", "", "unknown"},
		{"Unknown model", "some-random-model", "unknown"},
		{"Uppercase GPT", "GPT-4O", "openai"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := DetectProvider(tt.model)
			if result != tt.expected {
				t.Errorf("DetectProvider(%q) = %q, want %q", tt.model, result, tt.expected)
			}
		})
	}
}
