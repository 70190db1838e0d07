package models

import (
	"strings"
)

// DetectProvider determines the upstream provider for a routed model id.
// Gateway-style ids ("anthropic/claude-3.5-sonnet") carry the provider as a
// path prefix; bare ids fall back to name patterns. Used for metric labels.
func DetectProvider(model string) string {
	model = strings.TrimSpace(model)
	if model == "" {
		return "unknown"
	}
	if i := strings.Index(model, "/"); i > 0 {
		prefix := strings.ToLower(model[:i])
		switch prefix {
		case "mistralai":
			return "mistral"
		case "meta-llama":
			return "meta"
		case "x-ai":
			return "xai"
		}
		return prefix
	}
	return detectProviderFromPattern(model)
}

// detectProviderFromPattern matches common model naming conventions.
func detectProviderFromPattern(model string) string {
	ml := strings.ToLower(model)

	if strings.Contains(ml, "gpt-") || strings.HasPrefix(ml, "o1") || strings.HasPrefix(ml, "o3") {
		return "openai"
	}
	if strings.Contains(ml, "claude") || strings.Contains(ml, "sonnet") ||
		strings.Contains(ml, "opus") || strings.Contains(ml, "haiku") {
		return "anthropic"
	}
	if strings.Contains(ml, "gemini") {
		return "google"
	}
	if strings.Contains(ml, "deepseek") {
		return "deepseek"
	}
	// Mistral before llama since some fine-tunes carry both names
	if strings.Contains(ml, "mistral") || strings.Contains(ml, "mixtral") {
		return "mistral"
	}
	if strings.Contains(ml, "llama") {
		return "meta"
	}
	if strings.Contains(ml, "qwen") {
		return "qwen"
	}
	return "unknown"
}
