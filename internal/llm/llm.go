// Package llm is the client for the reasoning service. Callers address it by
// role; the role to model mapping is an injected Routing value.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/models"
)

// Role names a reasoning duty. Each role maps to its own model settings.
type Role string

const (
	RolePlanner     Role = "planner"
	RoleVerifier    Role = "verifier"
	RoleExecutor    Role = "executor"
	RoleSynthesizer Role = "synthesizer"
)

// ErrUnknownRole is returned for a role with no routing entry.
var ErrUnknownRole = errors.New("unknown reasoning role")

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"` // "system", "user" or "assistant"
	Content string `json:"content"`
}

// System builds a system message.
func System(content string) Message { return Message{Role: "system", Content: content} }

// User builds a user message.
func User(content string) Message { return Message{Role: "user", Content: content} }

// Options override role defaults for one call. Zero values keep the default.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// Completion is the result of a blocking call.
type Completion struct {
	Text  string
	Model string
	Usage models.TokenUsage
}

// Reasoner is the text-completion capability the orchestration core depends on.
type Reasoner interface {
	Complete(ctx context.Context, role Role, messages []Message, opts Options) (*Completion, error)
	Stream(ctx context.Context, role Role, messages []Message, opts Options) (*Stream, error)
}

// RoleConfig is the model configuration for one role.
type RoleConfig struct {
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// Routing maps every role to its model configuration.
type Routing struct {
	Planner     RoleConfig `mapstructure:"planner"`
	Verifier    RoleConfig `mapstructure:"verifier"`
	Executor    RoleConfig `mapstructure:"executor"`
	Synthesizer RoleConfig `mapstructure:"synthesizer"`
}

// DefaultRouting returns the stock model assignment.
func DefaultRouting() Routing {
	return Routing{
		Planner:     RoleConfig{Model: "anthropic/claude-3.5-sonnet", Temperature: 0.7, MaxTokens: 4096},
		Verifier:    RoleConfig{Model: "openai/gpt-4o-mini", Temperature: 0.3, MaxTokens: 4096},
		Executor:    RoleConfig{Model: "mistralai/mixtral-8x7b-instruct", Temperature: 0.7, MaxTokens: 4096},
		Synthesizer: RoleConfig{Model: "openai/gpt-4o", Temperature: 0.7, MaxTokens: 4096},
	}
}

// For returns the configuration for role.
func (r Routing) For(role Role) (RoleConfig, error) {
	var rc RoleConfig
	switch role {
	case RolePlanner:
		rc = r.Planner
	case RoleVerifier:
		rc = r.Verifier
	case RoleExecutor:
		rc = r.Executor
	case RoleSynthesizer:
		rc = r.Synthesizer
	default:
		return RoleConfig{}, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	if rc.Model == "" {
		return RoleConfig{}, fmt.Errorf("%w: %q has no model", ErrUnknownRole, role)
	}
	return rc, nil
}

// Validate checks that every role has a model.
func (r Routing) Validate() error {
	for _, role := range []Role{RolePlanner, RoleVerifier, RoleExecutor, RoleSynthesizer} {
		if _, err := r.For(role); err != nil {
			return err
		}
	}
	return nil
}

// resolve merges per-call overrides into the role defaults.
func (rc RoleConfig) resolve(opts Options) RoleConfig {
	if opts.Temperature > 0 {
		rc.Temperature = opts.Temperature
	}
	if opts.MaxTokens > 0 {
		rc.MaxTokens = opts.MaxTokens
	}
	return rc
}

// EstimateTokens approximates token count for text the provider did not
// account for, at roughly four characters per token.
func EstimateTokens(chars int) int {
	if chars <= 0 {
		return 0
	}
	return (chars + 3) / 4
}
