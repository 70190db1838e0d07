// Package verifier decides whether a plan is fit to execute. A
// deterministic structural pass and a semantic pass on the reasoning
// service always both run; their issues are concatenated.
package verifier

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/llm"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/metrics"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/models"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/prompts"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/registry"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/validation"
)

// Issue strings produced by the semantic pass itself.
const (
	IssueEmptyPlan         = "Plan contains no steps"
	IssueUnparsableVerdict = "Failed to parse verification response"
)

// Verifier validates plans against the tool registry and the reasoning
// service.
type Verifier struct {
	reasoner llm.Reasoner
	prompts  *prompts.Set
	tools    *registry.Registry
	logger   *zap.Logger
}

// New creates a verifier.
func New(reasoner llm.Reasoner, set *prompts.Set, tools *registry.Registry, logger *zap.Logger) *Verifier {
	if set == nil {
		set = prompts.Default()
	}
	if tools == nil {
		tools = registry.NewDefault()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{
		reasoner: reasoner,
		prompts:  set,
		tools:    tools,
		logger:   logger.With(zap.String("component", "verifier")),
	}
}

// Verify runs both passes. It never returns an error: a failed semantic
// call is reported as an issue, which makes the plan invalid.
func (v *Verifier) Verify(ctx context.Context, plan *models.ResearchPlan) models.VerificationResult {
	var steps []*models.PlanStep
	if plan != nil {
		steps = plan.Steps
	}

	issues := CheckStructure(steps, v.tools)
	semantic := v.semantic(ctx, steps)

	issues = append(issues, semantic.Issues...)
	suggestions := semantic.Suggestions
	if suggestions == nil {
		suggestions = []string{}
	}
	result := models.VerificationResult{
		IsValid:     len(issues) == 0,
		Issues:      issues,
		Suggestions: suggestions,
	}

	metrics.VerificationIssues.Observe(float64(len(issues)))
	if result.IsValid {
		v.logger.Info("Plan verified", zap.Int("steps", len(steps)))
	} else {
		v.logger.Warn("Plan verification failed",
			zap.Int("steps", len(steps)),
			zap.Strings("issues", issues),
		)
	}
	return result
}

// CheckStructure is the deterministic pass. Issues reference steps by
// 1-based position.
func CheckStructure(steps []*models.PlanStep, tools *registry.Registry) []string {
	issues := []string{}
	if len(steps) == 0 {
		return append(issues, IssueEmptyPlan)
	}

	ids := make(map[string]int, len(steps))
	for i, s := range steps {
		if first, dup := ids[s.ID]; dup {
			issues = append(issues, fmt.Sprintf("Step %d: Duplicate step id %q (first used by step %d)", i+1, s.ID, first+1))
			continue
		}
		ids[s.ID] = i
	}

	cycles := validation.DetectCyclicDependencies(validation.NodesFromSteps(steps))
	onCycle := make(map[int]bool, len(cycles.CyclicNodes))
	for _, i := range cycles.CyclicNodes {
		onCycle[i] = true
	}

	for i, s := range steps {
		pos := i + 1
		if strings.TrimSpace(s.Title) == "" {
			issues = append(issues, fmt.Sprintf("Step %d: Missing title", pos))
		}
		if strings.TrimSpace(s.Description) == "" {
			issues = append(issues, fmt.Sprintf("Step %d: Missing description", pos))
		}
		for _, tool := range s.Tools {
			if !tools.Has(tool) {
				issues = append(issues, fmt.Sprintf("Step %d: Unknown tool %q", pos, tool))
			}
		}
		for _, dep := range s.Dependencies {
			if _, ok := ids[dep]; !ok {
				issues = append(issues, fmt.Sprintf("Step %d: Unknown dependency step %q", pos, dep))
			}
		}
		if onCycle[i] {
			issues = append(issues, fmt.Sprintf("Step %d: Circular dependency detected", pos))
		}
	}
	return issues
}

type verdict struct {
	IsValid     bool     `json:"isValid"`
	Issues      []string `json:"issues"`
	Suggestions []string `json:"suggestions"`
}

func (v *Verifier) semantic(ctx context.Context, steps []*models.PlanStep) verdict {
	prompt, err := v.prompts.Verify(steps, v.tools.Names())
	if err != nil {
		v.logger.Error("Failed to render verification prompt", zap.Error(err))
		return verdict{Issues: []string{IssueUnparsableVerdict}}
	}

	out, err := v.reasoner.Complete(ctx, llm.RoleVerifier,
		[]llm.Message{llm.System(prompts.VerifierSystem), llm.User(prompt)}, llm.Options{})
	if err != nil {
		v.logger.Warn("Semantic verification call failed", zap.Error(err))
		return verdict{Issues: []string{fmt.Sprintf("Semantic verification unavailable: %v", err)}}
	}

	var got verdict
	if err := llm.DecodeJSON(out.Text, &got); err != nil {
		v.logger.Warn("Failed to parse verification response", zap.Error(err))
		return verdict{Issues: []string{IssueUnparsableVerdict}}
	}
	return verdict{
		IsValid:     got.IsValid,
		Issues:      nonBlank(got.Issues),
		Suggestions: nonBlank(got.Suggestions),
	}
}

func nonBlank(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
