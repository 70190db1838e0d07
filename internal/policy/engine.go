// Package policy decides, after execution, whether a run should continue,
// replan or stop. A fixed rule ladder is evaluated first; the reasoning
// service is consulted only when no rule matches, and a deterministic
// fallback masks its failures.
package policy

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/llm"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/metrics"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/models"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/prompts"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/tracing"
)

// Decision sources.
const (
	SourceRule      = "rule"
	SourceReasoning = "reasoning"
	SourceFallback  = "fallback"
)

// Rule reasons.
const (
	ReasonTimeout        = "Total timeout exceeded. Proceeding with available results."
	ReasonMaxRetries     = "Maximum retries reached. Proceeding with available results."
	ReasonAllCompleted   = "All steps completed successfully."
	ReasonMajorityFailed = "More than half of steps failed. Need to replan."
	ReasonTooManyIssues  = "Too many verification issues. Need to replan."
	ReasonSufficient     = "Sufficient information gathered. Ready to synthesize."
	ReasonFallbackStop   = "Error in policy decision. Proceeding with available results."
	ReasonFallbackReplan = "Error in policy decision and no results yet. Attempting replan."
)

const (
	maxVerificationIssues = 3
	sufficientShare       = 0.6
	forceTimeShare        = 0.8
	forceProgressShare    = 0.3
	forceRetries          = 2
	fallbackConfidence    = 0.5
)

// Limits are the run budgets the ladder compares against.
type Limits struct {
	TotalTimeout time.Duration
	MaxRetries   int
}

// DefaultLimits returns a five minute budget and three retries.
func DefaultLimits() Limits {
	return Limits{TotalTimeout: 5 * time.Minute, MaxRetries: 3}
}

// Input is the run state a decision is based on.
type Input struct {
	Query   string
	Steps   []*models.PlanStep
	Issues  []string
	Elapsed time.Duration
	// Retries counts planning attempts rejected by verification.
	Retries int
}

func (in Input) counts() (completed, failed, total int) {
	total = len(in.Steps)
	for _, s := range in.Steps {
		switch s.Status {
		case models.StatusCompleted:
			completed++
		case models.StatusFailed:
			failed++
		}
	}
	return completed, failed, total
}

// EvaluateRules applies the rule ladder in priority order. The first match
// wins; ok is false when no rule applies.
func EvaluateRules(in Input, limits Limits) (decision models.PolicyDecision, ok bool) {
	completed, failed, total := in.counts()
	rule := func(action, reason string, confidence float64) (models.PolicyDecision, bool) {
		return models.PolicyDecision{Action: action, Reason: reason, Confidence: confidence, Source: SourceRule}, true
	}

	switch {
	case limits.TotalTimeout > 0 && in.Elapsed > limits.TotalTimeout:
		return rule(models.ActionStop, ReasonTimeout, 1.0)
	case in.Retries >= limits.MaxRetries:
		return rule(models.ActionStop, ReasonMaxRetries, 1.0)
	case completed == total && failed == 0:
		return rule(models.ActionStop, ReasonAllCompleted, 1.0)
	case float64(failed) > float64(total)/2:
		return rule(models.ActionReplan, ReasonMajorityFailed, 0.9)
	case len(in.Issues) > maxVerificationIssues:
		return rule(models.ActionReplan, ReasonTooManyIssues, 0.85)
	case completed > 0 && float64(completed) >= sufficientShare*float64(total):
		return rule(models.ActionStop, ReasonSufficient, 0.8)
	}
	return models.PolicyDecision{}, false
}

// Fallback is the decision used when the reasoning service cannot decide.
func Fallback(in Input) models.PolicyDecision {
	completed, _, _ := in.counts()
	if completed > 0 {
		return models.PolicyDecision{Action: models.ActionStop, Reason: ReasonFallbackStop, Confidence: fallbackConfidence, Source: SourceFallback}
	}
	return models.PolicyDecision{Action: models.ActionReplan, Reason: ReasonFallbackReplan, Confidence: fallbackConfidence, Source: SourceFallback}
}

// ShouldForceCompletion reports whether synthesis should be forced despite
// incomplete execution: more than 80% of the budget spent, or at least two
// retries with under 30% of steps completed. It is independent of the
// ladder.
func ShouldForceCompletion(in Input, limits Limits) bool {
	completed, _, total := in.counts()
	if limits.TotalTimeout > 0 && float64(in.Elapsed) > forceTimeShare*float64(limits.TotalTimeout) {
		return true
	}
	return in.Retries >= forceRetries && float64(completed) < forceProgressShare*float64(total)
}

// Engine evaluates the ladder and the reasoning fallback.
type Engine struct {
	reasoner llm.Reasoner
	prompts  *prompts.Set
	limits   Limits
	logger   *zap.Logger
}

// New creates an engine. A nil prompt set uses the embedded templates.
func New(reasoner llm.Reasoner, set *prompts.Set, limits Limits, logger *zap.Logger) *Engine {
	if set == nil {
		set = prompts.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		reasoner: reasoner,
		prompts:  set,
		limits:   limits,
		logger:   logger.With(zap.String("component", "policy")),
	}
}

// Limits returns the engine's budgets.
func (e *Engine) Limits() Limits { return e.limits }

// Decide returns the decision for in. It never fails.
func (e *Engine) Decide(ctx context.Context, in Input) models.PolicyDecision {
	ctx, span := tracing.StartSpan(ctx, "research.policy")
	defer span.End()

	decision, ok := EvaluateRules(in, e.limits)
	if !ok {
		decision = e.ask(ctx, in)
	}
	span.SetAttributes(
		attribute.String("policy.action", decision.Action),
		attribute.String("policy.source", decision.Source),
	)
	metrics.PolicyDecisions.WithLabelValues(decision.Action, decision.Source).Inc()
	e.logger.Info("Policy decision",
		zap.String("action", decision.Action),
		zap.String("reason", decision.Reason),
		zap.Float64("confidence", decision.Confidence),
		zap.String("source", decision.Source),
	)
	return decision
}

type reply struct {
	Action     string   `json:"action"`
	Reason     string   `json:"reason"`
	Confidence *float64 `json:"confidence"`
}

func (e *Engine) ask(ctx context.Context, in Input) models.PolicyDecision {
	completed, _, _ := in.counts()
	prompt, err := e.prompts.Policy(in.Query, in.Steps, completed, in.Issues)
	if err != nil {
		e.logger.Warn("Failed to render policy prompt", zap.Error(err))
		return Fallback(in)
	}
	out, err := e.reasoner.Complete(ctx, llm.RoleVerifier,
		[]llm.Message{llm.System(prompts.VerifierSystem), llm.User(prompt)}, llm.Options{})
	if err != nil {
		e.logger.Warn("Policy reasoning call failed", zap.Error(err))
		return Fallback(in)
	}

	var r reply
	if err := llm.DecodeJSON(out.Text, &r); err != nil {
		e.logger.Warn("Failed to parse policy decision", zap.Error(err))
		return Fallback(in)
	}
	action := strings.ToLower(strings.TrimSpace(r.Action))
	switch action {
	case models.ActionContinue, models.ActionReplan, models.ActionStop:
	default:
		e.logger.Warn("Policy decision has unknown action", zap.String("action", r.Action))
		return Fallback(in)
	}

	confidence := fallbackConfidence
	if r.Confidence != nil {
		confidence = clamp(*r.Confidence)
	}
	reason := strings.TrimSpace(r.Reason)
	if reason == "" {
		reason = "Decided by reasoning service."
	}
	return models.PolicyDecision{Action: action, Reason: reason, Confidence: confidence, Source: SourceReasoning}
}

func clamp(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// RecordForcedCompletion counts a forced completion.
func RecordForcedCompletion() { metrics.ForcedCompletions.Inc() }
