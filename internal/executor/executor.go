// Package executor runs a plan's steps in dependency order against the
// reasoning service, one step at a time.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/llm"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/metrics"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/models"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/prompts"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/tracing"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/validation"
)

// Error recorded on steps that never ran because the run's context ended.
const (
	ErrBudgetExhausted = "budget exhausted"
	ErrRunCancelled    = "run cancelled"
)

// Hooks observe progress. Both run synchronously on the executing
// goroutine and may be nil.
type Hooks struct {
	// Started fires after a step is marked executing.
	Started func(step *models.PlanStep)
	// Finished fires after a step reaches completed or failed.
	Finished func(step *models.PlanStep)
}

// Report summarizes one execution.
type Report struct {
	Completed int
	Failed    int
	// Degraded counts completed steps whose reply was not valid JSON.
	Degraded int
	// Fallback is true when some steps could not be ordered and ran in
	// declaration order after the ordered ones.
	Fallback bool
	// Skipped counts steps failed without running because ctx ended.
	Skipped int
}

// Executor executes plans.
type Executor struct {
	reasoner llm.Reasoner
	prompts  *prompts.Set
	logger   *zap.Logger
	now      func() time.Time
}

// New creates an executor. A nil prompt set uses the embedded templates.
func New(reasoner llm.Reasoner, set *prompts.Set, logger *zap.Logger) *Executor {
	if set == nil {
		set = prompts.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		reasoner: reasoner,
		prompts:  set,
		logger:   logger.With(zap.String("component", "executor")),
		now:      time.Now,
	}
}

// Schedule returns step indexes in execution order: a Kahn ordering first,
// then any steps it could not place, in declaration order.
func Schedule(steps []*models.PlanStep) (order []int, fallback bool) {
	res := validation.TopologicalOrder(validation.NodesFromSteps(steps))
	order = append(res.Order, res.Residual...)
	return order, !res.Complete()
}

// Execute runs every pending step of plan, mutating the steps in place. A
// failed step never stops the run. Once ctx is done the remaining steps
// are failed without being attempted.
func (e *Executor) Execute(ctx context.Context, plan *models.ResearchPlan, hooks Hooks) Report {
	var report Report
	order, fallback := Schedule(plan.Steps)
	if fallback {
		report.Fallback = true
		metrics.ScheduleFallbacks.Inc()
		e.logger.Warn("Could not order all steps, running the rest in declaration order",
			zap.String("plan_id", plan.ID),
			zap.Int("steps", len(plan.Steps)),
		)
	}

	results := make(map[string]*models.StepResult, len(plan.Steps))
	for _, i := range order {
		step := plan.Steps[i]
		if step.Status != models.StatusPending {
			continue
		}

		step.Status = models.StatusExecuting
		if hooks.Started != nil {
			hooks.Started(step)
		}

		if err := ctx.Err(); err != nil {
			e.fail(step, skippedReason(err))
			report.Skipped++
			report.Failed++
			metrics.StepsTotal.WithLabelValues("skipped").Inc()
			if hooks.Finished != nil {
				hooks.Finished(step)
			}
			continue
		}

		result, degraded, err := e.runStep(ctx, plan.ID, step, gatherContext(plan, step, results))
		if err != nil {
			e.fail(step, err.Error())
			report.Failed++
			metrics.StepsTotal.WithLabelValues(models.StatusFailed).Inc()
			e.logger.Warn("Step failed",
				zap.String("plan_id", plan.ID),
				zap.String("step_id", step.ID),
				zap.Error(err),
			)
		} else {
			step.Result = result
			step.Status = models.StatusCompleted
			results[step.ID] = result
			report.Completed++
			if degraded {
				report.Degraded++
			}
			metrics.StepsTotal.WithLabelValues(models.StatusCompleted).Inc()
			metrics.StepDuration.Observe(float64(result.ExecutionTimeMs) / 1000)
			e.logger.Info("Step completed",
				zap.String("plan_id", plan.ID),
				zap.String("step_id", step.ID),
				zap.Int64("execution_ms", result.ExecutionTimeMs),
				zap.Float64("confidence", result.Confidence),
				zap.Bool("degraded", degraded),
			)
		}
		if hooks.Finished != nil {
			hooks.Finished(step)
		}
	}
	return report
}

func (e *Executor) fail(step *models.PlanStep, reason string) {
	step.Status = models.StatusFailed
	step.Error = reason
	step.Result = nil
}

func skippedReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrBudgetExhausted
	}
	return ErrRunCancelled
}

// gatherContext collects results of the step's dependencies that completed,
// in dependency order. Failed or missing dependencies are left out.
func gatherContext(plan *models.ResearchPlan, step *models.PlanStep, results map[string]*models.StepResult) []prompts.StepContext {
	var out []prompts.StepContext
	seen := make(map[string]bool, len(step.Dependencies))
	for _, dep := range step.Dependencies {
		if seen[dep] {
			continue
		}
		seen[dep] = true
		r, ok := results[dep]
		if !ok {
			continue
		}
		title := ""
		if d := plan.StepByID(dep); d != nil {
			title = d.Title
		}
		out = append(out, prompts.StepContext{StepID: dep, Title: title, Result: r})
	}
	return out
}

func (e *Executor) runStep(ctx context.Context, planID string, step *models.PlanStep, deps []prompts.StepContext) (*models.StepResult, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "research.step")
	defer span.End()
	span.SetAttributes(
		attribute.String("research.plan_id", planID),
		attribute.String("research.step_id", step.ID),
		attribute.Int("research.context_size", len(deps)),
	)

	start := e.now()
	prompt, err := e.prompts.Execute(step, deps)
	if err != nil {
		return nil, false, err
	}
	out, err := e.reasoner.Complete(ctx, llm.RoleExecutor,
		[]llm.Message{llm.System(prompts.ExecutorSystem), llm.User(prompt)}, llm.Options{})
	if err != nil {
		span.RecordError(err)
		return nil, false, fmt.Errorf("failed to execute step %q: %w", step.Title, err)
	}

	result, degraded := ParseResult(out.Text)
	result.ExecutionTimeMs = e.now().Sub(start).Milliseconds()
	if degraded {
		e.logger.Debug("Step reply was not JSON, keeping raw text",
			zap.String("plan_id", planID),
			zap.String("step_id", step.ID),
		)
	}
	return result, degraded, nil
}
