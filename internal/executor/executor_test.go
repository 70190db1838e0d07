package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/llm"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/llm/llmtest"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/models"
)

func newPlan(steps ...*models.PlanStep) *models.ResearchPlan {
	return &models.ResearchPlan{ID: "plan_exec", Query: "q", Steps: steps, Status: models.StatusExecuting}
}

func newStep(id string, deps ...string) *models.PlanStep {
	return &models.PlanStep{
		ID:           id,
		Title:        "Step " + id,
		Description:  "Do " + id,
		Tools:        []string{"web_search"},
		Dependencies: deps,
		Status:       models.StatusPending,
	}
}

// titleOf extracts the step title from an execution prompt.
func titleOf(prompt string) string {
	for _, line := range strings.Split(prompt, "\n") {
		if strings.HasPrefix(line, "Step: ") {
			return strings.TrimPrefix(line, "Step: ")
		}
	}
	return ""
}

func answer(confidence float64) llmtest.Handler {
	return func(_ context.Context, call llmtest.Call) (string, error) {
		return fmt.Sprintf(`{"data":{"summary":"done %s"},"sources":[{"title":"src","url":"https://example.com","snippet":"s","relevance":0.8}],"confidence":%v}`,
			titleOf(call.Prompt()), confidence), nil
	}
}

func TestExecuteVisitsEveryStepAfterItsDependencies(t *testing.T) {
	fake := llmtest.New().On(llm.RoleExecutor, answer(0.9))
	e := New(fake, nil, zaptest.NewLogger(t))

	plan := newPlan(
		newStep("4", "2", "3"),
		newStep("1"),
		newStep("2", "1"),
		newStep("3", "1"),
	)
	var finished []string
	report := e.Execute(context.Background(), plan, Hooks{
		Finished: func(s *models.PlanStep) { finished = append(finished, s.ID) },
	})

	assert.Equal(t, Report{Completed: 4}, report)
	assert.Equal(t, []string{"1", "2", "3", "4"}, finished)
	for _, s := range plan.Steps {
		assert.Equal(t, models.StatusCompleted, s.Status)
		require.NotNil(t, s.Result)
		assert.InDelta(t, 0.9, s.Result.Confidence, 1e-9)
	}

	calls := fake.CallsFor(llm.RoleExecutor)
	require.Len(t, calls, 4)
	assert.Contains(t, calls[0].Prompt(), "No previous context available.")
	last := calls[3].Prompt()
	assert.Contains(t, last, "Context from previous steps:")
	assert.Contains(t, last, "done Step 2")
	assert.Contains(t, last, "done Step 3")
}

func TestExecuteIsolatesStepFailure(t *testing.T) {
	fake := llmtest.New().On(llm.RoleExecutor, func(ctx context.Context, call llmtest.Call) (string, error) {
		if titleOf(call.Prompt()) == "Step 2" {
			return "", errors.New("upstream 500")
		}
		return answer(0.8)(ctx, call)
	})
	e := New(fake, nil, nil)

	plan := newPlan(newStep("1"), newStep("2", "1"), newStep("3", "2"))
	report := e.Execute(context.Background(), plan, Hooks{})

	require.Len(t, plan.Steps, 3)
	assert.Equal(t, models.StatusCompleted, plan.Steps[0].Status)
	assert.Equal(t, models.StatusFailed, plan.Steps[1].Status)
	assert.Contains(t, plan.Steps[1].Error, "upstream 500")
	assert.Nil(t, plan.Steps[1].Result)
	assert.Equal(t, models.StatusCompleted, plan.Steps[2].Status, "a dependent of a failed step still runs")
	assert.Equal(t, 2, report.Completed)
	assert.Equal(t, 1, report.Failed)

	third := fake.CallsFor(llm.RoleExecutor)[2].Prompt()
	assert.Contains(t, third, "No previous context available.")
}

func TestExecuteDegradesUnparsableReply(t *testing.T) {
	fake := llmtest.New().Reply(llm.RoleExecutor, "The capital of France is Paris.")
	e := New(fake, nil, nil)

	plan := newPlan(newStep("1"))
	report := e.Execute(context.Background(), plan, Hooks{})

	assert.Equal(t, 1, report.Completed)
	assert.Equal(t, 1, report.Degraded)
	s := plan.Steps[0]
	assert.Equal(t, models.StatusCompleted, s.Status)
	assert.Equal(t, models.FindingsText, s.Result.Findings.Kind)
	assert.Equal(t, "The capital of France is Paris.", s.Result.Findings.Text)
	assert.InDelta(t, DegradedConfidence, s.Result.Confidence, 1e-9)
	assert.Empty(t, s.Result.Sources)
}

func TestExecuteFallsBackToDeclarationOrder(t *testing.T) {
	fake := llmtest.New().On(llm.RoleExecutor, answer(0.7))
	e := New(fake, nil, nil)

	plan := newPlan(
		newStep("1"),
		newStep("2", "3"),
		newStep("3", "2"),
		newStep("4", "missing"),
		newStep("5", "1"),
	)
	var started []string
	report := e.Execute(context.Background(), plan, Hooks{
		Started: func(s *models.PlanStep) {
			assert.Equal(t, models.StatusExecuting, s.Status)
			started = append(started, s.ID)
		},
	})

	assert.True(t, report.Fallback)
	assert.Equal(t, 5, report.Completed)
	assert.Equal(t, []string{"1", "5", "2", "3", "4"}, started)
}

func TestExecuteStopsAtBudget(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fake := llmtest.New().On(llm.RoleExecutor, func(c context.Context, call llmtest.Call) (string, error) {
		cancel()
		return answer(0.9)(c, call)
	})
	e := New(fake, nil, nil)

	plan := newPlan(newStep("1"), newStep("2"), newStep("3"))
	var finished []string
	report := e.Execute(ctx, plan, Hooks{Finished: func(s *models.PlanStep) { finished = append(finished, s.Status) }})

	assert.Equal(t, 1, report.Completed)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, ErrRunCancelled, plan.Steps[1].Error)
	assert.Equal(t, []string{models.StatusCompleted, models.StatusFailed, models.StatusFailed}, finished)
	assert.Len(t, fake.Calls(), 1)
}

func TestExecuteDeadlineMarksBudgetExhausted(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	e := New(llmtest.New(), nil, nil)

	plan := newPlan(newStep("1"))
	e.Execute(ctx, plan, Hooks{})
	assert.Equal(t, models.StatusFailed, plan.Steps[0].Status)
	assert.Equal(t, ErrBudgetExhausted, plan.Steps[0].Error)
}

func TestExecuteSkipsNonPendingSteps(t *testing.T) {
	fake := llmtest.New().On(llm.RoleExecutor, answer(0.9))
	e := New(fake, nil, nil)

	done := newStep("1")
	done.Status = models.StatusCompleted
	plan := newPlan(done, newStep("2"))
	report := e.Execute(context.Background(), plan, Hooks{})
	assert.Equal(t, 1, report.Completed)
	assert.Len(t, fake.Calls(), 1)
}

func TestSchedule(t *testing.T) {
	order, fallback := Schedule([]*models.PlanStep{newStep("b", "a"), newStep("a")})
	assert.False(t, fallback)
	assert.Equal(t, []int{1, 0}, order)

	order, fallback = Schedule([]*models.PlanStep{newStep("a", "a")})
	assert.True(t, fallback)
	assert.Equal(t, []int{0}, order)
}
