// Package planner asks the reasoning service for a research plan and turns
// the reply into typed steps.
package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/llm"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/models"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/prompts"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/registry"
)

// ErrNoPlan is returned when the reasoning service produced no usable reply.
var ErrNoPlan = errors.New("failed to create a plan")

// DefaultMaxSteps is used when Config.MaxSteps is unset.
const DefaultMaxSteps = 10

// Config tunes plan generation.
type Config struct {
	MaxSteps int
}

// Planner generates plans for queries.
type Planner struct {
	reasoner llm.Reasoner
	prompts  *prompts.Set
	tools    *registry.Registry
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a planner. A nil prompt set uses the embedded templates.
func New(reasoner llm.Reasoner, set *prompts.Set, tools *registry.Registry, cfg Config, logger *zap.Logger) *Planner {
	if set == nil {
		set = prompts.Default()
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{
		reasoner: reasoner,
		prompts:  set,
		tools:    tools,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "planner")),
		now:      time.Now,
	}
}

// Generate produces a pending plan for query. feedback carries the issues
// of a previously rejected attempt and may be empty. A reply with no step
// blocks yields a plan with zero steps, not an error.
func (p *Planner) Generate(ctx context.Context, query string, feedback []string) (*models.ResearchPlan, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", ErrNoPlan)
	}

	var toolNames []string
	if p.tools != nil {
		toolNames = p.tools.Names()
	}
	prompt, err := p.prompts.Plan(prompts.PlanData{
		Query:    query,
		MaxSteps: p.cfg.MaxSteps,
		Tools:    toolNames,
		Feedback: feedback,
	})
	if err != nil {
		return nil, err
	}

	out, err := p.reasoner.Complete(ctx, llm.RolePlanner,
		[]llm.Message{llm.System(prompts.PlannerSystem), llm.User(prompt)}, llm.Options{})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoPlan, err)
	}

	plan := &models.ResearchPlan{
		ID:        NewPlanID(),
		Query:     query,
		Steps:     ParseSteps(out.Text),
		Status:    models.StatusPending,
		CreatedAt: p.now().UTC(),
	}
	p.logger.Info("Created plan",
		zap.String("plan_id", plan.ID),
		zap.Int("steps", len(plan.Steps)),
		zap.Bool("with_feedback", len(feedback) > 0),
	)
	return plan, nil
}

// NewPlanID returns a fresh plan identity.
func NewPlanID() string {
	return "plan_" + uuid.NewString()
}
