package orchestrator

import (
	"context"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/executor"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/knowledge"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/llm"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/metrics"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/models"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/planner"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/policy"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/session"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/streaming"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/synthesis"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/tracing"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/verifier"
)

// run is the state of one session's control loop.
type run struct {
	o         *Orchestrator
	sessionID string
	query     string
	start     time.Time
	meter     *llm.Meter
	logger    *zap.Logger
	// storeCtx bounds session writes. It is the caller's context, not the
	// run budget, so an exhausted budget still lets partial results land.
	storeCtx context.Context

	plan         *models.ResearchPlan
	verification models.VerificationResult
	attempts     int
	// retries counts attempts that did not yield a verified plan
	retries    int
	bestEffort bool
}

func (r *run) execute(ctx context.Context, opts RunOptions) (*models.OrchestrationResult, error) {
	cfg := r.o.cfg
	r.storeCtx = ctx
	budgetCtx, cancelBudget := context.WithTimeout(ctx, cfg.TotalTimeout)
	defer cancelBudget()

	if err := r.planAndVerify(budgetCtx); err != nil {
		return nil, err
	}
	if err := r.runSteps(budgetCtx); err != nil {
		return nil, err
	}

	// the remaining phases get at least the grace period
	deadline, _ := budgetCtx.Deadline()
	if floor := r.o.now().Add(cfg.Grace); floor.After(deadline) {
		deadline = floor
	}
	finishCtx, cancelFinish := context.WithDeadline(ctx, deadline)
	defer cancelFinish()

	decision, forced, err := r.decide(finishCtx)
	if err != nil {
		return nil, err
	}
	entries, err := r.extract()
	if err != nil {
		return nil, err
	}
	report, err := r.synthesize(finishCtx, entries, opts)
	if err != nil {
		return nil, err
	}
	return r.complete(report, entries, decision, forced)
}

// planAndVerify produces a plan, retrying with the verifier's issues as
// feedback. Exhausted attempts leave the last plan in place best-effort.
func (r *run) planAndVerify(ctx context.Context) error {
	started := time.Now()
	defer observePhase("planning", started)

	p := planner.New(r.meter, r.o.prompts, r.o.tools, planner.Config{MaxSteps: r.o.cfg.MaxSteps}, r.logger)
	v := verifier.New(r.meter, r.o.prompts, r.o.tools, r.logger)

	var (
		feedback []string
		lastErr  error
	)
	for r.attempts < r.o.cfg.MaxAttempts {
		r.attempts++
		if err := r.enter(session.StatusPlanning, session.Update{}); err != nil {
			return err
		}

		planCtx, span := tracing.StartSpan(ctx, "research.plan")
		plan, err := p.Generate(planCtx, r.query, feedback)
		span.End()
		if err != nil {
			lastErr = err
			r.retries++
			r.logger.Warn("Planning attempt failed", zap.Int("attempt", r.attempts), zap.Error(err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		r.plan = plan
		r.publish(streaming.Event{
			Type:    streaming.EventPlan,
			Message: plan.ID,
			Data:    map[string]interface{}{"attempt": r.attempts, "plan": plan.Clone()},
		})

		if err := r.enter(session.StatusVerifying, session.Update{Plan: plan}); err != nil {
			return err
		}
		verifyCtx, span := tracing.StartSpan(ctx, "research.verify")
		r.verification = v.Verify(verifyCtx, plan)
		span.End()
		r.publish(streaming.Event{
			Type: streaming.EventVerification,
			Data: map[string]interface{}{
				"attempt":     r.attempts,
				"isValid":     r.verification.IsValid,
				"issues":      r.verification.Issues,
				"suggestions": r.verification.Suggestions,
			},
		})

		if r.verification.IsValid {
			r.logger.Info("Plan verified",
				zap.String("plan_id", plan.ID),
				zap.Int("attempt", r.attempts),
			)
			return nil
		}
		r.retries++
		feedback = r.verification.Issues
		r.logger.Warn("Plan verification failed",
			zap.String("plan_id", plan.ID),
			zap.Int("attempt", r.attempts),
			zap.Strings("issues", r.verification.Issues),
		)
		if ctx.Err() != nil {
			break
		}
	}

	if r.plan == nil {
		if lastErr == nil {
			lastErr = planner.ErrNoPlan
		}
		return lastErr
	}
	r.bestEffort = true
	r.logger.Warn("Proceeding with unverified plan",
		zap.String("plan_id", r.plan.ID),
		zap.Int("attempts", r.attempts),
	)
	return nil
}

// runSteps executes the plan, persisting every step transition. A store
// failure stops the remaining steps and aborts the run.
func (r *run) runSteps(ctx context.Context) error {
	started := time.Now()
	defer observePhase("executing", started)

	plan := r.plan
	plan.Status = models.StatusExecuting
	bestEffort := r.bestEffort
	if err := r.enter(session.StatusExecuting, session.Update{Plan: plan, BestEffort: &bestEffort}); err != nil {
		return err
	}

	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	execCtx, span := tracing.StartSpan(execCtx, "research.execute")
	defer span.End()

	var persistErr error
	snapshot := func(step *models.PlanStep) {
		if persistErr != nil {
			return
		}
		if err := r.persist("update step "+step.ID, session.Update{Plan: plan}); err != nil {
			persistErr = err
			cancel()
		}
	}
	hooks := executor.Hooks{
		Started: func(step *models.PlanStep) {
			r.publish(streaming.Event{Type: streaming.EventStepStarted, StepID: step.ID, Message: step.Title})
			snapshot(step)
		},
		Finished: func(step *models.PlanStep) {
			evt := streaming.Event{Type: streaming.EventStepCompleted, StepID: step.ID, Message: step.Title}
			if step.Status == models.StatusFailed {
				evt.Type = streaming.EventStepFailed
				evt.Message = step.Error
			} else if step.Result != nil {
				evt.Data = map[string]interface{}{
					"confidence":    step.Result.Confidence,
					"executionTime": step.Result.ExecutionTimeMs,
					"sources":       len(step.Result.Sources),
				}
			}
			r.publish(evt)
			snapshot(step)
		},
	}

	report := executor.New(r.meter, r.o.prompts, r.logger).Execute(execCtx, plan, hooks)
	if persistErr != nil {
		return persistErr
	}

	plan.Status = models.StatusCompleted
	if report.Completed == 0 && len(plan.Steps) > 0 {
		plan.Status = models.StatusFailed
	}
	r.logger.Info("Execution finished",
		zap.String("plan_id", plan.ID),
		zap.Int("completed", report.Completed),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
		zap.Bool("fallback_order", report.Fallback),
	)
	return nil
}

// decide evaluates the policy gate and the force-completion check. The
// decision is advisory: the run always proceeds to synthesis.
func (r *run) decide(ctx context.Context) (models.PolicyDecision, bool, error) {
	started := time.Now()
	defer observePhase("deciding", started)

	if err := r.enter(session.StatusDeciding, session.Update{Plan: r.plan}); err != nil {
		return models.PolicyDecision{}, false, err
	}

	limits := policy.Limits{TotalTimeout: r.o.cfg.TotalTimeout, MaxRetries: r.o.cfg.MaxAttempts}
	in := policy.Input{
		Query:   r.query,
		Steps:   r.plan.Steps,
		Issues:  r.verification.Issues,
		Elapsed: r.o.now().Sub(r.start),
		Retries: r.retries,
	}
	decision := policy.New(r.meter, r.o.prompts, limits, r.logger).Decide(ctx, in)
	forced := policy.ShouldForceCompletion(in, limits)
	if forced {
		policy.RecordForcedCompletion()
		r.logger.Info("Forcing completion with available results",
			zap.Duration("elapsed", in.Elapsed),
			zap.Int("retries", in.Retries),
		)
	}
	r.publish(streaming.Event{
		Type:    streaming.EventPolicy,
		Message: decision.Reason,
		Data: map[string]interface{}{
			"action":           decision.Action,
			"confidence":       decision.Confidence,
			"source":           decision.Source,
			"forcedCompletion": forced,
		},
	})
	return decision, forced, nil
}

// extract derives knowledge from completed steps and stores each entry.
func (r *run) extract() ([]models.KnowledgeEntry, error) {
	started := time.Now()
	defer observePhase("extracting", started)

	if err := r.enter(session.StatusExtracting, session.Update{}); err != nil {
		return nil, err
	}
	entries := knowledge.Extract(r.sessionID, r.plan.Steps, r.o.now().UTC())
	stored := make([]models.KnowledgeEntry, 0, len(entries))
	for _, e := range entries {
		saved, err := r.o.store.AddKnowledge(r.storeCtx, r.sessionID, e)
		if err != nil {
			return nil, &PersistenceError{Op: "add knowledge", Err: err}
		}
		stored = append(stored, saved)
	}
	metrics.KnowledgeEntries.Add(float64(len(stored)))
	return stored, nil
}

func (r *run) synthesize(ctx context.Context, entries []models.KnowledgeEntry, opts RunOptions) (string, error) {
	started := time.Now()
	defer observePhase("synthesizing", started)

	if err := r.enter(session.StatusSynthesizing, session.Update{}); err != nil {
		return "", err
	}
	s := synthesis.New(r.meter, r.o.prompts, r.logger)
	if !opts.Stream && opts.OnReportChunk == nil {
		return s.Synthesize(ctx, r.query, r.plan.Steps, entries)
	}

	report, err := s.Stream(ctx, r.query, r.plan.Steps, entries, func(chunk string) error {
		r.publish(streaming.Event{Type: streaming.EventReportChunk, Message: chunk})
		if opts.OnReportChunk != nil {
			return opts.OnReportChunk(chunk)
		}
		return nil
	})
	if err != nil {
		r.logger.Warn("Report stream ended early",
			zap.Int("characters", utf8.RuneCountInString(report)),
			zap.Error(err),
		)
		return "", err
	}
	return report, nil
}

// complete assembles the result and writes it as the session's final state.
func (r *run) complete(report string, entries []models.KnowledgeEntry, decision models.PolicyDecision, forced bool) (*models.OrchestrationResult, error) {
	completed, _ := r.plan.Counts()
	total := len(r.plan.Steps)

	status := models.ResultPartial
	if total > 0 && completed == total {
		status = models.ResultSuccess
	}

	usage := r.meter.Usage()
	meta := models.ResultMetadata{
		TotalTimeMs:      r.o.now().Sub(r.start).Milliseconds(),
		StepsCompleted:   completed,
		StepsTotal:       total,
		TokensUsed:       usage.TotalTokens,
		TokenUsage:       usage,
		PlanningAttempts: r.attempts,
		BestEffort:       r.bestEffort,
		Policy:           &decision,
		ForcedCompletion: forced,
		ReportLength:     utf8.RuneCountInString(report),
	}
	if r.bestEffort {
		meta.VerificationIssues = append([]string{}, r.verification.Issues...)
	}

	result := &models.OrchestrationResult{
		SessionID:   r.sessionID,
		PlanID:      r.plan.ID,
		Query:       r.query,
		Steps:       r.plan.Clone().Steps,
		FinalReport: report,
		Knowledge:   entries,
		Status:      status,
		Metadata:    meta,
	}

	done := session.StatusCompleted
	if err := r.persist("complete", session.Update{Status: &done, Plan: r.plan, Result: result}); err != nil {
		return nil, err
	}
	r.publish(streaming.Event{
		Type:    streaming.EventDone,
		Message: status,
		Data: map[string]interface{}{
			"status":         status,
			"stepsCompleted": completed,
			"stepsTotal":     total,
			"totalTime":      meta.TotalTimeMs,
		},
	})
	r.logger.Info("Research completed",
		zap.String("plan_id", r.plan.ID),
		zap.String("status", status),
		zap.Int64("total_ms", meta.TotalTimeMs),
		zap.Int("steps_completed", completed),
		zap.Int("steps_total", total),
		zap.Int("tokens", usage.TotalTokens),
	)
	return result, nil
}
