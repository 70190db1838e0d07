// Package orchestrator drives one research run through planning,
// verification, execution, the policy gate, knowledge extraction and
// synthesis, persisting every phase transition to the session store.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/llm"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/metrics"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/models"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/prompts"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/registry"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/session"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/streaming"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/synthesis"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/tracing"
)

// Config bounds a run.
type Config struct {
	// MaxAttempts is the number of planning attempts before proceeding
	// best-effort with the last plan produced.
	MaxAttempts int
	// MaxSteps is the step count quoted as the upper bound to the planner.
	MaxSteps int
	// TotalTimeout is the wall-clock budget of the whole run.
	TotalTimeout time.Duration
	// Grace is the minimum time left for policy, knowledge, synthesis and
	// the final write once execution returns, even if the budget is spent.
	Grace time.Duration
}

// DefaultConfig returns three attempts, ten steps, a five minute budget
// and a one minute grace period.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		MaxSteps:     10,
		TotalTimeout: 5 * time.Minute,
		Grace:        time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.MaxSteps <= 0 {
		c.MaxSteps = d.MaxSteps
	}
	if c.TotalTimeout <= 0 {
		c.TotalTimeout = d.TotalTimeout
	}
	if c.Grace <= 0 {
		c.Grace = d.Grace
	}
	return c
}

// Publisher receives progress events. streaming.Manager satisfies it.
type Publisher interface {
	Publish(sessionID string, evt streaming.Event) streaming.Event
}

type nopPublisher struct{}

func (nopPublisher) Publish(_ string, evt streaming.Event) streaming.Event { return evt }

// RunOptions tune a single run.
type RunOptions struct {
	// Stream selects streaming synthesis. Chunks are published as
	// report_chunk events.
	Stream bool
	// OnReportChunk, when set, also receives every chunk and implies Stream.
	OnReportChunk synthesis.ChunkFunc
}

// Orchestrator runs research sessions. It holds no per-run state, so one
// value serves concurrent runs.
type Orchestrator struct {
	reasoner llm.Reasoner
	store    session.Store
	tools    *registry.Registry
	prompts  *prompts.Set
	events   Publisher
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithPublisher sends progress events to p.
func WithPublisher(p Publisher) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.events = p
		}
	}
}

// WithPrompts overrides the embedded prompt templates.
func WithPrompts(set *prompts.Set) Option {
	return func(o *Orchestrator) {
		if set != nil {
			o.prompts = set
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an orchestrator. A nil registry uses the default tools.
func New(reasoner llm.Reasoner, store session.Store, tools *registry.Registry, cfg Config, logger *zap.Logger, opts ...Option) *Orchestrator {
	if tools == nil {
		tools = registry.NewDefault()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		reasoner: reasoner,
		store:    store,
		tools:    tools,
		prompts:  prompts.Default(),
		events:   nopPublisher{},
		cfg:      cfg.withDefaults(),
		logger:   logger.With(zap.String("component", "orchestrator")),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// Store returns the session store runs persist to.
func (o *Orchestrator) Store() session.Store { return o.store }

// CreateSession validates query and stores a pending session for it. The
// run itself starts with RunSession.
func (o *Orchestrator) CreateSession(ctx context.Context, query string) (*session.Session, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	sess, err := o.store.CreateSession(ctx, query, nil)
	if err != nil {
		return nil, &PersistenceError{Op: "create", Err: err}
	}
	return sess, nil
}

// Run creates a session for query and runs it to completion.
func (o *Orchestrator) Run(ctx context.Context, query string, opts RunOptions) (*models.OrchestrationResult, error) {
	sess, err := o.CreateSession(ctx, query)
	if err != nil {
		return nil, err
	}
	return o.RunSession(ctx, sess, opts)
}

// RunSession runs a session created by CreateSession. The result is
// persisted before it is returned. A returned error means the session was
// marked failed: either no plan could be produced, the store failed, or
// the report could not be synthesized.
func (o *Orchestrator) RunSession(ctx context.Context, sess *session.Session, opts RunOptions) (*models.OrchestrationResult, error) {
	if sess == nil || strings.TrimSpace(sess.Query) == "" {
		return nil, ErrEmptyQuery
	}

	ctx, span := tracing.StartRunSpan(ctx, sess.ID, sess.Query)
	defer span.End()

	r := &run{
		o:         o,
		sessionID: sess.ID,
		query:     sess.Query,
		start:     o.now(),
		meter:     llm.NewMeter(o.reasoner),
		logger:    o.logger.With(zap.String("session_id", sess.ID)),
	}

	metrics.RunsStarted.Inc()
	metrics.RunsInFlight.Inc()
	defer metrics.RunsInFlight.Dec()

	r.logger.Info("Starting research", zap.String("query", sess.Query))

	result, err := r.execute(ctx, opts)
	if err != nil {
		tracing.Fail(span, err)
		r.fail(ctx, err)
		metrics.RecordRunMetrics(models.ResultFailed, o.now().Sub(r.start).Seconds(), r.attempts, r.bestEffort)
		return nil, err
	}
	metrics.RecordRunMetrics(result.Status, o.now().Sub(r.start).Seconds(), r.attempts, r.bestEffort)
	return result, nil
}

// fail marks the session failed. The write uses a fresh context because
// the run's own may be what ended it.
func (r *run) fail(ctx context.Context, cause error) {
	r.logger.Error("Research failed", zap.Error(cause), zap.Int("planning_attempts", r.attempts))

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	status := session.StatusFailed
	msg := cause.Error()
	u := session.Update{Status: &status, Error: &msg}
	if r.plan != nil {
		u.Plan = r.plan
	}
	if _, err := r.o.store.UpdateSession(writeCtx, r.sessionID, u); err != nil && !errors.Is(err, cause) {
		r.logger.Warn("Failed to mark session failed", zap.Error(err))
	}
	r.publish(streaming.Event{Type: streaming.EventError, Message: msg})
}

func (r *run) publish(evt streaming.Event) {
	r.o.events.Publish(r.sessionID, evt)
}

// persist writes u, mapping any store failure to a PersistenceError.
func (r *run) persist(op string, u session.Update) error {
	if _, err := r.o.store.UpdateSession(r.storeCtx, r.sessionID, u); err != nil {
		return &PersistenceError{Op: op, Err: err}
	}
	return nil
}

// enter moves the session into a phase status and announces it.
func (r *run) enter(status string, u session.Update) error {
	u.Status = &status
	if err := r.persist("update "+status, u); err != nil {
		return err
	}
	r.publish(streaming.Event{Type: streaming.EventPhase, Phase: status})
	r.logger.Debug("Entered phase", zap.String("phase", status))
	return nil
}

func observePhase(phase string, started time.Time) {
	metrics.PhaseDuration.WithLabelValues(phase).Observe(time.Since(started).Seconds())
}
