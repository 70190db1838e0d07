package llm

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/circuitbreaker"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/metrics"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/models"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/tracing"
)

// Request is what a Backend receives after role resolution.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Backend is a concrete transport to a model provider.
type Backend interface {
	Generate(ctx context.Context, req Request) (*Completion, error)
	GenerateStream(ctx context.Context, req Request, emit func(chunk string) error) (models.TokenUsage, error)
}

// ClientConfig tunes the resilience layer around a Backend.
type ClientConfig struct {
	// CallTimeout bounds every call, including a whole stream. Zero disables it.
	CallTimeout time.Duration
	// RateLimit is calls per second across all roles. Zero disables it.
	RateLimit float64
	RateBurst int
}

// Client routes role calls to a Backend with a per-call timeout, a shared
// rate limiter and a circuit breaker. Safe for concurrent use by many runs.
type Client struct {
	backend Backend
	routing Routing
	cfg     ClientConfig
	guard   *circuitbreaker.Guard
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewClient creates a client. The routing is validated up front so a
// misconfigured role fails at startup rather than mid-run.
func NewClient(backend Backend, routing Routing, cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	if err := routing.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		backend: backend,
		routing: routing,
		cfg:     cfg,
		guard:   circuitbreaker.NewGuard("llm", "reasoning", circuitbreaker.ReasoningProfile(), logger),
		logger:  logger.With(zap.String("component", "llm")),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return c, nil
}

// Routing returns the injected role routing.
func (c *Client) Routing() Routing { return c.routing }

// BreakerState exposes the breaker for health reporting.
func (c *Client) BreakerState() circuitbreaker.State { return c.guard.State() }

func (c *Client) prepare(ctx context.Context, role Role, messages []Message, opts Options) (context.Context, context.CancelFunc, Request, error) {
	rc, err := c.routing.For(role)
	if err != nil {
		return ctx, func() {}, Request{}, err
	}
	rc = rc.resolve(opts)
	cancel := context.CancelFunc(func() {})
	if c.cfg.CallTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.cfg.CallTimeout)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			cancel()
			return ctx, func() {}, Request{}, fmt.Errorf("rate limit wait: %w", err)
		}
	}
	return ctx, cancel, Request{
		Model:       rc.Model,
		Messages:    messages,
		Temperature: rc.Temperature,
		MaxTokens:   rc.MaxTokens,
	}, nil
}

// Complete performs a blocking call for role.
func (c *Client) Complete(ctx context.Context, role Role, messages []Message, opts Options) (*Completion, error) {
	ctx, span := tracing.StartSpan(ctx, "llm."+string(role))
	defer span.End()

	start := time.Now()
	callCtx, cancel, req, err := c.prepare(ctx, role, messages, opts)
	if err != nil {
		return nil, err
	}
	defer cancel()
	span.SetAttributes(attribute.String("llm.model", req.Model))

	var out *Completion
	err = c.guard.Execute(callCtx, func() error {
		var callErr error
		out, callErr = c.backend.Generate(callCtx, req)
		return callErr
	})
	c.record(role, req.Model, start, err, out)
	if err != nil {
		tracing.Fail(span, err)
		return nil, fmt.Errorf("%s call: %w", role, err)
	}
	if out.Model == "" {
		out.Model = req.Model
	}
	return out, nil
}

// Stream performs a streaming call for role. The per-call timeout covers
// the whole stream.
func (c *Client) Stream(ctx context.Context, role Role, messages []Message, opts Options) (*Stream, error) {
	if _, err := c.routing.For(role); err != nil {
		return nil, err
	}
	return NewStream(ctx, func(ctx context.Context, emit func(string) error) (models.TokenUsage, error) {
		ctx, span := tracing.StartSpan(ctx, "llm."+string(role)+".stream")
		defer span.End()

		start := time.Now()
		callCtx, cancel, req, err := c.prepare(ctx, role, messages, opts)
		if err != nil {
			return models.TokenUsage{}, err
		}
		defer cancel()
		span.SetAttributes(attribute.String("llm.model", req.Model))

		var usage models.TokenUsage
		err = c.guard.Execute(callCtx, func() error {
			var callErr error
			usage, callErr = c.backend.GenerateStream(callCtx, req, emit)
			return callErr
		})
		c.record(role, req.Model, start, err, &Completion{Usage: usage})
		if err != nil {
			tracing.Fail(span, err)
			return usage, fmt.Errorf("%s stream: %w", role, err)
		}
		return usage, nil
	}), nil
}

func (c *Client) record(role Role, model string, start time.Time, err error, out *Completion) {
	elapsed := time.Since(start)
	tokens := 0
	if out != nil {
		tokens = out.Usage.TotalTokens
	}
	metrics.RecordLLMMetrics(string(role), models.DetectProvider(model), resultLabel(err), elapsed.Seconds(), tokens)
	if err != nil {
		c.logger.Warn("Reasoning call failed",
			zap.String("role", string(role)),
			zap.String("model", model),
			zap.Duration("elapsed", elapsed),
			zap.Bool("transient", IsTransient(err)),
			zap.Error(err),
		)
		return
	}
	c.logger.Debug("Reasoning call completed",
		zap.String("role", string(role)),
		zap.String("model", model),
		zap.Duration("elapsed", elapsed),
		zap.Int("tokens", tokens),
	)
}
