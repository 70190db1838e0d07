package health

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/circuitbreaker"
)

const (
	// slowThreshold marks a reachable dependency as degraded.
	slowThreshold = 100 * time.Millisecond
	pingTimeout   = 5 * time.Second
)

// Pinger is satisfied by session.Store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// pingChecker grades a dependency by whether and how fast it answers a ping.
type pingChecker struct {
	name     string
	label    string
	critical bool
	ping     func(context.Context) error
	details  map[string]any
}

func (p *pingChecker) Name() string           { return p.name }
func (p *pingChecker) IsCritical() bool       { return p.critical }
func (p *pingChecker) Timeout() time.Duration { return pingTimeout }

func (p *pingChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	err := p.ping(ctx)
	latency := time.Since(start)

	details := map[string]any{"latency_ms": latency.Milliseconds()}
	for k, v := range p.details {
		details[k] = v
	}
	res := CheckResult{Details: details}
	switch {
	case err != nil:
		res.Status, res.Error = StatusUnhealthy, err.Error()
		res.Message = p.label + " ping failed"
	case latency > slowThreshold:
		res.Status = StatusDegraded
		res.Message = p.label + " is slow"
	default:
		res.Status = StatusHealthy
		res.Message = p.label + " healthy"
	}
	return res
}

// NewSessionStoreChecker is critical: runs cannot persist without the store.
func NewSessionStoreChecker(store Pinger, backend string) Checker {
	return &pingChecker{
		name:     "session_store",
		label:    "Session store",
		critical: true,
		ping:     store.Ping,
		details:  map[string]any{"backend": backend},
	}
}

// NewRedisHealthChecker watches the Redis behind the event mirror. Progress
// still flows in-process without it.
func NewRedisHealthChecker(client redis.UniversalClient) Checker {
	return &pingChecker{
		name:  "event_mirror",
		label: "Redis",
		ping:  func(ctx context.Context) error { return client.Ping(ctx).Err() },
	}
}

// BreakerStater is satisfied by llm.Client.
type BreakerStater interface {
	BreakerState() circuitbreaker.State
}

// ReasoningChecker reads the reasoning service breaker instead of calling
// the service.
type ReasoningChecker struct {
	client BreakerStater
}

func NewReasoningChecker(client BreakerStater) *ReasoningChecker {
	return &ReasoningChecker{client: client}
}

func (r *ReasoningChecker) Name() string           { return "reasoning" }
func (r *ReasoningChecker) IsCritical() bool       { return false }
func (r *ReasoningChecker) Timeout() time.Duration { return time.Second }

func (r *ReasoningChecker) Check(context.Context) CheckResult {
	state := r.client.BreakerState()
	res := CheckResult{
		Status:  StatusDegraded,
		Details: map[string]any{"circuit_breaker": state.String()},
	}
	switch state {
	case circuitbreaker.StateOpen:
		res.Message = "Reasoning service circuit breaker is open"
	case circuitbreaker.StateHalfOpen:
		res.Message = "Reasoning service is recovering"
	default:
		res.Status = StatusHealthy
		res.Message = "Reasoning service reachable"
	}
	return res
}
