// Package circuitbreaker guards calls to the reasoning service and the
// session stores. A breaker opens after consecutive failures, rejects calls
// while open, then admits a few probes before closing again.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is a breaker state. The numeric value is exported as a gauge.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

var (
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
	ErrTooManyRequests    = errors.New("too many requests in half-open state")
)

// IsBreakerError reports whether err was produced by the breaker itself
// rather than the wrapped call.
func IsBreakerError(err error) bool {
	return errors.Is(err, ErrCircuitBreakerOpen) || errors.Is(err, ErrTooManyRequests)
}

// Config tunes a breaker.
type Config struct {
	// MaxRequests is the number of probes admitted while half-open.
	MaxRequests uint32
	// Interval resets the closed-state counters. Zero never resets them.
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
	// FailureThreshold consecutive failures open a closed breaker.
	FailureThreshold uint32
	// SuccessThreshold consecutive probe successes close a half-open breaker.
	SuccessThreshold uint32
	// IsFailure decides whether an error counts against the breaker.
	// Defaults to any error except caller cancellation.
	IsFailure func(err error) bool
	// OnStateChange is called with the breaker lock held.
	OnStateChange func(name string, from, to State)
}

func DefaultConfig() Config {
	return Config{
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
	}
}

// countsAsFailure ignores caller cancellation: a run that gave up on a call
// says nothing about the health of the dependency.
func countsAsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// Counts are reset on every state change and closed-state interval.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

func (c *Counts) success() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) failure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

type CircuitBreaker struct {
	name   string
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	state  State
	epoch  uint64
	counts Counts
	// deadline ends the current closed interval or open period; zero
	// means none.
	deadline time.Time
}

func NewCircuitBreaker(name string, cfg Config, logger *zap.Logger) *CircuitBreaker {
	if cfg.IsFailure == nil {
		cfg.IsFailure = countsAsFailure
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cb := &CircuitBreaker{name: name, cfg: cfg, logger: logger, now: time.Now}
	cb.resetWindow(cb.now())
	return cb
}

// Name returns the breaker name used in logs and metrics.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn if the breaker admits the request. A context that is
// already done is rejected without consuming a half-open slot.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	epoch, err := cb.admit()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.settle(epoch, false)
			panic(r)
		}
	}()

	err = fn()
	cb.settle(epoch, !cb.cfg.IsFailure(err))
	return err
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advance(cb.now())
	return cb.state
}

func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.advance(cb.now())
	switch {
	case cb.state == StateOpen:
		return cb.epoch, ErrCircuitBreakerOpen
	case cb.state == StateHalfOpen && cb.counts.Requests >= cb.cfg.MaxRequests:
		return cb.epoch, ErrTooManyRequests
	}
	cb.counts.Requests++
	return cb.epoch, nil
}

// settle records the outcome of a call admitted in epoch. Outcomes from an
// earlier epoch are dropped.
func (cb *CircuitBreaker) settle(epoch uint64, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	cb.advance(now)
	if epoch != cb.epoch {
		return
	}

	if ok {
		cb.counts.success()
		if cb.state == StateHalfOpen && cb.counts.ConsecutiveSuccesses >= cb.cfg.SuccessThreshold {
			cb.transition(StateClosed, now)
		}
		return
	}
	cb.counts.failure()
	switch {
	case cb.state == StateHalfOpen:
		cb.transition(StateOpen, now)
	case cb.state == StateClosed && cb.counts.ConsecutiveFailures >= cb.cfg.FailureThreshold:
		cb.transition(StateOpen, now)
	}
}

// advance moves past an expired deadline: a closed interval starts over
// and an open period turns half-open.
func (cb *CircuitBreaker) advance(now time.Time) {
	if cb.deadline.IsZero() || now.Before(cb.deadline) {
		return
	}
	switch cb.state {
	case StateClosed:
		cb.resetWindow(now)
	case StateOpen:
		cb.transition(StateHalfOpen, now)
	}
}

func (cb *CircuitBreaker) transition(to State, now time.Time) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.resetWindow(now)

	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, from, to)
	}
	cb.logger.Info("Circuit breaker state changed",
		zap.String("name", cb.name),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
}

func (cb *CircuitBreaker) resetWindow(now time.Time) {
	cb.epoch++
	cb.counts = Counts{}
	cb.deadline = time.Time{}
	switch cb.state {
	case StateClosed:
		if cb.cfg.Interval > 0 {
			cb.deadline = now.Add(cb.cfg.Interval)
		}
	case StateOpen:
		cb.deadline = now.Add(cb.cfg.Timeout)
	}
}
