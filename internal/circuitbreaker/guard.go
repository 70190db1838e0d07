package circuitbreaker

import (
	"context"

	"go.uber.org/zap"
)

// Guard is a breaker registered for metrics under a name and service.
type Guard struct {
	cb *CircuitBreaker
	id breakerID
}

func NewGuard(name, service string, cfg Config, logger *zap.Logger) *Guard {
	id := breakerID{name: name, service: service}
	cfg.OnStateChange = chainStateChange(id, cfg.OnStateChange)
	cb := NewCircuitBreaker(name, cfg, logger)
	registry.add(id, cb)
	return &Guard{cb: cb, id: id}
}

// Execute runs fn through the breaker. The returned error is the breaker's
// own error when it rejected the call, otherwise whatever fn returned.
func (g *Guard) Execute(ctx context.Context, fn func() error) error {
	err := g.cb.Execute(ctx, fn)
	recordRequest(g.id, g.cb.State(), err == nil || !g.cb.cfg.IsFailure(err))
	return err
}

func (g *Guard) State() State { return g.cb.State() }

func (g *Guard) IsCircuitBreakerOpen() bool { return g.State() == StateOpen }
