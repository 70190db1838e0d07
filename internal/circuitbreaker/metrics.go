package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "research_circuit_breaker_state",
			Help: "Current state of circuit breaker (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name", "service"},
	)

	breakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_circuit_breaker_requests_total",
			Help: "Requests through circuit breakers by state and result",
		},
		[]string{"name", "service", "state", "result"},
	)

	breakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "service", "from_state", "to_state"},
	)

	breakerOpenSince = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "research_circuit_breaker_open_since_seconds",
			Help: "Unix time the breaker last opened, 0 when not open",
		},
		[]string{"name", "service"},
	)
)

type breakerID struct {
	name    string
	service string
}

// breakerSet tracks guards so their state gauge can be refreshed; a
// breaker only changes state when called, which would leave the gauge
// stale after an open period expires.
type breakerSet struct {
	mu       sync.Mutex
	breakers map[breakerID]*CircuitBreaker
}

var registry = &breakerSet{breakers: make(map[breakerID]*CircuitBreaker)}

func (s *breakerSet) add(id breakerID, cb *CircuitBreaker) {
	s.mu.Lock()
	s.breakers[id] = cb
	s.mu.Unlock()
	breakerState.WithLabelValues(id.name, id.service).Set(float64(StateClosed))
}

func (s *breakerSet) refresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cb := range s.breakers {
		breakerState.WithLabelValues(id.name, id.service).Set(float64(cb.State()))
	}
}

func chainStateChange(id breakerID, next func(string, State, State)) func(string, State, State) {
	return func(name string, from, to State) {
		if next != nil {
			next(name, from, to)
		}
		breakerTransitions.WithLabelValues(id.name, id.service, from.String(), to.String()).Inc()
		breakerState.WithLabelValues(id.name, id.service).Set(float64(to))
		switch {
		case to == StateOpen:
			breakerOpenSince.WithLabelValues(id.name, id.service).SetToCurrentTime()
		case from == StateOpen:
			breakerOpenSince.WithLabelValues(id.name, id.service).Set(0)
		}
	}
}

func recordRequest(id breakerID, state State, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	breakerRequests.WithLabelValues(id.name, id.service, state.String(), result).Inc()
}

// StartMetricsCollection refreshes breaker state gauges every interval
// until ctx ends.
func StartMetricsCollection(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				registry.refresh()
			}
		}
	}()
}
