package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/metrics"
)

// DefaultCheckInterval is the background refresh period.
const DefaultCheckInterval = 30 * time.Second

// Manager runs registered checkers on demand and in the background. The
// service is ready while no critical checker is unhealthy, and live as
// long as the process can answer.
type Manager struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	last     map[string]CheckResult
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
	logger   *zap.Logger
}

func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		checkers: make(map[string]Checker),
		last:     make(map[string]CheckResult),
		interval: DefaultCheckInterval,
		logger:   logger.With(zap.String("component", "health")),
	}
}

// RegisterChecker adds checker. Names must be unique.
func (m *Manager) RegisterChecker(checker Checker) error {
	name := checker.Name()
	if name == "" {
		return errors.New("checker name cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.checkers[name]; exists {
		return fmt.Errorf("checker %s already registered", name)
	}
	m.checkers[name] = checker
	m.logger.Info("Health checker registered",
		zap.String("checker", name),
		zap.Bool("critical", checker.IsCritical()),
	)
	return nil
}

// GetOverallHealth runs every checker and reports only the verdict.
func (m *Manager) GetOverallHealth(ctx context.Context) OverallHealth {
	start := time.Now()
	detailed := m.GetDetailedHealth(ctx)
	overall := detailed.Overall
	overall.Timestamp = detailed.Timestamp
	overall.Duration = time.Since(start)
	return overall
}

// GetDetailedHealth runs every checker concurrently and aggregates the
// results.
func (m *Manager) GetDetailedHealth(ctx context.Context) DetailedHealth {
	m.mu.RLock()
	checkers := make([]Checker, 0, len(m.checkers))
	for _, c := range m.checkers {
		checkers = append(checkers, c)
	}
	m.mu.RUnlock()

	now := time.Now()
	results := make([]CheckResult, len(checkers))
	var wg sync.WaitGroup
	for i, c := range checkers {
		wg.Add(1)
		go func(i int, c Checker) {
			defer wg.Done()
			results[i] = runCheck(ctx, c)
		}(i, c)
	}
	wg.Wait()

	components := make(map[string]CheckResult, len(results))
	m.mu.Lock()
	for _, r := range results {
		components[r.Component] = r
		m.last[r.Component] = r
		metrics.ComponentHealth.WithLabelValues(r.Component).Set(float64(r.Status))
	}
	m.mu.Unlock()

	summary := summarize(components)
	return DetailedHealth{
		Overall:    overallStatus(summary),
		Components: components,
		Summary:    summary,
		Timestamp:  now,
	}
}

func runCheck(ctx context.Context, checker Checker) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, checker.Timeout())
	defer cancel()

	start := time.Now()
	result := checker.Check(ctx)
	result.Component = checker.Name()
	result.Critical = checker.IsCritical()
	result.Duration = time.Since(start)
	result.Timestamp = start
	return result
}

func summarize(components map[string]CheckResult) HealthSummary {
	summary := HealthSummary{Total: len(components)}
	for _, r := range components {
		switch r.Status {
		case StatusHealthy:
			summary.Healthy++
		case StatusDegraded:
			summary.Degraded++
		case StatusUnhealthy:
			summary.Unhealthy++
			if r.Critical {
				summary.CriticalFailures++
			}
		}
		if r.Critical {
			summary.Critical++
		} else {
			summary.NonCritical++
		}
	}
	return summary
}

// overallStatus folds component results into one verdict. A critical
// failure makes the service unhealthy and not ready; anything else short
// of all-healthy is degraded.
func overallStatus(s HealthSummary) OverallHealth {
	if s.Total == 0 {
		return OverallHealth{Status: StatusUnknown, Message: "No health checks registered", Live: true}
	}
	overall := OverallHealth{Ready: true, Live: true}
	nonCritical := s.Unhealthy - s.CriticalFailures
	switch {
	case s.CriticalFailures > 0:
		overall.Status = StatusUnhealthy
		overall.Message = fmt.Sprintf("%d critical component(s) failing", s.CriticalFailures)
		overall.Ready = false
	case s.Degraded > 0:
		overall.Status = StatusDegraded
		overall.Message = fmt.Sprintf("%d component(s) degraded", s.Degraded)
	case nonCritical > 0:
		overall.Status = StatusDegraded
		overall.Message = fmt.Sprintf("%d non-critical component(s) failing", nonCritical)
	default:
		overall.Status = StatusHealthy
		overall.Message = fmt.Sprintf("All %d components healthy", s.Total)
	}
	overall.Degraded = overall.Status == StatusDegraded
	return overall
}

func (m *Manager) IsReady(ctx context.Context) bool { return m.GetOverallHealth(ctx).Ready }

func (m *Manager) IsLive(ctx context.Context) bool { return m.GetOverallHealth(ctx).Live }

// Start refreshes results every check interval until Stop or ctx ends.
// Calling it while running is a no-op.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return nil
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.loop(ctx, m.interval, m.done)
	m.logger.Info("Health manager started",
		zap.Duration("check_interval", m.interval),
		zap.Int("registered_checkers", len(m.checkers)),
	)
	return nil
}

// Stop ends background checking and waits for the loop to exit.
func (m *Manager) Stop() error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	m.logger.Info("Health manager stopped")
	return nil
}

// SetCheckInterval applies from the next Start.
func (m *Manager) SetCheckInterval(interval time.Duration) {
	m.mu.Lock()
	m.interval = interval
	m.mu.Unlock()
}

func (m *Manager) loop(ctx context.Context, interval time.Duration, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			overall := m.GetDetailedHealth(ctx).Overall
			if overall.Status != StatusHealthy {
				m.logger.Warn("Health degraded",
					zap.Stringer("status", overall.Status),
					zap.String("message", overall.Message),
				)
			}
		}
	}
}

// GetLastResults returns the most recent results without running checks.
func (m *Manager) GetLastResults() map[string]CheckResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]CheckResult, len(m.last))
	for name, r := range m.last {
		out[name] = r
	}
	return out
}
