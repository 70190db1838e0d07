package health

import (
	"context"
	"time"
)

// CheckStatus orders from best to worst, so it doubles as a gauge value.
type CheckStatus int

const (
	StatusHealthy CheckStatus = iota
	StatusDegraded
	StatusUnhealthy
	StatusUnknown
)

func (s CheckStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// MarshalText renders the status by name in JSON bodies.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CheckResult is one checker's outcome. The manager fills in Component,
// Critical, Duration and Timestamp.
type CheckResult struct {
	Component string         `json:"component"`
	Status    CheckStatus    `json:"status"`
	Critical  bool           `json:"critical"`
	Message   string         `json:"message,omitempty"`
	Error     string         `json:"error,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Duration  time.Duration  `json:"duration"`
	Timestamp time.Time      `json:"timestamp"`
}

// Checker probes one dependency. A critical checker that reports
// unhealthy takes the service out of readiness.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
	IsCritical() bool
	Timeout() time.Duration
}

// OverallHealth is the service-level verdict.
type OverallHealth struct {
	Status    CheckStatus   `json:"status"`
	Ready     bool          `json:"ready"`
	Live      bool          `json:"live"`
	Degraded  bool          `json:"degraded"`
	Message   string        `json:"message,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// DetailedHealth carries the verdict with every component result.
type DetailedHealth struct {
	Overall    OverallHealth          `json:"overall"`
	Components map[string]CheckResult `json:"components"`
	Summary    HealthSummary          `json:"summary"`
	Timestamp  time.Time              `json:"timestamp"`
}

// HealthSummary tallies component results by status and criticality.
type HealthSummary struct {
	Total            int `json:"total"`
	Healthy          int `json:"healthy"`
	Degraded         int `json:"degraded"`
	Unhealthy        int `json:"unhealthy"`
	Critical         int `json:"critical"`
	NonCritical      int `json:"non_critical"`
	CriticalFailures int `json:"critical_failures"`
}
