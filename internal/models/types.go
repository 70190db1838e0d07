package models

import (
	"time"
)

// Plan and step statuses
const (
	StatusPending   = "pending"
	StatusExecuting = "executing"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Orchestration result statuses
const (
	ResultSuccess = "success"
	ResultPartial = "partial"
	ResultFailed  = "failed"
)

// Policy actions
const (
	ActionContinue = "continue"
	ActionReplan   = "replan"
	ActionStop     = "stop"
)

// ResearchPlan is the ordered set of steps produced for one query.
type ResearchPlan struct {
	ID        string      `json:"id"`
	Query     string      `json:"query"`
	Steps     []*PlanStep `json:"steps"`
	Status    string      `json:"status"`
	CreatedAt time.Time   `json:"createdAt"`
}

// StepByID returns the step with the given identity, or nil.
func (p *ResearchPlan) StepByID(id string) *PlanStep {
	if p == nil {
		return nil
	}
	for _, s := range p.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// Counts returns the number of completed and failed steps.
func (p *ResearchPlan) Counts() (completed, failed int) {
	if p == nil {
		return 0, 0
	}
	for _, s := range p.Steps {
		switch s.Status {
		case StatusCompleted:
			completed++
		case StatusFailed:
			failed++
		}
	}
	return completed, failed
}

// Clone returns a deep copy of the plan so it can be persisted or published
// while the executor keeps mutating the original.
func (p *ResearchPlan) Clone() *ResearchPlan {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Steps = make([]*PlanStep, len(p.Steps))
	for i, s := range p.Steps {
		cp.Steps[i] = s.Clone()
	}
	return &cp
}

// PlanStep is one atomic unit of research work.
type PlanStep struct {
	ID           string      `json:"id"`
	Title        string      `json:"title"`
	Description  string      `json:"description"`
	Dependencies []string    `json:"dependencies"`
	Tools        []string    `json:"tools"`
	Status       string      `json:"status"`
	Result       *StepResult `json:"result,omitempty"`
	Error        string      `json:"error,omitempty"`
}

// Clone returns a deep copy of the step.
func (s *PlanStep) Clone() *PlanStep {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Dependencies = append([]string(nil), s.Dependencies...)
	cp.Tools = append([]string(nil), s.Tools...)
	if s.Result != nil {
		r := *s.Result
		r.Sources = append([]Source(nil), s.Result.Sources...)
		cp.Result = &r
	}
	return &cp
}

// StepResult is produced exactly once per completed step.
type StepResult struct {
	Findings Findings `json:"data"`
	Sources  []Source `json:"sources"`
	// Summary is the optional top-level summary the executor returned
	// alongside the findings payload.
	Summary         string  `json:"summary,omitempty"`
	Confidence      float64 `json:"confidence"`
	ExecutionTimeMs int64   `json:"executionTime"`
}

// Source is a reference backing a finding.
type Source struct {
	Title     string  `json:"title"`
	URL       string  `json:"url,omitempty"`
	Snippet   string  `json:"snippet"`
	Relevance float64 `json:"relevance"`
}

// KnowledgeEntry is a ranked, sourced summary derived from one completed step.
type KnowledgeEntry struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Content   string    `json:"content"`
	Sources   []Source  `json:"sources"`
	Timestamp time.Time `json:"timestamp"`
	Relevance float64   `json:"relevance"`
}

// VerificationResult is consumed by the planning retry loop only.
type VerificationResult struct {
	IsValid     bool     `json:"isValid"`
	Issues      []string `json:"issues"`
	Suggestions []string `json:"suggestions"`
}

// PolicyDecision is the continue/replan/stop gate evaluated after execution.
type PolicyDecision struct {
	Action     string  `json:"action"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
	// Source is "rule" for the deterministic ladder and "reasoning" or
	// "fallback" when the reasoning service was consulted.
	Source string `json:"source,omitempty"`
}

// TokenUsage tracks token consumption across a run.
type TokenUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Add accumulates other into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// ResultMetadata carries run diagnostics alongside the report.
type ResultMetadata struct {
	TotalTimeMs        int64           `json:"totalTime"`
	StepsCompleted     int             `json:"stepsCompleted"`
	StepsTotal         int             `json:"stepsTotal"`
	TokensUsed         int             `json:"tokensUsed"`
	TokenUsage         TokenUsage      `json:"tokenUsage"`
	PlanningAttempts   int             `json:"planningAttempts"`
	BestEffort         bool            `json:"bestEffort"`
	VerificationIssues []string        `json:"verificationIssues,omitempty"`
	Policy             *PolicyDecision `json:"policy,omitempty"`
	ForcedCompletion   bool            `json:"forcedCompletion"`
	ReportLength       int             `json:"reportLength"`
}

// OrchestrationResult is the terminal artifact of one run.
type OrchestrationResult struct {
	SessionID   string           `json:"sessionId,omitempty"`
	PlanID      string           `json:"planId"`
	Query       string           `json:"query"`
	Steps       []*PlanStep      `json:"steps"`
	FinalReport string           `json:"finalReport"`
	Knowledge   []KnowledgeEntry `json:"knowledge"`
	Status      string           `json:"status"`
	Metadata    ResultMetadata   `json:"metadata"`
}
