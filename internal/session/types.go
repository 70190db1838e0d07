package session

import (
	"context"
	"errors"
	"time"

	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/models"
)

var (
	// ErrSessionNotFound is returned when a session doesn't exist
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidSession is returned when session data is invalid
	ErrInvalidSession = errors.New("invalid session")
)

// Session lifecycle statuses. A run moves through the phase statuses in
// order and ends in completed or failed.
const (
	StatusPending      = "pending"
	StatusPlanning     = "planning"
	StatusVerifying    = "verifying"
	StatusExecuting    = "executing"
	StatusDeciding     = "deciding"
	StatusExtracting   = "extracting"
	StatusSynthesizing = "synthesizing"
	StatusCompleted    = "completed"
	StatusFailed       = "failed"
)

// Session is the persisted record of one research run.
type Session struct {
	ID         string                      `json:"id"`
	Query      string                      `json:"query"`
	Plan       *models.ResearchPlan        `json:"plan,omitempty"`
	Status     string                      `json:"status"`
	Result     *models.OrchestrationResult `json:"result,omitempty"`
	BestEffort bool                        `json:"bestEffort"`
	Error      string                      `json:"error,omitempty"`
	CreatedAt  time.Time                   `json:"createdAt"`
	UpdatedAt  time.Time                   `json:"updatedAt"`
}

// Clone returns a copy that shares nothing mutable with s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Plan = s.Plan.Clone()
	if s.Result != nil {
		r := *s.Result
		r.Steps = make([]*models.PlanStep, len(s.Result.Steps))
		for i, st := range s.Result.Steps {
			r.Steps[i] = st.Clone()
		}
		r.Knowledge = append([]models.KnowledgeEntry(nil), s.Result.Knowledge...)
		cp.Result = &r
	}
	return &cp
}

// Update is a partial session write. Nil fields are left untouched.
type Update struct {
	Status     *string
	Plan       *models.ResearchPlan
	Result     *models.OrchestrationResult
	BestEffort *bool
	Error      *string
}

// StatusUpdate is shorthand for an update that only moves the status.
func StatusUpdate(status string) Update {
	return Update{Status: &status}
}

// Empty reports whether the update carries no fields.
func (u Update) Empty() bool {
	return u.Status == nil && u.Plan == nil && u.Result == nil && u.BestEffort == nil && u.Error == nil
}

// Apply merges the update into s and stamps UpdatedAt.
func (u Update) Apply(s *Session, now time.Time) {
	if u.Status != nil {
		s.Status = *u.Status
	}
	if u.Plan != nil {
		s.Plan = u.Plan.Clone()
	}
	if u.Result != nil {
		s.Result = u.Result
	}
	if u.BestEffort != nil {
		s.BestEffort = *u.BestEffort
	}
	if u.Error != nil {
		s.Error = *u.Error
	}
	s.UpdatedAt = now
}

// Store persists sessions and their knowledge entries. Every backend
// serializes writes per session id and is last-writer-wins.
type Store interface {
	// CreateSession stores a new pending session. plan may be nil.
	CreateSession(ctx context.Context, query string, plan *models.ResearchPlan) (*Session, error)
	// UpdateSession merges u into the stored session and returns the result.
	UpdateSession(ctx context.Context, id string, u Update) (*Session, error)
	GetSession(ctx context.Context, id string) (*Session, error)
	// AddKnowledge appends entry to the session's knowledge. The entry id
	// and timestamp are filled in when missing.
	AddKnowledge(ctx context.Context, sessionID string, entry models.KnowledgeEntry) (models.KnowledgeEntry, error)
	// GetKnowledge returns the session's entries ordered by relevance, highest first.
	GetKnowledge(ctx context.Context, sessionID string) ([]models.KnowledgeEntry, error)
	Ping(ctx context.Context) error
	Close() error
}
