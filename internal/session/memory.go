package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/metrics"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/models"
)

const backendMemory = BackendMemory

// MemoryStore keeps sessions in process. It backs the CLI and tests, and
// serves single-instance deployments that do not need durability.
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	knowledge map[string][]models.KnowledgeEntry
	locks     *keyedMutex
	logger    *zap.Logger
	now       func() time.Time
}

// NewMemoryStore creates an empty in-process store
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		sessions:  make(map[string]*Session),
		knowledge: make(map[string][]models.KnowledgeEntry),
		locks:     newKeyedMutex(),
		logger:    logger.With(zap.String("component", "session_store"), zap.String("backend", backendMemory)),
		now:       time.Now,
	}
}

// CreateSession creates a new pending session
func (m *MemoryStore) CreateSession(ctx context.Context, query string, plan *models.ResearchPlan) (*Session, error) {
	if err := ctx.Err(); err != nil {
		metrics.RecordStoreOperation(backendMemory, "create", err)
		return nil, err
	}
	now := m.now()
	s := &Session{
		ID:        uuid.New().String(),
		Query:     query,
		Plan:      plan.Clone(),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	metrics.RecordStoreOperation(backendMemory, "create", nil)
	m.logger.Debug("Created new session", zap.String("session_id", s.ID))
	return s.Clone(), nil
}

// UpdateSession merges u into the stored session
func (m *MemoryStore) UpdateSession(ctx context.Context, id string, u Update) (*Session, error) {
	release := m.locks.Lock(id)
	defer release()

	if err := ctx.Err(); err != nil {
		metrics.RecordStoreOperation(backendMemory, "update", err)
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		metrics.RecordStoreOperation(backendMemory, "update", ErrSessionNotFound)
		return nil, fmt.Errorf("update session %s: %w", id, ErrSessionNotFound)
	}
	u.Apply(s, m.now())
	metrics.RecordStoreOperation(backendMemory, "update", nil)
	return s.Clone(), nil
}

// GetSession returns a copy of the stored session
func (m *MemoryStore) GetSession(ctx context.Context, id string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		metrics.RecordStoreOperation(backendMemory, "get", err)
		return nil, err
	}
	m.mu.RLock()
	s, ok := m.sessions[id]
	var cp *Session
	if ok {
		cp = s.Clone()
	}
	m.mu.RUnlock()
	if !ok {
		metrics.RecordStoreOperation(backendMemory, "get", ErrSessionNotFound)
		return nil, ErrSessionNotFound
	}
	metrics.RecordStoreOperation(backendMemory, "get", nil)
	return cp, nil
}

// AddKnowledge appends an entry to the session's knowledge
func (m *MemoryStore) AddKnowledge(ctx context.Context, sessionID string, entry models.KnowledgeEntry) (models.KnowledgeEntry, error) {
	if err := ctx.Err(); err != nil {
		metrics.RecordStoreOperation(backendMemory, "add_knowledge", err)
		return models.KnowledgeEntry{}, err
	}
	entry = prepareEntry(sessionID, entry, m.now())

	m.mu.Lock()
	if _, ok := m.sessions[sessionID]; !ok {
		m.mu.Unlock()
		metrics.RecordStoreOperation(backendMemory, "add_knowledge", ErrSessionNotFound)
		return models.KnowledgeEntry{}, fmt.Errorf("add knowledge to %s: %w", sessionID, ErrSessionNotFound)
	}
	m.knowledge[sessionID] = append(m.knowledge[sessionID], entry)
	m.mu.Unlock()

	metrics.RecordStoreOperation(backendMemory, "add_knowledge", nil)
	return entry, nil
}

// GetKnowledge returns entries ordered by relevance, highest first
func (m *MemoryStore) GetKnowledge(ctx context.Context, sessionID string) ([]models.KnowledgeEntry, error) {
	if err := ctx.Err(); err != nil {
		metrics.RecordStoreOperation(backendMemory, "get_knowledge", err)
		return nil, err
	}
	m.mu.RLock()
	entries := append([]models.KnowledgeEntry{}, m.knowledge[sessionID]...)
	m.mu.RUnlock()

	sortByRelevance(entries)
	metrics.RecordStoreOperation(backendMemory, "get_knowledge", nil)
	return entries, nil
}

// Ping always succeeds
func (m *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

// Close is a no-op
func (m *MemoryStore) Close() error { return nil }

// prepareEntry fills in the identity fields the store owns.
func prepareEntry(sessionID string, entry models.KnowledgeEntry, now time.Time) models.KnowledgeEntry {
	entry.SessionID = sessionID
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = now
	}
	if entry.Sources == nil {
		entry.Sources = []models.Source{}
	}
	return entry
}

func sortByRelevance(entries []models.KnowledgeEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Relevance > entries[j].Relevance
	})
}
