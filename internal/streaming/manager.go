package streaming

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/metrics"
)

// Progress event types
const (
	EventPhase         = "phase"
	EventPlan          = "plan"
	EventVerification  = "verification"
	EventStepStarted   = "step_started"
	EventStepCompleted = "step_completed"
	EventStepFailed    = "step_failed"
	EventPolicy        = "policy"
	EventReportChunk   = "report_chunk"
	EventDone          = "done"
	EventError         = "error"
)

// Event is one progress notification for a research session.
type Event struct {
	SessionID string         `json:"session_id"`
	Type      string         `json:"type"`
	Phase     string         `json:"phase,omitempty"`
	StepID    string         `json:"step_id,omitempty"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Seq       uint64         `json:"seq"`
}

// Terminal reports whether no further events follow e for its session.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// Marshal renders e for SSE frames and stream entries.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Mirror receives a copy of every published event. Implementations must
// not block the publisher.
type Mirror interface {
	Mirror(evt Event) bool
}

const (
	DefaultCapacity  = 256
	DefaultRetention = 10 * time.Minute
)

// topic is the live state of one session: its subscribers and the most
// recent events kept for replay.
type topic struct {
	subs map[chan Event]struct{}
	log  []Event
	seq  uint64
}

func (t *topic) idle() bool { return len(t.subs) == 0 && len(t.log) == 0 }

// Manager fans session events out to in-process subscribers. Each session
// keeps its last capacity events for replay until a retention period after
// its terminal event.
type Manager struct {
	mu        sync.RWMutex
	topics    map[string]*topic
	capacity  int
	retention time.Duration
	mirror    Mirror
	logger    *zap.Logger
	now       func() time.Time
}

func NewManager(capacity int, logger *zap.Logger) *Manager {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		topics:    make(map[string]*topic),
		capacity:  capacity,
		retention: DefaultRetention,
		logger:    logger.With(zap.String("component", "streaming")),
		now:       time.Now,
	}
}

// SetMirror installs a mirror that sees every event after sequencing.
func (m *Manager) SetMirror(mirror Mirror) {
	m.mu.Lock()
	m.mirror = mirror
	m.mu.Unlock()
}

func (m *Manager) SetRetention(d time.Duration) {
	m.mu.Lock()
	m.retention = d
	m.mu.Unlock()
}

// topicLocked returns the session's topic, creating it. Callers hold mu.
func (m *Manager) topicLocked(sessionID string) *topic {
	t := m.topics[sessionID]
	if t == nil {
		t = &topic{subs: make(map[chan Event]struct{})}
		m.topics[sessionID] = t
	}
	return t
}

// Subscribe registers a buffered channel for sessionID. The caller drains
// it and calls Unsubscribe.
func (m *Manager) Subscribe(sessionID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	m.topicLocked(sessionID).subs[ch] = struct{}{}
	m.mu.Unlock()
	metrics.StreamSubscribers.Inc()
	return ch
}

// Unsubscribe closes ch. Repeated calls are no-ops.
func (m *Manager) Unsubscribe(sessionID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.topics[sessionID]
	if t == nil {
		return
	}
	if _, ok := t.subs[ch]; !ok {
		return
	}
	delete(t.subs, ch)
	close(ch)
	metrics.StreamSubscribers.Dec()
	if t.idle() {
		delete(m.topics, sessionID)
	}
}

// Publish stamps evt with the session's next sequence number, keeps it for
// replay and offers it to every subscriber. A full subscriber misses the
// event rather than stalling the run.
func (m *Manager) Publish(sessionID string, evt Event) Event {
	evt.SessionID = sessionID
	if evt.Timestamp.IsZero() {
		evt.Timestamp = m.now()
	}

	m.mu.Lock()
	t := m.topicLocked(sessionID)
	t.seq++
	evt.Seq = t.seq
	if len(t.log) == m.capacity {
		t.log = append(t.log[:0], t.log[1:]...)
	}
	t.log = append(t.log, evt)

	// Unsubscribe closes channels under mu, so sending here is safe.
	for ch := range t.subs {
		select {
		case ch <- evt:
		default:
			m.logger.Debug("Dropping event for slow subscriber",
				zap.String("session_id", sessionID),
				zap.String("type", evt.Type),
			)
		}
	}
	mirror, retention := m.mirror, m.retention
	m.mu.Unlock()

	metrics.StreamEvents.WithLabelValues(evt.Type).Inc()
	if mirror != nil && !mirror.Mirror(evt) {
		m.logger.Warn("Event mirror queue full", zap.String("session_id", sessionID))
	}
	if evt.Terminal() && retention > 0 {
		time.AfterFunc(retention, func() { m.expire(sessionID, t, evt.Seq) })
	}
	return evt
}

// ReplaySince returns retained events with Seq > since, oldest first.
func (m *Manager) ReplaySince(sessionID string, since uint64) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t := m.topics[sessionID]
	if t == nil {
		return nil
	}
	var out []Event
	for _, evt := range t.log {
		if evt.Seq > since {
			out = append(out, evt)
		}
	}
	return out
}

// Finished reports whether the session's latest event is terminal.
func (m *Manager) Finished(sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t := m.topics[sessionID]
	if t == nil || len(t.log) == 0 {
		return false
	}
	return t.log[len(t.log)-1].Terminal()
}

// expire drops the history of t unless the session published again after
// the terminal event at seq.
func (m *Manager) expire(sessionID string, t *topic, seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.topics[sessionID] != t || t.seq != seq {
		return
	}
	t.log, t.seq = nil, 0
	if t.idle() {
		delete(m.topics, sessionID)
	}
}
