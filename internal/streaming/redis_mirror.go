package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultStreamMaxLen = 1000
	streamTTL           = 24 * time.Hour
	mirrorQueueSize     = 1024
)

// StreamKey is the Redis stream holding a session's mirrored events.
func StreamKey(sessionID string) string {
	return fmt.Sprintf("research:events:%s", sessionID)
}

// RedisMirror copies events into per-session Redis streams so other
// processes can follow a run. Writes happen on a background worker.
type RedisMirror struct {
	client  *redis.Client
	maxLen  int64
	logger  *zap.Logger
	queue   chan Event
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	timeout time.Duration
}

// NewRedisMirror starts a mirror writing to client. maxLen bounds each stream.
func NewRedisMirror(client *redis.Client, maxLen int64, logger *zap.Logger) *RedisMirror {
	if maxLen <= 0 {
		maxLen = DefaultStreamMaxLen
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &RedisMirror{
		client:  client,
		maxLen:  maxLen,
		logger:  logger.With(zap.String("component", "redis_mirror")),
		queue:   make(chan Event, mirrorQueueSize),
		timeout: 3 * time.Second,
	}
	m.wg.Add(1)
	go m.run()
	return m
}

// Mirror enqueues evt. It returns false when the queue is full or closed.
func (m *RedisMirror) Mirror(evt Event) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false
	}
	select {
	case m.queue <- evt:
		return true
	default:
		return false
	}
}

// Close drains queued events and stops the worker. The client is left open.
func (m *RedisMirror) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.queue)
	m.mu.Unlock()
	m.wg.Wait()
	return nil
}

func (m *RedisMirror) run() {
	defer m.wg.Done()
	for evt := range m.queue {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		if err := m.write(ctx, evt); err != nil {
			m.logger.Warn("Failed to mirror event to stream",
				zap.String("session_id", evt.SessionID),
				zap.String("type", evt.Type),
				zap.Error(err),
			)
		}
		cancel()
	}
}

func (m *RedisMirror) write(ctx context.Context, evt Event) error {
	payloadJSON := "{}"
	if evt.Data != nil {
		if b, err := json.Marshal(evt.Data); err == nil {
			payloadJSON = string(b)
		}
	}
	key := StreamKey(evt.SessionID)
	_, err := m.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: m.maxLen,
		Values: map[string]interface{}{
			"session_id": evt.SessionID,
			"type":       evt.Type,
			"phase":      evt.Phase,
			"step_id":    evt.StepID,
			"message":    evt.Message,
			"payload":    payloadJSON,
			"ts_nano":    strconv.FormatInt(evt.Timestamp.UnixNano(), 10),
			"seq":        strconv.FormatUint(evt.Seq, 10),
		},
	}).Result()
	if err != nil {
		return err
	}
	return m.client.Expire(ctx, key, streamTTL).Err()
}

// ReadStream returns up to count mirrored events for a session, oldest first.
func ReadStream(ctx context.Context, client *redis.Client, sessionID string, count int64) ([]Event, error) {
	msgs, err := client.XRangeN(ctx, StreamKey(sessionID), "-", "+", count).Result()
	if err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}
	events := make([]Event, 0, len(msgs))
	for _, msg := range msgs {
		events = append(events, eventFromValues(msg.Values))
	}
	return events, nil
}

func eventFromValues(v map[string]interface{}) Event {
	str := func(k string) string {
		s, _ := v[k].(string)
		return s
	}
	evt := Event{
		SessionID: str("session_id"),
		Type:      str("type"),
		Phase:     str("phase"),
		StepID:    str("step_id"),
		Message:   str("message"),
	}
	if n, err := strconv.ParseUint(str("seq"), 10, 64); err == nil {
		evt.Seq = n
	}
	if n, err := strconv.ParseInt(str("ts_nano"), 10, 64); err == nil {
		evt.Timestamp = time.Unix(0, n)
	}
	if p := str("payload"); p != "" && p != "{}" {
		var data map[string]interface{}
		if json.Unmarshal([]byte(p), &data) == nil {
			evt.Data = data
		}
	}
	return evt
}
