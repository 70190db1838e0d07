package streaming

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestManager_KeepsLatestEventsUpToCapacity(t *testing.T) {
	m := NewManager(3, zaptest.NewLogger(t))
	for i := 0; i < 4; i++ {
		m.Publish("s1", Event{Type: EventPhase})
	}
	// seq 1 was evicted
	evs := m.ReplaySince("s1", 0)
	require.Len(t, evs, 3)
	assert.Equal(t, uint64(2), evs[0].Seq)
	assert.Equal(t, uint64(4), evs[2].Seq)

	evs = m.ReplaySince("s1", 2)
	require.Len(t, evs, 2)
	assert.Equal(t, uint64(3), evs[0].Seq)
}

func TestManager_RetentionKeepsSubscribers(t *testing.T) {
	m := NewManager(4, zaptest.NewLogger(t))
	m.SetRetention(10 * time.Millisecond)
	ch := m.Subscribe("s1", 4)
	defer m.Unsubscribe("s1", ch)

	m.Publish("s1", Event{Type: EventDone})
	require.Eventually(t, func() bool { return !m.Finished("s1") }, time.Second, 5*time.Millisecond)

	evt := m.Publish("s1", Event{Type: EventPhase})
	assert.Equal(t, uint64(1), evt.Seq)
	assert.Len(t, ch, 2)
}

func TestManager_PublishAssignsSequenceFromOne(t *testing.T) {
	m := NewManager(8, zaptest.NewLogger(t))

	first := m.Publish("s1", Event{Type: EventPhase, Phase: "planning"})
	second := m.Publish("s1", Event{Type: EventPlan})
	other := m.Publish("s2", Event{Type: EventPhase})

	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, uint64(2), second.Seq)
	assert.Equal(t, uint64(1), other.Seq)
	assert.Equal(t, "s1", first.SessionID)
	assert.False(t, first.Timestamp.IsZero())
}

func TestManager_SubscribeReceivesEvents(t *testing.T) {
	m := NewManager(8, zaptest.NewLogger(t))
	ch := m.Subscribe("s1", 4)
	defer m.Unsubscribe("s1", ch)

	m.Publish("s1", Event{Type: EventStepStarted, StepID: "1"})
	m.Publish("s2", Event{Type: EventStepStarted, StepID: "x"})

	select {
	case evt := <-ch:
		assert.Equal(t, EventStepStarted, evt.Type)
		assert.Equal(t, "1", evt.StepID)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	select {
	case evt := <-ch:
		t.Fatalf("received event for another session: %+v", evt)
	default:
	}
}

func TestManager_SlowSubscriberDropsWithoutBlocking(t *testing.T) {
	m := NewManager(16, zaptest.NewLogger(t))
	ch := m.Subscribe("s1", 1)
	defer m.Unsubscribe("s1", ch)

	for i := 0; i < 5; i++ {
		m.Publish("s1", Event{Type: EventReportChunk})
	}
	assert.Len(t, ch, 1)
	assert.Len(t, m.ReplaySince("s1", 0), 5)
}

func TestManager_ReplaySince(t *testing.T) {
	m := NewManager(5, zaptest.NewLogger(t))
	for i := 0; i < 7; i++ {
		m.Publish("s1", Event{Type: EventPhase})
	}
	evs := m.ReplaySince("s1", 3)
	require.Len(t, evs, 4)
	for _, e := range evs {
		assert.Greater(t, e.Seq, uint64(3))
	}
	assert.Nil(t, m.ReplaySince("unknown", 0))
}

func TestManager_UnsubscribeIsIdempotent(t *testing.T) {
	m := NewManager(4, zaptest.NewLogger(t))
	ch := m.Subscribe("s1", 1)
	m.Unsubscribe("s1", ch)
	m.Unsubscribe("s1", ch)

	_, open := <-ch
	assert.False(t, open)
}

func TestManager_ConcurrentPublishAndUnsubscribe(t *testing.T) {
	m := NewManager(64, zaptest.NewLogger(t))
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		ch := m.Subscribe("s1", 1)
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.Publish("s1", Event{Type: EventPhase})
		}()
		go func() {
			defer wg.Done()
			m.Unsubscribe("s1", ch)
		}()
	}
	wg.Wait()
}

func TestManager_FinishedAndRetention(t *testing.T) {
	m := NewManager(4, zaptest.NewLogger(t))
	m.SetRetention(20 * time.Millisecond)

	m.Publish("s1", Event{Type: EventPhase})
	assert.False(t, m.Finished("s1"))
	m.Publish("s1", Event{Type: EventDone})
	assert.True(t, m.Finished("s1"))

	assert.Eventually(t, func() bool {
		return m.ReplaySince("s1", 0) == nil
	}, time.Second, 5*time.Millisecond)
}

type recordingMirror struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingMirror) Mirror(evt Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return true
}

func TestManager_MirrorSeesSequencedEvents(t *testing.T) {
	m := NewManager(4, zaptest.NewLogger(t))
	rec := &recordingMirror{}
	m.SetMirror(rec)

	m.Publish("s1", Event{Type: EventPhase})
	m.Publish("s1", Event{Type: EventError, Message: "boom"})

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.events, 2)
	assert.Equal(t, uint64(2), rec.events[1].Seq)
	assert.True(t, rec.events[1].Terminal())
}
