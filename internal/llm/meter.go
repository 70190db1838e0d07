package llm

import (
	"context"
	"sync"

	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/models"
)

// Meter wraps a Reasoner and accumulates token usage for one run.
type Meter struct {
	inner Reasoner

	mu    sync.Mutex
	usage models.TokenUsage
	calls int
}

// NewMeter creates a meter around inner.
func NewMeter(inner Reasoner) *Meter {
	return &Meter{inner: inner}
}

func (m *Meter) add(u models.TokenUsage) {
	m.mu.Lock()
	m.usage.Add(u)
	m.calls++
	m.mu.Unlock()
}

// Complete delegates and records usage of successful calls.
func (m *Meter) Complete(ctx context.Context, role Role, messages []Message, opts Options) (*Completion, error) {
	out, err := m.inner.Complete(ctx, role, messages, opts)
	if err != nil {
		return nil, err
	}
	m.add(out.Usage)
	return out, nil
}

// Stream delegates and records usage once the stream finishes, including
// streams closed early by the consumer.
func (m *Meter) Stream(ctx context.Context, role Role, messages []Message, opts Options) (*Stream, error) {
	inner, err := m.inner.Stream(ctx, role, messages, opts)
	if err != nil {
		return nil, err
	}
	return NewStream(ctx, func(ctx context.Context, emit func(string) error) (models.TokenUsage, error) {
		defer inner.Close()
		for {
			select {
			case chunk, ok := <-inner.Chunks():
				if !ok {
					u := inner.Usage()
					m.add(u)
					return u, inner.Err()
				}
				if err := emit(chunk); err != nil {
					inner.Close()
					m.add(inner.Usage())
					return models.TokenUsage{}, err
				}
			case <-ctx.Done():
				inner.Close()
				m.add(inner.Usage())
				return models.TokenUsage{}, ctx.Err()
			}
		}
	}), nil
}

// Usage returns the accumulated usage.
func (m *Meter) Usage() models.TokenUsage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage
}

// Calls returns the number of calls recorded.
func (m *Meter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
