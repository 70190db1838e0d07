package llm

import (
	"context"
	"sync"

	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/models"
)

// Producer pushes chunks through emit until it is done. emit fails once the
// stream has been closed, and the producer must then return promptly.
type Producer func(ctx context.Context, emit func(chunk string) error) (models.TokenUsage, error)

// Stream is a cancellable producer/consumer channel of text chunks. The
// consumer ranges over Chunks and then reads Err; Close stops the producer
// early and releases the underlying connection.
type Stream struct {
	chunks chan string
	cancel context.CancelFunc
	done   chan struct{}

	once  sync.Once
	err   error
	usage models.TokenUsage
	chars int
}

// NewStream starts produce in its own goroutine.
func NewStream(ctx context.Context, produce Producer) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		chunks: make(chan string, 16),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		defer close(s.chunks)
		defer cancel()
		usage, err := produce(ctx, func(chunk string) error {
			if chunk == "" {
				return nil
			}
			select {
			case s.chunks <- chunk:
				s.chars += len(chunk)
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		s.usage = usage
		s.err = err
	}()
	return s
}

// Chunks yields text in order and is closed when the producer finishes.
func (s *Stream) Chunks() <-chan string { return s.chunks }

// Close cancels the producer and waits for it to exit. Safe to call more
// than once and after normal completion.
func (s *Stream) Close() {
	s.once.Do(s.cancel)
	for range s.chunks {
		// drain so a producer blocked on send observes cancellation
	}
	<-s.done
}

// Err returns the producer's error. It blocks until the producer exits.
func (s *Stream) Err() error {
	<-s.done
	return s.err
}

// Usage returns provider-reported usage, or an estimate from the emitted
// text when the provider reported none. It blocks until the producer exits.
func (s *Stream) Usage() models.TokenUsage {
	<-s.done
	if s.usage.TotalTokens > 0 {
		return s.usage
	}
	est := EstimateTokens(s.chars)
	return models.TokenUsage{CompletionTokens: est, TotalTokens: est}
}

// Collect drains the stream into a single string.
func (s *Stream) Collect() (string, error) {
	var buf []byte
	for chunk := range s.chunks {
		buf = append(buf, chunk...)
	}
	return string(buf), s.Err()
}
