package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/models"
)

func TestStreamCollect(t *testing.T) {
	s := NewStream(context.Background(), func(ctx context.Context, emit func(string) error) (models.TokenUsage, error) {
		for _, c := range []string{"Hello", "", " ", "world"} {
			if err := emit(c); err != nil {
				return models.TokenUsage{}, err
			}
		}
		return models.TokenUsage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5}, nil
	})
	text, err := s.Collect()
	require.NoError(t, err)
	assert.Equal(t, "Hello world", text)
	assert.Equal(t, 5, s.Usage().TotalTokens)
}

func TestStreamEstimatesUsage(t *testing.T) {
	s := NewStream(context.Background(), func(ctx context.Context, emit func(string) error) (models.TokenUsage, error) {
		return models.TokenUsage{}, emit("abcdefgh")
	})
	_, err := s.Collect()
	require.NoError(t, err)
	assert.Equal(t, models.TokenUsage{CompletionTokens: 2, TotalTokens: 2}, s.Usage())
}

func TestStreamPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	s := NewStream(context.Background(), func(ctx context.Context, emit func(string) error) (models.TokenUsage, error) {
		_ = emit("partial")
		return models.TokenUsage{}, boom
	})
	text, err := s.Collect()
	assert.Equal(t, "partial", text)
	assert.ErrorIs(t, err, boom)
}

func TestStreamCloseStopsProducer(t *testing.T) {
	stopped := make(chan struct{})
	s := NewStream(context.Background(), func(ctx context.Context, emit func(string) error) (models.TokenUsage, error) {
		defer close(stopped)
		for {
			if err := emit("x"); err != nil {
				return models.TokenUsage{}, err
			}
		}
	})

	<-s.Chunks()
	s.Close()
	s.Close()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("producer did not stop after Close")
	}
	assert.ErrorIs(t, s.Err(), context.Canceled)
}

func TestStreamParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewStream(ctx, func(ctx context.Context, emit func(string) error) (models.TokenUsage, error) {
		<-ctx.Done()
		return models.TokenUsage{}, ctx.Err()
	})
	cancel()
	_, err := s.Collect()
	assert.ErrorIs(t, err, context.Canceled)
}
