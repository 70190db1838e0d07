package synthesis

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/llm"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/llm/llmtest"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/models"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/prompts"
)

const report = "# Executive Summary\nParis is the capital of France."

func fixture() ([]*models.PlanStep, []models.KnowledgeEntry) {
	steps := []*models.PlanStep{{
		ID: "1", Title: "Look up", Status: models.StatusCompleted,
		Result: &models.StepResult{Findings: models.ObjectFindings(map[string]any{"summary": "Paris"}), Confidence: 0.9},
	}}
	knowledge := []models.KnowledgeEntry{{ID: "knowledge_1", Content: "**Look up**"}}
	return steps, knowledge
}

func TestSynthesize(t *testing.T) {
	fake := llmtest.New().Reply(llm.RoleSynthesizer, report)
	s := New(fake, nil, zaptest.NewLogger(t))
	steps, knowledge := fixture()

	out, err := s.Synthesize(context.Background(), "What is the capital of France?", steps, knowledge)
	require.NoError(t, err)
	assert.Equal(t, report, out)

	call := fake.CallsFor(llm.RoleSynthesizer)[0]
	assert.Equal(t, prompts.SynthesizerSystem, call.System())
	assert.Contains(t, call.Prompt(), `Original Query: "What is the capital of France?"`)
	assert.Contains(t, call.Prompt(), "**Look up**")
}

func TestSynthesizeError(t *testing.T) {
	fake := llmtest.New().Fail(llm.RoleSynthesizer, errors.New("down"))
	s := New(fake, nil, nil)
	_, err := s.Synthesize(context.Background(), "q", nil, nil)
	assert.Error(t, err)
}

func TestStream(t *testing.T) {
	fake := llmtest.New().Reply(llm.RoleSynthesizer, report)
	fake.ChunkSize = 5
	s := New(fake, nil, nil)
	steps, knowledge := fixture()

	var chunks []string
	out, err := s.Stream(context.Background(), "q", steps, knowledge, func(c string) error {
		chunks = append(chunks, c)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, report, out)
	assert.Greater(t, len(chunks), 1)
	assert.True(t, fake.CallsFor(llm.RoleSynthesizer)[0].Stream)
}

func TestStreamConsumerStopsEarly(t *testing.T) {
	fake := llmtest.New().Reply(llm.RoleSynthesizer, report)
	fake.ChunkSize = 1
	s := New(fake, nil, nil)

	stop := errors.New("enough")
	n := 0
	out, err := s.Stream(context.Background(), "q", nil, nil, func(string) error {
		n++
		if n == 3 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, report[:3], out)
}

func TestStreamProducerError(t *testing.T) {
	fake := llmtest.New().Fail(llm.RoleSynthesizer, errors.New("reset by peer"))
	s := New(fake, nil, nil)
	_, err := s.Stream(context.Background(), "q", nil, nil, nil)
	assert.Error(t, err)
}

func TestStreamCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fake := llmtest.New().On(llm.RoleSynthesizer, func(c context.Context, _ llmtest.Call) (string, error) {
		cancel()
		<-c.Done()
		return "", c.Err()
	})
	s := New(fake, nil, nil)
	_, err := s.Stream(ctx, "q", nil, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
