package llm_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/circuitbreaker"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/llm"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/llm/llmtest"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/models"
)

func newClient(t *testing.T, backend llm.Backend, cfg llm.ClientConfig) *llm.Client {
	t.Helper()
	c, err := llm.NewClient(backend, llm.DefaultRouting(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	return c
}

func TestClientRoutesByRole(t *testing.T) {
	backend := &llmtest.Backend{Usage: models.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}
	c := newClient(t, backend, llm.ClientConfig{})

	out, err := c.Complete(context.Background(), llm.RoleVerifier,
		[]llm.Message{llm.System("sys"), llm.User("hi")}, llm.Options{})
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Text)
	assert.Equal(t, llm.DefaultRouting().Verifier.Model, out.Model)
	assert.Equal(t, 15, out.Usage.TotalTokens)

	reqs := backend.Snapshot()
	require.Len(t, reqs, 1)
	assert.Equal(t, llm.DefaultRouting().Verifier.Model, reqs[0].Model)
	assert.InDelta(t, 0.3, reqs[0].Temperature, 1e-9)
	assert.Equal(t, 4096, reqs[0].MaxTokens)
}

func TestClientOptionsOverrideDefaults(t *testing.T) {
	backend := &llmtest.Backend{}
	c := newClient(t, backend, llm.ClientConfig{})

	_, err := c.Complete(context.Background(), llm.RolePlanner,
		[]llm.Message{llm.User("hi")}, llm.Options{Temperature: 0.1, MaxTokens: 100})
	require.NoError(t, err)
	req := backend.Snapshot()[0]
	assert.InDelta(t, 0.1, req.Temperature, 1e-9)
	assert.Equal(t, 100, req.MaxTokens)
}

func TestClientUnknownRole(t *testing.T) {
	c := newClient(t, &llmtest.Backend{}, llm.ClientConfig{})
	_, err := c.Complete(context.Background(), llm.Role("critic"), nil, llm.Options{})
	assert.ErrorIs(t, err, llm.ErrUnknownRole)

	_, err = c.Stream(context.Background(), llm.Role("critic"), nil, llm.Options{})
	assert.ErrorIs(t, err, llm.ErrUnknownRole)
}

func TestNewClientRejectsIncompleteRouting(t *testing.T) {
	routing := llm.DefaultRouting()
	routing.Synthesizer.Model = ""
	_, err := llm.NewClient(&llmtest.Backend{}, routing, llm.ClientConfig{}, nil)
	assert.ErrorIs(t, err, llm.ErrUnknownRole)
}

func TestClientCallTimeout(t *testing.T) {
	backend := &llmtest.Backend{Reply: func(llm.Request) (string, error) {
		time.Sleep(200 * time.Millisecond)
		return "late", nil
	}}
	blocking := &blockingBackend{Backend: backend}
	c := newClient(t, blocking, llm.ClientConfig{CallTimeout: 20 * time.Millisecond})

	_, err := c.Complete(context.Background(), llm.RoleExecutor, []llm.Message{llm.User("x")}, llm.Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, llm.IsTransient(err))
}

// blockingBackend honours context cancellation while the reply is pending.
type blockingBackend struct {
	*llmtest.Backend
}

func (b *blockingBackend) Generate(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestClientBreakerOpensAfterFailures(t *testing.T) {
	t.Setenv("CB_LLM_FAILURE_THRESHOLD", "2")
	backend := &llmtest.Backend{Reply: func(llm.Request) (string, error) {
		return "", errors.New("status code: 503")
	}}
	c := newClient(t, backend, llm.ClientConfig{})

	for i := 0; i < 2; i++ {
		_, err := c.Complete(context.Background(), llm.RolePlanner, []llm.Message{llm.User("x")}, llm.Options{})
		require.Error(t, err)
	}
	assert.Equal(t, circuitbreaker.StateOpen, c.BreakerState())

	_, err := c.Complete(context.Background(), llm.RolePlanner, []llm.Message{llm.User("x")}, llm.Options{})
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitBreakerOpen)
	assert.Len(t, backend.Snapshot(), 2)
}

func TestClientStream(t *testing.T) {
	backend := &llmtest.Backend{Reply: func(llm.Request) (string, error) { return "one two three", nil }}
	c := newClient(t, backend, llm.ClientConfig{RateLimit: 100, RateBurst: 10})

	s, err := c.Stream(context.Background(), llm.RoleSynthesizer, []llm.Message{llm.User("x")}, llm.Options{})
	require.NoError(t, err)

	var chunks []string
	for chunk := range s.Chunks() {
		chunks = append(chunks, chunk)
	}
	require.NoError(t, s.Err())
	assert.Equal(t, []string{"one ", "two ", "three"}, chunks)
	assert.Equal(t, 4, s.Usage().TotalTokens) // estimated from 13 characters
}

func TestClientStreamError(t *testing.T) {
	backend := &llmtest.Backend{Reply: func(llm.Request) (string, error) { return "", errors.New("bad request") }}
	c := newClient(t, backend, llm.ClientConfig{})

	s, err := c.Stream(context.Background(), llm.RoleSynthesizer, []llm.Message{llm.User("x")}, llm.Options{})
	require.NoError(t, err)
	_, err = s.Collect()
	require.Error(t, err)
	assert.False(t, llm.IsTransient(err))
}

func TestIsTransient(t *testing.T) {
	assert.False(t, llm.IsTransient(nil))
	assert.True(t, llm.IsTransient(context.DeadlineExceeded))
	assert.True(t, llm.IsTransient(circuitbreaker.ErrCircuitBreakerOpen))
	assert.True(t, llm.IsTransient(errors.New("API returned unexpected status code: 502")))
	assert.True(t, llm.IsTransient(errors.New("429 Too Many Requests")))
	assert.False(t, llm.IsTransient(errors.New("401 unauthorized")))
	assert.False(t, llm.IsTransient(context.Canceled))
}
