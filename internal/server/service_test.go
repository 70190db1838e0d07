package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/auth"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/config"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/llm"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/llm/llmtest"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/models"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/orchestrator"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/streaming"
)

const planReply = `<plan>
<step id="1"><title>Survey</title><description>Find sources</description><tools>web_search</tools><dependencies></dependencies></step>
</plan>`

func fakeReasoner() *llmtest.Fake {
	f := llmtest.New()
	f.On(llm.RolePlanner, func(context.Context, llmtest.Call) (string, error) { return planReply, nil })
	f.On(llm.RoleVerifier, func(context.Context, llmtest.Call) (string, error) {
		return `{"isValid": true, "issues": [], "suggestions": []}`, nil
	})
	f.On(llm.RoleExecutor, func(context.Context, llmtest.Call) (string, error) {
		return `{"data":{"summary":"found"},"sources":[],"confidence":0.8}`, nil
	})
	f.On(llm.RoleSynthesizer, func(context.Context, llmtest.Call) (string, error) { return "Report.", nil })
	return f
}

func loadConfig(t *testing.T, body string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "research.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func TestService_ServesResearchAndHealth(t *testing.T) {
	cfg := loadConfig(t, "session:\n  backend: memory\n")
	svc, err := New(context.Background(), cfg, zaptest.NewLogger(t), WithReasoner(fakeReasoner()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	srv := httptest.NewServer(svc.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Post(srv.URL+"/api/research", "application/json", strings.NewReader(`{"query":"state of fusion"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result models.OrchestrationResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, models.ResultSuccess, result.Status)
	assert.Equal(t, "Report.", result.FinalReport)
	assert.True(t, svc.Events.Finished(result.SessionID))

	live, err := http.Get(srv.URL + "/health/live")
	require.NoError(t, err)
	live.Body.Close()
	assert.Equal(t, http.StatusOK, live.StatusCode)

	ready, err := http.Get(srv.URL + "/health/ready")
	require.NoError(t, err)
	ready.Body.Close()
	assert.Equal(t, http.StatusOK, ready.StatusCode)

	require.NoError(t, svc.Shutdown(context.Background()))
	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close())
}

func TestService_AuthProtectsRoutes(t *testing.T) {
	cfg := loadConfig(t, "auth:\n  enabled: true\n  jwt_secret: test-secret\n")
	svc, err := New(context.Background(), cfg, zaptest.NewLogger(t), WithReasoner(fakeReasoner()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	srv := httptest.NewServer(svc.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/api/research?sessionId=missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err := auth.NewJWTManager("test-secret").GenerateToken("tester", []string{auth.ScopeResearchRead}, time.Minute)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/research?sessionId=missing", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	health, err := http.Get(srv.URL + "/health/live")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestService_MirrorsEventsToRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := loadConfig(t, "streaming:\n  redis_streams_addr: "+mr.Addr()+"\n")
	svc, err := New(context.Background(), cfg, zaptest.NewLogger(t), WithReasoner(fakeReasoner()))
	require.NoError(t, err)

	result, err := svc.Orchestrator.Run(context.Background(), "state of fusion", orchestrator.RunOptions{})
	require.NoError(t, err)
	detailed := svc.Health.GetDetailedHealth(context.Background())
	assert.Contains(t, detailed.Components, "event_mirror")
	assert.True(t, detailed.Overall.Ready)
	require.NoError(t, svc.Close())

	assert.True(t, mr.Exists(streaming.StreamKey(result.SessionID)))
}

func TestService_WatchesToolFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tools.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tools:\n  - name: web_search\n    description: Search the web\n"), 0o600))
	cfg := loadConfig(t, "tools:\n  file: "+path+"\n  watch: true\n")

	svc, err := New(context.Background(), cfg, zaptest.NewLogger(t), WithReasoner(fakeReasoner()))
	require.NoError(t, err)
	assert.Equal(t, []string{"web_search"}, svc.Tools.Names())

	require.NoError(t, os.WriteFile(path, []byte("tools:\n  - name: web_search\n    description: Search\n  - name: calculate\n    description: Math\n"), 0o600))
	assert.Eventually(t, func() bool { return svc.Tools.Has("calculate") }, 5*time.Second, 20*time.Millisecond)
	require.NoError(t, svc.Close())
}

func TestService_BadToolFileFails(t *testing.T) {
	cfg := loadConfig(t, "tools:\n  file: "+filepath.Join(t.TempDir(), "absent.yaml")+"\n")
	_, err := New(context.Background(), cfg, zaptest.NewLogger(t), WithReasoner(fakeReasoner()))
	require.Error(t, err)
}
