package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/circuitbreaker"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type breaker struct{ state circuitbreaker.State }

func (b breaker) BreakerState() circuitbreaker.State { return b.state }

func TestManager_Aggregates(t *testing.T) {
	tests := []struct {
		name      string
		storeErr  error
		breaker   circuitbreaker.State
		want      CheckStatus
		wantReady bool
	}{
		{"all healthy", nil, circuitbreaker.StateClosed, StatusHealthy, true},
		{"breaker open degrades", nil, circuitbreaker.StateOpen, StatusDegraded, true},
		{"store down is unhealthy", errors.New("connection refused"), circuitbreaker.StateClosed, StatusUnhealthy, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(zaptest.NewLogger(t))
			require.NoError(t, m.RegisterChecker(NewSessionStoreChecker(pinger{tt.storeErr}, "memory")))
			require.NoError(t, m.RegisterChecker(NewReasoningChecker(breaker{tt.breaker})))

			overall := m.GetOverallHealth(context.Background())
			assert.Equal(t, tt.want, overall.Status)
			assert.Equal(t, tt.wantReady, overall.Ready)
			assert.True(t, overall.Live)

			last := m.GetLastResults()
			assert.Len(t, last, 2)
			assert.True(t, last["session_store"].Critical)
			assert.False(t, last["reasoning"].Critical)
		})
	}
}

func TestManager_RejectsDuplicates(t *testing.T) {
	m := NewManager(nil)
	require.NoError(t, m.RegisterChecker(NewReasoningChecker(breaker{})))
	assert.Error(t, m.RegisterChecker(NewReasoningChecker(breaker{})))

	empty := NewManager(nil)
	overall := empty.GetOverallHealth(context.Background())
	assert.Equal(t, StatusUnknown, overall.Status)
	assert.False(t, overall.Ready)
}

func TestRedisHealthChecker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	c := NewRedisHealthChecker(client)
	assert.Equal(t, StatusHealthy, c.Check(context.Background()).Status)

	mr.Close()
	res := c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.NotEmpty(t, res.Error)
}

func TestHTTPHandler(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	down := &pinger{}
	require.NoError(t, m.RegisterChecker(NewSessionStoreChecker(down, "memory")))
	mux := http.NewServeMux()
	NewHTTPHandler(m, nil).RegisterRoutes(mux)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])

	assert.Equal(t, http.StatusOK, get("/health/ready").Code)
	assert.Equal(t, http.StatusOK, get("/health/live").Code)

	down.err = errors.New("gone")
	assert.Equal(t, http.StatusServiceUnavailable, get("/health").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get("/health/ready").Code)
	assert.Equal(t, http.StatusOK, get("/health/live").Code)

	rec = get("/health/detailed?cached=true")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var detailed struct {
		Components map[string]struct {
			Status string `json:"status"`
		} `json:"components"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detailed))
	assert.Equal(t, "unhealthy", detailed.Components["session_store"].Status)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestManager_StartStop(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	require.NoError(t, m.RegisterChecker(NewReasoningChecker(breaker{})))
	m.SetCheckInterval(10 * time.Millisecond)
	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Start(context.Background()))

	require.Eventually(t, func() bool { return len(m.GetLastResults()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop())
}
