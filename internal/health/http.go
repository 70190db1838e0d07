package health

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPHandler serves the probe endpoints:
//
//	GET /health           overall status, 503 when unhealthy
//	GET /health/ready     readiness probe
//	GET /health/live      liveness probe
//	GET /health/detailed  per-component results; ?cached=true skips new checks
type HTTPHandler struct {
	manager *Manager
	logger  *zap.Logger
}

func NewHTTPHandler(manager *Manager, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{manager: manager, logger: logger.With(zap.String("component", "health_http"))}
}

func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.get(h.handleHealth))
	mux.HandleFunc("/health/ready", h.get(h.handleReadiness))
	mux.HandleFunc("/health/live", h.get(h.handleLiveness))
	mux.HandleFunc("/health/detailed", h.get(h.handleDetailed))
}

type overallResponse struct {
	Status    CheckStatus `json:"status"`
	Message   string      `json:"message,omitempty"`
	Timestamp int64       `json:"timestamp"`
	Duration  string      `json:"duration"`
	Degraded  bool        `json:"degraded"`
	Ready     bool        `json:"ready"`
	Live      bool        `json:"live"`
}

type probeResponse struct {
	Status    string `json:"status"`
	Ready     *bool  `json:"ready,omitempty"`
	Live      *bool  `json:"live,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// get rejects everything but GET.
func (h *HTTPHandler) get(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			h.write(w, http.StatusMethodNotAllowed, map[string]interface{}{
				"error":     "method not allowed",
				"timestamp": time.Now().Unix(),
			})
			return
		}
		next(w, r)
	}
}

// statusCode maps a health status to the probe's HTTP code. Degraded
// still serves traffic.
func statusCode(s CheckStatus) int {
	if s == StatusHealthy || s == StatusDegraded {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}

func probeCode(ok bool) int {
	if ok {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	overall := h.manager.GetOverallHealth(r.Context())
	h.write(w, statusCode(overall.Status), overallResponse{
		Status:    overall.Status,
		Message:   overall.Message,
		Timestamp: overall.Timestamp.Unix(),
		Duration:  overall.Duration.String(),
		Degraded:  overall.Degraded,
		Ready:     overall.Ready,
		Live:      overall.Live,
	})
}

func (h *HTTPHandler) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ready := h.manager.IsReady(r.Context())
	status := "not ready"
	if ready {
		status = "ready"
	}
	h.write(w, probeCode(ready), probeResponse{Status: status, Ready: &ready, Timestamp: time.Now().Unix()})
}

func (h *HTTPHandler) handleLiveness(w http.ResponseWriter, r *http.Request) {
	live := h.manager.IsLive(r.Context())
	status := "not alive"
	if live {
		status = "alive"
	}
	h.write(w, probeCode(live), probeResponse{Status: status, Live: &live, Timestamp: time.Now().Unix()})
}

func (h *HTTPHandler) handleDetailed(w http.ResponseWriter, r *http.Request) {
	var detailed DetailedHealth
	if r.URL.Query().Get("cached") == "true" {
		components := h.manager.GetLastResults()
		summary := summarize(components)
		detailed = DetailedHealth{
			Overall:    overallStatus(summary),
			Components: components,
			Summary:    summary,
			Timestamp:  time.Now(),
		}
	} else {
		detailed = h.manager.GetDetailedHealth(r.Context())
	}
	h.write(w, statusCode(detailed.Overall.Status), detailed)
}

func (h *HTTPHandler) write(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}
