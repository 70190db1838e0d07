package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/auth"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/orchestrator"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/session"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/streaming"
)

const (
	msgQueryRequired     = "Query is required and must be a string"
	msgSessionIDRequired = "sessionId required"
	maxRequestBytes      = 1 << 20
)

// DefaultAsyncWorkers bounds concurrent background runs.
const DefaultAsyncWorkers = 8

// Protect wraps a route with authentication requiring scope.
type Protect func(scope string, next http.Handler) http.Handler

// AuthProtect returns a Protect backed by mw.
func AuthProtect(mw *auth.Middleware) Protect {
	return func(scope string, next http.Handler) http.Handler {
		return mw.HTTPMiddleware(auth.RequireScope(scope, next))
	}
}

type researchRequest struct {
	Query  string `json:"query"`
	Async  bool   `json:"async,omitempty"`
	Stream bool   `json:"stream,omitempty"`
}

// ResearchHandler serves the orchestration and session endpoints.
//
//	POST /api/research
//	GET  /api/research?sessionId=<id>
//	GET  /api/research/knowledge?sessionId=<id>
type ResearchHandler struct {
	orch   *orchestrator.Orchestrator
	events *streaming.Manager
	slots  chan struct{}
	logger *zap.Logger

	// background runs outlive their request but not the handler
	baseCtx context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// NewResearchHandler creates a handler. events may be nil, in which case
// stream requests carry only report chunks and the result.
func NewResearchHandler(orch *orchestrator.Orchestrator, events *streaming.Manager, workers int, logger *zap.Logger) *ResearchHandler {
	if workers <= 0 {
		workers = DefaultAsyncWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ResearchHandler{
		orch:    orch,
		events:  events,
		slots:   make(chan struct{}, workers),
		logger:  logger.With(zap.String("component", "httpapi")),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// RegisterRoutes registers research routes on mux. A nil protect leaves
// them open.
func (h *ResearchHandler) RegisterRoutes(mux *http.ServeMux, protect Protect) {
	if protect == nil {
		protect = func(_ string, next http.Handler) http.Handler { return next }
	}
	mux.Handle("/api/research", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			protect(auth.ScopeResearchWrite, http.HandlerFunc(h.handleCreate)).ServeHTTP(w, r)
		case http.MethodGet:
			protect(auth.ScopeResearchRead, http.HandlerFunc(h.handleGetSession)).ServeHTTP(w, r)
		default:
			w.Header().Set("Allow", "GET, POST")
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		}
	}))
	mux.Handle("/api/research/knowledge", protect(auth.ScopeResearchRead, http.HandlerFunc(h.handleKnowledge)))
}

// Shutdown waits for background runs. When ctx ends first the runs are
// cancelled, which marks their sessions failed.
func (h *ResearchHandler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		h.cancel()
		return nil
	case <-ctx.Done():
		h.cancel()
		<-done
		return ctx.Err()
	}
}

func (h *ResearchHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req researchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, msgQueryRequired, "")
		return
	}

	switch {
	case req.Stream:
		h.runStreaming(w, r, req.Query)
	case req.Async:
		h.runAsync(w, r, req.Query)
	default:
		result, err := h.orch.Run(r.Context(), req.Query, orchestrator.RunOptions{Stream: h.events != nil})
		if err != nil {
			h.writeRunError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func (h *ResearchHandler) runAsync(w http.ResponseWriter, r *http.Request, query string) {
	select {
	case h.slots <- struct{}{}:
	default:
		writeError(w, http.StatusServiceUnavailable, "Too many research runs in progress", "")
		return
	}
	// Add must not race the Wait in Shutdown
	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		<-h.slots
		writeError(w, http.StatusServiceUnavailable, "Server is shutting down", "")
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()

	sess, err := h.orch.CreateSession(r.Context(), query)
	if err != nil {
		h.wg.Done()
		<-h.slots
		h.writeRunError(w, err)
		return
	}

	go func() {
		defer h.wg.Done()
		defer func() { <-h.slots }()
		if _, err := h.orch.RunSession(h.baseCtx, sess, orchestrator.RunOptions{Stream: h.events != nil}); err != nil {
			h.logger.Warn("Background research failed", zap.String("session_id", sess.ID), zap.Error(err))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"sessionId": sess.ID,
		"status":    sess.Status,
	})
}

// runStreaming answers with an event stream: progress events, report
// chunks, then a result or error event.
func (h *ResearchHandler) runStreaming(w http.ResponseWriter, r *http.Request, query string) {
	sw, ok := newSSEWriter(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported", "")
		return
	}
	sess, err := h.orch.CreateSession(r.Context(), query)
	if err != nil {
		h.writeRunError(w, err)
		return
	}

	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	_ = sw.send("session", 0, map[string]string{"sessionId": sess.ID})

	var (
		ch       chan streaming.Event
		pumpDone = make(chan struct{})
	)
	if h.events != nil {
		ch = h.events.Subscribe(sess.ID, 256)
		go func() {
			defer close(pumpDone)
			for evt := range ch {
				// chunks and the outcome are written by this request directly
				if evt.Type == streaming.EventReportChunk || evt.Terminal() {
					continue
				}
				_ = sw.send("progress", evt.Seq, evt)
			}
		}()
	} else {
		close(pumpDone)
	}

	result, err := h.orch.RunSession(r.Context(), sess, orchestrator.RunOptions{
		OnReportChunk: func(chunk string) error {
			return sw.send(streaming.EventReportChunk, 0, map[string]string{"chunk": chunk})
		},
	})
	if ch != nil {
		h.events.Unsubscribe(sess.ID, ch)
	}
	<-pumpDone

	if err != nil {
		_ = sw.send("error", 0, runErrorBody(err))
		return
	}
	_ = sw.send("result", 0, result)
}

func (h *ResearchHandler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("sessionId")
	if id == "" {
		writeError(w, http.StatusBadRequest, msgSessionIDRequired, "")
		return
	}
	sess, err := h.orch.Store().GetSession(r.Context(), id)
	if err != nil {
		h.writeReadError(w, "Failed to fetch session", err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *ResearchHandler) handleKnowledge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}
	id := r.URL.Query().Get("sessionId")
	if id == "" {
		writeError(w, http.StatusBadRequest, msgSessionIDRequired, "")
		return
	}
	store := h.orch.Store()
	// an unknown session is a 404, not an empty list
	if _, err := store.GetSession(r.Context(), id); err != nil {
		h.writeReadError(w, "Failed to fetch knowledge", err)
		return
	}
	entries, err := store.GetKnowledge(r.Context(), id)
	if err != nil {
		h.writeReadError(w, "Failed to fetch knowledge", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessionId": id,
		"knowledge": entries,
	})
}

func runErrorBody(err error) errorResponse {
	if errors.Is(err, orchestrator.ErrEmptyQuery) {
		return errorResponse{Error: msgQueryRequired}
	}
	return errorResponse{Error: "Orchestration failed", Message: truncateRunes(err.Error(), maxErrorDetail)}
}

func (h *ResearchHandler) writeRunError(w http.ResponseWriter, err error) {
	body := runErrorBody(err)
	if body.Error == msgQueryRequired {
		writeJSON(w, http.StatusBadRequest, body)
		return
	}
	h.logger.Error("Research request failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, body)
}

func (h *ResearchHandler) writeReadError(w http.ResponseWriter, msg string, err error) {
	if errors.Is(err, session.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "Session not found", "")
		return
	}
	h.logger.Error(msg, zap.Error(err))
	writeError(w, http.StatusInternalServerError, msg, err.Error())
}
