package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/streaming"
)

// StreamingHandler serves SSE and WebSocket endpoints for session progress.
type StreamingHandler struct {
	mgr       *streaming.Manager
	logger    *zap.Logger
	heartbeat time.Duration
}

func NewStreamingHandler(mgr *streaming.Manager, logger *zap.Logger) *StreamingHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamingHandler{mgr: mgr, logger: logger.With(zap.String("component", "stream")), heartbeat: 15 * time.Second}
}

// RegisterRoutes registers stream routes on mux, each wrapped by wrap when
// it is non-nil.
func (h *StreamingHandler) RegisterRoutes(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	if wrap == nil {
		wrap = func(next http.Handler) http.Handler { return next }
	}
	mux.Handle("/stream/sse", wrap(http.HandlerFunc(h.handleSSE)))
	mux.Handle("/stream/ws", wrap(http.HandlerFunc(h.handleWS)))
}

// streamParams are the query options shared by both transports.
type streamParams struct {
	sessionID string
	types     map[string]struct{}
	lastID    uint64
}

func parseStreamParams(r *http.Request) streamParams {
	p := streamParams{
		sessionID: r.URL.Query().Get("session_id"),
		types:     map[string]struct{}{},
	}
	if s := r.URL.Query().Get("types"); s != "" {
		for _, t := range strings.Split(s, ",") {
			t = strings.TrimSpace(t)
			if t != "" {
				p.types[t] = struct{}{}
			}
		}
	}
	if lei := r.Header.Get("Last-Event-ID"); lei != "" {
		if n, err := strconv.ParseUint(lei, 10, 64); err == nil {
			p.lastID = n
		}
	}
	if q := r.URL.Query().Get("last_event_id"); q != "" && p.lastID == 0 {
		if n, err := strconv.ParseUint(q, 10, 64); err == nil {
			p.lastID = n
		}
	}
	return p
}

// wants applies the type filter. Terminal events always pass so clients
// learn the stream is over.
func (p streamParams) wants(evt streaming.Event) bool {
	if len(p.types) == 0 || evt.Terminal() {
		return true
	}
	_, ok := p.types[evt.Type]
	return ok
}

// handleSSE streams events for a session via Server-Sent Events.
// GET /stream/sse?session_id=<id>
func (h *StreamingHandler) handleSSE(w http.ResponseWriter, r *http.Request) {
	p := parseStreamParams(r)
	if p.sessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id required", "")
		return
	}
	sw, ok := newSSEWriter(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported", "")
		return
	}
	setSSEHeaders(w)

	ch := h.mgr.Subscribe(p.sessionID, 256)
	defer h.mgr.Unsubscribe(p.sessionID, ch)

	sw.comment("connected to session " + p.sessionID)

	// replay, then follow; sent dedupes events seen in both
	sent := p.lastID
	emit := func(evt streaming.Event) (done bool) {
		if evt.Seq <= sent {
			return false
		}
		sent = evt.Seq
		if p.wants(evt) {
			if err := sw.send(evt.Type, evt.Seq, evt); err != nil {
				return true
			}
		}
		return evt.Terminal()
	}
	for _, evt := range h.mgr.ReplaySince(p.sessionID, p.lastID) {
		if emit(evt) {
			return
		}
	}

	hb := time.NewTicker(h.heartbeat)
	defer hb.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("SSE client disconnected", zap.String("session_id", p.sessionID))
			return
		case evt, ok := <-ch:
			if !ok || emit(evt) {
				return
			}
		case <-hb.C:
			// Heartbeat to keep connections alive through proxies
			sw.comment("ping")
		}
	}
}
