package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/streaming"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait / 3
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleWS streams events for a session over a WebSocket.
// GET /stream/ws?session_id=<id>
func (h *StreamingHandler) handleWS(w http.ResponseWriter, r *http.Request) {
	p := parseStreamParams(r)
	if p.sessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id required", "")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ch := h.mgr.Subscribe(p.sessionID, 256)
	defer h.mgr.Unsubscribe(p.sessionID, ch)

	sent := p.lastID
	emit := func(evt streaming.Event) (done bool) {
		if evt.Seq <= sent {
			return false
		}
		sent = evt.Seq
		if p.wants(evt) {
			if err := conn.WriteJSON(evt); err != nil {
				return true
			}
		}
		if evt.Terminal() {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, evt.Type),
				time.Now().Add(wsWriteWait))
			return true
		}
		return false
	}
	for _, evt := range h.mgr.ReplaySince(p.sessionID, p.lastID) {
		if emit(evt) {
			return
		}
	}

	// clients only send pongs and close frames
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case evt, ok := <-ch:
			if !ok || emit(evt) {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
