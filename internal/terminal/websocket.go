package terminal

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

// WebSocketHandler exposes live attach: raw session output streams to the
// client as binary frames while JSON control messages flow back.
type WebSocketHandler struct {
	mgr           *Manager
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket attach handler.
func NewWebSocketHandler(mgr *Manager, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{mgr: mgr, allowedOrigin: allowedOrigin, isDev: isDev}
}

// wsWriter adapts websocket.Conn to io.Writer for the session tap. Writes use
// context.Background() because the library tracks connection state itself;
// the request context only gates whether we bother trying.
type wsWriter struct {
	conn *websocket.Conn
	ctx  context.Context
}

func (w *wsWriter) Write(p []byte) (int, error) {
	if w.ctx.Err() != nil {
		return 0, w.ctx.Err()
	}
	if err := w.conn.Write(context.Background(), websocket.MessageBinary, p); err != nil {
		if w.ctx.Err() != nil {
			return 0, w.ctx.Err()
		}
		slog.Debug("WebSocket write error", "error", err)
		return 0, err
	}
	return len(p), nil
}

// wsMessage is the client-to-server control message shape.
type wsMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Cols    uint16 `json:"cols,omitempty"`
	Rows    uint16 `json:"rows,omitempty"`
}

// ServeHTTP upgrades the connection and bridges it to the session.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	sess, err := h.mgr.Get(sessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session detached"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	slog.Info("WebSocket attached", "session_id", sess.ID(), "ip", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	detach := sess.Attach(&wsWriter{conn: ws, ctx: ctx})
	defer detach()

	// Close the socket when the session ends so the client isn't left
	// hanging on a dead stream.
	go func() {
		select {
		case <-sess.Done():
			cancel()
			_ = ws.Close(websocket.StatusNormalClosure, "session ended")
		case <-ctx.Done():
		}
	}()

	h.inputLoop(ctx, ws, sess)
	slog.Info("WebSocket detached", "session_id", sess.ID())
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) inputLoop(ctx context.Context, ws *websocket.Conn, sess *Session) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "session_id", sess.ID())
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			// Bare frame: forward as keystrokes.
			if err := sess.SendRaw(string(message)); err != nil {
				return
			}
			continue
		}

		switch msg.Type {
		case "data":
			if err := sess.SendRaw(msg.Content); err != nil {
				slog.Debug("WebSocket input rejected", "session_id", sess.ID(), "error", err)
				return
			}
		case "resize":
			if err := sess.Resize(msg.Cols, msg.Rows); err != nil {
				slog.Warn("Failed to resize", "session_id", sess.ID(), "error", err)
			}
		case "ping":
			if err := h.writeJSON(ws, map[string]string{"type": "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
			}
		case "terminate":
			sess.Terminate()
			if err := h.writeJSON(ws, map[string]string{"type": "terminated"}); err != nil {
				slog.Debug("Failed to send terminated acknowledgment", "error", err)
			}
			return
		}
	}
}

func (h *WebSocketHandler) writeJSON(ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(context.Background(), websocket.MessageText, data)
}
