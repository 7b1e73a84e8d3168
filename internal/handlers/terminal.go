package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/termgate/termgate/internal/middleware"
	"github.com/termgate/termgate/internal/terminal"
	"golang.org/x/time/rate"
)

// terminalRateLimit is the maximum number of messages allowed per second
// per WebSocket connection. Messages beyond this rate are dropped.
const terminalRateLimit = 200

// terminalRateBurst allows short bursts of rapid input (e.g. paste
// operations) before rate limiting kicks in.
const terminalRateBurst = 200

type termResizeMsg struct {
	Type string `json:"type"`
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

// TerminalWS handles WebSocket connections for interactive terminal sessions.
//
// Query parameters:
//   - session_id: (optional) reattach to an existing idle session owned by
//     the caller. Without it a new session is opened on the container.
//
// Binary frames carry raw terminal bytes in both directions. Text frames
// carry resize events client→server and session_info/close events
// server→client. When the session ends for any reason the client receives
// one close event with a human-readable reason, then the close frame.
func TerminalWS(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	owner := middleware.Identity(r)

	clientConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("Failed to accept terminal websocket: %v", err)
		return
	}
	defer clientConn.CloseNow()

	ctx := r.Context()
	wsWriter := &wsOutputWriter{conn: clientConn, ctx: ctx}

	var (
		s       *terminal.Session
		backlog []byte
	)

	if sessionID := r.URL.Query().Get("session_id"); sessionID != "" {
		if existing := Term.Session(sessionID); existing == nil || existing.ContainerRef != ref {
			clientConn.Close(4404, "Session not found")
			return
		}
		s, backlog, err = Term.Attach(sessionID, owner, wsWriter)
		if err != nil {
			clientConn.Close(wsCloseCode(err), closeReason(err.Error()))
			return
		}
		log.Printf("Terminal session reattached: session=%s container=%s", s.ID, ref)
	} else {
		s, err = Term.OpenSession(ctx, ref, owner)
		if err != nil {
			clientConn.Close(wsCloseCode(err), closeReason(err.Error()))
			return
		}
		if _, backlog, err = Term.Attach(s.ID, owner, wsWriter); err != nil {
			Term.CloseSession(s.ID, "attach failed")
			clientConn.Close(wsCloseCode(err), closeReason(err.Error()))
			return
		}
		log.Printf("Terminal session created: session=%s container=%s", s.ID, ref)
	}
	defer s.Detach()

	clientConn.SetReadLimit(1024 * 1024)

	// Send the session ID so the client can reattach later.
	sessionInfo, _ := json.Marshal(map[string]string{
		"type":       "session_info",
		"session_id": s.ID,
	})
	if err := clientConn.Write(ctx, websocket.MessageText, sessionInfo); err != nil {
		return
	}

	if len(backlog) > 0 {
		if err := clientConn.Write(ctx, websocket.MessageBinary, backlog); err != nil {
			return
		}
	}

	relayCtx, relayCancel := context.WithCancel(ctx)
	defer relayCancel()

	// Watch for session teardown (expiry, process exit, explicit close) and
	// deliver the terminal close event before dropping the connection.
	go func() {
		select {
		case <-s.Done():
			closeEvent, _ := json.Marshal(map[string]string{
				"type":   "close",
				"reason": s.Reason(),
			})
			clientConn.Write(relayCtx, websocket.MessageText, closeEvent)
			clientConn.Close(websocket.StatusNormalClosure, closeReason(s.Reason()))
			relayCancel()
		case <-relayCtx.Done():
		}
	}()

	limiter := rate.NewLimiter(rate.Limit(terminalRateLimit), terminalRateBurst)

	// Client input pump
	for {
		msgType, data, err := clientConn.Read(relayCtx)
		if err != nil {
			break
		}

		if !limiter.Allow() {
			continue
		}

		if msgType == websocket.MessageBinary {
			if len(data) > terminal.MaxInputMessageSize {
				log.Printf("Terminal input message too large: session=%s size=%d limit=%d",
					s.ID, len(data), terminal.MaxInputMessageSize)
				continue
			}
			if _, err := s.WriteInput(data); err != nil {
				break
			}
		} else {
			var msg termResizeMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if msg.Type == "resize" && msg.Cols > 0 && msg.Rows > 0 {
				cols := min(msg.Cols, terminal.MaxResizeCols)
				rows := min(msg.Rows, terminal.MaxResizeRows)
				s.Resize(relayCtx, rows, cols)
			}
		}
	}

	clientConn.Close(websocket.StatusNormalClosure, "")
}

// wsOutputWriter wraps a WebSocket connection to implement io.Writer.
type wsOutputWriter struct {
	conn *websocket.Conn
	ctx  context.Context
}

func (w *wsOutputWriter) Write(p []byte) (int, error) {
	if err := w.conn.Write(w.ctx, websocket.MessageBinary, p); err != nil {
		return 0, err
	}
	return len(p), nil
}
