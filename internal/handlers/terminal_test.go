package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/termgate/termgate/internal/middleware"
)

func dialTerminal(t *testing.T, srv *httptest.Server, path string) (*websocket.Conn, error) {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	header := http.Header{}
	header.Set(middleware.IdentityHeader, "alice")
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	return conn, err
}

// readSessionInfo consumes the initial session_info text message.
func readSessionInfo(t *testing.T, conn *websocket.Conn) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msgType, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read session_info: %v", err)
	}
	if msgType != websocket.MessageText {
		t.Fatalf("first message type = %v, want text", msgType)
	}
	var info map[string]string
	if err := json.Unmarshal(data, &info); err != nil {
		t.Fatalf("decode session_info: %v", err)
	}
	if info["type"] != "session_info" || info["session_id"] == "" {
		t.Fatalf("unexpected session_info: %v", info)
	}
	return info["session_id"]
}

func TestTerminalWSRoundTrip(t *testing.T) {
	gw, router := newTestRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	conn, err := dialTerminal(t, srv, "/api/v1/containers/c1/terminal")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	readSessionInfo(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Client keystrokes reach the container process.
	if err := conn.Write(ctx, websocket.MessageBinary, []byte("ls -la\n")); err != nil {
		t.Fatalf("write input: %v", err)
	}
	exec := gw.Exec(0)
	if got := exec.WaitInput(7, 2*time.Second); string(got) != "ls -la\n" {
		t.Fatalf("container stdin = %q, want %q", got, "ls -la\n")
	}

	// Container output reaches the client.
	if err := exec.Emit([]byte("total 0\n")); err != nil {
		t.Fatalf("emit output: %v", err)
	}
	msgType, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if msgType != websocket.MessageBinary || !bytes.Contains(data, []byte("total 0")) {
		t.Fatalf("output = %q (type %v)", data, msgType)
	}
}

func TestTerminalWSResize(t *testing.T) {
	gw, router := newTestRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	conn, err := dialTerminal(t, srv, "/api/v1/containers/c1/terminal")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	readSessionInfo(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msg, _ := json.Marshal(termResizeMsg{Type: "resize", Cols: 120, Rows: 40})
	if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
		t.Fatalf("write resize: %v", err)
	}

	exec := gw.Exec(0)
	deadline := time.Now().Add(2 * time.Second)
	for exec.Resizes() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if exec.Resizes() == 0 {
		t.Fatal("resize never reached the gateway")
	}
	if exec.Cols != 120 || exec.Rows != 40 {
		t.Fatalf("tty size = %dx%d, want 120x40", exec.Cols, exec.Rows)
	}
}

func TestTerminalWSResizeClamped(t *testing.T) {
	gw, router := newTestRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	conn, err := dialTerminal(t, srv, "/api/v1/containers/c1/terminal")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	readSessionInfo(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msg, _ := json.Marshal(termResizeMsg{Type: "resize", Cols: 9000, Rows: 9000})
	if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
		t.Fatalf("write resize: %v", err)
	}

	exec := gw.Exec(0)
	deadline := time.Now().Add(2 * time.Second)
	for exec.Resizes() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if exec.Cols != 500 || exec.Rows != 500 {
		t.Fatalf("tty size = %dx%d, want clamped to 500x500", exec.Cols, exec.Rows)
	}
}

func TestTerminalWSProcessExit(t *testing.T) {
	gw, router := newTestRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	conn, err := dialTerminal(t, srv, "/api/v1/containers/c1/terminal")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	id := readSessionInfo(t, conn)
	gw.Exec(0).Exit()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// The client sees a close event naming the reason, then the connection
	// shuts down.
	sawClose := false
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			break
		}
		if msgType != websocket.MessageText {
			continue
		}
		var event map[string]string
		if json.Unmarshal(data, &event) == nil && event["type"] == "close" {
			if !strings.Contains(event["reason"], "exited") {
				t.Fatalf("close reason = %q", event["reason"])
			}
			sawClose = true
		}
	}
	if !sawClose {
		t.Fatal("never received close event")
	}
	if Term.Session(id) != nil {
		t.Fatal("session still registered after process exit")
	}
}

func TestTerminalWSStreamFailureCloseEvent(t *testing.T) {
	gw, router := newTestRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	conn, err := dialTerminal(t, srv, "/api/v1/containers/c1/terminal")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	readSessionInfo(t, conn)
	gw.Exec(0).Fail(errors.New("runtime connection reset"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sawClose := false
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			break
		}
		if msgType != websocket.MessageText {
			continue
		}
		var event map[string]string
		if json.Unmarshal(data, &event) == nil && event["type"] == "close" {
			if event["reason"] != "connection lost" {
				t.Fatalf("close reason = %q, want %q", event["reason"], "connection lost")
			}
			sawClose = true
		}
	}
	if !sawClose {
		t.Fatal("never received close event")
	}
}

func TestTerminalWSReattachReplaysOutput(t *testing.T) {
	gw, router := newTestRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	conn, err := dialTerminal(t, srv, "/api/v1/containers/c1/terminal")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	id := readSessionInfo(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	gw.Exec(0).Emit([]byte("$ uptime\n"))
	if _, _, err := conn.Read(ctx); err != nil {
		t.Fatalf("read output: %v", err)
	}
	conn.Close(websocket.StatusNormalClosure, "")

	// Wait for the server side to notice the disconnect and release the
	// session for reattachment.
	s := Term.Session(id)
	deadline := time.Now().Add(2 * time.Second)
	for s.Attached() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.Attached() {
		t.Fatal("session still attached after client disconnect")
	}

	conn2, err := dialTerminal(t, srv, "/api/v1/containers/c1/terminal?session_id="+id)
	if err != nil {
		t.Fatalf("redial: %v", err)
	}
	defer conn2.CloseNow()

	if got := readSessionInfo(t, conn2); got != id {
		t.Fatalf("reattached session = %q, want %q", got, id)
	}
	msgType, data, err := conn2.Read(ctx)
	if err != nil {
		t.Fatalf("read backlog: %v", err)
	}
	if msgType != websocket.MessageBinary || !bytes.Contains(data, []byte("uptime")) {
		t.Fatalf("backlog = %q (type %v)", data, msgType)
	}
}

func TestTerminalWSUnknownSession(t *testing.T) {
	_, router := newTestRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	conn, err := dialTerminal(t, srv, "/api/v1/containers/c1/terminal?session_id=nope")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, _, err = conn.Read(ctx)
	if websocket.CloseStatus(err) != 4404 {
		t.Fatalf("close status = %d, want 4404", websocket.CloseStatus(err))
	}
}

func TestTerminalWSContainerNotFound(t *testing.T) {
	_, router := newTestRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	conn, err := dialTerminal(t, srv, "/api/v1/containers/missing/terminal")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, _, err = conn.Read(ctx)
	if websocket.CloseStatus(err) != 4404 {
		t.Fatalf("close status = %d, want 4404", websocket.CloseStatus(err))
	}
}
