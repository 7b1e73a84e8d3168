package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/termgate/termgate/internal/gateway"
	"github.com/termgate/termgate/internal/middleware"
	"github.com/termgate/termgate/internal/terminal"
)

// newTestRouter wires the API routes the way main does, backed by a fake
// gateway with container "c1" running.
func newTestRouter(t *testing.T) (*gateway.Fake, http.Handler) {
	t.Helper()

	gw := gateway.NewFake()
	gw.SetStatus("c1", gateway.StatusRunning)
	reg := terminal.NewRegistry(10, 5)
	svc := terminal.NewService(gw, reg, terminal.Options{Shell: "/bin/sh", ReplaySize: 4096})
	Term = svc
	t.Cleanup(func() {
		svc.CloseAll("test teardown")
		Term = nil
	})

	r := chi.NewRouter()
	r.Get("/health", Health)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireIdentity)
		r.Post("/containers/{ref}/sessions", OpenSession)
		r.Get("/containers/{ref}/sessions", ListSessions)
		r.Get("/containers/{ref}/terminal", TerminalWS)
		r.Delete("/sessions/{sessionId}", CloseSession)
		r.Get("/logs", Logs)
	})
	return gw, r
}

func doRequest(router http.Handler, method, path, identity string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if identity != "" {
		req.Header.Set(middleware.IdentityHeader, identity)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestOpenSession(t *testing.T) {
	_, router := newTestRouter(t)

	rec := doRequest(router, "POST", "/api/v1/containers/c1/sessions", "alice")
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["session_id"] == "" {
		t.Fatal("response has no session_id")
	}
	if got := Term.Session(resp["session_id"]); got == nil {
		t.Fatal("session not registered")
	} else if got.Owner != "alice" {
		t.Fatalf("owner = %q, want alice", got.Owner)
	}
}

func TestOpenSessionRequiresIdentity(t *testing.T) {
	_, router := newTestRouter(t)

	rec := doRequest(router, "POST", "/api/v1/containers/c1/sessions", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestOpenSessionContainerErrors(t *testing.T) {
	_, router := newTestRouter(t)

	rec := doRequest(router, "POST", "/api/v1/containers/missing/sessions", "alice")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown container: status = %d, want 404", rec.Code)
	}

	gw2, router2 := newTestRouter(t)
	gw2.SetStatus("c1", gateway.StatusStopped)
	rec = doRequest(router2, "POST", "/api/v1/containers/c1/sessions", "alice")
	if rec.Code != http.StatusConflict {
		t.Fatalf("stopped container: status = %d, want 409", rec.Code)
	}
}

func TestOpenSessionGlobalLimit(t *testing.T) {
	gw := gateway.NewFake()
	gw.SetStatus("c1", gateway.StatusRunning)
	reg := terminal.NewRegistry(1, 5)
	Term = terminal.NewService(gw, reg, terminal.Options{Shell: "/bin/sh", ReplaySize: 4096})
	defer func() {
		Term.CloseAll("test teardown")
		Term = nil
	}()

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireIdentity)
		r.Post("/containers/{ref}/sessions", OpenSession)
	})

	if rec := doRequest(r, "POST", "/api/v1/containers/c1/sessions", "alice"); rec.Code != http.StatusCreated {
		t.Fatalf("first session: status = %d, want 201", rec.Code)
	}
	if rec := doRequest(r, "POST", "/api/v1/containers/c1/sessions", "alice"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second session: status = %d, want 429", rec.Code)
	}
}

func TestListSessions(t *testing.T) {
	gw, router := newTestRouter(t)
	gw.SetStatus("c2", gateway.StatusRunning)

	for _, ref := range []string{"c1", "c1", "c2"} {
		if rec := doRequest(router, "POST", "/api/v1/containers/"+ref+"/sessions", "alice"); rec.Code != http.StatusCreated {
			t.Fatalf("open on %s: status = %d", ref, rec.Code)
		}
	}

	rec := doRequest(router, "GET", "/api/v1/containers/c1/sessions", "alice")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Sessions []sessionResponse `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(resp.Sessions))
	}
	for _, s := range resp.Sessions {
		if s.ContainerRef != "c1" || s.Owner != "alice" {
			t.Fatalf("unexpected session: %+v", s)
		}
		if s.State != "active" || s.Attached {
			t.Fatalf("session should be active and unattached: %+v", s)
		}
		if s.CreatedAt == "" || s.LastActivity == "" {
			t.Fatalf("missing timestamps: %+v", s)
		}
	}
}

func TestCloseSession(t *testing.T) {
	gw, router := newTestRouter(t)

	rec := doRequest(router, "POST", "/api/v1/containers/c1/sessions", "alice")
	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)
	id := resp["session_id"]

	if rec := doRequest(router, "DELETE", "/api/v1/sessions/"+id, "alice"); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if Term.Session(id) != nil {
		t.Fatal("session still registered after close")
	}
	if gw.KillCalls() != 1 {
		t.Fatalf("kill calls = %d, want 1", gw.KillCalls())
	}
}

func TestCloseSessionWrongOwner(t *testing.T) {
	_, router := newTestRouter(t)

	rec := doRequest(router, "POST", "/api/v1/containers/c1/sessions", "alice")
	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)

	if rec := doRequest(router, "DELETE", "/api/v1/sessions/"+resp["session_id"], "bob"); rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if Term.Session(resp["session_id"]) == nil {
		t.Fatal("session should survive a forbidden close")
	}
}

func TestCloseSessionNotFound(t *testing.T) {
	_, router := newTestRouter(t)

	if rec := doRequest(router, "DELETE", "/api/v1/sessions/nope", "alice"); rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	_, router := newTestRouter(t)

	rec := doRequest(router, "GET", "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "ok" || resp["runtime"] != "fake" {
		t.Fatalf("unexpected health payload: %v", resp)
	}
}
