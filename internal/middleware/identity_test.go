package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequireIdentity_MissingHeader(t *testing.T) {
	h := RequireIdentity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler reached without identity")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestRequireIdentity_PassesIdentityThrough(t *testing.T) {
	var seen string
	h := RequireIdentity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = Identity(r)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(IdentityHeader, "alice")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if seen != "alice" {
		t.Errorf("Identity = %q, want alice", seen)
	}
}

func TestIdentity_AbsentIsEmpty(t *testing.T) {
	if got := Identity(httptest.NewRequest("GET", "/", nil)); got != "" {
		t.Errorf("Identity = %q, want empty", got)
	}
}
