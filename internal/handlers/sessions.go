package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/termgate/termgate/internal/middleware"
	"github.com/termgate/termgate/internal/terminal"
)

// Term is the terminal service, set from main.go during init.
var Term *terminal.Service

// OpenSession creates a new terminal session on a container and returns its ID.
func OpenSession(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	if ref == "" {
		writeError(w, http.StatusBadRequest, "Container ref required")
		return
	}

	s, err := Term.OpenSession(r.Context(), ref, middleware.Identity(r))
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"session_id": s.ID})
}

type sessionResponse struct {
	ID           string `json:"id"`
	ContainerRef string `json:"container_ref"`
	Owner        string `json:"owner"`
	State        string `json:"state"`
	Attached     bool   `json:"attached"`
	CreatedAt    string `json:"created_at"`
	LastActivity string `json:"last_activity_at"`
}

// ListSessions returns the live terminal sessions for a container.
func ListSessions(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")

	sessions := Term.Sessions(ref)
	resp := make([]sessionResponse, len(sessions))
	for i, s := range sessions {
		resp[i] = sessionResponse{
			ID:           s.ID,
			ContainerRef: s.ContainerRef,
			Owner:        s.Owner,
			State:        string(s.State()),
			Attached:     s.Attached(),
			CreatedAt:    s.CreatedAt.UTC().Format(time.RFC3339),
			LastActivity: s.LastActivity().UTC().Format(time.RFC3339),
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": resp})
}

// CloseSession terminates a session. Only the owner may close it.
func CloseSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	s := Term.Session(sessionID)
	if s == nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if s.Owner != middleware.Identity(r) {
		writeError(w, http.StatusForbidden, "Access denied")
		return
	}

	if err := Term.CloseSession(sessionID, "closed by client"); err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}
