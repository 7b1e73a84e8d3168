package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/termgate/termgate/internal/gateway"
	"github.com/termgate/termgate/internal/terminal"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// errorStatus maps the session/gateway error taxonomy onto HTTP statuses.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, terminal.ErrSessionNotFound), errors.Is(err, gateway.ErrContainerNotFound):
		return http.StatusNotFound
	case errors.Is(err, terminal.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, terminal.ErrAlreadyAttached), errors.Is(err, gateway.ErrContainerNotRunning):
		return http.StatusConflict
	case errors.Is(err, terminal.ErrGlobalLimit), errors.Is(err, terminal.ErrPerContainerLimit):
		return http.StatusTooManyRequests
	case errors.Is(err, terminal.ErrSessionClosed):
		return http.StatusGone
	case errors.Is(err, gateway.ErrRuntimeUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// wsCloseCode maps the same taxonomy onto private-use WebSocket close codes
// so a client can distinguish failure classes before the stream starts.
func wsCloseCode(err error) websocket.StatusCode {
	switch {
	case errors.Is(err, terminal.ErrSessionNotFound), errors.Is(err, gateway.ErrContainerNotFound):
		return 4404
	case errors.Is(err, terminal.ErrUnauthorized):
		return 4403
	case errors.Is(err, terminal.ErrAlreadyAttached):
		return 4409
	case errors.Is(err, gateway.ErrContainerNotRunning):
		return 4412
	case errors.Is(err, terminal.ErrGlobalLimit), errors.Is(err, terminal.ErrPerContainerLimit):
		return 4429
	case errors.Is(err, terminal.ErrSessionClosed):
		return 4410
	case errors.Is(err, gateway.ErrRuntimeUnavailable):
		return 4502
	default:
		return 4500
	}
}

// closeReason trims a message to the 123-byte budget of a close frame.
func closeReason(msg string) string {
	if len(msg) > 123 {
		return msg[:123]
	}
	return msg
}
