package handlers

import "net/http"

func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"runtime":  Term.GatewayName(),
		"sessions": Term.Count(),
	})
}
