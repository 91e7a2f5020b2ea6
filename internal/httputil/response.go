// Package httputil holds the JSON response helpers shared by the /debug/
// routes.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/banshee-data/siphog/internal/monitoring"
)

// WriteJSON writes v as JSON with the given status. The header is already
// sent when encoding fails, so the failure is only logged.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("httputil: failed to encode %T response: %v", v, err)
	}
}

// WriteJSONOK writes v with 200 OK.
func WriteJSONOK(w http.ResponseWriter, v any) {
	WriteJSON(w, http.StatusOK, v)
}

// WriteError writes {"error": msg} with the given status.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}

// MethodNotAllowed rejects the request and advertises the accepted method.
func MethodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
}
