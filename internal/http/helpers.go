// README: Transport-agnostic JSON writers for any http.ResponseWriter.
// The gin handlers in internal/httpapi write their responses through gin
// and do not call these. The domain-specific error-kind mapping lives in
// internal/httpapi/errors.go, since it needs each module's own sentinel
// errors rather than one shared set.
package http

import (
	"encoding/json"
	"net/http"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg})
}
