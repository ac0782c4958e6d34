// Package api implements the HTTP control plane.
package api

import (
	"encoding/json"
	"net/http"
)

// Envelope is the response wrapper every endpoint uses: result carries the
// payload on success and the error message otherwise.
type Envelope struct {
	Result any  `json:"result"`
	Error  bool `json:"error"`
}

// WriteResult writes a success envelope.
func WriteResult(w http.ResponseWriter, payload any) {
	writeJSON(w, http.StatusOK, Envelope{Result: payload})
}

// WriteFailure writes an error envelope. Validation and lookup failures keep
// HTTP 200; the envelope flag is the contract.
func WriteFailure(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, Envelope{Result: message, Error: true})
}

// WriteUnauthorized writes an error envelope with a 401 status.
func WriteUnauthorized(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusUnauthorized, Envelope{Result: message, Error: true})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
