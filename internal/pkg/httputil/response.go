// Package httputil holds the response helpers and middleware shared by the HTTP handlers.
package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

const contentTypeJSON = "application/json"

// JSON encodes data as the response body. A nil data writes headers only.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// RawJSON writes an already serialized JSON document unchanged.
func RawJSON(w http.ResponseWriter, status int, body []byte) {
	write(w, status, contentTypeJSON, body)
}

// Text writes a plain text response.
func Text(w http.ResponseWriter, status int, text string) {
	write(w, status, "text/plain; charset=utf-8", []byte(text))
}

// ErrorBody is the envelope of every error response.
type ErrorBody struct {
	Error ErrorMessage `json:"error"`
}

// ErrorMessage describes a failed request.
type ErrorMessage struct {
	Message string `json:"message"`
}

// Error writes {"error": {"message": ...}}.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorBody{Error: ErrorMessage{Message: message}})
}

func write(w http.ResponseWriter, status int, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}
