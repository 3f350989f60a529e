package ratelimit

import (
	"encoding/json"
	"net/http"
)

// Códigos estáveis do campo "error" nos corpos JSON.
const (
	CodeMethodNotAllowed   = "method_not_allowed"
	CodeRateLimitExceeded  = "rate_limit_exceeded"
	CodeUnauthorized       = "unauthorized"
	CodeInternal           = "internal_error"
	CodeServiceUnavailable = "service_unavailable"
)

type errorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter *int   `json:"retryAfter,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: code, Message: message})
}

func writeRateLimited(w http.ResponseWriter, retryAfter int) {
	writeJSON(w, http.StatusTooManyRequests, errorBody{
		Error:      CodeRateLimitExceeded,
		Message:    "Too many requests, please try again later.",
		RetryAfter: &retryAfter,
	})
}

func writeJSON(w http.ResponseWriter, status int, body errorBody) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
