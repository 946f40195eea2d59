package http

import (
	"encoding/json"
	"net/http"
	"time"
)

// errorEnvelope is the body of every non-2xx response.
type errorEnvelope struct {
	Error      bool      `json:"error"`
	StatusCode int       `json:"status_code"`
	Message    string    `json:"message"`
	RequestID  string    `json:"request_id"`
	Timestamp  time.Time `json:"timestamp"`
	Guidance   string    `json:"guidance,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

var guidanceByStatus = map[int]string{
	http.StatusBadRequest:            "Check identifier formats: application numbers are 6-12 digits, document ids use letters, digits, '.', '_' or '-'.",
	http.StatusUnauthorized:          "Obtain a fresh capability token from the issuing service; tokens expire after a few minutes.",
	http.StatusForbidden:             "This gateway only accepts requests from allowlisted addresses.",
	http.StatusNotFound:              "The document, link, or registration does not exist or has expired. Persistent links last 7 days.",
	http.StatusRequestEntityTooLarge: "Request bodies are limited to 1 MiB.",
	http.StatusTooManyRequests:       "Wait for the Retry-After interval before sending more requests.",
	http.StatusBadGateway:            "The filing API rejected or failed the request. Retry later; check the gateway credential if this persists.",
	http.StatusServiceUnavailable:    "The filing API is temporarily unavailable. Retry after the circuit breaker timeout.",
	http.StatusGatewayTimeout:        "The filing API did not answer in time. Retry later.",
	http.StatusInternalServerError:   "Unexpected gateway error. Include the request_id when reporting it.",
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, statusCode int, message string, cause error) {
	env := errorEnvelope{
		Error:      true,
		StatusCode: statusCode,
		Message:    message,
		RequestID:  requestIDFromContext(r.Context()),
		Timestamp:  h.clock.Now().UTC(),
		Guidance:   guidanceByStatus[statusCode],
	}
	if statusCode == http.StatusInternalServerError && h.cfg.Development && cause != nil {
		env.Detail = cause.Error()
	}
	writeJSON(w, statusCode, env)
}
