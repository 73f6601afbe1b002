package httpext

import (
	"encoding/json"
	"net/http"

	"github.com/deepgram/chatrelay/pkg/logger"
)

// ErrorResponse is the JSON body written for every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// JsonError writes {"error": message} with the given status code
func JsonError(w http.ResponseWriter, message string, code int) {
	JsonErrorWithDetails(w, code, ErrorResponse{Error: message})
}

// JsonErrorWithDetails writes a full ErrorResponse with the given status code
func JsonErrorWithDetails(w http.ResponseWriter, code int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		l := logger.For(logger.HANDLER)
		l.Error().Err(err).Int("status", code).Msg("Failed to encode error response")
	}
}

// ErrorDetails returns err's message, or a generic placeholder for a nil error
func ErrorDetails(err error) string {
	if err == nil {
		return "Unknown error"
	}
	return err.Error()
}
