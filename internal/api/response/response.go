package response

import (
	"encoding/json"
	"net/http"

	"github.com/Rrens/insights-gateway/internal/domain"
	"github.com/rs/zerolog/log"
)

// Response represents a standard API response
type Response struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
	Error   any  `json:"error,omitempty"`
}

// JSON sends a JSON response
func JSON(w http.ResponseWriter, status int, data any) {
	write(w, status, Response{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

// Error sends an error response
func Error(w http.ResponseWriter, status int, message any) {
	write(w, status, Response{Success: false, Error: message})
}

// Agent sends the result of a turn. The HTTP status follows the error type
// and the full response is always carried in data.
func Agent(w http.ResponseWriter, resp domain.AgentResponse) {
	status := http.StatusOK
	if !resp.Success {
		status = StatusFor(resp.ErrorType)
	}
	write(w, status, Response{
		Success: resp.Success,
		Data:    resp,
		Error:   errorBody(resp),
	})
}

// StatusFor maps an agent error type to an HTTP status
func StatusFor(t domain.ErrorType) int {
	switch t {
	case domain.ErrorTypeValidation:
		return http.StatusBadRequest
	case domain.ErrorTypeAuthorization:
		return http.StatusForbidden
	case domain.ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case domain.ErrorTypeExecution, domain.ErrorTypeLLM:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(resp domain.AgentResponse) any {
	if resp.Success {
		return nil
	}
	return map[string]string{
		"type":    string(resp.ErrorType),
		"message": resp.Error,
	}
}

func write(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

// OK sends a 200 OK response with data
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// BadRequest sends a 400 Bad Request response
func BadRequest(w http.ResponseWriter, message any) {
	Error(w, http.StatusBadRequest, message)
}

// Unauthorized sends a 401 Unauthorized response
func Unauthorized(w http.ResponseWriter, message any) {
	Error(w, http.StatusUnauthorized, message)
}

// Forbidden sends a 403 Forbidden response
func Forbidden(w http.ResponseWriter, message any) {
	Error(w, http.StatusForbidden, message)
}

// InternalError sends a 500 Internal Server Error response
func InternalError(w http.ResponseWriter, message any) {
	Error(w, http.StatusInternalServerError, message)
}
