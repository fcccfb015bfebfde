package domain

import (
	"strings"
)

// ErrorType is the closed set of failure categories of a turn
type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeAuthorization ErrorType = "authorization"
	ErrorTypeExecution     ErrorType = "execution"
	ErrorTypeLLM           ErrorType = "llm_error"
	ErrorTypeRateLimit     ErrorType = "rate_limit"
)

// Next-step guidance attached to user-visible errors
const (
	SuggestRephrase      = "Try rephrasing your question, for example by naming the dataset, table or time range."
	SuggestContactAdmin  = "Contact an administrator if you need access to this data."
	SuggestCheckExists   = "This table or dataset does not exist; check the name or ask which tables are available."
	SuggestRetryLater    = "The language model is unavailable right now; try again in a moment."
	SuggestQuotaExceeded = "Your token quota for this period is used up; wait for the next period or contact an administrator."
)

// AgentError is a categorized failure carrying its cause and the next step
// the user can take.
type AgentError struct {
	Type       ErrorType
	Message    string
	Cause      error
	Suggestion string
}

// NewAgentError creates an AgentError
func NewAgentError(t ErrorType, message string, cause error, suggestion string) *AgentError {
	return &AgentError{Type: t, Message: message, Cause: cause, Suggestion: suggestion}
}

func (e *AgentError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	if e.Suggestion != "" {
		sb.WriteString(". ")
		sb.WriteString(e.Suggestion)
	}
	return sb.String()
}

func (e *AgentError) Unwrap() error {
	return e.Cause
}
