package contracts

import (
	"fmt"
	"strings"
	"time"
)

// ErrorCategory classifies execution failures consistently so callers
// can tell an authorization failure from an operational one.
type ErrorCategory string

const (
	ErrCatAuthorization ErrorCategory = "AUTHORIZATION" // token/capability failure, no effect performed
	ErrCatValidation    ErrorCategory = "VALIDATION"    // malformed intent or parameters
	ErrCatNotFound      ErrorCategory = "NOT_FOUND"     // underlying resource missing
	ErrCatDeniedByOS    ErrorCategory = "OS_DENIED"     // the OS refused the mediated operation
	ErrCatInternal      ErrorCategory = "INTERNAL"      // unexpected failure inside the runner
)

// ExecutionError is a classified failure from the mediated operation
// path. Authorization failures always carry the ErrTokenInvalid text.
type ExecutionError struct {
	Category ErrorCategory `json:"category"`
	Message  string        `json:"message"`
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Category, e.Message)
}

// ExecutionResult reflects the outcome of one mediated operation. Once
// authorization has passed, Success mirrors the underlying operation:
// a missing file is an execution failure, never a policy failure.
type ExecutionResult struct {
	IntentID        string          `json:"intent_id"`
	Success         bool            `json:"success"`
	Result          any             `json:"result,omitempty"`
	Error           *ExecutionError `json:"error,omitempty"`
	ExecutionTimeMS int64           `json:"execution_time_ms"`
	Timestamp       time.Time       `json:"timestamp"`
}

// Authorized reports whether the result got past token validation.
func (r *ExecutionResult) Authorized() bool {
	return r.Error == nil || r.Error.Category != ErrCatAuthorization
}

// ClassifyExecError maps a raw operation error onto the taxonomy.
func ClassifyExecError(err error) *ExecutionError {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "not found") || strings.Contains(msg, "no such file"):
		return &ExecutionError{Category: ErrCatNotFound, Message: msg}
	case strings.Contains(msg, "permission denied") || strings.Contains(msg, "operation not permitted"):
		return &ExecutionError{Category: ErrCatDeniedByOS, Message: msg}
	default:
		return &ExecutionError{Category: ErrCatInternal, Message: msg}
	}
}
