// ABOUTME: Error classification mapping internal failures to stable operation error codes.
// ABOUTME: Codes are part of the wire contract; callers branch on them, not on messages.

package orchestrator

import (
	"errors"

	"github.com/2389/warren/internal/manager"
	"github.com/2389/warren/internal/store"
)

// Operation error codes.
const (
	CodeInvalidArgs      = "invalid_args"
	CodeNotFound         = "not_found"
	CodeDuplicateName    = "duplicate_name"
	CodeAlreadyExecuting = "already_executing"
	CodeInternal         = "internal"
)

// OpError is a classified operation failure.
type OpError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *OpError) Error() string {
	return e.Message
}

// badArgs wraps an argument validation failure.
func badArgs(msg string) *OpError {
	return &OpError{Code: CodeInvalidArgs, Message: msg}
}

// classify maps an error to its operation code. Already-classified errors
// pass through unchanged.
func classify(err error) *OpError {
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr
	}

	switch {
	case errors.Is(err, manager.ErrAgentNotFound), errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrEventNotFound):
		return &OpError{Code: CodeNotFound, Message: err.Error()}
	case errors.Is(err, manager.ErrDuplicateName):
		return &OpError{Code: CodeDuplicateName, Message: err.Error()}
	case errors.Is(err, manager.ErrAlreadyExecuting):
		return &OpError{Code: CodeAlreadyExecuting, Message: err.Error()}
	default:
		return &OpError{Code: CodeInternal, Message: err.Error()}
	}
}
