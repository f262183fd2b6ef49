package usecase

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorEmbedding         ErrorCode = "EMBEDDING_ERROR"
	ErrorSearch            ErrorCode = "SEARCH_ERROR"
	ErrorNoRelevantContext ErrorCode = "NO_RELEVANT_CONTEXT"
	ErrorCompletion        ErrorCode = "COMPLETION_ERROR"
	ErrorTransport         ErrorCode = "TRANSPORT_ERROR"
	ErrorState             ErrorCode = "STATE_ERROR"
	// ErrorBusy means the request gave up waiting for its conversation.
	ErrorBusy ErrorCode = "CONVERSATION_BUSY"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// CodeOf returns the ErrorCode carried by err, or "" when err is not a *Error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsNoRelevantContext reports whether retrieval found nothing above the
// relevance threshold. It is the soft failure, distinct from service errors.
func IsNoRelevantContext(err error) bool {
	return CodeOf(err) == ErrorNoRelevantContext
}
