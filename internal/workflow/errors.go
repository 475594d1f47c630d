package workflow

import (
	"errors"
	"fmt"

	"github.com/talentpath/orchestrator/internal/api"
	"github.com/talentpath/orchestrator/internal/guard"
	"github.com/talentpath/orchestrator/internal/transport"
)

var (
	ErrIncompleteAnswers = errors.New("assessment answers are incomplete")
	ErrNotIdle           = errors.New("a submission is already in progress")
	ErrNotRetryable      = errors.New("workflow is not in a retryable state")
	ErrNotTerminal       = errors.New("workflow has not reached a terminal state")
)

// ErrorKind is the machine-readable classification of a workflow failure.
type ErrorKind string

const (
	KindValidation         ErrorKind = "validation_error"
	KindAuth               ErrorKind = "auth_error"
	KindInsufficientTokens ErrorKind = "insufficient_tokens"
	KindNetwork            ErrorKind = "network_error"
	KindServer             ErrorKind = "server_error"
	KindDuplicate          ErrorKind = "duplicate_submission"
	KindRateLimited        ErrorKind = "rate_limited"
	KindTimeout            ErrorKind = "timeout_error"
	KindPollingExhausted   ErrorKind = "polling_exhausted"
	KindPollingTimeout     ErrorKind = "polling_timeout"
	KindNotFound           ErrorKind = "not_found"
	KindCancelled          ErrorKind = "cancelled"
	KindJobFailed          ErrorKind = "job_failed"
	KindUnknown            ErrorKind = "unknown"
)

// Retryable reports whether a failure of this kind may be retried without the
// caller resolving an external precondition first.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindNetwork, KindServer, KindTimeout, KindPollingExhausted,
		KindPollingTimeout, KindRateLimited, KindJobFailed:
		return true
	default:
		return false
	}
}

// Error is a terminal workflow failure: a machine-readable kind plus a
// human-readable message.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Classify maps an underlying error onto the workflow taxonomy.
func Classify(err error) *Error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrIncompleteAnswers):
		return &Error{Kind: KindValidation, Message: err.Error(), Cause: err}
	case errors.Is(err, guard.ErrDuplicateSubmission):
		return &Error{Kind: KindDuplicate, Message: err.Error(), Cause: err}
	case errors.Is(err, guard.ErrRateLimited):
		return &Error{Kind: KindRateLimited, Message: err.Error(), Cause: err}
	case errors.Is(err, api.ErrInsufficientTokens):
		return &Error{Kind: KindInsufficientTokens, Message: err.Error(), Cause: err}
	case errors.Is(err, api.ErrAuth):
		return &Error{Kind: KindAuth, Message: err.Error(), Cause: err}
	case errors.Is(err, api.ErrNotFound):
		return &Error{Kind: KindNotFound, Message: err.Error(), Cause: err}
	case errors.Is(err, transport.ErrPollingExhausted):
		return &Error{Kind: KindPollingExhausted, Message: err.Error(), Cause: err}
	case errors.Is(err, transport.ErrPollingTimeout):
		return &Error{Kind: KindPollingTimeout, Message: err.Error(), Cause: err}
	case api.IsServerError(err):
		return &Error{Kind: KindServer, Message: err.Error(), Cause: err}
	case api.IsNetworkError(err):
		return &Error{Kind: KindNetwork, Message: err.Error(), Cause: err}
	default:
		return &Error{Kind: KindUnknown, Message: err.Error(), Cause: err}
	}
}
