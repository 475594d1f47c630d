package workflow

import (
	"time"

	"github.com/talentpath/orchestrator/internal/transport"
)

// Status is the workflow lifecycle status.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusValidating Status = "validating"
	StatusSubmitting Status = "submitting"
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status is immutable once reached.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// State is one tagged snapshot of the workflow. Listeners receive the full
// snapshot on every transition instead of separate per-concern callbacks.
type State struct {
	Status   Status `json:"status"`
	Progress int    `json:"progress"` // 0-100, monotonic non-decreasing except on retry
	Message  string `json:"message,omitempty"`
	JobID    string `json:"jobId,omitempty"`
	ResultID string `json:"resultId,omitempty"`
	Err      *Error `json:"error,omitempty"`

	// TransportUsed is the source of the most recent honored event.
	TransportUsed transport.Source `json:"transportUsed"`

	EstimatedTimeRemaining time.Duration `json:"estimatedTimeRemaining,omitempty"`
	StartedAt              time.Time     `json:"startedAt,omitempty"`
	CanRetry               bool          `json:"canRetry"`
}
