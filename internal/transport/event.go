// Package transport learns job status over two unreliable channels: a
// push-based websocket and a pull-based HTTP polling loop. The coordinator
// races both to the first terminal event.
package transport

import (
	"time"
)

// Source identifies which transport produced an event.
type Source string

const (
	SourceSocket  Source = "socket"
	SourcePolling Source = "polling"
	SourceUnknown Source = "unknown"
)

// Kind is the closed set of job lifecycle events. Payloads from the wire are
// validated into this set at the boundary; unrecognized shapes are dropped.
type Kind string

const (
	KindQueued     Kind = "queued"
	KindProcessing Kind = "processing"
	KindCompleted  Kind = "completed"
	KindFailed     Kind = "failed"
)

// ParseKind validates a wire status string into a Kind.
func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case KindQueued, KindProcessing, KindCompleted, KindFailed:
		return Kind(s), true
	default:
		return "", false
	}
}

// Terminal reports whether the kind ends the job lifecycle.
func (k Kind) Terminal() bool {
	return k == KindCompleted || k == KindFailed
}

// rank orders kinds by lifecycle position. Within one transport events arrive
// in non-decreasing rank; across transports there is no guarantee, so lower
// ranked stragglers are discarded.
func (k Kind) rank() int {
	switch k {
	case KindQueued:
		return 0
	case KindProcessing:
		return 1
	default:
		return 2
	}
}

// Event is a normalized job lifecycle notification from either transport.
type Event struct {
	JobID      string
	Kind       Kind
	Progress   int // 0-100; -1 when the transport did not report progress
	ResultID   string
	Err        string
	Source     Source
	ReceivedAt time.Time
}
