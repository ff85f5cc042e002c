// Package stream implements StreamStore: the per-stream ordered chunk
// log and its status state machine (queued → running → {completed |
// failed | cancelled}). Grounded on the teacher's chat/service.go
// streaming-event model (status constants, append-ordered event log)
// generalized from an in-memory event channel into a durable,
// multi-reader table, and on conversations/service.go's bun
// model/hook/RunInTx style.
package stream

import "time"

// Status is one state of a stream's lifecycle.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether a status absorbs further transitions
// (except via reopen).
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Stream is one producer's output record.
type Stream struct {
	ID                string
	Status            Status
	CreatedAt         time.Time
	StartedAt         *time.Time
	FinishedAt        *time.Time
	CancelRequestedAt *time.Time
	Error             string
}

// Chunk is one ordered element of a stream's output.
type Chunk struct {
	StreamID  string
	Seq       int64
	Data      any
	CreatedAt time.Time
}

// StatusUpdate carries the optional fields updateStreamStatus may set
// when the new status is failed.
type StatusUpdate struct {
	Error string
}
