package streammanager

import (
	"context"

	"convostore/stream"
)

// ChunkSource is the producer-side lazy sequence persist drains. Next
// returns the next element; ok=false with a nil error signals a clean
// end of stream, and a non-nil error signals producer failure. Next
// should return promptly when ctx is cancelled.
type ChunkSource interface {
	Next(ctx context.Context) (data any, ok bool, err error)
}

// PersistOptions overrides the defaults persist uses for batching and
// the cancellation probe's polling schedule.
type PersistOptions struct {
	BatchOverride  *BatchStrategy
	CancelOverride *PollOverride
}

// BatchStrategy controls how persist batches chunk writes.
type BatchStrategy struct {
	Strategy    string // "immediate" or "batched"
	MaxSize     int
	MaxInterval int64 // milliseconds
}

// PollOverride overrides an adaptive-polling schedule's parameters.
type PollOverride struct {
	MinMs, MaxMs int64
	Multiplier   float64
	JitterRatio  float64
}

// WatchOptions overrides the defaults watch uses for its polling
// schedule and catchup pagination.
type WatchOptions struct {
	PollOverride     *PollOverride
	ChunkPageSize    int
	StatusCheckEvery int
}

// Event is one element yielded by watch: either a chunk's Data payload
// or an Err after which the sequence closes. Watch never sends an
// event with Done set; the end of the sequence is signalled by closing
// the channel.
type Event struct {
	Data any
	Err  error
	Done bool
}

// TelemetryEvent is the optional polling-observability hook described
// in §4.F. Consumers are never required for correctness.
type TelemetryEvent struct {
	Type    string // "watch:empty" | "watch:chunks"
	DelayMs int64
}

// TelemetrySink receives TelemetryEvents; implementations must not
// block the caller meaningfully (the manager calls this synchronously
// between poll iterations).
type TelemetrySink interface {
	Observe(TelemetryEvent)
}

type noopSink struct{}

func (noopSink) Observe(TelemetryEvent) {}

// RegisterResult mirrors stream.Stream plus the idempotency flag.
type RegisterResult struct {
	Stream  stream.Stream
	Created bool
}
